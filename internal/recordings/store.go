// Package recordings maps opaque recording identifiers onto directories of a
// read-only recordings volume. Each recording lives in <root>/<id>/ and holds
// media files plus an optional metadata.json sidecar written by the
// recording pipeline.
//
// Every lookup re-reads the filesystem. Not-found conditions are reported
// through found flags and empty results; only genuine I/O failures surface as
// errors.
package recordings

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"guacplayer/internal/observability/logging"
)

var (
	ErrRootRequired = errors.New("recordings root is required")
	ErrRootNotDir   = errors.New("recordings root is not a directory")
)

// Location is a recording directory that has been checked to sit inside the
// store root.
type Location struct {
	ID   string
	Path string
}

// FileDescriptor describes a regular file inside a recording directory.
type FileDescriptor struct {
	Name     string
	Path     string
	Size     int64
	Modified time.Time
}

// Info aggregates everything known about one recording. VideoFile is empty
// when the directory holds no playable file.
type Info struct {
	ID        string
	Path      string
	VideoFile string
	Files     []FileDescriptor
	SizeBytes int64
	CreatedAt time.Time
	Metadata  map[string]any
}

type Option func(*Store)

// WithLogger sets the logger used for not-found and metadata diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCreateRoot creates the root directory when it does not exist yet.
func WithCreateRoot(create bool) Option {
	return func(s *Store) {
		s.createRoot = create
	}
}

// WithMetadataLimit caps how many bytes of metadata.json are parsed.
func WithMetadataLimit(limit int64) Option {
	return func(s *Store) {
		if limit > 0 {
			s.metadataLimit = limit
		}
	}
}

// Store resolves recordings under a single canonical root.
type Store struct {
	root          string
	logger        *slog.Logger
	createRoot    bool
	metadataLimit int64
}

const defaultMetadataLimit = 1 << 20

// NewStore canonicalises root and returns a Store confined to it.
func NewStore(root string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, ErrRootRequired
	}
	store := &Store{
		logger:        slog.Default(),
		metadataLimit: defaultMetadataLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	store.logger = logging.WithComponent(store.logger, "recordings")

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve recordings root: %w", err)
	}
	if store.createRoot {
		if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return nil, fmt.Errorf("create recordings root: %w", err)
			}
			store.logger.Info("created recordings root", "path", abs)
		}
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve recordings root: %w", err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("stat recordings root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrRootNotDir, canonical)
	}
	store.root = canonical
	return store, nil
}

// Root is the canonical absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Check confirms the root is still a reachable directory, which fails when
// the backing mount goes away.
func (s *Store) Check() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("stat recordings root: %w", err)
	}
	if !info.IsDir() {
		return ErrRootNotDir
	}
	return nil
}

// Resolve maps id to its recording directory. Identifiers that are not a
// single plain path segment, directories that do not exist, and symlinks
// that lead outside the root all resolve to found=false.
func (s *Store) Resolve(id string) (Location, bool, error) {
	if !validID(id) {
		s.logger.Warn("rejected recording id", "recording_id", id)
		return Location{}, false, nil
	}
	candidate := filepath.Join(s.root, id)
	info, err := os.Lstat(candidate)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("recording not found", "recording_id", id)
			return Location{}, false, nil
		}
		return Location{}, false, fmt.Errorf("stat recording %s: %w", id, err)
	}

	resolved := candidate
	if info.Mode()&os.ModeSymlink != 0 {
		target, ok := s.contain(candidate)
		if !ok {
			s.logger.Warn("recording symlink escapes root", "recording_id", id)
			return Location{}, false, nil
		}
		resolved = target
		if info, err = os.Stat(resolved); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Location{}, false, nil
			}
			return Location{}, false, fmt.Errorf("stat recording %s: %w", id, err)
		}
	}
	if !info.IsDir() {
		return Location{}, false, nil
	}
	return Location{ID: id, Path: resolved}, true, nil
}

// IsContained reports whether path, after resolving symlinks, is a strict
// descendant of the root. Resolution failures report false.
func (s *Store) IsContained(path string) bool {
	_, ok := s.contain(path)
	return ok
}

func (s *Store) contain(path string) (string, bool) {
	if path == "" || strings.ContainsRune(path, 0) {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil {
		return "", false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return resolved, true
}

func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return false
	}
	return filepath.Base(id) == id && !filepath.IsAbs(id) && filepath.VolumeName(id) == ""
}
