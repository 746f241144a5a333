package recordings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const metadataFile = "metadata.json"

var videoExtensions = map[string]struct{}{
	".mp4":  {},
	".mkv":  {},
	".webm": {},
	".avi":  {},
	".mov":  {},
}

// IsVideoFile reports whether name carries one of the playable extensions.
func IsVideoFile(name string) bool {
	_, ok := videoExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// ListFiles returns the regular files directly inside the recording, newest
// first. An unknown recording yields an empty slice.
func (s *Store) ListFiles(ctx context.Context, id string) ([]FileDescriptor, error) {
	loc, found, err := s.Resolve(id)
	if err != nil {
		return nil, err
	}
	if !found {
		return []FileDescriptor{}, nil
	}
	return s.listLocation(ctx, loc)
}

func (s *Store) listLocation(ctx context.Context, loc Location) ([]FileDescriptor, error) {
	entries, err := os.ReadDir(loc.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []FileDescriptor{}, nil
		}
		return nil, fmt.Errorf("list recording %s: %w", loc.ID, err)
	}

	files := make([]FileDescriptor, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, ok, err := s.regularFile(loc.Path, entry)
		if err != nil {
			return nil, fmt.Errorf("stat %s in recording %s: %w", entry.Name(), loc.ID, err)
		}
		if !ok {
			continue
		}
		files = append(files, FileDescriptor{
			Name:     entry.Name(),
			Path:     filepath.Join(loc.Path, entry.Name()),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].Modified.Equal(files[j].Modified) {
			return files[i].Modified.After(files[j].Modified)
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

// regularFile reports whether entry is a regular file, following symlinks
// whose target stays inside the root. Entries that vanish are skipped.
func (s *Store) regularFile(dir string, entry fs.DirEntry) (fs.FileInfo, bool, error) {
	var (
		info fs.FileInfo
		err  error
	)
	switch mode := entry.Type(); {
	case mode.IsRegular():
		info, err = entry.Info()
	case mode&fs.ModeSymlink != 0:
		resolved, ok := s.contain(filepath.Join(dir, entry.Name()))
		if !ok {
			return nil, false, nil
		}
		info, err = os.Stat(resolved)
	default:
		return nil, false, nil
	}
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return info, info.Mode().IsRegular(), nil
}

// PrimaryVideo returns the playable file of a recording. When several files
// qualify the lexicographically smallest name wins.
func (s *Store) PrimaryVideo(ctx context.Context, id string) (string, bool, error) {
	loc, found, err := s.Resolve(id)
	if err != nil || !found {
		return "", false, err
	}
	return s.primaryVideo(ctx, loc)
}

func (s *Store) primaryVideo(ctx context.Context, loc Location) (string, bool, error) {
	// os.ReadDir returns entries sorted by name.
	entries, err := os.ReadDir(loc.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("scan recording %s: %w", loc.ID, err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		if !IsVideoFile(entry.Name()) {
			continue
		}
		_, ok, err := s.regularFile(loc.Path, entry)
		if err != nil {
			return "", false, fmt.Errorf("stat %s in recording %s: %w", entry.Name(), loc.ID, err)
		}
		if ok {
			return filepath.Join(loc.Path, entry.Name()), true, nil
		}
	}
	s.logger.Debug("no video file in recording", "recording_id", loc.ID)
	return "", false, nil
}

// Metadata parses the recording's metadata.json. Missing, oversized or
// unparsable sidecars yield an empty map.
func (s *Store) Metadata(ctx context.Context, id string) map[string]any {
	loc, found, err := s.Resolve(id)
	if err != nil {
		s.logger.Warn("resolve recording for metadata", "recording_id", id, "error", err)
		return map[string]any{}
	}
	if !found {
		return map[string]any{}
	}
	return s.metadata(ctx, loc)
}

func (s *Store) metadata(ctx context.Context, loc Location) map[string]any {
	if ctx.Err() != nil {
		return map[string]any{}
	}
	path := filepath.Join(loc.Path, metadataFile)
	if _, ok := s.contain(path); !ok {
		return map[string]any{}
	}
	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("open recording metadata", "recording_id", loc.ID, "error", err)
		}
		return map[string]any{}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.metadataLimit+1))
	if err != nil {
		s.logger.Warn("read recording metadata", "recording_id", loc.ID, "error", err)
		return map[string]any{}
	}
	if int64(len(data)) > s.metadataLimit {
		s.logger.Warn("recording metadata too large", "recording_id", loc.ID, "limit", s.metadataLimit)
		return map[string]any{}
	}
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil || parsed == nil {
		s.logger.Warn("parse recording metadata", "recording_id", loc.ID, "error", err)
		return map[string]any{}
	}
	return parsed
}

// Info aggregates the directory, its files, the primary video and metadata.
func (s *Store) Info(ctx context.Context, id string) (Info, bool, error) {
	loc, found, err := s.Resolve(id)
	if err != nil || !found {
		return Info{}, false, err
	}
	dirInfo, err := os.Stat(loc.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, false, nil
		}
		return Info{}, false, fmt.Errorf("stat recording %s: %w", id, err)
	}
	files, err := s.listLocation(ctx, loc)
	if err != nil {
		return Info{}, false, err
	}
	video, _, err := s.primaryVideo(ctx, loc)
	if err != nil {
		return Info{}, false, err
	}

	var total int64
	for _, file := range files {
		total += file.Size
	}
	return Info{
		ID:        id,
		Path:      loc.Path,
		VideoFile: video,
		Files:     files,
		SizeBytes: total,
		CreatedAt: dirInfo.ModTime(),
		Metadata:  s.metadata(ctx, loc),
	}, true, nil
}

// Asset is an opened primary video ready for delivery.
type Asset struct {
	*os.File
	Name    string
	Size    int64
	ModTime time.Time
}

// Open opens the primary video of a recording after confirming its canonical
// path is still inside the root. The caller closes the returned Asset.
func (s *Store) Open(ctx context.Context, id string) (*Asset, bool, error) {
	path, found, err := s.PrimaryVideo(ctx, id)
	if err != nil || !found {
		return nil, false, err
	}
	resolved, ok := s.contain(path)
	if !ok {
		s.logger.Warn("video path failed containment check", "recording_id", id)
		return nil, false, nil
	}
	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open video for recording %s: %w", id, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, false, fmt.Errorf("stat video for recording %s: %w", id, err)
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, false, nil
	}
	return &Asset{File: file, Name: filepath.Base(resolved), Size: info.Size(), ModTime: info.ModTime()}, true, nil
}
