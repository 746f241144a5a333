package recordings

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"guacplayer/internal/observability/logging"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	store, err := NewStore(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	return store
}

func writeFile(t *testing.T, path string, content string, modified time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if !modified.IsZero() {
		if err := os.Chtimes(path, modified, modified); err != nil {
			t.Fatalf("chtimes %s: %v", path, err)
		}
	}
}

func mkRecording(t *testing.T, store *Store, id string) string {
	t.Helper()
	dir := filepath.Join(store.Root(), id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir recording: %v", err)
	}
	return dir
}

func TestNewStore(t *testing.T) {
	if _, err := NewStore("  "); !errors.Is(err, ErrRootRequired) {
		t.Fatalf("expected ErrRootRequired, got %v", err)
	}

	missing := filepath.Join(t.TempDir(), "nfs", "recordings")
	if _, err := NewStore(missing, WithLogger(logging.Discard())); err == nil {
		t.Fatal("expected error for missing root without WithCreateRoot")
	}
	store, err := NewStore(missing, WithLogger(logging.Discard()), WithCreateRoot(true))
	if err != nil {
		t.Fatalf("NewStore with create returned error: %v", err)
	}
	if info, err := os.Stat(store.Root()); err != nil || !info.IsDir() {
		t.Fatalf("expected root directory to be created, stat err=%v", err)
	}

	file := filepath.Join(t.TempDir(), "plain")
	writeFile(t, file, "x", time.Time{})
	if _, err := NewStore(file, WithLogger(logging.Discard())); !errors.Is(err, ErrRootNotDir) {
		t.Fatalf("expected ErrRootNotDir, got %v", err)
	}
}

func TestNewStoreCanonicalisesSymlinkedRoot(t *testing.T) {
	real := t.TempDir()
	link := filepath.Join(t.TempDir(), "mount")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	store, err := NewStore(link, WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	want, _ := filepath.EvalSymlinks(real)
	if store.Root() != want {
		t.Fatalf("expected canonical root %q, got %q", want, store.Root())
	}
}

func TestResolve(t *testing.T) {
	store := newTestStore(t)
	dir := mkRecording(t, store, "3f2a9c1e-0000-4000-8000-000000000001")
	writeFile(t, filepath.Join(store.Root(), "not-a-dir"), "x", time.Time{})

	loc, found, err := store.Resolve("3f2a9c1e-0000-4000-8000-000000000001")
	if err != nil || !found {
		t.Fatalf("expected recording to resolve, found=%v err=%v", found, err)
	}
	if loc.Path != dir {
		t.Fatalf("expected path %q, got %q", dir, loc.Path)
	}

	absent := []string{
		"missing",
		"not-a-dir",
		"",
		".",
		"..",
		"../../etc",
		"a/b",
		`..\..\windows`,
		"/etc",
		"nul\x00byte",
	}
	for _, id := range absent {
		if _, found, err := store.Resolve(id); err != nil || found {
			t.Fatalf("Resolve(%q): expected absent without error, found=%v err=%v", id, found, err)
		}
	}
}

func TestResolveSymlinks(t *testing.T) {
	store := newTestStore(t)
	inside := mkRecording(t, store, "real")
	outside := t.TempDir()

	if err := os.Symlink(inside, filepath.Join(store.Root(), "alias")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(store.Root(), "escape")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(store.Root(), "gone"), filepath.Join(store.Root(), "dangling")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	loc, found, err := store.Resolve("alias")
	if err != nil || !found {
		t.Fatalf("expected in-root symlink to resolve, found=%v err=%v", found, err)
	}
	if loc.Path != inside {
		t.Fatalf("expected canonical path %q, got %q", inside, loc.Path)
	}
	for _, id := range []string{"escape", "dangling"} {
		if _, found, err := store.Resolve(id); err != nil || found {
			t.Fatalf("Resolve(%q): expected absent, found=%v err=%v", id, found, err)
		}
	}
}

func TestIsContained(t *testing.T) {
	store := newTestStore(t)
	dir := mkRecording(t, store, "rec")
	video := filepath.Join(dir, "video.mp4")
	writeFile(t, video, "data", time.Time{})
	outsideFile := filepath.Join(t.TempDir(), "passwd")
	writeFile(t, outsideFile, "root:x:0:0", time.Time{})

	cases := []struct {
		name string
		path string
		want bool
	}{
		{name: "file inside", path: video, want: true},
		{name: "directory inside", path: dir, want: true},
		{name: "root itself", path: store.Root(), want: false},
		{name: "outside", path: outsideFile, want: false},
		{name: "dot dot escape", path: filepath.Join(dir, "..", "..", filepath.Base(outsideFile)), want: false},
		{name: "missing", path: filepath.Join(dir, "nope.mp4"), want: false},
		{name: "empty", path: "", want: false},
		{name: "nul byte", path: video + "\x00", want: false},
	}

	if err := os.Symlink(outsideFile, filepath.Join(dir, "link.mp4")); err == nil {
		cases = append(cases, struct {
			name string
			path string
			want bool
		}{name: "symlink to outside", path: filepath.Join(dir, "link.mp4"), want: false})
	}

	for _, tc := range cases {
		if got := store.IsContained(tc.path); got != tc.want {
			t.Fatalf("%s: IsContained(%q) = %v, want %v", tc.name, tc.path, got, tc.want)
		}
	}
}

func TestListFilesNewestFirst(t *testing.T) {
	store := newTestStore(t)
	dir := mkRecording(t, store, "rec")
	base := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	writeFile(t, filepath.Join(dir, "old.mp4"), "aaaa", base)
	writeFile(t, filepath.Join(dir, "new.log"), "bb", base.Add(2*time.Hour))
	writeFile(t, filepath.Join(dir, "b-mid.json"), "c", base.Add(time.Hour))
	writeFile(t, filepath.Join(dir, "a-mid.json"), "d", base.Add(time.Hour))
	if err := os.Mkdir(filepath.Join(dir, "thumbnails"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	files, err := store.ListFiles(context.Background(), "rec")
	if err != nil {
		t.Fatalf("ListFiles returned error: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	want := []string{"new.log", "a-mid.json", "b-mid.json", "old.mp4"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("expected order %v, got %v", want, names)
	}
	if files[3].Size != 4 || files[3].Path != filepath.Join(dir, "old.mp4") {
		t.Fatalf("unexpected descriptor %+v", files[3])
	}
	if !files[0].Modified.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("unexpected modified time %v", files[0].Modified)
	}
}

func TestListFilesEmptyAndMissing(t *testing.T) {
	store := newTestStore(t)
	mkRecording(t, store, "empty")

	for _, id := range []string{"empty", "missing", "../escape"} {
		files, err := store.ListFiles(context.Background(), id)
		if err != nil {
			t.Fatalf("ListFiles(%q) returned error: %v", id, err)
		}
		if files == nil || len(files) != 0 {
			t.Fatalf("ListFiles(%q): expected empty non-nil slice, got %#v", id, files)
		}
	}
}

func TestListFilesPropagatesPermissionErrors(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	store := newTestStore(t)
	dir := mkRecording(t, store, "locked")
	if err := os.Chmod(dir, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	if _, err := store.ListFiles(context.Background(), "locked"); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestListFilesHonoursCancellation(t *testing.T) {
	store := newTestStore(t)
	dir := mkRecording(t, store, "rec")
	writeFile(t, filepath.Join(dir, "a.mp4"), "x", time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.ListFiles(ctx, "rec"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPrimaryVideo(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	noVideo := mkRecording(t, store, "no-video")
	writeFile(t, filepath.Join(noVideo, "metadata.json"), `{}`, time.Time{})
	writeFile(t, filepath.Join(noVideo, "session.guac"), "raw", time.Time{})
	if err := os.Mkdir(filepath.Join(noVideo, "folder.mp4"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, found, err := store.PrimaryVideo(ctx, "no-video"); err != nil || found {
		t.Fatalf("expected no video, found=%v err=%v", found, err)
	}

	multi := mkRecording(t, store, "multi")
	writeFile(t, filepath.Join(multi, "zeta.webm"), "z", time.Time{})
	writeFile(t, filepath.Join(multi, "Alpha.MKV"), "a", time.Time{})
	writeFile(t, filepath.Join(multi, "beta.mp4"), "b", time.Time{})
	path, found, err := store.PrimaryVideo(ctx, "multi")
	if err != nil || !found {
		t.Fatalf("expected a video, found=%v err=%v", found, err)
	}
	if filepath.Base(path) != "Alpha.MKV" {
		t.Fatalf("expected lexicographic tie-break to pick Alpha.MKV, got %s", filepath.Base(path))
	}

	if _, found, err := store.PrimaryVideo(ctx, "missing"); err != nil || found {
		t.Fatalf("expected absent recording to have no video, found=%v err=%v", found, err)
	}
}

func TestIsVideoFile(t *testing.T) {
	for name, want := range map[string]bool{
		"a.mp4": true, "a.MOV": true, "a.Avi": true, "a.webm": true, "a.mkv": true,
		"a.mp4.part": false, "mp4": false, "a.json": false, "": false,
	} {
		if got := IsVideoFile(name); got != want {
			t.Fatalf("IsVideoFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestMetadata(t *testing.T) {
	store := newTestStore(t, WithMetadataLimit(64))
	ctx := context.Background()

	good := mkRecording(t, store, "good")
	writeFile(t, filepath.Join(good, "metadata.json"), `{"user":"guacadmin","duration":12.5}`, time.Time{})
	meta := store.Metadata(ctx, "good")
	if meta["user"] != "guacadmin" || meta["duration"] != 12.5 {
		t.Fatalf("unexpected metadata %v", meta)
	}

	cases := map[string]string{
		"broken": `{"user":`,
		"array":  `[1,2,3]`,
		"null":   `null`,
		"huge":   `{"padding":"` + string(make([]byte, 128)) + `"}`,
	}
	for id, body := range cases {
		dir := mkRecording(t, store, id)
		writeFile(t, filepath.Join(dir, "metadata.json"), body, time.Time{})
	}
	mkRecording(t, store, "none")

	for _, id := range []string{"broken", "array", "null", "huge", "none", "missing", "../x"} {
		meta := store.Metadata(ctx, id)
		if meta == nil || len(meta) != 0 {
			t.Fatalf("Metadata(%q): expected empty map, got %v", id, meta)
		}
	}
}

func TestInfoAggregatesAndIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dir := mkRecording(t, store, "rec")
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	writeFile(t, filepath.Join(dir, "recording.mp4"), "0123456789", base)
	writeFile(t, filepath.Join(dir, "metadata.json"), `{"protocol":"rdp"}`, base.Add(time.Minute))

	first, found, err := store.Info(ctx, "rec")
	if err != nil || !found {
		t.Fatalf("expected info, found=%v err=%v", found, err)
	}
	if first.VideoFile != filepath.Join(dir, "recording.mp4") {
		t.Fatalf("unexpected video file %q", first.VideoFile)
	}
	if first.SizeBytes != int64(10+len(`{"protocol":"rdp"}`)) {
		t.Fatalf("unexpected size %d", first.SizeBytes)
	}
	if len(first.Files) != 2 || first.Files[0].Name != "metadata.json" {
		t.Fatalf("unexpected files %+v", first.Files)
	}
	if first.Metadata["protocol"] != "rdp" {
		t.Fatalf("unexpected metadata %v", first.Metadata)
	}
	if first.CreatedAt.IsZero() || first.Path != dir || first.ID != "rec" {
		t.Fatalf("unexpected info header %+v", first)
	}

	second, _, err := store.Info(ctx, "rec")
	if err != nil {
		t.Fatalf("second Info returned error: %v", err)
	}
	if second.SizeBytes != first.SizeBytes || !reflect.DeepEqual(second.Files, first.Files) {
		t.Fatalf("expected identical results, got %+v and %+v", first, second)
	}

	if _, found, err := store.Info(ctx, "unknown"); err != nil || found {
		t.Fatalf("expected unknown recording to be absent, found=%v err=%v", found, err)
	}
}

func TestInfoWithoutVideo(t *testing.T) {
	store := newTestStore(t)
	dir := mkRecording(t, store, "raw")
	writeFile(t, filepath.Join(dir, "session.guac"), "raw", time.Time{})

	info, found, err := store.Info(context.Background(), "raw")
	if err != nil || !found {
		t.Fatalf("expected info, found=%v err=%v", found, err)
	}
	if info.VideoFile != "" {
		t.Fatalf("expected no video file, got %q", info.VideoFile)
	}
}

func TestOpen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dir := mkRecording(t, store, "rec")
	writeFile(t, filepath.Join(dir, "video.mp4"), "frames", time.Time{})

	asset, found, err := store.Open(ctx, "rec")
	if err != nil || !found {
		t.Fatalf("expected asset, found=%v err=%v", found, err)
	}
	defer asset.Close()
	if asset.Name != "video.mp4" || asset.Size != int64(len("frames")) {
		t.Fatalf("unexpected asset %+v", asset)
	}
	data, err := io.ReadAll(asset)
	if err != nil || string(data) != "frames" {
		t.Fatalf("unexpected content %q err=%v", data, err)
	}

	mkRecording(t, store, "empty")
	for _, id := range []string{"empty", "missing", "../rec"} {
		if asset, found, err := store.Open(ctx, id); err != nil || found || asset != nil {
			t.Fatalf("Open(%q): expected absent, found=%v err=%v", id, found, err)
		}
	}
}

func TestOpenRejectsEscapingVideoSymlink(t *testing.T) {
	store := newTestStore(t)
	dir := mkRecording(t, store, "rec")
	outside := filepath.Join(t.TempDir(), "secret.mp4")
	writeFile(t, outside, "secret", time.Time{})
	if err := os.Symlink(outside, filepath.Join(dir, "video.mp4")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if _, found, err := store.Open(context.Background(), "rec"); err != nil || found {
		t.Fatalf("expected escaping symlink to be ignored, found=%v err=%v", found, err)
	}
}

func TestSymlinkedFilesInsideRootAreFollowed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	shared := mkRecording(t, store, "shared")
	target := filepath.Join(shared, "render.mp4")
	writeFile(t, target, "frames", time.Time{})
	outside := filepath.Join(t.TempDir(), "secret.txt")
	writeFile(t, outside, "secret", time.Time{})

	dir := mkRecording(t, store, "rec")
	if err := os.Symlink(target, filepath.Join(dir, "video.mp4")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(shared, filepath.Join(dir, "linked-dir")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	files, err := store.ListFiles(ctx, "rec")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 || files[0].Name != "video.mp4" || files[0].Size != int64(len("frames")) {
		t.Fatalf("expected only the contained symlinked video, got %+v", files)
	}

	asset, found, err := store.Open(ctx, "rec")
	if err != nil || !found {
		t.Fatalf("expected symlinked video to open, found=%v err=%v", found, err)
	}
	defer asset.Close()
	if asset.Name != "render.mp4" {
		t.Fatalf("expected asset named after its target, got %q", asset.Name)
	}
}

func TestCheck(t *testing.T) {
	store := newTestStore(t)
	if err := store.Check(); err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if err := os.Remove(store.Root()); err != nil {
		t.Fatalf("remove root: %v", err)
	}
	if err := store.Check(); err == nil {
		t.Fatal("expected Check to fail once the root is gone")
	}
}
