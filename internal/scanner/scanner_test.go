package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"publishengine/internal/store"
)

type fakeStore struct {
	batches []store.TaskBatch
	created int
	skipped int
	scans   map[int64]struct {
		total, used int
	}
}

func newFakeStore() *fakeStore {
	return &fakeStore{scans: map[int64]struct{ total, used int }{}}
}

func (f *fakeStore) CreateTasks(ctx context.Context, batch []store.TaskBatch) (int, int, error) {
	seen := map[string]bool{}
	created := 0
	skipped := 0
	for _, b := range batch {
		key := b.MediaPath
		if seen[key] {
			skipped++
			continue
		}
		seen[key] = true
		created++
	}
	f.batches = append(f.batches, batch...)
	f.created += created
	f.skipped += skipped
	return created, skipped, nil
}

func (f *fakeStore) RecordScan(ctx context.Context, sourceID int64, totalItems, usedItems int, scannedAt time.Time) error {
	f.scans[sourceID] = struct{ total, used int }{totalItems, usedItems}
	return nil
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanDiscoversVideoWithSidecar(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "clips", "a.mp4"), "binary-stand-in")
	writeFile(t, filepath.Join(root, "clips", "a.json"), `{"caption":"hello"}`)
	writeFile(t, filepath.Join(root, "clips", "orphan.mp4"), "no sidecar")

	fs := newFakeStore()
	sc := New(root, fs, nil)
	source := store.ContentSource{ID: 1, Path: filepath.Join(root, "clips"), Type: store.SourceTypeVideo}

	created, skipped, err := sc.Scan(context.Background(), 10, source, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, created)
	require.Equal(t, 0, skipped)
	require.Equal(t, 1, sc.MalformedMetadataCount())
}

func TestScanImageSetGroupsBySidecar(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "gallery", "trip.json"), `{"caption":"vacation"}`)
	writeFile(t, filepath.Join(root, "gallery", "trip_1.jpg"), "img1")
	writeFile(t, filepath.Join(root, "gallery", "trip.jpg"), "img-base")

	fs := newFakeStore()
	sc := New(root, fs, nil)
	source := store.ContentSource{ID: 2, Path: filepath.Join(root, "gallery"), Type: store.SourceTypeImageSet}

	created, _, err := sc.Scan(context.Background(), 10, source, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, created, "trip.jpg uses trip.json; trip_1.jpg has no trip_1.json and is skipped -> one task")
}

func TestScanCanonicalizesPathsRelativeToMediaRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "proj", "x.mp4"), "v")
	writeFile(t, filepath.Join(root, "proj", "x.json"), `{}`)

	fs := newFakeStore()
	sc := New(root, fs, nil)
	source := store.ContentSource{ID: 3, Path: filepath.Join(root, "proj"), Type: store.SourceTypeVideo}

	_, _, err := sc.Scan(context.Background(), 1, source, time.Now())
	require.NoError(t, err)
	require.Len(t, fs.batches, 1)
	require.Equal(t, "proj/x.mp4", fs.batches[0].MediaPath)
}
