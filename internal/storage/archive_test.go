package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/peerplot/peerplot/internal/docstore"
	"github.com/peerplot/peerplot/internal/story"
	"github.com/stretchr/testify/require"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memObjects) UploadFile(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(b)) != size {
		return errors.New("size mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	m.types[key] = contentType
	return nil
}

func (m *memObjects) DownloadFile(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memObjects) GetPresignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "https://minio.test/peerplot-archives/" + key + "?X-Amz-Expires=" + expires.String(), nil
}

func TestArchiveExporter_RoundTrip(t *testing.T) {
	ctx := context.Background()
	objs := newMemObjects()
	exp := NewArchiveExporter(objs)

	at := time.Date(2025, 4, 11, 12, 0, 0, 0, time.UTC)
	item := story.HistoryItem{ID: "history_1744372800", Title: "Dragon Tale", ArchivedAt: at, EntryCount: 2}
	entries := []story.Entry{
		{ID: "a", Text: "Once upon a time", Author: "Alice", Timestamp: at.Add(-time.Minute)},
		{ID: "b", Text: "there was a dragon", Author: "Bob", Timestamp: at.Add(-time.Second)},
	}
	require.NoError(t, exp.ExportArchive(ctx, item, entries))
	require.Equal(t, "application/json", objs.types["archives/history_1744372800.json"])

	got, err := exp.FetchArchive(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, item, got.HistoryItem)
	require.Equal(t, entries, got.Entries)

	u, err := exp.ArchiveURL(ctx, item.ID, time.Hour)
	require.NoError(t, err)
	require.Contains(t, u, "archives/history_1744372800.json")
}

func TestArchiveExporter_EmptyEntriesEncodeAsArray(t *testing.T) {
	objs := newMemObjects()
	require.NoError(t, NewArchiveExporter(objs).ExportArchive(context.Background(), story.HistoryItem{ID: "history_1"}, nil))
	require.Contains(t, string(objs.objects["archives/history_1.json"]), `"entries":[]`)
}

func TestArchiveExporter_FetchMissing(t *testing.T) {
	_, err := NewArchiveExporter(newMemObjects()).FetchArchive(context.Background(), "history_9")
	require.Error(t, err)
}

func TestArchiveExporter_WiredIntoArchiver(t *testing.T) {
	ctx := context.Background()
	objs := newMemObjects()
	svc := story.NewService(newTestStore(), story.WithExporter(NewArchiveExporter(objs)))
	_, err := svc.AppendEntry(ctx, "line", "Alice")
	require.NoError(t, err)
	item, err := svc.ArchiveAndReset(ctx, "Exported")
	require.NoError(t, err)
	require.Contains(t, objs.objects, ArchiveKey(item.ID))
}

func TestLoadMinIOConfig(t *testing.T) {
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_ACCESS_KEY", "ak")
	t.Setenv("MINIO_SECRET_KEY", "sk")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("MINIO_BUCKET", "")
	cfg := LoadMinIOConfig()
	require.Equal(t, "minio:9000", cfg.Endpoint)
	require.True(t, cfg.UseSSL)
	require.Equal(t, "peerplot-archives", cfg.Bucket)
	require.True(t, cfg.Enabled())

	t.Setenv("MINIO_ENDPOINT", "")
	require.False(t, LoadMinIOConfig().Enabled())
}

func TestNewMinIOStorage_RequiresEndpoint(t *testing.T) {
	_, err := NewMinIOStorage(context.Background(), &MinIOConfig{})
	require.Error(t, err)
	_, err = NewMinIOStorage(context.Background(), nil)
	require.Error(t, err)
}

func newTestStore() *docstore.Store {
	return docstore.New(docstore.NewMemoryRepo(), "test")
}
