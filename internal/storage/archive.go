package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/peerplot/peerplot/internal/story"
	"github.com/peerplot/peerplot/pkg/logger"
)

// ObjectStore is the subset of MinIOStorage the exporter needs.
type ObjectStore interface {
	UploadFile(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	DownloadFile(ctx context.Context, key string) (io.ReadCloser, error)
	GetPresignedURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// ArchivePayload is the JSON object written for each archive.
type ArchivePayload struct {
	story.HistoryItem
	Entries []story.Entry `json:"entries"`
}

// ArchiveExporter copies archived stories to object storage as JSON. It
// implements story.Exporter.
type ArchiveExporter struct {
	objects ObjectStore
}

func NewArchiveExporter(objects ObjectStore) *ArchiveExporter {
	return &ArchiveExporter{objects: objects}
}

// ArchiveKey returns the object key for archive id.
func ArchiveKey(id string) string {
	return "archives/" + id + ".json"
}

func (e *ArchiveExporter) ExportArchive(ctx context.Context, item story.HistoryItem, entries []story.Entry) error {
	if entries == nil {
		entries = []story.Entry{}
	}
	body, err := json.Marshal(ArchivePayload{HistoryItem: item, Entries: entries})
	if err != nil {
		return fmt.Errorf("encode archive %s: %w", item.ID, err)
	}
	key := ArchiveKey(item.ID)
	if err := e.objects.UploadFile(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	logger.Infof("exported archive %s to %s", item.ID, key)
	return nil
}

// FetchArchive reads back an exported archive.
func (e *ArchiveExporter) FetchArchive(ctx context.Context, id string) (*ArchivePayload, error) {
	rc, err := e.objects.DownloadFile(ctx, ArchiveKey(id))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", ArchiveKey(id), err)
	}
	defer rc.Close()
	var p ArchivePayload
	if err := json.NewDecoder(rc).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ArchiveKey(id), err)
	}
	return &p, nil
}

// ArchiveURL returns a time-limited download link for an exported archive.
func (e *ArchiveExporter) ArchiveURL(ctx context.Context, id string, expires time.Duration) (string, error) {
	return e.objects.GetPresignedURL(ctx, ArchiveKey(id), expires)
}
