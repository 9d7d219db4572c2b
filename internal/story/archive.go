package story

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/peerplot/peerplot/internal/docstore"
	"github.com/peerplot/peerplot/pkg/logger"
	"github.com/peerplot/peerplot/pkg/metrics"
)

// maxKeyProbes bounds the search for a free history_<seconds> key when two
// archives are created within the same second.
const maxKeyProbes = 60

var errKeyTaken = errors.New("archive key taken")

// Exporter receives a copy of every archive after it has been stored.
type Exporter interface {
	ExportArchive(ctx context.Context, item HistoryItem, entries []Entry) error
}

// Archiver snapshots the live log into immutable history records.
type Archiver struct {
	store    *docstore.Store
	log      *Log
	now      func() time.Time
	exporter Exporter
}

// NewArchiver returns an Archiver that snapshots log into store.
func NewArchiver(store *docstore.Store, log *Log, opts ...Option) *Archiver {
	o := buildOptions(opts)
	return &Archiver{store: store, log: log, now: o.now, exporter: o.exporter}
}

// Archive copies the current story into a new history record titled title
// and then resets the live story.
//
// The two writes are independent. If the reset fails (or the process dies)
// after the archive was stored, the story keeps its entries and a retry
// stores a second archive with the same content under a new key. Entries
// that reach the story after the snapshot was taken stay in the live story.
func (a *Archiver) Archive(ctx context.Context, title string) (HistoryItem, error) {
	if strings.TrimSpace(title) == "" {
		metrics.StoryOperations.WithLabelValues("archive", "invalid").Inc()
		return HistoryItem{}, fmt.Errorf("%w: title must not be blank", ErrValidation)
	}
	current, err := a.store.Get(ctx, StoryKey)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return HistoryItem{}, fmt.Errorf("%w: read story: %v", ErrPersistence, err)
	}
	if current == nil || current.Int(fieldCount) <= 0 {
		metrics.StoryOperations.WithLabelValues("archive", "empty").Inc()
		return HistoryItem{}, fmt.Errorf("%w: nothing to archive", ErrPrecondition)
	}

	at := a.now().UTC()
	count := current.Int(fieldCount)
	snapshot := func(id string) *docstore.Document {
		doc := docstore.NewDocument(id)
		doc.SetString(fieldTitle, title)
		doc.SetTime(fieldArchivedAt, at)
		doc.SetInt(fieldCount, count)
		for i := 0; i < count; i++ {
			if e, ok := DecodeEntry(current, i); ok {
				EncodeEntry(doc, i, e)
			}
		}
		return doc
	}

	archived := map[string]bool{}
	for _, e := range decodeSlots(current) {
		archived[e.ID] = true
	}

	var id string
	for probe := 0; probe < maxKeyProbes; probe++ {
		id = fmt.Sprintf("%s%d", HistoryPrefix, at.Unix()+int64(probe))
		_, err = a.store.Update(ctx, id, func(cur *docstore.Document) (*docstore.Document, error) {
			if cur != nil {
				return nil, errKeyTaken
			}
			return snapshot(id), nil
		})
		if !errors.Is(err, errKeyTaken) {
			break
		}
	}
	if err != nil {
		metrics.StoryOperations.WithLabelValues("archive", "error").Inc()
		logger.Errorf("error archiving story: %v", err)
		return HistoryItem{}, fmt.Errorf("%w: store archive: %v", ErrPersistence, err)
	}
	logger.Infof("archived story to history: %s", id)

	kept, err := a.log.clearArchived(ctx, archived)
	if err != nil {
		metrics.StoryOperations.WithLabelValues("archive", "reset_failed").Inc()
		return HistoryItem{}, fmt.Errorf("archive %s stored but story not reset: %w", id, err)
	}
	if kept > 0 {
		logger.Infof("kept %d entries added to the story during archive %s", kept, id)
	}
	metrics.StoryOperations.WithLabelValues("archive", "ok").Inc()

	item := HistoryItem{ID: id, Title: title, ArchivedAt: at, EntryCount: count}
	if a.exporter != nil {
		if err := a.exporter.ExportArchive(ctx, item, DecodeAll(snapshot(id))); err != nil {
			logger.Warnf("export of archive %s failed: %v", id, err)
		}
	}
	return item, nil
}

// List returns a summary of every archive, newest first. Records missing a
// title or archive time are skipped.
func (a *Archiver) List(ctx context.Context) ([]HistoryItem, error) {
	docs, err := a.store.Query(ctx, HistoryPrefix)
	if err != nil {
		logger.Errorf("error fetching story history: %v", err)
		return nil, fmt.Errorf("%w: list archives: %v", ErrPersistence, err)
	}
	items := make([]HistoryItem, 0, len(docs))
	for _, doc := range docs {
		title, ok := doc.String(fieldTitle)
		if !ok {
			continue
		}
		at, ok := doc.Time(fieldArchivedAt)
		if !ok {
			continue
		}
		items = append(items, HistoryItem{ID: doc.ID, Title: title, ArchivedAt: at, EntryCount: doc.Int(fieldCount)})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ArchivedAt.Equal(items[j].ArchivedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].ArchivedAt.After(items[j].ArchivedAt)
	})
	return items, nil
}

// LoadArchive returns the entries of archive id ordered by timestamp.
func (a *Archiver) LoadArchive(ctx context.Context, id string) ([]Entry, error) {
	if !strings.HasPrefix(id, HistoryPrefix) {
		return nil, fmt.Errorf("%w: %q is not an archive id", ErrNotFound, id)
	}
	doc, err := a.store.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: archive %s", ErrNotFound, id)
	}
	if err != nil {
		logger.Errorf("error loading history story: %v", err)
		return nil, fmt.Errorf("%w: load archive: %v", ErrPersistence, err)
	}
	return DecodeAll(doc), nil
}
