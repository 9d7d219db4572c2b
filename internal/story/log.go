package story

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/peerplot/peerplot/internal/docstore"
	"github.com/peerplot/peerplot/pkg/logger"
	"github.com/peerplot/peerplot/pkg/metrics"
)

// Log is the live collaborative story stored under StoryKey.
type Log struct {
	store *docstore.Store
	now   func() time.Time
	newID func() string
}

// Option customises a Log or Archiver.
type Option func(*options)

type options struct {
	now      func() time.Time
	newID    func() string
	exporter Exporter
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides the UUID entry id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// WithExporter registers an archive exporter (Archiver only).
func WithExporter(e Exporter) Option {
	return func(o *options) { o.exporter = e }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, newID: uuid.NewString}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewLog returns the live story log over store.
func NewLog(store *docstore.Store, opts ...Option) *Log {
	o := buildOptions(opts)
	return &Log{store: store, now: o.now, newID: o.newID}
}

func (l *Log) emptyRecord() *docstore.Document {
	doc := docstore.NewDocument(StoryKey)
	doc.SetInt(fieldCount, 0)
	doc.SetTime(fieldUpdatedAt, l.now())
	return doc
}

// Load returns the story entries ordered by timestamp. When the record does
// not exist yet it is created empty, so Load is not a pure read.
func (l *Log) Load(ctx context.Context) ([]Entry, error) {
	log := logger.Component("database")
	doc, err := l.store.Update(ctx, StoryKey, func(cur *docstore.Document) (*docstore.Document, error) {
		if cur != nil {
			return nil, nil
		}
		return l.emptyRecord(), nil
	})
	if err != nil {
		log.Error().Err(err).Msg("load story")
		return nil, fmt.Errorf("%w: load story: %v", ErrPersistence, err)
	}
	entries := DecodeAll(doc)
	log.Debug().Int("entries", len(entries)).Msg("loaded story entries")
	return entries, nil
}

// Append adds one entry written by author at the next free slot. Blank text
// or author is rejected with ErrValidation before any I/O. Store failures are
// returned as ErrPersistence and are not retried.
func (l *Log) Append(ctx context.Context, text, author string) (Entry, error) {
	if strings.TrimSpace(text) == "" || strings.TrimSpace(author) == "" {
		metrics.StoryOperations.WithLabelValues("append", "invalid").Inc()
		return Entry{}, fmt.Errorf("%w: text and author must not be blank", ErrValidation)
	}
	e := Entry{ID: l.newID(), Text: text, Author: author, Timestamp: l.now().UTC()}

	_, err := l.store.Update(ctx, StoryKey, func(cur *docstore.Document) (*docstore.Document, error) {
		doc := cur
		if doc == nil {
			doc = docstore.NewDocument(StoryKey)
		}
		count := doc.Int(fieldCount)
		EncodeEntry(doc, count, e)
		doc.SetInt(fieldCount, count+1)
		doc.SetTime(fieldUpdatedAt, e.Timestamp)
		return doc, nil
	})
	if err != nil {
		metrics.StoryOperations.WithLabelValues("append", "error").Inc()
		logger.Errorf("error adding story entry: %v", err)
		return Entry{}, fmt.Errorf("%w: append entry: %v", ErrPersistence, err)
	}
	metrics.StoryOperations.WithLabelValues("append", "ok").Inc()
	return e, nil
}

// Reset overwrites the story with an empty record, discarding every entry.
func (l *Log) Reset(ctx context.Context) error {
	if err := l.store.Save(ctx, l.emptyRecord()); err != nil {
		metrics.StoryOperations.WithLabelValues("reset", "error").Inc()
		logger.Errorf("error creating new story: %v", err)
		return fmt.Errorf("%w: reset story: %v", ErrPersistence, err)
	}
	metrics.StoryOperations.WithLabelValues("reset", "ok").Inc()
	logger.Infof("created new empty story")
	return nil
}

// clearArchived empties the story except for entries whose ids are not in
// archived, which are kept in slot order. It runs under the store's write
// lock, so entries written after the archive snapshot survive.
func (l *Log) clearArchived(ctx context.Context, archived map[string]bool) (kept int, err error) {
	_, err = l.store.Update(ctx, StoryKey, func(cur *docstore.Document) (*docstore.Document, error) {
		doc := l.emptyRecord()
		for _, e := range decodeSlots(cur) {
			if archived[e.ID] {
				continue
			}
			EncodeEntry(doc, kept, e)
			kept++
		}
		doc.SetInt(fieldCount, kept)
		return doc, nil
	})
	if err != nil {
		metrics.StoryOperations.WithLabelValues("reset", "error").Inc()
		logger.Errorf("error creating new story: %v", err)
		return 0, fmt.Errorf("%w: reset story: %v", ErrPersistence, err)
	}
	metrics.StoryOperations.WithLabelValues("reset", "ok").Inc()
	return kept, nil
}

// Record returns the raw story document, or ErrNotFound when it has never
// been created.
func (l *Log) Record(ctx context.Context) (*docstore.Document, error) {
	doc, err := l.store.Get(ctx, StoryKey)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read story: %v", ErrPersistence, err)
	}
	return doc, nil
}

// Watch calls fn with the freshly decoded entries after every change to the
// story record, local or replicated. The returned function unsubscribes.
func (l *Log) Watch(fn func([]Entry)) (cancel func()) {
	return l.store.AddChangeListener(StoryKey, func(doc *docstore.Document) {
		logger.Debugf("story document changed")
		fn(DecodeAll(doc))
	})
}
