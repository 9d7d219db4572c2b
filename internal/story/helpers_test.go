package story

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/peerplot/peerplot/internal/docstore"
)

var t0 = time.Date(2025, 4, 11, 12, 0, 0, 0, time.UTC)

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(time.Second)
		return t
	}
}

// seqIDs returns an id generator yielding prefix-1, prefix-2, ...
func seqIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newTestStore() *docstore.Store {
	return docstore.New(docstore.NewMemoryRepo(), "test-peer")
}

// record builds a story document holding entries in slot order.
func record(id string, entries ...Entry) *docstore.Document {
	doc := docstore.NewDocument(id)
	for i, e := range entries {
		EncodeEntry(doc, i, e)
	}
	doc.SetInt(fieldCount, len(entries))
	doc.SetTime(fieldUpdatedAt, t0)
	return doc
}

func entry(id, text, author string, offset time.Duration) Entry {
	return Entry{ID: id, Text: text, Author: author, Timestamp: t0.Add(offset)}
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func texts(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Text)
	}
	return out
}

var errDiskFull = errors.New("disk full")

// failingRepo wraps a MemoryRepo and fails writes to ids listed in failPut.
type failingRepo struct {
	*docstore.MemoryRepo
	mu      sync.Mutex
	failPut map[string]bool
}

func newFailingRepo() *failingRepo {
	return &failingRepo{MemoryRepo: docstore.NewMemoryRepo(), failPut: map[string]bool{}}
}

func (f *failingRepo) setFail(id string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPut[id] = fail
}

func (f *failingRepo) Put(ctx context.Context, doc *docstore.Document) error {
	f.mu.Lock()
	fail := f.failPut[doc.ID]
	f.mu.Unlock()
	if fail {
		return errDiskFull
	}
	return f.MemoryRepo.Put(ctx, doc)
}

func itoa(n int64) string { return fmt.Sprintf("%d", n) }
