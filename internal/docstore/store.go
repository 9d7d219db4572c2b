package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ConflictResolver merges two revisions of the same document that were
// written concurrently. Either argument may be nil.
type ConflictResolver func(local, remote *Document) *Document

// ApplyResult describes what Apply did with a replicated revision.
type ApplyResult int

const (
	// Ignored: the local revision already contains the remote one.
	Ignored ApplyResult = iota
	// Created: the document did not exist locally.
	Created
	// FastForward: the remote revision descends from the local one.
	FastForward
	// Merged: the revisions were concurrent and the resolver ran.
	Merged
)

func (r ApplyResult) String() string {
	switch r {
	case Ignored:
		return "ignored"
	case Created:
		return "created"
	case FastForward:
		return "fast_forward"
	case Merged:
		return "merged"
	}
	return "unknown"
}

// Store is a local-first document store. All writes (local and replicated) go
// through a single mutex, which is the per-key write serialization the story
// log relies on for its read-modify-write appends.
type Store struct {
	repo Repository
	peer string

	mu sync.Mutex

	lmu       sync.RWMutex
	listeners map[int]listener
	nextID    int
}

type listener struct {
	id string // empty matches every document
	fn func(*Document)
}

// New wraps repo. peerID identifies this replica in version vectors and must
// be unique among the peers that replicate with each other.
func New(repo Repository, peerID string) *Store {
	return &Store{repo: repo, peer: peerID, listeners: map[int]listener{}}
}

// PeerID returns the replica identifier.
func (s *Store) PeerID() string { return s.peer }

// Get returns a copy of the document or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Document, error) {
	d, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// Save overwrites the document with doc as a new local revision.
func (s *Store) Save(ctx context.Context, doc *Document) error {
	_, err := s.Update(ctx, doc.ID, func(*Document) (*Document, error) {
		return doc, nil
	})
	return err
}

// Update runs fn on the current revision (nil when absent) while holding the
// write lock and stores the returned document as a new local revision.
// Returning a nil document skips the write.
func (s *Store) Update(ctx context.Context, id string, fn func(cur *Document) (*Document, error)) (*Document, error) {
	s.mu.Lock()
	cur, err := s.repo.Load(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.mu.Unlock()
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	next, err := fn(cur.Clone())
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if next == nil {
		s.mu.Unlock()
		return cur.Clone(), nil
	}
	base := VersionVector{}
	if cur != nil {
		base = cur.Versions
	}
	next = next.Clone()
	next.ID = id
	next.Versions = base.Bump(s.peer)
	if err := s.repo.Put(ctx, next); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("put %s: %w", id, err)
	}
	s.mu.Unlock()

	s.notify(next)
	return next.Clone(), nil
}

// Query returns every document whose id starts with prefix, ordered by id.
func (s *Store) Query(ctx context.Context, prefix string) ([]*Document, error) {
	return s.repo.Scan(ctx, prefix)
}

// Apply integrates a revision received from another replica. The resolver is
// invoked exactly when the two revisions are concurrent; its output becomes
// a new local revision that descends from both.
func (s *Store) Apply(ctx context.Context, remote *Document, resolve ConflictResolver) (*Document, ApplyResult, error) {
	if remote == nil || remote.ID == "" {
		return nil, Ignored, errors.New("apply: document without id")
	}
	if resolve == nil {
		return nil, Ignored, errors.New("apply: no conflict resolver")
	}
	s.mu.Lock()
	local, err := s.repo.Load(ctx, remote.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.mu.Unlock()
		return nil, Ignored, fmt.Errorf("load %s: %w", remote.ID, err)
	}

	var (
		next   *Document
		result ApplyResult
	)
	switch {
	case local == nil:
		next, result = remote.Clone(), Created
	default:
		switch local.Versions.Compare(remote.Versions) {
		case Equal, After:
			s.mu.Unlock()
			return local.Clone(), Ignored, nil
		case Before:
			next, result = remote.Clone(), FastForward
		case Concurrent:
			merged := resolve(local.Clone(), remote.Clone())
			if merged == nil {
				merged = remote.Clone()
			}
			next = merged.Clone()
			next.ID = remote.ID
			next.Versions = local.Versions.Merge(remote.Versions).Bump(s.peer)
			result = Merged
		}
	}
	if next.Versions == nil {
		next.Versions = VersionVector{}
	}
	if err := s.repo.Put(ctx, next); err != nil {
		s.mu.Unlock()
		return nil, Ignored, fmt.Errorf("put %s: %w", remote.ID, err)
	}
	s.mu.Unlock()

	s.notify(next)
	return next.Clone(), result, nil
}

// AddChangeListener registers fn to be called after every write to id, or to
// any document when id is empty. The returned function removes it.
func (s *Store) AddChangeListener(id string, fn func(*Document)) (remove func()) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	n := s.nextID
	s.nextID++
	s.listeners[n] = listener{id: id, fn: fn}
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, n)
	}
}

// Close closes the underlying repository.
func (s *Store) Close() error {
	return s.repo.Close()
}

func (s *Store) notify(doc *Document) {
	s.lmu.RLock()
	fns := make([]func(*Document), 0, len(s.listeners))
	for _, l := range s.listeners {
		if l.id == "" || l.id == doc.ID {
			fns = append(fns, l.fn)
		}
	}
	s.lmu.RUnlock()
	for _, fn := range fns {
		fn(doc.Clone())
	}
}
