package story

import (
	"context"

	"github.com/peerplot/peerplot/internal/docstore"
)

// Service is the surface the application layer uses: the live log plus its
// archive history, over one injected store.
type Service struct {
	log      *Log
	archiver *Archiver
}

// NewService builds the log and archiver over store, sharing opts.
func NewService(store *docstore.Store, opts ...Option) *Service {
	log := NewLog(store, opts...)
	return &Service{log: log, archiver: NewArchiver(store, log, opts...)}
}

func (s *Service) LoadEntries(ctx context.Context) ([]Entry, error) {
	return s.log.Load(ctx)
}

func (s *Service) AppendEntry(ctx context.Context, text, author string) (Entry, error) {
	return s.log.Append(ctx, text, author)
}

func (s *Service) ResetLog(ctx context.Context) error {
	return s.log.Reset(ctx)
}

func (s *Service) ArchiveAndReset(ctx context.Context, title string) (HistoryItem, error) {
	return s.archiver.Archive(ctx, title)
}

func (s *Service) ListArchives(ctx context.Context) ([]HistoryItem, error) {
	return s.archiver.List(ctx)
}

func (s *Service) LoadArchiveEntries(ctx context.Context, id string) ([]Entry, error) {
	return s.archiver.LoadArchive(ctx, id)
}

// Watch subscribes fn to story changes. See Log.Watch.
func (s *Service) Watch(fn func([]Entry)) (cancel func()) {
	return s.log.Watch(fn)
}
