package story

import (
	"strings"
	"time"

	"github.com/peerplot/peerplot/internal/docstore"
	"github.com/peerplot/peerplot/pkg/logger"
	"github.com/peerplot/peerplot/pkg/metrics"
)

// Resolve merges two concurrent revisions of a story or archive record using
// the current time as the merge instant. See NewResolver.
func Resolve(local, remote *docstore.Document) *docstore.Document {
	return NewResolver(time.Now)(local, remote)
}

// NewResolver returns the conflict resolver for story and archive records.
//
// The merge is a union keyed by entry id: every decodable local entry is
// placed first in local slot order, then every remote entry whose id has not
// been seen, in remote slot order, re-indexed from zero. Nothing that decodes
// on either side is dropped, and an id present on both sides keeps the local
// copy. The entry set is the same whichever side is local; only slot order
// differs, and display order is re-derived from timestamps anyway.
//
// The later updatedAt never wins a whole revision.
//
// Non-slot metadata such as an archive title is carried over, local values
// winning. count and updatedAt are recomputed.
func NewResolver(now func() time.Time) docstore.ConflictResolver {
	return func(local, remote *docstore.Document) *docstore.Document {
		if local == nil || remote == nil {
			if remote != nil {
				return remote
			}
			return local
		}

		merged := docstore.NewDocument(local.ID)
		for _, src := range []*docstore.Document{remote, local} {
			for k, v := range src.Fields {
				if isSlotField(k) || k == fieldCount || k == fieldUpdatedAt {
					continue
				}
				merged.Fields[k] = v
			}
		}

		seen := map[string]bool{}
		n := 0
		for _, src := range []*docstore.Document{local, remote} {
			for _, e := range decodeSlots(src) {
				if seen[e.ID] {
					continue
				}
				seen[e.ID] = true
				EncodeEntry(merged, n, e)
				n++
			}
		}
		merged.SetInt(fieldCount, n)
		merged.SetTime(fieldUpdatedAt, now())

		kind := "story"
		if strings.HasPrefix(local.ID, HistoryPrefix) {
			kind = "history"
		}
		metrics.ConflictsResolved.WithLabelValues(kind).Inc()
		logger.Infof("resolved conflict on %s: local=%d remote=%d merged=%d",
			local.ID, local.Int(fieldCount), remote.Int(fieldCount), n)
		return merged
	}
}
