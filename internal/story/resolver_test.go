package story

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/peerplot/peerplot/internal/docstore"
	"github.com/stretchr/testify/require"
)

var mergeAt = t0.Add(time.Hour)

func resolve(local, remote *docstore.Document) *docstore.Document {
	return NewResolver(func() time.Time { return mergeAt })(local, remote)
}

func sortedIDs(doc *docstore.Document) []string {
	out := ids(decodeSlots(doc))
	sort.Strings(out)
	return out
}

func TestResolveUnion(t *testing.T) {
	local := record(StoryKey, entry("a", "A", "Alice", 0), entry("b", "B", "Alice", time.Second))
	remote := record(StoryKey, entry("c", "C", "Bob", 2*time.Second))

	merged := resolve(local, remote)
	require.Equal(t, 3, merged.Int("count"))
	require.Equal(t, []string{"a", "b", "c"}, ids(decodeSlots(merged)))
	at, ok := merged.Time("updatedAt")
	require.True(t, ok)
	require.Equal(t, mergeAt, at)
}

func TestResolveDedupKeepsLocalCopy(t *testing.T) {
	local := record(StoryKey, entry("x", "local text", "Alice", 0))
	remote := record(StoryKey, entry("x", "remote text", "Alice", 0), entry("y", "Y", "Bob", time.Second))

	merged := resolve(local, remote)
	entries := decodeSlots(merged)
	require.Equal(t, []string{"x", "y"}, ids(entries))
	require.Equal(t, "local text", entries[0].Text)
}

func TestResolveIdempotent(t *testing.T) {
	doc := record(StoryKey, entry("a", "A", "Alice", 0), entry("b", "B", "Bob", time.Second))
	merged := resolve(doc, doc.Clone())
	require.Equal(t, decodeSlots(doc), decodeSlots(merged))
	require.Equal(t, 2, merged.Int("count"))
}

func TestResolveOrderIndependentSet(t *testing.T) {
	p := record(StoryKey, entry("a", "A", "Alice", 0), entry("b", "B", "Alice", time.Second))
	q := record(StoryKey, entry("b", "B", "Alice", time.Second), entry("c", "C", "Bob", 2*time.Second), entry("d", "D", "Bob", 3*time.Second))

	pq := resolve(p, q)
	qp := resolve(q, p)
	require.Equal(t, sortedIDs(pq), sortedIDs(qp))
	require.Equal(t, []string{"a", "b", "c", "d"}, sortedIDs(pq))
	require.Equal(t, DecodeAll(pq), DecodeAll(qp))
}

func TestResolveSkipsUndecodableSlots(t *testing.T) {
	local := record(StoryKey, entry("a", "A", "Alice", 0), entry("b", "B", "Alice", time.Second))
	local.Delete("entry_1_timestamp")
	remote := record(StoryKey, entry("c", "C", "Bob", 0))

	merged := resolve(local, remote)
	require.Equal(t, []string{"a", "c"}, ids(decodeSlots(merged)))
	require.Equal(t, 2, merged.Int("count"))
	require.False(t, merged.Has("entry_2_id"))
}

func TestResolveEmptySides(t *testing.T) {
	empty := record(StoryKey)
	full := record(StoryKey, entry("a", "A", "Alice", 0))

	require.Equal(t, []string{"a"}, ids(decodeSlots(resolve(empty, full))))
	require.Equal(t, []string{"a"}, ids(decodeSlots(resolve(full, empty))))
	require.Equal(t, 0, resolve(empty, empty.Clone()).Int("count"))
}

func TestResolveCarriesArchiveMetadata(t *testing.T) {
	local := record("history_100", entry("a", "A", "Alice", 0))
	local.SetString("title", "Local title")
	local.SetTime("archivedAt", t0)
	remote := record("history_100", entry("b", "B", "Bob", 0))
	remote.SetString("title", "Remote title")
	remote.SetString("extra", "kept")

	merged := resolve(local, remote)
	title, _ := merged.String("title")
	require.Equal(t, "Local title", title)
	extra, _ := merged.String("extra")
	require.Equal(t, "kept", extra)
	at, ok := merged.Time("archivedAt")
	require.True(t, ok)
	require.Equal(t, t0, at)
	require.Equal(t, 2, merged.Int("count"))
}

func TestResolveNilSide(t *testing.T) {
	doc := record(StoryKey, entry("a", "A", "Alice", 0))
	require.Same(t, doc, resolve(nil, doc))
	require.Same(t, doc, resolve(doc, nil))
}

// Two replicas append offline, then exchange revisions. Both converge on
// the same entry set and nothing is lost.
func TestOfflineDivergenceConverges(t *testing.T) {
	ctx := context.Background()
	mac := docstore.New(docstore.NewMemoryRepo(), "mac")
	ipad := docstore.New(docstore.NewMemoryRepo(), "ipad")
	macLog := NewLog(mac, WithClock(stepClock(t0)), WithIDGenerator(seqIDs("mac")))
	ipadLog := NewLog(ipad, WithClock(stepClock(t0.Add(500*time.Millisecond))), WithIDGenerator(seqIDs("ipad")))

	_, err := macLog.Append(ctx, "shared start", "Alice")
	require.NoError(t, err)
	shared, err := mac.Get(ctx, StoryKey)
	require.NoError(t, err)
	_, res, err := ipad.Apply(ctx, shared, Resolve)
	require.NoError(t, err)
	require.Equal(t, docstore.Created, res)

	_, err = macLog.Append(ctx, "mac offline", "Alice")
	require.NoError(t, err)
	_, err = ipadLog.Append(ctx, "ipad offline", "Bob")
	require.NoError(t, err)

	macDoc, err := mac.Get(ctx, StoryKey)
	require.NoError(t, err)
	ipadDoc, err := ipad.Get(ctx, StoryKey)
	require.NoError(t, err)

	_, res, err = mac.Apply(ctx, ipadDoc, Resolve)
	require.NoError(t, err)
	require.Equal(t, docstore.Merged, res)
	_, res, err = ipad.Apply(ctx, macDoc, Resolve)
	require.NoError(t, err)
	require.Equal(t, docstore.Merged, res)

	macEntries, err := macLog.Load(ctx)
	require.NoError(t, err)
	ipadEntries, err := ipadLog.Load(ctx)
	require.NoError(t, err)
	require.Len(t, macEntries, 3)
	require.ElementsMatch(t, ids(macEntries), ids(ipadEntries))
	require.ElementsMatch(t, []string{"mac-1", "mac-2", "ipad-1"}, ids(macEntries))
}
