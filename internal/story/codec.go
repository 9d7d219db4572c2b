package story

import (
	"fmt"
	"sort"
	"strings"

	"github.com/peerplot/peerplot/internal/docstore"
)

// Well-known document keys and metadata fields.
const (
	StoryKey      = "story"
	HistoryPrefix = "history_"

	fieldCount      = "count"
	fieldUpdatedAt  = "updatedAt"
	fieldTitle      = "title"
	fieldArchivedAt = "archivedAt"
)

func slotKey(index int, name string) string {
	return fmt.Sprintf("entry_%d_%s", index, name)
}

// isSlotField reports whether key belongs to an entry slot.
func isSlotField(key string) bool {
	return strings.HasPrefix(key, "entry_")
}

// EncodeEntry writes e into the four fields of slot index.
func EncodeEntry(doc *docstore.Document, index int, e Entry) {
	doc.SetString(slotKey(index, "id"), e.ID)
	doc.SetString(slotKey(index, "text"), e.Text)
	doc.SetString(slotKey(index, "author"), e.Author)
	doc.SetTime(slotKey(index, "timestamp"), e.Timestamp)
}

// DecodeEntry reads slot index. It returns false when any of the four fields
// is missing or malformed; callers skip such slots.
func DecodeEntry(doc *docstore.Document, index int) (Entry, bool) {
	id, ok := doc.String(slotKey(index, "id"))
	if !ok {
		return Entry{}, false
	}
	text, ok := doc.String(slotKey(index, "text"))
	if !ok {
		return Entry{}, false
	}
	author, ok := doc.String(slotKey(index, "author"))
	if !ok {
		return Entry{}, false
	}
	ts, ok := doc.Time(slotKey(index, "timestamp"))
	if !ok {
		return Entry{}, false
	}
	return Entry{ID: id, Text: text, Author: author, Timestamp: ts}, true
}

// decodeSlots returns the decodable entries of doc in slot order.
func decodeSlots(doc *docstore.Document) []Entry {
	if doc == nil {
		return []Entry{}
	}
	count := doc.Int(fieldCount)
	out := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		if e, ok := DecodeEntry(doc, i); ok {
			out = append(out, e)
		}
	}
	return out
}

// DecodeAll returns the entries of a log or archive record sorted by
// timestamp. Ties keep slot order.
func DecodeAll(doc *docstore.Document) []Entry {
	entries := decodeSlots(doc)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries
}
