package story

import "time"

// Entry is one contribution to the story. Entries are immutable once created
// and their IDs are unique across the live log and every archive.
type Entry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryItem summarises an archived story without decoding its entries.
type HistoryItem struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	ArchivedAt time.Time `json:"archivedAt"`
	EntryCount int       `json:"entryCount"`
}
