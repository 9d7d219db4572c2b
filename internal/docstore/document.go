package docstore

import (
	"encoding/json"
	"strconv"
	"time"
)

// Document is a keyed, versioned bag of fields as held by the replicated store.
// Field values are strings or integers; timestamps are RFC 3339 strings (UTC),
// which is the shape a JSON document store hands back for dates.
type Document struct {
	ID       string                 `json:"id"`
	Fields   map[string]interface{} `json:"fields"`
	Versions VersionVector          `json:"versions"`
}

// NewDocument returns an empty document for id.
func NewDocument(id string) *Document {
	return &Document{ID: id, Fields: map[string]interface{}{}, Versions: VersionVector{}}
}

// Clone returns a deep copy. Field values are immutable scalars so a
// shallow copy of the map is sufficient.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{ID: d.ID, Fields: make(map[string]interface{}, len(d.Fields)), Versions: d.Versions.Clone()}
	for k, v := range d.Fields {
		out.Fields[k] = v
	}
	return out
}

// Has reports whether key is set.
func (d *Document) Has(key string) bool {
	_, ok := d.Fields[key]
	return ok
}

// Delete removes key.
func (d *Document) Delete(key string) {
	delete(d.Fields, key)
}

// SetString stores a string value.
func (d *Document) SetString(key, v string) {
	d.ensure()
	d.Fields[key] = v
}

// SetInt stores an integer value.
func (d *Document) SetInt(key string, v int) {
	d.ensure()
	d.Fields[key] = int64(v)
}

// SetTime stores t as an RFC 3339 UTC string.
func (d *Document) SetTime(key string, t time.Time) {
	d.ensure()
	d.Fields[key] = t.UTC().Format(time.RFC3339Nano)
}

// String returns the string stored at key.
func (d *Document) String(key string) (string, bool) {
	v, ok := d.Fields[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns the integer stored at key, or 0 when the key is absent or not
// numeric. Backends decode numbers differently (JSON float64 or json.Number,
// BSON int32/int64), all of which are accepted.
func (d *Document) Int(key string) int {
	switch v := d.Fields[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// Time returns the timestamp stored at key.
func (d *Document) Time(key string) (time.Time, bool) {
	switch v := d.Fields[key].(type) {
	case time.Time:
		return v.UTC(), true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}

func (d *Document) ensure() {
	if d.Fields == nil {
		d.Fields = map[string]interface{}{}
	}
}
