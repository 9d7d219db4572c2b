package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("document not found")
)

// Repository is the durable backend behind a Store. Implementations only
// persist and fetch whole documents; versioning, conflict handling and change
// notification live in Store.
type Repository interface {
	Load(ctx context.Context, id string) (*Document, error)
	Put(ctx context.Context, doc *Document) error
	// Scan returns every document whose id starts with prefix, ordered by id.
	Scan(ctx context.Context, prefix string) ([]*Document, error)
	Close() error
}

// MarshalDocument encodes d in the JSON shape used by the Redis and SQLite
// repositories and by the replication wire format.
func MarshalDocument(d *Document) ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalDocument decodes a document written by MarshalDocument. Numbers are
// kept as json.Number so integer fields survive the round trip exactly.
func UnmarshalDocument(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var d Document
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if d.Fields == nil {
		d.Fields = map[string]interface{}{}
	}
	if d.Versions == nil {
		d.Versions = VersionVector{}
	}
	return &d, nil
}
