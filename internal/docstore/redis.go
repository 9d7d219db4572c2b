package docstore

import (
	"context"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisRepo implements Repository using Redis as the backing store.
// Documents are stored as JSON under key: "<prefix><id>" without expiry.
type RedisRepo struct {
	client *redis.Client
	prefix string
}

// NewRedisRepo creates a Redis-based repository. Prefix may be empty.
func NewRedisRepo(client *redis.Client, prefix string) *RedisRepo {
	if prefix == "" {
		prefix = "doc:"
	}
	return &RedisRepo{client: client, prefix: prefix}
}

func (r *RedisRepo) key(id string) string {
	return r.prefix + id
}

func (r *RedisRepo) Load(ctx context.Context, id string) (*Document, error) {
	b, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return UnmarshalDocument(b)
}

func (r *RedisRepo) Put(ctx context.Context, doc *Document) error {
	b, err := MarshalDocument(doc)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(doc.ID), b, 0).Err()
}

func (r *RedisRepo) Scan(ctx context.Context, prefix string) ([]*Document, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.key(escapeGlob(prefix))+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	out := make([]*Document, 0, len(keys))
	for _, k := range keys {
		b, err := r.client.Get(ctx, k).Bytes()
		if err == redis.Nil {
			// deleted between SCAN and GET
			continue
		}
		if err != nil {
			return nil, err
		}
		d, err := UnmarshalDocument(b)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *RedisRepo) Close() error {
	return r.client.Close()
}

func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}
