package peersync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/peerplot/peerplot/internal/docstore"
	"github.com/peerplot/peerplot/pkg/logger"
	"github.com/peerplot/peerplot/pkg/metrics"
)

var errUnexpectedStatus = errors.New("unexpected status")

// Replicator is a replication session: it serves this replica's documents
// to peers over mutual TLS and periodically pulls from and pushes to the
// configured peers. Every received revision goes through Store.Apply with
// the conflict resolver, for every document key.
type Replicator struct {
	store      *docstore.Store
	resolve    docstore.ConflictResolver
	peers      []string
	interval   time.Duration
	listenAddr string
	middleware []gin.HandlerFunc

	mu    sync.Mutex
	known map[string]map[string]docstore.VersionVector // peer -> id -> versions the peer holds

	wake chan struct{}
}

type Option func(*Replicator)

// WithPeers sets the peer base URLs, e.g. https://mac.local:5443. A bare
// host:port gets the https scheme.
func WithPeers(peers ...string) Option {
	return func(r *Replicator) {
		for _, p := range peers {
			if p = strings.TrimSpace(p); p == "" {
				continue
			}
			if !strings.Contains(p, "://") {
				p = "https://" + p
			}
			r.peers = append(r.peers, strings.TrimRight(p, "/"))
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Replicator) { r.interval = d }
}

func WithListenAddr(addr string) Option {
	return func(r *Replicator) { r.listenAddr = addr }
}

// WithMiddleware adds handlers (e.g. rate limiting) in front of the sync
// endpoints. They run after the peer certificate check.
func WithMiddleware(mw ...gin.HandlerFunc) Option {
	return func(r *Replicator) { r.middleware = append(r.middleware, mw...) }
}

func NewReplicator(store *docstore.Store, resolve docstore.ConflictResolver, opts ...Option) *Replicator {
	r := &Replicator{
		store:    store,
		resolve:  resolve,
		interval: 10 * time.Second,
		known:    map[string]map[string]docstore.VersionVector{},
		wake:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// NewClient returns an HTTP client that authenticates with creds.
func NewClient(creds *Credentials) *http.Client {
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{TLSClientConfig: creds.ClientTLS(), ForceAttemptHTTP2: true},
	}
}

// Run serves the sync endpoints on the listen address and replicates with
// every peer until ctx is cancelled. It has the SessionFunc signature so it
// can be handed to NewBootstrap.
func (r *Replicator) Run(ctx context.Context, creds *Credentials) error {
	log := logger.Component("network")
	srv := &http.Server{
		Addr:              r.listenAddr,
		Handler:           r.Handler(),
		TLSConfig:         creds.ServerTLS(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	if r.listenAddr != "" {
		go func() {
			log.Info().Str("addr", r.listenAddr).Msg("sync endpoint listening")
			if err := srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	stop := r.store.AddChangeListener("", func(*docstore.Document) { r.nudge() })
	defer stop()

	metrics.SyncSessionUp.Set(1)
	defer metrics.SyncSessionUp.Set(0)

	client := NewClient(creds)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.syncAll(ctx, client)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-serveErr:
			return fmt.Errorf("sync listener: %w", err)
		case <-ticker.C:
			r.syncAll(ctx, client)
		case <-r.wake:
			r.pushAll(ctx, client)
		}
	}
}

func (r *Replicator) nudge() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Replicator) syncAll(ctx context.Context, client *http.Client) {
	for _, peer := range r.peers {
		if err := r.SyncOnce(ctx, client, peer); err != nil {
			log := logger.Component("network")
			log.Warn().Err(err).Str("peer", peer).Msg("sync with peer failed")
		}
	}
}

func (r *Replicator) pushAll(ctx context.Context, client *http.Client) {
	for _, peer := range r.peers {
		if err := r.Push(ctx, client, peer); err != nil {
			log := logger.Component("network")
			log.Warn().Err(err).Str("peer", peer).Msg("push to peer failed")
		}
	}
}

// SyncOnce pulls every document from peer and then pushes local revisions
// the peer does not have yet.
func (r *Replicator) SyncOnce(ctx context.Context, client *http.Client, peer string) error {
	if err := r.Pull(ctx, client, peer); err != nil {
		return err
	}
	return r.Push(ctx, client, peer)
}

// Pull fetches the peer's documents and applies each one locally.
func (r *Replicator) Pull(ctx context.Context, client *http.Client, peer string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peer+"/sync/docs", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pull: %w: %s", errUnexpectedStatus, resp.Status)
	}
	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("pull: decode: %w", err)
	}

	log := logger.Component("database")
	for _, data := range raw {
		doc, err := docstore.UnmarshalDocument(data)
		if err != nil {
			metrics.ReplicatedDocuments.WithLabelValues("pulled", "error").Inc()
			log.Warn().Err(err).Str("peer", peer).Msg("skipping malformed document")
			continue
		}
		_, res, err := r.store.Apply(ctx, doc, r.resolve)
		if err != nil {
			metrics.ReplicatedDocuments.WithLabelValues("pulled", "error").Inc()
			return fmt.Errorf("pull: apply %s: %w", doc.ID, err)
		}
		metrics.ReplicatedDocuments.WithLabelValues("pulled", res.String()).Inc()
		r.remember(peer, doc.ID, doc.Versions)
		if res != docstore.Ignored {
			log.Debug().Str("peer", peer).Str("id", doc.ID).Str("result", res.String()).Msg("applied replicated document")
		}
	}
	return nil
}

// Push sends every local document whose revision the peer is not known to
// hold.
func (r *Replicator) Push(ctx context.Context, client *http.Client, peer string) error {
	docs, err := r.store.Query(ctx, "")
	if err != nil {
		return fmt.Errorf("push: list: %w", err)
	}
	for _, doc := range docs {
		if r.peerHas(peer, doc) {
			continue
		}
		versions, err := r.pushOne(ctx, client, peer, doc)
		if err != nil {
			metrics.ReplicatedDocuments.WithLabelValues("pushed", "error").Inc()
			return err
		}
		metrics.ReplicatedDocuments.WithLabelValues("pushed", "ok").Inc()
		r.remember(peer, doc.ID, versions)
	}
	return nil
}

func (r *Replicator) pushOne(ctx context.Context, client *http.Client, peer string, doc *docstore.Document) (docstore.VersionVector, error) {
	body, err := docstore.MarshalDocument(doc)
	if err != nil {
		return nil, err
	}
	u := peer + "/sync/docs/" + url.PathEscape(doc.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push %s: %w", doc.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("push %s: %w: %s %s", doc.ID, errUnexpectedStatus, resp.Status, bytes.TrimSpace(msg))
	}
	var out struct {
		Result   string                 `json:"result"`
		Versions docstore.VersionVector `json:"versions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("push %s: decode: %w", doc.ID, err)
	}
	return doc.Versions.Merge(out.Versions), nil
}

func (r *Replicator) peerHas(peer string, doc *docstore.Document) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	known, ok := r.known[peer][doc.ID]
	if !ok {
		return false
	}
	switch doc.Versions.Compare(known) {
	case docstore.Equal, docstore.Before:
		return true
	}
	return false
}

func (r *Replicator) remember(peer, id string, versions docstore.VersionVector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.known[peer]
	if !ok {
		m = map[string]docstore.VersionVector{}
		r.known[peer] = m
	}
	if prev, ok := m[id]; ok {
		versions = prev.Merge(versions)
	}
	m[id] = versions.Clone()
}
