package peersync

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/peerplot/peerplot/internal/docstore"
	"github.com/peerplot/peerplot/internal/story"
	"github.com/stretchr/testify/require"
)

type replica struct {
	store *docstore.Store
	svc   *story.Service
	rep   *Replicator
	creds *Credentials
	srv   *httptest.Server
}

func newReplica(t *testing.T, ca *testCA, name string, opts ...Option) *replica {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := docstore.New(docstore.NewMemoryRepo(), name)
	rp := &replica{
		store: store,
		svc:   story.NewService(store),
		rep:   NewReplicator(store, story.Resolve, opts...),
		creds: ca.credentials(t, name),
	}
	rp.srv = httptest.NewUnstartedServer(rp.rep.Handler())
	rp.srv.TLS = rp.creds.ServerTLS()
	rp.srv.StartTLS()
	t.Cleanup(rp.srv.Close)
	return rp
}

func texts(t *testing.T, svc *story.Service) []string {
	t.Helper()
	entries, err := svc.LoadEntries(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Text)
	}
	return out
}

func TestReplicator_OfflineEditsConverge(t *testing.T) {
	ctx := context.Background()
	ca := newTestCA(t, "PeerPlot")
	mac := newReplica(t, ca, "mac")
	ipad := newReplica(t, ca, "ipad")

	_, err := mac.svc.AppendEntry(ctx, "Once upon a time", "Alice")
	require.NoError(t, err)
	_, err = mac.svc.AppendEntry(ctx, "there was a dragon", "Alice")
	require.NoError(t, err)
	_, err = ipad.svc.AppendEntry(ctx, "and a very small knight", "Bob")
	require.NoError(t, err)

	client := NewClient(ipad.creds)
	require.NoError(t, ipad.rep.SyncOnce(ctx, client, mac.srv.URL))

	want := []string{"Once upon a time", "there was a dragon", "and a very small knight"}
	require.ElementsMatch(t, want, texts(t, ipad.svc))
	require.ElementsMatch(t, want, texts(t, mac.svc))

	macDoc, err := mac.store.Get(ctx, story.StoryKey)
	require.NoError(t, err)
	ipadDoc, err := ipad.store.Get(ctx, story.StoryKey)
	require.NoError(t, err)
	require.Equal(t, docstore.Equal, macDoc.Versions.Compare(ipadDoc.Versions))

	// nothing new to exchange
	require.NoError(t, ipad.rep.SyncOnce(ctx, client, mac.srv.URL))
	again, err := mac.store.Get(ctx, story.StoryKey)
	require.NoError(t, err)
	require.Equal(t, macDoc.Versions, again.Versions)
}

func TestReplicator_ArchivesReplicate(t *testing.T) {
	ctx := context.Background()
	ca := newTestCA(t, "PeerPlot")
	mac := newReplica(t, ca, "mac")
	ipad := newReplica(t, ca, "ipad")

	_, err := mac.svc.AppendEntry(ctx, "line", "Alice")
	require.NoError(t, err)
	item, err := mac.svc.ArchiveAndReset(ctx, "First")
	require.NoError(t, err)

	require.NoError(t, ipad.rep.Pull(ctx, NewClient(ipad.creds), mac.srv.URL))
	items, err := ipad.svc.ListArchives(ctx)
	require.NoError(t, err)
	require.Equal(t, []story.HistoryItem{item}, items)
	require.Empty(t, texts(t, ipad.svc))
}

func TestReplicator_RejectsUntrustedClients(t *testing.T) {
	ctx := context.Background()
	ca := newTestCA(t, "PeerPlot")
	mac := newReplica(t, ca, "mac")

	noCert := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: mac.creds.CAPool}}}
	_, err := noCert.Get(mac.srv.URL + "/sync/docs")
	require.Error(t, err)

	rogue := newTestCA(t, "Rogue").credentials(t, "mallory")
	rogue.CAPool = mac.creds.CAPool
	err = NewReplicator(docstore.New(docstore.NewMemoryRepo(), "mallory"), story.Resolve).
		Pull(ctx, NewClient(rogue), mac.srv.URL)
	require.Error(t, err)
}

func verifiedRequest(t *testing.T, creds *Credentials, method, path, body string) *http.Request {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.TLS = &tls.ConnectionState{VerifiedChains: [][]*x509.Certificate{{creds.Certificate.Leaf}}}
	return req
}

func TestHandler_PutValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ca := newTestCA(t, "PeerPlot")
	peer := ca.credentials(t, "ipad")
	store := docstore.New(docstore.NewMemoryRepo(), "mac")
	h := NewReplicator(store, story.Resolve).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sync/docs", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, verifiedRequest(t, peer, http.MethodPut, "/sync/docs/story", "{"))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, verifiedRequest(t, peer, http.MethodPut, "/sync/docs/story", `{"id":"other","fields":{},"versions":{}}`))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, verifiedRequest(t, peer, http.MethodPut, "/sync/docs/story",
		`{"id":"story","fields":{"count":1,"updatedAt":"2025-04-11T12:00:00Z","entry_0_id":"a","entry_0_text":"hi","entry_0_author":"Bob","entry_0_timestamp":"2025-04-11T12:00:00Z"},"versions":{"ipad":1}}`))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"result":"created"`)

	entries, err := story.NewService(store).LoadEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "Bob", entries[0].Author)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, verifiedRequest(t, peer, http.MethodGet, "/sync/docs?prefix=history_", ""))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `[]`, w.Body.String())
}

func TestHandler_MiddlewareSeesPeer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	peer := newTestCA(t, "PeerPlot").credentials(t, "ipad")
	var seen string
	h := NewReplicator(docstore.New(docstore.NewMemoryRepo(), "mac"), story.Resolve,
		WithMiddleware(func(c *gin.Context) {
			seen = c.GetString(PeerKey)
			c.Next()
		})).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, verifiedRequest(t, peer, http.MethodGet, "/sync/docs", ""))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "ipad", seen)
}

func TestReplicator_RunPushesLocalChanges(t *testing.T) {
	ca := newTestCA(t, "PeerPlot")
	mac := newReplica(t, ca, "mac")
	ipadStore := docstore.New(docstore.NewMemoryRepo(), "ipad")
	ipadSvc := story.NewService(ipadStore)
	ipadCreds := ca.credentials(t, "ipad")
	rep := NewReplicator(ipadStore, story.Resolve, WithPeers(mac.srv.URL), WithInterval(time.Hour))

	_, err := ipadSvc.AppendEntry(context.Background(), "pushed at start", "Bob")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rep.Run(ctx, ipadCreds) }()

	macHas := func(n int) func() bool {
		return func() bool {
			entries, err := mac.svc.LoadEntries(context.Background())
			return err == nil && len(entries) == n
		}
	}
	require.Eventually(t, macHas(1), 5*time.Second, 20*time.Millisecond)

	// the first sync has run, so the change listener is installed
	_, err = ipadSvc.AppendEntry(context.Background(), "pushed on change", "Bob")
	require.NoError(t, err)
	require.Eventually(t, macHas(2), 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWithPeersNormalises(t *testing.T) {
	r := NewReplicator(nil, story.Resolve, WithPeers(" mac.local:5443 ", "", "https://ipad.local:5443/"))
	require.Equal(t, []string{"https://mac.local:5443", "https://ipad.local:5443"}, r.peers)
}
