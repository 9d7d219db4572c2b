package peersync

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/peerplot/peerplot/internal/docstore"
	"github.com/peerplot/peerplot/pkg/logger"
	"github.com/peerplot/peerplot/pkg/metrics"
	"github.com/peerplot/peerplot/pkg/middleware"
)

// PeerKey is the gin context key holding the verified peer's common name.
const PeerKey = middleware.PeerKey

// maxDocumentBytes caps a single pushed document.
const maxDocumentBytes = 8 << 20

// Handler returns the replication endpoints. They expect to be served over
// TLS with verified client certificates.
func (r *Replicator) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), requirePeer)
	g.Use(r.middleware...)
	r.registerRoutes(g)
	return g
}

// requirePeer rejects requests that did not present a verified certificate
// and records the peer's common name.
func requirePeer(c *gin.Context) {
	tlsState := c.Request.TLS
	if tlsState == nil || len(tlsState.VerifiedChains) == 0 || len(tlsState.VerifiedChains[0]) == 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "client certificate required"})
		return
	}
	c.Set(PeerKey, tlsState.VerifiedChains[0][0].Subject.CommonName)
	c.Next()
}

func (r *Replicator) registerRoutes(g gin.IRouter) {
	g.GET("/sync/docs", func(c *gin.Context) {
		docs, err := r.store.Query(c.Request.Context(), c.Query("prefix"))
		if err != nil {
			logger.Errorf("sync: list documents: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		metrics.ReplicatedDocuments.WithLabelValues("served", "ok").Add(float64(len(docs)))
		c.JSON(http.StatusOK, docs)
	})

	g.PUT("/sync/docs/:id", func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		doc, err := docstore.UnmarshalDocument(body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if doc.ID != c.Param("id") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "document id does not match path"})
			return
		}
		peer := c.GetString(PeerKey)
		merged, res, err := r.store.Apply(c.Request.Context(), doc, r.resolve)
		if err != nil {
			metrics.ReplicatedDocuments.WithLabelValues("received", "error").Inc()
			log := logger.Component("network")
			log.Error().Err(err).Str("peer", peer).Str("id", doc.ID).Msg("apply pushed document")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		metrics.ReplicatedDocuments.WithLabelValues("received", res.String()).Inc()
		c.JSON(http.StatusOK, gin.H{"result": res.String(), "versions": merged.Versions})
	})
}
