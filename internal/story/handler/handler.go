package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/peerplot/peerplot/internal/story"
	"github.com/peerplot/peerplot/pkg/logger"
	"github.com/peerplot/peerplot/pkg/middleware"
)

// Service is the part of story.Service the routes depend on.
type Service interface {
	LoadEntries(ctx context.Context) ([]story.Entry, error)
	AppendEntry(ctx context.Context, text, author string) (story.Entry, error)
	ResetLog(ctx context.Context) error
	ArchiveAndReset(ctx context.Context, title string) (story.HistoryItem, error)
	ListArchives(ctx context.Context) ([]story.HistoryItem, error)
	LoadArchiveEntries(ctx context.Context, id string) ([]story.Entry, error)
	Watch(fn func([]story.Entry)) (cancel func())
}

// RegisterStoryRoutes mounts the story API on r. Any middleware passed in
// (typically auth) is applied to every route.
func RegisterStoryRoutes(r gin.IRouter, svc Service, mw ...gin.HandlerFunc) {
	g := r.Group("/api", mw...)

	g.GET("/story", func(c *gin.Context) {
		entries, err := svc.LoadEntries(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	})

	g.POST("/story/entries", func(c *gin.Context) {
		var req struct {
			Text   string `json:"text"`
			Author string `json:"author"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if strings.TrimSpace(req.Author) == "" {
			req.Author = middleware.ClaimString(c, "preferred_username", "name")
		}
		e, err := svc.AppendEntry(c.Request.Context(), req.Text, req.Author)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, e)
	})

	g.POST("/story/reset", func(c *gin.Context) {
		if err := svc.ResetLog(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/story/archive", func(c *gin.Context) {
		var req struct {
			Title string `json:"title"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		item, err := svc.ArchiveAndReset(c.Request.Context(), req.Title)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, item)
	})

	g.GET("/story/twist", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"twist": story.Twist()})
	})

	g.GET("/story/events", func(c *gin.Context) {
		streamEntries(c, svc)
	})

	g.GET("/history", func(c *gin.Context) {
		items, err := svc.ListArchives(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, items)
	})

	g.GET("/history/:id", func(c *gin.Context) {
		id := c.Param("id")
		entries, err := svc.LoadArchiveEntries(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "entries": entries})
	})
}

// streamEntries sends the current entries as a server-sent event, then one
// event per change until the client goes away.
func streamEntries(c *gin.Context, svc Service) {
	ctx := c.Request.Context()
	updates := make(chan []story.Entry, 16)
	cancel := svc.Watch(func(entries []story.Entry) {
		select {
		case updates <- entries:
		default:
			// slow client; it will pick up the next change
		}
	})
	defer cancel()

	entries, err := svc.LoadEntries(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("entries", entries)
	c.Writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case entries := <-updates:
			c.SSEvent("entries", entries)
			c.Writer.Flush()
		}
	}
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, story.ErrValidation), errors.Is(err, story.ErrPrecondition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, story.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		logger.Errorf("story request %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
