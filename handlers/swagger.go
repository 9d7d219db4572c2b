package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers Swagger/OpenAPI endpoints for the story API.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>peerplot API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// OpenAPI document for the story API.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "peerplot", "version": "v0.1.0" },
  "components": {
    "schemas": {
      "Entry": { "type": "object", "properties": { "id": {"type":"string"}, "text": {"type":"string"}, "author": {"type":"string"}, "timestamp": {"type":"string","format":"date-time"} } },
      "HistoryItem": { "type": "object", "properties": { "id": {"type":"string"}, "title": {"type":"string"}, "archivedAt": {"type":"string","format":"date-time"}, "entryCount": {"type":"integer"} } }
    }
  },
  "paths": {
    "/api/story": {
      "get": { "summary": "Live story entries ordered by timestamp", "responses": { "200": { "description": "entries", "content": { "application/json": { "schema": {"type":"array","items":{"$ref":"#/components/schemas/Entry"}}}}}, "500": { "description": "store failure" } } }
    },
    "/api/story/entries": {
      "post": { "summary": "Append an entry (author defaults to the signed-in user)", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"text":{"type":"string"},"author":{"type":"string"}}}}}}, "responses": { "201": { "description": "entry created" }, "400": { "description": "blank text or author" } } }
    },
    "/api/story/reset": {
      "post": { "summary": "Discard the live story", "responses": { "204": { "description": "reset" } } }
    },
    "/api/story/archive": {
      "post": { "summary": "Archive the live story under a title and reset it", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"title":{"type":"string"}}}}}}, "responses": { "201": { "description": "archive created", "content": { "application/json": { "schema": {"$ref":"#/components/schemas/HistoryItem"}}}}, "400": { "description": "blank title or empty story" } } }
    },
    "/api/story/events": {
      "get": { "summary": "Server-sent events carrying the entries after each change", "responses": { "200": { "description": "text/event-stream" } } }
    },
    "/api/story/twist": {
      "get": { "summary": "Random plot twist prompt", "responses": { "200": { "description": "twist" } } }
    },
    "/api/history": {
      "get": { "summary": "Archived stories, newest first", "responses": { "200": { "description": "history items", "content": { "application/json": { "schema": {"type":"array","items":{"$ref":"#/components/schemas/HistoryItem"}}}}} } }
    },
    "/api/history/{id}": {
      "get": { "summary": "Entries of one archive", "parameters": [ { "name": "id", "in": "path", "required": true, "schema": {"type":"string"} } ], "responses": { "200": { "description": "archive entries" }, "404": { "description": "unknown archive" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics" } } } }
  }
}`
