package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"oliver-os/backend/internal/capture"
	"oliver-os/backend/internal/graph"
	"oliver-os/backend/internal/linking"
	"oliver-os/backend/internal/organizer"
	apperrors "oliver-os/backend/pkg/errors"
)

// registerRoutes wires the HTTP API.
func registerRoutes(router *gin.Engine, store graph.Store, captures *capture.Store, engine *linking.Engine, org *organizer.Organizer, log *zap.Logger) {
	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	// Knowledge graph
	api.POST("/nodes", func(c *gin.Context) {
		var input graph.CreateNodeInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		node, err := store.CreateNode(c.Request.Context(), input)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, node)
	})

	api.GET("/nodes", func(c *gin.Context) {
		nodes, err := store.ListNodes(c.Request.Context(), graph.NodeType(c.Query("type")))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"nodes": nodes, "count": len(nodes)})
	})

	api.GET("/nodes/:id", func(c *gin.Context) {
		node, err := store.GetNode(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, node)
	})

	api.PUT("/nodes/:id", func(c *gin.Context) {
		var patch graph.NodePatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		node, err := store.UpdateNode(c.Request.Context(), c.Param("id"), patch)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, node)
	})

	api.DELETE("/nodes/:id", func(c *gin.Context) {
		deleted, err := store.DeleteNode(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	})

	api.GET("/nodes/:id/related", func(c *gin.Context) {
		depth := queryInt(c, "depth", 1)
		nodes, err := store.GetRelatedNodes(c.Request.Context(), c.Param("id"), depth)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"nodes": nodes, "count": len(nodes)})
	})

	api.GET("/nodes/:id/relationships", func(c *gin.Context) {
		rels, err := store.GetRelationships(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"relationships": rels, "count": len(rels)})
	})

	api.GET("/search", func(c *gin.Context) {
		nodes, err := store.SearchNodes(c.Request.Context(), c.Query("q"), queryInt(c, "limit", 20))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"nodes": nodes, "count": len(nodes)})
	})

	api.GET("/search/semantic", func(c *gin.Context) {
		hits, err := store.SemanticSearch(c.Request.Context(), c.Query("q"), queryInt(c, "k", 10))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": hits, "count": len(hits)})
	})

	api.GET("/graph/stats", func(c *gin.Context) {
		stats, err := store.GetStats(c.Request.Context())
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	// Relationships
	api.POST("/relationships", func(c *gin.Context) {
		var input graph.CreateRelationshipInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rel, err := store.CreateRelationship(c.Request.Context(), input)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, rel)
	})

	api.GET("/relationships/:id", func(c *gin.Context) {
		rel, err := store.GetRelationship(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, rel)
	})

	api.PUT("/relationships/:id", func(c *gin.Context) {
		var patch graph.RelationshipPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rel, err := store.UpdateRelationship(c.Request.Context(), c.Param("id"), patch)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, rel)
	})

	api.DELETE("/relationships/:id", func(c *gin.Context) {
		deleted, err := store.DeleteRelationship(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		if !deleted {
			c.JSON(http.StatusNotFound, gin.H{"error": "relationship not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	})

	// Linking
	api.GET("/nodes/:id/links/suggestions", func(c *gin.Context) {
		suggestions, err := engine.FindRelationships(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"suggestions": suggestions, "count": len(suggestions)})
	})

	api.POST("/nodes/:id/links", func(c *gin.Context) {
		created, err := engine.AutoLinkNode(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"links": created, "count": len(created)})
	})

	api.POST("/nodes/:id/refine", func(c *gin.Context) {
		node, err := org.RefineIdea(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, node)
	})

	// Capture
	api.POST("/capture", func(c *gin.Context) {
		var input capture.CreateInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mem, err := captures.Create(c.Request.Context(), input)
		if err != nil {
			respondError(c, log, err)
			return
		}
		ticket, err := captures.Enqueue(c.Request.Context(), mem.ID)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"memory": mem, "ticket_id": ticket.ID})
	})

	api.GET("/capture/recent", func(c *gin.Context) {
		memories, err := captures.Recent(c.Request.Context(), capture.Status(c.Query("status")), queryInt(c, "limit", 20))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"memories": memories, "count": len(memories)})
	})

	api.GET("/capture/search", func(c *gin.Context) {
		memories, err := captures.Search(c.Request.Context(), c.Query("q"), queryInt(c, "limit", 20))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"memories": memories, "count": len(memories)})
	})

	api.GET("/capture/timeline", func(c *gin.Context) {
		from, err := queryTime(c, "from", time.Time{})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		to, err := queryTime(c, "to", time.Now().UTC())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		memories, err := captures.Timeline(c.Request.Context(), from, to)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"memories": memories, "count": len(memories)})
	})

	api.GET("/capture/stats", func(c *gin.Context) {
		stats, err := captures.Stats(c.Request.Context())
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	api.GET("/capture/:id", func(c *gin.Context) {
		mem, err := captures.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, mem)
	})

	api.POST("/capture/:id/transcript", func(c *gin.Context) {
		var req struct {
			Transcript      string  `json:"transcript" binding:"required"`
			DurationSeconds float64 `json:"duration_seconds"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mem, err := captures.SetTranscript(c.Request.Context(), c.Param("id"), req.Transcript, req.DurationSeconds)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, mem)
	})

	api.PUT("/capture/:id/status", func(c *gin.Context) {
		var req struct {
			Status   capture.Status         `json:"status" binding:"required"`
			Metadata map[string]interface{} `json:"metadata"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mem, err := captures.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status, req.Metadata)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, mem)
	})

	// Synchronous organization, bypassing the queue
	api.POST("/capture/:id/organize", func(c *gin.Context) {
		node, err := org.Process(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, node)
	})
}

// respondError maps typed errors to HTTP status codes.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case apperrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperrors.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case apperrors.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperrors.IsUpstream(err):
		log.Error("Upstream capability failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream service failed"})
	default:
		log.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if raw := c.Query(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func queryTime(c *gin.Context, key string, fallback time.Time) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, raw)
}
