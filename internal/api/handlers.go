// Package api wires the Gin HTTP router onto a dispatch.Engine. It is
// intentionally thin: every handler does request parsing/response shaping
// and otherwise just calls through to the Engine, which is what actually
// knows whether this node is single, leader, or leaderless.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"kvstore/internal/clock"
	"kvstore/internal/cluster"
	"kvstore/internal/dispatch"
	"kvstore/internal/index"
	"kvstore/internal/kverrors"
	"kvstore/internal/store"
)

// Handler holds all dependencies injected from main.
type Handler struct {
	Engine     dispatch.Engine
	Membership *cluster.Membership
	Indexer    *index.Indexer
	SelfID     string
}

func NewHandler(e dispatch.Engine, m *cluster.Membership, ix *index.Indexer, selfID string) *Handler {
	return &Handler{Engine: e, Membership: m, Indexer: ix, SelfID: selfID}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	// Public KV API — used by clients.
	kv := r.Group("/kv")
	kv.GET("/:key", h.Get)
	kv.PUT("/:key", h.Put)
	kv.DELETE("/:key", h.Delete)
	r.POST("/bulk_set", h.BulkSet)

	// Search, backed by the optional indexes (C6).
	search := r.Group("/search")
	search.GET("/fulltext", h.SearchFullText)
	search.GET("/embedding", h.SearchEmbedding)

	// Cluster management.
	clusterGroup := r.Group("/cluster")
	clusterGroup.POST("/join", h.Join)
	clusterGroup.POST("/leave", h.Leave)
	clusterGroup.GET("/nodes", h.ListNodes)
	clusterGroup.POST("/vote", h.Vote)
	clusterGroup.POST("/heartbeat", h.Heartbeat)

	// Internal endpoints used only by peer nodes.
	internal := r.Group("/internal")
	internal.POST("/apply", h.ReplicateApply)

	r.POST("/replicate_set", h.ReplicateSet)
	r.GET("/replicate_get", h.ReplicateGet)
	r.POST("/gossip", h.Gossip)
	r.GET("/ping", h.Ping)

	r.GET("/health", h.Health)
}

// ─── Public KV handlers ─────────────────────────────────────────────────────

type putBody struct {
	Value           string `json:"value" binding:"required"`
	SimulateFailure bool   `json:"simulate_failure"`
}

// Put handles PUT /kv/:key
func (h *Handler) Put(c *gin.Context) {
	key := c.Param("key")

	var body putBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Engine.Set(key, body.Value, body.SimulateFailure); err != nil {
		writeEngineError(c, err)
		return
	}
	if h.Indexer != nil {
		if err := h.Indexer.Index(key, body.Value); err != nil {
			writeEngineError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": body.Value})
}

// Get handles GET /kv/:key
func (h *Handler) Get(c *gin.Context) {
	key := c.Param("key")

	val, err := h.Engine.Get(key)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": val})
}

// Delete handles DELETE /kv/:key
func (h *Handler) Delete(c *gin.Context) {
	key := c.Param("key")

	var body struct {
		SimulateFailure bool `json:"simulate_failure"`
	}
	_ = c.ShouldBindJSON(&body) // body is optional on DELETE

	deleted, err := h.Engine.Delete(key, body.SimulateFailure)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if deleted && h.Indexer != nil {
		if err := h.Indexer.Remove(key); err != nil {
			writeEngineError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "deleted": deleted})
}

// BulkSet handles POST /bulk_set
// Body: {"items": [{"key": "...", "value": "..."}], "simulate_failure": bool}
func (h *Handler) BulkSet(c *gin.Context) {
	var body struct {
		Items           []store.Item `json:"items" binding:"required"`
		SimulateFailure bool         `json:"simulate_failure"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	count, err := h.Engine.BulkSet(body.Items, body.SimulateFailure)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if h.Indexer != nil {
		if err := h.Indexer.IndexBulk(body.Items); err != nil {
			writeEngineError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// ─── Search handlers (C6) ───────────────────────────────────────────────────

// SearchFullText handles GET /search/fulltext?q=...
func (h *Handler) SearchFullText(c *gin.Context) {
	if h.Indexer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "indexing is not enabled on this node"})
		return
	}
	keys := h.Indexer.FullText.Search(c.Query("q"))
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// SearchEmbedding handles GET /search/embedding?q=...&top_k=10
func (h *Handler) SearchEmbedding(c *gin.Context) {
	if h.Indexer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "indexing is not enabled on this node"})
		return
	}
	topK := 10
	if raw := c.Query("top_k"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			topK = parsed
		}
	}
	matches := h.Indexer.Embedding.Search(c.Query("q"), topK)
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

// ─── Cluster management handlers ───────────────────────────────────────────

// Join handles POST /cluster/join
// Body: {"id": "<nodeID>", "address": "<host:port>"}
func (h *Handler) Join(c *gin.Context) {
	var node cluster.Node
	if err := c.ShouldBindJSON(&node); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Membership.Join(node); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"joined": node.ID})
}

// Leave handles POST /cluster/leave
// Body: {"id": "<nodeID>"}
func (h *Handler) Leave(c *gin.Context) {
	var body struct {
		ID string `json:"id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Membership.Leave(body.ID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"left": body.ID})
}

// ListNodes handles GET /cluster/nodes
func (h *Handler) ListNodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"nodes": h.Membership.All()})
}

// Vote handles POST /cluster/vote (leader mode election RPC, §4.4).
func (h *Handler) Vote(c *gin.Context) {
	var req dispatch.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.Engine.Vote(req)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Heartbeat handles POST /cluster/heartbeat (leader mode, §4.4).
func (h *Handler) Heartbeat(c *gin.Context) {
	var req dispatch.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.Engine.Heartbeat(req)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ─── Internal (peer-to-peer) handlers ──────────────────────────────────────

// ReplicateApply handles POST /internal/apply — a leader pushing a
// committed write to a follower (§4.4).
func (h *Handler) ReplicateApply(c *gin.Context) {
	var entry dispatch.ApplyEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Engine.ReplicateApply(entry); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type replicateSetBody struct {
	Key   string            `json:"key"`
	Value string            `json:"value"`
	Clock map[string]uint64 `json:"clock"`
}

// ReplicateSet handles POST /replicate_set — a leaderless peer pushing a
// write this node is also a replica for (§4.5).
func (h *Handler) ReplicateSet(c *gin.Context) {
	var body replicateSetBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Engine.ReplicateSet(body.Key, body.Value, clock.FromDict(body.Clock)); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ReplicateGet handles GET /replicate_get?key=... (§4.5).
func (h *Handler) ReplicateGet(c *gin.Context) {
	key := c.Query("key")
	value, vc, found := h.Engine.ReplicateGet(key)
	c.JSON(http.StatusOK, gin.H{"value": value, "clock": vc.ToDict(), "found": found})
}

// Gossip handles POST /gossip — clock-only anti-entropy exchange (§4.5).
func (h *Handler) Gossip(c *gin.Context) {
	var req dispatch.GossipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Engine.Gossip(req); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Ping handles GET /ping — the liveness check used by leader-mode failover.
func (h *Handler) Ping(c *gin.Context) {
	if err := h.Engine.Ping(); err != nil {
		writeEngineError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"node":  h.SelfID,
		"nodes": h.Membership.Count(),
	})
}

// ─── Error mapping ──────────────────────────────────────────────────────────

func writeEngineError(c *gin.Context, err error) {
	var redirect *kverrors.Redirect
	if errors.As(err, &redirect) {
		c.Header("Location", "http://"+redirect.Leader+c.Request.URL.Path)
		c.JSON(http.StatusTemporaryRedirect, gin.H{"error": "not the leader", "leader": redirect.Leader})
		return
	}

	switch {
	case errors.Is(err, kverrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, kverrors.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, kverrors.ErrNoPrimary):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, kverrors.ErrQuorumUnmet):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, kverrors.ErrPeerUnreachable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
