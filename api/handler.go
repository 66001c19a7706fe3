package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hellolucient/Open-DCAs/internal/model"
	"github.com/hellolucient/Open-DCAs/internal/poller"
	"github.com/hellolucient/Open-DCAs/internal/store"
)

// PollControl is the slice of the poll controller the API needs.
type PollControl interface {
	RefreshNow()
	SetAutoRefresh(enabled bool)
	AutoRefresh() bool
	State() poller.State
}

type Handler struct {
	snapshots *store.SnapshotStore
	control   PollControl
	tokens    []model.TrackedToken
	logger    *zap.Logger
}

func NewHandler(snapshots *store.SnapshotStore, control PollControl, tokens []model.TrackedToken, logger *zap.Logger) *Handler {
	return &Handler{
		snapshots: snapshots,
		control:   control,
		tokens:    tokens,
		logger:    logger,
	}
}

// NormalizeSymbol unifies user-supplied token symbols with the configured
// ones (e.g. "$logos " -> "LOGOS").
func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.TrimPrefix(s, "$")
	return s
}

func (h *Handler) tracked(symbol string) bool {
	for _, t := range h.tokens {
		if t.Symbol == symbol {
			return true
		}
	}
	return false
}

// Snapshot Handlers

func (h *Handler) GetSnapshot(c *gin.Context) {
	latest := h.snapshots.Latest()
	if latest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot published yet"})
		return
	}
	c.JSON(http.StatusOK, latest)
}

func (h *Handler) GetSummary(c *gin.Context) {
	latest := h.snapshots.Latest()
	if latest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot published yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"timestamp": latest.Timestamp,
		"summary":   latest.Summary,
		"error":     latest.Error,
	})
}

func (h *Handler) GetPositions(c *gin.Context) {
	symbol := NormalizeSymbol(c.Param("symbol"))
	if !h.tracked(symbol) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown token " + symbol})
		return
	}

	latest := h.snapshots.Latest()
	if latest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot published yet"})
		return
	}

	positions := make([]model.Position, 0)
	for _, pos := range latest.Positions {
		if pos.Token == symbol {
			positions = append(positions, pos)
		}
	}
	c.JSON(http.StatusOK, positions)
}

func (h *Handler) GetChart(c *gin.Context) {
	symbol := NormalizeSymbol(c.Param("symbol"))
	if !h.tracked(symbol) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown token " + symbol})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	c.JSON(http.StatusOK, h.snapshots.History(symbol, limit))
}

// Control Handlers

func (h *Handler) Refresh(c *gin.Context) {
	h.control.RefreshNow()
	c.JSON(http.StatusAccepted, gin.H{"status": "refresh scheduled"})
}

func (h *Handler) SetAutoRefresh(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.control.SetAutoRefresh(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"autoRefresh": *req.Enabled})
}

func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":       h.control.State().String(),
		"autoRefresh": h.control.AutoRefresh(),
	})
}
