package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// LedgerHandler exposes read-only HTTP endpoints for the governance ledger.
type LedgerHandler struct {
	ledger trustledger.Ledger
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledger trustledger.Ledger, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/verify", h.Verify)
		l.GET("/entries/:id", h.GetEntry)
	}
}

// Overview handles GET /ledger. It returns the entry count, the current
// Merkle root and one page of entries selected by offset and limit.
func (h *LedgerHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	root, err := h.ledger.Root(ctx)
	if err != nil {
		writeError(c, h.logger, "ledger root", err)
		return
	}

	items := make([]*trustledger.Entry, 0, limit)
	count := 0
	for e, err := range h.ledger.Entries(ctx) {
		if err != nil {
			writeError(c, h.logger, "ledger entries", err)
			return
		}
		if count >= offset && len(items) < limit {
			items = append(items, e)
		}
		count++
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": count,
		"root":    root,
		"offset":  offset,
		"items":   items,
	})
}

// Verify handles GET /ledger/verify. It walks the full chain and returns the
// verification report; an invalid ledger is still a 200 with valid=false.
func (h *LedgerHandler) Verify(c *gin.Context) {
	rep, err := h.ledger.Verify(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "ledger verify", err)
		return
	}
	RecordVerification(rep.Valid)
	if !rep.Valid {
		h.logger.Warn("ledger integrity check failed",
			zap.String("first_divergence", rep.FirstDivergence),
			zap.String("error", rep.Error),
		)
	}
	c.JSON(http.StatusOK, rep)
}

// GetEntry handles GET /ledger/entries/:id.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	entry, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, "ledger get", err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	s := c.Query(key)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
