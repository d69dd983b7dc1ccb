package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/IntegrityLedger/internal/eii"
	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

// EIIRecorder is the subset of eii.Aggregator used by the handler.
type EIIRecorder interface {
	Record(ctx context.Context, m eii.Metrics, commit string) (*eii.Recorded, error)
	History(ctx context.Context) (*eii.History, error)
	Trend(ctx context.Context) (eii.TrendResult, bool, error)
}

// EIIHandler exposes Ethical Integrity Index endpoints.
type EIIHandler struct {
	agg    EIIRecorder
	logger *zap.Logger
}

// NewEIIHandler creates a new EIIHandler.
func NewEIIHandler(agg EIIRecorder, logger *zap.Logger) *EIIHandler {
	return &EIIHandler{agg: agg, logger: logger}
}

// Register mounts the EII routes on the given router group.
func (h *EIIHandler) Register(rg *gin.RouterGroup) {
	g := rg.Group("/eii")
	{
		g.POST("/snapshots", h.Record)
		g.GET("/trend", h.Trend)
		g.GET("/history", h.History)
	}
}

type recordSnapshotRequest struct {
	Metrics eii.Metrics `json:"metrics"`
	Commit  string      `json:"commit"`
}

// Record handles POST /eii/snapshots.
func (h *EIIHandler) Record(c *gin.Context) {
	var req recordSnapshotRequest
	if !bindJSON(c, h.logger, &req) {
		return
	}
	rec, err := h.agg.Record(c.Request.Context(), req.Metrics, req.Commit)
	if err != nil {
		writeError(c, h.logger, "eii record", err)
		return
	}
	RecordLedgerAppend(string(trustledger.TypeEIISnapshot))
	if rec.Snapshot.EII != nil {
		eiiCurrent.Set(*rec.Snapshot.EII)
	}
	c.JSON(http.StatusCreated, rec)
}

// Trend handles GET /eii/trend. With no scored snapshot it answers 404.
func (h *EIIHandler) Trend(c *gin.Context) {
	t, ok, err := h.agg.Trend(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "eii trend", err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no eii snapshots recorded"})
		return
	}
	c.JSON(http.StatusOK, t)
}

// History handles GET /eii/history.
func (h *EIIHandler) History(c *gin.Context) {
	hist, err := h.agg.History(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, "eii history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":     hist.Len(),
		"snapshots": hist.Snapshots(),
	})
}
