package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/IntegrityLedger/internal/feedback"
	"github.com/jmerrifield20/IntegrityLedger/internal/trust"
	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

// FeedbackService is the subset of feedback.Service used by the handler.
type FeedbackService interface {
	Submit(ctx context.Context, sub feedback.Submission) (*feedback.Receipt, error)
	Trend(ctx context.Context, period int) (trust.TrendReport, error)
}

// FeedbackHandler exposes feedback intake and trust scoring endpoints.
type FeedbackHandler struct {
	svc    FeedbackService
	scorer *trust.Scorer
	logger *zap.Logger
}

// NewFeedbackHandler creates a new FeedbackHandler.
func NewFeedbackHandler(svc FeedbackService, scorer *trust.Scorer, logger *zap.Logger) *FeedbackHandler {
	return &FeedbackHandler{svc: svc, scorer: scorer, logger: logger}
}

// Register mounts the feedback and trust routes on the given router group.
func (h *FeedbackHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/feedback", h.Submit)
	t := rg.Group("/trust")
	{
		t.GET("/config", h.Config)
		t.GET("/trend", h.Trend)
	}
}

// Submit handles POST /feedback.
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var sub feedback.Submission
	if !bindJSON(c, h.logger, &sub) {
		return
	}
	r, err := h.svc.Submit(c.Request.Context(), sub)
	if err != nil {
		writeError(c, h.logger, "feedback submit", err)
		return
	}
	RecordLedgerAppend(string(trustledger.TypeFeedbackSubmission))
	trustScores.Observe(r.Score.Score)
	c.JSON(http.StatusCreated, r)
}

// Config handles GET /trust/config. It publishes the active weights,
// thresholds and bias-mitigation notes.
func (h *FeedbackHandler) Config(c *gin.Context) {
	c.JSON(http.StatusOK, h.scorer.Document())
}

// Trend handles GET /trust/trend?period=N.
func (h *FeedbackHandler) Trend(c *gin.Context) {
	period, err := queryInt(c, "period", trust.DefaultEMAPeriod)
	if err != nil || period < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "period must be a positive integer"})
		return
	}
	rep, err := h.svc.Trend(c.Request.Context(), period)
	if err != nil {
		writeError(c, h.logger, "trust trend", err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
