package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/IntegrityLedger/internal/federation"
	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

// FederationRunner is the subset of federation.Verifier used by the handler.
type FederationRunner interface {
	Run(ctx context.Context, opts federation.RunOptions) (*federation.Report, error)
	LastReport() *federation.Report
}

// FederationHandler exposes federation verification endpoints.
type FederationHandler struct {
	runner FederationRunner
	logger *zap.Logger
}

// NewFederationHandler creates a new FederationHandler.
func NewFederationHandler(runner FederationRunner, logger *zap.Logger) *FederationHandler {
	return &FederationHandler{runner: runner, logger: logger}
}

// Register mounts the federation routes on the given router group.
func (h *FederationHandler) Register(rg *gin.RouterGroup) {
	f := rg.Group("/federation")
	{
		f.POST("/verify", h.Verify)
		f.GET("/report", h.Report)
	}
}

// Verify handles POST /federation/verify?dry_run=true&partner=id. It runs
// one cycle synchronously.
func (h *FederationHandler) Verify(c *gin.Context) {
	opts := federation.RunOptions{PartnerID: c.Query("partner")}
	if s := c.Query("dry_run"); s != "" {
		dry, err := strconv.ParseBool(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dry_run must be a boolean"})
			return
		}
		opts.DryRun = dry
	}

	rep, err := h.runner.Run(c.Request.Context(), opts)
	if err != nil {
		if errors.Is(err, federation.ErrUnknownPartner) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		writeError(c, h.logger, "federation verify", err)
		return
	}
	if !opts.DryRun {
		RecordLedgerAppend(string(trustledger.TypeFederationVerification))
	}
	c.JSON(http.StatusOK, gin.H{
		"requires_review": rep.RequiresReview(),
		"report":          rep,
	})
}

// Report handles GET /federation/report.
func (h *FederationHandler) Report(c *gin.Context) {
	rep := h.runner.LastReport()
	if rep == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no verification cycle has run"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requires_review": rep.RequiresReview(),
		"report":          rep,
	})
}
