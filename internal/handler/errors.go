package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

// writeError maps ledger and validation errors onto HTTP responses.
func writeError(c *gin.Context, logger *zap.Logger, op string, err error) {
	var (
		ve  *trustledger.ValidationError
		de  *trustledger.DuplicateEntryError
		ce  *trustledger.CorruptEntryError
		mbe *http.MaxBytesError
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &de):
		c.JSON(http.StatusConflict, gin.H{"error": de.Error()})
	case errors.Is(err, trustledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
	case errors.As(err, &mbe):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
	case errors.As(err, &ce):
		logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger is corrupt; run verification", "line": ce.Line})
	default:
		logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// bindJSON decodes the request body into v, answering 400 on failure.
func bindJSON(c *gin.Context, logger *zap.Logger, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(c, logger, "bind", err)
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}
