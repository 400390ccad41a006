package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/audiorag/audiorag/pkg/jobstore"
)

// abortStoreError maps job-store sentinels to HTTP responses.
func abortStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, jobstore.ErrBackpressure):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "ingestion backlog is full, retry later"})
	case errors.Is(err, jobstore.ErrDuplicateSource):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "source is already being processed"})
	case errors.Is(err, jobstore.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, jobstore.ErrNotCancellable):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "submission is not in a cancellable state"})
	case errors.Is(err, jobstore.ErrInvalidInput):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.Error("Unexpected store error", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
