package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/albion-tracker/internal/services"
)

// errInternal is the only error text clients see for server-side failures
const errInternal = "internal server error"

type IngestHandler struct {
	// ctx outlives requests so triggered runs are not cancelled when the response is sent
	ctx    context.Context
	worker *services.IngestWorker
}

func NewIngestHandler(ctx context.Context, worker *services.IngestWorker) *IngestHandler {
	return &IngestHandler{
		ctx:    ctx,
		worker: worker,
	}
}

// TriggerRun starts one ingestion batch in the background
func (h *IngestHandler) TriggerRun(c *gin.Context) {
	if !h.worker.Trigger(h.ctx) {
		c.JSON(http.StatusConflict, gin.H{"error": services.ErrRunInProgress.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// GetStatus returns the worker state and cursor
func (h *IngestHandler) GetStatus(c *gin.Context) {
	status, err := h.worker.GetStatus(c.Request.Context())
	if err != nil {
		log.Printf("Failed to get ingest status: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternal})
		return
	}
	c.JSON(http.StatusOK, status)
}

// ResetCursor moves the cursor back to the start of the catalog
func (h *IngestHandler) ResetCursor(c *gin.Context) {
	err := h.worker.ResetCursor(c.Request.Context())
	if errors.Is(err, services.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Printf("Failed to reset cursor: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternal})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cursor": 0})
}
