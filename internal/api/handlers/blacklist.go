package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/albion-tracker/internal/store"
)

type BlacklistHandler struct {
	blacklist store.BlacklistStore
}

func NewBlacklistHandler(blacklist store.BlacklistStore) *BlacklistHandler {
	return &BlacklistHandler{blacklist: blacklist}
}

// GetBlacklist lists items that are no longer fetched
func (h *BlacklistHandler) GetBlacklist(c *gin.Context) {
	entries, err := h.blacklist.List(c.Request.Context())
	if err != nil {
		log.Printf("Failed to list blacklist: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternal})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": entries,
		"count": len(entries),
	})
}
