package handlers

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/albion-tracker/internal/services"
	"github.com/codyseavey/albion-tracker/internal/store"
)

type PriceHandler struct {
	prices store.PriceStore
	profit *services.ProfitService
}

func NewPriceHandler(prices store.PriceStore, profit *services.ProfitService) *PriceHandler {
	return &PriceHandler{
		prices: prices,
		profit: profit,
	}
}

// GetProfit returns the most profitable items to flip
func (h *PriceHandler) GetProfit(c *gin.Context) {
	limit := services.MaxProfitResults
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	summaries, err := h.profit.TopProfits(c.Request.Context(), limit)
	if err != nil {
		log.Printf("Failed to compute profit report: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternal})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items": summaries,
		"count": len(summaries),
	})
}

// GetItemPrices returns the stored price in every city for one item
func (h *PriceHandler) GetItemPrices(c *gin.Context) {
	item := strings.TrimSpace(c.Param("item"))
	if item == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item is required"})
		return
	}

	prices, err := h.prices.ListByItem(c.Request.Context(), item)
	if err != nil {
		log.Printf("Failed to list prices for %s: %v", item, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternal})
		return
	}
	if len(prices) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no prices stored for item"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"item":   item,
		"prices": prices,
	})
}
