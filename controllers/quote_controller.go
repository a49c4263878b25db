package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"chartstream-backend/services"
)

// QuoteController serves cached quote snapshots and symbol statistics
type QuoteController struct {
	store    *services.QuoteStore
	registry *services.SubscriptionRegistry
	archive  *services.ArchiveService // nil when the archive is disabled
}

// NewQuoteController creates a new quote controller
func NewQuoteController(store *services.QuoteStore, registry *services.SubscriptionRegistry, archive *services.ArchiveService) *QuoteController {
	return &QuoteController{store: store, registry: registry, archive: archive}
}

// GetQuote returns the latest snapshot for a symbol. Falls back to the
// archived snapshot when the symbol has not been polled this run.
// GET /api/v1/quotes/:symbol
func (qc *QuoteController) GetQuote(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	if snap := qc.store.Snapshot(symbol); snap != nil {
		c.JSON(http.StatusOK, gin.H{"data": snap, "source": "live"})
		return
	}

	if qc.archive != nil {
		archived, err := qc.archive.GetSnapshot(symbol)
		if err == nil && archived != nil {
			c.JSON(http.StatusOK, gin.H{"data": archived, "source": "archive"})
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "No quote for symbol " + symbol})
}

// GetStatistics summarizes the retained price history for a symbol
// GET /api/v1/quotes/:symbol/statistics
func (qc *QuoteController) GetStatistics(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))

	stats, ok := qc.store.Statistics(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No history for symbol " + symbol})
		return
	}

	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "data": stats})
}

// GetHistory returns the retained price points for a symbol, oldest first
// GET /api/v1/quotes/:symbol/history
func (qc *QuoteController) GetHistory(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit < 1 || limit > services.HistoryCapacity {
		limit = services.HistoryCapacity
	}

	points := qc.store.History(symbol, limit)
	if len(points) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No history for symbol " + symbol})
		return
	}

	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "data": points})
}

// GetSymbols lists the symbols currently streamed and their subscriber counts
// GET /api/v1/symbols
func (qc *QuoteController) GetSymbols(c *gin.Context) {
	symbols := qc.registry.ActiveSymbols()

	data := make([]gin.H, 0, len(symbols))
	for _, symbol := range symbols {
		data = append(data, gin.H{
			"symbol":      symbol,
			"subscribers": qc.registry.SubscriberCount(symbol),
		})
	}

	c.JSON(http.StatusOK, gin.H{"count": len(data), "data": data})
}

// GetArchivedQuotes lists archived snapshots, most recent first
// GET /api/v1/quotes
func (qc *QuoteController) GetArchivedQuotes(c *gin.Context) {
	if qc.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Quote archive is not available"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	quotes, err := qc.archive.LatestQuotes(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read archive"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(quotes), "data": quotes})
}
