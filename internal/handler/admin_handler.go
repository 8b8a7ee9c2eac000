package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"news-rag-go/internal/service"
	"news-rag-go/pkg/log"
)

func positiveIntQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// AdminHandler exposes the operational surface: feed refresh, index reset
// and corpus inspection. Routes behind it are gated by the admin API key
// middleware.
type AdminHandler struct {
	ingestService service.IngestService
}

func NewAdminHandler(ingestService service.IngestService) *AdminHandler {
	return &AdminHandler{ingestService: ingestService}
}

// Refresh handles POST /api/v1/admin/refresh. Fetching and queueing run
// inline; embedding and indexing happen asynchronously on the consumer.
func (h *AdminHandler) Refresh(c *gin.Context) {
	queued, err := h.ingestService.RefreshAll(c.Request.Context())
	if err != nil {
		log.Errorf("[AdminHandler] refresh failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feed refresh failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"queued": queued},
	})
}

// ClearIndex handles DELETE /api/v1/admin/index.
func (h *AdminHandler) ClearIndex(c *gin.Context) {
	if err := h.ingestService.ClearIndex(c.Request.Context()); err != nil {
		log.Errorf("[AdminHandler] index clear failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "index clear failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// Stats handles GET /api/v1/admin/stats.
func (h *AdminHandler) Stats(c *gin.Context) {
	stats := h.ingestService.Stats(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": stats})
}

// Articles handles GET /api/v1/admin/articles?limit=N&offset=M.
func (h *AdminHandler) Articles(c *gin.Context) {
	limit, err := positiveIntQuery(c, "limit", 50)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	offset, err := positiveIntQuery(c, "offset", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	articles, err := h.ingestService.ListArticles(limit, offset)
	if err != nil {
		log.Errorf("[AdminHandler] article list failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "article list unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"articles": articles, "count": len(articles)},
	})
}
