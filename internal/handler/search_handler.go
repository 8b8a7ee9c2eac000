package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"news-rag-go/internal/service"
)

// SearchHandler exposes raw retrieval without the generation step, useful
// for inspecting what the index would feed into a prompt.
type SearchHandler struct {
	retriever service.Retriever
	topK      int
}

func NewSearchHandler(retriever service.Retriever, topK int) *SearchHandler {
	if topK <= 0 {
		topK = 5
	}
	return &SearchHandler{retriever: retriever, topK: topK}
}

// Search handles GET /api/v1/search?query=...&topK=N.
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("query")
	if strings.TrimSpace(query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query must not be empty"})
		return
	}

	topK := h.topK
	if raw := c.Query("topK"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "topK must be a positive integer"})
			return
		}
		topK = n
	}

	results := h.retriever.Search(c.Request.Context(), query, topK)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"query": query, "results": results},
	})
}
