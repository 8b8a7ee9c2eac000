package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"news-rag-go/internal/repository"
	"news-rag-go/pkg/log"
)

// SessionHandler exposes the session lifecycle endpoints.
type SessionHandler struct {
	sessionRepo repository.SessionRepository
}

func NewSessionHandler(sessionRepo repository.SessionRepository) *SessionHandler {
	return &SessionHandler{sessionRepo: sessionRepo}
}

// Create handles POST /api/v1/sessions.
func (h *SessionHandler) Create(c *gin.Context) {
	sessionID, err := h.sessionRepo.CreateSession(c.Request.Context())
	if err != nil {
		log.Errorf("[SessionHandler] create failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store is unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"sessionId": sessionID},
	})
}

// Messages handles GET /api/v1/sessions/:id/messages. Results are most
// recent first; limit defaults to the retained window.
func (h *SessionHandler) Messages(c *gin.Context) {
	sessionID := c.Param("id")

	if !h.sessionRepo.ValidateSession(c.Request.Context(), sessionID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	messages, err := h.sessionRepo.GetMessages(c.Request.Context(), sessionID, limit)
	if err != nil {
		log.Errorf("[SessionHandler] message fetch failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store is unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"sessionId": sessionID, "messages": messages},
	})
}
