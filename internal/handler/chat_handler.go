// Package handler contains the HTTP and websocket controllers.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"news-rag-go/internal/model"
	"news-rag-go/internal/service"
	"news-rag-go/pkg/log"
	"news-rag-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// genericFailureMessage is what callers see for any pipeline failure;
// internal details stay in the logs.
const genericFailureMessage = "the assistant is temporarily unavailable, please try again later"

// ChatHandler serves the batch chat endpoint and the websocket stream.
//
// Websocket event order per turn: session -> user echo -> sources -> chunk*
// -> completion. Sources are emitted immediately after retrieval, before the
// first chunk.
type ChatHandler struct {
	chatService   service.ChatService
	tokenManager  *token.SessionTokenManager
	maxMessageLen int
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(chatService service.ChatService, tokenManager *token.SessionTokenManager, maxMessageLen int) *ChatHandler {
	if maxMessageLen <= 0 {
		maxMessageLen = 4000
	}
	return &ChatHandler{
		chatService:   chatService,
		tokenManager:  tokenManager,
		maxMessageLen: maxMessageLen,
	}
}

// validateMessage enforces the transport-level request invariants.
func (h *ChatHandler) validateMessage(message string) string {
	if strings.TrimSpace(message) == "" {
		return "message must not be empty"
	}
	if len(message) > h.maxMessageLen {
		return "message is too long"
	}
	return ""
}

// Answer handles POST /api/v1/chat, the batch path.
func (h *ChatHandler) Answer(c *gin.Context) {
	var req model.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if msg := h.validateMessage(req.Message); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	resp, err := h.chatService.Answer(c.Request.Context(), req)
	if err != nil {
		log.Errorf("[ChatHandler] answer failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": genericFailureMessage})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": resp})
}

// WebsocketToken handles GET /api/v1/chat/ws-token. It resolves (or mints)
// a session and returns a signed token that opens the websocket.
func (h *ChatHandler) WebsocketToken(c *gin.Context) {
	sessionID, err := h.chatService.ResolveSession(c.Request.Context(), c.Query("sessionId"))
	if err != nil {
		log.Errorf("[ChatHandler] session resolution failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": genericFailureMessage})
		return
	}

	signed, err := h.tokenManager.GenerateToken(sessionID)
	if err != nil {
		log.Errorf("[ChatHandler] token generation failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": genericFailureMessage})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"token": signed, "sessionId": sessionID},
	})
}

// wsQuery is the inbound websocket message shape. Plain text frames are
// accepted as a bare message for convenience.
type wsQuery struct {
	Message string `json:"message"`
}

// wsEvents bridges the pipeline's stream events onto a websocket
// connection. Once a write fails the connection is considered gone and
// further events become no-ops.
type wsEvents struct {
	conn   *websocket.Conn
	broken bool
}

func (w *wsEvents) send(payload interface{}) error {
	if w.broken {
		return errors.New("websocket connection is gone")
	}
	if err := w.conn.WriteJSON(payload); err != nil {
		w.broken = true
		return err
	}
	return nil
}

func (w *wsEvents) OnSources(sources []model.SearchResult) error {
	return w.send(gin.H{"type": "sources", "sources": sources})
}

func (w *wsEvents) OnChunk(text string) error {
	return w.send(gin.H{"type": "chunk", "content": text})
}

// Handle serves GET /ws/chat/:token. Each inbound frame is one query; the
// connection stays open across turns until the client goes away.
func (h *ChatHandler) Handle(c *gin.Context) {
	claims, err := h.tokenManager.VerifyToken(c.Param("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	sessionID := claims.SessionID

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("websocket upgrade failed", err)
		return
	}
	defer conn.Close()

	log.Infof("websocket connected, session: %s", sessionID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("websocket read failed: %v", err)
			break
		}

		query := string(message)
		if len(message) > 0 && message[0] == '{' {
			var q wsQuery
			if err := json.Unmarshal(message, &q); err == nil && q.Message != "" {
				query = q.Message
			}
		}

		events := &wsEvents{conn: conn}
		if msg := h.validateMessage(query); msg != "" {
			_ = events.send(gin.H{"type": "error", "message": msg})
			continue
		}

		// Resolve before announcing the session so the session event and
		// the completion event carry the same id even when the stored
		// session expired mid-connection and a fresh one is minted.
		resolved, err := h.chatService.ResolveSession(c.Request.Context(), sessionID)
		if err != nil {
			log.Errorf("session resolution failed: %v", err)
			_ = events.send(gin.H{"type": "error", "message": genericFailureMessage})
			break
		}
		sessionID = resolved

		_ = events.send(gin.H{"type": "session", "sessionId": sessionID})
		_ = events.send(gin.H{"type": "user", "content": query})

		resp, err := h.chatService.AnswerStream(c.Request.Context(),
			model.QueryRequest{Message: query, SessionID: sessionID}, events)
		if err != nil {
			log.Errorf("streaming answer failed: %v", err)
			// Flushed chunks are not retracted; the client gets an explicit
			// error event and the stream closes.
			_ = events.send(gin.H{"type": "error", "message": genericFailureMessage})
			break
		}

		if err := events.send(gin.H{
			"type":      "completion",
			"status":    "finished",
			"messageId": resp.MessageID,
			"sessionId": resp.SessionID,
		}); err != nil {
			break
		}
	}
}
