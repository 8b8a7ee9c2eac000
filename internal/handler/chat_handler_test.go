package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news-rag-go/internal/model"
	"news-rag-go/internal/service"
	"news-rag-go/pkg/token"
)

type fakeChatService struct {
	answer    *model.QueryResponse
	err       error
	lastReq   model.QueryRequest
	resolveTo string // overrides session resolution when set
}

func (f *fakeChatService) ResolveSession(_ context.Context, sessionID string) (string, error) {
	if f.resolveTo != "" {
		return f.resolveTo, nil
	}
	if sessionID != "" {
		return sessionID, nil
	}
	return "session-resolved", nil
}

func (f *fakeChatService) Answer(_ context.Context, req model.QueryRequest) (*model.QueryResponse, error) {
	f.lastReq = req
	return f.answer, f.err
}

func (f *fakeChatService) AnswerStream(_ context.Context, req model.QueryRequest, _ service.StreamEvents) (*model.QueryResponse, error) {
	f.lastReq = req
	return f.answer, f.err
}

func newTestRouter(svc service.ChatService, maxLen int) (*gin.Engine, *ChatHandler) {
	gin.SetMode(gin.TestMode)
	tm := token.NewSessionTokenManager("test-secret", 1)
	h := NewChatHandler(svc, tm, maxLen)
	r := gin.New()
	r.POST("/api/v1/chat", h.Answer)
	r.GET("/api/v1/chat/ws-token", h.WebsocketToken)
	return r, h
}

func TestAnswerReturnsPipelineResponse(t *testing.T) {
	svc := &fakeChatService{answer: &model.QueryResponse{
		SessionID: "s1",
		Answer:    "grounded answer",
		MessageID: "m1",
	}}
	r, _ := newTestRouter(svc, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"message":"what happened today?","sessionId":"s1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "grounded answer")
	assert.Equal(t, "what happened today?", svc.lastReq.Message)
}

func TestAnswerRejectsBlankMessage(t *testing.T) {
	r, _ := newTestRouter(&fakeChatService{}, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"message":"   "}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnswerRejectsOversizedMessage(t *testing.T) {
	r, _ := newTestRouter(&fakeChatService{}, 10)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"message":"`+strings.Repeat("a", 11)+`"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "too long")
}

func TestAnswerHidesPipelineFailureDetails(t *testing.T) {
	svc := &fakeChatService{err: errors.New("model x returned 500: stack trace here")}
	r, _ := newTestRouter(svc, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "stack trace")
	assert.Contains(t, w.Body.String(), genericFailureMessage)
}

func TestWebsocketTokenRoundTrip(t *testing.T) {
	r, h := newTestRouter(&fakeChatService{}, 0)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/ws-token?sessionId=s42", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "s42")

	var body struct {
		Data struct {
			Token     string `json:"token"`
			SessionID string `json:"sessionId"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	claims, err := h.tokenManager.VerifyToken(body.Data.Token)
	require.NoError(t, err)
	assert.Equal(t, "s42", claims.SessionID)
}

func TestWebsocketSessionEventMatchesCompletion(t *testing.T) {
	// The session in the token has expired; resolution mints a fresh one.
	// The session event and the completion event must both carry it.
	svc := &fakeChatService{
		resolveTo: "fresh-session",
		answer: &model.QueryResponse{
			SessionID: "fresh-session",
			Answer:    "a",
			MessageID: "m1",
		},
	}
	gin.SetMode(gin.TestMode)
	tm := token.NewSessionTokenManager("test-secret", 1)
	h := NewChatHandler(svc, tm, 0)
	r := gin.New()
	r.GET("/ws/chat/:token", h.Handle)
	srv := httptest.NewServer(r)
	defer srv.Close()

	signed, err := tm.GenerateToken("stale-session")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/" + signed
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("what happened?")))

	var sessionEventID, completionEventID string
	for {
		var ev map[string]any
		require.NoError(t, conn.ReadJSON(&ev))
		if ev["type"] == "session" {
			sessionEventID, _ = ev["sessionId"].(string)
		}
		if ev["type"] == "completion" {
			completionEventID, _ = ev["sessionId"].(string)
			break
		}
	}

	assert.Equal(t, "fresh-session", sessionEventID)
	assert.Equal(t, sessionEventID, completionEventID)
}
