// Package repository provides the data access layer.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"news-rag-go/internal/model"
)

// SessionRepository manages chat sessions and their bounded message history
// in Redis. Sessions and history share a TTL; appending refreshes it.
type SessionRepository interface {
	CreateSession(ctx context.Context) (string, error)
	ValidateSession(ctx context.Context, sessionID string) bool
	AppendMessage(ctx context.Context, sessionID string, message model.ChatMessage) error
	// GetMessages returns up to limit messages, most recent first.
	GetMessages(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error)
}

type redisSessionRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
	maxRetained int
}

// NewSessionRepository creates a Redis-backed SessionRepository.
func NewSessionRepository(redisClient *redis.Client, ttl time.Duration, maxRetained int) SessionRepository {
	if maxRetained <= 0 {
		maxRetained = 20
	}
	return &redisSessionRepository{
		redisClient: redisClient,
		ttl:         ttl,
		maxRetained: maxRetained,
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("session:%s:messages", sessionID)
}

// CreateSession mints a new session id with the configured TTL.
func (r *redisSessionRepository) CreateSession(ctx context.Context) (string, error) {
	sessionID := uuid.NewString()
	if err := r.redisClient.Set(ctx, sessionKey(sessionID), time.Now().Unix(), r.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sessionID, nil
}

// ValidateSession reports whether the session exists and has not expired.
func (r *redisSessionRepository) ValidateSession(ctx context.Context, sessionID string) bool {
	if sessionID == "" {
		return false
	}
	n, err := r.redisClient.Exists(ctx, sessionKey(sessionID)).Result()
	return err == nil && n > 0
}

// AppendMessage adds one message to the session history, trimming to the
// retained count and refreshing the TTL on both keys.
func (r *redisSessionRepository) AppendMessage(ctx context.Context, sessionID string, message model.ChatMessage) error {
	history, err := r.loadHistory(ctx, sessionID)
	if err != nil {
		return err
	}

	history = append(history, message)
	if len(history) > r.maxRetained {
		history = history[len(history)-r.maxRetained:]
	}

	jsonData, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal session history: %w", err)
	}
	if err := r.redisClient.Set(ctx, historyKey(sessionID), jsonData, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session history: %w", err)
	}
	if err := r.redisClient.Expire(ctx, sessionKey(sessionID), r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to refresh session ttl: %w", err)
	}
	return nil
}

// GetMessages returns the most recent messages, newest first.
func (r *redisSessionRepository) GetMessages(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	history, err := r.loadHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}

	// History is stored oldest-first; return newest-first.
	out := make([]model.ChatMessage, 0, limit)
	for i := len(history) - 1; i >= len(history)-limit; i-- {
		out = append(out, history[i])
	}
	return out, nil
}

func (r *redisSessionRepository) loadHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	jsonData, err := r.redisClient.Get(ctx, historyKey(sessionID)).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session history: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session history: %w", err)
	}
	return messages, nil
}
