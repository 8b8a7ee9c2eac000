// Package service contains the application business logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"news-rag-go/internal/model"
	"news-rag-go/internal/repository"
	"news-rag-go/pkg/llm"
	"news-rag-go/pkg/log"
)

// ErrPipeline marks an unrecoverable query-pipeline failure. Adapters absorb
// transient failures themselves; by the time an error carries this value
// there is no fallback path left.
var ErrPipeline = errors.New("pipeline failure")

// Retriever is the slice of the vector store the pipeline needs.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) []model.SearchResult
}

// StreamEvents receives ordered events during a streaming answer: sources
// once retrieval completes (before any generated text), then raw text chunks.
type StreamEvents interface {
	OnSources(sources []model.SearchResult) error
	OnChunk(text string) error
}

// ChatService is the retrieval-augmented query pipeline.
type ChatService interface {
	// ResolveSession returns a valid session id, reusing the given one when
	// it is still alive and minting a new session otherwise.
	ResolveSession(ctx context.Context, sessionID string) (string, error)
	// Answer runs the batch path: retrieve, generate, assemble.
	Answer(ctx context.Context, req model.QueryRequest) (*model.QueryResponse, error)
	// AnswerStream runs the streaming path into events.
	AnswerStream(ctx context.Context, req model.QueryRequest, events StreamEvents) (*model.QueryResponse, error)
}

type chatService struct {
	retriever   Retriever
	llmClient   llm.Client
	sessionRepo repository.SessionRepository
	topK        int
}

// NewChatService creates the query pipeline. The pipeline owns no persistent
// state; every call performs retrieval and generation fresh so stale news is
// never served from a memo.
func NewChatService(retriever Retriever, llmClient llm.Client, sessionRepo repository.SessionRepository, topK int) ChatService {
	if topK <= 0 {
		topK = 5
	}
	return &chatService{
		retriever:   retriever,
		llmClient:   llmClient,
		sessionRepo: sessionRepo,
		topK:        topK,
	}
}

func (s *chatService) ResolveSession(ctx context.Context, sessionID string) (string, error) {
	if sessionID != "" && s.sessionRepo.ValidateSession(ctx, sessionID) {
		return sessionID, nil
	}
	newID, err := s.sessionRepo.CreateSession(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: could not create session: %w", ErrPipeline, err)
	}
	return newID, nil
}

// Answer retrieves context, generates a grounded answer and assembles the
// response. Retrieval strictly precedes generation.
func (s *chatService) Answer(ctx context.Context, req model.QueryRequest) (*model.QueryResponse, error) {
	sessionID, err := s.ResolveSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	log.Infof("[ChatService] answering query, session: %s", sessionID)
	sources := s.retriever.Search(ctx, req.Message, s.topK)

	answer, err := s.llmClient.Generate(ctx, req.Message, sources)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipeline, err)
	}

	resp := s.assemble(sessionID, answer, sources)
	s.saveTurn(sessionID, req.Message, resp)
	return resp, nil
}

// AnswerStream is the streaming variant. Sources are delivered to events
// before the first generated chunk, since retrieval completes before
// generation starts.
func (s *chatService) AnswerStream(ctx context.Context, req model.QueryRequest, events StreamEvents) (*model.QueryResponse, error) {
	sessionID, err := s.ResolveSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	log.Infof("[ChatService] streaming answer, session: %s", sessionID)
	sources := s.retriever.Search(ctx, req.Message, s.topK)
	if err := events.OnSources(sources); err != nil {
		// An unusable sink does not abort the call; generation still runs so
		// the turn can be persisted.
		log.Warnf("[ChatService] failed to deliver sources event: %v", err)
	}

	answer, err := s.llmClient.GenerateStream(ctx, req.Message, sources, llm.ChunkWriterFunc(events.OnChunk))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipeline, err)
	}

	resp := s.assemble(sessionID, answer, sources)
	s.saveTurn(sessionID, req.Message, resp)
	return resp, nil
}

// assemble mints a fresh message id for the assistant turn and bundles the
// response.
func (s *chatService) assemble(sessionID, answer string, sources []model.SearchResult) *model.QueryResponse {
	return &model.QueryResponse{
		SessionID: sessionID,
		Answer:    answer,
		Sources:   sources,
		MessageID: uuid.NewString(),
	}
}

// saveTurn persists both sides of the exchange. A background context is used
// so a canceled request does not lose an answer that was fully generated;
// failures are logged, not surfaced, because the response already succeeded.
func (s *chatService) saveTurn(sessionID, question string, resp *model.QueryResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	userMsg := model.ChatMessage{
		ID:        uuid.NewString(),
		Role:      model.RoleUser,
		Content:   question,
		Timestamp: now,
	}
	assistantMsg := model.ChatMessage{
		ID:        resp.MessageID,
		Role:      model.RoleAssistant,
		Content:   resp.Answer,
		Timestamp: now,
	}

	if err := s.sessionRepo.AppendMessage(ctx, sessionID, userMsg); err != nil {
		log.Errorf("[ChatService] failed to save user message: %v", err)
		return
	}
	if err := s.sessionRepo.AppendMessage(ctx, sessionID, assistantMsg); err != nil {
		log.Errorf("[ChatService] failed to save assistant message: %v", err)
	}
}
