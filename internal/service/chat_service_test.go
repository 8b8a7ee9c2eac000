package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news-rag-go/internal/model"
	"news-rag-go/pkg/llm"
)

type fakeRetriever struct {
	results []model.SearchResult
	queries []string
}

func (f *fakeRetriever) Search(_ context.Context, query string, _ int) []model.SearchResult {
	f.queries = append(f.queries, query)
	return f.results
}

type fakeLLM struct {
	answer string
	err    error
	seen   []model.SearchResult
}

func (f *fakeLLM) Generate(_ context.Context, _ string, passages []model.SearchResult) (string, error) {
	f.seen = passages
	return f.answer, f.err
}

func (f *fakeLLM) GenerateStream(ctx context.Context, query string, passages []model.SearchResult, sink llm.ChunkWriter) (string, error) {
	f.seen = passages
	if f.err != nil {
		return "", f.err
	}
	for _, r := range f.answer {
		if err := sink.WriteChunk(string(r)); err != nil {
			break
		}
	}
	return f.answer, nil
}

type fakeSessions struct {
	created  int
	valid    map[string]bool
	messages map[string][]model.ChatMessage
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{valid: map[string]bool{}, messages: map[string][]model.ChatMessage{}}
}

func (f *fakeSessions) CreateSession(context.Context) (string, error) {
	f.created++
	id := "session-new"
	f.valid[id] = true
	return id, nil
}

func (f *fakeSessions) ValidateSession(_ context.Context, id string) bool { return f.valid[id] }

func (f *fakeSessions) AppendMessage(_ context.Context, id string, m model.ChatMessage) error {
	f.messages[id] = append(f.messages[id], m)
	return nil
}

func (f *fakeSessions) GetMessages(_ context.Context, id string, _ int) ([]model.ChatMessage, error) {
	return f.messages[id], nil
}

type recordingEvents struct {
	sources      []model.SearchResult
	chunks       []string
	sourcesFirst bool
}

func (r *recordingEvents) OnSources(sources []model.SearchResult) error {
	r.sources = sources
	r.sourcesFirst = len(r.chunks) == 0
	return nil
}

func (r *recordingEvents) OnChunk(text string) error {
	r.chunks = append(r.chunks, text)
	return nil
}

func electionSources() []model.SearchResult {
	return []model.SearchResult{{
		ArticleID: "a1",
		Text:      "The incumbent conceded late on Tuesday.",
		Score:     0.91,
		Metadata:  model.ChunkMetadata{Title: "Election Results"},
	}}
}

func TestAnswerReturnsSourcesAndText(t *testing.T) {
	retriever := &fakeRetriever{results: electionSources()}
	generator := &fakeLLM{answer: "The incumbent conceded [1]."}
	sessions := newFakeSessions()
	svc := NewChatService(retriever, generator, sessions, 5)

	resp, err := svc.Answer(context.Background(), model.QueryRequest{Message: "what happened in the election"})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.Answer)
	assert.NotEmpty(t, resp.MessageID)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "Election Results", resp.Sources[0].Metadata.Title)
	assert.Greater(t, resp.Sources[0].Score, 0.0)
	assert.Equal(t, []string{"what happened in the election"}, retriever.queries)
}

func TestAnswerPersistsBothTurns(t *testing.T) {
	sessions := newFakeSessions()
	svc := NewChatService(&fakeRetriever{results: electionSources()}, &fakeLLM{answer: "ok"}, sessions, 5)

	resp, err := svc.Answer(context.Background(), model.QueryRequest{Message: "q"})
	require.NoError(t, err)

	saved := sessions.messages[resp.SessionID]
	require.Len(t, saved, 2)
	assert.Equal(t, model.RoleUser, saved[0].Role)
	assert.Equal(t, model.RoleAssistant, saved[1].Role)
	assert.Equal(t, resp.MessageID, saved[1].ID)
	assert.WithinDuration(t, time.Now(), saved[1].Timestamp, time.Minute)
}

func TestAnswerReusesValidSession(t *testing.T) {
	sessions := newFakeSessions()
	sessions.valid["existing"] = true
	svc := NewChatService(&fakeRetriever{results: electionSources()}, &fakeLLM{answer: "ok"}, sessions, 5)

	resp, err := svc.Answer(context.Background(), model.QueryRequest{Message: "q", SessionID: "existing"})
	require.NoError(t, err)
	assert.Equal(t, "existing", resp.SessionID)
	assert.Zero(t, sessions.created)
}

func TestAnswerWrapsGenerationFailure(t *testing.T) {
	generator := &fakeLLM{err: llm.ErrAllModelsExhausted}
	svc := NewChatService(&fakeRetriever{results: electionSources()}, generator, newFakeSessions(), 5)

	_, err := svc.Answer(context.Background(), model.QueryRequest{Message: "q"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPipeline))
	assert.True(t, errors.Is(err, llm.ErrAllModelsExhausted))
}

func TestAnswerStreamSourcesPrecedeChunks(t *testing.T) {
	retriever := &fakeRetriever{results: electionSources()}
	generator := &fakeLLM{answer: "done"}
	svc := NewChatService(retriever, generator, newFakeSessions(), 5)

	events := &recordingEvents{}
	resp, err := svc.AnswerStream(context.Background(), model.QueryRequest{Message: "q"}, events)
	require.NoError(t, err)

	assert.True(t, events.sourcesFirst, "sources must be delivered before any generated text")
	assert.Equal(t, retriever.results, events.sources)
	assert.Equal(t, retriever.results, generator.seen, "generation must see exactly the retrieved passages")
	assert.Equal(t, "done", resp.Answer)
	assert.Equal(t, []string{"d", "o", "n", "e"}, events.chunks)
}
