package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news-rag-go/internal/config"
	"news-rag-go/internal/model"
)

// modelBehavior scripts how the fake provider treats one model.
type modelBehavior struct {
	status        int    // non-200 means fail with this status
	answer        string // payload for 200 responses
	dropMidStream bool
}

type fakeProvider struct {
	mu        sync.Mutex
	attempts  map[string]int
	behaviors map[string]modelBehavior
}

func newFakeProvider(behaviors map[string]modelBehavior) *fakeProvider {
	return &fakeProvider{attempts: make(map[string]int), behaviors: behaviors}
}

func (f *fakeProvider) attemptCount(model string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[model]
}

func (f *fakeProvider) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.attempts[req.Model]++
		behavior := f.behaviors[req.Model]
		f.mu.Unlock()

		if behavior.status != 0 && behavior.status != http.StatusOK {
			w.WriteHeader(behavior.status)
			// Keep the retryable error-text markers out of terminal
			// responses so the status alone drives classification.
			switch behavior.status {
			case http.StatusTooManyRequests, http.StatusServiceUnavailable:
				fmt.Fprint(w, `{"error":{"message":"model overloaded"}}`)
			default:
				fmt.Fprint(w, `{"error":{"message":"invalid request"}}`)
			}
			return
		}

		if !req.Stream {
			resp := map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": behavior.answer}},
				},
			}
			_ = json.NewEncoder(w).Encode(resp)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i, r := range behavior.answer {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n", string(r))
			flusher.Flush()
			if behavior.dropMidStream && i == 1 {
				conn, _, err := w.(http.Hijacker).Hijack()
				if err == nil {
					_ = conn.Close()
				}
				return
			}
		}
		fmt.Fprint(w, "data: [DONE]\n")
	})
}

func newTestClient(t *testing.T, f *fakeProvider, models []string, maxRetries int) Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(config.LLMConfig{
		APIKey:      "test-key",
		BaseURL:     srv.URL,
		Models:      models,
		MaxRetries:  maxRetries,
		BaseDelayMS: 1,
	})
}

func TestGenerateFallsOverAndRemembersWorkingModel(t *testing.T) {
	f := newFakeProvider(map[string]modelBehavior{
		"model-1": {status: http.StatusTooManyRequests},
		"model-2": {answer: "answer from model two"},
		"model-3": {answer: "answer from model three"},
	})
	client := newTestClient(t, f, []string{"model-1", "model-2", "model-3"}, 1)

	answer, err := client.Generate(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "answer from model two", answer)
	assert.Equal(t, 2, f.attemptCount("model-1"), "maxRetries+1 attempts on the failing model")

	// Subsequent calls must try the last-known-good model first.
	_, err = client.Generate(context.Background(), "q2", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, f.attemptCount("model-1"), "model-1 must not be tried again")
	assert.Equal(t, 2, f.attemptCount("model-2"))
}

func TestGenerateRetryCeilingAndExhaustion(t *testing.T) {
	f := newFakeProvider(map[string]modelBehavior{
		"model-1": {status: http.StatusServiceUnavailable},
		"model-2": {status: http.StatusTooManyRequests},
	})
	client := newTestClient(t, f, []string{"model-1", "model-2"}, 2)

	_, err := client.Generate(context.Background(), "q", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllModelsExhausted))
	assert.Equal(t, 3, f.attemptCount("model-1"))
	assert.Equal(t, 3, f.attemptCount("model-2"))
}

func TestGenerateTerminalErrorSkipsRetries(t *testing.T) {
	f := newFakeProvider(map[string]modelBehavior{
		"model-1": {status: http.StatusBadRequest},
		"model-2": {answer: "ok"},
	})
	client := newTestClient(t, f, []string{"model-1", "model-2"}, 3)

	answer, err := client.Generate(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, 1, f.attemptCount("model-1"), "terminal errors move on immediately")
}

func TestGenerateStreamDeliversChunksInOrder(t *testing.T) {
	f := newFakeProvider(map[string]modelBehavior{
		"model-1": {answer: "hello"},
	})
	client := newTestClient(t, f, []string{"model-1"}, 0)

	var chunks []string
	answer, err := client.GenerateStream(context.Background(), "q", nil, ChunkWriterFunc(func(text string) error {
		chunks = append(chunks, text)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "hello", answer)
	assert.Equal(t, []string{"h", "e", "l", "l", "o"}, chunks)
}

func TestGenerateStreamMidFlightFailureFailsOver(t *testing.T) {
	f := newFakeProvider(map[string]modelBehavior{
		"model-1": {answer: "broken", dropMidStream: true},
		"model-2": {answer: "ok"},
	})
	client := newTestClient(t, f, []string{"model-1", "model-2"}, 0)

	answer, err := client.GenerateStream(context.Background(), "q", nil, ChunkWriterFunc(func(string) error {
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "ok", answer, "a partially streamed attempt must not count as success")
}

func TestGenerateStreamSinkFailureDoesNotAbort(t *testing.T) {
	f := newFakeProvider(map[string]modelBehavior{
		"model-1": {answer: "abc"},
	})
	client := newTestClient(t, f, []string{"model-1"}, 0)

	writes := 0
	answer, err := client.GenerateStream(context.Background(), "q", nil, ChunkWriterFunc(func(string) error {
		writes++
		return errors.New("client went away")
	}))
	require.NoError(t, err)
	assert.Equal(t, "abc", answer, "full text is still accumulated for persistence")
	assert.Equal(t, 1, writes, "writes stop after the first sink failure")
}

func TestGenerateCallsAreSerialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		if cur > maxInFlight.Load() {
			maxInFlight.Store(cur)
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		resp := map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(config.LLMConfig{
		BaseURL:     srv.URL,
		Models:      []string{"model-1"},
		BaseDelayMS: 1,
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Generate(context.Background(), "q", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load(), "one in-flight generation at a time")
}

func TestBuildPromptEnumeratesPassages(t *testing.T) {
	c := &failoverClient{cfg: config.LLMConfig{}}
	prompt := c.buildPrompt("what happened?", []model.SearchResult{
		{Text: "first passage", Metadata: model.ChunkMetadata{Title: "Election Results"}},
		{Text: "second passage", Metadata: model.ChunkMetadata{Source: "Example Wire"}},
	})

	assert.Contains(t, prompt, "[1] Election Results\nfirst passage")
	assert.Contains(t, prompt, "[2] Example Wire\nsecond passage")
	assert.Contains(t, prompt, "Question: what happened?")
}
