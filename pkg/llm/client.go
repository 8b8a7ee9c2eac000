// Package llm provides a generation client over a ranked list of chat models.
//
// Every call walks the candidate models starting from the last one that
// worked, retrying transient failures on the same model with exponential
// backoff before moving to the next. Calls are serialized through a
// single-flight queue so concurrent requests never stampede the same
// rate-limited provider.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"news-rag-go/internal/config"
	"news-rag-go/internal/model"
	"news-rag-go/pkg/log"
)

// ErrAllModelsExhausted is returned when every candidate model has failed
// every allowed attempt. It is the only generation-side condition callers see.
var ErrAllModelsExhausted = errors.New("all models exhausted")

// ChunkWriter receives streamed answer fragments in order. Implementations
// that become unusable mid-stream should keep returning errors; the client
// stops writing but still lets the generation attempt finish.
type ChunkWriter interface {
	WriteChunk(text string) error
}

// ChunkWriterFunc adapts a function to the ChunkWriter interface.
type ChunkWriterFunc func(text string) error

func (f ChunkWriterFunc) WriteChunk(text string) error { return f(text) }

// Client defines the interface for a generation client.
type Client interface {
	// Generate produces a complete grounded answer.
	Generate(ctx context.Context, query string, passages []model.SearchResult) (string, error)
	// GenerateStream emits fragments to sink as they arrive and returns the
	// full concatenated answer for persistence.
	GenerateStream(ctx context.Context, query string, passages []model.SearchResult, sink ChunkWriter) (string, error)
}

type failoverClient struct {
	cfg        config.LLMConfig
	client     *http.Client
	models     []string
	maxRetries int
	baseDelay  time.Duration

	// preferred is the index of the last model that succeeded. Advisory:
	// losing an update to a race only changes which model is tried first.
	preferred atomic.Int32

	// queue is a capacity-1 semaphore; a call holds it through its entire
	// retry/failover sequence.
	queue chan struct{}
}

// NewClient creates a generation client from config. The model list must not
// be empty.
func NewClient(cfg config.LLMConfig) Client {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := time.Duration(cfg.BaseDelayMS) * time.Millisecond
	if cfg.BaseDelayMS <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &failoverClient{
		cfg:        cfg,
		client:     &http.Client{},
		models:     cfg.Models,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		queue:      make(chan struct{}, 1),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Generate produces a complete answer over the failover sequence.
func (c *failoverClient) Generate(ctx context.Context, query string, passages []model.SearchResult) (string, error) {
	return c.run(ctx, query, passages, nil)
}

// GenerateStream streams fragments to sink and returns the full answer.
func (c *failoverClient) GenerateStream(ctx context.Context, query string, passages []model.SearchResult, sink ChunkWriter) (string, error) {
	if sink == nil {
		return "", errors.New("nil sink")
	}
	return c.run(ctx, query, passages, sink)
}

// run holds the single-flight queue for the whole retry/failover sequence of
// one call, then walks models from the preferred index with wraparound.
func (c *failoverClient) run(ctx context.Context, query string, passages []model.SearchResult, sink ChunkWriter) (string, error) {
	if len(c.models) == 0 {
		return "", fmt.Errorf("%w: no models configured", ErrAllModelsExhausted)
	}

	select {
	case c.queue <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-c.queue }()

	prompt := c.buildPrompt(query, passages)
	start := int(c.preferred.Load())
	var lastErr error

	for step := 0; step < len(c.models); step++ {
		idx := (start + step) % len(c.models)
		modelName := c.models[idx]

		for attempt := 0; attempt <= c.maxRetries; attempt++ {
			var text string
			var err error
			if sink == nil {
				text, err = c.complete(ctx, modelName, prompt)
			} else {
				text, err = c.stream(ctx, modelName, prompt, sink)
			}
			if err == nil {
				c.preferred.Store(int32(idx))
				log.Infof("[LLMClient] model '%s' succeeded (attempt %d)", modelName, attempt+1)
				return text, nil
			}
			lastErr = err

			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if !isRetryable(err) {
				log.Warnf("[LLMClient] model '%s' failed terminally, moving on: %v", modelName, err)
				break
			}
			log.Warnf("[LLMClient] model '%s' failed retryably (attempt %d/%d): %v",
				modelName, attempt+1, c.maxRetries+1, err)
			if attempt < c.maxRetries {
				if err := c.backoff(ctx, attempt); err != nil {
					return "", err
				}
			}
		}
		// Next model starts fresh, with no carried-over delay.
	}

	return "", fmt.Errorf("%w: last error: %w", ErrAllModelsExhausted, lastErr)
}

// backoff sleeps baseDelay * 2^attempt plus random jitter, honoring ctx.
func (c *failoverClient) backoff(ctx context.Context, attempt int) error {
	delay := c.baseDelay * (1 << attempt)
	delay += time.Duration(rand.Int63n(int64(c.baseDelay)))
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// httpStatusError preserves the response status for retry classification.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("chat api returned status %d: %s", e.status, e.body)
}

// isRetryable classifies failures: rate-limit and overload conditions are
// worth retrying on the same model, anything else moves straight to the next.
func isRetryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		if statusErr.status == http.StatusTooManyRequests || statusErr.status == http.StatusServiceUnavailable {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"overloaded", "rate limit", "quota", "429", "503"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (c *failoverClient) newRequest(ctx context.Context, modelName, prompt string, streaming bool) (*http.Request, error) {
	reqBody := chatRequest{
		Model:    modelName,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   streaming,
	}
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}
	return req, nil
}

// complete performs one non-streaming attempt against a single model.
func (c *failoverClient) complete(ctx context.Context, modelName, prompt string) (string, error) {
	req, err := c.newRequest(ctx, modelName, prompt, false)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", &httpStatusError{status: resp.StatusCode, body: string(bodyBytes)}
	}

	var completion completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("chat api returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// stream performs one streaming attempt. Each delta is written to sink before
// accumulation continues. A sink write failure disables further writes but
// the attempt still runs to completion; a transport failure mid-stream fails
// the whole attempt so the partial output is never treated as success.
func (c *failoverClient) stream(ctx context.Context, modelName, prompt string, sink ChunkWriter) (string, error) {
	req, err := c.newRequest(ctx, modelName, prompt, true)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", &httpStatusError{status: resp.StatusCode, body: string(bodyBytes)}
	}

	var answer strings.Builder
	sinkBroken := false
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", fmt.Errorf("failed to read from stream: %w", err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}

		if !sinkBroken {
			if err := sink.WriteChunk(content); err != nil {
				log.Warnf("[LLMClient] sink rejected chunk, continuing without delivery: %v", err)
				sinkBroken = true
			}
		}
		answer.WriteString(content)
	}

	return answer.String(), nil
}

// buildPrompt frames the assistant as a news-context Q&A bot, enumerates the
// passages and appends the user's question.
func (c *failoverClient) buildPrompt(query string, passages []model.SearchResult) string {
	rules := c.cfg.Prompt.Rules
	if rules == "" {
		rules = "You are a news assistant. Answer the question using the numbered context " +
			"passages below and cite them as [n]. If the context does not cover the " +
			"question, say so instead of guessing."
	}

	var b strings.Builder
	b.WriteString(rules)
	b.WriteString("\n\nContext:\n")
	for i, p := range passages {
		title := p.Metadata.Title
		if title == "" {
			title = p.Metadata.Source
		}
		if title == "" {
			title = "untitled"
		}
		b.WriteString(fmt.Sprintf("[%d] %s\n%s\n\n", i+1, title, p.Text))
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}
