// Package embedding provides a client for turning text into vectors.
//
// The client calls an OpenAI-compatible embeddings endpoint when a credential
// is configured and falls back to a deterministic local pseudo-embedding on
// any failure, so ingestion and querying keep working (with degraded quality)
// while the provider is down.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"

	"news-rag-go/internal/config"
	"news-rag-go/pkg/log"
)

// Client defines the interface for an embedding client.
type Client interface {
	// Embed returns the vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the configured vector dimension.
	Dimensions() int
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewClient creates a new embedding client.
func NewClient(cfg config.EmbeddingConfig) Client {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1024
	}
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *openAICompatibleClient) Dimensions() int {
	return c.cfg.Dimensions
}

// Embed calls the remote API for a single text, falling back locally on any
// failure. There is no retry loop here: embedding failures degrade quality,
// not correctness.
func (c *openAICompatibleClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch calls the remote API for all texts in one request. If the batch
// call fails (or no API key is configured), every text falls back to the
// deterministic local embedding.
func (c *openAICompatibleClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to embed")
	}

	if c.cfg.APIKey == "" {
		log.Warnf("[EmbeddingClient] no API key configured, using local fallback for %d text(s)", len(texts))
		return c.fallbackBatch(texts), nil
	}

	vectors, err := c.callRemote(ctx, texts)
	if err != nil {
		log.Errorf("[EmbeddingClient] remote embedding failed, switching to local fallback: %v", err)
		return c.fallbackBatch(texts), nil
	}
	return vectors, nil
}

func (c *openAICompatibleClient) callRemote(ctx context.Context, texts []string) ([][]float32, error) {
	log.Infof("[EmbeddingClient] calling embedding API, model: %s, inputs: %d", c.cfg.Model, len(texts))
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      texts,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding api returned non-200 status: %s", resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	if len(embeddingResp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding api returned %d vectors for %d inputs", len(embeddingResp.Data), len(texts))
	}

	vectors := make([][]float32, len(embeddingResp.Data))
	for i, d := range embeddingResp.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("received empty embedding from api at index %d", i)
		}
		vectors[i] = d.Embedding
	}

	log.Infof("[EmbeddingClient] embedding API succeeded, dimension: %d", len(vectors[0]))
	return vectors, nil
}

func (c *openAICompatibleClient) fallbackBatch(texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = fallbackEmbedding(t, c.cfg.Dimensions)
	}
	return vectors
}

// fallbackEmbedding expands a stable hash of the text into a smooth periodic
// vector. Identical text always maps to an identical vector, which keeps
// repeated ingestion idempotent while the provider is unavailable.
func fallbackEmbedding(text string, dimensions int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := float64(h.Sum64() % 100000)

	vector := make([]float32, dimensions)
	for i := range vector {
		vector[i] = float32(math.Sin(seed + float64(i)))
	}
	return vector
}
