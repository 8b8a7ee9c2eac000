// Package vectorstore implements the vector index over Elasticsearch.
//
// The store owns the lifecycle of the underlying index handle. It is lazily
// initialized and moves through three states: uninitialized, ready and
// unavailable. Any operational failure while ready demotes the handle to
// unavailable; the next Initialize or Search attempts one reconnect. Write
// operations propagate errors (ingestion must know a write failed), read
// operations degrade: Search falls back to a single synthetic result and
// Count falls back to zero, so the chat path never crashes on index outages.
package vectorstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"news-rag-go/internal/config"
	"news-rag-go/internal/model"
	"news-rag-go/pkg/embedding"
	"news-rag-go/pkg/log"
)

type state int

const (
	stateUninitialized state = iota
	stateReady
	stateUnavailable
)

// ErrUnavailable is returned by write operations while the index cannot be
// reached.
var ErrUnavailable = errors.New("vector index unavailable")

// Store is the Elasticsearch-backed vector index adapter.
type Store struct {
	cfg      config.ElasticsearchConfig
	embedder embedding.Client

	mu     sync.Mutex
	state  state
	client *elasticsearch.Client
}

// New creates a Store. No connection is made until Initialize or the first
// operation.
func New(cfg config.ElasticsearchConfig, embedder embedding.Client) *Store {
	return &Store{cfg: cfg, embedder: embedder}
}

// Initialize connects to Elasticsearch and ensures the index exists. It is
// idempotent: repeated calls reuse a live handle. A connect failure leaves
// the store unavailable and returns the error; the hosting process may start
// regardless and the store will retry on the next search.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

// connectLocked transitions to ready, or to unavailable on failure.
// Callers must hold s.mu.
func (s *Store) connectLocked(ctx context.Context) error {
	if s.state == stateReady {
		return nil
	}

	if s.client == nil {
		client, err := elasticsearch.NewClient(elasticsearch.Config{
			Addresses: []string{s.cfg.Addresses},
			Username:  s.cfg.Username,
			Password:  s.cfg.Password,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		})
		if err != nil {
			s.state = stateUnavailable
			return fmt.Errorf("failed to create elasticsearch client: %w", err)
		}
		s.client = client
	}

	if err := s.ensureIndexLocked(ctx); err != nil {
		s.state = stateUnavailable
		return err
	}

	s.state = stateReady
	log.Infof("[VectorStore] index '%s' ready", s.cfg.IndexName)
	return nil
}

// ensureIndexLocked creates the index with its vector mapping when missing.
func (s *Store) ensureIndexLocked(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.cfg.IndexName}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unexpected status checking index existence: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"article_id": { "type": "keyword" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" },
				"title": { "type": "text" },
				"url": { "type": "keyword" },
				"published_at": { "type": "keyword" },
				"source": { "type": "keyword" }
			}
		}
	}`, s.embedder.Dimensions())

	createRes, err := s.client.Indices.Create(
		s.cfg.IndexName,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index '%s': %w", s.cfg.IndexName, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return fmt.Errorf("elasticsearch returned an error creating index '%s': %s", s.cfg.IndexName, createRes.String())
	}

	log.Infof("[VectorStore] created index '%s'", s.cfg.IndexName)
	return nil
}

// ready reports whether the store is usable, attempting one reconnect when it
// is not.
func (s *Store) ready(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateReady {
		return true
	}
	if err := s.connectLocked(ctx); err != nil {
		log.Warnf("[VectorStore] reconnect attempt failed: %v", err)
		return false
	}
	return true
}

// markUnavailable demotes the handle after an operational failure.
func (s *Store) markUnavailable() {
	s.mu.Lock()
	s.state = stateUnavailable
	s.mu.Unlock()
}

type esDocument struct {
	ChunkID      string    `json:"chunk_id"`
	ArticleID    string    `json:"article_id"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
	Title        string    `json:"title,omitempty"`
	URL          string    `json:"url,omitempty"`
	PublishedAt  string    `json:"published_at,omitempty"`
	Source       string    `json:"source,omitempty"`
}

func toESDocument(chunk model.DocumentChunk) esDocument {
	return esDocument{
		ChunkID:      chunk.ChunkID,
		ArticleID:    chunk.ArticleID,
		TextContent:  chunk.Text,
		Vector:       chunk.Vector,
		ModelVersion: chunk.ModelVersion,
		Title:        chunk.Metadata.Title,
		URL:          chunk.Metadata.URL,
		PublishedAt:  chunk.Metadata.PublishedAt,
		Source:       chunk.Metadata.Source,
	}
}

// AddOne indexes a single chunk. Errors propagate to the caller.
func (s *Store) AddOne(ctx context.Context, chunk model.DocumentChunk) error {
	if !s.ready(ctx) {
		return ErrUnavailable
	}

	docBytes, err := json.Marshal(toESDocument(chunk))
	if err != nil {
		return fmt.Errorf("failed to marshal chunk %s: %w", chunk.ChunkID, err)
	}

	req := esapi.IndexRequest{
		Index:      s.cfg.IndexName,
		DocumentID: chunk.ChunkID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		s.markUnavailable()
		return fmt.Errorf("failed to index chunk %s: %w", chunk.ChunkID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch rejected chunk %s: %s", chunk.ChunkID, res.String())
	}
	return nil
}

// AddBatch indexes chunks through the bulk API. Errors propagate to the
// caller so ingestion knows the write failed.
func (s *Store) AddBatch(ctx context.Context, chunks []model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if !s.ready(ctx) {
		return ErrUnavailable
	}

	var body bytes.Buffer
	for _, chunk := range chunks {
		meta := fmt.Sprintf(`{"index":{"_index":%q,"_id":%q}}`, s.cfg.IndexName, chunk.ChunkID)
		body.WriteString(meta)
		body.WriteByte('\n')
		docBytes, err := json.Marshal(toESDocument(chunk))
		if err != nil {
			return fmt.Errorf("failed to marshal chunk %s: %w", chunk.ChunkID, err)
		}
		body.Write(docBytes)
		body.WriteByte('\n')
	}

	res, err := s.client.Bulk(
		bytes.NewReader(body.Bytes()),
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		s.markUnavailable()
		return fmt.Errorf("bulk index failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch rejected bulk request: %s", res.String())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		return errors.New("bulk index reported per-item errors")
	}

	log.Infof("[VectorStore] indexed %d chunk(s)", len(chunks))
	return nil
}

// Search embeds the query and runs a kNN search for topK results. It never
// returns an error: when the index is unreachable (after one reconnect
// attempt) or empty, the caller gets a single synthetic fallback result so
// downstream code never special-cases "no results".
func (s *Store) Search(ctx context.Context, query string, topK int) []model.SearchResult {
	if topK <= 0 {
		topK = 5
	}

	if !s.ready(ctx) {
		log.Warnf("[VectorStore] search while unavailable, returning fallback result")
		return []model.SearchResult{fallbackResult()}
	}

	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		log.Errorf("[VectorStore] failed to embed query: %v", err)
		return []model.SearchResult{fallbackResult()}
	}

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              topK,
			"num_candidates": topK * 10,
		},
		"size": topK,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		log.Errorf("[VectorStore] failed to encode search query: %v", err)
		return []model.SearchResult{fallbackResult()}
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.cfg.IndexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[VectorStore] search request failed: %v", err)
		s.markUnavailable()
		return []model.SearchResult{fallbackResult()}
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[VectorStore] elasticsearch returned an error: %s", res.Status())
		return []model.SearchResult{fallbackResult()}
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source esDocument `json:"_source"`
				Score  float64    `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		log.Errorf("[VectorStore] failed to decode search response: %v", err)
		return []model.SearchResult{fallbackResult()}
	}

	if len(esResponse.Hits.Hits) == 0 {
		log.Infof("[VectorStore] no hits for query, returning fallback result")
		return []model.SearchResult{fallbackResult()}
	}

	results := make([]model.SearchResult, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.SearchResult{
			ArticleID: hit.Source.ArticleID,
			Text:      hit.Source.TextContent,
			Score:     clampScore(hit.Score),
			Metadata: model.ChunkMetadata{
				Title:       hit.Source.Title,
				URL:         hit.Source.URL,
				PublishedAt: hit.Source.PublishedAt,
				Source:      hit.Source.Source,
			},
		})
	}

	log.Infof("[VectorStore] search returned %d result(s)", len(results))
	return results
}

// Count returns the number of indexed chunks, or zero when the index cannot
// be reached.
func (s *Store) Count(ctx context.Context) int {
	if !s.ready(ctx) {
		return 0
	}

	res, err := s.client.Count(
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(s.cfg.IndexName),
	)
	if err != nil {
		log.Warnf("[VectorStore] count failed: %v", err)
		s.markUnavailable()
		return 0
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Warnf("[VectorStore] count returned an error: %s", res.Status())
		return 0
	}

	var countResp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&countResp); err != nil {
		log.Warnf("[VectorStore] failed to decode count response: %v", err)
		return 0
	}
	return countResp.Count
}

// Clear deletes the index and recreates it empty, ready for immediate
// re-population. Errors propagate: the caller asked for a destructive write.
func (s *Store) Clear(ctx context.Context) error {
	if !s.ready(ctx) {
		return ErrUnavailable
	}

	res, err := s.client.Indices.Delete(
		[]string{s.cfg.IndexName},
		s.client.Indices.Delete.WithContext(ctx),
		s.client.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		s.markUnavailable()
		return fmt.Errorf("failed to delete index '%s': %w", s.cfg.IndexName, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch returned an error deleting index '%s': %s", s.cfg.IndexName, res.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureIndexLocked(ctx); err != nil {
		s.state = stateUnavailable
		return fmt.Errorf("failed to recreate index after clear: %w", err)
	}
	log.Infof("[VectorStore] index '%s' cleared", s.cfg.IndexName)
	return nil
}

// clampScore keeps the ES kNN similarity inside [0,1]. The cosine kNN score
// is already a monotonic transform of vector distance.
func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// fallbackResult is the synthetic source returned when no context can be
// retrieved, so the pipeline always has at least one passage to reason about.
func fallbackResult() model.SearchResult {
	return model.SearchResult{
		ArticleID: "system-fallback",
		Text: "No article context is available right now. The news index may still " +
			"be loading or temporarily unreachable; answers will rely on general knowledge.",
		Score: 1.0,
		Metadata: model.ChunkMetadata{
			Title:  "Context Unavailable",
			Source: "System Message",
		},
	}
}
