// Package pipeline implements the article ingestion flow.
package pipeline

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"time"

	"news-rag-go/internal/config"
	"news-rag-go/internal/model"
	"news-rag-go/internal/repository"
	"news-rag-go/pkg/embedding"
	"news-rag-go/pkg/log"
	"news-rag-go/pkg/storage"
	"news-rag-go/pkg/tasks"
	"news-rag-go/pkg/vectorstore"
)

const (
	chunkSize    = 1000
	chunkOverlap = 100
)

// Processor turns a fetched article into indexed chunks: snapshot download,
// text extraction, chunking, batch embedding, vector index write.
type Processor struct {
	embeddingClient embedding.Client
	store           *vectorstore.Store
	articleRepo     repository.ArticleRepository
	minioCfg        config.MinIOConfig
	embeddingCfg    config.EmbeddingConfig
}

// NewProcessor creates a Processor.
func NewProcessor(
	embeddingClient embedding.Client,
	store *vectorstore.Store,
	articleRepo repository.ArticleRepository,
	minioCfg config.MinIOConfig,
	embeddingCfg config.EmbeddingConfig,
) *Processor {
	return &Processor{
		embeddingClient: embeddingClient,
		store:           store,
		articleRepo:     articleRepo,
		minioCfg:        minioCfg,
		embeddingCfg:    embeddingCfg,
	}
}

// Process handles one article task. Index write failures propagate so the
// consumer can retry; an unchanged article (same content hash) is skipped.
func (p *Processor) Process(ctx context.Context, task tasks.ArticleTask) error {
	log.Infof("[Processor] processing article, id: %s, title: %q", task.ArticleID, task.Title)

	rawHTML, err := storage.GetSnapshot(ctx, p.minioCfg.BucketName, task.ObjectName)
	if err != nil {
		return fmt.Errorf("failed to load article snapshot: %w", err)
	}
	if len(rawHTML) == 0 {
		return errors.New("article snapshot is empty")
	}

	text, err := extractText(rawHTML, task.URL)
	if err != nil {
		return fmt.Errorf("failed to extract article text: %w", err)
	}

	contentMD5 := fmt.Sprintf("%x", md5.Sum([]byte(text)))
	existing, err := p.articleRepo.FindByArticleID(task.ArticleID)
	if err != nil {
		log.Warnf("[Processor] article lookup failed, continuing without dedup: %v", err)
	} else if existing != nil && existing.ContentMD5 == contentMD5 {
		log.Infof("[Processor] article unchanged, skipping: %s", task.ArticleID)
		return nil
	}

	chunks := splitText(text, chunkSize, chunkOverlap)
	if len(chunks) == 0 {
		return errors.New("article produced no text chunks")
	}
	log.Infof("[Processor] split article into %d chunk(s)", len(chunks))

	vectors, err := p.embeddingClient.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("failed to embed article chunks: %w", err)
	}

	metadata := model.ChunkMetadata{
		Title:       task.Title,
		URL:         task.URL,
		PublishedAt: task.PublishedAt.Format(time.RFC3339),
		Source:      task.Source,
	}
	docs := make([]model.DocumentChunk, len(chunks))
	for i, chunk := range chunks {
		docs[i] = model.DocumentChunk{
			ChunkID:      fmt.Sprintf("%s_%d", task.ArticleID, i),
			ArticleID:    task.ArticleID,
			Text:         chunk,
			Vector:       vectors[i],
			ModelVersion: p.embeddingCfg.Model,
			Metadata:     metadata,
		}
	}

	if err := p.store.AddBatch(ctx, docs); err != nil {
		return fmt.Errorf("failed to index article chunks: %w", err)
	}

	record := &model.Article{
		ArticleID:   task.ArticleID,
		Title:       task.Title,
		URL:         task.URL,
		Source:      task.Source,
		PublishedAt: task.PublishedAt,
		ContentMD5:  contentMD5,
		ChunkCount:  len(docs),
	}
	if err := p.articleRepo.Upsert(record); err != nil {
		// The index write already succeeded; losing the metadata row only
		// costs a redundant re-process on the next run.
		log.Errorf("[Processor] failed to save article record: %v", err)
	}

	log.Infof("[Processor] article indexed, id: %s, chunks: %d", task.ArticleID, len(docs))
	return nil
}

// splitText splits long text into chunks of chunkSize runes with
// chunkOverlap runes of overlap between consecutive chunks.
func splitText(text string, chunkSize, chunkOverlap int) []string {
	if chunkSize <= chunkOverlap {
		return simpleSplit(text, chunkSize)
	}

	var chunks []string
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := chunkSize - chunkOverlap
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func simpleSplit(text string, chunkSize int) []string {
	var chunks []string
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
