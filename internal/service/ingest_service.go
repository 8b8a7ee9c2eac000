package service

import (
	"context"
	"fmt"

	"news-rag-go/internal/config"
	"news-rag-go/internal/model"
	"news-rag-go/internal/repository"
	"news-rag-go/pkg/feeds"
	"news-rag-go/pkg/kafka"
	"news-rag-go/pkg/log"
	"news-rag-go/pkg/storage"
	"news-rag-go/pkg/tasks"
	"news-rag-go/pkg/vectorstore"
)

// IndexStats summarizes the ingested corpus for the admin surface.
type IndexStats struct {
	ChunkCount   int   `json:"chunkCount"`
	ArticleCount int64 `json:"articleCount"`
}

// IngestService drives article ingestion: feed discovery, snapshotting and
// queueing. Chunking/embedding/indexing happens in the pipeline processor
// consuming the queue.
type IngestService interface {
	// RefreshAll walks every configured feed and queues fetched articles.
	// It returns how many tasks were queued; per-feed failures are logged
	// and skipped.
	RefreshAll(ctx context.Context) (int, error)
	// ClearIndex wipes the vector index and the article metadata.
	ClearIndex(ctx context.Context) error
	Stats(ctx context.Context) IndexStats
	ListArticles(limit, offset int) ([]model.Article, error)
}

type ingestService struct {
	feedsClient *feeds.Client
	store       *vectorstore.Store
	articleRepo repository.ArticleRepository
	feedsCfg    config.FeedsConfig
	minioCfg    config.MinIOConfig
	produce     func(tasks.ArticleTask) error
}

// NewIngestService creates an IngestService publishing tasks to Kafka.
func NewIngestService(
	feedsClient *feeds.Client,
	store *vectorstore.Store,
	articleRepo repository.ArticleRepository,
	feedsCfg config.FeedsConfig,
	minioCfg config.MinIOConfig,
) IngestService {
	return &ingestService{
		feedsClient: feedsClient,
		store:       store,
		articleRepo: articleRepo,
		feedsCfg:    feedsCfg,
		minioCfg:    minioCfg,
		produce:     kafka.ProduceArticleTask,
	}
}

func (s *ingestService) RefreshAll(ctx context.Context) (int, error) {
	perFeed := s.feedsCfg.ArticlesPerFeed
	if perFeed <= 0 {
		perFeed = 20
	}

	queued := 0
	var lastErr error
	for _, source := range s.feedsCfg.Sources {
		items, err := s.feedsClient.Fetch(ctx, source, perFeed)
		if err != nil {
			log.Errorf("[IngestService] feed '%s' failed: %v", source.Name, err)
			lastErr = err
			continue
		}
		for _, item := range items {
			if err := s.queueItem(ctx, item); err != nil {
				log.Errorf("[IngestService] failed to queue article %s: %v", item.URL, err)
				lastErr = err
				continue
			}
			queued++
		}
	}

	if queued == 0 && lastErr != nil {
		return 0, fmt.Errorf("no articles queued: %w", lastErr)
	}
	log.Infof("[IngestService] queued %d article task(s)", queued)
	return queued, nil
}

// queueItem snapshots the article page to object storage and publishes the
// processing task.
func (s *ingestService) queueItem(ctx context.Context, item feeds.Item) error {
	rawHTML, err := s.feedsClient.DownloadHTML(ctx, item.URL)
	if err != nil {
		return err
	}

	objectName := fmt.Sprintf("snapshots/%s.html", item.ArticleID)
	if err := storage.PutSnapshot(ctx, s.minioCfg.BucketName, objectName, rawHTML); err != nil {
		return err
	}

	return s.produce(tasks.ArticleTask{
		ArticleID:   item.ArticleID,
		ObjectName:  objectName,
		Title:       item.Title,
		URL:         item.URL,
		Source:      item.Source,
		PublishedAt: item.PublishedAt,
	})
}

func (s *ingestService) ClearIndex(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear vector index: %w", err)
	}
	if err := s.articleRepo.DeleteAll(); err != nil {
		return fmt.Errorf("failed to clear article records: %w", err)
	}
	log.Info("[IngestService] index and article records cleared")
	return nil
}

func (s *ingestService) Stats(ctx context.Context) IndexStats {
	articleCount, err := s.articleRepo.Count()
	if err != nil {
		log.Warnf("[IngestService] article count failed: %v", err)
	}
	return IndexStats{
		ChunkCount:   s.store.Count(ctx),
		ArticleCount: articleCount,
	}
}

func (s *ingestService) ListArticles(limit, offset int) ([]model.Article, error) {
	return s.articleRepo.List(limit, offset)
}
