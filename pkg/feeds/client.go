// Package feeds provides a client for pulling articles from RSS feeds.
package feeds

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"news-rag-go/internal/config"
	"news-rag-go/pkg/log"
)

// Item is one article discovered in a feed, before its page is fetched.
type Item struct {
	ArticleID   string
	Title       string
	URL         string
	Source      string
	PublishedAt time.Time
}

// Client fetches RSS feeds and article pages.
type Client struct {
	parser     *gofeed.Parser
	httpClient *http.Client
}

// NewClient creates a feeds client.
func NewClient() *Client {
	return &Client{
		parser:     gofeed.NewParser(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch parses one RSS feed and returns up to limit items, newest first as
// listed by the feed. Items without a link are skipped.
func (c *Client) Fetch(ctx context.Context, source config.FeedSource, limit int) ([]Item, error) {
	log.Infof("[FeedsClient] fetching feed '%s' (%s)", source.Name, source.URL)
	feed, err := c.parser.ParseURLWithContext(source.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed '%s': %w", source.Name, err)
	}

	items := make([]Item, 0, limit)
	for _, entry := range feed.Items {
		if entry.Link == "" {
			continue
		}
		publishedAt := time.Now()
		if entry.PublishedParsed != nil {
			publishedAt = *entry.PublishedParsed
		}
		items = append(items, Item{
			ArticleID:   ArticleID(entry.Link),
			Title:       entry.Title,
			URL:         entry.Link,
			Source:      source.Name,
			PublishedAt: publishedAt,
		})
		if limit > 0 && len(items) >= limit {
			break
		}
	}

	log.Infof("[FeedsClient] feed '%s' yielded %d item(s)", source.Name, len(items))
	return items, nil
}

// DownloadHTML fetches the raw article page.
func (c *Client) DownloadHTML(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create article request: %w", err)
	}
	req.Header.Set("User-Agent", "news-rag-go/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch article page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("article page returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// ArticleID derives a stable id from the article URL.
func ArticleID(url string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(url)))
}
