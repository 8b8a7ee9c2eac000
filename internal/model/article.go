// Package model defines the data structures shared across layers.
package model

import "time"

// Article is the MySQL record for an ingested news article. It exists for
// idempotency (dedup by content MD5) and for the admin listing surface; the
// retrievable text lives in the vector index as chunks.
type Article struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ArticleID   string    `gorm:"uniqueIndex;size:64;not null" json:"articleId"`
	Title       string    `gorm:"size:512" json:"title"`
	URL         string    `gorm:"size:1024" json:"url"`
	Source      string    `gorm:"size:128;index" json:"source"`
	PublishedAt time.Time `json:"publishedAt"`
	ContentMD5  string    `gorm:"size:32;index" json:"contentMd5"`
	ChunkCount  int       `json:"chunkCount"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Article) TableName() string {
	return "articles"
}

// ChunkMetadata carries the display attributes of a chunk's parent article.
// Fields are optional; Extra is passthrough-only for values the pipeline does
// not interpret.
type ChunkMetadata struct {
	Title       string            `json:"title,omitempty"`
	URL         string            `json:"url,omitempty"`
	PublishedAt string            `json:"publishedAt,omitempty"`
	Source      string            `json:"source,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// DocumentChunk is one embedded passage stored in the vector index.
// The embedding dimension is constant across the index; ChunkID is globally
// unique (articleID + chunk ordinal).
type DocumentChunk struct {
	ChunkID      string        `json:"chunk_id"`
	ArticleID    string        `json:"article_id"`
	Text         string        `json:"text_content"`
	Vector       []float32     `json:"vector"`
	ModelVersion string        `json:"model_version"`
	Metadata     ChunkMetadata `json:"metadata"`
}

// SearchResult is a retrieved passage with its similarity score in [0,1]
// (higher = more similar). Produced per query, never persisted.
type SearchResult struct {
	ArticleID string        `json:"articleId"`
	Text      string        `json:"text"`
	Score     float64       `json:"score"`
	Metadata  ChunkMetadata `json:"metadata"`
}
