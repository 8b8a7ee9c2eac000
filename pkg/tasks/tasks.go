// Package tasks defines the structure for jobs sent through Kafka.
package tasks

import "time"

// ArticleTask describes one fetched article awaiting processing. The raw
// HTML snapshot lives in object storage under ObjectName.
type ArticleTask struct {
	ArticleID   string    `json:"article_id"`
	ObjectName  string    `json:"object_name"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}
