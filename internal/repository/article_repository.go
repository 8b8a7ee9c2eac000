package repository

import (
	"errors"

	"gorm.io/gorm"

	"news-rag-go/internal/model"
)

// ArticleRepository persists article metadata in MySQL. It backs ingestion
// idempotency (content-MD5 dedup) and the admin listing surface.
type ArticleRepository interface {
	Upsert(article *model.Article) error
	FindByArticleID(articleID string) (*model.Article, error)
	List(limit, offset int) ([]model.Article, error)
	Count() (int64, error)
	DeleteAll() error
}

type articleRepository struct {
	db *gorm.DB
}

// NewArticleRepository creates an ArticleRepository and migrates its table.
func NewArticleRepository(db *gorm.DB) ArticleRepository {
	_ = db.AutoMigrate(&model.Article{})
	return &articleRepository{db: db}
}

// Upsert creates the article record or updates the existing row for the same
// article id.
func (r *articleRepository) Upsert(article *model.Article) error {
	var existing model.Article
	err := r.db.Where("article_id = ?", article.ArticleID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(article).Error
	}
	if err != nil {
		return err
	}
	article.ID = existing.ID
	article.CreatedAt = existing.CreatedAt
	return r.db.Save(article).Error
}

// FindByArticleID returns the article or nil when it is unknown.
func (r *articleRepository) FindByArticleID(articleID string) (*model.Article, error) {
	var article model.Article
	err := r.db.Where("article_id = ?", articleID).First(&article).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// List returns articles ordered by publication time, newest first.
func (r *articleRepository) List(limit, offset int) ([]model.Article, error) {
	if limit <= 0 {
		limit = 50
	}
	var articles []model.Article
	err := r.db.Order("published_at DESC").Limit(limit).Offset(offset).Find(&articles).Error
	return articles, err
}

// Count returns the number of known articles.
func (r *articleRepository) Count() (int64, error) {
	var n int64
	err := r.db.Model(&model.Article{}).Count(&n).Error
	return n, err
}

// DeleteAll removes every article record. Used together with a vector index
// clear so re-ingestion starts from scratch.
func (r *articleRepository) DeleteAll() error {
	return r.db.Where("1 = 1").Delete(&model.Article{}).Error
}
