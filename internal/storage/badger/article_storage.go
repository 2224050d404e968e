package badger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/kojira/ai-rss-reader/internal/interfaces"
	"github.com/kojira/ai-rss-reader/internal/models"
)

// ArticleStorage implements article persistence using BadgerDB.
// Articles are keyed by their feed-given URL so re-ingesting the same entry
// merges into one record.
type ArticleStorage struct {
	db        *BadgerDB
	blocklist interfaces.BlocklistStorage
	logger    arbor.ILogger
	writeMu   sync.Mutex
}

// NewArticleStorage creates a new Badger article storage service
func NewArticleStorage(db *BadgerDB, blocklist interfaces.BlocklistStorage, logger arbor.ILogger) interfaces.ArticleStorage {
	return &ArticleStorage{
		db:        db,
		blocklist: blocklist,
		logger:    logger,
	}
}

// Upsert merges the patch into the record stored under patch.URL. The
// read-modify-write runs under writeMu so concurrent crawl and eval updates
// cannot lose fields to each other.
func (s *ArticleStorage) Upsert(patch *models.ArticlePatch) (*models.Article, error) {
	if patch == nil || patch.URL == "" {
		return nil, fmt.Errorf("article patch requires a URL")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now()

	var article models.Article
	err := s.db.Store().Get(patch.URL, &article)
	if err == badgerhold.ErrNotFound {
		article = models.Article{
			ID:        uuid.New().String(),
			URL:       patch.URL,
			CreatedAt: now,
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load article %s: %w", patch.URL, err)
	}

	patch.Apply(&article)
	article.UpdatedAt = now

	if err := s.db.Store().Upsert(article.URL, article); err != nil {
		return nil, fmt.Errorf("failed to upsert article %s: %w", article.URL, err)
	}

	s.logger.Debug().Str("url", article.URL).Str("id", article.ID).Msg("Article upserted")

	result := article
	return &result, nil
}

// GetByURL retrieves an article by its feed-given URL
func (s *ArticleStorage) GetByURL(url string) (*models.Article, error) {
	var article models.Article
	if err := s.db.Store().Get(url, &article); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("article not found: %s", url)
		}
		return nil, fmt.Errorf("failed to get article %s: %w", url, err)
	}
	return &article, nil
}

// GetByID retrieves an article by its generated ID
func (s *ArticleStorage) GetByID(id string) (*models.Article, error) {
	var articles []models.Article
	if err := s.db.Store().Find(&articles, badgerhold.Where("ID").Eq(id)); err != nil {
		return nil, fmt.Errorf("failed to find article %s: %w", id, err)
	}
	if len(articles) == 0 {
		return nil, fmt.Errorf("article not found: %s", id)
	}
	return &articles[0], nil
}

// List returns stored articles newest first, skipping blocked hosts.
// Pagination applies after blocklist filtering so pages stay dense.
func (s *ArticleStorage) List(limit, offset int) ([]*models.Article, error) {
	var articles []models.Article
	if err := s.db.Store().Find(&articles, badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()); err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}

	visible, err := s.filterBlocked(articles)
	if err != nil {
		return nil, err
	}

	if offset >= len(visible) {
		return []*models.Article{}, nil
	}
	visible = visible[offset:]
	if limit > 0 && len(visible) > limit {
		visible = visible[:limit]
	}
	return visible, nil
}

// Unprocessed returns articles still needing a crawl or an evaluation,
// oldest first, skipping blocked hosts.
func (s *ArticleStorage) Unprocessed(limit int) ([]*models.Article, error) {
	var articles []models.Article
	if err := s.db.Store().Find(&articles, badgerhold.Where("ID").Ne("").SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}

	visible, err := s.filterBlocked(articles)
	if err != nil {
		return nil, err
	}

	result := make([]*models.Article, 0, len(visible))
	for _, a := range visible {
		if a.Processed() {
			continue
		}
		result = append(result, a)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// WithoutImages returns crawled articles that have no image URL yet,
// oldest first, skipping blocked hosts.
func (s *ArticleStorage) WithoutImages(limit int) ([]*models.Article, error) {
	var articles []models.Article
	if err := s.db.Store().Find(&articles, badgerhold.Where("ImageURL").Eq("").SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}

	visible, err := s.filterBlocked(articles)
	if err != nil {
		return nil, err
	}

	result := make([]*models.Article, 0, len(visible))
	for _, a := range visible {
		if a.Crawlable() {
			continue
		}
		result = append(result, a)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Delete removes an article by URL
func (s *ArticleStorage) Delete(url string) error {
	if err := s.db.Store().Delete(url, &models.Article{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete article %s: %w", url, err)
	}
	return nil
}

// Count returns the total number of stored articles
func (s *ArticleStorage) Count() (int, error) {
	count, err := s.db.Store().Count(&models.Article{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return int(count), nil
}

func (s *ArticleStorage) filterBlocked(articles []models.Article) ([]*models.Article, error) {
	result := make([]*models.Article, 0, len(articles))
	for i := range articles {
		a := articles[i]
		blocked, err := s.blocklist.IsBlocked(a.Host())
		if err != nil {
			return nil, err
		}
		if blocked {
			continue
		}
		result = append(result, &a)
	}
	return result, nil
}
