package badger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/kojira/ai-rss-reader/internal/interfaces"
	"github.com/kojira/ai-rss-reader/internal/models"
)

// ErrorStorage implements failure record persistence using BadgerDB.
// Records are keyed by URL so a newer failure replaces the older one.
type ErrorStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewErrorStorage creates a new Badger error storage service
func NewErrorStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ErrorStorage {
	return &ErrorStorage{
		db:     db,
		logger: logger,
	}
}

// Record persists a failure, replacing any previous record for the same URL
func (s *ErrorStorage) Record(e *models.ArticleError) error {
	if e.URL == "" {
		return fmt.Errorf("error record requires a URL")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(e.URL, *e); err != nil {
		return fmt.Errorf("failed to record error for %s: %w", e.URL, err)
	}

	s.logger.Debug().Str("url", e.URL).Str("phase", string(e.Phase)).Msg("Error recorded")
	return nil
}

// GetByURL retrieves the failure record for a URL
func (s *ErrorStorage) GetByURL(url string) (*models.ArticleError, error) {
	var record models.ArticleError
	if err := s.db.Store().Get(url, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("no error recorded for %s", url)
		}
		return nil, fmt.Errorf("failed to get error for %s: %w", url, err)
	}
	return &record, nil
}

// GetByID retrieves a failure record by its generated ID
func (s *ErrorStorage) GetByID(id string) (*models.ArticleError, error) {
	var records []models.ArticleError
	if err := s.db.Store().Find(&records, badgerhold.Where("ID").Eq(id)); err != nil {
		return nil, fmt.Errorf("failed to find error %s: %w", id, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("error record not found: %s", id)
	}
	return &records[0], nil
}

// Latest returns the newest failure records, capped at limit
func (s *ErrorStorage) Latest(limit int) ([]*models.ArticleError, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.ArticleError
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list errors: %w", err)
	}

	result := make([]*models.ArticleError, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

// ClearByURL removes the failure record for a URL after a later success
func (s *ErrorStorage) ClearByURL(url string) error {
	if err := s.db.Store().Delete(url, &models.ArticleError{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to clear error for %s: %w", url, err)
	}
	return nil
}
