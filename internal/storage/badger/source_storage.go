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

// SourceStorage implements feed source persistence using BadgerDB
type SourceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSourceStorage creates a new Badger source storage service
func NewSourceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SourceStorage {
	return &SourceStorage{
		db:     db,
		logger: logger,
	}
}

// Save persists a feed source, assigning an ID when missing
func (s *SourceStorage) Save(source *models.Source) error {
	if err := source.Validate(); err != nil {
		return err
	}
	if source.ID == "" {
		source.ID = uuid.New().String()
	}
	if source.CreatedAt.IsZero() {
		source.CreatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(source.ID, *source); err != nil {
		return fmt.Errorf("failed to save source %s: %w", source.URL, err)
	}

	s.logger.Debug().Str("id", source.ID).Str("url", source.URL).Msg("Source saved")
	return nil
}

// GetByID retrieves a feed source by ID
func (s *SourceStorage) GetByID(id string) (*models.Source, error) {
	var source models.Source
	if err := s.db.Store().Get(id, &source); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("source not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get source %s: %w", id, err)
	}
	return &source, nil
}

// List returns all feed sources, oldest first
func (s *SourceStorage) List() ([]*models.Source, error) {
	var sources []models.Source
	if err := s.db.Store().Find(&sources, badgerhold.Where("ID").Ne("").SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	result := make([]*models.Source, len(sources))
	for i := range sources {
		result[i] = &sources[i]
	}
	return result, nil
}

// Delete removes a feed source by ID
func (s *SourceStorage) Delete(id string) error {
	if err := s.db.Store().Delete(id, &models.Source{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete source %s: %w", id, err)
	}
	return nil
}

// Count returns the number of feed sources
func (s *SourceStorage) Count() (int, error) {
	count, err := s.db.Store().Count(&models.Source{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count sources: %w", err)
	}
	return int(count), nil
}
