package badger

import (
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/kojira/ai-rss-reader/internal/interfaces"
	"github.com/kojira/ai-rss-reader/internal/models"
)

const (
	crawlerStatusKey = "crawler_status"
	settingsKey      = "settings"
)

// StatusStorage owns the CrawlerStatus and Settings singleton rows.
// The rows are seeded with defaults on first read.
type StatusStorage struct {
	db      *BadgerDB
	logger  arbor.ILogger
	writeMu sync.Mutex
}

// NewStatusStorage creates a new Badger status storage service
func NewStatusStorage(db *BadgerDB, logger arbor.ILogger) interfaces.StatusStorage {
	return &StatusStorage{
		db:     db,
		logger: logger,
	}
}

// Get returns the crawler status row, creating it idle when absent
func (s *StatusStorage) Get() (*models.CrawlerStatus, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.loadStatus()
}

// Update applies a partial status update atomically under writeMu
func (s *StatusStorage) Update(patch *models.StatusPatch) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	status, err := s.loadStatus()
	if err != nil {
		return err
	}

	patch.Apply(status)

	if err := s.db.Store().Upsert(crawlerStatusKey, *status); err != nil {
		return fmt.Errorf("failed to update crawler status: %w", err)
	}
	return nil
}

// GetSettings returns the settings row, seeding defaults when absent
func (s *StatusStorage) GetSettings() (*models.Settings, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var settings models.Settings
	err := s.db.Store().Get(settingsKey, &settings)
	if err == badgerhold.ErrNotFound {
		defaults := models.DefaultSettings()
		if err := s.db.Store().Upsert(settingsKey, *defaults); err != nil {
			return nil, fmt.Errorf("failed to seed settings: %w", err)
		}
		s.logger.Debug().Msg("Seeded default settings")
		return defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &settings, nil
}

// SaveSettings replaces the settings row
func (s *StatusStorage) SaveSettings(settings *models.Settings) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.Store().Upsert(settingsKey, *settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// loadStatus reads the status row, seeding an idle row when absent.
// Callers hold writeMu.
func (s *StatusStorage) loadStatus() (*models.CrawlerStatus, error) {
	var status models.CrawlerStatus
	err := s.db.Store().Get(crawlerStatusKey, &status)
	if err == badgerhold.ErrNotFound {
		status = models.CrawlerStatus{IsCrawling: false, CurrentTask: "Idle"}
		if err := s.db.Store().Upsert(crawlerStatusKey, status); err != nil {
			return nil, fmt.Errorf("failed to seed crawler status: %w", err)
		}
		s.logger.Debug().Msg("Seeded crawler status row")
		return &status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawler status: %w", err)
	}
	return &status, nil
}
