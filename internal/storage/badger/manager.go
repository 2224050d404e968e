package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/kojira/ai-rss-reader/internal/common"
	"github.com/kojira/ai-rss-reader/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db        *BadgerDB
	articles  interfaces.ArticleStorage
	sources   interfaces.SourceStorage
	errors    interfaces.ErrorStorage
	blocklist interfaces.BlocklistStorage
	status    interfaces.StatusStorage
	logger    arbor.ILogger
}

// NewManager opens the store and seeds the CrawlerStatus and Settings
// singletons when missing.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	blocklist := NewBlocklistStorage(db, logger)

	manager := &Manager{
		db:        db,
		articles:  NewArticleStorage(db, blocklist, logger),
		sources:   NewSourceStorage(db, logger),
		errors:    NewErrorStorage(db, logger),
		blocklist: blocklist,
		status:    NewStatusStorage(db, logger),
		logger:    logger,
	}

	// Seed the singletons. Get creates the rows with defaults when absent.
	if _, err := manager.status.Get(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := manager.status.GetSettings(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// Articles returns the Article storage interface
func (m *Manager) Articles() interfaces.ArticleStorage {
	return m.articles
}

// Sources returns the Source storage interface
func (m *Manager) Sources() interfaces.SourceStorage {
	return m.sources
}

// Errors returns the ArticleError storage interface
func (m *Manager) Errors() interfaces.ErrorStorage {
	return m.errors
}

// Blocklist returns the BlockedDomain storage interface
func (m *Manager) Blocklist() interfaces.BlocklistStorage {
	return m.blocklist
}

// Status returns the CrawlerStatus storage interface
func (m *Manager) Status() interfaces.StatusStorage {
	return m.status
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
