package badger

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/kojira/ai-rss-reader/internal/interfaces"
	"github.com/kojira/ai-rss-reader/internal/models"
)

// BlocklistStorage implements blocked domain persistence using BadgerDB.
// Membership is mirrored into an in-memory set so the per-request IsBlocked
// check never touches the store, and blocks added mid-cycle apply to
// subsequent requests immediately.
type BlocklistStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.RWMutex
	cache  map[string]bool
}

// NewBlocklistStorage creates a new Badger blocklist storage service
func NewBlocklistStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BlocklistStorage {
	s := &BlocklistStorage{
		db:     db,
		logger: logger,
		cache:  make(map[string]bool),
	}

	var domains []models.BlockedDomain
	if err := db.Store().Find(&domains, nil); err != nil {
		logger.Warn().Err(err).Msg("Failed to preload blocklist")
	} else {
		for _, d := range domains {
			s.cache[strings.ToLower(d.Domain)] = true
		}
	}

	return s
}

// Block marks a domain as hostile. Idempotent.
func (s *BlocklistStorage) Block(domain, reason string) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return fmt.Errorf("cannot block empty domain")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache[domain] {
		return nil
	}

	record := models.BlockedDomain{
		ID:        uuid.New().String(),
		Domain:    domain,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	if err := s.db.Store().Upsert(domain, record); err != nil {
		return fmt.Errorf("failed to block domain %s: %w", domain, err)
	}

	s.cache[domain] = true
	s.logger.Warn().Str("domain", domain).Str("reason", reason).Msg("Domain blocked")
	return nil
}

// IsBlocked reports whether a domain is on the blocklist
func (s *BlocklistStorage) IsBlocked(domain string) (bool, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[domain], nil
}

// List returns all blocked domains, oldest first
func (s *BlocklistStorage) List() ([]*models.BlockedDomain, error) {
	var domains []models.BlockedDomain
	if err := s.db.Store().Find(&domains, badgerhold.Where("ID").Ne("").SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list blocked domains: %w", err)
	}

	result := make([]*models.BlockedDomain, len(domains))
	for i := range domains {
		result[i] = &domains[i]
	}
	return result, nil
}
