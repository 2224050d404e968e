package models

import (
	"fmt"
	"strings"
	"time"
)

// Source is a syndication endpoint registered by the user. Sources are unique
// by URL; file:// URLs are accepted as read-only test fixtures.
type Source struct {
	ID        string    `json:"id"`
	URL       string    `json:"url" validate:"required"`
	Name      string    `json:"name" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the source before it is persisted.
func (s *Source) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("source name is required")
	}
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("source URL is required")
	}
	if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") && !strings.HasPrefix(s.URL, "file://") {
		return fmt.Errorf("source URL must be http(s) or file: %s", s.URL)
	}
	return nil
}

// DefaultSource is seeded when the worker starts with an empty source list.
func DefaultSource() *Source {
	return &Source{
		URL:  "https://hnrss.org/frontpage",
		Name: "Hacker News",
	}
}
