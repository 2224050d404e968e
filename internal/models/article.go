package models

import (
	"net/url"
	"strings"
	"time"
)

// MinContentLength is the crawl success bar: an article with fewer content
// characters than this is still considered uncrawled.
const MinContentLength = 200

// ScoreSet holds the five 1-5 integer dimensions the evaluator assigns.
type ScoreSet struct {
	Novelty          int `json:"novelty" validate:"gte=1,lte=5"`
	Importance       int `json:"importance" validate:"gte=1,lte=5"`
	Reliability      int `json:"reliability" validate:"gte=1,lte=5"`
	ContextValue     int `json:"contextValue" validate:"gte=1,lte=5"`
	ThoughtProvoking int `json:"thoughtProvoking" validate:"gte=1,lte=5"`
}

// Average returns the arithmetic mean of the five dimensions.
func (s *ScoreSet) Average() float64 {
	sum := s.Novelty + s.Importance + s.Reliability + s.ContextValue + s.ThoughtProvoking
	return float64(sum) / 5.0
}

// Article is the central record, keyed by the feed-given URL.
type Article struct {
	ID              string     `json:"id"`
	URL             string     `json:"url"`
	ResolvedURL     string     `json:"resolved_url,omitempty"`
	OriginalTitle   string     `json:"original_title"`
	TranslatedTitle string     `json:"translated_title,omitempty"`
	Summary         string     `json:"summary,omitempty"`
	ShortSummary    string     `json:"short_summary,omitempty"`
	Content         string     `json:"content,omitempty"`
	ImageURL        string     `json:"image_url,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Scores          *ScoreSet  `json:"scores,omitempty"`
	AverageScore    *float64   `json:"average_score,omitempty"`
}

// Evaluated reports whether the article has been scored.
func (a *Article) Evaluated() bool {
	return a.AverageScore != nil
}

// Crawlable reports whether the article still needs a content fetch.
func (a *Article) Crawlable() bool {
	return len(a.Content) < MinContentLength
}

// Processed reports whether nothing in the pipeline remains for this article.
func (a *Article) Processed() bool {
	return !a.Crawlable() && a.Evaluated()
}

// CanonicalURL returns the URL the article should be fetched from: the
// resolved URL when one is known, the feed URL otherwise.
func (a *Article) CanonicalURL() string {
	if a.ResolvedURL != "" {
		return a.ResolvedURL
	}
	return a.URL
}

// Host returns the lowercased host of the canonical URL.
func (a *Article) Host() string {
	return HostOf(a.CanonicalURL())
}

// ArticlePatch is a partial article update for Upsert. Nil fields preserve
// the stored values. Scores always travels with its derived average so the
// two fields cannot drift apart.
type ArticlePatch struct {
	URL             string
	ResolvedURL     *string
	OriginalTitle   *string
	TranslatedTitle *string
	Summary         *string
	ShortSummary    *string
	Content         *string
	ImageURL        *string
	PublishedAt     *time.Time
	Scores          *ScoreSet
}

// Apply merges the patch into the article.
func (p *ArticlePatch) Apply(a *Article) {
	if p.ResolvedURL != nil && *p.ResolvedURL != "" {
		a.ResolvedURL = *p.ResolvedURL
	}
	if p.OriginalTitle != nil {
		a.OriginalTitle = *p.OriginalTitle
	}
	if p.TranslatedTitle != nil {
		a.TranslatedTitle = *p.TranslatedTitle
	}
	if p.Summary != nil {
		a.Summary = *p.Summary
	}
	if p.ShortSummary != nil {
		a.ShortSummary = *p.ShortSummary
	}
	if p.Content != nil {
		a.Content = *p.Content
	}
	if p.ImageURL != nil {
		a.ImageURL = *p.ImageURL
	}
	if p.PublishedAt != nil {
		a.PublishedAt = p.PublishedAt
	}
	if p.Scores != nil {
		scores := *p.Scores
		avg := scores.Average()
		a.Scores = &scores
		a.AverageScore = &avg
	}
}

// CollectedArticle is a feed entry before it is persisted.
type CollectedArticle struct {
	URL         string
	ResolvedURL string
	TitleHint   string
	PublishedAt *time.Time
	FeedSource  string
}

// CanonicalURL returns the resolved URL when known, the feed URL otherwise.
func (c *CollectedArticle) CanonicalURL() string {
	if c.ResolvedURL != "" {
		return c.ResolvedURL
	}
	return c.URL
}

// Host returns the lowercased host of the canonical URL.
func (c *CollectedArticle) Host() string {
	return HostOf(c.CanonicalURL())
}

// HostOf returns the lowercased host of a URL, or "" when unparseable.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// StrPtr returns a pointer to s, for building patches.
func StrPtr(s string) *string {
	return &s
}
