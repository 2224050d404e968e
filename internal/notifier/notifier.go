package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kojira/ai-rss-reader/internal/interfaces"
	"github.com/kojira/ai-rss-reader/internal/models"
)

// embedColor is the accent color of the webhook card.
const embedColor = 0x00b0f4

// Service posts high-scoring evaluations to a webhook channel as an embed
// payload. A missing webhook URL is a silent no-op; a non-2xx response is
// logged but never fails the surrounding evaluation.
type Service struct {
	logger arbor.ILogger
	client *http.Client
}

// NewService creates a new webhook notifier
func NewService(logger arbor.ILogger) interfaces.Notifier {
	return &Service{
		logger: logger,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

type embed struct {
	Title       string       `json:"title"`
	URL         string       `json:"url"`
	Description string       `json:"description"`
	Fields      []embedField `json:"fields"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp"`
	Image       *embedImage  `json:"image,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedImage struct {
	URL string `json:"url"`
}

// Notify posts the evaluated article. The article must carry scores.
func (s *Service) Notify(ctx context.Context, webhookURL string, article *models.Article) error {
	if webhookURL == "" {
		return nil
	}
	if article.Scores == nil || article.AverageScore == nil {
		return fmt.Errorf("article %s has no scores to notify", article.URL)
	}

	title := article.TranslatedTitle
	if title == "" {
		title = article.OriginalTitle
	}

	e := embed{
		Title:       title,
		URL:         article.CanonicalURL(),
		Description: article.ShortSummary,
		Fields: []embedField{
			{
				Name: "Scores",
				Value: fmt.Sprintf("Avg: %.2f (N:%d I:%d R:%d C:%d T:%d)",
					*article.AverageScore,
					article.Scores.Novelty,
					article.Scores.Importance,
					article.Scores.Reliability,
					article.Scores.ContextValue,
					article.Scores.ThoughtProvoking),
				Inline: true,
			},
		},
		Color:     embedColor,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if article.ImageURL != "" {
		e.Image = &embedImage{URL: article.ImageURL}
	}
	if article.URL != article.CanonicalURL() {
		e.Fields = append(e.Fields, embedField{
			Name:   "Source",
			Value:  article.URL,
			Inline: false,
		})
	}

	body, err := json.Marshal(webhookPayload{Embeds: []embed{e}})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", article.URL).Msg("Webhook post failed")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn().Int("status", resp.StatusCode).Str("url", article.URL).Msg("Webhook returned non-2xx")
		return nil
	}

	s.logger.Info().Str("url", article.URL).Float64("score", *article.AverageScore).Msg("Notification sent")
	return nil
}
