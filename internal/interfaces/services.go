package interfaces

import (
	"context"

	"github.com/kojira/ai-rss-reader/internal/models"
)

// Fetcher retrieves remote content, falling back to a headless browser when
// the direct client is refused.
type Fetcher interface {
	// Fetch returns the payload for a URL, or a *models.CrawlError.
	Fetch(ctx context.Context, rawURL string) (*models.FetchResult, error)

	// ResolveURL resolves aggregator redirect URLs to their final target.
	// Non-aggregator URLs are returned unchanged without network I/O.
	ResolveURL(ctx context.Context, rawURL string) (string, error)

	// CloseBrowser tears down the headless browser singleton if running.
	CloseBrowser()
}

// Extractor converts a fetched payload into readable text.
type Extractor interface {
	Extract(fetched *models.FetchResult) (*models.ExtractResult, error)
}

// FeedCollector gathers candidate articles from all configured sources.
type FeedCollector interface {
	CollectAll(ctx context.Context, concurrency int) []*models.CollectedArticle
}

// Evaluator scores and summarizes an article through the LLM service.
type Evaluator interface {
	Evaluate(ctx context.Context, article *models.Article) (*models.EvaluationResult, error)
}

// Notifier publishes a high-scoring evaluation to the webhook channel.
type Notifier interface {
	Notify(ctx context.Context, webhookURL string, article *models.Article) error
}
