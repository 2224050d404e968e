package feeds

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mmcdole/gofeed"
	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/kojira/ai-rss-reader/internal/interfaces"
	"github.com/kojira/ai-rss-reader/internal/models"
)

// resolveBatchSize bounds concurrent aggregator resolutions within one feed,
// which bounds peak concurrent browser contexts.
const resolveBatchSize = 5

// Collector gathers candidate articles from every configured source.
// Feed-level failures are logged and skipped; one broken feed never fails
// the cycle.
type Collector struct {
	sources  interfaces.SourceStorage
	articles interfaces.ArticleStorage
	fetcher  interfaces.Fetcher
	logger   arbor.ILogger
}

// NewCollector creates a new feed collector
func NewCollector(sources interfaces.SourceStorage, articles interfaces.ArticleStorage, fetcher interfaces.Fetcher, logger arbor.ILogger) interfaces.FeedCollector {
	return &Collector{
		sources:  sources,
		articles: articles,
		fetcher:  fetcher,
		logger:   logger,
	}
}

// CollectAll parses all sources with at most `concurrency` feeds in flight
// and returns the combined candidate list, deduplicated by canonical URL.
func (c *Collector) CollectAll(ctx context.Context, concurrency int) []*models.CollectedArticle {
	sources, err := c.sources.List()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to list sources")
		return nil
	}
	if len(sources) == 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	var collected []*models.CollectedArticle

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, source := range sources {
		g.Go(func() error {
			items, err := c.collectFeed(gctx, source)
			if err != nil {
				c.logger.Warn().Err(err).Str("source", source.URL).Msg("Feed collection failed")
				return nil
			}
			mu.Lock()
			collected = append(collected, items...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	deduped := dedupe(collected)
	c.logger.Info().
		Int("sources", len(sources)).
		Int("collected", len(collected)).
		Int("unique", len(deduped)).
		Msg("Feed collection complete")
	return deduped
}

// collectFeed parses one source and resolves its aggregator links.
func (c *Collector) collectFeed(ctx context.Context, source *models.Source) ([]*models.CollectedArticle, error) {
	feed, err := c.parseFeed(ctx, source)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		item     *gofeed.Item
		resolved string // pre-filled from a cached Article record
	}

	var candidates []candidate
	for _, item := range feed.Items {
		if item == nil || strings.TrimSpace(item.Link) == "" {
			continue
		}

		existing, err := c.articles.GetByURL(item.Link)
		if err == nil && existing.Processed() {
			continue
		}
		cached := ""
		if err == nil {
			cached = existing.ResolvedURL
		}
		candidates = append(candidates, candidate{item: item, resolved: cached})
	}

	results := make([]*models.CollectedArticle, len(candidates))

	// Resolve in small batches so one feed of aggregator links cannot open
	// unbounded browser contexts.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveBatchSize)
	for i, cand := range candidates {
		g.Go(func() error {
			resolved := cand.resolved
			if resolved == "" {
				r, err := c.fetcher.ResolveURL(gctx, cand.item.Link)
				if err != nil {
					c.logger.Warn().Err(err).Str("url", cand.item.Link).Msg("URL resolution failed, using original")
					r = cand.item.Link
				}
				if r != cand.item.Link {
					resolved = r
				}
			}
			results[i] = &models.CollectedArticle{
				URL:         cand.item.Link,
				ResolvedURL: resolved,
				TitleHint:   strings.TrimSpace(cand.item.Title),
				PublishedAt: cand.item.PublishedParsed,
				FeedSource:  source.Name,
			}
			return nil
		})
	}
	g.Wait()

	c.logger.Debug().Str("source", source.URL).Int("items", len(results)).Msg("Feed parsed")
	return results, nil
}

// parseFeed reads a feed directly, falling back to the browser fetcher when
// the direct parse fails. file:// sources are read locally.
func (c *Collector) parseFeed(ctx context.Context, source *models.Source) (*gofeed.Feed, error) {
	parser := gofeed.NewParser()

	if strings.HasPrefix(source.URL, "file://") {
		data, err := os.ReadFile(strings.TrimPrefix(source.URL, "file://"))
		if err != nil {
			return nil, fmt.Errorf("failed to read local feed: %w", err)
		}
		return parser.ParseString(string(data))
	}

	feed, err := parser.ParseURLWithContext(source.URL, ctx)
	if err == nil {
		return feed, nil
	}
	c.logger.Debug().Err(err).Str("source", source.URL).Msg("Direct feed parse failed, trying fetcher")

	fetched, fetchErr := c.fetcher.Fetch(ctx, source.URL)
	if fetchErr != nil {
		return nil, fmt.Errorf("feed fetch fallback failed: %w", fetchErr)
	}
	return parser.ParseString(string(fetched.Body))
}

// dedupe removes duplicates by canonical URL, keeping first occurrence.
func dedupe(items []*models.CollectedArticle) []*models.CollectedArticle {
	seen := make(map[string]bool, len(items))
	result := make([]*models.CollectedArticle, 0, len(items))
	for _, item := range items {
		key := item.CanonicalURL()
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, item)
	}
	return result
}
