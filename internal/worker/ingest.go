package worker

import (
	"context"
	"fmt"

	"github.com/kojira/ai-rss-reader/internal/models"
)

// IngestURL runs the full crawl+evaluate pipeline for one URL synchronously,
// bypassing the phased cycle but reusing the same fetch, extract, evaluate,
// and notify machinery. Used by manual ingestion and retries.
func (w *Worker) IngestURL(ctx context.Context, rawURL string) (*models.Article, error) {
	settings, err := w.storage.Status().GetSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	resolved, err := w.fetcher.ResolveURL(ctx, rawURL)
	if err != nil {
		w.logger.Warn().Err(err).Str("url", rawURL).Msg("Resolution failed, using original URL")
		resolved = rawURL
	}

	item := &models.CollectedArticle{URL: rawURL}
	if resolved != rawURL {
		item.ResolvedURL = resolved
	}

	if err := w.fetchAndStore(ctx, item); err != nil {
		w.recordError(rawURL, "", models.PhaseCrawl, "manual ingest", err)
		return nil, err
	}

	article, err := w.storage.Articles().GetByURL(rawURL)
	if err != nil {
		return nil, models.NewStorageError(err)
	}

	eval := w.newEvaluator(settings)
	if !w.evaluateOne(ctx, eval, settings, article) {
		return article, fmt.Errorf("evaluation failed for %s", rawURL)
	}

	return w.storage.Articles().GetByURL(rawURL)
}

// Retry re-runs the pipeline for an ID naming either a stored article or a
// failure record. The fallback lookup happens before the pipeline runs, so a
// crawl or evaluation failure surfaces as itself rather than as a second
// not-found error.
func (w *Worker) Retry(ctx context.Context, id string) (*models.Article, error) {
	article, err := w.storage.Articles().GetByID(id)
	if err == nil {
		return w.IngestURL(ctx, article.URL)
	}
	record, recordErr := w.storage.Errors().GetByID(id)
	if recordErr != nil {
		return nil, fmt.Errorf("no article or error record with ID %s", id)
	}
	return w.IngestURL(ctx, record.URL)
}
