package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/kojira/ai-rss-reader/internal/common"
	"github.com/kojira/ai-rss-reader/internal/interfaces"
	"github.com/kojira/ai-rss-reader/internal/models"
	"github.com/kojira/ai-rss-reader/internal/scheduler"
)

// ErrLeaseHeld means another live worker owns the ingestion cycle.
var ErrLeaseHeld = errors.New("another worker holds the ingestion lease")

// Limits applied per cycle.
const (
	maxEvalBatchTotal = 200 // articles read into Phase 3 per cycle
	maxImageBackfill  = 100 // articles re-fetched in Phase 2.5 per cycle
)

// EvaluatorFactory builds an evaluator bound to the cycle's settings row.
type EvaluatorFactory func(settings *models.Settings) interfaces.Evaluator

// Worker orchestrates the phased ingestion cycle under the singleton lease.
type Worker struct {
	config       *common.Config
	storage      interfaces.StorageManager
	fetcher      interfaces.Fetcher
	extractor    interfaces.Extractor
	collector    interfaces.FeedCollector
	notifier     interfaces.Notifier
	newEvaluator EvaluatorFactory
	logger       arbor.ILogger

	processedMu sync.Mutex
	processed   int
}

// NewWorker creates the cycle orchestrator
func NewWorker(
	config *common.Config,
	storage interfaces.StorageManager,
	fetcher interfaces.Fetcher,
	extractor interfaces.Extractor,
	collector interfaces.FeedCollector,
	notifier interfaces.Notifier,
	newEvaluator EvaluatorFactory,
	logger arbor.ILogger,
) *Worker {
	return &Worker{
		config:       config,
		storage:      storage,
		fetcher:      fetcher,
		extractor:    extractor,
		collector:    collector,
		notifier:     notifier,
		newEvaluator: newEvaluator,
		logger:       logger,
	}
}

// RunCycle executes one full ingestion cycle: acquire the lease, collect,
// crawl, backfill images, evaluate, notify, release. The teardown runs on
// every exit path.
func (w *Worker) RunCycle(ctx context.Context) error {
	settings, err := w.storage.Status().GetSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	acquired, err := w.acquireLease()
	if err != nil {
		return err
	}
	if !acquired {
		return ErrLeaseHeld
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Cycle panicked, running teardown")
		}
		w.teardown()
	}()

	w.processedMu.Lock()
	w.processed = 0
	w.processedMu.Unlock()

	if err := w.bootstrapSources(); err != nil {
		w.logger.Error().Err(err).Msg("Source bootstrap failed")
	}

	collected := w.runCollectPhase(ctx, settings)
	if ctx.Err() == nil {
		w.runCrawlPhase(ctx, settings, collected)
	}
	if ctx.Err() == nil {
		w.runImageBackfillPhase(ctx)
	}
	if ctx.Err() == nil {
		w.runEvalPhase(ctx, settings)
	}

	w.logger.Info().Int("articles_processed", w.processedCount()).Msg("Cycle complete")
	return nil
}

// acquireLease claims the singleton lease, reclaiming stale rows left by dead
// workers. The PID may name this process or its parent (the spawner holds the
// lease under its own PID until the child takes it over).
func (w *Worker) acquireLease() (bool, error) {
	status, err := w.storage.Status().Get()
	if err != nil {
		return false, fmt.Errorf("failed to read crawler status: %w", err)
	}

	if status.IsCrawling && status.WorkerPID != nil {
		pid := *status.WorkerPID
		if pidAlive(pid) && pid != os.Getpid() && pid != os.Getppid() {
			w.logger.Warn().Int("holder_pid", pid).Msg("Lease held by a live worker, exiting")
			return false, nil
		}
		if !pidAlive(pid) {
			w.logger.Warn().Int("stale_pid", pid).Msg("Reclaiming stale lease")
		}
	}

	self := os.Getpid()
	now := time.Now()
	crawling := true
	task := "Initializing"
	zero := 0
	err = w.storage.Status().Update(&models.StatusPatch{
		IsCrawling:        &crawling,
		WorkerPID:         &self,
		LastRun:           &now,
		CurrentTask:       &task,
		ArticlesProcessed: &zero,
	})
	if err != nil {
		return false, fmt.Errorf("failed to write lease: %w", err)
	}

	w.logger.Info().Int("pid", self).Msg("Lease acquired")
	return true, nil
}

// teardown releases the lease and closes the browser. Runs on every exit.
func (w *Worker) teardown() {
	crawling := false
	task := "Idle"
	err := w.storage.Status().Update(&models.StatusPatch{
		IsCrawling:     &crawling,
		CurrentTask:    &task,
		ClearWorkerPID: true,
	})
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to release lease")
	}
	w.fetcher.CloseBrowser()
}

// bootstrapSources seeds the default source when the list is empty.
func (w *Worker) bootstrapSources() error {
	count, err := w.storage.Sources().Count()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	source := models.DefaultSource()
	w.logger.Info().Str("url", source.URL).Msg("Seeding default source")
	return w.storage.Sources().Save(source)
}

// runCollectPhase gathers candidates from every feed and persists them.
func (w *Worker) runCollectPhase(ctx context.Context, settings *models.Settings) []*models.CollectedArticle {
	w.setTask("Phase 1: Collecting feeds")

	collected := w.collector.CollectAll(ctx, settings.FeedFetchConcurrency)

	for _, item := range collected {
		if err := w.persistCollected(item); err != nil {
			w.logger.Warn().Err(err).Str("url", item.URL).Msg("Failed to persist collected article")
		}
	}

	w.logger.Info().Int("candidates", len(collected)).Msg("Phase 1 complete")
	return collected
}

// persistCollected stores a fresh candidate, or backfills the resolved URL on
// an existing record. The feed title hint never overwrites a crawled title.
func (w *Worker) persistCollected(item *models.CollectedArticle) error {
	existing, err := w.storage.Articles().GetByURL(item.URL)
	if err != nil {
		patch := &models.ArticlePatch{
			URL:           item.URL,
			OriginalTitle: models.StrPtr(item.TitleHint),
			PublishedAt:   item.PublishedAt,
		}
		if item.ResolvedURL != "" {
			patch.ResolvedURL = models.StrPtr(item.ResolvedURL)
		}
		_, err := w.storage.Articles().Upsert(patch)
		return err
	}

	if existing.ResolvedURL == "" && item.ResolvedURL != "" {
		_, err := w.storage.Articles().Upsert(&models.ArticlePatch{
			URL:         item.URL,
			ResolvedURL: models.StrPtr(item.ResolvedURL),
		})
		return err
	}
	return nil
}

// runCrawlPhase drives the domain-throttled fetch+extract over the collected
// list, then closes the browser.
func (w *Worker) runCrawlPhase(ctx context.Context, settings *models.Settings, collected []*models.CollectedArticle) {
	crawlable := make([]*models.CollectedArticle, 0, len(collected))
	for _, item := range collected {
		article, err := w.storage.Articles().GetByURL(item.URL)
		if err == nil && !article.Crawlable() {
			continue
		}
		crawlable = append(crawlable, item)
	}
	if len(crawlable) == 0 {
		w.logger.Info().Msg("Phase 2: nothing to crawl")
		return
	}

	queue := scheduler.NewDomainQueue(
		settings.MaxConcurrentPerDomain,
		settings.MaxTotalConcurrent,
		settings.DomainDelay(),
		w.logger,
	)
	for _, item := range crawlable {
		queue.Enqueue(item)
	}

	queue.Run(ctx, w.crawlOne, func(stats scheduler.Stats) {
		w.setTask(fmt.Sprintf("Phase 2: Crawling [%d/%d] (%d active, %d queued)",
			stats.Dispatched, stats.Total, stats.Active, stats.Queued))
	})

	w.fetcher.CloseBrowser()
	w.logger.Info().Int("crawled", len(crawlable)).Msg("Phase 2 complete")
}

// crawlOne fetches, extracts, and persists a single candidate. Failures are
// local: they are recorded and the queue moves on.
func (w *Worker) crawlOne(ctx context.Context, item *models.CollectedArticle) {
	if err := w.fetchAndStore(ctx, item); err != nil {
		w.recordError(item.URL, item.TitleHint, models.PhaseCrawl, "domain-throttled crawl phase", err)
		return
	}
	w.incrementProcessed()
}

func (w *Worker) fetchAndStore(ctx context.Context, item *models.CollectedArticle) error {
	fetched, err := w.fetcher.Fetch(ctx, item.CanonicalURL())
	if err != nil {
		return err
	}

	extracted, err := w.extractor.Extract(fetched)
	if err != nil {
		return err
	}

	patch := &models.ArticlePatch{
		URL:           item.URL,
		OriginalTitle: models.StrPtr(extracted.Title),
		Content:       models.StrPtr(extracted.Text),
	}
	if item.ResolvedURL != "" {
		patch.ResolvedURL = models.StrPtr(item.ResolvedURL)
	}
	if extracted.ImageURL != "" {
		patch.ImageURL = models.StrPtr(extracted.ImageURL)
	}
	if item.PublishedAt != nil {
		patch.PublishedAt = item.PublishedAt
	}

	if _, err := w.storage.Articles().Upsert(patch); err != nil {
		return models.NewStorageError(err)
	}
	return nil
}

// runImageBackfillPhase re-fetches a bounded set of crawled articles that
// have no image, pacing requests at one per second.
func (w *Worker) runImageBackfillPhase(ctx context.Context) {
	w.setTask("Phase 2.5: Backfilling images")

	articles, err := w.storage.Articles().WithoutImages(maxImageBackfill)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to list articles without images")
		return
	}
	if len(articles) == 0 {
		return
	}

	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	filled := 0
	for _, article := range articles {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		fetched, err := w.fetcher.Fetch(ctx, article.CanonicalURL())
		if err != nil {
			w.logger.Debug().Err(err).Str("url", article.URL).Msg("Image backfill fetch failed")
			continue
		}
		extracted, err := w.extractor.Extract(fetched)
		if err != nil || extracted.ImageURL == "" {
			continue
		}

		_, err = w.storage.Articles().Upsert(&models.ArticlePatch{
			URL:      article.URL,
			ImageURL: models.StrPtr(extracted.ImageURL),
		})
		if err != nil {
			w.logger.Warn().Err(err).Str("url", article.URL).Msg("Failed to store backfilled image")
			continue
		}
		filled++
	}

	w.logger.Info().Int("candidates", len(articles)).Int("filled", filled).Msg("Phase 2.5 complete")
}

// runEvalPhase evaluates unprocessed articles in settled batches: one failure
// never cancels its siblings.
func (w *Worker) runEvalPhase(ctx context.Context, settings *models.Settings) {
	w.setTask("Phase 3: Evaluating articles")

	unprocessed, err := w.storage.Articles().Unprocessed(maxEvalBatchTotal)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to list unprocessed articles")
		return
	}

	evalable := make([]*models.Article, 0, len(unprocessed))
	for _, article := range unprocessed {
		if !article.Crawlable() && !article.Evaluated() {
			evalable = append(evalable, article)
		}
	}
	if len(evalable) == 0 {
		w.logger.Info().Msg("Phase 3: nothing to evaluate")
		return
	}

	eval := w.newEvaluator(settings)
	batchSize := settings.EvalConcurrency
	if batchSize < 1 {
		batchSize = 1
	}

	evaluated := 0
	for start := 0; start < len(evalable); start += batchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + batchSize
		if end > len(evalable) {
			end = len(evalable)
		}
		batch := evalable[start:end]

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, article := range batch {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if w.evaluateOne(ctx, eval, settings, article) {
					mu.Lock()
					evaluated++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
	}

	w.logger.Info().Int("candidates", len(evalable)).Int("evaluated", evaluated).Msg("Phase 3 complete")
}

// evaluateOne runs the LLM, persists the scores atomically, clears any prior
// error for the URL, and notifies when the average clears the threshold.
func (w *Worker) evaluateOne(ctx context.Context, eval interfaces.Evaluator, settings *models.Settings, article *models.Article) bool {
	result, err := eval.Evaluate(ctx, article)
	if err != nil {
		w.recordError(article.URL, article.OriginalTitle, models.PhaseEval, "evaluation batch", err)
		return false
	}

	scores := result.Scores
	updated, err := w.storage.Articles().Upsert(&models.ArticlePatch{
		URL:             article.URL,
		TranslatedTitle: models.StrPtr(result.TranslatedTitle),
		Summary:         models.StrPtr(result.Summary),
		ShortSummary:    models.StrPtr(result.ShortSummary),
		Scores:          &scores,
	})
	if err != nil {
		w.recordError(article.URL, article.OriginalTitle, models.PhaseEval, "evaluation batch", models.NewStorageError(err))
		return false
	}

	if err := w.storage.Errors().ClearByURL(article.URL); err != nil {
		w.logger.Warn().Err(err).Str("url", article.URL).Msg("Failed to clear error record")
	}

	if result.AverageScore >= settings.ScoreThreshold {
		if err := w.notifier.Notify(ctx, settings.WebhookURL, updated); err != nil {
			w.recordError(article.URL, article.OriginalTitle, models.PhaseNotify, "webhook notification", err)
		}
	}

	w.incrementProcessed()
	return true
}

// recordError persists a durable failure record for a URL.
func (w *Worker) recordError(url, titleHint string, phase models.Phase, context string, err error) {
	w.logger.Warn().Err(err).Str("url", url).Str("phase", string(phase)).Msg("Pipeline failure")

	record := &models.ArticleError{
		URL:          url,
		TitleHint:    titleHint,
		ErrorMessage: models.MessageOf(err),
		StackTrace:   fmt.Sprintf("%+v", err),
		Phase:        phase,
		Context:      context,
	}
	if storeErr := w.storage.Errors().Record(record); storeErr != nil {
		w.logger.Error().Err(storeErr).Str("url", url).Msg("Failed to record error")
	}

	msg := models.MessageOf(err)
	if updErr := w.storage.Status().Update(&models.StatusPatch{LastError: &msg}); updErr != nil {
		w.logger.Error().Err(updErr).Msg("Failed to update last error")
	}
}

func (w *Worker) setTask(task string) {
	if err := w.storage.Status().Update(&models.StatusPatch{CurrentTask: &task}); err != nil {
		w.logger.Warn().Err(err).Str("task", task).Msg("Failed to update current task")
	}
}

func (w *Worker) incrementProcessed() {
	w.processedMu.Lock()
	w.processed++
	count := w.processed
	w.processedMu.Unlock()

	if err := w.storage.Status().Update(&models.StatusPatch{ArticlesProcessed: &count}); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to update processed count")
	}
}

func (w *Worker) processedCount() int {
	w.processedMu.Lock()
	defer w.processedMu.Unlock()
	return w.processed
}
