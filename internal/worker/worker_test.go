package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/kojira/ai-rss-reader/internal/common"
	"github.com/kojira/ai-rss-reader/internal/interfaces"
	"github.com/kojira/ai-rss-reader/internal/models"
	badgerstorage "github.com/kojira/ai-rss-reader/internal/storage/badger"
)

// --- stub services -------------------------------------------------------

type stubFetcher struct {
	mu     sync.Mutex
	errs   map[string]error
	closed int
}

func (f *stubFetcher) Fetch(ctx context.Context, rawURL string) (*models.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	return &models.FetchResult{
		Body:        []byte("<html></html>"),
		ContentType: "text/html",
		FinalURL:    rawURL,
	}, nil
}

func (f *stubFetcher) ResolveURL(ctx context.Context, rawURL string) (string, error) {
	return rawURL, nil
}

func (f *stubFetcher) CloseBrowser() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

type stubExtractor struct {
	results map[string]*models.ExtractResult
}

func (e *stubExtractor) Extract(fetched *models.FetchResult) (*models.ExtractResult, error) {
	if result, ok := e.results[fetched.FinalURL]; ok {
		return result, nil
	}
	return nil, models.NewReadabilityError(fmt.Errorf("no extraction stubbed for %s", fetched.FinalURL))
}

type stubCollector struct {
	items []*models.CollectedArticle
}

func (c *stubCollector) CollectAll(ctx context.Context, concurrency int) []*models.CollectedArticle {
	return c.items
}

type stubEvaluator struct {
	mu      sync.Mutex
	results map[string]*models.EvaluationResult
	errs    map[string]error
	calls   int
}

func (e *stubEvaluator) Evaluate(ctx context.Context, article *models.Article) (*models.EvaluationResult, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if err, ok := e.errs[article.URL]; ok {
		return nil, err
	}
	if result, ok := e.results[article.URL]; ok {
		return result, nil
	}
	return nil, fmt.Errorf("no evaluation stubbed for %s", article.URL)
}

type stubNotifier struct {
	mu       sync.Mutex
	notified []*models.Article
}

func (n *stubNotifier) Notify(ctx context.Context, webhookURL string, article *models.Article) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, article)
	return nil
}

// --- harness -------------------------------------------------------------

type harness struct {
	storage   interfaces.StorageManager
	fetcher   *stubFetcher
	extractor *stubExtractor
	collector *stubCollector
	evaluator *stubEvaluator
	notifier  *stubNotifier
	worker    *Worker
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := arbor.NewLogger()
	storage, err := badgerstorage.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open test storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	h := &harness{
		storage:   storage,
		fetcher:   &stubFetcher{errs: map[string]error{}},
		extractor: &stubExtractor{results: map[string]*models.ExtractResult{}},
		collector: &stubCollector{},
		evaluator: &stubEvaluator{results: map[string]*models.EvaluationResult{}, errs: map[string]error{}},
		notifier:  &stubNotifier{},
	}

	factory := func(settings *models.Settings) interfaces.Evaluator { return h.evaluator }
	h.worker = NewWorker(common.NewDefaultConfig(), storage, h.fetcher, h.extractor, h.collector, h.notifier, factory, logger)
	return h
}

// addHappyArticle wires one URL end to end through the stubs.
func (h *harness) addHappyArticle(url string) {
	h.collector.items = append(h.collector.items, &models.CollectedArticle{URL: url, TitleHint: "hint"})
	h.extractor.results[url] = &models.ExtractResult{
		Title:    "T",
		Text:     strings.Repeat("t", 400),
		ImageURL: "https://site.example/cover.png",
		FinalURL: url,
	}
	h.evaluator.results[url] = &models.EvaluationResult{
		TranslatedTitle: "T-ja",
		Summary:         "summary",
		ShortSummary:    "S",
		Scores:          models.ScoreSet{Novelty: 5, Importance: 4, Reliability: 4, ContextValue: 3, ThoughtProvoking: 5},
		AverageScore:    4.2,
	}
}

func (h *harness) setThreshold(t *testing.T, threshold float64) {
	t.Helper()
	settings, err := h.storage.Status().GetSettings()
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	settings.ScoreThreshold = threshold
	settings.DomainDelayMs = 0
	if err := h.storage.Status().SaveSettings(settings); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
}

func (h *harness) assertIdle(t *testing.T) {
	t.Helper()
	status, err := h.storage.Status().Get()
	if err != nil {
		t.Fatalf("Status read failed: %v", err)
	}
	if status.IsCrawling {
		t.Error("Expected is_crawling=0 after cycle")
	}
	if status.WorkerPID != nil {
		t.Error("Expected worker PID cleared after cycle")
	}
	if status.CurrentTask != "Idle" {
		t.Errorf("Expected Idle task, got %q", status.CurrentTask)
	}
}

// --- scenarios -----------------------------------------------------------

func TestHappyCrawlCycle(t *testing.T) {
	h := newHarness(t)
	h.setThreshold(t, 0)
	h.addHappyArticle("https://site.example/a")

	if err := h.worker.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	article, err := h.storage.Articles().GetByURL("https://site.example/a")
	if err != nil {
		t.Fatalf("Article not stored: %v", err)
	}
	if article.AverageScore == nil || *article.AverageScore != 4.2 {
		t.Errorf("Expected average 4.2, got %v", article.AverageScore)
	}
	if article.OriginalTitle != "T" {
		t.Errorf("Expected extracted title, got %q", article.OriginalTitle)
	}
	if len(article.Content) != 400 {
		t.Errorf("Expected 400-char content, got %d", len(article.Content))
	}
	if article.ImageURL != "https://site.example/cover.png" {
		t.Errorf("Expected image stored, got %q", article.ImageURL)
	}

	if len(h.notifier.notified) != 1 {
		t.Fatalf("Expected exactly one notification, got %d", len(h.notifier.notified))
	}
	if h.fetcher.closed == 0 {
		t.Error("Browser should be closed during the cycle")
	}
	h.assertIdle(t)
}

func TestBelowThresholdIsNotNotified(t *testing.T) {
	h := newHarness(t)
	h.setThreshold(t, 4.5)
	h.addHappyArticle("https://site.example/a")

	if err := h.worker.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if len(h.notifier.notified) != 0 {
		t.Errorf("Expected zero notifications below threshold, got %d", len(h.notifier.notified))
	}

	article, _ := h.storage.Articles().GetByURL("https://site.example/a")
	if article == nil || !article.Evaluated() {
		t.Error("Article should still be evaluated and stored")
	}
	h.assertIdle(t)
}

func TestEvalFailureIsolation(t *testing.T) {
	h := newHarness(t)
	h.setThreshold(t, 0)

	urls := make([]string, 5)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://site-%d.example/a", i)
		h.addHappyArticle(urls[i])
	}
	// Article 3 fails evaluation; its siblings must not be cancelled
	delete(h.evaluator.results, urls[2])
	h.evaluator.errs[urls[2]] = models.NewInvalidLLMError(fmt.Errorf("not json"))

	if err := h.worker.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	for i, url := range urls {
		article, err := h.storage.Articles().GetByURL(url)
		if err != nil {
			t.Fatalf("Article %d missing: %v", i, err)
		}
		if i == 2 {
			if article.Evaluated() {
				t.Error("Failed article must not carry scores")
			}
			continue
		}
		if !article.Evaluated() {
			t.Errorf("Article %d should be evaluated", i)
		}
	}

	record, err := h.storage.Errors().GetByURL(urls[2])
	if err != nil {
		t.Fatalf("Expected an error record for the failed article: %v", err)
	}
	if record.Phase != models.PhaseEval {
		t.Errorf("Expected EVAL phase, got %s", record.Phase)
	}
	if record.ErrorMessage != "AI returned invalid analysis data" {
		t.Errorf("Unexpected message %q", record.ErrorMessage)
	}

	if len(h.notifier.notified) != 4 {
		t.Errorf("Expected 4 notifications, got %d", len(h.notifier.notified))
	}
	h.assertIdle(t)
}

func TestCrawlFailureRecordsError(t *testing.T) {
	h := newHarness(t)
	h.setThreshold(t, 0)

	h.collector.items = []*models.CollectedArticle{
		{URL: "https://hostile.example/a", TitleHint: "hint"},
	}
	h.fetcher.errs["https://hostile.example/a"] = models.NewBotProtectionError("hostile.example")

	if err := h.worker.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	record, err := h.storage.Errors().GetByURL("https://hostile.example/a")
	if err != nil {
		t.Fatalf("Expected an error record: %v", err)
	}
	if record.Phase != models.PhaseCrawl {
		t.Errorf("Expected CRAWL phase, got %s", record.Phase)
	}
	if record.Context != "domain-throttled crawl phase" {
		t.Errorf("Unexpected context %q", record.Context)
	}
	if record.ErrorMessage != "Domain blocked: hostile.example" {
		t.Errorf("Unexpected message %q", record.ErrorMessage)
	}
	h.assertIdle(t)
}

func TestClearErrorOnSuccessfulProcessing(t *testing.T) {
	h := newHarness(t)
	h.setThreshold(t, 0)
	h.addHappyArticle("https://site.example/a")

	// A failure from an earlier cycle
	if err := h.storage.Errors().Record(&models.ArticleError{
		URL:          "https://site.example/a",
		ErrorMessage: "Failed to reach source (Timeout)",
		Phase:        models.PhaseCrawl,
	}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	if err := h.worker.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if _, err := h.storage.Errors().GetByURL("https://site.example/a"); err == nil {
		t.Error("Expected error record cleared after successful processing")
	}
}

func TestLeaseHeldByLiveForeignWorker(t *testing.T) {
	h := newHarness(t)

	// PID 1 is alive and is neither this process nor its parent
	crawling := true
	pid := 1
	if err := h.storage.Status().Update(&models.StatusPatch{IsCrawling: &crawling, WorkerPID: &pid}); err != nil {
		t.Fatalf("Status update failed: %v", err)
	}

	err := h.worker.RunCycle(context.Background())
	if err != ErrLeaseHeld {
		t.Fatalf("Expected ErrLeaseHeld, got %v", err)
	}

	// The foreign lease must be left untouched
	status, _ := h.storage.Status().Get()
	if !status.IsCrawling || status.WorkerPID == nil || *status.WorkerPID != 1 {
		t.Error("Foreign lease was modified")
	}
}

func TestStaleLeaseIsReclaimed(t *testing.T) {
	h := newHarness(t)
	h.setThreshold(t, 0)

	// A dead worker left the lease behind
	crawling := true
	deadPID := 99999999
	if err := h.storage.Status().Update(&models.StatusPatch{IsCrawling: &crawling, WorkerPID: &deadPID}); err != nil {
		t.Fatalf("Status update failed: %v", err)
	}

	if err := h.worker.RunCycle(context.Background()); err != nil {
		t.Fatalf("Expected stale lease reclaim, got %v", err)
	}
	h.assertIdle(t)
}

func TestDefaultSourceIsSeeded(t *testing.T) {
	h := newHarness(t)
	h.setThreshold(t, 0)

	if err := h.worker.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	sources, err := h.storage.Sources().List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("Expected one seeded source, got %d", len(sources))
	}
	if sources[0].URL != models.DefaultSource().URL {
		t.Errorf("Unexpected seeded source %q", sources[0].URL)
	}
}
