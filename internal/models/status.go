package models

import "time"

// Phase tags the pipeline stage an error belongs to.
type Phase string

const (
	PhaseCrawl  Phase = "CRAWL"
	PhaseEval   Phase = "EVAL"
	PhaseNotify Phase = "NOTIFY"
)

// ArticleError is the durable failure record for a URL. At most one record
// exists per URL; newer failures replace older ones.
type ArticleError struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	TitleHint    string    `json:"title_hint,omitempty"`
	ErrorMessage string    `json:"error_message"`
	StackTrace   string    `json:"stack_trace,omitempty"`
	Phase        Phase     `json:"phase"`
	Context      string    `json:"context,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// BlockedDomain marks a host as hostile for the remainder of the process
// lifetime. Blocked hosts are never fetched and never surfaced in reads.
type BlockedDomain struct {
	ID        string    `json:"id"`
	Domain    string    `json:"domain"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// CrawlerStatus is the singleton worker lease and progress row.
// Invariant: WorkerPID is non-nil iff IsCrawling is true.
type CrawlerStatus struct {
	IsCrawling        bool       `json:"is_crawling"`
	LastRun           *time.Time `json:"last_run,omitempty"`
	CurrentTask       string     `json:"current_task"`
	ArticlesProcessed int        `json:"articles_processed"`
	LastError         string     `json:"last_error,omitempty"`
	WorkerPID         *int       `json:"worker_pid,omitempty"`
}

// StatusPatch is a partial CrawlerStatus update; nil fields are preserved.
// ClearWorkerPID distinguishes "leave PID alone" from "set PID to null".
type StatusPatch struct {
	IsCrawling        *bool
	LastRun           *time.Time
	CurrentTask       *string
	ArticlesProcessed *int
	LastError         *string
	WorkerPID         *int
	ClearWorkerPID    bool
}

// Apply merges the patch into the status row.
func (p *StatusPatch) Apply(s *CrawlerStatus) {
	if p.IsCrawling != nil {
		s.IsCrawling = *p.IsCrawling
	}
	if p.LastRun != nil {
		s.LastRun = p.LastRun
	}
	if p.CurrentTask != nil {
		s.CurrentTask = *p.CurrentTask
	}
	if p.ArticlesProcessed != nil {
		s.ArticlesProcessed = *p.ArticlesProcessed
	}
	if p.LastError != nil {
		s.LastError = *p.LastError
	}
	if p.ClearWorkerPID {
		s.WorkerPID = nil
	} else if p.WorkerPID != nil {
		s.WorkerPID = p.WorkerPID
	}
}

// Settings is the singleton runtime configuration row. Credentials live here
// rather than in process environment so the API layer can manage them.
type Settings struct {
	LLMAPIKey              string  `json:"llm_api_key,omitempty"`
	WebhookURL             string  `json:"webhook_url,omitempty"`
	ScoreThreshold         float64 `json:"score_threshold" validate:"gte=0,lte=5"`
	FeedFetchConcurrency   int     `json:"feed_fetch_concurrency" validate:"gte=1"`
	MaxConcurrentPerDomain int     `json:"max_concurrent_per_domain" validate:"gte=1"`
	MaxTotalConcurrent     int     `json:"max_total_concurrent" validate:"gte=1"`
	DomainDelayMs          int     `json:"domain_delay_ms" validate:"gte=0"`
	EvalConcurrency        int     `json:"eval_concurrency" validate:"gte=1"`
}

// DefaultSettings returns the seeded Settings row.
func DefaultSettings() *Settings {
	return &Settings{
		ScoreThreshold:         3.5,
		FeedFetchConcurrency:   5,
		MaxConcurrentPerDomain: 2,
		MaxTotalConcurrent:     10,
		DomainDelayMs:          1000,
		EvalConcurrency:        5,
	}
}

// DomainDelay returns DomainDelayMs as a duration.
func (s *Settings) DomainDelay() time.Duration {
	return time.Duration(s.DomainDelayMs) * time.Millisecond
}

// EvaluationResult is the strict parse of the LLM response.
type EvaluationResult struct {
	TranslatedTitle string   `json:"translatedTitle"`
	Summary         string   `json:"summary"`
	ShortSummary    string   `json:"shortSummary"`
	Scores          ScoreSet `json:"scores"`
	AverageScore    float64  `json:"averageScore"`
}

// FetchResult is the payload returned by the fetcher.
type FetchResult struct {
	Body        []byte
	ContentType string
	FinalURL    string
}

// ExtractResult is the readable projection of a fetched payload.
type ExtractResult struct {
	Title    string
	Text     string
	ImageURL string
	FinalURL string
}
