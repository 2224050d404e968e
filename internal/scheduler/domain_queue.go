package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kojira/ai-rss-reader/internal/common"
	"github.com/kojira/ai-rss-reader/internal/models"
)

// defaultWait is returned by WaitTime when nothing can be dispatched and no
// host delay gives a tighter bound.
const defaultWait = 100 * time.Millisecond

// idleSleep is the retry interval when the queue is non-empty but nothing is
// in flight and nothing is dispatchable.
const idleSleep = 50 * time.Millisecond

// Stats is a dispatch-time progress snapshot.
type Stats struct {
	Dispatched int
	Total      int
	Active     int
	Queued     int
}

// DomainQueue dispatches candidate articles under three simultaneous limits:
// per-host concurrency, global concurrency, and a minimum inter-dispatch gap
// per host. Hosts are scanned in insertion order so a long skewed feed cannot
// starve later hosts.
type DomainQueue struct {
	maxPerDomain int
	maxTotal     int
	delay        time.Duration
	logger       arbor.ILogger

	mu           sync.Mutex
	hostOrder    []string
	queues       map[string][]*models.CollectedArticle
	active       map[string]int
	lastDispatch map[string]time.Time
	totalActive  int
	dispatched   int
	total        int
}

// NewDomainQueue creates a queue with the given limits. delay may be zero;
// the concurrency caps still apply.
func NewDomainQueue(maxPerDomain, maxTotal int, delay time.Duration, logger arbor.ILogger) *DomainQueue {
	if maxPerDomain < 1 {
		maxPerDomain = 1
	}
	if maxTotal < 1 {
		maxTotal = 1
	}
	return &DomainQueue{
		maxPerDomain: maxPerDomain,
		maxTotal:     maxTotal,
		delay:        delay,
		logger:       logger,
		queues:       make(map[string][]*models.CollectedArticle),
		active:       make(map[string]int),
		lastDispatch: make(map[string]time.Time),
	}
}

// Enqueue adds an article to its host's FIFO queue.
func (q *DomainQueue) Enqueue(article *models.CollectedArticle) {
	host := article.Host()

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.queues[host]; !exists {
		q.hostOrder = append(q.hostOrder, host)
	}
	q.queues[host] = append(q.queues[host], article)
	q.total++
}

// NextAvailable pops the next dispatchable article, or nil when no host is
// currently eligible. The pop, counter increments, and dispatch timestamp
// update happen atomically.
func (q *DomainQueue) NextAvailable() *models.CollectedArticle {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.totalActive >= q.maxTotal {
		return nil
	}

	now := time.Now()
	for _, host := range q.hostOrder {
		queue := q.queues[host]
		if len(queue) == 0 {
			continue
		}
		if q.active[host] >= q.maxPerDomain {
			continue
		}
		if last, ok := q.lastDispatch[host]; ok && now.Sub(last) < q.delay {
			continue
		}

		article := queue[0]
		q.queues[host] = queue[1:]
		q.active[host]++
		q.totalActive++
		q.lastDispatch[host] = now
		q.dispatched++
		return article
	}
	return nil
}

// WaitTime returns how long until any host could become dispatchable: zero
// when one already is, the tightest remaining host delay otherwise, or the
// default wait when only capacity (not timing) is in the way.
func (q *DomainQueue) WaitTime() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.totalActive >= q.maxTotal {
		return defaultWait
	}

	now := time.Now()
	best := time.Duration(-1)
	for _, host := range q.hostOrder {
		if len(q.queues[host]) == 0 {
			continue
		}
		if q.active[host] >= q.maxPerDomain {
			continue
		}
		remaining := time.Duration(0)
		if last, ok := q.lastDispatch[host]; ok {
			if elapsed := now.Sub(last); elapsed < q.delay {
				remaining = q.delay - elapsed
			}
		}
		if remaining <= 0 {
			return 0
		}
		if best < 0 || remaining < best {
			best = remaining
		}
	}
	if best < 0 {
		return defaultWait
	}
	return best
}

// MarkComplete releases the slots held by a dispatched article. Never
// underflows.
func (q *DomainQueue) MarkComplete(article *models.CollectedArticle) {
	host := article.Host()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active[host] > 0 {
		q.active[host]--
	}
	if q.totalActive > 0 {
		q.totalActive--
	}
}

// Pending returns the number of queued, undispatched articles.
func (q *DomainQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := 0
	for _, queue := range q.queues {
		pending += len(queue)
	}
	return pending
}

// ActiveTotal returns the number of in-flight articles.
func (q *DomainQueue) ActiveTotal() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalActive
}

// snapshot returns a progress snapshot. Callers hold no lock.
func (q *DomainQueue) snapshot() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	queued := 0
	for _, queue := range q.queues {
		queued += len(queue)
	}
	return Stats{
		Dispatched: q.dispatched,
		Total:      q.total,
		Active:     q.totalActive,
		Queued:     queued,
	}
}

// Run drives the queue to completion: it dispatches whenever a host is
// eligible, waits for in-flight work or the next host delay otherwise, and
// returns when every queue is drained and nothing is in flight. Cancelling
// the context abandons the remaining queue but waits for in-flight work.
func (q *DomainQueue) Run(ctx context.Context, process func(context.Context, *models.CollectedArticle), onDispatch func(Stats)) {
	var wg sync.WaitGroup
	completed := make(chan struct{}, 1)

	for {
		if ctx.Err() != nil {
			break
		}

		article := q.NextAvailable()
		if article != nil {
			if onDispatch != nil {
				onDispatch(q.snapshot())
			}
			wg.Add(1)
			common.SafeGo(q.logger, "crawl-dispatch", func() {
				defer wg.Done()
				defer func() {
					q.MarkComplete(article)
					select {
					case completed <- struct{}{}:
					default:
					}
				}()
				process(ctx, article)
			})
			continue
		}

		if q.Pending() == 0 && q.ActiveTotal() == 0 {
			break
		}

		if q.ActiveTotal() > 0 {
			wait := q.WaitTime()
			if wait <= 0 {
				continue
			}
			timer := time.NewTimer(wait)
			select {
			case <-completed:
				timer.Stop()
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
			continue
		}

		// Queue non-empty, nothing in flight: a host delay has to elapse.
		select {
		case <-time.After(idleSleep):
		case <-ctx.Done():
		}
	}

	wg.Wait()
}
