package interfaces

import (
	"github.com/kojira/ai-rss-reader/internal/models"
)

// ArticleStorage persists articles keyed by their feed-given URL.
type ArticleStorage interface {
	// Upsert merges the patch into the record stored under patch.URL,
	// creating it when absent. Supplied fields overwrite, omitted fields
	// preserve prior values (including ResolvedURL). Idempotent for the
	// same input.
	Upsert(patch *models.ArticlePatch) (*models.Article, error)

	GetByURL(url string) (*models.Article, error)
	GetByID(id string) (*models.Article, error)

	// List returns stored articles, newest first, with blocked hosts
	// filtered out.
	List(limit, offset int) ([]*models.Article, error)

	// Unprocessed returns articles that are crawlable or unevaluated,
	// with blocked hosts filtered out.
	Unprocessed(limit int) ([]*models.Article, error)

	// WithoutImages returns crawled articles missing an image URL, with
	// blocked hosts filtered out.
	WithoutImages(limit int) ([]*models.Article, error)

	Delete(url string) error
	Count() (int, error)
}

// SourceStorage persists the user-managed feed list.
type SourceStorage interface {
	Save(source *models.Source) error
	GetByID(id string) (*models.Source, error)
	List() ([]*models.Source, error)
	Delete(id string) error
	Count() (int, error)
}

// ErrorStorage persists per-URL failure records; one record per URL.
type ErrorStorage interface {
	// Record replaces any existing error for the same URL.
	Record(e *models.ArticleError) error
	GetByURL(url string) (*models.ArticleError, error)
	GetByID(id string) (*models.ArticleError, error)
	// Latest returns the newest records, capped at limit.
	Latest(limit int) ([]*models.ArticleError, error)
	ClearByURL(url string) error
}

// BlocklistStorage tracks hosts considered permanently hostile. Membership
// added mid-cycle takes effect for subsequent requests in the same process.
type BlocklistStorage interface {
	Block(domain, reason string) error
	IsBlocked(domain string) (bool, error)
	List() ([]*models.BlockedDomain, error)
}

// StatusStorage owns the CrawlerStatus and Settings singletons.
type StatusStorage interface {
	Get() (*models.CrawlerStatus, error)
	// Update applies a partial status update atomically; only provided
	// fields change.
	Update(patch *models.StatusPatch) error

	GetSettings() (*models.Settings, error)
	SaveSettings(settings *models.Settings) error
}

// StorageManager bundles the entity storages over one embedded store.
type StorageManager interface {
	Articles() ArticleStorage
	Sources() SourceStorage
	Errors() ErrorStorage
	Blocklist() BlocklistStorage
	Status() StatusStorage
	Close() error
}
