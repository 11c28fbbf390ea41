// Package capability defines the collaborator ports the crawl kernel
// depends on but does not implement itself: fetching a URL, extracting
// structured data from a page's HTML, and persisting the results. These
// mirror the teacher's store.Querier/Transactor port-interface idiom,
// generalized from "a SQL executor" to "an external collaborator".
package capability

import (
	"context"

	"github.com/fntelecomllc/crawlkernel/internal/models"
)

// FetchOptions customizes one HTTP fetch.
type FetchOptions struct {
	UserAgent  string
	Referer    string
	SkipRobots bool
}

// Response is a fetched page's body, lazily materialized as text.
type Response interface {
	Text() (string, error)
	StatusCode() int
}

// Fetcher retrieves a page's HTML. Implementations must surface network
// errors (DNS, connect, timeout) distinctly from HTTP-status errors so the
// retry policy can classify them independently.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) (Response, error)
}

// Extractor parses HTML into the structures the kernel needs. It never
// touches the network.
type Extractor interface {
	ExtractProductURLs(html string) ([]string, error)
	ExtractProductDetail(html, url string) (*models.ProductDetail, error)
	ExtractTotalPages(html string) (int32, error)
}

// Repository is the persistence port the stage logic and sync engine write
// through; internal/persistence and internal/store/postgres provide the
// concrete implementation.
type Repository interface {
	UpsertProduct(ctx context.Context, tx Tx, p *models.Product) (wasUpdated, wasCreated bool, err error)
	UpsertProductDetail(ctx context.Context, tx Tx, d *models.ProductDetail) (wasUpdated, wasCreated bool, err error)
	GetProductDetailByURL(ctx context.Context, tx Tx, url string) (*models.ProductDetail, error)
	GetProductDetailStats(ctx context.Context, tx Tx) (count int64, minPage, maxPage int32, quality float64, err error)

	// WithTx runs fn inside a single transaction, committing on success and
	// rolling back if fn returns an error or panics.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is an opaque handle threaded through a Repository call so several
// operations can share one transaction. A nil Tx means "use the
// repository's own connection", matching the teacher's `exec Querier`
// convention where a nil exec falls back to s.db.
type Tx interface{}
