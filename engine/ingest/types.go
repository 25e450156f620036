package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/engine/scraper"
	"github.com/IsmailZhaf/cari-fit-backend/engine/semantic"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/metrics"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/repo"
)

type fetcher interface {
	Fetch(ctx context.Context, url string) (scraper.Page, error)
}

type extractor interface {
	ExtractListings(ctx context.Context, content string) ([]domain.Listing, error)
	ExtractPosting(ctx context.Context, content string) (domain.PostingFields, error)
}

type postingStore interface {
	Upsert(ctx context.Context, f domain.PostingFields, c domain.Category) (domain.Posting, error)
	MarkIndexed(ctx context.Context, id uuid.UUID) error
}

type unindexedLister interface {
	ListUnindexed(ctx context.Context, c domain.Category, opts repo.ListOpts) ([]domain.Posting, error)
	MarkIndexed(ctx context.Context, id uuid.UUID) error
}

type resolver interface {
	Resolve(ctx context.Context, c domain.Category) (semantic.Collection, error)
}

type indexer interface {
	Upsert(ctx context.Context, coll semantic.Collection, p domain.Posting) error
}

// Options tunes a crawl run.
type Options struct {
	// Concurrency bounds how many categories are crawled at once.
	Concurrency     int
	PagesPerKeyword int
	MaxPerKeyword   int
	PagePause       time.Duration
	KeywordPause    time.Duration
	Location        string
	// ItemTimeout bounds the store and index step of one posting, which
	// runs to completion even when the run is cancelled.
	ItemTimeout time.Duration
}

// DefaultOptions matches the configured defaults.
func DefaultOptions() Options {
	return Options{
		Concurrency:     4,
		PagesPerKeyword: 1,
		MaxPerKeyword:   5,
		PagePause:       time.Second,
		KeywordPause:    2 * time.Second,
		Location:        "Indonesia",
		ItemTimeout:     3 * time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.PagesPerKeyword <= 0 {
		o.PagesPerKeyword = d.PagesPerKeyword
	}
	if o.MaxPerKeyword <= 0 {
		o.MaxPerKeyword = d.MaxPerKeyword
	}
	if o.ItemTimeout <= 0 {
		o.ItemTimeout = d.ItemTimeout
	}
	return o
}

// CategoryReport counts what happened to one category during a run.
type CategoryReport struct {
	Keywords     int    `json:"keywords"`
	PagesFetched int    `json:"pages_fetched"`
	PagesFailed  int    `json:"pages_failed"`
	PagesEmpty   int    `json:"pages_empty"`
	Listings     int    `json:"listings"`
	Stored       int    `json:"stored"`
	Indexed      int    `json:"indexed"`
	Failed       int    `json:"failed"`
	Err          string `json:"error,omitempty"`
}

// Report summarises a crawl run.
type Report struct {
	Started    time.Time                           `json:"started"`
	Finished   time.Time                           `json:"finished"`
	Cancelled  bool                                `json:"cancelled"`
	Categories map[domain.Category]*CategoryReport `json:"categories"`
}

// Indexed sums indexed postings over all categories.
func (r Report) Indexed() int {
	n := 0
	for _, c := range r.Categories {
		n += c.Indexed
	}
	return n
}

// Metrics are the crawl collectors.
type Metrics struct {
	pages    *prometheus.CounterVec
	postings *prometheus.CounterVec
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the crawl collectors on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		pages:    reg.Counter("crawl", "pages_total", "Search-result pages by outcome.", "category", "outcome"),
		postings: reg.Counter("crawl", "postings_total", "Postings by pipeline outcome.", "category", "outcome"),
		runs:     reg.Counter("crawl", "runs_total", "Crawl runs by outcome.", "outcome"),
		duration: reg.Histogram("crawl", "run_duration_seconds", "Wall time of a crawl run.", nil),
	}
}
