// Package ingest crawls job postings per category, extracts structured
// fields, persists them and indexes them into the category collection.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/engine/notify"
	"github.com/IsmailZhaf/cari-fit-backend/engine/scraper"
	"github.com/IsmailZhaf/cari-fit-backend/engine/semantic"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/fn"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/logger"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/metrics"
)

// Deps holds the external dependencies of the crawler.
type Deps struct {
	Fetcher   fetcher
	Extractor extractor
	Postings  postingStore
	Resolver  resolver
	Indexer   indexer
	Notifier  notify.Publisher
	Metrics   *Metrics
	Logger    *zap.Logger
}

// Crawler runs the crawl plan. At most one run is active per Crawler.
type Crawler struct {
	deps    Deps
	opts    Options
	log     *zap.Logger
	running atomic.Bool
	item    fn.Stage[item, domain.Posting]
}

// New creates a Crawler.
func New(deps Deps, opts Options) *Crawler {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(metrics.New("carifit"))
	}
	c := &Crawler{deps: deps, opts: opts.withDefaults(), log: logger.OrNop(deps.Logger)}
	c.item = fn.Then(
		fn.TracedStage("crawl.fetch", c.fetchDetail),
		fn.Then(
			fn.TracedStage("crawl.extract", c.extract),
			fn.TracedStage("crawl.store", c.store),
		),
	)
	return c
}

// item is one listing on its way through the pipeline.
type item struct {
	category   domain.Category
	collection semantic.Collection
	listing    domain.Listing
}

type fetched struct {
	item
	page scraper.Page
}

type extracted struct {
	item
	fields domain.PostingFields
}

// stageError names the pipeline step an item failed in.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func failedStage(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return "unknown"
}

// --- Pipeline Stages ---

func (c *Crawler) fetchDetail(ctx context.Context, it item) fn.Result[fetched] {
	page, err := c.deps.Fetcher.Fetch(ctx, it.listing.URL)
	if err != nil {
		return fn.Err[fetched](&stageError{"fetch", err})
	}
	if page.Empty() {
		return fn.Err[fetched](&stageError{"fetch", domain.ErrEmptyContent})
	}
	return fn.Ok(fetched{item: it, page: page})
}

func (c *Crawler) extract(ctx context.Context, f fetched) fn.Result[extracted] {
	fields, err := c.deps.Extractor.ExtractPosting(ctx, f.page.Text)
	if err != nil {
		return fn.Err[extracted](&stageError{"extract", err})
	}
	fields.SourceURL = f.listing.URL
	if fields.Company == "" {
		fields.Company = f.listing.Company
	}
	return fn.Ok(extracted{item: f.item, fields: fields})
}

// store persists and indexes one posting. It is detached from run
// cancellation so a started posting is never left half written.
func (c *Crawler) store(ctx context.Context, e extracted) fn.Result[domain.Posting] {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ItemTimeout)
	defer cancel()

	p, err := c.deps.Postings.Upsert(ctx, e.fields, e.category)
	if err != nil {
		return fn.Err[domain.Posting](&stageError{"store", err})
	}
	if err := c.deps.Indexer.Upsert(ctx, e.collection, p); err != nil {
		return fn.Err[domain.Posting](&stageError{"index", err})
	}
	if err := c.deps.Postings.MarkIndexed(ctx, p.ID); err != nil {
		return fn.Err[domain.Posting](&stageError{"mark", err})
	}
	p.Indexed = true
	return fn.Ok(p)
}

// --- Orchestration ---

// Run crawls every category in plan. Categories run concurrently and fail
// independently; keywords within a category run in order. It returns
// domain.ErrRunInProgress when another run is active.
func (c *Crawler) Run(ctx context.Context, plan []domain.CategoryKeywords) (Report, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Report{}, domain.ErrRunInProgress
	}
	defer c.running.Store(false)

	plan = mergePlan(plan)
	report := Report{Started: time.Now().UTC(), Categories: make(map[domain.Category]*CategoryReport, len(plan))}
	for _, ck := range plan {
		report.Categories[ck.Category] = &CategoryReport{}
	}
	c.log.Info("crawl started", zap.Int("categories", len(plan)))

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)
	for _, ck := range plan {
		rep := report.Categories[ck.Category]
		g.Go(func() error {
			c.runCategory(ctx, ck, rep)
			return nil
		})
	}
	_ = g.Wait()

	report.Finished = time.Now().UTC()
	c.deps.Metrics.duration.WithLabelValues().Observe(report.Finished.Sub(report.Started).Seconds())

	if err := ctx.Err(); err != nil {
		report.Cancelled = true
		c.deps.Metrics.runs.WithLabelValues("cancelled").Inc()
		c.log.Warn("crawl cancelled", zap.Int("indexed", report.Indexed()), zap.Error(err))
		return report, fmt.Errorf("crawl: %w", err)
	}
	c.deps.Metrics.runs.WithLabelValues("completed").Inc()
	c.log.Info("crawl finished",
		zap.Int("indexed", report.Indexed()),
		zap.Duration("took", report.Finished.Sub(report.Started)))
	return report, nil
}

// mergePlan folds entries naming the same category into the first one, so
// each category is crawled by exactly one goroutine.
func mergePlan(plan []domain.CategoryKeywords) []domain.CategoryKeywords {
	out := make([]domain.CategoryKeywords, 0, len(plan))
	at := make(map[domain.Category]int, len(plan))
	for _, ck := range plan {
		i, ok := at[ck.Category]
		if !ok {
			at[ck.Category] = len(out)
			out = append(out, domain.CategoryKeywords{Category: ck.Category, Keywords: fn.Unique(ck.Keywords)})
			continue
		}
		out[i].Keywords = fn.Unique(append(out[i].Keywords, ck.Keywords...))
	}
	return out
}

func (c *Crawler) runCategory(ctx context.Context, ck domain.CategoryKeywords, rep *CategoryReport) {
	log := c.log.With(zap.String(logger.FieldCategory, string(ck.Category)))

	coll, err := c.deps.Resolver.Resolve(ctx, ck.Category)
	if err != nil {
		rep.Err = err.Error()
		log.Error("category skipped", zap.Error(err))
		c.deps.Notifier.Publish(ctx, notify.CrawlCategoryFailed(ck.Category, err))
		return
	}

	for i, kw := range ck.Keywords {
		if ctx.Err() != nil {
			return
		}
		if i > 0 {
			if err := fn.Sleep(ctx, c.opts.KeywordPause); err != nil {
				return
			}
		}
		rep.Keywords++
		c.runKeyword(ctx, log.With(zap.String(logger.FieldKeyword, kw)), ck.Category, coll, kw, rep)
	}

	if rep.PagesFetched == 0 && rep.PagesFailed > 0 && ctx.Err() == nil {
		err := fmt.Errorf("all %d search page(s) failed", rep.PagesFailed)
		rep.Err = err.Error()
		c.deps.Notifier.Publish(ctx, notify.CrawlCategoryFailed(ck.Category, err))
	}
	log.Info("category done",
		zap.Int("listings", rep.Listings),
		zap.Int("indexed", rep.Indexed),
		zap.Int("failed", rep.Failed))
}

func (c *Crawler) runKeyword(ctx context.Context, log *zap.Logger, cat domain.Category, coll semantic.Collection, kw string, rep *CategoryReport) {
	listings := c.searchListings(ctx, log, cat, kw, rep)
	if len(listings) > c.opts.MaxPerKeyword {
		listings = listings[:c.opts.MaxPerKeyword]
	}
	rep.Listings += len(listings)

	for _, l := range listings {
		if ctx.Err() != nil {
			return
		}
		r := c.item(ctx, item{category: cat, collection: coll, listing: l})
		p, err := r.Unwrap()
		if err != nil {
			stage := failedStage(err)
			rep.Failed++
			if stage == "index" || stage == "mark" {
				rep.Stored++
			}
			c.deps.Metrics.postings.WithLabelValues(string(cat), stage+"_failed").Inc()
			log.Warn("posting skipped",
				zap.String(logger.FieldURL, l.URL),
				zap.String("stage", stage),
				zap.Error(err))
			continue
		}
		rep.Stored++
		rep.Indexed++
		c.deps.Metrics.postings.WithLabelValues(string(cat), "indexed").Inc()
		log.Debug("posting indexed",
			zap.String(logger.FieldPostingID, p.ID.String()),
			zap.String(logger.FieldURL, p.SourceURL))
	}
}

// searchListings fetches the result pages of one keyword and returns the
// listings they name, deduplicated on canonical URL in page order.
func (c *Crawler) searchListings(ctx context.Context, log *zap.Logger, cat domain.Category, kw string, rep *CategoryReport) []domain.Listing {
	var out []domain.Listing
	seen := make(map[string]bool)
	for _, u := range scraper.SearchURLs(kw, c.opts.Location, c.opts.PagesPerKeyword) {
		if ctx.Err() != nil {
			break
		}
		page, err := c.deps.Fetcher.Fetch(ctx, u)
		_ = fn.Sleep(ctx, c.opts.PagePause)
		if err != nil {
			rep.PagesFailed++
			c.deps.Metrics.pages.WithLabelValues(string(cat), "failed").Inc()
			log.Warn("search page failed", zap.String(logger.FieldURL, u), zap.Error(err))
			continue
		}
		if page.Empty() {
			rep.PagesEmpty++
			c.deps.Metrics.pages.WithLabelValues(string(cat), "empty").Inc()
			continue
		}
		rep.PagesFetched++
		c.deps.Metrics.pages.WithLabelValues(string(cat), "fetched").Inc()

		listings, err := c.deps.Extractor.ExtractListings(ctx, page.Text)
		if err != nil {
			log.Warn("listing extraction failed", zap.String(logger.FieldURL, u), zap.Error(err))
			continue
		}
		for _, l := range listings {
			key, err := domain.CanonicalURL(l.URL)
			if err != nil || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, l)
		}
	}
	return out
}
