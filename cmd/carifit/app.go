package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/IsmailZhaf/cari-fit-backend/engine/ingest"
	"github.com/IsmailZhaf/cari-fit-backend/engine/intelligence"
	"github.com/IsmailZhaf/cari-fit-backend/engine/match"
	"github.com/IsmailZhaf/cari-fit-backend/engine/notify"
	"github.com/IsmailZhaf/cari-fit-backend/engine/rank"
	"github.com/IsmailZhaf/cari-fit-backend/engine/scraper"
	"github.com/IsmailZhaf/cari-fit-backend/engine/semantic"
	"github.com/IsmailZhaf/cari-fit-backend/engine/store"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/config"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/fn"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/gemini"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/lock"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/metrics"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/natsutil"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/ollama"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/repo"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/resilience"
)

// app builds process components on first use so each command connects only
// to what it needs.
type app struct {
	cfg *config.Config
	log *zap.Logger
	reg *metrics.Registry

	pool     *pgxpool.Pool
	rdb      *redis.Client
	nc       *nats.Conn
	vectors  *semantic.VectorStore
	resolver *semantic.Resolver
	gen      *gemini.Generator
	breaker  *resilience.Breaker
	notifier notify.Publisher

	closers []func()
}

func newApp(cfg *config.Config, log *zap.Logger) *app {
	return &app{cfg: cfg, log: log, reg: metrics.New(appName)}
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}

func (a *app) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := repo.NewPostgresPool(ctx, a.cfg.Postgres.URL, a.cfg.Postgres.MaxConns)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	return pool, nil
}

// redis returns nil without error when no Redis is configured.
func (a *app) redis(ctx context.Context) (*redis.Client, error) {
	if a.rdb != nil || a.cfg.Redis.URL == "" {
		return a.rdb, nil
	}
	rdb, err := repo.NewRedisClient(ctx, a.cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	a.rdb = rdb
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	return rdb, nil
}

func (a *app) nats() (*nats.Conn, error) {
	if a.nc != nil {
		return a.nc, nil
	}
	nc, err := natsutil.Connect(a.cfg.NATS.URL, appName, a.log)
	if err != nil {
		return nil, err
	}
	a.nc = nc
	a.closers = append(a.closers, func() { _ = nc.Drain() })
	return nc, nil
}

// locker is Redis-backed when Redis is configured, in-process otherwise.
func (a *app) locker(ctx context.Context, ttl time.Duration) (lock.Locker, error) {
	rdb, err := a.redis(ctx)
	if err != nil {
		return nil, err
	}
	if rdb == nil {
		return lock.NewLocal(), nil
	}
	return lock.NewRedis(rdb, a.cfg.Redis.KeyPrefix, ttl, a.log), nil
}

func (a *app) notify(ctx context.Context) (notify.Publisher, error) {
	if a.notifier != nil {
		return a.notifier, nil
	}
	switch a.cfg.Notify.Transport {
	case "nats":
		nc, err := a.nats()
		if err != nil {
			return nil, err
		}
		a.notifier = notify.NewNATSPublisher(nc, a.cfg.Notify.Channel, a.log)
	case "redis":
		rdb, err := a.redis(ctx)
		if err != nil {
			return nil, err
		}
		a.notifier = notify.NewRedisPublisher(rdb, a.cfg.Notify.Channel, a.log)
	default:
		a.notifier = notify.Nop{}
	}
	return a.notifier, nil
}

func (a *app) vectorStore() (*semantic.VectorStore, error) {
	if a.vectors != nil {
		return a.vectors, nil
	}
	vs, err := semantic.New(a.cfg.Qdrant.Addr)
	if err != nil {
		return nil, err
	}
	a.vectors = vs
	a.closers = append(a.closers, func() { _ = vs.Close() })
	return vs, nil
}

func (a *app) collections() (*semantic.Resolver, error) {
	if a.resolver != nil {
		return a.resolver, nil
	}
	vs, err := a.vectorStore()
	if err != nil {
		return nil, err
	}
	a.resolver = semantic.NewResolver(vs, a.cfg.Qdrant.VectorSize, a.log)
	return a.resolver, nil
}

func (a *app) embedder() *ollama.Embedder {
	return ollama.NewEmbedder(a.cfg.Ollama.URL, a.cfg.Ollama.Model)
}

// llm returns the shared generator and the breaker guarding it.
func (a *app) llm(ctx context.Context) (*gemini.Generator, *resilience.Breaker, error) {
	if a.gen != nil {
		return a.gen, a.breaker, nil
	}
	gen, err := gemini.NewGenerator(ctx, a.cfg.Gemini.APIKey, a.cfg.Gemini.Model, a.cfg.Gemini.Temperature)
	if err != nil {
		return nil, nil, err
	}
	a.gen = gen
	a.breaker = resilience.NewBreaker(resilience.BreakerOpts{Name: "gemini"}, a.log)
	return gen, a.breaker, nil
}

func (a *app) crawler(ctx context.Context) (*ingest.Crawler, error) {
	pool, err := a.postgres(ctx)
	if err != nil {
		return nil, err
	}
	resolver, err := a.collections()
	if err != nil {
		return nil, err
	}
	gen, breaker, err := a.llm(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := a.notify(ctx)
	if err != nil {
		return nil, err
	}
	f := a.cfg.Fetch
	fetcher := scraper.NewFetcher(scraper.Options{
		UserAgent:     f.UserAgent,
		Timeout:       f.Timeout,
		RatePerSecond: f.RatePerSecond,
		Burst:         f.Burst,
		Retry:         fn.RetryPolicy{MaxRetries: f.Retry.MaxRetries, Delay: f.Retry.Delay},
	}, a.log)

	c := a.cfg.Crawl
	return ingest.New(ingest.Deps{
		Fetcher:   fetcher,
		Extractor: intelligence.NewExtractor(gen, breaker, a.log),
		Postings:  store.NewPostingStore(pool),
		Resolver:  resolver,
		Indexer:   semantic.NewIndexer(a.vectors, a.embedder(), a.log),
		Notifier:  notifier,
		Metrics:   ingest.NewMetrics(a.reg),
		Logger:    a.log,
	}, ingest.Options{
		Concurrency:     c.Concurrency,
		PagesPerKeyword: c.PagesPerKeyword,
		MaxPerKeyword:   c.MaxPerKeyword,
		PagePause:       c.PagePause,
		KeywordPause:    c.KeywordPause,
		Location:        c.Location,
		ItemTimeout:     c.ItemTimeout,
	}), nil
}

func (a *app) matcher(ctx context.Context) (*match.Service, error) {
	pool, err := a.postgres(ctx)
	if err != nil {
		return nil, err
	}
	resolver, err := a.collections()
	if err != nil {
		return nil, err
	}
	gen, breaker, err := a.llm(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := a.notify(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := a.locker(ctx, a.cfg.Match.LockTTL)
	if err != nil {
		return nil, err
	}
	m := a.cfg.Match
	ranker := rank.NewRanker(intelligence.NewScorer(gen, breaker, a.log), rank.Options{
		ChunkSize:   m.ChunkSize,
		Concurrency: m.ChunkConcurrency,
		Rubric:      rank.DefaultRubric,
	}, a.log)
	return match.New(match.Deps{
		Locker:    locker,
		Resolver:  resolver,
		Retriever: semantic.NewRetriever(a.vectors, a.embedder(), m.TopK),
		Ranker:    ranker,
		Merger:    store.NewRecommendationStore(pool, a.log),
		Notifier:  notifier,
		Metrics:   match.NewMetrics(a.reg),
		Logger:    a.log,
	}, match.Options{TopK: m.TopK, Timeout: m.Timeout}), nil
}

func (a *app) reindexer(ctx context.Context) (*ingest.Reindexer, error) {
	pool, err := a.postgres(ctx)
	if err != nil {
		return nil, err
	}
	resolver, err := a.collections()
	if err != nil {
		return nil, err
	}
	idx := semantic.NewIndexer(a.vectors, a.embedder(), a.log)
	return ingest.NewReindexer(store.NewPostingStore(pool), resolver, idx, 100, a.log), nil
}

// ping reports whether the stores the pipeline depends on are reachable.
func (a *app) ping(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if a.nc != nil && !a.nc.IsConnected() {
		return fmt.Errorf("nats: %s", a.nc.Status())
	}
	return nil
}
