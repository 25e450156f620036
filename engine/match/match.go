// Package match runs one matching pass for a user: resolve the profile's
// category collection, retrieve the nearest postings, rank them and replace
// the user's recommendation set.
package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/engine/notify"
	"github.com/IsmailZhaf/cari-fit-backend/engine/rank"
	"github.com/IsmailZhaf/cari-fit-backend/engine/semantic"
	"github.com/IsmailZhaf/cari-fit-backend/engine/store"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/lock"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/logger"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/metrics"
)

type resolver interface {
	Resolve(ctx context.Context, c domain.Category) (semantic.Collection, error)
}

type retriever interface {
	Query(ctx context.Context, coll semantic.Collection, profileText string, k int) ([]semantic.Hit, error)
	Count(ctx context.Context, coll semantic.Collection) (uint64, error)
}

type ranker interface {
	Rank(ctx context.Context, profile domain.CandidateProfile, hits []semantic.Hit) ([]domain.MatchResult, rank.Stats, error)
}

type merger interface {
	Persist(ctx context.Context, user string, results []domain.MatchResult) (store.PersistReport, error)
}

// Deps holds the collaborators of a matching run.
type Deps struct {
	Locker    lock.Locker
	Resolver  resolver
	Retriever retriever
	Ranker    ranker
	Merger    merger
	Notifier  notify.Publisher
	Metrics   *Metrics
	Logger    *zap.Logger
}

// Options configures matching.
type Options struct {
	TopK    int
	Timeout time.Duration
}

// Outcome summarises a finished run.
type Outcome struct {
	User       string          `json:"user"`
	Category   domain.Category `json:"category"`
	Collection string          `json:"collection"`
	Indexed    uint64          `json:"indexed"`
	Retrieved  int             `json:"retrieved"`
	Ranked     int             `json:"ranked"`
	Persisted  int             `json:"persisted"`
	Skipped    int             `json:"skipped"`
	Rank       rank.Stats      `json:"rank"`
	Took       time.Duration   `json:"took"`
}

// Metrics are the matching collectors.
type Metrics struct {
	runs      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	persisted *prometheus.CounterVec
	inFlight  *prometheus.GaugeVec
}

// NewMetrics registers the matching collectors on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		runs:      reg.Counter("match", "runs_total", "Matching runs by outcome.", "outcome"),
		duration:  reg.Histogram("match", "run_duration_seconds", "Wall time of a matching run.", nil),
		persisted: reg.Counter("match", "recommendations_total", "Recommendations written.", "category"),
		inFlight:  reg.Gauge("match", "in_flight", "Matching runs holding their user lock."),
	}
}

// Service runs matching requests.
type Service struct {
	deps Deps
	opts Options
	log  *zap.Logger
}

// New creates a Service. A nil Locker serializes users in process.
func New(deps Deps, opts Options) *Service {
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(metrics.New("carifit"))
	}
	if opts.TopK <= 0 {
		opts.TopK = semantic.DefaultTopK
	}
	return &Service{deps: deps, opts: opts, log: logger.OrNop(deps.Logger)}
}

// LockKey is the lock name serializing runs of one user.
func LockKey(user string) string { return "match:" + user }

// Run computes and persists a fresh recommendation set for req.User. Runs
// for the same user are serialized; the previous set stays in place unless
// the new one is committed.
func (s *Service) Run(ctx context.Context, req domain.MatchRequest) (Outcome, error) {
	start := time.Now()
	out := Outcome{User: req.User, Category: req.Profile.Category}
	if strings.TrimSpace(req.User) == "" {
		return out, domain.NewValidationError("user", req.User, domain.ErrInvalidRequest)
	}
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	log := s.log.With(zap.String(logger.FieldUser, req.User), zap.String(logger.FieldCategory, string(req.Profile.Category)))

	unlock, err := s.deps.Locker.Lock(ctx, LockKey(req.User))
	if err != nil {
		return out, fmt.Errorf("match: lock %s: %w", req.User, err)
	}
	defer unlock()
	s.deps.Metrics.inFlight.WithLabelValues().Inc()
	defer s.deps.Metrics.inFlight.WithLabelValues().Dec()

	s.deps.Notifier.Publish(ctx, notify.MatchStarted(req.User))
	out, err = s.run(ctx, log, req, out)
	out.Took = time.Since(start)
	s.deps.Metrics.duration.WithLabelValues().Observe(out.Took.Seconds())

	switch {
	case err == nil:
		s.deps.Metrics.runs.WithLabelValues("completed").Inc()
		s.deps.Metrics.persisted.WithLabelValues(string(out.Category)).Add(float64(out.Persisted))
		s.deps.Notifier.Publish(ctx, notify.MatchCompleted(req.User, out.Persisted))
		log.Info("match completed",
			zap.Int("retrieved", out.Retrieved),
			zap.Int("persisted", out.Persisted),
			zap.Int("skipped", out.Skipped),
			zap.Duration("took", out.Took))
	case errors.Is(err, domain.ErrUnroutableCategory):
		s.deps.Metrics.runs.WithLabelValues("unroutable").Inc()
		s.deps.Notifier.Publish(ctx, notify.CategoryUnavailable(req.User, req.Profile.Category))
		log.Warn("match skipped: category has no collection")
	default:
		s.deps.Metrics.runs.WithLabelValues("failed").Inc()
		s.deps.Notifier.Publish(context.WithoutCancel(ctx), notify.MatchFailed(req.User))
		log.Error("match failed", zap.Error(err))
	}
	return out, err
}

func (s *Service) run(ctx context.Context, log *zap.Logger, req domain.MatchRequest, out Outcome) (Outcome, error) {
	profile := req.Profile
	if err := domain.ValidateProfile(profile); err != nil {
		return out, fmt.Errorf("match: %w", err)
	}

	coll, err := s.deps.Resolver.Resolve(ctx, profile.Category)
	if err != nil {
		return out, fmt.Errorf("match: resolve: %w", err)
	}
	out.Collection = coll.Name
	s.deps.Notifier.Publish(ctx, notify.ProfileAnalyzed(req.User, profile.Category))

	if n, err := s.deps.Retriever.Count(ctx, coll); err != nil {
		log.Warn("collection size unavailable", zap.String(logger.FieldCollection, coll.Name), zap.Error(err))
	} else {
		out.Indexed = n
		log.Info("collection size", zap.String(logger.FieldCollection, coll.Name), zap.Uint64("postings", n))
	}

	hits, err := s.deps.Retriever.Query(ctx, coll, QueryText(profile), s.opts.TopK)
	if err != nil {
		return out, fmt.Errorf("match: retrieve: %w", err)
	}
	out.Retrieved = len(hits)
	s.deps.Notifier.Publish(ctx, notify.FetchingPostings(req.User, profile.Category))
	log.Debug("postings retrieved", zap.String(logger.FieldCollection, coll.Name), zap.Int("hits", len(hits)))

	results, stats, err := s.deps.Ranker.Rank(ctx, profile, hits)
	out.Rank = stats
	if err != nil {
		return out, fmt.Errorf("match: rank: %w", err)
	}
	out.Ranked = len(results)

	report, err := s.deps.Merger.Persist(ctx, req.User, results)
	if err != nil {
		return out, fmt.Errorf("match: persist: %w", err)
	}
	out.Persisted, out.Skipped = report.Persisted, report.Skipped
	return out, nil
}

// QueryText is the text embedded for retrieval: the parsed CV, or its skills
// and experience when no text was extracted.
func QueryText(p domain.CandidateProfile) string {
	if t := strings.TrimSpace(p.Text); t != "" {
		return t
	}
	parts := []string{strings.Join(p.Skills, ", ")}
	if e := strings.TrimSpace(p.Experience); e != "" {
		parts = append(parts, e)
	}
	return strings.Join(parts, "\n")
}
