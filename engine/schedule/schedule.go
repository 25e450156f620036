// Package schedule triggers crawl runs on a cron cadence.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/IsmailZhaf/cari-fit-backend/engine/domain"
	"github.com/IsmailZhaf/cari-fit-backend/engine/ingest"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/lock"
	"github.com/IsmailZhaf/cari-fit-backend/pkg/logger"
)

// LockKey is held for the duration of a crawl so replicas never overlap.
const LockKey = "crawl"

type crawler interface {
	Run(ctx context.Context, plan []domain.CategoryKeywords) (ingest.Report, error)
}

// Options configures the scheduler.
type Options struct {
	// Spec is a standard five-field cron expression or a descriptor such as
	// "@every 6h".
	Spec       string
	Timeout    time.Duration
	RunOnStart bool
}

// Scheduler owns the cron loop.
type Scheduler struct {
	cron    *cron.Cron
	crawler crawler
	plan    []domain.CategoryKeywords
	locker  lock.Locker
	opts    Options
	log     *zap.Logger
	entry   cron.EntryID
}

// New creates a Scheduler. A nil locker guards runs in process only.
func New(c crawler, plan []domain.CategoryKeywords, locker lock.Locker, opts Options, log *zap.Logger) *Scheduler {
	log = logger.OrNop(log).Named("schedule")
	if locker == nil {
		locker = lock.NewLocal()
	}
	cl := cronLogger{log.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		crawler: c,
		plan:    plan,
		locker:  locker,
		opts:    opts,
		log:     log,
	}
}

// Start registers the crawl job and starts the loop. The job's runs derive
// from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.opts.Spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduled crawl ended with error", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule: %q: %w", s.opts.Spec, err)
	}
	s.entry = id
	s.cron.Start()
	s.log.Info("scheduler started", zap.String("spec", s.opts.Spec), zap.Time("next", s.Next()))

	if s.opts.RunOnStart {
		// Through the wrapped job so an early tick is skipped, not doubled.
		go s.cron.Entry(id).WrappedJob.Run()
	}
	return nil
}

// Next is the time of the next scheduled run, or zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Stop halts the loop and returns a context that is done once a running
// crawl has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce runs one crawl now unless another process or goroutine already
// holds the crawl lock, in which case it returns domain.ErrRunInProgress.
func (s *Scheduler) RunOnce(ctx context.Context) (ingest.Report, error) {
	unlock, ok, err := s.locker.TryLock(ctx, LockKey)
	if err != nil {
		return ingest.Report{}, fmt.Errorf("schedule: lock: %w", err)
	}
	if !ok {
		s.log.Info("crawl skipped: already running elsewhere")
		return ingest.Report{}, domain.ErrRunInProgress
	}
	defer unlock()

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	return s.crawler.Run(ctx, s.plan)
}

// cronLogger routes cron's logr-style calls to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
