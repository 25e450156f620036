package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/IsmailZhaf/cari-fit-backend/engine/match"
	"github.com/IsmailZhaf/cari-fit-backend/engine/schedule"
)

const shutdownGrace = 30 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl scheduler, the match consumer and the ops server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			a := newApp(cfg, log)
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	log := a.log
	crawler, err := a.crawler(ctx)
	if err != nil {
		return err
	}
	crawlLocker, err := a.locker(ctx, a.cfg.Crawl.Timeout+time.Minute)
	if err != nil {
		return err
	}
	sched := schedule.New(crawler, a.cfg.Crawl.Plan(), crawlLocker, schedule.Options{
		Spec:       a.cfg.Crawl.Schedule,
		Timeout:    a.cfg.Crawl.Timeout,
		RunOnStart: a.cfg.Crawl.RunOnStart,
	}, log)

	svc, err := a.matcher(ctx)
	if err != nil {
		return err
	}
	nc, err := a.nats()
	if err != nil {
		return err
	}
	consumer := match.NewConsumer(nc, svc, a.cfg.NATS.MatchSubject, a.cfg.NATS.Queue, a.cfg.NATS.Workers, log)

	if err := sched.Start(ctx); err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		<-sched.Stop().Done()
		return err
	}

	srv := newOpsServer(a.cfg.Ops.Addr, newOpsHandler(a.reg, log, a.ping))
	errCh := make(chan error, 1)
	go func() {
		log.Info("ops server starting", zap.String("addr", a.cfg.Ops.Addr))
		errCh <- srv.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("ops server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	consumer.Stop()
	select {
	case <-sched.Stop().Done():
	case <-shutCtx.Done():
		log.Warn("crawl still running at shutdown")
	}
	if err := srv.Shutdown(shutCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
