package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/STRATINT/eventfeed/internal/database"
	"github.com/STRATINT/eventfeed/internal/metrics"
	"github.com/STRATINT/eventfeed/internal/progress"
	"github.com/STRATINT/eventfeed/internal/scheduler"
	"github.com/STRATINT/eventfeed/internal/server"
)

func runServe(ctx context.Context, a *app, opts options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	collector, err := metrics.NewCollector()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	a.metrics = collector

	p, err := a.fullPipeline()
	if err != nil {
		return err
	}

	if counts, err := progress.Collect(a.store, a.cfg.Paths.EventsDir); err != nil {
		a.logger.Warn("failed to collect progress", "error", err)
	} else {
		progress.Publish(collector, counts)
	}

	sched, err := scheduler.New(a.cfg.Schedule.Cron, a.cfg.Schedule.Timezone, func(ctx context.Context) error {
		_, err := p.Run(ctx)
		return err
	}, a.logger.With("component", "scheduler"))
	if err != nil {
		return err
	}

	probes := server.Probes{
		Status: func() server.Status {
			return server.Status{Running: p.IsRunning(), NextRun: sched.Next()}
		},
	}
	if a.db != nil {
		db := a.db
		probes.Check = func(ctx context.Context) error { return database.HealthCheck(ctx, db) }
	}

	srv := server.New(a.cfg.Server, a.logger, server.Routes(collector, probes))
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	schedDone := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(schedDone)
	}()

	if opts.now {
		go func() {
			if err := sched.RunNow(ctx); err != nil && !errors.Is(err, scheduler.ErrJobRunning) {
				a.logger.Warn("initial run failed", "error", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	cancel()
	if err := srv.Shutdown(context.Background()); err != nil {
		a.logger.Error("server shutdown failed", "error", err)
	}
	<-schedDone
	return runErr
}
