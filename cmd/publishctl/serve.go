package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"publishengine/internal/config"
	"publishengine/internal/controlplane"
	"publishengine/internal/httpapi"
	"publishengine/internal/logging"
	"publishengine/internal/rollup"
	"publishengine/internal/scheduler"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the worker pool, scheduler, scanner, and control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if err := runServe(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "publishctl: %v\n", err)
				code := exitOther
				var exitErr *exitCodeError
				if errors.As(err, &exitErr) {
					code = exitErr.code
				}
				os.Exit(code)
			}
			return nil
		},
	}
}

// runServe wires every long-running component spec.md §6's `serve` command
// names into one process and blocks until a shutdown signal arrives.
func runServe(cfg config.CoreConfig) error {
	logger := logging.NewComponentLogger("serve")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return &exitCodeError{code: exitDBUnavailable, err: err}
	}
	defer a.close()

	loc, err := cfg.Location()
	if err != nil {
		return &exitCodeError{code: exitConfigError, err: err}
	}

	gen := buildGenerator(cfg.Generator)
	pub := buildPublisher(cfg.Publisher)
	gov, err := buildGovernor(cfg.Rate, loc)
	if err != nil {
		return &exitCodeError{code: exitConfigError, err: err}
	}

	sc := buildScanner(cfg, a.store)
	scanLoop := newScannerLoop(sc, allSourcesLister(a.store), cfg, logger)

	planner := scheduler.New(a.store, scheduler.Constraints{
		MinPublishInterval: cfg.Scheduler.MinPublishInterval(),
		OptimalHours:       cfg.Scheduler.OptimalHours,
		BlackoutHours:      cfg.Scheduler.BlackoutHours,
		DailyMinTasks:      cfg.Scheduler.DailyMinTasks,
		DailyMaxTasks:      cfg.Scheduler.DailyMaxTasks,
		PlanningHorizon:    cfg.Scheduler.PlanningHorizon(),
		Location:           loc,
	}, logging.NewComponentLogger("scheduler"))
	schedLoop := scheduler.NewLoop(planner, logging.NewComponentLogger("scheduler-loop"))

	pool := newWorkerPool(cfg, a.store, gen, pub, gov)

	roll := rollup.New(rollup.Config{}, a.store)
	rollLoop := rollup.NewLoop(roll, logging.NewComponentLogger("rollup-loop"))

	governors := map[string]controlplane.GovernorStatusProvider{"publisher": gov}
	health := []controlplane.HealthChecker{gen, pub}
	svc := buildControlPlane(a.store, sc, schedLoop, governors, health, pool)

	router := httpapi.NewRouter(httpapi.Deps{Service: svc, Logger: logging.NewComponentLogger("httpapi")}, cfg.HTTP)

	if err := scanLoop.Start(ctx, cfg.Scheduler.TickInterval()); err != nil {
		return &exitCodeError{code: exitOther, err: err}
	}
	if err := schedLoop.Start(ctx, cfg.Scheduler.TickInterval()); err != nil {
		return &exitCodeError{code: exitOther, err: err}
	}
	if err := rollLoop.Start(ctx, cfg.Scheduler.TickInterval()); err != nil {
		return &exitCodeError{code: exitOther, err: err}
	}

	poolErrCh := make(chan error, 1)
	go func() { poolErrCh <- pool.Run(ctx) }()

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.RequestTimeout(),
		WriteTimeout: cfg.HTTP.RequestTimeout(),
		IdleTimeout:  120 * time.Second,
	}

	return serveUntilSignal(cancel, server, poolErrCh, logger)
}

// exitCodeError carries the specific process exit code a failure demands,
// per spec.md §6's 0/1/2/3/4 exit-code table.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

// serveUntilSignal runs the HTTP listener until it fails, the worker pool
// exits, or SIGINT/SIGTERM arrives, then shuts the server down gracefully —
// the same goroutine/error-channel/signal.Notify/Shutdown shape as the
// teacher's bootstrap.serveUntilSignal, generalized to also cancel and
// drain the background loops this engine runs alongside the HTTP server.
func serveUntilSignal(cancel context.CancelFunc, server *http.Server, poolErrCh <-chan error, logger logging.Logger) error {
	logger = logging.OrNop(logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving on %s", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		cancel()
		<-poolErrCh
		if err == nil || err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case poolErr := <-poolErrCh:
		cancel()
		shutdownErr := shutdownServer(server, errCh)
		if poolErr != nil {
			return fmt.Errorf("worker pool error: %w", poolErr)
		}
		return shutdownErr
	case <-quit:
		logger.Info("shutting down")
		cancel()
		shutdownErr := shutdownServer(server, errCh)
		<-poolErrCh
		return shutdownErr
	}
}

func shutdownServer(server *http.Server, errCh <-chan error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := server.Shutdown(ctx)

	serveErr := <-errCh
	if serveErr == http.ErrServerClosed {
		serveErr = nil
	}

	if shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	return serveErr
}
