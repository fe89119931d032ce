package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jensholdgaard/event-sourced-account/internal/account"
	"github.com/jensholdgaard/event-sourced-account/internal/clock"
	"github.com/jensholdgaard/event-sourced-account/internal/config"
	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
	"github.com/jensholdgaard/event-sourced-account/internal/health"
	"github.com/jensholdgaard/event-sourced-account/internal/metrics"
	"github.com/jensholdgaard/event-sourced-account/internal/store"
	"github.com/jensholdgaard/event-sourced-account/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/event-sourced-account/internal/store/mysql"
	_ "github.com/jensholdgaard/event-sourced-account/internal/store/postgres"
	_ "github.com/jensholdgaard/event-sourced-account/internal/store/sqlite"
)

var version = "dev"

type options struct {
	configPath  string
	workers     int
	rounds      int
	maxAttempts int
	linger      time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to configuration file")
	flag.IntVar(&opts.workers, "workers", 0, "concurrent depositors (overrides loadtest.workers)")
	flag.IntVar(&opts.rounds, "rounds", 0, "deposits per worker (overrides loadtest.rounds)")
	flag.IntVar(&opts.maxAttempts, "max-attempts", 0, "attempts per deposit before giving up (overrides retry.max_attempts)")
	flag.DurationVar(&opts.linger, "linger", 0, "keep serving metrics this long after the run")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(opts); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

// apply overrides cfg with the flags that were set.
func (o options) apply(cfg *config.Config) {
	if o.workers > 0 {
		cfg.LoadTest.Workers = o.workers
	}
	if o.rounds > 0 {
		cfg.LoadTest.Rounds = o.rounds
	}
	if o.maxAttempts > 0 {
		cfg.Retry.MaxAttempts = o.maxAttempts
	}
}

func run(opts options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	opts.apply(cfg)

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	backend, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer backend.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	snapshotter, err := eventsourcing.SnapshotterFor[account.Event](cfg.EventSourcing.SnapshotFrequency)
	if err != nil {
		return err
	}
	svc := account.NewService(account.NewStore(backend.Events), snapshotter, logger, tp.TracerProvider,
		account.WithRetry(cfg.Retry.MaxAttempts, cfg.Retry.InitialInterval),
		account.WithMetrics(metrics.New(reg)),
	)

	healthHandler := health.NewHandler(clk, health.Checker{Name: "event_store", Check: backend.Ping})

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	healthHandler.Register(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.LoadTest.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.InfoContext(ctx, "starting metrics server", slog.Int("port", cfg.LoadTest.MetricsPort))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "metrics server error", slog.Any("error", listenErr))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", slog.Any("error", err))
		}
	}()

	healthHandler.SetReady(true)
	res, err := loadTest(ctx, svc, logger, cfg.LoadTest.Workers, cfg.LoadTest.Rounds)
	healthHandler.SetReady(false)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "load test passed",
		slog.String("account_id", res.AccountID.String()),
		slog.Int64("balance", res.Balance),
		slog.Int("events", res.Events),
		slog.Duration("elapsed", res.Elapsed),
		slog.Float64("deposits_per_second", float64(res.Deposits)/res.Elapsed.Seconds()),
	)

	if opts.linger > 0 {
		logger.InfoContext(ctx, "lingering for metrics scrape", slog.Duration("linger", opts.linger))
		select {
		case <-ctx.Done():
		case <-time.After(opts.linger):
		}
	}
	return nil
}

// result summarizes a finished load test.
type result struct {
	AccountID uuid.UUID
	Deposits  int
	Balance   int64
	Events    int
	Elapsed   time.Duration
}

// loadTest opens a fresh account and has workers deposit 1 each, rounds
// times apiece, every deposit under its own transaction id. It then checks
// that no deposit was lost and that the account's sequence numbers run
// 1..N without gaps.
func loadTest(ctx context.Context, svc *account.Service, logger *slog.Logger, workers, rounds int) (result, error) {
	accountID := uuid.New()
	if err := svc.OpenAccount(ctx, accountID, uuid.New()); err != nil {
		return result{}, fmt.Errorf("opening account: %w", err)
	}
	logger.InfoContext(ctx, "load test started",
		slog.String("account_id", accountID.String()),
		slog.Int("workers", workers),
		slog.Int("rounds", rounds),
	)

	start := time.Now()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range rounds {
				if err := svc.Deposit(ctx, accountID, 1, uuid.New()); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("worker %d round %d: %w", w, r, err))
					mu.Unlock()
					return
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	if err := errors.Join(errs...); err != nil {
		return result{}, err
	}

	deposits := workers * rounds
	snap, err := svc.QueryAccount(ctx, accountID)
	if err != nil {
		return result{}, fmt.Errorf("querying account: %w", err)
	}
	if snap.Balance != int64(deposits) {
		return result{}, fmt.Errorf("balance %d, want %d", snap.Balance, deposits)
	}

	events, err := svc.Events(ctx, accountID)
	if err != nil {
		return result{}, fmt.Errorf("reading events: %w", err)
	}
	if len(events) != deposits+1 {
		return result{}, fmt.Errorf("%d events, want %d", len(events), deposits+1)
	}
	for i, e := range events {
		if e.SequenceNumber != int64(i+1) {
			return result{}, fmt.Errorf("event %d has sequence number %d", i, e.SequenceNumber)
		}
	}

	return result{
		AccountID: accountID,
		Deposits:  deposits,
		Balance:   snap.Balance,
		Events:    len(events),
		Elapsed:   elapsed,
	}, nil
}
