package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"candlecache/internal/cache"
	"candlecache/internal/collector"
	"candlecache/internal/config"
	"candlecache/internal/exchange"
	"candlecache/internal/historical"
	"candlecache/internal/httpapi"
	"candlecache/internal/metrics"
	"candlecache/internal/model"
	"candlecache/internal/retention"
	"candlecache/internal/store"
	"candlecache/internal/supervisor"
	pkgredis "candlecache/pkg/redis"
)

// CandleCache is the top-level runtime: it owns the store, the
// exchange client, the stream collector, the retention scheduler and
// the historical service, and wires them into the HTTP boundary. This
// replaces the global-singleton wiring the original service used with
// explicit dependency injection.
type CandleCache struct {
	config     *config.Config
	logger     *zap.Logger
	store      *store.Store
	exchange   *exchange.Client
	stream     *exchange.Stream
	collector  *collector.Collector
	historical *historical.Service
	retention  *retention.Scheduler
	supervisor *supervisor.Supervisor
	metrics    *metrics.PrometheusMetrics
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	fmt.Println("candlecache: market-data caching proxy starting")

	app := &CandleCache{}

	if err := app.initialize(); err != nil {
		fmt.Printf("failed to initialize candlecache: %v\n", err)
		os.Exit(1)
	}

	if err := app.start(); err != nil {
		fmt.Printf("failed to start candlecache: %v\n", err)
		os.Exit(1)
	}

	app.waitForShutdown()

	if err := app.shutdown(); err != nil {
		fmt.Printf("error during shutdown: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("candlecache stopped gracefully")
}

func (app *CandleCache) initialize() error {
	var err error

	app.ctx, app.cancel = context.WithCancel(context.Background())

	app.logger, err = app.setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}

	app.logger.Info("initializing candlecache")

	execPath, _ := os.Executable()
	execDir := filepath.Dir(execPath)

	configPath := filepath.Join(execDir, "configs", "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = "configs/config.yaml"
	}

	configLoader := config.NewConfigLoader()
	app.config, err = configLoader.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := app.config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	app.logger.Info("configuration loaded",
		zap.String("exchange", app.config.Exchange.Type),
		zap.Int("watch_pairs", len(app.config.WatchPairs)),
	)

	app.store, err = store.Connect(app.ctx, app.config.Database, app.logger)
	if err != nil {
		return fmt.Errorf("failed to connect candle store: %w", err)
	}

	for _, raw := range app.config.WatchPairs {
		pair, err := model.ParsePair(raw)
		if err != nil {
			app.logger.Warn("skipping malformed configured watch pair", zap.String("pair", raw), zap.Error(err))
			continue
		}
		if err := app.store.AddOrEnable(app.ctx, pair, true); err != nil {
			app.logger.Warn("failed to seed watch pair", zap.String("pair", raw), zap.Error(err))
		}
	}

	var reqCache *cache.RequestCache
	if app.config.Cache.Enabled {
		rdb, err := pkgredis.Connect(app.ctx, pkgredis.ClientConfig{
			Addr:       app.config.RedisAddress(),
			DB:         app.config.Redis.DB,
			Password:   app.config.Redis.Password,
			PoolSize:   app.config.Redis.PoolSize,
			MaxRetries: 3,
		}, app.logger)
		if err != nil {
			app.logger.Warn("redis unavailable, request cache disabled", zap.Error(err))
		} else {
			reqCache = cache.New(rdb)
		}
	}

	if app.config.Monitoring.MetricsEnabled {
		app.metrics = metrics.NewPrometheusMetrics()
	}

	// A disabled registry stays a typed nil; hand each component an
	// untyped nil instead so their nil checks work.
	var collMetrics collector.Metrics
	var histMetrics historical.Metrics
	var streamMetrics exchange.StreamMetrics
	var reqMetrics httpapi.RequestMetrics
	if app.metrics != nil {
		collMetrics = app.metrics
		histMetrics = app.metrics
		streamMetrics = app.metrics
		reqMetrics = app.metrics
	}

	app.exchange = exchange.NewClient(app.config.Exchange, app.config.Cache, reqCache, app.logger)
	app.stream = exchange.NewStream(app.config.Exchange.WSURL, app.logger)
	app.stream.SetMetrics(streamMetrics, app.config.Exchange.Type)
	app.collector = collector.New(app.stream, app.store, collMetrics, app.logger)
	app.historical = historical.New(app.store, app.exchange, app.config.Historical, histMetrics, app.logger)

	app.retention, err = retention.New(app.store, app.config.Retention.RetainDays,
		app.config.Retention.RunAt, app.config.Retention.Timezone, app.logger)
	if err != nil {
		return fmt.Errorf("failed to build retention scheduler: %w", err)
	}

	app.supervisor = supervisor.New(app.logger)

	ticker := httpapi.NewTicker(app.logger)
	app.stream.SetForward(ticker.Forward)
	server := httpapi.NewServer(app.store, app.historical, app.collector, ticker, app.supervisor, reqMetrics, app.config.Security, app.logger)
	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		Handler: server.Router(),
	}

	app.logger.Info("core components initialized")
	return nil
}

func (app *CandleCache) setupLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cfg.OutputPaths = []string{"stdout"}
	return cfg.Build()
}

func (app *CandleCache) start() error {
	app.logger.Info("starting candlecache services")

	if err := app.collector.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start stream collector: %w", err)
	}

	if err := app.supervisor.Add(supervisor.Task{
		Name:           "stream-collector",
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		Run: func(ctx context.Context) error {
			app.collector.Run(ctx)
			return ctx.Err()
		},
	}); err != nil {
		return err
	}

	if err := app.supervisor.Add(supervisor.Task{
		Name:           "retention-scheduler",
		InitialBackoff: time.Minute,
		MaxBackoff:     time.Hour,
		Run: func(ctx context.Context) error {
			app.retention.Run(ctx)
			return ctx.Err()
		},
	}); err != nil {
		return err
	}

	if err := app.supervisor.Start(app.ctx); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	if app.metrics != nil {
		if err := app.metrics.Start(fmt.Sprintf("%d", app.config.Monitoring.PrometheusPort)); err != nil {
			app.logger.Warn("failed to start metrics server", zap.Error(err))
		}
	}

	go func() {
		app.logger.Info("http boundary listening", zap.String("addr", app.httpServer.Addr))
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error("http server error", zap.Error(err))
		}
	}()

	return nil
}

func (app *CandleCache) waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	app.logger.Info("shutdown signal received")
}

func (app *CandleCache) shutdown() error {
	app.logger.Info("shutting down candlecache")

	var errs error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn("http server shutdown error", zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("http server shutdown: %w", err))
	}

	if app.metrics != nil {
		if err := app.metrics.Stop(); err != nil {
			app.logger.Warn("metrics server shutdown error", zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	// supervisor.Stop cancels each task's context; the retention
	// scheduler itself waits for any in-flight delete to finish
	// rather than aborting it.
	if err := app.supervisor.Stop(30 * time.Second); err != nil {
		app.logger.Warn("supervisor stop error", zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("supervisor stop: %w", err))
	}
	app.cancel()

	if err := app.store.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("store close: %w", err))
	}

	if errs != nil {
		return errs
	}

	return app.logger.Sync()
}
