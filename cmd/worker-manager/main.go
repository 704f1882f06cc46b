// cmd/worker-manager/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ledger-query-workers/internal/admin"
	"ledger-query-workers/internal/alerts"
	"ledger-query-workers/internal/audit"
	commonaws "ledger-query-workers/internal/common/aws"
	"ledger-query-workers/internal/common/camunda"
	"ledger-query-workers/internal/common/config"
	"ledger-query-workers/internal/common/database"
	"ledger-query-workers/internal/common/logger"
	"ledger-query-workers/internal/common/observability"
	"ledger-query-workers/internal/common/validation"
	"ledger-query-workers/internal/fiscal"
	"ledger-query-workers/internal/ledger"
	"ledger-query-workers/internal/parser"
	"ledger-query-workers/internal/pipeline"
	"ledger-query-workers/internal/registry"
	"ledger-query-workers/internal/retrieval"
	"ledger-query-workers/internal/semantics"
	catalog "ledger-query-workers/pkg/registry"

	pfq "ledger-query-workers/internal/workers/financial-query/parse-financial-query"
	rer "ledger-query-workers/internal/workers/financial-query/refresh-entity-registry"
	rlr "ledger-query-workers/internal/workers/financial-query/retrieve-ledger-rows"
)

const shutdownTimeout = 30 * time.Second

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// datastores holds the optional backing stores. Each is nil when no
// configured component needs it.
type datastores struct {
	pg    *database.PostgresClient
	redis *database.RedisClient
	es    *database.ElasticsearchClient
}

func (d *datastores) Close() {
	if d.pg != nil {
		_ = d.pg.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
}

func connectDatastores(ctx context.Context, cfg *config.Config, log logger.Logger) (*datastores, error) {
	ds := &datastores{}

	if cfg.Registry.Store == "postgres" {
		err := retryWithBackoff(func() error {
			var err error
			ds.pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return ds.pg.Ping(ctx)
		}, 15, 2*time.Second, log, "PostgreSQL connection")
		if err != nil {
			return ds, err
		}
		if err := ds.pg.Migrate(ctx, registry.PostgresSchema); err != nil {
			return ds, fmt.Errorf("registry schema migration: %w", err)
		}
		log.Info("PostgreSQL connected successfully", nil)
	}

	if cfg.Registry.Store == "redis" || cfg.Retrieval.SharedCache {
		err := retryWithBackoff(func() error {
			var err error
			ds.redis, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return ds.redis.Ping(ctx)
		}, 10, 2*time.Second, log, "Redis connection")
		if err != nil {
			return ds, err
		}
		log.Info("Redis connected successfully", nil)
	}

	if cfg.Audit.Enabled {
		err := retryWithBackoff(func() error {
			var err error
			ds.es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return ds.es.Ping(ctx)
		}, 15, 2*time.Second, log, "Elasticsearch connection")
		if err != nil {
			return ds, err
		}
		log.Info("Elasticsearch connected successfully", nil)
	}

	return ds, nil
}

func registryStore(cfg *config.Config, ds *datastores) registry.Store {
	ttl := config.GetDuration(cfg.Registry.TTL)
	switch cfg.Registry.Store {
	case "redis":
		return registry.NewRedisStore(ds.redis.Client, cfg.Registry.SchemaVersion, ttl)
	case "postgres":
		return registry.NewPostgresStore(ds.pg.DB, cfg.Registry.SchemaVersion, ttl)
	default:
		return registry.NewMemoryStore(cfg.Registry.SchemaVersion, ttl)
	}
}

func newAlerter(ctx context.Context, cfg *config.Config, log logger.Logger) (alerts.Publisher, error) {
	if !cfg.Alerts.Enabled {
		return alerts.Nop{}, nil
	}
	client, err := commonaws.NewSNSClient(ctx, cfg.Alerts.Region)
	if err != nil {
		return nil, err
	}
	return alerts.NewSNSPublisher(client, cfg.Alerts.TopicARN, cfg.App.Name,
		config.GetDuration(cfg.Alerts.MinInterval), log), nil
}

func newAuditSink(ctx context.Context, cfg *config.Config, ds *datastores, log logger.Logger) audit.Sink {
	if ds.es == nil {
		return audit.Nop{}
	}
	sink := audit.NewElasticsearchSink(ds.es, cfg.Audit.Index, log)
	if err := sink.EnsureIndex(ctx); err != nil {
		// Records are best effort; indexing retries on every write.
		log.Warn("audit index setup failed", map[string]interface{}{"index": cfg.Audit.Index, "error": err.Error()})
	}
	return sink
}

func columns(c config.ColumnConfig) ledger.Columns {
	return ledger.Columns{
		RowKey:          c.RowKey,
		Department:      c.Department,
		AccountNumber:   c.AccountNumber,
		AccountName:     c.AccountName,
		Subsidiary:      c.Subsidiary,
		TransactionType: c.TransactionType,
		Date:            c.Date,
		Period:          c.Period,
		Amount:          c.Amount,
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).With(map[string]interface{}{"service": cfg.App.Name})

	log.Info("Starting worker manager...", map[string]interface{}{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Fatal("observability setup failed", zap.Error(err))
	}

	ds, err := connectDatastores(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("datastore connection failed after retries", zap.Error(err))
	}
	defer ds.Close()

	alerter, err := newAlerter(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("alert publisher setup failed", zap.Error(err))
	}
	sink := newAuditSink(ctx, cfg, ds, log)

	calOpts := []fiscal.Option{}
	if cfg.Fiscal.LabelByStartYear {
		calOpts = append(calOpts, fiscal.WithStartYearLabels())
	}
	calendar, err := fiscal.NewCalendar(time.Month(cfg.Fiscal.StartMonth), calOpts...)
	if err != nil {
		zapLog.Fatal("invalid fiscal calendar", zap.Error(err))
	}

	cols := columns(cfg.Columns)

	// --- Entity registry and retrieval ---
	// The coordinator reads registry stats and the registry reads snapshots
	// from the coordinator, so the source is attached after both exist.
	manager := registry.NewManager(registry.ManagerOptions{
		Columns:             cols,
		SchemaVersion:       cfg.Registry.SchemaVersion,
		TTL:                 config.GetDuration(cfg.Registry.TTL),
		MaxDegradedFraction: cfg.Registry.MaxDegradedFraction,
		MinSourceRatio:      cfg.Registry.MinSourceRatio,
		AmbiguityBand:       cfg.Registry.AmbiguityBand,
		BuildTimeout:        config.GetDuration(cfg.Registry.BuildTimeout),
	}, nil, registryStore(cfg, ds), alerter, log)
	defer manager.Close()

	ledgerClient := ledger.NewClient(ledger.Config{
		BaseURL:           cfg.Ledger.BaseURL,
		APIKey:            cfg.Ledger.APIKey,
		Source:            cfg.Ledger.SourceIdentity,
		PageSize:          cfg.Ledger.PageSize,
		Timeout:           config.GetDuration(cfg.Ledger.RequestTimeout),
		RequestsPerSecond: cfg.Ledger.RequestsPerSecond,
		Burst:             cfg.Ledger.Burst,
	}, log)
	fetcher := retrieval.NewPagedFetcher(ledgerClient, retrieval.FetchOptions{
		Parallelism: cfg.Ledger.Parallelism,
		MaxAttempts: cfg.Ledger.MaxAttempts,
		BackoffBase: config.GetDuration(cfg.Ledger.BackoffBase),
		BackoffMax:  config.GetDuration(cfg.Ledger.BackoffMax),
	}, log)

	var shared *redis.Client
	if cfg.Retrieval.SharedCache {
		shared = ds.redis.Client
	}
	cache := retrieval.NewSnapshotCache(config.GetDuration(cfg.Retrieval.SnapshotMaxAge), shared, log)

	coordinator := retrieval.NewCoordinator(retrieval.Options{
		SourceIdentity:     cfg.Ledger.SourceIdentity,
		SchemaVersion:      cfg.Ledger.SchemaVersion,
		Columns:            cols,
		RemoteFiltering:    cfg.Retrieval.RemoteFiltering,
		SpotCheckPages:     cfg.Retrieval.SpotCheckPages,
		SpotCheckTolerance: cfg.Retrieval.SpotCheckTolerance,
		MaxOutputRows:      cfg.Retrieval.MaxOutputRows,
	}, fetcher, cache, manager, alerter, log)
	manager.SetSource(coordinator)

	if err := manager.Start(ctx); err != nil {
		zapLog.Fatal("entity registry start failed", zap.Error(err))
	}

	queryParser := parser.New(calendar, semantics.Default(), manager, log)
	service := pipeline.NewService(queryParser, manager, coordinator, sink, obs, log)

	activities, err := catalog.Default()
	if err != nil {
		zapLog.Fatal("activity catalog is invalid", zap.Error(err))
	}

	// --- Init Zeebe Client ---
	zeebe, err := camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
		GatewayAddress:         cfg.Camunda.BrokerAddress,
		UsePlaintextConnection: cfg.Camunda.UsePlaintext,
		RequestTimeout:         config.GetDuration(cfg.Camunda.RequestTimeout),
		RetryConfig: &camunda.RetryConfig{
			MaxRetries: 10,
			BaseDelay:  2 * time.Second,
			MaxDelay:   30 * time.Second,
		},
	})
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	defer zeebe.Close()
	log.Info("Zeebe client connected successfully", map[string]interface{}{"gateway": cfg.Camunda.BrokerAddress})

	pool := camunda.NewPool(zeebe.GetClient(), log)

	// --- Register workers ---
	if wc := pfq.LoadConfig(cfg); wc.Enabled {
		handler := pfq.NewHandler(wc, service, mustSchema(activities, pfq.TaskType, zapLog), log)
		startWorker(pool, pfq.TaskType, wc.MaxJobsActive, wc.Timeout, handler.Handle, zapLog)
	}

	if wc := rlr.LoadConfig(cfg); wc.Enabled {
		handler := rlr.NewHandler(wc, service, mustSchema(activities, rlr.TaskType, zapLog), log)
		startWorker(pool, rlr.TaskType, wc.MaxJobsActive, wc.Timeout, handler.Handle, zapLog)
	}

	if wc := rer.LoadConfig(cfg); wc.Enabled {
		handler := rer.NewHandler(wc, manager, mustSchema(activities, rer.TaskType, zapLog), log)
		startWorker(pool, rer.TaskType, wc.MaxJobsActive, wc.Timeout, handler.Handle, zapLog)
	}

	log.Info("All workers started successfully", map[string]interface{}{"taskTypes": pool.TaskTypes()})

	// --- Admin HTTP (health, readiness, metrics, registry) ---
	checks := map[string]admin.Check{"zeebe": zeebe.HealthCheck}
	if ds.redis != nil {
		checks["redis"] = ds.redis.Ping
	}
	if ds.pg != nil {
		checks["postgres"] = ds.pg.Ping
	}
	if ds.es != nil {
		checks["elasticsearch"] = ds.es.Ping
	}
	server := admin.NewServer(cfg.Admin.ListenAddress, admin.Options{
		Registry: manager,
		Checks:   checks,
		Metrics:  promhttp.Handler(),
		Logger:   log,
	})
	go func() {
		if err := server.Run(); err != nil {
			log.Error("admin server failed", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	log.Info("Shutdown signal received, stopping workers...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	pool.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	log.Info("Worker manager stopped", nil)
}

func mustSchema(activities *catalog.ActivityRegistry, taskType string, zapLog *zap.Logger) *validation.Schema {
	schema, err := activities.InputSchema(taskType)
	if err != nil {
		zapLog.Fatal("missing input schema", zap.String("taskType", taskType), zap.Error(err))
	}
	return schema
}

func startWorker(pool *camunda.Pool, taskType string, maxJobsActive int, timeout time.Duration, handler worker.JobHandler, zapLog *zap.Logger) {
	err := pool.Open(camunda.WorkerOptions{
		TaskType:      taskType,
		MaxJobsActive: maxJobsActive,
		Timeout:       timeout,
	}, handler)
	if err != nil {
		zapLog.Fatal("failed to start worker", zap.String("taskType", taskType), zap.Error(err))
	}
}
