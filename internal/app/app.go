// Package app wires a config.Config into a ready FileLifecycle service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"ptxmeta/internal/blob"
	"ptxmeta/internal/catalog"
	"ptxmeta/internal/config"
	"ptxmeta/internal/core"
	"ptxmeta/internal/infra/lock"
	"ptxmeta/internal/logging"
	"ptxmeta/internal/notify"
	"ptxmeta/internal/observability"
)

const (
	lockPrefix  = "ptxmeta:lock:"
	auditRetain = 1000
)

// App owns the service and the resources it was built from.
type App struct {
	Service  *core.Service
	Logger   *logging.Logger
	Registry *prometheus.Registry
	Audit    *core.JSONAuditRecorder

	closers []func(context.Context) error
}

// New builds every collaborator named by cfg. On error, anything already
// opened is released.
func New(ctx context.Context, cfg config.Config, opts ...core.Option) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	logger, err := logging.New(logging.Options{
		Mode:       cfg.Log.Mode,
		Level:      cfg.Log.Level,
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.Logger = logger
	a.closer(func(context.Context) error { return logger.Close() })

	store, err := core.OpenPersistentStore(ctx, core.StorageConfig{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	}, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.closeIfCloser(store)

	if cfg.Catalog.SeedPath != "" {
		seed, err := catalog.LoadSeedFile(cfg.Catalog.SeedPath)
		if err != nil {
			return nil, fmt.Errorf("catalog seed: %w", err)
		}
		if err := catalog.Bootstrap(ctx, store, seed); err != nil {
			return nil, fmt.Errorf("catalog bootstrap: %w", err)
		}
	}

	blobs, err := blob.Open(ctx, blobConfig(cfg.Blob))
	if err != nil {
		return nil, fmt.Errorf("blob: %w", err)
	}
	a.closeIfCloser(blobs)

	options := []core.Option{core.WithLogger(logger)}

	switch cfg.Metrics.Driver {
	case "prometheus":
		a.Registry = prometheus.NewRegistry()
		rec, err := observability.NewPrometheusRecorder(a.Registry, cfg.Metrics.Namespace)
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		options = append(options, core.WithMetricsRecorder(rec))
	}

	switch cfg.Trace.Exporter {
	case "stdout":
		provider, err := observability.NewStdoutProvider(os.Stdout, cfg.Trace.SampleRatio)
		if err != nil {
			return nil, fmt.Errorf("tracing: %w", err)
		}
		a.closer(provider.Shutdown)
		options = append(options, core.WithTracer(observability.NewOTelTracer(provider)))
	}

	var auditOut io.Writer = io.Discard
	if cfg.Log.AuditPath != "" {
		w := logging.RotatingWriter(cfg.Log.AuditPath, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays)
		a.closer(func(context.Context) error { return w.Close() })
		auditOut = w
	}
	a.Audit = core.NewJSONAuditRecorder(auditOut, auditRetain)
	options = append(options, core.WithAuditRecorder(a.Audit))

	notifier := notify.Multi{notify.LogNotifier{Logger: logger}}
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closer(func(context.Context) error { return rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		pub, err := notify.NewRedisNotifier(rdb, cfg.Redis.Channel)
		if err != nil {
			return nil, err
		}
		notifier = append(notifier, pub)
	}
	options = append(options, core.WithNotifier(notifier))

	if cfg.Lock.Driver == "redis" {
		if rdb == nil {
			return nil, errors.New("lock: redis driver requires a redis address")
		}
		locker, err := lock.NewRedisLocker(rdb, lockPrefix, cfg.Lock.TTL, cfg.Lock.Retry, logger)
		if err != nil {
			return nil, fmt.Errorf("lock: %w", err)
		}
		options = append(options, core.WithLocker(locker))
	}

	a.Service = core.NewService(store, blobs, catalog.Load(ctx, store), append(options, opts...)...)
	logger.Info("service ready",
		"storage", cfg.Storage.Driver,
		"blob", cfg.Blob.Driver,
		"lock", cfg.Lock.Driver,
		"metrics", cfg.Metrics.Driver,
		"trace", cfg.Trace.Exporter,
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) closer(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) closeIfCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closer(func(context.Context) error { return c.Close() })
	}
}

func blobConfig(c config.Blob) blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Driver),
		FSRoot: c.FSRoot,
		S3: blob.S3Config{
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			Endpoint:  c.S3Endpoint,
			PathStyle: c.S3PathStyle,
		},
		GCS: blob.GCSConfig{Bucket: c.GCSBucket},
	}
}
