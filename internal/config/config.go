// Package config produces the process configuration value. Nothing reads the
// environment outside Load.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Prefix is prepended to every variable name.
const Prefix = "PTX_"

// Config is the full process configuration.
type Config struct {
	Storage Storage `env:", prefix=STORAGE_"`
	Blob    Blob    `env:", prefix=BLOB_"`
	Log     Log     `env:", prefix=LOG_"`
	Redis   Redis   `env:", prefix=REDIS_"`
	Lock    Lock    `env:", prefix=LOCK_"`
	Trace   Trace   `env:", prefix=TRACE_"`
	Metrics Metrics `env:", prefix=METRICS_"`
	Catalog Catalog `env:", prefix=CATALOG_"`
}

// Storage selects the persistent store.
type Storage struct {
	Driver      string `env:"DRIVER, default=sqlite"`
	SQLitePath  string `env:"SQLITE_PATH, default=ptxmeta.db"`
	PostgresDSN string `env:"POSTGRES_DSN"`
}

// Blob selects the blob store.
type Blob struct {
	Driver      string `env:"DRIVER, default=fs"`
	FSRoot      string `env:"FS_ROOT, default=./blobs"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3Region    string `env:"S3_REGION, default=us-east-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3PathStyle bool   `env:"S3_PATH_STYLE, default=false"`
	GCSBucket   string `env:"GCS_BUCKET"`
}

// Log configures the structured logger and the audit trail.
type Log struct {
	Mode       string `env:"MODE, default=production"`
	Level      string `env:"LEVEL, default=info"`
	Path       string `env:"PATH"`
	AuditPath  string `env:"AUDIT_PATH"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB, default=100"`
	MaxBackups int    `env:"MAX_BACKUPS, default=5"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS, default=30"`
}

// Redis configures the shared redis client.
type Redis struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB, default=0"`
	Channel  string `env:"CHANNEL, default=ptxmeta.files"`
}

// Lock selects the per-file lock.
type Lock struct {
	Driver string        `env:"DRIVER, default=memory"`
	TTL    time.Duration `env:"TTL, default=30s"`
	Retry  time.Duration `env:"RETRY, default=50ms"`
}

// Trace selects the span exporter.
type Trace struct {
	Exporter    string  `env:"EXPORTER, default=none"`
	ServiceName string  `env:"SERVICE_NAME, default=ptxmeta"`
	SampleRatio float64 `env:"SAMPLE_RATIO, default=1"`
}

// Metrics selects the metrics recorder.
type Metrics struct {
	Driver    string `env:"DRIVER, default=none"`
	Namespace string `env:"NAMESPACE, default=ptxmeta"`
}

// Catalog locates the seed file applied at startup.
type Catalog struct {
	SeedPath string `env:"SEED_PATH"`
}

// Load reads an optional .env file from the working directory, then the
// process environment.
func Load(ctx context.Context) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads the configuration from lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper(Prefix, lookuper),
	}); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks driver names and the settings each driver needs.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage: postgres requires POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case "memory", "fs":
	case "s3":
		if c.Blob.S3Bucket == "" {
			errs = append(errs, errors.New("blob: s3 requires S3_BUCKET"))
		}
	case "gcs":
		if c.Blob.GCSBucket == "" {
			errs = append(errs, errors.New("blob: gcs requires GCS_BUCKET"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob: unknown driver %q", c.Blob.Driver))
	}
	switch c.Log.Mode {
	case "development", "production":
	default:
		errs = append(errs, fmt.Errorf("log: unknown mode %q", c.Log.Mode))
	}
	switch c.Lock.Driver {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("lock: redis requires REDIS_ADDR"))
		}
		if c.Lock.TTL <= 0 {
			errs = append(errs, errors.New("lock: TTL must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock: unknown driver %q", c.Lock.Driver))
	}
	switch c.Trace.Exporter {
	case "none", "stdout":
	default:
		errs = append(errs, fmt.Errorf("trace: unknown exporter %q", c.Trace.Exporter))
	}
	if c.Trace.SampleRatio < 0 || c.Trace.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("trace: sample ratio %v outside [0,1]", c.Trace.SampleRatio))
	}
	switch c.Metrics.Driver {
	case "none", "prometheus":
	default:
		errs = append(errs, fmt.Errorf("metrics: unknown driver %q", c.Metrics.Driver))
	}
	return errors.Join(errs...)
}
