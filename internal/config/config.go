package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Blob       BlobConfig       `yaml:"blob" mapstructure:"blob"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Overpass   OverpassConfig   `yaml:"overpass" mapstructure:"overpass"`
	Nominatim  NominatimConfig  `yaml:"nominatim" mapstructure:"nominatim"`
	Geocache   GeocacheConfig   `yaml:"geocache" mapstructure:"geocache"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Spatial    SpatialConfig    `yaml:"spatial" mapstructure:"spatial"`
	AWS        AWSConfig        `yaml:"aws" mapstructure:"aws"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the area store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	DynamoTable string `yaml:"dynamo_table" mapstructure:"dynamo_table"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BlobConfig configures where detail documents are written.
type BlobConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// QueueConfig configures the work queue backend.
type QueueConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	SQSURL string `yaml:"sqs_url" mapstructure:"sqs_url"`
}

// OverpassConfig configures the map-data client.
type OverpassConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// NominatimConfig configures the reverse geocoder.
type NominatimConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	DelayMillis int     `yaml:"delay_ms" mapstructure:"delay_ms"`
	Disabled    bool    `yaml:"disabled" mapstructure:"disabled"`
}

// GeocacheConfig configures the Redis cache in front of the geocoder. An
// empty URL disables it.
type GeocacheConfig struct {
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// PipelineConfig configures discovery planning and the continuation driver.
type PipelineConfig struct {
	DirectThreshold   int `yaml:"direct_threshold" mapstructure:"direct_threshold"`
	BatchSize         int `yaml:"batch_size" mapstructure:"batch_size"`
	BudgetSecs        int `yaml:"budget_secs" mapstructure:"budget_secs"`
	StageEstimateSecs int `yaml:"stage_estimate_secs" mapstructure:"stage_estimate_secs"`
	StageTimeoutSecs  int `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
}

// WorkerConfig configures queue worker invocations.
type WorkerConfig struct {
	MaxMessages       int    `yaml:"max_messages" mapstructure:"max_messages"`
	MaxProcessingSecs int    `yaml:"max_processing_secs" mapstructure:"max_processing_secs"`
	SafetyMarginSecs  int    `yaml:"safety_margin_secs" mapstructure:"safety_margin_secs"`
	LeaseSecs         int    `yaml:"lease_secs" mapstructure:"lease_secs"`
	BudgetSecs        int    `yaml:"budget_secs" mapstructure:"budget_secs"`
	Enrich            bool   `yaml:"enrich" mapstructure:"enrich"`
	Spawner           string `yaml:"spawner" mapstructure:"spawner"`
	LambdaFunction    string `yaml:"lambda_function" mapstructure:"lambda_function"`
	SpawnURL          string `yaml:"spawn_url" mapstructure:"spawn_url"`
}

// SpatialConfig toggles the boundary filter on downloaded features.
type SpatialConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// AWSConfig holds shared AWS client settings. Endpoint points every client
// at a local emulator when set.
type AWSConfig struct {
	Region          string `yaml:"region" mapstructure:"region"`
	Endpoint        string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
}

// TemporalConfig configures the durable workflow host.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures backlog alerting.
type MonitoringConfig struct {
	Enabled           bool   `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	BacklogThreshold  int    `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`
	StallChecks       int    `yaml:"stall_checks" mapstructure:"stall_checks"`
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Seconds converts a whole-second setting to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: read .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SKIATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "skiatlas.db")
	v.SetDefault("store.dynamo_table", "WinterSportsResorts")
	v.SetDefault("blob.driver", "local")
	v.SetDefault("blob.dir", "data/details")
	v.SetDefault("queue.driver", "postgres")
	v.SetDefault("overpass.base_url", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.user_agent", "SkiResortMapper/1.0")
	v.SetDefault("overpass.rate_limit", 1.0)
	v.SetDefault("nominatim.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("nominatim.user_agent", "SkiResortMapper/1.0")
	v.SetDefault("nominatim.rate_limit", 1.0)
	v.SetDefault("nominatim.delay_ms", 1000)
	v.SetDefault("geocache.ttl_hours", 720)
	v.SetDefault("pipeline.direct_threshold", 10)
	v.SetDefault("pipeline.batch_size", 10)
	v.SetDefault("pipeline.budget_secs", 840)
	v.SetDefault("pipeline.stage_estimate_secs", 210)
	v.SetDefault("pipeline.stage_timeout_secs", 300)
	v.SetDefault("worker.max_messages", 10)
	v.SetDefault("worker.max_processing_secs", 240)
	v.SetDefault("worker.safety_margin_secs", 30)
	v.SetDefault("worker.lease_secs", 60)
	v.SetDefault("worker.spawner", "none")
	v.SetDefault("spatial.enabled", true)
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "skiatlas")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.backlog_threshold", 500)
	v.SetDefault("monitoring.stall_checks", 3)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Keys without a useful default still need registering so that
	// AutomaticEnv picks them up during Unmarshal.
	for _, key := range []string{
		"store.database_url", "blob.bucket", "blob.prefix", "queue.sqs_url",
		"geocache.redis_url", "aws.endpoint", "aws.access_key_id", "aws.secret_access_key",
		"worker.lambda_function", "worker.spawn_url", "monitoring.webhook_url",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("worker.enrich", false)
	v.SetDefault("nominatim.disabled", false)
	v.SetDefault("monitoring.enabled", false)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings each named scope needs. Scopes are store,
// blob, queue, worker, serve and temporal.
func (c *Config) Validate(scopes ...string) error {
	var errs []error
	for _, scope := range scopes {
		switch scope {
		case "store":
			errs = append(errs, c.validateStore())
		case "blob":
			switch c.Blob.Driver {
			case "local":
				if c.Blob.Dir == "" {
					errs = append(errs, eris.New("config: blob.dir is required for the local driver"))
				}
			case "s3":
				if c.Blob.Bucket == "" {
					errs = append(errs, eris.New("config: blob.bucket is required for the s3 driver"))
				}
			default:
				errs = append(errs, eris.Errorf("config: unknown blob.driver %q", c.Blob.Driver))
			}
		case "queue":
			switch c.Queue.Driver {
			case "postgres":
				if c.Store.DatabaseURL == "" {
					errs = append(errs, eris.New("config: store.database_url is required for the postgres queue"))
				}
			case "sqs":
				if c.Queue.SQSURL == "" {
					errs = append(errs, eris.New("config: queue.sqs_url is required for the sqs driver"))
				}
			case "memory":
			default:
				errs = append(errs, eris.Errorf("config: unknown queue.driver %q", c.Queue.Driver))
			}
		case "worker":
			if c.Worker.MaxMessages <= 0 {
				errs = append(errs, eris.New("config: worker.max_messages must be positive"))
			}
			switch c.Worker.Spawner {
			case "none", "":
			case "lambda":
				if c.Worker.LambdaFunction == "" {
					errs = append(errs, eris.New("config: worker.lambda_function is required for the lambda spawner"))
				}
			case "http":
				if c.Worker.SpawnURL == "" {
					errs = append(errs, eris.New("config: worker.spawn_url is required for the http spawner"))
				}
			default:
				errs = append(errs, eris.Errorf("config: unknown worker.spawner %q", c.Worker.Spawner))
			}
		case "serve":
			if c.Server.Port <= 0 {
				errs = append(errs, eris.New("config: server.port must be > 0"))
			}
		case "temporal":
			if c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "" {
				errs = append(errs, eris.New("config: temporal.host_port and temporal.task_queue are required"))
			}
		default:
			errs = append(errs, eris.Errorf("config: unknown validation scope %q", scope))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return eris.New("config: store.sqlite_path is required for the sqlite driver")
		}
	case "dynamodb":
		if c.Store.DynamoTable == "" {
			return eris.New("config: store.dynamo_table is required for the dynamodb driver")
		}
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
