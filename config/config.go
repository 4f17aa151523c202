package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/devcubo3/trabalho-mae/constants"
)

type Options struct {
	AllowedIPAddresses []string `mapstructure:"allowed_ip_addresses"`
	DefaultUserAgent   string   `mapstructure:"default_user_agent"`
	EnableHealth       bool     `mapstructure:"enable_health"`
	EnableStats        bool     `mapstructure:"enable_stats"`
	EnablePrometheus   bool     `mapstructure:"enable_prometheus"`
	ForceHTTPS         bool     `mapstructure:"force_https"`
}

type Server struct {
	Port               int           `mapstructure:"port"`
	Workers            int           `mapstructure:"workers"`
	Threads            int           `mapstructure:"threads"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadSize      int64         `mapstructure:"max_upload_size"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst     int           `mapstructure:"rate_limit_burst"`
}

// MaxInFlight is the number of requests served concurrently before new ones wait for a slot.
func (s Server) MaxInFlight() int {
	return s.Workers * s.Threads
}

type S3 struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type Storage struct {
	UploadDir   string `mapstructure:"upload_dir"`
	ResultDir   string `mapstructure:"result_dir"`
	Backend     string `mapstructure:"backend"`
	DBPath      string `mapstructure:"db_path"`
	DBChunkSize int    `mapstructure:"db_chunk_size"`
	Litestream  bool   `mapstructure:"litestream"`
	S3          S3     `mapstructure:"s3"`
}

type Pipeline struct {
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
	DPI           float64       `mapstructure:"dpi"`
	MaxRetries    int           `mapstructure:"max_retries"`
	FeedCacheSize int           `mapstructure:"feed_cache_size"`
}

type OpenAI struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int64  `mapstructure:"max_tokens"`
}

// Account holds the bank account printed in generated documents when the form leaves it blank.
type Account struct {
	Bank   string `mapstructure:"bank"`
	Branch string `mapstructure:"branch"`
	Number string `mapstructure:"number"`
}

type Retention struct {
	Schedule string        `mapstructure:"schedule"`
	Uploads  time.Duration `mapstructure:"uploads"`
	Results  time.Duration `mapstructure:"results"`
	Jobs     time.Duration `mapstructure:"jobs"`
}

type Config struct {
	Debug          bool      `mapstructure:"debug"`
	LogLevel       string    `mapstructure:"log_level"`
	SecretKey      string    `mapstructure:"secret_key"`
	AllowedHeaders []string  `mapstructure:"allowed_headers"`
	AllowedMethods []string  `mapstructure:"allowed_methods"`
	AllowedOrigins []string  `mapstructure:"allowed_origins"`
	Server         Server    `mapstructure:"server"`
	Storage        Storage   `mapstructure:"storage"`
	Pipeline       Pipeline  `mapstructure:"pipeline"`
	OpenAI         OpenAI    `mapstructure:"openai"`
	Account        Account   `mapstructure:"account"`
	Retention      Retention `mapstructure:"retention"`
	Options        *Options  `mapstructure:"options"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server: Server{
			Port:            DefaultPort,
			Workers:         DefaultWorkers,
			Threads:         DefaultThreads,
			RequestTimeout:  DefaultRequestTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
			MaxUploadSize:   DefaultMaxUploadSize,
		},
		Storage: Storage{
			UploadDir:   DefaultUploadDir,
			ResultDir:   DefaultResultDir,
			Backend:     DefaultBackend,
			DBPath:      DefaultDBPath,
			DBChunkSize: DefaultChunkSize,
		},
		Pipeline: Pipeline{
			Workers:       DefaultPipelineWorkers,
			QueueSize:     DefaultQueueSize,
			JobTimeout:    DefaultJobTimeout,
			DPI:           DefaultDPI,
			MaxRetries:    DefaultMaxRetries,
			FeedCacheSize: DefaultFeedCacheSize,
		},
		OpenAI: OpenAI{
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Account: Account{
			Bank:   DefaultBank,
			Branch: DefaultBranch,
			Number: DefaultNumber,
		},
		Retention: Retention{
			Schedule: DefaultRetentionSchedule,
			Uploads:  DefaultUploadRetention,
			Results:  DefaultResultRetention,
			Jobs:     DefaultJobRetention,
		},
		Options: &Options{
			DefaultUserAgent: fmt.Sprint(DefaultUserAgent, "/", constants.Version),
		},
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Server.Port)
	case c.Server.Workers <= 0 || c.Server.Threads <= 0:
		return fmt.Errorf("workers and threads must be positive, got %d and %d", c.Server.Workers, c.Server.Threads)
	case c.Server.RequestTimeout <= 0:
		return errors.New("request timeout must be positive")
	case c.Server.MaxUploadSize <= 0:
		return errors.New("max upload size must be positive")
	case c.Pipeline.Workers <= 0 || c.Pipeline.QueueSize <= 0:
		return errors.New("pipeline workers and queue size must be positive")
	case c.Pipeline.JobTimeout <= 0:
		return errors.New("job timeout must be positive")
	case c.Storage.UploadDir == "" || c.Storage.ResultDir == "":
		return errors.New("upload and result directories are required")
	}

	switch c.Storage.Backend {
	case BackendFS, BackendSQLite:
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("s3 backend requires storage.s3.bucket")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	return nil
}

// SlogLevel maps LogLevel to an slog.Level; Debug forces debug output.
func (c *Config) SlogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()

	v.SetDefault("debug", d.Debug)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("secret_key", "")
	v.SetDefault("allowed_headers", []string{})
	v.SetDefault("allowed_methods", []string{})
	v.SetDefault("allowed_origins", []string{})

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.workers", d.Server.Workers)
	v.SetDefault("server.threads", d.Server.Threads)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_upload_size", d.Server.MaxUploadSize)
	v.SetDefault("server.rate_limit_per_minute", 0)
	v.SetDefault("server.rate_limit_burst", 0)

	v.SetDefault("storage.upload_dir", d.Storage.UploadDir)
	v.SetDefault("storage.result_dir", d.Storage.ResultDir)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.db_path", d.Storage.DBPath)
	v.SetDefault("storage.db_chunk_size", d.Storage.DBChunkSize)
	v.SetDefault("storage.litestream", false)
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.prefix", "")
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")

	v.SetDefault("pipeline.workers", d.Pipeline.Workers)
	v.SetDefault("pipeline.queue_size", d.Pipeline.QueueSize)
	v.SetDefault("pipeline.job_timeout", d.Pipeline.JobTimeout)
	v.SetDefault("pipeline.dpi", d.Pipeline.DPI)
	v.SetDefault("pipeline.max_retries", d.Pipeline.MaxRetries)
	v.SetDefault("pipeline.feed_cache_size", d.Pipeline.FeedCacheSize)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", d.OpenAI.Model)
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.max_tokens", d.OpenAI.MaxTokens)

	v.SetDefault("account.bank", d.Account.Bank)
	v.SetDefault("account.branch", d.Account.Branch)
	v.SetDefault("account.number", d.Account.Number)

	v.SetDefault("retention.schedule", d.Retention.Schedule)
	v.SetDefault("retention.uploads", d.Retention.Uploads)
	v.SetDefault("retention.results", d.Retention.Results)
	v.SetDefault("retention.jobs", d.Retention.Jobs)

	v.SetDefault("options.allowed_ip_addresses", []string{})
	v.SetDefault("options.default_user_agent", d.Options.DefaultUserAgent)
	v.SetDefault("options.enable_health", false)
	v.SetDefault("options.enable_stats", false)
	v.SetDefault("options.enable_prometheus", false)
	v.SetDefault("options.force_https", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// the two keys every deployment sets keep their conventional names
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY")

	return v
}

func load(content string, isPath bool) (*Config, error) {
	v := newViper()

	var err error

	if isPath {
		if content != "" {
			v.SetConfigFile(content)
			err = v.ReadInConfig()
			if err != nil {
				return nil, err
			}
		}
	} else {
		v.SetConfigType("json")
		err = v.ReadConfig(bytes.NewBufferString(content))
		if err != nil {
			return nil, err
		}
	}

	config := &Config{}
	err = v.Unmarshal(config)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Load reads .env.local into the environment, then the optional config file at path, then the environment.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(DotEnvFile); err != nil {
		return nil, err
	}
	return load(path, true)
}

// LoadJSON builds a configuration from a JSON document layered over defaults and the environment.
func LoadJSON(content string) (*Config, error) {
	return load(content, false)
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
