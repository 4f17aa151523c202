package config

import "time"

const (
	// DefaultPort is the port used when PORT is not set
	DefaultPort = 5000

	// DefaultWorkers and DefaultThreads shape the in-flight request limit (workers x threads)
	DefaultWorkers = 2
	DefaultThreads = 4

	DefaultRequestTimeout  = 300 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxUploadSize   = 50 << 20

	DefaultUploadDir = "uploads"
	DefaultResultDir = "resultados"
	DefaultBackend   = BackendFS

	DefaultDBPath    = "data/extrator.db"
	DefaultChunkSize = 327680

	DefaultPipelineWorkers = 2
	DefaultQueueSize       = 32
	DefaultJobTimeout      = 15 * time.Minute
	DefaultDPI             = 300
	DefaultMaxRetries      = 3
	DefaultFeedCacheSize   = 256

	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 4096

	DefaultBank   = "BRADESCO"
	DefaultBranch = "3050"
	DefaultNumber = "7223-0"

	DefaultRetentionSchedule = "@every 15m"
	DefaultUploadRetention   = time.Hour
	DefaultResultRetention   = 24 * time.Hour
	DefaultJobRetention      = 72 * time.Hour

	// DefaultUserAgent is the default user-agent header
	DefaultUserAgent = "extrator"

	// EnvPrefix prefixes every environment key except PORT and OPENAI_API_KEY
	EnvPrefix = "extrator"

	// DotEnvFile is loaded into the environment when present
	DotEnvFile = ".env.local"
)

const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)
