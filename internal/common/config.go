package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration. Values are resolved in
// three passes: built-in defaults, TOML file, then KX_-prefixed environment
// variables.
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Storage     StorageConfig     `toml:"storage"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	LLM         LLMConfig         `toml:"llm"`
	Embeddings  EmbeddingsConfig  `toml:"embeddings"`
	Extraction  ExtractionConfig  `toml:"extraction"`
	Boilerplate BoilerplateConfig `toml:"boilerplate"`
	Dedup       DedupConfig       `toml:"dedup"`
	Scrape      ScrapeConfig      `toml:"scrape"`
	Crawl       CrawlConfig       `toml:"crawl"`
	Projects    ProjectsConfig    `toml:"projects"`
	Logging     LoggingConfig     `toml:"logging"`
}

type StorageConfig struct {
	Badger   BadgerConfig   `toml:"badger"`
	Postgres PostgresConfig `toml:"postgres"`
	// VectorBackend selects the vector store implementation: "badger"
	// (default, in-process cosine scan) or "postgres" (pgvector).
	VectorBackend string `toml:"vector_backend"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// PostgresConfig holds the pgvector backend connection settings. Only used
// when storage.vector_backend = "postgres".
type PostgresConfig struct {
	DSN       string `toml:"dsn"`
	Dimension int    `toml:"dimension"`
}

// SchedulerConfig controls the per-type job poll loops.
type SchedulerConfig struct {
	PollInterval time.Duration `toml:"poll_interval"` // default 5s

	// Per-type stale thresholds after which a running job without a fresh
	// heartbeat is eligible for reclaim.
	ScrapeStaleThreshold  time.Duration `toml:"scrape_stale_threshold"`  // default 5m
	ExtractStaleThreshold time.Duration `toml:"extract_stale_threshold"` // default 15m
	CrawlStaleThreshold   time.Duration `toml:"crawl_stale_threshold"`   // default 30m
	ReportStaleThreshold  time.Duration `toml:"report_stale_threshold"`  // default 10m
	DedupStaleThreshold   time.Duration `toml:"dedup_stale_threshold"`   // default 10m

	// Per-type worker slots.
	CrawlConcurrency   int `toml:"crawl_concurrency"`   // default 6
	ScrapeConcurrency  int `toml:"scrape_concurrency"`  // default 1
	ExtractConcurrency int `toml:"extract_concurrency"` // default 1
	ReportConcurrency  int `toml:"report_concurrency"`  // default 1
	DedupConcurrency   int `toml:"dedup_concurrency"`   // default 1
}

// LLMConfig covers the remote completion endpoint and the request broker.
type LLMConfig struct {
	APIKey               string  `toml:"api_key"`
	Model                string  `toml:"model"`
	MaxTokens            int     `toml:"max_tokens"`
	Timeout              string  `toml:"timeout"` // completion call timeout, e.g. "120s"
	MaxRetries           int     `toml:"max_retries"`
	BaseTemperature      float64 `toml:"base_temperature"`
	TemperatureIncrement float64 `toml:"temperature_increment"`

	// Broker settings.
	QueueEnabled       bool          `toml:"queue_enabled"`       // broker mode vs direct
	MaxQueueDepth      int           `toml:"max_queue_depth"`     // default 1000
	StreamMaxLen       int           `toml:"stream_max_len"`      // default 2000
	SlowThreshold      int           `toml:"slow_threshold"`      // backpressure "slow" depth
	RequestTimeout     time.Duration `toml:"request_timeout"`     // default 300s
	ResponseTTL        time.Duration `toml:"response_ttl"`        // default 300s
	PollInterval       time.Duration `toml:"poll_interval"`       // response poll tick, default 100ms
	WorkerCount        int           `toml:"worker_count"`        // default 1
	InitialConcurrency int           `toml:"initial_concurrency"` // default 10
	MinConcurrency     int           `toml:"min_concurrency"`     // default 5
	MaxConcurrency     int           `toml:"max_concurrency"`     // default 50
}

type EmbeddingsConfig struct {
	APIKey    string `toml:"api_key"`
	Model     string `toml:"model"`     // default "gemini-embedding-001"
	Dimension int    `toml:"dimension"` // default 768
	BatchSize int    `toml:"batch_size"`

	// Orphan recovery sweep.
	RecoverySchedule  string `toml:"recovery_schedule"`   // cron expression, default "@every 5m"
	RecoveryBatchSize int    `toml:"recovery_batch_size"` // default 50
}

type ExtractionConfig struct {
	ContentLimit        int `toml:"content_limit"`         // chars per LM request, default 20000
	MaxConcurrentChunks int `toml:"max_concurrent_chunks"` // default 80
	ChunkTokenBudget    int `toml:"chunk_token_budget"`    // default 8000

	ClassifierEnabled   bool    `toml:"classifier_enabled"`
	SkipPatternsEnabled bool    `toml:"skip_patterns_enabled"`
	ClassifierHigh      float64 `toml:"classifier_high"`  // default 0.75
	ClassifierLow       float64 `toml:"classifier_low"`   // default 0.40
	ClassifierTopN      int     `toml:"classifier_top_n"` // medium-bucket selection, default 3

	EntityRetrySchedule string `toml:"entity_retry_schedule"` // cron, default "@every 10m"
}

type BoilerplateConfig struct {
	Enabled       bool    `toml:"enabled"`
	ThresholdPct  float64 `toml:"threshold_pct"`   // default 0.7
	MinPages      int     `toml:"min_pages"`       // default 5
	MinBlockChars int     `toml:"min_block_chars"` // default 50
}

type DedupConfig struct {
	Enabled   bool    `toml:"enabled"`
	Threshold float64 `toml:"threshold"` // default 0.90
}

type ScrapeConfig struct {
	DelayMin               time.Duration `toml:"delay_min"`                 // default 1s
	DelayMax               time.Duration `toml:"delay_max"`                 // default 3s
	MaxConcurrentPerDomain int           `toml:"max_concurrent_per_domain"` // default 2
	DailyLimit             int           `toml:"daily_limit"`               // per domain, default 5000
	FetchTimeout           time.Duration `toml:"fetch_timeout"`             // default 180s
}

type CrawlConfig struct {
	PollInterval        time.Duration `toml:"poll_interval"`         // crawl status poll, default 5s
	MaxConcurrentCrawls int           `toml:"max_concurrent_crawls"` // default 3
	AutoExtract         bool          `toml:"auto_extract"`
}

// ProjectsConfig points at the project definitions directory (YAML or JSON
// files, one project each).
type ProjectsConfig struct {
	DefinitionsDir string `toml:"definitions_dir"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/kx.db",
			},
			VectorBackend: "badger",
			Postgres: PostgresConfig{
				Dimension: 768,
			},
		},
		Scheduler: SchedulerConfig{
			PollInterval:          5 * time.Second,
			ScrapeStaleThreshold:  5 * time.Minute,
			ExtractStaleThreshold: 15 * time.Minute,
			CrawlStaleThreshold:   30 * time.Minute,
			ReportStaleThreshold:  10 * time.Minute,
			DedupStaleThreshold:   10 * time.Minute,
			CrawlConcurrency:      6,
			ScrapeConcurrency:     1,
			ExtractConcurrency:    1,
			ReportConcurrency:     1,
			DedupConcurrency:      1,
		},
		LLM: LLMConfig{
			Model:                "claude-sonnet-4-20250514",
			MaxTokens:            8192,
			Timeout:              "120s",
			MaxRetries:           3,
			BaseTemperature:      0.0,
			TemperatureIncrement: 0.2,
			QueueEnabled:         true,
			MaxQueueDepth:        1000,
			StreamMaxLen:         2000,
			SlowThreshold:        500,
			RequestTimeout:       300 * time.Second,
			ResponseTTL:          300 * time.Second,
			PollInterval:         100 * time.Millisecond,
			WorkerCount:          1,
			InitialConcurrency:   10,
			MinConcurrency:       5,
			MaxConcurrency:       50,
		},
		Embeddings: EmbeddingsConfig{
			Model:             "gemini-embedding-001",
			Dimension:         768,
			BatchSize:         32,
			RecoverySchedule:  "@every 5m",
			RecoveryBatchSize: 50,
		},
		Extraction: ExtractionConfig{
			ContentLimit:        20000,
			MaxConcurrentChunks: 80,
			ChunkTokenBudget:    8000,
			ClassifierEnabled:   true,
			SkipPatternsEnabled: false,
			ClassifierHigh:      0.75,
			ClassifierLow:       0.40,
			ClassifierTopN:      3,
			EntityRetrySchedule: "@every 10m",
		},
		Boilerplate: BoilerplateConfig{
			Enabled:       true,
			ThresholdPct:  0.7,
			MinPages:      5,
			MinBlockChars: 50,
		},
		Dedup: DedupConfig{
			Enabled:   true,
			Threshold: 0.90,
		},
		Scrape: ScrapeConfig{
			DelayMin:               1 * time.Second,
			DelayMax:               3 * time.Second,
			MaxConcurrentPerDomain: 2,
			DailyLimit:             5000,
			FetchTimeout:           180 * time.Second,
		},
		Crawl: CrawlConfig{
			PollInterval:        5 * time.Second,
			MaxConcurrentCrawls: 3,
			AutoExtract:         true,
		},
		Projects: ProjectsConfig{
			DefinitionsDir: "./projects",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout"},
		},
	}
}

// LoadConfig loads configuration from a TOML file (optional) and applies
// environment overrides. A missing file is not an error; invalid content is.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			if err := toml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate enforces the fatal-config startup rules.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Storage.VectorBackend != "badger" && c.Storage.VectorBackend != "postgres" {
		return fmt.Errorf("storage.vector_backend must be \"badger\" or \"postgres\", got %q", c.Storage.VectorBackend)
	}
	if c.Storage.VectorBackend == "postgres" && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required when vector_backend is postgres")
	}
	if c.Boilerplate.ThresholdPct <= 0 || c.Boilerplate.ThresholdPct > 1 {
		return fmt.Errorf("boilerplate.threshold_pct must be in (0,1], got %f", c.Boilerplate.ThresholdPct)
	}
	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		return fmt.Errorf("dedup.threshold must be in (0,1], got %f", c.Dedup.Threshold)
	}
	if c.LLM.MinConcurrency < 1 || c.LLM.MaxConcurrency < c.LLM.MinConcurrency {
		return fmt.Errorf("llm concurrency bounds invalid: min=%d max=%d", c.LLM.MinConcurrency, c.LLM.MaxConcurrency)
	}
	if _, err := time.ParseDuration(c.LLM.Timeout); err != nil {
		return fmt.Errorf("llm.timeout is not a valid duration: %w", err)
	}
	return nil
}

// StaleThresholdFor returns the reclaim threshold for a job type. Unknown
// types fall back to the extract threshold.
func (c *SchedulerConfig) StaleThresholdFor(jobType string) time.Duration {
	switch jobType {
	case "scrape":
		return c.ScrapeStaleThreshold
	case "crawl":
		return c.CrawlStaleThreshold
	case "report":
		return c.ReportStaleThreshold
	case "dedup":
		return c.DedupStaleThreshold
	default:
		return c.ExtractStaleThreshold
	}
}

// ConcurrencyFor returns the worker-slot count for a job type.
func (c *SchedulerConfig) ConcurrencyFor(jobType string) int {
	switch jobType {
	case "crawl":
		return c.CrawlConcurrency
	case "scrape":
		return c.ScrapeConcurrency
	case "report":
		return c.ReportConcurrency
	case "dedup":
		return c.DedupConcurrency
	default:
		return c.ExtractConcurrency
	}
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("KX_ENVIRONMENT"); env != "" {
		config.Environment = env
	}
	if path := os.Getenv("KX_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}
	if backend := os.Getenv("KX_VECTOR_BACKEND"); backend != "" {
		config.Storage.VectorBackend = backend
	}
	if dsn := os.Getenv("KX_POSTGRES_DSN"); dsn != "" {
		config.Storage.Postgres.DSN = dsn
	}
	if key := os.Getenv("KX_LLM_API_KEY"); key != "" {
		config.LLM.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && config.LLM.APIKey == "" {
		config.LLM.APIKey = key
	}
	if model := os.Getenv("KX_LLM_MODEL"); model != "" {
		config.LLM.Model = model
	}
	if key := os.Getenv("KX_EMBEDDINGS_API_KEY"); key != "" {
		config.Embeddings.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && config.Embeddings.APIKey == "" {
		config.Embeddings.APIKey = key
	}
	if level := os.Getenv("KX_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if dir := os.Getenv("KX_PROJECTS_DIR"); dir != "" {
		config.Projects.DefinitionsDir = dir
	}
	if v := os.Getenv("KX_EXTRACTION_CONTENT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Extraction.ContentLimit = n
		}
	}
	if v := os.Getenv("KX_EXTRACTION_MAX_CONCURRENT_CHUNKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Extraction.MaxConcurrentChunks = n
		}
	}
	if v := os.Getenv("KX_DEDUP_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Dedup.Threshold = f
		}
	}
	if v := os.Getenv("KX_BOILERPLATE_ENABLED"); v != "" {
		config.Boilerplate.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("KX_LLM_QUEUE_ENABLED"); v != "" {
		config.LLM.QueueEnabled = strings.EqualFold(v, "true") || v == "1"
	}
}
