// Package config loads application configuration from the environment.
// A local .env file is honored when present; every knob has a default except
// the datastore DSN and the LLM API key.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`
	HealthPort  int    `env:"HEALTH_PORT" envDefault:"8080"`

	// LLM
	LLMAPIKey           string        `env:"LLM_API_KEY,required"`
	LLMModel            string        `env:"LLM_MODEL" envDefault:"gpt-4o-mini"`
	EmbeddingModel      string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	LLMRequestTimeout   time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`
	RateLimitRPS        int           `env:"RATE_LIMIT_RPS" envDefault:"2"`
	LLMCircuitThreshold int           `env:"LLM_CIRCUIT_THRESHOLD" envDefault:"5"`
	LLMCircuitCooldown  time.Duration `env:"LLM_CIRCUIT_COOLDOWN" envDefault:"1m"`

	// Stage 1 pipeline
	TaskBatchSize      int           `env:"TASK_BATCH_SIZE" envDefault:"20"`
	IngestionThreshold int           `env:"INGESTION_THRESHOLD" envDefault:"4"`
	PipelinePollWait   time.Duration `env:"PIPELINE_POLL_INTERVAL" envDefault:"30s"`

	// Candidate-term sanitizer
	TermMinLength int      `env:"TERM_MIN_LENGTH" envDefault:"2"`
	TermMaxLength int      `env:"TERM_MAX_LENGTH" envDefault:"80"`
	TermDenylist  []string `env:"TERM_DENYLIST" envSeparator:"," envDefault:"company,companies,technology,startup,startups,platform,solution,various,unknown,other,n/a,none"`

	// Evidence chain
	ChainWindowDays   int `env:"CHAIN_WINDOW_DAYS" envDefault:"90"`
	ChainMaxEntries   int `env:"CHAIN_MAX_ENTRIES" envDefault:"5"`
	ChainMaxEntityIDs int `env:"CHAIN_MAX_ENTITY_IDS" envDefault:"10"`

	// Stage 2 graph
	FindingBatchSize int           `env:"FINDING_BATCH_SIZE" envDefault:"25"`
	GraphFlushSize   int           `env:"GRAPH_FLUSH_SIZE" envDefault:"50"`
	GraphPollWait    time.Duration `env:"GRAPH_POLL_INTERVAL" envDefault:"1m"`

	// Entity normalization sweep
	SweepBatchSize int `env:"SWEEP_BATCH_SIZE" envDefault:"100"`

	// Hierarchy classifier
	HierarchyBatchSize    int `env:"HIERARCHY_BATCH_SIZE" envDefault:"20"`
	HierarchyCandidateCap int `env:"HIERARCHY_CANDIDATE_CAP" envDefault:"60"`

	// Snapshots
	SnapshotLookbackDays int `env:"SNAPSHOT_LOOKBACK_DAYS" envDefault:"1"`

	// Harvester
	HarvestFeeds        []string      `env:"HARVEST_FEEDS" envSeparator:","`
	HarvestFetchTimeout time.Duration `env:"HARVEST_FETCH_TIMEOUT" envDefault:"30s"`
	HarvestMaxPerFeed   int           `env:"HARVEST_MAX_PER_FEED" envDefault:"50"`
	HarvestFetchBody    bool          `env:"HARVEST_FETCH_BODY" envDefault:"false"`

	// Database pool
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS" envDefault:"10"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS" envDefault:"1"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"15m"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	DBHealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional, error is expected when not present

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	return cfg, nil
}
