package server

import (
	"os"
	"strconv"
	"time"

	"github.com/curaition/bitcoin-newsletter/internal/core"
)

// Config holds service configuration from environment variables.
type Config struct {
	Port                string
	NatsURL             string
	BacklogPath         string
	AnalysisURL         string
	PrioritySourcesPath string
	Workers             int

	// Policy overrides; zero means use the default.
	BatchSize       int
	SelectionLimit  int
	MaxTotalBudget  float64
	CostPerItem     float64
	InterBatchDelay time.Duration
	ItemPause       time.Duration
	PerItemTimeout  time.Duration
}

// LoadConfig reads configuration from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		Port:                getEnv("ANALYSIS_PORT", "8080"),
		NatsURL:             getEnv("NATS_URL", "nats://localhost:4222"),
		BacklogPath:         getEnv("BACKLOG_DB_PATH", "backlog.db"),
		AnalysisURL:         getEnv("ANALYSIS_SERVICE_URL", "http://localhost:8090"),
		PrioritySourcesPath: getEnv("PRIORITY_SOURCES_PATH", ""),
		Workers:             getEnvInt("ANALYSIS_WORKERS", 3),

		BatchSize:       getEnvInt("ANALYSIS_BATCH_SIZE", 0),
		SelectionLimit:  getEnvInt("ANALYSIS_SELECTION_LIMIT", 0),
		MaxTotalBudget:  getEnvFloat("ANALYSIS_MAX_TOTAL_BUDGET", 0),
		CostPerItem:     getEnvFloat("ANALYSIS_COST_PER_ITEM", 0),
		InterBatchDelay: getEnvDuration("ANALYSIS_INTER_BATCH_DELAY", 0),
		ItemPause:       getEnvDuration("ANALYSIS_ITEM_PAUSE", 0),
		PerItemTimeout:  getEnvDuration("ANALYSIS_PER_ITEM_TIMEOUT", 0),
	}
}

// Policy builds the runtime policy: production defaults with any configured
// overrides applied.
func (c Config) Policy() core.Policy {
	p := core.DefaultPolicy()
	if c.BatchSize > 0 {
		p.BatchSize = c.BatchSize
	}
	if c.SelectionLimit > 0 {
		p.SelectionLimit = c.SelectionLimit
	}
	if c.MaxTotalBudget > 0 {
		p.MaxTotalBudget = c.MaxTotalBudget
	}
	if c.CostPerItem > 0 {
		p.CostPerItem = c.CostPerItem
	}
	if c.InterBatchDelay > 0 {
		p.InterBatchDelay = c.InterBatchDelay
	}
	if c.ItemPause > 0 {
		p.ItemPause = c.ItemPause
	}
	if c.PerItemTimeout > 0 {
		p.PerItemTimeout = c.PerItemTimeout
	}
	return p
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
