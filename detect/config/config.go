package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds all detection and mitigation settings. Loaded once in main,
// injected into constructors, and re-applied live through the reload
// watcher. Nothing in the core reads package-level state.
type Config struct {
	// Sliding window / ingestion
	WindowSec        int `json:"window_sec"`         // trailing window size in seconds
	IngestBufferSize int `json:"ingest_buffer_size"` // bounded pending-event buffer; overflow is dropped
	FutureSkewSec    int `json:"future_skew_sec"`    // tolerated clock skew before an event counts as "from the future"

	// Entropy scoring
	HMax float64 `json:"h_max"` // reference entropy ceiling in bits

	// Threat score blending
	RateWeight      float64 `json:"rate_weight"`      // weight of per-source rate score
	EntropyWeight   float64 `json:"entropy_weight"`   // weight of global anomaly score
	RateCeiling     float64 `json:"rate_ceiling"`     // req/s that maps to rate score 1.0
	ScoreDecay      float64 `json:"score_decay"`      // per-tick decay on prior per-source scores
	ReportThreshold float64 `json:"report_threshold"` // minimum score pushed to the threat queue

	// Source state cache
	CacheCapacity int `json:"cache_capacity"` // bound N on tracked sources

	// Evaluation cadence
	EvalIntervalSec int `json:"eval_interval_sec"`

	// Mitigation thresholds and escalation (see detect/mitigate)
	RateLimitThreshold  float64 `json:"rate_limit_threshold"`
	ChallengeThreshold  float64 `json:"challenge_threshold"`
	BlockThreshold      float64 `json:"block_threshold"`
	LightBlockMinutes   int     `json:"light_block_minutes"`
	MediumBlockMinutes  int     `json:"medium_block_minutes"`
	MitigateIntervalSec int     `json:"mitigate_interval_sec"`
	CleanupIntervalSec  int     `json:"cleanup_interval_sec"`

	Logging LoggingConfig `json:"logging"`
	Server  ServerConfig  `json:"server"`
}

// LoggingConfig configures operational and attack-event logging.
type LoggingConfig struct {
	Enabled      bool   `json:"enabled"`
	Filename     string `json:"filename"`       // operational log path
	AttackLog    string `json:"attack_log"`     // JSON-lines attack event log path
	MaxSizeMB    int    `json:"max_size_mb"`    // rotation threshold (default: 100)
	MaxBackups   int    `json:"max_backups"`    // rotated files to keep (default: 3)
	MaxAgeDays   int    `json:"max_age_days"`   // days to keep rotated files (default: 28)
	Compress     bool   `json:"compress"`       // gzip rotated files
	LogToConsole bool   `json:"log_to_console"` // echo attack events to stderr
}

// ServerConfig configures the control-plane HTTP listener.
type ServerConfig struct {
	Addr            string `json:"addr"`
	AdminJWTSecret  string `json:"admin_jwt_secret"` // empty disables mutating admin endpoints
	CompressionOn   bool   `json:"compression"`
	HTTP3Enabled    bool   `json:"http3_enabled"`
	HTTP3Addr       string `json:"http3_addr"`
	HTTP3CertFile   string `json:"http3_cert_file"`
	HTTP3KeyFile    string `json:"http3_key_file"`
	ShutdownTimeout int    `json:"shutdown_timeout_sec"`
}

// DefaultConfig returns sensible defaults for most deployments.
func DefaultConfig() *Config {
	return &Config{
		WindowSec:        10,
		IngestBufferSize: 65536,
		FutureSkewSec:    2,

		HMax: 8.0,

		RateWeight:      0.6,
		EntropyWeight:   0.4,
		RateCeiling:     50, // 50 req/s from one source saturates the rate score
		ScoreDecay:      0.85,
		ReportThreshold: 0.4,

		CacheCapacity: 10000,

		EvalIntervalSec: 1,

		RateLimitThreshold:  0.4,
		ChallengeThreshold:  0.6,
		BlockThreshold:      0.8,
		LightBlockMinutes:   10,
		MediumBlockMinutes:  60,
		MitigateIntervalSec: 1,
		CleanupIntervalSec:  60,

		Logging: LoggingConfig{
			Enabled:      true,
			Filename:     "./logs/floodsentry.log",
			AttackLog:    "./logs/attacks.log",
			MaxSizeMB:    100,
			MaxBackups:   3,
			MaxAgeDays:   28,
			Compress:     true,
			LogToConsole: false,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			CompressionOn:   true,
			HTTP3Enabled:    false,
			HTTP3Addr:       ":443",
			ShutdownTimeout: 10,
		},
	}
}

// StrictConfig returns a more aggressive profile for deployments that are
// actively being attacked.
func StrictConfig() *Config {
	c := DefaultConfig()
	c.RateCeiling = 20
	c.ReportThreshold = 0.3
	c.RateLimitThreshold = 0.3
	c.ChallengeThreshold = 0.5
	c.BlockThreshold = 0.7
	c.LightBlockMinutes = 30
	c.MediumBlockMinutes = 180
	c.CacheCapacity = 50000
	return c
}

// LoadFile reads a JSON config file on top of the defaults, so a partial
// file only overrides the keys it names.
func LoadFile(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	if c.WindowSec <= 0 {
		return fmt.Errorf("window_sec must be positive, got %d", c.WindowSec)
	}
	if c.IngestBufferSize <= 0 {
		return fmt.Errorf("ingest_buffer_size must be positive, got %d", c.IngestBufferSize)
	}
	if c.HMax <= 0 {
		return fmt.Errorf("h_max must be positive, got %v", c.HMax)
	}
	if c.RateWeight < 0 || c.EntropyWeight < 0 || c.RateWeight+c.EntropyWeight == 0 {
		return fmt.Errorf("blend weights must be non-negative and not both zero")
	}
	if c.RateCeiling <= 0 {
		return fmt.Errorf("rate_ceiling must be positive, got %v", c.RateCeiling)
	}
	if c.ScoreDecay < 0 || c.ScoreDecay >= 1 {
		return fmt.Errorf("score_decay must be in [0,1), got %v", c.ScoreDecay)
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("cache_capacity must be at least 1, got %d", c.CacheCapacity)
	}
	if c.EvalIntervalSec <= 0 {
		return fmt.Errorf("eval_interval_sec must be positive, got %d", c.EvalIntervalSec)
	}
	if !(c.RateLimitThreshold <= c.ChallengeThreshold && c.ChallengeThreshold <= c.BlockThreshold) {
		return fmt.Errorf("mitigation thresholds must be ordered rate_limit <= challenge <= block")
	}
	return nil
}

// WindowSize returns the window as a duration.
func (c *Config) WindowSize() time.Duration {
	return time.Duration(c.WindowSec) * time.Second
}

// EvalInterval returns the evaluation cadence as a duration.
func (c *Config) EvalInterval() time.Duration {
	return time.Duration(c.EvalIntervalSec) * time.Second
}
