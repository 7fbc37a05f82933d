// Package config parses the runtime configuration recognized by the
// ingestion service from environment variables, with an optional YAML
// file for local/dev overrides. Env vars always win over the file so
// operators can override one key without editing it.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full set of recognized runtime keys.
type Config struct {
	DBDSN string `yaml:"db_dsn"`
	WSURI string `yaml:"ws_uri"`

	DBRefreshInterval   time.Duration `yaml:"db_refresh_interval"`
	DBRetryDelay        time.Duration `yaml:"db_retry_delay"`
	WSRetryDelay        time.Duration `yaml:"ws_retry_delay"`
	WSMaxRetryDelay     time.Duration `yaml:"ws_max_retry_delay"`
	WSPingInterval      time.Duration `yaml:"ws_ping_interval"`
	WSPingTimeout       time.Duration `yaml:"ws_ping_timeout"`
	WSConnectionTimeout time.Duration `yaml:"ws_connection_timeout"`

	N8NWebhookURL    string `yaml:"n8n_webhook_url"`
	N8NWebhookMethod string `yaml:"n8n_webhook_method"`

	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`

	BadNamesPattern string `yaml:"bad_names_pattern"`

	CoinCacheSeconds     time.Duration `yaml:"coin_cache_seconds"`
	SpamBurstWindow      time.Duration `yaml:"spam_burst_window"`
	SolReservesFull      float64       `yaml:"sol_reserves_full"`
	AgeCalculationOffset float64       `yaml:"age_calculation_offset_min"`
	WhaleThresholdSol    float64       `yaml:"whale_threshold_sol"`
	AthFlushInterval     time.Duration `yaml:"ath_flush_interval"`
	TradeBufferSeconds   time.Duration `yaml:"trade_buffer_seconds"`

	// InsecureSkipVerify skips TLS verification on the upstream
	// WebSocket. Disabling verification mirrors the upstream service's
	// behaviour; whether the feed requires it is not documented.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`
}

// Defaults returns the documented default for every key.
func Defaults() Config {
	return Config{
		DBRefreshInterval:    10 * time.Second,
		DBRetryDelay:         5 * time.Second,
		WSRetryDelay:         3 * time.Second,
		WSMaxRetryDelay:      60 * time.Second,
		WSPingInterval:       20 * time.Second,
		WSPingTimeout:        5 * time.Second,
		WSConnectionTimeout:  30 * time.Second,
		N8NWebhookMethod:     "POST",
		BatchSize:            10,
		BatchTimeout:         30 * time.Second,
		BadNamesPattern:      `(test|bot|rug|scam|cant|honey|faucet)`,
		CoinCacheSeconds:     120 * time.Second,
		SpamBurstWindow:      30 * time.Second,
		SolReservesFull:      85,
		AgeCalculationOffset: 0,
		WhaleThresholdSol:    1.0,
		AthFlushInterval:     5 * time.Second,
		TradeBufferSeconds:   120 * time.Second,
		InsecureSkipVerify:   true,
		HTTPAddr:             ":8090",
		LogLevel:             "info",
	}
}

// Load builds a Config starting from Defaults, applying yamlPath if
// non-empty (a missing file is not an error; the YAML layer is purely
// optional), then applying recognized environment variables on top, and
// finally validating the result.
func Load(yamlPath string) (Config, error) {
	cfg := Defaults()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
	}

	// .env is loaded (if present) before reading os.Getenv; a missing
	// .env is fine.
	_ = godotenv.Load()

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	str(&c.DBDSN, "DB_DSN")
	str(&c.WSURI, "WS_URI")
	duration(&c.DBRefreshInterval, "DB_REFRESH_INTERVAL")
	duration(&c.DBRetryDelay, "DB_RETRY_DELAY")
	duration(&c.WSRetryDelay, "WS_RETRY_DELAY")
	duration(&c.WSMaxRetryDelay, "WS_MAX_RETRY_DELAY")
	duration(&c.WSPingInterval, "WS_PING_INTERVAL")
	duration(&c.WSPingTimeout, "WS_PING_TIMEOUT")
	duration(&c.WSConnectionTimeout, "WS_CONNECTION_TIMEOUT")
	str(&c.N8NWebhookURL, "N8N_WEBHOOK_URL")
	str(&c.N8NWebhookMethod, "N8N_WEBHOOK_METHOD")
	integer(&c.BatchSize, "BATCH_SIZE")
	duration(&c.BatchTimeout, "BATCH_TIMEOUT")
	str(&c.BadNamesPattern, "BAD_NAMES_PATTERN")
	duration(&c.CoinCacheSeconds, "COIN_CACHE_SECONDS")
	duration(&c.SpamBurstWindow, "SPAM_BURST_WINDOW")
	float(&c.SolReservesFull, "SOL_RESERVES_FULL")
	float(&c.AgeCalculationOffset, "AGE_CALCULATION_OFFSET_MIN")
	float(&c.WhaleThresholdSol, "WHALE_THRESHOLD_SOL")
	duration(&c.AthFlushInterval, "ATH_FLUSH_INTERVAL")
	duration(&c.TradeBufferSeconds, "TRADE_BUFFER_SECONDS")
	str(&c.HTTPAddr, "HTTP_ADDR")
	str(&c.LogLevel, "LOG_LEVEL")
}

func str(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func integer(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func float(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// duration accepts plain seconds or a Go duration string like "30s".
func duration(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

// Reload re-parses configuration from yamlPath and the environment and
// validates the result before returning it. On a validation failure the
// caller's existing Config is handed back unchanged alongside the error,
// so a bad reload never swaps in a partially-applied config.
func (c Config) Reload(yamlPath string) (Config, error) {
	next, err := Load(yamlPath)
	if err != nil {
		return c, err
	}
	return next, nil
}

// Validate rejects out-of-range values; the caller must leave the
// existing runtime config unchanged on error.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.WhaleThresholdSol <= 0 {
		return fmt.Errorf("config: WHALE_THRESHOLD_SOL must be positive, got %v", c.WhaleThresholdSol)
	}
	if c.SolReservesFull <= 0 {
		return fmt.Errorf("config: SOL_RESERVES_FULL must be positive, got %v", c.SolReservesFull)
	}
	if c.CoinCacheSeconds <= 0 {
		return fmt.Errorf("config: COIN_CACHE_SECONDS must be positive, got %v", c.CoinCacheSeconds)
	}
	if c.N8NWebhookMethod != "" && c.N8NWebhookMethod != "POST" && c.N8NWebhookMethod != "GET" {
		return fmt.Errorf("config: N8N_WEBHOOK_METHOD must be POST or GET, got %q", c.N8NWebhookMethod)
	}
	if _, err := regexp.Compile(c.BadNamesPattern); err != nil {
		return fmt.Errorf("config: BAD_NAMES_PATTERN invalid: %w", err)
	}
	return nil
}
