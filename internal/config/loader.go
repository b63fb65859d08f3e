package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"bookfeed/internal/types"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "BOOKFEED_"

// Load builds the configuration: defaults, then the YAML file at path (if
// any, with ${VAR} expansion), then BOOKFEED_* environment overrides. A .env
// file in the working directory is loaded first when present. The result is
// validated.
func Load(path string) (*Config, error) {
	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose BOOKFEED_* variable is set.
// Coin and grouping are checked here so a typo is reported instead of ignored.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(EnvPrefix + "COIN"); v != "" {
		coin, err := types.ParseCoin(v)
		if err != nil {
			return fmt.Errorf("%sCOIN: %w", EnvPrefix, err)
		}
		cfg.Feed.Coin = coin
	}
	if v := os.Getenv(EnvPrefix + "GROUPING"); v != "" {
		g, err := types.ParseGrouping(v)
		if err != nil {
			return fmt.Errorf("%sGROUPING: %w", EnvPrefix, err)
		}
		cfg.Book.Grouping = g
	}

	// Feed
	setStr((*string)(&cfg.Feed.Exchange), "FEED_EXCHANGE")
	setStr(&cfg.Feed.WSURL, "FEED_WS_URL")
	setStr(&cfg.Feed.RestURL, "FEED_REST_URL")
	setDuration(&cfg.Feed.HandshakeTimeout, "FEED_HANDSHAKE_TIMEOUT")
	setDuration(&cfg.Feed.ReconnectDelay, "FEED_RECONNECT_DELAY")
	setDuration(&cfg.Feed.MaxReconnectDelay, "FEED_MAX_RECONNECT_DELAY")

	// Book
	setInt(&cfg.Book.NumEntries, "BOOK_NUM_ENTRIES")
	setDuration(&cfg.Book.HighlightDuration, "BOOK_HIGHLIGHT_DURATION")
	setDuration(&cfg.Book.PollInterval, "BOOK_POLL_INTERVAL")
	setDuration(&cfg.Book.PollTimeout, "BOOK_POLL_TIMEOUT")
	setStr(&cfg.Book.AskAnchor, "BOOK_ASK_ANCHOR")
	setStr(&cfg.Book.BidAnchor, "BOOK_BID_ANCHOR")

	// Trades
	setInt(&cfg.Trades.Capacity, "TRADES_CAPACITY")
	setBool(&cfg.Trades.Dedup, "TRADES_DEDUP")

	// Server
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "SERVER_ADDR")
	setDuration(&cfg.Server.PushInterval, "SERVER_PUSH_INTERVAL")

	// Redis
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.TTL, "REDIS_TTL")

	// Top-level
	setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	setStr(&cfg.Log.Level, "LOG_LEVEL")
	setBool(&cfg.Log.Pretty, "LOG_PRETTY")
	setBool(&cfg.UI.TUI, "UI_TUI")
	return nil
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
