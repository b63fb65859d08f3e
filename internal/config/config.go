package config

import (
	"time"

	"bookfeed/internal/depth"
	"bookfeed/internal/exchange"
	"bookfeed/internal/exchange/hyperliquid"
	"bookfeed/internal/highlight"
	"bookfeed/internal/tradefeed"
	"bookfeed/internal/types"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Feed    FeedConfig    `yaml:"feed"`
	Book    BookConfig    `yaml:"book"`
	Trades  TradesConfig  `yaml:"trades"`
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
	UI      UIConfig      `yaml:"ui"`
}

// FeedConfig holds the market-data connection settings
type FeedConfig struct {
	Exchange          exchange.ExchangeName `yaml:"exchange"`
	Coin              types.Coin            `yaml:"coin"`
	WSURL             string                `yaml:"ws_url"`
	RestURL           string                `yaml:"rest_url"`
	HandshakeTimeout  time.Duration         `yaml:"handshake_timeout"`
	ReconnectDelay    time.Duration         `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration         `yaml:"max_reconnect_delay"`
}

// BookConfig holds book aggregation and rendering settings
type BookConfig struct {
	Grouping          types.Grouping `yaml:"grouping"`
	NumEntries        int            `yaml:"num_entries"`
	HighlightDuration time.Duration  `yaml:"highlight_duration"`
	PollInterval      time.Duration  `yaml:"poll_interval"`
	PollTimeout       time.Duration  `yaml:"poll_timeout"`
	AskAnchor         string         `yaml:"ask_anchor"`
	BidAnchor         string         `yaml:"bid_anchor"`
}

// TradesConfig holds trade tape settings
type TradesConfig struct {
	Capacity int  `yaml:"capacity"`
	Dedup    bool `yaml:"dedup"`
}

// ServerConfig holds the HTTP/websocket server settings
type ServerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	PushInterval time.Duration `yaml:"push_interval"`
}

// RedisConfig holds the view cache settings. An empty Addr disables the cache.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// MetricsConfig toggles the /metrics endpoint
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// UIConfig holds terminal display settings
type UIConfig struct {
	TUI bool `yaml:"tui"`
}

// Default returns the default configuration for BTC on Hyperliquid
func Default() Config {
	return Config{
		Feed: FeedConfig{
			Exchange:          exchange.Hyperliquid,
			Coin:              types.BTC,
			WSURL:             hyperliquid.DefaultWSURL,
			RestURL:           hyperliquid.DefaultRestURL,
			HandshakeTimeout:  10 * time.Second,
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: 30 * time.Second,
		},
		Book: BookConfig{
			Grouping:          types.Group1,
			NumEntries:        depth.NumEntries,
			HighlightDuration: highlight.DefaultDuration,
			PollInterval:      time.Second,
			PollTimeout:       5 * time.Second,
			AskAnchor:         depth.DefaultAskAnchor.String(),
			BidAnchor:         depth.DefaultBidAnchor.String(),
		},
		Trades: TradesConfig{
			Capacity: tradefeed.DefaultCapacity,
			Dedup:    true,
		},
		Server: ServerConfig{
			Enabled:      true,
			Addr:         ":8080",
			PushInterval: 200 * time.Millisecond,
		},
		Redis: RedisConfig{
			KeyPrefix: "bookfeed",
			TTL:       10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SetGrouping updates the initial grouping
func (c *Config) SetGrouping(g types.Grouping) {
	c.Book.Grouping = g
}

// SetNumEntries updates the number of rows shown per side
func (c *Config) SetNumEntries(n int) {
	c.Book.NumEntries = n
}

// SetPushInterval updates the websocket push interval
func (c *Config) SetPushInterval(interval time.Duration) {
	c.Server.PushInterval = interval
}

// AskAnchor returns the price an empty ask side pads from
func (c Config) AskAnchor() decimal.Decimal {
	return parseAnchor(c.Book.AskAnchor, depth.DefaultAskAnchor)
}

// BidAnchor returns the price an empty bid side pads from
func (c Config) BidAnchor() decimal.Decimal {
	return parseAnchor(c.Book.BidAnchor, depth.DefaultBidAnchor)
}

// RedisEnabled reports whether the view cache is configured
func (c Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

func parseAnchor(s string, fallback decimal.Decimal) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fallback
	}
	return d
}
