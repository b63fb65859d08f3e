package config

import (
	"errors"
	"fmt"

	"bookfeed/internal/exchange"
	"bookfeed/internal/types"

	"github.com/shopspring/decimal"
)

// Validate checks that all values are usable
func (c *Config) Validate() error {
	if _, err := exchange.ParseExchangeName(string(c.Feed.Exchange)); err != nil {
		return fmt.Errorf("feed.exchange: %w", err)
	}
	if _, err := types.ParseCoin(string(c.Feed.Coin)); err != nil {
		return fmt.Errorf("feed.coin: %w", err)
	}
	if c.Feed.WSURL == "" {
		return errors.New("feed.ws_url is required")
	}
	if c.Feed.RestURL == "" {
		return errors.New("feed.rest_url is required")
	}
	if c.Feed.ReconnectDelay <= 0 || c.Feed.MaxReconnectDelay < c.Feed.ReconnectDelay {
		return fmt.Errorf("feed.reconnect_delay must be > 0 and <= max_reconnect_delay, got %s/%s",
			c.Feed.ReconnectDelay, c.Feed.MaxReconnectDelay)
	}

	if !c.Book.Grouping.Valid() {
		return fmt.Errorf("book.grouping must be one of %v, got %d", types.AvailableGroupings, c.Book.Grouping)
	}
	if c.Book.NumEntries < 1 {
		return errors.New("book.num_entries must be >= 1")
	}
	if c.Book.HighlightDuration <= 0 {
		return errors.New("book.highlight_duration must be > 0")
	}
	if c.Book.PollInterval <= 0 {
		return errors.New("book.poll_interval must be > 0")
	}
	if c.Book.PollTimeout <= 0 {
		return errors.New("book.poll_timeout must be > 0")
	}
	if err := validateAnchor("book.ask_anchor", c.Book.AskAnchor); err != nil {
		return err
	}
	if err := validateAnchor("book.bid_anchor", c.Book.BidAnchor); err != nil {
		return err
	}

	if c.Trades.Capacity < 1 {
		return errors.New("trades.capacity must be >= 1")
	}

	if c.Server.Enabled {
		if c.Server.Addr == "" {
			return errors.New("server.addr is required when the server is enabled")
		}
		if c.Server.PushInterval <= 0 {
			return errors.New("server.push_interval must be > 0")
		}
	}

	if c.RedisEnabled() {
		if c.Redis.KeyPrefix == "" {
			return errors.New("redis.key_prefix is required")
		}
		if c.Redis.TTL < 0 {
			return errors.New("redis.ttl must be >= 0")
		}
	}

	return nil
}

func validateAnchor(name, value string) error {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("%s: invalid price %q: %w", name, value, err)
	}
	if !d.IsPositive() {
		return fmt.Errorf("%s must be > 0, got %s", name, value)
	}
	return nil
}
