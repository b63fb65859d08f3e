package main

import (
	"path/filepath"
	"testing"
	"time"

	"bookfeed/internal/config"
	"bookfeed/internal/types"
)

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name    string
		flags   flagOverrides
		wantErr bool
		check   func(t *testing.T, cfg config.Config)
	}{
		{
			name: "no flags keeps config",
			check: func(t *testing.T, cfg config.Config) {
				if cfg.Feed.Coin != types.BTC || cfg.Book.Grouping != types.Group1 || cfg.UI.TUI {
					t.Errorf("Unexpected config: %+v %+v %+v", cfg.Feed, cfg.Book, cfg.UI)
				}
			},
		},
		{
			name: "overrides",
			flags: flagOverrides{
				coin:         "eth",
				grouping:     100,
				entries:      8,
				addr:         ":9090",
				pushInterval: 500 * time.Millisecond,
				tui:          true,
			},
			check: func(t *testing.T, cfg config.Config) {
				if cfg.Feed.Coin != types.ETH {
					t.Errorf("Coin = %s, want ETH", cfg.Feed.Coin)
				}
				if cfg.Book.Grouping != types.Group100 {
					t.Errorf("Grouping = %d, want 100", cfg.Book.Grouping)
				}
				if cfg.Book.NumEntries != 8 {
					t.Errorf("NumEntries = %d, want 8", cfg.Book.NumEntries)
				}
				if cfg.Server.Addr != ":9090" || cfg.Server.PushInterval != 500*time.Millisecond || !cfg.UI.TUI {
					t.Errorf("Server/UI = %+v %+v", cfg.Server, cfg.UI)
				}
			},
		},
		{name: "unknown coin", flags: flagOverrides{coin: "DOGE"}, wantErr: true},
		{name: "unlisted grouping", flags: flagOverrides{grouping: 7}, wantErr: true},
		{name: "negative entries", flags: flagOverrides{entries: -1}, wantErr: true},
		{name: "negative push interval", flags: flagOverrides{pushInterval: -time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			err := applyFlags(&cfg, tt.flags)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("applyFlags failed: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Feed.Coin = types.SOL
	cfg.Book.Grouping = types.Group10
	cfg.Book.NumEntries = 5
	cfg.Book.HighlightDuration = 300 * time.Millisecond
	cfg.Book.PollInterval = 2 * time.Second
	cfg.Book.AskAnchor = "150"
	cfg.Book.BidAnchor = "149"
	cfg.Trades.Capacity = 12
	cfg.Trades.Dedup = false
	cfg.Feed.ReconnectDelay = 2 * time.Second
	cfg.Feed.MaxReconnectDelay = 20 * time.Second

	ec := engineConfig(cfg)

	if ec.Coin != types.SOL || ec.Grouping != types.Group10 || ec.NumEntries != 5 {
		t.Errorf("Book settings not mapped: %+v", ec)
	}
	if ec.HighlightDuration != 300*time.Millisecond || ec.PollInterval != 2*time.Second {
		t.Errorf("Timings not mapped: %s/%s", ec.HighlightDuration, ec.PollInterval)
	}
	if ec.AskAnchor.String() != "150" || ec.BidAnchor.String() != "149" {
		t.Errorf("Anchors = %s/%s", ec.AskAnchor, ec.BidAnchor)
	}
	if ec.TradeCapacity != 12 || ec.DedupTrades {
		t.Errorf("Trades = %d/%v", ec.TradeCapacity, ec.DedupTrades)
	}
	if ec.RetryDelay != 2*time.Second || ec.MaxRetryDelay != 20*time.Second {
		t.Errorf("Retry = %s/%s", ec.RetryDelay, ec.MaxRetryDelay)
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()

	path := filepath.Join(t.TempDir(), "bookfeed.log")
	logger, closeLog, err := newLogger(cfg, path)
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	logger.Info().Msg("written to file")
	closeLog()

	if _, _, err := newLogger(cfg, filepath.Join(t.TempDir(), "missing", "x.log")); err == nil {
		t.Error("Expected error for unwritable log path")
	}

	cfg.UI.TUI = true
	if _, closeLog, err := newLogger(cfg, ""); err != nil {
		t.Errorf("newLogger with TUI failed: %v", err)
	} else {
		closeLog()
	}
}
