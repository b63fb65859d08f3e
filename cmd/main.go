package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookfeed/internal/cache/redis"
	"bookfeed/internal/config"
	"bookfeed/internal/engine"
	"bookfeed/internal/factory"
	"bookfeed/internal/logging"
	"bookfeed/internal/metrics"
	"bookfeed/internal/tui"
	"bookfeed/internal/types"
	"bookfeed/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Parse command line flags
	var configPath = flag.String("config", "", "Path to YAML config file")
	var coin = flag.String("coin", "", "Coin to monitor (BTC, ETH, SOL)")
	var grouping = flag.Int64("grouping", 0, "Initial price grouping")
	var addr = flag.String("addr", "", "HTTP/websocket listen address")
	var entries = flag.Int("entries", 0, "Rows shown per side")
	var pushInterval = flag.Duration("push-interval", 0, "Websocket push interval")
	var showTUI = flag.Bool("tui", false, "Render the book in the terminal")
	var logFile = flag.String("log-file", "", "Write logs to this file instead of stderr")
	var logInterval = flag.Duration("log-interval", 10*time.Second, "Interval for logging book stats")
	flag.Parse()

	loaded, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg := *loaded
	overrides := flagOverrides{
		coin:         *coin,
		grouping:     *grouping,
		entries:      *entries,
		addr:         *addr,
		pushInterval: *pushInterval,
		tui:          *showTUI,
	}
	if err := applyFlags(&cfg, overrides); err != nil {
		fmt.Fprintf(os.Stderr, "flags: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(cfg, *logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *logInterval, logger); err != nil {
		logger.Error().Err(err).Msg("bookfeed exited with error")
		closeLog()
		os.Exit(1)
	}
	logger.Info().Msg("bookfeed stopped")
}

// flagOverrides holds command line values. Zero values leave the config alone.
type flagOverrides struct {
	coin         string
	grouping     int64
	entries      int
	addr         string
	pushInterval time.Duration
	tui          bool
}

func applyFlags(cfg *config.Config, f flagOverrides) error {
	if f.coin != "" {
		c, err := types.ParseCoin(f.coin)
		if err != nil {
			return err
		}
		cfg.Feed.Coin = c
	}
	if f.grouping != 0 {
		cfg.SetGrouping(types.Grouping(f.grouping))
	}
	if f.entries != 0 {
		cfg.SetNumEntries(f.entries)
	}
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.pushInterval != 0 {
		cfg.SetPushInterval(f.pushInterval)
	}
	if f.tui {
		cfg.UI.TUI = true
	}
	return cfg.Validate()
}

// newLogger keeps the terminal clear while the TUI owns it
func newLogger(cfg config.Config, path string) (zerolog.Logger, func(), error) {
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), func() {}, err
		}
		return logging.NewWithWriter(f, cfg.Log.Level, false), func() { _ = f.Close() }, nil
	}
	if cfg.UI.TUI {
		return logging.NewWithWriter(io.Discard, cfg.Log.Level, false), func() {}, nil
	}
	return logging.New(cfg.Log.Level, cfg.Log.Pretty), func() {}, nil
}

func engineConfig(cfg config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.Coin = cfg.Feed.Coin
	ec.Grouping = cfg.Book.Grouping
	ec.NumEntries = cfg.Book.NumEntries
	ec.HighlightDuration = cfg.Book.HighlightDuration
	ec.PollInterval = cfg.Book.PollInterval
	ec.PollTimeout = cfg.Book.PollTimeout
	ec.TradeCapacity = cfg.Trades.Capacity
	ec.DedupTrades = cfg.Trades.Dedup
	ec.AskAnchor = cfg.AskAnchor()
	ec.BidAnchor = cfg.BidAnchor()
	ec.RetryDelay = cfg.Feed.ReconnectDelay
	ec.MaxRetryDelay = cfg.Feed.MaxReconnectDelay
	return ec
}

func run(ctx context.Context, cfg config.Config, logInterval time.Duration, logger zerolog.Logger) error {
	logger.Info().
		Str("exchange", string(cfg.Feed.Exchange)).
		Str("coin", string(cfg.Feed.Coin)).
		Int64("grouping", int64(cfg.Book.Grouping)).
		Bool("server", cfg.Server.Enabled).
		Bool("redis", cfg.RedisEnabled()).
		Bool("tui", cfg.UI.TUI).
		Msg("starting bookfeed")

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = metrics.Init(logger)
	}

	connect, err := factory.NewConnector(factory.ExchangeConfig{
		Name:              cfg.Feed.Exchange,
		WSURL:             cfg.Feed.WSURL,
		RestURL:           cfg.Feed.RestURL,
		HandshakeTimeout:  cfg.Feed.HandshakeTimeout,
		ReconnectDelay:    cfg.Feed.ReconnectDelay,
		MaxReconnectDelay: cfg.Feed.MaxReconnectDelay,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	eng := engine.New(engineConfig(cfg), connect, logger)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.RedisEnabled() {
		client, err := redis.New(ctx, redis.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer client.Close()

		sink := redis.NewSink(redis.NewViewCache(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL), 0, logger)
		eng.AddSink(sink)
		g.Go(func() error {
			return sink.Run(ctx)
		})
	}

	if cfg.Server.Enabled {
		server := websocket.NewServer(eng, websocket.Config{
			Addr:         cfg.Server.Addr,
			PushInterval: cfg.Server.PushInterval,
			Registry:     registry,
		}, logger)
		eng.AddSink(server)
		g.Go(func() error {
			return server.Start(ctx)
		})
	}

	if cfg.UI.TUI {
		display := tui.New(eng)
		eng.AddSink(display)
		g.Go(func() error {
			go func() {
				<-ctx.Done()
				display.Quit()
			}()
			if err := display.Run(); err != nil {
				return err
			}
			// quitting the display stops everything else
			return errDisplayClosed
		})
	}

	g.Go(func() error {
		return eng.Run(ctx)
	})

	g.Go(func() error {
		logStats(ctx, eng, logInterval, logger)
		return nil
	})

	err = g.Wait()
	if errors.Is(err, errDisplayClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errDisplayClosed = errors.New("display closed")

func logStats(ctx context.Context, eng *engine.Engine, interval time.Duration, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status := eng.Status()
		view := eng.View()
		stats := status.Book

		mid := decimal.Zero
		if !stats.BestBid.IsZero() && !stats.BestAsk.IsZero() {
			mid = stats.BestBid.Add(stats.BestAsk).Div(decimal.NewFromInt(2))
		}

		logger.Info().
			Str("coin", string(status.Coin)).
			Int64("grouping", int64(status.Grouping)).
			Bool("connected", status.Connected).
			Str("mid", mid.StringFixed(2)).
			Str("best_bid", stats.BestBid.String()).
			Str("best_ask", stats.BestAsk.String()).
			Str("spread", view.Spread.Value.String()).
			Str("spread_pct", view.Spread.Percentage).
			Int("bid_levels", stats.BidLevels).
			Int("ask_levels", stats.AskLevels).
			Int64("trades_applied", stats.TradesApplied).
			Int("tape", status.Trades).
			Msg("book stats")
	}
}
