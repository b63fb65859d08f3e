// Package engine owns the book for the selected coin. A single goroutine
// applies trades, snapshots, feed errors and view commands in arrival order
// and hands every resulting view to the registered sinks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bookfeed/internal/depth"
	"bookfeed/internal/exchange"
	"bookfeed/internal/highlight"
	"bookfeed/internal/logging"
	"bookfeed/internal/metrics"
	"bookfeed/internal/orderbook"
	"bookfeed/internal/poller"
	"bookfeed/internal/tradefeed"
	"bookfeed/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrStopped is returned by commands issued after Run has exited
var ErrStopped = errors.New("engine stopped")

// Connector creates the feed for a coin. The engine owns the returned
// exchange and closes it when the coin changes or the engine stops.
type Connector func(coin types.Coin) exchange.Exchange

// Config holds engine settings
type Config struct {
	Coin              types.Coin
	Grouping          types.Grouping
	NumEntries        int
	HighlightDuration time.Duration
	PollInterval      time.Duration
	PollTimeout       time.Duration
	TradeCapacity     int
	DedupTrades       bool
	AskAnchor         decimal.Decimal
	BidAnchor         decimal.Decimal
	RetryDelay        time.Duration // first delay between failed initial connects
	MaxRetryDelay     time.Duration
	HealthInterval    time.Duration // how often the transport status is sampled
}

// DefaultConfig returns the defaults
func DefaultConfig() Config {
	return Config{
		Coin:              types.BTC,
		Grouping:          types.Group1,
		NumEntries:        depth.NumEntries,
		HighlightDuration: highlight.DefaultDuration,
		PollInterval:      time.Second,
		PollTimeout:       5 * time.Second,
		TradeCapacity:     tradefeed.DefaultCapacity,
		DedupTrades:       true,
		AskAnchor:         depth.DefaultAskAnchor,
		BidAnchor:         depth.DefaultBidAnchor,
		RetryDelay:        time.Second,
		MaxRetryDelay:     30 * time.Second,
		HealthInterval:    500 * time.Millisecond,
	}
}

// Status summarizes the engine state for health checks
type Status struct {
	Coin      types.Coin      `json:"coin"`
	Grouping  types.Grouping  `json:"grouping"`
	Connected bool            `json:"connected"`
	Book      orderbook.Stats `json:"-"`
	Trades    int             `json:"trades"`
	LastError string          `json:"lastError,omitempty"`
}

type commandKind int

const (
	cmdSetGrouping commandKind = iota
	cmdSetCoin
)

type command struct {
	kind     commandKind
	grouping types.Grouping
	coin     types.Coin
	reply    chan error
}

type snapshotEvent struct {
	session uint64
	snap    *exchange.Snapshot
}

type dialResult struct {
	session uint64
	err     error
}

// session is the per-coin feed: transport, snapshot poller and the
// goroutine establishing the first connection
type session struct {
	id     uint64
	coin   types.Coin
	ex     exchange.Exchange
	poller *poller.Poller
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Engine is the single writer of the book
type Engine struct {
	cfg     Config
	connect Connector
	logger  zerolog.Logger

	sinksMu sync.RWMutex
	sinks   []types.ViewSink

	book        *orderbook.OrderBook
	trades      *tradefeed.Feed
	highlighter *highlight.Highlighter

	commands  chan command
	snapshots chan snapshotEvent
	dials     chan dialResult
	expired   chan struct{}
	done      chan struct{}

	latest atomic.Pointer[types.BookView]
	status atomic.Pointer[Status]

	// owned by the Run goroutine
	coin      types.Coin
	session   *session
	sessionID uint64
	connected bool
	lastErr   string
}

// New creates an Engine. Nothing is connected until Run is called.
func New(cfg Config, connect Connector, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Coin == "" {
		cfg.Coin = def.Coin
	}
	if !cfg.Grouping.Valid() {
		cfg.Grouping = def.Grouping
	}
	if cfg.NumEntries <= 0 {
		cfg.NumEntries = def.NumEntries
	}
	if cfg.HighlightDuration <= 0 {
		cfg.HighlightDuration = def.HighlightDuration
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.TradeCapacity <= 0 {
		cfg.TradeCapacity = def.TradeCapacity
	}
	if !cfg.AskAnchor.IsPositive() {
		cfg.AskAnchor = def.AskAnchor
	}
	if !cfg.BidAnchor.IsPositive() {
		cfg.BidAnchor = def.BidAnchor
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}

	e := &Engine{
		cfg:       cfg,
		connect:   connect,
		logger:    logging.Component(logger, "engine"),
		book:      orderbook.New(cfg.Grouping),
		trades:    tradefeed.New(cfg.TradeCapacity),
		commands:  make(chan command),
		snapshots: make(chan snapshotEvent),
		dials:     make(chan dialResult),
		expired:   make(chan struct{}, 1),
		done:      make(chan struct{}),
		coin:      cfg.Coin,
	}
	e.highlighter = highlight.New(cfg.HighlightDuration, e.onHighlightExpired)

	cold := e.buildView()
	e.latest.Store(&cold)
	e.storeStatus()
	return e
}

// AddSink registers a view consumer. Sinks must not block.
func (e *Engine) AddSink(sink types.ViewSink) {
	e.sinksMu.Lock()
	defer e.sinksMu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// View returns the most recent view
func (e *Engine) View() types.BookView {
	return *e.latest.Load()
}

// Status returns a summary of the engine state
func (e *Engine) Status() Status {
	return *e.status.Load()
}

// SetGrouping resets the book, rebuckets with g and requests a fresh snapshot
func (e *Engine) SetGrouping(g types.Grouping) error {
	if !g.Valid() {
		return fmt.Errorf("set grouping: grouping %d is not one of %v", g, types.AvailableGroupings)
	}
	return e.send(command{kind: cmdSetGrouping, grouping: g})
}

// SetCoin tears down the current feed and starts one for coin
func (e *Engine) SetCoin(c types.Coin) error {
	coin, err := types.ParseCoin(string(c))
	if err != nil {
		return fmt.Errorf("set coin: %w", err)
	}
	return e.send(command{kind: cmdSetCoin, coin: coin})
}

func (e *Engine) send(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case e.commands <- cmd:
	case <-e.done:
		return ErrStopped
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-e.done:
		return ErrStopped
	}
}

// Run processes events until ctx is cancelled, then tears the feed down
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	e.startSession(ctx)
	e.publish()

	health := time.NewTicker(e.cfg.HealthInterval)
	defer health.Stop()

	e.logger.Info().
		Str("coin", string(e.coin)).
		Int64("grouping", int64(e.book.Grouping())).
		Msg("engine started")

	for {
		var tradesCh <-chan []exchange.Trade
		var errsCh <-chan error
		if e.session != nil {
			tradesCh = e.session.ex.Trades()
			errsCh = e.session.ex.Errors()
		}

		select {
		case <-ctx.Done():
			e.teardown()
			e.logger.Info().Msg("engine stopped")
			return nil

		case cmd := <-e.commands:
			cmd.reply <- e.handleCommand(ctx, cmd)

		case batch, ok := <-tradesCh:
			if !ok {
				continue
			}
			e.handleTrades(batch)

		case err, ok := <-errsCh:
			if !ok {
				continue
			}
			e.handleFeedError(err)

		case ev := <-e.snapshots:
			if e.session == nil || ev.session != e.session.id {
				continue
			}
			e.handleSnapshot(ev.snap)

		case res := <-e.dials:
			e.handleDial(res)

		case <-e.expired:
			e.publish()

		case <-health.C:
			e.sampleHealth()
		}
	}
}

func (e *Engine) handleCommand(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdSetGrouping:
		if cmd.grouping == e.book.Grouping() {
			return nil
		}
		e.book.Reset(cmd.grouping)
		e.highlighter.Reset()
		if e.session != nil {
			e.session.poller.Refresh()
		}
		e.logger.Info().Int64("grouping", int64(cmd.grouping)).Msg("grouping changed")
		e.publish()
		return nil

	case cmdSetCoin:
		if cmd.coin == e.coin {
			return nil
		}
		e.stopSession()
		e.book.Reset(e.book.Grouping())
		e.highlighter.Reset()
		e.trades.Reset()
		e.lastErr = ""
		e.coin = cmd.coin
		e.startSession(ctx)
		e.logger.Info().Str("coin", string(cmd.coin)).Msg("coin changed")
		e.publish()
		return nil

	default:
		return fmt.Errorf("unknown command %d", cmd.kind)
	}
}

func (e *Engine) handleTrades(batch []exchange.Trade) {
	coin := string(e.coin)
	metrics.TradeBatchesTotal.WithLabelValues(coin).Inc()

	changes, err := e.book.ApplyTrades(batch)
	if err != nil {
		metrics.FeedErrorsTotal.WithLabelValues(coin, "malformed_trade").Inc()
		e.logger.Warn().Err(err).Int("trades", len(batch)).Msg("dropping trade batch")
		e.lastErr = err.Error()
		e.publish()
		return
	}
	metrics.TradesIngestedTotal.WithLabelValues(coin).Add(float64(len(batch)))

	records := make([]types.TradeRecord, 0, len(batch))
	for _, t := range batch {
		records = append(records, t.Record())
	}
	if e.cfg.DedupTrades {
		e.trades.Merge(records)
	} else {
		e.trades.Prepend(records)
	}

	e.markChanges(changes)
	e.setConnected(true)
	e.publish()
}

func (e *Engine) handleSnapshot(snap *exchange.Snapshot) {
	coin := string(e.coin)

	changes, err := e.book.LoadSnapshot(snap)
	if err != nil {
		if errors.Is(err, orderbook.ErrMalformedSnapshot) {
			metrics.MalformedSnapshotsTotal.WithLabelValues(coin).Inc()
		}
		e.logger.Warn().Err(err).Msg("skipping snapshot")
		e.lastErr = err.Error()
		e.publish()
		return
	}
	metrics.SnapshotsAppliedTotal.WithLabelValues(coin).Inc()

	e.markChanges(changes)
	e.publish()
}

func (e *Engine) handleFeedError(err error) {
	coin := string(e.coin)
	e.lastErr = err.Error()

	switch {
	case errors.Is(err, exchange.ErrTransportClosed):
		metrics.FeedErrorsTotal.WithLabelValues(coin, "transport_closed").Inc()
		e.logger.Warn().Err(err).Msg("feed disconnected")
		e.setConnected(false)
	case errors.Is(err, exchange.ErrMalformedMessage):
		metrics.FeedErrorsTotal.WithLabelValues(coin, "malformed_message").Inc()
		e.logger.Debug().Err(err).Msg("malformed feed message")
	default:
		metrics.FeedErrorsTotal.WithLabelValues(coin, "other").Inc()
		e.logger.Warn().Err(err).Msg("feed error")
	}
	e.publish()
}

func (e *Engine) handleDial(res dialResult) {
	if e.session == nil || res.session != e.session.id {
		return
	}
	if res.err != nil {
		metrics.FeedErrorsTotal.WithLabelValues(string(e.coin), "connect").Inc()
		e.lastErr = res.err.Error()
		e.setConnected(false)
	} else {
		e.setConnected(true)
	}
	e.publish()
}

// sampleHealth picks up reconnects done by the transport itself
func (e *Engine) sampleHealth() {
	if e.session == nil {
		return
	}
	if up := e.session.ex.IsConnected(); up != e.connected {
		e.setConnected(up)
		e.publish()
	}
}

// setConnected records the transport state. Coming back up clears the error
// left by the outage.
func (e *Engine) setConnected(up bool) {
	if up && !e.connected {
		e.lastErr = ""
	}
	e.connected = up
	if up {
		metrics.FeedConnected.Set(1)
	} else {
		metrics.FeedConnected.Set(0)
	}
}

func (e *Engine) markChanges(changes orderbook.Changes) {
	for _, side := range []types.Side{types.Bid, types.Ask} {
		keys := changes.For(side)
		if len(keys) == 0 {
			continue
		}
		e.highlighter.Mark(side, keys)
		metrics.HighlightMarksTotal.WithLabelValues(side.String()).Add(float64(len(keys)))
	}
}

// onHighlightExpired runs on a timer goroutine; the loop republishes
func (e *Engine) onHighlightExpired(types.Side, string) {
	select {
	case e.expired <- struct{}{}:
	default:
	}
}

func (e *Engine) startSession(parent context.Context) {
	e.sessionID++
	ctx, cancel := context.WithCancel(parent)

	ex := e.connect(e.coin)
	s := &session{
		id:     e.sessionID,
		coin:   e.coin,
		ex:     ex,
		cancel: cancel,
	}

	id := s.id
	s.poller = poller.New(poller.Config{
		Coin:     e.coin,
		Interval: e.cfg.PollInterval,
		Timeout:  e.cfg.PollTimeout,
	}, ex, poller.SnapshotHandlerFunc(func(ctx context.Context, snap *exchange.Snapshot) error {
		select {
		case e.snapshots <- snapshotEvent{session: id, snap: snap}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}), e.logger)

	s.wg.Add(1)
	go e.dial(ctx, s)

	_ = s.poller.Start(ctx)

	e.session = s
	e.setConnected(false)
}

// dial makes the first connection, retrying with backoff. Drops after that
// are handled by the transport.
func (e *Engine) dial(ctx context.Context, s *session) {
	defer s.wg.Done()

	delay := e.cfg.RetryDelay
	for {
		err := s.ex.Connect(ctx)
		if err != nil && ctx.Err() != nil {
			return
		}
		if err != nil {
			e.logger.Warn().Err(err).Dur("retry_in", delay).Str("coin", string(s.coin)).Msg("connect failed")
		}

		select {
		case e.dials <- dialResult{session: s.id, err: err}:
		case <-ctx.Done():
			return
		}
		if err == nil {
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		delay *= 2
		if delay > e.cfg.MaxRetryDelay {
			delay = e.cfg.MaxRetryDelay
		}
	}
}

func (e *Engine) stopSession() {
	s := e.session
	if s == nil {
		return
	}
	e.session = nil

	s.cancel()
	s.wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.poller.Stop(stopCtx); err != nil {
		e.logger.Warn().Err(err).Msg("poller did not stop in time")
	}
	if err := s.ex.Close(); err != nil {
		e.logger.Debug().Err(err).Msg("closing feed")
	}
	e.setConnected(false)
}

func (e *Engine) teardown() {
	e.stopSession()
	e.highlighter.Stop()
}

// publish rebuilds the view and hands it to every sink
func (e *Engine) publish() {
	view := e.buildView()
	e.latest.Store(&view)
	e.storeStatus()

	e.sinksMu.RLock()
	sinks := e.sinks
	e.sinksMu.RUnlock()

	for _, sink := range sinks {
		sink.PublishView(view)
	}
	metrics.ViewsPublishedTotal.Inc()
}

func (e *Engine) buildView() types.BookView {
	g := e.book.Grouping()
	n := e.cfg.NumEntries

	realBids := depth.Project(e.book.Levels(types.Bid), types.Bid, n)
	realAsks := depth.Project(e.book.Levels(types.Ask), types.Ask, n)
	// spread is taken from the padded sides
	bids := depth.Fill(realBids, types.Bid, n, g, e.cfg.BidAnchor)
	asks := depth.Fill(realAsks, types.Ask, n, g, e.cfg.AskAnchor)

	return types.BookView{
		Coin:            e.coin,
		Grouping:        g,
		Bids:            bids,
		Asks:            asks,
		RealBids:        len(realBids),
		RealAsks:        len(realAsks),
		Spread:          depth.CalculateSpread(asks, bids),
		HighlightedBids: e.highlighter.Set(types.Bid),
		HighlightedAsks: e.highlighter.Set(types.Ask),
		Trades:          e.trades.Records(),
		Connected:       e.connected,
		Stale:           !e.connected,
		Error:           e.lastErr,
		Timestamp:       time.Now().UnixMilli(),
	}
}

func (e *Engine) storeStatus() {
	e.status.Store(&Status{
		Coin:      e.coin,
		Grouping:  e.book.Grouping(),
		Connected: e.connected,
		Book:      e.book.GetStats(),
		Trades:    e.trades.Len(),
		LastError: e.lastErr,
	})
}

var _ types.Controller = (*Engine)(nil)
