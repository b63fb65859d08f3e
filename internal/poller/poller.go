package poller

import (
	"context"
	"sync"
	"time"

	"bookfeed/internal/exchange"
	"bookfeed/internal/logging"
	"bookfeed/internal/metrics"
	"bookfeed/internal/types"

	"github.com/rs/zerolog"
)

// SnapshotSource fetches full L2 snapshots
type SnapshotSource interface {
	GetSnapshot(ctx context.Context) (*exchange.Snapshot, error)
}

// SnapshotHandler receives fetched snapshots. The next fetch is not scheduled
// until HandleSnapshot returns.
type SnapshotHandler interface {
	HandleSnapshot(ctx context.Context, snap *exchange.Snapshot) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler
type SnapshotHandlerFunc func(context.Context, *exchange.Snapshot) error

func (f SnapshotHandlerFunc) HandleSnapshot(ctx context.Context, s *exchange.Snapshot) error {
	return f(ctx, s)
}

// Config holds poller configuration
type Config struct {
	Coin     types.Coin
	Interval time.Duration // Delay between the end of one fetch and the next (default: 1s)
	Timeout  time.Duration // Per-request timeout (default: 5s)
}

// DefaultConfig returns the defaults
func DefaultConfig() Config {
	return Config{
		Coin:     types.BTC,
		Interval: time.Second,
		Timeout:  5 * time.Second,
	}
}

// Poller periodically fetches snapshots, one at a time. Each fetch re-arms the
// timer after it completes, so a slow fetch delays the next one instead of
// overlapping it.
type Poller struct {
	cfg     Config
	source  SnapshotSource
	handler SnapshotHandler
	logger  zerolog.Logger

	refresh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller
func New(cfg Config, source SnapshotSource, handler SnapshotHandler, logger zerolog.Logger) *Poller {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logging.Component(logger, "poller").With().Str("coin", string(cfg.Coin)).Logger(),
		refresh: make(chan struct{}, 1),
	}
}

// Start begins the polling loop. The first fetch happens immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info().Dur("interval", p.cfg.Interval).Msg("snapshot poller started")
	return nil
}

// Stop cancels the loop and waits for an in-flight fetch to finish
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("snapshot poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh asks for a fetch as soon as the current one (if any) completes.
// Requests made while one is already pending are coalesced.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// run is the main polling loop
func (p *Poller) run() {
	defer p.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-timer.C:
		case <-p.refresh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		p.poll()
		timer.Reset(p.cfg.Interval)
	}
}

// poll fetches and hands off a single snapshot
func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	snap, err := p.source.GetSnapshot(ctx)
	metrics.SnapshotFetchLatencyMs.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}
		metrics.SnapshotFetchErrorsTotal.WithLabelValues(string(p.cfg.Coin)).Inc()
		p.logger.Warn().Err(err).Msg("failed to fetch snapshot")
		return
	}

	if p.handler == nil {
		return
	}
	if err := p.handler.HandleSnapshot(p.ctx, snap); err != nil && p.ctx.Err() == nil {
		p.logger.Warn().Err(err).Msg("snapshot handler failed")
	}
}
