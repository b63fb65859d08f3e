package redis

import (
	"context"
	"sync"
	"time"

	"bookfeed/internal/logging"
	"bookfeed/internal/metrics"
	"bookfeed/internal/types"

	"github.com/rs/zerolog"
)

// ViewStore persists a single view
type ViewStore interface {
	Store(ctx context.Context, view types.BookView) error
}

// Sink forwards engine views to a ViewStore from its own goroutine. Views
// arriving while a write is in flight replace each other; only the latest is
// written next.
type Sink struct {
	store   ViewStore
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	latest *types.BookView
	notify chan struct{}
}

// NewSink creates a Sink. Run must be called for views to be written.
func NewSink(store ViewStore, timeout time.Duration, logger zerolog.Logger) *Sink {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Sink{
		store:   store,
		timeout: timeout,
		logger:  logging.Component(logger, "redis"),
		notify:  make(chan struct{}, 1),
	}
}

// PublishView records view as the next one to write. It never blocks.
func (s *Sink) PublishView(view types.BookView) {
	s.mu.Lock()
	s.latest = &view
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run writes pending views until ctx is cancelled
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.notify:
			s.flush(ctx)
		}
	}
}

func (s *Sink) flush(ctx context.Context) {
	s.mu.Lock()
	view := s.latest
	s.latest = nil
	s.mu.Unlock()

	if view == nil {
		return
	}

	wctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.Store(wctx, *view); err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.CachePublishErrorsTotal.Inc()
		s.logger.Warn().Err(err).Str("coin", string(view.Coin)).Msg("failed to cache view")
	}
}

var _ types.ViewSink = (*Sink)(nil)
