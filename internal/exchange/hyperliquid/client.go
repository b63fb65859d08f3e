package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"bookfeed/internal/exchange"
	"bookfeed/internal/types"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	DefaultWSURL   = "wss://api.hyperliquid.xyz/ws"
	DefaultRestURL = "https://api.hyperliquid.xyz/info"

	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Config holds configuration for the Hyperliquid feed
type Config struct {
	Coin              types.Coin
	WSURL             string
	RestURL           string
	HandshakeTimeout  time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration // a connection silent for this long is dropped
	HTTPClient        *http.Client
	Logger            zerolog.Logger
}

// Client implements exchange.Exchange for the Hyperliquid trades feed and
// L2 snapshot endpoint
type Client struct {
	cfg    Config
	logger zerolog.Logger
	http   *http.Client

	mu      sync.Mutex // guards conn and writes
	conn    *websocket.Conn
	started bool

	trades chan []exchange.Trade
	errs   chan error
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	connected atomic.Bool
	health    atomic.Value // stores exchange.HealthStatus
}

// New creates a new Hyperliquid client
func New(cfg Config) *Client {
	if cfg.WSURL == "" {
		cfg.WSURL = DefaultWSURL
	}
	if cfg.RestURL == "" {
		cfg.RestURL = DefaultRestURL
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay == 0 {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = pingInterval
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 2 * cfg.PingInterval
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	c := &Client{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("exchange", string(exchange.Hyperliquid)).Str("coin", string(cfg.Coin)).Logger(),
		http:   httpClient,
		trades: make(chan []exchange.Trade, 256),
		errs:   make(chan error, 16),
		done:   make(chan struct{}),
	}
	c.health.Store(exchange.HealthStatus{})
	return c
}

// GetName returns the exchange name
func (c *Client) GetName() exchange.ExchangeName {
	return exchange.Hyperliquid
}

// GetCoin returns the subscribed coin
func (c *Client) GetCoin() types.Coin {
	return c.cfg.Coin
}

// Connect dials the websocket, subscribes to trades and starts the read loop.
// Later connection drops are retried with exponential backoff until Close.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("hyperliquid: already connected")
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.incrementErrorCount()
		return err
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	c.logger.Info().Msg("websocket connected")

	c.wg.Add(1)
	go c.run(conn)
	return nil
}

// Close closes the websocket and releases the read loop. The Trades and
// Errors channels are closed once the loop has exited.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = conn.Close()
		}

		c.wg.Wait()
		c.updateConnectionStatus(false)
		close(c.trades)
		close(c.errs)
	})
	return err
}

// GetSnapshot fetches an L2 book snapshot via the REST info endpoint
func (c *Client) GetSnapshot(ctx context.Context) (*exchange.Snapshot, error) {
	body, err := json.Marshal(L2BookRequest{Type: L2BookType, Coin: string(c.cfg.Coin)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RestURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.incrementErrorCount()
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.incrementErrorCount()
		return nil, fmt.Errorf("failed to get snapshot: unexpected status %d", resp.StatusCode)
	}

	var book L2BookResponse
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		c.incrementErrorCount()
		return nil, fmt.Errorf("failed to decode snapshot: %w: %v", exchange.ErrMalformedMessage, err)
	}

	return c.convertSnapshot(&book), nil
}

// Trades returns a channel that receives trade batches
func (c *Client) Trades() <-chan []exchange.Trade {
	return c.trades
}

// Errors returns a channel that receives feed-level errors
func (c *Client) Errors() <-chan error {
	return c.errs
}

// IsConnected reports whether the websocket is currently up
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Health returns connection health information
func (c *Client) Health() exchange.HealthStatus {
	if status, ok := c.health.Load().(exchange.HealthStatus); ok {
		return status
	}
	return exchange.HealthStatus{}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.WSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}

	subscription := SubscriptionMessage{
		Method: "subscribe",
		Subscription: &Subscription{
			Type: TradesType,
			Coin: string(c.cfg.Coin),
		},
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscription); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send subscription: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.updateConnectionStatus(true)

	return conn, nil
}

// run reads from conn until it fails, then reconnects until Close
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		err := c.readMessages(conn)
		conn.Close()
		c.updateConnectionStatus(false)

		if c.isClosed() {
			return
		}

		c.incrementErrorCount()
		c.logger.Warn().Err(err).Msg("websocket read failed")
		c.reportError(fmt.Errorf("%w: %v", exchange.ErrTransportClosed, err))

		conn = c.reconnect()
		if conn == nil {
			return
		}
	}
}

// readMessages continuously reads websocket messages from one connection
func (c *Client) readMessages(conn *websocket.Conn) error {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(conn, stopPing)

	// every frame, including the pong answering our ping, extends the deadline
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		c.incrementMessageCount()
		c.updateLastPing()

		batch, err := c.handleMessage(raw)
		if err != nil {
			c.incrementErrorCount()
			c.logger.Debug().Err(err).Msg("dropping message")
			c.reportError(err)
			continue
		}
		if len(batch) == 0 {
			continue
		}

		select {
		case c.trades <- batch:
		case <-c.done:
			return nil
		}
	}
}

// handleMessage decodes one websocket frame. Only trade messages yield a batch.
func (c *Client) handleMessage(raw []byte) ([]exchange.Trade, error) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", exchange.ErrMalformedMessage, err)
	}

	switch msg.Channel {
	case TradesType:
		var wsTrades []WsTrade
		if err := json.Unmarshal(msg.Data, &wsTrades); err != nil {
			return nil, fmt.Errorf("%w: trades payload: %v", exchange.ErrMalformedMessage, err)
		}
		return ParseTrades(wsTrades)
	case ChannelErr:
		var text string
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			text = string(msg.Data)
		}
		return nil, fmt.Errorf("hyperliquid: server error: %s", text)
	default:
		return nil, nil
	}
}

// ParseTrades validates and converts wire trades into canonical trades
func ParseTrades(wsTrades []WsTrade) ([]exchange.Trade, error) {
	trades := make([]exchange.Trade, 0, len(wsTrades))
	for _, t := range wsTrades {
		side, err := types.ParseSide(t.Side)
		if err != nil {
			return nil, fmt.Errorf("%w: trade %s: %v", exchange.ErrMalformedMessage, t.Hash, err)
		}
		if _, err := decimal.NewFromString(t.Px); err != nil {
			return nil, fmt.Errorf("%w: trade %s price %q", exchange.ErrMalformedMessage, t.Hash, t.Px)
		}
		if _, err := decimal.NewFromString(t.Sz); err != nil {
			return nil, fmt.Errorf("%w: trade %s size %q", exchange.ErrMalformedMessage, t.Hash, t.Sz)
		}
		trades = append(trades, exchange.Trade{
			Coin:  types.Coin(t.Coin),
			Side:  side,
			Price: t.Px,
			Size:  t.Sz,
			Hash:  t.Hash,
			TID:   t.TID,
			Time:  t.Time,
		})
	}
	return trades, nil
}

// pingLoop keeps the connection alive with application-level pings
func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteJSON(SubscriptionMessage{Method: "ping"})
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// reconnect re-dials with exponential backoff. It returns nil once the client
// has been closed.
func (c *Client) reconnect() *websocket.Conn {
	delay := c.cfg.ReconnectDelay

	for {
		timer := time.NewTimer(delay)
		select {
		case <-c.done:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()

		if err == nil {
			if c.isClosed() {
				conn.Close()
				return nil
			}
			now := time.Now()
			status := c.Health()
			status.ReconnectTime = &now
			c.health.Store(status)
			c.logger.Info().Msg("websocket reconnected")
			return conn
		}

		c.incrementErrorCount()
		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("reconnect failed")

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// reportError forwards a feed error without blocking the read loop
func (c *Client) reportError(err error) {
	if c.isClosed() {
		return
	}
	select {
	case c.errs <- err:
	default:
		c.logger.Warn().Err(err).Msg("error channel full, dropping error")
	}
}

// convertSnapshot converts a Hyperliquid snapshot to canonical format,
// preserving the shape of the levels field
func (c *Client) convertSnapshot(book *L2BookResponse) *exchange.Snapshot {
	var levels [][]exchange.PriceLevel
	if book.Levels != nil {
		levels = make([][]exchange.PriceLevel, len(book.Levels))
		for i, side := range book.Levels {
			if side == nil {
				continue
			}
			levels[i] = make([]exchange.PriceLevel, len(side))
			for j, level := range side {
				levels[i][j] = exchange.PriceLevel{
					Price: level.Px,
					Size:  level.Sz,
				}
			}
		}
	}

	return &exchange.Snapshot{
		Exchange:  c.GetName(),
		Coin:      types.Coin(book.Coin),
		Levels:    levels,
		Timestamp: time.UnixMilli(book.Time),
	}
}

// updateConnectionStatus updates the connection status in health
func (c *Client) updateConnectionStatus(connected bool) {
	c.connected.Store(connected)
	status := c.Health()
	status.Connected = connected
	c.health.Store(status)
}

// incrementMessageCount increments the message count in health
func (c *Client) incrementMessageCount() {
	status := c.Health()
	status.MessageCount++
	c.health.Store(status)
}

// incrementErrorCount increments the error count in health
func (c *Client) incrementErrorCount() {
	status := c.Health()
	status.ErrorCount++
	c.health.Store(status)
}

// updateLastPing updates the last message time in health
func (c *Client) updateLastPing() {
	status := c.Health()
	status.LastPing = time.Now()
	c.health.Store(status)
}

var _ exchange.Exchange = (*Client)(nil)
