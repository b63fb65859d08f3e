package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"bookfeed/internal/engine"
	"bookfeed/internal/logging"
	"bookfeed/internal/metrics"
	"bookfeed/internal/types"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const writeWait = 5 * time.Second

// Backend is what the server drives and reads views from
type Backend interface {
	types.Controller
	Status() engine.Status
}

// Config holds server settings
type Config struct {
	Addr         string
	PushInterval time.Duration
	Registry     *prometheus.Registry // nil disables /metrics
}

type client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// write serializes writes; gorilla connections allow a single writer
func (c *client) write(msg interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// Server pushes the latest book view to every websocket client and accepts
// grouping and coin changes from them
type Server struct {
	backend    Backend
	cfg        Config
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
	router     *mux.Router
	clients    map[string]*client
	clientsMux sync.RWMutex
	broadcast  chan interface{}
	latest     atomic.Pointer[types.BookView]
}

// NewServer creates a Server and registers its routes
func NewServer(backend Backend, cfg Config, logger zerolog.Logger) *Server {
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 200 * time.Millisecond
	}
	s := &Server{
		backend:   backend,
		cfg:       cfg,
		logger:    logging.Component(logger, "server"),
		clients:   make(map[string]*client),
		broadcast: make(chan interface{}, 100),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/book", s.handleBook).Methods(http.MethodGet)
	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	api.HandleFunc("/grouping/{grouping:[0-9]+}", s.handleSetGrouping).Methods(http.MethodPost)
	api.HandleFunc("/coin/{coin}", s.handleSetCoin).Methods(http.MethodPost)

	if s.cfg.Registry != nil {
		r.Handle("/metrics", metrics.Handler(s.cfg.Registry))
	}
	return r
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.router
}

// PublishView stores the view pushed on the next tick. It never blocks.
func (s *Server) PublishView(view types.BookView) {
	s.latest.Store(&view)
}

// Start listens on the configured address and pushes views until ctx is
// cancelled
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start with an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.broadcastMessages(ctx)
	go s.startDataPush(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("server starting")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}

	s.clientsMux.Lock()
	s.clients[c.id] = c
	s.clientsMux.Unlock()
	metrics.WSClients.Inc()

	s.logger.Info().Str("client", c.id).Str("remote", r.RemoteAddr).Msg("websocket client connected")

	defer func() {
		s.removeClient(c.id)
		s.logger.Info().Str("client", c.id).Msg("websocket client disconnected")
	}()

	// send the current view right away instead of waiting for the next tick
	_ = c.write(BuildBookMessage(s.view()))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			s.logger.Debug().Err(err).Str("client", c.id).Msg("invalid client message")
			_ = c.write(ErrorMessage{Type: MessageTypeError, Error: "invalid message"})
			continue
		}

		s.handleClientMessage(c, clientMsg)
	}
}

func (s *Server) handleClientMessage(c *client, msg ClientMessage) {
	var err error
	switch msg.Type {
	case ClientSetGrouping:
		err = s.backend.SetGrouping(types.Grouping(msg.Grouping))
	case ClientChangeCoin:
		var coin types.Coin
		coin, err = types.ParseCoin(msg.Coin)
		if err == nil {
			err = s.backend.SetCoin(coin)
		}
	default:
		s.logger.Debug().Str("type", msg.Type).Msg("unknown client message type")
		_ = c.write(ErrorMessage{Type: MessageTypeError, Error: "unknown message type " + msg.Type})
		return
	}

	if err != nil {
		_ = c.write(ErrorMessage{Type: MessageTypeError, Error: err.Error()})
		return
	}

	s.logger.Info().Str("client", c.id).Str("type", msg.Type).Msg("client command applied")
	_ = c.write(BuildBookMessage(s.backend.View()))
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BuildBookMessage(s.view()))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	view := s.view()
	writeJSON(w, http.StatusOK, ConfigMessage{
		Coin:      view.Coin,
		Grouping:  view.Grouping,
		Coins:     types.AvailableCoins,
		Groupings: types.AvailableGroupings,
	})
}

func (s *Server) handleSetGrouping(w http.ResponseWriter, r *http.Request) {
	g, err := types.ParseGrouping(mux.Vars(r)["grouping"])
	if err == nil {
		err = s.backend.SetGrouping(g)
	}
	s.replyCommand(w, err)
}

func (s *Server) handleSetCoin(w http.ResponseWriter, r *http.Request) {
	coin, err := types.ParseCoin(mux.Vars(r)["coin"])
	if err == nil {
		err = s.backend.SetCoin(coin)
	}
	s.replyCommand(w, err)
}

func (s *Server) replyCommand(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrStopped) {
		writeJSON(w, http.StatusServiceUnavailable, ErrorMessage{Type: MessageTypeError, Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorMessage{Type: MessageTypeError, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, BuildBookMessage(s.backend.View()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.backend.Status()

	s.clientsMux.RLock()
	clients := len(s.clients)
	s.clientsMux.RUnlock()

	code := http.StatusOK
	if !status.Connected {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthMessage{Status: status, Clients: clients})
}

func (s *Server) broadcastMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.broadcast:
			for _, c := range s.snapshotClients() {
				if err := c.write(msg); err != nil {
					s.logger.Debug().Err(err).Str("client", c.id).Msg("error writing to client")
					s.removeClient(c.id)
				}
			}
		}
	}
}

func (s *Server) startDataPush(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.clientsMux.RLock()
		hasClients := len(s.clients) > 0
		s.clientsMux.RUnlock()

		if !hasClients {
			continue
		}

		view := s.view()
		select {
		case s.broadcast <- BuildBookMessage(view):
		default:
		}
		select {
		case s.broadcast <- BuildStatsMessage(view):
		default:
		}
	}
}

// view prefers the pushed view and falls back to asking the backend
func (s *Server) view() types.BookView {
	if v := s.latest.Load(); v != nil {
		return *v
	}
	return s.backend.View()
}

func (s *Server) snapshotClients() []*client {
	s.clientsMux.RLock()
	defer s.clientsMux.RUnlock()

	out := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

func (s *Server) removeClient(id string) {
	s.clientsMux.Lock()
	c, ok := s.clients[id]
	delete(s.clients, id)
	s.clientsMux.Unlock()

	if ok {
		c.conn.Close()
		metrics.WSClients.Dec()
	}
}

func (s *Server) closeClients() {
	for _, c := range s.snapshotClients() {
		s.removeClient(c.id)
	}
}

// ClientCount returns the number of connected websocket clients
func (s *Server) ClientCount() int {
	s.clientsMux.RLock()
	defer s.clientsMux.RUnlock()
	return len(s.clients)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// BuildBookMessage converts a view to its wire form
func BuildBookMessage(view types.BookView) BookMessage {
	trades := make([]TradeMessage, 0, len(view.Trades))
	for _, t := range view.Trades {
		trades = append(trades, TradeMessage{
			Price: t.Price,
			Size:  t.Size,
			Side:  t.Side.String(),
			Time:  types.FormatTime(t.Time),
			Hash:  t.Hash,
		})
	}

	return BookMessage{
		Type:            MessageTypeBook,
		Coin:            string(view.Coin),
		Grouping:        int64(view.Grouping),
		Bids:            toWire(view.Bids),
		Asks:            toWire(view.Asks),
		Spread:          view.Spread.Value.String(),
		SpreadPct:       view.Spread.Percentage,
		HighlightedBids: sortedKeys(view.HighlightedBids),
		HighlightedAsks: sortedKeys(view.HighlightedAsks),
		Trades:          trades,
		Connected:       view.Connected,
		Stale:           view.Stale,
		Error:           view.Error,
		Timestamp:       view.Timestamp,
	}
}

// BuildStatsMessage summarizes the real (non padded) levels of a view
func BuildStatsMessage(view types.BookView) StatsMessage {
	bestBid, bidQty := summarize(view.Bids, view.RealBids)
	bestAsk, askQty := summarize(view.Asks, view.RealAsks)

	mid := decimal.Zero
	if !bestBid.IsZero() && !bestAsk.IsZero() {
		mid = bestBid.Add(bestAsk).Div(decimal.NewFromInt(2))
	}

	return StatsMessage{
		Type:         MessageTypeStats,
		Coin:         string(view.Coin),
		BestBid:      bestBid.String(),
		BestAsk:      bestAsk.String(),
		MidPrice:     mid.String(),
		Spread:       view.Spread.Value.String(),
		SpreadPct:    view.Spread.Percentage,
		TotalBidsQty: bidQty.String(),
		TotalAsksQty: askQty.String(),
		TotalDelta:   bidQty.Sub(askQty).String(),
		Timestamp:    view.Timestamp,
	}
}

// summarize returns the best price and the total size of the first real rows.
// Padding always follows them.
func summarize(levels []types.PriceLevel, count int) (decimal.Decimal, decimal.Decimal) {
	best := decimal.Zero
	total := decimal.Zero
	count = min(max(count, 0), len(levels))
	for i, l := range levels[:count] {
		if i == 0 {
			best = l.Price
		}
		total = total.Add(l.Size)
	}
	return best, total
}

func toWire(levels []types.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, PriceLevel{
			Price:      l.Price.String(),
			Quantity:   l.Size.String(),
			Cumulative: l.Total.String(),
		})
	}
	return out
}

func sortedKeys(set types.HighlightSet) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ types.ViewSink = (*Server)(nil)
