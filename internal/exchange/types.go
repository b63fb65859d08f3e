package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookfeed/internal/types"
)

// ExchangeName represents supported exchange identifiers
type ExchangeName string

const (
	Hyperliquid ExchangeName = "hyperliquid"
)

// SupportedExchanges lists the feeds a connector can be built for
var SupportedExchanges = []ExchangeName{Hyperliquid}

// ParseExchangeName normalizes and validates an exchange name
func ParseExchangeName(s string) (ExchangeName, error) {
	name := ExchangeName(strings.ToLower(strings.TrimSpace(s)))
	for _, supported := range SupportedExchanges {
		if supported == name {
			return name, nil
		}
	}
	return "", fmt.Errorf("unsupported exchange %q", s)
}

var (
	// ErrMalformedMessage is reported for feed payloads that cannot be parsed
	ErrMalformedMessage = errors.New("malformed feed message")

	// ErrTransportClosed is reported when the streaming connection drops
	ErrTransportClosed = errors.New("transport closed")
)

// Exchange defines the interface the engine consumes a market-data feed through
type Exchange interface {
	// GetName returns the exchange name
	GetName() ExchangeName

	// GetCoin returns the subscribed coin
	GetCoin() types.Coin

	// Connect establishes the streaming connection and subscribes to trades
	Connect(ctx context.Context) error

	// Close closes the connection gracefully
	Close() error

	// GetSnapshot fetches a full L2 book snapshot
	GetSnapshot(ctx context.Context) (*Snapshot, error)

	// Trades returns a channel that receives trade batches in arrival order
	Trades() <-chan []Trade

	// Errors returns a channel of feed-level errors
	Errors() <-chan error

	// IsConnected returns connection status
	IsConnected() bool

	// Health returns connection health information
	Health() HealthStatus
}

// Snapshot is a full L2 book as delivered by the venue. Levels[0] holds bids
// and Levels[1] asks; any other shape is malformed.
type Snapshot struct {
	Exchange  ExchangeName
	Coin      types.Coin
	Levels    [][]PriceLevel
	Timestamp time.Time
}

// PriceLevel represents a single raw level [price, size]
type PriceLevel struct {
	Price string // Price as string to avoid precision loss
	Size  string // Size as string to avoid precision loss
}

// Trade is a raw trade execution. Identity is Hash.
type Trade struct {
	Coin  types.Coin
	Side  types.Side
	Price string
	Size  string
	Hash  string
	TID   int64
	Time  int64 // epoch ms
}

// Record converts a raw trade to its display form
func (t Trade) Record() types.TradeRecord {
	return types.TradeRecord{
		Price: t.Price,
		Size:  t.Size,
		Side:  t.Side,
		Time:  t.Time,
		Hash:  t.Hash,
		TID:   t.TID,
	}
}

// HealthStatus represents connection health information
type HealthStatus struct {
	Connected     bool
	LastPing      time.Time
	MessageCount  int64
	ErrorCount    int64
	ReconnectTime *time.Time
}
