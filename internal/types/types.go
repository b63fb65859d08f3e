package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Grouping is the price-rounding unit used to bucket nearby price levels
type Grouping int64

const (
	Group1     Grouping = 1
	Group10    Grouping = 10
	Group20    Grouping = 20
	Group50    Grouping = 50
	Group100   Grouping = 100
	Group1000  Grouping = 1000
	Group10000 Grouping = 10000
)

// AvailableGroupings defines the allowed groupings in order of precision
var AvailableGroupings = []Grouping{
	Group1,
	Group10,
	Group20,
	Group50,
	Group100,
	Group1000,
	Group10000,
}

// Decimal returns the grouping as a decimal step
func (g Grouping) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(g))
}

// Valid reports whether g is one of the allowed groupings
func (g Grouping) Valid() bool {
	for _, allowed := range AvailableGroupings {
		if allowed == g {
			return true
		}
	}
	return false
}

// ParseGrouping parses and validates a grouping value
func ParseGrouping(s string) (Grouping, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid grouping %q: %w", s, err)
	}
	g := Grouping(n)
	if !g.Valid() {
		return 0, fmt.Errorf("grouping %d is not one of %v", n, AvailableGroupings)
	}
	return g, nil
}

// NextGrouping returns the next grouping in the sequence, wrapping around
func NextGrouping(current Grouping) Grouping {
	for i, g := range AvailableGroupings {
		if g == current {
			if i+1 < len(AvailableGroupings) {
				return AvailableGroupings[i+1]
			}
			return AvailableGroupings[0]
		}
	}
	return AvailableGroupings[0]
}

// PreviousGrouping returns the previous grouping in the sequence, wrapping around
func PreviousGrouping(current Grouping) Grouping {
	for i, g := range AvailableGroupings {
		if g == current {
			if i-1 >= 0 {
				return AvailableGroupings[i-1]
			}
			return AvailableGroupings[len(AvailableGroupings)-1]
		}
	}
	return AvailableGroupings[0]
}

// Coin identifies a traded asset on the feed
type Coin string

const (
	BTC Coin = "BTC"
	ETH Coin = "ETH"
	SOL Coin = "SOL"
)

// AvailableCoins lists the coins the feed can be switched to
var AvailableCoins = []Coin{BTC, ETH, SOL}

// ParseCoin normalizes and validates a coin symbol
func ParseCoin(s string) (Coin, error) {
	c := Coin(strings.ToUpper(strings.TrimSpace(s)))
	for _, allowed := range AvailableCoins {
		if allowed == c {
			return c, nil
		}
	}
	return "", fmt.Errorf("unsupported coin %q", s)
}

// Side is one side of the book
type Side int

const (
	Bid Side = iota
	Ask
)

// ParseSide maps the wire side code ("B"/"A") to a Side
func ParseSide(s string) (Side, error) {
	switch s {
	case "B":
		return Bid, nil
	case "A":
		return Ask, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// Code returns the wire side code
func (s Side) Code() string {
	if s == Ask {
		return "A"
	}
	return "B"
}

func (s Side) String() string {
	if s == Ask {
		return "ask"
	}
	return "bid"
}

// MarshalText encodes the side as its wire code
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.Code()), nil
}

// UnmarshalText decodes a wire side code
func (s *Side) UnmarshalText(b []byte) error {
	side, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// PriceLevel represents the aggregated size resting at one grouped price.
// Total is derived from the sorted sequence and never stored in the book.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
	Total decimal.Decimal `json:"total"`
}

// Key returns the map key used for a grouped price
func Key(price decimal.Decimal) string {
	return price.String()
}

// Spread is the gap between best bid and best ask
type Spread struct {
	Value      decimal.Decimal `json:"value"`
	Percentage string          `json:"percentage"`
}

// ZeroSpread is reported when either side of the book is empty
var ZeroSpread = Spread{Value: decimal.Zero, Percentage: "0.000"}

// TradeRecord is the display form of an executed trade
type TradeRecord struct {
	Price string `json:"price"`
	Size  string `json:"size"`
	Side  Side   `json:"side"`
	Time  int64  `json:"time"`
	Hash  string `json:"hash,omitempty"`
	TID   int64  `json:"tid,omitempty"`
}

// HighlightSet marks grouped prices whose size recently changed
type HighlightSet map[string]bool

// BookView is the output record consumed by the view layer
type BookView struct {
	Coin            Coin          `json:"coin"`
	Grouping        Grouping      `json:"grouping"`
	Bids            []PriceLevel  `json:"bids"`
	Asks            []PriceLevel  `json:"asks"`
	RealBids        int           `json:"realBids"` // leading Bids rows taken from the book
	RealAsks        int           `json:"realAsks"`
	Spread          Spread        `json:"spread"`
	HighlightedBids HighlightSet  `json:"highlightedBids"`
	HighlightedAsks HighlightSet  `json:"highlightedAsks"`
	Trades          []TradeRecord `json:"trades"`
	Connected       bool          `json:"connected"`
	Stale           bool          `json:"stale"`
	Error           string        `json:"error,omitempty"`
	Timestamp       int64         `json:"timestamp"`
}

// FormatTime renders an epoch-ms trade timestamp as HH:MM:SS local time
func FormatTime(ms int64) string {
	return time.UnixMilli(ms).Format("15:04:05")
}
