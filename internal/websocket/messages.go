package websocket

import (
	"bookfeed/internal/engine"
	"bookfeed/internal/types"
)

type MessageType string

const (
	MessageTypeBook  MessageType = "book"
	MessageTypeStats MessageType = "stats"
	MessageTypeError MessageType = "error"
)

// Client message types
const (
	ClientSetGrouping = "set_grouping"
	ClientChangeCoin  = "change_coin"
)

// ClientMessage represents messages sent from client to server
type ClientMessage struct {
	Type     string `json:"type"`
	Grouping int64  `json:"grouping,omitempty"`
	Coin     string `json:"coin,omitempty"`
}

type BookMessage struct {
	Type            MessageType    `json:"type"`
	Coin            string         `json:"coin"`
	Grouping        int64          `json:"grouping"`
	Bids            []PriceLevel   `json:"bids"`
	Asks            []PriceLevel   `json:"asks"`
	Spread          string         `json:"spread"`
	SpreadPct       string         `json:"spreadPct"`
	HighlightedBids []string       `json:"highlightedBids"`
	HighlightedAsks []string       `json:"highlightedAsks"`
	Trades          []TradeMessage `json:"trades"`
	Connected       bool           `json:"connected"`
	Stale           bool           `json:"stale"`
	Error           string         `json:"error,omitempty"`
	Timestamp       int64          `json:"timestamp"`
}

type StatsMessage struct {
	Type         MessageType `json:"type"`
	Coin         string      `json:"coin"`
	BestBid      string      `json:"bestBid"`
	BestAsk      string      `json:"bestAsk"`
	MidPrice     string      `json:"midPrice"`
	Spread       string      `json:"spread"`
	SpreadPct    string      `json:"spreadPct"`
	TotalBidsQty string      `json:"totalBidsQty"`
	TotalAsksQty string      `json:"totalAsksQty"`
	TotalDelta   string      `json:"totalDelta"`
	Timestamp    int64       `json:"timestamp"`
}

type ErrorMessage struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

type ConfigMessage struct {
	Coin      types.Coin       `json:"coin"`
	Grouping  types.Grouping   `json:"grouping"`
	Coins     []types.Coin     `json:"coins"`
	Groupings []types.Grouping `json:"groupings"`
}

type HealthMessage struct {
	Status  engine.Status `json:"status"`
	Clients int           `json:"clients"`
}

type PriceLevel struct {
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	Cumulative string `json:"cumulative"`
}

type TradeMessage struct {
	Price string `json:"price"`
	Size  string `json:"size"`
	Side  string `json:"side"`
	Time  string `json:"time"`
	Hash  string `json:"hash,omitempty"`
}
