package hyperliquid

import "encoding/json"

// Subscription and channel names used on the Hyperliquid websocket
const (
	TradesType  = "trades"
	L2BookType  = "l2Book"
	ChannelErr  = "error"
	ChannelPong = "pong"
	ChannelSub  = "subscriptionResponse"
)

// L2BookRequest is the REST body for an L2 book snapshot
type L2BookRequest struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

// L2BookResponse represents the REST API response for an L2 book snapshot.
// Levels is a slice so that an absent or short field can be detected.
type L2BookResponse struct {
	Coin   string      `json:"coin"`
	Time   int64       `json:"time"`
	Levels [][]WsLevel `json:"levels"` // [bids[], asks[]]
}

// WsLevel represents a single price level in Hyperliquid format
type WsLevel struct {
	Px string `json:"px"` // price
	Sz string `json:"sz"` // size
	N  int    `json:"n"`  // number of orders
}

// WsTrade represents a trade on the trades channel
type WsTrade struct {
	Coin  string    `json:"coin"`
	Side  string    `json:"side"`
	Px    string    `json:"px"`
	Sz    string    `json:"sz"`
	Hash  string    `json:"hash"`
	Time  int64     `json:"time"`
	TID   int64     `json:"tid"`
	Users [2]string `json:"users"`
}

// Subscription identifies a feed to subscribe to
type Subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
}

// SubscriptionMessage represents the WebSocket subscription message
type SubscriptionMessage struct {
	Method       string        `json:"method"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}
