package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bookfeed/internal/types"

	"github.com/redis/go-redis/v9"
)

// ViewCache stores the latest BookView per coin.
//
// Key schema:
//
//	{prefix}:{coin}:view - JSON encoded BookView, expires after ttl
//	{prefix}:{coin}      - pub/sub channel receiving every stored view
type ViewCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewViewCache creates a ViewCache backed by the given Client. A zero ttl
// keeps views forever.
func NewViewCache(c *Client, prefix string, ttl time.Duration) *ViewCache {
	return &ViewCache{rdb: c.Underlying(), prefix: prefix, ttl: ttl}
}

func viewKey(prefix string, coin types.Coin) string     { return prefix + ":" + string(coin) + ":view" }
func viewChannel(prefix string, coin types.Coin) string { return prefix + ":" + string(coin) }

// Channel returns the pub/sub channel views of coin are published on.
func (vc *ViewCache) Channel(coin types.Coin) string {
	return viewChannel(vc.prefix, coin)
}

// Store writes the view and publishes it in one transaction.
func (vc *ViewCache) Store(ctx context.Context, view types.BookView) error {
	payload, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("redis: encode view: %w", err)
	}

	pipe := vc.rdb.TxPipeline()
	pipe.Set(ctx, viewKey(vc.prefix, view.Coin), payload, vc.ttl)
	pipe.Publish(ctx, viewChannel(vc.prefix, view.Coin), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: store view %s: %w", view.Coin, err)
	}
	return nil
}
