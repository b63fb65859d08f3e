package orderbook

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"bookfeed/internal/aggregation"
	"bookfeed/internal/exchange"
	"bookfeed/internal/highlight"
	"bookfeed/internal/types"

	"github.com/google/btree"
	"github.com/shopspring/decimal"
)

var (
	// ErrMalformedSnapshot is returned for snapshots with a missing or invalid
	// levels field. The book is left untouched.
	ErrMalformedSnapshot = errors.New("malformed snapshot")

	// ErrMalformedTrade is returned for trade batches that fail to parse. The
	// book is left untouched.
	ErrMalformedTrade = errors.New("malformed trade")
)

const treeDegree = 16

// Changes lists, per side, the grouped price keys whose size changed during
// one update
type Changes struct {
	Bids []string
	Asks []string
}

// For returns the changed keys of one side
func (c Changes) For(side types.Side) []string {
	if side == types.Ask {
		return c.Asks
	}
	return c.Bids
}

// Empty reports whether nothing changed
func (c Changes) Empty() bool {
	return len(c.Bids) == 0 && len(c.Asks) == 0
}

func (c *Changes) add(side types.Side, key string, seen map[string]struct{}) {
	id := side.Code() + key
	if _, ok := seen[id]; ok {
		return
	}
	seen[id] = struct{}{}
	if side == types.Ask {
		c.Asks = append(c.Asks, key)
	} else {
		c.Bids = append(c.Bids, key)
	}
}

// Stats holds counters about the book
type Stats struct {
	TradesApplied     int64
	SnapshotsLoaded   int64
	SnapshotsRejected int64
	LastEventTime     time.Time
	BidLevels         int
	AskLevels         int
	BestBid           decimal.Decimal
	BestAsk           decimal.Decimal
}

type levelTree = btree.BTreeG[types.PriceLevel]

func lessByPrice(a, b types.PriceLevel) bool {
	return a.Price.LessThan(b.Price)
}

func newTree() *levelTree {
	return btree.NewG(treeDegree, lessByPrice)
}

// OrderBook is the grouped two-sided book. Each side is an ordered tree keyed
// by grouped price; totals are never stored here.
type OrderBook struct {
	mu         sync.RWMutex
	bids       *levelTree
	asks       *levelTree
	aggregator *aggregation.Aggregator
	stats      Stats
}

// New creates an empty OrderBook bucketing with grouping g
func New(g types.Grouping) *OrderBook {
	return &OrderBook{
		bids:       newTree(),
		asks:       newTree(),
		aggregator: aggregation.New(g),
	}
}

// Grouping returns the grouping the book is bucketed with
func (ob *OrderBook) Grouping() types.Grouping {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.aggregator.GetGrouping()
}

// Reset empties both sides and switches to grouping g
func (ob *OrderBook) Reset(g types.Grouping) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.aggregator.SetGrouping(g)
	ob.bids = newTree()
	ob.asks = newTree()
	ob.updateStats()
}

type parsedTrade struct {
	side  types.Side
	price decimal.Decimal
	size  decimal.Decimal
}

// ApplyTrades upserts each trade into its side at the bucketed price. An
// existing level has its size overwritten; levels are never removed here.
func (ob *OrderBook) ApplyTrades(trades []exchange.Trade) (Changes, error) {
	parsed := make([]parsedTrade, 0, len(trades))
	for _, t := range trades {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return Changes{}, fmt.Errorf("%w: price %q: %v", ErrMalformedTrade, t.Price, err)
		}
		size, err := decimal.NewFromString(t.Size)
		if err != nil {
			return Changes{}, fmt.Errorf("%w: size %q: %v", ErrMalformedTrade, t.Size, err)
		}
		if size.IsNegative() {
			return Changes{}, fmt.Errorf("%w: negative size %q", ErrMalformedTrade, t.Size)
		}
		parsed = append(parsed, parsedTrade{side: t.Side, price: price, size: size})
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	var changes Changes
	seen := make(map[string]struct{})

	for _, p := range parsed {
		key := ob.aggregator.Bucket(p.price)
		prev, existed := ob.tree(p.side).ReplaceOrInsert(types.PriceLevel{
			Price: key,
			Size:  p.size,
			Total: decimal.Zero,
		})
		if highlight.SizeChanged(prev.Size, existed, p.size) {
			changes.add(p.side, types.Key(key), seen)
		}
	}

	if len(parsed) > 0 {
		ob.stats.TradesApplied += int64(len(parsed))
		ob.stats.LastEventTime = time.Now()
	}
	ob.updateStats()
	return changes, nil
}

// LoadSnapshot replaces both sides with the bucketed snapshot. Raw levels that
// fall into the same bucket have their sizes summed. Malformed snapshots are
// rejected without touching the book.
func (ob *OrderBook) LoadSnapshot(snap *exchange.Snapshot) (Changes, error) {
	if snap == nil {
		return Changes{}, fmt.Errorf("%w: nil snapshot", ErrMalformedSnapshot)
	}
	if len(snap.Levels) != 2 || snap.Levels[0] == nil || snap.Levels[1] == nil {
		ob.reject()
		return Changes{}, fmt.Errorf("%w: expected [bids, asks] levels, got %d arrays", ErrMalformedSnapshot, len(snap.Levels))
	}

	rawBids, err := parseLevels(snap.Levels[0])
	if err != nil {
		ob.reject()
		return Changes{}, fmt.Errorf("%w: bids: %v", ErrMalformedSnapshot, err)
	}
	rawAsks, err := parseLevels(snap.Levels[1])
	if err != nil {
		ob.reject()
		return Changes{}, fmt.Errorf("%w: asks: %v", ErrMalformedSnapshot, err)
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	bids := buildTree(ob.aggregator.Aggregate(rawBids))
	asks := buildTree(ob.aggregator.Aggregate(rawAsks))

	changes := Changes{
		Bids: highlight.Detect(sizesOf(ob.bids), sizesOf(bids)),
		Asks: highlight.Detect(sizesOf(ob.asks), sizesOf(asks)),
	}

	ob.bids = bids
	ob.asks = asks
	ob.stats.SnapshotsLoaded++
	ob.stats.LastEventTime = time.Now()
	ob.updateStats()
	return changes, nil
}

// Levels returns the levels of one side in book order (bids descending, asks
// ascending) with zero totals
func (ob *OrderBook) Levels(side types.Side) []types.PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	tree := ob.tree(side)
	levels := make([]types.PriceLevel, 0, tree.Len())
	collect := func(l types.PriceLevel) bool {
		levels = append(levels, l)
		return true
	}
	if side == types.Bid {
		tree.Descend(collect)
	} else {
		tree.Ascend(collect)
	}
	return levels
}

// Sizes returns a copy of one side keyed by grouped price
func (ob *OrderBook) Sizes(side types.Side) map[string]decimal.Decimal {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return sizesOf(ob.tree(side))
}

// GetStats returns a copy of the current statistics
func (ob *OrderBook) GetStats() Stats {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.stats
}

// tree returns the tree of side (must be called with mutex held)
func (ob *OrderBook) tree(side types.Side) *levelTree {
	if side == types.Ask {
		return ob.asks
	}
	return ob.bids
}

func (ob *OrderBook) reject() {
	ob.mu.Lock()
	ob.stats.SnapshotsRejected++
	ob.mu.Unlock()
}

// updateStats refreshes level counts and best prices (must be called with mutex locked)
func (ob *OrderBook) updateStats() {
	ob.stats.BidLevels = ob.bids.Len()
	ob.stats.AskLevels = ob.asks.Len()
	ob.stats.BestBid = decimal.Zero
	ob.stats.BestAsk = decimal.Zero

	if best, ok := ob.bids.Max(); ok {
		ob.stats.BestBid = best.Price
	}
	if best, ok := ob.asks.Min(); ok {
		ob.stats.BestAsk = best.Price
	}
}

func parseLevels(raw []exchange.PriceLevel) ([]types.PriceLevel, error) {
	levels := make([]types.PriceLevel, 0, len(raw))
	for _, r := range raw {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, fmt.Errorf("invalid price %q: %w", r.Price, err)
		}
		size, err := decimal.NewFromString(r.Size)
		if err != nil {
			return nil, fmt.Errorf("invalid size %q: %w", r.Size, err)
		}
		levels = append(levels, types.PriceLevel{Price: price, Size: size})
	}
	return levels, nil
}

func buildTree(levels []types.PriceLevel) *levelTree {
	tree := newTree()
	for _, l := range levels {
		tree.ReplaceOrInsert(l)
	}
	return tree
}

func sizesOf(tree *levelTree) map[string]decimal.Decimal {
	sizes := make(map[string]decimal.Decimal, tree.Len())
	tree.Ascend(func(l types.PriceLevel) bool {
		sizes[types.Key(l.Price)] = l.Size
		return true
	})
	return sizes
}
