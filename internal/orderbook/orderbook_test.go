package orderbook

import (
	"errors"
	"reflect"
	"testing"

	"bookfeed/internal/exchange"
	"bookfeed/internal/types"

	"github.com/shopspring/decimal"
)

func trade(side types.Side, px, sz string) exchange.Trade {
	return exchange.Trade{Coin: types.BTC, Side: side, Price: px, Size: sz, Hash: px + sz}
}

func snapshot(bids, asks [][2]string) *exchange.Snapshot {
	toLevels := func(in [][2]string) []exchange.PriceLevel {
		out := make([]exchange.PriceLevel, 0, len(in))
		for _, l := range in {
			out = append(out, exchange.PriceLevel{Price: l[0], Size: l[1]})
		}
		return out
	}
	return &exchange.Snapshot{
		Exchange: exchange.Hyperliquid,
		Coin:     types.BTC,
		Levels:   [][]exchange.PriceLevel{toLevels(bids), toLevels(asks)},
	}
}

func assertSize(t *testing.T, ob *OrderBook, side types.Side, key, want string) {
	t.Helper()
	got, ok := ob.Sizes(side)[key]
	if !ok {
		t.Fatalf("Expected %s level %s to exist", side, key)
	}
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("Expected %s level %s size %s, got %s", side, key, want, got)
	}
}

func TestNew(t *testing.T) {
	ob := New(types.Group10)

	if ob.Grouping() != types.Group10 {
		t.Errorf("Expected grouping 10, got %d", ob.Grouping())
	}
	if len(ob.Levels(types.Bid)) != 0 || len(ob.Levels(types.Ask)) != 0 {
		t.Error("New book should be empty")
	}
}

func TestApplyTradesUpsert(t *testing.T) {
	ob := New(types.Group1)

	changes, err := ob.ApplyTrades([]exchange.Trade{
		trade(types.Bid, "100.2", "2"),
		trade(types.Ask, "100.5", "1"),
	})
	if err != nil {
		t.Fatalf("ApplyTrades failed: %v", err)
	}

	assertSize(t, ob, types.Bid, "100", "2")
	assertSize(t, ob, types.Ask, "100", "1")

	if !reflect.DeepEqual(changes.Bids, []string{"100"}) || !reflect.DeepEqual(changes.Asks, []string{"100"}) {
		t.Errorf("Expected new levels to be reported as changed, got %+v", changes)
	}

	// Same bucket overwrites, it does not accumulate.
	changes, err = ob.ApplyTrades([]exchange.Trade{trade(types.Bid, "100.9", "5")})
	if err != nil {
		t.Fatalf("ApplyTrades failed: %v", err)
	}
	assertSize(t, ob, types.Bid, "100", "5")
	if !reflect.DeepEqual(changes.For(types.Bid), []string{"100"}) {
		t.Errorf("Expected bid 100 changed, got %+v", changes)
	}
	if len(changes.For(types.Ask)) != 0 {
		t.Errorf("Expected no ask changes, got %v", changes.Asks)
	}
}

func TestApplyTradesSameSizeNoChange(t *testing.T) {
	ob := New(types.Group1)

	if _, err := ob.ApplyTrades([]exchange.Trade{trade(types.Bid, "100", "2")}); err != nil {
		t.Fatalf("ApplyTrades failed: %v", err)
	}

	for _, sz := range []string{"2", "2.000"} {
		changes, err := ob.ApplyTrades([]exchange.Trade{trade(types.Bid, "100.7", sz)})
		if err != nil {
			t.Fatalf("ApplyTrades failed: %v", err)
		}
		if !changes.Empty() {
			t.Errorf("Expected no change for 2 -> %s, got %+v", sz, changes)
		}
	}
}

func TestApplyTradesDedupesChangedKeys(t *testing.T) {
	ob := New(types.Group10)

	changes, err := ob.ApplyTrades([]exchange.Trade{
		trade(types.Ask, "101", "1"),
		trade(types.Ask, "105", "3"),
		trade(types.Ask, "109", "4"),
	})
	if err != nil {
		t.Fatalf("ApplyTrades failed: %v", err)
	}

	if !reflect.DeepEqual(changes.Asks, []string{"100"}) {
		t.Errorf("Expected a single changed key, got %v", changes.Asks)
	}
	assertSize(t, ob, types.Ask, "100", "4")
}

func TestApplyTradesNeverDeletes(t *testing.T) {
	ob := New(types.Group1)

	ob.ApplyTrades([]exchange.Trade{trade(types.Bid, "100", "1")})
	ob.ApplyTrades([]exchange.Trade{trade(types.Bid, "100", "0")})

	assertSize(t, ob, types.Bid, "100", "0")
	if got := len(ob.Levels(types.Bid)); got != 1 {
		t.Errorf("Expected zero-size level to stay, got %d levels", got)
	}
}

func TestApplyTradesMalformed(t *testing.T) {
	tests := []struct {
		name  string
		batch []exchange.Trade
	}{
		{name: "bad price", batch: []exchange.Trade{trade(types.Bid, "101", "1"), trade(types.Bid, "x", "1")}},
		{name: "bad size", batch: []exchange.Trade{trade(types.Ask, "101", "")}},
		{name: "negative size", batch: []exchange.Trade{trade(types.Ask, "101", "-1")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ob := New(types.Group1)
			ob.ApplyTrades([]exchange.Trade{trade(types.Bid, "100", "1")})

			_, err := ob.ApplyTrades(tt.batch)
			if !errors.Is(err, ErrMalformedTrade) {
				t.Fatalf("Expected ErrMalformedTrade, got %v", err)
			}

			if got := len(ob.Levels(types.Bid)) + len(ob.Levels(types.Ask)); got != 1 {
				t.Errorf("Expected book untouched, got %d levels", got)
			}
		})
	}
}

func TestLoadSnapshotMergesBuckets(t *testing.T) {
	ob := New(types.Group10)

	_, err := ob.LoadSnapshot(snapshot(
		[][2]string{{"104199", "1"}, {"104195.5", "2"}, {"104180", "4"}},
		[][2]string{{"104201", "0.5"}, {"104209.9", "0.25"}},
	))
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}

	assertSize(t, ob, types.Bid, "104190", "3")
	assertSize(t, ob, types.Bid, "104180", "4")
	assertSize(t, ob, types.Ask, "104200", "0.75")

	stats := ob.GetStats()
	if stats.BidLevels != 2 || stats.AskLevels != 1 {
		t.Errorf("Unexpected level counts: %+v", stats)
	}
	if !stats.BestBid.Equal(decimal.NewFromInt(104190)) || !stats.BestAsk.Equal(decimal.NewFromInt(104200)) {
		t.Errorf("Unexpected best prices: bid %s ask %s", stats.BestBid, stats.BestAsk)
	}
}

func TestLoadSnapshotReplacesAndDiffs(t *testing.T) {
	ob := New(types.Group1)

	ob.LoadSnapshot(snapshot(
		[][2]string{{"100", "2"}, {"99", "1"}},
		[][2]string{{"101", "1"}},
	))

	changes, err := ob.LoadSnapshot(snapshot(
		[][2]string{{"100", "2"}, {"98", "1"}},
		[][2]string{{"101", "3"}},
	))
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}

	if !reflect.DeepEqual(changes.Bids, []string{"98"}) {
		t.Errorf("Expected only new bid 98 changed, got %v", changes.Bids)
	}
	if !reflect.DeepEqual(changes.Asks, []string{"101"}) {
		t.Errorf("Expected ask 101 changed, got %v", changes.Asks)
	}

	if _, ok := ob.Sizes(types.Bid)["99"]; ok {
		t.Error("Expected level 99 to be dropped by replacement")
	}
}

func TestLoadSnapshotMalformed(t *testing.T) {
	tests := []struct {
		name string
		snap *exchange.Snapshot
	}{
		{name: "nil snapshot", snap: nil},
		{name: "levels absent", snap: &exchange.Snapshot{Coin: types.BTC}},
		{name: "one side only", snap: &exchange.Snapshot{Levels: [][]exchange.PriceLevel{{}}}},
		{name: "nil side", snap: &exchange.Snapshot{Levels: [][]exchange.PriceLevel{{}, nil}}},
		{name: "bad price", snap: snapshot([][2]string{{"abc", "1"}}, nil)},
		{name: "bad size", snap: snapshot(nil, [][2]string{{"101", "?"}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ob := New(types.Group1)
			ob.ApplyTrades([]exchange.Trade{trade(types.Bid, "100", "1"), trade(types.Ask, "101", "2")})
			before := [2]map[string]decimal.Decimal{ob.Sizes(types.Bid), ob.Sizes(types.Ask)}

			changes, err := ob.LoadSnapshot(tt.snap)
			if !errors.Is(err, ErrMalformedSnapshot) {
				t.Fatalf("Expected ErrMalformedSnapshot, got %v", err)
			}
			if !changes.Empty() {
				t.Errorf("Expected no changes, got %+v", changes)
			}

			if !reflect.DeepEqual(before[0], ob.Sizes(types.Bid)) || !reflect.DeepEqual(before[1], ob.Sizes(types.Ask)) {
				t.Error("Expected book to be unchanged")
			}
		})
	}
}

func TestLevelsOrder(t *testing.T) {
	ob := New(types.Group1)
	ob.ApplyTrades([]exchange.Trade{
		trade(types.Bid, "98", "1"),
		trade(types.Bid, "100", "1"),
		trade(types.Bid, "99", "1"),
		trade(types.Ask, "103", "1"),
		trade(types.Ask, "101", "1"),
		trade(types.Ask, "102", "1"),
	})

	prices := func(levels []types.PriceLevel) []string {
		out := make([]string, 0, len(levels))
		for _, l := range levels {
			out = append(out, l.Price.String())
		}
		return out
	}

	if got := prices(ob.Levels(types.Bid)); !reflect.DeepEqual(got, []string{"100", "99", "98"}) {
		t.Errorf("Expected bids descending, got %v", got)
	}
	if got := prices(ob.Levels(types.Ask)); !reflect.DeepEqual(got, []string{"101", "102", "103"}) {
		t.Errorf("Expected asks ascending, got %v", got)
	}
}

func TestReset(t *testing.T) {
	ob := New(types.Group1)
	ob.ApplyTrades([]exchange.Trade{trade(types.Bid, "100", "1")})

	ob.Reset(types.Group100)

	if ob.Grouping() != types.Group100 {
		t.Errorf("Expected grouping 100, got %d", ob.Grouping())
	}
	if len(ob.Levels(types.Bid)) != 0 {
		t.Error("Expected book to be empty after reset")
	}

	ob.ApplyTrades([]exchange.Trade{trade(types.Bid, "104255", "1")})
	assertSize(t, ob, types.Bid, "104200", "1")
}

// Benchmarks

func BenchmarkApplyTrades(b *testing.B) {
	ob := New(types.Group10)
	batch := make([]exchange.Trade, 0, 100)
	for i := 0; i < 100; i++ {
		px := decimal.NewFromInt(104000 + int64(i)).String()
		batch = append(batch, trade(types.Side(i%2), px, "0.5"))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ob.ApplyTrades(batch)
	}
}
