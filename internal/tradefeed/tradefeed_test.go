package tradefeed

import (
	"fmt"
	"reflect"
	"testing"

	"bookfeed/internal/types"
)

func rec(hash string, tm int64) types.TradeRecord {
	return types.TradeRecord{Price: "104200", Size: "0.1", Side: types.Bid, Time: tm, Hash: hash}
}

func hashes(records []types.TradeRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Hash)
	}
	return out
}

func TestNewDefaultCapacity(t *testing.T) {
	if got := New(0).Capacity(); got != DefaultCapacity {
		t.Errorf("Expected capacity %d, got %d", DefaultCapacity, got)
	}
}

func TestPrepend(t *testing.T) {
	f := New(4)

	f.Prepend([]types.TradeRecord{rec("a", 1), rec("b", 2)})
	f.Prepend([]types.TradeRecord{rec("c", 3), rec("d", 4)})

	if got := hashes(f.Records()); !reflect.DeepEqual(got, []string{"c", "d", "a", "b"}) {
		t.Errorf("Unexpected order: %v", got)
	}

	f.Prepend([]types.TradeRecord{rec("e", 5)})

	if got := hashes(f.Records()); !reflect.DeepEqual(got, []string{"e", "c", "d", "a"}) {
		t.Errorf("Expected oldest trade dropped, got %v", got)
	}
}

func TestPrependEmptyBatch(t *testing.T) {
	f := New(2)
	f.Prepend([]types.TradeRecord{rec("a", 1)})
	f.Prepend(nil)

	if f.Len() != 1 {
		t.Errorf("Expected 1 trade, got %d", f.Len())
	}
}

func TestMergeKeepsLatestPerHash(t *testing.T) {
	f := New(DefaultCapacity)

	f.Merge([]types.TradeRecord{rec("x", 100)})
	f.Merge([]types.TradeRecord{rec("x", 200), rec("y", 150)})

	got := f.Records()
	if !reflect.DeepEqual(hashes(got), []string{"x", "y"}) {
		t.Fatalf("Unexpected trades: %v", hashes(got))
	}
	if got[0].Time != 200 {
		t.Errorf("Expected later timestamp to survive, got %d", got[0].Time)
	}

	f.Merge([]types.TradeRecord{rec("x", 50)})
	if got := f.Records(); len(got) != 2 || got[0].Time != 200 {
		t.Errorf("Older duplicate must not replace newer one: %+v", got)
	}
}

func TestMergeOrderIndependent(t *testing.T) {
	batch := []types.TradeRecord{
		rec("a", 10), rec("b", 30), rec("a", 40), rec("c", 30), rec("d", 5),
	}
	batch[3].TID = 7
	batch[1].TID = 3

	reversed := make([]types.TradeRecord, len(batch))
	for i, r := range batch {
		reversed[len(batch)-1-i] = r
	}

	f1 := New(DefaultCapacity)
	f1.Merge(batch)
	f2 := New(DefaultCapacity)
	f2.Merge(reversed)

	if !reflect.DeepEqual(f1.Records(), f2.Records()) {
		t.Errorf("Merge depends on arrival order: %v vs %v", hashes(f1.Records()), hashes(f2.Records()))
	}
	if got := hashes(f1.Records()); !reflect.DeepEqual(got, []string{"a", "c", "b", "d"}) {
		t.Errorf("Unexpected order: %v", got)
	}
}

func TestMergeTruncates(t *testing.T) {
	f := New(5)

	batch := make([]types.TradeRecord, 0, 10)
	for i := 0; i < 10; i++ {
		batch = append(batch, rec(fmt.Sprintf("h%d", i), int64(i)))
	}
	f.Merge(batch)

	if got := hashes(f.Records()); !reflect.DeepEqual(got, []string{"h9", "h8", "h7", "h6", "h5"}) {
		t.Errorf("Expected newest 5 trades, got %v", got)
	}
}

func TestRecordsIsCopy(t *testing.T) {
	f := New(2)
	f.Prepend([]types.TradeRecord{rec("a", 1)})

	got := f.Records()
	got[0].Hash = "mutated"

	if f.Records()[0].Hash != "a" {
		t.Error("Records must return a copy")
	}
}

func TestReset(t *testing.T) {
	f := New(3)
	f.Prepend([]types.TradeRecord{rec("a", 1), rec("b", 2)})

	f.Reset()

	if f.Len() != 0 {
		t.Errorf("Expected empty feed, got %d", f.Len())
	}
}

// Benchmarks

func BenchmarkMerge(b *testing.B) {
	batch := make([]types.TradeRecord, 0, 50)
	for i := 0; i < 50; i++ {
		batch = append(batch, rec(fmt.Sprintf("0x%x", i%40), int64(i)))
	}

	f := New(DefaultCapacity)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Merge(batch)
	}
}
