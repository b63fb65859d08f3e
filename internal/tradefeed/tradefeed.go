// Package tradefeed keeps the bounded, newest-first list of recent trades.
package tradefeed

import (
	"sort"
	"sync"

	"bookfeed/internal/types"
)

// DefaultCapacity is the number of trades kept on the tape
const DefaultCapacity = 30

// Feed is a bounded newest-first trade list
type Feed struct {
	mu       sync.RWMutex
	capacity int
	records  []types.TradeRecord
}

// New creates a Feed holding at most capacity trades
func New(capacity int) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Feed{
		capacity: capacity,
		records:  make([]types.TradeRecord, 0, capacity),
	}
}

// Capacity returns the maximum number of trades kept
func (f *Feed) Capacity() int {
	return f.capacity
}

// Prepend puts batch in front of the existing trades, in batch order, and
// drops whatever no longer fits
func (f *Feed) Prepend(batch []types.TradeRecord) {
	if len(batch) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	merged := make([]types.TradeRecord, 0, len(batch)+len(f.records))
	merged = append(merged, batch...)
	merged = append(merged, f.records...)
	f.records = truncate(merged, f.capacity)
}

// Merge combines batch with the existing trades, keeping one record per hash
// (the one with the latest time), newest first. The result does not depend on
// the arrival order of the records.
func (f *Feed) Merge(batch []types.TradeRecord) {
	if len(batch) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.records = truncate(Dedup(append(append([]types.TradeRecord{}, f.records...), batch...)), f.capacity)
}

// Records returns a copy of the current trades, newest first
func (f *Feed) Records() []types.TradeRecord {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]types.TradeRecord, len(f.records))
	copy(out, f.records)
	return out
}

// Len returns the number of trades held
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.records)
}

// Reset drops every trade
func (f *Feed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = make([]types.TradeRecord, 0, f.capacity)
}

// Dedup keeps the latest record per hash and sorts newest first. Ties on time
// are broken by TID then hash, both descending.
func Dedup(records []types.TradeRecord) []types.TradeRecord {
	latest := make(map[string]types.TradeRecord, len(records))
	for _, r := range records {
		if prev, ok := latest[r.Hash]; ok && !newer(r, prev) {
			continue
		}
		latest[r.Hash] = r
	}

	out := make([]types.TradeRecord, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return newer(out[i], out[j])
	})
	return out
}

func newer(a, b types.TradeRecord) bool {
	if a.Time != b.Time {
		return a.Time > b.Time
	}
	if a.TID != b.TID {
		return a.TID > b.TID
	}
	return a.Hash > b.Hash
}

func truncate(records []types.TradeRecord, n int) []types.TradeRecord {
	if len(records) > n {
		return records[:n]
	}
	return records
}
