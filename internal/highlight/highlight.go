// Package highlight detects per-level size changes and keeps the transient
// highlight sets shown next to changed levels.
package highlight

import (
	"sort"
	"sync"
	"time"

	"bookfeed/internal/types"

	"github.com/shopspring/decimal"
)

// DefaultDuration is how long a changed level stays highlighted
const DefaultDuration = 700 * time.Millisecond

// SizeChanged reports whether a level counts as changed. Brand-new levels
// count as changed.
func SizeChanged(prev decimal.Decimal, existed bool, next decimal.Decimal) bool {
	return !existed || !prev.Equal(next)
}

// Detect compares committed sizes with freshly produced sizes and returns the
// changed keys in ascending key order
func Detect(prev, next map[string]decimal.Decimal) []string {
	changed := make([]string, 0)
	for key, size := range next {
		old, existed := prev[key]
		if SizeChanged(old, existed, size) {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}

type entry struct {
	timer *time.Timer
	seq   uint64
}

// Highlighter holds one highlight set per side. Every mark schedules its own
// removal; marking the same key again restarts the timer.
type Highlighter struct {
	mu       sync.Mutex
	duration time.Duration
	sets     [2]map[string]*entry
	seq      uint64
	stopped  bool
	onExpire func(side types.Side, key string)
}

// New creates a Highlighter. onExpire may be nil; it runs on the timer
// goroutine after a highlight has been removed.
func New(duration time.Duration, onExpire func(side types.Side, key string)) *Highlighter {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Highlighter{
		duration: duration,
		sets:     [2]map[string]*entry{make(map[string]*entry), make(map[string]*entry)},
		onExpire: onExpire,
	}
}

// Mark highlights keys on side and (re)schedules their removal
func (h *Highlighter) Mark(side types.Side, keys []string) {
	if len(keys) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return
	}

	set := h.sets[side]
	for _, key := range keys {
		if old, ok := set[key]; ok {
			old.timer.Stop()
		}
		h.seq++
		seq := h.seq
		set[key] = &entry{
			seq:   seq,
			timer: time.AfterFunc(h.duration, func() { h.expire(side, key, seq) }),
		}
	}
}

// expire removes key if it still belongs to the mark that scheduled it.
// A superseded or reset entry makes this a no-op.
func (h *Highlighter) expire(side types.Side, key string, seq uint64) {
	h.mu.Lock()
	e, ok := h.sets[side][key]
	if !ok || e.seq != seq {
		h.mu.Unlock()
		return
	}
	delete(h.sets[side], key)
	cb := h.onExpire
	h.mu.Unlock()

	if cb != nil {
		cb(side, key)
	}
}

// Set returns a copy of the current highlight set for side
func (h *Highlighter) Set(side types.Side) types.HighlightSet {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(types.HighlightSet, len(h.sets[side]))
	for key := range h.sets[side] {
		out[key] = true
	}
	return out
}

// Len returns the number of highlighted levels on side
func (h *Highlighter) Len(side types.Side) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sets[side])
}

// Reset cancels every pending removal and clears both sets
func (h *Highlighter) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetLocked()
}

// Stop resets the highlighter and ignores any later marks
func (h *Highlighter) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resetLocked()
	h.stopped = true
}

func (h *Highlighter) resetLocked() {
	for i, set := range h.sets {
		for _, e := range set {
			e.timer.Stop()
		}
		h.sets[i] = make(map[string]*entry)
	}
}
