// Package depth turns grouped book levels into fixed-depth display rows:
// cumulative totals, synthetic padding and the spread.
package depth

import (
	"sort"

	"bookfeed/internal/types"

	"github.com/shopspring/decimal"
)

const (
	// NumEntries is the number of rows shown per side
	NumEntries = 11

	spreadDecimals = 3
)

var (
	// DefaultAskAnchor is where an empty ask side starts padding from
	DefaultAskAnchor = decimal.NewFromInt(104205)

	// DefaultBidAnchor is where an empty bid side starts padding from
	DefaultBidAnchor = decimal.NewFromInt(104195)

	hundred = decimal.NewFromInt(100)
)

// Sort orders levels in book order for side (bids descending, asks ascending)
func Sort(levels []types.PriceLevel, side types.Side) {
	sort.SliceStable(levels, func(i, j int) bool {
		if side == types.Bid {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
}

// Project sorts a copy of levels, fills in running totals and keeps the top n.
// Totals are accumulated before truncation.
func Project(levels []types.PriceLevel, side types.Side, n int) []types.PriceLevel {
	out := make([]types.PriceLevel, len(levels))
	copy(out, levels)
	Sort(out, side)

	total := decimal.Zero
	for i := range out {
		total = total.Add(out[i].Size)
		out[i].Total = total
	}

	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Fill pads projected levels to exactly n rows. Synthetic rows continue past
// the worst real price (or anchor when the side is empty) with size zero and
// the preceding row's total.
func Fill(levels []types.PriceLevel, side types.Side, n int, g types.Grouping, anchor decimal.Decimal) []types.PriceLevel {
	if n <= 0 {
		return []types.PriceLevel{}
	}
	if len(levels) >= n {
		out := make([]types.PriceLevel, n)
		copy(out, levels[:n])
		return out
	}

	out := make([]types.PriceLevel, len(levels), n)
	copy(out, levels)

	step := g.Decimal()
	if len(levels) >= 2 {
		step = levels[1].Price.Sub(levels[0].Price).Abs()
	}

	extremal := anchor
	if len(levels) > 0 {
		extremal = levels[0].Price
		for _, l := range levels[1:] {
			if side == types.Ask && l.Price.GreaterThan(extremal) {
				extremal = l.Price
			}
			if side == types.Bid && l.Price.LessThan(extremal) {
				extremal = l.Price
			}
		}
	}

	carry := decimal.Zero
	if len(levels) > 0 {
		carry = levels[len(levels)-1].Total
	}

	for k := int64(1); len(out) < n; k++ {
		offset := step.Mul(decimal.NewFromInt(k))
		price := extremal.Add(offset)
		if side == types.Bid {
			price = extremal.Sub(offset)
		}
		out = append(out, types.PriceLevel{
			Price: price,
			Size:  decimal.Zero,
			Total: carry,
		})
	}
	return out
}

// CalculateSpread computes the gap between the best ask and the best bid. A
// crossed book clamps to zero; an empty side yields the zero spread.
func CalculateSpread(asks, bids []types.PriceLevel) types.Spread {
	if len(asks) == 0 || len(bids) == 0 {
		return types.ZeroSpread
	}

	bestAsk := asks[0].Price
	if !bestAsk.IsPositive() {
		return types.ZeroSpread
	}

	value := bestAsk.Sub(bids[0].Price)
	if value.IsNegative() {
		value = decimal.Zero
	}

	return types.Spread{
		Value:      value,
		Percentage: value.Div(bestAsk).Mul(hundred).StringFixed(spreadDecimals),
	}
}

// Build runs the full pipeline for one side: project then pad to n rows
func Build(levels []types.PriceLevel, side types.Side, n int, g types.Grouping, anchor decimal.Decimal) []types.PriceLevel {
	return Fill(Project(levels, side, n), side, n, g, anchor)
}
