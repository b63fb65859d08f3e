package aggregation

import (
	"bookfeed/internal/types"

	"github.com/shopspring/decimal"
)

// Bucket floors a raw price to its grouped price key: floor(price / g) * g
func Bucket(price decimal.Decimal, g types.Grouping) decimal.Decimal {
	step := g.Decimal()
	if step.Sign() <= 0 {
		return price
	}
	return price.Div(step).Floor().Mul(step)
}

// Aggregator handles price bucketing for a grouping
type Aggregator struct {
	grouping types.Grouping
}

// New creates a new Aggregator instance
func New(g types.Grouping) *Aggregator {
	return &Aggregator{
		grouping: g,
	}
}

// SetGrouping updates the grouping used for bucketing
func (a *Aggregator) SetGrouping(g types.Grouping) {
	a.grouping = g
}

// GetGrouping returns the current grouping
func (a *Aggregator) GetGrouping() types.Grouping {
	return a.grouping
}

// Bucket floors price with the aggregator's grouping
func (a *Aggregator) Bucket(price decimal.Decimal) decimal.Decimal {
	return Bucket(price, a.grouping)
}

// Aggregate buckets levels and sums the sizes of raw levels that collapse into
// the same grouped price. The result keeps first-seen order of each bucket.
func (a *Aggregator) Aggregate(levels []types.PriceLevel) []types.PriceLevel {
	if len(levels) == 0 {
		return levels
	}

	index := make(map[string]int, len(levels))
	aggregated := make([]types.PriceLevel, 0, len(levels))

	for _, level := range levels {
		price := a.Bucket(level.Price)
		key := types.Key(price)

		if i, exists := index[key]; exists {
			aggregated[i].Size = aggregated[i].Size.Add(level.Size)
			continue
		}

		index[key] = len(aggregated)
		aggregated = append(aggregated, types.PriceLevel{
			Price: price,
			Size:  level.Size,
			Total: decimal.Zero,
		})
	}

	return aggregated
}

var _ types.PriceAggregator = (*Aggregator)(nil)
