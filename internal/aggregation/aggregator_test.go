package aggregation

import (
	"testing"

	"bookfeed/internal/types"

	"github.com/shopspring/decimal"
)

func TestNew(t *testing.T) {
	agg := New(types.Group1)

	if agg == nil {
		t.Fatal("New() returned nil")
	}

	if agg.GetGrouping() != types.Group1 {
		t.Errorf("Expected grouping %d, got %d", types.Group1, agg.GetGrouping())
	}
}

func TestSetGetGrouping(t *testing.T) {
	agg := New(types.Group1)

	agg.SetGrouping(types.Group50)

	if agg.GetGrouping() != types.Group50 {
		t.Errorf("Expected grouping %d, got %d", types.Group50, agg.GetGrouping())
	}
}

func TestBucket(t *testing.T) {
	tests := []struct {
		name     string
		grouping types.Grouping
		price    string
		expected string
	}{
		{name: "Floor fraction grouping 1", grouping: types.Group1, price: "100.5", expected: "100"},
		{name: "Floor fraction grouping 1 low", grouping: types.Group1, price: "100.2", expected: "100"},
		{name: "Already aligned", grouping: types.Group1, price: "50000", expected: "50000"},
		{name: "Grouping 10", grouping: types.Group10, price: "50009.99", expected: "50000"},
		{name: "Grouping 20", grouping: types.Group20, price: "104219", expected: "104200"},
		{name: "Grouping 50", grouping: types.Group50, price: "104249.5", expected: "104200"},
		{name: "Grouping 1000", grouping: types.Group1000, price: "104999", expected: "104000"},
		{name: "Grouping 10000", grouping: types.Group10000, price: "104205", expected: "100000"},
		{name: "Below one grouping", grouping: types.Group100, price: "42.5", expected: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Bucket(decimal.RequireFromString(tt.price), tt.grouping)
			if !got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("Expected %s, got %s", tt.expected, got.String())
			}
		})
	}
}

func TestBucketBounds(t *testing.T) {
	prices := []string{"0.5", "1", "99.999", "100.2", "100.5", "3512.75", "104205.3", "67890.123456"}

	for _, g := range types.AvailableGroupings {
		step := g.Decimal()
		for _, p := range prices {
			price := decimal.RequireFromString(p)
			b := Bucket(price, g)
			if b.GreaterThan(price) {
				t.Errorf("bucket(%s,%d)=%s exceeds price", p, g, b)
			}
			if !price.LessThan(b.Add(step)) {
				t.Errorf("price %s not below bucket(%s,%d)+g=%s", p, p, g, b.Add(step))
			}
		}
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		grouping types.Grouping
		levels   []types.PriceLevel
		expected int
	}{
		{
			name:     "No aggregation needed - grouping 1",
			grouping: types.Group1,
			levels: []types.PriceLevel{
				{Price: decimal.NewFromFloat(50000.1), Size: decimal.NewFromFloat(1.0)},
				{Price: decimal.NewFromFloat(50001.2), Size: decimal.NewFromFloat(1.5)},
			},
			expected: 2,
		},
		{
			name:     "Aggregation needed - grouping 1",
			grouping: types.Group1,
			levels: []types.PriceLevel{
				{Price: decimal.NewFromFloat(50000.1), Size: decimal.NewFromFloat(1.0)},
				{Price: decimal.NewFromFloat(50000.9), Size: decimal.NewFromFloat(1.5)},
			},
			expected: 1,
		},
		{
			name:     "Aggregation needed - grouping 10",
			grouping: types.Group10,
			levels: []types.PriceLevel{
				{Price: decimal.NewFromFloat(50001), Size: decimal.NewFromFloat(1.0)},
				{Price: decimal.NewFromFloat(50005), Size: decimal.NewFromFloat(1.5)},
				{Price: decimal.NewFromFloat(50009), Size: decimal.NewFromFloat(2.0)},
			},
			expected: 1,
		},
		{
			name:     "Empty levels",
			grouping: types.Group1,
			levels:   []types.PriceLevel{},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := New(tt.grouping)
			result := agg.Aggregate(tt.levels)

			if len(result) != tt.expected {
				t.Errorf("Expected %d aggregated levels, got %d", tt.expected, len(result))
			}

			if len(result) == 1 && len(tt.levels) > 1 {
				expectedSize := decimal.Zero
				for _, level := range tt.levels {
					expectedSize = expectedSize.Add(level.Size)
				}

				if !result[0].Size.Equal(expectedSize) {
					t.Errorf("Expected aggregated size %s, got %s",
						expectedSize.String(), result[0].Size.String())
				}
			}
		})
	}
}

// Benchmarks

func BenchmarkAggregate(b *testing.B) {
	agg := New(types.Group10)

	levels := make([]types.PriceLevel, 1000)
	for i := 0; i < 1000; i++ {
		levels[i] = types.PriceLevel{
			Price: decimal.NewFromFloat(50000 - float64(i) + 0.5),
			Size:  decimal.NewFromFloat(1.0),
		}
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		agg.Aggregate(levels)
	}
}

func BenchmarkBucket(b *testing.B) {
	price := decimal.RequireFromString("104205.37")

	for i := 0; i < b.N; i++ {
		Bucket(price, types.Group50)
	}
}
