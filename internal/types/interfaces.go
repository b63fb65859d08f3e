package types

// PriceAggregator defines the interface for price bucketing
type PriceAggregator interface {
	// SetGrouping updates the grouping used for bucketing
	SetGrouping(g Grouping)

	// GetGrouping returns the current grouping
	GetGrouping() Grouping

	// Aggregate buckets levels and sums sizes sharing a grouped price
	Aggregate(levels []PriceLevel) []PriceLevel
}

// ViewSink receives every book view the engine produces
type ViewSink interface {
	// PublishView must not block the engine loop
	PublishView(view BookView)
}

// Controller accepts view-layer commands
type Controller interface {
	// SetGrouping resets the book and rebuckets with the new grouping
	SetGrouping(g Grouping) error

	// SetCoin switches the feed to another coin
	SetCoin(c Coin) error

	// View returns the latest book view
	View() BookView
}

// Display defines the interface for order book visualization
type Display interface {
	ViewSink

	// Run starts the display and blocks until it exits
	Run() error

	// Quit signals the display to quit
	Quit()
}
