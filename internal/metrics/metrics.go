package metrics

type Counter interface {
	Inc()
}

// Metrics counts operator-side outcomes of position operations. Failures are
// counted per error kind through FailedOperation.
type Metrics struct {
	PositionsOpened  Counter
	PositionsUnwound Counter
	Rebalances       Counter
	OrdersPlaced     Counter
	OrdersSkipped    Counter
	FeedReconnects   Counter
	FailedOperation  func(op, kind string) Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		PositionsOpened:  n,
		PositionsUnwound: n,
		Rebalances:       n,
		OrdersPlaced:     n,
		OrdersSkipped:    n,
		FeedReconnects:   n,
		FailedOperation:  func(string, string) Counter { return n },
	}
}
