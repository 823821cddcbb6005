package pricing

import (
	"errors"
	"math"
	"testing"

	"px-position-manager/internal/programerr"
	"px-position-manager/internal/venue"
)

type staticBook struct {
	ladder venue.Ladder
	lot    uint64
}

func (b staticBook) Ladder(depth int) venue.Ladder {
	out := b.ladder
	if len(out.Bids) > depth {
		out.Bids = out.Bids[:depth]
	}
	if len(out.Asks) > depth {
		out.Asks = out.Asks[:depth]
	}
	return out
}

func (b staticBook) BaseAtomsPerBaseLot() uint64 { return b.lot }

func book(bid, ask uint64) staticBook {
	return staticBook{
		ladder: venue.Ladder{
			Bids: []venue.LadderLevel{{PriceInTicks: bid, SizeInBaseLots: 1}, {PriceInTicks: bid - 1, SizeInBaseLots: 1}},
			Asks: []venue.LadderLevel{{PriceInTicks: ask, SizeInBaseLots: 1}},
		},
		lot: 1000,
	}
}

func TestMidPriceFloors(t *testing.T) {
	cases := []struct {
		bid, ask, want uint64
	}{
		{100, 102, 101},
		{100, 101, 100},
		{1, 2, 1},
		{7, 7, 7},
	}
	for _, tc := range cases {
		got, err := MidPrice(tc.bid, tc.ask)
		if err != nil {
			t.Fatalf("mid(%d,%d): %v", tc.bid, tc.ask, err)
		}
		if got != tc.want {
			t.Fatalf("mid(%d,%d) = %d, want %d", tc.bid, tc.ask, got, tc.want)
		}
	}
	if _, err := MidPrice(math.MaxUint64, 1); !errors.Is(err, programerr.ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestQuotePricesTruncation(t *testing.T) {
	cases := []struct {
		name          string
		mid, margin   uint64
		wantBid, want uint64
	}{
		{"m1 even", 1000, 1, 990, 1010},
		{"m1 odd", 999, 1, 989, 1008},
		{"m1 small", 99, 1, 98, 99},
		{"m100 even", 1000, 100, 0, 2000},
		{"m100 odd", 999, 100, 0, 1998},
		{"m50 odd", 101, 50, 50, 151},
		{"m3 odd", 33, 3, 32, 33},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bid, ask, err := QuotePrices(tc.mid, tc.margin)
			if err != nil {
				t.Fatalf("quote prices: %v", err)
			}
			if bid != tc.wantBid || ask != tc.want {
				t.Fatalf("got bid=%d ask=%d, want bid=%d ask=%d", bid, ask, tc.wantBid, tc.want)
			}
			if bid != tc.mid*(100-tc.margin)/100 || ask != tc.mid*(100+tc.margin)/100 {
				t.Fatalf("expected multiply-then-divide rounding")
			}
		})
	}
	if _, _, err := QuotePrices(math.MaxUint64/100, 50); !errors.Is(err, programerr.ErrArithmeticOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestComputeQuote(t *testing.T) {
	q, err := Compute(book(99, 103), 10, 5)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if q.Mid != 101 || q.Bid != 90 || q.Ask != 111 {
		t.Fatalf("unexpected prices: %+v", q)
	}
	if q.QuoteToFund != 450 || q.BaseToFund != 5000 {
		t.Fatalf("unexpected funding: %+v", q)
	}
}

func TestComputeRejectsOneSidedBook(t *testing.T) {
	oneSided := book(99, 103)
	oneSided.ladder.Asks = nil
	if _, err := Compute(oneSided, 10, 1); !errors.Is(err, ErrEmptyBook) {
		t.Fatalf("expected ErrEmptyBook, got %v", err)
	}
	oneSided = book(99, 103)
	oneSided.ladder.Bids = nil
	if _, err := Compute(oneSided, 10, 1); !errors.Is(err, ErrEmptyBook) {
		t.Fatalf("expected ErrEmptyBook, got %v", err)
	}
}

func TestBidLotsForQuote(t *testing.T) {
	if got := BidLotsForQuote(1000, 90); got != 11 {
		t.Fatalf("expected 11 lots, got %d", got)
	}
	if got := BidLotsForQuote(89, 90); got != 0 {
		t.Fatalf("expected 0 lots, got %d", got)
	}
	if got := BidLotsForQuote(1000, 0); got != 0 {
		t.Fatalf("expected 0 lots for zero bid, got %d", got)
	}
}
