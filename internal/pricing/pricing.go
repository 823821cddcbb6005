// Package pricing turns the venue's top of book into quote prices and the
// amounts needed to fund them.
package pricing

import (
	"errors"
	"fmt"
	"math/bits"

	"px-position-manager/internal/programerr"
	"px-position-manager/internal/venue"
)

var ErrEmptyBook = errors.New("order book has no resting bid or no resting ask")

// Book is the read side of a venue market.
type Book interface {
	Ladder(depth int) venue.Ladder
	BaseAtomsPerBaseLot() uint64
}

// Quote is the pricing of one operation. Prices are in ticks; QuoteToFund is
// in quote atoms and BaseToFund in base atoms.
type Quote struct {
	BestBid     uint64
	BestAsk     uint64
	Mid         uint64
	Bid         uint64
	Ask         uint64
	QuoteToFund uint64
	BaseToFund  uint64
}

// Load decodes a market account into a Book.
func Load(data []byte) (*venue.Market, error) {
	m, err := venue.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%w: market: %v", programerr.ErrInvalidAccountData, err)
	}
	return m, nil
}

// MidPrice is the floor of the average of the best bid and best ask.
func MidPrice(bestBid, bestAsk uint64) (uint64, error) {
	sum, carry := bits.Add64(bestBid, bestAsk, 0)
	if carry != 0 {
		return 0, programerr.ErrArithmeticOverflow
	}
	return sum / 2, nil
}

// QuotePrices places the bid and the ask spreadMargin percent away from mid.
// Both multiply before dividing by 100; the rounding this produces is part of
// the contract.
func QuotePrices(mid, spreadMargin uint64) (bid, ask uint64, err error) {
	if spreadMargin > 100 {
		return 0, 0, fmt.Errorf("%w: spread margin %d", programerr.ErrInvalidInstructionData, spreadMargin)
	}
	bidNum, err := mulChecked(mid, 100-spreadMargin)
	if err != nil {
		return 0, 0, err
	}
	askNum, err := mulChecked(mid, 100+spreadMargin)
	if err != nil {
		return 0, 0, err
	}
	return bidNum / 100, askNum / 100, nil
}

// Compute prices an operation of baseLots lots against the top of book.
func Compute(book Book, spreadMargin, baseLots uint64) (Quote, error) {
	ladder := book.Ladder(1)
	if len(ladder.Bids) == 0 || len(ladder.Asks) == 0 {
		return Quote{}, fmt.Errorf("%w: %w", programerr.ErrVenue, ErrEmptyBook)
	}
	q := Quote{BestBid: ladder.Bids[0].PriceInTicks, BestAsk: ladder.Asks[0].PriceInTicks}
	var err error
	if q.Mid, err = MidPrice(q.BestBid, q.BestAsk); err != nil {
		return Quote{}, err
	}
	if q.Bid, q.Ask, err = QuotePrices(q.Mid, spreadMargin); err != nil {
		return Quote{}, err
	}
	if q.QuoteToFund, err = mulChecked(baseLots, q.Bid); err != nil {
		return Quote{}, err
	}
	if q.BaseToFund, err = mulChecked(baseLots, book.BaseAtomsPerBaseLot()); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// BidLotsForQuote is how many lots a free quote balance buys at bid, rounded
// down. A zero bid buys nothing.
func BidLotsForQuote(freeQuote, bid uint64) uint64 {
	if bid == 0 {
		return 0
	}
	return freeQuote / bid
}

func mulChecked(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, programerr.ErrArithmeticOverflow
	}
	return lo, nil
}
