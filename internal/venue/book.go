package venue

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"

	"github.com/gagliardetto/solana-go"
)

var (
	errOverflow  = errors.New("venue: amount overflow")
	errSelfTrade = errors.New("venue: order would trade against own resting order")
)

func mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, errOverflow
	}
	return lo, nil
}

func add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, errOverflow
	}
	return sum, nil
}

// Requirement returns the quote lots (bids) or base lots (asks) an order
// locks while it rests.
func Requirement(side Side, price, lots uint64) (quoteLots, baseLots uint64, err error) {
	if side == Bid {
		quoteLots, err = mul(lots, price)
		return quoteLots, 0, err
	}
	return 0, lots, nil
}

func validatePacket(p OrderPacket) error {
	if p.Side != Bid && p.Side != Ask {
		return fmt.Errorf("%w: side %d", ErrInvalidOrder, p.Side)
	}
	if p.NumBaseLots == 0 || p.PriceInTicks == 0 {
		return fmt.Errorf("%w: price %d lots %d", ErrInvalidOrder, p.PriceInTicks, p.NumBaseLots)
	}
	if p.SelfTradeBehavior > SelfTradeDecrementTake {
		return fmt.Errorf("%w: self trade behavior %d", ErrInvalidOrder, p.SelfTradeBehavior)
	}
	return nil
}

// seat returns the trader's state, registering it if there is a free seat.
func (m *Market) seat(trader solana.PublicKey) (*TraderState, error) {
	if st, ok := m.traders[trader]; ok {
		return st, nil
	}
	if uint64(len(m.traders)) >= m.Header.Size.NumSeats {
		return nil, ErrSeatsFull
	}
	st := &TraderState{}
	m.traders[trader] = st
	return st, nil
}

// place matches the packet against resting orders of other traders and rests
// whatever is left. The trader's free balance must already cover the order.
func (m *Market) place(trader solana.PublicKey, p OrderPacket) (PlaceResult, error) {
	if err := validatePacket(p); err != nil {
		return PlaceResult{}, err
	}
	st, err := m.seat(trader)
	if err != nil {
		return PlaceResult{}, err
	}
	quoteNeed, baseNeed, err := Requirement(p.Side, p.PriceInTicks, p.NumBaseLots)
	if err != nil {
		return PlaceResult{}, err
	}
	if st.QuoteLotsFree < quoteNeed || st.BaseLotsFree < baseNeed {
		return PlaceResult{}, fmt.Errorf("%w: need %d quote %d base lots, free %d quote %d base lots",
			ErrInsufficientFunds, quoteNeed, baseNeed, st.QuoteLotsFree, st.BaseLotsFree)
	}
	st.QuoteLotsFree -= quoteNeed
	st.QuoteLotsLocked += quoteNeed
	st.BaseLotsFree -= baseNeed
	st.BaseLotsLocked += baseNeed

	remaining := p.NumBaseLots
	var filled uint64
	for remaining > 0 {
		opp := m.opposite(p.Side)
		if len(*opp) == 0 || !crosses(p.Side, p.PriceInTicks, (*opp)[0].PriceInTicks) {
			break
		}
		resting := &(*opp)[0]
		q := min(remaining, resting.BaseLots)
		if resting.Trader == trader {
			switch p.SelfTradeBehavior {
			case SelfTradeCancelProvide:
				if err := m.release(st, *resting); err != nil {
					return PlaceResult{}, err
				}
				*opp = (*opp)[1:]
				continue
			case SelfTradeDecrementTake:
				if err := m.releasePartial(st, *resting, q); err != nil {
					return PlaceResult{}, err
				}
				if err := m.releaseIncoming(st, p, q); err != nil {
					return PlaceResult{}, err
				}
				remaining -= q
				resting.BaseLots -= q
				if resting.BaseLots == 0 {
					*opp = (*opp)[1:]
				}
				continue
			default:
				return PlaceResult{}, errSelfTrade
			}
		}
		if err := m.fill(st, p, *resting, q); err != nil {
			return PlaceResult{}, err
		}
		remaining -= q
		filled += q
		resting.BaseLots -= q
		if resting.BaseLots == 0 {
			*opp = (*opp)[1:]
		}
	}

	m.sequence++
	res := PlaceResult{Placed: true, Sequence: m.sequence, FilledLots: filled, RestingLots: remaining}
	if remaining == 0 {
		return res, nil
	}
	book, limit := &m.bids, m.Header.Size.BidsSize
	if p.Side == Ask {
		book, limit = &m.asks, m.Header.Size.AsksSize
	}
	if uint64(len(*book)) >= limit {
		return PlaceResult{}, ErrBookFull
	}
	order := Order{
		Trader:       trader,
		Side:         p.Side,
		PriceInTicks: p.PriceInTicks,
		BaseLots:     remaining,
		Sequence:     m.sequence,
	}
	p.ClientOrderID.PutBytes(order.ClientOrderID[:])
	insert(book, order)
	return res, nil
}

func (m *Market) opposite(side Side) *[]Order {
	if side == Bid {
		return &m.asks
	}
	return &m.bids
}

func crosses(side Side, price, resting uint64) bool {
	if side == Bid {
		return resting <= price
	}
	return resting >= price
}

// fill trades q lots between the incoming order and a resting order at the
// resting price.
func (m *Market) fill(taker *TraderState, p OrderPacket, resting Order, q uint64) error {
	maker := m.traders[resting.Trader]
	if maker == nil {
		return fmt.Errorf("%w: resting order without trader", ErrInvalidMarket)
	}
	atMaker, err := mul(q, resting.PriceInTicks)
	if err != nil {
		return err
	}
	if p.Side == Bid {
		atLimit, err := mul(q, p.PriceInTicks)
		if err != nil {
			return err
		}
		taker.QuoteLotsLocked -= atLimit
		if taker.QuoteLotsFree, err = add(taker.QuoteLotsFree, atLimit-atMaker); err != nil {
			return err
		}
		if taker.BaseLotsFree, err = add(taker.BaseLotsFree, q); err != nil {
			return err
		}
		maker.BaseLotsLocked -= q
		maker.QuoteLotsFree, err = add(maker.QuoteLotsFree, atMaker)
		return err
	}
	taker.BaseLotsLocked -= q
	if taker.QuoteLotsFree, err = add(taker.QuoteLotsFree, atMaker); err != nil {
		return err
	}
	maker.QuoteLotsLocked -= atMaker
	maker.BaseLotsFree, err = add(maker.BaseLotsFree, q)
	return err
}

// release unlocks everything a resting order holds back into free balance.
func (m *Market) release(st *TraderState, o Order) error {
	return m.releasePartial(st, o, o.BaseLots)
}

func (m *Market) releasePartial(st *TraderState, o Order, lots uint64) error {
	quote, base, err := Requirement(o.Side, o.PriceInTicks, lots)
	if err != nil {
		return err
	}
	st.QuoteLotsLocked -= quote
	st.QuoteLotsFree += quote
	st.BaseLotsLocked -= base
	st.BaseLotsFree += base
	return nil
}

func (m *Market) releaseIncoming(st *TraderState, p OrderPacket, lots uint64) error {
	return m.releasePartial(st, Order{Side: p.Side, PriceInTicks: p.PriceInTicks}, lots)
}

func insert(book *[]Order, o Order) {
	orders := *book
	i := sort.Search(len(orders), func(i int) bool {
		if o.Side == Bid {
			return orders[i].PriceInTicks < o.PriceInTicks
		}
		return orders[i].PriceInTicks > o.PriceInTicks
	})
	orders = append(orders, Order{})
	copy(orders[i+1:], orders[i:])
	orders[i] = o
	*book = orders
}

// cancelAll removes every resting order of trader and frees what they locked.
func (m *Market) cancelAll(trader solana.PublicKey) (int, error) {
	st, ok := m.traders[trader]
	if !ok {
		return 0, nil
	}
	cancelled := 0
	for _, book := range []*[]Order{&m.bids, &m.asks} {
		kept := (*book)[:0]
		for _, o := range *book {
			if o.Trader != trader {
				kept = append(kept, o)
				continue
			}
			if err := m.release(st, o); err != nil {
				return 0, err
			}
			cancelled++
		}
		*book = kept
	}
	return cancelled, nil
}

func (m *Market) replaceReference(book Ladder) {
	m.refBids = clipLevels(book.Bids, m.Header.Size.BidsSize)
	m.refAsks = clipLevels(book.Asks, m.Header.Size.AsksSize)
}

func clipLevels(levels []LadderLevel, limit uint64) []LadderLevel {
	out := make([]LadderLevel, 0, len(levels))
	for _, l := range levels {
		if l.PriceInTicks == 0 || l.SizeInBaseLots == 0 {
			continue
		}
		if uint64(len(out)) >= limit {
			break
		}
		out = append(out, l)
	}
	return out
}
