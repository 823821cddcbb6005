package app

import (
	"context"
	"fmt"
	"strings"

	"px-position-manager/internal/paper"
	"px-position-manager/internal/venue"

	"github.com/gagliardetto/solana-go"
)

const statusDepth = 3

// Status is a read-only view of the owner's position and the market around
// it.
type Status struct {
	ProgramID    solana.PublicKey
	Owner        solana.PublicKey
	Market       solana.PublicKey
	Position     solana.PublicKey
	Open         bool
	SpreadMargin uint64
	Paused       bool
	HasSeat      bool
	Trader       venue.TraderState
	Orders       []venue.Order
	OwnerBase    uint64
	OwnerQuote   uint64
	BaseEscrow   uint64
	QuoteEscrow  uint64
	Ladder       venue.Ladder
	Scale        paper.Scale
}

func (a *App) Status(ctx context.Context) (Status, error) {
	t, err := a.target()
	if err != nil {
		return Status{}, err
	}
	addrs, err := t.Derive()
	if err != nil {
		return Status{}, err
	}
	s := Status{
		ProgramID: a.programID,
		Owner:     t.Owner,
		Market:    t.Market,
		Position:  addrs.Position,
		Paused:    a.isPaused(),
		Scale:     a.env.Scale(),
	}
	rec, ok, err := a.positionRecord(ctx)
	if err != nil {
		return Status{}, err
	}
	s.Open = ok && rec.IsInitialized()
	s.SpreadMargin = rec.SpreadMargin

	m, err := a.env.LoadMarket(ctx, a.bank)
	if err != nil {
		return Status{}, err
	}
	s.Trader, s.HasSeat = m.TraderState(addrs.Position)
	s.Orders = m.Orders(addrs.Position)
	s.Ladder = m.Ladder(statusDepth)

	balances := []struct {
		dst *uint64
		key solana.PublicKey
	}{
		{&s.OwnerBase, t.OwnerBase},
		{&s.OwnerQuote, t.OwnerQuote},
		{&s.BaseEscrow, addrs.BaseEscrow},
		{&s.QuoteEscrow, addrs.QuoteEscrow},
	}
	for _, b := range balances {
		if *b.dst, err = paper.TokenBalance(ctx, a.bank, b.key); err != nil {
			return Status{}, fmt.Errorf("balance %s: %w", b.key, err)
		}
	}
	return s, nil
}

// String renders prices and sizes in whole tokens.
func (s Status) String() string {
	sc := s.Scale
	lines := []string{
		fmt.Sprintf("program: %s", s.ProgramID),
		fmt.Sprintf("owner: %s", s.Owner),
		fmt.Sprintf("market: %s", s.Market),
		fmt.Sprintf("position: %s", s.Position),
		fmt.Sprintf("open: %t", s.Open),
		fmt.Sprintf("paused: %t", s.Paused),
	}
	if s.Open {
		lines = append(lines, fmt.Sprintf("spread_margin: %d%%", s.SpreadMargin))
	}
	lines = append(lines,
		fmt.Sprintf("owner_base: %s", sc.BaseAtoms(s.OwnerBase)),
		fmt.Sprintf("owner_quote: %s", sc.QuoteAtoms(s.OwnerQuote)),
	)
	if s.BaseEscrow > 0 || s.QuoteEscrow > 0 {
		lines = append(lines, fmt.Sprintf("escrow: base %s quote %s", sc.BaseAtoms(s.BaseEscrow), sc.QuoteAtoms(s.QuoteEscrow)))
	}
	if s.HasSeat {
		tr := s.Trader
		// Quote lots are quote atoms.
		lines = append(lines, fmt.Sprintf("seat: base free %s locked %s, quote free %s locked %s",
			sc.LotsToSize(tr.BaseLotsFree), sc.LotsToSize(tr.BaseLotsLocked), sc.QuoteAtoms(tr.QuoteLotsFree), sc.QuoteAtoms(tr.QuoteLotsLocked)))
	}
	for _, o := range s.Orders {
		lines = append(lines, fmt.Sprintf("order: %s %s @ %s (seq %d)", o.Side, sc.LotsToSize(o.BaseLots), sc.TicksToPrice(o.PriceInTicks), o.Sequence))
	}
	lines = append(lines, "book:")
	for i := len(s.Ladder.Asks) - 1; i >= 0; i-- {
		l := s.Ladder.Asks[i]
		lines = append(lines, fmt.Sprintf("  ask %s x %s", sc.TicksToPrice(l.PriceInTicks), sc.LotsToSize(l.SizeInBaseLots)))
	}
	for _, l := range s.Ladder.Bids {
		lines = append(lines, fmt.Sprintf("  bid %s x %s", sc.TicksToPrice(l.PriceInTicks), sc.LotsToSize(l.SizeInBaseLots)))
	}
	return strings.Join(lines, "\n")
}
