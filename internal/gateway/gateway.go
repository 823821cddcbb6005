// Package gateway issues the position's calls into the venue. Every call is
// signed with the position authority rather than a key.
package gateway

import (
	"errors"
	"fmt"

	"px-position-manager/internal/position"
	"px-position-manager/internal/programerr"
	"px-position-manager/internal/venue"

	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"
)

// Invoker performs a signed call into another program.
type Invoker interface {
	InvokeSigned(ix solana.Instruction, signerSeeds ...[][]byte) error
	ReturnData() (solana.PublicKey, []byte)
}

// Accounts are the venue-facing accounts of one position.
type Accounts struct {
	Market      solana.PublicKey
	BaseMint    solana.PublicKey
	QuoteMint   solana.PublicKey
	BaseEscrow  solana.PublicKey
	QuoteEscrow solana.PublicKey
}

type Gateway struct {
	invoker   Invoker
	authority position.Authority
	trader    solana.PublicKey
	accounts  Accounts
}

// New returns a gateway trading as trader, the address authority signs for.
func New(invoker Invoker, authority position.Authority, trader solana.PublicKey, accounts Accounts) *Gateway {
	return &Gateway{invoker: invoker, authority: authority, trader: trader, accounts: accounts}
}

func (g *Gateway) CancelAll() error {
	ix := venue.NewCancelAllOrdersWithFreeFundsInstruction(g.accounts.Market, g.trader)
	if err := g.invoker.InvokeSigned(ix, g.authority.Seeds()); err != nil {
		return fmt.Errorf("%w: cancel all: %w", programerr.ErrVenue, err)
	}
	return nil
}

// Withdraw moves every free balance at the venue into the escrow accounts.
func (g *Gateway) Withdraw() error {
	ix, err := venue.NewWithdrawFundsInstruction(g.accounts.Market, g.trader, g.accounts.BaseEscrow, g.accounts.QuoteEscrow, g.accounts.BaseMint, g.accounts.QuoteMint)
	if err != nil {
		return err
	}
	if err := g.invoker.InvokeSigned(ix, g.authority.Seeds()); err != nil {
		return fmt.Errorf("%w: withdraw: %w", programerr.ErrVenue, err)
	}
	return nil
}

// PlaceLimitOrder rests an order funded from the escrow accounts. Any venue
// failure, including insufficient funds, is returned.
func (g *Gateway) PlaceLimitOrder(side venue.Side, price, lots uint64, clientOrderID uint128.Uint128) error {
	packet := venue.NewLimitOrderPacket(side, price, lots, venue.SelfTradeCancelProvide, clientOrderID)
	ix, err := venue.NewPlaceLimitOrderInstruction(g.accounts.Market, g.trader, g.accounts.BaseEscrow, g.accounts.QuoteEscrow, g.accounts.BaseMint, g.accounts.QuoteMint, packet)
	if err != nil {
		return err
	}
	if err := g.invoker.InvokeSigned(ix, g.authority.Seeds()); err != nil {
		return fmt.Errorf("%w: place %s: %w", programerr.ErrVenue, side, err)
	}
	return nil
}

// PlaceLimitOrderWithFreeFunds rests an order funded only by balances already
// free at the venue. When those do not cover the order nothing is placed and
// no error is returned.
func (g *Gateway) PlaceLimitOrderWithFreeFunds(side venue.Side, price, lots uint64, clientOrderID uint128.Uint128) (bool, error) {
	packet := venue.NewLimitOrderPacket(side, price, lots, venue.SelfTradeCancelProvide, clientOrderID)
	packet.UseOnlyDepositedFunds = true
	packet.FailSilentlyOnInsufficientFunds = true
	ix, err := venue.NewPlaceLimitOrderWithFreeFundsInstruction(g.accounts.Market, g.trader, packet)
	if err != nil {
		return false, err
	}
	if err := g.invoker.InvokeSigned(ix, g.authority.Seeds()); err != nil {
		if errors.Is(err, venue.ErrInsufficientFunds) {
			return false, nil
		}
		return false, fmt.Errorf("%w: place %s with free funds: %w", programerr.ErrVenue, side, err)
	}
	programID, data := g.invoker.ReturnData()
	if programID != venue.ProgramID || len(data) == 0 {
		return false, fmt.Errorf("%w: place %s with free funds: no result", programerr.ErrVenue, side)
	}
	res, err := venue.DecodePlaceResult(data)
	if err != nil {
		return false, fmt.Errorf("%w: %w", programerr.ErrVenue, err)
	}
	return res.Placed, nil
}
