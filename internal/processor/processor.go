// Package processor is the position program: it validates accounts, then
// sequences the escrow orchestrator, the pricing engine and the venue
// gateway for Open, Rebalance and Unwind.
package processor

import (
	"errors"
	"fmt"

	"px-position-manager/internal/escrow"
	"px-position-manager/internal/gateway"
	"px-position-manager/internal/instruction"
	"px-position-manager/internal/ledger"
	"px-position-manager/internal/position"
	"px-position-manager/internal/pricing"
	"px-position-manager/internal/programerr"
	"px-position-manager/internal/venue"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"lukechampine.com/uint128"
)

type Program struct {
	id solana.PublicKey
}

func New(id solana.PublicKey) Program {
	return Program{id: id}
}

func (p Program) ID() solana.PublicKey {
	return p.id
}

func (p Program) Process(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error {
	cmd, err := instruction.Unpack(data)
	if err != nil {
		return err
	}
	switch c := cmd.(type) {
	case instruction.Open:
		return p.open(ic, accounts, c)
	case instruction.Rebalance:
		return p.rebalance(ic, accounts, c)
	case instruction.Unwind:
		return p.unwind(ic, accounts)
	default:
		return fmt.Errorf("%w: %s", programerr.ErrInvalidInstructionData, cmd.Tag())
	}
}

func sideFromWire(tag uint8) (venue.Side, bool) {
	switch tag {
	case instruction.SideBid:
		return venue.Bid, true
	case instruction.SideAsk:
		return venue.Ask, true
	}
	return 0, false
}

type openAccounts struct {
	venueProgram, logAuthority, market, owner, seat, position        *ledger.AccountInfo
	baseEscrow, quoteEscrow, baseVault, quoteVault, baseMint, quoteMint *ledger.AccountInfo
	ownerBase, ownerQuote, tokenProgram, systemProgram                  *ledger.AccountInfo
}

func (p Program) open(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, cmd instruction.Open) error {
	log := ic.Log()
	log.Info("create position")
	side, ok := sideFromWire(cmd.Side)
	if !ok {
		log.Warn("invalid side", zap.Uint8("side", cmd.Side))
		return fmt.Errorf("%w: side %d", programerr.ErrInvalidInstructionData, cmd.Side)
	}
	if cmd.SpreadMargin == 0 || cmd.SpreadMargin > 100 {
		log.Warn("invalid spread margin", zap.Uint64("spread_margin", cmd.SpreadMargin))
		return fmt.Errorf("%w: spread margin %d", programerr.ErrInvalidInstructionData, cmd.SpreadMargin)
	}

	var a openAccounts
	it := &accountIter{accounts: accounts}
	if err := takeAll(it,
		&a.venueProgram, &a.logAuthority, &a.market, &a.owner, &a.seat, &a.position,
		&a.baseEscrow, &a.quoteEscrow, &a.baseVault, &a.quoteVault, &a.baseMint, &a.quoteMint,
		&a.ownerBase, &a.ownerQuote, &a.tokenProgram, &a.systemProgram,
	); err != nil {
		return err
	}
	if err := checkVenueProgram(a.venueProgram); err != nil {
		return err
	}
	if err := checkOwnerSigner(a.owner); err != nil {
		return err
	}
	if err := checkWritable(a.market, a.position, a.baseEscrow, a.quoteEscrow, a.baseVault, a.quoteVault, a.ownerBase, a.ownerQuote); err != nil {
		return err
	}
	if err := checkMarket(a.market); err != nil {
		return err
	}
	if err := checkSystemProgram(a.systemProgram); err != nil {
		return err
	}
	if err := checkTokenProgram(a.tokenProgram); err != nil {
		return err
	}
	owner := a.owner.Key
	if err := checkTokenAccount(a.ownerBase, owner, a.baseMint.Key, "owner base account"); err != nil {
		return err
	}
	if err := checkTokenAccount(a.ownerQuote, owner, a.quoteMint.Key, "owner quote account"); err != nil {
		return err
	}
	if err := checkTokenAccount(a.baseVault, solana.PublicKey{}, a.baseMint.Key, "base vault"); err != nil {
		return err
	}
	if err := checkTokenAccount(a.quoteVault, solana.PublicKey{}, a.quoteMint.Key, "quote vault"); err != nil {
		return err
	}

	auth, positionAddr, err := position.NewAuthority(p.id, owner, a.market.Key)
	if err != nil {
		return err
	}
	if err := expectKey(a.position, positionAddr, "position"); err != nil {
		return err
	}
	baseSigner, baseAddr, err := position.NewEscrowSigner(p.id, positionAddr, a.baseMint.Key, position.BaseToken)
	if err != nil {
		return err
	}
	if err := expectKey(a.baseEscrow, baseAddr, "base escrow"); err != nil {
		return err
	}
	quoteSigner, quoteAddr, err := position.NewEscrowSigner(p.id, positionAddr, a.quoteMint.Key, position.QuoteToken)
	if err != nil {
		return err
	}
	if err := expectKey(a.quoteEscrow, quoteAddr, "quote escrow"); err != nil {
		return err
	}

	orch := escrow.New(ic, escrow.Accounts{
		Owner:       a.owner,
		Position:    a.position,
		BaseEscrow:  a.baseEscrow,
		QuoteEscrow: a.quoteEscrow,
		OwnerBase:   a.ownerBase,
		OwnerQuote:  a.ownerQuote,
		BaseMint:    a.baseMint.Key,
		QuoteMint:   a.quoteMint.Key,
	}, auth, baseSigner, quoteSigner)
	if err := orch.CreatePositionRecord(cmd.SpreadMargin); err != nil {
		return err
	}
	if err := orch.CreateEscrowAccounts(); err != nil {
		return err
	}

	book, err := pricing.Load(a.market.Data)
	if err != nil {
		return err
	}
	q, err := pricing.Compute(book, cmd.SpreadMargin, cmd.BaseLots)
	if err != nil {
		return fmt.Errorf("price position: %w", err)
	}
	log.Info("position priced",
		zap.Stringer("side", side),
		zap.Uint64("mid", q.Mid),
		zap.Uint64("bid", q.Bid),
		zap.Uint64("ask", q.Ask),
		zap.Uint64("base_lots", cmd.BaseLots),
	)
	if err := orch.FundSide(side, q); err != nil {
		return err
	}

	gw := gateway.New(ic, auth, positionAddr, gateway.Accounts{
		Market:      a.market.Key,
		BaseMint:    a.baseMint.Key,
		QuoteMint:   a.quoteMint.Key,
		BaseEscrow:  a.baseEscrow.Key,
		QuoteEscrow: a.quoteEscrow.Key,
	})
	price := q.Bid
	if side == venue.Ask {
		price = q.Ask
	}
	log.Info("place limit order", zap.Stringer("side", side), zap.Uint64("price", price))
	return gw.PlaceLimitOrder(side, price, cmd.BaseLots, cmd.ClientOrderID)
}

func (p Program) rebalance(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, cmd instruction.Rebalance) error {
	log := ic.Log()
	var venueProgram, logAuthority, marketInfo, owner, seat, positionInfo, systemProgram *ledger.AccountInfo
	it := &accountIter{accounts: accounts}
	if err := takeAll(it, &venueProgram, &logAuthority, &marketInfo, &owner, &seat, &positionInfo, &systemProgram); err != nil {
		return err
	}
	if err := checkVenueProgram(venueProgram); err != nil {
		return err
	}
	if err := checkWritable(marketInfo, positionInfo); err != nil {
		return err
	}
	if err := checkMarket(marketInfo); err != nil {
		return err
	}
	if err := checkSystemProgram(systemProgram); err != nil {
		return err
	}

	auth, positionAddr, err := position.NewAuthority(p.id, owner.Key, marketInfo.Key)
	if err != nil {
		return err
	}
	if err := expectKey(positionInfo, positionAddr, "position"); err != nil {
		return err
	}
	if positionInfo.Owner != p.id {
		return programerr.ErrPositionNotInitialized
	}
	rec, err := position.Unpack(positionInfo.Data)
	if err != nil {
		if errors.Is(err, position.ErrRecordTooShort) {
			return programerr.ErrPositionNotInitialized
		}
		return fmt.Errorf("%w: %v", programerr.ErrInvalidAccountData, err)
	}
	if !rec.IsInitialized() {
		return programerr.ErrPositionNotInitialized
	}

	book, err := pricing.Load(marketInfo.Data)
	if err != nil {
		return err
	}
	trader, _ := book.TraderState(positionAddr)
	if trader.QuoteLotsFree == 0 && trader.BaseLotsFree == 0 {
		log.Info("nothing to rebalance", zap.Stringer("position", positionAddr))
		ic.SetReturnData(instruction.PackRebalanceResult(instruction.RebalanceResult{}))
		return nil
	}
	q, err := pricing.Compute(book, rec.SpreadMargin, 0)
	if err != nil {
		return fmt.Errorf("price rebalance: %w", err)
	}

	gw := gateway.New(ic, auth, positionAddr, gateway.Accounts{Market: marketInfo.Key})
	log.Info("place limit orders with free funds",
		zap.Uint64("free_quote", trader.QuoteLotsFree),
		zap.Uint64("free_base_lots", trader.BaseLotsFree),
		zap.Uint64("bid", q.Bid),
		zap.Uint64("ask", q.Ask),
	)
	var res instruction.RebalanceResult
	if trader.QuoteLotsFree > 0 {
		if lots := pricing.BidLotsForQuote(trader.QuoteLotsFree, q.Bid); lots > 0 {
			if res.BidPlaced, err = placeFree(log, gw, venue.Bid, q.Bid, lots, cmd.ClientOrderID); err != nil {
				return err
			}
		}
	}
	if trader.BaseLotsFree > 0 {
		if res.AskPlaced, err = placeFree(log, gw, venue.Ask, q.Ask, trader.BaseLotsFree, cmd.ClientOrderID); err != nil {
			return err
		}
	}
	ic.SetReturnData(instruction.PackRebalanceResult(res))
	return nil
}

func placeFree(log *zap.Logger, gw *gateway.Gateway, side venue.Side, price, lots uint64, clientOrderID uint128.Uint128) (bool, error) {
	placed, err := gw.PlaceLimitOrderWithFreeFunds(side, price, lots, clientOrderID)
	if err != nil {
		return false, err
	}
	if !placed {
		log.Info("order skipped", zap.Stringer("side", side), zap.Uint64("lots", lots))
	}
	return placed, nil
}

func (p Program) unwind(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo) error {
	log := ic.Log()
	log.Info("cancel position")
	var venueProgram, logAuthority, marketInfo, owner, positionInfo *ledger.AccountInfo
	var baseEscrow, quoteEscrow, baseVault, quoteVault, ownerBase, ownerQuote *ledger.AccountInfo
	var baseMint, quoteMint, tokenProgram, systemProgram *ledger.AccountInfo
	it := &accountIter{accounts: accounts}
	if err := takeAll(it,
		&venueProgram, &logAuthority, &marketInfo, &owner, &positionInfo,
		&baseEscrow, &quoteEscrow, &baseVault, &quoteVault, &ownerBase, &ownerQuote,
		&baseMint, &quoteMint, &tokenProgram, &systemProgram,
	); err != nil {
		return err
	}
	if err := checkVenueProgram(venueProgram); err != nil {
		return err
	}
	if err := checkOwnerSigner(owner); err != nil {
		return err
	}
	if err := checkWritable(marketInfo, positionInfo, baseEscrow, quoteEscrow, baseVault, quoteVault, ownerBase, ownerQuote); err != nil {
		return err
	}
	if err := checkMarket(marketInfo); err != nil {
		return err
	}
	if err := checkSystemProgram(systemProgram); err != nil {
		return err
	}
	if err := checkTokenProgram(tokenProgram); err != nil {
		return err
	}
	if err := checkTokenAccount(ownerBase, owner.Key, baseMint.Key, "owner base account"); err != nil {
		return err
	}
	if err := checkTokenAccount(ownerQuote, owner.Key, quoteMint.Key, "owner quote account"); err != nil {
		return err
	}
	if err := checkTokenAccount(baseVault, solana.PublicKey{}, baseMint.Key, "base vault"); err != nil {
		return err
	}
	if err := checkTokenAccount(quoteVault, solana.PublicKey{}, quoteMint.Key, "quote vault"); err != nil {
		return err
	}

	auth, positionAddr, err := position.NewAuthority(p.id, owner.Key, marketInfo.Key)
	if err != nil {
		return err
	}
	if err := expectKey(positionInfo, positionAddr, "position"); err != nil {
		return err
	}
	baseSigner, baseAddr, err := position.NewEscrowSigner(p.id, positionAddr, baseMint.Key, position.BaseToken)
	if err != nil {
		return err
	}
	if err := expectKey(baseEscrow, baseAddr, "base escrow"); err != nil {
		return err
	}
	quoteSigner, quoteAddr, err := position.NewEscrowSigner(p.id, positionAddr, quoteMint.Key, position.QuoteToken)
	if err != nil {
		return err
	}
	if err := expectKey(quoteEscrow, quoteAddr, "quote escrow"); err != nil {
		return err
	}

	gw := gateway.New(ic, auth, positionAddr, gateway.Accounts{
		Market:      marketInfo.Key,
		BaseMint:    baseMint.Key,
		QuoteMint:   quoteMint.Key,
		BaseEscrow:  baseEscrow.Key,
		QuoteEscrow: quoteEscrow.Key,
	})
	if err := gw.CancelAll(); err != nil {
		return err
	}
	if err := gw.Withdraw(); err != nil {
		return err
	}
	orch := escrow.New(ic, escrow.Accounts{
		Owner:       owner,
		Position:    positionInfo,
		BaseEscrow:  baseEscrow,
		QuoteEscrow: quoteEscrow,
		OwnerBase:   ownerBase,
		OwnerQuote:  ownerQuote,
		BaseMint:    baseMint.Key,
		QuoteMint:   quoteMint.Key,
	}, auth, baseSigner, quoteSigner)
	return orch.Teardown()
}
