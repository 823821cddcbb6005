package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"px-position-manager/internal/alerts"
	"px-position-manager/internal/instruction"
	"px-position-manager/internal/journal"
	"px-position-manager/internal/ledger"
	"px-position-manager/internal/ledger/token"
	"px-position-manager/internal/paper"
	"px-position-manager/internal/position"
	"px-position-manager/internal/programerr"
	"px-position-manager/internal/state"
	"px-position-manager/internal/venue"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

const (
	opOpen      = "open"
	opRebalance = "rebalance"
	opUnwind    = "unwind"

	journalDepth = 1
)

var ErrWalletNotFunded = errors.New("owner wallet is not funded")

func (a *App) restoreEnvironment(ctx context.Context) error {
	rec, ok, err := state.LoadPaperEnvironment(ctx, a.store)
	if err != nil {
		return fmt.Errorf("load paper environment: %w", err)
	}
	if !ok {
		return nil
	}
	env := &paper.Environment{
		BaseDecimals:        rec.BaseDecimals,
		QuoteDecimals:       rec.QuoteDecimals,
		BaseAtomsPerBaseLot: rec.BaseAtomsPerBaseLot,
	}
	if env.Authority, err = solana.PrivateKeyFromBase58(rec.Authority); err != nil {
		return fmt.Errorf("paper authority: %w", err)
	}
	keys := []struct {
		dst *solana.PublicKey
		src string
	}{{&env.BaseMint, rec.BaseMint}, {&env.QuoteMint, rec.QuoteMint}, {&env.Market, rec.Market}}
	for _, k := range keys {
		if *k.dst, err = solana.PublicKeyFromBase58(k.src); err != nil {
			return fmt.Errorf("paper environment key %q: %w", k.src, err)
		}
	}
	a.env = env
	if w, ok := rec.Wallets[a.owner.PublicKey().String()]; ok {
		wallet := paper.Wallet{Owner: a.owner}
		if wallet.BaseAccount, err = solana.PublicKeyFromBase58(w.BaseAccount); err != nil {
			return fmt.Errorf("owner base account: %w", err)
		}
		if wallet.QuoteAccount, err = solana.PublicKeyFromBase58(w.QuoteAccount); err != nil {
			return fmt.Errorf("owner quote account: %w", err)
		}
		a.wallet = &wallet
	}
	return nil
}

func (a *App) saveEnvironment(ctx context.Context) error {
	rec := state.PaperEnvironment{
		Authority:           a.env.Authority.String(),
		BaseMint:            a.env.BaseMint.String(),
		QuoteMint:           a.env.QuoteMint.String(),
		Market:              a.env.Market.String(),
		BaseDecimals:        a.env.BaseDecimals,
		QuoteDecimals:       a.env.QuoteDecimals,
		BaseAtomsPerBaseLot: a.env.BaseAtomsPerBaseLot,
	}
	if a.wallet != nil {
		rec.Wallets = map[string]state.WalletRecord{
			a.wallet.Owner.PublicKey().String(): {
				BaseAccount:  a.wallet.BaseAccount.String(),
				QuoteAccount: a.wallet.QuoteAccount.String(),
			},
		}
	}
	return state.SavePaperEnvironment(ctx, a.store, rec)
}

// Bootstrap creates the paper market on first use and funds the owner. Parts
// that already exist are kept.
func (a *App) Bootstrap(ctx context.Context) (*paper.Environment, error) {
	if a.env == nil {
		env, err := paper.Bootstrap(ctx, a.bank, solana.NewWallet().PrivateKey, paper.DefaultConfig())
		if err != nil {
			return nil, err
		}
		a.env = env
		if err := a.saveEnvironment(ctx); err != nil {
			return nil, err
		}
		a.log.Info("paper market created",
			zap.String("market", env.Market.String()),
			zap.String("base_mint", env.BaseMint.String()),
			zap.String("quote_mint", env.QuoteMint.String()),
		)
	}
	if a.wallet == nil {
		if err := a.FundOwner(ctx); err != nil {
			return nil, err
		}
	}
	return a.env, nil
}

// FundOwner gives the owner the configured balances. The first call creates
// the owner's token accounts; later calls mint into them.
func (a *App) FundOwner(ctx context.Context) error {
	if a.env == nil {
		return paper.ErrNotBootstrapped
	}
	pc := a.cfg.Position
	if a.wallet == nil {
		w, err := a.env.FundWallet(ctx, a.bank, a.owner, pc.OwnerLamports, pc.OwnerBase, pc.OwnerQuote)
		if err != nil {
			return err
		}
		a.wallet = &w
		if err := a.saveEnvironment(ctx); err != nil {
			return err
		}
		a.log.Info("owner funded",
			zap.String("owner", a.owner.PublicKey().String()),
			zap.Uint64("base_atoms", pc.OwnerBase),
			zap.Uint64("quote_atoms", pc.OwnerQuote),
		)
		return nil
	}
	var ixs []solana.Instruction
	authority := a.env.Authority.PublicKey()
	if pc.OwnerBase > 0 {
		ixs = append(ixs, token.NewMintToInstruction(a.env.BaseMint, a.wallet.BaseAccount, authority, pc.OwnerBase))
	}
	if pc.OwnerQuote > 0 {
		ixs = append(ixs, token.NewMintToInstruction(a.env.QuoteMint, a.wallet.QuoteAccount, authority, pc.OwnerQuote))
	}
	if len(ixs) == 0 {
		return nil
	}
	if err := a.bank.Process(ctx, ixs, a.env.Authority); err != nil {
		return fmt.Errorf("top up owner: %w", err)
	}
	a.log.Info("owner topped up", zap.Uint64("base_atoms", pc.OwnerBase), zap.Uint64("quote_atoms", pc.OwnerQuote))
	return nil
}

func (a *App) SetReferenceBook(ctx context.Context, book venue.Ladder) error {
	if a.env == nil {
		return paper.ErrNotBootstrapped
	}
	return paper.Bound{Env: a.env, Ledger: a.bank}.SetReferenceBook(ctx, book)
}

func (a *App) Scale() (paper.Scale, error) {
	if a.env == nil {
		return paper.Scale{}, paper.ErrNotBootstrapped
	}
	return a.env.Scale(), nil
}

func (a *App) target() (instruction.Target, error) {
	if a.env == nil {
		return instruction.Target{}, paper.ErrNotBootstrapped
	}
	if a.wallet == nil {
		return instruction.Target{}, ErrWalletNotFunded
	}
	return instruction.Target{
		ProgramID:  a.programID,
		Owner:      a.owner.PublicKey(),
		Market:     a.env.Market,
		BaseMint:   a.env.BaseMint,
		QuoteMint:  a.env.QuoteMint,
		OwnerBase:  a.wallet.BaseAccount,
		OwnerQuote: a.wallet.QuoteAccount,
	}, nil
}

func wireSide(side string) (uint8, error) {
	switch side {
	case "bid":
		return instruction.SideBid, nil
	case "ask":
		return instruction.SideAsk, nil
	}
	return 0, fmt.Errorf("unknown side %q", side)
}

// Open creates the position and rests its first order.
func (a *App) Open(ctx context.Context) error {
	t, err := a.target()
	if err != nil {
		return err
	}
	pc := a.cfg.Position
	side, err := wireSide(pc.Side)
	if err != nil {
		return err
	}
	ix, err := instruction.NewOpen(t, side, pc.SpreadMargin, pc.BaseLots, a.orderIDs())
	if err != nil {
		return err
	}
	detail := opDetail{Side: pc.Side, SpreadMargin: pc.SpreadMargin, BaseLots: pc.BaseLots}
	_, err = a.submit(ctx, opOpen, t, ix, detail, a.owner)
	return err
}

// EnsureOpen opens the configured position unless it already is. It reports
// whether a new position was opened.
func (a *App) EnsureOpen(ctx context.Context) (bool, error) {
	if a.env == nil {
		return false, paper.ErrNotBootstrapped
	}
	open, err := a.positionOpen(ctx)
	if err != nil || open {
		return false, err
	}
	if err := a.Open(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Rebalance re-quotes the position's free funds and returns how many orders
// it rested.
func (a *App) Rebalance(ctx context.Context) (int, error) {
	t, err := a.target()
	if err != nil {
		return 0, err
	}
	ix, err := instruction.NewRebalance(t, a.orderIDs())
	if err != nil {
		return 0, err
	}
	res, err := a.submit(ctx, opRebalance, t, ix, a.recordDetail(ctx))
	if err != nil {
		return 0, err
	}
	placed := 0
	if res.ReturnProgram == a.programID {
		rr, err := instruction.UnpackRebalanceResult(res.ReturnData)
		if err != nil {
			a.log.Warn("rebalance result unreadable", zap.Error(err))
		}
		placed = rr.Placed()
	}
	for i := 0; i < placed; i++ {
		a.metrics.OrdersPlaced.Inc()
	}
	if placed == 0 {
		a.metrics.OrdersSkipped.Inc()
	}
	return placed, nil
}

// Unwind cancels the position's orders and returns everything to the owner.
func (a *App) Unwind(ctx context.Context) error {
	t, err := a.target()
	if err != nil {
		return err
	}
	ix, err := instruction.NewUnwind(t)
	if err != nil {
		return err
	}
	_, err = a.submit(ctx, opUnwind, t, ix, a.recordDetail(ctx), a.owner)
	return err
}

// opDetail is what an operation is reported with. Open reports what it
// submitted; the others report the stored spread.
type opDetail struct {
	Side         string
	SpreadMargin uint64
	BaseLots     uint64
}

func (d opDetail) String() string {
	if d.Side == "" {
		return fmt.Sprintf("spread: %d%%", d.SpreadMargin)
	}
	return fmt.Sprintf("side: %s spread: %d%% lots: %d", d.Side, d.SpreadMargin, d.BaseLots)
}

func (a *App) recordDetail(ctx context.Context) opDetail {
	rec, ok, err := a.positionRecord(ctx)
	if err != nil || !ok || !rec.IsInitialized() {
		return opDetail{}
	}
	return opDetail{SpreadMargin: rec.SpreadMargin}
}

func (a *App) submit(ctx context.Context, op string, t instruction.Target, ix solana.Instruction, detail opDetail, signers ...solana.PrivateKey) (ledger.Result, error) {
	addrs, err := t.Derive()
	if err != nil {
		return ledger.Result{}, err
	}
	res, err := a.bank.ProcessWithResult(ctx, []solana.Instruction{ix}, signers...)
	a.report(ctx, op, t, addrs, detail, err)
	return res, err
}

func (a *App) report(ctx context.Context, op string, t instruction.Target, addrs instruction.Addresses, detail opDetail, opErr error) {
	kind := string(programerr.KindOf(opErr))
	fields := []zap.Field{zap.String("operation", op), zap.String("position", addrs.Position.String())}
	if opErr != nil {
		a.metrics.FailedOperation(op, kind).Inc()
		a.log.Warn("position operation failed", append(fields, zap.String("kind", kind), zap.Error(opErr))...)
	} else {
		switch op {
		case opOpen:
			a.metrics.PositionsOpened.Inc()
			a.metrics.OrdersPlaced.Inc()
		case opUnwind:
			a.metrics.PositionsUnwound.Inc()
		case opRebalance:
			a.metrics.Rebalances.Inc()
		}
		a.log.Info("position operation committed", fields...)
	}

	entry := journal.Entry{
		Time:         time.Now().UTC(),
		Operation:    op,
		Owner:        t.Owner.String(),
		Market:       t.Market.String(),
		Position:     addrs.Position.String(),
		Side:         detail.Side,
		SpreadMargin: detail.SpreadMargin,
		BaseLots:     detail.BaseLots,
		ErrKind:      kind,
	}
	if opErr != nil {
		entry.Error = opErr.Error()
	}
	if m, err := a.env.LoadMarket(ctx, a.bank); err == nil {
		entry.BestBid, entry.BestAsk = bestPrices(m.Ladder(journalDepth))
		entry.OpenOrders = len(m.Orders(addrs.Position))
	}
	a.journal.Record(entry)

	open, err := a.positionOpen(ctx)
	if err != nil {
		a.log.Warn("position lookup failed", zap.Error(err))
	}
	snap := state.PositionSnapshot{
		Position:     addrs.Position.String(),
		Owner:        t.Owner.String(),
		Market:       t.Market.String(),
		Side:         detail.Side,
		SpreadMargin: detail.SpreadMargin,
		BaseLots:     detail.BaseLots,
		LastAction:   op,
		Open:         open,
		UpdatedAtMS:  entry.Time.UnixMilli(),
	}
	if prev, ok, err := state.LoadPositionSnapshot(ctx, a.store, snap.Position); err == nil && ok && op != opOpen {
		snap.Side, snap.BaseLots = prev.Side, prev.BaseLots
	}
	if err := state.SavePositionSnapshot(ctx, a.store, snap); err != nil {
		a.log.Warn("position snapshot save failed", zap.Error(err))
	}

	// Successful rebalances run on every tick and are not worth a message.
	if op == opRebalance && opErr == nil {
		return
	}
	alerts.Notify(ctx, a.alerts, a.log, alerts.FormatOperation(alerts.Operation{
		Name:     op,
		Position: addrs.Position,
		Market:   t.Market,
		Detail:   detail.String(),
		Err:      opErr,
	}))
}

// positionOpen reports whether the owner's position record exists and is
// initialized.
func (a *App) positionOpen(ctx context.Context) (bool, error) {
	rec, ok, err := a.positionRecord(ctx)
	return ok && rec.IsInitialized(), err
}

func (a *App) positionRecord(ctx context.Context) (position.Position, bool, error) {
	t, err := a.target()
	if err != nil {
		return position.Position{}, false, err
	}
	addr, _, err := position.PositionAddress(a.programID, t.Owner, t.Market)
	if err != nil {
		return position.Position{}, false, err
	}
	acct, ok, err := a.bank.Account(ctx, addr)
	if err != nil || !ok || acct.Owner != a.programID {
		return position.Position{}, false, err
	}
	rec, err := position.Unpack(acct.Data)
	if err != nil {
		return position.Position{}, false, err
	}
	return rec, true, nil
}
