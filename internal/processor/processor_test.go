package processor_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"px-position-manager/internal/instruction"
	"px-position-manager/internal/ledger"
	"px-position-manager/internal/ledger/system"
	"px-position-manager/internal/ledger/token"
	"px-position-manager/internal/paper"
	"px-position-manager/internal/pricing"
	"px-position-manager/internal/processor"
	"px-position-manager/internal/programerr"
	"px-position-manager/internal/venue"

	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"
)

var programID = solana.PublicKeyFromBytes(func() []byte {
	sum := sha256.Sum256([]byte("position manager test"))
	return sum[:]
}())

type fixture struct {
	bank *ledger.Bank
	env  *paper.Environment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bank := ledger.NewBank(nil)
	for _, p := range []ledger.Program{system.Program{}, token.Program{}, venue.Program{}, processor.New(programID)} {
		if err := bank.Install(p); err != nil {
			t.Fatalf("install %s: %v", p.ID(), err)
		}
	}
	cfg := paper.DefaultConfig()
	cfg.BaseAtomsPerBaseLot = 1000
	ctx := context.Background()
	env, err := paper.Bootstrap(ctx, bank, solana.NewWallet().PrivateKey, cfg)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	book := venue.Ladder{
		Bids: []venue.LadderLevel{{PriceInTicks: 100, SizeInBaseLots: 50}},
		Asks: []venue.LadderLevel{{PriceInTicks: 200, SizeInBaseLots: 50}},
	}
	if err := env.SetReferenceBook(ctx, bank, book); err != nil {
		t.Fatalf("reference book: %v", err)
	}
	return &fixture{bank: bank, env: env}
}

func (f *fixture) wallet(t *testing.T, base, quote uint64) paper.Wallet {
	t.Helper()
	w, err := f.env.FundWallet(context.Background(), f.bank, solana.NewWallet().PrivateKey, 1_000_000_000, base, quote)
	if err != nil {
		t.Fatalf("fund wallet: %v", err)
	}
	return w
}

func (f *fixture) target(w paper.Wallet) instruction.Target {
	return instruction.Target{
		ProgramID:  programID,
		Owner:      w.Owner.PublicKey(),
		Market:     f.env.Market,
		BaseMint:   f.env.BaseMint,
		QuoteMint:  f.env.QuoteMint,
		OwnerBase:  w.BaseAccount,
		OwnerQuote: w.QuoteAccount,
	}
}

func (f *fixture) run(ix solana.Instruction, signers ...solana.PrivateKey) error {
	return f.bank.Process(context.Background(), []solana.Instruction{ix}, signers...)
}

func (f *fixture) open(t *testing.T, w paper.Wallet, side uint8, spread, lots uint64) error {
	t.Helper()
	ix, err := instruction.NewOpen(f.target(w), side, spread, lots, uint128.From64(7))
	if err != nil {
		t.Fatalf("build open: %v", err)
	}
	return f.run(ix, w.Owner)
}

func (f *fixture) unwind(t *testing.T, w paper.Wallet) error {
	t.Helper()
	ix, err := instruction.NewUnwind(f.target(w))
	if err != nil {
		t.Fatalf("build unwind: %v", err)
	}
	return f.run(ix, w.Owner)
}

func (f *fixture) rebalance(t *testing.T, w paper.Wallet) error {
	t.Helper()
	ix, err := instruction.NewRebalance(f.target(w), uint128.From64(8))
	if err != nil {
		t.Fatalf("build rebalance: %v", err)
	}
	return f.run(ix)
}

// rebalanceResult runs a rebalance and decodes what it published.
func (f *fixture) rebalanceResult(t *testing.T, w paper.Wallet) (instruction.RebalanceResult, error) {
	t.Helper()
	ix, err := instruction.NewRebalance(f.target(w), uint128.From64(8))
	if err != nil {
		t.Fatalf("build rebalance: %v", err)
	}
	res, err := f.bank.ProcessWithResult(context.Background(), []solana.Instruction{ix})
	if err != nil {
		return instruction.RebalanceResult{}, err
	}
	if res.ReturnProgram != programID {
		t.Fatalf("rebalance published no result, last return data from %s", res.ReturnProgram)
	}
	rr, err := instruction.UnpackRebalanceResult(res.ReturnData)
	if err != nil {
		t.Fatalf("decode rebalance result: %v", err)
	}
	return rr, nil
}

func (f *fixture) sideCount(t *testing.T, position solana.PublicKey, side venue.Side) int {
	t.Helper()
	n := 0
	for _, o := range f.market(t).Orders(position) {
		if o.Side == side {
			n++
		}
	}
	return n
}

func (f *fixture) addresses(t *testing.T, w paper.Wallet) instruction.Addresses {
	t.Helper()
	a, err := f.target(w).Derive()
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	return a
}

func (f *fixture) balance(t *testing.T, key solana.PublicKey) uint64 {
	t.Helper()
	amount, err := paper.TokenBalance(context.Background(), f.bank, key)
	if err != nil {
		t.Fatalf("balance %s: %v", key, err)
	}
	return amount
}

func (f *fixture) lamports(t *testing.T, key solana.PublicKey) uint64 {
	t.Helper()
	acct, ok, err := f.bank.Account(context.Background(), key)
	if err != nil {
		t.Fatalf("account %s: %v", key, err)
	}
	if !ok {
		return 0
	}
	return acct.Lamports
}

func (f *fixture) market(t *testing.T) *venue.Market {
	t.Helper()
	m, err := f.env.LoadMarket(context.Background(), f.bank)
	if err != nil {
		t.Fatalf("load market: %v", err)
	}
	return m
}

func (f *fixture) exists(t *testing.T, key solana.PublicKey) bool {
	t.Helper()
	_, ok, err := f.bank.Account(context.Background(), key)
	if err != nil {
		t.Fatalf("account %s: %v", key, err)
	}
	return ok
}

func TestOpenBidRestsOrderAndUnwindRestoresOwner(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, 0, 10_000)
	a := f.addresses(t, w)
	startLamports := f.lamports(t, w.Owner.PublicKey())

	if err := f.open(t, w, instruction.SideBid, 10, 10); err != nil {
		t.Fatalf("open: %v", err)
	}
	// mid 150, bid 135: 10 lots lock 1350 quote atoms.
	if got := f.balance(t, w.QuoteAccount); got != 10_000-1350 {
		t.Fatalf("unexpected owner quote after open: %d", got)
	}
	orders := f.market(t).Orders(a.Position)
	if len(orders) != 1 || orders[0].Side != venue.Bid || orders[0].PriceInTicks != 135 || orders[0].BaseLots != 10 {
		t.Fatalf("unexpected resting orders: %+v", orders)
	}
	if f.balance(t, a.QuoteEscrow) != 0 || f.balance(t, a.BaseEscrow) != 0 {
		t.Fatalf("escrows should be drained into the venue")
	}

	if err := f.unwind(t, w); err != nil {
		t.Fatalf("unwind: %v", err)
	}
	if got := f.balance(t, w.QuoteAccount); got != 10_000 {
		t.Fatalf("quote not returned: %d", got)
	}
	if got := f.lamports(t, w.Owner.PublicKey()); got != startLamports {
		t.Fatalf("lamports not returned: start %d now %d", startLamports, got)
	}
	for _, key := range []solana.PublicKey{a.Position, a.BaseEscrow, a.QuoteEscrow} {
		if f.exists(t, key) {
			t.Fatalf("account %s survived unwind", key)
		}
	}
	if n := len(f.market(t).Orders(a.Position)); n != 0 {
		t.Fatalf("expected no resting orders after unwind, got %d", n)
	}
}

func TestOpenAskFundsBaseEscrow(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, 50_000, 0)
	a := f.addresses(t, w)
	if err := f.open(t, w, instruction.SideAsk, 10, 10); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := f.balance(t, w.BaseAccount); got != 40_000 {
		t.Fatalf("unexpected owner base after open: %d", got)
	}
	orders := f.market(t).Orders(a.Position)
	if len(orders) != 1 || orders[0].Side != venue.Ask || orders[0].PriceInTicks != 165 {
		t.Fatalf("unexpected resting orders: %+v", orders)
	}
}

func TestDoubleOpenRejected(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, 0, 10_000)
	if err := f.open(t, w, instruction.SideBid, 10, 10); err != nil {
		t.Fatalf("open: %v", err)
	}
	before := f.balance(t, w.QuoteAccount)
	err := f.open(t, w, instruction.SideBid, 10, 10)
	if !errors.Is(err, programerr.ErrPositionIsAlreadyInitialized) {
		t.Fatalf("expected ErrPositionIsAlreadyInitialized, got %v", err)
	}
	if code, ok := programerr.Code(err); !ok || code != 1 {
		t.Fatalf("unexpected custom code %d %v", code, ok)
	}
	if got := f.balance(t, w.QuoteAccount); got != before {
		t.Fatalf("failed open moved funds: %d -> %d", before, got)
	}
}

func TestUnwindWithoutOpen(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, 0, 10_000)
	err := f.unwind(t, w)
	if !errors.Is(err, programerr.ErrPositionNotInitialized) {
		t.Fatalf("expected ErrPositionNotInitialized, got %v", err)
	}
}

func TestOpenRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, 0, 10_000)
	cases := []struct {
		name   string
		side   uint8
		spread uint64
	}{
		{"side zero", 0, 10},
		{"side three", 3, 10},
		{"spread zero", instruction.SideBid, 0},
		{"spread above hundred", instruction.SideBid, 101},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := f.open(t, w, tc.side, tc.spread, 10); !errors.Is(err, programerr.ErrInvalidInstructionData) {
				t.Fatalf("expected ErrInvalidInstructionData, got %v", err)
			}
		})
	}
	if f.exists(t, f.addresses(t, w).Position) {
		t.Fatalf("rejected open created the position")
	}
}

func TestOpenFullSpreadBidIsRejectedByVenue(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, 0, 10_000)
	err := f.open(t, w, instruction.SideBid, 100, 10)
	if !errors.Is(err, programerr.ErrVenue) || !errors.Is(err, venue.ErrInvalidOrder) {
		t.Fatalf("expected wrapped venue ErrInvalidOrder, got %v", err)
	}
	if f.exists(t, f.addresses(t, w).Position) {
		t.Fatalf("failed open left the position behind")
	}
}

func TestOpenAgainstOneSidedBookIsAVenueError(t *testing.T) {
	f := newFixture(t)
	oneSided := venue.Ladder{Bids: []venue.LadderLevel{{PriceInTicks: 100, SizeInBaseLots: 50}}}
	if err := f.env.SetReferenceBook(context.Background(), f.bank, oneSided); err != nil {
		t.Fatalf("reference book: %v", err)
	}
	w := f.wallet(t, 0, 10_000)
	err := f.open(t, w, instruction.SideBid, 10, 10)
	if !errors.Is(err, pricing.ErrEmptyBook) {
		t.Fatalf("expected ErrEmptyBook, got %v", err)
	}
	if kind := programerr.KindOf(err); kind != programerr.KindVenue {
		t.Fatalf("expected venue kind, got %q", kind)
	}
	if f.exists(t, f.addresses(t, w).Position) {
		t.Fatalf("failed open left the position behind")
	}
}

func TestOpenBeyondOwnerBalanceIsAFundsError(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, 0, 100)
	err := f.open(t, w, instruction.SideBid, 10, 10)
	if !errors.Is(err, programerr.ErrInsufficientFunds) || !errors.Is(err, token.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient owner funds, got %v", err)
	}
	if kind := programerr.KindOf(err); kind != programerr.KindFunds {
		t.Fatalf("expected funds kind, got %q", kind)
	}
	if got := f.balance(t, w.QuoteAccount); got != 100 {
		t.Fatalf("failed open moved funds: %d", got)
	}
}

func TestWrongVenueProgramRejectedBeforeMutation(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, 0, 10_000)
	ix, err := instruction.NewOpen(f.target(w), instruction.SideBid, 10, 10, uint128.Zero)
	if err != nil {
		t.Fatalf("build open: %v", err)
	}
	data, err := ix.Data()
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	metas := append(solana.AccountMetaSlice{}, ix.Accounts()...)
	metas[0] = solana.NewAccountMeta(solana.NewWallet().PublicKey(), false, false)
	startLamports := f.lamports(t, w.Owner.PublicKey())

	err = f.run(solana.NewInstruction(programID, metas, data), w.Owner)
	if !errors.Is(err, programerr.ErrInvalidAccountData) {
		t.Fatalf("expected ErrInvalidAccountData, got %v", err)
	}
	if f.exists(t, f.addresses(t, w).Position) {
		t.Fatalf("position created despite wrong venue")
	}
	if got := f.lamports(t, w.Owner.PublicKey()); got != startLamports {
		t.Fatalf("owner lamports changed: %d -> %d", startLamports, got)
	}
}

func TestOpenRequiresOwnerSignature(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, 0, 10_000)
	ix, err := instruction.NewOpen(f.target(w), instruction.SideBid, 10, 10, uint128.Zero)
	if err != nil {
		t.Fatalf("build open: %v", err)
	}
	if err := f.run(ix); !errors.Is(err, ledger.ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}

func TestOpenWithTooFewAccounts(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, 0, 10_000)
	ix, err := instruction.NewOpen(f.target(w), instruction.SideBid, 10, 10, uint128.Zero)
	if err != nil {
		t.Fatalf("build open: %v", err)
	}
	data, _ := ix.Data()
	short := solana.NewInstruction(programID, ix.Accounts()[:15], data)
	if err := f.run(short, w.Owner); !errors.Is(err, programerr.ErrNotEnoughAccountKeys) {
		t.Fatalf("expected ErrNotEnoughAccountKeys, got %v", err)
	}
}

func TestRebalanceWithoutFreeFundsPlacesNothing(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, 0, 10_000)
	a := f.addresses(t, w)
	if err := f.open(t, w, instruction.SideBid, 10, 10); err != nil {
		t.Fatalf("open: %v", err)
	}
	before := f.market(t).Orders(a.Position)
	if err := f.rebalance(t, w); err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	after := f.market(t).Orders(a.Position)
	if len(after) != len(before) {
		t.Fatalf("rebalance placed orders: before %d after %d", len(before), len(after))
	}
}

func TestRebalanceRequotesFreeQuote(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, 50_000, 0)
	a := f.addresses(t, w)
	if err := f.open(t, w, instruction.SideAsk, 10, 10); err != nil {
		t.Fatalf("open: %v", err)
	}

	taker := f.wallet(t, 0, 10_000)
	packet := venue.NewLimitOrderPacket(venue.Bid, 165, 4, venue.SelfTradeCancelProvide, uint128.From64(1))
	if err := f.env.PlaceOrder(context.Background(), f.bank, taker, packet); err != nil {
		t.Fatalf("taker order: %v", err)
	}
	st, ok := f.market(t).TraderState(a.Position)
	if !ok || st.QuoteLotsFree != 660 || st.BaseLotsFree != 0 {
		t.Fatalf("unexpected trader state after fill: %+v", st)
	}

	asksBefore := f.sideCount(t, a.Position, venue.Ask)
	res, err := f.rebalanceResult(t, w)
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if !res.BidPlaced || res.AskPlaced {
		t.Fatalf("expected only a bid to be placed, got %+v", res)
	}
	if got := f.sideCount(t, a.Position, venue.Ask); got != asksBefore {
		t.Fatalf("free quote alone placed an ask: asks %d -> %d", asksBefore, got)
	}
	// best bid 100 (reference), best ask 165 (own ask): mid 132, bid 118.
	var bids []venue.Order
	for _, o := range f.market(t).Orders(a.Position) {
		if o.Side == venue.Bid {
			bids = append(bids, o)
		}
	}
	if len(bids) != 1 || bids[0].PriceInTicks != 118 || bids[0].BaseLots != 660/118 {
		t.Fatalf("expected a single bid of %d lots at 118, got %+v", 660/118, bids)
	}
	st, _ = f.market(t).TraderState(a.Position)
	if st.QuoteLotsFree != 660-118*(660/118) {
		t.Fatalf("unexpected free quote after rebalance: %d", st.QuoteLotsFree)
	}
}

func TestRebalanceWithoutPosition(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t, 0, 10_000)
	if err := f.rebalance(t, w); !errors.Is(err, programerr.ErrPositionNotInitialized) {
		t.Fatalf("expected ErrPositionNotInitialized, got %v", err)
	}
}
