package escrow

import (
	"encoding/binary"
	"errors"
	"testing"

	"px-position-manager/internal/ledger"
	"px-position-manager/internal/ledger/token"
	"px-position-manager/internal/position"
	"px-position-manager/internal/pricing"
	"px-position-manager/internal/programerr"
	"px-position-manager/internal/venue"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

type recordingRuntime struct {
	programID solana.PublicKey
	invoked   []solana.Instruction
	signed    int
}

func (r *recordingRuntime) ProgramID() solana.PublicKey { return r.programID }
func (r *recordingRuntime) Rent() ledger.Rent           { return ledger.DefaultRent() }
func (r *recordingRuntime) Log() *zap.Logger            { return zap.NewNop() }

func (r *recordingRuntime) Invoke(ix solana.Instruction) error {
	r.invoked = append(r.invoked, ix)
	return nil
}

func (r *recordingRuntime) InvokeSigned(ix solana.Instruction, _ ...[][]byte) error {
	r.signed++
	return r.Invoke(ix)
}

func info(owner solana.PublicKey, data []byte) *ledger.AccountInfo {
	return &ledger.AccountInfo{
		Key:        solana.NewWallet().PublicKey(),
		IsWritable: true,
		Account:    &ledger.Account{Owner: owner, Data: data},
	}
}

func newOrchestrator(rt *recordingRuntime, record []byte) (*Orchestrator, Accounts) {
	accts := Accounts{
		Owner:       info(solana.SystemProgramID, nil),
		Position:    info(rt.programID, record),
		BaseEscrow:  info(token.ProgramID, nil),
		QuoteEscrow: info(token.ProgramID, nil),
		OwnerBase:   info(token.ProgramID, nil),
		OwnerQuote:  info(token.ProgramID, nil),
		BaseMint:    solana.NewWallet().PublicKey(),
		QuoteMint:   solana.NewWallet().PublicKey(),
	}
	auth := position.Authority{Owner: accts.Owner.Key, Market: solana.NewWallet().PublicKey()}
	return New(rt, accts, auth, position.EscrowSigner{Kind: position.BaseToken}, position.EscrowSigner{Kind: position.QuoteToken}), accts
}

func transferAmount(t *testing.T, ix solana.Instruction) uint64 {
	t.Helper()
	data, err := ix.Data()
	if err != nil || len(data) != 9 || data[0] != 3 {
		t.Fatalf("not a token transfer: %v %v", data, err)
	}
	return binary.LittleEndian.Uint64(data[1:])
}

func TestFundSideMovesOnlyTheQuotedSide(t *testing.T) {
	cases := []struct {
		side   venue.Side
		amount uint64
		src    func(Accounts) solana.PublicKey
		dst    func(Accounts) solana.PublicKey
	}{
		{venue.Bid, 1350, func(a Accounts) solana.PublicKey { return a.OwnerQuote.Key }, func(a Accounts) solana.PublicKey { return a.QuoteEscrow.Key }},
		{venue.Ask, 10_000, func(a Accounts) solana.PublicKey { return a.OwnerBase.Key }, func(a Accounts) solana.PublicKey { return a.BaseEscrow.Key }},
	}
	for _, tc := range cases {
		rt := &recordingRuntime{programID: solana.NewWallet().PublicKey()}
		o, accts := newOrchestrator(rt, nil)
		if err := o.FundSide(tc.side, pricing.Quote{QuoteToFund: 1350, BaseToFund: 10_000}); err != nil {
			t.Fatalf("%s: fund: %v", tc.side, err)
		}
		if len(rt.invoked) != 1 {
			t.Fatalf("%s: expected one transfer, got %d", tc.side, len(rt.invoked))
		}
		ix := rt.invoked[0]
		metas := ix.Accounts()
		if metas[0].PublicKey != tc.src(accts) || metas[1].PublicKey != tc.dst(accts) || metas[2].PublicKey != accts.Owner.Key {
			t.Fatalf("%s: unexpected transfer accounts", tc.side)
		}
		if got := transferAmount(t, ix); got != tc.amount {
			t.Fatalf("%s: expected amount %d, got %d", tc.side, tc.amount, got)
		}
		if rt.signed != 0 {
			t.Fatalf("%s: funding is signed by the owner, not the position", tc.side)
		}
	}
}

func TestCreatePositionRecordRejectsInitializedRecord(t *testing.T) {
	rt := &recordingRuntime{programID: solana.NewWallet().PublicKey()}
	record := make([]byte, position.Len)
	position.Pack(position.Position{Initialized: true, SpreadMargin: 5}, record)
	o, _ := newOrchestrator(rt, record)
	if err := o.CreatePositionRecord(7); !errors.Is(err, programerr.ErrPositionIsAlreadyInitialized) {
		t.Fatalf("expected ErrPositionIsAlreadyInitialized, got %v", err)
	}
	if len(rt.invoked) != 0 {
		t.Fatalf("rejected create still invoked %d instructions", len(rt.invoked))
	}
}

func TestTeardownRequiresInitializedRecord(t *testing.T) {
	rt := &recordingRuntime{programID: solana.NewWallet().PublicKey()}
	for name, record := range map[string][]byte{
		"empty":         nil,
		"uninitialized": make([]byte, position.Len),
	} {
		o, _ := newOrchestrator(rt, record)
		if err := o.Teardown(); !errors.Is(err, programerr.ErrPositionNotInitialized) {
			t.Fatalf("%s: expected ErrPositionNotInitialized, got %v", name, err)
		}
	}
	if len(rt.invoked) != 0 {
		t.Fatalf("teardown of a missing position invoked %d instructions", len(rt.invoked))
	}
}
