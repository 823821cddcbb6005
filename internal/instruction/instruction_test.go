package instruction

import (
	"bytes"
	"errors"
	"testing"

	"px-position-manager/internal/programerr"

	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"
)

func TestUnpackOpenWireFormat(t *testing.T) {
	data := []byte{0, 2}
	data = append(data, 5, 0, 0, 0, 0, 0, 0, 0)
	data = append(data, 0x10, 0x27, 0, 0, 0, 0, 0, 0)
	data = append(data, 1, 0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0)

	cmd, err := Unpack(data)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	open, ok := cmd.(Open)
	if !ok {
		t.Fatalf("expected Open, got %T", cmd)
	}
	if open.Side != SideAsk || open.SpreadMargin != 5 || open.BaseLots != 10_000 {
		t.Fatalf("unexpected open: %+v", open)
	}
	if open.ClientOrderID != uint128.New(1, 2) {
		t.Fatalf("unexpected client order id: %s", open.ClientOrderID)
	}
	if !bytes.Equal(Pack(open), data) {
		t.Fatalf("pack does not reproduce wire bytes: %x", Pack(open))
	}
}

func TestUnpackUnwindAndRebalance(t *testing.T) {
	cmd, err := Unpack([]byte{1})
	if err != nil {
		t.Fatalf("unpack unwind: %v", err)
	}
	if cmd.Tag() != TagUnwind {
		t.Fatalf("expected unwind, got %s", cmd.Tag())
	}

	id := uint128.From64(99)
	cmd, err = Unpack(Pack(Rebalance{ClientOrderID: id}))
	if err != nil {
		t.Fatalf("unpack rebalance: %v", err)
	}
	if rb, ok := cmd.(Rebalance); !ok || rb.ClientOrderID != id {
		t.Fatalf("unexpected rebalance: %#v", cmd)
	}
}

func TestUnpackRejectsMalformed(t *testing.T) {
	cases := [][]byte{
		nil,
		{3},
		{0, 1, 5, 0, 0},
		{2, 1, 2, 3},
	}
	for _, data := range cases {
		if _, err := Unpack(data); !errors.Is(err, programerr.ErrInvalidInstructionData) {
			t.Fatalf("expected ErrInvalidInstructionData for %x, got %v", data, err)
		}
	}
}

func TestBuildersDeriveAccounts(t *testing.T) {
	target := Target{
		ProgramID:  solana.NewWallet().PublicKey(),
		Owner:      solana.NewWallet().PublicKey(),
		Market:     solana.NewWallet().PublicKey(),
		BaseMint:   solana.NewWallet().PublicKey(),
		QuoteMint:  solana.NewWallet().PublicKey(),
		OwnerBase:  solana.NewWallet().PublicKey(),
		OwnerQuote: solana.NewWallet().PublicKey(),
	}
	addrs, err := target.Derive()
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	open, err := NewOpen(target, SideBid, 10, 5, uint128.Zero)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	metas := open.Accounts()
	if len(metas) != 16 {
		t.Fatalf("expected 16 open accounts, got %d", len(metas))
	}
	if metas[3].PublicKey != target.Owner || !metas[3].IsSigner || !metas[3].IsWritable {
		t.Fatalf("owner must sign and be writable: %+v", metas[3])
	}
	if metas[5].PublicKey != addrs.Position || metas[6].PublicKey != addrs.BaseEscrow || metas[7].PublicKey != addrs.QuoteEscrow {
		t.Fatalf("unexpected derived accounts in open")
	}

	unwind, err := NewUnwind(target)
	if err != nil {
		t.Fatalf("unwind: %v", err)
	}
	if n := len(unwind.Accounts()); n != 15 {
		t.Fatalf("expected 15 unwind accounts, got %d", n)
	}

	rebalance, err := NewRebalance(target, uint128.From64(1))
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	rm := rebalance.Accounts()
	if len(rm) != 7 || rm[3].IsSigner || rm[5].PublicKey != addrs.Position || !rm[5].IsWritable {
		t.Fatalf("unexpected rebalance accounts: %+v", rm)
	}
}

func TestRebalanceResultWireFormat(t *testing.T) {
	data := PackRebalanceResult(RebalanceResult{AskPlaced: true})
	if !bytes.Equal(data, []byte{0, 1}) {
		t.Fatalf("unexpected encoding %v", data)
	}
	res, err := UnpackRebalanceResult([]byte{1, 1})
	if err != nil || res.Placed() != 2 {
		t.Fatalf("unexpected result %+v (%v)", res, err)
	}
	if _, err := UnpackRebalanceResult([]byte{1}); !errors.Is(err, programerr.ErrInvalidAccountData) {
		t.Fatalf("expected ErrInvalidAccountData, got %v", err)
	}
}
