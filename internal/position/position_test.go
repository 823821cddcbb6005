package position

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestRecordLayout(t *testing.T) {
	buf := make([]byte, Len)
	Pack(Position{Initialized: true, SpreadMargin: 0x0102}, buf)
	want := []byte{1, 0x02, 0x01, 0, 0, 0, 0, 0, 0}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("unexpected layout: %x", buf)
		}
	}
	p, err := Unpack(buf)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if !p.IsInitialized() || p.SpreadMargin != 0x0102 {
		t.Fatalf("unexpected position: %+v", p)
	}
}

func TestUnpackRejectsShortAndBadFlag(t *testing.T) {
	if _, err := Unpack(nil); !errors.Is(err, ErrRecordTooShort) {
		t.Fatalf("expected ErrRecordTooShort, got %v", err)
	}
	if _, err := Unpack(make([]byte, Len-1)); !errors.Is(err, ErrRecordTooShort) {
		t.Fatalf("expected ErrRecordTooShort, got %v", err)
	}
	buf := make([]byte, Len)
	buf[0] = 2
	if _, err := Unpack(buf); !errors.Is(err, ErrInvalidFlag) {
		t.Fatalf("expected ErrInvalidFlag, got %v", err)
	}
	p, err := Unpack(make([]byte, Len))
	if err != nil || p.IsInitialized() {
		t.Fatalf("expected zeroed record to be uninitialized, got %+v err=%v", p, err)
	}
}

func TestDerivationIsPure(t *testing.T) {
	programID := solana.PublicKeyFromBytes(bytes.Repeat([]byte{7}, 32))
	owner := solana.PublicKeyFromBytes(bytes.Repeat([]byte{1}, 32))
	market := solana.PublicKeyFromBytes(bytes.Repeat([]byte{2}, 32))
	mint := solana.PublicKeyFromBytes(bytes.Repeat([]byte{3}, 32))

	first, bump, err := PositionAddress(programID, owner, market)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, againBump, err := PositionAddress(programID, owner, market)
		if err != nil || again != first || againBump != bump {
			t.Fatalf("derivation changed: %s/%d vs %s/%d (err=%v)", again, againBump, first, bump, err)
		}
	}

	auth, addr, err := NewAuthority(programID, owner, market)
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	if addr != first || auth.Bump != bump {
		t.Fatalf("authority disagrees with derivation")
	}
	recomputed, err := auth.Address(programID)
	if err != nil || recomputed != first {
		t.Fatalf("expected seeds to recreate %s, got %s (err=%v)", first, recomputed, err)
	}

	base, _, err := EscrowAddress(programID, first, mint, BaseToken)
	if err != nil {
		t.Fatalf("derive base escrow: %v", err)
	}
	quote, _, err := EscrowAddress(programID, first, mint, QuoteToken)
	if err != nil {
		t.Fatalf("derive quote escrow: %v", err)
	}
	if base == quote {
		t.Fatalf("expected escrow tags to namespace addresses")
	}
	otherOwner, _, _ := PositionAddress(programID, market, owner)
	if otherOwner == first {
		t.Fatalf("expected owner and market order to matter")
	}
}

func TestEscrowSignerSeedsRecreateAddress(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	pos := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	signer, addr, err := NewEscrowSigner(programID, pos, mint, QuoteToken)
	if err != nil {
		t.Fatalf("escrow signer: %v", err)
	}
	got, err := solana.CreateProgramAddress(signer.Seeds(), programID)
	if err != nil || got != addr {
		t.Fatalf("expected %s, got %s (err=%v)", addr, got, err)
	}
}
