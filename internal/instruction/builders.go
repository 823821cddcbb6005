package instruction

import (
	"fmt"

	"px-position-manager/internal/ledger/system"
	"px-position-manager/internal/ledger/token"
	"px-position-manager/internal/position"
	"px-position-manager/internal/venue"

	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"
)

// Target identifies the position a command acts on and the token accounts
// the owner funds it from.
type Target struct {
	ProgramID  solana.PublicKey
	Owner      solana.PublicKey
	Market     solana.PublicKey
	BaseMint   solana.PublicKey
	QuoteMint  solana.PublicKey
	OwnerBase  solana.PublicKey
	OwnerQuote solana.PublicKey
}

// Addresses are every account a target derives.
type Addresses struct {
	Position    solana.PublicKey
	BaseEscrow  solana.PublicKey
	QuoteEscrow solana.PublicKey
	Seat        solana.PublicKey
	BaseVault   solana.PublicKey
	QuoteVault  solana.PublicKey
}

func (t Target) Derive() (Addresses, error) {
	var a Addresses
	var err error
	if a.Position, _, err = position.PositionAddress(t.ProgramID, t.Owner, t.Market); err != nil {
		return Addresses{}, fmt.Errorf("derive position: %w", err)
	}
	if a.BaseEscrow, _, err = position.EscrowAddress(t.ProgramID, a.Position, t.BaseMint, position.BaseToken); err != nil {
		return Addresses{}, fmt.Errorf("derive base escrow: %w", err)
	}
	if a.QuoteEscrow, _, err = position.EscrowAddress(t.ProgramID, a.Position, t.QuoteMint, position.QuoteToken); err != nil {
		return Addresses{}, fmt.Errorf("derive quote escrow: %w", err)
	}
	if a.Seat, _, err = venue.SeatAddress(t.Market, a.Position); err != nil {
		return Addresses{}, fmt.Errorf("derive seat: %w", err)
	}
	if a.BaseVault, _, err = venue.VaultAddress(t.Market, t.BaseMint); err != nil {
		return Addresses{}, fmt.Errorf("derive base vault: %w", err)
	}
	if a.QuoteVault, _, err = venue.VaultAddress(t.Market, t.QuoteMint); err != nil {
		return Addresses{}, fmt.Errorf("derive quote vault: %w", err)
	}
	return a, nil
}

func NewOpen(t Target, side uint8, spreadMargin, baseLots uint64, clientOrderID uint128.Uint128) (solana.Instruction, error) {
	a, err := t.Derive()
	if err != nil {
		return nil, err
	}
	data := Pack(Open{Side: side, SpreadMargin: spreadMargin, BaseLots: baseLots, ClientOrderID: clientOrderID})
	return solana.NewInstruction(t.ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(venue.ProgramID, false, false),
		solana.NewAccountMeta(venue.LogAuthority(), false, false),
		solana.NewAccountMeta(t.Market, true, false),
		solana.NewAccountMeta(t.Owner, true, true),
		solana.NewAccountMeta(a.Seat, false, false),
		solana.NewAccountMeta(a.Position, true, false),
		solana.NewAccountMeta(a.BaseEscrow, true, false),
		solana.NewAccountMeta(a.QuoteEscrow, true, false),
		solana.NewAccountMeta(a.BaseVault, true, false),
		solana.NewAccountMeta(a.QuoteVault, true, false),
		solana.NewAccountMeta(t.BaseMint, false, false),
		solana.NewAccountMeta(t.QuoteMint, false, false),
		solana.NewAccountMeta(t.OwnerBase, true, false),
		solana.NewAccountMeta(t.OwnerQuote, true, false),
		solana.NewAccountMeta(token.ProgramID, false, false),
		solana.NewAccountMeta(system.ProgramID, false, false),
	}, data), nil
}

func NewUnwind(t Target) (solana.Instruction, error) {
	a, err := t.Derive()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(t.ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(venue.ProgramID, false, false),
		solana.NewAccountMeta(venue.LogAuthority(), false, false),
		solana.NewAccountMeta(t.Market, true, false),
		solana.NewAccountMeta(t.Owner, true, true),
		solana.NewAccountMeta(a.Position, true, false),
		solana.NewAccountMeta(a.BaseEscrow, true, false),
		solana.NewAccountMeta(a.QuoteEscrow, true, false),
		solana.NewAccountMeta(a.BaseVault, true, false),
		solana.NewAccountMeta(a.QuoteVault, true, false),
		solana.NewAccountMeta(t.OwnerBase, true, false),
		solana.NewAccountMeta(t.OwnerQuote, true, false),
		solana.NewAccountMeta(t.BaseMint, false, false),
		solana.NewAccountMeta(t.QuoteMint, false, false),
		solana.NewAccountMeta(token.ProgramID, false, false),
		solana.NewAccountMeta(system.ProgramID, false, false),
	}, Pack(Unwind{})), nil
}

// NewRebalance needs no owner signature; anyone may re-quote a position from
// its free balances.
func NewRebalance(t Target, clientOrderID uint128.Uint128) (solana.Instruction, error) {
	a, err := t.Derive()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(t.ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(venue.ProgramID, false, false),
		solana.NewAccountMeta(venue.LogAuthority(), false, false),
		solana.NewAccountMeta(t.Market, true, false),
		solana.NewAccountMeta(t.Owner, false, false),
		solana.NewAccountMeta(a.Seat, false, false),
		solana.NewAccountMeta(a.Position, true, false),
		solana.NewAccountMeta(system.ProgramID, false, false),
	}, Pack(Rebalance{ClientOrderID: clientOrderID})), nil
}
