// Package escrow creates and destroys the accounts a position owns: its
// record and its base and quote escrow token accounts.
package escrow

import (
	"errors"
	"fmt"
	"math/bits"

	"px-position-manager/internal/ledger"
	"px-position-manager/internal/ledger/system"
	"px-position-manager/internal/ledger/token"
	"px-position-manager/internal/position"
	"px-position-manager/internal/pricing"
	"px-position-manager/internal/programerr"
	"px-position-manager/internal/venue"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// Runtime is what the orchestrator needs from the invoking program.
type Runtime interface {
	ProgramID() solana.PublicKey
	Rent() ledger.Rent
	Log() *zap.Logger
	Invoke(ix solana.Instruction) error
	InvokeSigned(ix solana.Instruction, signerSeeds ...[][]byte) error
}

type Accounts struct {
	Owner       *ledger.AccountInfo
	Position    *ledger.AccountInfo
	BaseEscrow  *ledger.AccountInfo
	QuoteEscrow *ledger.AccountInfo
	OwnerBase   *ledger.AccountInfo
	OwnerQuote  *ledger.AccountInfo
	BaseMint    solana.PublicKey
	QuoteMint   solana.PublicKey
}

type Orchestrator struct {
	rt          Runtime
	accounts    Accounts
	authority   position.Authority
	baseSigner  position.EscrowSigner
	quoteSigner position.EscrowSigner
}

func New(rt Runtime, accounts Accounts, authority position.Authority, baseSigner, quoteSigner position.EscrowSigner) *Orchestrator {
	return &Orchestrator{
		rt:          rt,
		accounts:    accounts,
		authority:   authority,
		baseSigner:  baseSigner,
		quoteSigner: quoteSigner,
	}
}

// CreatePositionRecord allocates the record at the position address, paid
// for by the owner, and stores spreadMargin in it.
func (o *Orchestrator) CreatePositionRecord(spreadMargin uint64) error {
	rec := o.accounts.Position
	if rec.Owner == o.rt.ProgramID() && len(rec.Data) >= position.Len {
		if existing, err := position.Unpack(rec.Data); err == nil && existing.IsInitialized() {
			return programerr.ErrPositionIsAlreadyInitialized
		}
	}
	lamports := o.rt.Rent().MinimumBalance(position.Len)
	ix := system.NewCreateAccountInstruction(o.accounts.Owner.Key, rec.Key, lamports, position.Len, o.rt.ProgramID())
	if err := o.rt.InvokeSigned(ix, o.authority.Seeds()); err != nil {
		return fmt.Errorf("create position account: %w", err)
	}
	p, err := position.Unpack(rec.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", programerr.ErrInvalidAccountData, err)
	}
	if p.IsInitialized() {
		return programerr.ErrPositionIsAlreadyInitialized
	}
	p.Initialized = true
	p.SpreadMargin = spreadMargin
	position.Pack(p, rec.Data)
	return nil
}

// CreateEscrowAccounts allocates both escrow token accounts and initializes
// them with the position as their authority.
func (o *Orchestrator) CreateEscrowAccounts() error {
	lamports := o.rt.Rent().MinimumBalance(token.AccountLen)
	for _, e := range []struct {
		info   *ledger.AccountInfo
		mint   solana.PublicKey
		signer position.EscrowSigner
	}{
		{o.accounts.BaseEscrow, o.accounts.BaseMint, o.baseSigner},
		{o.accounts.QuoteEscrow, o.accounts.QuoteMint, o.quoteSigner},
	} {
		create := system.NewCreateAccountInstruction(o.accounts.Owner.Key, e.info.Key, lamports, token.AccountLen, token.ProgramID)
		if err := o.rt.InvokeSigned(create, e.signer.Seeds()); err != nil {
			return fmt.Errorf("create %s escrow: %w", e.signer.Kind, err)
		}
		initialize := token.NewInitializeAccount3Instruction(e.info.Key, e.mint, o.accounts.Position.Key)
		if err := o.rt.Invoke(initialize); err != nil {
			return fmt.Errorf("initialize %s escrow: %w", e.signer.Kind, err)
		}
	}
	return nil
}

// FundSide moves the funding for the quoted side from the owner into its
// escrow. The other escrow stays empty.
func (o *Orchestrator) FundSide(side venue.Side, q pricing.Quote) error {
	src, dst, amount := o.accounts.OwnerQuote, o.accounts.QuoteEscrow, q.QuoteToFund
	if side == venue.Ask {
		src, dst, amount = o.accounts.OwnerBase, o.accounts.BaseEscrow, q.BaseToFund
	}
	ix := token.NewTransferInstruction(src.Key, dst.Key, o.accounts.Owner.Key, amount)
	if err := o.rt.Invoke(ix); err != nil {
		if errors.Is(err, token.ErrInsufficientFunds) {
			return fmt.Errorf("%w: fund %s escrow: %w", programerr.ErrInsufficientFunds, side, err)
		}
		return fmt.Errorf("fund %s escrow: %w", side, err)
	}
	return nil
}

// Teardown returns everything the position holds to the owner: both escrow
// balances, then both escrow deposits, then the record's deposit. The order
// is fixed because an account can only be closed once it is empty.
func (o *Orchestrator) Teardown() error {
	rec := o.accounts.Position
	if rec.Owner != o.rt.ProgramID() || len(rec.Data) < position.Len {
		return programerr.ErrPositionNotInitialized
	}
	p, err := position.Unpack(rec.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", programerr.ErrInvalidAccountData, err)
	}
	if !p.IsInitialized() {
		return programerr.ErrPositionNotInitialized
	}

	seeds := o.authority.Seeds()
	for _, leg := range []struct {
		escrow, dest *ledger.AccountInfo
		kind         position.TokenKind
	}{
		{o.accounts.BaseEscrow, o.accounts.OwnerBase, position.BaseToken},
		{o.accounts.QuoteEscrow, o.accounts.OwnerQuote, position.QuoteToken},
	} {
		held, err := token.UnpackAccount(leg.escrow.Data)
		if err != nil {
			return fmt.Errorf("%w: %s escrow: %v", programerr.ErrInvalidAccountData, leg.kind, err)
		}
		ix := token.NewTransferInstruction(leg.escrow.Key, leg.dest.Key, rec.Key, held.Amount)
		if err := o.rt.InvokeSigned(ix, seeds); err != nil {
			return fmt.Errorf("return %s escrow balance: %w", leg.kind, err)
		}
	}
	for _, leg := range []struct {
		escrow *ledger.AccountInfo
		kind   position.TokenKind
	}{
		{o.accounts.BaseEscrow, position.BaseToken},
		{o.accounts.QuoteEscrow, position.QuoteToken},
	} {
		ix := token.NewCloseAccountInstruction(leg.escrow.Key, o.accounts.Owner.Key, rec.Key)
		if err := o.rt.InvokeSigned(ix, seeds); err != nil {
			return fmt.Errorf("close %s escrow: %w", leg.kind, err)
		}
	}

	owner := o.accounts.Owner
	total, carry := bits.Add64(owner.Lamports, rec.Lamports, 0)
	if carry != 0 {
		return programerr.ErrArithmeticOverflow
	}
	reclaimed := rec.Lamports
	owner.Lamports = total
	rec.Lamports = 0
	clear(rec.Data)
	o.rt.Log().Debug("position torn down", zap.Stringer("position", rec.Key), zap.Uint64("reclaimed_lamports", reclaimed))
	return nil
}
