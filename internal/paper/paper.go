// Package paper bootstraps a self-contained trading environment on a ledger:
// two mints, a venue market with its vaults, and funded wallets.
package paper

import (
	"context"
	"errors"
	"fmt"

	"px-position-manager/internal/ledger"
	"px-position-manager/internal/ledger/system"
	"px-position-manager/internal/ledger/token"
	"px-position-manager/internal/venue"

	"github.com/gagliardetto/solana-go"
)

// Ledger is the part of the bank the bootstrapper drives.
type Ledger interface {
	Process(ctx context.Context, ixs []solana.Instruction, signers ...solana.PrivateKey) error
	SetAccount(ctx context.Context, key solana.PublicKey, acct *ledger.Account) error
	Account(ctx context.Context, key solana.PublicKey) (*ledger.Account, bool, error)
	Rent() ledger.Rent
}

type Config struct {
	BaseDecimals        uint8
	QuoteDecimals       uint8
	BaseAtomsPerBaseLot uint64
	Size                venue.SizeParams
	// AuthorityLamports seeds the authority, which pays for every account
	// the bootstrap creates.
	AuthorityLamports uint64
}

func DefaultConfig() Config {
	return Config{
		BaseDecimals:        9,
		QuoteDecimals:       6,
		BaseAtomsPerBaseLot: 1_000_000,
		Size:                venue.SizeParams{BidsSize: 512, AsksSize: 512, NumSeats: 128},
		AuthorityLamports:   1_000 * 1_000_000_000,
	}
}

// Environment names the accounts a bootstrap created. Authority controls
// both mints and the market.
type Environment struct {
	Authority           solana.PrivateKey
	BaseMint            solana.PublicKey
	QuoteMint           solana.PublicKey
	Market              solana.PublicKey
	BaseDecimals        uint8
	QuoteDecimals       uint8
	BaseAtomsPerBaseLot uint64
}

var ErrNotBootstrapped = errors.New("paper environment not bootstrapped")

func Bootstrap(ctx context.Context, l Ledger, authority solana.PrivateKey, cfg Config) (*Environment, error) {
	if cfg.BaseAtomsPerBaseLot == 0 {
		return nil, fmt.Errorf("base atoms per base lot must be positive")
	}
	if err := l.SetAccount(ctx, authority.PublicKey(), &ledger.Account{Lamports: cfg.AuthorityLamports, Owner: system.ProgramID}); err != nil {
		return nil, fmt.Errorf("fund authority: %w", err)
	}
	baseMint := solana.NewWallet().PrivateKey
	quoteMint := solana.NewWallet().PrivateKey
	market := solana.NewWallet().PrivateKey
	env := &Environment{
		Authority:           authority,
		BaseMint:            baseMint.PublicKey(),
		QuoteMint:           quoteMint.PublicKey(),
		Market:              market.PublicKey(),
		BaseDecimals:        cfg.BaseDecimals,
		QuoteDecimals:       cfg.QuoteDecimals,
		BaseAtomsPerBaseLot: cfg.BaseAtomsPerBaseLot,
	}

	rent := l.Rent()
	payer := authority.PublicKey()
	initMarket, err := venue.NewInitializeMarketInstruction(payer, env.Market, env.BaseMint, env.QuoteMint, venue.InitializeParams{
		Size:                cfg.Size,
		BaseAtomsPerBaseLot: cfg.BaseAtomsPerBaseLot,
	})
	if err != nil {
		return nil, err
	}
	ixs := []solana.Instruction{
		system.NewCreateAccountInstruction(payer, env.BaseMint, rent.MinimumBalance(token.MintLen), token.MintLen, token.ProgramID),
		token.NewInitializeMint2Instruction(env.BaseMint, cfg.BaseDecimals, payer, nil),
		system.NewCreateAccountInstruction(payer, env.QuoteMint, rent.MinimumBalance(token.MintLen), token.MintLen, token.ProgramID),
		token.NewInitializeMint2Instruction(env.QuoteMint, cfg.QuoteDecimals, payer, nil),
		system.NewCreateAccountInstruction(payer, env.Market, rent.MinimumBalance(venue.HeaderLen), 0, venue.ProgramID),
		initMarket,
	}
	if err := l.Process(ctx, ixs, authority, baseMint, quoteMint, market); err != nil {
		return nil, fmt.Errorf("bootstrap market: %w", err)
	}
	return env, nil
}

// Wallet is a funded owner with one token account per mint.
type Wallet struct {
	Owner        solana.PrivateKey
	BaseAccount  solana.PublicKey
	QuoteAccount solana.PublicKey
}

// FundWallet gives owner lamports and minted base and quote atoms in fresh
// token accounts.
func (e *Environment) FundWallet(ctx context.Context, l Ledger, owner solana.PrivateKey, lamports, baseAtoms, quoteAtoms uint64) (Wallet, error) {
	if err := l.SetAccount(ctx, owner.PublicKey(), &ledger.Account{Lamports: lamports, Owner: system.ProgramID}); err != nil {
		return Wallet{}, fmt.Errorf("fund owner: %w", err)
	}
	baseAcct := solana.NewWallet().PrivateKey
	quoteAcct := solana.NewWallet().PrivateKey
	rent := l.Rent().MinimumBalance(token.AccountLen)
	payer := e.Authority.PublicKey()
	ixs := []solana.Instruction{
		system.NewCreateAccountInstruction(payer, baseAcct.PublicKey(), rent, token.AccountLen, token.ProgramID),
		token.NewInitializeAccount3Instruction(baseAcct.PublicKey(), e.BaseMint, owner.PublicKey()),
		system.NewCreateAccountInstruction(payer, quoteAcct.PublicKey(), rent, token.AccountLen, token.ProgramID),
		token.NewInitializeAccount3Instruction(quoteAcct.PublicKey(), e.QuoteMint, owner.PublicKey()),
	}
	if baseAtoms > 0 {
		ixs = append(ixs, token.NewMintToInstruction(e.BaseMint, baseAcct.PublicKey(), payer, baseAtoms))
	}
	if quoteAtoms > 0 {
		ixs = append(ixs, token.NewMintToInstruction(e.QuoteMint, quoteAcct.PublicKey(), payer, quoteAtoms))
	}
	if err := l.Process(ctx, ixs, e.Authority, baseAcct, quoteAcct); err != nil {
		return Wallet{}, fmt.Errorf("fund wallet: %w", err)
	}
	return Wallet{Owner: owner, BaseAccount: baseAcct.PublicKey(), QuoteAccount: quoteAcct.PublicKey()}, nil
}

// SetReferenceBook replaces the market's reference liquidity.
func (e *Environment) SetReferenceBook(ctx context.Context, l Ledger, book venue.Ladder) error {
	ix, err := venue.NewReplaceMakerBookInstruction(e.Market, e.Authority.PublicKey(), book)
	if err != nil {
		return err
	}
	return l.Process(ctx, []solana.Instruction{ix}, e.Authority)
}

// PlaceOrder rests an order for a wallet, funded from its token accounts.
func (e *Environment) PlaceOrder(ctx context.Context, l Ledger, w Wallet, packet venue.OrderPacket) error {
	ix, err := venue.NewPlaceLimitOrderInstruction(e.Market, w.Owner.PublicKey(), w.BaseAccount, w.QuoteAccount, e.BaseMint, e.QuoteMint, packet)
	if err != nil {
		return err
	}
	return l.Process(ctx, []solana.Instruction{ix}, w.Owner)
}

func (e *Environment) LoadMarket(ctx context.Context, l Ledger) (*venue.Market, error) {
	acct, ok, err := l.Account(ctx, e.Market)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: market %s missing", ErrNotBootstrapped, e.Market)
	}
	return venue.Load(acct.Data)
}

// TokenBalance returns the amount held by a token account, zero if it does
// not exist.
func TokenBalance(ctx context.Context, l Ledger, key solana.PublicKey) (uint64, error) {
	acct, ok, err := l.Account(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	decoded, err := token.UnpackAccount(acct.Data)
	if err != nil {
		return 0, err
	}
	return decoded.Amount, nil
}

// Bound ties an environment to the ledger it was bootstrapped on.
type Bound struct {
	Env    *Environment
	Ledger Ledger
}

func (b Bound) SetReferenceBook(ctx context.Context, book venue.Ladder) error {
	return b.Env.SetReferenceBook(ctx, b.Ledger, book)
}
