// Package token implements the fungible-token custody facility: mints,
// token accounts, transfers between them and closing of empty accounts.
package token

import (
	"encoding/binary"
	"errors"
	"fmt"

	"px-position-manager/internal/ledger"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

var (
	ErrInvalidInstruction    = errors.New("invalid token instruction")
	ErrAlreadyInUse          = errors.New("token account already initialized")
	ErrUninitialized         = errors.New("token account not initialized")
	ErrNotRentExempt         = errors.New("token account is not rent exempt")
	ErrMintMismatch          = errors.New("account mint does not match")
	ErrOwnerMismatch         = errors.New("owner does not match")
	ErrInsufficientFunds     = errors.New("insufficient token funds")
	ErrNonZeroBalance        = errors.New("cannot close account with a nonzero balance")
	ErrFixedSupply           = errors.New("mint has no mint authority")
	ErrOverflow              = errors.New("token amount overflow")
	ErrAccountFrozen         = errors.New("token account is frozen")
	ErrIncorrectProgramOwner = errors.New("account is not owned by the token program")
)

type Program struct{}

func (Program) ID() solana.PublicKey {
	return ProgramID
}

func (p Program) Process(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error {
	if len(data) == 0 {
		return ErrInvalidInstruction
	}
	dec := bin.NewBinDecoder(data[1:])
	switch data[0] {
	case instructionInitializeMint2:
		return initializeMint(ic, accounts, dec)
	case instructionInitializeAccount3:
		owner, err := dec.ReadNBytes(solana.PublicKeyLength)
		if err != nil {
			return fmt.Errorf("%w: owner: %v", ErrInvalidInstruction, err)
		}
		return initializeAccount(ic, accounts, solana.PublicKeyFromBytes(owner))
	case instructionTransfer:
		amount, err := dec.ReadUint64(binary.LittleEndian)
		if err != nil {
			return fmt.Errorf("%w: amount: %v", ErrInvalidInstruction, err)
		}
		return transfer(ic, accounts, amount)
	case instructionMintTo:
		amount, err := dec.ReadUint64(binary.LittleEndian)
		if err != nil {
			return fmt.Errorf("%w: amount: %v", ErrInvalidInstruction, err)
		}
		return mintTo(accounts, amount)
	case instructionCloseAccount:
		return closeAccount(ic, accounts)
	default:
		return fmt.Errorf("%w: tag %d", ErrInvalidInstruction, data[0])
	}
}

func initializeMint(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, dec *bin.Decoder) error {
	if len(accounts) < 1 {
		return ErrInvalidInstruction
	}
	decimals, err := dec.ReadUint8()
	if err != nil {
		return fmt.Errorf("%w: decimals: %v", ErrInvalidInstruction, err)
	}
	rawAuthority, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return fmt.Errorf("%w: mint authority: %v", ErrInvalidInstruction, err)
	}
	authority := solana.PublicKeyFromBytes(rawAuthority)
	m := Mint{MintAuthority: &authority, Decimals: decimals, IsInitialized: true}
	if hasFreeze, err := dec.ReadUint8(); err == nil && hasFreeze == 1 {
		rawFreeze, err := dec.ReadNBytes(solana.PublicKeyLength)
		if err != nil {
			return fmt.Errorf("%w: freeze authority: %v", ErrInvalidInstruction, err)
		}
		freeze := solana.PublicKeyFromBytes(rawFreeze)
		m.FreezeAuthority = &freeze
	}

	mint := accounts[0]
	if err := checkOwned(mint); err != nil {
		return err
	}
	if len(mint.Data) != MintLen {
		return fmt.Errorf("%w: mint has %d bytes", ErrLayout, len(mint.Data))
	}
	if existing, err := UnpackMint(mint.Data); err == nil && existing.IsInitialized {
		return ErrAlreadyInUse
	}
	if mint.Lamports < ic.Rent().MinimumBalance(MintLen) {
		return ErrNotRentExempt
	}
	return m.Pack(mint.Data)
}

func initializeAccount(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, owner solana.PublicKey) error {
	if len(accounts) < 2 {
		return ErrInvalidInstruction
	}
	target, mintInfo := accounts[0], accounts[1]
	if err := checkOwned(target); err != nil {
		return err
	}
	if len(target.Data) != AccountLen {
		return fmt.Errorf("%w: account has %d bytes", ErrLayout, len(target.Data))
	}
	existing, err := UnpackAccount(target.Data)
	if err != nil {
		return err
	}
	if existing.IsInitialized() {
		return ErrAlreadyInUse
	}
	if target.Lamports < ic.Rent().MinimumBalance(AccountLen) {
		return ErrNotRentExempt
	}
	if err := checkOwned(mintInfo); err != nil {
		return err
	}
	mint, err := UnpackMint(mintInfo.Data)
	if err != nil {
		return err
	}
	if !mint.IsInitialized {
		return fmt.Errorf("%w: mint %s", ErrUninitialized, mintInfo.Key)
	}
	acct := Account{Mint: mintInfo.Key, Owner: owner, State: AccountInitialized}
	ic.Log().Debug("token account initialized",
		zap.Stringer("account", target.Key),
		zap.Stringer("mint", mintInfo.Key),
		zap.Stringer("owner", owner),
	)
	return acct.Pack(target.Data)
}

func transfer(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, amount uint64) error {
	if len(accounts) < 3 {
		return ErrInvalidInstruction
	}
	srcInfo, dstInfo, authority := accounts[0], accounts[1], accounts[2]
	src, err := loadInitialized(srcInfo)
	if err != nil {
		return err
	}
	dst, err := loadInitialized(dstInfo)
	if err != nil {
		return err
	}
	if src.State == AccountFrozen || dst.State == AccountFrozen {
		return ErrAccountFrozen
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	if err := checkAuthority(src.Owner, authority); err != nil {
		return err
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: need %d have %d", ErrInsufficientFunds, amount, src.Amount)
	}
	if srcInfo.Key == dstInfo.Key {
		return nil
	}
	if dst.Amount+amount < dst.Amount {
		return ErrOverflow
	}
	src.Amount -= amount
	dst.Amount += amount
	if err := src.Pack(srcInfo.Data); err != nil {
		return err
	}
	ic.Log().Debug("token transfer",
		zap.Stringer("from", srcInfo.Key),
		zap.Stringer("to", dstInfo.Key),
		zap.Uint64("amount", amount),
	)
	return dst.Pack(dstInfo.Data)
}

func mintTo(accounts []*ledger.AccountInfo, amount uint64) error {
	if len(accounts) < 3 {
		return ErrInvalidInstruction
	}
	mintInfo, dstInfo, authority := accounts[0], accounts[1], accounts[2]
	if err := checkOwned(mintInfo); err != nil {
		return err
	}
	mint, err := UnpackMint(mintInfo.Data)
	if err != nil {
		return err
	}
	if !mint.IsInitialized {
		return fmt.Errorf("%w: mint %s", ErrUninitialized, mintInfo.Key)
	}
	dst, err := loadInitialized(dstInfo)
	if err != nil {
		return err
	}
	if dst.Mint != mintInfo.Key {
		return ErrMintMismatch
	}
	if mint.MintAuthority == nil {
		return ErrFixedSupply
	}
	if err := checkAuthority(*mint.MintAuthority, authority); err != nil {
		return err
	}
	if mint.Supply+amount < mint.Supply || dst.Amount+amount < dst.Amount {
		return ErrOverflow
	}
	mint.Supply += amount
	dst.Amount += amount
	if err := mint.Pack(mintInfo.Data); err != nil {
		return err
	}
	return dst.Pack(dstInfo.Data)
}

func closeAccount(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo) error {
	if len(accounts) < 3 {
		return ErrInvalidInstruction
	}
	srcInfo, dstInfo, authority := accounts[0], accounts[1], accounts[2]
	if srcInfo.Key == dstInfo.Key {
		return ErrInvalidInstruction
	}
	src, err := loadInitialized(srcInfo)
	if err != nil {
		return err
	}
	if src.Amount != 0 {
		return fmt.Errorf("%w: %d remaining", ErrNonZeroBalance, src.Amount)
	}
	closer := src.Owner
	if src.CloseAuthority != nil {
		closer = *src.CloseAuthority
	}
	if err := checkAuthority(closer, authority); err != nil {
		return err
	}
	if dstInfo.Lamports+srcInfo.Lamports < dstInfo.Lamports {
		return ErrOverflow
	}
	dstInfo.Lamports += srcInfo.Lamports
	srcInfo.Lamports = 0
	clear(srcInfo.Data)
	ic.Log().Debug("token account closed", zap.Stringer("account", srcInfo.Key), zap.Stringer("destination", dstInfo.Key))
	return nil
}

func checkOwned(info *ledger.AccountInfo) error {
	if info.Owner != ProgramID {
		return fmt.Errorf("%w: %s", ErrIncorrectProgramOwner, info.Key)
	}
	return nil
}

func loadInitialized(info *ledger.AccountInfo) (Account, error) {
	if err := checkOwned(info); err != nil {
		return Account{}, err
	}
	acct, err := UnpackAccount(info.Data)
	if err != nil {
		return Account{}, err
	}
	if !acct.IsInitialized() {
		return Account{}, fmt.Errorf("%w: %s", ErrUninitialized, info.Key)
	}
	return acct, nil
}

func checkAuthority(expected solana.PublicKey, authority *ledger.AccountInfo) error {
	if authority.Key != expected {
		return fmt.Errorf("%w: expected %s got %s", ErrOwnerMismatch, expected, authority.Key)
	}
	if !authority.IsSigner {
		return fmt.Errorf("%w: %s", ledger.ErrMissingSignature, authority.Key)
	}
	return nil
}
