// Package system implements the account-creation facility: it allocates
// storage at an address and assigns it to an owning program.
package system

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"px-position-manager/internal/ledger"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

var ProgramID = solana.SystemProgramID

const (
	instructionCreateAccount uint32 = 0
	instructionTransfer      uint32 = 2
)

var (
	ErrAccountAlreadyInUse   = errors.New("account already in use")
	ErrInsufficientLamports  = errors.New("insufficient lamports")
	ErrInvalidInstruction    = errors.New("invalid system instruction")
	ErrTransferFromNonSystem = errors.New("transfer source must be owned by the system program")
)

func NewCreateAccountInstruction(funder, newAccount solana.PublicKey, lamports, space uint64, owner solana.PublicKey) solana.Instruction {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint32(instructionCreateAccount, binary.LittleEndian)
	_ = enc.WriteUint64(lamports, binary.LittleEndian)
	_ = enc.WriteUint64(space, binary.LittleEndian)
	_ = enc.WriteBytes(owner.Bytes(), false)
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(funder, true, true),
		solana.NewAccountMeta(newAccount, true, true),
	}, buf.Bytes())
}

func NewTransferInstruction(from, to solana.PublicKey, lamports uint64) solana.Instruction {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint32(instructionTransfer, binary.LittleEndian)
	_ = enc.WriteUint64(lamports, binary.LittleEndian)
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(from, true, true),
		solana.NewAccountMeta(to, true, false),
	}, buf.Bytes())
}

type Program struct{}

func (Program) ID() solana.PublicKey {
	return ProgramID
}

func (Program) Process(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error {
	dec := bin.NewBinDecoder(data)
	tag, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInstruction, err)
	}
	switch tag {
	case instructionCreateAccount:
		lamports, err := dec.ReadUint64(binary.LittleEndian)
		if err != nil {
			return fmt.Errorf("%w: lamports: %v", ErrInvalidInstruction, err)
		}
		space, err := dec.ReadUint64(binary.LittleEndian)
		if err != nil {
			return fmt.Errorf("%w: space: %v", ErrInvalidInstruction, err)
		}
		owner, err := dec.ReadNBytes(solana.PublicKeyLength)
		if err != nil {
			return fmt.Errorf("%w: owner: %v", ErrInvalidInstruction, err)
		}
		return createAccount(ic, accounts, lamports, space, solana.PublicKeyFromBytes(owner))
	case instructionTransfer:
		lamports, err := dec.ReadUint64(binary.LittleEndian)
		if err != nil {
			return fmt.Errorf("%w: lamports: %v", ErrInvalidInstruction, err)
		}
		return transfer(accounts, lamports)
	default:
		return fmt.Errorf("%w: tag %d", ErrInvalidInstruction, tag)
	}
}

func createAccount(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, lamports, space uint64, owner solana.PublicKey) error {
	if len(accounts) < 2 {
		return ErrInvalidInstruction
	}
	funder, target := accounts[0], accounts[1]
	if !funder.IsSigner || !target.IsSigner {
		return fmt.Errorf("%w: funder and new account must sign", ledger.ErrMissingSignature)
	}
	if !target.IsEmpty() {
		return fmt.Errorf("%w: %s", ErrAccountAlreadyInUse, target.Key)
	}
	if funder.Lamports < lamports {
		return fmt.Errorf("%w: need %d have %d", ErrInsufficientLamports, lamports, funder.Lamports)
	}
	funder.Lamports -= lamports
	target.Lamports = lamports
	target.Data = make([]byte, space)
	target.Owner = owner
	ic.Log().Debug("account created", zap.Stringer("account", target.Key), zap.Stringer("owner", owner))
	return nil
}

func transfer(accounts []*ledger.AccountInfo, lamports uint64) error {
	if len(accounts) < 2 {
		return ErrInvalidInstruction
	}
	from, to := accounts[0], accounts[1]
	if !from.IsSigner {
		return fmt.Errorf("%w: %s", ledger.ErrMissingSignature, from.Key)
	}
	if len(from.Data) != 0 || from.Owner != ProgramID {
		return ErrTransferFromNonSystem
	}
	if from.Lamports < lamports {
		return fmt.Errorf("%w: need %d have %d", ErrInsufficientLamports, lamports, from.Lamports)
	}
	if to.Lamports+lamports < to.Lamports {
		return fmt.Errorf("transfer overflows destination %s", to.Key)
	}
	from.Lamports -= lamports
	to.Lamports += lamports
	return nil
}
