package token

import (
	"bytes"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var ProgramID = solana.TokenProgramID

const (
	instructionTransfer           uint8 = 3
	instructionMintTo             uint8 = 7
	instructionCloseAccount       uint8 = 9
	instructionInitializeAccount3 uint8 = 18
	instructionInitializeMint2    uint8 = 20
)

func NewInitializeMint2Instruction(mint solana.PublicKey, decimals uint8, mintAuthority solana.PublicKey, freezeAuthority *solana.PublicKey) solana.Instruction {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint8(instructionInitializeMint2)
	_ = enc.WriteUint8(decimals)
	_ = enc.WriteBytes(mintAuthority.Bytes(), false)
	if freezeAuthority == nil {
		_ = enc.WriteUint8(0)
	} else {
		_ = enc.WriteUint8(1)
		_ = enc.WriteBytes(freezeAuthority.Bytes(), false)
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(mint, true, false),
	}, buf.Bytes())
}

// NewInitializeAccount3Instruction initializes a token account holding mint
// with owner as its authority.
func NewInitializeAccount3Instruction(account, mint, owner solana.PublicKey) solana.Instruction {
	data := append([]byte{instructionInitializeAccount3}, owner.Bytes()...)
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(account, true, false),
		solana.NewAccountMeta(mint, false, false),
	}, data)
}

func NewTransferInstruction(source, destination, authority solana.PublicKey, amount uint64) solana.Instruction {
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(source, true, false),
		solana.NewAccountMeta(destination, true, false),
		solana.NewAccountMeta(authority, false, true),
	}, amountData(instructionTransfer, amount))
}

func NewMintToInstruction(mint, destination, authority solana.PublicKey, amount uint64) solana.Instruction {
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(mint, true, false),
		solana.NewAccountMeta(destination, true, false),
		solana.NewAccountMeta(authority, false, true),
	}, amountData(instructionMintTo, amount))
}

func NewCloseAccountInstruction(account, destination, authority solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(account, true, false),
		solana.NewAccountMeta(destination, true, false),
		solana.NewAccountMeta(authority, false, true),
	}, []byte{instructionCloseAccount})
}

func amountData(tag uint8, amount uint64) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint8(tag)
	_ = enc.WriteUint64(amount, binary.LittleEndian)
	return buf.Bytes()
}
