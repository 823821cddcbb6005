package position

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const (
	Seed           = "position"
	BaseTokenSeed  = "base"
	QuoteTokenSeed = "quote"
)

type TokenKind uint8

const (
	BaseToken TokenKind = iota
	QuoteToken
)

func (k TokenKind) seed() string {
	if k == BaseToken {
		return BaseTokenSeed
	}
	return QuoteTokenSeed
}

func (k TokenKind) String() string {
	return k.seed()
}

// PositionAddress derives the record address of owner's position on market.
func PositionAddress(programID, owner, market solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(Seed), owner.Bytes(), market.Bytes()}, programID)
}

// EscrowAddress derives the token account that holds mint for a position.
func EscrowAddress(programID, position, mint solana.PublicKey, kind TokenKind) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(kind.seed()), position.Bytes(), mint.Bytes()}, programID)
}

// Authority proves control of a position address within a signed
// invocation. It carries no secret; anyone can recompute it, only the
// program that derived the address can sign with it.
type Authority struct {
	Owner  solana.PublicKey
	Market solana.PublicKey
	Bump   uint8
}

func NewAuthority(programID, owner, market solana.PublicKey) (Authority, solana.PublicKey, error) {
	addr, bump, err := PositionAddress(programID, owner, market)
	if err != nil {
		return Authority{}, solana.PublicKey{}, fmt.Errorf("derive position address: %w", err)
	}
	return Authority{Owner: owner, Market: market, Bump: bump}, addr, nil
}

// Seeds are the signer seeds of the position address.
func (a Authority) Seeds() [][]byte {
	return [][]byte{[]byte(Seed), a.Owner.Bytes(), a.Market.Bytes(), {a.Bump}}
}

func (a Authority) Address(programID solana.PublicKey) (solana.PublicKey, error) {
	return solana.CreateProgramAddress(a.Seeds(), programID)
}

// EscrowSigner is the seed set of one escrow account, used when the program
// creates it.
type EscrowSigner struct {
	Kind     TokenKind
	Position solana.PublicKey
	Mint     solana.PublicKey
	Bump     uint8
}

func NewEscrowSigner(programID, position, mint solana.PublicKey, kind TokenKind) (EscrowSigner, solana.PublicKey, error) {
	addr, bump, err := EscrowAddress(programID, position, mint, kind)
	if err != nil {
		return EscrowSigner{}, solana.PublicKey{}, fmt.Errorf("derive %s escrow address: %w", kind, err)
	}
	return EscrowSigner{Kind: kind, Position: position, Mint: mint, Bump: bump}, addr, nil
}

func (s EscrowSigner) Seeds() [][]byte {
	return [][]byte{[]byte(s.Kind.seed()), s.Position.Bytes(), s.Mint.Bytes(), {s.Bump}}
}
