// Package venue is a paper order-book exchange that runs as a program on the
// ledger. It exposes the same call shapes as the live venue: resting limit
// orders funded from token accounts or from free balances, cancel-all and
// withdrawal of free balances.
package venue

import (
	"errors"

	"github.com/gagliardetto/solana-go"
)

var ProgramID = solana.MustPublicKeyFromBase58("PhoeNiXZ8ByJGLkxNfZRnkUfjvmuYqLR89jjFHGqdXY")

var (
	ErrInsufficientFunds = errors.New("venue: insufficient funds")
	ErrBookFull          = errors.New("venue: book is full")
	ErrInvalidOrder      = errors.New("venue: invalid order")
	ErrInvalidMarket     = errors.New("venue: invalid market")
	ErrMarketClosed      = errors.New("venue: market is not active")
	ErrSeatsFull         = errors.New("venue: no seats left")
	ErrInvalidAccount    = errors.New("venue: invalid account")
	ErrUnauthorized      = errors.New("venue: unauthorized")
	ErrInvalidData       = errors.New("venue: invalid instruction data")
)

const (
	logSeed   = "log"
	vaultSeed = "vault"
	seatSeed  = "seat"
)

// LogAuthority is the address every trading instruction must present as the
// venue's event authority.
func LogAuthority() solana.PublicKey {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(logSeed)}, ProgramID)
	if err != nil {
		panic(err)
	}
	return addr
}

// VaultAddress is the token account that custodies mint for market. The
// vault is its own token authority.
func VaultAddress(market, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(vaultSeed), market.Bytes(), mint.Bytes()}, ProgramID)
}

func SeatAddress(market, trader solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(seatSeed), market.Bytes(), trader.Bytes()}, ProgramID)
}
