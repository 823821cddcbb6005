package ledger

import (
	"bytes"

	"github.com/gagliardetto/solana-go"
)

// Account is the stored state behind an address.
type Account struct {
	Lamports   uint64
	Data       []byte
	Owner      solana.PublicKey
	Executable bool
}

func (a *Account) clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.Data != nil {
		out.Data = append([]byte(nil), a.Data...)
	}
	return &out
}

func (a *Account) equal(b *Account) bool {
	return a.Lamports == b.Lamports &&
		a.Owner == b.Owner &&
		a.Executable == b.Executable &&
		bytes.Equal(a.Data, b.Data)
}

// IsEmpty reports whether the account holds nothing, which is how an
// address that was never created looks.
func (a *Account) IsEmpty() bool {
	return a.Lamports == 0 && len(a.Data) == 0 && a.Owner == solana.SystemProgramID
}

// AccountInfo is the view of an account a program receives for one
// invocation. The flags are per invocation; the Account is shared.
type AccountInfo struct {
	Key        solana.PublicKey
	IsSigner   bool
	IsWritable bool
	*Account
}

func emptyAccount() *Account {
	return &Account{Owner: solana.SystemProgramID}
}
