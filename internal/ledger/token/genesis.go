package token

import "px-position-manager/internal/ledger"

// NewMintAccount returns a rent-exempt account holding m, for seeding a bank.
func NewMintAccount(rent ledger.Rent, m Mint) (*ledger.Account, error) {
	data := make([]byte, MintLen)
	if err := m.Pack(data); err != nil {
		return nil, err
	}
	return &ledger.Account{Lamports: rent.MinimumBalance(MintLen), Data: data, Owner: ProgramID}, nil
}

func NewTokenAccount(rent ledger.Rent, a Account) (*ledger.Account, error) {
	data := make([]byte, AccountLen)
	if err := a.Pack(data); err != nil {
		return nil, err
	}
	return &ledger.Account{Lamports: rent.MinimumBalance(AccountLen), Data: data, Owner: ProgramID}, nil
}
