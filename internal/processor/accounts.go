package processor

import (
	"fmt"

	"px-position-manager/internal/ledger"
	"px-position-manager/internal/ledger/system"
	"px-position-manager/internal/ledger/token"
	"px-position-manager/internal/programerr"
	"px-position-manager/internal/venue"

	"github.com/gagliardetto/solana-go"
)

type accountIter struct {
	accounts []*ledger.AccountInfo
	next     int
}

func (it *accountIter) take() (*ledger.AccountInfo, error) {
	if it.next >= len(it.accounts) {
		return nil, fmt.Errorf("%w: expected more than %d", programerr.ErrNotEnoughAccountKeys, it.next)
	}
	info := it.accounts[it.next]
	it.next++
	return info, nil
}

func takeAll(it *accountIter, dst ...**ledger.AccountInfo) error {
	for _, d := range dst {
		info, err := it.take()
		if err != nil {
			return err
		}
		*d = info
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{programerr.ErrInvalidAccountData}, args...)...)
}

func checkVenueProgram(info *ledger.AccountInfo) error {
	if info.Key != venue.ProgramID {
		return invalid("venue program %s", info.Key)
	}
	return nil
}

func checkSystemProgram(info *ledger.AccountInfo) error {
	if info.Key != system.ProgramID {
		return invalid("system program %s", info.Key)
	}
	return nil
}

func checkTokenProgram(info *ledger.AccountInfo) error {
	if info.Key != token.ProgramID {
		return invalid("token program %s", info.Key)
	}
	return nil
}

func checkMarket(info *ledger.AccountInfo) error {
	if info.Owner != venue.ProgramID {
		return invalid("market %s is not owned by the venue", info.Key)
	}
	return nil
}

func checkOwnerSigner(owner *ledger.AccountInfo) error {
	if !owner.IsSigner {
		return fmt.Errorf("%w: owner %s", programerr.ErrMissingSigner, owner.Key)
	}
	if !owner.IsWritable {
		return fmt.Errorf("%w: owner %s", programerr.ErrNotWritable, owner.Key)
	}
	return nil
}

func checkWritable(infos ...*ledger.AccountInfo) error {
	for _, info := range infos {
		if !info.IsWritable {
			return fmt.Errorf("%w: %s", programerr.ErrNotWritable, info.Key)
		}
	}
	return nil
}

// checkTokenAccount decodes a token account and requires it to hold mint.
// A zero owner skips the owner check.
func checkTokenAccount(info *ledger.AccountInfo, owner, mint solana.PublicKey, role string) error {
	if info.Owner != token.ProgramID {
		return invalid("%s %s is not a token account", role, info.Key)
	}
	acct, err := token.UnpackAccount(info.Data)
	if err != nil {
		return invalid("%s %s: %v", role, info.Key, err)
	}
	if !acct.IsInitialized() {
		return invalid("%s %s is not initialized", role, info.Key)
	}
	if !owner.IsZero() && acct.Owner != owner {
		return invalid("%s %s is owned by %s", role, info.Key, acct.Owner)
	}
	if acct.Mint != mint {
		return invalid("%s %s holds mint %s", role, info.Key, acct.Mint)
	}
	return nil
}

func expectKey(info *ledger.AccountInfo, want solana.PublicKey, role string) error {
	if info.Key != want {
		return invalid("%s: expected %s got %s", role, want, info.Key)
	}
	return nil
}
