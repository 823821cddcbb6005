package ledger

import (
	"bytes"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"lukechampine.com/uint128"
)

// frame tracks the accounts of one invocation and the state they had when
// the invoking program last gained control of them.
type frame struct {
	programID solana.PublicKey
	accounts  map[solana.PublicKey]*AccountInfo
	pre       map[solana.PublicKey]*Account
}

func newFrame(programID solana.PublicKey, infos []*AccountInfo) *frame {
	f := &frame{
		programID: programID,
		accounts:  make(map[solana.PublicKey]*AccountInfo, len(infos)),
	}
	for _, info := range infos {
		merged, ok := f.accounts[info.Key]
		if !ok {
			f.accounts[info.Key] = &AccountInfo{
				Key:        info.Key,
				IsSigner:   info.IsSigner,
				IsWritable: info.IsWritable,
				Account:    info.Account,
			}
			continue
		}
		merged.IsSigner = merged.IsSigner || info.IsSigner
		merged.IsWritable = merged.IsWritable || info.IsWritable
	}
	f.resync()
	return f
}

func (f *frame) resync() {
	f.pre = make(map[solana.PublicKey]*Account, len(f.accounts))
	for key, info := range f.accounts {
		f.pre[key] = info.Account.clone()
	}
}

// verify enforces the ownership rules on everything the program changed
// since the last resync:
//   - only the owner may change data or reassign an account;
//   - only the owner may debit lamports, anyone may credit a writable account;
//   - read-only accounts stay untouched;
//   - total lamports are conserved.
func (f *frame) verify() error {
	preTotal := uint128.Zero
	postTotal := uint128.Zero
	for key, info := range f.accounts {
		pre := f.pre[key]
		post := info.Account
		preTotal = preTotal.Add64(pre.Lamports)
		postTotal = postTotal.Add64(post.Lamports)

		if pre.Executable != post.Executable {
			return fmt.Errorf("%w: %s", ErrExecutableModified, key)
		}
		if pre.Owner != post.Owner || !bytes.Equal(pre.Data, post.Data) {
			if !info.IsWritable {
				return fmt.Errorf("%w: %s", ErrReadonlyDataModified, key)
			}
			if pre.Owner != f.programID {
				return fmt.Errorf("%w: %s", ErrExternalDataModified, key)
			}
		}
		if post.Lamports != pre.Lamports {
			if !info.IsWritable {
				return fmt.Errorf("%w: %s", ErrReadonlyLamportChange, key)
			}
			if post.Lamports < pre.Lamports && pre.Owner != f.programID {
				return fmt.Errorf("%w: %s", ErrExternalLamportSpend, key)
			}
		}
	}
	if !preTotal.Equals(postTotal) {
		return fmt.Errorf("%w: before %s after %s", ErrUnbalancedInstruction, preTotal, postTotal)
	}
	f.resync()
	return nil
}
