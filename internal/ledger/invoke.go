package ledger

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// InvokeContext is handed to a program for one invocation. It carries the
// program's identity and lets it call other programs.
type InvokeContext struct {
	txn   *txn
	frame *frame
	depth int
	log   *zap.Logger
}

func (ic *InvokeContext) Context() context.Context {
	return ic.txn.ctx
}

func (ic *InvokeContext) ProgramID() solana.PublicKey {
	return ic.frame.programID
}

func (ic *InvokeContext) Rent() Rent {
	return ic.txn.bank.rent
}

func (ic *InvokeContext) Log() *zap.Logger {
	return ic.log
}

// SetReturnData publishes data for the program that invoked this one.
func (ic *InvokeContext) SetReturnData(data []byte) {
	ic.txn.ret = returnData{programID: ic.frame.programID, data: append([]byte(nil), data...)}
}

// ReturnData is what the most recently invoked program published, if any.
func (ic *InvokeContext) ReturnData() (solana.PublicKey, []byte) {
	return ic.txn.ret.programID, ic.txn.ret.data
}

// Invoke calls another program with the caller's privileges.
func (ic *InvokeContext) Invoke(ix solana.Instruction) error {
	return ic.InvokeSigned(ix)
}

// InvokeSigned calls another program. Each seed set derives an address of
// the calling program that is treated as a signer for the callee.
func (ic *InvokeContext) InvokeSigned(ix solana.Instruction, signerSeeds ...[][]byte) error {
	if ic.depth >= ic.txn.bank.maxDepth {
		return ErrCallDepth
	}
	derived := make(map[solana.PublicKey]struct{}, len(signerSeeds))
	for _, seeds := range signerSeeds {
		addr, err := solana.CreateProgramAddress(seeds, ic.frame.programID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
		}
		derived[addr] = struct{}{}
	}
	if _, ok := ic.frame.accounts[ix.ProgramID()]; !ok {
		return fmt.Errorf("%w: program %s", ErrMissingAccount, ix.ProgramID())
	}
	data, err := ix.Data()
	if err != nil {
		return err
	}
	metas := ix.Accounts()
	infos := make([]*AccountInfo, 0, len(metas))
	for _, meta := range metas {
		caller, ok := ic.frame.accounts[meta.PublicKey]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingAccount, meta.PublicKey)
		}
		if meta.IsWritable && !caller.IsWritable {
			return fmt.Errorf("%w: %s is not writable", ErrPrivilegeEscalation, meta.PublicKey)
		}
		if meta.IsSigner && !caller.IsSigner {
			if _, ok := derived[meta.PublicKey]; !ok {
				return fmt.Errorf("%w: %s did not sign", ErrPrivilegeEscalation, meta.PublicKey)
			}
		}
		infos = append(infos, &AccountInfo{
			Key:        meta.PublicKey,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
			Account:    caller.Account,
		})
	}

	// Changes the caller made so far are checked against the caller before
	// the callee sees them; afterwards the callee's changes become the
	// caller's new baseline.
	if err := ic.frame.verify(); err != nil {
		return err
	}
	ic.txn.ret = returnData{}
	if err := ic.txn.invoke(ix.ProgramID(), infos, data, ic.depth+1); err != nil {
		return err
	}
	ic.frame.resync()
	return nil
}
