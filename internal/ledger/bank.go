package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

const defaultMaxDepth = 4

type Program interface {
	ID() solana.PublicKey
	Process(ic *InvokeContext, accounts []*AccountInfo, data []byte) error
}

// AccountStore persists committed accounts. A nil value in updates deletes
// the account.
type AccountStore interface {
	LoadAccount(ctx context.Context, key solana.PublicKey) (*Account, bool, error)
	CommitAccounts(ctx context.Context, updates map[solana.PublicKey]*Account) error
}

// Bank executes transactions against the account set. Transactions are
// serialised; each one commits every effect or none.
type Bank struct {
	mu       sync.Mutex
	log      *zap.Logger
	rent     Rent
	store    AccountStore
	maxDepth int
	accounts map[solana.PublicKey]*Account
	programs map[solana.PublicKey]Program
}

type Option func(*Bank)

func WithStore(store AccountStore) Option {
	return func(b *Bank) { b.store = store }
}

func WithRent(rent Rent) Option {
	return func(b *Bank) { b.rent = rent }
}

func NewBank(log *zap.Logger, opts ...Option) *Bank {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bank{
		log:      log,
		rent:     DefaultRent(),
		maxDepth: defaultMaxDepth,
		accounts: make(map[solana.PublicKey]*Account),
		programs: make(map[solana.PublicKey]Program),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bank) Install(p Program) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.programs[p.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrProgramAlreadyInstalled, p.ID())
	}
	b.programs[p.ID()] = p
	return nil
}

func (b *Bank) Rent() Rent {
	return b.rent
}

// Account returns a copy of the committed account at key.
func (b *Bank) Account(ctx context.Context, key solana.PublicKey) (*Account, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct, ok, err := b.lookup(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return acct.clone(), true, nil
}

// SetAccount writes an account outside of any program, for genesis state.
func (b *Bank) SetAccount(ctx context.Context, key solana.PublicKey, acct *Account) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := acct.clone()
	if b.store != nil {
		if err := b.store.CommitAccounts(ctx, map[solana.PublicKey]*Account{key: stored}); err != nil {
			return err
		}
	}
	b.accounts[key] = stored
	return nil
}

// Process runs the instructions as one transaction. Signers prove control of
// the keys the instructions mark as signers.
func (b *Bank) Process(ctx context.Context, ixs []solana.Instruction, signers ...solana.PrivateKey) error {
	_, err := b.ProcessWithResult(ctx, ixs, signers...)
	return err
}

// Result is what a committed transaction left behind: the return data of its
// last instruction that published any.
type Result struct {
	ReturnProgram solana.PublicKey
	ReturnData    []byte
}

// ProcessWithResult is Process that also reports the transaction's return
// data.
func (b *Bank) ProcessWithResult(ctx context.Context, ixs []solana.Instruction, signers ...solana.PrivateKey) (Result, error) {
	if len(ixs) == 0 {
		return Result{}, ErrEmptyTransaction
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	t := &txn{
		bank:     b,
		ctx:      ctx,
		working:  make(map[solana.PublicKey]*Account),
		original: make(map[solana.PublicKey]*Account),
		signers:  make(map[solana.PublicKey]struct{}, len(signers)),
	}
	for _, key := range signers {
		t.signers[key.PublicKey()] = struct{}{}
	}
	var res Result
	for i, ix := range ixs {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		t.ret = returnData{}
		if err := t.execute(ix); err != nil {
			return Result{}, fmt.Errorf("instruction %d: %w", i, err)
		}
		if len(t.ret.data) > 0 {
			res = Result{ReturnProgram: t.ret.programID, ReturnData: t.ret.data}
		}
	}
	if err := t.commit(); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (b *Bank) lookup(ctx context.Context, key solana.PublicKey) (*Account, bool, error) {
	if acct, ok := b.accounts[key]; ok {
		return acct, true, nil
	}
	if b.store == nil {
		return nil, false, nil
	}
	acct, ok, err := b.store.LoadAccount(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	b.accounts[key] = acct
	return acct, true, nil
}

type txn struct {
	bank     *Bank
	ctx      context.Context
	working  map[solana.PublicKey]*Account
	original map[solana.PublicKey]*Account
	signers  map[solana.PublicKey]struct{}
	ret      returnData
}

type returnData struct {
	programID solana.PublicKey
	data      []byte
}

func (t *txn) load(key solana.PublicKey) (*Account, error) {
	if acct, ok := t.working[key]; ok {
		return acct, nil
	}
	acct, ok, err := t.bank.lookup(t.ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		t.original[key] = nil
		t.working[key] = emptyAccount()
		return t.working[key], nil
	}
	t.original[key] = acct
	t.working[key] = acct.clone()
	return t.working[key], nil
}

func (t *txn) execute(ix solana.Instruction) error {
	data, err := ix.Data()
	if err != nil {
		return err
	}
	metas := ix.Accounts()
	infos := make([]*AccountInfo, 0, len(metas))
	for _, meta := range metas {
		if meta.IsSigner {
			if _, ok := t.signers[meta.PublicKey]; !ok {
				return fmt.Errorf("%w: %s", ErrMissingSignature, meta.PublicKey)
			}
		}
		acct, err := t.load(meta.PublicKey)
		if err != nil {
			return err
		}
		infos = append(infos, &AccountInfo{
			Key:        meta.PublicKey,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
			Account:    acct,
		})
	}
	return t.invoke(ix.ProgramID(), infos, data, 1)
}

func (t *txn) invoke(programID solana.PublicKey, infos []*AccountInfo, data []byte, depth int) error {
	program, ok := t.bank.programs[programID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProgram, programID)
	}
	f := newFrame(programID, infos)
	ic := &InvokeContext{
		txn:   t,
		frame: f,
		depth: depth,
		log:   t.bank.log.With(zap.String("program", programID.String()), zap.Int("depth", depth)),
	}
	if err := program.Process(ic, infos, data); err != nil {
		return err
	}
	return f.verify()
}

func (t *txn) commit() error {
	updates := make(map[solana.PublicKey]*Account)
	for key, acct := range t.working {
		orig := t.original[key]
		if acct.Lamports == 0 {
			if orig != nil {
				updates[key] = nil
			}
			continue
		}
		if orig == nil || !orig.equal(acct) {
			updates[key] = acct
		}
	}
	if len(updates) == 0 {
		return nil
	}
	if t.bank.store != nil {
		if err := t.bank.store.CommitAccounts(t.ctx, updates); err != nil {
			return fmt.Errorf("persist accounts: %w", err)
		}
	}
	for key, acct := range updates {
		if acct == nil {
			delete(t.bank.accounts, key)
			continue
		}
		t.bank.accounts[key] = acct
	}
	return nil
}
