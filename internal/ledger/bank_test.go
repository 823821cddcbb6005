package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"px-position-manager/internal/ledger"
	"px-position-manager/internal/ledger/system"
	"px-position-manager/internal/state/sqlite"

	"github.com/gagliardetto/solana-go"
)

type scriptProgram struct {
	id solana.PublicKey
	fn func(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error
}

func (p scriptProgram) ID() solana.PublicKey { return p.id }

func (p scriptProgram) Process(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error {
	return p.fn(ic, accounts, data)
}

func newBank(t *testing.T, opts ...ledger.Option) *ledger.Bank {
	t.Helper()
	bank := ledger.NewBank(nil, opts...)
	if err := bank.Install(system.Program{}); err != nil {
		t.Fatalf("install system: %v", err)
	}
	return bank
}

func fund(t *testing.T, bank *ledger.Bank, key solana.PublicKey, lamports uint64) {
	t.Helper()
	if err := bank.SetAccount(context.Background(), key, &ledger.Account{Lamports: lamports, Owner: system.ProgramID}); err != nil {
		t.Fatalf("fund %s: %v", key, err)
	}
}

func lamports(t *testing.T, bank *ledger.Bank, key solana.PublicKey) uint64 {
	t.Helper()
	acct, ok, err := bank.Account(context.Background(), key)
	if err != nil {
		t.Fatalf("load %s: %v", key, err)
	}
	if !ok {
		return 0
	}
	return acct.Lamports
}

func TestTransactionIsAtomic(t *testing.T) {
	bank := newBank(t)
	alice := solana.NewWallet().PrivateKey
	bob := solana.NewWallet().PublicKey()
	fund(t, bank, alice.PublicKey(), 100)

	err := bank.Process(context.Background(), []solana.Instruction{
		system.NewTransferInstruction(alice.PublicKey(), bob, 60),
		system.NewTransferInstruction(alice.PublicKey(), bob, 60),
	}, alice)
	if !errors.Is(err, system.ErrInsufficientLamports) {
		t.Fatalf("expected ErrInsufficientLamports, got %v", err)
	}
	if got := lamports(t, bank, alice.PublicKey()); got != 100 {
		t.Fatalf("expected alice untouched at 100, got %d", got)
	}
	if got := lamports(t, bank, bob); got != 0 {
		t.Fatalf("expected bob to have nothing, got %d", got)
	}
}

func TestMissingSignatureRejected(t *testing.T) {
	bank := newBank(t)
	alice := solana.NewWallet().PrivateKey
	fund(t, bank, alice.PublicKey(), 100)

	err := bank.Process(context.Background(), []solana.Instruction{
		system.NewTransferInstruction(alice.PublicKey(), solana.NewWallet().PublicKey(), 1),
	})
	if !errors.Is(err, ledger.ErrMissingSignature) {
		t.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}

func TestInvokeCannotEscalateSigner(t *testing.T) {
	bank := newBank(t)
	victim := solana.NewWallet().PublicKey()
	thief := solana.NewWallet().PublicKey()
	fund(t, bank, victim, 100)

	programID := solana.NewWallet().PublicKey()
	if err := bank.Install(scriptProgram{id: programID, fn: func(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, _ []byte) error {
		return ic.Invoke(system.NewTransferInstruction(accounts[1].Key, accounts[2].Key, 100))
	}}); err != nil {
		t.Fatalf("install: %v", err)
	}
	err := bank.Process(context.Background(), []solana.Instruction{
		solana.NewInstruction(programID, solana.AccountMetaSlice{
			solana.NewAccountMeta(system.ProgramID, false, false),
			solana.NewAccountMeta(victim, true, false),
			solana.NewAccountMeta(thief, true, false),
		}, nil),
	})
	if !errors.Is(err, ledger.ErrPrivilegeEscalation) {
		t.Fatalf("expected ErrPrivilegeEscalation, got %v", err)
	}
	if got := lamports(t, bank, victim); got != 100 {
		t.Fatalf("expected victim untouched, got %d", got)
	}
}

func TestInvokeSignedWithDerivedAddress(t *testing.T) {
	bank := newBank(t)
	programID := solana.NewWallet().PublicKey()
	vault, bump, err := solana.FindProgramAddress([][]byte{[]byte("vault")}, programID)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	fund(t, bank, vault, 50)
	dest := solana.NewWallet().PublicKey()

	var seeds [][]byte
	if err := bank.Install(scriptProgram{id: programID, fn: func(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, _ []byte) error {
		return ic.InvokeSigned(system.NewTransferInstruction(accounts[1].Key, accounts[2].Key, 20), seeds)
	}}); err != nil {
		t.Fatalf("install: %v", err)
	}
	ix := solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(system.ProgramID, false, false),
		solana.NewAccountMeta(vault, true, false),
		solana.NewAccountMeta(dest, true, false),
	}, nil)

	seeds = [][]byte{[]byte("not-the-vault"), {bump}}
	if err := bank.Process(context.Background(), []solana.Instruction{ix}); err == nil {
		t.Fatalf("expected wrong seeds to be rejected")
	}

	seeds = [][]byte{[]byte("vault"), {bump}}
	if err := bank.Process(context.Background(), []solana.Instruction{ix}); err != nil {
		t.Fatalf("signed invoke: %v", err)
	}
	if got := lamports(t, bank, dest); got != 20 {
		t.Fatalf("expected 20 lamports at dest, got %d", got)
	}
	if got := lamports(t, bank, vault); got != 30 {
		t.Fatalf("expected 30 lamports left in vault, got %d", got)
	}
}

func TestVerifyRejectsForeignWrites(t *testing.T) {
	bank := newBank(t)
	foreign := solana.NewWallet().PublicKey()
	fund(t, bank, foreign, 10)
	programID := solana.NewWallet().PublicKey()

	cases := []struct {
		name string
		fn   func(accounts []*ledger.AccountInfo)
		want error
	}{
		{
			name: "data",
			fn:   func(accounts []*ledger.AccountInfo) { accounts[0].Data = []byte{1} },
			want: ledger.ErrExternalDataModified,
		},
		{
			name: "spend",
			fn: func(accounts []*ledger.AccountInfo) {
				accounts[0].Lamports -= 5
				accounts[1].Lamports += 5
			},
			want: ledger.ErrExternalLamportSpend,
		},
		{
			name: "mint",
			fn:   func(accounts []*ledger.AccountInfo) { accounts[1].Lamports += 5 },
			want: ledger.ErrUnbalancedInstruction,
		},
	}
	var current func(accounts []*ledger.AccountInfo)
	if err := bank.Install(scriptProgram{id: programID, fn: func(_ *ledger.InvokeContext, accounts []*ledger.AccountInfo, _ []byte) error {
		current(accounts)
		return nil
	}}); err != nil {
		t.Fatalf("install: %v", err)
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			current = tc.fn
			err := bank.Process(context.Background(), []solana.Instruction{
				solana.NewInstruction(programID, solana.AccountMetaSlice{
					solana.NewAccountMeta(foreign, true, false),
					solana.NewAccountMeta(solana.NewWallet().PublicKey(), true, false),
				}, nil),
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if got := lamports(t, bank, foreign); got != 10 {
				t.Fatalf("expected foreign account untouched, got %d", got)
			}
		})
	}
}

func TestPersistentStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	kv, err := sqlite.New(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	bank := newBank(t, ledger.WithStore(ledger.NewKVStore(kv)))
	alice := solana.NewWallet().PrivateKey
	bob := solana.NewWallet().PublicKey()
	fund(t, bank, alice.PublicKey(), 100)
	if err := bank.Process(context.Background(), []solana.Instruction{
		system.NewTransferInstruction(alice.PublicKey(), bob, 100),
	}, alice); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	kv, err = sqlite.New(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer kv.Close()
	reopened := newBank(t, ledger.WithStore(ledger.NewKVStore(kv)))
	if got := lamports(t, reopened, bob); got != 100 {
		t.Fatalf("expected bob to have 100 after reopen, got %d", got)
	}
	if _, ok, _ := reopened.Account(context.Background(), alice.PublicKey()); ok {
		t.Fatalf("expected drained account to be garbage collected")
	}
}

func TestRentMinimumBalance(t *testing.T) {
	rent := ledger.DefaultRent()
	if got := rent.MinimumBalance(0); got != 890880 {
		t.Fatalf("expected 890880, got %d", got)
	}
	if got := rent.MinimumBalance(165); got != 2039280 {
		t.Fatalf("expected 2039280, got %d", got)
	}
}

func TestProcessWithResultKeepsLastReturnData(t *testing.T) {
	bank := newBank(t)
	echo := scriptProgram{id: solana.NewWallet().PublicKey(), fn: func(ic *ledger.InvokeContext, _ []*ledger.AccountInfo, data []byte) error {
		if len(data) > 0 {
			ic.SetReturnData(data)
		}
		return nil
	}}
	if err := bank.Install(echo); err != nil {
		t.Fatalf("install: %v", err)
	}
	call := func(data ...byte) solana.Instruction {
		return solana.NewInstruction(echo.id, solana.AccountMetaSlice{}, data)
	}

	res, err := bank.ProcessWithResult(context.Background(), []solana.Instruction{call(1, 2), call()})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.ReturnProgram != echo.id || string(res.ReturnData) != "\x01\x02" {
		t.Fatalf("unexpected result %+v", res)
	}
	res, err = bank.ProcessWithResult(context.Background(), []solana.Instruction{call(1), call(3)})
	if err != nil || string(res.ReturnData) != "\x03" {
		t.Fatalf("expected the last instruction's data, got %+v (%v)", res, err)
	}
	res, err = bank.ProcessWithResult(context.Background(), []solana.Instruction{call()})
	if err != nil || len(res.ReturnData) != 0 {
		t.Fatalf("expected no return data, got %+v (%v)", res, err)
	}
}
