package ledger

import "errors"

var (
	ErrUnknownProgram          = errors.New("unknown program")
	ErrMissingSignature        = errors.New("missing signature for signer account")
	ErrMissingAccount          = errors.New("account not passed to caller")
	ErrPrivilegeEscalation     = errors.New("cross-program invocation with unauthorized signer or writable account")
	ErrInvalidSeeds            = errors.New("invalid signer seeds")
	ErrCallDepth               = errors.New("cross-program invocation call depth too deep")
	ErrReadonlyDataModified    = errors.New("instruction modified data of a read-only account")
	ErrExternalDataModified    = errors.New("instruction modified data of an account it does not own")
	ErrReadonlyLamportChange   = errors.New("instruction changed the balance of a read-only account")
	ErrExternalLamportSpend    = errors.New("instruction spent from the balance of an account it does not own")
	ErrExecutableModified      = errors.New("instruction changed executable flag")
	ErrUnbalancedInstruction   = errors.New("sum of account balances before and after instruction do not match")
	ErrEmptyTransaction        = errors.New("transaction has no instructions")
	ErrProgramAlreadyInstalled = errors.New("program already installed")
)
