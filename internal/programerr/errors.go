// Package programerr holds the error taxonomy shared by the position program
// and the components it sequences.
package programerr

import "errors"

var (
	ErrInvalidInstructionData = errors.New("invalid instruction data")
	ErrInvalidAccountData     = errors.New("invalid account data")
	ErrNotEnoughAccountKeys   = errors.New("not enough account keys")
	ErrMissingSigner          = errors.New("missing required signature")
	ErrNotWritable            = errors.New("account is not writable")

	ErrArithmeticOverflow           = errors.New("program arithmetic overflowed")
	ErrPositionIsAlreadyInitialized = errors.New("position is already initialized")
	ErrPositionNotInitialized       = errors.New("position is not initialized")

	ErrVenue = errors.New("venue call failed")

	// ErrInsufficientFunds is an owner balance that cannot cover the
	// funding an operation asked for.
	ErrInsufficientFunds = errors.New("insufficient owner funds")
)

// Kind groups errors by the stage that rejected the operation.
type Kind string

const (
	KindInput      Kind = "input"
	KindAccount    Kind = "account"
	KindState      Kind = "state"
	KindArithmetic Kind = "arithmetic"
	KindVenue      Kind = "venue"
	KindFunds      Kind = "funds"
	KindUnknown    Kind = "unknown"
)

func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInstructionData):
		return KindInput
	case errors.Is(err, ErrInvalidAccountData),
		errors.Is(err, ErrNotEnoughAccountKeys),
		errors.Is(err, ErrMissingSigner),
		errors.Is(err, ErrNotWritable):
		return KindAccount
	case errors.Is(err, ErrPositionIsAlreadyInitialized), errors.Is(err, ErrPositionNotInitialized):
		return KindState
	case errors.Is(err, ErrArithmeticOverflow):
		return KindArithmetic
	case errors.Is(err, ErrInsufficientFunds):
		return KindFunds
	case errors.Is(err, ErrVenue):
		return KindVenue
	default:
		return KindUnknown
	}
}

// Code returns the custom error code reported for the program's own errors.
// The numbering is part of the wire contract and must not be reordered.
func Code(err error) (uint32, bool) {
	switch {
	case errors.Is(err, ErrArithmeticOverflow):
		return 0, true
	case errors.Is(err, ErrPositionIsAlreadyInitialized):
		return 1, true
	case errors.Is(err, ErrPositionNotInitialized):
		return 2, true
	}
	return 0, false
}
