package paper

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrOutOfRange = errors.New("value does not fit the market's units")

// Scale converts between human units (whole tokens, quote per base) and the
// venue's units (ticks of quote atoms per base lot, base lots).
type Scale struct {
	BaseDecimals        uint8
	QuoteDecimals       uint8
	BaseAtomsPerBaseLot uint64
}

func (e *Environment) Scale() Scale {
	return Scale{
		BaseDecimals:        e.BaseDecimals,
		QuoteDecimals:       e.QuoteDecimals,
		BaseAtomsPerBaseLot: e.BaseAtomsPerBaseLot,
	}
}

func (s Scale) atomsPerLot() decimal.Decimal {
	return decimal.NewFromUint64(s.BaseAtomsPerBaseLot)
}

// PriceToTicks rounds a quote-per-base price down to whole ticks.
func (s Scale) PriceToTicks(price decimal.Decimal) (uint64, error) {
	ticks := price.Shift(int32(s.QuoteDecimals)).Mul(s.atomsPerLot()).Shift(-int32(s.BaseDecimals)).Floor()
	return toUint64(ticks)
}

// SizeToLots rounds a base token amount down to whole lots.
func (s Scale) SizeToLots(size decimal.Decimal) (uint64, error) {
	if s.BaseAtomsPerBaseLot == 0 {
		return 0, fmt.Errorf("%w: zero lot size", ErrOutOfRange)
	}
	lots := size.Shift(int32(s.BaseDecimals)).Div(s.atomsPerLot()).Floor()
	return toUint64(lots)
}

func (s Scale) TicksToPrice(ticks uint64) decimal.Decimal {
	if s.BaseAtomsPerBaseLot == 0 {
		return decimal.Zero
	}
	return decimal.NewFromUint64(ticks).Shift(int32(s.BaseDecimals)).Div(s.atomsPerLot()).Shift(-int32(s.QuoteDecimals))
}

func (s Scale) LotsToSize(lots uint64) decimal.Decimal {
	return decimal.NewFromUint64(lots).Mul(s.atomsPerLot()).Shift(-int32(s.BaseDecimals))
}

func (s Scale) BaseAtoms(atoms uint64) decimal.Decimal {
	return decimal.NewFromUint64(atoms).Shift(-int32(s.BaseDecimals))
}

func (s Scale) QuoteAtoms(atoms uint64) decimal.Decimal {
	return decimal.NewFromUint64(atoms).Shift(-int32(s.QuoteDecimals))
}

func toUint64(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %s is negative", ErrOutOfRange, d)
	}
	n := d.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d)
	}
	return n.Uint64(), nil
}
