// Package position holds the persisted position record and the derivation
// of every address the position program controls.
package position

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Len is the exact storage size of a position record: one flag byte and the
// little-endian spread margin.
const Len = 9

var (
	ErrRecordTooShort = errors.New("position record too short")
	ErrInvalidFlag    = errors.New("position record has an invalid initialized flag")
)

// Position is the configuration of one owner's quotes on one market.
type Position struct {
	Initialized  bool
	SpreadMargin uint64
}

func (p Position) IsInitialized() bool {
	return p.Initialized
}

func Unpack(data []byte) (Position, error) {
	if len(data) < Len {
		return Position{}, fmt.Errorf("%w: %d bytes", ErrRecordTooShort, len(data))
	}
	var p Position
	switch data[0] {
	case 0:
	case 1:
		p.Initialized = true
	default:
		return Position{}, fmt.Errorf("%w: %d", ErrInvalidFlag, data[0])
	}
	p.SpreadMargin = binary.LittleEndian.Uint64(data[1:Len])
	return p, nil
}

// Pack writes p into dst, which must hold at least Len bytes.
func Pack(p Position, dst []byte) {
	_ = dst[Len-1]
	dst[0] = 0
	if p.Initialized {
		dst[0] = 1
	}
	binary.LittleEndian.PutUint64(dst[1:Len], p.SpreadMargin)
}
