// Package instruction frames the position program's commands: a one-byte tag
// followed by a fixed little-endian payload.
package instruction

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"px-position-manager/internal/programerr"

	bin "github.com/gagliardetto/binary"
	"lukechampine.com/uint128"
)

type Tag uint8

const (
	TagOpen      Tag = 0
	TagUnwind    Tag = 1
	TagRebalance Tag = 2
)

func (t Tag) String() string {
	switch t {
	case TagOpen:
		return "open"
	case TagUnwind:
		return "unwind"
	case TagRebalance:
		return "rebalance"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Side tags as they appear on the wire.
const (
	SideBid uint8 = 1
	SideAsk uint8 = 2
)

type Open struct {
	Side          uint8
	SpreadMargin  uint64
	BaseLots      uint64
	ClientOrderID uint128.Uint128
}

type Unwind struct{}

type Rebalance struct {
	ClientOrderID uint128.Uint128
}

// Command is one of Open, Unwind or Rebalance.
type Command interface {
	Tag() Tag
}

func (Open) Tag() Tag      { return TagOpen }
func (Unwind) Tag() Tag    { return TagUnwind }
func (Rebalance) Tag() Tag { return TagRebalance }

// Unpack decodes instruction data. Trailing bytes are ignored.
func Unpack(data []byte) (Command, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", programerr.ErrInvalidInstructionData)
	}
	dec := bin.NewBinDecoder(data[1:])
	switch Tag(data[0]) {
	case TagOpen:
		var cmd Open
		var err error
		if cmd.Side, err = dec.ReadUint8(); err != nil {
			return nil, fmt.Errorf("%w: side: %v", programerr.ErrInvalidInstructionData, err)
		}
		if cmd.SpreadMargin, err = dec.ReadUint64(binary.LittleEndian); err != nil {
			return nil, fmt.Errorf("%w: spread margin: %v", programerr.ErrInvalidInstructionData, err)
		}
		if cmd.BaseLots, err = dec.ReadUint64(binary.LittleEndian); err != nil {
			return nil, fmt.Errorf("%w: base lots: %v", programerr.ErrInvalidInstructionData, err)
		}
		if cmd.ClientOrderID, err = readUint128(dec); err != nil {
			return nil, err
		}
		return cmd, nil
	case TagUnwind:
		return Unwind{}, nil
	case TagRebalance:
		id, err := readUint128(dec)
		if err != nil {
			return nil, err
		}
		return Rebalance{ClientOrderID: id}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", programerr.ErrInvalidInstructionData, data[0])
	}
}

// Pack encodes a command in the wire format Unpack reads.
func Pack(cmd Command) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteUint8(uint8(cmd.Tag()))
	switch c := cmd.(type) {
	case Open:
		_ = enc.WriteUint8(c.Side)
		_ = enc.WriteUint64(c.SpreadMargin, binary.LittleEndian)
		_ = enc.WriteUint64(c.BaseLots, binary.LittleEndian)
		writeUint128(enc, c.ClientOrderID)
	case Rebalance:
		writeUint128(enc, c.ClientOrderID)
	}
	return buf.Bytes()
}

func readUint128(dec *bin.Decoder) (uint128.Uint128, error) {
	raw, err := dec.ReadNBytes(16)
	if err != nil {
		return uint128.Zero, fmt.Errorf("%w: client order id: %v", programerr.ErrInvalidInstructionData, err)
	}
	return uint128.FromBytes(raw), nil
}

func writeUint128(enc *bin.Encoder, v uint128.Uint128) {
	raw := make([]byte, 16)
	v.PutBytes(raw)
	_ = enc.WriteBytes(raw, false)
}

// RebalanceResult is published as return data by a committed Rebalance.
type RebalanceResult struct {
	BidPlaced bool
	AskPlaced bool
}

// Placed is the number of orders the rebalance rested.
func (r RebalanceResult) Placed() int {
	n := 0
	if r.BidPlaced {
		n++
	}
	if r.AskPlaced {
		n++
	}
	return n
}

const rebalanceResultLen = 2

func PackRebalanceResult(r RebalanceResult) []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteBool(r.BidPlaced)
	_ = enc.WriteBool(r.AskPlaced)
	return buf.Bytes()
}

func UnpackRebalanceResult(data []byte) (RebalanceResult, error) {
	if len(data) != rebalanceResultLen {
		return RebalanceResult{}, fmt.Errorf("%w: rebalance result is %d bytes", programerr.ErrInvalidAccountData, len(data))
	}
	dec := bin.NewBinDecoder(data)
	var r RebalanceResult
	var err error
	if r.BidPlaced, err = dec.ReadBool(); err != nil {
		return RebalanceResult{}, err
	}
	if r.AskPlaced, err = dec.ReadBool(); err != nil {
		return RebalanceResult{}, err
	}
	return r, nil
}
