package token

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	MintLen    = 82
	AccountLen = 165
)

var ErrLayout = errors.New("invalid token layout")

type AccountState uint8

const (
	AccountUninitialized AccountState = iota
	AccountInitialized
	AccountFrozen
)

type Mint struct {
	MintAuthority   *solana.PublicKey
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *solana.PublicKey
}

// Account is a token holding: Amount units of Mint controlled by Owner.
type Account struct {
	Mint            solana.PublicKey
	Owner           solana.PublicKey
	Amount          uint64
	Delegate        *solana.PublicKey
	State           AccountState
	IsNative        *uint64
	DelegatedAmount uint64
	CloseAuthority  *solana.PublicKey
}

func (a Account) IsInitialized() bool {
	return a.State != AccountUninitialized
}

func UnpackMint(data []byte) (Mint, error) {
	if len(data) < MintLen {
		return Mint{}, fmt.Errorf("%w: mint has %d bytes", ErrLayout, len(data))
	}
	dec := bin.NewBinDecoder(data[:MintLen])
	var m Mint
	var err error
	if m.MintAuthority, err = readOptionKey(dec); err != nil {
		return Mint{}, err
	}
	if m.Supply, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return Mint{}, err
	}
	if m.Decimals, err = dec.ReadUint8(); err != nil {
		return Mint{}, err
	}
	if m.IsInitialized, err = dec.ReadBool(); err != nil {
		return Mint{}, err
	}
	if m.FreezeAuthority, err = readOptionKey(dec); err != nil {
		return Mint{}, err
	}
	return m, nil
}

func (m Mint) Pack(dst []byte) error {
	if len(dst) < MintLen {
		return fmt.Errorf("%w: mint buffer has %d bytes", ErrLayout, len(dst))
	}
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	writeOptionKey(enc, m.MintAuthority)
	_ = enc.WriteUint64(m.Supply, binary.LittleEndian)
	_ = enc.WriteUint8(m.Decimals)
	_ = enc.WriteBool(m.IsInitialized)
	writeOptionKey(enc, m.FreezeAuthority)
	copy(dst, buf.Bytes())
	return nil
}

func UnpackAccount(data []byte) (Account, error) {
	if len(data) < AccountLen {
		return Account{}, fmt.Errorf("%w: account has %d bytes", ErrLayout, len(data))
	}
	dec := bin.NewBinDecoder(data[:AccountLen])
	var a Account
	mint, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return Account{}, err
	}
	owner, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return Account{}, err
	}
	a.Mint = solana.PublicKeyFromBytes(mint)
	a.Owner = solana.PublicKeyFromBytes(owner)
	if a.Amount, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return Account{}, err
	}
	if a.Delegate, err = readOptionKey(dec); err != nil {
		return Account{}, err
	}
	state, err := dec.ReadUint8()
	if err != nil {
		return Account{}, err
	}
	if state > uint8(AccountFrozen) {
		return Account{}, fmt.Errorf("%w: account state %d", ErrLayout, state)
	}
	a.State = AccountState(state)
	if a.IsNative, err = readOptionUint64(dec); err != nil {
		return Account{}, err
	}
	if a.DelegatedAmount, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return Account{}, err
	}
	if a.CloseAuthority, err = readOptionKey(dec); err != nil {
		return Account{}, err
	}
	return a, nil
}

func (a Account) Pack(dst []byte) error {
	if len(dst) < AccountLen {
		return fmt.Errorf("%w: account buffer has %d bytes", ErrLayout, len(dst))
	}
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	_ = enc.WriteBytes(a.Mint.Bytes(), false)
	_ = enc.WriteBytes(a.Owner.Bytes(), false)
	_ = enc.WriteUint64(a.Amount, binary.LittleEndian)
	writeOptionKey(enc, a.Delegate)
	_ = enc.WriteUint8(uint8(a.State))
	writeOptionUint64(enc, a.IsNative)
	_ = enc.WriteUint64(a.DelegatedAmount, binary.LittleEndian)
	writeOptionKey(enc, a.CloseAuthority)
	copy(dst, buf.Bytes())
	return nil
}

// COption fields are a 4-byte tag followed by a fixed-width body that is
// present (zeroed) even when the tag is 0.
func readOptionKey(dec *bin.Decoder) (*solana.PublicKey, error) {
	tag, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	raw, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		return nil, nil
	case 1:
		key := solana.PublicKeyFromBytes(raw)
		return &key, nil
	default:
		return nil, fmt.Errorf("%w: option tag %d", ErrLayout, tag)
	}
}

func readOptionUint64(dec *bin.Decoder) (*uint64, error) {
	tag, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	v, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		return nil, nil
	case 1:
		return &v, nil
	default:
		return nil, fmt.Errorf("%w: option tag %d", ErrLayout, tag)
	}
}

func writeOptionKey(enc *bin.Encoder, key *solana.PublicKey) {
	if key == nil {
		_ = enc.WriteUint32(0, binary.LittleEndian)
		_ = enc.WriteBytes(make([]byte, solana.PublicKeyLength), false)
		return
	}
	_ = enc.WriteUint32(1, binary.LittleEndian)
	_ = enc.WriteBytes(key.Bytes(), false)
}

func writeOptionUint64(enc *bin.Encoder, v *uint64) {
	if v == nil {
		_ = enc.WriteUint32(0, binary.LittleEndian)
		_ = enc.WriteUint64(0, binary.LittleEndian)
		return
	}
	_ = enc.WriteUint32(1, binary.LittleEndian)
	_ = enc.WriteUint64(*v, binary.LittleEndian)
}
