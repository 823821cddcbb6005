package venue

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/vmihailenco/msgpack/v5"
)

// HeaderLen is the fixed width of the market header that precedes the book
// body in the market account.
const HeaderLen = 144

const marketDiscriminant uint64 = 0x74656b72616d7870 // "pxmarket"

type MarketStatus uint64

const (
	MarketUninitialized MarketStatus = iota
	MarketActive
	MarketClosed
)

// SizeParams bound how many resting orders and traders a market holds.
type SizeParams struct {
	BidsSize uint64
	AsksSize uint64
	NumSeats uint64
}

// Header is the fixed-width prefix of a market account. Prices are quote
// atoms per base lot; one quote lot is one quote atom.
type Header struct {
	Discriminant        uint64
	Status              MarketStatus
	Size                SizeParams
	BaseMint            solana.PublicKey
	QuoteMint           solana.PublicKey
	BaseAtomsPerBaseLot uint64
	Authority           solana.PublicKey
}

func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderLen {
		return Header{}, fmt.Errorf("%w: header has %d bytes", ErrInvalidMarket, len(data))
	}
	dec := bin.NewBinDecoder(data[:HeaderLen])
	var h Header
	words := make([]uint64, 5)
	for i := range words {
		v, err := dec.ReadUint64(binary.LittleEndian)
		if err != nil {
			return Header{}, err
		}
		words[i] = v
	}
	h.Discriminant = words[0]
	h.Status = MarketStatus(words[1])
	h.Size = SizeParams{BidsSize: words[2], AsksSize: words[3], NumSeats: words[4]}
	keys := make([]solana.PublicKey, 2)
	for i := range keys {
		raw, err := dec.ReadNBytes(solana.PublicKeyLength)
		if err != nil {
			return Header{}, err
		}
		keys[i] = solana.PublicKeyFromBytes(raw)
	}
	h.BaseMint, h.QuoteMint = keys[0], keys[1]
	lot, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return Header{}, err
	}
	h.BaseAtomsPerBaseLot = lot
	raw, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return Header{}, err
	}
	h.Authority = solana.PublicKeyFromBytes(raw)
	if h.Discriminant != marketDiscriminant {
		return Header{}, fmt.Errorf("%w: bad discriminant %#x", ErrInvalidMarket, h.Discriminant)
	}
	return h, nil
}

func (h Header) encode() []byte {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	for _, v := range []uint64{h.Discriminant, uint64(h.Status), h.Size.BidsSize, h.Size.AsksSize, h.Size.NumSeats} {
		_ = enc.WriteUint64(v, binary.LittleEndian)
	}
	_ = enc.WriteBytes(h.BaseMint.Bytes(), false)
	_ = enc.WriteBytes(h.QuoteMint.Bytes(), false)
	_ = enc.WriteUint64(h.BaseAtomsPerBaseLot, binary.LittleEndian)
	_ = enc.WriteBytes(h.Authority.Bytes(), false)
	return buf.Bytes()
}

type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// TraderState is a trader's balances held by the market. Locked amounts back
// resting orders; free amounts can be withdrawn or reused.
type TraderState struct {
	QuoteLotsLocked uint64 `msgpack:"ql"`
	QuoteLotsFree   uint64 `msgpack:"qf"`
	BaseLotsLocked  uint64 `msgpack:"bl"`
	BaseLotsFree    uint64 `msgpack:"bf"`
}

type Order struct {
	Trader        solana.PublicKey
	Side          Side
	PriceInTicks  uint64
	BaseLots      uint64
	ClientOrderID [16]byte
	Sequence      uint64
}

// LadderLevel aggregates every order resting at one price.
type LadderLevel struct {
	PriceInTicks   uint64
	SizeInBaseLots uint64
}

type Ladder struct {
	Bids []LadderLevel
	Asks []LadderLevel
}

// Market is the decoded state of a market account.
type Market struct {
	Header   Header
	sequence uint64
	bids     []Order // best first
	asks     []Order // best first
	traders  map[solana.PublicKey]*TraderState

	// reference levels are mirrored from an external book; they show in the
	// ladder but cannot be matched.
	refBids []LadderLevel
	refAsks []LadderLevel
}

type wireOrder struct {
	Trader   []byte `msgpack:"t"`
	Price    uint64 `msgpack:"p"`
	Lots     uint64 `msgpack:"l"`
	ClientID []byte `msgpack:"c"`
	Sequence uint64 `msgpack:"s"`
}

type wireTrader struct {
	Trader []byte      `msgpack:"t"`
	State  TraderState `msgpack:"s"`
}

type wireLevel struct {
	Price uint64 `msgpack:"p"`
	Lots  uint64 `msgpack:"l"`
}

type wireBook struct {
	Sequence uint64       `msgpack:"seq"`
	Bids     []wireOrder  `msgpack:"bids"`
	Asks     []wireOrder  `msgpack:"asks"`
	Traders  []wireTrader `msgpack:"traders"`
	RefBids  []wireLevel  `msgpack:"ref_bids,omitempty"`
	RefAsks  []wireLevel  `msgpack:"ref_asks,omitempty"`
}

func NewMarket(h Header) *Market {
	h.Discriminant = marketDiscriminant
	return &Market{Header: h, traders: make(map[solana.PublicKey]*TraderState)}
}

// Load decodes a market account: the header first, then the body, which must
// fit the header's size parameters.
func Load(data []byte) (*Market, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	m := &Market{Header: h, traders: make(map[solana.PublicKey]*TraderState)}
	body := data[HeaderLen:]
	if len(body) == 0 {
		return m, nil
	}
	var wb wireBook
	if err := msgpack.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrInvalidMarket, err)
	}
	if uint64(len(wb.Bids)) > h.Size.BidsSize || uint64(len(wb.Asks)) > h.Size.AsksSize {
		return nil, fmt.Errorf("%w: book exceeds size params", ErrInvalidMarket)
	}
	if uint64(len(wb.Traders)) > h.Size.NumSeats {
		return nil, fmt.Errorf("%w: %d traders for %d seats", ErrInvalidMarket, len(wb.Traders), h.Size.NumSeats)
	}
	m.sequence = wb.Sequence
	if m.bids, err = decodeOrders(wb.Bids, Bid); err != nil {
		return nil, err
	}
	if m.asks, err = decodeOrders(wb.Asks, Ask); err != nil {
		return nil, err
	}
	for _, wt := range wb.Traders {
		if len(wt.Trader) != solana.PublicKeyLength {
			return nil, fmt.Errorf("%w: trader key has %d bytes", ErrInvalidMarket, len(wt.Trader))
		}
		st := wt.State
		m.traders[solana.PublicKeyFromBytes(wt.Trader)] = &st
	}
	m.refBids = decodeLevels(wb.RefBids)
	m.refAsks = decodeLevels(wb.RefAsks)
	return m, nil
}

// Encode serialises the market into account data.
func (m *Market) Encode() ([]byte, error) {
	wb := wireBook{
		Sequence: m.sequence,
		Bids:     encodeOrders(m.bids),
		Asks:     encodeOrders(m.asks),
		RefBids:  encodeLevels(m.refBids),
		RefAsks:  encodeLevels(m.refAsks),
	}
	keys := make([]solana.PublicKey, 0, len(m.traders))
	for k := range m.traders {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	for _, k := range keys {
		wb.Traders = append(wb.Traders, wireTrader{Trader: k.Bytes(), State: *m.traders[k]})
	}
	body, err := msgpack.Marshal(wb)
	if err != nil {
		return nil, err
	}
	return append(m.Header.encode(), body...), nil
}

func (m *Market) BaseAtomsPerBaseLot() uint64 {
	return m.Header.BaseAtomsPerBaseLot
}

// TraderState returns the balances the market holds for trader.
func (m *Market) TraderState(trader solana.PublicKey) (TraderState, bool) {
	st, ok := m.traders[trader]
	if !ok {
		return TraderState{}, false
	}
	return *st, true
}

// Orders returns the resting orders of trader, bids first.
func (m *Market) Orders(trader solana.PublicKey) []Order {
	var out []Order
	for _, o := range m.bids {
		if o.Trader == trader {
			out = append(out, o)
		}
	}
	for _, o := range m.asks {
		if o.Trader == trader {
			out = append(out, o)
		}
	}
	return out
}

// Ladder aggregates resting and reference liquidity into at most depth price
// levels per side, best first.
func (m *Market) Ladder(depth int) Ladder {
	return Ladder{
		Bids: aggregate(m.bids, m.refBids, depth, func(a, b uint64) bool { return a > b }),
		Asks: aggregate(m.asks, m.refAsks, depth, func(a, b uint64) bool { return a < b }),
	}
}

func aggregate(orders []Order, ref []LadderLevel, depth int, better func(a, b uint64) bool) []LadderLevel {
	sizes := make(map[uint64]uint64)
	for _, o := range orders {
		sizes[o.PriceInTicks] += o.BaseLots
	}
	for _, l := range ref {
		sizes[l.PriceInTicks] += l.SizeInBaseLots
	}
	levels := make([]LadderLevel, 0, len(sizes))
	for price, size := range sizes {
		levels = append(levels, LadderLevel{PriceInTicks: price, SizeInBaseLots: size})
	}
	sort.Slice(levels, func(i, j int) bool { return better(levels[i].PriceInTicks, levels[j].PriceInTicks) })
	if depth >= 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}

func decodeOrders(in []wireOrder, side Side) ([]Order, error) {
	out := make([]Order, 0, len(in))
	for _, w := range in {
		if len(w.Trader) != solana.PublicKeyLength || len(w.ClientID) != 16 {
			return nil, fmt.Errorf("%w: malformed order", ErrInvalidMarket)
		}
		o := Order{
			Trader:       solana.PublicKeyFromBytes(w.Trader),
			Side:         side,
			PriceInTicks: w.Price,
			BaseLots:     w.Lots,
			Sequence:     w.Sequence,
		}
		copy(o.ClientOrderID[:], w.ClientID)
		out = append(out, o)
	}
	return out, nil
}

func encodeOrders(in []Order) []wireOrder {
	out := make([]wireOrder, 0, len(in))
	for _, o := range in {
		out = append(out, wireOrder{
			Trader:   o.Trader.Bytes(),
			Price:    o.PriceInTicks,
			Lots:     o.BaseLots,
			ClientID: append([]byte(nil), o.ClientOrderID[:]...),
			Sequence: o.Sequence,
		})
	}
	return out
}

func decodeLevels(in []wireLevel) []LadderLevel {
	out := make([]LadderLevel, 0, len(in))
	for _, l := range in {
		out = append(out, LadderLevel{PriceInTicks: l.Price, SizeInBaseLots: l.Lots})
	}
	return out
}

func encodeLevels(in []LadderLevel) []wireLevel {
	out := make([]wireLevel, 0, len(in))
	for _, l := range in {
		out = append(out, wireLevel{Price: l.PriceInTicks, Lots: l.SizeInBaseLots})
	}
	return out
}
