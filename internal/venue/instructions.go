package venue

import (
	"fmt"

	"px-position-manager/internal/ledger/system"
	"px-position-manager/internal/ledger/token"

	"github.com/gagliardetto/solana-go"
	"github.com/vmihailenco/msgpack/v5"
	"lukechampine.com/uint128"
)

const (
	instructionPlaceLimitOrder              uint8 = 2
	instructionPlaceLimitOrderWithFreeFunds uint8 = 3
	instructionCancelAllOrdersWithFreeFunds uint8 = 7
	instructionWithdrawFunds                uint8 = 13
	instructionInitializeMarket             uint8 = 100
	instructionReplaceMakerBook             uint8 = 110
)

// SelfTradeBehavior decides what happens when an incoming order would match a
// resting order of the same trader.
type SelfTradeBehavior uint8

const (
	SelfTradeAbort SelfTradeBehavior = iota
	SelfTradeCancelProvide
	SelfTradeDecrementTake
)

type OrderPacket struct {
	Side              Side              `msgpack:"side"`
	PriceInTicks      uint64            `msgpack:"price"`
	NumBaseLots       uint64            `msgpack:"lots"`
	SelfTradeBehavior SelfTradeBehavior `msgpack:"stb"`
	ClientOrderID     uint128.Uint128   `msgpack:"cid"`
	// UseOnlyDepositedFunds forbids pulling from token accounts.
	UseOnlyDepositedFunds bool `msgpack:"deposited"`
	// FailSilentlyOnInsufficientFunds turns an unfunded order into a no-op.
	FailSilentlyOnInsufficientFunds bool `msgpack:"fail_silently"`
}

// NewLimitOrderPacket builds the packet for a resting limit order.
func NewLimitOrderPacket(side Side, price, lots uint64, stb SelfTradeBehavior, clientOrderID uint128.Uint128) OrderPacket {
	return OrderPacket{
		Side:              side,
		PriceInTicks:      price,
		NumBaseLots:       lots,
		SelfTradeBehavior: stb,
		ClientOrderID:     clientOrderID,
	}
}

// PlaceResult is published as return data by both order placement calls.
type PlaceResult struct {
	Placed      bool   `msgpack:"placed"`
	Sequence    uint64 `msgpack:"seq,omitempty"`
	FilledLots  uint64 `msgpack:"filled,omitempty"`
	RestingLots uint64 `msgpack:"resting,omitempty"`
}

func DecodePlaceResult(data []byte) (PlaceResult, error) {
	var res PlaceResult
	if err := msgpack.Unmarshal(data, &res); err != nil {
		return PlaceResult{}, fmt.Errorf("decode place result: %w", err)
	}
	return res, nil
}

type InitializeParams struct {
	Size                SizeParams `msgpack:"size"`
	BaseAtomsPerBaseLot uint64     `msgpack:"base_lot"`
}

type makerBook struct {
	Bids []wireLevel `msgpack:"bids"`
	Asks []wireLevel `msgpack:"asks"`
}

// NewPlaceLimitOrderInstruction places an order funded from the trader's own
// token accounts for the market's mints.
func NewPlaceLimitOrderInstruction(market, trader, baseAccount, quoteAccount, baseMint, quoteMint solana.PublicKey, packet OrderPacket) (solana.Instruction, error) {
	seat, _, err := SeatAddress(market, trader)
	if err != nil {
		return nil, err
	}
	baseVault, quoteVault, err := vaults(market, baseMint, quoteMint)
	if err != nil {
		return nil, err
	}
	data, err := encode(instructionPlaceLimitOrder, packet)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(ProgramID, false, false),
		solana.NewAccountMeta(LogAuthority(), false, false),
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(trader, false, true),
		solana.NewAccountMeta(seat, false, false),
		solana.NewAccountMeta(baseAccount, true, false),
		solana.NewAccountMeta(quoteAccount, true, false),
		solana.NewAccountMeta(baseVault, true, false),
		solana.NewAccountMeta(quoteVault, true, false),
		solana.NewAccountMeta(token.ProgramID, false, false),
	}, data), nil
}

func NewPlaceLimitOrderWithFreeFundsInstruction(market, trader solana.PublicKey, packet OrderPacket) (solana.Instruction, error) {
	seat, _, err := SeatAddress(market, trader)
	if err != nil {
		return nil, err
	}
	data, err := encode(instructionPlaceLimitOrderWithFreeFunds, packet)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(ProgramID, false, false),
		solana.NewAccountMeta(LogAuthority(), false, false),
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(trader, false, true),
		solana.NewAccountMeta(seat, false, false),
	}, data), nil
}

func NewCancelAllOrdersWithFreeFundsInstruction(market, trader solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(ProgramID, false, false),
		solana.NewAccountMeta(LogAuthority(), false, false),
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(trader, false, true),
	}, []byte{instructionCancelAllOrdersWithFreeFunds})
}

// NewWithdrawFundsInstruction moves every free balance of trader out of the
// vaults into the given token accounts.
func NewWithdrawFundsInstruction(market, trader, baseAccount, quoteAccount, baseMint, quoteMint solana.PublicKey) (solana.Instruction, error) {
	baseVault, quoteVault, err := vaults(market, baseMint, quoteMint)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(ProgramID, false, false),
		solana.NewAccountMeta(LogAuthority(), false, false),
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(trader, false, true),
		solana.NewAccountMeta(baseAccount, true, false),
		solana.NewAccountMeta(quoteAccount, true, false),
		solana.NewAccountMeta(baseVault, true, false),
		solana.NewAccountMeta(quoteVault, true, false),
		solana.NewAccountMeta(token.ProgramID, false, false),
	}, []byte{instructionWithdrawFunds}), nil
}

// NewInitializeMarketInstruction initializes an account already assigned to
// the venue as a market and creates its two vaults, paid for by authority.
func NewInitializeMarketInstruction(authority, market, baseMint, quoteMint solana.PublicKey, params InitializeParams) (solana.Instruction, error) {
	baseVault, quoteVault, err := vaults(market, baseMint, quoteMint)
	if err != nil {
		return nil, err
	}
	data, err := encode(instructionInitializeMarket, params)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(ProgramID, false, false),
		solana.NewAccountMeta(LogAuthority(), false, false),
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(baseMint, false, false),
		solana.NewAccountMeta(quoteMint, false, false),
		solana.NewAccountMeta(baseVault, true, false),
		solana.NewAccountMeta(quoteVault, true, false),
		solana.NewAccountMeta(token.ProgramID, false, false),
		solana.NewAccountMeta(system.ProgramID, false, false),
	}, data), nil
}

// NewReplaceMakerBookInstruction swaps the market's reference liquidity for
// the given levels. Only the market authority may send it.
func NewReplaceMakerBookInstruction(market, authority solana.PublicKey, book Ladder) (solana.Instruction, error) {
	data, err := encode(instructionReplaceMakerBook, makerBook{
		Bids: encodeLevels(book.Bids),
		Asks: encodeLevels(book.Asks),
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(ProgramID, false, false),
		solana.NewAccountMeta(LogAuthority(), false, false),
		solana.NewAccountMeta(market, true, false),
		solana.NewAccountMeta(authority, false, true),
	}, data), nil
}

func vaults(market, baseMint, quoteMint solana.PublicKey) (solana.PublicKey, solana.PublicKey, error) {
	baseVault, _, err := VaultAddress(market, baseMint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	quoteVault, _, err := VaultAddress(market, quoteMint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	return baseVault, quoteVault, nil
}

func encode(tag uint8, payload any) ([]byte, error) {
	body, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return append([]byte{tag}, body...), nil
}
