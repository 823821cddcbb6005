package venue

import (
	"errors"
	"fmt"

	"px-position-manager/internal/ledger"
	"px-position-manager/internal/ledger/system"
	"px-position-manager/internal/ledger/token"

	"github.com/gagliardetto/solana-go"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Program is the ledger program that runs the paper venue.
type Program struct{}

func (Program) ID() solana.PublicKey {
	return ProgramID
}

func (p Program) Process(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, data []byte) error {
	if len(data) == 0 {
		return ErrInvalidData
	}
	if len(accounts) < 4 {
		return fmt.Errorf("%w: %d accounts", ErrInvalidAccount, len(accounts))
	}
	if accounts[0].Key != ProgramID || accounts[1].Key != LogAuthority() {
		return fmt.Errorf("%w: program or log authority", ErrInvalidAccount)
	}
	marketInfo, signer := accounts[2], accounts[3]
	if marketInfo.Owner != ProgramID || !marketInfo.IsWritable {
		return fmt.Errorf("%w: market %s", ErrInvalidAccount, marketInfo.Key)
	}
	if !signer.IsSigner {
		return fmt.Errorf("%w: %s", ledger.ErrMissingSignature, signer.Key)
	}
	tag, payload := data[0], data[1:]
	if tag == instructionInitializeMarket {
		return p.initializeMarket(ic, accounts, payload)
	}

	market, err := Load(marketInfo.Data)
	if err != nil {
		return err
	}
	log := ic.Log().With(zap.Stringer("market", marketInfo.Key), zap.Stringer("trader", signer.Key))
	switch tag {
	case instructionPlaceLimitOrder:
		packet, err := decodePacket(payload)
		if err != nil {
			return err
		}
		if err := p.placeWithTokenAccounts(ic, market, accounts, packet); err != nil {
			return err
		}
		log.Debug("limit order placed", zap.Stringer("side", packet.Side), zap.Uint64("price", packet.PriceInTicks), zap.Uint64("lots", packet.NumBaseLots))
	case instructionPlaceLimitOrderWithFreeFunds:
		packet, err := decodePacket(payload)
		if err != nil {
			return err
		}
		if err := checkSeat(accounts, marketInfo.Key, signer.Key); err != nil {
			return err
		}
		if err := requireActive(market); err != nil {
			return err
		}
		res, err := market.place(signer.Key, packet)
		if errors.Is(err, ErrInsufficientFunds) && packet.FailSilentlyOnInsufficientFunds {
			log.Debug("order skipped on insufficient free funds", zap.Stringer("side", packet.Side))
			return publish(ic, PlaceResult{})
		}
		if err != nil {
			return err
		}
		if err := publish(ic, res); err != nil {
			return err
		}
	case instructionCancelAllOrdersWithFreeFunds:
		n, err := market.cancelAll(signer.Key)
		if err != nil {
			return err
		}
		log.Debug("orders cancelled", zap.Int("count", n))
	case instructionWithdrawFunds:
		if err := p.withdraw(ic, market, accounts); err != nil {
			return err
		}
	case instructionReplaceMakerBook:
		if signer.Key != market.Header.Authority {
			return fmt.Errorf("%w: %s is not the market authority", ErrUnauthorized, signer.Key)
		}
		var book makerBook
		if err := msgpack.Unmarshal(payload, &book); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		market.replaceReference(Ladder{Bids: decodeLevels(book.Bids), Asks: decodeLevels(book.Asks)})
	default:
		return fmt.Errorf("%w: tag %d", ErrInvalidData, tag)
	}

	encoded, err := market.Encode()
	if err != nil {
		return err
	}
	marketInfo.Data = encoded
	return nil
}

func (p Program) initializeMarket(ic *ledger.InvokeContext, accounts []*ledger.AccountInfo, payload []byte) error {
	if len(accounts) < 10 {
		return fmt.Errorf("%w: %d accounts", ErrInvalidAccount, len(accounts))
	}
	marketInfo, authority := accounts[2], accounts[3]
	baseMint, quoteMint := accounts[4], accounts[5]
	baseVault, quoteVault := accounts[6], accounts[7]
	if len(marketInfo.Data) != 0 {
		if h, err := DecodeHeader(marketInfo.Data); err == nil && h.Status != MarketUninitialized {
			return fmt.Errorf("%w: market already initialized", ErrInvalidMarket)
		}
	}
	var params InitializeParams
	if err := msgpack.Unmarshal(payload, &params); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if params.BaseAtomsPerBaseLot == 0 || params.Size.NumSeats == 0 {
		return fmt.Errorf("%w: zero lot size or seats", ErrInvalidData)
	}
	rent := ic.Rent().MinimumBalance(token.AccountLen)
	for _, v := range []struct {
		vault *ledger.AccountInfo
		mint  *ledger.AccountInfo
	}{{baseVault, baseMint}, {quoteVault, quoteMint}} {
		addr, bump, err := VaultAddress(marketInfo.Key, v.mint.Key)
		if err != nil {
			return err
		}
		if addr != v.vault.Key {
			return fmt.Errorf("%w: vault %s", ErrInvalidAccount, v.vault.Key)
		}
		seeds := [][]byte{[]byte(vaultSeed), marketInfo.Key.Bytes(), v.mint.Key.Bytes(), {bump}}
		if err := ic.InvokeSigned(system.NewCreateAccountInstruction(authority.Key, addr, rent, token.AccountLen, token.ProgramID), seeds); err != nil {
			return fmt.Errorf("create vault: %w", err)
		}
		if err := ic.Invoke(token.NewInitializeAccount3Instruction(addr, v.mint.Key, addr)); err != nil {
			return fmt.Errorf("initialize vault: %w", err)
		}
	}

	market := NewMarket(Header{
		Status:              MarketActive,
		Size:                params.Size,
		BaseMint:            baseMint.Key,
		QuoteMint:           quoteMint.Key,
		BaseAtomsPerBaseLot: params.BaseAtomsPerBaseLot,
		Authority:           authority.Key,
	})
	encoded, err := market.Encode()
	if err != nil {
		return err
	}
	marketInfo.Data = encoded
	ic.Log().Info("market initialized",
		zap.Stringer("market", marketInfo.Key),
		zap.Stringer("base_mint", baseMint.Key),
		zap.Stringer("quote_mint", quoteMint.Key),
	)
	return nil
}

// placeWithTokenAccounts funds the order from free balance first and pulls
// the shortfall from the trader's token accounts into the vaults.
func (p Program) placeWithTokenAccounts(ic *ledger.InvokeContext, market *Market, accounts []*ledger.AccountInfo, packet OrderPacket) error {
	if len(accounts) < 10 {
		return fmt.Errorf("%w: %d accounts", ErrInvalidAccount, len(accounts))
	}
	trader := accounts[3]
	baseAccount, quoteAccount := accounts[5], accounts[6]
	baseVault, quoteVault := accounts[7], accounts[8]
	if err := checkSeat(accounts, accounts[2].Key, trader.Key); err != nil {
		return err
	}
	if err := checkVaults(market, accounts[2].Key, baseVault.Key, quoteVault.Key); err != nil {
		return err
	}
	if err := requireActive(market); err != nil {
		return err
	}
	if err := validatePacket(packet); err != nil {
		return err
	}
	st, err := market.seat(trader.Key)
	if err != nil {
		return err
	}
	quoteNeed, baseNeed, err := Requirement(packet.Side, packet.PriceInTicks, packet.NumBaseLots)
	if err != nil {
		return err
	}
	if quoteNeed > st.QuoteLotsFree && !packet.UseOnlyDepositedFunds {
		shortfall := quoteNeed - st.QuoteLotsFree
		if err := ic.Invoke(token.NewTransferInstruction(quoteAccount.Key, quoteVault.Key, trader.Key, shortfall)); err != nil {
			return venueFunding(err)
		}
		st.QuoteLotsFree += shortfall
	}
	if baseNeed > st.BaseLotsFree && !packet.UseOnlyDepositedFunds {
		shortfall := baseNeed - st.BaseLotsFree
		atoms, err := mul(shortfall, market.BaseAtomsPerBaseLot())
		if err != nil {
			return err
		}
		if err := ic.Invoke(token.NewTransferInstruction(baseAccount.Key, baseVault.Key, trader.Key, atoms)); err != nil {
			return venueFunding(err)
		}
		st.BaseLotsFree += shortfall
	}
	res, err := market.place(trader.Key, packet)
	if err != nil {
		return err
	}
	return publish(ic, res)
}

func (p Program) withdraw(ic *ledger.InvokeContext, market *Market, accounts []*ledger.AccountInfo) error {
	if len(accounts) < 9 {
		return fmt.Errorf("%w: %d accounts", ErrInvalidAccount, len(accounts))
	}
	marketKey, trader := accounts[2].Key, accounts[3]
	baseAccount, quoteAccount := accounts[4], accounts[5]
	baseVault, quoteVault := accounts[6], accounts[7]
	if err := checkVaults(market, marketKey, baseVault.Key, quoteVault.Key); err != nil {
		return err
	}
	st, ok := market.traders[trader.Key]
	if !ok {
		return nil
	}
	if st.QuoteLotsFree > 0 {
		if err := vaultTransfer(ic, marketKey, market.Header.QuoteMint, quoteVault.Key, quoteAccount.Key, st.QuoteLotsFree); err != nil {
			return err
		}
		st.QuoteLotsFree = 0
	}
	if st.BaseLotsFree > 0 {
		atoms, err := mul(st.BaseLotsFree, market.BaseAtomsPerBaseLot())
		if err != nil {
			return err
		}
		if err := vaultTransfer(ic, marketKey, market.Header.BaseMint, baseVault.Key, baseAccount.Key, atoms); err != nil {
			return err
		}
		st.BaseLotsFree = 0
	}
	ic.Log().Debug("funds withdrawn", zap.Stringer("trader", trader.Key))
	return nil
}

func vaultTransfer(ic *ledger.InvokeContext, market, mint, vault, destination solana.PublicKey, amount uint64) error {
	_, bump, err := VaultAddress(market, mint)
	if err != nil {
		return err
	}
	seeds := [][]byte{[]byte(vaultSeed), market.Bytes(), mint.Bytes(), {bump}}
	if err := ic.InvokeSigned(token.NewTransferInstruction(vault, destination, vault, amount), seeds); err != nil {
		return fmt.Errorf("withdraw from vault: %w", err)
	}
	return nil
}

func checkSeat(accounts []*ledger.AccountInfo, market, trader solana.PublicKey) error {
	if len(accounts) < 5 {
		return fmt.Errorf("%w: missing seat", ErrInvalidAccount)
	}
	seat, _, err := SeatAddress(market, trader)
	if err != nil {
		return err
	}
	if accounts[4].Key != seat {
		return fmt.Errorf("%w: seat %s", ErrInvalidAccount, accounts[4].Key)
	}
	return nil
}

func checkVaults(market *Market, marketKey, baseVault, quoteVault solana.PublicKey) error {
	base, quote, err := vaults(marketKey, market.Header.BaseMint, market.Header.QuoteMint)
	if err != nil {
		return err
	}
	if base != baseVault || quote != quoteVault {
		return fmt.Errorf("%w: vaults", ErrInvalidAccount)
	}
	return nil
}

func requireActive(market *Market) error {
	if market.Header.Status != MarketActive {
		return ErrMarketClosed
	}
	return nil
}

// venueFunding reports a token account that cannot cover an order as a venue
// insufficient-funds failure.
func venueFunding(err error) error {
	if errors.Is(err, token.ErrInsufficientFunds) {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	return err
}

func decodePacket(payload []byte) (OrderPacket, error) {
	var packet OrderPacket
	if err := msgpack.Unmarshal(payload, &packet); err != nil {
		return OrderPacket{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return packet, nil
}

func publish(ic *ledger.InvokeContext, res PlaceResult) error {
	data, err := msgpack.Marshal(res)
	if err != nil {
		return err
	}
	ic.SetReturnData(data)
	return nil
}
