package state

import (
	"context"
	"encoding/json"
	"strings"
)

const (
	PaperEnvironmentKey = "paper:environment"
	positionKeyPrefix   = "position:"
)

// PaperEnvironment is what a bootstrap created. Keys are base58.
type PaperEnvironment struct {
	Authority           string                  `json:"authority"`
	BaseMint            string                  `json:"base_mint"`
	QuoteMint           string                  `json:"quote_mint"`
	Market              string                  `json:"market"`
	BaseDecimals        uint8                   `json:"base_decimals"`
	QuoteDecimals       uint8                   `json:"quote_decimals"`
	BaseAtomsPerBaseLot uint64                  `json:"base_atoms_per_base_lot"`
	Wallets             map[string]WalletRecord `json:"wallets,omitempty"`
}

// WalletRecord names the token accounts funded for an owner.
type WalletRecord struct {
	BaseAccount  string `json:"base_account"`
	QuoteAccount string `json:"quote_account"`
}

// PositionSnapshot is the operator's last view of a position.
type PositionSnapshot struct {
	Position     string `json:"position"`
	Owner        string `json:"owner"`
	Market       string `json:"market"`
	Side         string `json:"side"`
	SpreadMargin uint64 `json:"spread_margin"`
	BaseLots     uint64 `json:"base_lots"`
	LastAction   string `json:"last_action"`
	Open         bool   `json:"open"`
	UpdatedAtMS  int64  `json:"updated_at_ms"`
}

func PositionKey(position string) string {
	return positionKeyPrefix + position
}

func LoadPaperEnvironment(ctx context.Context, store Store) (PaperEnvironment, bool, error) {
	var env PaperEnvironment
	ok, err := loadJSON(ctx, store, PaperEnvironmentKey, &env)
	return env, ok, err
}

func SavePaperEnvironment(ctx context.Context, store Store, env PaperEnvironment) error {
	return saveJSON(ctx, store, PaperEnvironmentKey, env)
}

func LoadPositionSnapshot(ctx context.Context, store Store, position string) (PositionSnapshot, bool, error) {
	var snap PositionSnapshot
	ok, err := loadJSON(ctx, store, PositionKey(position), &snap)
	return snap, ok, err
}

func SavePositionSnapshot(ctx context.Context, store Store, snap PositionSnapshot) error {
	return saveJSON(ctx, store, PositionKey(snap.Position), snap)
}

func loadJSON(ctx context.Context, store Store, key string, v any) (bool, error) {
	if store == nil {
		return false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, err
	}
	return true, nil
}

func saveJSON(ctx context.Context, store Store, key string, v any) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, string(payload))
}
