package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"

	"px-position-manager/internal/state"

	"github.com/gagliardetto/solana-go"
	"github.com/vmihailenco/msgpack/v5"
)

const accountKeyPrefix = "account:"

type storedAccount struct {
	Lamports   uint64 `msgpack:"l"`
	Data       []byte `msgpack:"d"`
	Owner      []byte `msgpack:"o"`
	Executable bool   `msgpack:"x,omitempty"`
}

// KVStore keeps accounts in a key-value state.Store, one entry per address.
type KVStore struct {
	kv state.Store
}

func NewKVStore(kv state.Store) *KVStore {
	return &KVStore{kv: kv}
}

func (s *KVStore) LoadAccount(ctx context.Context, key solana.PublicKey) (*Account, bool, error) {
	raw, ok, err := s.kv.Get(ctx, accountKeyPrefix+key.String())
	if err != nil || !ok {
		return nil, false, err
	}
	acct, err := decodeAccount(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode account %s: %w", key, err)
	}
	return acct, true, nil
}

func (s *KVStore) CommitAccounts(ctx context.Context, updates map[solana.PublicKey]*Account) error {
	keys := make([]solana.PublicKey, 0, len(updates))
	for key := range updates {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	mutations := make([]state.Mutation, 0, len(keys))
	for _, key := range keys {
		acct := updates[key]
		if acct == nil {
			mutations = append(mutations, state.Mutation{Key: accountKeyPrefix + key.String(), Delete: true})
			continue
		}
		raw, err := encodeAccount(acct)
		if err != nil {
			return fmt.Errorf("encode account %s: %w", key, err)
		}
		mutations = append(mutations, state.Mutation{Key: accountKeyPrefix + key.String(), Value: raw})
	}
	return s.kv.Apply(ctx, mutations)
}

func encodeAccount(acct *Account) (string, error) {
	payload, err := msgpack.Marshal(storedAccount{
		Lamports:   acct.Lamports,
		Data:       acct.Data,
		Owner:      acct.Owner.Bytes(),
		Executable: acct.Executable,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

func decodeAccount(raw string) (*Account, error) {
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := msgpack.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}
	if len(stored.Owner) != solana.PublicKeyLength {
		return nil, fmt.Errorf("owner has %d bytes", len(stored.Owner))
	}
	return &Account{
		Lamports:   stored.Lamports,
		Data:       stored.Data,
		Owner:      solana.PublicKeyFromBytes(stored.Owner),
		Executable: stored.Executable,
	}, nil
}
