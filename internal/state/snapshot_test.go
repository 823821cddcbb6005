package state

import (
	"context"
	"reflect"
	"sync"
	"testing"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.items[key]
	return val, ok, nil
}

func (m *memoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memoryStore) Apply(ctx context.Context, mutations []Mutation) error {
	for _, mu := range mutations {
		if mu.Delete {
			_ = m.Delete(ctx, mu.Key)
			continue
		}
		_ = m.Set(ctx, mu.Key, mu.Value)
	}
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func TestPaperEnvironmentRoundTrip(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	env := PaperEnvironment{
		Authority:           "authority",
		BaseMint:            "base",
		QuoteMint:           "quote",
		Market:              "market",
		BaseDecimals:        9,
		QuoteDecimals:       6,
		BaseAtomsPerBaseLot: 1_000_000,
		Wallets:             map[string]WalletRecord{"owner": {BaseAccount: "ob", QuoteAccount: "oq"}},
	}
	if err := SavePaperEnvironment(ctx, store, env); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := LoadPaperEnvironment(ctx, store)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, env) {
		t.Fatalf("unexpected environment: %#v", got)
	}
}

func TestPositionSnapshotKeyedByPosition(t *testing.T) {
	store := &memoryStore{}
	ctx := context.Background()
	snap := PositionSnapshot{Position: "p1", Owner: "o", Side: "bid", SpreadMargin: 5, BaseLots: 10, LastAction: "open", Open: true, UpdatedAtMS: 42}
	if err := SavePositionSnapshot(ctx, store, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := store.items["position:p1"]; !ok {
		t.Fatalf("expected snapshot under position:p1, have %v", store.items)
	}
	got, ok, err := LoadPositionSnapshot(ctx, store, "p1")
	if err != nil || !ok || got != snap {
		t.Fatalf("unexpected snapshot %#v ok=%v err=%v", got, ok, err)
	}
	if _, ok, _ := LoadPositionSnapshot(ctx, store, "p2"); ok {
		t.Fatalf("unexpected snapshot for p2")
	}
}

func TestSnapshotInvalidJSON(t *testing.T) {
	store := &memoryStore{items: map[string]string{PaperEnvironmentKey: "{"}}
	if _, _, err := LoadPaperEnvironment(context.Background(), store); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestSnapshotNilStore(t *testing.T) {
	if _, ok, err := LoadPaperEnvironment(context.Background(), nil); ok || err != nil {
		t.Fatalf("nil store should report nothing, got %v %v", ok, err)
	}
	if err := SavePositionSnapshot(context.Background(), nil, PositionSnapshot{}); err != nil {
		t.Fatalf("nil store save: %v", err)
	}
}
