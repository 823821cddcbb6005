package state

import "context"

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Apply(ctx context.Context, mutations []Mutation) error
	Close() error
}

// Mutation is one write of a batch applied atomically by Store.Apply.
type Mutation struct {
	Key    string
	Value  string
	Delete bool
}
