package feed

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"px-position-manager/internal/paper"
	"px-position-manager/internal/venue"

	"go.uber.org/zap"
)

// Sink receives reference books. paper.Environment satisfies it through a
// bound ledger.
type Sink interface {
	SetReferenceBook(ctx context.Context, book venue.Ladder) error
}

// Mirror keeps one coin of the remote book copied into the sink.
type Mirror struct {
	client   *Client
	sink     Sink
	scale    paper.Scale
	coin     string
	depth    int
	log      *zap.Logger
	onUpdate func(Update)
}

func NewMirror(client *Client, sink Sink, scale paper.Scale, coin string, depth int, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{client: client, sink: sink, scale: scale, coin: coin, depth: depth, log: log}
}

// OnUpdate registers fn to run after each book the sink accepted.
func (m *Mirror) OnUpdate(fn func(Update)) {
	m.onUpdate = fn
}

// Run subscribes and mirrors until ctx ends.
func (m *Mirror) Run(ctx context.Context) error {
	sub := map[string]any{
		"method": "subscribe",
		"subscription": map[string]any{
			"type": "l2Book",
			"coin": m.coin,
		},
	}
	if err := m.client.Subscribe(ctx, sub); err != nil {
		return err
	}
	return m.client.Run(ctx, func(msg json.RawMessage) {
		m.handle(ctx, msg)
	})
}

func (m *Mirror) handle(ctx context.Context, msg []byte) {
	upd, err := ParseBook(msg, m.scale, m.depth)
	if err != nil {
		if !errors.Is(err, errNotBook) {
			m.log.Debug("feed decode error", zap.Error(err))
		}
		return
	}
	if !strings.EqualFold(upd.Coin, m.coin) {
		return
	}
	if err := m.apply(ctx, upd); err != nil {
		m.log.Warn("reference book update failed", zap.Error(err))
	}
}

// Seed copies a REST snapshot into the sink so the book is populated before
// the first websocket update arrives.
func (m *Mirror) Seed(ctx context.Context, info *InfoClient) error {
	upd, err := info.Book(ctx, m.coin, m.scale, m.depth)
	if err != nil {
		return err
	}
	return m.apply(ctx, upd)
}

func (m *Mirror) apply(ctx context.Context, upd Update) error {
	if len(upd.Ladder.Bids) == 0 && len(upd.Ladder.Asks) == 0 {
		return nil
	}
	if err := m.sink.SetReferenceBook(ctx, upd.Ladder); err != nil {
		return err
	}
	if m.onUpdate != nil {
		m.onUpdate(upd)
	}
	return nil
}
