package feed

import (
	"context"
	"errors"
	"testing"

	"px-position-manager/internal/paper"
	"px-position-manager/internal/venue"
)

// Base has 9 decimals, quote 6, and a lot is 1e6 base atoms, so a price of
// 1 quote per base is 1000 ticks and one whole base token is 1000 lots.
var testScale = paper.Scale{BaseDecimals: 9, QuoteDecimals: 6, BaseAtomsPerBaseLot: 1_000_000}

const bookMsg = `{"channel":"l2Book","data":{"coin":"SOL","time":1700000000000,"levels":[
	[{"px":"150.25","sz":"2.5","n":3},{"px":"150.2504","sz":"1","n":1},{"px":"150.1","sz":"0.0000001","n":1},{"px":"149.9","sz":"4","n":2}],
	[{"px":"150.3","sz":"1.2","n":1},{"px":"150.4","sz":"3","n":2}]
]}}`

func TestParseBookConvertsUnits(t *testing.T) {
	upd, err := ParseBook([]byte(bookMsg), testScale, 10)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if upd.Coin != "SOL" || upd.TimeMS != 1700000000000 {
		t.Fatalf("unexpected header: %+v", upd)
	}
	// 150.2504 floors onto the 150.25 tick and merges; the dust level drops.
	wantBids := []venue.LadderLevel{{PriceInTicks: 150_250, SizeInBaseLots: 3500}, {PriceInTicks: 149_900, SizeInBaseLots: 4000}}
	if len(upd.Ladder.Bids) != len(wantBids) {
		t.Fatalf("unexpected bids: %+v", upd.Ladder.Bids)
	}
	for i, want := range wantBids {
		if upd.Ladder.Bids[i] != want {
			t.Fatalf("bid %d: expected %+v, got %+v", i, want, upd.Ladder.Bids[i])
		}
	}
	if len(upd.Ladder.Asks) != 2 || upd.Ladder.Asks[0].PriceInTicks != 150_300 || upd.Ladder.Asks[0].SizeInBaseLots != 1200 {
		t.Fatalf("unexpected asks: %+v", upd.Ladder.Asks)
	}
}

func TestParseBookDepth(t *testing.T) {
	upd, err := ParseBook([]byte(bookMsg), testScale, 1)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(upd.Ladder.Bids) != 1 || len(upd.Ladder.Asks) != 1 {
		t.Fatalf("depth not applied: %+v", upd.Ladder)
	}
}

func TestParseBookIgnoresOtherChannels(t *testing.T) {
	_, err := ParseBook([]byte(`{"channel":"pong"}`), testScale, 10)
	if !errors.Is(err, errNotBook) {
		t.Fatalf("expected errNotBook, got %v", err)
	}
	if _, err := ParseBook([]byte(`{"channel":"l2Book","data":{"levels":[[{"px":"x","sz":"1"}],[]]}}`), testScale, 10); err == nil {
		t.Fatalf("expected bad price to fail")
	}
}

type recordingSink struct {
	books []venue.Ladder
	err   error
}

func (s *recordingSink) SetReferenceBook(_ context.Context, book venue.Ladder) error {
	if s.err != nil {
		return s.err
	}
	s.books = append(s.books, book)
	return nil
}

func TestMirrorForwardsMatchingCoin(t *testing.T) {
	sink := &recordingSink{}
	m := NewMirror(nil, sink, testScale, "sol", 5, nil)
	var updates int
	m.OnUpdate(func(Update) { updates++ })

	m.handle(context.Background(), []byte(bookMsg))
	m.handle(context.Background(), []byte(`{"channel":"l2Book","data":{"coin":"BTC","levels":[[{"px":"1","sz":"1"}],[]]}}`))
	m.handle(context.Background(), []byte(`not json`))

	if len(sink.books) != 1 || updates != 1 {
		t.Fatalf("expected one forwarded book, got %d (updates %d)", len(sink.books), updates)
	}
}

func TestMirrorSkipsUpdateOnSinkError(t *testing.T) {
	sink := &recordingSink{err: errors.New("ledger closed")}
	m := NewMirror(nil, sink, testScale, "SOL", 5, nil)
	called := false
	m.OnUpdate(func(Update) { called = true })
	m.handle(context.Background(), []byte(bookMsg))
	if called {
		t.Fatalf("update hook ran after a rejected book")
	}
}
