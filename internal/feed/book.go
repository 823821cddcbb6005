// Package feed mirrors an external l2 order book into the paper venue as
// reference liquidity.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"

	"px-position-manager/internal/paper"
	"px-position-manager/internal/venue"

	"github.com/shopspring/decimal"
)

var errNotBook = errors.New("message is not an l2 book update")

type wireLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type wireBookData struct {
	Coin   string        `json:"coin"`
	Time   int64         `json:"time"`
	Levels [][]wireLevel `json:"levels"`
}

type wireBook struct {
	Channel string       `json:"channel"`
	Data    wireBookData `json:"data"`
}

// Update is one decoded book message, already in venue units.
type Update struct {
	Coin   string
	TimeMS int64
	Ladder venue.Ladder
}

// ParseBook decodes an l2Book message and converts it with scale. Levels that
// round to zero ticks or lots are dropped, and levels that round onto the
// same tick are merged. Each side keeps at most depth levels.
func ParseBook(msg []byte, scale paper.Scale, depth int) (Update, error) {
	var wb wireBook
	if err := json.Unmarshal(msg, &wb); err != nil {
		return Update{}, err
	}
	if wb.Channel != "l2Book" {
		return Update{}, errNotBook
	}
	return convertBook(wb.Data, scale, depth)
}

func convertBook(data wireBookData, scale paper.Scale, depth int) (Update, error) {
	if len(data.Levels) != 2 {
		return Update{}, errNotBook
	}
	bids, err := convertSide(data.Levels[0], scale, depth)
	if err != nil {
		return Update{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := convertSide(data.Levels[1], scale, depth)
	if err != nil {
		return Update{}, fmt.Errorf("asks: %w", err)
	}
	return Update{
		Coin:   data.Coin,
		TimeMS: data.Time,
		Ladder: venue.Ladder{Bids: bids, Asks: asks},
	}, nil
}

func convertSide(levels []wireLevel, scale paper.Scale, depth int) ([]venue.LadderLevel, error) {
	out := make([]venue.LadderLevel, 0, len(levels))
	for _, l := range levels {
		px, err := decimal.NewFromString(l.Px)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", l.Px, err)
		}
		sz, err := decimal.NewFromString(l.Sz)
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", l.Sz, err)
		}
		ticks, err := scale.PriceToTicks(px)
		if err != nil {
			return nil, err
		}
		lots, err := scale.SizeToLots(sz)
		if err != nil {
			return nil, err
		}
		if ticks == 0 || lots == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].PriceInTicks == ticks {
			out[n-1].SizeInBaseLots += lots
			continue
		}
		if depth > 0 && len(out) == depth {
			break
		}
		out = append(out, venue.LadderLevel{PriceInTicks: ticks, SizeInBaseLots: lots})
	}
	return out, nil
}
