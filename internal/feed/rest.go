package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"px-position-manager/internal/paper"

	"go.uber.org/zap"
)

// InfoClient reads book snapshots from the exchange's /info endpoint, which
// answers l2Book requests with the same payload the websocket streams.
type InfoClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewInfoClient(baseURL string, timeout time.Duration, log *zap.Logger) *InfoClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &InfoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type infoRequest struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

// Book fetches the current l2 book for coin.
func (c *InfoClient) Book(ctx context.Context, coin string, scale paper.Scale, depth int) (Update, error) {
	var data wireBookData
	if err := c.post(ctx, "/info", infoRequest{Type: "l2Book", Coin: coin}, &data); err != nil {
		return Update{}, err
	}
	upd, err := convertBook(data, scale, depth)
	if err != nil {
		return Update{}, fmt.Errorf("l2Book %s: %w", coin, err)
	}
	if upd.Coin == "" {
		upd.Coin = coin
	}
	return upd, nil
}

func (c *InfoClient) post(ctx context.Context, path string, req, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
