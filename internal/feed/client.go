package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

var errNotConnected = errors.New("feed not connected")

// Client is a reconnecting websocket subscription. Subscriptions are replayed
// after every reconnect.
type Client struct {
	url          string
	pingInterval time.Duration
	backoff      *backoff.ExponentialBackOff
	log          *zap.Logger
	onReconnect  func()

	mu   sync.Mutex
	conn *websocket.Conn
	subs []any
}

func NewClient(url string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	b := backoff.NewExponentialBackOff()
	if reconnectDelay > 0 {
		b.InitialInterval = reconnectDelay
		b.MaxInterval = 20 * reconnectDelay
	}
	return &Client{url: url, pingInterval: pingInterval, backoff: b, log: log}
}

// OnReconnect registers fn to run every time a dropped connection is retried.
func (c *Client) OnReconnect(fn func()) {
	c.onReconnect = fn
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 22)
	c.conn = conn
	return nil
}

// Subscribe records sub and sends it when connected. Without a connection
// it is sent on the next connect.
func (c *Client) Subscribe(ctx context.Context, sub any) error {
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return writeJSON(ctx, conn, sub)
}

// Run reads messages into handler until ctx ends, reconnecting with
// exponential backoff whenever the connection drops or cannot be made.
func (c *Client) Run(ctx context.Context, handler func(json.RawMessage)) error {
	for {
		err := c.ensureConnected(ctx)
		if err == nil {
			c.backoff.Reset()
			err = c.serve(ctx, handler)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logReadLoopError(err)
		c.resetConn()
		if c.onReconnect != nil {
			c.onReconnect()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff.NextBackOff()):
		}
	}
}

func (c *Client) serve(ctx context.Context, handler func(json.RawMessage)) error {
	pingCtx, cancel := context.WithCancel(ctx)
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		c.pingLoop(pingCtx)
	}()
	err := c.readLoop(ctx, handler)
	cancel()
	<-pingDone
	return err
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	subs := append([]any(nil), c.subs...)
	c.mu.Unlock()
	for _, sub := range subs {
		if err := writeJSON(ctx, conn, sub); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, handler func(json.RawMessage)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if handler != nil {
			handler(json.RawMessage(data))
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || c.pingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (c *Client) logReadLoopError(err error) {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			c.log.Info("feed read loop ended", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
		c.log.Info("feed read loop ended", zap.Error(err))
		return
	}
	c.log.Warn("feed read loop ended", zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

var pingMessage = map[string]any{"method": "ping"}
