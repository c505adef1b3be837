// Package feed implements the shred feed client (C10): URL normalization,
// subscription handshake, the read loop, and ping/pong keepalive, using
// gorilla/websocket the way the teacher's go.mod already pulls it in
// (transitively via go-ethereum, here promoted to a direct dependency).
package feed

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ethereum/go-ethereum/log"

	"github.com/risechain/rise-indexer/internal/apperr"
)

const (
	connectTimeout = 10 * time.Second
	sendTimeout    = 10 * time.Second
	pingInterval   = 30 * time.Second
)

// TextHandler processes one inbound text frame.
type TextHandler func(raw []byte)

// Client owns one websocket connection's lifecycle: connect, subscribe,
// read loop, keepalive. Reconnection (3s delay, per spec §4.8) is the
// caller's responsibility — Run returns when the connection breaks.
type Client struct {
	url     string
	handler TextHandler
}

// New normalizes rawURL per spec §4.8: add wss:// if missing a scheme,
// append /ws unless the path already ends in /ws or in /, in which case
// just append "ws".
func New(rawURL string, handler TextHandler) (*Client, error) {
	normalized, err := normalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &Client{url: normalized, handler: handler}, nil
}

func normalizeURL(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", apperr.New(apperr.WebSocket, "normalizeURL", err)
	}
	switch {
	case strings.HasSuffix(u.Path, "/ws"):
		// already correct
	case strings.HasSuffix(u.Path, "/"):
		u.Path += "ws"
	default:
		u.Path += "/ws"
	}
	return u.String(), nil
}

// Run connects, subscribes, and processes frames until the connection
// breaks or ctx is cancelled. It returns nil on a clean ctx cancellation and
// a WebSocket-kind error otherwise.
func (c *Client) Run(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return apperr.New(apperr.WebSocket, "dial", err)
	}
	defer conn.Close()

	conn.SetPongHandler(func(string) error { return nil })

	sub := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "rise_subscribe",
		"params":  []string{"shreds"},
	}
	if err := conn.SetWriteDeadline(time.Now().Add(sendTimeout)); err != nil {
		return apperr.New(apperr.WebSocket, "set_write_deadline", err)
	}
	if err := conn.WriteJSON(sub); err != nil {
		return apperr.New(apperr.WebSocket, "send_subscription", err)
	}

	return c.readLoop(ctx, conn)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	lastSend := time.Now()
	var lastSendMu sync.Mutex

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				lastSendMu.Lock()
				idle := time.Since(lastSend) >= pingInterval
				lastSendMu.Unlock()
				if !idle {
					continue
				}
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(sendTimeout)); err != nil {
					log.Warn("feed: ping failed, closing connection", "err", err)
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return apperr.New(apperr.WebSocket, "read", err)
		}
		lastSendMu.Lock()
		lastSend = time.Now()
		lastSendMu.Unlock()

		// ReadMessage only ever returns Text/Binary data frames: ping frames
		// are answered by gorilla/websocket's default ping handler (a pong),
		// and a close frame surfaces as a read error above, not a message.
		switch msgType {
		case websocket.TextMessage:
			c.handler(data)
		case websocket.BinaryMessage:
			log.Info("feed: unexpected binary frame, closing connection", "bytes", len(data))
			return apperr.New(apperr.WebSocket, "read", fmt.Errorf("received binary frame, expected text"))
		}
	}
}
