// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/location_reporter/internal/position"
	"github.com/relabs-tech/location_reporter/internal/protocol"
)

const (
	// DefaultHandshakeTimeout bounds the dial (the channel becoming ready).
	DefaultHandshakeTimeout = 5 * time.Second
	// DefaultReplyWait bounds how long the handshake waits for a reply
	// to the connection test once the channel is open.
	DefaultReplyWait = 3 * time.Second

	replyBuffer = 16
)

// WebSocketOptions tunes DialWebSocket. Zero values pick the defaults.
type WebSocketOptions struct {
	HandshakeTimeout time.Duration
	SendTimeout      time.Duration
	Logger           *slog.Logger
}

// WebSocket is a persistent duplex channel. Replies are drained by a read
// goroutine into a small buffer; Done fires when that goroutine sees the
// channel fail.
type WebSocket struct {
	endpoint string
	conn     *websocket.Conn
	timeout  time.Duration
	logger   *slog.Logger

	writeMu sync.Mutex
	replies chan []byte

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

// HandshakeResult says whether the connection test drew a reply.
type HandshakeResult struct {
	Replied bool
	Reply   protocol.Ack
}

// DialWebSocket opens the channel, bounded by the handshake timeout.
func DialWebSocket(ctx context.Context, endpoint string, opts WebSocketOptions) (*WebSocket, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}

	ctx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (http %s)", err, resp.Status)
		}
		return nil, &Error{Op: "dial", Err: err}
	}

	ws := &WebSocket{
		endpoint: endpoint,
		conn:     conn,
		timeout:  opts.SendTimeout,
		logger:   opts.Logger,
		replies:  make(chan []byte, replyBuffer),
		done:     make(chan struct{}),
	}
	go ws.readLoop()

	ws.logger.Info("ws_connected", "endpoint", endpoint)
	return ws, nil
}

func (w *WebSocket) readLoop() {
	for {
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Warn("ws_read_failed", "endpoint", w.endpoint, "error", err)
			}
			w.markDone()
			return
		}
		select {
		case w.replies <- msg:
		default:
			// nobody is draining; keep the newest replies
			select {
			case <-w.replies:
			default:
			}
			select {
			case w.replies <- msg:
			default:
			}
		}
	}
}

func (w *WebSocket) markDone() {
	w.doneOnce.Do(func() { close(w.done) })
}

func (w *WebSocket) write(op string, payload []byte) error {
	select {
	case <-w.done:
		return &Error{Op: op, Err: ErrClosed}
	default:
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return &Error{Op: op, Err: err}
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		w.markDone()
		return &Error{Op: op, Err: err}
	}
	return nil
}

// Handshake sends the connection test and waits up to wait for any reply.
// An open channel without a reply is still a successful, unidirectional
// handshake.
func (w *WebSocket) Handshake(ctx context.Context, deviceID string, wait time.Duration) (HandshakeResult, error) {
	if wait <= 0 {
		wait = DefaultReplyWait
	}
	payload, err := protocol.MarshalConnectionTest(deviceID, time.Now())
	if err != nil {
		return HandshakeResult{}, &Error{Op: "handshake", Err: err}
	}
	if err := w.write("handshake", payload); err != nil {
		return HandshakeResult{}, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case msg := <-w.replies:
		return HandshakeResult{Replied: true, Reply: protocol.ParseAck(msg)}, nil
	case <-timer.C:
		return HandshakeResult{}, nil
	case <-w.done:
		return HandshakeResult{}, &Error{Op: "handshake", Err: ErrClosed}
	case <-ctx.Done():
		return HandshakeResult{}, &Error{Op: "handshake", Err: ctx.Err()}
	}
}

// Send writes a location frame. It does not wait for a reply; the newest
// reply already received (if any) is returned as the acknowledgment.
func (w *WebSocket) Send(ctx context.Context, deviceID string, p position.Position) (protocol.Ack, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Ack{}, &Error{Op: "send", Err: err}
	}
	payload, err := protocol.MarshalLocation(deviceID, p)
	if err != nil {
		return protocol.Ack{}, &Error{Op: "encode", Err: err}
	}
	if err := w.write("send", payload); err != nil {
		return protocol.Ack{}, err
	}

	var latest []byte
drain:
	for {
		select {
		case msg := <-w.replies:
			latest = msg
		default:
			break drain
		}
	}
	if latest == nil {
		return protocol.Ack{}, nil
	}
	return protocol.ParseAck(latest), nil
}

func (w *WebSocket) Done() <-chan struct{} { return w.done }

// Close sends a normal-closure frame and releases the connection. Safe to
// call more than once.
func (w *WebSocket) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		err = w.conn.Close()
		w.markDone()
		w.logger.Info("ws_closed", "endpoint", w.endpoint)
	})
	return err
}
