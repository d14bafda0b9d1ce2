// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/location_reporter/internal/position"
	"github.com/relabs-tech/location_reporter/internal/protocol"
)

var samplePos = position.Position{Latitude: -15.7801, Longitude: -47.9292, Speed: 12.4, Heading: 270.6}

func TestValidateEndpoint(t *testing.T) {
	tests := []struct {
		kind     Kind
		endpoint string
		ok       bool
	}{
		{KindHTTP, "http://x/y", true},
		{KindHTTP, "HTTPS://example.com/api", true},
		{KindHTTP, "ws://x/y", false},
		{KindHTTP, "", false},
		{KindHTTP, "   ", false},
		{KindHTTP, "x/y", false},
		{KindHTTP, "http://", false},
		{KindHTTP, "ftp://x/y", false},
		{KindWebSocket, "ws://x/y", true},
		{KindWebSocket, "wss://x:8443/live", true},
		{KindWebSocket, "http://x/y", false},
		{KindWebSocket, "ws//x", false},
	}
	for _, tt := range tests {
		err := ValidateEndpoint(tt.kind, tt.endpoint)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateEndpoint(%s, %q) = %v, want ok=%v", tt.kind, tt.endpoint, err, tt.ok)
		}
	}
	if err := ValidateEndpoint(KindWebSocket, "http://x"); !errors.Is(err, ErrBadScheme) {
		t.Errorf("scheme mismatch error = %v, want ErrBadScheme", err)
	}
	if err := ValidateEndpoint(KindHTTP, ""); !errors.Is(err, ErrEmptyEndpoint) {
		t.Errorf("empty endpoint error = %v, want ErrEmptyEndpoint", err)
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"http": KindHTTP, "WS": KindWebSocket, "websocket": KindWebSocket} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseKind("udp"); err == nil {
		t.Error("ParseKind(udp) should fail")
	}
}

func TestHTTPSend(t *testing.T) {
	var got protocol.Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if acc := r.Header.Get("Accept"); acc != "application/json" {
			t.Errorf("Accept = %q", acc)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"status":"sucesso","id":"abc"}`)
	}))
	defer srv.Close()

	tr := NewHTTP(srv.URL+"/y", srv.Client(), time.Second, nil)
	ack, err := tr.Send(context.Background(), "http-car", samplePos)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !ack.Success() || ack.IDString() != "abc" {
		t.Errorf("ack = %+v", ack)
	}
	if got.Type != protocol.TypeLocation {
		t.Errorf("tipo = %q", got.Type)
	}
	var data protocol.LocationData
	json.Unmarshal(got.Data, &data)
	if data.Speed != 12 || data.Heading != 271 || data.DeviceID != "http-car" {
		t.Errorf("dados = %+v", data)
	}
}

func TestHTTPSendNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewHTTP(srv.URL, srv.Client(), time.Second, nil)
	_, err := tr.Send(context.Background(), "http-car", samplePos)
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("err = %v, want ErrStatus", err)
	}
	var te *Error
	if !errors.As(err, &te) || te.Op != "send" {
		t.Errorf("err = %#v, want *Error op=send", err)
	}
}

func TestHTTPSendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr := NewHTTP(url, nil, 500*time.Millisecond, nil)
	if _, err := tr.Send(context.Background(), "http-car", samplePos); err == nil {
		t.Fatal("expected error from closed server")
	}
	if tr.Done() != nil {
		t.Error("HTTP Done channel should be nil")
	}
}

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// wsServer runs handle for every upgraded connection.
func wsServer(t *testing.T, handle func(*websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketHandshakeWithReply(t *testing.T) {
	var (
		mu     sync.Mutex
		frames []protocol.Envelope
	)
	srv, url := wsServer(t, func(c *websocket.Conn) {
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			env, _ := protocol.DecodeEnvelope(msg)
			mu.Lock()
			frames = append(frames, env)
			mu.Unlock()
			c.WriteMessage(websocket.TextMessage, []byte(`{"status":"sucesso","id":1}`))
		}
	})
	defer srv.Close()

	ws, err := DialWebSocket(context.Background(), url, WebSocketOptions{HandshakeTimeout: time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	res, err := ws.Handshake(context.Background(), "ws-car", time.Second)
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if !res.Replied || !res.Reply.Success() {
		t.Errorf("result = %+v", res)
	}

	if _, err := ws.Send(context.Background(), "ws-car", samplePos); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(frames)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(frames) < 2 || frames[0].Type != protocol.TypeConnectionTest || frames[1].Type != protocol.TypeLocation {
		t.Errorf("frames = %+v", frames)
	}
}

func TestWebSocketHandshakeSilentServer(t *testing.T) {
	srv, url := wsServer(t, func(c *websocket.Conn) {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	ws, err := DialWebSocket(context.Background(), url, WebSocketOptions{HandshakeTimeout: time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	res, err := ws.Handshake(context.Background(), "ws-car", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if res.Replied {
		t.Error("silent server reported a reply")
	}
	ack, err := ws.Send(context.Background(), "ws-car", samplePos)
	if err != nil || !ack.Empty() {
		t.Errorf("Send = %+v, %v", ack, err)
	}
}

func TestWebSocketServerClose(t *testing.T) {
	srv, url := wsServer(t, func(c *websocket.Conn) {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"), time.Now().Add(time.Second))
	})
	defer srv.Close()

	ws, err := DialWebSocket(context.Background(), url, WebSocketOptions{HandshakeTimeout: time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	select {
	case <-ws.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done did not fire after server close")
	}
	if _, err := ws.Send(context.Background(), "ws-car", samplePos); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after close = %v, want ErrClosed", err)
	}
}

func TestWebSocketDialNeverReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var held []net.Conn
	var mu sync.Mutex
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			held = append(held, c)
			mu.Unlock()
		}
	}()
	defer func() {
		mu.Lock()
		for _, c := range held {
			c.Close()
		}
		mu.Unlock()
	}()

	start := time.Now()
	_, err = DialWebSocket(context.Background(), "ws://"+ln.Addr().String()+"/y", WebSocketOptions{HandshakeTimeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("dial succeeded against a server that never upgrades")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("dial took %v, handshake timeout not honoured", time.Since(start))
	}
	var te *Error
	if !errors.As(err, &te) || te.Op != "dial" {
		t.Errorf("err = %v, want *Error op=dial", err)
	}
}

func TestWebSocketCloseIdempotent(t *testing.T) {
	srv, url := wsServer(t, func(c *websocket.Conn) {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	ws, err := DialWebSocket(context.Background(), url, WebSocketOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ws.Close()
	ws.Close()
	select {
	case <-ws.Done():
	default:
		t.Error("Done not closed after Close")
	}
}
