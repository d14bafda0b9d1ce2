// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package transport delivers location reports to the remote endpoint over
// HTTP (one POST per report) or a persistent WebSocket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/relabs-tech/location_reporter/internal/position"
	"github.com/relabs-tech/location_reporter/internal/protocol"
)

// Kind selects the transport.
type Kind int

const (
	KindHTTP Kind = iota
	KindWebSocket
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindWebSocket:
		return "ws"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts "http", "ws" and "websocket" (any case).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "http", "https":
		return KindHTTP, nil
	case "ws", "wss", "websocket":
		return KindWebSocket, nil
	default:
		return 0, fmt.Errorf("unknown transport %q (want http or ws)", s)
	}
}

func (k Kind) schemes() []string {
	if k == KindWebSocket {
		return []string{"ws", "wss"}
	}
	return []string{"http", "https"}
}

var (
	ErrEmptyEndpoint = errors.New("endpoint is empty")
	ErrBadScheme     = errors.New("endpoint scheme does not match transport")
	ErrClosed        = errors.New("transport closed")
	ErrStatus        = errors.New("unexpected response status")
)

// ValidateEndpoint checks endpoint before any I/O happens.
func ValidateEndpoint(kind Kind, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ErrEmptyEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint %q has no host", endpoint)
	}
	scheme := strings.ToLower(u.Scheme)
	for _, s := range kind.schemes() {
		if scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s endpoint needs %s://, got %q", ErrBadScheme, kind, strings.Join(kind.schemes(), ":// or "), endpoint)
}

// Transport sends one report and returns the receiver's acknowledgment.
type Transport interface {
	Send(ctx context.Context, deviceID string, p position.Position) (protocol.Ack, error)
	// Done is closed once the channel is known to be broken. Stateless
	// transports never close it.
	Done() <-chan struct{}
	Close() error
}

// Error records which operation failed.
type Error struct {
	Op  string // "dial", "handshake", "send", ...
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }
