// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/relabs-tech/location_reporter/internal/position"
	"github.com/relabs-tech/location_reporter/internal/protocol"
)

// DefaultSendTimeout bounds one request/response or one frame write.
const DefaultSendTimeout = 10 * time.Second

// maxAckBytes caps how much of a reply body is read.
const maxAckBytes = 64 << 10

// HTTP posts each report to a fixed endpoint. It holds no connection state.
type HTTP struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHTTP returns an HTTP transport. A nil client uses http.DefaultClient;
// timeout <= 0 uses DefaultSendTimeout.
func NewHTTP(endpoint string, client *http.Client, timeout time.Duration, logger *slog.Logger) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{endpoint: endpoint, client: client, timeout: timeout, logger: logger}
}

func (h *HTTP) Send(ctx context.Context, deviceID string, p position.Position) (protocol.Ack, error) {
	body, err := protocol.MarshalLocation(deviceID, p)
	if err != nil {
		return protocol.Ack{}, &Error{Op: "encode", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return protocol.Ack{}, &Error{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return protocol.Ack{}, &Error{Op: "send", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAckBytes))
	if err != nil {
		return protocol.Ack{}, &Error{Op: "read", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return protocol.Ack{}, &Error{Op: "send", Err: fmt.Errorf("%w: %s", ErrStatus, resp.Status)}
	}

	ack := protocol.ParseAck(data)
	h.logger.Debug("http_report_sent", "endpoint", h.endpoint, "device_id", deviceID, "status", resp.StatusCode, "ack", ack.Summary())
	return ack, nil
}

// Done never fires: every send is independent.
func (h *HTTP) Done() <-chan struct{} { return nil }

func (h *HTTP) Close() error { return nil }
