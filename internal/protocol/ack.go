// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StatusSuccess is the acknowledgment status the receiver uses for an
// accepted report.
const StatusSuccess = "sucesso"

// Ack is a best-effort parse of a server reply. Replies that are not a
// JSON object keep their text in Raw.
type Ack struct {
	Status string         `json:"status,omitempty"`
	ID     any            `json:"id,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Raw    string         `json:"raw,omitempty"`
}

// ParseAck never fails: anything it cannot read as an object is kept raw.
func ParseAck(b []byte) Ack {
	trimmed := bytes.TrimSpace(b)
	var fields map[string]any
	if err := json.Unmarshal(trimmed, &fields); err != nil || fields == nil {
		return Ack{Raw: string(trimmed)}
	}

	ack := Ack{Fields: fields, ID: fields["id"]}
	if s, ok := fields["status"].(string); ok {
		ack.Status = s
	}
	return ack
}

// Empty reports whether the ack carries nothing (no reply was received).
func (a Ack) Empty() bool {
	return a.Fields == nil && a.Raw == ""
}

func (a Ack) Success() bool {
	return a.Status == StatusSuccess
}

// IDString renders ID for display; empty when absent.
func (a Ack) IDString() string {
	switch v := a.ID.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}

// Summary is a short human-readable rendering for status lines.
func (a Ack) Summary() string {
	switch {
	case a.Fields == nil:
		return a.Raw
	case a.Status != "" && a.IDString() != "":
		return fmt.Sprintf("%s (id %s)", a.Status, a.IDString())
	case a.Status != "":
		return a.Status
	default:
		return fmt.Sprintf("%d fields", len(a.Fields))
	}
}
