// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package protocol holds the JSON records exchanged with the receiving
// endpoint and the derived device identity.
package protocol

import (
	"encoding/json"
	"math"
	"time"

	"github.com/relabs-tech/location_reporter/internal/position"
)

// Message types carried in the "tipo" field.
const (
	TypeLocation       = "localizacao"
	TypeConnectionTest = "teste_conexao"
)

// Envelope is the outer record of every client frame.
type Envelope struct {
	Type string          `json:"tipo"`
	Data json.RawMessage `json:"dados"`
}

// LocationData is the payload of a location report.
type LocationData struct {
	DeviceID  string  `json:"dispositivo_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     int32   `json:"velocidade"` // rounded
	Heading   int32   `json:"direcao"`    // rounded, degrees
}

// ConnectionTestData is the payload of the WebSocket handshake probe.
type ConnectionTestData struct {
	DeviceID  string `json:"dispositivo_id"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

type locationReport struct {
	Type string       `json:"tipo"`
	Data LocationData `json:"dados"`
}

type connectionTest struct {
	Type string             `json:"tipo"`
	Data ConnectionTestData `json:"dados"`
}

// NewLocationData builds the report payload. Speed and heading are rounded
// to the nearest integer; coordinates keep full precision.
func NewLocationData(deviceID string, p position.Position) LocationData {
	return LocationData{
		DeviceID:  deviceID,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Speed:     int32(math.Round(p.Speed)),
		Heading:   int32(math.Round(p.Heading)),
	}
}

// MarshalLocation encodes a location report record.
func MarshalLocation(deviceID string, p position.Position) ([]byte, error) {
	return json.Marshal(locationReport{Type: TypeLocation, Data: NewLocationData(deviceID, p)})
}

// MarshalConnectionTest encodes the handshake probe record.
func MarshalConnectionTest(deviceID string, at time.Time) ([]byte, error) {
	return json.Marshal(connectionTest{
		Type: TypeConnectionTest,
		Data: ConnectionTestData{DeviceID: deviceID, Timestamp: at.UnixMilli()},
	})
}

// DecodeEnvelope reads the outer record of a client frame. Used by the
// receiving side.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(b, &env)
	return env, err
}
