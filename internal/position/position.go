// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package position defines the coordinate sample reported by a session and
// the Source contract the device location backend must satisfy.
package position

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Position is one location sample. Values are replaced wholesale, never
// mutated after capture.
type Position struct {
	Latitude  float64   `json:"latitude"`  // decimal degrees
	Longitude float64   `json:"longitude"` // decimal degrees
	Speed     float64   `json:"speed"`     // m/s, non-negative
	Heading   float64   `json:"heading"`   // degrees, 0-360
	Accuracy  float64   `json:"accuracy"`  // metres (0 when unknown)
	Timestamp time.Time `json:"timestamp"`
}

func (p Position) String() string {
	return fmt.Sprintf("lat=%.6f lon=%.6f speed=%.1fm/s heading=%.1f°", p.Latitude, p.Longitude, p.Speed, p.Heading)
}

// Permission is the outcome of a check-or-request permission call.
type Permission int

const (
	PermissionGranted Permission = iota
	PermissionDenied
	PermissionDeniedForever
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	case PermissionDeniedForever:
		return "denied_forever"
	default:
		return "unknown"
	}
}

var (
	ErrNoFix            = errors.New("no position fix available")
	ErrServiceDisabled  = errors.New("location service disabled")
	ErrPermissionDenied = errors.New("location permission denied")
)

// Source is the device-level location capability.
// Platforms that defer permission to the first fetch simply answer
// PermissionGranted from Permission and fail in Current instead.
type Source interface {
	ServiceEnabled(ctx context.Context) bool
	Permission(ctx context.Context) Permission
	Current(ctx context.Context) (Position, error)
}
