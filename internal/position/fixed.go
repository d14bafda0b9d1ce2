// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package position

import (
	"context"
	"time"
)

// DefaultFallback is the coordinate substituted when no real backend is
// available (Brasília).
var DefaultFallback = Position{Latitude: -15.7801, Longitude: -47.9292}

// Fixed always reports the same coordinate, stamped with the fetch time.
// It stands in for desktop/web platforms without a location backend.
type Fixed struct {
	Coordinate Position
}

func (f Fixed) ServiceEnabled(context.Context) bool { return true }

func (f Fixed) Permission(context.Context) Permission { return PermissionGranted }

func (f Fixed) Current(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	p := f.Coordinate
	p.Timestamp = time.Now()
	return p, nil
}

type fallbackSource struct {
	src      Source
	fallback Position
}

// WithFallback wraps src so that a failed Current returns fallback instead.
// Service and permission answers come from src unchanged; callers cannot
// tell a substituted position from a real one.
func WithFallback(src Source, fallback Position) Source {
	return &fallbackSource{src: src, fallback: fallback}
}

func (f *fallbackSource) ServiceEnabled(ctx context.Context) bool {
	return f.src.ServiceEnabled(ctx)
}

func (f *fallbackSource) Permission(ctx context.Context) Permission {
	return f.src.Permission(ctx)
}

func (f *fallbackSource) Current(ctx context.Context) (Position, error) {
	p, err := f.src.Current(ctx)
	if err == nil {
		return p, nil
	}
	if ctx.Err() != nil {
		return Position{}, ctx.Err()
	}
	p = f.fallback
	p.Timestamp = time.Now()
	return p, nil
}
