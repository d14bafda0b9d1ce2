// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package position

import (
	"context"
	"math"
	"time"
)

const earthRadiusM = 6371000.0

type mockSource struct {
	start    time.Time
	center   Position
	radiusM  float64
	speedMps float64
	now      func() time.Time
}

// NewMockSource creates a mock source that drives a circle of radiusM
// metres around center at speedMps. Useful on a bench with no GPS.
func NewMockSource(center Position, radiusM, speedMps float64) Source {
	return &mockSource{
		start:    time.Now(),
		center:   center,
		radiusM:  radiusM,
		speedMps: speedMps,
		now:      time.Now,
	}
}

func (m *mockSource) ServiceEnabled(context.Context) bool { return true }

func (m *mockSource) Permission(context.Context) Permission { return PermissionGranted }

func (m *mockSource) Current(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	now := m.now()
	elapsed := now.Sub(m.start).Seconds()

	// angular position on the circle, 0 = due north of centre
	theta := 0.0
	if m.radiusM > 0 {
		theta = m.speedMps * elapsed / m.radiusM
	}
	north := m.radiusM * math.Cos(theta)
	east := m.radiusM * math.Sin(theta)

	latRad := m.center.Latitude * math.Pi / 180
	dLat := north / earthRadiusM * 180 / math.Pi
	dLon := east / (earthRadiusM * math.Cos(latRad)) * 180 / math.Pi

	// clockwise travel: tangent is 90° ahead of the bearing from centre
	heading := math.Mod(theta*180/math.Pi+90, 360)

	return Position{
		Latitude:  m.center.Latitude + dLat,
		Longitude: m.center.Longitude + dLon,
		Speed:     m.speedMps,
		Heading:   heading,
		Accuracy:  5,
		Timestamp: now,
	}, nil
}
