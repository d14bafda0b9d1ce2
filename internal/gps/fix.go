// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/location_reporter/internal/position"
)

const (
	knotsToMps = 0.514444
	// rough user-equivalent range error used to turn HDOP into metres
	uereMeters = 5.0
)

// Fix is the combined receiver state built from RMC and GGA sentences.
type Fix struct {
	Time       time.Time `json:"time"`        // UTC; zero when the receiver gave no date/time
	Latitude   float64   `json:"lat"`         // decimal degrees
	Longitude  float64   `json:"lon"`         // decimal degrees
	SpeedKnots float64   `json:"speed_knots"` // speed over ground
	CourseDeg  float64   `json:"course_deg"`  // course over ground
	Validity   string    `json:"validity"`    // "A" (valid) / "V" (void)
	HDOP       float64   `json:"hdop"`
	Satellites int64     `json:"satellites"`

	receivedAt time.Time
}

// Valid reports whether the last RMC sentence carried an active fix.
func (f Fix) Valid() bool {
	return f.Validity == nmea.ValidRMC
}

// Position converts the fix into the session's position type.
func (f Fix) Position() position.Position {
	ts := f.Time
	if ts.IsZero() {
		ts = f.receivedAt
	}
	return position.Position{
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Speed:     f.SpeedKnots * knotsToMps,
		Heading:   f.CourseDeg,
		Accuracy:  f.HDOP * uereMeters,
		Timestamp: ts,
	}
}

func (f *Fix) applyRMC(m nmea.RMC, now time.Time) {
	f.Latitude = m.Latitude
	f.Longitude = m.Longitude
	f.SpeedKnots = m.Speed
	f.CourseDeg = m.Course
	f.Validity = m.Validity
	f.Time = fixTime(m.Date, m.Time)
	f.receivedAt = now
}

func (f *Fix) applyGGA(m nmea.GGA) {
	f.HDOP = m.HDOP
	f.Satellites = m.NumSatellites
}

func fixTime(d nmea.Date, t nmea.Time) time.Time {
	if !d.Valid || !t.Valid {
		return time.Time{}
	}
	year := 2000 + d.YY
	if d.YY >= 80 {
		year = 1900 + d.YY
	}
	return time.Date(year, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
