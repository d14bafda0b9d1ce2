// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/location_reporter/internal/position"
)

// sentence appends the NMEA checksum to body (without '$' or '*').
func sentence(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, sum)
}

const (
	rmcValid = "GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W"
	rmcVoid  = "GPRMC,220516,V,5133.82,N,00042.24,W,0.0,0.0,130694,004.2,W"
	ggaFix   = "GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"
)

func approx(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func TestReaderCombinesRMCAndGGA(t *testing.T) {
	r := NewReader()
	stream := strings.Join([]string{
		"garbage line",
		"$GPRMC,broken*00",
		sentence(ggaFix),
		sentence(rmcValid),
	}, "\r\n") + "\r\n"

	if err := r.Run(strings.NewReader(stream)); !errors.Is(err, io.EOF) {
		t.Fatalf("Run returned %v, want io.EOF", err)
	}

	fix, ok := r.Latest()
	if !ok {
		t.Fatal("no RMC seen")
	}
	if !fix.Valid() {
		t.Errorf("validity %q, want A", fix.Validity)
	}
	if !approx(fix.Latitude, 51.5636667, 1e-5) || !approx(fix.Longitude, -0.704, 1e-5) {
		t.Errorf("lat/lon = %f/%f", fix.Latitude, fix.Longitude)
	}
	if fix.Satellites != 8 || !approx(fix.HDOP, 0.9, 1e-9) {
		t.Errorf("GGA fields: sats=%d hdop=%f", fix.Satellites, fix.HDOP)
	}
	want := time.Date(1994, time.June, 13, 22, 5, 16, 0, time.UTC)
	if !fix.Time.Equal(want) {
		t.Errorf("time = %v, want %v", fix.Time, want)
	}

	p := fix.Position()
	if !approx(p.Speed, 173.8*knotsToMps, 1e-9) {
		t.Errorf("speed = %f m/s", p.Speed)
	}
	if p.Heading != 231.8 {
		t.Errorf("heading = %f", p.Heading)
	}
	if !approx(p.Accuracy, 4.5, 1e-9) {
		t.Errorf("accuracy = %f", p.Accuracy)
	}
}

func TestReaderWithoutRMC(t *testing.T) {
	r := NewReader()
	r.HandleLine(sentence(ggaFix))
	if _, ok := r.Latest(); ok {
		t.Error("GGA alone must not count as a fix")
	}
}

type fakePort struct {
	io.Reader
	closed bool
}

func (p *fakePort) Write(b []byte) (int, error) { return len(b), nil }
func (p *fakePort) Close() error                { p.closed = true; return nil }

// blockingReader hands out its lines and then blocks until closed.
type blockingReader struct {
	data *strings.Reader
	stop chan struct{}
}

func (b *blockingReader) Read(p []byte) (int, error) {
	if b.data.Len() > 0 {
		return b.data.Read(p)
	}
	<-b.stop
	return 0, io.EOF
}

func TestSerialSourcePermissionDenied(t *testing.T) {
	src := NewSerialSource("/dev/ttyFAKE", 9600, nil)
	src.openPort = func(serial.OpenOptions) (io.ReadWriteCloser, error) {
		return nil, &os.PathError{Op: "open", Path: "/dev/ttyFAKE", Err: os.ErrPermission}
	}

	ctx := context.Background()
	if !src.ServiceEnabled(ctx) {
		t.Error("permission failure should still report the service as present")
	}
	if got := src.Permission(ctx); got != position.PermissionDenied {
		t.Errorf("Permission = %v, want denied", got)
	}
	if _, err := src.Current(ctx); !errors.Is(err, position.ErrPermissionDenied) {
		t.Errorf("Current err = %v, want ErrPermissionDenied", err)
	}
}

func TestSerialSourceMissingPort(t *testing.T) {
	src := NewSerialSource("/dev/ttyNONE", 9600, nil)
	src.openPort = func(serial.OpenOptions) (io.ReadWriteCloser, error) {
		return nil, &os.PathError{Op: "open", Path: "/dev/ttyNONE", Err: os.ErrNotExist}
	}
	if src.ServiceEnabled(context.Background()) {
		t.Error("missing port reported as enabled")
	}
}

func TestSerialSourceCurrent(t *testing.T) {
	stop := make(chan struct{})
	defer close(stop)

	lines := sentence(rmcVoid) + "\r\n"
	port := &fakePort{Reader: &blockingReader{data: strings.NewReader(lines), stop: stop}}

	src := NewSerialSource("/dev/ttyFAKE", 9600, nil)
	var opened serial.OpenOptions
	src.openPort = func(o serial.OpenOptions) (io.ReadWriteCloser, error) {
		opened = o
		return port, nil
	}

	ctx := context.Background()
	if !src.ServiceEnabled(ctx) {
		t.Fatal("ServiceEnabled = false")
	}
	if opened.PortName != "/dev/ttyFAKE" || opened.BaudRate != 9600 {
		t.Errorf("opened with %+v", opened)
	}

	// wait for the void sentence to be consumed
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := src.reader.Latest(); ok || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := src.Current(ctx); !errors.Is(err, position.ErrNoFix) {
		t.Fatalf("void fix: err = %v, want ErrNoFix", err)
	}

	src.reader.HandleLine(sentence(rmcValid))
	p, err := src.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !approx(p.Latitude, 51.5636667, 1e-5) {
		t.Errorf("latitude = %f", p.Latitude)
	}

	src.reader.now = func() time.Time { return time.Now().Add(MaxFixAge + time.Second) }
	if _, err := src.Current(ctx); !errors.Is(err, position.ErrNoFix) {
		t.Errorf("stale fix: err = %v, want ErrNoFix", err)
	}
}
