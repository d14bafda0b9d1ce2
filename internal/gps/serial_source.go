// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/location_reporter/internal/position"
)

// MaxFixAge is how old the last valid fix may be before Current reports
// ErrNoFix.
const MaxFixAge = 10 * time.Second

// SerialSource is a position.Source backed by an NMEA receiver on a
// serial port. The port is opened on first use and reopened after the
// read loop dies.
type SerialSource struct {
	PortName string
	BaudRate uint
	Logger   *slog.Logger

	openPort func(serial.OpenOptions) (io.ReadWriteCloser, error)

	mu      sync.Mutex
	port    io.ReadWriteCloser
	reader  *Reader
	running bool
	openErr error
}

// NewSerialSource returns a source for the receiver on portName.
func NewSerialSource(portName string, baud uint, logger *slog.Logger) *SerialSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SerialSource{
		PortName: portName,
		BaudRate: baud,
		Logger:   logger,
		openPort: serial.Open,
		reader:   NewReader(),
	}
}

func (s *SerialSource) ensureOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	opts := serial.OpenOptions{
		PortName:              s.PortName,
		BaudRate:              s.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := s.openPort(opts)
	if err != nil {
		s.openErr = err
		s.Logger.Warn("gps_serial_open_failed", "port", s.PortName, "error", err)
		return
	}
	s.port = port
	s.openErr = nil
	s.running = true
	s.Logger.Info("gps_serial_opened", "port", s.PortName, "baud", s.BaudRate)

	go s.readLoop(port)
}

func (s *SerialSource) readLoop(port io.ReadWriteCloser) {
	err := s.reader.Run(port)
	s.Logger.Warn("gps_serial_read_stopped", "port", s.PortName, "error", err)

	s.mu.Lock()
	if s.port == port {
		s.running = false
		s.port = nil
	}
	s.mu.Unlock()
	port.Close()
}

// ServiceEnabled reports whether the receiver is reachable. A port that
// exists but refuses access counts as enabled; Permission reports the
// refusal.
func (s *SerialSource) ServiceEnabled(context.Context) bool {
	s.ensureOpen()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running || errors.Is(s.openErr, os.ErrPermission)
}

func (s *SerialSource) Permission(context.Context) position.Permission {
	s.ensureOpen()
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(s.openErr, os.ErrPermission) {
		return position.PermissionDenied
	}
	return position.PermissionGranted
}

func (s *SerialSource) Current(ctx context.Context) (position.Position, error) {
	if err := ctx.Err(); err != nil {
		return position.Position{}, err
	}
	s.ensureOpen()

	s.mu.Lock()
	openErr := s.openErr
	s.mu.Unlock()
	if openErr != nil {
		if errors.Is(openErr, os.ErrPermission) {
			return position.Position{}, fmt.Errorf("open %s: %w", s.PortName, position.ErrPermissionDenied)
		}
		return position.Position{}, fmt.Errorf("open %s: %w", s.PortName, position.ErrServiceDisabled)
	}

	fix, ok := s.reader.Latest()
	if !ok || !fix.Valid() {
		return position.Position{}, position.ErrNoFix
	}
	if age := s.reader.now().Sub(fix.receivedAt); age > MaxFixAge {
		return position.Position{}, fmt.Errorf("last fix %s old: %w", age.Round(time.Second), position.ErrNoFix)
	}
	return fix.Position(), nil
}

// Close releases the serial port.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.running = false
	s.mu.Unlock()
	if port == nil {
		return nil
	}
	return port.Close()
}
