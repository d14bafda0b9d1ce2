// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

// Reader accumulates RMC/GGA sentences from an NMEA stream into a Fix.
type Reader struct {
	mu      sync.RWMutex
	current Fix
	haveRMC bool
	now     func() time.Time
}

func NewReader() *Reader {
	return &Reader{now: time.Now}
}

// Run reads lines from r until it fails, returning the read error
// (io.EOF on a clean end of stream).
func (r *Reader) Run(src io.Reader) error {
	reader := bufio.NewReader(src)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			r.HandleLine(line)
		}
		if err != nil {
			return err
		}
	}
}

// HandleLine parses a single sentence. Noise, partial sentences and
// unsupported types are ignored.
func (r *Reader) HandleLine(line string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch sentence.DataType() {
	case nmea.TypeRMC:
		r.current.applyRMC(sentence.(nmea.RMC), r.now())
		r.haveRMC = true
	case nmea.TypeGGA:
		r.current.applyGGA(sentence.(nmea.GGA))
	}
}

// Latest returns the last fix and whether any RMC sentence has been seen.
func (r *Reader) Latest() (Fix, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.haveRMC
}
