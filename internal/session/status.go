// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// State is the session's control state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateSimulating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateSimulating:
		return "simulating"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ErrorKind classifies what went wrong; KindNone for informational status.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindConfig
	KindServiceDisabled
	KindPermission
	KindHandshake
	KindPosition
	KindTransport
	KindAborted
	KindBusy
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConfig:
		return "config"
	case KindServiceDisabled:
		return "service_disabled"
	case KindPermission:
		return "permission"
	case KindHandshake:
		return "handshake"
	case KindPosition:
		return "position"
	case KindTransport:
		return "transport"
	case KindAborted:
		return "aborted"
	case KindBusy:
		return "busy"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Status is what the session reports to its listener and keeps as
// LastStatus. Kind carries the error classification; Message is for
// display only.
type Status struct {
	State          State
	Kind           ErrorKind
	Message        string
	Simulated      bool
	Unidirectional bool
	Err            error
	At             time.Time
}

func (s Status) IsError() bool { return s.Kind != KindNone }

func (s Status) String() string {
	if s.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", s.State, s.Message, s.Err)
	}
	return fmt.Sprintf("[%s] %s", s.State, s.Message)
}

// MarshalJSON renders Err as text.
func (s Status) MarshalJSON() ([]byte, error) {
	out := struct {
		State          State     `json:"state"`
		Kind           ErrorKind `json:"kind"`
		Error          bool      `json:"error"`
		Message        string    `json:"message"`
		Simulated      bool      `json:"simulated"`
		Unidirectional bool      `json:"unidirectional,omitempty"`
		Detail         string    `json:"detail,omitempty"`
		At             time.Time `json:"at"`
	}{
		State:          s.State,
		Kind:           s.Kind,
		Error:          s.IsError(),
		Message:        s.Message,
		Simulated:      s.Simulated,
		Unidirectional: s.Unidirectional,
		At:             s.At,
	}
	if s.Err != nil {
		out.Detail = s.Err.Error()
	}
	return json.Marshal(out)
}

// Listener receives every status the session emits. Calls come from the
// goroutine doing the work, one at a time and never while the session lock
// is held. OnStatus may read the session but must not call Start or Stop.
type Listener interface {
	OnStatus(Status)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Status)

func (f ListenerFunc) OnStatus(s Status) { f(s) }

// Listeners fans one status out to several listeners in order.
type Listeners []Listener

func (ls Listeners) OnStatus(s Status) {
	for _, l := range ls {
		if l != nil {
			l.OnStatus(s)
		}
	}
}

// Error is returned by Start when the session could not be started.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err, KindNone for nil or foreign
// errors.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindNone
}

var (
	ErrServiceDisabled  = errors.New("location service disabled")
	ErrPermissionDenied = errors.New("location permission denied")
	ErrStopped          = errors.New("session stopped while starting")
	ErrStartInProgress  = errors.New("start already in progress")
)
