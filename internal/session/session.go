// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package session runs one location-reporting session: it validates the
// endpoint, performs the transport handshake, samples the position source
// on a fixed interval and pushes each sample over the transport, falling
// back to simulation (sampling without delivery) when the transport fails.
//
// All state lives behind one mutex. Network and position I/O never runs
// under it; every commit checks the epoch captured when the work began, so
// work that finishes after Stop is dropped instead of reviving the session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/location_reporter/internal/position"
	"github.com/relabs-tech/location_reporter/internal/protocol"
	"github.com/relabs-tech/location_reporter/internal/transport"
)

// DefaultInterval is the sampling cadence.
const DefaultInterval = 20 * time.Second

const msgDisconnected = "Disconnected"

// Config holds the construction-time knobs. Zero values pick defaults.
type Config struct {
	Interval         time.Duration
	HandshakeTimeout time.Duration
	ReplyWait        time.Duration
	SendTimeout      time.Duration
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

// Options selects the transport and endpoint for one Start.
type Options struct {
	Kind       transport.Kind
	Endpoint   string
	DeviceName string
	Listener   Listener
}

// Session is safe for concurrent use.
type Session struct {
	src    position.Source
	cfg    Config
	logger *slog.Logger

	notifyMu sync.Mutex // held while a listener runs; taken before mu

	mu             sync.Mutex
	state          State
	epoch          uint64
	cancel         context.CancelFunc
	kind           transport.Kind
	endpoint       string
	deviceName     string
	deviceID       string
	listener       Listener
	tr             transport.Transport
	unidirectional bool
	lastPos        position.Position
	havePos        bool
	lastAck        protocol.Ack
	haveAck        bool
	lastStatus     Status
}

// New builds an idle session around src. The platform's permission flow is
// whatever src implements.
func New(src position.Source, cfg Config) *Session {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = transport.DefaultHandshakeTimeout
	}
	if cfg.ReplyWait <= 0 {
		cfg.ReplyWait = transport.DefaultReplyWait
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = transport.DefaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		src:    src,
		cfg:    cfg,
		logger: cfg.Logger,
		lastStatus: Status{
			State:   StateIdle,
			Message: msgDisconnected,
			At:      time.Now(),
		},
	}
}

// handshakeOutcome is what Start learned before committing.
type handshakeOutcome struct {
	tr             transport.Transport
	unidirectional bool
	ack            protocol.Ack
	pos            position.Position
	havePos        bool
	sampled        bool // HTTP handshake already performed this run's first sample
	err            error
}

// Start begins a session. It returns nil once the session is Active or
// Simulating (or was already running), and a *Error for configuration,
// service and permission failures, which leave the session Idle. A Start
// issued while another is still connecting returns KindBusy. A
// handshake failure is not an error: the session starts Simulating.
func (s *Session) Start(ctx context.Context, opts Options) error {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if err := transport.ValidateEndpoint(opts.Kind, endpoint); err != nil {
		st := Status{State: StateIdle, Kind: KindConfig, Message: "invalid endpoint", Err: err, At: time.Now()}
		s.mu.Lock()
		if s.state == StateIdle {
			s.lastStatus = st
		} else {
			st.State = s.state
		}
		epoch := s.epoch
		s.mu.Unlock()
		s.emit(epoch, opts.Listener, st)
		return &Error{Kind: KindConfig, Err: err}
	}

	s.mu.Lock()
	switch s.state {
	case StateConnecting:
		s.mu.Unlock()
		return &Error{Kind: KindBusy, Err: ErrStartInProgress}
	case StateActive, StateSimulating:
		state := s.state
		s.mu.Unlock()
		s.logger.Debug("session_start_ignored", "state", state.String())
		return nil
	}
	startCtx, startCancel := context.WithCancel(ctx)
	defer startCancel()

	s.epoch++
	epoch := s.epoch
	s.state = StateConnecting
	s.cancel = startCancel
	s.kind = opts.Kind
	s.endpoint = endpoint
	if name := strings.TrimSpace(opts.DeviceName); name != "" {
		s.deviceName = name
	}
	s.deviceID = protocol.DeviceID(opts.Kind.String(), s.deviceName)
	s.listener = opts.Listener
	s.unidirectional = false
	deviceID := s.deviceID
	st := Status{State: StateConnecting, Message: "Connecting to " + endpoint, At: time.Now()}
	s.lastStatus = st
	s.mu.Unlock()

	s.logger.Info("session_starting", "epoch", epoch, "transport", opts.Kind.String(), "endpoint", endpoint, "device_id", deviceID)
	s.emit(epoch, opts.Listener, st)

	if !s.src.ServiceEnabled(startCtx) {
		return s.failStart(epoch, KindServiceDisabled, ErrServiceDisabled)
	}
	if perm := s.src.Permission(startCtx); perm != position.PermissionGranted {
		return s.failStart(epoch, KindPermission, fmt.Errorf("%w (%s)", ErrPermissionDenied, perm))
	}

	var out handshakeOutcome
	switch opts.Kind {
	case transport.KindWebSocket:
		out = s.handshakeWebSocket(startCtx, endpoint, deviceID)
	default:
		out = s.handshakeHTTP(startCtx, endpoint, deviceID)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		loopCancel()
		if out.tr != nil {
			out.tr.Close()
		}
		s.logger.Info("session_start_abandoned", "epoch", epoch)
		return &Error{Kind: KindAborted, Err: ErrStopped}
	}

	s.cancel = loopCancel
	if out.havePos {
		s.lastPos, s.havePos = out.pos, true
	}
	if !out.ack.Empty() {
		s.lastAck, s.haveAck = out.ack, true
	}
	if out.err == nil {
		s.state = StateActive
		s.tr = out.tr
		s.unidirectional = out.unidirectional
		msg := "Connected"
		if out.unidirectional {
			msg = "Connected (no reply from server, sending only)"
		}
		st = Status{State: StateActive, Message: msg, Unidirectional: out.unidirectional, At: time.Now()}
	} else {
		s.state = StateSimulating
		st = Status{State: StateSimulating, Kind: KindHandshake, Message: "Handshake failed, simulating", Simulated: true, Err: out.err, At: time.Now()}
	}
	s.lastStatus = st
	listener := s.listener
	s.mu.Unlock()

	if out.err != nil {
		s.logger.Warn("session_handshake_failed", "epoch", epoch, "error", out.err)
	} else {
		s.logger.Info("session_active", "epoch", epoch, "unidirectional", out.unidirectional)
	}
	s.emit(epoch, listener, st)

	if !out.sampled {
		s.tick(loopCtx, epoch)
	}
	go s.loop(loopCtx, epoch)
	return nil
}

func (s *Session) failStart(epoch uint64, kind ErrorKind, err error) error {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return &Error{Kind: KindAborted, Err: ErrStopped}
	}
	s.state = StateIdle
	s.cancel = nil
	st := Status{State: StateIdle, Kind: kind, Message: "Could not start", Err: err, At: time.Now()}
	s.lastStatus = st
	listener := s.listener
	s.mu.Unlock()

	s.logger.Warn("session_start_failed", "epoch", epoch, "kind", kind.String(), "error", err)
	s.emit(epoch, listener, st)
	return &Error{Kind: kind, Err: err}
}

func (s *Session) handshakeWebSocket(ctx context.Context, endpoint, deviceID string) handshakeOutcome {
	ws, err := transport.DialWebSocket(ctx, endpoint, transport.WebSocketOptions{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		SendTimeout:      s.cfg.SendTimeout,
		Logger:           s.logger,
	})
	if err != nil {
		return handshakeOutcome{err: err}
	}
	res, err := ws.Handshake(ctx, deviceID, s.cfg.ReplyWait)
	if err != nil {
		ws.Close()
		return handshakeOutcome{err: err}
	}
	return handshakeOutcome{tr: ws, unidirectional: !res.Replied, ack: res.Reply}
}

// handshakeHTTP performs one synchronous sample-and-POST.
func (s *Session) handshakeHTTP(ctx context.Context, endpoint, deviceID string) handshakeOutcome {
	pos, err := s.src.Current(ctx)
	if err != nil {
		return handshakeOutcome{err: fmt.Errorf("initial position: %w", err)}
	}
	out := handshakeOutcome{pos: pos, havePos: true, sampled: true}

	h := transport.NewHTTP(endpoint, s.cfg.HTTPClient, s.cfg.SendTimeout, s.logger)
	ack, err := h.Send(ctx, deviceID, pos)
	if err != nil {
		out.err = err
		return out
	}
	out.tr = h
	out.ack = ack
	return out
}

func (s *Session) loop(ctx context.Context, epoch uint64) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		var (
			tr     transport.Transport
			broken <-chan struct{}
		)
		if s.epoch == epoch && s.tr != nil {
			tr = s.tr
			broken = tr.Done()
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, epoch)
		case <-broken:
			s.degrade(epoch, tr, &transport.Error{Op: "receive", Err: transport.ErrClosed})
		}
	}
}

// tick samples once and, when a transport is held, sends the sample.
// Position failures never change state; transport failures drop the
// session to Simulating.
func (s *Session) tick(ctx context.Context, epoch uint64) {
	pos, err := s.src.Current(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		st := Status{
			State:          s.state,
			Kind:           KindPosition,
			Message:        "Position unavailable",
			Simulated:      s.state == StateSimulating,
			Unidirectional: s.unidirectional,
			Err:            err,
			At:             time.Now(),
		}
		s.lastStatus = st
		listener := s.listener
		s.mu.Unlock()

		s.logger.Warn("session_position_failed", "epoch", epoch, "error", err)
		s.emit(epoch, listener, st)
		return
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.lastPos, s.havePos = pos, true
	tr := s.tr
	deviceID := s.deviceID
	if tr == nil {
		st := Status{
			State:     StateSimulating,
			Message:   fmt.Sprintf("Simulated location %.6f, %.6f", pos.Latitude, pos.Longitude),
			Simulated: true,
			At:        time.Now(),
		}
		s.lastStatus = st
		listener := s.listener
		s.mu.Unlock()
		s.logger.Debug("session_simulated_sample", "epoch", epoch, "position", pos.String())
		s.emit(epoch, listener, st)
		return
	}
	s.mu.Unlock()

	ack, err := tr.Send(ctx, deviceID, pos)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.degrade(epoch, tr, err)
		return
	}

	s.mu.Lock()
	if s.epoch != epoch || s.tr != tr {
		s.mu.Unlock()
		return
	}
	if !ack.Empty() {
		s.lastAck, s.haveAck = ack, true
	}
	msg := fmt.Sprintf("Location sent %.6f, %.6f", pos.Latitude, pos.Longitude)
	if !ack.Empty() {
		msg += ": " + ack.Summary()
	}
	st := Status{State: StateActive, Message: msg, Unidirectional: s.unidirectional, At: time.Now()}
	s.lastStatus = st
	listener := s.listener
	s.mu.Unlock()

	s.logger.Debug("session_sample_sent", "epoch", epoch, "device_id", deviceID, "position", pos.String())
	s.emit(epoch, listener, st)
}

// degrade releases tr and moves the session to Simulating, unless tr is
// no longer the session's transport.
func (s *Session) degrade(epoch uint64, tr transport.Transport, cause error) {
	s.mu.Lock()
	if s.epoch != epoch || s.tr == nil || s.tr != tr {
		s.mu.Unlock()
		return
	}
	s.tr = nil
	s.state = StateSimulating
	s.unidirectional = false
	st := Status{State: StateSimulating, Kind: KindTransport, Message: "Transport lost, simulating", Simulated: true, Err: cause, At: time.Now()}
	s.lastStatus = st
	listener := s.listener
	s.mu.Unlock()

	tr.Close()
	s.logger.Warn("session_transport_lost", "epoch", epoch, "error", cause)
	s.emit(epoch, listener, st)
}

// Stop ends the session: the sampler is cancelled, the transport closed and
// the last response discarded. Stopping an idle session only resets the
// status to Disconnected.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateIdle {
		if s.lastStatus.Message != msgDisconnected || s.lastStatus.IsError() {
			s.lastStatus = Status{State: StateIdle, Message: msgDisconnected, At: time.Now()}
		}
		s.mu.Unlock()
		return
	}
	s.epoch++
	epoch := s.epoch
	cancel := s.cancel
	tr := s.tr
	s.cancel = nil
	s.tr = nil
	s.state = StateIdle
	s.unidirectional = false
	s.lastAck, s.haveAck = protocol.Ack{}, false
	st := Status{State: StateIdle, Message: msgDisconnected, At: time.Now()}
	s.lastStatus = st
	listener := s.listener
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		tr.Close()
	}
	s.logger.Info("session_stopped", "epoch", epoch)
	s.emit(epoch, listener, st)
}

// SetDeviceName changes the name part of the device identity; the next
// report uses it. While idle the name is kept for a Start whose Options
// leave DeviceName empty.
func (s *Session) SetDeviceName(name string) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceName = name
	if s.state != StateIdle {
		s.deviceID = protocol.DeviceID(s.kind.String(), name)
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive reports whether the sampler is running (Active or Simulating).
func (s *Session) IsActive() bool {
	st := s.State()
	return st == StateActive || st == StateSimulating
}

func (s *Session) Unidirectional() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unidirectional
}

func (s *Session) LastPosition() (position.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPos, s.havePos
}

func (s *Session) LastStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatus
}

func (s *Session) LastResponse() (protocol.Ack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAck, s.haveAck
}

// DeviceID is the identity of the current (or last) run.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// Endpoint and Kind describe the current (or last) run.
func (s *Session) Endpoint() (transport.Kind, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind, s.endpoint
}

// emit delivers st unless the run that produced it has been superseded.
// Deliveries are serialized, so a status from a run that ended is never
// delivered after the status that ended it.
func (s *Session) emit(epoch uint64, l Listener, st Status) {
	if l == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	current := s.epoch == epoch
	s.mu.Unlock()
	if !current {
		s.logger.Debug("session_status_dropped", "epoch", epoch, "state", st.State.String())
		return
	}
	l.OnStatus(st)
}
