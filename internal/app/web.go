// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/location_reporter/internal/position"
	"github.com/relabs-tech/location_reporter/internal/protocol"
	"github.com/relabs-tech/location_reporter/internal/session"
	"github.com/relabs-tech/location_reporter/internal/transport"
)

// StartRequest is the body of POST /api/start. Empty fields fall back to
// the configured defaults.
type StartRequest struct {
	Transport  string `json:"transport"`
	Endpoint   string `json:"endpoint"`
	DeviceName string `json:"device_name"`
}

// StatusResponse is served by GET /api/status.
type StatusResponse struct {
	Status         session.Status `json:"status"`
	Transport      string         `json:"transport,omitempty"`
	Endpoint       string         `json:"endpoint,omitempty"`
	DeviceID       string         `json:"device_id,omitempty"`
	Active         bool           `json:"active"`
	Unidirectional bool           `json:"unidirectional"`
	LastResponse   *protocol.Ack  `json:"last_response,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Controller exposes a session over HTTP.
type Controller struct {
	Session  *session.Session
	Listener session.Listener
	Defaults StartRequest
}

// Router builds the control API routes.
func (c *Controller) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/status", c.handleStatus).Methods("GET")
	r.HandleFunc("/api/position", c.handlePosition).Methods("GET")
	r.HandleFunc("/api/start", c.handleStart).Methods("POST")
	r.HandleFunc("/api/stop", c.handleStop).Methods("POST")
	return r
}

func (c *Controller) status() StatusResponse {
	kind, endpoint := c.Session.Endpoint()
	resp := StatusResponse{
		Status:         c.Session.LastStatus(),
		Endpoint:       endpoint,
		DeviceID:       c.Session.DeviceID(),
		Active:         c.Session.IsActive(),
		Unidirectional: c.Session.Unidirectional(),
	}
	if endpoint != "" {
		resp.Transport = kind.String()
	}
	if ack, ok := c.Session.LastResponse(); ok {
		resp.LastResponse = &ack
	}
	return resp
}

func (c *Controller) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.status())
}

func (c *Controller) handlePosition(w http.ResponseWriter, r *http.Request) {
	p, ok := c.Session.LastPosition()
	if !ok {
		http.Error(w, "no position yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		DeviceID string            `json:"device_id"`
		Position position.Position `json:"position"`
	}{c.Session.DeviceID(), p})
}

// Start merges req over the defaults and starts the session.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	merged := c.Defaults
	if req.Transport != "" {
		merged.Transport = req.Transport
	}
	if req.Endpoint != "" {
		merged.Endpoint = req.Endpoint
	}
	if req.DeviceName != "" {
		merged.DeviceName = req.DeviceName
	}

	kind, err := transport.ParseKind(merged.Transport)
	if err != nil {
		return &session.Error{Kind: session.KindConfig, Err: err}
	}
	return c.Session.Start(ctx, session.Options{
		Kind:       kind,
		Endpoint:   merged.Endpoint,
		DeviceName: merged.DeviceName,
		Listener:   c.Listener,
	})
}

func (c *Controller) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid JSON: " + err.Error()})
			return
		}
	}

	if err := c.Start(r.Context(), req); err != nil {
		code := http.StatusBadRequest
		kind := session.KindOf(err)
		if kind == session.KindAborted || kind == session.KindBusy {
			code = http.StatusConflict
		}
		writeJSON(w, code, apiError{Error: err.Error(), Kind: kind.String()})
		return
	}
	writeJSON(w, http.StatusOK, c.status())
}

func (c *Controller) handleStop(w http.ResponseWriter, r *http.Request) {
	c.Session.Stop()
	writeJSON(w, http.StatusOK, c.status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}
