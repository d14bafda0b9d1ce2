// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/location_reporter/internal/protocol"
)

const maxReportBytes = 64 << 10

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// AckReply is what the receiver answers to every frame.
type AckReply struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"mensagem,omitempty"`
}

// DeviceReport is the last frame received from one device.
type DeviceReport struct {
	DeviceID   string          `json:"device_id"`
	Type       string          `json:"tipo"`
	Data       json.RawMessage `json:"dados"`
	Via        string          `json:"via"`
	AckID      string          `json:"ack_id"`
	ReceivedAt time.Time       `json:"received_at"`
}

// AckServer is a development receiver for the reporter. It acknowledges
// every report and remembers the newest one per device.
type AckServer struct {
	mu      sync.RWMutex
	devices map[string]DeviceReport
	frames  int
}

func NewAckServer() *AckServer {
	return &AckServer{devices: make(map[string]DeviceReport)}
}

func (a *AckServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", a.handleWS).Methods("GET")
	r.HandleFunc("/api/devices", a.handleDevices).Methods("GET")
	r.PathPrefix("/").HandlerFunc(a.handlePost).Methods("POST")
	return r
}

// record stores a frame and returns the reply for it.
func (a *AckServer) record(body []byte, via string) (AckReply, bool) {
	env, err := protocol.DecodeEnvelope(body)
	if err != nil || env.Type == "" {
		return AckReply{Status: "erro", Message: "registro invalido"}, false
	}
	var ident struct {
		DeviceID string `json:"dispositivo_id"`
	}
	if len(env.Data) > 0 {
		json.Unmarshal(env.Data, &ident)
	}

	reply := AckReply{Status: protocol.StatusSuccess, ID: uuid.New().String()}
	a.mu.Lock()
	a.frames++
	if ident.DeviceID != "" {
		a.devices[ident.DeviceID] = DeviceReport{
			DeviceID:   ident.DeviceID,
			Type:       env.Type,
			Data:       env.Data,
			Via:        via,
			AckID:      reply.ID,
			ReceivedAt: time.Now(),
		}
	}
	a.mu.Unlock()
	return reply, true
}

func (a *AckServer) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxReportBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, AckReply{Status: "erro", Message: err.Error()})
		return
	}
	reply, ok := a.record(body, "http")
	if !ok {
		log.Printf("ack_server: rejected POST %s (%d bytes)", r.URL.Path, len(body))
		writeJSON(w, http.StatusBadRequest, reply)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (a *AckServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ack_server: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("ack_server: websocket client connected from %s", r.RemoteAddr)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ack_server: websocket read error: %v", err)
			}
			return
		}
		reply, _ := a.record(msg, "ws")
		if err := conn.WriteJSON(reply); err != nil {
			log.Printf("ack_server: websocket write error: %v", err)
			return
		}
	}
}

func (a *AckServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Devices())
}

// Devices returns the last report of every device, ordered by device id.
func (a *AckServer) Devices() []DeviceReport {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]DeviceReport, 0, len(a.devices))
	for _, d := range a.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Frames counts every accepted frame.
func (a *AckServer) Frames() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frames
}

// RunAckServer serves the development receiver on port until it fails.
func RunAckServer(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("ack_server: listening on %s (POST any path, GET /ws)", addr)
	return http.ListenAndServe(addr, NewAckServer().Router())
}
