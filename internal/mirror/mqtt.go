// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package mirror republishes session status and positions to MQTT so that
// local consoles and dashboards can follow a running reporter.
package mirror

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/location_reporter/internal/position"
	"github.com/relabs-tech/location_reporter/internal/session"
)

const publishTimeout = 2 * time.Second

// Publisher is the part of mqtt.Client the mirror needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// PositionReader supplies the latest position; *session.Session satisfies it.
type PositionReader interface {
	LastPosition() (position.Position, bool)
	DeviceID() string
}

// PositionMessage is what goes out on the position topic.
type PositionMessage struct {
	DeviceID string            `json:"device_id"`
	Position position.Position `json:"position"`
}

// Mirror is a session.Listener. Publish failures are logged and dropped.
type Mirror struct {
	client        Publisher
	positions     PositionReader
	topicStatus   string
	topicPosition string
	logger        *slog.Logger

	mu            sync.Mutex
	lastPublished time.Time
}

func New(client Publisher, positions PositionReader, topicStatus, topicPosition string, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		client:        client,
		positions:     positions,
		topicStatus:   topicStatus,
		topicPosition: topicPosition,
		logger:        logger,
	}
}

// Connect builds and connects a paho client for broker.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	return client, nil
}

func (m *Mirror) OnStatus(st session.Status) {
	payload, err := json.Marshal(st)
	if err != nil {
		m.logger.Error("mirror_status_marshal_failed", "error", err)
		return
	}
	m.publish(m.topicStatus, payload)

	if m.positions == nil || m.topicPosition == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions.LastPosition()
	if !ok || !p.Timestamp.After(m.lastPublished) {
		return
	}
	payload, err = json.Marshal(PositionMessage{DeviceID: m.positions.DeviceID(), Position: p})
	if err != nil {
		m.logger.Error("mirror_position_marshal_failed", "error", err)
		return
	}
	if m.publish(m.topicPosition, payload) {
		m.lastPublished = p.Timestamp
	}
}

func (m *Mirror) publish(topic string, payload []byte) bool {
	if topic == "" {
		return false
	}
	token := m.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		m.logger.Warn("mirror_publish_timeout", "topic", topic)
		return false
	}
	if err := token.Error(); err != nil {
		m.logger.Warn("mirror_publish_failed", "topic", topic, "error", err)
		return false
	}
	return true
}
