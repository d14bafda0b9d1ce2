// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/location_reporter/internal/config"
	"github.com/relabs-tech/location_reporter/internal/mirror"
)

// statusLine mirrors the JSON form of session.Status.
type statusLine struct {
	State          string `json:"state"`
	Kind           string `json:"kind"`
	Message        string `json:"message"`
	Simulated      bool   `json:"simulated"`
	Unidirectional bool   `json:"unidirectional"`
	Detail         string `json:"detail"`
}

func formatStatus(payload []byte) (string, error) {
	var st statusLine
	if err := json.Unmarshal(payload, &st); err != nil {
		return "", err
	}
	line := fmt.Sprintf("[STAT] state=%-10s %s", st.State, st.Message)
	if st.Kind != "" && st.Kind != "none" {
		line += fmt.Sprintf("  kind=%s", st.Kind)
	}
	if st.Detail != "" {
		line += "  detail=" + st.Detail
	}
	if st.Simulated {
		line += "  (simulated)"
	}
	if st.Unidirectional {
		line += "  (send only)"
	}
	return line, nil
}

func formatPosition(payload []byte) (string, error) {
	var m mirror.PositionMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", err
	}
	p := m.Position
	return fmt.Sprintf(
		"[POS ] device=%s lat=%.6f lon=%.6f speed=%.1fm/s heading=%.1f° acc=%.1fm",
		m.DeviceID, p.Latitude, p.Longitude, p.Speed, p.Heading, p.Accuracy,
	), nil
}

// RunConsoleMQTT prints the reporter's mirrored status and positions until
// interrupted.
func RunConsoleMQTT(cfg *config.Config) error {
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is not set")
	}
	client, err := mirror.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	subscribe := func(topic string, format func([]byte) (string, error)) error {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			line, err := format(msg.Payload())
			if err != nil {
				log.Printf("console: %s unmarshal error: %v", topic, err)
				return
			}
			fmt.Println(line)
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("console: subscribed to %s", topic)
		return nil
	}

	if err := subscribe(cfg.TopicStatus, formatStatus); err != nil {
		return err
	}
	if err := subscribe(cfg.TopicPosition, formatPosition); err != nil {
		return err
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
