// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader("# empty\n\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Transport != "http" || cfg.PositionSource != SourceFixed {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.HandshakeTimeout() != 5*time.Second || cfg.ReplyWait() != 3*time.Second {
		t.Errorf("timeouts = %v %v", cfg.HandshakeTimeout(), cfg.ReplyWait())
	}
	if !cfg.FallbackEnabled || cfg.FallbackLatitude != -15.7801 {
		t.Errorf("fallback = %v %v", cfg.FallbackEnabled, cfg.FallbackLatitude)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reporter.config")
	body := `
TRANSPORT=ws
ENDPOINT = wss://example.com/ws
DEVICE_NAME=Car 7
AUTOSTART=true
POSITION_SOURCE=serial
GPS_SERIAL_PORT=/dev/ttyUSB0
GPS_BAUD_RATE=4800
REPLY_WAIT_MS=1500
MQTT_BROKER=tcp://localhost:1883
WEB_SERVER_PORT=9000
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport != "ws" || cfg.Endpoint != "wss://example.com/ws" || cfg.DeviceName != "Car 7" {
		t.Errorf("session keys = %+v", cfg)
	}
	if !cfg.Autostart || cfg.GPSSerialPort != "/dev/ttyUSB0" || cfg.GPSBaudRate != 4800 {
		t.Errorf("source keys = %+v", cfg)
	}
	if cfg.ReplyWait() != 1500*time.Millisecond || cfg.WebServerPort != 9000 {
		t.Errorf("reply wait %v port %d", cfg.ReplyWait(), cfg.WebServerPort)
	}
	if cfg.TopicStatus != "reporter/status" {
		t.Errorf("TopicStatus = %q", cfg.TopicStatus)
	}
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"no equals":        "TRANSPORT\n",
		"unknown key":      "COLOR=blue\n",
		"bad transport":    "TRANSPORT=udp\n",
		"bad source":       "POSITION_SOURCE=wifi\n",
		"bad bool":         "AUTOSTART=maybe\n",
		"latitude range":   "FALLBACK_LATITUDE=91\n",
		"timeout range":    "SEND_TIMEOUT_MS=5\n",
		"port range":       "WEB_SERVER_PORT=70000\n",
		"autostart no url": "AUTOSTART=true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(body)); err == nil {
				t.Errorf("Parse(%q) succeeded", body)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error")
	}
}
