// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Position source selectors for POSITION_SOURCE.
const (
	SourceSerial = "serial"
	SourceMock   = "mock"
	SourceFixed  = "fixed"
)

// Config holds all application configuration values.
type Config struct {
	// Session
	Transport  string // "http" or "ws"
	Endpoint   string
	DeviceName string
	Autostart  bool

	// Position source
	PositionSource    string
	GPSSerialPort     string
	GPSBaudRate       int
	FallbackEnabled   bool
	FallbackLatitude  float64
	FallbackLongitude float64

	// Timeouts (milliseconds)
	HandshakeTimeoutMs int
	ReplyWaitMs        int
	SendTimeoutMs      int

	// MQTT mirror (optional; empty broker disables it)
	MQTTBroker          string
	MQTTClientID        string
	MQTTClientIDConsole string
	TopicStatus         string
	TopicPosition       string

	// Web Server
	WebServerPort int
	AckServerPort int
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig is only reachable through Get, set once by InitGlobal.
//   - configOnce makes InitGlobal run once, even if called multiple times.
//   - configMu guards globalConfig; Get takes the read lock.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	return &Config{
		Transport:           "http",
		PositionSource:      SourceFixed,
		GPSSerialPort:       "/dev/serial0",
		GPSBaudRate:         9600,
		FallbackEnabled:     true,
		FallbackLatitude:    -15.7801,
		FallbackLongitude:   -47.9292,
		HandshakeTimeoutMs:  5000,
		ReplyWaitMs:         3000,
		SendTimeoutMs:       10000,
		MQTTClientID:        "location-reporter",
		MQTTClientIDConsole: "location-reporter-console",
		TopicStatus:         "reporter/status",
		TopicPosition:       "reporter/position",
		WebServerPort:       8080,
		AckServerPort:       8090,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads KEY=VALUE lines from r on top of Default().
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// Session
	case "TRANSPORT":
		v := strings.ToLower(value)
		if v != "http" && v != "ws" {
			return fmt.Errorf("TRANSPORT must be http or ws, got %q", value)
		}
		c.Transport = v
	case "ENDPOINT":
		c.Endpoint = value
	case "DEVICE_NAME":
		c.DeviceName = value
	case "AUTOSTART":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid AUTOSTART %q: %w", value, err)
		}
		c.Autostart = b

	// Position source
	case "POSITION_SOURCE":
		v := strings.ToLower(value)
		switch v {
		case SourceSerial, SourceMock, SourceFixed:
			c.PositionSource = v
		default:
			return fmt.Errorf("POSITION_SOURCE must be serial, mock or fixed, got %q", value)
		}
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GPS_BAUD_RATE %q: %w", value, err)
		}
		if rate <= 0 {
			return fmt.Errorf("GPS_BAUD_RATE must be positive, got %d", rate)
		}
		c.GPSBaudRate = rate
	case "FALLBACK_ENABLED":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid FALLBACK_ENABLED %q: %w", value, err)
		}
		c.FallbackEnabled = b
	case "FALLBACK_LATITUDE":
		lat, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid FALLBACK_LATITUDE %q: %w", value, err)
		}
		if lat < -90 || lat > 90 {
			return fmt.Errorf("FALLBACK_LATITUDE must be -90..90, got %v", lat)
		}
		c.FallbackLatitude = lat
	case "FALLBACK_LONGITUDE":
		lon, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid FALLBACK_LONGITUDE %q: %w", value, err)
		}
		if lon < -180 || lon > 180 {
			return fmt.Errorf("FALLBACK_LONGITUDE must be -180..180, got %v", lon)
		}
		c.FallbackLongitude = lon

	// Timeouts
	case "HANDSHAKE_TIMEOUT_MS":
		return setMillis(&c.HandshakeTimeoutMs, key, value)
	case "REPLY_WAIT_MS":
		return setMillis(&c.ReplyWaitMs, key, value)
	case "SEND_TIMEOUT_MS":
		return setMillis(&c.SendTimeoutMs, key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "TOPIC_STATUS":
		c.TopicStatus = value
	case "TOPIC_POSITION":
		c.TopicPosition = value

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := parsePort(key, value)
		if err != nil {
			return err
		}
		c.WebServerPort = port
	case "ACK_SERVER_PORT":
		port, err := parsePort(key, value)
		if err != nil {
			return err
		}
		c.AckServerPort = port

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func setMillis(dst *int, key, value string) error {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if ms < 100 || ms > 120000 {
		return fmt.Errorf("%s must be 100-120000, got %d", key, ms)
	}
	*dst = ms
	return nil
}

func parsePort(key, value string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("%s must be 0-65535, got %d", key, port)
	}
	return port, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.Autostart && c.Endpoint == "" {
		return fmt.Errorf("ENDPOINT is required when AUTOSTART=true")
	}
	if c.PositionSource == SourceSerial && c.GPSSerialPort == "" {
		return fmt.Errorf("GPS_SERIAL_PORT is required for POSITION_SOURCE=serial")
	}
	if c.MQTTBroker != "" && c.MQTTClientID == "" {
		return fmt.Errorf("MQTT_CLIENT_ID is required when MQTT_BROKER is set")
	}
	return nil
}

func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

func (c *Config) ReplyWait() time.Duration {
	return time.Duration(c.ReplyWaitMs) * time.Millisecond
}

func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMs) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads; later calls return that call's error.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
