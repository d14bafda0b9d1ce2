// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	defaultNameOnce sync.Once
	defaultName     string
)

// DefaultDeviceName is a short random name, stable for the process.
func DefaultDeviceName() string {
	defaultNameOnce.Do(func() {
		defaultName = "device-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	})
	return defaultName
}

// DeviceID derives the identity sent as dispositivo_id: the transport
// prefix ("ws" or "http") followed by the user-entered name. Whitespace
// runs in the name become a single '-'.
func DeviceID(prefix, name string) string {
	name = strings.Join(strings.Fields(name), "-")
	if name == "" {
		name = DefaultDeviceName()
	}
	return prefix + "-" + name
}
