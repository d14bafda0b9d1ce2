// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/location_reporter/internal/config"
	"github.com/relabs-tech/location_reporter/internal/gps"
	"github.com/relabs-tech/location_reporter/internal/mirror"
	"github.com/relabs-tech/location_reporter/internal/position"
	"github.com/relabs-tech/location_reporter/internal/protocol"
	"github.com/relabs-tech/location_reporter/internal/session"
)

// Mock track parameters for POSITION_SOURCE=mock.
const (
	mockRadiusM  = 250.0
	mockSpeedMps = 8.0
)

// NewSource builds the position source selected by cfg. The returned
// function releases it.
func NewSource(cfg *config.Config, logger *slog.Logger) (position.Source, func()) {
	fallback := position.Position{Latitude: cfg.FallbackLatitude, Longitude: cfg.FallbackLongitude}

	var (
		src     position.Source
		release = func() {}
	)
	switch cfg.PositionSource {
	case config.SourceSerial:
		serialSrc := gps.NewSerialSource(cfg.GPSSerialPort, uint(cfg.GPSBaudRate), logger)
		src = serialSrc
		release = func() { serialSrc.Close() }
	case config.SourceMock:
		src = position.NewMockSource(fallback, mockRadiusM, mockSpeedMps)
	default:
		return position.Fixed{Coordinate: fallback}, release
	}

	if cfg.FallbackEnabled {
		src = position.WithFallback(src, fallback)
	}
	return src, release
}

func logStatus(st session.Status) {
	log.Printf("reporter: %s", st)
}

// RunReporter runs one reporting session behind the control API until
// SIGINT or SIGTERM.
func RunReporter(cfg *config.Config) error {
	logger := slog.Default()

	src, release := NewSource(cfg, logger)
	defer release()
	log.Printf("reporter: position source %s", cfg.PositionSource)

	sess := session.New(src, session.Config{
		HandshakeTimeout: cfg.HandshakeTimeout(),
		ReplyWait:        cfg.ReplyWait(),
		SendTimeout:      cfg.SendTimeout(),
		Logger:           logger,
	})

	listeners := session.Listeners{session.ListenerFunc(logStatus)}
	if cfg.MQTTBroker != "" {
		client, err := mirror.Connect(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			log.Printf("reporter: MQTT mirror disabled: %v", err)
		} else {
			defer client.Disconnect(250)
			log.Printf("reporter: mirroring to %s (%s, %s)", cfg.MQTTBroker, cfg.TopicStatus, cfg.TopicPosition)
			listeners = append(listeners, mirror.New(client, sess, cfg.TopicStatus, cfg.TopicPosition, logger))
		}
	}

	deviceName := cfg.DeviceName
	if deviceName == "" {
		deviceName = protocol.DefaultDeviceName()
	}
	ctrl := &Controller{
		Session:  sess,
		Listener: listeners,
		Defaults: StartRequest{Transport: cfg.Transport, Endpoint: cfg.Endpoint, DeviceName: deviceName},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if cfg.WebServerPort != 0 {
		srv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.WebServerPort), Handler: ctrl.Router()}
		g.Go(func() error {
			log.Printf("reporter: control API listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control API: %w", err)
			}
			return nil
		})
	}

	// Shutdown waits for autostart so a start cannot land after the final Stop.
	autostarted := make(chan struct{})
	if cfg.Autostart {
		g.Go(func() error {
			defer close(autostarted)
			if err := ctrl.Start(ctx, StartRequest{}); err != nil {
				log.Printf("reporter: autostart failed: %v", err)
			}
			return nil
		})
	} else {
		close(autostarted)
	}

	g.Go(func() error {
		<-ctx.Done()
		<-autostarted
		log.Println("reporter: shutting down")
		defer sess.Stop()
		if srv == nil {
			return nil
		}
		// in-flight /api/start requests finish before the session stops
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
