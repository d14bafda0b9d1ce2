// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/location_reporter/internal/app"
	"github.com/relabs-tech/location_reporter/internal/config"
)

func main() {
	configPath := flag.String("config", "reporter_config.txt", "Path to configuration file")
	port := flag.Int("port", 0, "Listen port (overrides ACK_SERVER_PORT)")
	flag.Parse()

	log.Println("starting development ack server")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	listen := config.Get().AckServerPort
	if *port != 0 {
		listen = *port
	}

	if err := app.RunAckServer(listen); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
