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
	flag.Parse()

	log.Println("starting location reporter")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunReporter(config.Get()); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
