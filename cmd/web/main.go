// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/inertial_calibration/internal/app"
	"github.com/relabs-tech/inertial_calibration/internal/config"
)

func main() {
	configPath := flag.String("config", "./inertial_config.txt", "path to configuration file")
	dataDir := flag.String("data", ".", "directory holding recordings and results")
	flag.Parse()

	log.Println("starting inertial-calibration web server (MQTT subscriber)")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunWeb(*dataDir); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
