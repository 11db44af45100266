// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibrate/main.go
//
// Multi-position calibration of an accelerometer + gyroscope pair from two
// ASCII recordings ("ts x y z" per line, raw counts).
//
// Run:
//
//	go run ./cmd/calibrate -acc left_acc.txt -gyro left_gyro.txt
//
// Output:
//
//	<imu>_<unix time>_inertial_calibration.json plus <imu>_acc.calib and
//	<imu>_gyro.calib in -out. With -publish the result is also published,
//	retained, on TOPIC_CALIBRATION.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/relabs-tech/inertial_calibration/internal/app"
	"github.com/relabs-tech/inertial_calibration/internal/config"
)

func main() {
	configPath := flag.String("config", "./inertial_config.txt", "path to configuration file")
	accFile := flag.String("acc", "", "accelerometer recording (required)")
	gyroFile := flag.String("gyro", "", "gyroscope recording (required)")
	imuName := flag.String("imu", "", "IMU name used in output file names (default IMU_NAME)")
	outDir := flag.String("out", ".", "output directory")
	publish := flag.Bool("publish", false, "publish the result on MQTT")
	verbose := flag.Bool("v", false, "verbose solver output (overrides VERBOSE)")
	flag.Parse()

	if *accFile == "" || *gyroFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.InitGlobal(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	cfg := config.Get()
	if *verbose {
		cfg.Verbose = true
	}

	fmt.Println("=== Multi-position calibration (Accel + Gyro) ===")
	fmt.Printf("Accelerometer: %s\nGyroscope:     %s\n\n", *accFile, *gyroFile)

	res, path, err := app.RunCalibration(cfg, app.CalibrationJob{
		IMU:      *imuName,
		AccFile:  *accFile,
		GyroFile: *gyroFile,
		OutDir:   *outDir,
	})
	if err != nil {
		fatal(err)
	}

	app.PrintResult(os.Stdout, res)
	fmt.Printf("\nSaved to %s\n", path)

	if *publish {
		if err := app.PublishCalibration(cfg, res); err != nil {
			fatal(err)
		}
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
