// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/inertial_calibration/internal/app"
	"github.com/relabs-tech/inertial_calibration/internal/config"
	"github.com/relabs-tech/inertial_calibration/internal/imu"
	"github.com/relabs-tech/inertial_calibration/internal/sensors"
)

func main() {
	configPath := flag.String("config", "./inertial_config.txt", "path to configuration file")
	outDir := flag.String("out", ".", "output directory")
	duration := flag.Duration("duration", 0, "stop after this long (0 = until Ctrl+C)")
	sim := flag.Bool("sim", false, "record a simulated session instead of the hardware IMU")
	calibrate := flag.Bool("calibrate", false, "run the calibration on the recording")
	flag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	rec := &app.Recorder{Duration: *duration, LogEvery: 500}
	var (
		src imu.IMURawSource
		err error
	)
	if *sim {
		log.Println("record: using simulated IMU")
		src, err = sensors.NewSimSource(sensors.DefaultSimConfig(cfg.IMUName))
	} else {
		src, err = sensors.NewIMUSourceFromConfig()
		rec.Interval = time.Duration(cfg.IMUSampleInterval) * time.Millisecond

		fmt.Println("=== Multi-position calibration recording ===")
		fmt.Printf("Leave the device still for the first %gs, then alternate short still poses\n", cfg.InitStaticDuration)
		fmt.Println("(a few seconds each) with rotations to new orientations. Use many different poses.")
		fmt.Println("Press Ctrl+C to stop recording.")
		fmt.Print("Press ENTER to start...")
		_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
	}
	if err != nil {
		log.Fatalf("failed to open IMU: %v", err)
	}
	rec.Source = src

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accPath, gyroPath, err := app.RecordSession(ctx, rec, *outDir, cfg.IMUName)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if !*calibrate {
		return
	}

	res, path, err := app.RunCalibration(cfg, app.CalibrationJob{
		AccFile:  accPath,
		GyroFile: gyroPath,
		OutDir:   *outDir,
	})
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	app.PrintResult(os.Stdout, res)
	fmt.Printf("\nSaved to %s\n", path)
}
