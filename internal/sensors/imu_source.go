// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/inertial_calibration/internal/config"
	"github.com/relabs-tech/inertial_calibration/internal/imu"
)

// Full scale labels indexed by the MPU-9250 range setting.
var (
	accelRanges = []int{2, 4, 8, 16}
	gyroRanges  = []int{250, 500, 1000, 2000}
)

type imuSource struct {
	name string
	imu  *mpu9250.MPU9250
}

// NewIMUSourceFromConfig opens the MPU-9250 described by the global config.
func NewIMUSourceFromConfig() (imu.IMURawSource, error) {
	cfg := config.Get()
	if cfg == nil {
		return nil, fmt.Errorf("IMU: config not initialized")
	}
	if cfg.IMUSPIDevice == "" {
		return nil, fmt.Errorf("IMU: IMU_SPI_DEVICE is required")
	}
	return NewIMUSource(cfg.IMUName, cfg.IMUSPIDevice, cfg.IMUCSPin, cfg.IMUAccelRange, cfg.IMUGyroRange)
}

// NewIMUSource initializes an MPU-9250 over SPI with the given full scale
// range settings. The on-chip offset calibration is not run: the recording
// must keep the raw sensor bias.
func NewIMUSource(name, spiDev, csPin string, accelRange, gyroRange byte) (imu.IMURawSource, error) {
	if accelRange > 3 || gyroRange > 3 {
		return nil, fmt.Errorf("%s IMU: range settings must be 0-3 (accel %d, gyro %d)", name, accelRange, gyroRange)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: periph host init: %w", name, err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("%s IMU: CS pin %q not found", name, csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: SPI transport (%s): %w", name, spiDev, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("%s IMU: device creation: %w", name, err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("%s IMU: initialization: %w", name, err)
	}

	if err := dev.SetAccelRange(accelRange); err != nil {
		return nil, fmt.Errorf("%s IMU: set accel range: %w", name, err)
	}
	log.Printf("%s IMU: accelerometer range set to %d (±%dg)", name, accelRange, accelRanges[accelRange])

	if err := dev.SetGyroRange(gyroRange); err != nil {
		return nil, fmt.Errorf("%s IMU: set gyro range: %w", name, err)
	}
	log.Printf("%s IMU: gyroscope range set to %d (±%d°/s)", name, gyroRange, gyroRanges[gyroRange])

	testResult, err := dev.SelfTest()
	if err != nil {
		log.Printf("Warning: %s IMU self-test failed: %v", name, err)
	} else {
		log.Printf("%s IMU self-test passed: accel deviation %.2f%% %.2f%% %.2f%%, gyro deviation %.2f%% %.2f%% %.2f%%", name,
			testResult.AccelDeviation.X, testResult.AccelDeviation.Y, testResult.AccelDeviation.Z,
			testResult.GyroDeviation.X, testResult.GyroDeviation.Y, testResult.GyroDeviation.Z)
	}

	return &imuSource{name: name, imu: dev}, nil
}

// NextRaw reads one accelerometer + gyroscope sample.
func (s *imuSource) NextRaw() (imu.IMURaw, error) {
	now := time.Now()

	ax, err := s.imu.GetAccelerationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("%s IMU accel X: %w", s.name, err)
	}
	ay, err := s.imu.GetAccelerationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("%s IMU accel Y: %w", s.name, err)
	}
	az, err := s.imu.GetAccelerationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("%s IMU accel Z: %w", s.name, err)
	}

	gx, err := s.imu.GetRotationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("%s IMU gyro X: %w", s.name, err)
	}
	gy, err := s.imu.GetRotationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("%s IMU gyro Y: %w", s.name, err)
	}
	gz, err := s.imu.GetRotationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("%s IMU gyro Z: %w", s.name, err)
	}

	return imu.IMURaw{
		Source: s.name,
		Time:   now,
		Ax:     ax,
		Ay:     ay,
		Az:     az,
		Gx:     gx,
		Gy:     gy,
		Gz:     gz,
	}, nil
}
