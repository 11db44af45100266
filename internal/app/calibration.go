// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/relabs-tech/inertial_calibration/internal/calib"
	"github.com/relabs-tech/inertial_calibration/internal/config"
	"github.com/relabs-tech/inertial_calibration/internal/imu"
	"github.com/relabs-tech/inertial_calibration/internal/lsq"
	"github.com/relabs-tech/inertial_calibration/internal/orientation"
)

const resultSchemaVersion = 1

// CalibrationResult is the JSON document written after a calibration and
// published on MQTT.
type CalibrationResult struct {
	SchemaVersion int    `json:"schema_version"`
	CalibrationAt string `json:"calibration_at"`
	IMU           string `json:"imu"`
	AccFile       string `json:"acc_file,omitempty"`
	GyroFile      string `json:"gyro_file,omitempty"`

	Gravity   float64     `json:"gravity"`
	Acc       calib.Model `json:"acc"`
	Gyro      calib.Model `json:"gyro"`
	Threshold float64     `json:"threshold"`

	StaticIntervals []imu.Interval `json:"static_intervals"`
	MotionIntervals int            `json:"motion_intervals"`

	AccStage  calib.StageReport `json:"acc_stage"`
	GyroStage calib.StageReport `json:"gyro_stage"`

	Notes []string `json:"notes,omitempty"`
}

// CalibrationJob names the inputs and outputs of one batch calibration.
type CalibrationJob struct {
	IMU      string
	AccFile  string
	GyroFile string
	// OutDir receives the JSON result and the model files. Empty means the
	// current directory.
	OutDir   string
	Progress func(calib.Event)
}

// OptionsFromConfig maps the configuration keys onto solver options and the
// least-squares engine.
func OptionsFromConfig(cfg *config.Config) (calib.Options, lsq.LevenbergMarquardt, error) {
	method, err := orientation.ParseMethod(cfg.IntegrationMethod)
	if err != nil {
		return calib.Options{}, lsq.LevenbergMarquardt{}, err
	}

	opts := calib.DefaultOptions()
	opts.InitStaticDuration = cfg.InitStaticDuration
	opts.Gravity = cfg.GravityMagnitude
	opts.IntervalSamples = cfg.IntervalSamples
	opts.AccUseMeans = cfg.AccUseMeans
	opts.AccPrior = modelFromConfig(cfg.AccPriorMisalignment, cfg.AccPriorScale, cfg.AccPriorBias)
	opts.GyroPrior = modelFromConfig(cfg.GyroPriorMisalignment, cfg.GyroPriorScale, cfg.GyroPriorBias)
	opts.OptimizeGyroBias = cfg.GyroOptimizeBias
	opts.GyroBiasFromInitInterval = cfg.GyroBiasFromInit
	opts.GyroDataPeriod = cfg.GyroDataPeriod
	opts.Integration = method
	opts.Detector = calib.DetectorConfig{
		Window:     cfg.DetectorWindow,
		Threshold:  cfg.DetectorThreshold,
		MinSamples: cfg.MinStaticSamples,
	}
	opts.ThresholdMultipliers = append([]float64(nil), cfg.DetectorThresholdMultipliers...)
	opts.MinStaticIntervals = cfg.MinStaticIntervals
	opts.Verbose = cfg.Verbose

	lm := lsq.LevenbergMarquardt{
		MaxIterations:      cfg.SolverMaxIterations,
		FunctionTolerance:  cfg.SolverFunctionTolerance,
		GradientTolerance:  cfg.SolverGradientTolerance,
		ParameterTolerance: cfg.SolverParameterTolerance,
		Workers:            cfg.SolverWorkers,
	}
	return opts, lm, nil
}

func modelFromConfig(mis, scale, bias [3]float64) calib.Model {
	return calib.Model{
		Misalignment: mis,
		Scale:        imu.Vec3{X: scale[0], Y: scale[1], Z: scale[2]},
		Bias:         imu.Vec3{X: bias[0], Y: bias[1], Z: bias[2]},
	}
}

// CalibrateSeries runs the solver on already loaded series.
func CalibrateSeries(cfg *config.Config, imuName string, acc, gyro imu.Series, progress func(calib.Event)) (*CalibrationResult, error) {
	opts, lm, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts.Progress = progress

	res, err := calib.NewCalibrator(opts, lm).Calibrate(acc, gyro)
	if err != nil {
		return nil, err
	}

	out := &CalibrationResult{
		SchemaVersion:   resultSchemaVersion,
		CalibrationAt:   time.Now().Format(time.RFC3339),
		IMU:             imuName,
		Gravity:         opts.Gravity,
		Acc:             res.Acc,
		Gyro:            res.Gyro,
		Threshold:       res.Threshold,
		StaticIntervals: res.Intervals.Static(),
		MotionIntervals: len(res.Intervals.Motion()),
		AccStage:        res.AccStage,
		GyroStage:       res.GyroStage,
	}
	if opts.Detector.Threshold <= 0 {
		out.Notes = append(out.Notes, fmt.Sprintf("detector threshold selected automatically: %.6g", res.Threshold))
	}
	if !opts.OptimizeGyroBias {
		if opts.GyroBiasFromInitInterval {
			out.Notes = append(out.Notes, "gyro bias taken from the initial static interval")
		} else {
			out.Notes = append(out.Notes, "gyro bias kept at the prior")
		}
	}
	return out, nil
}

// RunCalibration loads the two recordings named by job, calibrates them and
// stores the result document and both model files in job.OutDir. It returns
// the result and the path of the JSON document.
func RunCalibration(cfg *config.Config, job CalibrationJob) (*CalibrationResult, string, error) {
	unit, err := imu.ParseTimestampUnit(cfg.TimestampUnit)
	if err != nil {
		return nil, "", err
	}
	acc, err := imu.LoadSeries(job.AccFile, unit)
	if err != nil {
		return nil, "", fmt.Errorf("accelerometer data: %w", err)
	}
	gyro, err := imu.LoadSeries(job.GyroFile, unit)
	if err != nil {
		return nil, "", fmt.Errorf("gyroscope data: %w", err)
	}
	log.Printf("calibration: loaded %d acc samples from %s, %d gyro samples from %s",
		len(acc), job.AccFile, len(gyro), job.GyroFile)

	name := job.IMU
	if name == "" {
		name = cfg.IMUName
	}
	res, err := CalibrateSeries(cfg, name, acc, gyro, job.Progress)
	if err != nil {
		return nil, "", err
	}
	res.AccFile = job.AccFile
	res.GyroFile = job.GyroFile

	path, err := WriteResult(job.OutDir, res)
	if err != nil {
		return res, "", err
	}
	if err := SaveModels(job.OutDir, res); err != nil {
		return res, path, err
	}
	return res, path, nil
}

// WriteResult stores res as <imu>_<unix time>_inertial_calibration.json.
func WriteResult(dir string, res *CalibrationResult) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = cwd
	}
	filename := fmt.Sprintf("%s_%d_inertial_calibration.json", res.IMU, time.Now().Unix())
	path := filepath.Join(dir, filename)

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal calibration results: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write calibration file: %w", err)
	}
	log.Printf("calibration: saved results to %s", path)
	return path, nil
}

// SaveModels writes <imu>_acc.calib and <imu>_gyro.calib in dir.
func SaveModels(dir string, res *CalibrationResult) error {
	for _, m := range []struct {
		suffix string
		model  calib.Model
	}{
		{"acc", res.Acc},
		{"gyro", res.Gyro},
	} {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.calib", res.IMU, m.suffix))
		if err := m.model.Save(path); err != nil {
			return fmt.Errorf("failed to write %s model: %w", m.suffix, err)
		}
		log.Printf("calibration: saved %s model to %s", m.suffix, path)
	}
	return nil
}
