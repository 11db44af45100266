// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calib

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientStaticData is returned when too few usable static
	// intervals (or consecutive static pairs) were found.
	ErrInsufficientStaticData = errors.New("insufficient static data")
	// ErrSingularTransform is returned when a model's transform cannot be inverted.
	ErrSingularTransform = errors.New("singular calibration transform")
	// ErrSolverDivergence is returned when the optimizer fails to converge.
	ErrSolverDivergence = errors.New("solver did not converge")
)

// Calibration stages named in StageError.
const (
	StageInput         = "input"
	StageSegmentation  = "segmentation"
	StageAccelerometer = "accelerometer"
	StageGyroscope     = "gyroscope"
)

// StageError reports which stage of a calibration failed. Interval is the
// index of the static interval involved, or -1.
type StageError struct {
	Stage    string
	Interval int
	Err      error
}

func (e *StageError) Error() string {
	if e.Interval >= 0 {
		return fmt.Sprintf("calib: %s stage, interval %d: %v", e.Stage, e.Interval, e.Err)
	}
	return fmt.Sprintf("calib: %s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, interval int, err error) error {
	return &StageError{Stage: stage, Interval: interval, Err: err}
}
