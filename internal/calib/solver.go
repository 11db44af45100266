// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calib

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/relabs-tech/inertial_calibration/internal/imu"
	"github.com/relabs-tech/inertial_calibration/internal/lsq"
	"github.com/relabs-tech/inertial_calibration/internal/orientation"
)

// Options configures a Calibrator. Start from DefaultOptions.
type Options struct {
	// InitStaticDuration is the length in seconds of the static period at the
	// start of the recording. It sets the noise floor for the automatic
	// threshold and the gyro bias prior.
	InitStaticDuration float64
	// Gravity is the local gravity magnitude, in the unit the accelerometer
	// should be calibrated to.
	Gravity float64

	AccPrior  Model
	GyroPrior Model

	// AccUseMeans fits one mean sample per static interval instead of the
	// raw samples.
	AccUseMeans bool
	// IntervalSamples (K) is the number of samples taken from each static
	// interval. Shorter intervals do not qualify.
	IntervalSamples int

	// Detector.Threshold <= 0 selects the threshold automatically from
	// ThresholdMultipliers × noise floor.
	Detector             DetectorConfig
	ThresholdMultipliers []float64
	// MinStaticIntervals is the number of qualifying static intervals
	// required. Values below 2 are raised to 2.
	MinStaticIntervals int

	OptimizeGyroBias bool
	// GyroBiasFromInitInterval replaces GyroPrior.Bias with the mean raw gyro
	// reading over the initial static interval.
	GyroBiasFromInitInterval bool
	// GyroDataPeriod, when > 0, is used as the integration step instead of
	// timestamp differences.
	GyroDataPeriod float64
	Integration    orientation.Method

	Verbose  bool
	Progress func(Event)
}

// DefaultOptions returns the defaults used by the calibration tools.
func DefaultOptions() Options {
	return Options{
		InitStaticDuration:       30,
		Gravity:                  9.81,
		AccPrior:                 NewModel(),
		GyroPrior:                NewModel(),
		IntervalSamples:          100,
		Detector:                 DetectorConfig{Window: 101},
		ThresholdMultipliers:     []float64{2, 3, 4, 5, 6, 7, 8, 9, 10},
		MinStaticIntervals:       2,
		GyroBiasFromInitInterval: true,
	}
}

func (o Options) normalized() (Options, error) {
	if o.Gravity <= 0 || math.IsNaN(o.Gravity) {
		return o, fmt.Errorf("gravity magnitude must be > 0, got %g", o.Gravity)
	}
	if o.IntervalSamples < 1 {
		return o, fmt.Errorf("interval samples must be >= 1, got %d", o.IntervalSamples)
	}
	if o.InitStaticDuration <= 0 {
		return o, fmt.Errorf("initial static duration must be > 0, got %g", o.InitStaticDuration)
	}
	if o.Detector.Window < 3 {
		return o, fmt.Errorf("detector window must be >= 3 samples, got %d", o.Detector.Window)
	}
	if o.Detector.Threshold <= 0 && len(o.ThresholdMultipliers) == 0 {
		return o, errors.New("no detector threshold and no threshold multipliers")
	}
	if o.MinStaticIntervals < 2 {
		o.MinStaticIntervals = 2
	}
	if o.Detector.MinSamples <= 0 {
		o.Detector.MinSamples = o.IntervalSamples
	}
	return o, nil
}

// Event reports solver progress to Options.Progress. Events are informative
// only.
type Event struct {
	Stage           string  `json:"stage"`
	Message         string  `json:"message"`
	Threshold       float64 `json:"threshold,omitempty"`
	StaticIntervals int     `json:"static_intervals,omitempty"`
	Iterations      int     `json:"iterations,omitempty"`
	Cost            float64 `json:"cost,omitempty"`
	Done            bool    `json:"done,omitempty"`
}

// StageReport summarizes one least-squares stage.
type StageReport struct {
	Residuals   int     `json:"residuals"`
	Iterations  int     `json:"iterations"`
	InitialCost float64 `json:"initial_cost"`
	FinalCost   float64 `json:"final_cost"`
	RMS         float64 `json:"rms"`
	Converged   bool    `json:"converged"`
}

func newStageReport(res lsq.Result, residuals int) StageReport {
	return StageReport{
		Residuals:   residuals,
		Iterations:  res.Iterations,
		InitialCost: res.InitialCost,
		FinalCost:   res.FinalCost,
		RMS:         math.Sqrt(2 * res.FinalCost / float64(residuals)),
		Converged:   res.Converged,
	}
}

// Result holds both calibrated models and how they were obtained.
type Result struct {
	Acc       Model       `json:"acc"`
	Gyro      Model       `json:"gyro"`
	Intervals IntervalSet `json:"intervals"`
	Threshold float64     `json:"threshold"`
	AccStage  StageReport `json:"acc_stage"`
	GyroStage StageReport `json:"gyro_stage"`
}

// Calibrator runs the multi-position calibration.
type Calibrator struct {
	opts      Options
	minimizer lsq.Minimizer
}

// NewCalibrator builds a Calibrator. A nil minimizer selects
// lsq.LevenbergMarquardt with its defaults.
func NewCalibrator(opts Options, minimizer lsq.Minimizer) *Calibrator {
	if minimizer == nil {
		minimizer = lsq.LevenbergMarquardt{}
	}
	return &Calibrator{opts: opts, minimizer: minimizer}
}

// Options returns the calibrator configuration.
func (c *Calibrator) Options() Options { return c.opts }

func (c *Calibrator) emit(ev Event) {
	if c.opts.Verbose {
		log.Printf("calib: [%s] %s", ev.Stage, ev.Message)
	}
	if c.opts.Progress != nil {
		c.opts.Progress(ev)
	}
}

func (c *Calibrator) logf(format string, args ...any) {
	if c.opts.Verbose {
		log.Printf("calib: "+format, args...)
	}
}

// Calibrate estimates the accelerometer and gyroscope models from a
// multi-position session. On error the result is nil.
func (c *Calibrator) Calibrate(acc, gyro imu.Series) (*Result, error) {
	opts, err := c.opts.normalized()
	if err != nil {
		return nil, stageErr(StageInput, -1, err)
	}
	return (&Calibrator{opts: opts, minimizer: c.minimizer}).calibrate(acc, gyro)
}

func (c *Calibrator) calibrate(acc, gyro imu.Series) (*Result, error) {
	if len(acc) == 0 {
		return nil, stageErr(StageInput, -1, fmt.Errorf("accelerometer: %w", imu.ErrEmptySeries))
	}
	if len(gyro) == 0 {
		return nil, stageErr(StageInput, -1, fmt.Errorf("gyroscope: %w", imu.ErrEmptySeries))
	}
	if err := acc.CheckSorted(); err != nil {
		return nil, stageErr(StageInput, -1, fmt.Errorf("accelerometer: %w", err))
	}
	if err := gyro.CheckSorted(); err != nil {
		return nil, stageErr(StageInput, -1, fmt.Errorf("gyroscope: %w", err))
	}

	c.emit(Event{Stage: StageSegmentation, Message: fmt.Sprintf("%d acc samples, %d gyro samples", len(acc), len(gyro))})

	seg, err := c.segmentAndFitAcc(acc)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Acc:       seg.acc,
		Intervals: seg.set,
		Threshold: seg.threshold,
		AccStage:  seg.report,
	}
	c.emit(Event{
		Stage:           StageAccelerometer,
		Message:         fmt.Sprintf("done: rms %.6g after %d iterations", seg.report.RMS, seg.report.Iterations),
		Threshold:       seg.threshold,
		StaticIntervals: seg.qualifying,
		Iterations:      seg.report.Iterations,
		Cost:            seg.report.FinalCost,
		Done:            true,
	})
	c.logf("acc model: %v", seg.acc)
	c.logPoses(acc, seg)

	gyroModel, report, err := c.fitGyro(acc, gyro, seg)
	if err != nil {
		return nil, err
	}
	res.Gyro = gyroModel
	res.GyroStage = report
	c.emit(Event{
		Stage:      StageGyroscope,
		Message:    fmt.Sprintf("done: rms %.6g after %d iterations", report.RMS, report.Iterations),
		Iterations: report.Iterations,
		Cost:       report.FinalCost,
		Done:       true,
	})
	c.logf("gyro model: %v", gyroModel)
	return res, nil
}

type segmentation struct {
	set        IntervalSet
	threshold  float64
	qualifying int
	acc        Model
	report     StageReport
}

// segmentAndFitAcc detects the static intervals and fits the accelerometer.
// With an automatic threshold every multiplier is tried and the segmentation
// whose accelerometer fit has the lowest RMS residual wins. Candidates with
// at least NumParams qualifying intervals are preferred so an exactly
// determined fit cannot win on a zero residual.
func (c *Calibrator) segmentAndFitAcc(acc imu.Series) (segmentation, error) {
	opts := c.opts
	w := oddWindow(opts.Detector.Window)
	if len(acc) < w {
		return segmentation{}, stageErr(StageSegmentation, -1,
			fmt.Errorf("%w: %d samples, window needs %d", imu.ErrDegenerateInterval, len(acc), w))
	}
	mags := WindowedVarianceMagnitude(acc, w)

	thresholds := []float64{opts.Detector.Threshold}
	if opts.Detector.Threshold <= 0 {
		floor, err := NoiseFloor(acc, opts.InitStaticDuration)
		if err != nil {
			return segmentation{}, stageErr(StageSegmentation, 0, err)
		}
		if floor == 0 {
			return segmentation{}, stageErr(StageSegmentation, 0,
				fmt.Errorf("%w: zero noise floor over the initial interval, set an explicit threshold", ErrInsufficientStaticData))
		}
		c.logf("noise floor %.6g over the first %gs", floor, opts.InitStaticDuration)
		thresholds = thresholds[:0]
		for _, m := range opts.ThresholdMultipliers {
			thresholds = append(thresholds, m*floor)
		}
	}

	var (
		best, bestOver bool
		out            segmentation
		lastErr        error
		mostQualifying int
	)
	for _, th := range thresholds {
		set := segment(acc, mags, th, opts.Detector.MinSamples)
		statics := set.Static()
		samples, n := imu.ExtractSamples(acc, statics, opts.IntervalSamples, opts.AccUseMeans)
		if n > mostQualifying {
			mostQualifying = n
		}
		c.emit(Event{
			Stage:           StageSegmentation,
			Message:         fmt.Sprintf("threshold %.6g: %d static intervals, %d qualifying", th, len(statics), n),
			Threshold:       th,
			StaticIntervals: n,
		})
		if n < opts.MinStaticIntervals {
			continue
		}

		model, report, err := c.fitAcc(samples)
		if err != nil {
			lastErr = err
			c.logf("threshold %.6g: %v", th, err)
			continue
		}
		over := n >= NumParams
		if !best || (over && !bestOver) || (over == bestOver && report.RMS < out.report.RMS) {
			best, bestOver = true, over
			out = segmentation{set: set, threshold: th, qualifying: n, acc: model, report: report}
		}
	}

	if !best {
		if lastErr != nil {
			return segmentation{}, lastErr
		}
		return segmentation{}, stageErr(StageSegmentation, -1,
			fmt.Errorf("%w: %d qualifying static intervals (need %d, each >= %d samples)",
				ErrInsufficientStaticData, mostQualifying, opts.MinStaticIntervals, opts.IntervalSamples))
	}
	return out, nil
}

func (c *Calibrator) fitAcc(samples imu.Series) (Model, StageReport, error) {
	g := c.opts.Gravity
	problem := lsq.Problem{
		NumParams:    NumParams,
		NumResiduals: len(samples),
		Residuals: func(p, r []float64) error {
			m := modelFromSlice(p)
			t := m.Transform()
			for i, s := range samples {
				r[i] = applyTransform(t, s.Vec.Sub(m.Bias)).Norm() - g
			}
			return nil
		},
	}

	x0 := c.opts.AccPrior.Params()
	res, err := c.minimizer.Minimize(problem, x0[:])
	if err != nil {
		return Model{}, StageReport{}, stageErr(StageAccelerometer, -1, err)
	}
	report := newStageReport(res, len(samples))
	if !res.Converged {
		return Model{}, report, stageErr(StageAccelerometer, -1,
			fmt.Errorf("%w after %d iterations (cost %g)", ErrSolverDivergence, res.Iterations, res.FinalCost))
	}
	return modelFromSlice(res.Params), report, nil
}

type gyroPair struct {
	index   int
	before  imu.Vec3 // gravity direction at the end of the first interval
	after   imu.Vec3 // gravity direction at the start of the second
	samples imu.Series
}

func (c *Calibrator) fitGyro(acc, gyro imu.Series, seg segmentation) (Model, StageReport, error) {
	opts := c.opts
	k := opts.IntervalSamples

	prior := opts.GyroPrior
	if opts.GyroBiasFromInitInterval {
		iv, err := imu.InitialInterval(gyro, opts.InitStaticDuration)
		if err != nil {
			return Model{}, StageReport{}, stageErr(StageGyroscope, 0, err)
		}
		b, err := imu.Mean(gyro, iv)
		if err != nil {
			return Model{}, StageReport{}, stageErr(StageGyroscope, 0, err)
		}
		prior.Bias = b
		c.logf("gyro bias prior from initial interval %v: %s", iv, vecString(b))
	}

	var pairs []gyroPair
	for _, p := range seg.set.Pairs() {
		if p.Before.Len() < k || p.After.Len() < k {
			c.logf("pair %d: static interval shorter than %d samples, skipped", p.Index, k)
			continue
		}
		mb, err := imu.Mean(acc, imu.Interval{StartIdx: p.Before.EndIdx - k + 1, EndIdx: p.Before.EndIdx})
		if err != nil {
			return Model{}, StageReport{}, stageErr(StageGyroscope, p.Index, err)
		}
		ma, err := imu.Mean(acc, imu.Interval{StartIdx: p.After.StartIdx, EndIdx: p.After.StartIdx + k - 1})
		if err != nil {
			return Model{}, StageReport{}, stageErr(StageGyroscope, p.Index+1, err)
		}
		gb, ga := seg.acc.Apply(mb), seg.acc.Apply(ma)

		lo := gyro.IndexAtOrAfter(p.Before.EndTS)
		hi := gyro.IndexAtOrAfter(p.After.StartTS)
		if hi < len(gyro) && gyro[hi].Timestamp == p.After.StartTS {
			hi++
		}
		if hi-lo < 2 {
			c.logf("pair %d: %d gyro samples in [%g, %g], skipped", p.Index, hi-lo, p.Before.EndTS, p.After.StartTS)
			continue
		}
		pairs = append(pairs, gyroPair{
			index:   p.Index,
			before:  gb.Normalized(),
			after:   ga.Normalized(),
			samples: gyro[lo:hi],
		})
	}
	if len(pairs) == 0 {
		return Model{}, StageReport{}, stageErr(StageGyroscope, -1,
			fmt.Errorf("%w: no consecutive static pair with gyro samples", ErrInsufficientStaticData))
	}
	c.emit(Event{Stage: StageGyroscope, Message: fmt.Sprintf("%d static pairs", len(pairs)), StaticIntervals: len(pairs)})

	integrator := orientation.Integrator{FixedPeriod: opts.GyroDataPeriod, Method: opts.Integration}
	full := prior.Params()
	nparams := 6
	if opts.OptimizeGyroBias {
		nparams = NumParams
	}
	expand := func(p []float64) Model {
		a := full
		copy(a[:nparams], p)
		return ModelFromParams(a)
	}

	problem := lsq.Problem{
		NumParams:    nparams,
		NumResiduals: 3 * len(pairs),
		Residuals: func(p, r []float64) error {
			m := expand(p)
			t := m.Transform()
			calibrate := func(v imu.Vec3) imu.Vec3 { return applyTransform(t, v.Sub(m.Bias)) }
			for i, pr := range pairs {
				q, err := integrator.IntegrateWith(pr.samples, calibrate, orientation.Identity())
				if err != nil {
					return &StageError{Stage: StageGyroscope, Interval: pr.index, Err: err}
				}
				d := pr.after.Sub(q.Inverse().Rotate(pr.before))
				r[3*i], r[3*i+1], r[3*i+2] = d.X, d.Y, d.Z
			}
			return nil
		},
	}

	res, err := c.minimizer.Minimize(problem, full[:nparams])
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			return Model{}, StageReport{}, se
		}
		return Model{}, StageReport{}, stageErr(StageGyroscope, -1, err)
	}
	report := newStageReport(res, problem.NumResiduals)
	if !res.Converged {
		return Model{}, report, stageErr(StageGyroscope, -1,
			fmt.Errorf("%w after %d iterations (cost %g)", ErrSolverDivergence, res.Iterations, res.FinalCost))
	}

	model := expand(res.Params)
	if c.opts.Verbose {
		t := model.Transform()
		calibrate := func(v imu.Vec3) imu.Vec3 { return applyTransform(t, v.Sub(model.Bias)) }
		for _, pr := range pairs {
			q, err := integrator.IntegrateWith(pr.samples, calibrate, orientation.Identity())
			if err != nil {
				continue
			}
			e := q.Euler()
			c.logf("pair %d: rotation %.2f° (roll %.2f pitch %.2f yaw %.2f), gravity error %.3g",
				pr.index, q.Angle()*180/math.Pi, e.Roll, e.Pitch, e.Yaw,
				pr.after.Sub(q.Inverse().Rotate(pr.before)).Norm())
		}
	}
	return model, report, nil
}

// logPoses prints the tilt of every qualifying static pose.
func (c *Calibrator) logPoses(acc imu.Series, seg segmentation) {
	if !c.opts.Verbose {
		return
	}
	for i, iv := range seg.set.Static() {
		if iv.Len() < c.opts.IntervalSamples {
			continue
		}
		m, err := imu.Mean(acc, imu.Interval{StartIdx: iv.StartIdx, EndIdx: iv.StartIdx + c.opts.IntervalSamples - 1})
		if err != nil {
			continue
		}
		v := seg.acc.Apply(m)
		p := orientation.ComputePoseFromAccel(v.X, v.Y, v.Z)
		c.logf("pose %d %v: |g|=%.5f roll %.2f pitch %.2f", i, iv, v.Norm(), p.Roll, p.Pitch)
	}
}
