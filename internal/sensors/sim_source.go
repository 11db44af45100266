// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/relabs-tech/inertial_calibration/internal/calib"
	"github.com/relabs-tech/inertial_calibration/internal/imu"
	"github.com/relabs-tech/inertial_calibration/internal/orientation"
)

// SimConfig describes a simulated multi-position session. Acc and Gyro are
// the error models of the simulated unit: they map raw counts to m/s² and
// rad/s, and the source produces the counts they would calibrate exactly.
type SimConfig struct {
	Name    string
	Start   time.Time
	Period  time.Duration
	Gravity float64

	Acc  calib.Model
	Gyro calib.Model

	InitStatic time.Duration
	Static     time.Duration
	Motion     time.Duration
	Poses      []orientation.Orientation

	// Noise is the standard deviation of the white noise added to every
	// channel, in counts.
	Noise float64
	Seed  int64
}

// DefaultSimConfig simulates an MPU-9250 at ±2g / ±250°/s sampled at
// 100 Hz, visiting twelve poses.
func DefaultSimConfig(name string) SimConfig {
	accLSB := 9.81 / 16384
	gyroLSB := math.Pi / 180 / 131
	return SimConfig{
		Name:    name,
		Start:   time.Unix(0, 0),
		Period:  10 * time.Millisecond,
		Gravity: 9.81,
		Acc: calib.Model{
			Misalignment: [3]float64{0.008, -0.012, 0.005},
			Scale:        imu.Vec3{X: accLSB * 1.015, Y: accLSB * 0.985, Z: accLSB * 1.01},
			Bias:         imu.Vec3{X: 180, Y: -240, Z: 410},
		},
		Gyro: calib.Model{
			Misalignment: [3]float64{0.006, -0.004, 0.009},
			Scale:        imu.Vec3{X: gyroLSB * 1.02, Y: gyroLSB * 0.97, Z: gyroLSB * 1.03},
			Bias:         imu.Vec3{X: 25, Y: -40, Z: 12},
		},
		InitStatic: 35 * time.Second,
		Static:     3 * time.Second,
		Motion:     2 * time.Second,
		Poses:      defaultSimPoses(),
		Noise:      2,
		Seed:       1,
	}
}

func defaultSimPoses() []orientation.Orientation {
	axes := []struct {
		axis  imu.Vec3
		angle float64
	}{
		{imu.Vec3{X: 1}, 0},
		{imu.Vec3{X: 1}, math.Pi / 2},
		{imu.Vec3{X: 1}, math.Pi},
		{imu.Vec3{X: 1}, -math.Pi / 2},
		{imu.Vec3{Y: 1}, math.Pi / 2},
		{imu.Vec3{Y: 1}, -math.Pi / 2},
		{imu.Vec3{X: 1, Y: 1}, math.Pi / 3},
		{imu.Vec3{X: 1, Y: -1}, 2 * math.Pi / 3},
		{imu.Vec3{Y: 1, Z: 1}, math.Pi / 4},
		{imu.Vec3{X: 1, Z: 1}, -math.Pi / 3},
		{imu.Vec3{X: 1, Y: 1, Z: 1}, 2},
		{imu.Vec3{X: -1, Y: 1, Z: 1}, 1.2},
	}
	poses := make([]orientation.Orientation, len(axes))
	for i, a := range axes {
		poses[i] = orientation.FromAxisAngle(a.axis, a.angle)
	}
	return poses
}

type simSource struct {
	cfg SimConfig
	rng *rand.Rand
	k   int

	started bool
	pose    int
	moving  bool
	left    int
	rate    imu.Vec3
	r       orientation.Orientation
}

// NewSimSource returns a deterministic source replaying cfg. It holds every
// pose, rotates to the next one at a constant body rate, and returns io.EOF
// after the last pose.
func NewSimSource(cfg SimConfig) (imu.IMURawSource, error) {
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("sim IMU: period must be > 0, got %v", cfg.Period)
	}
	if len(cfg.Poses) == 0 {
		return nil, fmt.Errorf("sim IMU: no poses")
	}
	for _, m := range []calib.Model{cfg.Acc, cfg.Gyro} {
		if _, err := m.Invert(imu.Vec3{}); err != nil {
			return nil, fmt.Errorf("sim IMU: %w", err)
		}
	}
	return &simSource{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

func (s *simSource) samples(d time.Duration) int {
	n := int(d / s.cfg.Period)
	if n < 1 {
		n = 1
	}
	return n
}

// advance moves to the next segment of the session.
func (s *simSource) advance() error {
	switch {
	case !s.started:
		s.started = true
		s.r = s.cfg.Poses[0]
		s.left = s.samples(s.cfg.InitStatic)
	case s.moving:
		s.moving = false
		s.pose++
		s.left = s.samples(s.cfg.Static)
	default:
		if s.pose+1 >= len(s.cfg.Poses) {
			return io.EOF
		}
		n := s.samples(s.cfg.Motion)
		d := s.r.Inverse().Mul(s.cfg.Poses[s.pose+1])
		w, x, y, z := d.Components()
		if w < 0 {
			x, y, z = -x, -y, -z
		}
		dt := float64(n) * s.cfg.Period.Seconds()
		s.rate = imu.Vec3{X: x, Y: y, Z: z}.Normalized().Scale(d.Angle() / dt)
		s.moving = true
		s.left = n
	}
	return nil
}

func (s *simSource) counts(v float64) int16 {
	v = math.Round(v + s.cfg.Noise*s.rng.NormFloat64())
	return int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
}

// NextRaw returns the next simulated sample.
func (s *simSource) NextRaw() (imu.IMURaw, error) {
	for s.left == 0 {
		if err := s.advance(); err != nil {
			return imu.IMURaw{}, err
		}
	}

	var w imu.Vec3
	if s.moving {
		w = s.rate
	}
	a, err := s.cfg.Acc.Invert(s.r.Inverse().Rotate(imu.Vec3{Z: s.cfg.Gravity}))
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("sim IMU accel: %w", err)
	}
	g, err := s.cfg.Gyro.Invert(w)
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("sim IMU gyro: %w", err)
	}

	raw := imu.IMURaw{
		Source: s.cfg.Name,
		Time:   s.cfg.Start.Add(time.Duration(s.k) * s.cfg.Period),
		Ax:     s.counts(a.X),
		Ay:     s.counts(a.Y),
		Az:     s.counts(a.Z),
		Gx:     s.counts(g.X),
		Gy:     s.counts(g.Y),
		Gz:     s.counts(g.Z),
	}

	if n := w.Norm(); n > 0 {
		s.r = s.r.Mul(orientation.FromAxisAngle(w, n*s.cfg.Period.Seconds()))
	}
	s.k++
	s.left--
	return raw, nil
}
