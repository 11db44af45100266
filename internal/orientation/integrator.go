// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"

	"github.com/relabs-tech/inertial_calibration/internal/imu"
)

// Method selects the quaternion update used between two samples.
type Method int

const (
	// AxisAngle applies the exact rotation of ω_k·dt over [t_k, t_k+1].
	AxisAngle Method = iota
	// RK4 integrates q' = ½ q ⊗ ω with 4th order Runge-Kutta, ω linearly
	// interpolated between consecutive samples.
	RK4
)

// ParseMethod maps "axis_angle" / "rk4" to a Method.
func ParseMethod(v string) (Method, error) {
	switch v {
	case "axis_angle", "axisangle", "euler":
		return AxisAngle, nil
	case "rk4":
		return RK4, nil
	}
	return 0, fmt.Errorf("unknown integration method %q (want axis_angle or rk4)", v)
}

func (m Method) String() string {
	if m == RK4 {
		return "rk4"
	}
	return "axis_angle"
}

// Integrator integrates angular rate samples (rad/s, body frame) into a
// rotation. It holds configuration only and is safe for concurrent use.
type Integrator struct {
	// FixedPeriod, when > 0, replaces timestamp differences as the step dt.
	FixedPeriod float64
	Method      Method
}

// Integrate composes the rotation described by rates onto initial and returns
// the orientation after the last sample.
func (in Integrator) Integrate(rates imu.Series, initial Orientation) (Orientation, error) {
	return in.IntegrateWith(rates, nil, initial)
}

// IntegrateWith is Integrate with every sample vector passed through f first
// (typically a calibration model). A nil f uses the samples as they are.
func (in Integrator) IntegrateWith(samples imu.Series, f func(imu.Vec3) imu.Vec3, initial Orientation) (Orientation, error) {
	q := initial.q
	if len(samples) < 2 {
		return Orientation{q: q}, nil
	}

	rate := func(i int) imu.Vec3 {
		if f == nil {
			return samples[i].Vec
		}
		return f(samples[i].Vec)
	}

	w0 := rate(0)
	for i := 0; i+1 < len(samples); i++ {
		dt := in.FixedPeriod
		if dt <= 0 {
			dt = samples[i+1].Timestamp - samples[i].Timestamp
			if dt <= 0 {
				return Orientation{}, fmt.Errorf("%w: gyro sample %d (ts=%g) not after sample %d (ts=%g)",
					imu.ErrNonMonotonicTimestamps, i+1, samples[i+1].Timestamp, i, samples[i].Timestamp)
			}
		}
		w1 := rate(i + 1)

		switch in.Method {
		case RK4:
			q = rk4Step(q, w0, w1, dt)
		default:
			q = quat.Mul(q, axisAngleStep(w0, dt))
		}
		q = normalize(q)
		w0 = w1
	}
	return Orientation{q: q}, nil
}

func axisAngleStep(w imu.Vec3, dt float64) quat.Number {
	n := w.Norm()
	theta := n * dt
	if theta < 1e-12 {
		// first order expansion, exact up to rounding for such small angles
		return normalize(quat.Number{Real: 1, Imag: 0.5 * w.X * dt, Jmag: 0.5 * w.Y * dt, Kmag: 0.5 * w.Z * dt})
	}
	s, c := math.Sincos(theta / 2)
	k := s / n
	return quat.Number{Real: c, Imag: k * w.X, Jmag: k * w.Y, Kmag: k * w.Z}
}

// qdot returns ½ q ⊗ (0, w).
func qdot(q quat.Number, w imu.Vec3) quat.Number {
	return quat.Scale(0.5, quat.Mul(q, quat.Number{Imag: w.X, Jmag: w.Y, Kmag: w.Z}))
}

func rk4Step(q quat.Number, w0, w1 imu.Vec3, dt float64) quat.Number {
	wm := w0.Add(w1).Scale(0.5)
	k1 := qdot(q, w0)
	k2 := qdot(quat.Add(q, quat.Scale(dt/2, k1)), wm)
	k3 := qdot(quat.Add(q, quat.Scale(dt/2, k2)), wm)
	k4 := qdot(quat.Add(q, quat.Scale(dt, k3)), w1)

	sum := quat.Add(quat.Add(k1, quat.Scale(2, k2)), quat.Add(quat.Scale(2, k3), k4))
	return quat.Add(q, quat.Scale(dt/6, sum))
}
