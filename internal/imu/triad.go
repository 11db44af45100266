// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptySeries is returned when a statistic is requested on a series with no samples.
	ErrEmptySeries = errors.New("empty triad series")
	// ErrDegenerateInterval is returned when an interval holds too few samples for the requested statistic.
	ErrDegenerateInterval = errors.New("degenerate interval")
	// ErrNonMonotonicTimestamps is returned when timestamps decrease (unsorted input).
	ErrNonMonotonicTimestamps = errors.New("unsorted input: non-monotonic timestamps")
)

// Vec3 is a 3-axis vector (accel, gyro or any derived quantity).
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{k * v.X, k * v.Y, k * v.Z}
}
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Norm() float64      { return math.Sqrt(v.Dot(v)) }

// Normalized returns the unit vector along v, or the zero vector if v is zero.
func (v Vec3) Normalized() Vec3 {
	n := v.Norm()
	if n == 0 {
		return Vec3{}
	}
	return v.Scale(1 / n)
}

// At returns component i (0=X, 1=Y, 2=Z).
func (v Vec3) At(i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Triad is a single timestamped 3-axis sample. Timestamp is in seconds.
type Triad struct {
	Timestamp float64 `json:"ts"`
	Vec       Vec3    `json:"v"`
}

// NewTriad builds a Triad from its timestamp and components.
func NewTriad(ts, x, y, z float64) Triad {
	return Triad{Timestamp: ts, Vec: Vec3{X: x, Y: y, Z: z}}
}

func (t Triad) String() string {
	return fmt.Sprintf("ts : %g data : [ %g, %g, %g ]", t.Timestamp, t.Vec.X, t.Vec.Y, t.Vec.Z)
}

// Series is an ordered sequence of triads, the common carrier for raw and
// calibrated accelerometer/gyroscope streams.
type Series []Triad

// CheckSorted verifies timestamps never decrease. Equal consecutive
// timestamps are accepted.
func (s Series) CheckSorted() error {
	for i := 1; i < len(s); i++ {
		if s[i].Timestamp < s[i-1].Timestamp {
			return fmt.Errorf("%w: sample %d (ts=%g) precedes sample %d (ts=%g)",
				ErrNonMonotonicTimestamps, i, s[i].Timestamp, i-1, s[i-1].Timestamp)
		}
	}
	return nil
}

// Slice returns the samples covered by iv (normalized against s). The
// returned series shares storage with s.
func (s Series) Slice(iv Interval) Series {
	n, err := s.Normalize(iv)
	if err != nil {
		return nil
	}
	return s[n.StartIdx : n.EndIdx+1]
}

// Timestamps returns the timestamps of all samples.
func (s Series) Timestamps() []float64 {
	ts := make([]float64, len(s))
	for i, t := range s {
		ts[i] = t.Timestamp
	}
	return ts
}

// IndexAtOrAfter returns the index of the first sample with timestamp >= ts,
// or len(s) if there is none. The series must be sorted.
func (s Series) IndexAtOrAfter(ts float64) int {
	lo, hi := 0, len(s)
	for lo < hi {
		mid := (lo + hi) / 2
		if s[mid].Timestamp < ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
