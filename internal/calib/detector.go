// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calib

import (
	"fmt"
	"math"

	"github.com/relabs-tech/inertial_calibration/internal/imu"
)

// DetectorConfig controls static interval detection.
type DetectorConfig struct {
	// Window is the moving variance width in samples. Even widths are bumped
	// to the next odd value so the window is centered.
	Window int `json:"window"`
	// Threshold on the windowed variance magnitude. Centers strictly below it
	// are static.
	Threshold float64 `json:"threshold"`
	// MinSamples drops static runs shorter than this many samples.
	MinSamples int `json:"min_samples"`
}

func (c DetectorConfig) validate() error {
	if c.Window < 3 {
		return fmt.Errorf("detector window must be >= 3 samples, got %d", c.Window)
	}
	if !(c.Threshold > 0) {
		return fmt.Errorf("detector threshold must be > 0, got %g", c.Threshold)
	}
	if c.MinSamples < 0 {
		return fmt.Errorf("detector min samples must be >= 0, got %d", c.MinSamples)
	}
	return nil
}

func oddWindow(w int) int {
	if w%2 == 0 {
		return w + 1
	}
	return w
}

// Segment is one static or motion interval of an IntervalSet.
type Segment struct {
	imu.Interval
	Static bool `json:"static"`
}

// IntervalSet is an ordered alternating sequence of static and motion
// segments. It starts and ends with a static segment and has no gaps.
type IntervalSet struct {
	Segments []Segment `json:"segments"`
}

// Static returns the static intervals in order.
func (s IntervalSet) Static() []imu.Interval {
	var out []imu.Interval
	for _, seg := range s.Segments {
		if seg.Static {
			out = append(out, seg.Interval)
		}
	}
	return out
}

// Motion returns the motion intervals in order.
func (s IntervalSet) Motion() []imu.Interval {
	var out []imu.Interval
	for _, seg := range s.Segments {
		if !seg.Static {
			out = append(out, seg.Interval)
		}
	}
	return out
}

// Pair is two consecutive static intervals and the motion between them.
type Pair struct {
	Index  int // index of Before among the static intervals
	Before imu.Interval
	Motion imu.Interval
	After  imu.Interval
}

// Pairs returns every consecutive static pair.
func (s IntervalSet) Pairs() []Pair {
	var out []Pair
	k := 0
	for i := 0; i+2 < len(s.Segments); i += 2 {
		out = append(out, Pair{
			Index:  k,
			Before: s.Segments[i].Interval,
			Motion: s.Segments[i+1].Interval,
			After:  s.Segments[i+2].Interval,
		})
		k++
	}
	return out
}

// WindowedVarianceMagnitude returns, for every sample, the Euclidean norm of
// the unbiased per-axis variance over the window centered on it. Samples whose
// window does not fit in the series are NaN.
func WindowedVarianceMagnitude(s imu.Series, window int) []float64 {
	w := oddWindow(window)
	half := w / 2
	out := make([]float64, len(s))
	for i := range out {
		out[i] = math.NaN()
	}
	if w < 2 || len(s) < w {
		return out
	}

	for c := half; c+half < len(s); c++ {
		out[c] = windowMagnitude(s[c-half : c+half+1])
	}
	return out
}

// windowMagnitude is a two-pass variance: raw counts carry large offsets and
// running sums lose the small static variances to cancellation.
func windowMagnitude(w imu.Series) float64 {
	n := float64(len(w))
	var m imu.Vec3
	for _, t := range w {
		m = m.Add(t.Vec)
	}
	m = m.Scale(1 / n)
	var v imu.Vec3
	for _, t := range w {
		d := t.Vec.Sub(m)
		v = v.Add(imu.Vec3{X: d.X * d.X, Y: d.Y * d.Y, Z: d.Z * d.Z})
	}
	return v.Scale(1 / (n - 1)).Norm()
}

// NoiseFloor is the variance magnitude over the first duration seconds of s,
// which are assumed static.
func NoiseFloor(s imu.Series, duration float64) (float64, error) {
	iv, err := imu.InitialInterval(s, duration)
	if err != nil {
		return 0, err
	}
	v, err := imu.Variance(s, iv)
	if err != nil {
		return 0, fmt.Errorf("initial static interval %v: %w", iv, err)
	}
	return v.Norm(), nil
}

// DetectStaticIntervals classifies s into alternating static and motion
// intervals. Data before the first and after the last static run is dropped.
// An empty IntervalSet means no static run survived.
func DetectStaticIntervals(s imu.Series, cfg DetectorConfig) (IntervalSet, error) {
	if err := cfg.validate(); err != nil {
		return IntervalSet{}, err
	}
	w := oddWindow(cfg.Window)
	if len(s) < w {
		return IntervalSet{}, fmt.Errorf("%w: %d samples, window needs %d", imu.ErrDegenerateInterval, len(s), w)
	}
	return segment(s, WindowedVarianceMagnitude(s, w), cfg.Threshold, cfg.MinSamples), nil
}

func segment(s imu.Series, mags []float64, threshold float64, minSamples int) IntervalSet {
	var runs []imu.Interval
	start := -1
	flush := func(end int) {
		if start >= 0 && end-start+1 >= minSamples {
			iv := imu.Interval{StartIdx: start, EndIdx: end, StartTS: s[start].Timestamp, EndTS: s[end].Timestamp}
			runs = append(runs, iv)
		}
		start = -1
	}
	for i, m := range mags {
		// NaN compares false: edge samples are motion
		if m < threshold {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i - 1)
	}
	flush(len(mags) - 1)

	var set IntervalSet
	for i, r := range runs {
		if i > 0 {
			prev := runs[i-1]
			m := imu.Interval{StartIdx: prev.EndIdx + 1, EndIdx: r.StartIdx - 1}
			m.StartTS, m.EndTS = s[m.StartIdx].Timestamp, s[m.EndIdx].Timestamp
			set.Segments = append(set.Segments, Segment{Interval: m})
		}
		set.Segments = append(set.Segments, Segment{Interval: r, Static: true})
	}
	return set
}
