package calib

import (
	"errors"
	"math"
	"testing"

	"github.com/relabs-tech/inertial_calibration/internal/imu"
)

// steps builds a series alternating static levels and linear ramps.
func steps(static, motion int, levels ...float64) imu.Series {
	var s imu.Series
	ts := 0.0
	add := func(x float64) {
		s = append(s, imu.NewTriad(ts, x, 0.5*x, 9.81))
		ts += 0.01
	}
	for i, l := range levels {
		for k := 0; k < static; k++ {
			add(l)
		}
		if i+1 < len(levels) {
			next := levels[i+1]
			for k := 1; k <= motion; k++ {
				add(l + (next-l)*float64(k)/float64(motion+1))
			}
		}
	}
	return s
}

func TestWindowedVarianceEdges(t *testing.T) {
	s := steps(50, 0, 1)
	mags := WindowedVarianceMagnitude(s, 10) // bumped to 11
	for i, m := range mags {
		edge := i < 5 || i >= len(s)-5
		if edge != math.IsNaN(m) {
			t.Errorf("sample %d: magnitude %g, edge=%v", i, m, edge)
		}
		if !edge && notSmall(m) {
			t.Errorf("sample %d: constant signal has variance %g", i, m)
		}
	}
}

func TestWindowedVarianceValue(t *testing.T) {
	// x = 0,1,2 with y = 0.5x: var x = 1, var y = 0.25
	s := imu.Series{imu.NewTriad(0, 0, 0, 1), imu.NewTriad(1, 1, 0.5, 1), imu.NewTriad(2, 2, 1, 1)}
	mags := WindowedVarianceMagnitude(s, 3)
	if want := math.Sqrt(1 + 0.25*0.25); notSmall(mags[1] - want) {
		t.Errorf("got %g, want %g", mags[1], want)
	}
}

func TestDetectStaticIntervals(t *testing.T) {
	s := steps(300, 100, 1, 5, -3, 2)
	cfg := DetectorConfig{Window: 51, Threshold: 1e-6, MinSamples: 100}
	set, err := DetectStaticIntervals(s, cfg)
	if err != nil {
		t.Fatal(err)
	}

	statics := set.Static()
	if len(statics) != 4 {
		t.Fatalf("got %d static intervals, want 4: %+v", len(statics), set)
	}
	if len(set.Motion()) != 3 || len(set.Pairs()) != 3 {
		t.Errorf("got %d motion intervals, %d pairs", len(set.Motion()), len(set.Pairs()))
	}
	if !set.Segments[0].Static || !set.Segments[len(set.Segments)-1].Static {
		t.Error("interval set must start and end with a static segment")
	}

	mags := WindowedVarianceMagnitude(s, cfg.Window)
	for i, seg := range set.Segments {
		if i > 0 {
			prev := set.Segments[i-1]
			if seg.Static == prev.Static {
				t.Errorf("segments %d and %d do not alternate", i-1, i)
			}
			if seg.StartIdx != prev.EndIdx+1 {
				t.Errorf("gap or overlap between segments %d and %d", i-1, i)
			}
		}
		if seg.StartTS != s[seg.StartIdx].Timestamp || seg.EndTS != s[seg.EndIdx].Timestamp {
			t.Errorf("segment %d: timestamps not filled", i)
		}
		if !seg.Static {
			continue
		}
		if seg.Len() < cfg.MinSamples {
			t.Errorf("static segment %d shorter than %d samples", i, cfg.MinSamples)
		}
		for k := seg.StartIdx; k <= seg.EndIdx; k++ {
			if !(mags[k] < cfg.Threshold) {
				t.Errorf("static sample %d has magnitude %g", k, mags[k])
			}
		}
	}

	// first static run starts once the window fits
	if statics[0].StartIdx != 25 || statics[3].EndIdx != len(s)-26 {
		t.Errorf("edge runs: %v %v", statics[0], statics[3])
	}
}

func TestDetectMinSamples(t *testing.T) {
	s := steps(300, 100, 1, 5, -3)
	// middle pose shortened to 100 samples: its run is 80 centers long
	short := append(imu.Series{}, s[:460]...)
	short = append(short, s[660:]...)
	for i := range short {
		short[i].Timestamp = float64(i) * 0.01
	}
	set, err := DetectStaticIntervals(short, DetectorConfig{Window: 21, Threshold: 1e-6, MinSamples: 100})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(set.Static()); n != 2 {
		t.Errorf("got %d static intervals, want 2 (short run dropped)", n)
	}
}

func TestDetectErrors(t *testing.T) {
	s := steps(10, 0, 1)
	if _, err := DetectStaticIntervals(s, DetectorConfig{Window: 21, Threshold: 1}); !errors.Is(err, imu.ErrDegenerateInterval) {
		t.Errorf("series shorter than window: got %v", err)
	}
	if _, err := DetectStaticIntervals(s, DetectorConfig{Window: 2, Threshold: 1}); err == nil {
		t.Error("expected error for window < 3")
	}
	if _, err := DetectStaticIntervals(s, DetectorConfig{Window: 3}); err == nil {
		t.Error("expected error for zero threshold")
	}
}

func TestNoiseFloor(t *testing.T) {
	s := steps(200, 0, 1)
	for i := range s {
		if i%2 == 1 {
			s[i].Vec.Z += 0.02
		}
	}
	floor, err := NoiseFloor(s, 1)
	if err != nil {
		t.Fatal(err)
	}
	if floor <= 0 || floor > 1e-3 {
		t.Errorf("noise floor %g", floor)
	}
}
