package sensors

import (
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/relabs-tech/inertial_calibration/internal/imu"
	"github.com/relabs-tech/inertial_calibration/internal/orientation"
)

func drain(t *testing.T, cfg SimConfig) []imu.IMURaw {
	t.Helper()
	src, err := NewSimSource(cfg)
	if err != nil {
		t.Fatal(err)
	}
	var out []imu.IMURaw
	for {
		r, err := src.NextRaw()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, r)
		if len(out) > 1e6 {
			t.Fatal("simulated session does not end")
		}
	}
}

func TestSimSessionLength(t *testing.T) {
	cfg := DefaultSimConfig("left")
	raws := drain(t, cfg)

	n := len(cfg.Poses)
	want := 3500 + (n-1)*300 + (n-1)*200
	if len(raws) != want {
		t.Fatalf("got %d samples, want %d", len(raws), want)
	}
	for i, r := range raws {
		if r.Source != "left" {
			t.Fatalf("sample %d: source %q", i, r.Source)
		}
		if want := cfg.Start.Add(time.Duration(i) * cfg.Period); !r.Time.Equal(want) {
			t.Fatalf("sample %d: time %v, want %v", i, r.Time, want)
		}
	}
}

func TestSimDeterministic(t *testing.T) {
	a := drain(t, DefaultSimConfig("imu"))
	b := drain(t, DefaultSimConfig("imu"))
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSimStaticSamplesMatchGravity(t *testing.T) {
	cfg := DefaultSimConfig("imu")
	cfg.Noise = 0
	raws := drain(t, cfg)

	// the initial pose is held for the first 35s
	for i := 0; i < 3500; i++ {
		acc, gyro := raws[i].Triads(cfg.Start)
		a := cfg.Acc.Apply(acc.Vec)
		if math.Abs(a.Norm()-cfg.Gravity) > 0.01 {
			t.Fatalf("sample %d: |a| = %g", i, a.Norm())
		}
		if w := cfg.Gyro.Apply(gyro.Vec); w.Norm() > 1e-3 {
			t.Fatalf("sample %d: static rate %v", i, w)
		}
	}

	// the last pose is reached after the final rotation
	last := raws[len(raws)-1]
	acc, _ := last.Triads(cfg.Start)
	got := cfg.Acc.Apply(acc.Vec).Normalized()
	want := cfg.Poses[len(cfg.Poses)-1].Inverse().Rotate(imu.Vec3{Z: 1})
	if got.Sub(want).Norm() > 1e-3 {
		t.Errorf("final gravity direction %v, want %v", got, want)
	}
}

func TestSimConfigErrors(t *testing.T) {
	cfg := DefaultSimConfig("imu")
	cfg.Period = 0
	if _, err := NewSimSource(cfg); err == nil {
		t.Error("expected error for zero period")
	}

	cfg = DefaultSimConfig("imu")
	cfg.Poses = nil
	if _, err := NewSimSource(cfg); err == nil {
		t.Error("expected error for no poses")
	}

	cfg = DefaultSimConfig("imu")
	cfg.Acc.Scale.Y = 0
	if _, err := NewSimSource(cfg); err == nil {
		t.Error("expected error for singular model")
	}

	cfg = DefaultSimConfig("imu")
	cfg.Poses = []orientation.Orientation{orientation.Identity()}
	if raws := drain(t, cfg); len(raws) != 3500 {
		t.Errorf("single pose: %d samples", len(raws))
	}
}
