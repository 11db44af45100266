package calib

import (
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relabs-tech/inertial_calibration/internal/imu"
)

const Tolerance = 1e-9

func notSmall(x float64) bool {
	return math.Abs(x) > Tolerance
}

func vecDifferent(a, b imu.Vec3, tol float64) bool {
	return math.Abs(a.X-b.X) > tol || math.Abs(a.Y-b.Y) > tol || math.Abs(a.Z-b.Z) > tol
}

func testModel() Model {
	return Model{
		Misalignment: [3]float64{0.012, -0.007, 0.021},
		Scale:        imu.Vec3{X: 1.0 / 4096, Y: 1.01 / 4096, Z: 0.985 / 4096},
		Bias:         imu.Vec3{X: 32768 + 120, Y: 32768 - 85, Z: 32768 + 40},
	}
}

func TestApplyInvert(t *testing.T) {
	m := testModel()
	vs := []imu.Vec3{{X: 0, Y: 0, Z: 9.81}, {X: -3.2, Y: 7.1, Z: 0.4}, {X: 1e-3, Y: -1e-3, Z: 0}}
	for _, v := range vs {
		raw, err := m.Invert(v)
		if err != nil {
			t.Fatal(err)
		}
		if back := m.Apply(raw); vecDifferent(back, v, 1e-9) {
			t.Errorf("apply(invert(%v)) = %v", v, back)
		}
		if inv, _ := m.Invert(m.Apply(raw)); vecDifferent(inv, raw, 1e-6) {
			t.Errorf("invert(apply(%v)) = %v", raw, inv)
		}
	}
}

func TestIdentityModel(t *testing.T) {
	v := imu.Vec3{X: 1, Y: -2, Z: 3}
	if got := NewModel().Apply(v); got != v {
		t.Errorf("identity model changed %v to %v", v, got)
	}
}

func TestInvertSingular(t *testing.T) {
	m := NewModel()
	m.Scale.Y = 0
	if _, err := m.Invert(imu.Vec3{X: 1}); !errors.Is(err, ErrSingularTransform) {
		t.Errorf("expected ErrSingularTransform, got %v", err)
	}
}

func TestMatrixMatchesTransform(t *testing.T) {
	m := testModel()
	tr := m.Transform()
	a := m.Matrix()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if a.At(i, j) != tr[i][j] {
				t.Errorf("(%d,%d): %g != %g", i, j, a.At(i, j), tr[i][j])
			}
		}
	}
}

func TestParamsRoundTrip(t *testing.T) {
	m := testModel()
	if got := ModelFromParams(m.Params()); got != m {
		t.Errorf("got %v, want %v", got, m)
	}
}

func TestTextRoundTrip(t *testing.T) {
	m := testModel()
	b, err := m.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(b), "\n"); lines != 3 {
		t.Errorf("expected 3 lines, got %d:\n%s", lines, b)
	}
	var back Model
	if err := back.UnmarshalText(b); err != nil {
		t.Fatal(err)
	}
	if back != m {
		t.Errorf("text round trip not exact: %v != %v", back, m)
	}

	if err := back.UnmarshalText([]byte("1 2 3\n4 5 6\n")); err == nil {
		t.Error("expected error for 6 values")
	}
	if err := back.UnmarshalText([]byte("1 2 3 4 5 6 7 8 nine")); err == nil {
		t.Error("expected error for invalid value")
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acc.calib")
	m := testModel()
	if err := m.Save(path); err != nil {
		t.Fatal(err)
	}
	back, err := LoadModel(path)
	if err != nil {
		t.Fatal(err)
	}
	if back != m {
		t.Errorf("loaded %v, want %v", back, m)
	}
	if _, err := LoadModel(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestModelJSON(t *testing.T) {
	m := testModel()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"misalignment"`) || !strings.Contains(string(b), `"bias"`) {
		t.Errorf("unexpected JSON layout: %s", b)
	}
	var back Model
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back != m {
		t.Errorf("JSON round trip: %v != %v", back, m)
	}
}

func TestApplySeries(t *testing.T) {
	m := testModel()
	s := imu.Series{imu.NewTriad(0.5, 33000, 32000, 36000)}
	out := m.ApplySeries(s)
	if out[0].Timestamp != 0.5 || vecDifferent(out[0].Vec, m.Apply(s[0].Vec), 0) {
		t.Errorf("ApplySeries: %v", out)
	}
}
