// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calib

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/inertial_calibration/internal/imu"
)

// Calibratable maps raw sensor triads to calibrated ones and back.
type Calibratable interface {
	Apply(raw imu.Vec3) imu.Vec3
	Invert(calibrated imu.Vec3) (imu.Vec3, error)
}

// Model is the 9-parameter sensor error model
//
//	calibrated = T · K · (raw − B)
//
// with T unit upper-triangular (misalignment) and K = diag(Scale).
type Model struct {
	// Misalignment holds the XY, XZ and YZ upper off-diagonal terms of T.
	Misalignment [3]float64 `json:"misalignment"`
	Scale        imu.Vec3   `json:"scale"`
	Bias         imu.Vec3   `json:"bias"`
}

// NumParams is the length of Model.Params.
const NumParams = 9

const singularDet = 1e-300

// NewModel returns the identity model: no misalignment, unit scale, zero bias.
func NewModel() Model {
	return Model{Scale: imu.Vec3{X: 1, Y: 1, Z: 1}}
}

// Transform returns T·K row-major.
func (m Model) Transform() [3][3]float64 {
	sx, sy, sz := m.Scale.X, m.Scale.Y, m.Scale.Z
	xy, xz, yz := m.Misalignment[0], m.Misalignment[1], m.Misalignment[2]
	return [3][3]float64{
		{sx, xy * sy, xz * sz},
		{0, sy, yz * sz},
		{0, 0, sz},
	}
}

// Matrix returns T·K as a gonum matrix.
func (m Model) Matrix() *mat.Dense {
	t := m.Transform()
	return mat.NewDense(3, 3, []float64{
		t[0][0], t[0][1], t[0][2],
		t[1][0], t[1][1], t[1][2],
		t[2][0], t[2][1], t[2][2],
	})
}

// Apply calibrates a raw triad.
func (m Model) Apply(raw imu.Vec3) imu.Vec3 {
	return applyTransform(m.Transform(), raw.Sub(m.Bias))
}

func applyTransform(t [3][3]float64, v imu.Vec3) imu.Vec3 {
	return imu.Vec3{
		X: t[0][0]*v.X + t[0][1]*v.Y + t[0][2]*v.Z,
		Y: t[1][0]*v.X + t[1][1]*v.Y + t[1][2]*v.Z,
		Z: t[2][0]*v.X + t[2][1]*v.Y + t[2][2]*v.Z,
	}
}

// Invert recovers the raw triad producing calibrated.
func (m Model) Invert(calibrated imu.Vec3) (imu.Vec3, error) {
	a := m.Matrix()
	det := mat.Det(a)
	if math.IsNaN(det) || math.Abs(det) < singularDet {
		return imu.Vec3{}, fmt.Errorf("%w: det(T·K) = %g", ErrSingularTransform, det)
	}
	var x mat.VecDense
	if err := x.SolveVec(a, mat.NewVecDense(3, []float64{calibrated.X, calibrated.Y, calibrated.Z})); err != nil {
		return imu.Vec3{}, fmt.Errorf("%w: %v", ErrSingularTransform, err)
	}
	return imu.Vec3{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}.Add(m.Bias), nil
}

// ApplySeries calibrates every sample of s, keeping timestamps.
func (m Model) ApplySeries(s imu.Series) imu.Series {
	t := m.Transform()
	out := make(imu.Series, len(s))
	for i, tr := range s {
		out[i] = imu.Triad{Timestamp: tr.Timestamp, Vec: applyTransform(t, tr.Vec.Sub(m.Bias))}
	}
	return out
}

// Params flattens the model: misalignment XY, XZ, YZ, scale X, Y, Z, bias X, Y, Z.
func (m Model) Params() [NumParams]float64 {
	return [NumParams]float64{
		m.Misalignment[0], m.Misalignment[1], m.Misalignment[2],
		m.Scale.X, m.Scale.Y, m.Scale.Z,
		m.Bias.X, m.Bias.Y, m.Bias.Z,
	}
}

// ModelFromParams is the inverse of Params.
func ModelFromParams(p [NumParams]float64) Model {
	return Model{
		Misalignment: [3]float64{p[0], p[1], p[2]},
		Scale:        imu.Vec3{X: p[3], Y: p[4], Z: p[5]},
		Bias:         imu.Vec3{X: p[6], Y: p[7], Z: p[8]},
	}
}

func modelFromSlice(p []float64) Model {
	var a [NumParams]float64
	copy(a[:], p)
	return ModelFromParams(a)
}

func (m Model) String() string {
	return fmt.Sprintf("misalignment=[%g %g %g] scale=%v bias=%v",
		m.Misalignment[0], m.Misalignment[1], m.Misalignment[2], vecString(m.Scale), vecString(m.Bias))
}

func vecString(v imu.Vec3) string {
	return fmt.Sprintf("[%g %g %g]", v.X, v.Y, v.Z)
}

// MarshalText writes three lines: misalignment, scale, bias. Values use the
// shortest representation that parses back to the same float64.
func (m Model) MarshalText() ([]byte, error) {
	var b bytes.Buffer
	p := m.Params()
	for line := 0; line < 3; line++ {
		for i := 0; i < 3; i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.FormatFloat(p[3*line+i], 'g', -1, 64))
		}
		b.WriteByte('\n')
	}
	return b.Bytes(), nil
}

// UnmarshalText parses the MarshalText format (any whitespace layout of the
// nine values).
func (m *Model) UnmarshalText(text []byte) error {
	fields := strings.Fields(string(text))
	if len(fields) != NumParams {
		return fmt.Errorf("calibration model: expected %d values, got %d", NumParams, len(fields))
	}
	var p [NumParams]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return fmt.Errorf("calibration model: value %d: %w", i+1, err)
		}
		p[i] = v
	}
	*m = ModelFromParams(p)
	return nil
}

// modelJSON has no methods, so the result document keeps the struct layout
// instead of the text form.
type modelJSON Model

func (m Model) MarshalJSON() ([]byte, error) {
	return json.Marshal(modelJSON(m))
}

func (m *Model) UnmarshalJSON(b []byte) error {
	var j modelJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	*m = Model(j)
	return nil
}

// Save writes the model to path in text form.
func (m Model) Save(path string) error {
	b, _ := m.MarshalText()
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("failed to write calibration model: %w", err)
	}
	return nil
}

// LoadModel reads a model written by Save.
func LoadModel(path string) (Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Model{}, fmt.Errorf("failed to read calibration model: %w", err)
	}
	var m Model
	if err := m.UnmarshalText(b); err != nil {
		return Model{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
