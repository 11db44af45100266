package lsq

import (
	"errors"
	"math"
	"testing"
)

const Tolerance = 1e-6

func notSmall(x float64) bool {
	return math.Abs(x) > Tolerance
}

func TestExponentialCurve(t *testing.T) {
	// y = a·exp(b·t) + c
	a, b, c := 2.5, -1.3, 0.7
	ts := make([]float64, 50)
	ys := make([]float64, 50)
	for i := range ts {
		ts[i] = float64(i) * 0.1
		ys[i] = a*math.Exp(b*ts[i]) + c
	}

	p := Problem{
		NumParams:    3,
		NumResiduals: len(ts),
		Residuals: func(x, r []float64) error {
			for i := range ts {
				r[i] = x[0]*math.Exp(x[1]*ts[i]) + x[2] - ys[i]
			}
			return nil
		},
	}

	x0 := []float64{1, -0.5, 0}
	res, err := LevenbergMarquardt{}.Minimize(p, x0)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged {
		t.Fatalf("did not converge after %d iterations, cost %g", res.Iterations, res.FinalCost)
	}
	if notSmall(res.Params[0]-a) || notSmall(res.Params[1]-b) || notSmall(res.Params[2]-c) {
		t.Errorf("got %v, want [%g %g %g]", res.Params, a, b, c)
	}
	if res.FinalCost >= res.InitialCost {
		t.Errorf("cost did not decrease: %g -> %g", res.InitialCost, res.FinalCost)
	}
	if x0[0] != 1 || x0[1] != -0.5 || x0[2] != 0 {
		t.Error("initial guess modified")
	}
}

func TestRosenbrock(t *testing.T) {
	p := Problem{
		NumParams:    2,
		NumResiduals: 2,
		Residuals: func(x, r []float64) error {
			r[0] = 10 * (x[1] - x[0]*x[0])
			r[1] = 1 - x[0]
			return nil
		},
	}
	iters := 0
	lm := LevenbergMarquardt{Workers: 1, Callback: func(Iteration) { iters++ }}
	res, err := lm.Minimize(p, []float64{-1.2, 1})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Converged || notSmall(res.Params[0]-1) || notSmall(res.Params[1]-1) {
		t.Errorf("got %+v", res)
	}
	if iters == 0 {
		t.Error("callback never called")
	}
}

func TestDeterministicAcrossWorkers(t *testing.T) {
	p := Problem{
		NumParams:    4,
		NumResiduals: 20,
		Residuals: func(x, r []float64) error {
			for i := range r {
				f := float64(i)
				r[i] = x[0]*math.Sin(f*x[1]) + x[2]*f + x[3]*x[3] - math.Sin(0.3*f) - 0.1*f - 4
			}
			return nil
		},
	}
	x0 := []float64{0.8, 0.25, 0, 1.5}
	r1, err := LevenbergMarquardt{Workers: 1}.Minimize(p, x0)
	if err != nil {
		t.Fatal(err)
	}
	r8, err := LevenbergMarquardt{Workers: 8}.Minimize(p, x0)
	if err != nil {
		t.Fatal(err)
	}
	for i := range r1.Params {
		if r1.Params[i] != r8.Params[i] {
			t.Errorf("param %d differs: %v vs %v", i, r1.Params[i], r8.Params[i])
		}
	}
}

func TestResidualErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	p := Problem{
		NumParams:    1,
		NumResiduals: 1,
		Residuals: func(x, r []float64) error {
			calls++
			if calls > 1 {
				return boom
			}
			r[0] = x[0] - 3
			return nil
		},
	}
	if _, err := (LevenbergMarquardt{Workers: 1}).Minimize(p, []float64{0}); !errors.Is(err, boom) {
		t.Errorf("expected residual error, got %v", err)
	}
}

func TestMaxIterations(t *testing.T) {
	p := Problem{
		NumParams:    2,
		NumResiduals: 2,
		Residuals: func(x, r []float64) error {
			r[0] = 10 * (x[1] - x[0]*x[0])
			r[1] = 1 - x[0]
			return nil
		},
	}
	res, err := LevenbergMarquardt{MaxIterations: 1}.Minimize(p, []float64{-1.2, 1})
	if err != nil {
		t.Fatal(err)
	}
	if res.Converged || res.Iterations != 1 {
		t.Errorf("expected 1 unconverged iteration, got %+v", res)
	}
}

func TestInvalidProblem(t *testing.T) {
	p := Problem{NumParams: 2, NumResiduals: 1, Residuals: func(x, r []float64) error { return nil }}
	if _, err := (LevenbergMarquardt{}).Minimize(p, []float64{1}); err == nil {
		t.Error("expected error for parameter count mismatch")
	}
}
