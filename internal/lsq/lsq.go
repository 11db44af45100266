// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package lsq provides a small dense nonlinear least-squares engine.
package lsq

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	matrix "github.com/skelterjohn/go.matrix"
	"golang.org/x/sync/errgroup"
)

// Problem describes a residual vector r(p) to be minimized in the
// sum-of-squares sense. Residuals must fill r (len NumResiduals) for the
// parameters p (len NumParams) and must not retain either slice. It may be
// called concurrently.
type Problem struct {
	NumParams    int
	NumResiduals int
	Residuals    func(p, r []float64) error
}

// Result of a minimization. Cost is ½Σr².
type Result struct {
	Params      []float64
	Converged   bool
	Iterations  int
	InitialCost float64
	FinalCost   float64
}

// Minimizer is the nonlinear least-squares optimizer used by the calibration
// stages.
type Minimizer interface {
	Minimize(p Problem, x0 []float64) (Result, error)
}

// Iteration is reported to LevenbergMarquardt.Callback after every accepted
// step.
type Iteration struct {
	Iter   int
	Cost   float64
	Lambda float64
}

// LevenbergMarquardt is a Minimizer with a central difference Jacobian and
// Marquardt diagonal damping. Zero fields take their defaults.
type LevenbergMarquardt struct {
	MaxIterations      int     // default 500
	FunctionTolerance  float64 // relative cost decrease, default 1e-10
	GradientTolerance  float64 // max |Jᵀr|, default 1e-12
	ParameterTolerance float64 // relative step size, default 1e-12
	InitialLambda      float64 // default 1e-3
	DiffStep           float64 // relative finite difference step, default 1e-6
	Workers            int     // concurrent Jacobian columns, default GOMAXPROCS

	Callback func(Iteration)
}

const maxLambda = 1e32

func (lm LevenbergMarquardt) withDefaults() LevenbergMarquardt {
	if lm.MaxIterations <= 0 {
		lm.MaxIterations = 500
	}
	if lm.FunctionTolerance <= 0 {
		lm.FunctionTolerance = 1e-10
	}
	if lm.GradientTolerance <= 0 {
		lm.GradientTolerance = 1e-12
	}
	if lm.ParameterTolerance <= 0 {
		lm.ParameterTolerance = 1e-12
	}
	if lm.InitialLambda <= 0 {
		lm.InitialLambda = 1e-3
	}
	if lm.DiffStep <= 0 {
		lm.DiffStep = 1e-6
	}
	if lm.Workers <= 0 {
		lm.Workers = runtime.GOMAXPROCS(0)
	}
	return lm
}

// Minimize runs Levenberg-Marquardt from x0. x0 is not modified. A residual
// evaluation error aborts the solve and is returned as is (wrapped).
func (lm LevenbergMarquardt) Minimize(p Problem, x0 []float64) (Result, error) {
	if p.NumParams <= 0 || p.NumParams != len(x0) {
		return Result{}, fmt.Errorf("lsq: %d parameters declared, %d given", p.NumParams, len(x0))
	}
	if p.NumResiduals <= 0 {
		return Result{}, errors.New("lsq: problem has no residuals")
	}
	if p.Residuals == nil {
		return Result{}, errors.New("lsq: nil residual function")
	}
	lm = lm.withDefaults()

	n := p.NumParams
	x := append([]float64(nil), x0...)
	r := make([]float64, p.NumResiduals)
	if err := p.Residuals(x, r); err != nil {
		return Result{}, fmt.Errorf("lsq: residuals at initial guess: %w", err)
	}
	cost := halfSquaredNorm(r)
	res := Result{InitialCost: cost}

	lambda := lm.InitialLambda
	xn := make([]float64, n)
	rn := make([]float64, p.NumResiduals)

	converged := false
	iter := 0
	for ; iter < lm.MaxIterations && !converged; iter++ {
		if cost == 0 {
			converged = true
			break
		}
		jac, err := lm.jacobian(p, x)
		if err != nil {
			return Result{}, err
		}

		jt := jac.Transpose()
		jtj := matrix.Product(jt, jac)
		g := matrix.Product(jt, column(r))

		if infNorm(g) <= lm.GradientTolerance {
			converged = true
			break
		}

		accepted := false
		for !accepted && !converged {
			if lambda > maxLambda {
				// no damping produces a decrease: numerically at a minimum
				converged = true
				break
			}
			delta, err := solveDamped(jtj, g, lambda)
			if err != nil {
				lambda *= 10
				continue
			}

			xnorm, dnorm := 0.0, 0.0
			for i := 0; i < n; i++ {
				xn[i] = x[i] + delta[i]
				xnorm += x[i] * x[i]
				dnorm += delta[i] * delta[i]
			}
			xnorm, dnorm = math.Sqrt(xnorm), math.Sqrt(dnorm)
			if dnorm <= lm.ParameterTolerance*(xnorm+lm.ParameterTolerance) {
				converged = true
				break
			}

			if err := p.Residuals(xn, rn); err != nil {
				return Result{}, fmt.Errorf("lsq: residuals at iteration %d: %w", iter, err)
			}
			newCost := halfSquaredNorm(rn)
			if math.IsNaN(newCost) || newCost >= cost {
				lambda *= 10
				continue
			}

			accepted = true
			decrease := (cost - newCost) / cost
			copy(x, xn)
			copy(r, rn)
			cost = newCost
			lambda = math.Max(lambda/10, 1e-16)
			if decrease < lm.FunctionTolerance {
				converged = true
			}
			if lm.Callback != nil {
				lm.Callback(Iteration{Iter: iter, Cost: cost, Lambda: lambda})
			}
		}
	}

	res.Params = x
	res.Converged = converged
	res.Iterations = iter
	res.FinalCost = cost
	return res, nil
}

// jacobian evaluates the central difference Jacobian. Columns are computed
// concurrently, each into its own slot, so the result does not depend on
// scheduling.
func (lm LevenbergMarquardt) jacobian(p Problem, x []float64) (*matrix.DenseMatrix, error) {
	m, n := p.NumResiduals, p.NumParams
	cols := make([][]float64, n)

	var g errgroup.Group
	g.SetLimit(lm.Workers)
	for j := 0; j < n; j++ {
		j := j
		g.Go(func() error {
			h := lm.DiffStep * math.Max(math.Abs(x[j]), 1)
			xp := append([]float64(nil), x...)
			xm := append([]float64(nil), x...)
			xp[j] += h
			xm[j] -= h

			rp := make([]float64, m)
			rm := make([]float64, m)
			if err := p.Residuals(xp, rp); err != nil {
				return fmt.Errorf("lsq: jacobian column %d: %w", j, err)
			}
			if err := p.Residuals(xm, rm); err != nil {
				return fmt.Errorf("lsq: jacobian column %d: %w", j, err)
			}
			inv := 1 / (xp[j] - xm[j])
			for i := range rp {
				rp[i] = (rp[i] - rm[i]) * inv
			}
			cols[j] = rp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	jac := matrix.Zeros(m, n)
	for j, c := range cols {
		for i, v := range c {
			jac.Set(i, j, v)
		}
	}
	return jac, nil
}

// solveDamped solves (JᵀJ + λ·diag(JᵀJ)) δ = −Jᵀr in the equilibrated form
// (D⁻¹JᵀJD⁻¹ + λI) y = −D⁻¹Jᵀr, δ = D⁻¹y, with D = sqrt(diag(JᵀJ)).
func solveDamped(jtj, g *matrix.DenseMatrix, lambda float64) ([]float64, error) {
	n := jtj.Rows()
	d := make([]float64, n)
	for i := range d {
		d[i] = math.Sqrt(math.Max(jtj.Get(i, i), 1e-12))
	}

	a := matrix.Zeros(n, n)
	b := matrix.Zeros(n, 1)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, jtj.Get(i, j)/(d[i]*d[j]))
		}
		a.Set(i, i, a.Get(i, i)+lambda)
		b.Set(i, 0, g.Get(i, 0)/d[i])
	}

	inv, err := a.Inverse()
	if err != nil {
		return nil, err
	}
	y := matrix.Product(inv, b)
	delta := make([]float64, n)
	for i := range delta {
		delta[i] = -y.Get(i, 0) / d[i]
		if math.IsNaN(delta[i]) || math.IsInf(delta[i], 0) {
			return nil, errors.New("lsq: non-finite step")
		}
	}
	return delta, nil
}

func column(v []float64) *matrix.DenseMatrix {
	return matrix.MakeDenseMatrix(append([]float64(nil), v...), len(v), 1)
}

func infNorm(m *matrix.DenseMatrix) float64 {
	max := 0.0
	for i := 0; i < m.Rows(); i++ {
		if a := math.Abs(m.Get(i, 0)); a > max {
			max = a
		}
	}
	return max
}

func halfSquaredNorm(r []float64) float64 {
	s := 0.0
	for _, v := range r {
		s += v * v
	}
	return 0.5 * s
}
