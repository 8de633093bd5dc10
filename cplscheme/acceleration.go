package cplscheme

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// An Acceleration post-processes the received coupling data of a
// non-converged implicit iteration to speed up the fixed-point iteration.
// Relax replaces the current iterate in place; Reset clears the iteration
// history when a window commits.
type Acceleration interface {
	Relax(prev, current map[string][]float64)
	Reset()
}

// constantRelaxation blends the previous and current iterate with a fixed
// factor: x <- x_prev + omega * (x - x_prev).
type constantRelaxation struct {
	omega float64
}

// NewConstantRelaxation creates a constant under-relaxation with the given
// factor in (0, 1].
func NewConstantRelaxation(omega float64) Acceleration {
	if omega <= 0 || omega > 1 {
		panic("constant relaxation factor must be in (0, 1]")
	}

	return &constantRelaxation{omega: omega}
}

func (c *constantRelaxation) Relax(prev, current map[string][]float64) {
	applyRelaxation(prev, current, c.omega)
}

func (c *constantRelaxation) Reset() {}

// aitkenRelaxation adapts the relaxation factor from the secant of the two
// most recent residuals. The first iteration of every window falls back to
// the initial factor.
type aitkenRelaxation struct {
	initial float64
	omega   float64

	prevResidual []float64
}

// NewAitkenRelaxation creates an Aitken under-relaxation starting from the
// given initial factor.
func NewAitkenRelaxation(initial float64) Acceleration {
	if initial <= 0 || initial > 1 {
		panic("initial Aitken relaxation factor must be in (0, 1]")
	}

	return &aitkenRelaxation{initial: initial}
}

func (a *aitkenRelaxation) Relax(prev, current map[string][]float64) {
	residual := concatResidual(prev, current)

	if a.prevResidual == nil {
		a.omega = a.initial
	} else {
		delta := make([]float64, len(residual))
		floats.SubTo(delta, residual, a.prevResidual)

		if denom := floats.Dot(delta, delta); denom > 0 {
			a.omega = -a.omega *
				floats.Dot(a.prevResidual, delta) / denom
		}

		// Keep the factor bounded away from stagnation and blow-up.
		a.omega = math.Max(-2, math.Min(2, a.omega))
		if a.omega == 0 {
			a.omega = a.initial
		}
	}

	applyRelaxation(prev, current, a.omega)
	a.prevResidual = residual
}

func (a *aitkenRelaxation) Reset() {
	a.prevResidual = nil
	a.omega = 0
}

func applyRelaxation(prev, current map[string][]float64, omega float64) {
	for name, cur := range current {
		old, ok := prev[name]
		if !ok || len(old) != len(cur) {
			panic("relaxation iterates disagree on coupling data layout")
		}

		for i := range cur {
			cur[i] = old[i] + omega*(cur[i]-old[i])
		}
	}
}

// concatResidual stacks current-prev over all data vectors in name order,
// so both Aitken residuals always align component by component.
func concatResidual(prev, current map[string][]float64) []float64 {
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	var residual []float64
	for _, name := range names {
		old := prev[name]
		cur := current[name]
		for i := range cur {
			residual = append(residual, cur[i]-old[i])
		}
	}

	return residual
}
