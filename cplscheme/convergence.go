package cplscheme

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// A Measure decides whether one exchanged data vector has converged between
// two successive iterates of the same time window.
type Measure interface {
	// DataName names the exchanged data the measure applies to.
	DataName() string

	// Measure computes the residual between the previous and the current
	// iterate and reports whether it is within the limit.
	Measure(old, current []float64) (residual float64, converged bool)

	// Limit returns the configured tolerance.
	Limit() float64
}

// absoluteMeasure converges when the L2 norm of the iterate difference
// drops below the limit.
type absoluteMeasure struct {
	dataName string
	limit    float64
}

// NewAbsoluteMeasure creates an absolute convergence measure for the named
// data.
func NewAbsoluteMeasure(dataName string, limit float64) Measure {
	if limit <= 0 {
		panic(fmt.Sprintf(
			"absolute convergence limit for %q must be positive", dataName))
	}

	return &absoluteMeasure{dataName: dataName, limit: limit}
}

func (m *absoluteMeasure) DataName() string { return m.dataName }
func (m *absoluteMeasure) Limit() float64   { return m.limit }

func (m *absoluteMeasure) Measure(
	old, current []float64,
) (float64, bool) {
	res := residualNorm(old, current)
	return res, res <= m.limit
}

// relativeMeasure converges when the L2 norm of the iterate difference
// drops below the limit scaled by the norm of the current iterate. A zero
// current iterate falls back to the unscaled residual.
type relativeMeasure struct {
	dataName string
	limit    float64
}

// NewRelativeMeasure creates a relative convergence measure for the named
// data.
func NewRelativeMeasure(dataName string, limit float64) Measure {
	if limit <= 0 {
		panic(fmt.Sprintf(
			"relative convergence limit for %q must be positive", dataName))
	}

	return &relativeMeasure{dataName: dataName, limit: limit}
}

func (m *relativeMeasure) DataName() string { return m.dataName }
func (m *relativeMeasure) Limit() float64   { return m.limit }

func (m *relativeMeasure) Measure(
	old, current []float64,
) (float64, bool) {
	res := residualNorm(old, current)

	norm := floats.Norm(current, 2)
	if norm == 0 {
		return res, res <= m.limit
	}

	res /= norm

	return res, res <= m.limit
}

func residualNorm(old, current []float64) float64 {
	if len(old) != len(current) {
		panic("convergence measure iterates differ in length")
	}

	diff := make([]float64, len(current))
	floats.SubTo(diff, current, old)

	return floats.Norm(diff, 2)
}
