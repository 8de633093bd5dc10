package cplscheme

import "fmt"

// ConvergenceFailure reports an implicit time window that exhausted its
// iteration budget under the abort policy.
type ConvergenceFailure struct {
	Window     int
	Iterations int
}

func (e *ConvergenceFailure) Error() string {
	return fmt.Sprintf(
		"time window %d did not converge within %d iterations",
		e.Window, e.Iterations)
}
