package solver

import "fmt"

var (
	// ErrInfeasibleRegion matches any *InfeasibleRegionError via errors.Is.
	ErrInfeasibleRegion = &InfeasibleRegionError{}
	// ErrConvergence matches any *ConvergenceError via errors.Is.
	ErrConvergence = &ConvergenceError{}
)

// InfeasibleRegionError is returned before optimization when the constraints
// admit no point inside the bounds.
type InfeasibleRegionError struct {
	Err error
}

func (e *InfeasibleRegionError) Error() string {
	if e.Err == nil {
		return "design space is infeasible"
	}
	return "design space is infeasible: " + e.Err.Error()
}

func (e *InfeasibleRegionError) Unwrap() error { return e.Err }

func (e *InfeasibleRegionError) Is(target error) bool {
	_, ok := target.(*InfeasibleRegionError)
	return ok
}

// Stop reasons reported by ConvergenceError.
const (
	StopIterations = "max_iterations"
	StopSeconds    = "max_seconds"
	StopNodes      = "max_nodes"
	StopCancelled  = "cancelled"
)

// ConvergenceError accompanies a best-so-far result when the budget ran out
// before the relative tolerance was met. It is not fatal.
type ConvergenceError struct {
	Reason     string
	Iterations int
	Value      float64
	Err        error
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("design solver stopped before converging (%s) after %d iterations, best value %g", e.Reason, e.Iterations, e.Value)
}

func (e *ConvergenceError) Unwrap() error { return e.Err }

func (e *ConvergenceError) Is(target error) bool {
	_, ok := target.(*ConvergenceError)
	return ok
}
