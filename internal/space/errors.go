package space

import "fmt"

// ErrInvalid matches any *ValidationError via errors.Is.
var ErrInvalid = &ValidationError{}

// ValidationError reports a malformed design-space description.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid design space: " + e.Field + " " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// ErrInfeasible matches any *InfeasibleError via errors.Is.
var ErrInfeasible = &InfeasibleError{}

// InfeasibleError reports that a region admits no point.
type InfeasibleError struct {
	Reason string
}

func (e *InfeasibleError) Error() string {
	if e.Reason == "" {
		return "region is infeasible"
	}
	return "region is infeasible: " + e.Reason
}

func (e *InfeasibleError) Is(target error) bool {
	_, ok := target.(*InfeasibleError)
	return ok
}

// ViolationError reports a row that breaks a constraint.
type ViolationError struct {
	Constraint string
	Amount     float64
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("constraint %s violated by %g", e.Constraint, e.Amount)
}
