package solver

import (
	"fmt"
	"time"

	"github.com/cwbudde/mayflydoe/internal/criterion"
	"github.com/cwbudde/mayflydoe/internal/design"
	"github.com/cwbudde/mayflydoe/internal/formula"
	"github.com/cwbudde/mayflydoe/internal/space"
)

// Problem is what a design is optimized for.
type Problem struct {
	Space     *space.Space
	Formula   *formula.Formula
	Criterion criterion.Criterion
}

// Objective returns the criterion bound to the formula.
func (p Problem) Objective() criterion.Objective {
	return criterion.Objective{Criterion: p.Criterion, Formula: p.Formula}
}

func (p Problem) validate() error {
	if p.Space == nil {
		return &space.ValidationError{Field: "problem.space", Reason: "is required"}
	}
	if p.Formula == nil {
		return &space.ValidationError{Field: "problem.formula", Reason: "is required"}
	}
	if p.Formula.Space().Dim() != p.Space.Dim() {
		return &space.ValidationError{
			Field:  "problem.formula",
			Reason: fmt.Sprintf("bound to %d inputs, space has %d", p.Formula.Space().Dim(), p.Space.Dim()),
		}
	}
	for _, c := range p.Space.Constraints() {
		if c.Type == space.NChooseK && c.MinCount > 0 {
			return &space.ValidationError{
				Field:  "constraints." + c.String(),
				Reason: "min_count > 0 is not supported by the design solver",
			}
		}
	}
	return nil
}

// Result is the outcome of one solve.
type Result struct {
	// Design holds the fixed rows first, then the optimized rows.
	Design     design.Matrix
	NFixed     int
	Value      float64
	Strategy   Strategy
	Iterations int
	Restarts   []float64
	Nodes      int
	Converged  bool
	Elapsed    time.Duration
}

// NewRows returns the optimized rows without the fixed ones.
func (r *Result) NewRows() [][]float64 {
	rows := r.Design.RowSlices()
	return rows[r.NFixed:]
}
