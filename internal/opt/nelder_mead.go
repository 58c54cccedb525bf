package opt

import (
	"log/slog"

	"gonum.org/v1/gonum/optimize"
)

// NelderMeadAdapter runs gonum's Nelder-Mead simplex search. Bounds are
// enforced by clamping candidates before evaluation.
type NelderMeadAdapter struct {
	maxIters int
	start    []float64
}

// NewNelderMead creates a local optimizer starting from start (or the box
// midpoint when start is nil or of the wrong length).
func NewNelderMead(maxIters int, start []float64) Optimizer {
	return &NelderMeadAdapter{
		maxIters: maxIters,
		start:    append([]float64(nil), start...),
	}
}

// Run minimizes eval inside [lower, upper].
func (n *NelderMeadAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	x0 := midpoint(lower, upper, dim)
	if len(n.start) == dim {
		clampInto(x0, n.start, lower, upper)
	}

	buf := make([]float64, dim)
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return eval(clampInto(buf, x, lower, upper))
		},
	}
	settings := &optimize.Settings{
		MajorIterations: n.maxIters,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Iterations: 25,
		},
	}

	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if result == nil {
		slog.Debug("Nelder-Mead returned no result", "error", err)
		return x0, eval(x0)
	}
	if err != nil {
		slog.Debug("Nelder-Mead stopped early", "error", err, "status", result.Status)
	}

	best := clampInto(make([]float64, dim), result.X, lower, upper)
	return best, eval(best)
}
