package opt

import "github.com/cwbudde/mayflydoe/internal/mathx"

// Optimizer defines a bounded minimization algorithm.
type Optimizer interface {
	// Run executes the optimization
	// eval: objective function to minimize
	// lower, upper: parameter bounds
	// dim: dimensionality of parameter space
	// Returns: best parameters and best cost
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}

func clampInto(dst, x, lower, upper []float64) []float64 {
	for i := range dst {
		dst[i] = mathx.Clamp(x[i], lower[i], upper[i])
	}
	return dst
}

func midpoint(lower, upper []float64, dim int) []float64 {
	x := make([]float64, dim)
	for i := range x {
		x[i] = (lower[i] + upper[i]) / 2
	}
	return x
}
