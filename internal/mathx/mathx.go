// Package mathx holds small numeric helpers shared by the design packages.
package mathx

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Clamp limits val to [lo, hi].
func Clamp[T constraints.Integer | constraints.Float](val, lo, hi T) T {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
// n < 2 yields a single midpoint.
func Linspace[T constraints.Float](lo, hi T, n int) []T {
	if n < 2 {
		return []T{(lo + hi) / 2}
	}
	out := make([]T, n)
	step := (hi - lo) / T(n-1)
	for i := range out {
		out[i] = lo + T(i)*step
	}
	out[n-1] = hi
	return out
}

// RelativeImprovement returns (prev - cur) / |prev|, guarded against a zero denominator.
// Criterion values may be negative (e.g. -log det), so the magnitude is used.
func RelativeImprovement(prev, cur float64) float64 {
	if prev == cur {
		return 0
	}
	denom := math.Abs(prev)
	if denom < 1e-12 {
		denom = 1e-12
	}
	return (prev - cur) / denom
}

// Finite reports whether every value is neither NaN nor infinite.
func Finite(xs []float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
