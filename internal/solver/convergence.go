package solver

import (
	"log/slog"
	"math"

	"github.com/cwbudde/mayflydoe/internal/mathx"
)

// ConvergenceConfig defines parameters for detecting optimization convergence
type ConvergenceConfig struct {
	// Enabled controls whether convergence detection is active
	Enabled bool

	// Patience is the number of passes with no significant improvement before stopping
	Patience int

	// Threshold is the minimum relative improvement required to count as progress
	// Relative improvement = (lastSignificant - cost) / |lastSignificant|
	Threshold float64
}

// DefaultConvergenceConfig returns the tracker settings for a relative tolerance.
func DefaultConvergenceConfig(tolerance float64) ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  1,
		Threshold: tolerance,
	}
}

// ConvergenceTracker tracks criterion history and detects when a local search has converged
type ConvergenceTracker struct {
	config          ConvergenceConfig
	updates         int
	bestCost        float64 // Best cost ever seen
	lastSignificant float64 // Last cost that was a significant improvement
	staleCount      int     // Number of passes without significant improvement
}

// NewConvergenceTracker creates a new convergence tracker with the given config
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		bestCost:        math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records a new cost value and returns true if convergence is detected
func (c *ConvergenceTracker) Update(cost float64) bool {
	if !c.config.Enabled {
		return false
	}

	c.updates++
	if cost < c.bestCost {
		c.bestCost = cost
	}

	// First cost - initialize lastSignificant
	if c.updates == 1 {
		c.lastSignificant = cost
		return false
	}

	relativeImprovement := mathx.RelativeImprovement(c.lastSignificant, cost)
	if relativeImprovement >= c.config.Threshold {
		c.lastSignificant = cost
		c.staleCount = 0
		return false
	}

	c.staleCount++
	slog.Debug("No significant criterion improvement",
		"cost", cost,
		"last_significant", c.lastSignificant,
		"relative_improvement", relativeImprovement,
		"stale_count", c.staleCount,
		"patience", c.config.Patience,
	)
	return c.staleCount >= c.config.Patience
}

// BestCost returns the best cost seen so far
func (c *ConvergenceTracker) BestCost() float64 {
	return c.bestCost
}

// StaleCount returns the current number of passes without improvement
func (c *ConvergenceTracker) StaleCount() int {
	return c.staleCount
}
