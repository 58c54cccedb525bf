package solver

import (
	"math"
	"testing"
)

func TestConvergenceTracker_BasicConvergence(t *testing.T) {
	config := ConvergenceConfig{
		Enabled:   true,
		Patience:  3,
		Threshold: 0.01, // 1% improvement required
	}
	tracker := NewConvergenceTracker(config)

	if tracker.BestCost() != math.Inf(1) {
		t.Errorf("Expected initial best cost to be Inf, got %v", tracker.BestCost())
	}

	if tracker.Update(1.0) {
		t.Error("Should not converge on first update")
	}

	if tracker.Update(0.8) { // 20% improvement
		t.Error("Should not converge after improvement")
	}
	if tracker.StaleCount() != 0 {
		t.Errorf("Expected stale count 0 after improvement, got %v", tracker.StaleCount())
	}

	if tracker.Update(0.795) { // 0.625% < 1%
		t.Error("Should not converge yet (1/3)")
	}
	if tracker.Update(0.796) {
		t.Error("Should not converge yet (2/3)")
	}
	if !tracker.Update(0.797) {
		t.Error("Should converge after patience exceeded (3/3)")
	}
	if tracker.StaleCount() != 3 {
		t.Errorf("Expected stale count 3, got %v", tracker.StaleCount())
	}
	if tracker.BestCost() != 0.795 {
		t.Errorf("Expected best cost 0.795, got %v", tracker.BestCost())
	}
}

func TestConvergenceTracker_NegativeCriterion(t *testing.T) {
	// -log det values are negative; improvement is measured against |last|
	tracker := NewConvergenceTracker(DefaultConvergenceConfig(1e-3))

	tracker.Update(-4.0)
	if tracker.Update(-4.4) { // 10% improvement
		t.Error("Should not converge after a 10% improvement on a negative scale")
	}
	if tracker.StaleCount() != 0 {
		t.Errorf("Expected stale count 0, got %v", tracker.StaleCount())
	}
	if !tracker.Update(-4.4001) {
		t.Error("Should converge after an improvement below tolerance")
	}
}

func TestConvergenceTracker_SingularPlateau(t *testing.T) {
	tracker := NewConvergenceTracker(DefaultConvergenceConfig(1e-4))

	tracker.Update(math.MaxFloat64)
	if !tracker.Update(math.MaxFloat64) {
		t.Error("A pass that leaves the sentinel unchanged should converge")
	}

	tracker = NewConvergenceTracker(DefaultConvergenceConfig(1e-4))
	tracker.Update(math.MaxFloat64)
	if tracker.Update(-1.0) {
		t.Error("Leaving the sentinel is a significant improvement")
	}
}

func TestConvergenceTracker_Disabled(t *testing.T) {
	tracker := NewConvergenceTracker(ConvergenceConfig{Enabled: false})
	for i := 0; i < 10; i++ {
		if tracker.Update(1.0) {
			t.Fatal("Disabled tracker should never converge")
		}
	}
	if tracker.BestCost() != math.Inf(1) {
		t.Errorf("Disabled tracker should not record costs, got best %v", tracker.BestCost())
	}
}
