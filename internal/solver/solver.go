// Package solver constructs optimal experimental designs.
package solver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/cwbudde/mayflydoe/internal/criterion"
	"github.com/cwbudde/mayflydoe/internal/design"
	"github.com/cwbudde/mayflydoe/internal/space"
)

// run carries the state of one Solve call.
type run struct {
	prob     Problem
	space    *space.Space // cardinality constraints removed for the relaxed strategy
	opts     Options
	n        int
	fixed    [][]float64
	budget   *budget
	rng      *rand.Rand
	strategy Strategy

	regions    *regionSet
	patterns   []space.Pattern
	patRegions []*space.Region

	mu         sync.Mutex
	best       *search
	iterations int
	restarts   []float64
	nodes      int
	converged  bool
	stop       string
}

// Solve produces an n-row design minimizing the problem's criterion. Rows in
// opts.Fixed are prepended and kept verbatim.
//
// A design is always returned unless the problem is malformed or infeasible:
// when the budget runs out first the result comes with a *ConvergenceError.
// Rank-deficient designs (n below the formula's term count) are valid results
// whose value is criterion.Singular.
func Solve(ctx context.Context, prob Problem, n int, opts Options) (*Result, error) {
	if err := prob.validate(); err != nil {
		return nil, err
	}
	if opts.Strategy == "" {
		opts.Strategy = Default
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, &space.ValidationError{Field: "n_experiments", Reason: fmt.Sprintf("must be positive, got %d", n)}
	}
	if opts.Epsilon > 0 {
		prob.Criterion.Epsilon = opts.Epsilon
	}

	r := &run{
		prob:      prob,
		space:     prob.Space,
		opts:      opts,
		n:         n,
		budget:    newBudget(ctx, opts.MaxSeconds),
		rng:       rand.New(rand.NewSource(opts.RandomSeed)),
		strategy:  opts.Strategy,
		converged: true,
	}
	if opts.Strategy == Relaxed {
		r.space = prob.Space.WithoutNChooseK()
	}

	for i, row := range opts.Fixed {
		if len(row) != prob.Space.Dim() {
			return nil, &space.ValidationError{Field: fmt.Sprintf("options.fixed[%d]", i), Reason: fmt.Sprintf("has %d values, want %d", len(row), prob.Space.Dim())}
		}
		if err := r.space.CheckRow(row, space.FeasibilityTol); err != nil {
			return nil, &space.ValidationError{Field: fmt.Sprintf("options.fixed[%d]", i), Reason: err.Error()}
		}
		r.fixed = append(r.fixed, append([]float64(nil), row...))
	}

	r.regions = newRegionSet(r.space)
	patterns, regions, err := r.regions.admissible()
	if err != nil {
		return nil, err
	}
	r.patterns, r.patRegions = patterns, regions

	slog.Debug("Starting design solve",
		"strategy", opts.Strategy,
		"n_experiments", n,
		"fixed", len(r.fixed),
		"inputs", prob.Space.Dim(),
		"terms", prob.Formula.NTerms(),
		"patterns", len(patterns),
	)

	switch opts.Strategy {
	case Default:
		if len(patterns) > 1 {
			err = r.branchAndBound()
		} else {
			r.multiStart()
		}
	case Relaxed:
		r.relaxed()
	case Exhaustive:
		err = r.exhaustive()
	case BranchAndBound:
		err = r.branchAndBound()
	case PartiallyRandom:
		r.partiallyRandom()
	case Iterative:
		r.iterative()
	}
	if err != nil {
		return nil, err
	}
	return r.result()
}

func (r *run) criterion() criterion.Criterion { return r.prob.Criterion }

func (r *run) newSearch(rng *rand.Rand, regions []*space.Region) *search {
	return newSearch(r.space, r.prob.Formula, r.criterion(), &r.opts, rng, r.fixed, regions)
}

// randomRegions picks a random admissible pattern region per new row.
func (r *run) randomRegions(rng *rand.Rand) []*space.Region {
	out := make([]*space.Region, r.n)
	for i := range out {
		out[i] = r.patRegions[rng.Intn(len(r.patRegions))]
	}
	return out
}

// polish runs the local search on s and records its bookkeeping.
func (r *run) polish(s *search, phase string, restart int) {
	emit := func(iteration int, value float64) {
		if r.opts.Observer == nil {
			return
		}
		r.mu.Lock()
		best := criterion.Singular
		if r.best != nil {
			best = r.best.value
		}
		nodes := r.nodes
		r.mu.Unlock()
		if value < best {
			best = value
		}
		r.opts.Observer(Progress{
			Strategy:  r.strategy,
			Phase:     phase,
			Restart:   restart,
			Iteration: iteration,
			Value:     value,
			Best:      best,
			Nodes:     nodes,
			Elapsed:   r.budget.elapsed(),
		})
	}

	iters, ok, stop := s.localSearch(r.budget, emit)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.iterations += iters
	if !ok {
		r.converged = false
		if r.stop == "" || stop != StopIterations {
			r.stop = stop
		}
	}
}

// offer keeps s if it beats the best design so far.
func (r *run) offer(s *search) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarts = append(r.restarts, s.value)
	if r.best == nil || s.value < r.best.value {
		r.best = s.clone()
		return true
	}
	return false
}

func (r *run) bestValue() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.best == nil {
		return criterion.Singular
	}
	return r.best.value
}

// halt records a budget stop.
func (r *run) halt(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.converged = false
	r.stop = reason
}

// result checks the best design against the constraints and packages it.
func (r *run) result() (*Result, error) {
	s := r.best
	if s == nil {
		return nil, fmt.Errorf("design solver produced no design")
	}

	for i := s.fixed; i < s.rows; i++ {
		row := s.row(i)
		if err := r.space.CheckRow(row, space.FeasibilityTol); err != nil {
			if !s.regions[i].Project(row) {
				return nil, fmt.Errorf("design row %d violates the constraints: %w", i, err)
			}
			if err := r.space.CheckRow(row, space.FeasibilityTol); err != nil {
				return nil, fmt.Errorf("design row %d violates the constraints: %w", i, err)
			}
		}
	}

	m, err := design.NewMatrix(s.rows, s.dim, s.x)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Design:     m,
		NFixed:     s.fixed,
		Value:      r.prob.Objective().Evaluate(s.x),
		Strategy:   r.strategy,
		Iterations: r.iterations,
		Restarts:   append([]float64(nil), r.restarts...),
		Nodes:      r.nodes,
		Converged:  r.converged,
		Elapsed:    r.budget.elapsed(),
	}

	slog.Info("Design solve complete",
		"strategy", res.Strategy,
		"value", res.Value,
		"iterations", res.Iterations,
		"restarts", len(res.Restarts),
		"nodes", res.Nodes,
		"converged", res.Converged,
		"elapsed", res.Elapsed,
	)

	if !r.converged {
		cerr := &ConvergenceError{Reason: r.stop, Iterations: r.iterations, Value: res.Value}
		if r.stop == StopCancelled {
			cerr.Err = r.budget.ctx.Err()
		}
		return res, cerr
	}
	return res, nil
}
