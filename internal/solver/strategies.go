package solver

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/mayflydoe/internal/criterion"
	"github.com/cwbudde/mayflydoe/internal/opt"
	"github.com/cwbudde/mayflydoe/internal/space"
)

const (
	// greedyRidge regularizes the criterion while the iterative design is
	// still rank-deficient.
	greedyRidge = 1e-3
	// rowCandidates is the number of starting points tried per pattern when
	// adding a row.
	rowCandidates = 4
	// perturbScale is the Gaussian step of partially-random moves, relative
	// to each input's range.
	perturbScale   = 0.25
	penaltyWeight  = 1e6
	maxExhaustives = math.MaxInt32
)

// multiStart runs NRestarts independent exchange searches from random designs.
func (r *run) multiStart() {
	for k := 0; k < r.opts.NRestarts; k++ {
		if k > 0 {
			if reason := r.budget.exceeded(); reason != "" {
				r.halt(reason)
				return
			}
		}
		s := r.newSearch(r.rng, r.randomRegions(r.rng))
		s.randomize()
		r.polish(s, "restart", k)
		r.offer(s)
		slog.Debug("Restart complete", "restart", k, "value", s.value, "best", r.bestValue())
	}
}

// relaxed runs a Mayfly global stage over the continuous columns of the new
// rows, with each row projected onto the linear constraints inside the
// objective, then polishes by exchange.
func (r *run) relaxed() {
	region := r.patRegions[0]
	free := region.Free()

	for k := 0; k < r.opts.NRestarts; k++ {
		if k > 0 {
			if reason := r.budget.exceeded(); reason != "" {
				r.halt(reason)
				return
			}
		}
		s := r.newSearch(r.rng, r.randomRegions(r.rng))
		s.randomize()

		if len(free) > 0 && r.opts.GlobalIterations > 0 {
			r.globalStage(s, region, free, r.opts.RandomSeed+int64(k))
		}

		r.polish(s, "restart", k)
		r.offer(s)
		slog.Debug("Relaxed restart complete", "restart", k, "value", s.value, "best", r.bestValue())
	}
}

func (r *run) globalStage(s *search, region *space.Region, free []int, seed int64) {
	width := len(free)
	dim := r.n * width
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := 0; i < r.n; i++ {
		for c, j := range free {
			lo, hi := r.space.Input(j).Bounds()
			lower[i*width+c] = lo
			upper[i*width+c] = hi
		}
	}

	scratch := s.clone()
	decode := func(target *search, u []float64) float64 {
		var violation float64
		for i := 0; i < r.n; i++ {
			row := target.row(target.fixed + i)
			for c, j := range free {
				row[j] = u[i*width+c]
			}
			region.ProjectLinear(row)
			violation += region.NonlinearViolation(row)
		}
		target.refresh()
		return violation
	}
	eval := func(u []float64) float64 {
		violation := decode(scratch, u)
		v := scratch.value
		if violation > 0 && v < criterion.Singular {
			v += penaltyWeight * violation
		}
		return v
	}

	best, cost := opt.NewMayfly(r.opts.GlobalIterations, r.opts.GlobalPopulation, seed).Run(eval, lower, upper, dim)
	if cost >= s.value {
		return
	}

	decode(s, best)
	for i := s.fixed; i < s.rows; i++ {
		if !region.Project(s.row(i)) {
			s.randomizeRow(i)
		}
	}
	s.refresh()
	slog.Debug("Global stage complete", "cost", cost, "value", s.value)
}

// exhaustive solves every multiset of admissible patterns over the new rows.
// Rows are interchangeable, so multisets cover all distinct assignments.
func (r *run) exhaustive() error {
	count := multisets(len(r.patterns), r.n)
	if count > r.opts.MaxNodes {
		return &space.ValidationError{
			Field:  "options.max_nodes",
			Reason: fmt.Sprintf("exhaustive search needs %d sub-problems, limit is %d", count, r.opts.MaxNodes),
		}
	}

	assign := make([]int, r.n)
	for node := 0; ; node++ {
		if node > 0 {
			if reason := r.budget.exceeded(); reason != "" {
				r.halt(reason)
				return nil
			}
		}

		regions := make([]*space.Region, r.n)
		for i, p := range assign {
			regions[i] = r.patRegions[p]
		}
		s := r.newSearch(r.rng, regions)
		s.randomize()
		r.polish(s, "node", node)
		r.mu.Lock()
		r.nodes++
		r.mu.Unlock()
		r.offer(s)

		if !nextMultiset(assign, len(r.patterns)) {
			return nil
		}
	}
}

// multisets returns C(k+n-1, n), saturating at maxExhaustives.
func multisets(k, n int) int {
	count := 1.0
	for i := 1; i <= n; i++ {
		count = count * float64(k+i-1) / float64(i)
		if count > maxExhaustives {
			return maxExhaustives
		}
	}
	return int(math.Round(count))
}

// nextMultiset advances a non-decreasing index vector over [0, k).
func nextMultiset(idx []int, k int) bool {
	i := len(idx) - 1
	for i >= 0 && idx[i] == k-1 {
		i--
	}
	if i < 0 {
		return false
	}
	idx[i]++
	for j := i + 1; j < len(idx); j++ {
		idx[j] = idx[i]
	}
	return true
}

// partiallyRandom starts from the multi-start incumbent, then alternates
// re-randomizing a fraction of rows with exchange.
func (r *run) partiallyRandom() {
	r.multiStart()

	count := int(math.Ceil(r.opts.RandomFraction * float64(r.n)))
	if count < 1 {
		count = 1
	}

	for round := 1; round <= r.opts.NRestarts; round++ {
		if reason := r.budget.exceeded(); reason != "" {
			r.halt(reason)
			return
		}

		r.mu.Lock()
		s := r.best.clone()
		r.mu.Unlock()
		for _, k := range r.rng.Perm(r.n)[:count] {
			r.perturbRow(s, s.fixed+k)
		}
		s.refresh()
		r.polish(s, "round", round)
		improved := r.offer(s)
		slog.Debug("Random round complete", "round", round, "rows", count, "value", s.value, "improved", improved)
	}
}

// perturbRow moves row i by Gaussian noise, redraws levels and, with
// cardinality constraints, a pattern, then projects it back into its region.
func (r *run) perturbRow(s *search, i int) {
	if len(r.patRegions) > 1 {
		s.regions[i] = r.patRegions[r.rng.Intn(len(r.patRegions))]
	}
	region := s.regions[i]
	row := s.row(i)
	for j := 0; j < s.dim; j++ {
		in := s.space.Input(j)
		if in.Kind == space.Continuous {
			lo, hi := in.Bounds()
			row[j] += r.rng.NormFloat64() * perturbScale * (hi - lo)
			continue
		}
		if r.rng.Float64() < 0.5 {
			levels := in.Levels()
			row[j] = levels[r.rng.Intn(len(levels))]
		}
	}
	if !region.Project(row) {
		s.randomizeRow(i)
	}
}

// iterative adds the new rows one at a time, each chosen as the best of
// several starts per admissible pattern under a ridge-regularized criterion,
// then polishes the whole design.
func (r *run) iterative() {
	base := r.criterion()
	for k := 0; k < r.opts.NRestarts; k++ {
		if k > 0 {
			if reason := r.budget.exceeded(); reason != "" {
				r.halt(reason)
				return
			}
		}

		s := r.newSearch(r.rng, r.randomRegions(r.rng))
		s.crit = base.WithRidge(greedyRidge)

		for i := s.fixed; i < s.rows; i++ {
			s.active = i + 1
			bestVal := math.Inf(1)
			var bestRow []float64
			var bestRegion *space.Region

			for _, region := range r.patRegions {
				for c := 0; c < rowCandidates; c++ {
					s.regions[i] = region
					if c == 0 {
						copy(s.row(i), region.Interior())
					} else {
						s.randomizeRow(i)
					}
					s.refresh()
					for pass := 0; pass < 3; pass++ {
						if !s.improveRow(i) {
							break
						}
					}
					if s.value < bestVal {
						bestVal = s.value
						bestRow = append(bestRow[:0], s.row(i)...)
						bestRegion = region
					}
				}
			}

			s.regions[i] = bestRegion
			copy(s.row(i), bestRow)
			s.refresh()
			r.emitRow(k, i-s.fixed+1, s.value)
		}

		s.crit = base
		s.active = s.rows
		s.refresh()
		r.polish(s, "polish", k)
		r.offer(s)
		slog.Debug("Greedy construction complete", "restart", k, "value", s.value, "best", r.bestValue())
	}
}

func (r *run) emitRow(restart, rows int, value float64) {
	if r.opts.Observer == nil {
		return
	}
	r.opts.Observer(Progress{
		Strategy:  r.strategy,
		Phase:     "row",
		Restart:   restart,
		Iteration: rows,
		Value:     value,
		Best:      r.bestValue(),
		Elapsed:   r.budget.elapsed(),
	})
}
