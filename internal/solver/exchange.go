package solver

import (
	"log/slog"
	"math"
	"math/rand"

	"github.com/cwbudde/mayflydoe/internal/criterion"
	"github.com/cwbudde/mayflydoe/internal/formula"
	"github.com/cwbudde/mayflydoe/internal/mathx"
	"github.com/cwbudde/mayflydoe/internal/space"
)

const goldenRatio = 0.6180339887498949

// search is one design under coordinate/point exchange. Rows [0, fixed) are
// never moved; every other row lives in its own region.
type search struct {
	space   *space.Space
	formula *formula.Formula
	crit    criterion.Criterion
	opts    *Options
	rng     *rand.Rand

	dim    int
	terms  int
	rows   int
	fixed  int
	active int // rows counted by the criterion; rows beyond are ignored

	regions  []*space.Region
	x        []float64
	expanded []float64
	value    float64
}

func newSearch(sp *space.Space, f *formula.Formula, crit criterion.Criterion, opts *Options, rng *rand.Rand, fixed [][]float64, regions []*space.Region) *search {
	dim := sp.Dim()
	rows := len(fixed) + len(regions)
	s := &search{
		space:    sp,
		formula:  f,
		crit:     crit,
		opts:     opts,
		rng:      rng,
		dim:      dim,
		terms:    f.NTerms(),
		rows:     rows,
		fixed:    len(fixed),
		active:   rows,
		regions:  make([]*space.Region, rows),
		x:        make([]float64, rows*dim),
		expanded: make([]float64, rows*f.NTerms()),
		value:    criterion.Singular,
	}
	for i, row := range fixed {
		copy(s.row(i), row)
	}
	copy(s.regions[len(fixed):], regions)
	return s
}

func (s *search) clone() *search {
	c := *s
	c.regions = append([]*space.Region(nil), s.regions...)
	c.x = append([]float64(nil), s.x...)
	c.expanded = append([]float64(nil), s.expanded...)
	return &c
}

func (s *search) row(i int) []float64 { return s.x[i*s.dim : (i+1)*s.dim] }

func (s *search) score() float64 {
	return s.crit.Evaluate(s.expanded[:s.active*s.terms], s.terms)
}

// refresh re-expands every row and recomputes the value.
func (s *search) refresh() {
	for i := 0; i < s.rows; i++ {
		s.formula.Expand(s.row(i), s.expanded[i*s.terms:(i+1)*s.terms])
	}
	s.value = s.score()
}

// set writes cand into row i and returns the resulting value without
// updating s.value.
func (s *search) set(i int, cand []float64) float64 {
	copy(s.row(i), cand)
	s.formula.Expand(s.row(i), s.expanded[i*s.terms:(i+1)*s.terms])
	return s.score()
}

// randomizeRow draws random levels and a random feasible point for row i.
func (s *search) randomizeRow(i int) {
	r := s.regions[i]
	row := r.Interior()
	for j := 0; j < s.dim; j++ {
		in := s.space.Input(j)
		if in.Kind == space.Continuous {
			continue
		}
		levels := in.Levels()
		row[j] = levels[s.rng.Intn(len(levels))]
	}
	if !r.RandomPoint(s.rng, row) {
		row = r.Interior()
	}
	copy(s.row(i), row)
}

func (s *search) randomize() {
	for i := s.fixed; i < s.rows; i++ {
		s.randomizeRow(i)
	}
	s.refresh()
}

// improveRow runs point exchange against the region's extreme points, a line
// search along every feasible direction and level exchange on discrete and
// categorical columns for row i. Only strict improvements are kept.
func (s *search) improveRow(i int) bool {
	r := s.regions[i]
	start := s.value
	best := append([]float64(nil), s.row(i)...)
	bestVal := s.value
	cand := make([]float64, s.dim)
	nonlinear := r.HasNonlinear()

	consider := func(c []float64) float64 {
		if nonlinear && !r.Contains(c, space.FeasibilityTol) {
			return criterion.Singular
		}
		v := s.set(i, c)
		if v < bestVal {
			bestVal = v
			copy(best, c)
		}
		return v
	}

	for _, vtx := range r.Vertices() {
		copy(cand, best)
		for j := 0; j < s.dim; j++ {
			if s.space.Input(j).Kind == space.Continuous {
				cand[j] = vtx[j]
			}
		}
		consider(cand)
	}

	base := make([]float64, s.dim)
	for _, d := range r.Directions() {
		copy(base, best)
		lo, hi := r.Interval(base, d)
		if hi-lo < 1e-12 {
			continue
		}
		probe := func(t float64) float64 {
			copy(cand, base)
			r.Step(cand, d, t)
			return consider(cand)
		}

		bestT, bestAt := 0.0, bestVal
		for _, t := range mathx.Linspace(lo, hi, s.opts.GridSize) {
			if v := probe(t); v < bestAt {
				bestT, bestAt = t, v
			}
		}
		if s.opts.RefineSteps > 0 && bestAt < criterion.Singular {
			h := (hi - lo) / float64(s.opts.GridSize-1)
			goldenSection(probe, math.Max(lo, bestT-h), math.Min(hi, bestT+h), s.opts.RefineSteps)
		}
	}

	for j := 0; j < s.dim; j++ {
		in := s.space.Input(j)
		if in.Kind == space.Continuous {
			continue
		}
		current := best[j]
		for _, level := range in.Levels() {
			if level == current {
				continue
			}
			copy(cand, best)
			cand[j] = level
			consider(cand)
		}
	}

	s.value = s.set(i, best)
	return s.value < start
}

// goldenSection narrows [a, b] around a minimum of f in steps iterations.
func goldenSection(f func(float64) float64, a, b float64, steps int) {
	c := b - goldenRatio*(b-a)
	d := a + goldenRatio*(b-a)
	fc, fd := f(c), f(d)
	for k := 0; k < steps; k++ {
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - goldenRatio*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + goldenRatio*(b-a)
			fd = f(d)
		}
	}
}

// localSearch runs exchange passes over the movable rows until the relative
// improvement of a pass drops below the tolerance, the pass limit is reached
// or the budget runs out. It returns the passes made, whether the tolerance
// was met and the stop reason otherwise.
func (s *search) localSearch(b *budget, emit func(iteration int, value float64)) (int, bool, string) {
	tracker := NewConvergenceTracker(DefaultConvergenceConfig(s.opts.RelativeTolerance))
	tracker.Update(s.value)

	for it := 1; it <= s.opts.MaxIterations; it++ {
		if reason := b.exceeded(); reason != "" {
			return it - 1, false, reason
		}
		if s.value == criterion.Singular && s.active >= s.terms && s.crit.Ridge == 0 {
			s.escapeSingular()
		}
		for i := s.fixed; i < s.rows; i++ {
			s.improveRow(i)
		}
		if emit != nil {
			emit(it, s.value)
		}
		if tracker.Update(s.value) {
			return it, true, ""
		}
	}
	slog.Debug("Exchange pass limit reached",
		"best", tracker.BestCost(),
		"stale_passes", tracker.StaleCount(),
	)
	return s.opts.MaxIterations, false, StopIterations
}

// escapeSingular runs one pass under the ridge-regularized criterion, under
// which rank-deficient designs are still ordered.
func (s *search) escapeSingular() {
	plain := s.crit
	s.crit = plain.WithRidge(greedyRidge)
	s.refresh()
	for i := s.fixed; i < s.rows; i++ {
		s.improveRow(i)
	}
	s.crit = plain
	s.refresh()
}
