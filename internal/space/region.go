package space

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/cwbudde/mayflydoe/internal/mathx"
	"github.com/cwbudde/mayflydoe/internal/opt"
)

// FeasibilityTol is the tolerance used for equality and nonlinear checks.
const FeasibilityTol = 1e-6

const (
	rankTol       = 1e-10
	maxCornerDims = 10
	maxVertexLPs  = 16
	nonlinearTry  = 2000
	projectIters  = 400
	penaltyWeight = 1e4
)

// Region is the feasible set of one row of a design under a fixed cardinality
// pattern: continuous inputs listed as zero are pinned, the rest move inside the
// box, the linear constraints and the nonlinear constraints. A Region is
// immutable and safe for concurrent use; methods that mutate take the row to
// mutate as an argument.
type Region struct {
	space *Space
	dim   int

	free       []int
	pinned     map[int]float64
	pinnedCols []int
	lower      []float64
	upper      []float64

	eqRows  [][]float64
	eqRHS   []float64
	eqV     [][]float64 // orthonormal rows over free coordinates: eqV·x_free = eqC
	eqC     []float64
	ineqRow [][]float64
	ineqRHS []float64

	nonlinear []func(row []float64) float64

	directions [][]float64
	interior   []float64
	vertices   [][]float64
}

// NewRegion builds the region for the given continuous columns pinned to zero.
// It fails with an *InfeasibleError if no point satisfies the constraints.
func NewRegion(s *Space, zero []int) (*Region, error) {
	r := &Region{
		space:     s,
		dim:       s.Dim(),
		pinned:    make(map[int]float64),
		lower:     make([]float64, s.Dim()),
		upper:     make([]float64, s.Dim()),
		nonlinear: s.nonlinear,
	}

	zeroSet := make(map[int]bool, len(zero))
	for _, j := range zero {
		zeroSet[j] = true
	}
	for j, in := range s.inputs {
		r.lower[j], r.upper[j] = in.Bounds()
		if in.Kind != Continuous {
			continue
		}
		switch {
		case zeroSet[j]:
			r.pinned[j] = 0
			r.pinnedCols = append(r.pinnedCols, j)
		case in.Upper-in.Lower < 1e-12:
			r.pinned[j] = in.Lower
			r.pinnedCols = append(r.pinnedCols, j)
		default:
			r.free = append(r.free, j)
		}
	}

	for _, c := range s.constraints {
		if c.Type != LinearEquality && c.Type != LinearInequality {
			continue
		}
		row := make([]float64, r.dim)
		for i, f := range c.Features {
			row[s.index[f]] += c.Coefficients[i]
		}
		if c.Type == LinearEquality {
			r.eqRows = append(r.eqRows, row)
			r.eqRHS = append(r.eqRHS, c.RHS)
		} else {
			r.ineqRow = append(r.ineqRow, row)
			r.ineqRHS = append(r.ineqRHS, c.RHS)
		}
	}

	if err := r.reduceEqualities(); err != nil {
		return nil, err
	}
	for i, row := range r.ineqRow {
		if !r.touchesFree(row) && r.pinnedDot(row) > r.ineqRHS[i]+FeasibilityTol {
			return nil, &InfeasibleError{Reason: fmt.Sprintf("inequality %d cannot hold with pinned inputs", i)}
		}
	}

	if err := r.findInterior(); err != nil {
		return nil, err
	}
	return r, nil
}

// reduceEqualities computes an orthonormal description of the equality set over
// the free coordinates and the null-space directions that keep it satisfied.
func (r *Region) reduceEqualities() error {
	k := len(r.free)
	m := len(r.eqRows)

	if m == 0 {
		for _, j := range r.free {
			d := make([]float64, r.dim)
			d[j] = 1
			r.directions = append(r.directions, d)
		}
		return nil
	}

	rhs := make([]float64, m)
	for i, row := range r.eqRows {
		rhs[i] = r.eqRHS[i] - r.pinnedDot(row)
	}

	if k == 0 {
		for i := range rhs {
			if math.Abs(rhs[i]) > FeasibilityTol {
				return &InfeasibleError{Reason: fmt.Sprintf("equality %d cannot hold with pinned inputs", i)}
			}
		}
		return nil
	}

	a := mat.NewDense(m, k, nil)
	for i, row := range r.eqRows {
		for c, j := range r.free {
			a.Set(i, c, row[j])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return fmt.Errorf("failed to factorize equality constraints")
	}
	sv := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	rank := 0
	if len(sv) > 0 && sv[0] > 0 {
		for _, s := range sv {
			if s > rankTol*sv[0] {
				rank++
			}
		}
	}

	// project rhs onto the left singular vectors: rank components define the
	// solution, the rest are residual
	proj := make([]float64, m)
	for i := 0; i < m; i++ {
		for l := 0; l < m; l++ {
			proj[i] += u.At(l, i) * rhs[l]
		}
	}
	var resid float64
	for i := rank; i < m; i++ {
		resid += proj[i] * proj[i]
	}
	if math.Sqrt(resid) > 1e-8*(1+floats.Norm(rhs, 2)) {
		return &InfeasibleError{Reason: "equality constraints are inconsistent"}
	}

	for i := 0; i < rank; i++ {
		vec := make([]float64, k)
		for c := 0; c < k; c++ {
			vec[c] = v.At(c, i)
		}
		r.eqV = append(r.eqV, vec)
		r.eqC = append(r.eqC, proj[i]/sv[i])
	}
	for i := rank; i < k; i++ {
		d := make([]float64, r.dim)
		for c, j := range r.free {
			d[j] = v.At(c, i)
		}
		r.directions = append(r.directions, d)
	}
	return nil
}

func (r *Region) touchesFree(row []float64) bool {
	for _, j := range r.free {
		if row[j] != 0 {
			return true
		}
	}
	return false
}

func (r *Region) pinnedDot(row []float64) float64 {
	var sum float64
	for _, j := range r.pinnedCols {
		sum += row[j] * r.pinned[j]
	}
	return sum
}

// solveLP minimizes c·x_free over the linear part of the region and returns the
// free coordinates of an optimal vertex.
func (r *Region) solveLP(c []float64) (x []float64, err error) {
	k := len(r.free)

	var gRows [][]float64
	var h []float64
	for i, row := range r.ineqRow {
		if !r.touchesFree(row) {
			continue
		}
		g := make([]float64, k)
		for cIdx, j := range r.free {
			g[cIdx] = row[j]
		}
		gRows = append(gRows, g)
		h = append(h, r.ineqRHS[i]-r.pinnedDot(row))
	}
	for cIdx, j := range r.free {
		up := make([]float64, k)
		up[cIdx] = 1
		lo := make([]float64, k)
		lo[cIdx] = -1
		gRows = append(gRows, up, lo)
		h = append(h, r.upper[j], -r.lower[j])
	}

	g := mat.NewDense(len(gRows), k, nil)
	for i, row := range gRows {
		g.SetRow(i, row)
	}

	var a mat.Matrix
	var b []float64
	if len(r.eqV) > 0 {
		ad := mat.NewDense(len(r.eqV), k, nil)
		for i, row := range r.eqV {
			ad.SetRow(i, row)
		}
		a = ad
		b = append([]float64(nil), r.eqC...)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("linear program failed: %v", p)
		}
	}()

	cNew, aNew, bNew := lp.Convert(c, g, h, a, b)
	_, sol, err := lp.Simplex(cNew, aNew, bNew, 1e-10, nil)
	if err != nil {
		if errors.Is(err, lp.ErrInfeasible) {
			return nil, &InfeasibleError{Reason: "linear constraints admit no point inside the bounds"}
		}
		return nil, fmt.Errorf("linear program failed: %w", err)
	}

	x = make([]float64, k)
	for i := range x {
		x[i] = sol[i] - sol[k+i]
	}
	return x, nil
}

// findInterior locates a feasible point near the centre of the region and a set
// of extreme points used as exchange candidates.
func (r *Region) findInterior() error {
	k := len(r.free)
	rng := rand.New(rand.NewSource(1))

	embed := func(xf []float64) []float64 {
		row := make([]float64, r.dim)
		for c, j := range r.free {
			row[j] = xf[c]
		}
		r.Pin(row)
		return row
	}

	if k == 0 {
		r.interior = embed(nil)
	} else {
		first, err := r.solveLP(make([]float64, k))
		if err != nil {
			return err
		}
		r.addVertex(embed(first))

		// extremes along every coordinate, then random directions
		var objectives [][]float64
		for c := 0; c < k; c++ {
			up := make([]float64, k)
			up[c] = -1
			down := make([]float64, k)
			down[c] = 1
			objectives = append(objectives, up, down)
		}
		for i := len(objectives); i < maxVertexLPs; i++ {
			c := make([]float64, k)
			for l := range c {
				c[l] = rng.NormFloat64()
			}
			objectives = append(objectives, c)
		}
		for _, c := range objectives {
			xf, err := r.solveLP(c)
			if err != nil {
				continue
			}
			r.addVertex(embed(xf))
		}

		centre := make([]float64, r.dim)
		for _, vtx := range r.vertices {
			floats.Add(centre, vtx)
		}
		floats.Scale(1/float64(len(r.vertices)), centre)
		r.Pin(centre)
		r.ProjectLinear(centre)
		r.interior = centre

		if len(r.eqRows) == 0 && len(r.ineqRow) == 0 && k <= maxCornerDims {
			r.vertices = r.vertices[:0]
			for mask := 0; mask < 1<<k; mask++ {
				row := make([]float64, r.dim)
				for c, j := range r.free {
					if mask&(1<<c) != 0 {
						row[j] = r.upper[j]
					} else {
						row[j] = r.lower[j]
					}
				}
				r.Pin(row)
				r.vertices = append(r.vertices, row)
			}
		}
	}

	r.fillLevels(r.interior, nil)
	if len(r.nonlinear) == 0 {
		return nil
	}

	if !r.nonlinearOK(r.interior, FeasibilityTol) {
		x := append([]float64(nil), r.interior...)
		found := false
		for i := 0; i < nonlinearTry && !found; i++ {
			r.walk(rng, x, 1)
			r.fillLevels(x, rng)
			if r.nonlinearOK(x, 0) {
				found = true
			}
		}
		if !found {
			return &InfeasibleError{Reason: "no point satisfies the nonlinear constraints"}
		}
		r.interior = x
	}

	kept := r.vertices[:0]
	for _, vtx := range r.vertices {
		probe := append([]float64(nil), vtx...)
		for j := range probe {
			if r.space.inputs[j].Kind != Continuous {
				probe[j] = r.interior[j]
			}
		}
		if r.nonlinearOK(probe, FeasibilityTol) {
			kept = append(kept, vtx)
		}
	}
	r.vertices = kept
	return nil
}

func (r *Region) addVertex(v []float64) {
	for _, w := range r.vertices {
		if floats.Distance(v, w, math.Inf(1)) < 1e-9 {
			return
		}
	}
	r.vertices = append(r.vertices, v)
}

// fillLevels sets non-continuous columns to a level: random when rng is given,
// otherwise the first level.
func (r *Region) fillLevels(row []float64, rng *rand.Rand) {
	for j, in := range r.space.inputs {
		if in.Kind == Continuous {
			continue
		}
		levels := in.Levels()
		if rng == nil {
			row[j] = levels[0]
		} else {
			row[j] = levels[rng.Intn(len(levels))]
		}
	}
}

// Space returns the design space the region was built from.
func (r *Region) Space() *Space { return r.space }

// Free returns the movable continuous columns.
func (r *Region) Free() []int { return append([]int(nil), r.free...) }

// IsPinned reports whether column j is held fixed by the region.
func (r *Region) IsPinned(j int) bool {
	_, ok := r.pinned[j]
	return ok
}

// Directions returns unit directions spanning the feasible moves of a row.
// The slices are shared and must not be modified.
func (r *Region) Directions() [][]float64 { return r.directions }

// Vertices returns extreme points of the linear region (continuous columns
// only; other columns are zero). The slices are shared and must not be modified.
func (r *Region) Vertices() [][]float64 { return r.vertices }

// Interior returns a copy of a feasible point of the region.
func (r *Region) Interior() []float64 { return append([]float64(nil), r.interior...) }

// HasNonlinear reports whether the region carries nonlinear constraints.
func (r *Region) HasNonlinear() bool { return len(r.nonlinear) > 0 }

// Pin writes the pinned values into row.
func (r *Region) Pin(row []float64) {
	for _, j := range r.pinnedCols {
		row[j] = r.pinned[j]
	}
}

// Interval returns the range [lo, hi] of t for which row + t·d stays inside the
// box and the linear inequalities. Equalities are preserved by any direction
// from Directions. lo <= 0 <= hi always holds.
func (r *Region) Interval(row, d []float64) (float64, float64) {
	lo, hi := math.Inf(-1), math.Inf(1)
	for _, j := range r.free {
		dj := d[j]
		if math.Abs(dj) < 1e-15 {
			continue
		}
		a := (r.lower[j] - row[j]) / dj
		b := (r.upper[j] - row[j]) / dj
		if a > b {
			a, b = b, a
		}
		lo = math.Max(lo, a)
		hi = math.Min(hi, b)
	}
	for i, g := range r.ineqRow {
		gd := floats.Dot(g, d)
		if math.Abs(gd) < 1e-15 {
			continue
		}
		slack := math.Max(r.ineqRHS[i]-floats.Dot(g, row), 0)
		if gd > 0 {
			hi = math.Min(hi, slack/gd)
		} else {
			lo = math.Max(lo, slack/gd)
		}
	}
	if math.IsInf(lo, -1) {
		lo = 0
	}
	if math.IsInf(hi, 1) {
		hi = 0
	}
	return math.Min(lo, 0), math.Max(hi, 0)
}

// Step moves row by t·d, clamps free columns to their bounds and restores pins.
func (r *Region) Step(row, d []float64, t float64) {
	for _, j := range r.free {
		row[j] = mathx.Clamp(row[j]+t*d[j], r.lower[j], r.upper[j])
	}
	r.Pin(row)
}

// ContainsLinear reports whether row satisfies the box, pins and linear constraints.
func (r *Region) ContainsLinear(row []float64, tol float64) bool {
	for _, j := range r.free {
		if row[j] < r.lower[j]-tol || row[j] > r.upper[j]+tol {
			return false
		}
	}
	for j, v := range r.pinned {
		if row[j] != v {
			return false
		}
	}
	for i, a := range r.eqRows {
		if math.Abs(floats.Dot(a, row)-r.eqRHS[i]) > tol {
			return false
		}
	}
	for i, g := range r.ineqRow {
		if floats.Dot(g, row)-r.ineqRHS[i] > tol {
			return false
		}
	}
	return true
}

func (r *Region) nonlinearOK(row []float64, tol float64) bool {
	for _, fn := range r.nonlinear {
		if fn(row) > tol {
			return false
		}
	}
	return true
}

// feasible is the acceptance test of Project: linear constraints to
// tolerance, nonlinear ones strictly.
func (r *Region) feasible(row []float64) bool {
	return r.ContainsLinear(row, FeasibilityTol) && r.nonlinearOK(row, 0)
}

// Contains reports whether row lies in the region.
func (r *Region) Contains(row []float64, tol float64) bool {
	return r.ContainsLinear(row, tol) && r.nonlinearOK(row, tol)
}

// NonlinearViolation returns the summed positive part of the nonlinear constraints.
func (r *Region) NonlinearViolation(row []float64) float64 {
	var sum float64
	for _, fn := range r.nonlinear {
		if v := fn(row); v > 0 {
			sum += v
		}
	}
	return sum
}

// walk performs hit-and-run steps on the continuous columns of x.
func (r *Region) walk(rng *rand.Rand, x []float64, steps int) {
	if len(r.directions) == 0 {
		return
	}
	d := make([]float64, r.dim)
	for s := 0; s < steps; s++ {
		for j := range d {
			d[j] = 0
		}
		for _, dir := range r.directions {
			floats.AddScaled(d, rng.NormFloat64(), dir)
		}
		norm := floats.Norm(d, 2)
		if norm < 1e-12 {
			continue
		}
		floats.Scale(1/norm, d)
		lo, hi := r.Interval(x, d)
		if hi-lo < 1e-12 {
			continue
		}
		r.Step(x, d, lo+rng.Float64()*(hi-lo))
	}
}

// RandomPoint writes a random feasible point into the continuous columns of row,
// drawn by hit-and-run from the interior. Non-continuous columns are left as
// they are and take part in the nonlinear check. It returns false if no
// feasible point was found.
func (r *Region) RandomPoint(rng *rand.Rand, row []float64) bool {
	steps := 5 + 2*len(r.free)
	for attempt := 0; attempt < 50; attempt++ {
		x := append([]float64(nil), row...)
		for j, in := range r.space.inputs {
			if in.Kind == Continuous {
				x[j] = r.interior[j]
			}
		}
		r.walk(rng, x, steps)
		if r.nonlinearOK(x, 0) {
			copy(row, x)
			return true
		}
	}
	return false
}

// ProjectLinear moves row onto the linear part of the region by cyclic
// projections onto the equality subspace, the violated half-spaces and the box.
// It returns whether the result satisfies the linear constraints to tolerance.
func (r *Region) ProjectLinear(row []float64) bool {
	r.Pin(row)
	for iter := 0; iter < 500; iter++ {
		if r.ContainsLinear(row, 1e-9) {
			return true
		}
		for i, vec := range r.eqV {
			var c float64
			for cIdx, j := range r.free {
				c += vec[cIdx] * row[j]
			}
			c -= r.eqC[i]
			for cIdx, j := range r.free {
				row[j] -= c * vec[cIdx]
			}
		}
		for i, g := range r.ineqRow {
			viol := floats.Dot(g, row) - r.ineqRHS[i]
			if viol <= 0 {
				continue
			}
			var nrm float64
			for _, j := range r.free {
				nrm += g[j] * g[j]
			}
			if nrm == 0 {
				continue
			}
			for _, j := range r.free {
				row[j] -= viol / nrm * g[j]
			}
		}
		for _, j := range r.free {
			row[j] = mathx.Clamp(row[j], r.lower[j], r.upper[j])
		}
	}
	return r.ContainsLinear(row, FeasibilityTol)
}

// Project moves row into the region. The linear part is handled by
// ProjectLinear; remaining nonlinear violations are removed by a Nelder-Mead
// search over the feasible directions that trades distance against a penalty,
// falling back to the segment towards the interior point. It returns false if
// the row could not be made feasible.
func (r *Region) Project(row []float64) bool {
	if !r.ProjectLinear(row) {
		return false
	}
	if r.nonlinearOK(row, 0) {
		return true
	}

	if k := len(r.directions); k > 0 {
		base := append([]float64(nil), row...)
		span := 0.0
		for _, j := range r.free {
			span = math.Max(span, r.upper[j]-r.lower[j])
		}
		lower := make([]float64, k)
		upper := make([]float64, k)
		for i := range lower {
			lower[i], upper[i] = -span, span
		}

		x := make([]float64, r.dim)
		move := func(c []float64) []float64 {
			copy(x, base)
			for i, d := range r.directions {
				floats.AddScaled(x, c[i], d)
			}
			return x
		}
		penalty := func(c []float64) float64 {
			x := move(c)
			var out float64
			for _, j := range r.free {
				out += math.Max(r.lower[j]-x[j], 0) + math.Max(x[j]-r.upper[j], 0)
			}
			for i, g := range r.ineqRow {
				out += math.Max(floats.Dot(g, x)-r.ineqRHS[i], 0)
			}
			return floats.Dot(c, c) + penaltyWeight*(out+r.NonlinearViolation(x))
		}

		best, _ := opt.NewNelderMead(projectIters, nil).Run(penalty, lower, upper, k)
		cand := append([]float64(nil), move(best)...)
		if r.feasible(cand) {
			copy(row, cand)
			return true
		}
	}

	return r.pullToInterior(row)
}

// pullToInterior moves row along the segment to the interior point and
// bisects for the first feasible position.
func (r *Region) pullToInterior(row []float64) bool {
	at := func(t float64) []float64 {
		x := make([]float64, r.dim)
		for j := range x {
			if r.space.inputs[j].Kind == Continuous {
				x[j] = row[j] + t*(r.interior[j]-row[j])
			} else {
				x[j] = row[j]
			}
		}
		r.Pin(x)
		return x
	}

	const steps = 20
	prev := 0.0
	for s := 1; s <= steps; s++ {
		t := float64(s) / steps
		if !r.feasible(at(t)) {
			prev = t
			continue
		}
		lo, hi := prev, t
		for i := 0; i < 30; i++ {
			mid := (lo + hi) / 2
			if r.feasible(at(mid)) {
				hi = mid
			} else {
				lo = mid
			}
		}
		copy(row, at(hi))
		return true
	}

	copy(row, r.interior)
	return r.Contains(row, FeasibilityTol)
}
