package space

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mixtureSpace(t *testing.T) *Space {
	t.Helper()
	s, err := New(
		[]Input{
			ContinuousInput("x1", 0, 1),
			ContinuousInput("x2", 0, 1),
			ContinuousInput("x3", 0, 1),
		},
		[]Constraint{
			NewLinearEquality([]string{"x1", "x2", "x3"}, []float64{1, 1, 1}, 1),
		},
	)
	require.NoError(t, err)
	return s
}

func TestNewRejectsMalformedSpaces(t *testing.T) {
	tests := []struct {
		name        string
		inputs      []Input
		constraints []Constraint
	}{
		{"no inputs", nil, nil},
		{"duplicate key", []Input{ContinuousInput("a", 0, 1), ContinuousInput("a", 0, 1)}, nil},
		{"empty key", []Input{ContinuousInput("", 0, 1)}, nil},
		{"inverted bounds", []Input{ContinuousInput("a", 1, 0)}, nil},
		{"infinite bound", []Input{ContinuousInput("a", 0, math.Inf(1))}, nil},
		{"empty discrete", []Input{DiscreteInput("a")}, nil},
		{"duplicate discrete", []Input{DiscreteInput("a", 1, 1)}, nil},
		{"duplicate category", []Input{CategoricalInput("c", "x", "x")}, nil},
		{
			"unknown feature",
			[]Input{ContinuousInput("a", 0, 1)},
			[]Constraint{NewLinearInequality([]string{"b"}, []float64{1}, 1)},
		},
		{
			"coefficient length",
			[]Input{ContinuousInput("a", 0, 1)},
			[]Constraint{NewLinearInequality([]string{"a"}, []float64{1, 2}, 1)},
		},
		{
			"linear on categorical",
			[]Input{CategoricalInput("c", "x", "y")},
			[]Constraint{NewLinearInequality([]string{"c"}, []float64{1}, 1)},
		},
		{
			"nchoosek without zero",
			[]Input{ContinuousInput("a", 1, 2), ContinuousInput("b", 0, 1)},
			[]Constraint{NewNChooseK([]string{"a", "b"}, 0, 1, false)},
		},
		{
			"nchoosek max above features",
			[]Input{ContinuousInput("a", 0, 1), ContinuousInput("b", 0, 1)},
			[]Constraint{NewNChooseK([]string{"a", "b"}, 0, 3, false)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.inputs, tt.constraints)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), "expected validation error, got %v", err)
		})
	}
}

func TestInputEncodeAndLabel(t *testing.T) {
	cat := CategoricalInput("solvent", "water", "ethanol", "acetone")

	v, err := cat.Encode("ethanol")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
	assert.Equal(t, "acetone", cat.Label(2))

	_, err = cat.Encode("toluene")
	assert.Error(t, err)
	_, err = cat.Encode(1.0)
	assert.Error(t, err)

	num := ContinuousInput("temp", 20, 80)
	v, err = num.Encode(42)
	require.NoError(t, err)
	assert.Equal(t, 42.0, v)
	assert.Equal(t, 42.0, num.Label(42))

	disc := DiscreteInput("n", 3, 1, 2)
	assert.Equal(t, []float64{1, 2, 3}, disc.Levels())
	lo, hi := disc.Bounds()
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 3.0, hi)
}

func TestCheckRow(t *testing.T) {
	s, err := New(
		[]Input{
			ContinuousInput("x1", 0, 1),
			ContinuousInput("x2", 0, 1),
			ContinuousInput("x3", 0, 1),
			DiscreteInput("d", 1, 2),
		},
		[]Constraint{
			NewLinearEquality([]string{"x1", "x2", "x3"}, []float64{1, 1, 1}, 1),
			NewNChooseK([]string{"x1", "x2", "x3"}, 0, 2, false),
		},
	)
	require.NoError(t, err)

	assert.NoError(t, s.CheckRow([]float64{0.5, 0.5, 0, 1}, FeasibilityTol))
	assert.NoError(t, s.CheckRow([]float64{0.5, 0.5 + 1e-8, 0, 2}, FeasibilityTol))

	var verr *ViolationError
	assert.ErrorAs(t, s.CheckRow([]float64{0.3, 0.3, 0.4, 1}, FeasibilityTol), &verr, "three nonzero components")
	assert.ErrorAs(t, s.CheckRow([]float64{0.5, 0.4, 0, 1}, FeasibilityTol), &verr, "sum below one")
	assert.ErrorAs(t, s.CheckRow([]float64{0.5, 0.5, 0, 1.5}, FeasibilityTol), &verr, "off-level discrete")
	assert.Error(t, s.CheckRow([]float64{0.5, 0.5}, FeasibilityTol))
}

func TestParseMonomial(t *testing.T) {
	tests := []struct {
		expr string
		want Monomial
	}{
		{"a", Monomial{Factors: []Factor{{Key: "a", Power: 1}}}},
		{"a:b", Monomial{Factors: []Factor{{Key: "a", Power: 1}, {Key: "b", Power: 1}}}},
		{"a * b", Monomial{Factors: []Factor{{Key: "a", Power: 1}, {Key: "b", Power: 1}}}},
		{"a^2", Monomial{Factors: []Factor{{Key: "a", Power: 2}}}},
		{"a**3", Monomial{Factors: []Factor{{Key: "a", Power: 3}}}},
		{"a:a", Monomial{Factors: []Factor{{Key: "a", Power: 2}}}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseMonomial(tt.expr)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseMonomial(%q) mismatch (-want +got):\n%s", tt.expr, diff)
			}
		})
	}

	for _, bad := range []string{"", "a^0", "a^x", ":"} {
		_, err := ParseMonomial(bad)
		assert.Error(t, err, "expected error for %q", bad)
	}

	m, err := ParseMonomial("x1^2:x2")
	require.NoError(t, err)
	assert.Equal(t, "x1^2:x2", m.String())
	assert.Equal(t, 3, m.Degree())
}

func TestParseSpecAndBuild(t *testing.T) {
	doc := []byte(`
inputs:
  - key: x1
    type: continuous
    bounds: [0, 1]
  - key: x2
    type: continuous
    bounds: [0, 1]
  - key: n
    type: discrete
    values: [3, 1, 2]
  - key: solvent
    type: categorical
    categories: [water, ethanol]
constraints:
  - type: linear-inequality
    features: [x1, x2]
    coefficients: [1, 1]
    rhs: 1.5
  - type: nonlinear-inequality
    terms: ["x1^2", "x2^2"]
    coefficients: [1, 1]
    rhs: 1
  - type: nchoosek
    features: [x1, x2]
    max_count: 1
`)
	spec, err := ParseSpec(doc)
	require.NoError(t, err)

	s, err := spec.Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"x1", "x2", "n", "solvent"}, s.Keys())
	assert.True(t, s.HasNChooseK())
	assert.False(t, s.WithoutNChooseK().HasNChooseK())
	assert.Equal(t, []float64{1, 2, 3}, s.Input(2).Levels())

	assert.NoError(t, s.CheckRow([]float64{0.9, 0, 2, 1}, FeasibilityTol))
	assert.Error(t, s.CheckRow([]float64{0.9, 0.9, 2, 1}, FeasibilityTol), "circle and cardinality violated")

	back := s.ToSpec()
	rebuilt, err := back.Build()
	require.NoError(t, err)
	assert.Equal(t, s.Keys(), rebuilt.Keys())
	assert.Len(t, rebuilt.Constraints(), 3)
}

func TestSpecBuildValidation(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"no inputs", Spec{}},
		{"unknown type", Spec{Inputs: []InputSpec{{Key: "a", Type: "ordinal"}}}},
		{"missing bounds", Spec{Inputs: []InputSpec{{Key: "a", Type: "continuous"}}}},
		{"short bounds", Spec{Inputs: []InputSpec{{Key: "a", Type: "continuous", Bounds: []float64{0}}}}},
		{
			"bad term",
			Spec{
				Inputs:      []InputSpec{{Key: "a", Type: "continuous", Bounds: []float64{0, 1}}},
				Constraints: []ConstraintSpec{{Type: "nonlinear-inequality", Terms: []string{"a^"}, Coefficients: []float64{1}}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.Build()
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestPatterns(t *testing.T) {
	s, err := New(
		[]Input{
			ContinuousInput("a", 0, 1),
			ContinuousInput("b", 0, 1),
			ContinuousInput("c", 0, 1),
			ContinuousInput("d", 0, 1),
		},
		[]Constraint{NewNChooseK([]string{"a", "b", "c"}, 0, 2, false)},
	)
	require.NoError(t, err)

	got := s.Patterns()
	want := []Pattern{{Zero: []int{2}}, {Zero: []int{1}}, {Zero: []int{0}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Patterns() mismatch (-want +got):\n%s", diff)
	}

	free, err := New([]Input{ContinuousInput("a", 0, 1)}, nil)
	require.NoError(t, err)
	assert.Equal(t, []Pattern{{}}, free.Patterns())
}

func TestPatternsCombineConstraints(t *testing.T) {
	s, err := New(
		[]Input{
			ContinuousInput("a", 0, 1),
			ContinuousInput("b", 0, 1),
			ContinuousInput("c", 0, 1),
		},
		[]Constraint{
			NewNChooseK([]string{"a", "b"}, 0, 1, false),
			NewNChooseK([]string{"b", "c"}, 0, 1, false),
		},
	)
	require.NoError(t, err)

	// {b=0}∪{c=0}, {b=0}∪{b=0}, {a=0}∪{c=0}, {a=0}∪{b=0}
	assert.Len(t, s.Patterns(), 4)
	for _, p := range s.Patterns() {
		row := []float64{1, 1, 1}
		for _, z := range p.Zero {
			row[z] = 0
		}
		assert.NoError(t, s.CheckRow(row, FeasibilityTol), "pattern %v", p.Zero)
	}
}

func TestCombinations(t *testing.T) {
	assert.Equal(t, [][]int{{0, 1}, {0, 2}, {1, 2}}, combinations(3, 2))
	assert.Len(t, combinations(2, 0), 1)
	assert.Nil(t, combinations(2, 3))
}

func TestRegionBox(t *testing.T) {
	s, err := New([]Input{ContinuousInput("a", -1, 1), ContinuousInput("b", -1, 1)}, nil)
	require.NoError(t, err)

	r, err := NewRegion(s, nil)
	require.NoError(t, err)
	assert.Len(t, r.Directions(), 2)
	assert.Len(t, r.Vertices(), 4, "box corners are used as candidates")

	row := []float64{0.5, 0}
	lo, hi := r.Interval(row, []float64{1, 0})
	assert.InDelta(t, -1.5, lo, 1e-12)
	assert.InDelta(t, 0.5, hi, 1e-12)

	r.Step(row, []float64{1, 0}, 10)
	assert.Equal(t, []float64{1, 0}, row, "steps clamp to the box")
}

func TestRegionMixture(t *testing.T) {
	s := mixtureSpace(t)
	r, err := NewRegion(s, nil)
	require.NoError(t, err)

	assert.Len(t, r.Directions(), 2, "one equality removes one direction")
	assert.InDelta(t, 1.0, sum(r.Interior()), 1e-8)
	assert.True(t, r.Contains(r.Interior(), FeasibilityTol))

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		row := make([]float64, 3)
		require.True(t, r.RandomPoint(rng, row))
		assert.InDelta(t, 1.0, sum(row), 1e-8)
		assert.NoError(t, s.CheckRow(row, FeasibilityTol))
	}

	for _, d := range r.Directions() {
		assert.InDelta(t, 0, sum(d), 1e-9, "directions keep the sum")
		lo, hi := r.Interval(r.Interior(), d)
		assert.LessOrEqual(t, lo, 0.0)
		assert.GreaterOrEqual(t, hi, 0.0)
	}

	row := []float64{1, 1, 1}
	require.True(t, r.ProjectLinear(row))
	assert.InDelta(t, 1.0, sum(row), FeasibilityTol)

	for _, v := range r.Vertices() {
		assert.True(t, r.ContainsLinear(v, FeasibilityTol), "vertex %v", v)
	}
}

func TestRegionPinsZeroColumns(t *testing.T) {
	s := mixtureSpace(t)
	r, err := NewRegion(s, []int{0})
	require.NoError(t, err)

	assert.True(t, r.IsPinned(0))
	assert.Equal(t, []int{1, 2}, r.Free())
	assert.Equal(t, 0.0, r.Interior()[0])

	rng := rand.New(rand.NewSource(5))
	row := make([]float64, 3)
	require.True(t, r.RandomPoint(rng, row))
	assert.Equal(t, 0.0, row[0])
	assert.InDelta(t, 1.0, row[1]+row[2], 1e-8)

	_, err = NewRegion(s, []int{0, 1, 2})
	assert.ErrorIs(t, err, ErrInfeasible, "sum cannot reach one with every column at zero")
}

func TestRegionInfeasible(t *testing.T) {
	s, err := New(
		[]Input{ContinuousInput("x1", 0, 1), ContinuousInput("x2", 0, 1)},
		[]Constraint{NewLinearInequality([]string{"x1", "x2"}, []float64{-1, -1}, -3)},
	)
	require.NoError(t, err)

	_, err = NewRegion(s, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInfeasible))

	s, err = New(
		[]Input{ContinuousInput("x1", 0, 1), ContinuousInput("x2", 0, 1)},
		[]Constraint{
			NewLinearEquality([]string{"x1", "x2"}, []float64{1, 1}, 1),
			NewLinearEquality([]string{"x1", "x2"}, []float64{2, 2}, 3),
		},
	)
	require.NoError(t, err)
	_, err = NewRegion(s, nil)
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestRegionNonlinearProject(t *testing.T) {
	s, err := New(
		[]Input{ContinuousInput("x1", -1, 1), ContinuousInput("x2", -1, 1)},
		[]Constraint{NewPolynomialInequality(
			[]Monomial{
				{Factors: []Factor{{Key: "x1", Power: 2}}},
				{Factors: []Factor{{Key: "x2", Power: 2}}},
			},
			[]float64{1, 1}, 0.25,
		)},
	)
	require.NoError(t, err)

	r, err := NewRegion(s, nil)
	require.NoError(t, err)
	assert.True(t, r.HasNonlinear())
	for _, v := range r.Vertices() {
		assert.LessOrEqual(t, v[0]*v[0]+v[1]*v[1], 0.25+FeasibilityTol)
	}

	row := []float64{1, 1}
	require.True(t, r.Project(row))
	assert.True(t, r.Contains(row, FeasibilityTol))
	assert.Greater(t, row[0], 0.0, "projection stays on the side of the start point")

	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 10; i++ {
		p := make([]float64, 2)
		require.True(t, r.RandomPoint(rng, p))
		assert.Zero(t, r.NonlinearViolation(p))
	}
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}
