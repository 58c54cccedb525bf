package criterion

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/mayflydoe/internal/formula"
	"github.com/cwbudde/mayflydoe/internal/space"
)

// 2² full factorial under the linear model 1 + a + b, so XᵀX = 4I.
var factorial = []float64{
	1, -1, -1,
	1, 1, -1,
	1, -1, 1,
	1, 1, 1,
}

func TestFactorialValues(t *testing.T) {
	tests := []struct {
		kind Kind
		want float64
	}{
		{D, -3 * math.Log(4)},
		{A, 3.0 / 4},
		{G, 3.0 / 4},
		{E, -4},
		{K, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := New(tt.kind).Evaluate(factorial, 3)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestZeroValueIsDOptimality(t *testing.T) {
	var c Criterion
	assert.InDelta(t, -3*math.Log(4), c.Evaluate(factorial, 3), 1e-9)
	assert.Equal(t, "D-optimality", c.String())
}

func TestSingularSentinel(t *testing.T) {
	c := New(D)
	tests := []struct {
		name   string
		x      []float64
		nTerms int
	}{
		{"empty", nil, 3},
		{"zero terms", factorial, 0},
		{"ragged", factorial[:5], 3},
		{"fewer rows than terms", factorial[:6], 3},
		{"collinear rows", []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}, 3},
		{"nan", []float64{math.NaN(), 0, 0, 1}, 2},
		{"inf", []float64{math.Inf(1), 0, 0, 1}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range Kinds {
				got := Criterion{Kind: k}.Evaluate(tt.x, tt.nTerms)
				assert.Equal(t, Singular, got, "kind %s", k)
			}
			assert.Equal(t, Singular, c.Evaluate(tt.x, tt.nTerms))
		})
	}

	assert.Equal(t, Singular, Criterion{Kind: "bogus"}.Evaluate(factorial, 3))
}

func TestRowPermutationInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const n, p = 8, 4
	x := make([]float64, n*p)
	for i := range x {
		x[i] = rng.Float64()*2 - 1
	}

	for _, k := range Kinds {
		c := New(k)
		base := c.Evaluate(x, p)
		require.NotEqual(t, Singular, base)

		for trial := 0; trial < 5; trial++ {
			perm := rng.Perm(n)
			y := make([]float64, len(x))
			for i, src := range perm {
				copy(y[i*p:(i+1)*p], x[src*p:(src+1)*p])
			}
			assert.InDelta(t, base, c.Evaluate(y, p), 1e-9*math.Max(1, math.Abs(base)), "kind %s", k)
		}
	}
}

func TestRidge(t *testing.T) {
	row := []float64{1, 0, 0}
	assert.Equal(t, Singular, New(D).Evaluate(row, 3))

	c := New(D).WithRidge(1)
	assert.InDelta(t, -math.Log(2), c.Evaluate(row, 3), 1e-12)
	assert.Equal(t, "D-optimality(ridge=1)", c.String())

	assert.InDelta(t, 0.5, New(G).WithRidge(1).Evaluate(row, 3), 1e-12)
	assert.InDelta(t, 1.0/2+1+1, New(A).WithRidge(1).Evaluate(row, 3), 1e-12)

	// a tiny ridge barely moves a regular design
	assert.InDelta(t, New(D).Evaluate(factorial, 3), New(D).WithRidge(1e-9).Evaluate(factorial, 3), 1e-8)

	assert.Equal(t, Singular, Criterion{Ridge: -1}.Evaluate(factorial, 3))
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"":             D,
		"d":            D,
		"D-optimality": D,
		"a_optimality": A,
		"G":            G,
		"e-Optimality": E,
		"k":            K,
	} {
		got, err := ParseKind(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}

	_, err := ParseKind("space-filling")
	assert.Error(t, err)
}

func TestObjective(t *testing.T) {
	s, err := space.New([]space.Input{
		space.ContinuousInput("a", -1, 1),
		space.ContinuousInput("b", -1, 1),
	}, nil)
	require.NoError(t, err)

	lin, err := formula.Parse(s, formula.Linear)
	require.NoError(t, err)
	obj := Objective{Criterion: New(D), Formula: lin}

	raw := []float64{-1, -1, 1, -1, -1, 1, 1, 1}
	assert.InDelta(t, -3*math.Log(4), obj.Evaluate(raw), 1e-9)
	assert.Equal(t, Singular, obj.Evaluate(raw[:3]), "ragged design")

	quad, err := formula.Parse(s, formula.FullyQuadratic)
	require.NoError(t, err)
	obj = Objective{Criterion: New(D), Formula: quad}
	assert.Equal(t, Singular, obj.Evaluate([]float64{0.3, -0.2}), "one row cannot support six terms")
}
