package solver

import (
	"context"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/mayflydoe/internal/criterion"
	"github.com/cwbudde/mayflydoe/internal/formula"
	"github.com/cwbudde/mayflydoe/internal/space"
)

func problem(t *testing.T, sp *space.Space, expr string) Problem {
	t.Helper()
	f, err := formula.Parse(sp, expr)
	require.NoError(t, err)
	return Problem{Space: sp, Formula: f, Criterion: criterion.New(criterion.D)}
}

func boxSpace(t *testing.T) *space.Space {
	t.Helper()
	sp, err := space.New([]space.Input{
		space.ContinuousInput("a", -1, 1),
		space.ContinuousInput("b", -1, 1),
	}, nil)
	require.NoError(t, err)
	return sp
}

func mixture(t *testing.T) *space.Space {
	t.Helper()
	sp, err := space.New(
		[]space.Input{
			space.ContinuousInput("x1", 0, 1),
			space.ContinuousInput("x2", 0, 1),
			space.ContinuousInput("x3", 0, 1),
		},
		[]space.Constraint{
			space.NewLinearEquality([]string{"x1", "x2", "x3"}, []float64{1, 1, 1}, 1),
		},
	)
	require.NoError(t, err)
	return sp
}

func cardinality(t *testing.T) *space.Space {
	t.Helper()
	sp, err := space.New(
		[]space.Input{
			space.ContinuousInput("a", 0, 1),
			space.ContinuousInput("b", 0, 1),
			space.ContinuousInput("c", 0, 1),
		},
		[]space.Constraint{
			space.NewNChooseK([]string{"a", "b", "c"}, 0, 2, false),
		},
	)
	require.NoError(t, err)
	return sp
}

func TestSolveLinearBoxCorners(t *testing.T) {
	prob := problem(t, boxSpace(t), formula.Linear)
	opts := DefaultOptions()
	opts.RandomSeed = 1

	res, err := Solve(context.Background(), prob, 4, opts)
	require.NoError(t, err)
	require.True(t, res.Converged)
	assert.Equal(t, 4, res.Design.Rows())
	assert.Equal(t, 2, res.Design.Cols())
	assert.InDelta(t, -3*math.Log(4), res.Value, 1e-6)

	var corners []string
	for _, row := range res.Design.RowSlices() {
		for _, v := range row {
			assert.InDelta(t, 1.0, math.Abs(v), 1e-6, "row %v is not a corner", row)
		}
		corners = append(corners, cornerKey(row))
	}
	sort.Strings(corners)
	assert.Equal(t, []string{"++", "+-", "-+", "--"}, corners)
	assert.Len(t, res.Restarts, opts.NRestarts)
}

func cornerKey(row []float64) string {
	key := ""
	for _, v := range row {
		if v < 0 {
			key += "-"
		} else {
			key += "+"
		}
	}
	return key
}

func TestSolveRankDeficientReturnsSentinel(t *testing.T) {
	prob := problem(t, boxSpace(t), formula.FullyQuadratic)

	res, err := Solve(context.Background(), prob, 1, DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Design.Rows())
	assert.Equal(t, criterion.Singular, res.Value)
	assert.NoError(t, prob.Space.CheckRow(res.Design.Row(0), space.FeasibilityTol))
}

func TestSolveDeterministicPerSeed(t *testing.T) {
	prob := problem(t, mixture(t), "0 + x1 + x2 + x3 + x1:x2")
	opts := DefaultOptions()
	opts.RandomSeed = 42

	const workers = 4
	results := make([]*Result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := Solve(context.Background(), prob, 6, opts)
			if err == nil {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	require.NotNil(t, results[0])
	for i := 1; i < workers; i++ {
		require.NotNil(t, results[i])
		assert.True(t, results[0].Design.Equal(results[i].Design), "run %d differs", i)
		assert.Equal(t, results[0].Value, results[i].Value)
	}
}

func TestSolveInfeasibleRegion(t *testing.T) {
	sp, err := space.New(
		[]space.Input{space.ContinuousInput("x1", 0, 1), space.ContinuousInput("x2", 0, 1)},
		[]space.Constraint{space.NewLinearInequality([]string{"x1", "x2"}, []float64{-1, -1}, -3)},
	)
	require.NoError(t, err)

	for _, strategy := range Strategies {
		t.Run(string(strategy), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Strategy = strategy
			res, err := Solve(context.Background(), problem(t, sp, formula.Linear), 3, opts)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrInfeasibleRegion)
			assert.ErrorIs(t, err, space.ErrInfeasible)
		})
	}
}

func TestSolveEveryStrategyOnMixture(t *testing.T) {
	prob := problem(t, mixture(t), "0 + x1 + x2 + x3")

	for _, strategy := range Strategies {
		t.Run(string(strategy), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Strategy = strategy
			opts.RandomSeed = 7

			res, err := Solve(context.Background(), prob, 3, opts)
			require.NoError(t, err)
			for _, row := range res.Design.RowSlices() {
				assert.InDelta(t, 1.0, row[0]+row[1]+row[2], 1e-6)
				assert.NoError(t, prob.Space.CheckRow(row, space.FeasibilityTol))
			}
			// pure components: det(XᵀX) = 1
			assert.InDelta(t, 0.0, res.Value, 1e-4)
		})
	}
}

func TestSolveCardinality(t *testing.T) {
	prob := problem(t, cardinality(t), formula.Linear)

	for _, strategy := range []Strategy{Default, Exhaustive, BranchAndBound, PartiallyRandom, Iterative} {
		t.Run(string(strategy), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Strategy = strategy
			opts.RandomSeed = 3

			res, err := Solve(context.Background(), prob, 5, opts)
			require.NoError(t, err)
			require.NotEqual(t, criterion.Singular, res.Value)
			for _, row := range res.Design.RowSlices() {
				assert.NoError(t, prob.Space.CheckRow(row, space.FeasibilityTol), "row %v", row)
				nonzero := 0
				for _, v := range row {
					if v != 0 {
						nonzero++
					}
				}
				assert.LessOrEqual(t, nonzero, 2)
			}
		})
	}
}

func TestSolveBranchAndBoundCountsNodes(t *testing.T) {
	prob := problem(t, cardinality(t), formula.Linear)
	opts := DefaultOptions()
	opts.Strategy = BranchAndBound

	res, err := Solve(context.Background(), prob, 4, opts)
	require.NoError(t, err)
	assert.Positive(t, res.Nodes)

	// exhaustive enumeration of 3 patterns over 4 rows solves C(6, 4) multisets
	opts.Strategy = Exhaustive
	exh, err := Solve(context.Background(), prob, 4, opts)
	require.NoError(t, err)
	assert.Equal(t, 15, exh.Nodes)
	assert.LessOrEqual(t, exh.Value, res.Value+1e-3*math.Abs(res.Value))
}

func TestSolveBranchAndBoundWorkers(t *testing.T) {
	prob := problem(t, cardinality(t), formula.Linear)
	opts := DefaultOptions()
	opts.Strategy = BranchAndBound
	opts.Workers = 3

	var mu sync.Mutex
	var updates int
	opts.Observer = func(Progress) {
		mu.Lock()
		updates++
		mu.Unlock()
	}

	res, err := Solve(context.Background(), prob, 4, opts)
	require.NoError(t, err)
	for _, row := range res.Design.RowSlices() {
		assert.NoError(t, prob.Space.CheckRow(row, space.FeasibilityTol))
	}
	assert.Positive(t, updates)
}

func TestSolveRelaxedDropsCardinality(t *testing.T) {
	prob := problem(t, cardinality(t), formula.Linear)
	opts := DefaultOptions()
	opts.Strategy = Relaxed
	opts.NRestarts = 1

	res, err := Solve(context.Background(), prob, 5, opts)
	require.NoError(t, err)
	relaxed := prob.Space.WithoutNChooseK()
	for _, row := range res.Design.RowSlices() {
		assert.NoError(t, relaxed.CheckRow(row, space.FeasibilityTol))
	}
	assert.Less(t, res.Value, criterion.Singular)
}

func TestSolveMixedInputs(t *testing.T) {
	sp, err := space.New([]space.Input{
		space.ContinuousInput("temp", 20, 80),
		space.DiscreteInput("n", 1, 2, 3),
		space.CategoricalInput("solvent", "water", "ethanol", "acetone"),
	}, nil)
	require.NoError(t, err)
	prob := problem(t, sp, formula.Linear)

	res, err := Solve(context.Background(), prob, 8, DefaultOptions())
	require.NoError(t, err)
	assert.Less(t, res.Value, criterion.Singular)

	seen := map[float64]bool{}
	for _, row := range res.Design.RowSlices() {
		require.NoError(t, sp.CheckRow(row, space.FeasibilityTol))
		seen[row[2]] = true
	}
	assert.Len(t, seen, 3, "every solvent level is needed for a regular design")
}

func TestSolveNonlinearConstraint(t *testing.T) {
	sp, err := space.New(
		[]space.Input{space.ContinuousInput("a", -1, 1), space.ContinuousInput("b", -1, 1)},
		[]space.Constraint{space.NewNonlinearInequality([]string{"a", "b"}, func(row []float64) float64 {
			return row[0]*row[0] + row[1]*row[1] - 0.5
		})},
	)
	require.NoError(t, err)
	prob := problem(t, sp, formula.Linear)

	res, err := Solve(context.Background(), prob, 4, DefaultOptions())
	require.NoError(t, err)
	for _, row := range res.Design.RowSlices() {
		assert.LessOrEqual(t, row[0]*row[0]+row[1]*row[1], 0.5+space.FeasibilityTol)
	}
	assert.Less(t, res.Value, criterion.Singular)
}

func TestSolveIterativeAugmentsFixedRows(t *testing.T) {
	prob := problem(t, boxSpace(t), formula.Linear)
	fixed := [][]float64{{-1, -1}, {1, 1}}

	opts := DefaultOptions()
	opts.Strategy = Iterative
	opts.Fixed = fixed

	res, err := Solve(context.Background(), prob, 2, opts)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NFixed)
	assert.Equal(t, 4, res.Design.Rows())
	assert.Equal(t, fixed, res.Design.RowSlices()[:2], "fixed rows are kept verbatim")
	assert.Len(t, res.NewRows(), 2)
	assert.InDelta(t, -3*math.Log(4), res.Value, 1e-6, "the missing corners complete the factorial")
}

func TestSolveBudgetExhaustion(t *testing.T) {
	prob := problem(t, boxSpace(t), formula.FullyQuadratic)
	opts := DefaultOptions()
	opts.MaxIterations = 1
	opts.NRestarts = 1

	res, err := Solve(context.Background(), prob, 9, opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConvergence)
	require.NotNil(t, res, "the best-so-far design accompanies the error")
	assert.False(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)

	var cerr *ConvergenceError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, StopIterations, cerr.Reason)
}

func TestSolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Solve(ctx, problem(t, boxSpace(t), formula.Linear), 4, DefaultOptions())
	require.NotNil(t, res)
	assert.ErrorIs(t, err, ErrConvergence)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 4, res.Design.Rows())
}

func TestSolveValidation(t *testing.T) {
	box := boxSpace(t)
	prob := problem(t, box, formula.Linear)

	_, err := Solve(context.Background(), prob, 0, DefaultOptions())
	assert.ErrorIs(t, err, space.ErrInvalid)

	bad := DefaultOptions()
	bad.Strategy = "simulated-annealing"
	_, err = Solve(context.Background(), prob, 4, bad)
	assert.ErrorIs(t, err, space.ErrInvalid)

	bad = DefaultOptions()
	bad.RandomFraction = 1.5
	_, err = Solve(context.Background(), prob, 4, bad)
	assert.ErrorIs(t, err, space.ErrInvalid)

	bad = DefaultOptions()
	bad.Fixed = [][]float64{{0}}
	_, err = Solve(context.Background(), prob, 4, bad)
	assert.ErrorIs(t, err, space.ErrInvalid)

	bad = DefaultOptions()
	bad.Fixed = [][]float64{{0, 2}}
	_, err = Solve(context.Background(), prob, 4, bad)
	assert.ErrorIs(t, err, space.ErrInvalid, "fixed rows must be feasible")

	_, err = Solve(context.Background(), Problem{Space: box}, 4, DefaultOptions())
	assert.ErrorIs(t, err, space.ErrInvalid)

	sp, err := space.New(
		[]space.Input{space.ContinuousInput("a", 0, 1), space.ContinuousInput("b", 0, 1)},
		[]space.Constraint{space.NewNChooseK([]string{"a", "b"}, 1, 1, false)},
	)
	require.NoError(t, err)
	_, err = Solve(context.Background(), problem(t, sp, formula.Linear), 4, DefaultOptions())
	assert.ErrorIs(t, err, space.ErrInvalid, "min_count > 0 is unsupported")
}

func TestSolveExhaustiveLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.Strategy = Exhaustive
	opts.MaxNodes = 10

	_, err := Solve(context.Background(), problem(t, cardinality(t), formula.Linear), 6, opts)
	assert.ErrorIs(t, err, space.ErrInvalid)
}

func TestSolveMany(t *testing.T) {
	prob := problem(t, boxSpace(t), formula.LinearAndInteractions)
	opts := DefaultOptions()
	opts.NRestarts = 1

	coll, results, err := SolveMany(context.Background(), prob, 6, 5, opts)
	require.NoError(t, err)
	require.Equal(t, 5, coll.Len())
	require.Len(t, results, 5)

	values, err := coll.Evaluate()
	require.NoError(t, err)
	for i, v := range values {
		assert.InDelta(t, results[i].Value, v, 1e-12)
	}

	champ, err := coll.ChampionIndex()
	require.NoError(t, err)
	for _, v := range values {
		assert.LessOrEqual(t, values[champ], v)
	}

	rows, err := coll.NExperiments()
	require.NoError(t, err)
	assert.Equal(t, 6, rows)
}

func TestMultisets(t *testing.T) {
	assert.Equal(t, 15, multisets(3, 4))
	assert.Equal(t, 1, multisets(1, 10))

	idx := []int{0, 0}
	var got [][]int
	for {
		got = append(got, append([]int(nil), idx...))
		if !nextMultiset(idx, 3) {
			break
		}
	}
	assert.Equal(t, [][]int{{0, 0}, {0, 1}, {0, 2}, {1, 1}, {1, 2}, {2, 2}}, got)
}

func TestPartiallyRandomMatchesOtherStrategies(t *testing.T) {
	sp, err := space.New(
		[]space.Input{
			space.ContinuousInput("x1", -1, 1),
			space.ContinuousInput("x2", -1, 1),
		},
		[]space.Constraint{space.NewNChooseK([]string{"x1", "x2"}, 0, 1, false)},
	)
	require.NoError(t, err)
	prob := problem(t, sp, formula.Linear)

	opts := DefaultOptions()
	opts.RandomSeed = 1
	opts.Strategy = Default
	ref, err := Solve(context.Background(), prob, 4, opts)
	require.NoError(t, err)

	opts.Strategy = PartiallyRandom
	res, err := Solve(context.Background(), prob, 4, opts)
	require.NoError(t, err)

	// one point per half-axis: X'X = diag(4, 2, 2)
	assert.InDelta(t, -math.Log(16), ref.Value, 1e-6)
	assert.LessOrEqual(t, res.Value, ref.Value+1e-6)
	assert.GreaterOrEqual(t, len(res.Restarts), opts.NRestarts)
}
