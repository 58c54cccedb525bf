package design

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/cwbudde/mayflydoe/internal/criterion"
)

// Evaluator scores a flattened design; lower is better.
// criterion.Objective satisfies it.
type Evaluator interface {
	Evaluate(flat []float64) float64
}

// Collection is an immutable, ordered set of equally shaped designs with an
// optional criterion used for ranking. It is safe for concurrent reads.
type Collection struct {
	designs   []Matrix
	criterion Evaluator
}

// Summary describes the distribution of criterion values in a collection.
// Statistics cover only regular values; Singular designs are counted apart.
type Summary struct {
	Len      int     `json:"len"`
	Champion int     `json:"champion"`
	Best     float64 `json:"best"`
	Worst    float64 `json:"worst"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Singular int     `json:"singular"`
}

// NewCollection copies designs into a collection. crit may be nil.
func NewCollection(designs []Matrix, crit Evaluator) (*Collection, error) {
	if len(designs) == 0 {
		return nil, &EmptyCollectionError{Op: "new collection"}
	}
	first := designs[0]
	for i, d := range designs[1:] {
		if !d.SameShape(first) {
			return nil, &ShapeMismatchError{
				Index:    i + 1,
				Rows:     d.Rows(),
				Cols:     d.Cols(),
				WantRows: first.Rows(),
				WantCols: first.Cols(),
			}
		}
	}

	c := &Collection{criterion: crit, designs: make([]Matrix, len(designs))}
	for i, d := range designs {
		c.designs[i] = Matrix{rows: d.rows, cols: d.cols, data: d.Flatten()}
	}
	return c, nil
}

// Len returns the number of designs.
func (c *Collection) Len() int { return len(c.designs) }

// NExperiments returns the shared row count.
func (c *Collection) NExperiments() (int, error) {
	if len(c.designs) == 0 {
		return 0, &EmptyCollectionError{Op: "n_experiments"}
	}
	return c.designs[0].Rows(), nil
}

// NVariables returns the shared column count.
func (c *Collection) NVariables() (int, error) {
	if len(c.designs) == 0 {
		return 0, &EmptyCollectionError{Op: "n_variables"}
	}
	return c.designs[0].Cols(), nil
}

// Design returns design i.
func (c *Collection) Design(i int) Matrix { return c.designs[i] }

// Designs returns the designs in collection order.
func (c *Collection) Designs() []Matrix { return append([]Matrix(nil), c.designs...) }

// HasCriterion reports whether the collection can be ranked.
func (c *Collection) HasCriterion() bool { return c.criterion != nil }

// Evaluate returns the criterion value of every design in collection order.
func (c *Collection) Evaluate() ([]float64, error) {
	if c.criterion == nil {
		return nil, &NoCriterionError{Op: "evaluate"}
	}
	values := make([]float64, len(c.designs))
	for i, d := range c.designs {
		values[i] = c.criterion.Evaluate(d.data)
	}
	return values, nil
}

// ChampionIndex returns the index of the design with the lowest criterion
// value. Ties go to the earliest design.
func (c *Collection) ChampionIndex() (int, error) {
	if c.criterion == nil {
		return 0, &NoCriterionError{Op: "champion"}
	}
	if len(c.designs) == 0 {
		return 0, &EmptyCollectionError{Op: "champion"}
	}
	values, _ := c.Evaluate()
	return argmin(values), nil
}

// Champion returns the design with the lowest criterion value.
func (c *Collection) Champion() (Matrix, error) {
	i, err := c.ChampionIndex()
	if err != nil {
		return Matrix{}, err
	}
	return c.designs[i], nil
}

// Summary reports the champion and the spread of criterion values.
func (c *Collection) Summary() (Summary, error) {
	values, err := c.Evaluate()
	if err != nil {
		return Summary{}, err
	}
	if len(values) == 0 {
		return Summary{}, &EmptyCollectionError{Op: "summary"}
	}

	s := Summary{Len: len(values), Champion: argmin(values)}
	regular := make([]float64, 0, len(values))
	for _, v := range values {
		if v == criterion.Singular || math.IsNaN(v) || math.IsInf(v, 0) {
			s.Singular++
			continue
		}
		regular = append(regular, v)
	}
	if len(regular) == 0 {
		s.Best, s.Worst, s.Mean = criterion.Singular, criterion.Singular, criterion.Singular
		return s, nil
	}

	s.Best = floats.Min(regular)
	s.Worst = floats.Max(regular)
	if len(regular) == 1 {
		s.Mean = regular[0]
	} else {
		s.Mean, s.StdDev = stat.MeanStdDev(regular, nil)
	}
	return s, nil
}

// argmin returns the first index of the smallest value. NaN never wins.
func argmin(values []float64) int {
	best := 0
	for i, v := range values[1:] {
		if v < values[best] || (math.IsNaN(values[best]) && !math.IsNaN(v)) {
			best = i + 1
		}
	}
	return best
}
