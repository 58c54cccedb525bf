package space

import (
	"fmt"
	"math"
	"sort"
)

// InputKind is the type of a design-space dimension.
type InputKind string

const (
	Continuous  InputKind = "continuous"
	Discrete    InputKind = "discrete"
	Categorical InputKind = "categorical"
)

// Input is one dimension of the design space.
//
// Continuous inputs use Lower/Upper (equal bounds pin the input).
// Discrete inputs use Values. Categorical inputs use Categories and are
// level-encoded in design matrices: the column holds the level index.
type Input struct {
	Key        string
	Kind       InputKind
	Lower      float64
	Upper      float64
	Values     []float64
	Categories []string
}

// ContinuousInput creates a continuous input on [lower, upper].
func ContinuousInput(key string, lower, upper float64) Input {
	return Input{Key: key, Kind: Continuous, Lower: lower, Upper: upper}
}

// DiscreteInput creates a discrete input taking one of values.
func DiscreteInput(key string, values ...float64) Input {
	vs := append([]float64(nil), values...)
	sort.Float64s(vs)
	return Input{Key: key, Kind: Discrete, Values: vs}
}

// CategoricalInput creates a categorical input with the given levels.
func CategoricalInput(key string, categories ...string) Input {
	return Input{Key: key, Kind: Categorical, Categories: append([]string(nil), categories...)}
}

// Bounds returns the numeric range a column of this input can take.
func (in Input) Bounds() (float64, float64) {
	switch in.Kind {
	case Discrete:
		if len(in.Values) == 0 {
			return 0, 0
		}
		return in.Values[0], in.Values[len(in.Values)-1]
	case Categorical:
		return 0, float64(len(in.Categories) - 1)
	default:
		return in.Lower, in.Upper
	}
}

// Levels returns the admissible column values of a discrete or categorical input.
// Continuous inputs return nil.
func (in Input) Levels() []float64 {
	switch in.Kind {
	case Discrete:
		return append([]float64(nil), in.Values...)
	case Categorical:
		out := make([]float64, len(in.Categories))
		for i := range out {
			out[i] = float64(i)
		}
		return out
	default:
		return nil
	}
}

// Label decodes a column value to its display form.
func (in Input) Label(v float64) any {
	if in.Kind == Categorical {
		idx := int(math.Round(v))
		if idx >= 0 && idx < len(in.Categories) {
			return in.Categories[idx]
		}
		return fmt.Sprintf("<invalid level %v>", v)
	}
	return v
}

// Encode converts a labeled value (category name or number) to its column value.
func (in Input) Encode(v any) (float64, error) {
	if in.Kind == Categorical {
		label, ok := v.(string)
		if !ok {
			return 0, fmt.Errorf("input %q expects a category label, got %T", in.Key, v)
		}
		for i, c := range in.Categories {
			if c == label {
				return float64(i), nil
			}
		}
		return 0, fmt.Errorf("input %q has no category %q", in.Key, label)
	}

	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return 0, fmt.Errorf("input %q expects a number, got %T", in.Key, v)
	}
	return f, nil
}

// Space is an immutable design-space model: ordered inputs plus constraints.
// Build one with New; it is safe for concurrent use.
type Space struct {
	inputs      []Input
	constraints []Constraint
	index       map[string]int
	nonlinear   []func(row []float64) float64
}

// New validates inputs and constraints and returns the space.
func New(inputs []Input, constraints []Constraint) (*Space, error) {
	s := &Space{
		inputs:      append([]Input(nil), inputs...),
		constraints: append([]Constraint(nil), constraints...),
		index:       make(map[string]int, len(inputs)),
	}
	for i, in := range s.inputs {
		if _, dup := s.index[in.Key]; dup {
			return nil, &ValidationError{Field: "inputs." + in.Key, Reason: "duplicate key"}
		}
		s.index[in.Key] = i
	}

	if err := s.validate(); err != nil {
		return nil, err
	}

	for _, c := range s.constraints {
		if c.Type == NonlinearInequality {
			s.nonlinear = append(s.nonlinear, s.compileNonlinear(c))
		}
	}
	return s, nil
}

// Dim returns the number of design-matrix columns.
func (s *Space) Dim() int { return len(s.inputs) }

// Inputs returns a copy of the inputs.
func (s *Space) Inputs() []Input { return append([]Input(nil), s.inputs...) }

// Input returns input i.
func (s *Space) Input(i int) Input { return s.inputs[i] }

// Constraints returns a copy of the constraint set.
func (s *Space) Constraints() []Constraint { return append([]Constraint(nil), s.constraints...) }

// Keys returns the input keys in column order.
func (s *Space) Keys() []string {
	keys := make([]string, len(s.inputs))
	for i, in := range s.inputs {
		keys[i] = in.Key
	}
	return keys
}

// Index returns the column of key.
func (s *Space) Index(key string) (int, bool) {
	i, ok := s.index[key]
	return i, ok
}

// HasNChooseK reports whether any cardinality constraint is present.
func (s *Space) HasNChooseK() bool {
	for _, c := range s.constraints {
		if c.Type == NChooseK {
			return true
		}
	}
	return false
}

// WithoutNChooseK returns a copy of the space with cardinality constraints removed.
func (s *Space) WithoutNChooseK() *Space {
	var kept []Constraint
	for _, c := range s.constraints {
		if c.Type != NChooseK {
			kept = append(kept, c)
		}
	}
	out, err := New(s.inputs, kept)
	if err != nil {
		// removing constraints cannot invalidate a valid space
		panic(err)
	}
	return out
}

// CheckRow reports the first constraint row violates, if any.
// Equalities and nonlinear constraints use tol; NChooseK is exact.
func (s *Space) CheckRow(row []float64, tol float64) error {
	if len(row) != len(s.inputs) {
		return fmt.Errorf("row has %d values, space has %d inputs", len(row), len(s.inputs))
	}
	for j, in := range s.inputs {
		v := row[j]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ViolationError{Constraint: in.Key, Amount: math.Inf(1)}
		}
		switch in.Kind {
		case Continuous:
			if v < in.Lower-tol || v > in.Upper+tol {
				return &ViolationError{Constraint: "bounds(" + in.Key + ")", Amount: math.Max(in.Lower-v, v-in.Upper)}
			}
		default:
			if !containsLevel(in.Levels(), v) {
				return &ViolationError{Constraint: "levels(" + in.Key + ")", Amount: 1}
			}
		}
	}

	nl := 0
	for _, c := range s.constraints {
		switch c.Type {
		case LinearEquality:
			if d := math.Abs(s.linearValue(c, row) - c.RHS); d > tol {
				return &ViolationError{Constraint: c.String(), Amount: d}
			}
		case LinearInequality:
			if d := s.linearValue(c, row) - c.RHS; d > tol {
				return &ViolationError{Constraint: c.String(), Amount: d}
			}
		case NonlinearInequality:
			if d := s.nonlinear[nl](row); d > tol {
				return &ViolationError{Constraint: c.String(), Amount: d}
			}
			nl++
		case NChooseK:
			active := 0
			for _, f := range c.Features {
				if row[s.index[f]] != 0 {
					active++
				}
			}
			if active > c.MaxCount {
				return &ViolationError{Constraint: c.String(), Amount: float64(active - c.MaxCount)}
			}
		}
	}
	return nil
}

func (s *Space) linearValue(c Constraint, row []float64) float64 {
	var sum float64
	for i, f := range c.Features {
		sum += c.Coefficients[i] * row[s.index[f]]
	}
	return sum
}

func (s *Space) compileNonlinear(c Constraint) func(row []float64) float64 {
	if c.Func != nil {
		return c.Func
	}
	type factor struct{ col, power int }
	terms := make([][]factor, len(c.Terms))
	for k, m := range c.Terms {
		for _, f := range m.Factors {
			terms[k] = append(terms[k], factor{col: s.index[f.Key], power: f.Power})
		}
	}
	coeffs := append([]float64(nil), c.Coefficients...)
	rhs := c.RHS
	return func(row []float64) float64 {
		sum := -rhs
		for k, term := range terms {
			v := coeffs[k]
			for _, f := range term {
				v *= math.Pow(row[f.col], float64(f.power))
			}
			sum += v
		}
		return sum
	}
}

func containsLevel(levels []float64, v float64) bool {
	for _, l := range levels {
		if l == v {
			return true
		}
	}
	return false
}
