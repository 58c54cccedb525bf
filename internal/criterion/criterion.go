// Package criterion scores design matrices by the information they carry
// about a model's parameters. Lower values are better for every variant.
package criterion

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/mayflydoe/internal/formula"
	"github.com/cwbudde/mayflydoe/internal/mathx"
)

// Singular is returned for designs whose information matrix is rank-deficient
// or that cannot be evaluated at all. It compares above every regular value.
const Singular = math.MaxFloat64

// DefaultEpsilon is the relative singular-value threshold below which a design
// counts as rank-deficient.
const DefaultEpsilon = 1e-10

// Kind selects the optimality criterion.
type Kind string

const (
	D Kind = "D-optimality"
	A Kind = "A-optimality"
	G Kind = "G-optimality"
	E Kind = "E-optimality"
	K Kind = "K-optimality"
)

// Kinds lists the supported criteria.
var Kinds = []Kind{D, A, G, E, K}

// ParseKind accepts "D-optimality", "d", "D" and the like.
func ParseKind(s string) (Kind, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimSuffix(name, "-OPTIMALITY")
	name = strings.TrimSuffix(name, "_OPTIMALITY")
	switch name {
	case "", "D":
		return D, nil
	case "A":
		return A, nil
	case "G":
		return G, nil
	case "E":
		return E, nil
	case "K":
		return K, nil
	}
	return "", fmt.Errorf("unknown optimality criterion %q", s)
}

// Criterion evaluates expanded model matrices. The zero value is D-optimality
// with the default epsilon and no regularization.
type Criterion struct {
	Kind    Kind
	Epsilon float64
	// Ridge adds Ridge·I to the information matrix. With Ridge > 0 the value
	// stays finite for rank-deficient designs.
	Ridge float64
}

// New returns a criterion of the given kind with default settings.
func New(kind Kind) Criterion {
	return Criterion{Kind: kind, Epsilon: DefaultEpsilon}
}

func (c Criterion) String() string {
	kind := c.Kind
	if kind == "" {
		kind = D
	}
	if c.Ridge > 0 {
		return fmt.Sprintf("%s(ridge=%g)", kind, c.Ridge)
	}
	return string(kind)
}

// WithRidge returns a copy of c regularized by delta.
func (c Criterion) WithRidge(delta float64) Criterion {
	c.Ridge = delta
	return c
}

// Evaluate scores a flattened row-major model matrix with nTerms columns.
// It never fails: malformed, non-finite or rank-deficient input yields Singular.
func (c Criterion) Evaluate(x []float64, nTerms int) float64 {
	if nTerms <= 0 || len(x) == 0 || len(x)%nTerms != 0 {
		return Singular
	}
	n := len(x) / nTerms
	ridge := c.Ridge
	if ridge < 0 || math.IsNaN(ridge) {
		return Singular
	}
	if n < nTerms && ridge == 0 {
		return Singular
	}
	if !mathx.Finite(x) {
		return Singular
	}

	var svd mat.SVD
	kind := mat.SVDNone
	if c.Kind == G {
		kind = mat.SVDThinU
	}
	if !svd.Factorize(mat.NewDense(n, nTerms, x), kind) {
		return Singular
	}
	s := svd.Values(nil)
	if len(s) == 0 || !mathx.Finite(s) {
		return Singular
	}

	eps := c.Epsilon
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	if ridge == 0 && (s[0] == 0 || s[len(s)-1] <= eps*s[0]) {
		return Singular
	}

	// eigenvalues of XᵀX + ridge·I; the p-min(n,p) missing ones equal ridge
	lambda := make([]float64, nTerms)
	for i := range lambda {
		if i < len(s) {
			lambda[i] = s[i]*s[i] + ridge
		} else {
			lambda[i] = ridge
		}
	}

	var value float64
	switch c.Kind {
	case D, "":
		for _, l := range lambda {
			value -= math.Log(l)
		}
	case A:
		for _, l := range lambda {
			value += 1 / l
		}
	case E:
		value = -minOf(lambda)
	case K:
		value = maxOf(lambda) / minOf(lambda)
	case G:
		var u mat.Dense
		svd.UTo(&u)
		for i := 0; i < n; i++ {
			var h float64
			for k := range s {
				uik := u.At(i, k)
				sk := s[k] * s[k]
				h += uik * uik * sk / (sk + ridge)
			}
			if h > value {
				value = h
			}
		}
	default:
		return Singular
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Singular
	}
	return value
}

// Objective binds a criterion to a formula and scores raw flattened designs
// (n × Dim of the formula's space).
type Objective struct {
	Criterion Criterion
	Formula   *formula.Formula
}

// Evaluate expands the raw design and scores it.
func (o Objective) Evaluate(flat []float64) float64 {
	dim := o.Formula.Space().Dim()
	if dim == 0 || len(flat)%dim != 0 {
		return Singular
	}
	x, err := o.Formula.ExpandDesign(flat, len(flat)/dim)
	if err != nil {
		return Singular
	}
	return o.Criterion.Evaluate(x, o.Formula.NTerms())
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, v := range xs[1:] {
		m = math.Min(m, v)
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, v := range xs[1:] {
		m = math.Max(m, v)
	}
	return m
}
