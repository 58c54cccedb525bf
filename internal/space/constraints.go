package space

import (
	"fmt"
	"strconv"
	"strings"
)

// ConstraintType tags the constraint variants.
type ConstraintType string

const (
	LinearEquality      ConstraintType = "linear-equality"
	LinearInequality    ConstraintType = "linear-inequality"
	NonlinearInequality ConstraintType = "nonlinear-inequality"
	NChooseK            ConstraintType = "nchoosek"
)

// Constraint restricts the rows of a design.
//
// Linear variants read Coefficients and RHS. NonlinearInequality is satisfied
// when Func(row) <= 0; without Func the polynomial Σ Coefficients[k]·Terms[k] - RHS
// is used. Func receives the full row in column order. NChooseK allows at most
// MaxCount of Features to be nonzero.
type Constraint struct {
	Type          ConstraintType
	Features      []string
	Coefficients  []float64
	RHS           float64
	Terms         []Monomial
	Func          func(row []float64) float64
	MinCount      int
	MaxCount      int
	NoneAlsoValid bool
}

// NewLinearEquality creates Σ coefficients·features = rhs.
func NewLinearEquality(features []string, coefficients []float64, rhs float64) Constraint {
	return Constraint{Type: LinearEquality, Features: features, Coefficients: coefficients, RHS: rhs}
}

// NewLinearInequality creates Σ coefficients·features <= rhs.
func NewLinearInequality(features []string, coefficients []float64, rhs float64) Constraint {
	return Constraint{Type: LinearInequality, Features: features, Coefficients: coefficients, RHS: rhs}
}

// NewNonlinearInequality creates fn(row) <= 0 over the listed features.
func NewNonlinearInequality(features []string, fn func(row []float64) float64) Constraint {
	return Constraint{Type: NonlinearInequality, Features: features, Func: fn}
}

// NewPolynomialInequality creates Σ coefficients[k]·terms[k] <= rhs.
func NewPolynomialInequality(terms []Monomial, coefficients []float64, rhs float64) Constraint {
	seen := map[string]bool{}
	var features []string
	for _, m := range terms {
		for _, f := range m.Factors {
			if !seen[f.Key] {
				seen[f.Key] = true
				features = append(features, f.Key)
			}
		}
	}
	return Constraint{Type: NonlinearInequality, Features: features, Terms: terms, Coefficients: coefficients, RHS: rhs}
}

// NewNChooseK creates a cardinality constraint over features.
func NewNChooseK(features []string, minCount, maxCount int, noneAlsoValid bool) Constraint {
	return Constraint{Type: NChooseK, Features: features, MinCount: minCount, MaxCount: maxCount, NoneAlsoValid: noneAlsoValid}
}

func (c Constraint) String() string {
	switch c.Type {
	case LinearEquality, LinearInequality:
		op := "<="
		if c.Type == LinearEquality {
			op = "="
		}
		parts := make([]string, len(c.Features))
		for i, f := range c.Features {
			parts[i] = strconv.FormatFloat(c.Coefficients[i], 'g', -1, 64) + "*" + f
		}
		return fmt.Sprintf("%s %s %g", strings.Join(parts, " + "), op, c.RHS)
	case NChooseK:
		return fmt.Sprintf("nchoosek(%s; max=%d)", strings.Join(c.Features, ","), c.MaxCount)
	default:
		return fmt.Sprintf("nonlinear(%s) <= 0", strings.Join(c.Features, ","))
	}
}

// Factor is one key raised to a positive integer power.
type Factor struct {
	Key   string
	Power int
}

// Monomial is a product of factors, e.g. x1:x2 or x1^2.
type Monomial struct {
	Factors []Factor
}

// String renders the monomial in the syntax ParseMonomial accepts.
func (m Monomial) String() string {
	parts := make([]string, len(m.Factors))
	for i, f := range m.Factors {
		if f.Power == 1 {
			parts[i] = f.Key
		} else {
			parts[i] = fmt.Sprintf("%s^%d", f.Key, f.Power)
		}
	}
	return strings.Join(parts, ":")
}

// Degree returns the total power.
func (m Monomial) Degree() int {
	d := 0
	for _, f := range m.Factors {
		d += f.Power
	}
	return d
}

// ParseMonomial parses "a", "a:b", "a*b", "a^2" or "a**2".
// Repeated keys are merged into a single power.
func ParseMonomial(expr string) (Monomial, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Monomial{}, fmt.Errorf("empty term")
	}
	expr = strings.ReplaceAll(expr, "**", "^")

	var m Monomial
	pos := map[string]int{}
	for _, raw := range strings.FieldsFunc(expr, func(r rune) bool { return r == ':' || r == '*' }) {
		raw = strings.TrimSpace(raw)
		key, power := raw, 1
		if i := strings.Index(raw, "^"); i >= 0 {
			key = strings.TrimSpace(raw[:i])
			p, err := strconv.Atoi(strings.TrimSpace(raw[i+1:]))
			if err != nil || p < 1 {
				return Monomial{}, fmt.Errorf("invalid power in term %q", expr)
			}
			power = p
		}
		if key == "" {
			return Monomial{}, fmt.Errorf("missing factor in term %q", expr)
		}
		if idx, ok := pos[key]; ok {
			m.Factors[idx].Power += power
			continue
		}
		pos[key] = len(m.Factors)
		m.Factors = append(m.Factors, Factor{Key: key, Power: power})
	}
	if len(m.Factors) == 0 {
		return Monomial{}, fmt.Errorf("empty term %q", expr)
	}
	return m, nil
}
