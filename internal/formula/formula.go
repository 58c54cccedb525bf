// Package formula turns raw design rows into model-matrix rows.
package formula

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/cwbudde/mayflydoe/internal/space"
)

// Named formulas.
const (
	Linear                = "linear"
	LinearAndQuadratic    = "linear-and-quadratic"
	LinearAndInteractions = "linear-and-interactions"
	FullyQuadratic        = "fully-quadratic"
)

// ErrInvalid matches any *Error via errors.Is.
var ErrInvalid = &Error{}

// Error reports a formula that cannot be built for a space.
type Error struct {
	Expr   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid formula %q: %s", e.Expr, e.Reason)
}

func (e *Error) Is(target error) bool {
	_, ok := target.(*Error)
	return ok
}

type part struct {
	col   int
	power int
	level int // categorical dummy level, -1 for numeric factors
}

type column struct {
	name  string
	parts []part
}

// Formula is an immutable model formula bound to a design space.
type Formula struct {
	space     *space.Space
	expr      string
	intercept bool
	terms     []space.Monomial
	columns   []column

	scaled bool
	lo, hi float64
}

// Parse builds a formula from a named formula or a custom term string such as
// "1 + a + b + a:b + a^2". The intercept is implicit and removed by "0" or "-1".
func Parse(s *space.Space, expr string) (*Formula, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = Linear
	}

	keys := s.Keys()
	var terms []space.Monomial
	intercept := true

	single := func(k string) space.Monomial {
		return space.Monomial{Factors: []space.Factor{{Key: k, Power: 1}}}
	}
	square := func(k string) space.Monomial {
		return space.Monomial{Factors: []space.Factor{{Key: k, Power: 2}}}
	}
	pairs := func() []space.Monomial {
		var out []space.Monomial
		for i := 0; i < len(keys); i++ {
			for j := i + 1; j < len(keys); j++ {
				out = append(out, space.Monomial{Factors: []space.Factor{{Key: keys[i], Power: 1}, {Key: keys[j], Power: 1}}})
			}
		}
		return out
	}
	squares := func() []space.Monomial {
		var out []space.Monomial
		for i, k := range keys {
			if s.Input(i).Kind != space.Categorical {
				out = append(out, square(k))
			}
		}
		return out
	}

	switch expr {
	case Linear, LinearAndQuadratic, LinearAndInteractions, FullyQuadratic:
		for _, k := range keys {
			terms = append(terms, single(k))
		}
		if expr == LinearAndInteractions || expr == FullyQuadratic {
			terms = append(terms, pairs()...)
		}
		if expr == LinearAndQuadratic || expr == FullyQuadratic {
			terms = append(terms, squares()...)
		}
	default:
		for _, tok := range splitTerms(expr) {
			switch tok {
			case "":
				continue
			case "1":
				intercept = true
				continue
			case "0", "-1":
				intercept = false
				continue
			}
			if strings.HasPrefix(tok, "-") {
				return nil, &Error{Expr: expr, Reason: fmt.Sprintf("cannot remove term %q", tok)}
			}
			m, err := space.ParseMonomial(tok)
			if err != nil {
				return nil, &Error{Expr: expr, Reason: err.Error()}
			}
			terms = append(terms, m)
		}
	}

	return build(s, expr, intercept, terms)
}

// splitTerms splits a custom formula at "+" and at "-" operators. A "-" is an
// operator only at the start of a term or after whitespace, so keys such as
// "x-1" stay intact.
func splitTerms(expr string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		tok := strings.TrimSpace(cur.String())
		if strings.HasPrefix(tok, "-") {
			tok = "-" + strings.TrimSpace(tok[1:])
		}
		toks = append(toks, tok)
		cur.Reset()
	}
	prev := ' '
	for _, r := range expr {
		switch {
		case r == '+':
			flush()
		case r == '-' && (unicode.IsSpace(prev) || strings.TrimSpace(cur.String()) == ""):
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
		prev = r
	}
	flush()
	return toks
}

func build(s *space.Space, expr string, intercept bool, terms []space.Monomial) (*Formula, error) {
	f := &Formula{space: s, expr: expr, intercept: intercept}
	if intercept {
		f.columns = append(f.columns, column{name: "1"})
	}

	seen := map[string]bool{}
	for _, m := range terms {
		key := canonical(m)
		if seen[key] {
			continue
		}
		seen[key] = true

		// each factor contributes one or more alternatives; the term's
		// columns are their cartesian product
		expansions := [][]part{{}}
		names := [][]string{{}}
		for _, fac := range m.Factors {
			col, ok := s.Index(fac.Key)
			if !ok {
				return nil, &Error{Expr: expr, Reason: fmt.Sprintf("unknown input %q", fac.Key)}
			}
			in := s.Input(col)

			var alts []part
			var altNames []string
			if in.Kind == space.Categorical {
				if fac.Power != 1 {
					return nil, &Error{Expr: expr, Reason: fmt.Sprintf("categorical input %q cannot be raised to a power", fac.Key)}
				}
				for l := 1; l < len(in.Categories); l++ {
					alts = append(alts, part{col: col, power: 1, level: l})
					altNames = append(altNames, fmt.Sprintf("%s[%s]", in.Key, in.Categories[l]))
				}
			} else {
				alts = append(alts, part{col: col, power: fac.Power, level: -1})
				name := in.Key
				if fac.Power != 1 {
					name = fmt.Sprintf("%s^%d", in.Key, fac.Power)
				}
				altNames = append(altNames, name)
			}

			var next [][]part
			var nextNames [][]string
			for i, prefix := range expansions {
				for a, alt := range alts {
					next = append(next, append(append([]part(nil), prefix...), alt))
					nextNames = append(nextNames, append(append([]string(nil), names[i]...), altNames[a]))
				}
			}
			expansions, names = next, nextNames
		}

		for i, parts := range expansions {
			f.columns = append(f.columns, column{name: strings.Join(names[i], ":"), parts: parts})
		}
		f.terms = append(f.terms, m)
	}

	if len(f.columns) == 0 {
		return nil, &Error{Expr: expr, Reason: "formula has no terms"}
	}
	return f, nil
}

func canonical(m space.Monomial) string {
	parts := make([]string, len(m.Factors))
	for i, f := range m.Factors {
		parts[i] = fmt.Sprintf("%s^%d", f.Key, f.Power)
	}
	sort.Strings(parts)
	return strings.Join(parts, ":")
}

// WithTransform returns a copy of f that min-max scales numeric inputs from
// their bounds to [lo, hi] before expansion.
func (f *Formula) WithTransform(lo, hi float64) (*Formula, error) {
	if math.IsNaN(lo) || math.IsNaN(hi) || lo >= hi {
		return nil, &Error{Expr: f.expr, Reason: fmt.Sprintf("invalid transform range (%g, %g)", lo, hi)}
	}
	out := *f
	out.scaled = true
	out.lo, out.hi = lo, hi
	return &out, nil
}

// Space returns the design space the formula is bound to.
func (f *Formula) Space() *space.Space { return f.space }

// NTerms returns the number of model-matrix columns.
func (f *Formula) NTerms() int { return len(f.columns) }

// Names returns the model-matrix column names.
func (f *Formula) Names() []string {
	out := make([]string, len(f.columns))
	for i, c := range f.columns {
		out[i] = c.name
	}
	return out
}

// HasIntercept reports whether the formula carries a constant column.
func (f *Formula) HasIntercept() bool { return f.intercept }

func (f *Formula) String() string {
	var parts []string
	if !f.intercept {
		parts = append(parts, "0")
	} else {
		parts = append(parts, "1")
	}
	for _, m := range f.terms {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, " + ")
}

func (f *Formula) value(row []float64, p part) float64 {
	v := row[p.col]
	if p.level >= 0 {
		if int(math.Round(v)) == p.level {
			return 1
		}
		return 0
	}
	if f.scaled {
		lo, hi := f.space.Input(p.col).Bounds()
		if hi > lo {
			v = f.lo + (v-lo)/(hi-lo)*(f.hi-f.lo)
		} else {
			v = (f.lo + f.hi) / 2
		}
	}
	switch p.power {
	case 1:
		return v
	case 2:
		return v * v
	default:
		return math.Pow(v, float64(p.power))
	}
}

// Expand writes the model-matrix row of a raw design row into dst, growing it
// as needed, and returns it.
func (f *Formula) Expand(row, dst []float64) []float64 {
	if cap(dst) < len(f.columns) {
		dst = make([]float64, len(f.columns))
	}
	dst = dst[:len(f.columns)]
	for i, c := range f.columns {
		v := 1.0
		for _, p := range c.parts {
			v *= f.value(row, p)
		}
		dst[i] = v
	}
	return dst
}

// ExpandDesign expands a flattened n×Dim design into a flattened n×NTerms model matrix.
func (f *Formula) ExpandDesign(flat []float64, n int) ([]float64, error) {
	dim := f.space.Dim()
	if n < 0 || len(flat) != n*dim {
		return nil, fmt.Errorf("design has %d values, want %d×%d", len(flat), n, dim)
	}
	p := len(f.columns)
	out := make([]float64, n*p)
	for i := 0; i < n; i++ {
		f.Expand(flat[i*dim:(i+1)*dim], out[i*p:(i+1)*p])
	}
	return out, nil
}
