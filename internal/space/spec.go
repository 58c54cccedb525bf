package space

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Spec is the serializable form of a design space.
type Spec struct {
	Inputs      []InputSpec      `yaml:"inputs" json:"inputs" validate:"required,min=1,dive"`
	Constraints []ConstraintSpec `yaml:"constraints,omitempty" json:"constraints,omitempty" validate:"dive"`
}

// InputSpec describes one input. Bounds is [lower, upper] for continuous inputs.
type InputSpec struct {
	Key        string    `yaml:"key" json:"key" validate:"required"`
	Type       string    `yaml:"type" json:"type" validate:"required,oneof=continuous discrete categorical"`
	Bounds     []float64 `yaml:"bounds,omitempty" json:"bounds,omitempty" validate:"omitempty,len=2"`
	Values     []float64 `yaml:"values,omitempty" json:"values,omitempty"`
	Categories []string  `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// ConstraintSpec describes one constraint. Nonlinear constraints are given in
// polynomial form: Σ coefficients[k]·terms[k] <= rhs.
type ConstraintSpec struct {
	Type          string    `yaml:"type" json:"type" validate:"required,oneof=linear-equality linear-inequality nonlinear-inequality nchoosek"`
	Features      []string  `yaml:"features,omitempty" json:"features,omitempty"`
	Coefficients  []float64 `yaml:"coefficients,omitempty" json:"coefficients,omitempty"`
	RHS           float64   `yaml:"rhs,omitempty" json:"rhs,omitempty"`
	Terms         []string  `yaml:"terms,omitempty" json:"terms,omitempty"`
	MinCount      int       `yaml:"min_count,omitempty" json:"min_count,omitempty" validate:"gte=0"`
	MaxCount      int       `yaml:"max_count,omitempty" json:"max_count,omitempty" validate:"gte=0"`
	NoneAlsoValid bool      `yaml:"none_also_valid,omitempty" json:"none_also_valid,omitempty"`
}

// ParseSpec decodes a YAML (or JSON) design-space document.
func ParseSpec(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse design space: %w", err)
	}
	return &spec, nil
}

// Build validates sp and constructs the Space.
func (sp Spec) Build() (*Space, error) {
	if err := validate.Struct(sp); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, &ValidationError{Field: verrs[0].Namespace(), Reason: "failed " + verrs[0].Tag()}
		}
		return nil, &ValidationError{Field: "spec", Reason: err.Error()}
	}

	inputs := make([]Input, len(sp.Inputs))
	for i, is := range sp.Inputs {
		switch InputKind(is.Type) {
		case Continuous:
			if len(is.Bounds) != 2 {
				return nil, &ValidationError{Field: "inputs." + is.Key, Reason: "continuous input needs bounds [lower, upper]"}
			}
			inputs[i] = ContinuousInput(is.Key, is.Bounds[0], is.Bounds[1])
		case Discrete:
			inputs[i] = DiscreteInput(is.Key, is.Values...)
		case Categorical:
			inputs[i] = CategoricalInput(is.Key, is.Categories...)
		}
	}

	constraints := make([]Constraint, len(sp.Constraints))
	for i, cs := range sp.Constraints {
		switch ConstraintType(cs.Type) {
		case LinearEquality:
			constraints[i] = NewLinearEquality(cs.Features, cs.Coefficients, cs.RHS)
		case LinearInequality:
			constraints[i] = NewLinearInequality(cs.Features, cs.Coefficients, cs.RHS)
		case NonlinearInequality:
			terms := make([]Monomial, len(cs.Terms))
			for k, t := range cs.Terms {
				m, err := ParseMonomial(t)
				if err != nil {
					return nil, &ValidationError{Field: fmt.Sprintf("constraints[%d]", i), Reason: err.Error()}
				}
				terms[k] = m
			}
			constraints[i] = NewPolynomialInequality(terms, cs.Coefficients, cs.RHS)
		case NChooseK:
			constraints[i] = NewNChooseK(cs.Features, cs.MinCount, cs.MaxCount, cs.NoneAlsoValid)
		}
	}

	return New(inputs, constraints)
}

// ToSpec renders a Space back into its serializable form.
// Nonlinear constraints backed by a Go function cannot be serialized and are skipped.
func (s *Space) ToSpec() Spec {
	var sp Spec
	for _, in := range s.inputs {
		is := InputSpec{Key: in.Key, Type: string(in.Kind)}
		switch in.Kind {
		case Continuous:
			is.Bounds = []float64{in.Lower, in.Upper}
		case Discrete:
			is.Values = append([]float64(nil), in.Values...)
			sort.Float64s(is.Values)
		case Categorical:
			is.Categories = append([]string(nil), in.Categories...)
		}
		sp.Inputs = append(sp.Inputs, is)
	}
	for _, c := range s.constraints {
		if c.Type == NonlinearInequality && c.Func != nil {
			continue
		}
		cs := ConstraintSpec{
			Type:          string(c.Type),
			Features:      append([]string(nil), c.Features...),
			Coefficients:  append([]float64(nil), c.Coefficients...),
			RHS:           c.RHS,
			MinCount:      c.MinCount,
			MaxCount:      c.MaxCount,
			NoneAlsoValid: c.NoneAlsoValid,
		}
		if c.Type == NonlinearInequality {
			cs.Features = nil
			for _, m := range c.Terms {
				cs.Terms = append(cs.Terms, m.String())
			}
		}
		sp.Constraints = append(sp.Constraints, cs)
	}
	return sp
}
