package space

import (
	"fmt"
	"math"
)

func (s *Space) validate() error {
	if len(s.inputs) == 0 {
		return &ValidationError{Field: "inputs", Reason: "must not be empty"}
	}

	for _, in := range s.inputs {
		field := "inputs." + in.Key
		if in.Key == "" {
			return &ValidationError{Field: "inputs", Reason: "key must not be empty"}
		}
		switch in.Kind {
		case Continuous:
			if math.IsNaN(in.Lower) || math.IsNaN(in.Upper) || math.IsInf(in.Lower, 0) || math.IsInf(in.Upper, 0) {
				return &ValidationError{Field: field, Reason: "bounds must be finite"}
			}
			if in.Lower > in.Upper {
				return &ValidationError{Field: field, Reason: fmt.Sprintf("lower bound %g exceeds upper bound %g", in.Lower, in.Upper)}
			}
		case Discrete:
			if len(in.Values) == 0 {
				return &ValidationError{Field: field, Reason: "values must not be empty"}
			}
			for i, v := range in.Values {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return &ValidationError{Field: field, Reason: "values must be finite"}
				}
				if i > 0 && v <= in.Values[i-1] {
					return &ValidationError{Field: field, Reason: "values must be unique and sorted"}
				}
			}
		case Categorical:
			if len(in.Categories) == 0 {
				return &ValidationError{Field: field, Reason: "categories must not be empty"}
			}
			seen := map[string]bool{}
			for _, c := range in.Categories {
				if seen[c] {
					return &ValidationError{Field: field, Reason: fmt.Sprintf("duplicate category %q", c)}
				}
				seen[c] = true
			}
		default:
			return &ValidationError{Field: field, Reason: fmt.Sprintf("unknown kind %q", in.Kind)}
		}
	}

	for i, c := range s.constraints {
		if err := s.validateConstraint(i, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Space) validateConstraint(i int, c Constraint) error {
	field := fmt.Sprintf("constraints[%d]", i)
	if len(c.Features) == 0 {
		return &ValidationError{Field: field, Reason: "features must not be empty"}
	}
	for _, f := range c.Features {
		if _, ok := s.index[f]; !ok {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("references unknown input %q", f)}
		}
	}

	switch c.Type {
	case LinearEquality, LinearInequality:
		if len(c.Coefficients) != len(c.Features) {
			return &ValidationError{Field: field, Reason: "coefficients and features differ in length"}
		}
		if err := s.requireContinuous(field, c.Features); err != nil {
			return err
		}
	case NonlinearInequality:
		if c.Func == nil {
			if len(c.Terms) == 0 {
				return &ValidationError{Field: field, Reason: "needs a function or polynomial terms"}
			}
			if len(c.Coefficients) != len(c.Terms) {
				return &ValidationError{Field: field, Reason: "coefficients and terms differ in length"}
			}
			for _, m := range c.Terms {
				for _, f := range m.Factors {
					if _, ok := s.index[f.Key]; !ok {
						return &ValidationError{Field: field, Reason: fmt.Sprintf("term references unknown input %q", f.Key)}
					}
				}
			}
		}
	case NChooseK:
		if err := s.requireContinuous(field, c.Features); err != nil {
			return err
		}
		if c.MaxCount < 0 || c.MinCount < 0 || c.MinCount > c.MaxCount {
			return &ValidationError{Field: field, Reason: "requires 0 <= min_count <= max_count"}
		}
		if c.MaxCount > len(c.Features) {
			return &ValidationError{Field: field, Reason: "max_count exceeds number of features"}
		}
		for _, f := range c.Features {
			in := s.inputs[s.index[f]]
			if in.Lower > 0 || in.Upper < 0 {
				return &ValidationError{Field: field, Reason: fmt.Sprintf("input %q cannot be zero", f)}
			}
		}
	default:
		return &ValidationError{Field: field, Reason: fmt.Sprintf("unknown type %q", c.Type)}
	}
	return nil
}

func (s *Space) requireContinuous(field string, features []string) error {
	for _, f := range features {
		if s.inputs[s.index[f]].Kind != Continuous {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("input %q must be continuous", f)}
		}
	}
	return nil
}
