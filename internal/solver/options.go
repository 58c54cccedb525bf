package solver

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cwbudde/mayflydoe/internal/space"
)

var validate = validator.New()

// Strategy selects how the solver searches the design space.
type Strategy string

const (
	// Default uses branch-and-bound when cardinality constraints exist and
	// multi-start exchange otherwise.
	Default Strategy = "default"
	// Relaxed drops cardinality constraints and runs a global Mayfly stage
	// before exchange polishing.
	Relaxed Strategy = "relaxed"
	// Exhaustive solves every multiset of admissible row patterns.
	Exhaustive Strategy = "exhaustive"
	// BranchAndBound assigns row patterns in a pruned search tree.
	BranchAndBound Strategy = "branch-and-bound"
	// PartiallyRandom re-randomizes a fraction of rows between exchange runs.
	PartiallyRandom Strategy = "partially-random"
	// Iterative builds the design greedily, one row at a time.
	Iterative Strategy = "iterative"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{Default, Relaxed, Exhaustive, BranchAndBound, PartiallyRandom, Iterative}

// Progress is reported to Options.Observer as the search advances.
type Progress struct {
	Strategy  Strategy      `json:"strategy"`
	Run       int           `json:"run"`
	Phase     string        `json:"phase"`
	Restart   int           `json:"restart"`
	Iteration int           `json:"iteration"`
	Value     float64       `json:"value"`
	Best      float64       `json:"best"`
	Nodes     int           `json:"nodes,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Options configures a solve.
type Options struct {
	Strategy          Strategy `json:"optimization_strategy" yaml:"optimization_strategy" mapstructure:"optimization_strategy" validate:"omitempty,oneof=default relaxed exhaustive branch-and-bound partially-random iterative"`
	MaxIterations     int      `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations" validate:"gte=1"`
	MaxSeconds        float64  `json:"max_seconds" yaml:"max_seconds" mapstructure:"max_seconds" validate:"gte=0"`
	RandomSeed        int64    `json:"random_seed" yaml:"random_seed" mapstructure:"random_seed"`
	NRestarts         int      `json:"n_restarts" yaml:"n_restarts" mapstructure:"n_restarts" validate:"gte=1"`
	RelativeTolerance float64  `json:"relative_tolerance" yaml:"relative_tolerance" mapstructure:"relative_tolerance" validate:"gt=0"`

	GridSize         int     `json:"grid_size" yaml:"grid_size" mapstructure:"grid_size" validate:"gte=3"`
	RefineSteps      int     `json:"refine_steps" yaml:"refine_steps" mapstructure:"refine_steps" validate:"gte=0"`
	RandomFraction   float64 `json:"random_fraction" yaml:"random_fraction" mapstructure:"random_fraction" validate:"gt=0,lte=1"`
	GlobalIterations int     `json:"global_iterations" yaml:"global_iterations" mapstructure:"global_iterations" validate:"gte=0"`
	GlobalPopulation int     `json:"global_population" yaml:"global_population" mapstructure:"global_population" validate:"gte=1"`
	MaxNodes         int     `json:"max_nodes" yaml:"max_nodes" mapstructure:"max_nodes" validate:"gte=1"`
	Workers          int     `json:"workers" yaml:"workers" mapstructure:"workers" validate:"gte=1"`
	Epsilon          float64 `json:"epsilon" yaml:"epsilon" mapstructure:"epsilon" validate:"gte=0"`

	// Fixed rows are kept verbatim at the top of the design and only new
	// rows are optimized.
	Fixed [][]float64 `json:"-" yaml:"-" mapstructure:"-"`

	// Observer receives progress updates. It must be safe for concurrent use
	// when Workers > 1 or when used with SolveMany.
	Observer func(Progress) `json:"-" yaml:"-" mapstructure:"-"`
}

// DefaultOptions returns the default solver configuration.
func DefaultOptions() Options {
	return Options{
		Strategy:          Default,
		MaxIterations:     100,
		MaxSeconds:        0,
		RandomSeed:        0,
		NRestarts:         3,
		RelativeTolerance: 1e-4,
		GridSize:          21,
		RefineSteps:       8,
		RandomFraction:    0.3,
		GlobalIterations:  25,
		GlobalPopulation:  20,
		MaxNodes:          10000,
		Workers:           1,
	}
}

// Validate checks the options and returns a *space.ValidationError.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &space.ValidationError{Field: "options." + verrs[0].Field(), Reason: "failed " + verrs[0].Tag() + " " + verrs[0].Param()}
		}
		return &space.ValidationError{Field: "options", Reason: err.Error()}
	}
	return nil
}
