// Package strategy exposes design generation as ask/tell over labeled tables.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cwbudde/mayflydoe/internal/criterion"
	"github.com/cwbudde/mayflydoe/internal/design"
	"github.com/cwbudde/mayflydoe/internal/formula"
	"github.com/cwbudde/mayflydoe/internal/solver"
	"github.com/cwbudde/mayflydoe/internal/space"
)

// Proposal is the answer to Ask.
type Proposal struct {
	// Candidates are the new experiments, labeled.
	Candidates Table `json:"candidates"`
	// Design is the champion design including previously told experiments.
	Design    design.Matrix    `json:"-"`
	Value     float64          `json:"value"`
	Champion  int              `json:"champion"`
	Values    []float64        `json:"values"`
	Summary   design.Summary   `json:"summary"`
	Converged bool             `json:"converged"`
	Results   []*solver.Result `json:"-"`
}

// Strategy proposes experiments for one problem and remembers the ones told
// back to it. It is safe for concurrent use.
type Strategy struct {
	cfg     Config
	problem solver.Problem

	mu   sync.Mutex
	told [][]float64
}

// New builds the space, formula and criterion described by cfg.
func New(cfg Config) (*Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sp, err := cfg.Space.Build()
	if err != nil {
		return nil, err
	}
	// keep the normalized form so saved records reproduce the built space
	cfg.Space = sp.ToSpec()

	f, err := formula.Parse(sp, cfg.Formula)
	if err != nil {
		return nil, err
	}
	if cfg.Transform == MinMax {
		lo, hi := -1.0, 1.0
		if len(cfg.TransformRange) == 2 {
			lo, hi = cfg.TransformRange[0], cfg.TransformRange[1]
		}
		if f, err = f.WithTransform(lo, hi); err != nil {
			return nil, err
		}
	}

	kind, err := criterion.ParseKind(cfg.Criterion)
	if err != nil {
		return nil, &space.ValidationError{Field: "criterion", Reason: err.Error()}
	}
	crit := criterion.New(kind)
	if cfg.Options.Epsilon > 0 {
		crit.Epsilon = cfg.Options.Epsilon
	}

	if cfg.Runs < 1 {
		cfg.Runs = 1
	}
	return &Strategy{
		cfg:     cfg,
		problem: solver.Problem{Space: sp, Formula: f, Criterion: crit},
	}, nil
}

// Config returns the configuration the strategy was built from, with the
// design space in normalized form.
func (s *Strategy) Config() Config { return s.cfg }

// Problem returns the solver problem.
func (s *Strategy) Problem() solver.Problem { return s.problem }

// Ask proposes n new experiments. Previously told experiments are kept in the
// design and only the new rows are returned as candidates.
func (s *Strategy) Ask(ctx context.Context, n int) (*Proposal, error) {
	return s.AskWith(ctx, n, s.cfg.Options)
}

// AskWith is Ask with explicit solver options. Fixed rows in opts are replaced
// by the told experiments.
func (s *Strategy) AskWith(ctx context.Context, n int, opts solver.Options) (*Proposal, error) {
	s.mu.Lock()
	opts.Fixed = copyRows(s.told)
	s.mu.Unlock()

	coll, results, err := solver.SolveMany(ctx, s.problem, n, s.cfg.Runs, opts)
	converged := true
	if err != nil {
		if !errors.Is(err, solver.ErrConvergence) {
			return nil, err
		}
		slog.Warn("Design solver stopped before converging", "error", err)
		converged = false
	}

	idx, err := coll.ChampionIndex()
	if err != nil {
		return nil, err
	}
	values, err := coll.Evaluate()
	if err != nil {
		return nil, err
	}
	summary, err := coll.Summary()
	if err != nil {
		return nil, err
	}

	champ := results[idx]
	return &Proposal{
		Candidates: s.label(champ.NewRows()),
		Design:     champ.Design,
		Value:      values[idx],
		Champion:   idx,
		Values:     values,
		Summary:    summary,
		Converged:  converged,
		Results:    results,
	}, nil
}

// Tell records executed experiments. Columns are matched by key; every row
// must satisfy the constraints of the space.
func (s *Strategy) Tell(t Table) error {
	rows, err := s.Encode(t)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.told = append(s.told, rows...)
	s.mu.Unlock()
	slog.Debug("Recorded experiments", "rows", len(rows))
	return nil
}

// Experiments returns the told experiments as a table.
func (s *Strategy) Experiments() Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label(s.told)
}

// Reset forgets the told experiments.
func (s *Strategy) Reset() {
	s.mu.Lock()
	s.told = nil
	s.mu.Unlock()
}

// Encode converts a labeled table into design rows in column order.
func (s *Strategy) Encode(t Table) ([][]float64, error) {
	sp := s.problem.Space
	if len(t.Keys) != sp.Dim() {
		return nil, &space.ValidationError{Field: "table.keys", Reason: fmt.Sprintf("has %d columns, space has %d inputs", len(t.Keys), sp.Dim())}
	}
	cols := make([]int, len(t.Keys))
	seen := make(map[int]bool, len(t.Keys))
	for i, key := range t.Keys {
		j, ok := sp.Index(key)
		if !ok || seen[j] {
			return nil, &space.ValidationError{Field: "table.keys", Reason: fmt.Sprintf("unknown or repeated key %q", key)}
		}
		seen[j] = true
		cols[i] = j
	}

	out := make([][]float64, len(t.Rows))
	for r, values := range t.Rows {
		if len(values) != len(cols) {
			return nil, &space.ValidationError{Field: fmt.Sprintf("table.rows[%d]", r), Reason: "wrong number of values"}
		}
		row := make([]float64, sp.Dim())
		for i, v := range values {
			enc, err := sp.Input(cols[i]).Encode(v)
			if err != nil {
				return nil, &space.ValidationError{Field: fmt.Sprintf("table.rows[%d]", r), Reason: err.Error()}
			}
			row[cols[i]] = enc
		}
		if err := sp.CheckRow(row, space.FeasibilityTol); err != nil {
			return nil, &space.ValidationError{Field: fmt.Sprintf("table.rows[%d]", r), Reason: err.Error()}
		}
		out[r] = row
	}
	return out, nil
}

func (s *Strategy) label(rows [][]float64) Table {
	sp := s.problem.Space
	t := Table{Keys: sp.Keys(), Rows: make([][]any, len(rows))}
	for r, row := range rows {
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = sp.Input(j).Label(v)
		}
		t.Rows[r] = values
	}
	return t
}

func copyRows(rows [][]float64) [][]float64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}
