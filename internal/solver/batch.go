package solver

import (
	"context"
	"errors"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/mayflydoe/internal/design"
)

// SolveMany runs independent solves concurrently, run i seeded with
// opts.RandomSeed+i, and collects their designs in run order. The collection
// carries the problem's objective, so its champion is the best run.
//
// Runs that stop on their budget still contribute their design; in that case
// the collection is returned together with the first *ConvergenceError.
func SolveMany(ctx context.Context, prob Problem, n, runs int, opts Options) (*design.Collection, []*Result, error) {
	if runs < 1 {
		runs = 1
	}

	results := make([]*Result, runs)
	convErrs := make([]error, runs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < runs; i++ {
		runOpts := opts
		runOpts.RandomSeed = opts.RandomSeed + int64(i)
		if opts.Observer != nil {
			observer := opts.Observer
			run := i
			runOpts.Observer = func(p Progress) {
				p.Run = run
				observer(p)
			}
		}
		g.Go(func() error {
			res, err := Solve(gctx, prob, n, runOpts)
			if err != nil && !errors.Is(err, ErrConvergence) {
				return err
			}
			results[i] = res
			convErrs[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	designs := make([]design.Matrix, runs)
	for i, res := range results {
		designs[i] = res.Design
	}
	coll, err := design.NewCollection(designs, prob.Objective())
	if err != nil {
		return nil, nil, err
	}

	if idx, err := coll.ChampionIndex(); err == nil {
		slog.Info("Batch solve complete", "runs", runs, "champion", idx, "value", results[idx].Value)
	}
	for _, err := range convErrs {
		if err != nil {
			return coll, results, err
		}
	}
	return coll, results, nil
}
