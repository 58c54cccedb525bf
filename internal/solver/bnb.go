package solver

import (
	"hash/fnv"
	"log/slog"
	"math/rand"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/mayflydoe/internal/space"
)

// node assigns patterns to the first len(assign) new rows; the remaining rows
// are solved on the relaxed region. Pattern indices never decrease along
// assign, since rows are interchangeable.
type node struct {
	assign []int
	warm   []float64
}

type bnbSearch struct {
	run     *run
	relaxed *space.Region
	nodes   atomic.Int64
	halted  atomic.Bool
}

// branchAndBound explores pattern assignments depth-first. The bound of a node
// is the value of its relaxed sub-solve; nodes whose bound does not beat the
// incumbent are pruned.
func (r *run) branchAndBound() error {
	relaxed, err := space.NewRegion(r.space.WithoutNChooseK(), nil)
	if err != nil {
		return &InfeasibleRegionError{Err: err}
	}
	b := &bnbSearch{run: r, relaxed: relaxed}

	// incumbent from a random assignment
	s := r.newSearch(r.rng, r.randomRegions(r.rng))
	s.randomize()
	r.polish(s, "incumbent", 0)
	r.offer(s)

	root, ok := b.expand(node{})
	if !ok {
		return nil
	}

	if r.opts.Workers <= 1 {
		b.explore(root)
	} else {
		var g errgroup.Group
		g.SetLimit(r.opts.Workers)
		for _, child := range root {
			g.Go(func() error {
				b.explore([]node{child})
				return nil
			})
		}
		_ = g.Wait()
	}

	r.mu.Lock()
	r.nodes = int(b.nodes.Load())
	r.mu.Unlock()
	slog.Debug("Branch-and-bound complete", "nodes", b.nodes.Load(), "best", r.bestValue())
	return nil
}

// explore runs depth-first search over a local stack.
func (b *bnbSearch) explore(stack []node) {
	for len(stack) > 0 {
		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		children, ok := b.expand(nd)
		if !ok {
			return
		}
		stack = append(stack, children...)
	}
}

// expand solves a node and returns its children, pushed so that the lowest
// pattern index is explored first. It returns false when the search must stop.
func (b *bnbSearch) expand(nd node) ([]node, bool) {
	r := b.run
	if b.halted.Load() {
		return nil, false
	}
	if int(b.nodes.Add(1)) > r.opts.MaxNodes {
		b.stop(StopNodes)
		return nil, false
	}
	if reason := r.budget.exceeded(); reason != "" {
		b.stop(reason)
		return nil, false
	}

	s := b.solve(nd)
	depth := len(nd.assign)

	if depth == r.n {
		if r.offer(s) {
			slog.Debug("New incumbent", "assign", nd.assign, "value", s.value)
		}
		return nil, true
	}
	if s.value >= r.bestValue() {
		slog.Debug("Pruned node", "depth", depth, "bound", s.value)
		return nil, true
	}

	first := 0
	if depth > 0 {
		first = nd.assign[depth-1]
	}
	var children []node
	for p := len(r.patterns) - 1; p >= first; p-- {
		assign := append(append([]int(nil), nd.assign...), p)
		children = append(children, node{assign: assign, warm: s.x})
	}
	return children, true
}

func (b *bnbSearch) stop(reason string) {
	if b.halted.CompareAndSwap(false, true) {
		b.run.halt(reason)
	}
}

// solve runs the sub-problem of a node, warm-started from its parent.
func (b *bnbSearch) solve(nd node) *search {
	r := b.run
	rng := rand.New(rand.NewSource(r.opts.RandomSeed ^ nodeSeed(nd.assign)))

	regions := make([]*space.Region, r.n)
	for i := range regions {
		if i < len(nd.assign) {
			regions[i] = r.patRegions[nd.assign[i]]
		} else {
			regions[i] = b.relaxed
		}
	}
	s := r.newSearch(rng, regions)

	if nd.warm == nil {
		s.randomize()
	} else {
		copy(s.x, nd.warm)
		for i := s.fixed; i < s.rows; i++ {
			if !s.regions[i].Contains(s.row(i), space.FeasibilityTol) && !s.regions[i].Project(s.row(i)) {
				s.randomizeRow(i)
			}
		}
		s.refresh()
	}

	r.polish(s, "node", len(nd.assign))
	return s
}

func nodeSeed(assign []int) int64 {
	h := fnv.New64a()
	for _, a := range assign {
		h.Write([]byte{byte(a), byte(a >> 8), byte(a >> 16), byte(a >> 24), ','})
	}
	return int64(h.Sum64())
}
