package solver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cwbudde/mayflydoe/internal/space"
)

// regionSet builds and caches the feasible region of every cardinality pattern.
type regionSet struct {
	space *space.Space

	mu    sync.Mutex
	cache map[string]*space.Region
	errs  map[string]error
}

func newRegionSet(s *space.Space) *regionSet {
	return &regionSet{
		space: s,
		cache: make(map[string]*space.Region),
		errs:  make(map[string]error),
	}
}

func (rs *regionSet) get(p space.Pattern) (*space.Region, error) {
	key := fmt.Sprint(p.Zero)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if r, ok := rs.cache[key]; ok {
		return r, nil
	}
	if err, ok := rs.errs[key]; ok {
		return nil, err
	}
	r, err := space.NewRegion(rs.space, p.Zero)
	if err != nil {
		rs.errs[key] = err
		return nil, err
	}
	rs.cache[key] = r
	return r, nil
}

// admissible returns the patterns whose region is non-empty, with their regions.
// It fails with an *InfeasibleRegionError when none is.
func (rs *regionSet) admissible() ([]space.Pattern, []*space.Region, error) {
	var patterns []space.Pattern
	var regions []*space.Region
	var lastErr error
	for _, p := range rs.space.Patterns() {
		r, err := rs.get(p)
		if err != nil {
			if !errors.Is(err, space.ErrInfeasible) {
				return nil, nil, fmt.Errorf("failed to build region: %w", err)
			}
			lastErr = err
			continue
		}
		patterns = append(patterns, p)
		regions = append(regions, r)
	}
	if len(regions) == 0 {
		return nil, nil, &InfeasibleRegionError{Err: lastErr}
	}
	return patterns, regions, nil
}
