package space

import (
	"fmt"
	"sort"
	"strings"
)

// Pattern is one admissible assignment of the cardinality constraints: the
// continuous columns listed in Zero are held at exactly zero.
type Pattern struct {
	Zero []int
}

func (p Pattern) key() string {
	parts := make([]string, len(p.Zero))
	for i, z := range p.Zero {
		parts[i] = fmt.Sprint(z)
	}
	return strings.Join(parts, ",")
}

// Patterns enumerates the admissible cardinality patterns of the space. Each
// NChooseK constraint contributes one pattern per subset of MaxCount active
// features; patterns of different constraints are combined by union of their
// inactive sets. Without NChooseK constraints a single empty pattern is returned.
func (s *Space) Patterns() []Pattern {
	patterns := []Pattern{{}}
	for _, c := range s.constraints {
		if c.Type != NChooseK || c.MaxCount >= len(c.Features) {
			continue
		}
		cols := make([]int, len(c.Features))
		for i, f := range c.Features {
			cols[i] = s.index[f]
		}

		var local [][]int
		for _, active := range combinations(len(cols), c.MaxCount) {
			isActive := make(map[int]bool, len(active))
			for _, a := range active {
				isActive[a] = true
			}
			var zero []int
			for i, col := range cols {
				if !isActive[i] {
					zero = append(zero, col)
				}
			}
			local = append(local, zero)
		}

		var next []Pattern
		seen := map[string]bool{}
		for _, p := range patterns {
			for _, z := range local {
				merged := mergeSorted(p.Zero, z)
				np := Pattern{Zero: merged}
				if k := np.key(); !seen[k] {
					seen[k] = true
					next = append(next, np)
				}
			}
		}
		patterns = next
	}
	return patterns
}

func mergeSorted(a, b []int) []int {
	set := make(map[int]bool, len(a)+len(b))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		set[v] = true
	}
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// combinations returns all k-subsets of {0..n-1} in lexicographic order.
func combinations(n, k int) [][]int {
	if k < 0 || k > n {
		return nil
	}
	var out [][]int
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		out = append(out, append([]int(nil), idx...))
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			return out
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}
