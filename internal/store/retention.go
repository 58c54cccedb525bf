package store

import (
	"sort"
	"time"
)

// SelectForDeletion applies a retention policy to infos: records created
// before now-olderThan are selected, and so are all but the keepLast newest.
// Zero disables either rule. The result is ordered oldest first.
func SelectForDeletion(infos []RecordInfo, keepLast int, olderThan time.Duration, now time.Time) []RecordInfo {
	sorted := append([]RecordInfo(nil), infos...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	selected := make(map[string]bool)
	if olderThan > 0 {
		cutoff := now.Add(-olderThan)
		for _, info := range sorted {
			if info.CreatedAt.Before(cutoff) {
				selected[info.ID] = true
			}
		}
	}
	if keepLast > 0 && len(sorted) > keepLast {
		for _, info := range sorted[:len(sorted)-keepLast] {
			selected[info.ID] = true
		}
	}

	var out []RecordInfo
	for _, info := range sorted {
		if selected[info.ID] {
			out = append(out, info)
		}
	}
	return out
}
