package merge

import "sort"

// selectFallback ranks a store snapshot for the early-stage ranker: estimate
// descending with item ID ascending as the tie-break, items already escalated
// to the late-stage ranker removed, truncated to limit. The tie-break is not
// load-bearing but keeps the selection reproducible across runs.
func selectFallback(snapshot []ScoredItem, sent map[string]struct{}, limit int) []ScoredItem {
	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].Estimate == snapshot[j].Estimate {
			return snapshot[i].ItemID < snapshot[j].ItemID
		}
		return snapshot[i].Estimate > snapshot[j].Estimate
	})

	selected := make([]ScoredItem, 0, limit)
	for _, item := range snapshot {
		if len(selected) == limit {
			break
		}
		if _, ok := sent[item.ItemID]; ok {
			continue
		}
		selected = append(selected, item)
	}
	return selected
}
