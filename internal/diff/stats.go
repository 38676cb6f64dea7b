package diff

import "math"

// Stats summarizes an alignment. LinesChanged counts each replace as
// max(removed, added) — a 3-line block replaced by 5 lines counts as 5
// changed lines, not 8. Callers depend on that convention; do not
// "correct" it to removed+added.
type Stats struct {
	LinesAdded        int     `json:"lines_added"`
	LinesRemoved      int     `json:"lines_removed"`
	LinesChanged      int     `json:"lines_changed"`
	SimilarityPercent float64 `json:"similarity_percent"`
	TotalLinesA       int     `json:"total_lines_a"`
	TotalLinesB       int     `json:"total_lines_b"`
}

// ComputeStats derives diff statistics from an alignment. Similarity is
// 2*matched/(lenA+lenB)*100 rounded to one decimal place; two empty
// sequences are defined as 100.0 similar.
func ComputeStats(ops []Op, a, b []string) Stats {
	stats := Stats{TotalLinesA: len(a), TotalLinesB: len(b)}

	matched := 0
	for _, op := range ops {
		switch op.Kind {
		case Equal:
			matched += op.I2 - op.I1
		case Insert:
			stats.LinesAdded += op.J2 - op.J1
		case Delete:
			stats.LinesRemoved += op.I2 - op.I1
		case Replace:
			removed := op.I2 - op.I1
			added := op.J2 - op.J1
			if added > removed {
				stats.LinesChanged += added
			} else {
				stats.LinesChanged += removed
			}
		}
	}

	total := len(a) + len(b)
	if total == 0 {
		stats.SimilarityPercent = 100.0
		return stats
	}
	ratio := 2 * float64(matched) / float64(total) * 100
	stats.SimilarityPercent = math.Round(ratio*10) / 10
	return stats
}
