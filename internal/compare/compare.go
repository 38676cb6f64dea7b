// Package compare orchestrates a single comparison of two document
// renditions: it aligns the extracted texts once and feeds the same
// alignment to every presentation formatter.
package compare

import (
	"github.com/ni2-vsv11/DocTrack/internal/diff"
)

// ReasonNotExtractable is reported when one or both texts could not be
// obtained upstream. This is an expected outcome for unsupported or
// corrupt source files, not a fault.
const ReasonNotExtractable = "cannot extract text"

// Result is the transient outcome of one comparison. It is computed on
// demand from two versions' extracted text and never persisted.
type Result struct {
	CanCompare bool                 `json:"can_compare"`
	Reason     string               `json:"reason,omitempty"`
	TaggedDiff []diff.TaggedLine    `json:"text_diff,omitempty"`
	SideBySide []diff.SideBySideRow `json:"side_by_side,omitempty"`
	Unified    string               `json:"unified_diff,omitempty"`
	HTMLTable  string               `json:"html_diff,omitempty"`
	Stats      *diff.Stats          `json:"stats,omitempty"`
}

// Compare aligns two extracted texts and renders every presentation.
// A nil text signals that extraction was not possible upstream; in that
// case no alignment runs and the result is marked non-comparable. The
// call is pure: identical inputs always produce identical results.
func Compare(textA, textB *string, fromLabel, toLabel string) Result {
	if textA == nil || textB == nil {
		return Result{CanCompare: false, Reason: ReasonNotExtractable}
	}

	a := diff.SplitLines(*textA)
	b := diff.SplitLines(*textB)
	ops := diff.Align(a, b)
	stats := diff.ComputeStats(ops, a, b)

	return Result{
		CanCompare: true,
		TaggedDiff: diff.TaggedLines(ops, a, b),
		SideBySide: diff.SideBySide(ops, a, b),
		Unified:    diff.Unified(ops, a, b, fromLabel, toLabel),
		HTMLTable:  diff.HTMLTable(ops, a, b, fromLabel, toLabel),
		Stats:      &stats,
	}
}
