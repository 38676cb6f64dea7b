package diff

import (
	"fmt"
	"html"
	"strconv"
	"strings"
)

type LineType string

const (
	LineAdded     LineType = "added"
	LineRemoved   LineType = "removed"
	LineUnchanged LineType = "unchanged"
)

// TaggedLine is one line of the flat diff presentation.
type TaggedLine struct {
	Type    LineType `json:"type"`
	Content string   `json:"content"`
}

// TaggedLines renders the alignment as a flat line list. A replace
// emits all removed lines of the range, then all added lines, the way
// a two-pass delete-then-insert rendering would.
func TaggedLines(ops []Op, a, b []string) []TaggedLine {
	lines := make([]TaggedLine, 0, len(a)+len(b))
	for _, op := range ops {
		switch op.Kind {
		case Equal:
			for i := op.I1; i < op.I2; i++ {
				lines = append(lines, TaggedLine{Type: LineUnchanged, Content: a[i]})
			}
		case Delete:
			for i := op.I1; i < op.I2; i++ {
				lines = append(lines, TaggedLine{Type: LineRemoved, Content: a[i]})
			}
		case Insert:
			for j := op.J1; j < op.J2; j++ {
				lines = append(lines, TaggedLine{Type: LineAdded, Content: b[j]})
			}
		case Replace:
			for i := op.I1; i < op.I2; i++ {
				lines = append(lines, TaggedLine{Type: LineRemoved, Content: a[i]})
			}
			for j := op.J1; j < op.J2; j++ {
				lines = append(lines, TaggedLine{Type: LineAdded, Content: b[j]})
			}
		}
	}
	return lines
}

// Unified renders the alignment as a context-free unified diff: one
// hunk covering both sequences in full, every line shown. Returns the
// empty string when the alignment contains no changes.
func Unified(ops []Op, a, b []string, fromLabel, toLabel string) string {
	changed := false
	for _, op := range ops {
		if op.Kind != Equal {
			changed = true
			break
		}
	}
	if !changed {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n", fromLabel)
	fmt.Fprintf(&sb, "+++ %s\n", toLabel)
	fmt.Fprintf(&sb, "@@ -%s +%s @@\n", formatRangeUnified(0, len(a)), formatRangeUnified(0, len(b)))
	for _, op := range ops {
		switch op.Kind {
		case Equal:
			for i := op.I1; i < op.I2; i++ {
				sb.WriteString(" " + a[i] + "\n")
			}
		case Delete:
			for i := op.I1; i < op.I2; i++ {
				sb.WriteString("-" + a[i] + "\n")
			}
		case Insert:
			for j := op.J1; j < op.J2; j++ {
				sb.WriteString("+" + b[j] + "\n")
			}
		case Replace:
			for i := op.I1; i < op.I2; i++ {
				sb.WriteString("-" + a[i] + "\n")
			}
			for j := op.J1; j < op.J2; j++ {
				sb.WriteString("+" + b[j] + "\n")
			}
		}
	}
	return sb.String()
}

// formatRangeUnified prints a 0-based half-open range in unified hunk
// header notation: "start" for a single line, "start,length" otherwise,
// with an empty range anchored one line earlier.
func formatRangeUnified(start, stop int) string {
	beginning := start + 1
	length := stop - start
	if length == 1 {
		return strconv.Itoa(beginning)
	}
	if length == 0 {
		beginning--
	}
	return fmt.Sprintf("%d,%d", beginning, length)
}

// SideLine is one side of a side-by-side row; Number is 1-based
// relative to that side's original sequence.
type SideLine struct {
	Number  int    `json:"line"`
	Content string `json:"content"`
}

// SideBySideRow pairs up to one line of each sequence. A nil side means
// there is no line on that side of the row.
type SideBySideRow struct {
	Type  string    `json:"type"`
	Left  *SideLine `json:"left"`
	Right *SideLine `json:"right"`
}

// SideBySide renders the alignment as paired rows. Equal ranges pair
// 1:1; replace ranges pair positionally up to the longer side, leaving
// the shorter side's trailing rows empty; delete and insert ranges
// produce one-sided rows.
func SideBySide(ops []Op, a, b []string) []SideBySideRow {
	rows := make([]SideBySideRow, 0, len(a)+len(b))
	for _, op := range ops {
		switch op.Kind {
		case Equal:
			for k := 0; k < op.I2-op.I1; k++ {
				rows = append(rows, SideBySideRow{
					Type:  "equal",
					Left:  &SideLine{Number: op.I1 + k + 1, Content: a[op.I1+k]},
					Right: &SideLine{Number: op.J1 + k + 1, Content: b[op.J1+k]},
				})
			}
		case Replace:
			leftLen := op.I2 - op.I1
			rightLen := op.J2 - op.J1
			span := leftLen
			if rightLen > span {
				span = rightLen
			}
			for k := 0; k < span; k++ {
				row := SideBySideRow{Type: "change"}
				if k < leftLen {
					row.Left = &SideLine{Number: op.I1 + k + 1, Content: a[op.I1+k]}
				}
				if k < rightLen {
					row.Right = &SideLine{Number: op.J1 + k + 1, Content: b[op.J1+k]}
				}
				rows = append(rows, row)
			}
		case Delete:
			for i := op.I1; i < op.I2; i++ {
				rows = append(rows, SideBySideRow{
					Type: "delete",
					Left: &SideLine{Number: i + 1, Content: a[i]},
				})
			}
		case Insert:
			for j := op.J1; j < op.J2; j++ {
				rows = append(rows, SideBySideRow{
					Type:  "insert",
					Right: &SideLine{Number: j + 1, Content: b[j]},
				})
			}
		}
	}
	return rows
}

// HTMLTable renders the side-by-side rows as an HTML table. The markup
// is a presentation convenience; the row structure is the contract.
func HTMLTable(ops []Op, a, b []string, fromDesc, toDesc string) string {
	rows := SideBySide(ops, a, b)

	var sb strings.Builder
	sb.WriteString(`<table class="diff">` + "\n")
	fmt.Fprintf(&sb, "<thead><tr><th colspan=\"2\">%s</th><th colspan=\"2\">%s</th></tr></thead>\n",
		html.EscapeString(fromDesc), html.EscapeString(toDesc))
	sb.WriteString("<tbody>\n")
	for _, row := range rows {
		fmt.Fprintf(&sb, `<tr class="diff-%s">`, row.Type)
		writeHTMLCells(&sb, row.Left)
		writeHTMLCells(&sb, row.Right)
		sb.WriteString("</tr>\n")
	}
	sb.WriteString("</tbody>\n</table>")
	return sb.String()
}

func writeHTMLCells(sb *strings.Builder, side *SideLine) {
	if side == nil {
		sb.WriteString(`<td class="diff-num"></td><td></td>`)
		return
	}
	fmt.Fprintf(sb, `<td class="diff-num">%d</td><td>%s</td>`, side.Number, html.EscapeString(side.Content))
}
