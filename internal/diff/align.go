// Package diff aligns two line sequences and renders the alignment in
// several presentations. Alignment runs once per comparison; every
// formatter consumes the same operation list so the presentations can
// never disagree about where a change occurred.
package diff

import "strings"

type Kind string

const (
	Equal   Kind = "equal"
	Insert  Kind = "insert"
	Delete  Kind = "delete"
	Replace Kind = "replace"
)

// Op relates a half-open range of the source sequence to a half-open
// range of the target sequence. The ops of an alignment cover both
// sequences in order with no gaps or overlaps.
type Op struct {
	Kind Kind `json:"kind"`
	I1   int  `json:"i1"`
	I2   int  `json:"i2"`
	J1   int  `json:"j1"`
	J2   int  `json:"j2"`
}

// SplitLines splits document text on line boundaries. Empty text is the
// empty sequence. A trailing newline does not produce a final empty line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// Align computes the ordered operation list relating a to b using
// longest-matching-block recursion: the longest contiguous run of
// identical lines is marked equal and the regions to either side are
// aligned recursively. Ties go to the earliest start in a, then the
// earliest start in b, so identical inputs always yield an identical
// operation list. Zero-length ranges never produce an operation.
func Align(a, b []string) []Op {
	var blocks []block
	matchingBlocks(a, b, 0, len(a), 0, len(b), &blocks)
	blocks = mergeAdjacent(blocks)
	blocks = append(blocks, block{i: len(a), j: len(b)})

	ops := make([]Op, 0, 2*len(blocks))
	i, j := 0, 0
	for _, m := range blocks {
		var kind Kind
		switch {
		case i < m.i && j < m.j:
			kind = Replace
		case i < m.i:
			kind = Delete
		case j < m.j:
			kind = Insert
		}
		if kind != "" {
			ops = append(ops, Op{Kind: kind, I1: i, I2: m.i, J1: j, J2: m.j})
		}
		if m.size > 0 {
			ops = append(ops, Op{Kind: Equal, I1: m.i, I2: m.i + m.size, J1: m.j, J2: m.j + m.size})
		}
		i, j = m.i+m.size, m.j+m.size
	}
	return ops
}

type block struct {
	i, j, size int
}

func matchingBlocks(a, b []string, alo, ahi, blo, bhi int, acc *[]block) {
	i, j, size := longestMatch(a, b, alo, ahi, blo, bhi)
	if size == 0 {
		return
	}
	matchingBlocks(a, b, alo, i, blo, j, acc)
	*acc = append(*acc, block{i: i, j: j, size: size})
	matchingBlocks(a, b, i+size, ahi, j+size, bhi, acc)
}

// longestMatch finds the longest run of identical lines common to
// a[alo:ahi] and b[blo:bhi]. Only a strictly longer run displaces the
// current best, which gives the earliest-in-a, earliest-in-b tie break.
func longestMatch(a, b []string, alo, ahi, blo, bhi int) (besti, bestj, bestsize int) {
	positions := make(map[string][]int, bhi-blo)
	for j := blo; j < bhi; j++ {
		positions[b[j]] = append(positions[b[j]], j)
	}

	besti, bestj = alo, blo
	runs := make(map[int]int)
	for i := alo; i < ahi; i++ {
		next := make(map[int]int)
		for _, j := range positions[a[i]] {
			size := runs[j-1] + 1
			next[j] = size
			if size > bestsize {
				besti, bestj, bestsize = i-size+1, j-size+1, size
			}
		}
		runs = next
	}
	return besti, bestj, bestsize
}

func mergeAdjacent(blocks []block) []block {
	merged := blocks[:0]
	for _, m := range blocks {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.i+last.size == m.i && last.j+last.size == m.j {
				last.size += m.size
				continue
			}
		}
		merged = append(merged, m)
	}
	return merged
}
