// Package pattern detects winning lines on a card using 25-bit masks.
// Cell i of the card is bit i of a Mask.
package pattern

import (
	"strings"

	"github.com/jellynash/bingo/internal/card"
)

// Mask is a set of card cells.
type Mask uint32

const freeBit Mask = 1 << card.FreeIndex

// Name identifies a pattern on the wire.
type Name string

const (
	Row1        Name = "ROW_1"
	Row2        Name = "ROW_2"
	Row3        Name = "ROW_3"
	Row4        Name = "ROW_4"
	Row5        Name = "ROW_5"
	Col1        Name = "COL_1"
	Col2        Name = "COL_2"
	Col3        Name = "COL_3"
	Col4        Name = "COL_4"
	Col5        Name = "COL_5"
	Diagonal1   Name = "DIAGONAL_1"
	Diagonal2   Name = "DIAGONAL_2"
	FourCorners Name = "FOUR_CORNERS"
)

// Pattern is a named win condition.
type Pattern struct {
	Name Name
	Mask Mask
}

var standard = buildStandard()

func buildStandard() []Pattern {
	rows := []Name{Row1, Row2, Row3, Row4, Row5}
	cols := []Name{Col1, Col2, Col3, Col4, Col5}

	var out []Pattern
	for r, name := range rows {
		var m Mask
		for c := range 5 {
			m |= 1 << (r*5 + c)
		}
		out = append(out, Pattern{Name: name, Mask: m &^ freeBit})
	}
	for c, name := range cols {
		var m Mask
		for r := range 5 {
			m |= 1 << (r*5 + c)
		}
		out = append(out, Pattern{Name: name, Mask: m &^ freeBit})
	}

	var d1, d2 Mask
	for i := range 5 {
		d1 |= 1 << (i*5 + i)
		d2 |= 1 << (i*5 + (4 - i))
	}
	out = append(out,
		Pattern{Name: Diagonal1, Mask: d1 &^ freeBit},
		Pattern{Name: Diagonal2, Mask: d2 &^ freeBit},
		Pattern{Name: FourCorners, Mask: 1<<0 | 1<<4 | 1<<20 | 1<<24},
	)
	return out
}

// Standard returns the fixed pattern set in evaluation order: rows, columns,
// diagonals, four corners.
func Standard() []Pattern {
	out := make([]Pattern, len(standard))
	copy(out, standard)
	return out
}

// Lookup returns the standard pattern called name.
func Lookup(name Name) (Pattern, bool) {
	for _, p := range standard {
		if p.Name == name {
			return p, true
		}
	}
	return Pattern{}, false
}

var aliases = map[string]Name{
	"row1": Row1, "row2": Row2, "row3": Row3, "row4": Row4, "row5": Row5,
	"col1": Col1, "col2": Col2, "col3": Col3, "col4": Col4, "col5": Col5,
	"diag1": Diagonal1, "diag2": Diagonal2, "fourcorners": FourCorners,
}

// Parse accepts wire names (ROW_1) and the short forms (row1, diag1, fourCorners).
func Parse(s string) (Name, bool) {
	if _, ok := Lookup(Name(strings.ToUpper(s))); ok {
		return Name(strings.ToUpper(s)), true
	}
	if n, ok := aliases[strings.ToLower(s)]; ok {
		return n, true
	}
	return "", false
}

// MarksFromDraws computes the authoritative mark mask of a card from the set
// of drawn numbers. The free center is always marked.
func MarksFromDraws(g card.Grid, drawn map[int]bool) Mask {
	m := freeBit
	for i, v := range g {
		if i == card.FreeIndex {
			continue
		}
		if drawn[v] {
			m |= 1 << i
		}
	}
	return m
}

// Satisfied reports whether every cell of p is in mask.
func (p Pattern) Satisfied(mask Mask) bool {
	return mask&p.Mask == p.Mask
}

// ValidateClaim returns the first pattern of patterns fully contained in mask.
func ValidateClaim(mask Mask, patterns []Pattern) (Pattern, bool) {
	for _, p := range patterns {
		if p.Satisfied(mask) {
			return p, true
		}
	}
	return Pattern{}, false
}

// Eligible returns the names of every pattern satisfied by mask.
func Eligible(mask Mask, patterns []Pattern) []Name {
	var out []Name
	for _, p := range patterns {
		if p.Satisfied(mask) {
			out = append(out, p.Name)
		}
	}
	return out
}

// FromPositions builds a mask from cell indices, ignoring out of range ones.
func FromPositions(positions []int) Mask {
	var m Mask
	for _, p := range positions {
		if p >= 0 && p < card.Cells {
			m |= 1 << p
		}
	}
	return m
}

// Positions lists the cells set in m.
func (m Mask) Positions() []int {
	out := []int{}
	for i := range card.Cells {
		if m&(1<<i) != 0 {
			out = append(out, i)
		}
	}
	return out
}

// WithFree returns m with the center cell set.
func (m Mask) WithFree() Mask {
	return m | freeBit
}
