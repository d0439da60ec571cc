package engine

import (
	"github.com/lifesearch/qfind/rule"
)

// Row is a bit vector of up to 14 bits: one horizontal slice of the
// logical half of a pattern (spec.md section 3).
type Row uint16

// rowEvaluator wraps the parsed rule table together with the derived
// NTTable2 and the width/symmetry parameters needed to apply it to a row
// triple. It is immutable once built and shared (read-only) by every
// goroutine touching the engine.
type rowEvaluator struct {
	width    int
	symmetry Symmetry
	boundary BoundarySymmetry
	skew     int // gutter vertical skew; 0 for non-gutter symmetries

	nt *rule.NTTable2
}

func newRowEvaluator(cfg *Config, skew int) *rowEvaluator {
	return &rowEvaluator{
		width:    cfg.Width,
		symmetry: cfg.Symmetry,
		boundary: cfg.Boundary,
		skew:     skew,
		nt:       rule.BuildNTTable2(cfg.Rule),
	}
}

// rowMask returns the width-bit mask of valid row bits.
func (e *rowEvaluator) rowMask() int { return (1 << uint(e.width)) - 1 }

// CausesBirth reports whether row, evolved as the leading edge against two
// otherwise-empty neighbor rows, produces a live cell (spec.md section
// 4.6/4.9's terminal-node test: a row this close to the frontier can still
// "give birth" into the supposedly-finished trailing empty run). A
// forbidden/boundary-rejected evolution also counts as "causes birth": the
// original's C truthiness treats evolveRow's -1 (forbidden) the same as a
// live result, since either way the trailing run cannot be treated as a
// quiet, already-finished zero run.
func (e *rowEvaluator) CausesBirth(row Row) bool {
	row4, ok := e.Evolve(row, 0, 0)
	return !ok || row4 != 0
}

// evolveBit evaluates the neighborhood at the lowest 3 bits of each column
// via NTTable2, returning -1 (forbidden), 0, or 1.
func (e *rowEvaluator) evolveBit(row1, row2, row3 int) int {
	return int(e.nt.EvolveBit(row1, row2, row3))
}

func (e *rowEvaluator) evolveBitShift(row1, row2, row3, bshift int) int {
	return int(e.nt.EvolveBitShift(row1, row2, row3, bshift))
}

// Evolve computes the successor of the middle row of (r1,r2,r3), applying
// the configured left (symmetry) and right (boundary) edge rules
// (spec.md section 4.1). ok is false if any boundary/gutter/forbidden
// check rejects the triple.
func (e *rowEvaluator) Evolve(r1, r2, r3 Row) (row4 Row, ok bool) {
	width := e.width
	row1, row2, row3 := int(r1), int(r2), int(r3)

	if e.boundary == BoundaryGutter && e.skew == 0 {
		bit := (row1 >> uint(width-1)) + ((row2 >> uint(width-1)) << 1) + ((row3 >> uint(width-1)) << 2)
		if e.evolveBit(bit, 0, bit) != 0 {
			return 0, false
		}
	}
	if e.symmetry == Gutter && e.skew == 0 {
		bit := (row1 & 1) + ((row2 & 1) << 1) + ((row3 & 1) << 2)
		if e.evolveBit(bit, 0, bit) != 0 {
			return 0, false
		}
	}

	s := 0
	if e.symmetry == Odd {
		s = 1
	}
	t := 0
	if e.boundary == BoundaryOdd {
		t = 1
	}

	if e.boundary == Undefined {
		if e.evolveBitShift(row1, row2, row3, width-1) != 0 {
			return 0, false
		}
	}
	if e.symmetry == Asymmetric {
		if e.evolveBit(row1<<2, row2<<2, row3<<2) != 0 {
			return 0, false
		}
	}

	var row1s, row2s, row3s int
	if e.symmetry == Odd || e.symmetry == Even {
		row1s = (row1 << 1) + ((row1 >> uint(s)) & 1)
		row2s = (row2 << 1) + ((row2 >> uint(s)) & 1)
		row3s = (row3 << 1) + ((row3 >> uint(s)) & 1)
	} else {
		row1s = row1 << 1
		row2s = row2 << 1
		row3s = row3 << 1
	}

	if e.boundary == BoundaryOdd || e.boundary == BoundaryEven {
		row1 += ((row1 >> uint(width-1-t)) & 1) << uint(width)
		row2 += ((row2 >> uint(width-1-t)) & 1) << uint(width)
		row3 += ((row3 >> uint(width-1-t)) & 1) << uint(width)
	}

	bit0 := e.evolveBit(row1s, row2s, row3s)
	if bit0 < 0 {
		return 0, false
	}
	result := bit0
	for j := 1; j < width; j++ {
		bit := e.evolveBitShift(row1, row2, row3, j-1)
		if bit < 0 {
			return 0, false
		}
		result += bit << uint(j)
	}
	return Row(result & e.rowMask()), true
}
