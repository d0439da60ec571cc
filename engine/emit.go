package engine

import (
	"bytes"
	"math/bits"
	"sync"

	"github.com/pkg/errors"

	"github.com/lifesearch/qfind/internal/phaserange"
	"github.com/lifesearch/qfind/internal/rle"
)

// Emitter reconstructs a finished pattern from a frontier node (plus an
// optional deepening extension), reflects it per the configured symmetry,
// trims it to its bounding box, deduplicates it against the previously
// emitted pattern, and serializes it as Golly RLE (spec.md section 4.9).
// One Emitter is shared by the whole search; its mutex serializes the
// BFS driver and the parallel deepening workers, which all emit through it.
type Emitter struct {
	width    int
	period   int
	symmetry Symmetry
	ruleStr  string

	fullPeriod bool
	equiv      *phaserange.EquivTable

	causesBirth func(Row) bool

	mu       sync.Mutex
	out      bytes.Buffer
	prevRows []uint32
	found    int
}

// NewEmitter builds the single shared result-emission module for a search.
// causesBirth reports, for a given row, whether evolving it against two
// all-dead neighbor rows produces a live cell (used by Terminal).
func NewEmitter(cfg *Config, causesBirth func(Row) bool) *Emitter {
	e := &Emitter{
		width:       cfg.Width,
		period:      cfg.Period,
		symmetry:    cfg.Symmetry,
		ruleStr:     cfg.Rule.String(),
		fullPeriod:  cfg.FullPeriod,
		causesBirth: causesBirth,
	}
	if cfg.FullPeriod {
		e.equiv = phaserange.EquivRanges(cfg.Period, cfg.Offset)
	}
	return e
}

// Bytes returns everything emitted so far, in Golly RLE format, one pattern
// after another.
func (e *Emitter) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.out.Bytes()...)
}

// Count returns the number of distinct patterns emitted so far.
func (e *Emitter) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.found
}

// Terminal reports whether node is a finished ship: its last Period rows
// are all empty, and none of the Period rows before those would, on its
// own, cause a birth against an otherwise-empty neighborhood (spec.md
// section 4.6/8; ported from the original engine's terminal()).
func (e *Emitter) Terminal(q *Queue, node NodeIndex) bool {
	n := node
	for p := 0; p < e.period; p++ {
		if q.Row(n) != 0 {
			return false
		}
		n = q.Parent(n)
	}
	for p := 0; p < e.period; p++ {
		if e.causesBirth(q.Row(n)) {
			return false
		}
		n = q.Parent(n)
	}
	return true
}

// Emit reconstructs the pattern ending at node (a node for which Terminal
// has just become true), applies the configured symmetry and trimming, and
// appends its RLE serialization unless it is an exact duplicate of the
// previously emitted pattern or (with FullPeriod set) a subperiodic repeat
// of a shorter, already-representable ship (spec.md sections 4.9, 6).
func (e *Emitter) Emit(q *Queue, node NodeIndex) error {
	return e.emit(q, node, nil)
}

// EmitExtension is Emit's counterpart for a node whose ship was only
// completed by a deepening extension (spec.md section 4.7 step 6): rows is
// the extension's accumulated row sequence, oldest first, continuing on
// from node's own last row.
func (e *Emitter) EmitExtension(q *Queue, node NodeIndex, rows []Row) error {
	return e.emit(q, node, rows)
}

func (e *Emitter) emit(q *Queue, node NodeIndex, extRows []Row) error {
	period := e.period

	// Walk back to the first nonzero row (skipping the trailing empty run
	// a terminal node carries), then period-1 rows further, to land on
	// the leading edge of the ship (spec.md section 4.9 step 1).
	var b NodeIndex
	extIdx := len(extRows) - 1
	for {
		var r Row
		if extIdx >= 0 {
			r = extRows[extIdx]
		} else {
			r = q.Row(node)
		}
		if r != 0 {
			break
		}
		if extIdx >= 0 {
			extIdx--
			continue
		}
		if node == 0 {
			return errors.New("emit: no nonzero row found walking back from a terminal node")
		}
		node = q.Parent(node)
	}
	b = node
	remainingExt := extIdx
	for p := 0; p < period-1; p++ {
		if remainingExt >= 0 {
			remainingExt--
			continue
		}
		if b == 0 {
			return errors.New("emit: walked past the search root while locating the leading edge")
		}
		b = q.Parent(b)
	}

	// Count rows, one per period, back to the root.
	nrows := 0
	if remainingExt >= 0 {
		nrows += remainingExt/period + 1
	}
	for c := b; c != 0; nrows++ {
		for p := 0; p < period; p++ {
			c = q.Parent(c)
		}
	}

	// Collect the logical rows, oldest (nearest the root) first.
	vals := make([]Row, nrows)
	cur := b
	curExt := remainingExt
	for i := nrows - 1; i >= 0; i-- {
		if curExt >= 0 {
			vals[i] = extRows[curExt]
			curExt -= period
			continue
		}
		vals[i] = q.Row(cur)
		for p := 0; p < period; p++ {
			cur = q.Parent(cur)
		}
	}

	phys := make([]uint32, len(vals))
	for i, v := range vals {
		phys[i] = reflectRow(v, e.width, e.symmetry)
	}

	// Trim leading/trailing all-empty rows.
	start, end := 0, len(phys)
	for start < end && phys[start] == 0 {
		start++
	}
	for end > start && phys[end-1] == 0 {
		end--
	}
	phys = phys[start:end]
	if len(phys) == 0 {
		return nil
	}

	if e.fullPeriod && e.isSubperiodic(phys) {
		return nil
	}

	// Left-align: shift every row right until some row has its lowest bit
	// set (spec.md section 4.9 step 4).
	for {
		aligned := false
		for _, r := range phys {
			if r&1 != 0 {
				aligned = true
				break
			}
		}
		if aligned {
			break
		}
		allZero := true
		for i, r := range phys {
			phys[i] = r >> 1
			if phys[i] != 0 {
				allZero = false
			}
		}
		if allZero {
			break
		}
	}

	width := 0
	for _, r := range phys {
		if n := bits.Len32(r); n > width {
			width = n
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if rowsEqualUint32(phys, e.prevRows) {
		return nil
	}
	e.prevRows = append([]uint32(nil), phys...)
	e.found++

	buf := rle.New()
	buf.Header(width, len(phys), e.ruleStr)
	for i := len(phys) - 1; i >= 0; i-- {
		buf.PutRow(phys[i], 0)
	}
	e.out.Write(buf.Finish())
	e.out.WriteByte('\n')
	return nil
}

// isSubperiodic reports whether phys, read as a sequence of rows one per
// period, actually repeats with a shorter period dividing the nominal
// period (spec.md section 4.9's ship-acceptance rule). This is a
// documented simplification of the original's undocumented subperiodic()
// routine (not present in the retrieved original source): it checks the
// same structural property the phase-equivalence partition names --
// positions Step apart, for Step the nominal period divided by the
// smallest prime factor of gcd(Period,Offset), must carry identical rows
// -- directly against the reconstructed row list, rather than against the
// queue's phase tables during the search itself.
func (e *Emitter) isSubperiodic(phys []uint32) bool {
	if e.equiv == nil {
		return false
	}
	step := e.equiv.Step
	if step <= 0 || step >= len(phys) {
		return false
	}
	for i := 0; i+step < len(phys); i++ {
		if phys[i] != phys[i+step] {
			return false
		}
	}
	return true
}

// Partial serializes the rows leading up to an arbitrary frontier node,
// one per period, oldest first — a diagnostic rendering of a pattern that
// is not (or not yet known to be) a finished ship, printed when a search
// ends with nothing found (spec.md section 8 scenario 2's "Longest partial
// result"). Unlike emit, it does not assume node's depth aligns to a
// multiple of period from the root: it walks one BFS level at a time,
// checking for the root after every single step, rather than jumping
// period rows at a time and risking a read through node 0's sentinel slot.
func (e *Emitter) Partial(q *Queue, node NodeIndex) []byte {
	if node == 0 {
		return nil
	}
	period := e.period

	var vals []Row
	cur := node
	for cur != 0 {
		vals = append(vals, q.Row(cur))
		for p := 0; p < period && cur != 0; p++ {
			cur = q.Parent(cur)
		}
	}
	for i, j := 0, len(vals)-1; i < j; i, j = i+1, j-1 {
		vals[i], vals[j] = vals[j], vals[i]
	}

	phys := make([]uint32, len(vals))
	for i, v := range vals {
		phys[i] = reflectRow(v, e.width, e.symmetry)
	}

	start, end := 0, len(phys)
	for start < end && phys[start] == 0 {
		start++
	}
	for end > start && phys[end-1] == 0 {
		end--
	}
	phys = phys[start:end]
	if len(phys) == 0 {
		return nil
	}

	width := 0
	for _, r := range phys {
		if n := bits.Len32(r); n > width {
			width = n
		}
	}

	buf := rle.New()
	buf.Header(width, len(phys), e.ruleStr)
	for i := len(phys) - 1; i >= 0; i-- {
		buf.PutRow(phys[i], 0)
	}
	return buf.Finish()
}

func rowsEqualUint32(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// reflectRow maps a Row's `width` logical bits into the physical row the
// configured symmetry produces (spec.md section 3 and 4.9 step 3), ported
// from the original success()'s per-mode switch. Asymmetric patterns are
// unchanged; odd/even/gutter mirror the logical half, with a shared axis
// bit (odd), no shared bit (even), or an empty column at the axis
// (gutter). Vertical skew for gutter searches is not modeled: spec.md
// section 6's CLI surface has no flag exposing it, and the rest of this
// port (engine/row.go) likewise only ever constructs its row evaluator
// with skew=0.
func reflectRow(r Row, width int, sym Symmetry) uint32 {
	switch sym {
	case Odd:
		out := uint32(r) << uint(width-1)
		for j := 1; j < width; j++ {
			if r&(1<<uint(j)) != 0 {
				out |= 1 << uint(width-1-j)
			}
		}
		return out
	case Even:
		out := uint32(r) << uint(width)
		for j := 0; j < width; j++ {
			if r&(1<<uint(j)) != 0 {
				out |= 1 << uint(width-1-j)
			}
		}
		return out
	case Gutter:
		out := uint32(r) << uint(width+1)
		for j := 0; j < width; j++ {
			if r&(1<<uint(j)) != 0 {
				out |= 1 << uint(width-1-j)
			}
		}
		return out
	default: // Asymmetric
		return uint32(r)
	}
}
