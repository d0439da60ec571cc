// Package phaserange builds the per-phase offset tables the engine uses to
// address "the row of generation G, P back, already shifted into phase p"
// without a division on the hot lookahead path, plus the row-equivalence
// ranges subperiod suppression tests against. Grounded on the teacher's own
// interval bookkeeping package (interval/bedunion.go) for the
// range/partition shape.
package phaserange

import (
	"github.com/biogo/store/interval"
)

// Table holds FwdOff, BackOff, DoubleOff and TripleOff, indexed by phase
// 0..Period-1 (spec.md section 4.5). Starting at phase 0 and chasing
// forward around the phase cycle, BackOff[i] is the smallest step j >=
// Offset from phase i to a phase not yet assigned (the last phase reached
// steps back to phase 0); FwdOff[i+BackOff[i]] is that same step, indexed
// by the phase it lands on. DoubleOff and TripleOff compose FwdOff with
// itself once and twice respectively, offset through the phase each
// composition lands on.
type Table struct {
	Period int
	Offset int

	FwdOff    []int
	BackOff   []int
	DoubleOff []int
	TripleOff []int
}

// Build constructs the phase tables for a spaceship of period Period moving
// Offset cells per period.
func Build(period, offset int) *Table {
	t := &Table{
		Period:    period,
		Offset:    offset,
		FwdOff:    make([]int, period),
		BackOff:   make([]int, period),
		DoubleOff: make([]int, period),
		TripleOff: make([]int, period),
	}
	for i := range t.BackOff {
		t.BackOff[i] = -1
	}

	i := 0
	for {
		j := offset
		for t.BackOff[(i+j)%period] >= 0 && j < period {
			j++
		}
		if j == period {
			t.BackOff[i] = period - i
			break
		}
		t.BackOff[i] = j
		i = (i + j) % period
	}

	for i := 0; i < period; i++ {
		t.FwdOff[(i+t.BackOff[i])%period] = t.BackOff[i]
	}
	for i := 0; i < period; i++ {
		j := i - t.FwdOff[i]
		if j < 0 {
			j += period
		}
		t.DoubleOff[i] = t.FwdOff[i] + t.FwdOff[j]
	}
	for i := 0; i < period; i++ {
		j := i - t.FwdOff[i]
		if j < 0 {
			j += period
		}
		t.TripleOff[i] = t.FwdOff[i] + t.DoubleOff[j]
	}
	return t
}

// equivInterval implements interval.IntInterface over one repetition block
// of a candidate subperiod: all positions in [start,end) are at the same
// phase of the candidate period, so each is compared against its
// counterpart `step` positions away in the next block.
type equivInterval struct {
	start, end int
	uid        uintptr
}

func (e equivInterval) Overlap(b interval.IntRange) bool { return e.start < b.End && b.Start < e.end }
func (e equivInterval) ID() uintptr                      { return e.uid }
func (e equivInterval) Range() interval.IntRange {
	return interval.IntRange{Start: e.start, End: e.end}
}
func (e equivInterval) String() string { return "equivRow" }

// EquivTable is the partition of one period's row positions into
// subperiod-repetition blocks, built from the smallest prime divisor of
// gcd(period, offset) (spec.md section 4.9's "equivRow tables"): positions
// `Step` apart must carry identical rows for the ship to actually have
// period `Step` rather than the nominal `period`.
type EquivTable struct {
	tree *interval.IntTree
	Step int
}

// EquivRanges builds the block partition for a period/offset pair, or
// returns nil when gcd(period, offset) == 1, since no proper subperiod can
// exist and the caller should skip the check entirely.
func EquivRanges(period, offset int) *EquivTable {
	g := gcd(period, offset)
	if g <= 1 {
		return nil
	}
	p := smallestPrimeFactor(g)
	step := period / p

	tree := &interval.IntTree{}
	for start, uid := 0, uintptr(0); start < period; start, uid = start+step, uid+1 {
		end := start + step
		if end > period {
			end = period
		}
		if err := tree.Insert(equivInterval{start: start, end: end, uid: uid}, false); err != nil {
			// The ranges constructed above are contiguous and
			// non-overlapping by construction; Insert can only fail here
			// on a logic error in this function.
			panic(err)
		}
	}
	tree.AdjustRanges()
	return &EquivTable{tree: tree, Step: step}
}

// BlockOf returns the repetition-block index position pos falls in, for
// diagnostics; positions in different blocks at the same EquivClass are
// the ones compared for subperiod suppression.
func (et *EquivTable) BlockOf(pos int) (uintptr, bool) {
	hits := et.tree.Get(interval.IntRange{Start: pos, End: pos + 1})
	if len(hits) == 0 {
		return 0, false
	}
	return hits[0].ID(), true
}

// EquivClass returns the canonical offset-within-block that position pos
// (0-indexed within one period) belongs to: two positions sharing a class
// must carry identical rows for the shorter period to hold. A nil table
// (gcd(period,offset) == 1) means every position is its own class.
func EquivClass(et *EquivTable, pos int) int {
	if et == nil {
		return pos
	}
	return pos % et.Step
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func smallestPrimeFactor(n int) int {
	for p := 2; p*p <= n; p++ {
		if n%p == 0 {
			return p
		}
	}
	return n
}
