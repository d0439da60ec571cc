package engine

import (
	"github.com/lifesearch/qfind/internal/rowhash"
)

// emptyNode marks an unoccupied visited-set slot; it can never be a real
// node index since node 0 is the reserved sentinel and real node indices
// start at 1 (spec.md section 3), so reusing NodeIndex(0) here would be
// ambiguous with the sentinel — this uses the all-ones value instead.
const emptyNode NodeIndex = ^NodeIndex(0)

// VisitedSet is the open-addressed hash table of spec.md section 4.3,
// deduplicating frontier states by their last 2*Period rows. With
// HashBits=0 (spec.md CLI -h 0) it is disabled and every IsVisited check
// reports "not seen", per spec.md's documented boundary behavior.
type VisitedSet struct {
	q          *Queue
	period     int
	width      int
	asymmetric bool

	table []NodeIndex
	mask  uint64
}

// NewVisitedSet builds a visited set of 2^hashBits slots over q, whose
// nodes carry `period`-periodic history. asymmetric enables the
// horizontal-flip symmetrization spec.md section 4.3 requires for
// asymmetric searches.
func NewVisitedSet(q *Queue, period, width int, asymmetric bool, hashBits int) *VisitedSet {
	v := &VisitedSet{q: q, period: period, width: width, asymmetric: asymmetric}
	if hashBits <= 0 {
		return v
	}
	size := uint64(1) << uint(hashBits)
	v.table = make([]NodeIndex, size)
	for i := range v.table {
		v.table[i] = emptyNode
	}
	v.mask = size - 1
	return v
}

// Enabled reports whether deduplication is active (-h 0 disables it).
func (v *VisitedSet) Enabled() bool { return v.table != nil }

func mirrorRow(r Row, width int) Row {
	var out Row
	for b := 0; b < width; b++ {
		if r&(1<<uint(b)) != 0 {
			out |= 1 << uint(width-1-b)
		}
	}
	return out
}

func flipSeq(seq []Row, width int) []Row {
	out := make([]Row, len(seq))
	for i, r := range seq {
		out[i] = mirrorRow(r, width)
	}
	return out
}

// lessSeq provides a total order over row sequences, used to pick a
// canonical representative between a sequence and its horizontal mirror.
func lessSeq(a, b []Row) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// canonical returns the lexicographically smaller of seq and its mirror
// image when the search is asymmetric (so that mirror-image states
// collapse to one visited-set entry), or seq unchanged otherwise.
func (v *VisitedSet) canonical(seq []Row) []Row {
	if !v.asymmetric {
		return seq
	}
	flipped := flipSeq(seq, v.width)
	if lessSeq(flipped, seq) {
		return flipped
	}
	return seq
}

func toUint16(rows []Row) []uint16 {
	out := make([]uint16, len(rows))
	for i, r := range rows {
		out[i] = uint16(r)
	}
	return out
}

func (v *VisitedSet) hash(seq []Row) uint64 {
	return rowhash.Rows(toUint16(seq))
}

// candidateSeq returns the last 2*Period rows of the pattern formed by
// extending node `parent` with a new last row `row`.
func (v *VisitedSet) candidateSeq(parent NodeIndex, row Row) []Row {
	seq := v.q.LastRows(parent, 2*v.period-1)
	return append(seq, row)
}

// IsVisited reports whether extending `parent` with `row` reproduces the
// last 2*Period rows of some previously recorded node (spec.md section
// 4.3). It never produces a false positive (spec.md section 8 property 6):
// a hash match is always followed by a structural row comparison against
// the stored node's own ancestry.
func (v *VisitedSet) IsVisited(parent NodeIndex, row Row) bool {
	if !v.Enabled() {
		return false
	}
	seq := v.canonical(v.candidateSeq(parent, row))
	h := v.hash(seq)
	idx := h & v.mask
	for {
		stored := v.table[idx]
		if stored == emptyNode {
			return false
		}
		storedSeq := v.canonical(v.q.LastRows(stored, 2*v.period))
		if rowSeqEqual(storedSeq, seq) {
			return true
		}
		idx = (idx + 1) & v.mask
	}
}

// SetVisited records node's last 2*Period rows in the table.
func (v *VisitedSet) SetVisited(node NodeIndex) {
	if !v.Enabled() {
		return
	}
	seq := v.canonical(v.q.LastRows(node, 2*v.period))
	h := v.hash(seq)
	idx := h & v.mask
	for v.table[idx] != emptyNode {
		idx = (idx + 1) & v.mask
	}
	v.table[idx] = node
}

func rowSeqEqual(a, b []Row) bool {
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
