package engine

import (
	"github.com/lifesearch/qfind/internal/phaserange"
)

// Lookahead implements the three-generation feasibility probe of spec.md
// section 4.5. It is shared read-only across every worker; each worker
// supplies its own LookaheadCache (or nil to disable caching).
type Lookahead struct {
	idx    *SuccessorIndex
	phases *phaserange.Table
	period int
	width  int
}

// NewLookahead builds a Lookahead over the given successor index and
// phase tables for a search of the given period and row width.
func NewLookahead(idx *SuccessorIndex, phases *phaserange.Table, period, width int) *Lookahead {
	return &Lookahead{idx: idx, phases: phases, period: period, width: width}
}

// Check reports whether appending rows[a] (chosen for generational phase
// phase) still admits a completion of the pattern over the next three
// generations. rows must hold valid entries from at least index
// a-period-phases.TripleOff[phase] through a. cache may be nil to disable
// memoization for this call.
//
// This mirrors the original lookAhead's enumeration order and its
// specialization for tripleOff[phase] >= period, under which the third
// "vertical" strand is already pinned by the chosen row sequence and
// needs no successor-index enumeration (spec.md section 4.5).
func (la *Lookahead) Check(rows []Row, a, phase int, cache *LookaheadCache) (bool, error) {
	p := la.period
	fwd := la.phases.FwdOff[phase]
	double := la.phases.DoubleOff[phase]
	triple := la.phases.TripleOff[phase]

	r1a, r1b, r1k := rows[a-p-fwd], rows[a-fwd], rows[a]
	bucket11, err := la.idx.Bucket(r1a, r1b, r1k)
	if err != nil {
		return false, err
	}
	if len(bucket11) == 0 {
		return false, nil
	}

	r2a, r2b, r2k := rows[a-p-double], rows[a-double], rows[a-fwd]
	bucket12, err := la.idx.Bucket(r2a, r2b, r2k)
	if err != nil {
		return false, err
	}

	var bucket13 []Row
	var p3 uintptr
	if triple >= p {
		// One of the three vertical strands is already determined by the
		// chosen row sequence; treat it as a pre-enumerated bucket of one.
		row13 := rows[a+p-triple]
		bucket13 = []Row{row13}
		// The bit above BucketKey's 3*width-bit range keeps a pinned row
		// from sharing a key with any enumerated bucket.
		p3 = uintptr(1)<<uint(3*la.width) | uintptr(row13)
	} else {
		r3a, r3b, r3k := rows[a-p-triple], rows[a-triple], rows[a-double]
		bucket13, err = la.idx.Bucket(r3a, r3b, r3k)
		if err != nil {
			return false, err
		}
		p3 = la.idx.BucketKey(r3a, r3b, r3k)
	}

	p1 := la.idx.BucketKey(r1a, r1b, r1k)
	p2 := la.idx.BucketKey(r2a, r2b, r2k)
	abn := (int32(rows[a-double]) << uint(la.width)) | int32(rows[a-triple])

	var slot uint64
	memoize := false
	if cache != nil {
		result, s, ok := cache.GetKey(p1, p2, p3, abn)
		if ok {
			return result != 0, nil
		}
		slot = s
		memoize = true
	}

	for _, row11 := range bucket11 {
		for _, row12 := range bucket12 {
			bucket22, err := la.idx.Bucket(rows[a-double], row12, row11)
			if err != nil {
				return false, err
			}
			if len(bucket22) == 0 {
				continue
			}
			for _, row13 := range bucket13 {
				bucket23, err := la.idx.Bucket(rows[a-triple], row13, row12)
				if err != nil {
					return false, err
				}
				if len(bucket23) == 0 {
					continue
				}
				for _, row23 := range bucket23 {
					for _, row22 := range bucket22 {
						count, err := la.idx.Count(row13, row23, row22)
						if err != nil {
							return false, err
						}
						if count > 0 {
							if memoize {
								cache.SetKey(p1, p2, p3, abn, slot, 1)
							}
							return true, nil
						}
					}
				}
			}
		}
	}
	if memoize {
		cache.SetKey(p1, p2, p3, abn, slot, 0)
	}
	return false, nil
}
