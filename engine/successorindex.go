package engine

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/lifesearch/qfind/internal/rowhash"
)

// successorRecord is one memoised (row1,row2) -> successor-row index entry
// (spec.md section 3/4.2). offsets has length 2^width+1; offsets[k] is the
// start, within row3s, of the (preference-ordered) list of row3 values
// whose successor is k. Both slices are ordinary heap slices; the bump
// arena holds a serialized copy of the record for content dedup.
type successorRecord struct {
	offsets []uint32
	row3s   []Row
}

func (r *successorRecord) bucket(k Row) []Row {
	return r.row3s[r.offsets[k]:r.offsets[k+1]]
}

// successorArena is a fixed-capacity bump allocator for successorRecord
// backing bytes, grounded on encoding/pam/unsafearena.go in the teacher.
// Unlike the teacher's arena (which only ever grows), this one supports
// releasing the single most recent allocation when content-addressed
// dedup finds the bytes it just produced already exist (the "unbmalloc"
// behavior named in spec.md section 9).
type successorArena struct {
	buf    []byte
	n      int
	lastN  int // start offset of the most recent allocation, for unbmalloc
}

func newSuccessorArena(capBytes int) *successorArena {
	return &successorArena{buf: make([]byte, capBytes)}
}

func (a *successorArena) alloc(size int) ([]byte, error) {
	if a.n+size > len(a.buf) {
		return nil, errors.Errorf("successor-index arena exhausted (cap=%d bytes)", len(a.buf))
	}
	a.lastN = a.n
	b := a.buf[a.n : a.n+size]
	a.n += size
	return b, nil
}

// unbmalloc releases the most recent allocation; only valid if nothing has
// been allocated since. Callers hold updateTableMu throughout, so this is
// always true when it's called.
func (a *successorArena) unbmalloc() {
	a.n = a.lastN
}

// SuccessorIndex is the memoised successor-row lookup described in spec.md
// section 4.2: a lazily-built, content-addressed table keyed by
// (row1,row2), shared read-only (after publication) across every worker.
type SuccessorIndex struct {
	eval    *rowEvaluator
	width   int
	reorder ReorderPolicy
	gcount  []uint32 // length 2^width; precomputed once at construction

	mu sync.Mutex // the "updateTable" critical section (spec.md section 9)

	published   map[uint32]*successorRecord // (row1<<width)|row2 -> record, lock-free once set via atomic-free map reads guarded below
	pubMu       sync.RWMutex                 // guards `published`; readers take RLock, the rare miss path re-enters mu
	contentHash map[uint64][]*successorRecord

	arena *successorArena
}

// NewSuccessorIndex builds the (initially empty) index and precomputes the
// row-preference statistics used by ReorderStat.
func NewSuccessorIndex(cfg *Config, eval *rowEvaluator, arenaCapBytes int) *SuccessorIndex {
	idx := &SuccessorIndex{
		eval:        eval,
		width:       cfg.Width,
		reorder:     cfg.Reorder,
		published:   make(map[uint32]*successorRecord),
		contentHash: make(map[uint64][]*successorRecord),
		arena:       newSuccessorArena(arenaCapBytes),
	}
	idx.gcount = buildGCount(cfg.Width)
	return idx
}

// buildGCount approximates the "likelihood count" statistic of spec.md
// section 4.2: a per-row estimate of how many completions a row admits,
// used only to order candidate rows within a bucket (a search-speed
// heuristic, not a correctness requirement — spec.md section 8's
// completeness property is independent of enumeration order). Sparser rows
// are scored higher, since in Life-like rules they tend to leave more
// surviving continuations; row 0 is forced to the maximum so the empty row
// (a strong candidate for ship termination) is always tried first, per
// spec.md's explicit requirement.
//
// This is a documented simplification of the original's two-stage dynamic
// program (conditioned on the leftmost two bits of each row, then
// accumulated over admissible right-edge configurations): that DP's exact
// shape is not specified in enough detail to re-derive faithfully, and
// since it only affects search order, not correctness, an honest
// approximation is preferable to a guessed reimplementation.
func buildGCount(width int) []uint32 {
	n := 1 << uint(width)
	g := make([]uint32, n)
	for r := 0; r < n; r++ {
		g[r] = uint32(width-popcount(r)) * 2
	}
	g[0] = ^uint32(0)
	return g
}

func popcount(x int) int {
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}

func pairKey(r1, r2 Row, width int) uint32 {
	return (uint32(r1) << uint(width)) | uint32(r2)
}

// Get returns the successor-index record for (row1,row2), building and
// publishing it on first access (spec.md section 4.2). Lookups of an
// already-published pair never block on `mu`.
func (idx *SuccessorIndex) Get(r1, r2 Row) (offsets []uint32, row3s []Row, err error) {
	key := pairKey(r1, r2, idx.width)

	idx.pubMu.RLock()
	rec, ok := idx.published[key]
	idx.pubMu.RUnlock()
	if ok {
		return rec.offsets, rec.row3s, nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	// Double-checked: another goroutine may have built this pair while we
	// waited for the lock.
	idx.pubMu.RLock()
	rec, ok = idx.published[key]
	idx.pubMu.RUnlock()
	if ok {
		return rec.offsets, rec.row3s, nil
	}

	rec, err = idx.build(r1, r2)
	if err != nil {
		return nil, nil, err
	}
	idx.pubMu.Lock()
	idx.published[key] = rec
	idx.pubMu.Unlock()
	return rec.offsets, rec.row3s, nil
}

// OffsetCount returns the start offset and length, within Get's row3s
// slice, of the bucket of row3 candidates whose successor is k
// (spec.md section 4.2's get_offsets_count).
func (idx *SuccessorIndex) OffsetCount(r1, r2, k Row) (offset uint32, count int, err error) {
	offsets, _, err := idx.Get(r1, r2)
	if err != nil {
		return 0, 0, err
	}
	return offsets[k], int(offsets[k+1] - offsets[k]), nil
}

// Count returns the number of row3 values that evolve (r1,r2,row3) to k
// (spec.md section 4.2's get_count).
func (idx *SuccessorIndex) Count(r1, r2, k Row) (int, error) {
	_, count, err := idx.OffsetCount(r1, r2, k)
	return count, err
}

// Bucket returns the row3 values whose successor is k, for direct
// iteration by lookahead and the BFS driver (spec.md sections 4.5/4.6).
func (idx *SuccessorIndex) Bucket(r1, r2, k Row) ([]Row, error) {
	offsets, row3s, err := idx.Get(r1, r2)
	if err != nil {
		return nil, err
	}
	return row3s[offsets[k]:offsets[k+1]], nil
}

// BucketKey returns a stable identifier for the (r1,r2,k) triple, suitable
// as one of the three "index pointers" the lookahead cache keys a line on
// (spec.md section 4.4). The original engine mixes raw successor-index
// pointers here; since two Go slices built from the same (r1,r2,k) always
// describe the same bucket, the packed triple itself is an equally
// distinguishing, GC-safe substitute that needs no unsafe pointer
// arithmetic. It never builds the record and so never fails.
func (idx *SuccessorIndex) BucketKey(r1, r2, k Row) uintptr {
	return (uintptr(r1)<<uint(idx.width)|uintptr(r2))<<uint(idx.width) | uintptr(k)
}

// build computes the successor-index record for (row1,row2) and either
// publishes a freshly-allocated arena entry or aliases an existing
// byte-identical record, releasing the new allocation (spec.md section
// 4.2 step 4). Callers must hold idx.mu.
func (idx *SuccessorIndex) build(r1, r2 Row) (*successorRecord, error) {
	n := 1 << uint(idx.width)
	succ := make([]int32, n) // succ[r3] = successor row, or -1 if forbidden
	counts := make([]uint32, n+1)
	for r3 := 0; r3 < n; r3++ {
		row4, ok := idx.eval.Evolve(r1, r2, Row(r3))
		if !ok {
			succ[r3] = -1
			continue
		}
		succ[r3] = int32(row4)
		counts[row4+1]++
	}
	for k := 0; k < n; k++ {
		counts[k+1] += counts[k]
	}
	offsets := counts // now a prefix sum, i.e. the offsets table

	total := int(offsets[n])
	order := idx.preferenceOrder(n)

	cursor := make([]uint32, n)
	copy(cursor, offsets[:n])
	row3s := make([]Row, total)
	for _, r3 := range order {
		k := succ[r3]
		if k < 0 {
			continue
		}
		row3s[cursor[k]] = Row(r3)
		cursor[k]++
	}

	size := (n+1)*4 + total*2
	buf, err := idx.arena.alloc(size)
	if err != nil {
		return nil, err
	}
	for i, off := range offsets {
		binary.LittleEndian.PutUint32(buf[i*4:], off)
	}
	rowBase := (n + 1) * 4
	for i, r3 := range row3s {
		binary.LittleEndian.PutUint16(buf[rowBase+i*2:], uint16(r3))
	}

	h := rowhash.Content(buf)
	if existing := idx.findIdentical(h, buf); existing != nil {
		idx.arena.unbmalloc()
		return existing, nil
	}

	rec := &successorRecord{
		offsets: offsets,
		row3s:   row3s,
	}
	idx.contentHash[h] = append(idx.contentHash[h], rec)
	return rec, nil
}

func (idx *SuccessorIndex) findIdentical(h uint64, buf []byte) *successorRecord {
	for _, rec := range idx.contentHash[h] {
		if recMatchesBytes(rec, buf, idx.width) {
			return rec
		}
	}
	return nil
}

func recMatchesBytes(rec *successorRecord, buf []byte, width int) bool {
	n := 1 << uint(width)
	if len(rec.offsets) != n+1 {
		return false
	}
	for i, off := range rec.offsets {
		if binary.LittleEndian.Uint32(buf[i*4:]) != off {
			return false
		}
	}
	rowBase := (n + 1) * 4
	for i, r3 := range rec.row3s {
		if binary.LittleEndian.Uint16(buf[rowBase+i*2:]) != uint16(r3) {
			return false
		}
	}
	return true
}

// preferenceOrder returns the order in which r3 values 0..n-1 are
// enumerated when filling a freshly-built record, per the configured
// ReorderPolicy (spec.md section 4.2).
func (idx *SuccessorIndex) preferenceOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	switch idx.reorder {
	case ReorderOff:
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	case ReorderPopcount:
		sort.Slice(order, func(i, j int) bool { return popcount(order[i]) < popcount(order[j]) })
	default: // ReorderStat
		g := idx.gcount
		sort.Slice(order, func(i, j int) bool { return g[order[i]] > g[order[j]] })
	}
	return order
}
