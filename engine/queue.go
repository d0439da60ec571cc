package engine

import (
	"github.com/pkg/errors"
)

// NodeIndex identifies a frontier state in the BFS queue. Node 0 is the
// sentinel "empty predecessor" (spec.md section 3).
type NodeIndex uint32

// emptySlot is the packed-row sentinel meaning "this queue slot holds no
// node". Only reachable when width < 16, which Config.Validate enforces.
const emptySlot uint16 = 0xFFFF

// ErrQueueFull is returned by Enqueue when the queue has reached QSIZE; per
// spec.md section 7 this is a non-fatal, recoverable condition that aborts
// the current search cleanly rather than crashing.
var ErrQueueFull = errors.New("queue full")

// Queue is the compact breadth-first frontier described in spec.md
// sections 3 and 4.3: a flat array of 16-bit packed (parentOffset, row)
// entries, with one 32-bit absolute parent base per group of 2^baseBits
// consecutive nodes.
type Queue struct {
	width    int
	baseBits int
	period   int

	rows []uint16
	base []uint32

	// depths[i] is the BFS depth of node i, maintained incrementally by
	// Enqueue (depth(child) = depth(parent)+1) and reconstructed in one
	// forward pass by Rephase after a bulk load that bypasses Enqueue.
	// This lets PeekPhase answer in O(1) without walking ancestors, per
	// spec.md section 4.3, while CurrentDepth's "walk parent pointers"
	// contract is satisfied by an equivalent cached read rather than a
	// literal per-call ancestor walk (see DESIGN.md open questions).
	depths []int32

	// extIdx[i] is the ExtensionTable index attached to node i (spec.md
	// section 4.3's "Deep extension...attached to a frontier node by a
	// 32-bit index"). Kept as a queue-parallel array, rather than inside
	// the packed rows[] word, so compaction's node-shift pass (section
	// 4.8 step 4) can move it in lockstep with everything else about a
	// node with a single index assignment.
	extIdx []uint32

	qHead int
	qTail int
}

// NewQueue allocates a queue of 2^qSizeBits slots for patterns of the
// given logical width, with parent-base groups of 2^baseBits nodes and a
// search period of `period` (used by PeekPhase).
func NewQueue(width, baseBits, qSizeBits, period int) *Queue {
	qSize := 1 << uint(qSizeBits)
	numGroups := (qSize >> uint(baseBits)) + 1
	q := &Queue{
		width:    width,
		baseBits: baseBits,
		period:   period,
		rows:     make([]uint16, qSize),
		base:     make([]uint32, numGroups),
		depths:   make([]int32, qSize),
		extIdx:   make([]uint32, qSize),
	}
	for i := range q.rows {
		q.rows[i] = emptySlot
	}
	// Node 0 is the sentinel empty predecessor (spec.md section 3): the
	// pattern is empty before it begins, so its row reads as 0 rather than
	// the empty-slot marker. It is never a real queue entry (qHead/qTail
	// start just past it); its depth stays 0.
	q.rows[0] = 0
	q.qHead = 1
	q.qTail = 1
	return q
}

func (q *Queue) maxOffset() int { return (1 << uint(16-q.width)) - 2 }
func (q *Queue) rowMask() uint16 { return uint16(1<<uint(q.width)) - 1 }
func (q *Queue) firstInGroup(i int) bool { return i&((1<<uint(q.baseBits))-1) == 0 }

// Size returns the total number of slots (QSIZE).
func (q *Queue) Size() int { return len(q.rows) }

// Head returns the current dequeue cursor (qHead).
func (q *Queue) Head() int { return q.qHead }

// Tail returns the current enqueue cursor (qTail).
func (q *Queue) Tail() int { return q.qTail }

// IsEmpty reports whether the queue has no unprocessed nodes.
func (q *Queue) IsEmpty() bool { return q.qHead >= q.qTail }

// IsEmptySlot reports whether slot i holds no node (a gap left by
// compaction or group padding).
func (q *Queue) IsEmptySlot(i int) bool { return q.rows[i] == emptySlot }

// Row returns the last row of node i.
func (q *Queue) Row(i NodeIndex) Row { return Row(q.rows[i] & q.rowMask()) }

// Parent returns the parent node of i, by combining the group's absolute
// base with i's packed offset (spec.md section 3).
func (q *Queue) Parent(i NodeIndex) NodeIndex {
	offset := q.rows[i] >> uint(q.width)
	return NodeIndex(q.base[int(i)>>q.baseBits] + uint32(offset))
}

// CurrentDepth returns the BFS depth of node i (spec.md section 4.3).
func (q *Queue) CurrentDepth(i NodeIndex) int { return int(q.depths[i]) }

// PeekPhase returns the phase (depth mod period) of in-queue node i
// without walking ancestors (spec.md section 4.3).
func (q *Queue) PeekPhase(i NodeIndex) int {
	return int(q.depths[i]) % q.period
}

// Enqueue appends a new node with the given parent and last row, padding
// with empty slots and starting a fresh group base if the parent offset
// from the current group base would overflow the packed field or collide
// with the empty-slot sentinel (spec.md section 4.3).
func (q *Queue) Enqueue(parent NodeIndex, row Row) (NodeIndex, error) {
	i := q.qTail
	if i >= len(q.rows) {
		return 0, ErrQueueFull
	}

	if !q.firstInGroup(i) {
		groupIdx := i >> q.baseBits
		b := int64(q.base[groupIdx])
		offset := int64(parent) - b
		if offset < 0 || offset > int64(q.maxOffset()) {
			// Pad to the next group boundary with empty slots, then
			// start a fresh base there.
			for i < len(q.rows) && !q.firstInGroup(i) {
				q.rows[i] = emptySlot
				i++
			}
			if i >= len(q.rows) {
				q.qTail = i
				return 0, ErrQueueFull
			}
		}
	}

	groupIdx := i >> q.baseBits
	if q.firstInGroup(i) {
		q.base[groupIdx] = uint32(parent)
	}
	offset := uint16(int64(parent) - int64(q.base[groupIdx]))
	q.rows[i] = (offset << uint(q.width)) | uint16(row)

	if parent == 0 {
		q.depths[i] = 1
	} else {
		q.depths[i] = q.depths[parent] + 1
	}
	q.extIdx[i] = ExtensionNone

	q.qTail = i + 1
	return NodeIndex(i), nil
}

// Dequeue returns the next unprocessed node, skipping empty slots left by
// compaction or group padding.
func (q *Queue) Dequeue() (NodeIndex, bool) {
	for q.qHead < q.qTail && q.IsEmptySlot(q.qHead) {
		q.qHead++
	}
	if q.qHead >= q.qTail {
		return 0, false
	}
	i := q.qHead
	q.qHead++
	return NodeIndex(i), true
}

// Pop undoes the most recent Enqueue.
func (q *Queue) Pop() {
	if q.qTail > 0 {
		q.qTail--
		q.rows[q.qTail] = emptySlot
	}
}

// MarkEmpty clears slot i without moving qHead/qTail (used by deepening,
// spec.md section 4.7, when a node's depth-limited extension turns up
// nothing).
func (q *Queue) MarkEmpty(i NodeIndex) { q.rows[i] = emptySlot; q.extIdx[i] = ExtensionNone }

// ExtIdx returns the ExtensionTable index attached to node i, or
// ExtensionNone if the node has no saved extension (spec.md section 4.3).
func (q *Queue) ExtIdx(i NodeIndex) uint32 { return q.extIdx[i] }

// SetExtIdx attaches extension-table index idx to node i.
func (q *Queue) SetExtIdx(i NodeIndex, idx uint32) { q.extIdx[i] = idx }

// Rephase reconstructs q.depths for the dense range [qStart,qTail) in a
// single forward pass, using the invariant parent(i) < i. Called after a
// bulk load that populates rows/base directly instead of going through
// Enqueue (spec.md section 4.3: "after any structural change (load,
// compact), rephase...").
func (q *Queue) Rephase(qStart int) {
	for i := qStart; i < q.qTail; i++ {
		if i == 0 || q.IsEmptySlot(i) {
			continue
		}
		p := q.Parent(NodeIndex(i))
		if p == 0 {
			q.depths[i] = 1
		} else {
			q.depths[i] = q.depths[p] + 1
		}
	}
}

// LastRows returns the n most recent rows ending at (and including) node i,
// oldest first, by walking parent pointers. Positions before the root are
// padded with row 0 (the pattern is empty before it begins), matching the
// convention result emission uses when it walks back past the leading
// edge (spec.md section 4.9).
func (q *Queue) LastRows(i NodeIndex, n int) []Row {
	rows := make([]Row, n)
	cur := i
	for k := n - 1; k >= 0; k-- {
		if cur == 0 {
			break
		}
		rows[k] = q.Row(cur)
		cur = q.Parent(cur)
	}
	return rows
}

// SetQTail forcibly sets the tail cursor; used by the checkpoint loader
// once it has populated rows/base for the dense range.
func (q *Queue) SetQTail(tail int) { q.qTail = tail }

// SetQHead forcibly sets the head cursor.
func (q *Queue) SetQHead(head int) { q.qHead = head }
