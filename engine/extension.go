package engine

import (
	"sync"

	"github.com/pkg/errors"
)

// Extension is a deep-first-search continuation discovered for a frontier
// node during the deepening pass: a run of rows beyond the node's own last
// row, optionally itself still missing a terminal completion (spec.md
// section 4.7). Rows[0] is the row immediately following the owning node's
// last row.
type Extension struct {
	StartRow int // row index, in the owning node's coordinate space, of Rows[0]
	Rows     []Row
}

// ExtensionNone and ExtensionEmpty mirror the original's reserved low
// extension indices: 0 means "no extension attempted", 1 means "the
// deepening probe succeeded but no rows were stored". Real extensions
// start at 2.
const (
	ExtensionNone  uint32 = 0
	ExtensionEmpty uint32 = 1
	extensionBase  uint32 = 2
)

// ExtensionTable is the Go analogue of the original's deepRows/
// deepRowIndices slot table: a process-wide array of deep-search
// continuations, indexed by a small integer so that a compact Queue entry
// can reference one without holding a pointer (spec.md section 4.7).
// Allocation is guarded by a single mutex, the direct translation of the
// original's "findDeepIndex" omp critical section.
type ExtensionTable struct {
	mu    sync.Mutex
	slots []*Extension
	limit uint32
}

// NewExtensionTable builds a table with room for up to 2^(depthLimit+1)
// slots, matching the original's deepRows sizing.
func NewExtensionTable(depthLimit int) *ExtensionTable {
	limit := uint32(1) << uint(depthLimit+1)
	return &ExtensionTable{
		slots: make([]*Extension, limit),
		limit: limit,
	}
}

// Save finds the first free slot at or above extensionBase, stores ext
// there under the table's mutex, and returns its index. It returns an
// error if no slot is free, mirroring the original's
// "no available extension indices" abort path.
func (t *ExtensionTable) Save(ext *Extension) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := extensionBase; i < t.limit; i++ {
		if t.slots[i] == nil {
			t.slots[i] = ext
			return i, nil
		}
	}
	return 0, errors.New("extension table exhausted: no available extension indices")
}

// Get returns the extension stored at idx, or nil for ExtensionNone,
// ExtensionEmpty or a free slot. It panics on an out-of-range index.
func (t *ExtensionTable) Get(idx uint32) *Extension {
	if idx == ExtensionNone {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[idx]
}

// Release frees the slot at idx so a later Save can reuse it. Callers must
// ensure nothing still references idx (the compaction pass releases an
// extension only when it does not carry that index into the rebuilt
// queue).
func (t *ExtensionTable) Release(idx uint32) {
	if idx < extensionBase {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[idx] = nil
}

// MatchesAncestor reports whether ext's rows agree with ownerRows, the
// owning node's trailing window of already-fixed rows, over their overlap.
// An extension with no rows still pending verification against its
// ancestor must agree on every row the ancestor has since fixed further up
// the search, or it can no longer be attached to this node (spec.md
// section 8 property 7).
func MatchesAncestor(ext *Extension, ownerRows []Row) bool {
	if ext == nil {
		return true
	}
	for i, r := range ext.Rows {
		pos := ext.StartRow + i
		if pos < 0 || pos >= len(ownerRows) {
			continue
		}
		if ownerRows[pos] != 0 && ownerRows[pos] != r {
			return false
		}
	}
	return true
}
