package engine

import (
	"github.com/lifesearch/qfind/internal/rowhash"
)

// cacheMiss is the all-ones key every line starts with; a freshly
// allocated line never matches a real (p1,p2,p3,abn) tuple because keyOf
// never returns this value (spec.md section 4.4: "a simple mixing hash").
const cacheMiss = ^uint64(0)

type cacheLine struct {
	key    uint64
	result int8 // 0 or 1; meaningless while key == cacheMiss
}

// LookaheadCache is a thread-local, direct-mapped cache of lookahead
// results, addressed by a hash of the three innermost successor-index
// pointers plus an auxiliary integer (spec.md section 4.4). It carries no
// lock: spec.md section 5 assigns one instance per worker goroutine.
type LookaheadCache struct {
	lines []cacheLine
	mask  uint64
}

// NewLookaheadCache allocates a cache with 2^bits entries. bits <= 0
// disables the cache (every lookup is reported as a miss).
func NewLookaheadCache(bits int) *LookaheadCache {
	c := &LookaheadCache{}
	if bits <= 0 {
		return c
	}
	size := uint64(1) << uint(bits)
	c.lines = make([]cacheLine, size)
	for i := range c.lines {
		c.lines[i].key = cacheMiss
	}
	c.mask = size - 1
	return c
}

// Enabled reports whether this cache holds any entries.
func (c *LookaheadCache) Enabled() bool { return len(c.lines) != 0 }

func keyOf(p1, p2, p3 uintptr, abn int32) uint64 {
	k := rowhash.CacheKey(p1, p2, p3, abn)
	if k == cacheMiss {
		k--
	}
	return k
}

// GetKey looks up the line for (p1,p2,p3,abn). If present, it reports the
// cached 0/1 result and ok=true. Otherwise it reports the slot index the
// caller should later pass to SetKey, and ok=false. Mirrors the original's
// "negative sentinel vs. positive slot index" contract (spec.md section
// 4.4) with an explicit boolean instead of a signed-sentinel return.
func (c *LookaheadCache) GetKey(p1, p2, p3 uintptr, abn int32) (result int, slot uint64, ok bool) {
	if !c.Enabled() {
		return 0, 0, false
	}
	key := keyOf(p1, p2, p3, abn)
	idx := key & c.mask
	line := &c.lines[idx]
	if line.key == key {
		return int(line.result), idx, true
	}
	return 0, idx, false
}

// SetKey stores result at the slot returned by a prior GetKey miss,
// re-deriving the tag from the same tuple so an intervening lookup from
// another call site cannot corrupt the line's key/value pairing.
func (c *LookaheadCache) SetKey(p1, p2, p3 uintptr, abn int32, slot uint64, result int) {
	if !c.Enabled() {
		return
	}
	c.lines[slot] = cacheLine{key: keyOf(p1, p2, p3, abn), result: int8(result)}
}
