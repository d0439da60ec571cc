package engine

import (
	"sync"
	"sync/atomic"

	"github.com/lifesearch/qfind/internal/phaserange"
)

// AbortKind is the four-level cancellation state of spec.md section 5/7:
// the search either runs normally, or has been stopped for a fatal
// (resource) error, a full queue, or because the ship-count target was
// reached. Every worker's DFS inner loop and the BFS driver check this
// after each unit of work.
type AbortKind int32

const (
	AbortNone AbortKind = iota
	AbortFatal
	AbortQueueFull
	AbortShipLimit
)

// AbortFlag is the process-wide cancellation signal, written with
// sequentially-consistent stores (spec.md section 5: "early-exit flags use
// sequentially consistent writes when they decide to stop work").
type AbortFlag struct {
	kind int32
}

// Raise sets the abort state. Once set to a non-None value it is never
// cleared for the lifetime of a Run.
func (a *AbortFlag) Raise(kind AbortKind) { atomic.StoreInt32(&a.kind, int32(kind)) }

// Kind returns the current abort state.
func (a *AbortFlag) Kind() AbortKind { return AbortKind(atomic.LoadInt32(&a.kind)) }

// Aborting reports whether any abort condition has fired.
func (a *AbortFlag) Aborting() bool { return a.Kind() != AbortNone }

// earlyExitState is the per-deepening-round cooperative early-exit signal
// of spec.md section 4.7 step 5: once fewer than threshold frontier slots
// remain to be probed and at least one worker has already found a
// depth-howDeep continuation, every other worker's DFS inner loop bails
// out on its next check rather than exhausting its own search space.
type earlyExitState struct {
	enabled    bool
	remaining  int64
	threshold  int64
	anySuccess int32
	triggered  int32
}

func newEarlyExitState(total int, enabled bool) *earlyExitState {
	th := int64(total) / 16
	if th < 1 {
		th = 1
	}
	return &earlyExitState{enabled: enabled, remaining: int64(total), threshold: th}
}

func (e *earlyExitState) completeOne() { atomic.AddInt64(&e.remaining, -1) }
func (e *earlyExitState) markSuccess() { atomic.StoreInt32(&e.anySuccess, 1) }

func (e *earlyExitState) shouldStop() bool {
	if !e.enabled {
		return false
	}
	if atomic.LoadInt32(&e.triggered) == 1 {
		return true
	}
	if atomic.LoadInt64(&e.remaining) < e.threshold && atomic.LoadInt32(&e.anySuccess) == 1 {
		atomic.StoreInt32(&e.triggered, 1)
		return true
	}
	return false
}

// dfScratch holds the three per-worker scratch arrays spec.md section 4.7
// names: pending rows, remaining-row counts, and (here, since Go slices
// already carry their own bounds) the retrieved successor bucket itself
// in place of a raw index pointer.
type dfScratch struct {
	rows   []Row
	remain []int
	bucket [][]Row
}

func newDFScratch(capacity int) *dfScratch {
	return &dfScratch{
		rows:   make([]Row, capacity),
		remain: make([]int, capacity),
		bucket: make([][]Row, capacity),
	}
}

func (s *dfScratch) ensure(n int) {
	if n <= len(s.rows) {
		return
	}
	rows := make([]Row, n)
	copy(rows, s.rows)
	remain := make([]int, n)
	copy(remain, s.remain)
	bucket := make([][]Row, n)
	copy(bucket, s.bucket)
	s.rows, s.remain, s.bucket = rows, remain, bucket
}

// Deepener runs the parallel, bounded depth-first "deepening" pass of
// spec.md section 4.7 over a BFS frontier: each non-empty slot gets a
// fixed-depth DFS probe using a per-worker LookaheadCache, pruning
// (marking empty) any slot with no depth-`amount` continuation and
// reusing/saving extensions so later BFS expansions of a surviving node
// don't repeat the same search.
type Deepener struct {
	cfg    *Config
	idx    *SuccessorIndex
	la     *Lookahead
	phases *phaserange.Table
	ext    *ExtensionTable
	emit   *Emitter
	causesBirth func(Row) bool

	threads   int
	cacheBits int
}

// NewDeepener builds a Deepener over the given shared, read-only search
// structures.
func NewDeepener(cfg *Config, idx *SuccessorIndex, la *Lookahead, phases *phaserange.Table, ext *ExtensionTable, emit *Emitter, causesBirth func(Row) bool) *Deepener {
	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}
	cacheBits := 0
	if cfg.CacheMB > 0 {
		// Each cache line is 16 bytes (a uint64 key + an int8 result,
		// padded); size the per-thread table to roughly CacheMB.
		entries := (cfg.CacheMB << 20) / 16
		bits := 0
		for (1 << uint(bits+1)) <= entries {
			bits++
		}
		cacheBits = bits
	}
	return &Deepener{cfg: cfg, idx: idx, la: la, phases: phases, ext: ext, emit: emit, causesBirth: causesBirth, threads: threads, cacheBits: cacheBits}
}

// DeepenResult summarizes one deepening pass, for the BFS driver's status
// reporting (spec.md section 9's "human-readable stats footer").
type DeepenResult struct {
	Probed int
	Pruned int
}

// Run deepens every non-empty node in [q.Head(), q.Tail()) by `amount`
// rows, in parallel over a work-stealing job channel (chunk size 1, per
// spec.md section 9's "Source idioms" note on the parallel loop). A node
// whose probe returns false is marked empty in place; abort stops new
// work from starting (in-flight probes still finish, per spec.md section
// 5's drain-before-report cancellation semantics).
func (d *Deepener) Run(q *Queue, amount int, abort *AbortFlag) DeepenResult {
	start, end := q.Head(), q.Tail()
	total := 0
	for i := start; i < end; i++ {
		if !q.IsEmptySlot(i) {
			total++
		}
	}
	if total == 0 {
		return DeepenResult{}
	}

	ee := newEarlyExitState(total, d.cfg.EarlyExit)
	jobs := make(chan NodeIndex, 256)
	var probed, pruned int64

	nWorkers := d.threads
	if nWorkers > total {
		nWorkers = total
	}
	var wg sync.WaitGroup
	for w := 0; w < nWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache := NewLookaheadCache(d.cacheBits)
			scratch := newDFScratch(amount + 4*d.cfg.Period + 4)
			for node := range jobs {
				if abort.Aborting() {
					ee.completeOne()
					continue
				}
				atomic.AddInt64(&probed, 1)
				ok := d.depthFirst(q, node, amount, scratch, cache, abort, ee)
				if ok {
					ee.markSuccess()
				} else {
					q.MarkEmpty(node)
					atomic.AddInt64(&pruned, 1)
				}
				ee.completeOne()
			}
		}()
	}
	for i := start; i < end; i++ {
		if !q.IsEmptySlot(i) {
			jobs <- NodeIndex(i)
		}
	}
	close(jobs)
	wg.Wait()

	return DeepenResult{Probed: int(probed), Pruned: int(pruned)}
}

// depthFirst implements spec.md section 4.7's bounded-depth probe starting
// at node, reusing a previously saved extension when one is attached and
// saving a fresh one (or the reused-and-extended one) back to node on
// success. It reports whether node admits a continuation of at least
// `howDeep` further rows.
func (d *Deepener) depthFirst(q *Queue, node NodeIndex, howDeep int, s *dfScratch, cache *LookaheadCache, abort *AbortFlag, ee *earlyExitState) bool {
	period := d.cfg.Period
	pPhase := q.PeekPhase(node)
	startRow := 2*period + pPhase + 1
	s.ensure(startRow + howDeep + 2*period + 4)

	copy(s.rows, q.LastRows(node, startRow))
	currRow := startRow
	pPhase = (pPhase + 1) % period

	if extIdx := q.ExtIdx(node); extIdx > ExtensionEmpty {
		if ext := d.ext.Get(extIdx); ext != nil {
			s.ensure(startRow + len(ext.Rows) + howDeep + 2*period + 4)
			copy(s.rows[startRow:], ext.Rows)
			currRow = startRow + len(ext.Rows)
			pPhase = (pPhase + len(ext.Rows)) % period
		}
		d.ext.Release(extIdx)
		q.SetExtIdx(node, ExtensionNone)
	}

	fetch := func(row, phase int) {
		fwd := d.phases.BackOff[phase]
		bucket, err := d.idx.Bucket(s.rows[row-2*period], s.rows[row-period], s.rows[row-period+fwd])
		if err != nil {
			s.bucket[row] = nil
			s.remain[row] = 0
			return
		}
		s.bucket[row] = bucket
		s.remain[row] = len(bucket)
	}

	if currRow > startRow+howDeep {
		return d.reachedDepth(q, node, s, startRow, currRow, howDeep, abort)
	}
	fetch(currRow, pPhase)

	for {
		if s.remain[currRow] == 0 {
			currRow--
			pPhase = (pPhase - 1 + period) % period
			if currRow < startRow {
				return false
			}
			continue
		}
		s.remain[currRow]--
		s.rows[currRow] = s.bucket[currRow][s.remain[currRow]]

		ok, err := d.la.Check(s.rows, currRow, pPhase, cache)
		if err != nil || !ok {
			continue
		}

		if abort.Aborting() {
			q.SetExtIdx(node, ExtensionEmpty)
			d.trySaveExtension(q, node, s, startRow, currRow+1, howDeep)
			return true
		}
		if ee.shouldStop() {
			q.SetExtIdx(node, ExtensionEmpty)
			d.trySaveExtension(q, node, s, startRow, currRow+1, howDeep)
			return true
		}

		currRow++
		pPhase = (pPhase + 1) % period
		if currRow > startRow+howDeep {
			return d.reachedDepth(q, node, s, startRow, currRow, howDeep, abort)
		}
		fetch(currRow, pPhase)
	}
}

// reachedDepth handles spec.md section 4.7 step 6: currRow has passed
// startRow+howDeep, so the probe has succeeded regardless of whether the
// accumulated rows form a finished ship. It saves the extension (when long
// enough to be worth reusing) and, if the trailing period rows are empty
// and none of the period rows before those would cause a birth, emits the
// completed pattern.
func (d *Deepener) reachedDepth(q *Queue, node NodeIndex, s *dfScratch, startRow, currRow, howDeep int, abort *AbortFlag) bool {
	period := d.cfg.Period
	isShip := true
	for i := 1; i <= period; i++ {
		if s.rows[currRow-i] != 0 {
			isShip = false
			break
		}
	}
	if isShip {
		base := currRow - period
		for i := 1; i <= period; i++ {
			if d.causesBirth(s.rows[base-i]) {
				isShip = false
				break
			}
		}
	}

	q.SetExtIdx(node, ExtensionEmpty)
	d.trySaveExtension(q, node, s, startRow, currRow, howDeep)

	if isShip {
		rows := append([]Row(nil), s.rows[startRow:currRow]...)
		if err := d.emit.EmitExtension(q, node, rows); err == nil {
			if d.cfg.MaxShips > 0 && d.emit.Count() >= d.cfg.MaxShips {
				abort.Raise(AbortShipLimit)
			}
		}
	}
	return true
}

// trySaveExtension allocates an extension slot and attaches it to node
// when the accumulated [startRow,currRow) run is at least MinExtension
// rows long (spec.md section 4.7 step 6); otherwise node keeps the
// "succeeded, no rows stored" marker reachedDepth/depthFirst already set.
func (d *Deepener) trySaveExtension(q *Queue, node NodeIndex, s *dfScratch, startRow, currRow, howDeep int) {
	if currRow-startRow < d.cfg.MinExtension {
		return
	}
	rows := append([]Row(nil), s.rows[startRow:currRow]...)
	slot, err := d.ext.Save(&Extension{StartRow: startRow, Rows: rows})
	if err != nil {
		return
	}
	q.SetExtIdx(node, slot)
}
