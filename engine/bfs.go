package engine

import (
	"github.com/lifesearch/qfind/internal/phaserange"
)

// Stats accumulates search progress counters reported by the CLI's
// periodic status line (spec.md section 4.6/7).
type Stats struct {
	NodesExpanded int64
	NodesQueued   int64
	NodesPruned   int64
	ShipsFound    int64
}

// TerminalChecker lets Processor hand off ship-completion detection and
// result emission without importing the emit package directly (spec.md
// section 4.9 is the consumer; Processor only needs to know "is this node
// already a finished ship" and "go print it").
type TerminalChecker interface {
	Terminal(q *Queue, node NodeIndex) bool
	Emit(q *Queue, node NodeIndex) error
}

// Processor drives the single-generation breadth-first expansion of
// spec.md section 4.6, the direct translation of the original engine's
// process(): for each frontier node it reconstructs the trailing window of
// rows needed to index the successor table, enumerates every admissible
// next row, and for each one not already visited and not pruned by the
// lookahead probe, enqueues a child and tests it for ship completion.
type Processor struct {
	cfg     *Config
	idx     *SuccessorIndex
	la      *Lookahead
	phases  *phaserange.Table
	visited *VisitedSet
	ext     *ExtensionTable // nil disables extension reuse (tests, or a search with no deepening yet)
	term    TerminalChecker // nil disables ship detection (tests)
}

// NewProcessor builds a Processor over the given shared, read-only search
// structures. ext and term may both be nil.
func NewProcessor(cfg *Config, idx *SuccessorIndex, la *Lookahead, phases *phaserange.Table, visited *VisitedSet, ext *ExtensionTable, term TerminalChecker) *Processor {
	return &Processor{cfg: cfg, idx: idx, la: la, phases: phases, visited: visited, ext: ext, term: term}
}

// Expand processes one frontier node, enqueuing every admissible,
// unvisited, lookahead-feasible child, and reports how many were added.
// cache may be nil to disable lookahead memoization for this call (the
// caller typically supplies a per-worker LookaheadCache).
func (p *Processor) Expand(q *Queue, node NodeIndex, cache *LookaheadCache, stats *Stats) (int, error) {
	period := p.cfg.Period
	pPhase := q.PeekPhase(node)
	currRow := 2*period + pPhase + 1

	pRows := q.LastRows(node, currRow)

	newPhase := pPhase + 1
	if newPhase == period {
		newPhase = 0
	}

	r1 := pRows[currRow-2*period]
	r2 := pRows[currRow-period]
	kRow := pRows[currRow-period+p.phases.BackOff[newPhase]]

	bucket, err := p.idx.Bucket(r1, r2, kRow)
	if err != nil {
		return 0, err
	}

	firstRow := 0
	if node == 0 {
		firstRow = 1
	}

	extended := make([]Row, currRow+1)
	copy(extended, pRows)

	enqueued := 0
	skip := -1

	// Step 4: a previously saved deepening extension reuses its already-
	// verified continuation instead of re-running the lookahead probe
	// (spec.md section 4.6 step 4).
	if p.ext != nil {
		if extIdx := q.ExtIdx(node); extIdx > ExtensionEmpty {
			ext := p.ext.Get(extIdx)
			if ext != nil && len(ext.Rows) > 0 && MatchesAncestor(ext, pRows) {
				want := ext.Rows[0]
				for i := firstRow; i < len(bucket); i++ {
					if bucket[i] == want {
						skip = i
						break
					}
				}
				if skip >= 0 && !p.visited.IsVisited(node, want) {
					child, err := q.Enqueue(node, want)
					if err != nil {
						return enqueued, err
					}
					p.visited.SetVisited(child)
					enqueued++
					if stats != nil {
						stats.NodesQueued++
					}
					if len(ext.Rows) > 1 {
						if slot, serr := p.ext.Save(&Extension{StartRow: 2*period + newPhase + 1, Rows: ext.Rows[1:]}); serr == nil {
							q.SetExtIdx(child, slot)
						}
					}
					if err := p.checkTerminal(q, child, stats); err != nil {
						return enqueued, err
					}
				}
			}
			p.ext.Release(extIdx)
			q.SetExtIdx(node, ExtensionNone)
		}
	}

	for i := firstRow; i < len(bucket); i++ {
		if i == skip {
			continue
		}
		candidate := bucket[i]
		if p.visited.IsVisited(node, candidate) {
			continue
		}
		extended[currRow] = candidate
		ok, err := p.la.Check(extended, currRow, newPhase, cache)
		if err != nil {
			return enqueued, err
		}
		if !ok {
			if stats != nil {
				stats.NodesPruned++
			}
			continue
		}

		child, err := q.Enqueue(node, candidate)
		if err != nil {
			return enqueued, err
		}
		p.visited.SetVisited(child)
		enqueued++
		if stats != nil {
			stats.NodesQueued++
		}

		if err := p.checkTerminal(q, child, stats); err != nil {
			return enqueued, err
		}
	}
	if stats != nil {
		stats.NodesExpanded++
	}
	return enqueued, nil
}

// checkTerminal emits child's pattern when it has just become a finished
// ship and its parent was not already terminal itself (spec.md section 4.6
// step 5: a run of consecutive all-empty generations must only be reported
// once, at its first occurrence).
func (p *Processor) checkTerminal(q *Queue, child NodeIndex, stats *Stats) error {
	if p.term == nil || !p.term.Terminal(q, child) {
		return nil
	}
	if p.term.Terminal(q, q.Parent(child)) {
		return nil
	}
	if err := p.term.Emit(q, child); err != nil {
		return err
	}
	if stats != nil {
		stats.ShipsFound++
	}
	return nil
}
