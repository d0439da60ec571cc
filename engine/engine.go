package engine

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/lifesearch/qfind/internal/phaserange"
)

// State is the mutable runtime state of one search: everything Config does
// not already fix for the lifetime of a Run (spec.md section 9's
// Config/State split). It is built once by NewState and then driven to
// completion by Run; nothing outside this package reaches into it except
// through the accessor/reporting methods below.
type State struct {
	cfg *Config

	eval     *rowEvaluator
	idx      *SuccessorIndex
	phases   *phaserange.Table
	la       *Lookahead
	ext      *ExtensionTable
	visited  *VisitedSet
	emit     *Emitter
	proc     *Processor
	deepener *Deepener

	q     *Queue
	abort *AbortFlag
	stats Stats

	longestNode  NodeIndex
	longestDepth int

	lastDeep   int
	dumpParity int
	dumpSeq    int
	lastDump   time.Time
}

// NewState validates cfg and wires together every search component: the
// rule evaluator, the lazily-built successor index, the lookahead probe,
// the extension table, the visited set, the result emitter, and the BFS
// and deepening drivers (spec.md sections 4.1 through 4.7).
func NewState(cfg *Config) (*State, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eval := newRowEvaluator(cfg, 0)

	arenaCap := cfg.MemLimitMB << 20
	if arenaCap <= 0 {
		arenaCap = 64 << 20
	}
	idx := NewSuccessorIndex(cfg, eval, arenaCap)
	phases := cfg.Phases()
	la := NewLookahead(idx, phases, cfg.Period, cfg.Width)
	depthLimit := cfg.FirstDeepen
	if depthLimit < cfg.MinDeepen {
		depthLimit = cfg.MinDeepen
	}
	ext := NewExtensionTable(cfg.QueueBits)
	q := NewQueue(cfg.Width, cfg.BaseBits, cfg.QueueBits, cfg.Period)
	visited := NewVisitedSet(q, cfg.Period, cfg.Width, cfg.Symmetry == Asymmetric, cfg.HashBits)
	emitter := NewEmitter(cfg, eval.CausesBirth)
	proc := NewProcessor(cfg, idx, la, phases, visited, ext, emitter)
	deepener := NewDeepener(cfg, idx, la, phases, ext, emitter, eval.CausesBirth)

	lastDeep := cfg.FirstDeepen
	if lastDeep <= 0 {
		lastDeep = cfg.MinDeepen
	}

	return &State{
		cfg: cfg, eval: eval, idx: idx, phases: phases, la: la, ext: ext,
		visited: visited, emit: emitter, proc: proc, deepener: deepener,
		q: q, abort: &AbortFlag{}, lastDeep: lastDeep,
	}, nil
}

// Seed enqueues a literal chain of initial rows (spec.md section 6's -e
// file) as a straight-line path from the sentinel root, then points the
// queue's head at the final row so the search resumes from exactly that
// configuration instead of the empty pattern.
func (s *State) Seed(rows []Row) error {
	parent := NodeIndex(0)
	for _, r := range rows {
		child, err := s.q.Enqueue(parent, r)
		if err != nil {
			return errors.Wrap(err, "seed")
		}
		s.visited.SetVisited(child)
		parent = child
	}
	s.q.SetQHead(int(parent))
	return nil
}

// ParseInitialRows parses the ASCII initial-rows file format of spec.md
// section 6: 2*Period lines of exactly Width characters, '.' dead and 'o'
// alive, column Width-1 as the most significant bit, trailing whitespace
// ignored.
func ParseInitialRows(data []byte, cfg *Config) ([]Row, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	rows := make([]Row, 0, 2*cfg.Period)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			continue
		}
		if len(line) != cfg.Width {
			return nil, errors.Errorf("initial-rows: line %q has length %d, want width %d", line, len(line), cfg.Width)
		}
		var r Row
		for i, c := range line {
			switch c {
			case 'o', 'O':
				r |= 1 << uint(cfg.Width-1-i)
			case '.', ' ':
			default:
				return nil, errors.Errorf("initial-rows: unexpected character %q", c)
			}
		}
		rows = append(rows, r)
		if len(rows) == 2*cfg.Period {
			break
		}
	}
	if len(rows) != 2*cfg.Period {
		return nil, errors.Errorf("initial-rows: need %d rows, got %d", 2*cfg.Period, len(rows))
	}
	return rows, nil
}

// RunResult summarizes a terminated search for the CLI's exit-code mapping
// (spec.md section 7).
type RunResult struct {
	Abort        AbortKind
	Stats        Stats
	LongestDepth int
}

// Output returns every pattern emitted so far, in Golly RLE format.
func (s *State) Output() []byte { return s.emit.Bytes() }

// ShipsFound returns the number of distinct patterns emitted so far.
func (s *State) ShipsFound() int { return s.emit.Count() }

// LongestPartial serializes the partial pattern ending at the
// deepest-by-BFS-depth frontier node seen during the run, for the
// "Longest partial result" report a queue-full or no-ship termination
// prints (spec.md section 8 scenario 2). It returns nil if nothing was
// ever enqueued.
func (s *State) LongestPartial() []byte {
	if s.longestNode == 0 {
		return nil
	}
	return s.emit.Partial(s.q, s.longestNode)
}

// Run drives the search to completion: single-threaded BFS expansion
// (spec.md section 4.6), parallel deepening passes once the frontier has
// grown enough to amortize one (section 4.7), and periodic compaction and
// checkpointing (section 4.8). It returns once the queue empties, the
// queue fills past capacity, the configured ship limit is reached, or an
// unrecoverable error occurs.
func (s *State) Run() (RunResult, error) {
	for !s.abort.Aborting() {
		node, ok := s.q.Dequeue()
		if !ok {
			break
		}

		if depth := s.q.CurrentDepth(node); s.cfg.TrackLongest && depth > s.longestDepth {
			s.longestDepth = depth
			s.longestNode = node
		}

		_, err := s.proc.Expand(s.q, node, nil, &s.stats)
		if err != nil {
			if errors.Cause(err) == ErrQueueFull {
				s.abort.Raise(AbortQueueFull)
				break
			}
			return s.result(), errors.Wrap(err, "bfs expand")
		}

		if s.cfg.PrintEvery > 0 && s.stats.NodesExpanded%int64(s.cfg.PrintEvery) == 0 {
			log.Printf("qfind: progress expanded=%d queued=%d pruned=%d ships=%d longest=%d",
				s.stats.NodesExpanded, s.stats.NodesQueued, s.stats.NodesPruned, s.stats.ShipsFound, s.longestDepth)

			// -p/--preview (spec.md section 6; SPEC_FULL.md item 1):
			// periodically echo the current longest partial result, not
			// only the numeric counters above and not only at
			// termination. Falls back to the node just expanded when
			// TrackLongest hasn't recorded one yet.
			if s.cfg.Preview {
				previewNode := s.longestNode
				if previewNode == 0 {
					previewNode = node
				}
				if partial := s.emit.Partial(s.q, previewNode); len(partial) > 0 {
					log.Printf("qfind: preview at expanded=%d\n%s", s.stats.NodesExpanded, partial)
				}
			}
		}

		if s.cfg.MaxShips > 0 && s.emit.Count() >= s.cfg.MaxShips {
			s.abort.Raise(AbortShipLimit)
			break
		}

		if s.shouldDeepen() {
			amount := s.deepenAmount()
			res := s.deepener.Run(s.q, amount, s.abort)
			if res.Probed > 0 {
				log.Debug.Printf("qfind: deepened amount=%d probed=%d pruned=%d", amount, res.Probed, res.Pruned)
			}
			if s.cfg.MaxShips > 0 && s.emit.Count() >= s.cfg.MaxShips {
				s.abort.Raise(AbortShipLimit)
			}
		}

		if s.shouldCheckpoint() {
			if err := s.checkpoint(); err != nil {
				log.Printf("qfind: checkpoint failed: %v", err)
			}
		}
	}

	log.Printf("qfind: finished abort=%d expanded=%d queued=%d pruned=%d ships=%d longest=%d",
		s.abort.Kind(), s.stats.NodesExpanded, s.stats.NodesQueued, s.stats.NodesPruned, s.stats.ShipsFound, s.longestDepth)
	return s.result(), nil
}

func (s *State) result() RunResult {
	return RunResult{Abort: s.abort.Kind(), Stats: s.stats, LongestDepth: s.longestDepth}
}

// shouldDeepen reports whether the frontier has grown enough since the
// last deepening pass to be worth a DFS sweep: once a quarter of the
// queue's total capacity sits unprocessed (spec.md section 4.7 leaves the
// exact triggering cadence to the implementation; this mirrors the
// original's practice of deepening every time the queue has grown by a
// large, roughly-capacity-fraction chunk since the last pass).
func (s *State) shouldDeepen() bool {
	pending := s.q.Tail() - s.q.Head()
	return pending > 0 && pending >= s.q.Size()/4
}

// deepenAmount computes the probe depth for the next deepening pass. Runs
// start at FirstDeepen (or MinDeepen if unset) and shrink by one row per
// pass down to the MinDeepen floor, so the early passes — when the
// frontier is smallest and cheapest to probe deeply — search furthest.
// This is a documented simplification of the original's lastdeep/i-indexed
// formula, itself keyed to a file-scope loop counter this port does not
// keep.
func (s *State) deepenAmount() int {
	amount := s.lastDeep
	if s.cfg.FixedDepth > 0 {
		amount = s.cfg.FixedDepth
	}
	if amount < s.cfg.MinDeepen {
		amount = s.cfg.MinDeepen
	}
	if s.cfg.FixedDepth == 0 && amount > s.cfg.MinDeepen {
		s.lastDeep = amount - 1
	}
	return amount
}

// shouldCheckpoint reports whether DumpInterval seconds have elapsed since
// the last successful dump (spec.md section 5: "a checkpoint cadence of
// dump_interval seconds between successful dumps is enforced
// single-threaded between deepenings").
func (s *State) shouldCheckpoint() bool {
	if s.cfg.DumpMode == DumpDisabled || s.cfg.DumpPrefix == "" {
		return false
	}
	if s.lastDump.IsZero() {
		s.lastDump = time.Now()
		return false
	}
	return time.Since(s.lastDump) >= time.Duration(s.cfg.DumpInterval)*time.Second
}

// checkpoint runs compaction with a dump callback wired to write the dense
// mid-compaction snapshot to disk (spec.md section 4.8's "dump_state
// writes the dense form to a file...between compaction phases 3 and 4").
func (s *State) checkpoint() error {
	path := s.dumpPath()
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "open dump file")
	}
	defer f.Close()

	err = Compact(s.q, s.ext, s.visited, s.cfg, func(qStart, qEnd int) error {
		if s.cfg.DumpMode == DumpSequential {
			return ArchiveState(f, s.cfg, s.q, s.ext, s.lastDeep, qStart, qEnd, s.dumpSeq)
		}
		return DumpState(f, s.cfg, s.q, s.ext, s.lastDeep, qStart, qEnd, s.dumpParity)
	})
	if err != nil {
		return err
	}
	s.dumpParity = 1 - s.dumpParity
	s.dumpSeq++
	s.lastDump = time.Now()
	return nil
}

func (s *State) dumpPath() string {
	prefix := expandDumpPrefix(s.cfg.DumpPrefix, s.cfg)
	if s.cfg.DumpMode == DumpSequential {
		return fmt.Sprintf("%s.%04d", prefix, s.dumpSeq)
	}
	if s.dumpParity == 0 {
		return prefix + "gold"
	}
	return prefix + "blue"
}

// expandDumpPrefix substitutes the `@time`/`@rule` placeholders spec.md
// section 6 documents for the `-d` dump-root template.
func expandDumpPrefix(prefix string, cfg *Config) string {
	out := strings.ReplaceAll(prefix, "@rule", cfg.Rule.String())
	out = strings.ReplaceAll(out, "@time", time.Now().Format("20060102-150405"))
	return out
}

// Load reconstructs a State from a checkpoint file, applying every
// resumable parameter the dump carries and leaving cfg's velocity/width/
// symmetry/rule fields consistent with what was actually running when the
// checkpoint was taken (spec.md section 4.8's load_state).
func Load(path string, cfg *Config) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open dump file")
	}
	defer f.Close()

	ext := NewExtensionTable(cfg.QueueBits)
	q, lastDeep, err := LoadState(f, cfg, ext)
	if err != nil {
		return nil, errors.Wrap(err, "load checkpoint")
	}

	eval := newRowEvaluator(cfg, 0)
	arenaCap := cfg.MemLimitMB << 20
	if arenaCap <= 0 {
		arenaCap = 64 << 20
	}
	idx := NewSuccessorIndex(cfg, eval, arenaCap)
	phases := cfg.Phases()
	la := NewLookahead(idx, phases, cfg.Period, cfg.Width)
	visited := NewVisitedSet(q, cfg.Period, cfg.Width, cfg.Symmetry == Asymmetric, cfg.HashBits)
	emitter := NewEmitter(cfg, eval.CausesBirth)
	proc := NewProcessor(cfg, idx, la, phases, visited, ext, emitter)
	deepener := NewDeepener(cfg, idx, la, phases, ext, emitter, eval.CausesBirth)

	return &State{
		cfg: cfg, eval: eval, idx: idx, phases: phases, la: la, ext: ext,
		visited: visited, emit: emitter, proc: proc, deepener: deepener,
		q: q, abort: &AbortFlag{}, lastDeep: lastDeep,
	}, nil
}

// Split slices the live frontier into up to n contiguous non-empty ranges
// and writes each as its own sequential dump, for the CLI's `-j` split
// option (spec.md section 4.8's "Splitting").
func (s *State) Split(n int) error {
	if n <= 0 {
		return errors.New("split: n must be > 0")
	}
	start, end := s.q.Head(), s.q.Tail()
	total := end - start
	if total <= 0 {
		return errors.New("split: queue is empty")
	}
	chunk := (total + n - 1) / n
	seq := 0
	for lo := start; lo < end; lo += chunk {
		hi := lo + chunk
		if hi > end {
			hi = end
		}
		path := fmt.Sprintf("%s.%04d", expandDumpPrefix(s.cfg.DumpPrefix, s.cfg), seq)
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "split: create %s", path)
		}
		err = ArchiveState(f, s.cfg, s.q, s.ext, s.lastDeep, lo, hi, seq)
		f.Close()
		if err != nil {
			return errors.Wrapf(err, "split: write %s", path)
		}
		seq++
	}
	return nil
}
