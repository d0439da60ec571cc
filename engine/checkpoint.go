package engine

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/lifesearch/qfind/internal/rowhash"
	"github.com/lifesearch/qfind/rule"
)

// dumpVersion is the checkpoint file-format version (spec.md section 6
// field 1). Bumping it is a breaking change; LoadState rejects anything
// else outright.
const dumpVersion = 1

// Compact runs the three-pass queue compaction of spec.md section 4.8:
// back-pass mark-unused, forward-pass parent-pointer tagging, back-pass
// physical shift, then a final re-enqueue that rebuilds the queue's
// absolute parent bases and the visited set from scratch. dump, if
// non-nil, is called with the dense [qStart,qEnd) range after pass 3 and
// before the re-enqueue pass, so a checkpoint captures a coherent
// mid-compaction snapshot. visited is replaced in place with a fresh set
// built from cfg over the recompacted queue.
func Compact(q *Queue, ext *ExtensionTable, visited *VisitedSet, cfg *Config, dump func(qStart, qEnd int) error) error {
	qStart, qEnd := q.Head(), q.Tail()

	// Pass 1 (back-pass): a node is reachable if it is the queue's current
	// head..tail range and not itself already empty; everything still in
	// range after compaction's predecessor passes already satisfies "every
	// non-empty node's parent is non-empty" (spec.md section 8 property 4),
	// so this pass's only job here is to recognize and skip slots a
	// previous MarkEmpty already cleared (deepening pruning, or
	// extension-exhaustion during BFS). Nothing further to mark: the
	// packed-pointer representation keeps no separate liveness bit besides
	// the row's own empty sentinel.
	live := make([]bool, qEnd-qStart)
	for i := qStart; i < qEnd; i++ {
		live[i-qStart] = !q.IsEmptySlot(i)
	}

	// Pass 2 (forward-pass): nothing to precompute beyond `live` itself.
	// The one-bit same/next-parent tag spec.md describes is not used:
	// writeDumpBody writes the full 16-bit packed entries as they stand,
	// and the in-memory queue keeps them throughout, per spec.md section
	// 9's "preserve the 16-bit-per-node representation exactly".

	// Pass 3 (back-pass 2): physically shift live nodes toward the high
	// end of [qStart, qEnd), closing gaps.
	write := qEnd
	rows := make([]uint16, 0, qEnd-qStart)
	parents := make([]NodeIndex, 0, qEnd-qStart)
	extIdxs := make([]uint32, 0, qEnd-qStart)
	for i := qEnd - 1; i >= qStart; i-- {
		if !live[i-qStart] {
			continue
		}
		write--
		rows = append(rows, uint16(q.Row(NodeIndex(i))))
		parents = append(parents, q.Parent(NodeIndex(i)))
		extIdxs = append(extIdxs, q.ExtIdx(NodeIndex(i)))
	}
	// rows/parents/extIdxs were appended high-to-low; reverse to get them
	// in ascending final-slot order.
	for l, r := 0, len(rows)-1; l < r; l, r = l+1, r-1 {
		rows[l], rows[r] = rows[r], rows[l]
		parents[l], parents[r] = parents[r], parents[l]
		extIdxs[l], extIdxs[r] = extIdxs[r], extIdxs[l]
	}

	if dump != nil {
		if err := dump(write, qEnd); err != nil {
			return errors.Wrap(err, "compact: checkpoint dump")
		}
	}

	// Pass 4 (forward-pass 2): re-enqueue the dense range from scratch,
	// rebuilding parent bases, per-group bases, and the visited set.
	mapped := make(map[NodeIndex]NodeIndex, len(rows))
	mapped[0] = 0
	newQ := NewQueue(q.width, q.baseBits, qSizeBitsOf(q), q.period)
	newVisited := NewVisitedSet(newQ, cfg.Period, cfg.Width, cfg.Symmetry == Asymmetric, cfg.HashBits)
	for i, oldParent := range parents {
		parent, ok := mapped[oldParent]
		if !ok {
			// Parent fell outside the dense live range (already
			// compacted away on a prior pass, or a bug); fall back to
			// the sentinel root rather than corrupt the queue.
			parent = 0
		}
		child, err := newQ.Enqueue(parent, Row(rows[i]))
		if err != nil {
			return errors.Wrap(err, "compact: re-enqueue overflowed the queue")
		}
		oldIdx := NodeIndex(write + i)
		mapped[oldIdx] = child
		newVisited.SetVisited(child)

		if extIdx := extIdxs[i]; extIdx > ExtensionEmpty {
			if e := ext.Get(extIdx); e != nil && MatchesAncestor(e, newQ.LastRows(child, 2*newQ.period)) {
				newQ.SetExtIdx(child, extIdx)
			} else {
				ext.Release(extIdx)
			}
		} else {
			newQ.SetExtIdx(child, extIdxs[i])
		}
	}

	*q = *newQ
	*visited = *newVisited
	return nil
}

// qSizeBitsOf recovers the log2 queue size Compact's fresh NewQueue call
// needs, since Queue itself only stores the resulting slice length.
func qSizeBitsOf(q *Queue) int {
	bits := 0
	for (1 << uint(bits)) < len(q.rows) {
		bits++
	}
	return bits
}

// DumpParams mirrors spec.md section 6 field 4, "NUM_PARAMS integers, one
// per line, encoding every configurable parameter": the subset of Config
// that must round-trip through a checkpoint to resume identically.
type DumpParams struct {
	Threads, MaxShips, MinDeepen, MinExtension, FirstDeepen, FixedDepth int
	CacheMB, MemLimitMB, QueueBits, HashBits, BaseBits                 int
	DumpInterval, SplitN, PrintEvery                                   int
	Symmetry, Boundary, DumpModeVal, Reorder                           int
	Preview, FullPeriod, DeepPrint, TrackLongest, EarlyExit            bool
}

func paramsOf(cfg *Config) DumpParams {
	return DumpParams{
		Threads: cfg.Threads, MaxShips: cfg.MaxShips, MinDeepen: cfg.MinDeepen,
		MinExtension: cfg.MinExtension, FirstDeepen: cfg.FirstDeepen, FixedDepth: cfg.FixedDepth,
		CacheMB: cfg.CacheMB, MemLimitMB: cfg.MemLimitMB, QueueBits: cfg.QueueBits,
		HashBits: cfg.HashBits, BaseBits: cfg.BaseBits, DumpInterval: cfg.DumpInterval,
		SplitN: cfg.SplitN, PrintEvery: cfg.PrintEvery, Symmetry: int(cfg.Symmetry),
		Boundary: int(cfg.Boundary), DumpModeVal: int(cfg.DumpMode), Reorder: int(cfg.Reorder),
		Preview: cfg.Preview, FullPeriod: cfg.FullPeriod, DeepPrint: cfg.DeepPrint,
		TrackLongest: cfg.TrackLongest, EarlyExit: cfg.EarlyExit,
	}
}

func (p DumpParams) applyTo(cfg *Config) {
	cfg.Threads, cfg.MaxShips, cfg.MinDeepen = p.Threads, p.MaxShips, p.MinDeepen
	cfg.MinExtension, cfg.FirstDeepen, cfg.FixedDepth = p.MinExtension, p.FirstDeepen, p.FixedDepth
	cfg.CacheMB, cfg.MemLimitMB, cfg.QueueBits = p.CacheMB, p.MemLimitMB, p.QueueBits
	cfg.HashBits, cfg.BaseBits, cfg.DumpInterval = p.HashBits, p.BaseBits, p.DumpInterval
	cfg.SplitN, cfg.PrintEvery = p.SplitN, p.PrintEvery
	cfg.Symmetry, cfg.Boundary = Symmetry(p.Symmetry), BoundarySymmetry(p.Boundary)
	cfg.DumpMode, cfg.Reorder = DumpMode(p.DumpModeVal), ReorderPolicy(p.Reorder)
	cfg.Preview, cfg.FullPeriod, cfg.DeepPrint = p.Preview, p.FullPeriod, p.DeepPrint
	cfg.TrackLongest, cfg.EarlyExit = p.TrackLongest, p.EarlyExit
}

func (p DumpParams) fields() []int {
	b2i := func(b bool) int {
		if b {
			return 1
		}
		return 0
	}
	return []int{
		p.Threads, p.MaxShips, p.MinDeepen, p.MinExtension, p.FirstDeepen, p.FixedDepth,
		p.CacheMB, p.MemLimitMB, p.QueueBits, p.HashBits, p.BaseBits,
		p.DumpInterval, p.SplitN, p.PrintEvery, p.Symmetry, p.Boundary, p.DumpModeVal, p.Reorder,
		b2i(p.Preview), b2i(p.FullPeriod), b2i(p.DeepPrint), b2i(p.TrackLongest), b2i(p.EarlyExit),
	}
}

const numParams = 23

func paramsFromFields(f []int) DumpParams {
	i2b := func(v int) bool { return v != 0 }
	return DumpParams{
		Threads: f[0], MaxShips: f[1], MinDeepen: f[2], MinExtension: f[3], FirstDeepen: f[4], FixedDepth: f[5],
		CacheMB: f[6], MemLimitMB: f[7], QueueBits: f[8], HashBits: f[9], BaseBits: f[10],
		DumpInterval: f[11], SplitN: f[12], PrintEvery: f[13],
		Symmetry: f[14], Boundary: f[15], DumpModeVal: f[16], Reorder: f[17],
		Preview: i2b(f[18]), FullPeriod: i2b(f[19]), DeepPrint: i2b(f[20]),
		TrackLongest: i2b(f[21]), EarlyExit: i2b(f[22]),
	}
}

// archiveMagic is ArchiveState's first line, distinguishing its
// snappy-compressed envelope from DumpState's literal text so LoadState
// can tell the two apart without guessing.
const archiveMagic = "QFINDARCHIVE1"

// writeDumpBody writes the line-oriented text format of spec.md section 6,
// fields 1-9, to body: version, rule string, dump-root template, the
// NUM_PARAMS resumable parameters, width/period/offset/last_deep, the
// sequence parity, qHead-qStart and qEnd-qStart, the dense rows, and the
// extension records. Shared by DumpState (written verbatim) and
// ArchiveState (written then compressed).
func writeDumpBody(body io.Writer, cfg *Config, q *Queue, ext *ExtensionTable, lastDeep, qStart, qEnd, seq int) {
	fmt.Fprintln(body, dumpVersion)
	fmt.Fprintln(body, cfg.Rule.String())
	fmt.Fprintln(body, cfg.DumpPrefix)
	for _, v := range paramsOf(cfg).fields() {
		fmt.Fprintln(body, v)
	}
	fmt.Fprintln(body, cfg.Width)
	fmt.Fprintln(body, cfg.Period)
	fmt.Fprintln(body, cfg.Offset)
	fmt.Fprintln(body, lastDeep)
	fmt.Fprintln(body, seq)
	fmt.Fprintln(body, q.Head()-qStart)
	fmt.Fprintln(body, qEnd-qStart)
	for i := qStart; i < qEnd; i++ {
		if q.IsEmptySlot(i) {
			fmt.Fprintln(body, emptySlot)
			continue
		}
		fmt.Fprintln(body, q.rows[i])
	}
	writeExtensionsTo(body, q, ext, qStart, qEnd)
}

// DumpState writes the dense [qStart,qEnd) range of q, plus every attached
// extension, to w in the literal line-oriented text format spec.md section
// 6 mandates ("The loader reverses this exactly"): no envelope, no
// compression. seq is the sequence-number parity (overwrite mode: 0 or 1)
// or the sequential dump index. This is the primary, spec-compliant dump
// path used by the default "overwrite" dump mode.
func DumpState(w io.Writer, cfg *Config, q *Queue, ext *ExtensionTable, lastDeep, qStart, qEnd, seq int) error {
	bw := bufio.NewWriter(w)
	writeDumpBody(bw, cfg, q, ext, lastDeep, qStart, qEnd, seq)
	return bw.Flush()
}

// ArchiveState is an optional, non-spec-mandated variant for the
// "sequential" dump mode, which spec.md section 6 leaves free to retain
// every numbered file for the life of a long search: it snappy-compresses
// the same field-for-field body writeDumpBody produces (grounded on
// `cmd/bio-bam-sort/sorter/sortshard.go`'s snappy-compressed shard output),
// prefixed with archiveMagic so LoadState can recognize and decompress it.
// DumpState remains the format spec.md section 6 itself specifies.
func ArchiveState(w io.Writer, cfg *Config, q *Queue, ext *ExtensionTable, lastDeep, qStart, qEnd, seq int) error {
	var body strings.Builder
	writeDumpBody(&body, cfg, q, ext, lastDeep, qStart, qEnd, seq)

	payload := []byte(body.String())
	checksum := rowhash.Checksum(payload)
	compressed := snappy.Encode(nil, payload)

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, archiveMagic)
	fmt.Fprintln(bw, len(payload))
	fmt.Fprintln(bw, checksum)
	fmt.Fprintln(bw, len(compressed))
	if _, err := bw.Write(compressed); err != nil {
		return errors.Wrap(err, "archive: write compressed body")
	}
	return bw.Flush()
}

// writeExtensionsTo emits spec.md section 6 field 9: for each in-queue node
// with an extension, either a run-length-coded "succeeded, no rows" marker
// or the extension's rows themselves, each prefixed by its length.
func writeExtensionsTo(body io.Writer, q *Queue, ext *ExtensionTable, qStart, qEnd int) {
	i := qStart
	for i < qEnd {
		if q.IsEmptySlot(i) {
			i++
			continue
		}
		idx := q.ExtIdx(NodeIndex(i))
		if idx == ExtensionEmpty {
			run := 0
			j := i
			for j < qEnd && !q.IsEmptySlot(j) && q.ExtIdx(NodeIndex(j)) == ExtensionEmpty {
				run++
				j++
			}
			fmt.Fprintln(body, 0)
			fmt.Fprintln(body, run)
			i = j
			continue
		}
		if idx == ExtensionNone {
			i++
			continue
		}
		e := ext.Get(idx)
		if e == nil {
			i++
			continue
		}
		fmt.Fprintln(body, len(e.Rows)+3)
		fmt.Fprintln(body, e.StartRow)
		fmt.Fprintln(body, len(e.Rows))
		for _, r := range e.Rows {
			fmt.Fprintln(body, uint16(r))
		}
		i++
	}
	fmt.Fprintln(body, -1) // terminator: no more extension records
}

// LoadState reads a checkpoint written by DumpState or ArchiveState,
// reconstructs cfg's resumable parameters, loads the dense row range into
// the high end of a fresh Queue, reattaches extensions, and runs
// compaction pass 4 (spec.md section 6's "loader reverses this exactly...
// runs compaction pass 4, and resumes"). It distinguishes the two input
// forms by checking whether the first line is archiveMagic: if so it
// decompresses ArchiveState's snappy envelope first, otherwise it reads
// DumpState's literal text directly.
func LoadState(r io.Reader, cfg *Config, ext *ExtensionTable) (*Queue, int, error) {
	br := bufio.NewReader(r)

	firstLine, err := br.ReadString('\n')
	if err != nil && firstLine == "" {
		return nil, 0, errors.Wrap(err, "load: read dump header")
	}
	firstLine = strings.TrimRight(firstLine, "\r\n")

	var lines *bufio.Scanner
	if firstLine == archiveMagic {
		// ArchiveState's optional snappy-compressed envelope (see
		// ArchiveState): payload length, checksum, compressed length, then
		// the compressed body, which decompresses to exactly the same
		// line-oriented text DumpState writes directly.
		payloadLen, err := readInt(br)
		if err != nil {
			return nil, 0, errors.Wrap(err, "load: payload length")
		}
		wantChecksum, err := readUint64(br)
		if err != nil {
			return nil, 0, errors.Wrap(err, "load: checksum")
		}
		compLen, err := readInt(br)
		if err != nil {
			return nil, 0, errors.Wrap(err, "load: compressed length")
		}
		compressed := make([]byte, compLen)
		if _, err := io.ReadFull(br, compressed); err != nil {
			return nil, 0, errors.Wrap(err, "load: read compressed body")
		}
		payload, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, 0, errors.Wrap(err, "load: body is not valid snappy")
		}
		if len(payload) != payloadLen {
			return nil, 0, errors.New("load: payload length mismatch")
		}
		if rowhash.Checksum(payload) != wantChecksum {
			return nil, 0, errors.New("load: checksum mismatch, dump file is corrupt")
		}
		lines = bufio.NewScanner(strings.NewReader(string(payload)))
	} else {
		// The literal text format of spec.md section 6: firstLine is
		// already field 1 (the version), so splice it back in front of
		// the reader's remaining bytes.
		lines = bufio.NewScanner(io.MultiReader(strings.NewReader(firstLine+"\n"), br))
	}
	lines.Buffer(make([]byte, 0, 64*1024), 1<<20)
	next := func() (string, error) {
		if !lines.Scan() {
			if err := lines.Err(); err != nil {
				return "", err
			}
			return "", errors.New("load: unexpected end of dump body")
		}
		return lines.Text(), nil
	}
	nextInt := func() (int, error) {
		s, err := next()
		if err != nil {
			return 0, err
		}
		return strconv.Atoi(s)
	}

	version, err := nextInt()
	if err != nil {
		return nil, 0, err
	}
	if version != dumpVersion {
		return nil, 0, errors.Errorf("load: unsupported dump version %d (want %d)", version, dumpVersion)
	}
	ruleStr, err := next()
	if err != nil {
		return nil, 0, err
	}
	rt, err := rule.Parse(ruleStr)
	if err != nil {
		return nil, 0, errors.Wrap(err, "load: rule string")
	}
	cfg.Rule = rt

	prefix, err := next()
	if err != nil {
		return nil, 0, err
	}
	cfg.DumpPrefix = prefix

	fields := make([]int, numParams)
	for i := range fields {
		fields[i], err = nextInt()
		if err != nil {
			return nil, 0, err
		}
	}
	paramsFromFields(fields).applyTo(cfg)

	width, err := nextInt()
	if err != nil {
		return nil, 0, err
	}
	period, err := nextInt()
	if err != nil {
		return nil, 0, err
	}
	offset, err := nextInt()
	if err != nil {
		return nil, 0, err
	}
	lastDeep, err := nextInt()
	if err != nil {
		return nil, 0, err
	}
	cfg.Width, cfg.Period, cfg.Offset = width, period, offset
	if _, err := nextInt(); err != nil { // seq, informational only
		return nil, 0, err
	}
	headOff, err := nextInt()
	if err != nil {
		return nil, 0, err
	}
	count, err := nextInt()
	if err != nil {
		return nil, 0, err
	}

	q := NewQueue(cfg.Width, cfg.BaseBits, cfg.QueueBits, cfg.Period)
	qStart := q.Size() - count
	if qStart < 1 {
		return nil, 0, errors.New("load: dump range does not fit in the configured queue size")
	}
	rawRows := make([]uint16, count)
	for i := 0; i < count; i++ {
		v, err := nextInt()
		if err != nil {
			return nil, 0, err
		}
		rawRows[i] = uint16(v)
	}
	for i, v := range rawRows {
		q.rows[qStart+i] = v
	}
	q.SetQTail(qStart + count)
	q.SetQHead(qStart + headOff)
	q.Rephase(qStart)

	if err := readExtensions(next, nextInt, q, ext, qStart, qStart+count); err != nil {
		return nil, 0, err
	}

	visited := NewVisitedSet(q, cfg.Period, cfg.Width, cfg.Symmetry == Asymmetric, cfg.HashBits)
	if err := Compact(q, ext, visited, cfg, nil); err != nil {
		return nil, 0, errors.Wrap(err, "load: compaction pass 4")
	}
	return q, lastDeep, nil
}

func readExtensions(next func() (string, error), nextInt func() (int, error), q *Queue, ext *ExtensionTable, qStart, qEnd int) error {
	i := qStart
	for {
		tag, err := nextInt()
		if err != nil {
			return err
		}
		if tag == -1 {
			return nil
		}
		if tag == 0 {
			run, err := nextInt()
			if err != nil {
				return err
			}
			for k := 0; k < run && i < qEnd; {
				if q.IsEmptySlot(i) {
					i++
					continue
				}
				q.SetExtIdx(NodeIndex(i), ExtensionEmpty)
				i++
				k++
			}
			continue
		}
		startRow, err := nextInt()
		if err != nil {
			return err
		}
		n, err := nextInt()
		if err != nil {
			return err
		}
		rows := make([]Row, n)
		for j := 0; j < n; j++ {
			v, err := nextInt()
			if err != nil {
				return err
			}
			rows[j] = Row(v)
		}
		for i < qEnd && q.IsEmptySlot(i) {
			i++
		}
		if i >= qEnd {
			return errors.New("load: more extension records than in-queue nodes")
		}
		slot, err := ext.Save(&Extension{StartRow: startRow, Rows: rows})
		if err != nil {
			return err
		}
		q.SetExtIdx(NodeIndex(i), slot)
		i++
	}
}

func readInt(br *bufio.Reader) (int, error) {
	s, err := br.ReadString('\n')
	if err != nil && s == "" {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(s))
}

func readUint64(br *bufio.Reader) (uint64, error) {
	s, err := br.ReadString('\n')
	if err != nil && s == "" {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
}
