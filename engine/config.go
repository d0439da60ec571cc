// Package engine implements the row-by-row breadth-first/deepening search
// for orthogonal spaceships and waves described by spec.md. It is built as
// an owned value (Config immutable, State mutable) rather than process-
// global state, per the redesign note in spec.md section 9.
package engine

import (
	"github.com/pkg/errors"

	"github.com/lifesearch/qfind/internal/phaserange"
	"github.com/lifesearch/qfind/rule"
)

// Symmetry is the cross-sectional reflection rule applied at the left
// (logical) edge of the pattern.
type Symmetry int

const (
	// Asymmetric: no reflection; the right-edge boundary check instead
	// forbids a birth just past the last physical column.
	Asymmetric Symmetry = iota
	// Odd: the row is mirrored sharing a central bit.
	Odd
	// Even: the row is mirrored without a shared central bit.
	Even
	// Gutter: an empty column is forced at the mirror axis.
	Gutter
)

func (s Symmetry) String() string {
	switch s {
	case Asymmetric:
		return "asymmetric"
	case Odd:
		return "odd"
	case Even:
		return "even"
	case Gutter:
		return "gutter"
	default:
		return "unknown"
	}
}

// ParseSymmetry parses the -s/-o CLI spelling of a symmetry mode.
func ParseSymmetry(s string) (Symmetry, error) {
	switch s {
	case "asymmetric":
		return Asymmetric, nil
	case "odd":
		return Odd, nil
	case "even":
		return Even, nil
	case "gutter":
		return Gutter, nil
	default:
		return 0, errors.Errorf("unknown symmetry %q (want asymmetric|odd|even|gutter)", s)
	}
}

// BoundarySymmetry is the analogous reflection rule applied at the right
// edge, used for wave searches (spec.md GLOSSARY).
type BoundarySymmetry int

const (
	// Undefined: no reflection; the standard spaceship right-edge check.
	Undefined BoundarySymmetry = iota
	BoundaryOdd
	BoundaryEven
	BoundaryGutter
)

// ParseBoundarySymmetry parses the -o CLI spelling of a wave boundary mode.
func ParseBoundarySymmetry(s string) (BoundarySymmetry, error) {
	switch s {
	case "", "undefined":
		return Undefined, nil
	case "odd":
		return BoundaryOdd, nil
	case "even":
		return BoundaryEven, nil
	case "gutter":
		return BoundaryGutter, nil
	default:
		return 0, errors.Errorf("unknown boundary symmetry %q (want undefined|odd|even|gutter)", s)
	}
}

// DumpMode selects the checkpoint file naming scheme (spec.md section 4.8).
type DumpMode int

const (
	DumpDisabled DumpMode = iota
	DumpOverwrite
	DumpSequential
)

// ParseDumpMode parses the --dump-mode CLI spelling.
func ParseDumpMode(s string) (DumpMode, error) {
	switch s {
	case "", "overwrite":
		return DumpOverwrite, nil
	case "sequential":
		return DumpSequential, nil
	case "disabled":
		return DumpDisabled, nil
	default:
		return 0, errors.Errorf("unknown dump mode %q (want overwrite|sequential|disabled)", s)
	}
}

// ReorderPolicy controls the order successor rows are enumerated within a
// successor-index bucket (spec.md section 4.2).
type ReorderPolicy int

const (
	ReorderStat ReorderPolicy = iota
	ReorderOff
	ReorderPopcount // test-only
)

// Config is the immutable description of one search: everything that is
// fixed for the lifetime of a Run. It is assembled once by the CLI (or by
// LoadState from a checkpoint's parameter block) and never mutated
// afterwards; all mutable runtime state lives in State.
type Config struct {
	Rule  *rule.Table
	Width int // 1..14
	Period int
	Offset int // Y; 0 < Offset < Period for a spaceship (no oscillators/photons)

	Symmetry Symmetry
	Boundary BoundarySymmetry

	Threads int

	MaxShips     int // 0 = unlimited
	MinDeepen    int
	MinExtension int
	FirstDeepen  int // 0 = unset
	FixedDepth   int // 0 = unset

	CacheMB   int // per-thread lookahead cache size; 0 disables
	MemLimitMB int

	QueueBits int
	HashBits  int // 0 disables the visited set
	BaseBits  int

	DumpPrefix   string
	DumpInterval int // seconds
	DumpMode     DumpMode
	LoadPath     string
	SplitN       int

	Preview        bool
	FullPeriod     bool // suppress subperiodic ships when gcd(P,Y) > 1
	DeepPrint      bool
	TrackLongest   bool
	EarlyExit      bool
	PrintEvery     int // nodes expanded between progress lines (and Preview echoes); 0 = off

	Reorder ReorderPolicy
}

// DefaultConfig returns the baseline parameter set the CLI layers flags
// onto, matching the original implementation's defaults.
func DefaultConfig() Config {
	return Config{
		Threads:      1,
		MinDeepen:    3,
		MinExtension: 1,
		CacheMB:      8,
		MemLimitMB:   8000,
		QueueBits:    26,
		HashBits:     24,
		BaseBits:     4,
		DumpMode:     DumpOverwrite,
		DumpInterval: 3600,
		FullPeriod:   true,
		TrackLongest: true,
		EarlyExit:    true,
		Reorder:      ReorderStat,
	}
}

// Validate rejects configuration errors before any allocation happens
// (spec.md section 7: configuration errors are fatal, diagnosed, and
// precede allocation).
func (c *Config) Validate() error {
	if c.Rule == nil {
		return errors.New("no rule specified")
	}
	if c.Width < 1 || c.Width > 14 {
		return errors.Errorf("width %d out of range (1..14)", c.Width)
	}
	if c.Period < 1 {
		return errors.Errorf("period %d must be >= 1", c.Period)
	}
	if c.Offset <= 0 {
		return errors.New("offset must be > 0 (oscillators are out of scope)")
	}
	if c.Offset >= c.Period {
		return errors.New("offset must be < period (photons are out of scope)")
	}
	if c.Width == 1 && c.Symmetry == Asymmetric {
		return errors.New("width 1 requires a symmetric mode")
	}
	if c.BaseBits < 0 || c.BaseBits >= 16-bitsFor(c.Width) {
		return errors.Errorf("base-bits %d leaves no room for the %d-bit row field", c.BaseBits, c.Width)
	}
	if c.Threads < 1 {
		return errors.New("threads must be >= 1")
	}
	return nil
}

// bitsFor returns the number of bits needed to hold width logical columns.
// The packed queue representation reserves exactly `width` bits for the row
// and the remainder (16-width) for the parent offset, per spec.md section 3.
func bitsFor(width int) int {
	return width
}

// Phases builds the fwdOff/backOff/doubleOff/tripleOff tables process(),
// lookAhead() and depthFirst() index by phase (spec.md section 4.5/4.6).
// It is cheap (O(Period)) and side-effect free, so callers needing it on a
// hot path should compute it once per Run and hold onto the result rather
// than calling this per node.
func (c *Config) Phases() *phaserange.Table {
	return phaserange.Build(c.Period, c.Offset)
}
