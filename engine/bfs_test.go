package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifesearch/qfind/internal/phaserange"
)

func newProcessor(t *testing.T, cfg *Config) (*Processor, *Queue) {
	t.Helper()
	eval := newRowEvaluator(cfg, 0)
	idx := NewSuccessorIndex(cfg, eval, 1<<20)
	phases := phaserange.Build(cfg.Period, cfg.Offset)
	la := NewLookahead(idx, phases, cfg.Period, cfg.Width)
	q := NewQueue(cfg.Width, cfg.BaseBits, cfg.QueueBits, cfg.Period)
	visited := NewVisitedSet(q, cfg.Period, cfg.Width, cfg.Symmetry == Asymmetric, cfg.HashBits)
	return NewProcessor(cfg, idx, la, phases, visited, nil, nil), q
}

func TestProcessorExpandRootEnqueuesSomething(t *testing.T) {
	cfg := lifeConfig(5, Odd)
	cfg.QueueBits = 16
	cfg.HashBits = 10
	p, q := newProcessor(t, cfg)

	n, err := p.Expand(q, NodeIndex(0), nil, &Stats{})
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestProcessorExpandSkipsRow0AtRoot(t *testing.T) {
	// The root expansion must never enqueue the all-dead row as a first
	// child (spec.md section 4.6: firstRow=1 when theNode==0), since an
	// empty pattern can never grow into a ship.
	cfg := lifeConfig(5, Odd)
	cfg.QueueBits = 16
	cfg.HashBits = 10
	p, q := newProcessor(t, cfg)

	stats := &Stats{}
	_, err := p.Expand(q, NodeIndex(0), nil, stats)
	require.NoError(t, err)

	for {
		i, ok := q.Dequeue()
		if !ok {
			break
		}
		assert.NotEqual(t, Row(0), q.Row(i))
	}
}
