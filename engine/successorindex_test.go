package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifesearch/qfind/rule"
)

func lifeConfig(width int, sym Symmetry) *Config {
	tab, err := rule.Parse("B3/S23")
	if err != nil {
		panic(err)
	}
	cfg := DefaultConfig()
	cfg.Rule = tab
	cfg.Width = width
	cfg.Period = 4
	cfg.Offset = 1
	cfg.Symmetry = sym
	return &cfg
}

// TestSuccessorIndexInvariant checks spec.md section 8 invariant 1: for
// every (r1,r2,r3), Evolve(r1,r2,r3) equals the bucket whose list contains
// r3.
func TestSuccessorIndexInvariant(t *testing.T) {
	cfg := lifeConfig(5, Odd)
	eval := newRowEvaluator(cfg, 0)
	idx := NewSuccessorIndex(cfg, eval, 1<<20)

	n := 1 << uint(cfg.Width)
	for r1 := 0; r1 < n; r1 += 3 {
		for r2 := 0; r2 < n; r2 += 5 {
			offsets, row3s, err := idx.Get(Row(r1), Row(r2))
			require.NoError(t, err)
			seen := map[Row]Row{}
			for k := 0; k < n; k++ {
				for _, r3 := range row3s[offsets[k]:offsets[k+1]] {
					seen[r3] = Row(k)
				}
			}
			for r3 := 0; r3 < n; r3++ {
				row4, ok := eval.Evolve(Row(r1), Row(r2), Row(r3))
				bucket, wasBucketed := seen[Row(r3)]
				if !ok {
					assert.Falsef(t, wasBucketed, "forbidden (r1=%d,r2=%d,r3=%d) appeared in a bucket", r1, r2, r3)
					continue
				}
				require.Truef(t, wasBucketed, "(r1=%d,r2=%d,r3=%d) missing from every bucket", r1, r2, r3)
				assert.Equalf(t, row4, bucket, "(r1=%d,r2=%d,r3=%d) bucketed under wrong successor", r1, r2, r3)
			}
		}
	}
}

func TestSuccessorIndexContentDedup(t *testing.T) {
	cfg := lifeConfig(4, Even)
	eval := newRowEvaluator(cfg, 0)
	idx := NewSuccessorIndex(cfg, eval, 1<<20)

	// With width 4 and an even-symmetric empty second row, distinct first
	// rows can still legitimately produce byte-identical records (e.g. two
	// rows with no live cells in range both evolve everything the same
	// way once masked). We just assert that repeated lookups of the same
	// pair always return the same record contents and that dedup doesn't
	// corrupt the arena.
	o1, r1s, err := idx.Get(0, 0)
	require.NoError(t, err)
	o2, r2s, err := idx.Get(0, 0)
	require.NoError(t, err)
	assert.Equal(t, o1, o2)
	assert.Equal(t, r1s, r2s)
}

func TestOffsetCountMatchesGet(t *testing.T) {
	cfg := lifeConfig(4, Asymmetric)
	eval := newRowEvaluator(cfg, 0)
	idx := NewSuccessorIndex(cfg, eval, 1<<20)

	offsets, _, err := idx.Get(3, 5)
	require.NoError(t, err)
	for k := 0; k < 1<<uint(cfg.Width); k++ {
		off, count, err := idx.OffsetCount(3, 5, Row(k))
		require.NoError(t, err)
		assert.EqualValues(t, offsets[k], off)
		assert.Equal(t, int(offsets[k+1]-offsets[k]), count)
	}
}
