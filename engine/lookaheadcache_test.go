package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookaheadCacheMissThenHit(t *testing.T) {
	c := NewLookaheadCache(4)
	_, slot, ok := c.GetKey(1, 2, 3, 7)
	assert.False(t, ok, "first lookup is always a miss")

	c.SetKey(1, 2, 3, 7, slot, 1)

	result, _, ok := c.GetKey(1, 2, 3, 7)
	assert.True(t, ok)
	assert.Equal(t, 1, result)
}

func TestLookaheadCacheDistinguishesTuples(t *testing.T) {
	c := NewLookaheadCache(4)
	_, slot, _ := c.GetKey(1, 2, 3, 7)
	c.SetKey(1, 2, 3, 7, slot, 1)

	_, _, ok := c.GetKey(9, 9, 9, 9)
	assert.False(t, ok, "an unrelated tuple must not alias onto the same slot's cached result")
}

func TestLookaheadCacheDisabledAtZeroBits(t *testing.T) {
	c := NewLookaheadCache(0)
	assert.False(t, c.Enabled())
	_, _, ok := c.GetKey(1, 2, 3, 4)
	assert.False(t, ok)
}
