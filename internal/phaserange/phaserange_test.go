package phaserange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildFwdOffInvertsBackOff(t *testing.T) {
	tbl := Build(8, 1)
	for i := 0; i < tbl.Period; i++ {
		back := tbl.BackOff[i]
		assert.Equal(t, back, tbl.FwdOff[(i+back)%tbl.Period])
	}
}

func TestBuildCoprimeGivesFullCycle(t *testing.T) {
	tbl := Build(5, 2)
	assert.Len(t, tbl.BackOff, 5)
	for _, b := range tbl.BackOff {
		assert.GreaterOrEqual(t, b, 0)
	}
}

func TestEquivRangesNilWhenCoprime(t *testing.T) {
	assert.Nil(t, EquivRanges(7, 3))
}

func TestEquivRangesPartitionsBySmallestPrimeDivisor(t *testing.T) {
	// gcd(12,4) = 4, smallest prime divisor 2, so step = 12/2 = 6: two
	// blocks, {0..5} and {6..11}, and position p in one block shares a
	// class with p+6 in the other.
	tbl := EquivRanges(12, 4)
	assert.NotNil(t, tbl)
	assert.Equal(t, 6, tbl.Step)
	assert.Equal(t, EquivClass(tbl, 0), EquivClass(tbl, 6))
	assert.NotEqual(t, EquivClass(tbl, 0), EquivClass(tbl, 1))

	b0, ok := tbl.BlockOf(0)
	assert.True(t, ok)
	b1, ok := tbl.BlockOf(6)
	assert.True(t, ok)
	assert.NotEqual(t, b0, b1)
}

func TestEquivClassNilTableIsIdentity(t *testing.T) {
	assert.Equal(t, 4, EquivClass(nil, 4))
}
