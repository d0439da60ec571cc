package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtensionTableSaveGetRelease(t *testing.T) {
	tbl := NewExtensionTable(4)
	ext := &Extension{StartRow: 10, Rows: []Row{1, 2, 3}}

	idx, err := tbl.Save(ext)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, idx, extensionBase)

	got := tbl.Get(idx)
	assert.Same(t, ext, got)

	tbl.Release(idx)
	assert.Nil(t, tbl.Get(idx))
}

func TestExtensionTableNoneIsNil(t *testing.T) {
	tbl := NewExtensionTable(4)
	assert.Nil(t, tbl.Get(ExtensionNone))
}

func TestExtensionTableExhaustion(t *testing.T) {
	tbl := NewExtensionTable(0) // limit = 2, i.e. only the two sentinels
	_, err := tbl.Save(&Extension{})
	assert.Error(t, err)
}

func TestMatchesAncestorAgreesOnOverlap(t *testing.T) {
	ext := &Extension{StartRow: 2, Rows: []Row{5, 6}}
	owner := []Row{0, 0, 5, 6}
	assert.True(t, MatchesAncestor(ext, owner))

	owner2 := []Row{0, 0, 5, 7}
	assert.False(t, MatchesAncestor(ext, owner2))
}

func TestMatchesAncestorNilExtensionAlwaysMatches(t *testing.T) {
	assert.True(t, MatchesAncestor(nil, []Row{1, 2, 3}))
}
