package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLife(t *testing.T) {
	tab, err := Parse("B3/S23")
	require.NoError(t, err)
	// B3: three live neighbors with center dead -> birth. All 3-neighbor
	// birth-class indices for the life rule live in rulekeys class "3".
	found := false
	for i, key := range rulekeys {
		if key[0] == '3' {
			if tab[i] != 1 {
				t.Fatalf("expected B3 isorotation %q alive, got %d", key, tab[i])
			}
			found = true
		}
	}
	assert.True(t, found)
	for i, key := range rulekeys {
		if key[0] == '4' {
			assert.EqualValuesf(t, 0, tab[i], "B4 class %q should be dead under B3/S23", key)
		}
	}
}

func TestParseForbidden(t *testing.T) {
	tab, err := Parse("B3/S23~4ei")
	require.NoError(t, err)
	found := false
	for i, key := range rulekeys {
		if key[0] == '4' && (key[1] == 'e' || key[1] == 'i') {
			assert.EqualValuesf(t, -1, tab[256+i], "S4%c should be forbidden", key[1])
			found = true
		}
	}
	assert.True(t, found)
}

func TestParseRejectsP0Birth(t *testing.T) {
	_, err := Parse("B0/S23")
	require.Error(t, err)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "X3/S23", "B3S23", "B3/S23/", "B9/S23"} {
		_, err := Parse(bad)
		assert.Errorf(t, err, "expected error for rule %q", bad)
	}
}

func TestBuildNTTable2RoundTrips(t *testing.T) {
	tab, err := Parse("B3/S23")
	require.NoError(t, err)
	nt := BuildNTTable2(tab)
	// The all-dead 3x3 neighborhood (every column 0) must evolve dead
	// (non-P0-birth rules always have this property).
	assert.EqualValues(t, 0, nt.EvolveBit(0, 0, 0))
}
