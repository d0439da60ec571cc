package rle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderFormatsGollyLine(t *testing.T) {
	b := New()
	b.Header(5, 3, "B3/S23")
	assert.Equal(t, "x = 5, y = 3, rule = B3/S23\n", string(b.out))
}

func TestPutRowSingleRowTerminates(t *testing.T) {
	b := New()
	b.Header(3, 1, "B3/S23")
	b.PutRow(0b101, 0)
	out := string(b.Finish())

	require.True(t, strings.HasPrefix(out, "x = 3, y = 1, rule = B3/S23\n"))
	body := strings.TrimPrefix(out, "x = 3, y = 1, rule = B3/S23\n")
	assert.True(t, strings.HasSuffix(body, "!"))
	assert.Contains(t, body, "o")
	assert.Contains(t, body, "b")
}

func TestPutRowCollapsesRunsOfThreeOrMore(t *testing.T) {
	b := New()
	b.PutRow(0b1111, 0) // four alive cells in a row
	out := string(b.Finish())
	assert.Contains(t, out, "4o")
}

func TestPutRowShiftSkipsLeadingColumns(t *testing.T) {
	withShift := New()
	withShift.PutRow(0b1000, 2)
	gotWithShift := string(withShift.Finish())

	noShift := New()
	noShift.PutRow(0b1000, 0)
	gotNoShift := string(noShift.Finish())

	assert.NotEqual(t, gotWithShift, gotNoShift)
}

func TestMultipleRowsSeparatedByDollar(t *testing.T) {
	b := New()
	b.PutRow(0b1, 0)
	b.PutRow(0b1, 0)
	out := string(b.Finish())
	assert.Contains(t, out, "$")
}
