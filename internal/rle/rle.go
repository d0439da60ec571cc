// Package rle implements the byte-level run-length encoder result emission
// serializes patterns into (spec.md section 4.9/6), ported from the
// original engine's sendRLE/putRow accumulator.
package rle

import "strconv"

const maxLineWidth = 63

// Buffer accumulates RLE tokens ('b' dead, 'o' alive, '$' row break, '!'
// terminator) with the same run-collapsing and line-wrap behavior as the
// original sendRLE, growing an in-memory byte buffer instead of writing to
// stdout.
type Buffer struct {
	out       []byte
	runChar   byte
	runLen    int
	lineWidth int
}

// New returns an empty RLE buffer.
func New() *Buffer { return &Buffer{} }

// send appends one logical token, or (c == 0) flushes the pending run
// without starting a new one.
func (b *Buffer) send(c byte) {
	if b.runLen > 0 && c != b.runChar {
		if b.lineWidth >= maxLineWidth {
			if b.runChar != '\n' {
				b.out = append(b.out, '\n')
			}
			b.lineWidth = 0
		}
		b.lineWidth++
		if b.runLen == 1 {
			b.out = append(b.out, b.runChar)
		} else {
			b.out = append(b.out, strconv.Itoa(b.runLen)...)
			b.out = append(b.out, b.runChar)
			b.lineWidth++
			if b.runLen > 9 {
				b.lineWidth++
			}
		}
		b.runLen = 0
		if b.runChar == '\n' {
			b.lineWidth = 0
		}
	}
	if c != 0 {
		b.runLen++
		b.runChar = c
	} else {
		b.lineWidth = 0
	}
}

// PutRow appends one physical row (held in the low `width` valid bits of
// r, bit 0 = leftmost physical column) as alive/dead tokens followed by a
// row-break, skipping `shift` leading blank columns before the first real
// cell (used for a gutter search's vertical skew).
func (b *Buffer) PutRow(r uint32, shift int) {
	for r != 0 {
		if shift == 0 {
			if r&1 != 0 {
				b.send('o')
			} else {
				b.send('b')
			}
		} else {
			shift--
		}
		r >>= 1
	}
	b.send('$')
}

// Header appends the `x = W, y = H, rule = R` line Golly-format RLE
// expects before the body.
func (b *Buffer) Header(width, height int, rule string) {
	b.out = append(b.out, []byte("x = "+strconv.Itoa(width)+", y = "+strconv.Itoa(height)+", rule = "+rule+"\n")...)
}

// Finish folds the pending run into a single '!' terminator (Golly RLE
// omits the row-break immediately before the terminator) and returns the
// accumulated bytes.
func (b *Buffer) Finish() []byte {
	b.runChar = '!'
	b.send(0)
	return b.out
}
