package rule

// NTTable2 is a 512-entry table that, given three 3-bit columns
// (top, mid, bot) packed as (top<<6)|(mid<<3)|bot, returns the middle-row
// successor bit for the *center* row of the 3x3 neighborhood formed by
// those columns: -1 propagates (forbidden), 0 dead, 1 alive.
//
// It is derived once from Table via the slow, obviously-correct bit-by-bit
// evaluation (see slowEvolveBit in original_source/common.h), then used as
// a fast lookup by the row evaluator.
type NTTable2 [512]int8

// BuildNTTable2 evaluates every (row1,row2,row3) column triple with the
// slow neighborhood decoder and tabulates the results.
func BuildNTTable2(t *Table) *NTTable2 {
	var nt NTTable2
	p := 0
	for row1 := 0; row1 < 8; row1++ {
		for row2 := 0; row2 < 8; row2++ {
			for row3 := 0; row3 < 8; row3++ {
				nt[p] = slowEvolveBit(t, row1, row2, row3, 0)
				p++
			}
		}
	}
	return &nt
}

// slowEvolveBit evaluates the center bit of the 3x3 neighborhood formed by
// bit `bshift` of each of three 3-bit columns, against the full 9-bit
// Table directly (no table-of-tables indirection), as a reference
// implementation for BuildNTTable2.
func slowEvolveBit(t *Table, row1, row2, row3, bshift int) int8 {
	idx := (((row2 >> bshift) & 2) << 7) |
		(((row1 >> bshift) & 2) << 6) |
		(((row1 >> bshift) & 4) << 4) |
		(((row2 >> bshift) & 4) << 3) |
		(((row3 >> bshift) & 7) << 2) |
		(((row2 >> bshift) & 1) << 1) |
		((row1 >> bshift) & 1)
	return t[idx]
}

// EvolveBitShift returns the successor bit for the neighborhood formed by
// bit `bshift` of each of three 3-bit-per-cell-wide columns packed at full
// row width, via NTTable2.
func (nt *NTTable2) EvolveBitShift(row1, row2, row3, bshift int) int8 {
	idx := (((row1 << 6) >> bshift) & 0700) +
		(((row2 << 3) >> bshift) & 070) +
		((row3 >> bshift) & 07)
	return nt[idx]
}

// EvolveBit is EvolveBitShift with bshift=0: the successor bit for the
// neighborhood at the lowest three bits of each column.
func (nt *NTTable2) EvolveBit(row1, row2, row3 int) int8 {
	idx := ((row1 << 6) & 0700) + ((row2 << 3) & 070) + (row3 & 07)
	return nt[idx]
}
