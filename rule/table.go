// Package rule parses Hensel-notation B/S rule strings into the 512-entry
// evaluation table the search engine runs against.
package rule

import (
	"strings"

	"github.com/pkg/errors"
)

// Table is a 512-entry rule evaluator indexed by a 9-bit neighborhood
// packing: bit 8 (256) is the center cell, so 0..255 are birth entries and
// 256..511 survival entries, and the low 8 bits encode the outer neighbors
// as the rulekeys index does. Table[n] is 1 if the center cell is
// alive in the next generation, 0 if dead, and -1 if the neighborhood is
// forbidden (the search must never produce it, at any phase).
type Table [512]int8

// rulekeys maps each of the 256 (neighbor-count, sub-case) indices used by
// Hensel notation to its two-character key, e.g. "3i", "2a". Index bs+i,
// for bs in {0 (births), 256 (survivals)}, corresponds to an outer
// neighbor-count/isorotation-class pair; see original_source/common.h.
var rulekeys = [256]string{
	"0", "1c", "1e", "2a", "1c", "2c", "2a", "3i",
	"1e", "2k", "2e", "3j", "2a", "3n", "3a", "4a",
	"1c", "2n", "2k", "3q", "2c", "3c", "3n", "4n",
	"2a", "3q", "3j", "4w", "3i", "4n", "4a", "5a",
	"1e", "2k", "2i", "3r", "2k", "3y", "3r", "4t",
	"2e", "3k", "3e", "4j", "3j", "4k", "4r", "5n",
	"2a", "3q", "3r", "4z", "3n", "4y", "4i", "5r",
	"3a", "4q", "4r", "5q", "4a", "5j", "5i", "6a",
	"1c", "2c", "2k", "3n", "2n", "3c", "3q", "4n",
	"2k", "3y", "3k", "4k", "3q", "4y", "4q", "5j",
	"2c", "3c", "3y", "4y", "3c", "4c", "4y", "5e",
	"3n", "4y", "4k", "5k", "4n", "5e", "5j", "6e",
	"2a", "3n", "3r", "4i", "3q", "4y", "4z", "5r",
	"3j", "4k", "4j", "5y", "4w", "5k", "5q", "6k",
	"3i", "4n", "4t", "5r", "4n", "5e", "5r", "6i",
	"4a", "5j", "5n", "6k", "5a", "6e", "6a", "7e",
	"1e", "2a", "2e", "3a", "2k", "3n", "3j", "4a",
	"2i", "3r", "3e", "4r", "3r", "4i", "4r", "5i",
	"2k", "3q", "3k", "4q", "3y", "4y", "4k", "5j",
	"3r", "4z", "4j", "5q", "4t", "5r", "5n", "6a",
	"2e", "3j", "3e", "4r", "3k", "4k", "4j", "5n",
	"3e", "4j", "4e", "5c", "4j", "5y", "5c", "6c",
	"3j", "4w", "4j", "5q", "4k", "5k", "5y", "6k",
	"4r", "5q", "5c", "6n", "5n", "6k", "6c", "7c",
	"2a", "3i", "3j", "4a", "3q", "4n", "4w", "5a",
	"3r", "4t", "4j", "5n", "4z", "5r", "5q", "6a",
	"3n", "4n", "4k", "5j", "4y", "5e", "5k", "6e",
	"4i", "5r", "5y", "6k", "5r", "6i", "6k", "7e",
	"3a", "4a", "4r", "5i", "4q", "5j", "5q", "6a",
	"4r", "5n", "5c", "6c", "5q", "6k", "6n", "7c",
	"4a", "5a", "5n", "6a", "5j", "6e", "6k", "7e",
	"5i", "6a", "6c", "7c", "6a", "7e", "7c", "8",
}

// Parse parses a Hensel-notation rule string, e.g. "B3/S23" or
// "B3/S23~4ei" (the ~ suffix marks a half's listed isorotation classes, or
// their complement when preceded by a digit-list negation, as forbidden
// rather than merely absent).
//
// Parse never accepts a rule whose B0 (all-dead-neighborhood) entry
// produces life; the search engine has no support for P0-birth rules
// (spec Non-goals), so such a rule is a configuration error here, where
// the original implementation only warned.
func Parse(s string) (*Table, error) {
	var tab Table
	p := s
	for bs := 0; bs < 512; bs += 256 {
		half := "B"
		if bs != 0 {
			half = "S"
		}
		if len(p) == 0 {
			return nil, errors.Errorf("rule %q: expected %s at position %d", s, half, len(s)-len(p))
		}
		c := p[0]
		if bs == 0 {
			if c != 'B' && c != 'b' {
				return nil, errors.Errorf("rule %q: expected B at start of rule", s)
			}
		} else if c != 'S' && c != 's' {
			return nil, errors.Errorf("rule %q: expected S after slash", s)
		}
		p = p[1:]

		allowed := 1
		for len(p) > 0 && p[0] != '/' {
			if p[0] == '~' {
				p = p[1:]
				if allowed == -1 || (len(p) > 0 && p[0] == '~') {
					if bs != 0 {
						return nil, errors.Errorf("rule %q: can't have multiple tildes in survival conditions", s)
					}
					return nil, errors.Errorf("rule %q: can't have multiple tildes in birth conditions", s)
				}
				if len(p) == 0 || p[0] == '/' {
					continue
				}
				allowed = -1
			}
			if len(p) == 0 || p[0] < '0' || p[0] > '9' {
				return nil, errors.Errorf("rule %q: missing number in rule", s)
			}
			if p[0] == '9' {
				return nil, errors.Errorf("rule %q: unexpected character in rule", s)
			}
			dig := p[0]
			p = p[1:]
			neg := false

			isBareDigitFollow := len(p) == 0 || p[0] == '/' || p[0] == '~' || ('0' <= p[0] && p[0] <= '8') || (p[0] == '-' && allowed == 1)
			if isBareDigitFollow {
				for i, key := range rulekeys {
					if key[0] == dig {
						tab[bs+i] = int8(allowed)
					}
				}
			}

			var tempTab [256]int
			forbiddenCount := 0
			if len(p) > 0 && p[0] == '-' {
				neg = true
				p = p[1:]
			}
			for len(p) > 0 && p[0] != '/' && p[0] != '~' && !('0' <= p[0] && p[0] <= '8') {
				ch := p[0]
				if ch == '-' {
					return nil, errors.Errorf("rule %q: improperly placed negation sign", s)
				}
				if !('a' <= ch && ch <= 'z') {
					return nil, errors.Errorf("rule %q: unexpected character in rule", s)
				}
				used := 0
				for i, key := range rulekeys {
					if key[0] != dig {
						continue
					}
					if len(key) > 1 && key[1] == ch {
						if allowed == 1 {
							v := 1
							if neg {
								v = 0
							}
							tab[bs+i] = int8(v)
						} else if !neg {
							tab[bs+i] = -1
						}
						used++
					} else if neg && allowed == -1 {
						tempTab[i]++
					}
				}
				if neg && allowed == -1 {
					forbiddenCount++
				}
				if used == 0 {
					return nil, errors.Errorf("rule %q: unexpected character in rule", s)
				}
				p = p[1:]
			}
			if neg && allowed == -1 {
				for i := range tempTab {
					if tempTab[i] == forbiddenCount {
						tab[bs+i] = -1
					}
				}
			}
		}

		if bs == 0 {
			if len(p) == 0 || p[0] != '/' {
				return nil, errors.Errorf("rule %q: missing expected slash between B and S", s)
			}
			p = p[1:]
		} else if len(p) != 0 {
			return nil, errors.Errorf("rule %q: extra unparsed junk at end of rule string", s)
		}
	}

	if tab[0] == 1 {
		return nil, errors.Errorf("rule %q: P0 birth rules (life from an empty neighborhood) are not supported", s)
	}
	return &tab, nil
}

// String reconstructs a canonical "Bxx/Sxx" representation, without any
// forbidden (~) suffixes, suitable for dump-file headers and RLE output.
func (t *Table) String() string {
	return "B" + digitsWithSuffix(t, 0) + "/S" + digitsWithSuffix(t, 256)
}

func digitsWithSuffix(t *Table, bs int) string {
	var out strings.Builder
	seen := map[byte]bool{}
	for i, key := range rulekeys {
		if t[bs+i] == 1 && !seen[key[0]] {
			out.WriteByte(key[0])
			seen[key[0]] = true
		}
	}
	return out.String()
}
