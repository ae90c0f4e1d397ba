package jpeg

import (
	"fmt"
)

// maxSymbols is the largest number of symbols a single Huffman table may
// declare (the full baseline AC alphabet).
const maxSymbols = 162

// HuffmanTable is one DC or AC table slot, reconstructed from the compact
// on-wire per-length symbol counts.
//
// Offsets[L] is the cumulative number of symbols with code length <= L
// (Offsets[0] is always 0), and Symbols lists the symbol values in canonical
// code order. The minCode/maxCode ranges are derived once after parsing and
// are read-only during decoding.
type HuffmanTable struct {
	Set     bool
	Offsets [17]int
	Symbols []uint8

	minCode, maxCode [17]int32
	valIndex         [17]int
}

// build derives the canonical code ranges from Offsets. Codes of length 1
// start at value 0; moving to the next length left-shifts the running code
// value, so the code space doubles each level and unused leaves carry
// forward. Lengths with no symbols get maxCode -1 and can never match.
func (t *HuffmanTable) build() {
	code := int32(0)

	for l := 1; l <= 16; l++ {
		n := t.Offsets[l] - t.Offsets[l-1]

		t.valIndex[l] = t.Offsets[l-1]
		t.minCode[l] = code

		if n == 0 {
			t.maxCode[l] = -1
		} else {
			code += int32(n)
			t.maxCode[l] = code - 1
		}

		code <<= 1
	}
}

// parseDHT reads one Huffman table section, which may hold several tables
// back-to-back. Each table is rebuilt into canonical form and stored in the
// header slot named by its class and id.
func (d *decoder) parseDHT(off int) error {
	length, err := d.sectionLength(off)
	if err != nil {
		return err
	}

	remaining := length - 2
	pos := off + 4
	h := &d.img.Header

	for remaining > 0 {
		if remaining < 17 {
			return fmt.Errorf("DHT: %d trailing bytes: %w", remaining, ErrSectionLengthMismatch)
		}

		tc := d.data[pos] >> 4
		th := int(d.data[pos] & 0x0F)
		if th > 3 {
			return fmt.Errorf("DHT: table id %d: %w", th, ErrInvalidHuffmanTableID)
		}

		var t *HuffmanTable
		if tc == 1 {
			t = &h.ACTables[th]
		} else {
			t = &h.DCTables[th]
		}

		total := 0
		t.Offsets[0] = 0

		for l := 1; l <= 16; l++ {
			total += int(d.data[pos+l])
			if total > maxSymbols {
				return fmt.Errorf("DHT: table %d declares %d symbols: %w", th, total, ErrTooManySymbols)
			}

			t.Offsets[l] = total
		}

		if remaining < 17+total {
			return fmt.Errorf("DHT: table %d needs %d symbol bytes, %d left: %w",
				th, total, remaining-17, ErrSectionLengthMismatch)
		}

		t.Symbols = append(t.Symbols[:0], d.data[pos+17:pos+17+total]...)
		t.Set = true
		t.build()

		pos += 17 + total
		remaining -= 17 + total
	}

	return nil
}

// decodeSymbol reads one bit at a time, accumulating a code value, and
// returns the symbol it selects. Prefix codes guarantee at most one match
// length; no match after 16 bits means the stream and the table disagree.
func (d *decoder) decodeSymbol(t *HuffmanTable) uint8 {
	code := int32(0)

	for l := 1; l <= 16; l++ {
		code = code<<1 | d.br.readBit()

		if code <= t.maxCode[l] {
			return t.Symbols[t.valIndex[l]+int(code-t.minCode[l])]
		}
	}

	d.panic(ErrInvalidHuffmanCode)

	return 0
}
