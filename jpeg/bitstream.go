package jpeg

import (
	"fmt"
)

// destuff strips byte stuffing and restart markers from the entropy-coded
// segment starting at off, producing a contiguous clean buffer for the bit
// reader. Restart markers are not emitted; their positions in the clean
// buffer are recorded so the scan decoder can verify byte alignment at each
// restart boundary. Destuffing halts at EOI; anything after it is ignored.
func (d *decoder) destuff(off int) error {
	out := d.entropy[:0]
	marks := d.restarts[:0]

	for i := off; i < len(d.data); {
		b := d.data[i]
		if b != 0xFF {
			out = append(out, b)
			i++

			continue
		}

		if i+1 >= len(d.data) {
			// Lone 0xFF at the end of the buffer, treat as data.
			out = append(out, 0xFF)

			break
		}

		m := d.data[i+1]
		switch {
		case m == 0x00:
			// Stuffed byte.
			out = append(out, 0xFF)
			i += 2
		case m >= 0xD0 && m <= 0xD7:
			marks = append(marks, len(out))
			i += 2
		case m == 0xFF:
			// Fill byte; the second 0xFF may still begin a marker.
			i++
		case m == markerEOI:
			d.entropy, d.restarts = out, marks

			return nil
		default:
			d.entropy, d.restarts = out, marks

			return fmt.Errorf("marker 0x%02x: %w", m, ErrUnexpectedMarkerInEntropyStream)
		}
	}

	d.entropy, d.restarts = out, marks

	return nil
}

// bitReader is an MSB-first bit-level cursor over the destuffed entropy
// stream. pos is the byte offset of the next unread byte, bit the bit offset
// within it (0 = most significant). It never reads past the buffer: an
// overrun aborts the decode.
type bitReader struct {
	data []byte
	pos  int
	bit  int
}

// readBit consumes and returns the next bit.
func (r *bitReader) readBit() int32 {
	if r.pos >= len(r.data) {
		panic(errDecode{ErrUnexpectedEndOfEntropyStream})
	}

	b := int32(r.data[r.pos]>>(7-r.bit)) & 1

	r.bit++
	if r.bit == 8 {
		r.bit = 0
		r.pos++
	}

	return b
}

// readBits consumes n bits (n <= 16) and returns them MSB-first.
func (r *bitReader) readBits(n int) int32 {
	var v int32
	for i := 0; i < n; i++ {
		v = v<<1 | r.readBit()
	}

	return v
}

// align discards the remainder of the current byte and moves the cursor to
// the next byte boundary. Used once per restart boundary.
func (r *bitReader) align() {
	if r.bit != 0 {
		r.bit = 0
		r.pos++
	}
}
