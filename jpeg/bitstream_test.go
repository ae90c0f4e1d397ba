package jpeg

import (
	"bytes"
	"errors"
	"testing"
)

func destuffBytes(t *testing.T, in []byte) ([]byte, []int) {
	t.Helper()

	d := &decoder{data: in}
	if err := d.destuff(0); err != nil {
		t.Fatalf("destuff failed: %v", err)
	}

	return d.entropy, d.restarts
}

// TestDestuffCleanInput checks that input without any 0xFF bytes passes
// through unchanged.
func TestDestuffCleanInput(t *testing.T) {
	in := []byte{0x01, 0x02, 0x7F, 0x00, 0xFE}

	out, marks := destuffBytes(t, in)
	if !bytes.Equal(out, in) {
		t.Errorf("got % x, want % x", out, in)
	}

	if len(marks) != 0 {
		t.Errorf("unexpected restart boundaries: %v", marks)
	}
}

// TestDestuffStuffedBytes checks that each 0xFF 0x00 pair collapses to a
// single 0xFF data byte.
func TestDestuffStuffedBytes(t *testing.T) {
	out, _ := destuffBytes(t, []byte{0xFF, 0x00, 0xFF, 0x00})

	if want := []byte{0xFF, 0xFF}; !bytes.Equal(out, want) {
		t.Errorf("got % x, want % x", out, want)
	}
}

// TestDestuffRestartMarker checks that a restart marker is dropped from the
// output but recorded as a boundary at the right clean-buffer offset.
func TestDestuffRestartMarker(t *testing.T) {
	out, marks := destuffBytes(t, []byte{0xAA, 0xFF, 0xD3, 0xBB})

	if want := []byte{0xAA, 0xBB}; !bytes.Equal(out, want) {
		t.Errorf("got % x, want % x", out, want)
	}

	if len(marks) != 1 || marks[0] != 1 {
		t.Errorf("restart boundaries = %v, want [1]", marks)
	}
}

// TestDestuffFillBytes checks that consecutive 0xFF padding is dropped while
// the final 0xFF of the run still prefixes whatever follows.
func TestDestuffFillBytes(t *testing.T) {
	out, _ := destuffBytes(t, []byte{0xFF, 0xFF, 0x00})
	if want := []byte{0xFF}; !bytes.Equal(out, want) {
		t.Errorf("padding before stuffing: got % x, want % x", out, want)
	}

	out, _ = destuffBytes(t, []byte{0x11, 0xFF, 0xFF, 0xD9, 0x22})
	if want := []byte{0x11}; !bytes.Equal(out, want) {
		t.Errorf("padding before EOI: got % x, want % x", out, want)
	}
}

// TestDestuffStopsAtEOI checks that bytes after the EOI marker are ignored.
func TestDestuffStopsAtEOI(t *testing.T) {
	out, _ := destuffBytes(t, []byte{0x11, 0xFF, 0xD9, 0x22, 0x33})

	if want := []byte{0x11}; !bytes.Equal(out, want) {
		t.Errorf("got % x, want % x", out, want)
	}
}

// TestDestuffTrailingFF checks that a lone 0xFF at the end of the buffer is
// treated as data.
func TestDestuffTrailingFF(t *testing.T) {
	out, _ := destuffBytes(t, []byte{0xAA, 0xFF})

	if want := []byte{0xAA, 0xFF}; !bytes.Equal(out, want) {
		t.Errorf("got % x, want % x", out, want)
	}
}

// TestDestuffUnexpectedMarker checks that any non-restart, non-EOI marker
// inside the entropy segment is fatal.
func TestDestuffUnexpectedMarker(t *testing.T) {
	d := &decoder{data: []byte{0x11, 0xFF, 0xDC, 0x22}}

	err := d.destuff(0)
	if !errors.Is(err, ErrUnexpectedMarkerInEntropyStream) {
		t.Fatalf("got %v, want ErrUnexpectedMarkerInEntropyStream", err)
	}
}

// TestBitReaderMSBFirst checks bit extraction order and widths.
func TestBitReaderMSBFirst(t *testing.T) {
	r := bitReader{data: []byte{0xA5, 0x3C}}

	if got := r.readBits(4); got != 0xA {
		t.Errorf("first nibble = %#x, want 0xa", got)
	}

	if got := r.readBits(4); got != 0x5 {
		t.Errorf("second nibble = %#x, want 0x5", got)
	}

	if got := r.readBits(8); got != 0x3C {
		t.Errorf("second byte = %#x, want 0x3c", got)
	}
}

// TestBitReaderAlign checks that align discards the rest of a started byte
// and is a no-op on a byte boundary.
func TestBitReaderAlign(t *testing.T) {
	r := bitReader{data: []byte{0xFF, 0x42}}

	r.readBits(3)
	r.align()

	if r.pos != 1 || r.bit != 0 {
		t.Fatalf("after align: pos=%d bit=%d, want 1/0", r.pos, r.bit)
	}

	if got := r.readBits(8); got != 0x42 {
		t.Errorf("after align readBits = %#x, want 0x42", got)
	}

	r = bitReader{data: []byte{0x00, 0x00}}
	r.readBits(8)
	r.align()

	if r.pos != 1 {
		t.Errorf("align on boundary moved pos to %d, want 1", r.pos)
	}
}

// TestBitReaderOverrun checks that reading past the destuffed buffer aborts.
func TestBitReaderOverrun(t *testing.T) {
	r := bitReader{data: []byte{0x00}}

	err := catchDecode(func() { r.readBits(9) })
	if !errors.Is(err, ErrUnexpectedEndOfEntropyStream) {
		t.Fatalf("got %v, want ErrUnexpectedEndOfEntropyStream", err)
	}
}
