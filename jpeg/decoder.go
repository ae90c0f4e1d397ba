package jpeg

import (
	"fmt"
)

// Marker codes referenced outside the entropy-coded segment.
const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerDQT  = 0xDB
	markerDRI  = 0xDD
	markerDHT  = 0xC4
	markerAPP1 = 0xE1
)

// sofMarkers lists the thirteen valid start-of-frame codes. A baseline
// non-hierarchical stream may contain exactly one of them; only the SOF0
// frame syntax is supported for decoding, the rest are located so duplicate
// frame headers are still detected.
var sofMarkers = [13]byte{
	0xC0, 0xC1, 0xC2, 0xC3,
	0xC5, 0xC6, 0xC7,
	0xC9, 0xCA, 0xCB,
	0xCD, 0xCE, 0xCF,
}

// decoder holds the state of one decode session. Sessions come from a pool;
// the scratch buffers survive reset, everything else is cleared between uses.
type decoder struct {
	data     []byte // input buffer, read-only view owned by the session
	img      *Image // output under construction, freshly allocated per decode
	entropy  []byte // destuffed entropy-coded segment (capacity reused)
	restarts []int  // restart boundary offsets into entropy (capacity reused)
	br       bitReader
}

// errDecode is used for internal panics during the hot decoding path.
type errDecode struct{ error }

// panic triggers an internal panic to signal a decoding error in the hot path.
func (d *decoder) panic(err error) {
	panic(errDecode{err})
}

// reset clears the decoder state for reuse, preserving scratch buffer capacity.
func (d *decoder) reset() {
	entropy := d.entropy[:0]
	restarts := d.restarts[:0]

	*d = decoder{}

	d.entropy = entropy
	d.restarts = restarts
}

// read16 reads a 16-bit big-endian integer at the given buffer offset.
func (d *decoder) read16(off int) int {
	return int(d.data[off])<<8 | int(d.data[off+1])
}

// findMarker returns the offset of the 0xFF byte beginning the first
// occurrence of 0xFF <marker> at or after start. A 0xFF followed by 0x00 is
// stuffed entropy data and never matches.
func (d *decoder) findMarker(marker byte, start int) (int, bool) {
	for i := start; i+1 < len(d.data); i++ {
		if d.data[i] != 0xFF {
			continue
		}

		switch d.data[i+1] {
		case marker:
			return i, true
		case 0x00:
			i++ // stuffed byte, skip the pair
		}
	}

	return 0, false
}

// findFrameHeader locates the single frame header in the buffer, trying all
// valid SOF codes. More than one hit anywhere in the buffer is fatal.
func (d *decoder) findFrameHeader() (int, error) {
	found := -1

	for _, m := range sofMarkers {
		for start := 0; ; {
			off, ok := d.findMarker(m, start)
			if !ok {
				break
			}

			if found >= 0 {
				return 0, ErrMultipleFrameHeaders
			}

			found = off
			start = off + 2
		}
	}

	if found < 0 {
		return 0, fmt.Errorf("start of frame: %w", ErrMarkerNotFound)
	}

	return found, nil
}

// sectionLength reads and bounds-checks the declared length of the marker
// section starting at off. The returned length includes its own two bytes.
func (d *decoder) sectionLength(off int) (int, error) {
	if off+4 > len(d.data) {
		return 0, fmt.Errorf("marker 0x%02x: truncated section: %w", d.data[off+1], ErrSectionLengthMismatch)
	}

	length := d.read16(off + 2)
	if length < 2 || off+2+length > len(d.data) {
		return 0, fmt.Errorf("marker 0x%02x: declared length %d: %w", d.data[off+1], length, ErrSectionLengthMismatch)
	}

	return length, nil
}

// parseSOF reads the frame header: precision, dimensions and the component
// list with sampling factors and quantization table bindings.
func (d *decoder) parseSOF(off int) error {
	length, err := d.sectionLength(off)
	if err != nil {
		return err
	}

	if length < 8 {
		return fmt.Errorf("SOF: declared length %d: %w", length, ErrSectionLengthMismatch)
	}

	h := &d.img.Header

	if p := d.data[off+4]; p != 8 {
		return fmt.Errorf("SOF: precision %d: %w", p, ErrUnsupportedPrecision)
	}

	h.Height = d.read16(off + 5)
	h.Width = d.read16(off + 7)

	h.NumComponents = int(d.data[off+9])
	switch h.NumComponents {
	case 1, 3:
	default:
		return fmt.Errorf("SOF: %d components: %w", h.NumComponents, ErrUnsupportedComponentCount)
	}

	if length != 8+3*h.NumComponents {
		return fmt.Errorf("SOF: declared length %d for %d components: %w",
			length, h.NumComponents, ErrSectionLengthMismatch)
	}

	for i := 0; i < h.NumComponents; i++ {
		base := off + 10 + 3*i
		c := &h.Components[i]

		c.ID = int(d.data[base])
		if c.ID < 1 || c.ID > 3 {
			return fmt.Errorf("SOF: component %d id %d: %w", i, c.ID, ErrInvalidComponentID)
		}

		samp := d.data[base+1]
		if samp>>4 != 1 || samp&0x0F != 1 {
			return fmt.Errorf("SOF: component %d sampling %dx%d: %w",
				c.ID, samp>>4, samp&0x0F, ErrUnsupportedSampling)
		}

		c.QuantTableID = int(d.data[base+2])
		if c.QuantTableID > 3 {
			return fmt.Errorf("SOF: component %d quantization table %d: %w",
				c.ID, c.QuantTableID, ErrInvalidQuantizationTableID)
		}
	}

	return nil
}

// parseDQT reads one quantization table section, which may hold several
// tables back-to-back. Only 8-bit table entries are accepted.
func (d *decoder) parseDQT(off int) error {
	length, err := d.sectionLength(off)
	if err != nil {
		return err
	}

	remaining := length - 2
	pos := off + 4

	for remaining > 0 {
		if remaining < 65 {
			return fmt.Errorf("DQT: %d trailing bytes: %w", remaining, ErrSectionLengthMismatch)
		}

		pq := d.data[pos] >> 4
		tq := int(d.data[pos] & 0x0F)

		if pq != 0 {
			return fmt.Errorf("DQT: 16-bit table entries: %w", ErrUnsupportedPrecision)
		}

		if tq > 3 {
			return fmt.Errorf("DQT: table id %d: %w", tq, ErrInvalidQuantizationTableID)
		}

		t := &d.img.QuantTables[tq]
		copy(t.Values[:], d.data[pos+1:pos+65])
		t.Set = true

		pos += 65
		remaining -= 65
	}

	return nil
}

// parseDRI reads the restart interval. The section is fixed-size.
func (d *decoder) parseDRI(off int) error {
	length, err := d.sectionLength(off)
	if err != nil {
		return err
	}

	if length != 4 {
		return fmt.Errorf("DRI: declared length %d: %w", length, ErrSectionLengthMismatch)
	}

	d.img.RestartInterval = d.read16(off + 4)

	return nil
}

// decode parses all marker sections, and unless headerOnly is set, destuffs
// the entropy-coded segment and decodes every MCU.
func (d *decoder) decode(data []byte, headerOnly bool) (*Image, error) {
	d.data = data
	d.img = &Image{}
	d.img.Orientation = 1

	if len(data) < 2 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, ErrMalformedContainer
	}

	sofOff, err := d.findFrameHeader()
	if err != nil {
		return nil, err
	}

	if err := d.parseSOF(sofOff); err != nil {
		return nil, err
	}

	for start := 2; ; {
		off, ok := d.findMarker(markerDQT, start)
		if !ok {
			break
		}

		length, err := d.sectionLength(off)
		if err != nil {
			return nil, err
		}

		if err := d.parseDQT(off); err != nil {
			return nil, err
		}

		start = off + 2 + length
	}

	for start := 2; ; {
		off, ok := d.findMarker(markerDHT, start)
		if !ok {
			break
		}

		length, err := d.sectionLength(off)
		if err != nil {
			return nil, err
		}

		if err := d.parseDHT(off); err != nil {
			return nil, err
		}

		start = off + 2 + length
	}

	// DRI is optional; its absence simply leaves restarts disabled.
	if off, ok := d.findMarker(markerDRI, 2); ok {
		if err := d.parseDRI(off); err != nil {
			return nil, err
		}
	}

	for start := 2; ; {
		off, ok := d.findMarker(markerAPP1, start)
		if !ok {
			break
		}

		start = d.parseAPP1(off)
	}

	if headerOnly {
		return d.img, nil
	}

	sosOff, ok := d.findMarker(markerSOS, 2)
	if !ok {
		return nil, fmt.Errorf("start of scan: %w", ErrMarkerNotFound)
	}

	entropyStart, err := d.parseSOS(sosOff)
	if err != nil {
		return nil, err
	}

	if err := d.destuff(entropyStart); err != nil {
		return nil, err
	}

	if err := d.decodeScan(); err != nil {
		return nil, err
	}

	return d.img, nil
}
