package jpeg

import (
	"fmt"
)

// zigzag maps the position of a coefficient in the entropy-coded stream to
// its natural position in the 8x8 block.
var zigzag = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10, 17, 24, 32, 25, 18,
	11, 4, 5, 12, 19, 26, 33, 40, 48, 41, 34, 27, 20, 13, 6, 7, 14, 21, 28, 35,
	42, 49, 56, 57, 50, 43, 36, 29, 22, 15, 23, 30, 37, 44, 51, 58, 59, 52, 45,
	38, 31, 39, 46, 53, 60, 61, 54, 47, 55, 62, 63,
}

// parseSOS reads the scan header, binding each component to its DC and AC
// table slots and validating the fixed baseline spectral parameters. It
// returns the offset of the first entropy-coded byte.
func (d *decoder) parseSOS(off int) (int, error) {
	length, err := d.sectionLength(off)
	if err != nil {
		return 0, err
	}

	h := &d.img.Header

	if length < 3 {
		return 0, fmt.Errorf("SOS: declared length %d: %w", length, ErrSectionLengthMismatch)
	}

	ns := int(d.data[off+4])
	if ns != h.NumComponents {
		return 0, fmt.Errorf("SOS: %d scan components, frame has %d: %w",
			ns, h.NumComponents, ErrUnsupportedComponentCount)
	}

	if length != 6+2*ns {
		return 0, fmt.Errorf("SOS: declared length %d for %d components: %w",
			length, ns, ErrSectionLengthMismatch)
	}

	for i := 0; i < ns; i++ {
		base := off + 5 + 2*i
		id := int(d.data[base])

		var c *Component
		for k := 0; k < h.NumComponents; k++ {
			if h.Components[k].ID == id {
				c = &h.Components[k]

				break
			}
		}

		if c == nil {
			return 0, fmt.Errorf("SOS: component id %d: %w", id, ErrUnknownComponentID)
		}

		dc := int(d.data[base+1] >> 4)
		ac := int(d.data[base+1] & 0x0F)

		if dc > 3 || !h.DCTables[dc].Set {
			return 0, fmt.Errorf("SOS: component %d dc table %d: %w", id, dc, ErrHuffmanTableNotDefined)
		}

		if ac > 3 || !h.ACTables[ac].Set {
			return 0, fmt.Errorf("SOS: component %d ac table %d: %w", id, ac, ErrHuffmanTableNotDefined)
		}

		c.dcTabSel = dc
		c.acTabSel = ac
	}

	ss := int(d.data[off+5+2*ns])
	se := int(d.data[off+6+2*ns])
	if se-ss != 63 {
		return 0, fmt.Errorf("SOS: spectral selection %d..%d: %w", ss, se, ErrUnsupportedSpectralRange)
	}

	if sa := d.data[off+7+2*ns]; sa != 0 {
		return 0, fmt.Errorf("SOS: successive approximation 0x%02x: %w", sa, ErrUnsupportedProgressiveMode)
	}

	return off + 2 + length, nil
}

// extend performs magnitude-category sign extension: a raw value below
// 2^(cat-1) encodes a negative coefficient.
func extend(v int32, cat int) int32 {
	if v < 1<<(cat-1) {
		return v - (1<<cat - 1)
	}

	return v
}

// decodeBlock decodes the 8x8 coefficient block of one component: a single
// predicted DC coefficient followed by run-length coded AC coefficients,
// placed at their zig-zag-expanded natural positions.
func (d *decoder) decodeBlock(c *Component, blk *Block) {
	h := &d.img.Header

	*blk = Block{}

	dcTab := &h.DCTables[c.dcTabSel]
	acTab := &h.ACTables[c.acTabSel]

	cat := int(d.decodeSymbol(dcTab))
	if cat > 11 {
		d.panic(fmt.Errorf("dc category %d: %w", cat, ErrInvalidDCCategory))
	}

	var diff int32
	if cat != 0 {
		diff = extend(d.br.readBits(cat), cat)
	}

	c.dcPred += diff
	blk[0] = c.dcPred

	for k := 1; k <= 63; {
		sym := d.decodeSymbol(acTab)
		if sym == 0x00 {
			// End of block: the remaining positions are already zero.
			return
		}

		run := int(sym >> 4)
		cat := int(sym & 0x0F)

		if sym == 0xF0 {
			run, cat = 16, 0
		}

		if cat > 10 {
			d.panic(fmt.Errorf("ac category %d: %w", cat, ErrInvalidACCategory))
		}

		k += run

		if cat == 0 {
			if k > 64 {
				d.panic(fmt.Errorf("zero run of %d at coefficient %d: %w", run, k-run, ErrZeroRunOverflow))
			}

			continue
		}

		if k > 63 {
			d.panic(fmt.Errorf("zero run of %d at coefficient %d: %w", run, k-run, ErrZeroRunOverflow))
		}

		blk[zigzag[k]] = extend(d.br.readBits(cat), cat)
		k++
	}
}

// decodeScan walks every MCU in raster order, decoding one block per
// component. At each restart boundary the dc predictors reset and the bit
// reader realigns to the byte boundary recorded by the destuffer.
// Errors panicked out of the hot path are recovered here.
func (d *decoder) decodeScan() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if de, ok := r.(errDecode); ok {
				err = de.error
			} else {
				panic(r)
			}
		}
	}()

	h := &d.img.Header

	mcuWidth := (h.Width + 7) / 8
	mcuHeight := (h.Height + 7) / 8

	d.img.MCUWidth = mcuWidth
	d.img.MCUHeight = mcuHeight
	d.img.MCUs = make([]MCU, mcuWidth*mcuHeight)

	d.br = bitReader{data: d.entropy}

	for i := 0; i < h.NumComponents; i++ {
		h.Components[i].dcPred = 0
	}

	nextRestart := 0

	for i := range d.img.MCUs {
		if h.RestartInterval != 0 && i != 0 && i%h.RestartInterval == 0 {
			d.br.align()

			if nextRestart >= len(d.restarts) || d.restarts[nextRestart] != d.br.pos {
				return fmt.Errorf("mcu %d: %w", i, ErrMisplacedRestartMarker)
			}

			nextRestart++

			for k := 0; k < h.NumComponents; k++ {
				h.Components[k].dcPred = 0
			}
		}

		mcu := &d.img.MCUs[i]
		for c := 0; c < h.NumComponents; c++ {
			d.decodeBlock(&h.Components[c], &mcu[c])
		}
	}

	return nil
}
