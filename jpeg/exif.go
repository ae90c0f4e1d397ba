package jpeg

// EXIF orientation extraction. The APP1 payload carries a TIFF structure;
// only the first IFD's orientation tag is of interest here. Anything
// malformed leaves the default orientation in place rather than failing the
// decode, since metadata never affects coefficient decoding.

// parseAPP1 inspects the APP1 section at off for an EXIF payload and records
// the orientation tag on the header when present. APP1 also carries other
// payloads (XMP), so the caller keeps scanning; the returned offset is where
// the next scan should start.
func (d *decoder) parseAPP1(off int) int {
	length, err := d.sectionLength(off)
	if err != nil {
		return off + 2
	}

	payload := d.data[off+4 : off+2+length]

	// "Exif\0\0" signature.
	if len(payload) < 6 ||
		payload[0] != 'E' || payload[1] != 'x' || payload[2] != 'i' ||
		payload[3] != 'f' || payload[4] != 0 || payload[5] != 0 {
		return off + 2 + length
	}

	if o := exifOrientation(payload[6:]); o != 0 {
		d.img.Orientation = o
	}

	return off + 2 + length
}

// exifOrientation parses the TIFF header and first IFD inside an EXIF
// payload and returns the orientation tag value (1-8), or 0 when absent.
func exifOrientation(tiff []byte) int {
	if len(tiff) < 8 {
		return 0
	}

	var littleEndian bool
	switch {
	case tiff[0] == 0x49 && tiff[1] == 0x49: // II (Intel)
		littleEndian = true
	case tiff[0] == 0x4D && tiff[1] == 0x4D: // MM (Motorola)
		littleEndian = false
	default:
		return 0
	}

	read16 := func(p int) uint16 {
		if littleEndian {
			return uint16(tiff[p]) | uint16(tiff[p+1])<<8
		}

		return uint16(tiff[p])<<8 | uint16(tiff[p+1])
	}

	read32 := func(p int) uint32 {
		if littleEndian {
			return uint32(tiff[p]) | uint32(tiff[p+1])<<8 | uint32(tiff[p+2])<<16 | uint32(tiff[p+3])<<24
		}

		return uint32(tiff[p])<<24 | uint32(tiff[p+1])<<16 | uint32(tiff[p+2])<<8 | uint32(tiff[p+3])
	}

	// TIFF magic number.
	if read16(2) != 42 {
		return 0
	}

	ifdOffset := read32(4)
	if ifdOffset < 8 || uint64(ifdOffset)+2 > uint64(len(tiff)) {
		return 0
	}

	numEntries := int(read16(int(ifdOffset)))

	// Truncate the entry count rather than reject when the directory runs
	// past the segment, tolerating corrupted files.
	if max := (len(tiff) - int(ifdOffset) - 2) / 12; numEntries > max {
		numEntries = max
	}

	const orientationTag = 0x0112

	entry := int(ifdOffset) + 2
	for i := 0; i < numEntries; i++ {
		if read16(entry) == orientationTag {
			if read16(entry+2) != 3 { // type SHORT
				return 0
			}

			if read32(entry+4) != 1 { // count
				return 0
			}

			if o := int(read16(entry + 8)); o >= 1 && o <= 8 {
				return o
			}

			return 0
		}

		entry += 12
	}

	return 0
}
