// Package jpeg decodes baseline JPEG streams into quantized, zig-zag-expanded
// 8x8 DCT coefficient blocks, one block per color component per MCU.
//
// The decoder stops at the coefficient level on purpose: dequantization,
// inverse DCT and color conversion belong to the consumer of the MCU array.
// Only 8-bit precision, 1x1 sampling (4:4:4) baseline streams with 1 or 3
// components are accepted; anything else fails with one of the sentinel
// errors below.
package jpeg

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Standard error types for JPEG coefficient decoding. Call sites wrap these
// with section context via fmt.Errorf and %w; match with errors.Is.
var (
	ErrMalformedContainer              = errors.New("bad start of image marker")
	ErrMarkerNotFound                  = errors.New("required marker not found")
	ErrMultipleFrameHeaders            = errors.New("more than one frame header")
	ErrUnsupportedPrecision            = errors.New("unsupported sample precision")
	ErrUnsupportedComponentCount       = errors.New("unsupported component count")
	ErrInvalidComponentID              = errors.New("invalid component id")
	ErrUnsupportedSampling             = errors.New("unsupported sampling factors")
	ErrSectionLengthMismatch           = errors.New("section length mismatch")
	ErrTooManySymbols                  = errors.New("too many huffman symbols")
	ErrInvalidHuffmanTableID           = errors.New("invalid huffman table id")
	ErrInvalidQuantizationTableID      = errors.New("invalid quantization table id")
	ErrHuffmanTableNotDefined          = errors.New("huffman table not defined")
	ErrUnknownComponentID              = errors.New("unknown component id in scan")
	ErrUnsupportedSpectralRange        = errors.New("unsupported spectral selection range")
	ErrUnsupportedProgressiveMode      = errors.New("progressive mode is not supported")
	ErrUnexpectedMarkerInEntropyStream = errors.New("unexpected marker in entropy-coded segment")
	ErrUnexpectedEndOfEntropyStream    = errors.New("unexpected end of entropy-coded segment")
	ErrInvalidHuffmanCode              = errors.New("invalid huffman code")
	ErrInvalidDCCategory               = errors.New("invalid dc magnitude category")
	ErrInvalidACCategory               = errors.New("invalid ac magnitude category")
	ErrZeroRunOverflow                 = errors.New("ac zero run past end of block")
	ErrMisplacedRestartMarker          = errors.New("restart marker out of place")
)

// maxComponents is the most color components a supported stream can carry.
const maxComponents = 3

// Block holds the 64 quantized DCT coefficients of a single 8x8 data unit,
// in natural (row-major) order after zig-zag expansion.
type Block [64]int32

// MCU is one minimum coded unit: one Block per component. With 1x1 sampling
// an MCU always covers exactly one 8x8 pixel area. Only the first
// Header.NumComponents blocks are meaningful.
type MCU [maxComponents]Block

// Component describes one color component as declared by the frame header
// and bound to entropy tables by the scan header.
type Component struct {
	ID           int // component identifier, 1-3
	QuantTableID int // quantization table slot, 0-3

	dcTabSel, acTabSel int   // huffman table slots assigned by the scan header
	dcPred             int32 // running dc predictor, reset at restart boundaries
}

// QuantTable is one quantization table slot. Values are kept in the on-wire
// zig-zag order; applying them is the consumer's job.
type QuantTable struct {
	Set    bool
	Values [64]uint8
}

// Header collects everything the marker segments declare about the stream.
// It is populated incrementally by the section parsers and read-only once
// entropy decoding begins, except for the per-component dc predictors.
type Header struct {
	Width, Height   int
	NumComponents   int
	RestartInterval int // MCUs between predictor resets, 0 when disabled
	Orientation     int // EXIF orientation tag, 1-8; 1 when absent

	Components  [maxComponents]Component
	QuantTables [4]QuantTable
	DCTables    [4]HuffmanTable
	ACTables    [4]HuffmanTable
}

// Image is the result of a full decode: the parsed header plus the MCU array
// in raster order, MCUWidth*MCUHeight entries.
type Image struct {
	Header

	MCUWidth, MCUHeight int
	MCUs                []MCU
}

// decoderPool reuses decode sessions and their scratch buffers.
var decoderPool = sync.Pool{
	New: func() interface{} {
		return new(decoder)
	},
}

// Interface to check if a reader knows its remaining length.
type readerWithLen interface {
	Len() int
}

// readAllData reads data from r, pre-allocating if the size is known.
func readAllData(r io.Reader) ([]byte, error) {
	if rl, ok := r.(readerWithLen); ok {
		size := rl.Len()
		if size > 0 {
			data := make([]byte, size)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, fmt.Errorf("failed to read image data: %w", err)
			}

			return data, nil
		}
	}

	return io.ReadAll(r)
}

// Decode reads a complete JPEG container from r and returns its header and
// quantized coefficient blocks.
func Decode(r io.Reader) (*Image, error) {
	data, err := readAllData(r)
	if err != nil {
		return nil, err
	}

	return DecodeBytes(data)
}

// DecodeBytes decodes a complete JPEG container held in memory. The input
// slice is treated as read-only and is not retained after the call returns.
func DecodeBytes(data []byte) (*Image, error) {
	d := decoderPool.Get().(*decoder)
	defer func() {
		d.reset()
		decoderPool.Put(d)
	}()

	return d.decode(data, false)
}

// DecodeHeader parses the marker segments of a JPEG container without
// touching the entropy-coded data. The returned header carries dimensions,
// component metadata, quantization and Huffman tables, and the EXIF
// orientation when present.
func DecodeHeader(r io.Reader) (*Header, error) {
	data, err := readAllData(r)
	if err != nil {
		return nil, err
	}

	d := decoderPool.Get().(*decoder)
	defer func() {
		d.reset()
		decoderPool.Put(d)
	}()

	img, err := d.decode(data, true)
	if err != nil {
		return nil, err
	}

	return &img.Header, nil
}
