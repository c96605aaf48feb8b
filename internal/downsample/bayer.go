// Package downsample implements the Bayer-preserving power-of-two
// downsampler described in spec §4.3.1.
//
// Samples are 16-bit little-endian values, matching the world camera's
// negotiated plane stride (the "8-bit Bayer" pixel format is packed two
// bytes per sample on the wire; see spec Design Notes, "Open question —
// plane-length vs rows×cols"). This is the only form implemented: the
// standalone 8-bit, new-uint8_t[]-per-call variant from the original
// source is a known-buggy allocation (it sizes the output as a fixed
// 4-byte chunk instead of new_rows*new_cols) and is intentionally not
// reproduced. All output is written into a caller-supplied buffer.
package downsample

import (
	"encoding/binary"
	"fmt"
)

const bytesPerSample = 2

// Downsample halves rows and cols factor times, averaging same-colored
// Bayer samples within each 4x4 super-tile and writing the result into
// dst. rows and cols must each be divisible by 2^(factor+1). dst must
// be exactly OutputLen(rows, cols, factor) bytes.
func Downsample(dst, src []byte, rows, cols, factor int) error {
	if factor < 0 {
		return fmt.Errorf("downsample: negative factor %d", factor)
	}
	if len(src) != rows*cols*bytesPerSample {
		return fmt.Errorf("downsample: src length %d does not match rows*cols*%d (%d)",
			len(src), bytesPerSample, rows*cols*bytesPerSample)
	}
	want := OutputLen(rows, cols, factor)
	if len(dst) != want {
		return fmt.Errorf("downsample: dst length %d, want %d", len(dst), want)
	}

	if factor == 0 {
		copy(dst, src)
		return nil
	}

	curRows, curCols := rows, cols
	cur := src
	for level := 0; level < factor; level++ {
		if curRows%4 != 0 || curCols%4 != 0 {
			return fmt.Errorf("downsample: dimensions %dx%d not divisible by 4 at level %d", curRows, curCols, level)
		}
		nextRows, nextCols := curRows/2, curCols/2

		var next []byte
		if level == factor-1 {
			next = dst
		} else {
			next = make([]byte, nextRows*nextCols*bytesPerSample)
		}

		halveOnce(next, cur, curRows, curCols)

		cur = next
		curRows, curCols = nextRows, nextCols
	}

	return nil
}

// OutputLen returns the byte length Downsample writes for the given
// input dimensions and factor.
func OutputLen(rows, cols, factor int) int {
	return (rows >> factor) * (cols >> factor) * bytesPerSample
}

// halveOnce applies one level of the RGGB-preserving 4x4-to-2x2
// reduction described in spec §4.3.1 across the whole rows x cols
// image, writing the (rows/2)x(cols/2) result into dst.
func halveOnce(dst, src []byte, rows, cols int) {
	outCols := cols / 2

	sample := func(r, c int) uint32 {
		idx := (r*cols + c) * bytesPerSample
		return uint32(binary.LittleEndian.Uint16(src[idx : idx+bytesPerSample]))
	}
	put := func(r, c int, v uint32) {
		idx := (r*outCols + c) * bytesPerSample
		binary.LittleEndian.PutUint16(dst[idx:idx+bytesPerSample], uint16(v))
	}
	avg4 := func(a, b, c, d uint32) uint32 {
		return (a + b + c + d) / 4
	}

	for r := 0; r < rows; r += 4 {
		for c := 0; c < cols; c += 4 {
			b := avg4(sample(r, c), sample(r, c+2), sample(r+2, c), sample(r+2, c+2))
			gb := avg4(sample(r, c+1), sample(r, c+3), sample(r+2, c+1), sample(r+2, c+3))
			red := avg4(sample(r+1, c+1), sample(r+1, c+3), sample(r+3, c+1), sample(r+3, c+3))
			gr := avg4(sample(r+1, c), sample(r+1, c+2), sample(r+3, c), sample(r+3, c+2))

			outR, outC := r/2, c/2
			put(outR, outC, b)
			put(outR, outC+1, gb)
			put(outR+1, outC+1, red)
			put(outR+1, outC, gr)
		}
	}
}
