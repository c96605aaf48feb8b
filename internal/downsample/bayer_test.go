package downsample

import (
	"encoding/binary"
	"testing"
)

// buildUniformFrame builds a rows x cols 16-bit RGGB mosaic where every
// sample of a given Bayer channel has the same value, regardless of
// which 4x4 super-tile it falls in.
func buildUniformFrame(rows, cols int, b, gb, red, gr uint16) []byte {
	buf := make([]byte, rows*cols*bytesPerSample)
	put := func(r, c int, v uint16) {
		idx := (r*cols + c) * bytesPerSample
		binary.LittleEndian.PutUint16(buf[idx:idx+bytesPerSample], v)
	}
	for r := 0; r < rows; r += 4 {
		for c := 0; c < cols; c += 4 {
			for _, p := range [][2]int{{r, c}, {r, c + 2}, {r + 2, c}, {r + 2, c + 2}} {
				put(p[0], p[1], b)
			}
			for _, p := range [][2]int{{r, c + 1}, {r, c + 3}, {r + 2, c + 1}, {r + 2, c + 3}} {
				put(p[0], p[1], gb)
			}
			for _, p := range [][2]int{{r + 1, c + 1}, {r + 1, c + 3}, {r + 3, c + 1}, {r + 3, c + 3}} {
				put(p[0], p[1], red)
			}
			for _, p := range [][2]int{{r + 1, c}, {r + 1, c + 2}, {r + 3, c}, {r + 3, c + 2}} {
				put(p[0], p[1], gr)
			}
		}
	}
	return buf
}

func sampleAt(buf []byte, cols, r, c int) uint16 {
	idx := (r*cols + c) * bytesPerSample
	return binary.LittleEndian.Uint16(buf[idx : idx+bytesPerSample])
}

func TestDownsampleUniformChannelsRoundTrip(t *testing.T) {
	for _, factor := range []int{1, 2, 3} {
		rows, cols := 16, 16
		src := buildUniformFrame(rows, cols, 10, 20, 30, 40)

		dst := make([]byte, OutputLen(rows, cols, factor))
		if err := Downsample(dst, src, rows, cols, factor); err != nil {
			t.Fatalf("factor=%d: Downsample() error = %v", factor, err)
		}

		outCols := cols >> factor
		if got := sampleAt(dst, outCols, 0, 0); got != 10 {
			t.Errorf("factor=%d: B = %d, want 10", factor, got)
		}
		if got := sampleAt(dst, outCols, 0, 1); got != 20 {
			t.Errorf("factor=%d: G_B = %d, want 20", factor, got)
		}
		if got := sampleAt(dst, outCols, 1, 1); got != 30 {
			t.Errorf("factor=%d: R = %d, want 30", factor, got)
		}
		if got := sampleAt(dst, outCols, 1, 0); got != 40 {
			t.Errorf("factor=%d: G_R = %d, want 40", factor, got)
		}
	}
}

func TestDownsampleFactorZeroCopies(t *testing.T) {
	src := buildUniformFrame(8, 8, 1, 2, 3, 4)
	dst := make([]byte, OutputLen(8, 8, 0))
	if err := Downsample(dst, src, 8, 8, 0); err != nil {
		t.Fatalf("Downsample() error = %v", err)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("factor 0 did not copy verbatim at byte %d: got %d want %d", i, dst[i], src[i])
		}
	}
}

func TestDownsampleRejectsBadDstLength(t *testing.T) {
	src := buildUniformFrame(8, 8, 1, 2, 3, 4)
	if err := Downsample(make([]byte, 3), src, 8, 8, 1); err == nil {
		t.Fatal("Downsample() expected error for wrong dst length, got nil")
	}
}

func TestWorldCameraDimensions(t *testing.T) {
	const rows, cols, factor = 480, 640, 3
	got := OutputLen(rows, cols, factor)
	want := (rows >> factor) * (cols >> factor) * 2
	if got != want {
		t.Fatalf("OutputLen() = %d, want %d", got, want)
	}
	src := make([]byte, rows*cols*2)
	dst := make([]byte, got)
	if err := Downsample(dst, src, rows, cols, factor); err != nil {
		t.Fatalf("Downsample() error = %v", err)
	}
}
