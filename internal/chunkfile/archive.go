// Package chunkfile implements the on-disk chunk archive format
// described in spec §3 and §6: a leading 64-bit element count followed,
// for each of the four sensor slots, by a 64-bit byte length and that
// many payload bytes. Disabled sensors contribute a zero-length slot.
//
// The format is intentionally a fixed, hand-rolled binary layout rather
// than a general-purpose codec: it mirrors the original firmware's
// cereal::BinaryOutputArchive of a 4-element vector<vector<uint8_t>>
// byte-for-byte, and offline analysis tooling outside this repo's scope
// depends on that exact layout.
package chunkfile

import (
	"encoding/binary"
	"fmt"
	"io"
)

// NumSlots is the fixed number of sensor slots in every archive (M, W,
// P, S, in that order).
const NumSlots = 4

// Encode writes slots as a chunk archive to w: a little-endian uint64
// slot count, then for each slot a little-endian uint64 length followed
// by the slot's bytes.
func Encode(w io.Writer, slots [NumSlots][]byte) error {
	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], uint64(NumSlots))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("chunkfile: write slot count: %w", err)
	}

	for i, slot := range slots {
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(slot)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("chunkfile: write slot %d length: %w", i, err)
		}
		if len(slot) == 0 {
			continue
		}
		n, err := w.Write(slot)
		if err != nil {
			return fmt.Errorf("chunkfile: write slot %d payload: %w", i, err)
		}
		if n != len(slot) {
			return fmt.Errorf("chunkfile: short write on slot %d: wrote %d of %d bytes", i, n, len(slot))
		}
	}

	return nil
}

// Decode reads a chunk archive previously written by Encode. It is the
// counterpart used by tests and by any future offline reader; the
// capture pipeline itself only ever calls Encode.
func Decode(r io.Reader) ([NumSlots][]byte, error) {
	var out [NumSlots][]byte

	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return out, fmt.Errorf("chunkfile: read slot count: %w", err)
	}
	count := binary.LittleEndian.Uint64(header[:])
	if count != NumSlots {
		return out, fmt.Errorf("chunkfile: unexpected slot count %d (want %d)", count, NumSlots)
	}

	for i := 0; i < NumSlots; i++ {
		var lenBuf [8]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return out, fmt.Errorf("chunkfile: read slot %d length: %w", i, err)
		}
		n := binary.LittleEndian.Uint64(lenBuf[:])
		if n == 0 {
			continue
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return out, fmt.Errorf("chunkfile: read slot %d payload: %w", i, err)
		}
		out[i] = payload
	}

	return out, nil
}
