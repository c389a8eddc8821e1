// Package encoding holds the compact voxel run encoding used by chunk dumps.
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrCorrupt = errors.New("corrupt voxel runs")

// EncodeRuns appends uvarint (type, run) pairs for ids to dst.
func EncodeRuns(dst []byte, ids []uint16) []byte {
	for i := 0; i < len(ids); {
		t := ids[i]
		run := 1
		for i+run < len(ids) && ids[i+run] == t {
			run++
		}
		dst = binary.AppendUvarint(dst, uint64(t))
		dst = binary.AppendUvarint(dst, uint64(run))
		i += run
	}
	return dst
}

// DecodeRuns expands runs into exactly want voxels.
func DecodeRuns(raw []byte, want int) ([]uint16, error) {
	out := make([]uint16, 0, want)
	for i := 0; i < len(raw); {
		t, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("%w: bad type varint at %d", ErrCorrupt, i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("%w: bad run varint at %d", ErrCorrupt, i)
		}
		i += n
		if t > 0xFFFF {
			return nil, fmt.Errorf("%w: voxel type %d", ErrCorrupt, t)
		}
		if run == 0 || run > uint64(want-len(out)) {
			return nil, fmt.Errorf("%w: run %d overflows %d voxels", ErrCorrupt, run, want)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint16(t))
		}
	}
	if len(out) != want {
		return nil, fmt.Errorf("%w: got %d voxels want %d", ErrCorrupt, len(out), want)
	}
	return out, nil
}
