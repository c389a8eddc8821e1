package voxel

import (
	"fmt"
	"strconv"
	"strings"
)

// ChunkKey addresses a chunk in integer chunk coordinates.
type ChunkKey struct {
	X int
	Y int
	Z int
}

// String returns the wire form "x,y,z".
func (k ChunkKey) String() string {
	return strconv.Itoa(k.X) + "," + strconv.Itoa(k.Y) + "," + strconv.Itoa(k.Z)
}

// ParseChunkKey is the inverse of ChunkKey.String.
func ParseChunkKey(s string) (ChunkKey, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return ChunkKey{}, fmt.Errorf("chunk key %q: want x,y,z", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return ChunkKey{}, fmt.Errorf("chunk key %q: %w", s, err)
		}
		v[i] = n
	}
	return ChunkKey{X: v[0], Y: v[1], Z: v[2]}, nil
}

// Less orders keys by x, then y, then z.
func (k ChunkKey) Less(o ChunkKey) bool {
	if k.X != o.X {
		return k.X < o.X
	}
	if k.Y != o.Y {
		return k.Y < o.Y
	}
	return k.Z < o.Z
}

// Origin returns the world coordinate of the chunk's (0,0,0) voxel.
func (k ChunkKey) Origin(size int) (x, y, z int) {
	return k.X * size, k.Y * size, k.Z * size
}
