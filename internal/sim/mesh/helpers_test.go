package mesh

import (
	"math/rand"
	"testing"

	"voxelmesh.ai/internal/sim/voxel"
)

func newField(t *testing.T, size int) *voxel.Field {
	t.Helper()
	f, err := voxel.New(size)
	if err != nil {
		t.Fatalf("voxel.New(%d): %v", size, err)
	}
	return f
}

func randomField(t *testing.T, rng *rand.Rand, size int, fill float64, types int) *voxel.Field {
	t.Helper()
	f := newField(t, size)
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				if rng.Float64() < fill {
					f.Set(x, y, z, uint16(1+rng.Intn(types)))
				}
			}
		}
	}
	return f
}

var offsets = [NumDirections][3]int{
	PosX: {1, 0, 0},
	NegX: {-1, 0, 0},
	PosY: {0, 1, 0},
	NegY: {0, -1, 0},
	PosZ: {0, 0, 1},
	NegZ: {0, 0, -1},
}

// exposedBrute decides face visibility by direct neighbour lookup.
func exposedBrute(f *voxel.Field, d Direction, x, y, z int) bool {
	s := f.Size
	if f.Voxels[x+y*s+z*s*s] == voxel.Air {
		return false
	}
	nx, ny, nz := x+offsets[d][0], y+offsets[d][1], z+offsets[d][2]
	if nx < 0 || ny < 0 || nz < 0 || nx >= s || ny >= s || nz >= s {
		return true
	}
	return f.Voxels[nx+ny*s+nz*s*s] == voxel.Air
}

// toPlane maps chunk-local coordinates to (depth, u, v) for direction d.
func toPlane(d Direction, x, y, z int) (depth, u, v int) {
	switch d.Axis() {
	case voxel.AxisX:
		return x, y, z
	case voxel.AxisY:
		return y, x, z
	default:
		return z, x, y
	}
}
