package lifecycle

import (
	"sort"

	"voxelmesh.ai/internal/sim/mathx"
	"voxelmesh.ai/internal/sim/voxel"
)

// VisibleAround returns the chunks within radius (horizontal, circular) and
// vradius (vertical) of center, nearest first.
func VisibleAround(center voxel.ChunkKey, radius, vradius int) []voxel.ChunkKey {
	if radius < 0 || vradius < 0 {
		return nil
	}
	var out []voxel.ChunkKey
	for dz := -radius; dz <= radius; dz++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dz*dz > radius*radius {
				continue
			}
			for dy := -vradius; dy <= vradius; dy++ {
				out = append(out, voxel.ChunkKey{X: center.X + dx, Y: center.Y + dy, Z: center.Z + dz})
			}
		}
	}
	dist := func(k voxel.ChunkKey) int {
		dx, dy, dz := k.X-center.X, k.Y-center.Y, k.Z-center.Z
		return dx*dx + dy*dy + dz*dz
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := dist(out[i]), dist(out[j])
		if di != dj {
			return di < dj
		}
		return out[i].Less(out[j])
	})
	return out
}

// ChunkOf returns the chunk containing world coordinate (x, y, z) and the
// coordinate local to it.
func ChunkOf(size, x, y, z int) (voxel.ChunkKey, int, int, int) {
	key := voxel.ChunkKey{X: mathx.FloorDiv(x, size), Y: mathx.FloorDiv(y, size), Z: mathx.FloorDiv(z, size)}
	return key, mathx.Mod(x, size), mathx.Mod(y, size), mathx.Mod(z, size)
}
