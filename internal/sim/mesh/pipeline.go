package mesh

import "voxelmesh.ai/internal/sim/voxel"

// Build meshes a whole chunk.
func Build(f *voxel.Field) (MeshData, error) {
	return Pack(Quads(f))
}
