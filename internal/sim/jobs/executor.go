package jobs

import (
	"fmt"

	"voxelmesh.ai/internal/sim/mesh"
	"voxelmesh.ai/internal/sim/voxel"
)

// Executor runs one job to completion on a worker goroutine.
type Executor interface {
	Execute(j Job) (Payload, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(j Job) (Payload, error)

func (f ExecutorFunc) Execute(j Job) (Payload, error) { return f(j) }

// PipelineExecutor builds chunk voxels from the oracle and meshes them.
type PipelineExecutor struct {
	Oracle voxel.Oracle
}

func (e PipelineExecutor) Execute(j Job) (Payload, error) {
	switch p := j.Payload.(type) {
	case VoxelGenRequest:
		f, err := voxel.Build(p.Params.ChunkSize, p.Key, e.Oracle, p.Params.LODStride)
		if err != nil {
			return nil, fmt.Errorf("voxel gen %s: %w", p.Key, err)
		}
		f.Apply(p.Diffs)
		return VoxelGenResult{
			Key:        p.Key,
			Voxels:     f.Voxels,
			Occupancy:  f.Occupancy,
			VoxelCount: f.VoxelCount(),
		}, nil
	case MeshGenRequest:
		f, err := voxel.FromBuffers(p.Params.ChunkSize, p.Voxels, p.Occupancy)
		if err != nil {
			return nil, fmt.Errorf("mesh gen %s: %w", p.Key, err)
		}
		m, err := mesh.Build(f)
		if err != nil {
			return nil, fmt.Errorf("mesh gen %s: %w", p.Key, err)
		}
		return MeshGenResult{Key: p.Key, MeshData: m}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownPayload, j.Payload)
	}
}
