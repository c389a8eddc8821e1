// Package lifecycle keeps the set of visible chunks generated and meshed.
package lifecycle

import (
	"voxelmesh.ai/internal/sim/mesh"
	"voxelmesh.ai/internal/sim/voxel"
)

// ChunkMesh is a finished mesh handed to sinks. Version increases with every
// mesh published for the same chunk while it stays loaded.
type ChunkMesh struct {
	Key        voxel.ChunkKey
	Version    uint64
	VoxelCount uint32
	Digest     string
	Mesh       mesh.MeshData
}

// MeshSink receives meshes and evictions on the manager goroutine. It must
// not block.
type MeshSink interface {
	OnMesh(m ChunkMesh)
	Evict(key voxel.ChunkKey)
}

type JobLogger interface {
	WriteJob(entry JobLogEntry) error
}

const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeStale   = "stale"
	OutcomeEvicted = "evicted"
)

type JobLogEntry struct {
	AtMs       int64  `json:"at_ms"`
	JobID      string `json:"job_id"`
	Kind       string `json:"kind"`
	Chunk      string `json:"chunk"`
	Worker     int    `json:"worker"`
	Attempt    int    `json:"attempt"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	VoxelCount uint32 `json:"voxel_count,omitempty"`
	Quads      int    `json:"quads,omitempty"`
}

// ChunkCopy is a detached copy of a loaded chunk.
type ChunkCopy struct {
	Key   voxel.ChunkKey
	Field *voxel.Field
	Diffs []voxel.Diff
}

type Stats struct {
	Visible   int
	Loaded    int
	Meshed    int
	Edited    int
	Published uint64
	Retries   uint64
	Evictions uint64
	Stale     uint64
}
