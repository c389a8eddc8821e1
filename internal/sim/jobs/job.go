// Package jobs schedules voxel and mesh generation over a fixed worker pool.
package jobs

import (
	"errors"
	"fmt"

	"voxelmesh.ai/internal/sim/mesh"
	"voxelmesh.ai/internal/sim/voxel"
)

type Kind string

const (
	KindVoxelGen Kind = "genVoxelData"
	KindMeshGen  Kind = "genMeshData"
)

var (
	ErrMalformedJob   = errors.New("malformed job")
	ErrUnknownPayload = errors.New("unknown job payload")
)

// Params is the generation context shared by every job of a chunk.
type Params struct {
	ChunkSize int   `json:"chunk_size"`
	Seed      int64 `json:"seed"`
	LODStride int   `json:"lod_stride"`
}

// Payload is one of the request or result types below.
type Payload interface {
	PayloadKind() Kind
	ChunkKey() voxel.ChunkKey
}

type VoxelGenRequest struct {
	Key    voxel.ChunkKey
	Params Params
	Diffs  []voxel.Diff
}

type MeshGenRequest struct {
	Key       voxel.ChunkKey
	Params    Params
	Voxels    []uint16
	Occupancy []uint32
}

type VoxelGenResult struct {
	Key        voxel.ChunkKey
	Voxels     []uint16
	Occupancy  []uint32
	VoxelCount uint32
}

type MeshGenResult struct {
	Key voxel.ChunkKey
	mesh.MeshData
}

func (VoxelGenRequest) PayloadKind() Kind { return KindVoxelGen }
func (MeshGenRequest) PayloadKind() Kind  { return KindMeshGen }
func (VoxelGenResult) PayloadKind() Kind  { return KindVoxelGen }
func (MeshGenResult) PayloadKind() Kind   { return KindMeshGen }

func (p VoxelGenRequest) ChunkKey() voxel.ChunkKey { return p.Key }
func (p MeshGenRequest) ChunkKey() voxel.ChunkKey  { return p.Key }
func (p VoxelGenResult) ChunkKey() voxel.ChunkKey  { return p.Key }
func (p MeshGenResult) ChunkKey() voxel.ChunkKey   { return p.Key }

// Job is the unit of work handed to a worker. IDs are unique while the job
// is queued or executing.
type Job struct {
	ID      string
	Kind    Kind
	Payload Payload
}

// ID returns the canonical job id for kind on key, e.g. "genMeshData:1,0,-2".
func ID(kind Kind, key voxel.ChunkKey) string {
	return string(kind) + ":" + key.String()
}

func NewVoxelGen(key voxel.ChunkKey, p Params, diffs []voxel.Diff) Job {
	return Job{
		ID:      ID(KindVoxelGen, key),
		Kind:    KindVoxelGen,
		Payload: VoxelGenRequest{Key: key, Params: p, Diffs: diffs},
	}
}

// NewMeshGen takes ownership of f's buffers.
func NewMeshGen(key voxel.ChunkKey, p Params, f *voxel.Field) Job {
	return Job{
		ID:      ID(KindMeshGen, key),
		Kind:    KindMeshGen,
		Payload: MeshGenRequest{Key: key, Params: p, Voxels: f.Voxels, Occupancy: f.Occupancy},
	}
}

func (j Job) Validate() error {
	switch {
	case j.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformedJob)
	case j.Kind != KindVoxelGen && j.Kind != KindMeshGen:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedJob, j.Kind)
	case j.Payload == nil:
		return fmt.Errorf("%w: missing payload", ErrMalformedJob)
	case j.Payload.PayloadKind() != j.Kind:
		return fmt.Errorf("%w: payload %T for kind %q", ErrMalformedJob, j.Payload, j.Kind)
	}
	return nil
}

// Result is what a worker reports for one job. Payload is a VoxelGenResult
// or MeshGenResult unless Err is set. Cancelled marks the results of jobs that
// were removed while they were executing.
type Result struct {
	JobID     string
	Kind      Kind
	WorkerID  int
	Payload   Payload
	Err       error
	Cancelled bool
}
