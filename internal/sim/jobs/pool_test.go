package jobs

import (
	"errors"
	"testing"
	"time"

	"voxelmesh.ai/internal/sim/voxel"
)

func recv(t *testing.T, p *Pool) Result {
	t.Helper()
	select {
	case r := <-p.Results():
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for result")
	}
	return Result{}
}

func flatOracle(height int) voxel.Oracle {
	return voxel.OracleFunc(func(x, y, z int) uint16 {
		if y < height {
			return 1
		}
		return 0
	})
}

func TestPool_VoxelThenMesh(t *testing.T) {
	p, err := NewPool(2, PipelineExecutor{Oracle: flatOracle(2)}, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	params := Params{ChunkSize: 4, LODStride: 1}
	key := voxel.ChunkKey{}
	diffs := []voxel.Diff{{X: 0, Y: 3, Z: 0, Type: 9}}
	if err := p.Submit(0, NewVoxelGen(key, params, diffs)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r := recv(t, p)
	if r.Err != nil {
		t.Fatalf("voxel gen: %v", r.Err)
	}
	vr, ok := r.Payload.(VoxelGenResult)
	if !ok {
		t.Fatalf("payload: got %T", r.Payload)
	}
	if vr.VoxelCount != 2*16+1 {
		t.Fatalf("voxel count: got %d want %d", vr.VoxelCount, 2*16+1)
	}

	f, err := voxel.FromBuffers(4, vr.Voxels, vr.Occupancy)
	if err != nil {
		t.Fatalf("FromBuffers: %v", err)
	}
	if err := p.Submit(1, NewMeshGen(key, params, f)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r = recv(t, p)
	if r.Err != nil || r.WorkerID != 1 {
		t.Fatalf("mesh gen: err=%v worker=%d", r.Err, r.WorkerID)
	}
	mr := r.Payload.(MeshGenResult)
	if mr.QuadCount() == 0 || len(mr.VoxelInfo) != 2*mr.VertexCount() {
		t.Fatalf("mesh: quads=%d info=%d vertices=%d", mr.QuadCount(), len(mr.VoxelInfo), mr.VertexCount())
	}
}

func TestPool_PanicBecomesError(t *testing.T) {
	calls := 0
	exec := ExecutorFunc(func(j Job) (Payload, error) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return VoxelGenResult{Key: j.Payload.ChunkKey()}, nil
	})
	p, err := NewPool(1, exec, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()

	p.Submit(0, voxelJob(1))
	if r := recv(t, p); r.Err == nil || r.Payload != nil {
		t.Fatalf("panic result: err=%v payload=%v", r.Err, r.Payload)
	}
	if err := p.Submit(0, voxelJob(2)); err != nil {
		t.Fatalf("worker not reusable after panic: %v", err)
	}
	if r := recv(t, p); r.Err != nil {
		t.Fatalf("second job: %v", r.Err)
	}
	if s := p.Stats(); s.Executed != 2 || s.Failed != 1 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestPool_BadSizeReportsError(t *testing.T) {
	p, err := NewPool(1, PipelineExecutor{Oracle: flatOracle(1)}, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()
	p.Submit(0, NewVoxelGen(voxel.ChunkKey{}, Params{ChunkSize: 33, LODStride: 1}, nil))
	if r := recv(t, p); !errors.Is(r.Err, voxel.ErrBadSize) {
		t.Fatalf("got %v want ErrBadSize", r.Err)
	}
}

func TestPool_CloseClosesResults(t *testing.T) {
	p, err := NewPool(3, PipelineExecutor{Oracle: flatOracle(1)}, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	p.Close()
	p.Close()
	if _, ok := <-p.Results(); ok {
		t.Fatalf("results channel should be closed")
	}
	if err := p.Submit(0, voxelJob(1)); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("submit after close: got %v", err)
	}
}

func TestQueueWithPool(t *testing.T) {
	p, err := NewPool(2, PipelineExecutor{Oracle: flatOracle(1)}, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer p.Close()
	q := NewQueue(p, nil)
	done := map[string]bool{}
	q.OnResult(KindVoxelGen, func(r Result) {
		if r.Err != nil {
			t.Errorf("%s: %v", r.JobID, r.Err)
		}
		done[r.JobID] = true
	})
	for i := 0; i < 7; i++ {
		q.AddRequest(voxelJob(i))
	}
	for len(done) < 7 {
		q.DispatchTick()
		q.OnWorkerResult(recv(t, p))
	}
	if q.Len() != 0 || q.InFlight() != 0 || q.Idle() != 2 {
		t.Fatalf("len=%d inflight=%d idle=%d", q.Len(), q.InFlight(), q.Idle())
	}
}
