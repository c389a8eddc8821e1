package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"

	"voxelmesh.ai/internal/sim/jobs"
	"voxelmesh.ai/internal/sim/voxel"
)

type recordSink struct {
	meshes chan ChunkMesh
	evicts chan voxel.ChunkKey
}

func newRecordSink() *recordSink {
	return &recordSink{meshes: make(chan ChunkMesh, 256), evicts: make(chan voxel.ChunkKey, 256)}
}

func (s *recordSink) OnMesh(m ChunkMesh)        { s.meshes <- m }
func (s *recordSink) Evict(key voxel.ChunkKey) { s.evicts <- key }

func (s *recordSink) nextMesh(t *testing.T) ChunkMesh {
	t.Helper()
	select {
	case m := <-s.meshes:
		return m
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for mesh")
	}
	return ChunkMesh{}
}

func (s *recordSink) nextEvict(t *testing.T) voxel.ChunkKey {
	t.Helper()
	select {
	case k := <-s.evicts:
		return k
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for eviction")
	}
	return voxel.ChunkKey{}
}

type memJobLog struct {
	mu      sync.Mutex
	entries []JobLogEntry
}

func (l *memJobLog) WriteJob(e JobLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *memJobLog) outcomes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.Kind+"/"+e.Outcome)
	}
	return out
}

func flat(height int) voxel.Oracle {
	return voxel.OracleFunc(func(x, y, z int) uint16 {
		if y < height {
			return 1
		}
		return 0
	})
}

func start(t *testing.T, cfg Config, exec jobs.Executor) (*Manager, *recordSink) {
	t.Helper()
	if cfg.Params.ChunkSize == 0 {
		cfg.Params.ChunkSize = 4
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	cfg.DispatchInterval = time.Millisecond
	m, err := New(cfg, exec, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sink := newRecordSink()
	m.AddSink(sink)
	return m, sink
}

func run(t *testing.T, m *Manager) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ctx
}

func TestManager_GeneratesAndMeshesVisibleChunks(t *testing.T) {
	m, sink := start(t, Config{}, jobs.PipelineExecutor{Oracle: flat(2)})
	ctx := run(t, m)

	keys := []voxel.ChunkKey{{X: 0}, {X: 1}}
	if err := m.SetVisible(ctx, keys); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	got := map[voxel.ChunkKey]ChunkMesh{}
	for len(got) < 2 {
		cm := sink.nextMesh(t)
		got[cm.Key] = cm
	}
	for _, k := range keys {
		cm := got[k]
		if cm.Version != 1 || cm.VoxelCount != 32 {
			t.Fatalf("%s: version=%d voxels=%d want 1 32", k, cm.Version, cm.VoxelCount)
		}
		// A 4x2x4 slab chunk: one quad per face direction.
		if q := cm.Mesh.QuadCount(); q != 6 {
			t.Fatalf("%s: quads got %d want 6", k, q)
		}
	}
	s, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.Visible != 2 || s.Loaded != 2 || s.Meshed != 2 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestManager_EmptyChunkPublishesEmptyMesh(t *testing.T) {
	m, sink := start(t, Config{}, jobs.PipelineExecutor{Oracle: flat(2)})
	ctx := run(t, m)
	if err := m.SetVisible(ctx, []voxel.ChunkKey{{Y: 1}}); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	cm := sink.nextMesh(t)
	if cm.VoxelCount != 0 || cm.Mesh.QuadCount() != 0 {
		t.Fatalf("empty chunk: voxels=%d quads=%d", cm.VoxelCount, cm.Mesh.QuadCount())
	}
	if got := m.QueueStats().Dispatched; got != 1 {
		t.Fatalf("dispatched: got %d want 1 (no mesh job for air)", got)
	}
}

func TestManager_EditRemeshes(t *testing.T) {
	m, sink := start(t, Config{}, jobs.PipelineExecutor{Oracle: flat(2)})
	ctx := run(t, m)
	if err := m.SetVisible(ctx, []voxel.ChunkKey{{}}); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	first := sink.nextMesh(t)

	if err := m.SetVoxel(ctx, 1, 3, 1, 7); err != nil {
		t.Fatalf("SetVoxel: %v", err)
	}
	second := sink.nextMesh(t)
	if second.Version != 2 {
		t.Fatalf("version: got %d want 2", second.Version)
	}
	if second.VoxelCount != first.VoxelCount+1 || second.Digest == first.Digest {
		t.Fatalf("edit not reflected: %d -> %d", first.VoxelCount, second.VoxelCount)
	}
	if second.Mesh.QuadCount() <= first.Mesh.QuadCount() {
		t.Fatalf("quads: got %d want > %d", second.Mesh.QuadCount(), first.Mesh.QuadCount())
	}

	copies, err := m.Chunks(ctx)
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	if len(copies) != 1 || copies[0].Field.Get(1, 3, 1) != 7 || len(copies[0].Diffs) != 1 {
		t.Fatalf("chunk copy: %+v", copies)
	}
}

func TestManager_EditBeforeLoadIsReplayed(t *testing.T) {
	m, sink := start(t, Config{}, jobs.PipelineExecutor{Oracle: flat(2)})
	ctx := run(t, m)
	// World (-1, 0, -1) lives in chunk (-1,0,-1) at local (3,0,3).
	if err := m.SetVoxel(ctx, -1, 0, -1, 0); err != nil {
		t.Fatalf("SetVoxel: %v", err)
	}
	if err := m.SetVisible(ctx, []voxel.ChunkKey{{X: -1, Z: -1}}); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	if cm := sink.nextMesh(t); cm.VoxelCount != 31 {
		t.Fatalf("voxels: got %d want 31", cm.VoxelCount)
	}
}

func TestManager_EvictsChunksLeavingView(t *testing.T) {
	m, sink := start(t, Config{}, jobs.PipelineExecutor{Oracle: flat(2)})
	ctx := run(t, m)
	if err := m.SetVisible(ctx, []voxel.ChunkKey{{}, {X: 1}}); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	sink.nextMesh(t)
	sink.nextMesh(t)
	if err := m.SetVisible(ctx, []voxel.ChunkKey{{X: 1}}); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	if k := sink.nextEvict(t); k != (voxel.ChunkKey{}) {
		t.Fatalf("evicted %s want 0,0,0", k)
	}
	s, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.Visible != 1 || s.Evictions != 1 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestManager_RetriesThenEvicts(t *testing.T) {
	boom := errors.New("boom")
	exec := jobs.ExecutorFunc(func(j jobs.Job) (jobs.Payload, error) { return nil, boom })
	m, sink := start(t, Config{MaxRetries: 2}, exec)
	jl := &memJobLog{}
	m.AddJobLogger(jl)
	ctx := run(t, m)

	if err := m.SetVisible(ctx, []voxel.ChunkKey{{}}); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	if k := sink.nextEvict(t); k != (voxel.ChunkKey{}) {
		t.Fatalf("evicted %s", k)
	}
	want := []string{"genVoxelData/error", "genVoxelData/error", "genVoxelData/evicted"}
	got := jl.outcomes()
	if len(got) != len(want) {
		t.Fatalf("outcomes: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("outcomes: got %v want %v", got, want)
		}
	}
	s, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.Visible != 0 || s.Retries != 2 {
		t.Fatalf("stats: %+v", s)
	}
}

func TestManager_StoppedRequestsFail(t *testing.T) {
	m, _ := start(t, Config{}, jobs.PipelineExecutor{Oracle: flat(1)})
	done := make(chan struct{})
	go func() {
		_ = m.Run(context.Background())
		close(done)
	}()
	m.Stop()
	<-done
	m.Stop()
	if err := m.SetVisible(context.Background(), nil); !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v want ErrStopped", err)
	}
}

func TestNew_RejectsOversizedChunks(t *testing.T) {
	_, err := New(Config{Params: jobs.Params{ChunkSize: 33}}, jobs.PipelineExecutor{Oracle: flat(1)}, nil)
	if !errors.Is(err, voxel.ErrBadSize) {
		t.Fatalf("got %v want ErrBadSize", err)
	}
}

// gated runs the pipeline but holds the first job of kind until gate is
// closed, signalling started once that job is running.
func gated(kind jobs.Kind, oracle voxel.Oracle, gate <-chan struct{}, started chan<- struct{}, err error) jobs.Executor {
	pipe := jobs.PipelineExecutor{Oracle: oracle}
	calls := atomic.NewInt32(0)
	return jobs.ExecutorFunc(func(j jobs.Job) (jobs.Payload, error) {
		if j.Kind == kind && calls.Inc() == 1 {
			started <- struct{}{}
			<-gate
			if err != nil {
				return nil, err
			}
		}
		return pipe.Execute(j)
	})
}

func waitStarted(t *testing.T, started <-chan struct{}) {
	t.Helper()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for gated job")
	}
}

func TestManager_ReaddWhileVoxelGenInFlight(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	m, sink := start(t, Config{}, gated(jobs.KindVoxelGen, flat(2), gate, started, nil))
	ctx := run(t, m)

	key := voxel.ChunkKey{}
	if err := m.SetVisible(ctx, []voxel.ChunkKey{key}); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	waitStarted(t, started)
	if err := m.SetVisible(ctx, nil); err != nil {
		t.Fatalf("SetVisible(nil): %v", err)
	}
	if got := sink.nextEvict(t); got != key {
		t.Fatalf("evicted %v want %v", got, key)
	}
	if err := m.SetVisible(ctx, []voxel.ChunkKey{key}); err != nil {
		t.Fatalf("SetVisible again: %v", err)
	}
	close(gate)

	cm := sink.nextMesh(t)
	if cm.Key != key || cm.Version != 1 || cm.VoxelCount != 32 {
		t.Fatalf("mesh: key=%v version=%d voxels=%d want %v 1 32", cm.Key, cm.Version, cm.VoxelCount, key)
	}
	if got := m.QueueStats().Stale; got != 1 {
		t.Fatalf("queue stale: got %d want 1", got)
	}
	s, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if s.Stale != 1 || s.Loaded != 1 {
		t.Fatalf("stats: got %+v want stale=1 loaded=1", s)
	}
}

func TestManager_EditWhileMeshInFlight(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	m, sink := start(t, Config{}, gated(jobs.KindMeshGen, flat(2), gate, started, nil))
	ctx := run(t, m)

	if err := m.SetVisible(ctx, []voxel.ChunkKey{{}}); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	waitStarted(t, started)
	if err := m.SetVoxel(ctx, 0, 2, 0, 1); err != nil {
		t.Fatalf("SetVoxel: %v", err)
	}
	close(gate)

	// The mesh built before the edit is never published.
	cm := sink.nextMesh(t)
	if cm.Version != 1 || cm.VoxelCount != 33 {
		t.Fatalf("first mesh: version=%d voxels=%d want 1 33", cm.Version, cm.VoxelCount)
	}
	if got := m.QueueStats().Dispatched; got != 3 {
		t.Fatalf("dispatched: got %d want 3", got)
	}
}

func TestManager_FailedMeshRetryClearsDirty(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	exec := gated(jobs.KindMeshGen, flat(2), gate, started, errors.New("mesh failed"))
	m, sink := start(t, Config{MaxRetries: 2}, exec)
	ctx := run(t, m)

	if err := m.SetVisible(ctx, []voxel.ChunkKey{{}}); err != nil {
		t.Fatalf("SetVisible: %v", err)
	}
	waitStarted(t, started)
	if err := m.SetVoxel(ctx, 0, 2, 0, 1); err != nil {
		t.Fatalf("SetVoxel: %v", err)
	}
	close(gate)

	cm := sink.nextMesh(t)
	if cm.Version != 1 || cm.VoxelCount != 33 {
		t.Fatalf("mesh: version=%d voxels=%d want 1 33", cm.Version, cm.VoxelCount)
	}
	// voxel gen, the failed mesh and a single retry that already saw the edit.
	if got := m.QueueStats().Dispatched; got != 3 {
		t.Fatalf("dispatched: got %d want 3", got)
	}
}
