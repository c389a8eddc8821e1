package lifecycle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"voxelmesh.ai/internal/sim/jobs"
	"voxelmesh.ai/internal/sim/voxel"
)

var ErrStopped = errors.New("lifecycle manager stopped")

type Config struct {
	Params           jobs.Params
	Workers          int
	DispatchInterval time.Duration
	// MaxRetries is how many times a failed job is re-queued before the
	// chunk is evicted.
	MaxRetries int
}

type chunkState struct {
	field      *voxel.Field // nil until voxel gen finished
	version    uint64
	attempts   int
	dirty      bool // edited while its mesh was in flight
	genBlocked bool // voxel gen id still held by a cancelled run
}

type visibilityReq struct {
	keys []voxel.ChunkKey
	done chan struct{}
}

type editReq struct {
	x, y, z int
	t       uint16
	done    chan struct{}
}

type statsReq struct {
	resp chan Stats
}

type copyReq struct {
	resp chan []ChunkCopy
}

// Manager owns the worker pool and queue and keeps the visible chunk set
// generated and meshed. All state is confined to the Run goroutine; the
// exported request methods are safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *log.Logger

	pool  *jobs.Pool
	queue *jobs.Queue

	sinks      []MeshSink
	jobLoggers []JobLogger

	chunks  map[voxel.ChunkKey]*chunkState
	visible map[voxel.ChunkKey]bool
	// edits survive eviction for the rest of the session
	diffs map[voxel.ChunkKey][]voxel.Diff

	published uint64
	retries   uint64
	evictions uint64
	stale     uint64

	visReq   chan visibilityReq
	editReq  chan editReq
	statsReq chan statsReq
	copyReq  chan copyReq
	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}

	now func() time.Time
}

func New(cfg Config, exec jobs.Executor, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if err := voxel.CheckSize(cfg.Params.ChunkSize); err != nil {
		return nil, err
	}
	if cfg.Params.LODStride < 1 {
		cfg.Params.LODStride = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 5 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	pool, err := jobs.NewPool(cfg.Workers, exec, logger)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		queue:    jobs.NewQueue(pool, logger),
		chunks:   map[voxel.ChunkKey]*chunkState{},
		visible:  map[voxel.ChunkKey]bool{},
		diffs:    map[voxel.ChunkKey][]voxel.Diff{},
		visReq:   make(chan visibilityReq, 16),
		editReq:  make(chan editReq, 256),
		statsReq: make(chan statsReq, 16),
		copyReq:  make(chan copyReq, 4),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
		now:      time.Now,
	}
	m.queue.OnResult(jobs.KindVoxelGen, m.onVoxelResult)
	m.queue.OnResult(jobs.KindMeshGen, m.onMeshResult)
	return m, nil
}

// AddSink and AddJobLogger must be called before Run.
func (m *Manager) AddSink(s MeshSink)       { m.sinks = append(m.sinks, s) }
func (m *Manager) AddJobLogger(l JobLogger) { m.jobLoggers = append(m.jobLoggers, l) }

func (m *Manager) Params() jobs.Params         { return m.cfg.Params }
func (m *Manager) QueueStats() jobs.QueueStats { return m.queue.Stats() }
func (m *Manager) PoolStats() jobs.PoolStats   { return m.pool.Stats() }

func (m *Manager) Run(ctx context.Context) error {
	defer close(m.stopped)
	defer m.pool.Close()

	ticker := time.NewTicker(m.cfg.DispatchInterval)
	defer ticker.Stop()

	results := m.pool.Results()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stop:
			return nil
		case req := <-m.visReq:
			m.applyVisible(req.keys)
			close(req.done)
		case req := <-m.editReq:
			m.applyEdit(req.x, req.y, req.z, req.t)
			close(req.done)
		case req := <-m.statsReq:
			req.resp <- m.stats()
		case req := <-m.copyReq:
			req.resp <- m.copies()
		case r, ok := <-results:
			if !ok {
				return ErrStopped
			}
			m.queue.OnWorkerResult(r)
			m.queue.DispatchTick()
		case <-ticker.C:
			m.queue.DispatchTick()
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (m *Manager) Stop() { m.stopOnce.Do(func() { close(m.stop) }) }

// SetVisible replaces the visible set. Chunks that left it are evicted and
// new ones are queued for voxel generation in the given order.
func (m *Manager) SetVisible(ctx context.Context, keys []voxel.ChunkKey) error {
	req := visibilityReq{keys: append([]voxel.ChunkKey(nil), keys...), done: make(chan struct{})}
	select {
	case m.visReq <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrStopped
	}
	return m.wait(ctx, req.done)
}

// SetVoxel edits the voxel at world coordinate (x, y, z). Loaded chunks are
// re-meshed ahead of other queued work.
func (m *Manager) SetVoxel(ctx context.Context, x, y, z int, t uint16) error {
	req := editReq{x: x, y: y, z: z, t: t, done: make(chan struct{})}
	select {
	case m.editReq <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrStopped
	}
	return m.wait(ctx, req.done)
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	req := statsReq{resp: make(chan Stats, 1)}
	select {
	case m.statsReq <- req:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-m.stopped:
		return Stats{}, ErrStopped
	}
	select {
	case s := <-req.resp:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-m.stopped:
		return Stats{}, ErrStopped
	}
}

// Chunks returns detached copies of every loaded chunk, ordered by key.
func (m *Manager) Chunks(ctx context.Context) ([]ChunkCopy, error) {
	req := copyReq{resp: make(chan []ChunkCopy, 1)}
	select {
	case m.copyReq <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.stopped:
		return nil, ErrStopped
	}
	select {
	case out := <-req.resp:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.stopped:
		return nil, ErrStopped
	}
}

func (m *Manager) wait(ctx context.Context, done chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return ErrStopped
	}
}

func (m *Manager) applyVisible(keys []voxel.ChunkKey) {
	next := make(map[voxel.ChunkKey]bool, len(keys))
	for _, k := range keys {
		next[k] = true
	}
	gone := make([]voxel.ChunkKey, 0)
	for k := range m.visible {
		if !next[k] {
			gone = append(gone, k)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i].Less(gone[j]) })
	for _, k := range gone {
		m.evict(k)
	}
	for _, k := range keys {
		if m.visible[k] {
			continue
		}
		m.visible[k] = true
		st := &chunkState{}
		m.chunks[k] = st
		m.requestVoxels(k, st)
	}
}

func (m *Manager) requestVoxels(key voxel.ChunkKey, st *chunkState) {
	j := jobs.NewVoxelGen(key, m.cfg.Params, append([]voxel.Diff(nil), m.diffs[key]...))
	if m.queue.AddRequest(j) {
		st.genBlocked = false
		return
	}
	if m.queue.IsInFlight(j.ID) {
		st.genBlocked = true
	}
}

func (m *Manager) evict(key voxel.ChunkKey) {
	m.queue.RemoveRequest(jobs.ID(jobs.KindVoxelGen, key))
	m.queue.RemoveRequest(jobs.ID(jobs.KindMeshGen, key))
	delete(m.visible, key)
	delete(m.chunks, key)
	m.evictions++
	for _, s := range m.sinks {
		s.Evict(key)
	}
}

func (m *Manager) applyEdit(x, y, z int, t uint16) {
	key, lx, ly, lz := ChunkOf(m.cfg.Params.ChunkSize, x, y, z)
	m.diffs[key] = voxel.MergeDiff(m.diffs[key], voxel.Diff{X: lx, Y: ly, Z: lz, Type: t})
	st := m.chunks[key]
	if st == nil || st.field == nil {
		// Applied when the voxel data arrives.
		return
	}
	if !st.field.Set(lx, ly, lz, t) {
		return
	}
	m.requestMesh(key, st, true)
}

// requestMesh queues a mesh job over a copy of the chunk's voxels. A queued
// job with older buffers is replaced; an in-flight one marks the chunk dirty.
func (m *Manager) requestMesh(key voxel.ChunkKey, st *chunkState, priority bool) {
	id := jobs.ID(jobs.KindMeshGen, key)
	if m.queue.IsInFlight(id) {
		st.dirty = true
		return
	}
	m.queue.RemoveRequest(id)
	if st.field.VoxelCount() == 0 {
		m.publish(key, st, jobs.MeshGenResult{Key: key})
		return
	}
	j := jobs.NewMeshGen(key, m.cfg.Params, st.field.Clone())
	if _, err := m.queue.Enqueue(j, priority); err != nil {
		m.logger.Printf("mesh %s: %v", key, err)
	}
}

func (m *Manager) publish(key voxel.ChunkKey, st *chunkState, r jobs.MeshGenResult) {
	st.version++
	d := st.field.Digest()
	cm := ChunkMesh{
		Key:        key,
		Version:    st.version,
		VoxelCount: st.field.VoxelCount(),
		Digest:     hex.EncodeToString(d[:]),
		Mesh:       r.MeshData,
	}
	m.published++
	for _, s := range m.sinks {
		s.OnMesh(cm)
	}
}

func (m *Manager) onVoxelResult(r jobs.Result) {
	key, st, ok := m.live(r)
	if !ok {
		return
	}
	if r.Err != nil {
		m.retry(key, st, r, func() { m.requestVoxels(key, st) })
		return
	}
	vr := r.Payload.(jobs.VoxelGenResult)
	f, err := voxel.FromBuffers(m.cfg.Params.ChunkSize, vr.Voxels, vr.Occupancy)
	if err != nil {
		r.Err = fmt.Errorf("voxel result %s: %w", key, err)
		m.retry(key, st, r, func() { m.requestVoxels(key, st) })
		return
	}
	// Edits that arrived after the job was queued.
	f.Apply(m.diffs[key])
	st.field = f
	st.attempts = 0
	m.logJob(r, OutcomeOK, st, f.VoxelCount(), 0)
	m.requestMesh(key, st, false)
}

func (m *Manager) onMeshResult(r jobs.Result) {
	key, st, ok := m.live(r)
	if !ok {
		return
	}
	if r.Err != nil {
		m.retry(key, st, r, func() {
			// The retry meshes the current field, edits included.
			st.dirty = false
			m.requestMesh(key, st, false)
		})
		return
	}
	mr := r.Payload.(jobs.MeshGenResult)
	st.attempts = 0
	m.logJob(r, OutcomeOK, st, 0, mr.QuadCount())
	if st.dirty {
		// The result predates the latest edit; mesh again before publishing.
		st.dirty = false
		m.requestMesh(key, st, true)
		return
	}
	m.publish(key, st, mr)
}

// live resolves the chunk a result belongs to. Results for chunks that are
// no longer visible or that were cancelled are dropped, and a chunk that was
// re-added while the cancelled job ran gets its pending work re-queued.
func (m *Manager) live(r jobs.Result) (voxel.ChunkKey, *chunkState, bool) {
	var key voxel.ChunkKey
	if r.Payload != nil {
		key = r.Payload.ChunkKey()
	} else if k, err := keyFromJobID(r.JobID); err == nil {
		key = k
	} else {
		m.logger.Printf("result %s: %v", r.JobID, err)
		return key, nil, false
	}
	st := m.chunks[key]
	if st == nil || r.Cancelled {
		m.stale++
		m.logJob(r, OutcomeStale, nil, 0, 0)
		if st != nil {
			m.resume(key, st, r.Kind)
		}
		return key, nil, false
	}
	return key, st, true
}

func (m *Manager) resume(key voxel.ChunkKey, st *chunkState, kind jobs.Kind) {
	switch kind {
	case jobs.KindVoxelGen:
		if st.genBlocked {
			m.requestVoxels(key, st)
		}
	case jobs.KindMeshGen:
		if st.dirty && st.field != nil {
			st.dirty = false
			m.requestMesh(key, st, true)
		}
	}
}

func (m *Manager) retry(key voxel.ChunkKey, st *chunkState, r jobs.Result, again func()) {
	st.attempts++
	if st.attempts > m.cfg.MaxRetries {
		m.logger.Printf("chunk %s: %s failed %d times, evicting: %v", key, r.Kind, st.attempts, r.Err)
		m.logJob(r, OutcomeEvicted, st, 0, 0)
		m.evict(key)
		return
	}
	m.logger.Printf("chunk %s: %s failed (attempt %d): %v", key, r.Kind, st.attempts, r.Err)
	m.logJob(r, OutcomeError, st, 0, 0)
	m.retries++
	again()
}

func (m *Manager) logJob(r jobs.Result, outcome string, st *chunkState, voxels uint32, quads int) {
	if len(m.jobLoggers) == 0 {
		return
	}
	e := JobLogEntry{
		AtMs:       m.now().UnixMilli(),
		JobID:      r.JobID,
		Kind:       string(r.Kind),
		Worker:     r.WorkerID,
		Outcome:    outcome,
		VoxelCount: voxels,
		Quads:      quads,
	}
	if r.Payload != nil {
		e.Chunk = r.Payload.ChunkKey().String()
	} else if k, err := keyFromJobID(r.JobID); err == nil {
		e.Chunk = k.String()
	}
	if st != nil {
		e.Attempt = st.attempts
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	for _, l := range m.jobLoggers {
		if err := l.WriteJob(e); err != nil {
			m.logger.Printf("job log: %v", err)
		}
	}
}

func (m *Manager) stats() Stats {
	s := Stats{
		Visible:   len(m.visible),
		Edited:    len(m.diffs),
		Published: m.published,
		Retries:   m.retries,
		Evictions: m.evictions,
		Stale:     m.stale,
	}
	for _, st := range m.chunks {
		if st.field != nil {
			s.Loaded++
		}
		if st.version > 0 {
			s.Meshed++
		}
	}
	return s
}

func (m *Manager) copies() []ChunkCopy {
	out := make([]ChunkCopy, 0, len(m.chunks))
	for k, st := range m.chunks {
		if st.field == nil {
			continue
		}
		out = append(out, ChunkCopy{
			Key:   k,
			Field: st.field.Clone(),
			Diffs: append([]voxel.Diff(nil), m.diffs[k]...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

func keyFromJobID(id string) (voxel.ChunkKey, error) {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return voxel.ParseChunkKey(id[i+1:])
		}
	}
	return voxel.ChunkKey{}, fmt.Errorf("job id %q has no chunk key", id)
}
