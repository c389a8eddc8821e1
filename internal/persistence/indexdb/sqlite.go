// Package indexdb keeps a queryable SQLite index of published meshes and
// failed jobs. It is a secondary store: writes are asynchronous and dropped
// when the writer falls behind.
package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/atomic"
	_ "modernc.org/sqlite"

	"voxelmesh.ai/internal/persistence/snapshot"
	"voxelmesh.ai/internal/sim/lifecycle"
	"voxelmesh.ai/internal/sim/voxel"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed *atomic.Bool
	now    func() time.Time

	dropMesh    *atomic.Uint64
	dropEvict   *atomic.Uint64
	dropFailure *atomic.Uint64
	dropDump    *atomic.Uint64
	writeErrors *atomic.Uint64
}

type reqKind int

const (
	reqMesh reqKind = iota + 1
	reqEvict
	reqFailure
	reqDump
	reqSync
)

type req struct {
	kind reqKind

	mesh    meshRow
	chunk   string
	failure lifecycle.JobLogEntry
	dump    dumpRow
	done    chan struct{}
}

type meshRow struct {
	Chunk      string
	X, Y, Z    int
	Version    uint64
	VoxelCount uint32
	Quads      int
	Vertices   int
	Digest     string
	UpdatedMs  int64
}

type dumpRow struct {
	Path      string
	RunID     string
	CreatedMs int64
	Chunks    int
	ChunkSize int
	Seed      int64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:          db,
		ch:          make(chan req, 16384),
		closed:      atomic.NewBool(false),
		now:         time.Now,
		dropMesh:    atomic.NewUint64(0),
		dropEvict:   atomic.NewUint64(0),
		dropFailure: atomic.NewUint64(0),
		dropDump:    atomic.NewUint64(0),
		writeErrors: atomic.NewUint64(0),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS meshes (
			chunk TEXT PRIMARY KEY,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			version INTEGER NOT NULL,
			voxel_count INTEGER NOT NULL,
			quads INTEGER NOT NULL,
			vertices INTEGER NOT NULL,
			digest TEXT NOT NULL,
			updated_ms INTEGER NOT NULL,
			evicted INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_meshes_pos ON meshes(cx, cz, cy);`,
		`CREATE TABLE IF NOT EXISTS job_failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at_ms INTEGER NOT NULL,
			job_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			chunk TEXT NOT NULL,
			worker INTEGER NOT NULL,
			attempt INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_failures_chunk ON job_failures(chunk, at_ms);`,
		`CREATE TABLE IF NOT EXISTS dumps (
			path TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			created_ms INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			chunk_size INTEGER NOT NULL,
			seed INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// SetMeta writes a key synchronously.
func (s *SQLiteIndex) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, key, value)
	return err
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// The JSONL job log stays the source of truth.
		drops.Inc()
	}
}

// OnMesh implements lifecycle.MeshSink.
func (s *SQLiteIndex) OnMesh(m lifecycle.ChunkMesh) {
	s.enqueue(req{kind: reqMesh, mesh: meshRow{
		Chunk:      m.Key.String(),
		X:          m.Key.X,
		Y:          m.Key.Y,
		Z:          m.Key.Z,
		Version:    m.Version,
		VoxelCount: m.VoxelCount,
		Quads:      m.Mesh.QuadCount(),
		Vertices:   m.Mesh.VertexCount(),
		Digest:     m.Digest,
		UpdatedMs:  s.now().UnixMilli(),
	}}, s.dropMesh)
}

// Evict implements lifecycle.MeshSink.
func (s *SQLiteIndex) Evict(key voxel.ChunkKey) {
	s.enqueue(req{kind: reqEvict, chunk: key.String()}, s.dropEvict)
}

// WriteJob implements lifecycle.JobLogger. Only failures are indexed.
func (s *SQLiteIndex) WriteJob(e lifecycle.JobLogEntry) error {
	if e.Outcome != lifecycle.OutcomeError && e.Outcome != lifecycle.OutcomeEvicted {
		return nil
	}
	s.enqueue(req{kind: reqFailure, failure: e}, s.dropFailure)
	return nil
}

func (s *SQLiteIndex) RecordDump(path string, h snapshot.Header) {
	s.enqueue(req{kind: reqDump, dump: dumpRow{
		Path:      path,
		RunID:     h.RunID,
		CreatedMs: h.CreatedAtMs,
		Chunks:    h.Chunks,
		ChunkSize: h.ChunkSize,
		Seed:      h.Seed,
	}}, s.dropDump)
}

// Sync blocks until every write queued before it is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s.closed.Load() {
		return errors.New("index closed")
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropMeshTotal  uint64
	DropEvictTotal uint64
	DropFailTotal  uint64
	DropDumpTotal  uint64
	WriteErrors    uint64
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropMeshTotal:  s.dropMesh.Load(),
		DropEvictTotal: s.dropEvict.Load(),
		DropFailTotal:  s.dropFailure.Load(),
		DropDumpTotal:  s.dropDump.Load(),
		WriteErrors:    s.writeErrors.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() bool {
		if tx != nil {
			return true
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Inc()
			time.Sleep(50 * time.Millisecond)
			return false
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
		return true
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Inc()
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(query string, args ...any) {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			s.writeErrors.Inc()
			_ = tx.Rollback()
			tx = nil
			return
		}
		opCount++
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		select {
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		}
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		if !begin() {
			continue
		}
		switch r.kind {
		case reqMesh:
			m := r.mesh
			exec(`INSERT OR REPLACE INTO meshes(chunk,cx,cy,cz,version,voxel_count,quads,vertices,digest,updated_ms,evicted)
				VALUES(?,?,?,?,?,?,?,?,?,?,0)`,
				m.Chunk, m.X, m.Y, m.Z, int64(m.Version), int64(m.VoxelCount), m.Quads, m.Vertices, m.Digest, m.UpdatedMs)
		case reqEvict:
			exec(`UPDATE meshes SET evicted=1 WHERE chunk=?`, r.chunk)
		case reqFailure:
			f := r.failure
			exec(`INSERT INTO job_failures(at_ms,job_id,kind,chunk,worker,attempt,outcome,error) VALUES(?,?,?,?,?,?,?,?)`,
				f.AtMs, f.JobID, f.Kind, f.Chunk, f.Worker, f.Attempt, f.Outcome, f.Error)
		case reqDump:
			d := r.dump
			exec(`INSERT OR REPLACE INTO dumps(path,run_id,created_ms,chunks,chunk_size,seed) VALUES(?,?,?,?,?,?)`,
				d.Path, d.RunID, d.CreatedMs, d.Chunks, d.ChunkSize, d.Seed)
		}
		if tx != nil && opCount >= commitEvery {
			commit()
		}
	}
}
