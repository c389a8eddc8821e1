package indexdb

import (
	"context"
	"database/sql"
	"errors"
)

type MeshRecord struct {
	Chunk      string `json:"chunk"`
	Version    uint64 `json:"version"`
	VoxelCount uint32 `json:"voxel_count"`
	Quads      int    `json:"quads"`
	Vertices   int    `json:"vertices"`
	Digest     string `json:"digest"`
	Evicted    bool   `json:"evicted"`
}

type FailureRecord struct {
	JobID   string `json:"job_id"`
	Kind    string `json:"kind"`
	Chunk   string `json:"chunk"`
	Attempt int    `json:"attempt"`
	Outcome string `json:"outcome"`
	Error   string `json:"error"`
}

// Mesh returns the latest indexed mesh for chunk.
func (s *SQLiteIndex) Mesh(ctx context.Context, chunk string) (MeshRecord, bool, error) {
	var (
		m       MeshRecord
		version int64
		voxels  int64
		evicted int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chunk,version,voxel_count,quads,vertices,digest,evicted FROM meshes WHERE chunk=?`, chunk,
	).Scan(&m.Chunk, &version, &voxels, &m.Quads, &m.Vertices, &m.Digest, &evicted)
	if errors.Is(err, sql.ErrNoRows) {
		return m, false, nil
	}
	if err != nil {
		return m, false, err
	}
	m.Version = uint64(version)
	m.VoxelCount = uint32(voxels)
	m.Evicted = evicted != 0
	return m, true, nil
}

// Failures returns the most recent failed jobs, newest first.
func (s *SQLiteIndex) Failures(ctx context.Context, limit int) ([]FailureRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id,kind,chunk,attempt,outcome,error FROM job_failures ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FailureRecord
	for rows.Next() {
		var f FailureRecord
		if err := rows.Scan(&f.JobID, &f.Kind, &f.Chunk, &f.Attempt, &f.Outcome, &f.Error); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) DumpCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dumps`).Scan(&n)
	return n, err
}
