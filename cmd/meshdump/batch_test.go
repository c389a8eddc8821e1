package main

import (
	"errors"
	"testing"

	"voxelmesh.ai/internal/sim/voxel"
)

func slab(height int) voxel.Oracle {
	return voxel.OracleFunc(func(x, y, z int) uint16 {
		if y >= 0 && y < height {
			return 1
		}
		return voxel.Air
	})
}

func TestSpiralKeys(t *testing.T) {
	keys := spiralKeys(5)
	if len(keys) != 5 {
		t.Fatalf("len: got %d want 5", len(keys))
	}
	if keys[0] != (voxel.ChunkKey{}) {
		t.Fatalf("first key: got %v want origin", keys[0])
	}
	seen := map[voxel.ChunkKey]bool{}
	for _, k := range keys {
		if k.Y != 0 {
			t.Fatalf("key %v: want y=0", k)
		}
		if seen[k] {
			t.Fatalf("duplicate key %v", k)
		}
		seen[k] = true
	}
	if got := len(spiralKeys(100)); got != 100 {
		t.Fatalf("len(spiralKeys(100)): got %d want 100", got)
	}
	if spiralKeys(0) != nil {
		t.Fatalf("spiralKeys(0): want nil")
	}
}

func TestMeshAll_KeepsInputOrder(t *testing.T) {
	keys := spiralKeys(9)
	work := generated(keys, slab(2), 1)
	boom := errors.New("boom")
	work = append(work, chunkWork{
		Key:   voxel.ChunkKey{X: 99},
		Field: func(int) (*voxel.Field, error) { return nil, boom },
	})

	reports := meshAll(4, work, 3)
	if len(reports) != len(work) {
		t.Fatalf("reports: got %d want %d", len(reports), len(work))
	}
	for i, r := range reports[:len(keys)] {
		if r.Key != keys[i] {
			t.Fatalf("report %d: got key %v want %v", i, r.Key, keys[i])
		}
		if r.Err != nil || r.Voxels != 32 || r.Quads != 6 || r.Vertices != 24 {
			t.Fatalf("report %d: got %+v want 32 voxels 6 quads 24 vertices", i, r)
		}
	}
	if last := reports[len(reports)-1]; !errors.Is(last.Err, boom) {
		t.Fatalf("last report: got err %v want boom", last.Err)
	}

	tot := summarize(reports)
	if tot.Chunks != 10 || tot.Failed != 1 || tot.Quads != 54 || tot.Voxels != 288 {
		t.Fatalf("totals: got %+v", tot)
	}
	if got := len(slowest(reports, 5)); got != 5 {
		t.Fatalf("slowest: got %d want 5", got)
	}
}

func TestMeshAll_EmptyChunk(t *testing.T) {
	reports := meshAll(4, generated(spiralKeys(1), slab(0), 1), 0)
	if len(reports) != 1 || reports[0].Err != nil {
		t.Fatalf("reports: got %+v", reports)
	}
	if tot := summarize(reports); tot.Empty != 1 || tot.Quads != 0 {
		t.Fatalf("totals: got %+v want one empty chunk", tot)
	}
}
