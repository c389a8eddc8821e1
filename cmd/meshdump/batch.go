package main

import (
	"math"
	"sort"
	"time"

	"github.com/alitto/pond/v2"

	"voxelmesh.ai/internal/persistence/snapshot"
	"voxelmesh.ai/internal/sim/lifecycle"
	"voxelmesh.ai/internal/sim/mesh"
	"voxelmesh.ai/internal/sim/voxel"
)

// chunkWork produces the voxels of one chunk on a pool worker.
type chunkWork struct {
	Key   voxel.ChunkKey
	Field func(size int) (*voxel.Field, error)
}

type report struct {
	Key      voxel.ChunkKey
	Voxels   uint32
	Quads    int
	Vertices int
	Elapsed  time.Duration
	Err      error
}

type totals struct {
	Chunks   int
	Failed   int
	Empty    int
	Voxels   uint64
	Quads    int
	Vertices int
	Elapsed  time.Duration
}

func fromDump(d snapshot.DumpV1) []chunkWork {
	out := make([]chunkWork, 0, len(d.Chunks))
	for _, c := range d.Chunks {
		out = append(out, chunkWork{Key: c.Key(), Field: c.Field})
	}
	return out
}

func generated(keys []voxel.ChunkKey, oracle voxel.Oracle, stride int) []chunkWork {
	out := make([]chunkWork, 0, len(keys))
	for _, k := range keys {
		k := k
		out = append(out, chunkWork{Key: k, Field: func(size int) (*voxel.Field, error) {
			return voxel.Build(size, k, oracle, stride)
		}})
	}
	return out
}

// spiralKeys returns the n surface chunks closest to the origin.
func spiralKeys(n int) []voxel.ChunkKey {
	if n <= 0 {
		return nil
	}
	r := int(math.Ceil(math.Sqrt(float64(n)/math.Pi))) + 1
	keys := lifecycle.VisibleAround(voxel.ChunkKey{}, r, 0)
	for len(keys) < n {
		r++
		keys = lifecycle.VisibleAround(voxel.ChunkKey{}, r, 0)
	}
	return keys[:n]
}

// meshAll meshes every chunk on a pond pool. Reports come back in input
// order.
func meshAll(size int, work []chunkWork, workers int) []report {
	if workers < 1 {
		workers = 1
	}
	reports := make([]report, len(work))
	pool := pond.NewPool(workers)
	for i, w := range work {
		i, w := i, w
		pool.Submit(func() {
			reports[i] = meshOne(size, w)
		})
	}
	pool.StopAndWait()
	return reports
}

func meshOne(size int, w chunkWork) report {
	r := report{Key: w.Key}
	start := time.Now()
	f, err := w.Field(size)
	if err != nil {
		r.Err = err
		return r
	}
	m, err := mesh.Build(f)
	r.Elapsed = time.Since(start)
	if err != nil {
		r.Err = err
		return r
	}
	r.Voxels = f.VoxelCount()
	r.Quads = m.QuadCount()
	r.Vertices = m.VertexCount()
	return r
}

func summarize(reports []report) totals {
	var t totals
	for _, r := range reports {
		t.Chunks++
		if r.Err != nil {
			t.Failed++
			continue
		}
		if r.Quads == 0 {
			t.Empty++
		}
		t.Voxels += uint64(r.Voxels)
		t.Quads += r.Quads
		t.Vertices += r.Vertices
		t.Elapsed += r.Elapsed
	}
	return t
}

// slowest returns up to n successful reports ordered by mesh time.
func slowest(reports []report, n int) []report {
	ok := make([]report, 0, len(reports))
	for _, r := range reports {
		if r.Err == nil {
			ok = append(ok, r)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].Elapsed > ok[j].Elapsed })
	if len(ok) > n {
		ok = ok[:n]
	}
	return ok
}
