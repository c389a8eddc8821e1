package mesh

import (
	"math/bits"

	"voxelmesh.ai/internal/sim/voxel"
)

// Quad is one merged rectangle of same-type faces. U/V are plane
// coordinates (see planeAxes); Width runs along u, Height along v.
type Quad struct {
	Dir    Direction
	Depth  int
	U      int
	V      int
	Width  int
	Height int
	Type   uint16
}

// Covers reports whether the quad contains plane cell (u, v).
func (q Quad) Covers(u, v int) bool {
	return u >= q.U && u < q.U+q.Width && v >= q.V && v < q.V+q.Height
}

func runMask(start, width int) uint32 {
	return uint32(((uint64(1) << uint(width)) - 1) << uint(start))
}

// Greedy merges the face bits of p into quads. It consumes p: every bit
// covered by an emitted quad is cleared. Scan order is direction, depth,
// v, u (all ascending); height growth stops at the first row that does
// not fully match, so the result is deterministic but not minimal.
func Greedy(p *Planes, f *voxel.Field) []Quad {
	s := p.Size
	var quads []Quad
	for dir := Direction(0); dir < NumDirections; dir++ {
		axis := dir.Axis()
		at := func(depth, u, v int) uint16 {
			x, y, z := local(axis, depth, u, v)
			return f.Voxels[x+y*s+z*s*s]
		}
		for depth := 0; depth < s; depth++ {
			plane := p.Layer(dir, depth)
			for v := 0; v < s; v++ {
				u := 0
				for u < s {
					rest := plane[v] >> uint(u)
					if rest == 0 {
						break
					}
					u += bits.TrailingZeros32(rest)

					start := u
					t := at(depth, start, v)
					width := 1
					for start+width < s && plane[v]&(1<<uint(start+width)) != 0 && at(depth, start+width, v) == t {
						width++
					}
					mask := runMask(start, width)
					plane[v] &^= mask

					height := 1
				grow:
					for h := v + 1; h < s; h++ {
						if plane[h]&mask != mask {
							break
						}
						for k := start; k < start+width; k++ {
							if at(depth, k, h) != t {
								break grow
							}
						}
						plane[h] &^= mask
						height++
					}

					quads = append(quads, Quad{
						Dir:    dir,
						Depth:  depth,
						U:      start,
						V:      v,
						Width:  width,
						Height: height,
						Type:   t,
					})
					u = start + width
				}
			}
		}
	}
	return quads
}

// Quads runs face extraction, swizzling and greedy merging for f.
func Quads(f *voxel.Field) []Quad {
	return Greedy(Swizzle(ExtractFaces(f)), f)
}
