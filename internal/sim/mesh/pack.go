package mesh

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Vertex info layout. Word 0 carries the quad shape, word 1 the voxel type.
// The widths are shared with the shader that unpacks them.
const (
	UVBits     = 2
	NormalBits = 3
	ExtentBits = 5
	TypeBits   = 16

	normalShift = UVBits
	heightShift = normalShift + NormalBits
	widthShift  = heightShift + ExtentBits

	MaxExtent    = 1 << ExtentBits
	MaxVoxelType = 1<<TypeBits - 1

	InfoWordsPerVertex = 2
	FloatsPerVertex    = 3
)

var ErrPackOverflow = errors.New("vertex info field out of range")

// VertexInfo is the unpacked per-vertex metadata. Width and Height are the
// quad extents (1..MaxExtent); they are stored minus one.
type VertexInfo struct {
	UVCorner  int
	Normal    int
	Width     int
	Height    int
	VoxelType int
}

func (vi VertexInfo) validate() error {
	switch {
	case vi.UVCorner < 0 || vi.UVCorner >= 1<<UVBits:
		return fmt.Errorf("%w: uv corner %d", ErrPackOverflow, vi.UVCorner)
	case vi.Normal < 0 || vi.Normal >= NumDirections:
		return fmt.Errorf("%w: normal %d", ErrPackOverflow, vi.Normal)
	case vi.Width < 1 || vi.Width > MaxExtent:
		return fmt.Errorf("%w: width %d", ErrPackOverflow, vi.Width)
	case vi.Height < 1 || vi.Height > MaxExtent:
		return fmt.Errorf("%w: height %d", ErrPackOverflow, vi.Height)
	case vi.VoxelType < 1 || vi.VoxelType > MaxVoxelType:
		return fmt.Errorf("%w: voxel type %d", ErrPackOverflow, vi.VoxelType)
	}
	return nil
}

func PackInfo(vi VertexInfo) ([2]uint32, error) {
	if err := vi.validate(); err != nil {
		return [2]uint32{}, err
	}
	w0 := uint32(vi.UVCorner) |
		uint32(vi.Normal)<<normalShift |
		uint32(vi.Height-1)<<heightShift |
		uint32(vi.Width-1)<<widthShift
	return [2]uint32{w0, uint32(vi.VoxelType)}, nil
}

func UnpackInfo(w [2]uint32) VertexInfo {
	return VertexInfo{
		UVCorner:  int(w[0] & (1<<UVBits - 1)),
		Normal:    int(w[0]>>normalShift&(1<<NormalBits-1)),
		Height:    int(w[0]>>heightShift&(1<<ExtentBits-1)) + 1,
		Width:     int(w[0]>>widthShift&(1<<ExtentBits-1)) + 1,
		VoxelType: int(w[1] & MaxVoxelType),
	}
}

// MeshData is the renderer-facing output for one chunk.
type MeshData struct {
	Vertices  []float32 // FloatsPerVertex per vertex, chunk-local
	Indices   []uint32
	VoxelInfo []uint32 // InfoWordsPerVertex per vertex
}

func (m MeshData) VertexCount() int { return len(m.Vertices) / FloatsPerVertex }
func (m MeshData) QuadCount() int   { return len(m.Indices) / 6 }

// Corner order per direction. Corners are numbered in plane space:
// 0=(u,v) 1=(u+w,v) 2=(u+w,v+h) 3=(u,v+h). Forward order faces along
// cross(uAxis, vAxis); the reversed directions flip it so every quad winds
// counter-clockwise seen from outside.
var (
	forward  = [4]int{0, 1, 2, 3}
	reversed = [4]int{0, 3, 2, 1}

	winding = [NumDirections][4]int{
		PosX: forward,
		NegX: reversed,
		PosY: reversed,
		NegY: forward,
		PosZ: forward,
		NegZ: reversed,
	}

	quadIndices = [6]uint32{0, 1, 2, 0, 2, 3}

	unit = [3]mgl32.Vec3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
)

// Corners returns the four chunk-local corner positions of q in emit order.
func Corners(q Quad) [4]mgl32.Vec3 {
	axis := q.Dir.Axis()
	ua, va := planeAxes(axis)
	depth := float32(q.Depth)
	if q.Dir.Positive() {
		depth++
	}
	base := unit[axis].Mul(depth)
	uv := [4][2]int{
		{q.U, q.V},
		{q.U + q.Width, q.V},
		{q.U + q.Width, q.V + q.Height},
		{q.U, q.V + q.Height},
	}
	var out [4]mgl32.Vec3
	for i, c := range winding[q.Dir] {
		out[i] = base.Add(unit[ua].Mul(float32(uv[c][0]))).Add(unit[va].Mul(float32(uv[c][1])))
	}
	return out
}

// Pack converts quads into vertex, index and info buffers. Every quad is
// validated before any output is produced.
func Pack(quads []Quad) (MeshData, error) {
	for i, q := range quads {
		vi := VertexInfo{Normal: int(q.Dir), Width: q.Width, Height: q.Height, VoxelType: int(q.Type)}
		if err := vi.validate(); err != nil {
			return MeshData{}, fmt.Errorf("quad %d: %w", i, err)
		}
	}

	m := MeshData{
		Vertices:  make([]float32, 0, len(quads)*4*FloatsPerVertex),
		Indices:   make([]uint32, 0, len(quads)*6),
		VoxelInfo: make([]uint32, 0, len(quads)*4*InfoWordsPerVertex),
	}
	for i, q := range quads {
		corners := Corners(q)
		for k, c := range winding[q.Dir] {
			p := corners[k]
			m.Vertices = append(m.Vertices, p.X(), p.Y(), p.Z())
			// Only the corner differs from the validated info, and winding
			// corners are always 0..3.
			w, _ := PackInfo(VertexInfo{
				UVCorner:  c,
				Normal:    int(q.Dir),
				Width:     q.Width,
				Height:    q.Height,
				VoxelType: int(q.Type),
			})
			m.VoxelInfo = append(m.VoxelInfo, w[0], w[1])
		}
		base := uint32(4 * i)
		for _, idx := range quadIndices {
			m.Indices = append(m.Indices, base+idx)
		}
	}
	return m, nil
}
