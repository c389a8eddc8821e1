package mesh

import "voxelmesh.ai/internal/sim/voxel"

// FaceBits splits one occupancy row into exposed-face bits. Bit i of pos is
// set when voxel i is solid and voxel i+1 is not; neg likewise for i-1.
// Bits shifted in at either end are zero, so chunk borders always expose.
func FaceBits(r uint32) (pos, neg uint32) {
	neg = r &^ (r << 1)
	pos = r &^ (r >> 1)
	return pos, neg
}

// Faces holds the exposed-face rows of a chunk per direction, addressed
// like voxel.Field occupancy rows (u + v*Size).
type Faces struct {
	Size int
	Rows [NumDirections][]uint32
}

func ExtractFaces(f *voxel.Field) *Faces {
	n := f.Size * f.Size
	fc := &Faces{Size: f.Size}
	for axis := 0; axis < 3; axis++ {
		pos := make([]uint32, n)
		neg := make([]uint32, n)
		for i, r := range f.Rows(axis) {
			if r == 0 {
				continue
			}
			pos[i], neg[i] = FaceBits(r)
		}
		fc.Rows[2*axis] = pos
		fc.Rows[2*axis+1] = neg
	}
	return fc
}

// Exposed reports whether the face of direction d at local (x,y,z) is set.
func (fc *Faces) Exposed(d Direction, x, y, z int) bool {
	c := [3]int{x, y, z}
	ua, va := planeAxes(d.Axis())
	row := fc.Rows[d][c[ua]+c[va]*fc.Size]
	return row&(1<<uint(c[d.Axis()])) != 0
}
