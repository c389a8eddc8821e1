package mesh

import "math/bits"

// Planes are the face bits transposed so that each word is a row of one
// depth layer: bit u of Bits[d][depth*Size+v] is the face at (depth, u, v).
type Planes struct {
	Size int
	Bits [NumDirections][]uint32
}

func Swizzle(fc *Faces) *Planes {
	s := fc.Size
	p := &Planes{Size: s}
	for d := 0; d < NumDirections; d++ {
		out := make([]uint32, s*s)
		for v := 0; v < s; v++ {
			for u := 0; u < s; u++ {
				r := fc.Rows[d][u+v*s]
				for r != 0 {
					depth := bits.TrailingZeros32(r)
					r &= r - 1
					out[depth*s+v] |= 1 << uint(u)
				}
			}
		}
		p.Bits[d] = out
	}
	return p
}

// Layer returns the Size rows of one depth layer.
func (p *Planes) Layer(d Direction, depth int) []uint32 {
	return p.Bits[d][depth*p.Size : (depth+1)*p.Size]
}

// Count returns the number of set face bits.
func (p *Planes) Count() int {
	n := 0
	for d := range p.Bits {
		for _, w := range p.Bits[d] {
			n += bits.OnesCount32(w)
		}
	}
	return n
}
