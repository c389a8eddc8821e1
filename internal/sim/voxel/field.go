package voxel

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"voxelmesh.ai/internal/sim/mathx"
)

// MaxSize is the largest chunk edge: one occupancy row must fit a uint32.
const MaxSize = 32

const Air uint16 = 0

// Occupancy axes. A row on axis A holds the solidity bits of the voxels
// along A; the two remaining coordinates address the row as (u, v):
//
//	AxisX: u=y v=z    AxisY: u=x v=z    AxisZ: u=x v=y
const (
	AxisX = 0
	AxisY = 1
	AxisZ = 2
)

var (
	ErrBadSize     = errors.New("chunk size out of range")
	ErrBadBuffers  = errors.New("voxel buffers do not match chunk size")
	ErrOccupancy   = errors.New("occupancy does not match voxel data")
	ErrOracleUnset = errors.New("nil terrain oracle")
)

// Oracle supplies the block type at a world coordinate.
type Oracle interface {
	BlockAt(x, y, z int) uint16
}

// OracleFunc adapts a plain function to Oracle.
type OracleFunc func(x, y, z int) uint16

func (f OracleFunc) BlockAt(x, y, z int) uint16 { return f(x, y, z) }

// Field is the dense voxel grid of one chunk plus its derived occupancy rows.
// A Field is owned by a single goroutine at a time.
type Field struct {
	Size      int
	Voxels    []uint16 // len = Size^3, index x + y*Size + z*Size^2
	Occupancy []uint32 // len = 3*Size^2, axis A at [A*Size^2, (A+1)*Size^2)
}

func CheckSize(size int) error {
	if size < 1 || size > MaxSize {
		return fmt.Errorf("%w: %d (want 1..%d)", ErrBadSize, size, MaxSize)
	}
	return nil
}

// New returns an all-air field.
func New(size int) (*Field, error) {
	if err := CheckSize(size); err != nil {
		return nil, err
	}
	return &Field{
		Size:      size,
		Voxels:    make([]uint16, size*size*size),
		Occupancy: make([]uint32, 3*size*size),
	}, nil
}

// Build fills a field for chunk key from the oracle. With stride > 1 the
// oracle is only sampled at stride-aligned world coordinates.
func Build(size int, key ChunkKey, oracle Oracle, stride int) (*Field, error) {
	if oracle == nil {
		return nil, ErrOracleUnset
	}
	f, err := New(size)
	if err != nil {
		return nil, err
	}
	ox, oy, oz := key.Origin(size)
	for z := 0; z < size; z++ {
		wz := mathx.AlignDown(oz+z, stride)
		for y := 0; y < size; y++ {
			wy := mathx.AlignDown(oy+y, stride)
			for x := 0; x < size; x++ {
				t := oracle.BlockAt(mathx.AlignDown(ox+x, stride), wy, wz)
				if t == Air {
					continue
				}
				f.Voxels[f.index(x, y, z)] = t
				f.setBits(x, y, z)
			}
		}
	}
	return f, nil
}

// FromBuffers wraps buffers received from another owner. The buffers are
// adopted, not copied.
func FromBuffers(size int, voxels []uint16, occupancy []uint32) (*Field, error) {
	if err := CheckSize(size); err != nil {
		return nil, err
	}
	if len(voxels) != size*size*size || len(occupancy) != 3*size*size {
		return nil, fmt.Errorf("%w: voxels=%d occupancy=%d size=%d", ErrBadBuffers, len(voxels), len(occupancy), size)
	}
	return &Field{Size: size, Voxels: voxels, Occupancy: occupancy}, nil
}

// FromVoxels adopts a voxel buffer and derives its occupancy rows.
func FromVoxels(size int, voxels []uint16) (*Field, error) {
	if err := CheckSize(size); err != nil {
		return nil, err
	}
	if len(voxels) != size*size*size {
		return nil, fmt.Errorf("%w: voxels=%d size=%d", ErrBadBuffers, len(voxels), size)
	}
	f := &Field{Size: size, Voxels: voxels, Occupancy: make([]uint32, 3*size*size)}
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				if voxels[f.index(x, y, z)] != Air {
					f.setBits(x, y, z)
				}
			}
		}
	}
	return f, nil
}

func (f *Field) index(x, y, z int) int {
	return x + y*f.Size + z*f.Size*f.Size
}

func (f *Field) wrap(x, y, z int) (int, int, int) {
	return mathx.Mod(x, f.Size), mathx.Mod(y, f.Size), mathx.Mod(z, f.Size)
}

// RowIndex returns the position of row (u, v) of axis in Occupancy.
func (f *Field) RowIndex(axis, u, v int) int {
	return axis*f.Size*f.Size + u + v*f.Size
}

// Row returns the occupancy word for row (u, v) of axis.
func (f *Field) Row(axis, u, v int) uint32 {
	return f.Occupancy[f.RowIndex(axis, u, v)]
}

// Rows returns the size^2 occupancy rows of one axis.
func (f *Field) Rows(axis int) []uint32 {
	n := f.Size * f.Size
	return f.Occupancy[axis*n : (axis+1)*n]
}

func (f *Field) setBits(x, y, z int) {
	f.Occupancy[f.RowIndex(AxisX, y, z)] |= 1 << uint(x)
	f.Occupancy[f.RowIndex(AxisY, x, z)] |= 1 << uint(y)
	f.Occupancy[f.RowIndex(AxisZ, x, y)] |= 1 << uint(z)
}

func (f *Field) clearBits(x, y, z int) {
	f.Occupancy[f.RowIndex(AxisX, y, z)] &^= 1 << uint(x)
	f.Occupancy[f.RowIndex(AxisY, x, z)] &^= 1 << uint(y)
	f.Occupancy[f.RowIndex(AxisZ, x, y)] &^= 1 << uint(z)
}

// Get returns the voxel at local coordinates (wrapped into the chunk).
func (f *Field) Get(x, y, z int) uint16 {
	x, y, z = f.wrap(x, y, z)
	return f.Voxels[f.index(x, y, z)]
}

// Solid reads the occupancy bit for a local coordinate.
func (f *Field) Solid(x, y, z int) bool {
	x, y, z = f.wrap(x, y, z)
	return f.Row(AxisX, y, z)&(1<<uint(x)) != 0
}

// Set stores t and updates the three occupancy bits of the voxel. It
// reports whether anything changed. The owning chunk must be re-meshed
// afterwards.
func (f *Field) Set(x, y, z int, t uint16) bool {
	x, y, z = f.wrap(x, y, z)
	i := f.index(x, y, z)
	if f.Voxels[i] == t {
		return false
	}
	f.Voxels[i] = t
	if t == Air {
		f.clearBits(x, y, z)
	} else {
		f.setBits(x, y, z)
	}
	return true
}

// VoxelCount returns the number of solid voxels.
func (f *Field) VoxelCount() uint32 {
	var n uint32
	for _, r := range f.Rows(AxisX) {
		n += uint32(bits.OnesCount32(r))
	}
	return n
}

// CheckOccupancy verifies that every occupancy bit agrees with the voxels.
func (f *Field) CheckOccupancy() error {
	s := f.Size
	for z := 0; z < s; z++ {
		for y := 0; y < s; y++ {
			for x := 0; x < s; x++ {
				solid := f.Voxels[f.index(x, y, z)] != Air
				bx := f.Row(AxisX, y, z)&(1<<uint(x)) != 0
				by := f.Row(AxisY, x, z)&(1<<uint(y)) != 0
				bz := f.Row(AxisZ, x, y)&(1<<uint(z)) != 0
				if bx != solid || by != solid || bz != solid {
					return fmt.Errorf("%w at (%d,%d,%d)", ErrOccupancy, x, y, z)
				}
			}
		}
	}
	for axis := 0; axis < 3; axis++ {
		for _, r := range f.Rows(axis) {
			if s < 32 && r>>uint(s) != 0 {
				return fmt.Errorf("%w: bits beyond size on axis %d", ErrOccupancy, axis)
			}
		}
	}
	return nil
}

// Clone returns a deep copy.
func (f *Field) Clone() *Field {
	c := &Field{
		Size:      f.Size,
		Voxels:    make([]uint16, len(f.Voxels)),
		Occupancy: make([]uint32, len(f.Occupancy)),
	}
	copy(c.Voxels, f.Voxels)
	copy(c.Occupancy, f.Occupancy)
	return c
}

// Digest hashes the voxel data.
func (f *Field) Digest() [32]byte {
	h := sha256.New()
	var tmp [2]byte
	for _, v := range f.Voxels {
		binary.LittleEndian.PutUint16(tmp[:], v)
		h.Write(tmp[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
