package mesh

import "voxelmesh.ai/internal/sim/voxel"

// Direction is a face normal. The numeric value doubles as the normal id
// packed into vertex info.
type Direction uint8

const (
	PosX Direction = iota
	NegX
	PosY
	NegY
	PosZ
	NegZ

	NumDirections = 6
)

func (d Direction) Axis() int      { return int(d) / 2 }
func (d Direction) Positive() bool { return d%2 == 0 }

func (d Direction) String() string {
	switch d {
	case PosX:
		return "+x"
	case NegX:
		return "-x"
	case PosY:
		return "+y"
	case NegY:
		return "-y"
	case PosZ:
		return "+z"
	case NegZ:
		return "-z"
	}
	return "?"
}

// planeAxes returns the world axes that plane coordinates u and v run along
// for faces perpendicular to axis. They match the occupancy row addressing.
func planeAxes(axis int) (u, v int) {
	switch axis {
	case voxel.AxisX:
		return voxel.AxisY, voxel.AxisZ
	case voxel.AxisY:
		return voxel.AxisX, voxel.AxisZ
	default:
		return voxel.AxisX, voxel.AxisY
	}
}

// local converts (axis, depth, u, v) to chunk-local x, y, z.
func local(axis, depth, u, v int) (x, y, z int) {
	switch axis {
	case voxel.AxisX:
		return depth, u, v
	case voxel.AxisY:
		return u, depth, v
	default:
		return u, v, depth
	}
}
