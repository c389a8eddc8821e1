package voxel

// Diff is one voxel edit in chunk-local coordinates.
type Diff struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Z    int    `json:"z"`
	Type uint16 `json:"type"`
}

// Apply replays diffs in order and returns how many changed a voxel.
func (f *Field) Apply(diffs []Diff) int {
	n := 0
	for _, d := range diffs {
		if f.Set(d.X, d.Y, d.Z, d.Type) {
			n++
		}
	}
	return n
}

// MergeDiff appends d, replacing an earlier edit of the same voxel so the
// list stays one entry per coordinate.
func MergeDiff(diffs []Diff, d Diff) []Diff {
	for i := range diffs {
		if diffs[i].X == d.X && diffs[i].Y == d.Y && diffs[i].Z == d.Z {
			diffs[i].Type = d.Type
			return diffs
		}
	}
	return append(diffs, d)
}
