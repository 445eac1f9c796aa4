package models

// Coordinate is the center of a subvolume in voxel units, as read from
// a picking coordinate file or from STAR table columns.
type Coordinate struct {
	X, Y, Z float64
}

// Record binds one output image to the coordinate it was extracted at
// and the tomogram it came from. Records accumulate in memory during a
// run and are flushed once per STAR table at the end.
type Record struct {
	// Coord is the picked particle center in voxel units.
	Coord Coordinate

	// ImageName is the image path relative to the output directory,
	// including the subvolume or projection subdirectory.
	ImageName string

	// TomoName is the base name of the source tomogram.
	TomoName string
}

// Status classifies the outcome of extracting one coordinate.
type Status int

const (
	// Accepted means the full cubic window fit inside the tomogram
	// and a subvolume was produced.
	Accepted Status = iota

	// OutOfBounds means the window was clipped by at least one volume
	// edge. The coordinate is skipped and consumes no sequence number.
	OutOfBounds
)

func (s Status) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case OutOfBounds:
		return "out of bounds"
	default:
		return "unknown"
	}
}
