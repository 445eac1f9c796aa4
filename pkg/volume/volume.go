// Package volume implements the dense-array operations of the
// extraction pipeline: cubic subvolume windowing with explicit bounds
// classification, contrast inversion, central-slice 2D projection and
// min-max normalization.
package volume

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"tomopick/internal/models"
)

// Volume is a dense 3D array of density samples stored in
// section-major order: index = (z*Ny + y)*Nx + x. VoxelSize is the
// physical length of one voxel edge in Angstroms, isotropic, carried
// through from the source file and propagated to every output.
type Volume struct {
	Data       []float64
	Nx, Ny, Nz int
	VoxelSize  float64
}

// Image is a dense 2D array, the result of projecting a Volume.
type Image struct {
	Data      []float64
	Nx, Ny    int
	VoxelSize float64
}

// New allocates a zeroed volume with the given dimensions.
func New(nx, ny, nz int, voxelSize float64) *Volume {
	return &Volume{
		Data:      make([]float64, nx*ny*nz),
		Nx:        nx,
		Ny:        ny,
		Nz:        nz,
		VoxelSize: voxelSize,
	}
}

// At returns the sample at voxel (x, y, z). No bounds check.
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[(z*v.Ny+y)*v.Nx+x]
}

// Set stores a sample at voxel (x, y, z). No bounds check.
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[(z*v.Ny+y)*v.Nx+x] = value
}

// Invert flips the contrast of the volume in place by negating every
// sample. Picked particles are dark in a tomogram; downstream
// averaging tools expect them bright.
func (v *Volume) Invert() {
	floats.Scale(-1, v.Data)
}

// Extraction is the tagged outcome of windowing one coordinate.
// Subvolume is non-nil only when Status is models.Accepted.
type Extraction struct {
	Status    models.Status
	Subvolume *Volume
}

// ExtractSubvolume carves a cubic window of side box centered on c out
// of v. The window per axis is [center-box/2, center+box/2) with the
// center truncated toward its integer part. A window clipped by any
// volume edge yields an OutOfBounds result instead of a smaller array;
// no padding mode exists, edge particles are dropped so that every
// output has uniform geometry.
func ExtractSubvolume(v *Volume, c models.Coordinate, box int) Extraction {
	half := box / 2
	lox, hix := int(c.X)-half, int(c.X)+half
	loy, hiy := int(c.Y)-half, int(c.Y)+half
	loz, hiz := int(c.Z)-half, int(c.Z)+half

	if lox < 0 || hix > v.Nx || loy < 0 || hiy > v.Ny || loz < 0 || hiz > v.Nz {
		return Extraction{Status: models.OutOfBounds}
	}

	sub := New(hix-lox, hiy-loy, hiz-loz, v.VoxelSize)
	for z := loz; z < hiz; z++ {
		for y := loy; y < hiy; y++ {
			srcRow := (z*v.Ny+y)*v.Nx + lox
			dstRow := ((z-loz)*sub.Ny + (y - loy)) * sub.Nx
			copy(sub.Data[dstRow:dstRow+sub.Nx], v.Data[srcRow:srcRow+sub.Nx])
		}
	}
	return Extraction{Status: models.Accepted, Subvolume: sub}
}

// Project reduces a subvolume to a 2D image by summing n central
// slices along the depth axis. The slice count is clamped to the depth
// extent and the window is re-clamped after centering so that it
// always spans exactly the effective count, shifting off-center only
// at the volume boundary.
func Project(v *Volume, n int) (*Image, error) {
	if n < 1 {
		return nil, &InvalidParameterError{Param: "n", Reason: fmt.Sprintf("slice count must be >= 1, got %d", n)}
	}

	depth := v.Nz
	effN := n
	if effN > depth {
		effN = depth
	}
	mid := depth / 2
	start := mid - effN/2
	if start < 0 {
		start = 0
	}
	end := start + effN
	if end > depth {
		end = depth
	}
	// Guarantee a full effN-slice window even when the centered one
	// ran past an edge.
	if end-effN < start {
		start = end - effN
	}
	if start < 0 {
		start = 0
	}

	img := &Image{
		Data:      make([]float64, v.Nx*v.Ny),
		Nx:        v.Nx,
		Ny:        v.Ny,
		VoxelSize: v.VoxelSize,
	}
	plane := v.Nx * v.Ny
	for z := start; z < end; z++ {
		floats.Add(img.Data, v.Data[z*plane:(z+1)*plane])
	}
	return img, nil
}

// Normalize rescales data in place to the [0, 1] range. A constant
// array maps to all zeros. An empty array is an error.
func Normalize(data []float64) error {
	if len(data) == 0 {
		return &InvalidParameterError{Param: "data", Reason: "empty data array"}
	}
	min := floats.Min(data)
	max := floats.Max(data)
	if max == min {
		for i := range data {
			data[i] = 0
		}
		return nil
	}
	span := max - min
	for i := range data {
		data[i] = (data[i] - min) / span
	}
	return nil
}
