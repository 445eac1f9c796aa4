// Package mrc reads and writes MRC2014 density maps, the dense-array
// format produced by tomogram reconstruction software. Reading
// supports sample modes 0 (int8), 1 (int16), 2 (float32) and
// 6 (uint16) in either byte order; writing always produces mode 2
// little-endian. Files with a .gz suffix are decompressed
// transparently while reading.
package mrc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tomopick/pkg/volume"
)

// headerSize is the fixed MRC2014 header length; an extended header of
// NSYMBT bytes may follow it before the data block.
const headerSize = 1024

// Sample modes from the MRC2014 standard.
const (
	modeInt8    = 0
	modeInt16   = 1
	modeFloat32 = 2
	modeUint16  = 6
)

// ispgVolumeStack marks a file holding a stack of volumes; the stack
// depth is NZ/MZ.
const ispgVolumeStack = 401

// ErrNotMRC reports a file without the MRC2014 "MAP " magic or with an
// unrecognized machine stamp.
var ErrNotMRC = errors.New("not an MRC2014 file")

type header struct {
	nx, ny, nz       int
	mode             int
	mx, my, mz       int
	xlen, ylen, zlen float64
	ispg             int
	nsymbt           int
	order            binary.ByteOrder
}

// ReadVolume loads a full density map into memory. The embedded voxel
// size is recovered as CELLA.X/MX, treated as a single isotropic
// scalar. A 2D image file is returned as a volume with Nz == 1. A
// volume-stack file is accepted only when it holds exactly one volume,
// which is collapsed to 3D; a larger stack is a ShapeError.
func ReadVolume(path string) (*volume.Volume, error) {
	r, err := openReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	h, err := parseHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	nz := h.nz
	if h.ispg >= ispgVolumeStack {
		if h.mz <= 0 || h.nz%h.mz != 0 {
			return nil, fmt.Errorf("%s: %w", path, &volume.ShapeError{Got: []int{h.nz, h.ny, h.nx}, Want: "a volume stack with NZ divisible by MZ"})
		}
		if count := h.nz / h.mz; count != 1 {
			return nil, fmt.Errorf("%s: %w", path, &volume.ShapeError{Got: []int{count, h.mz, h.ny, h.nx}, Want: "a single 3D volume"})
		}
		nz = h.mz
	}

	if h.nsymbt > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(h.nsymbt)); err != nil {
			return nil, fmt.Errorf("skipping extended header of %s: %w", path, err)
		}
	}

	data, err := readSamples(r, h)
	if err != nil {
		return nil, fmt.Errorf("reading data of %s: %w", path, err)
	}

	voxel := 0.0
	if h.mx > 0 && h.xlen > 0 {
		voxel = h.xlen / float64(h.mx)
	}
	return &volume.Volume{
		Data:      data,
		Nx:        h.nx,
		Ny:        h.ny,
		Nz:        nz,
		VoxelSize: voxel,
	}, nil
}

// ReadVoxelSize returns the embedded voxel size of a map without
// loading its data block.
func ReadVoxelSize(path string) (float64, error) {
	r, err := openReader(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, fmt.Errorf("reading header of %s: %w", path, err)
	}
	h, err := parseHeader(buf)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	if h.mx > 0 && h.xlen > 0 {
		return h.xlen / float64(h.mx), nil
	}
	return 0, nil
}

// WriteVolume persists a 3D map as mode 2 float32, little endian,
// propagating the volume's voxel size into the cell dimensions. An
// existing file at path is overwritten.
func WriteVolume(path string, v *volume.Volume) error {
	return write(path, v.Data, v.Nx, v.Ny, v.Nz, v.VoxelSize)
}

// WriteImage persists a 2D projection as a single-section mode 2 map.
func WriteImage(path string, img *volume.Image) error {
	return write(path, img.Data, img.Nx, img.Ny, 1, img.VoxelSize)
}

func parseHeader(buf []byte) (header, error) {
	if string(buf[208:212]) != "MAP " {
		return header{}, ErrNotMRC
	}
	var order binary.ByteOrder
	switch buf[212] {
	case 0x44:
		order = binary.LittleEndian
	case 0x11:
		order = binary.BigEndian
	default:
		return header{}, fmt.Errorf("%w: machine stamp 0x%02x", ErrNotMRC, buf[212])
	}

	i32 := func(off int) int { return int(int32(order.Uint32(buf[off:]))) }
	f32 := func(off int) float64 { return float64(math.Float32frombits(order.Uint32(buf[off:]))) }

	h := header{
		nx:     i32(0),
		ny:     i32(4),
		nz:     i32(8),
		mode:   i32(12),
		mx:     i32(28),
		my:     i32(32),
		mz:     i32(36),
		xlen:   f32(40),
		ylen:   f32(44),
		zlen:   f32(48),
		ispg:   i32(88),
		nsymbt: i32(92),
		order:  order,
	}
	if h.nx <= 0 || h.ny <= 0 || h.nz <= 0 {
		return header{}, fmt.Errorf("%w: non-positive dimensions (%d, %d, %d)", ErrNotMRC, h.nz, h.ny, h.nx)
	}
	return h, nil
}

func readSamples(r io.Reader, h header) ([]float64, error) {
	var size int
	switch h.mode {
	case modeInt8:
		size = 1
	case modeInt16, modeUint16:
		size = 2
	case modeFloat32:
		size = 4
	default:
		return nil, fmt.Errorf("unsupported sample mode %d", h.mode)
	}

	n := h.nx * h.ny * h.nz
	raw := make([]byte, n*size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}

	data := make([]float64, n)
	switch h.mode {
	case modeInt8:
		for i := 0; i < n; i++ {
			data[i] = float64(int8(raw[i]))
		}
	case modeInt16:
		for i := 0; i < n; i++ {
			data[i] = float64(int16(h.order.Uint16(raw[i*2:])))
		}
	case modeUint16:
		for i := 0; i < n; i++ {
			data[i] = float64(h.order.Uint16(raw[i*2:]))
		}
	case modeFloat32:
		for i := 0; i < n; i++ {
			data[i] = float64(math.Float32frombits(h.order.Uint32(raw[i*4:])))
		}
	}
	return data, nil
}

func write(path string, data []float64, nx, ny, nz int, voxelSize float64) error {
	if len(data) != nx*ny*nz {
		return &volume.ShapeError{Got: []int{len(data)}, Want: fmt.Sprintf("%d samples for a (%d, %d, %d) map", nx*ny*nz, nz, ny, nx)}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeHeader(w, data, nx, ny, nz, voxelSize); err != nil {
		return fmt.Errorf("writing header of %s: %w", path, err)
	}

	samples := make([]float32, len(data))
	for i, v := range data {
		samples[i] = float32(v)
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("writing data of %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func writeHeader(w io.Writer, data []float64, nx, ny, nz int, voxelSize float64) error {
	buf := make([]byte, headerSize)
	le := binary.LittleEndian

	putI32 := func(off int, v int32) { le.PutUint32(buf[off:], uint32(v)) }
	putF32 := func(off int, v float64) { le.PutUint32(buf[off:], math.Float32bits(float32(v))) }

	putI32(0, int32(nx))
	putI32(4, int32(ny))
	putI32(8, int32(nz))
	putI32(12, modeFloat32)
	putI32(28, int32(nx)) // MX
	putI32(32, int32(ny))
	putI32(36, int32(nz))
	putF32(40, voxelSize*float64(nx)) // CELLA
	putF32(44, voxelSize*float64(ny))
	putF32(48, voxelSize*float64(nz))
	putF32(52, 90) // CELLB
	putF32(56, 90)
	putF32(60, 90)
	putI32(64, 1) // MAPC..MAPS
	putI32(68, 2)
	putI32(72, 3)

	if len(data) > 0 {
		putF32(76, floats.Min(data))
		putF32(80, floats.Max(data))
		putF32(84, stat.Mean(data, nil))
	}
	if len(data) > 1 {
		putF32(216, stat.StdDev(data, nil)) // RMS
	}

	ispg := 0 // single image
	if nz > 1 {
		ispg = 1 // volume
	}
	putI32(88, int32(ispg))

	copy(buf[208:212], "MAP ")
	buf[212], buf[213] = 0x44, 0x44 // little-endian machine stamp

	putI32(220, 1) // NLABL
	label := fmt.Sprintf("%-80s", "Created by tomopick")
	copy(buf[224:304], label)

	_, err := w.Write(buf)
	return err
}

func openReader(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening gzip stream of %s: %w", path, err)
	}
	return &gzipReadCloser{zr: zr, f: f}, nil
}

// gzipReadCloser closes both the decompressor and the underlying file.
type gzipReadCloser struct {
	zr *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.zr.Read(p) }

func (g *gzipReadCloser) Close() error {
	zerr := g.zr.Close()
	ferr := g.f.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}
