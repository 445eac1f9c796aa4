package mrc

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"

	"tomopick/pkg/volume"
)

func testVolume(nx, ny, nz int, voxel float64) *volume.Volume {
	v := volume.New(nx, ny, nz, voxel)
	for i := range v.Data {
		// Values that survive a float32 round trip exactly.
		v.Data[i] = float64(i%97) - 48
	}
	return v
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.mrc")

	v := testVolume(8, 6, 4, 1.35)
	if err := WriteVolume(path, v); err != nil {
		t.Fatalf("WriteVolume failed: %v", err)
	}

	got, err := ReadVolume(path)
	if err != nil {
		t.Fatalf("ReadVolume failed: %v", err)
	}
	if got.Nx != 8 || got.Ny != 6 || got.Nz != 4 {
		t.Fatalf("Dimensions not preserved: got (%d, %d, %d)", got.Nz, got.Ny, got.Nx)
	}
	if math.Abs(got.VoxelSize-1.35) > 1e-6 {
		t.Errorf("Voxel size not preserved: got %v", got.VoxelSize)
	}
	for i := range v.Data {
		if got.Data[i] != v.Data[i] {
			t.Fatalf("Sample %d: got %v, want %v", i, got.Data[i], v.Data[i])
		}
	}
}

func TestWriteImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.mrc")

	img := &volume.Image{
		Data:      []float64{1, -2, 3, -4, 5, -6},
		Nx:        3,
		Ny:        2,
		VoxelSize: 2.2,
	}
	if err := WriteImage(path, img); err != nil {
		t.Fatalf("WriteImage failed: %v", err)
	}

	got, err := ReadVolume(path)
	if err != nil {
		t.Fatalf("ReadVolume failed: %v", err)
	}
	if got.Nx != 3 || got.Ny != 2 || got.Nz != 1 {
		t.Fatalf("Expected a single-section map, got (%d, %d, %d)", got.Nz, got.Ny, got.Nx)
	}
	for i := range img.Data {
		if got.Data[i] != img.Data[i] {
			t.Errorf("Pixel %d: got %v, want %v", i, got.Data[i], img.Data[i])
		}
	}
}

func TestReadVoxelSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vol.mrc")
	if err := WriteVolume(path, testVolume(4, 4, 4, 3.14)); err != nil {
		t.Fatalf("WriteVolume failed: %v", err)
	}
	voxel, err := ReadVoxelSize(path)
	if err != nil {
		t.Fatalf("ReadVoxelSize failed: %v", err)
	}
	if math.Abs(voxel-3.14) > 1e-6 {
		t.Errorf("Expected voxel size 3.14, got %v", voxel)
	}
}

func TestReadGzipVolume(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "vol.mrc")
	v := testVolume(5, 5, 5, 1.0)
	if err := WriteVolume(plain, v); err != nil {
		t.Fatalf("WriteVolume failed: %v", err)
	}

	raw, err := os.ReadFile(plain)
	if err != nil {
		t.Fatalf("Reading plain file failed: %v", err)
	}
	gzPath := filepath.Join(dir, "vol.mrc.gz")
	f, err := os.Create(gzPath)
	if err != nil {
		t.Fatalf("Creating gzip file failed: %v", err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write(raw); err != nil {
		t.Fatalf("Compressing failed: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Closing gzip writer failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Closing gzip file failed: %v", err)
	}

	got, err := ReadVolume(gzPath)
	if err != nil {
		t.Fatalf("ReadVolume of gzip file failed: %v", err)
	}
	for i := range v.Data {
		if got.Data[i] != v.Data[i] {
			t.Fatalf("Sample %d: got %v, want %v", i, got.Data[i], v.Data[i])
		}
	}
}

// writeRawMRC builds a minimal little-endian header plus raw data
// bytes for testing the integer sample modes.
func writeRawMRC(t *testing.T, path string, nx, ny, nz, mode int, data []byte) {
	t.Helper()
	buf := make([]byte, headerSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], uint32(nx))
	le.PutUint32(buf[4:], uint32(ny))
	le.PutUint32(buf[8:], uint32(nz))
	le.PutUint32(buf[12:], uint32(mode))
	le.PutUint32(buf[28:], uint32(nx))
	le.PutUint32(buf[32:], uint32(ny))
	le.PutUint32(buf[36:], uint32(nz))
	copy(buf[208:212], "MAP ")
	buf[212], buf[213] = 0x44, 0x44
	if err := os.WriteFile(path, append(buf, data...), 0644); err != nil {
		t.Fatalf("Writing raw MRC failed: %v", err)
	}
}

func TestReadIntegerModes(t *testing.T) {
	dir := t.TempDir()

	t.Run("Int8", func(t *testing.T) {
		path := filepath.Join(dir, "int8.mrc")
		writeRawMRC(t, path, 2, 1, 1, modeInt8, []byte{0xff, 0x05}) // -1, 5
		v, err := ReadVolume(path)
		if err != nil {
			t.Fatalf("ReadVolume failed: %v", err)
		}
		if v.Data[0] != -1 || v.Data[1] != 5 {
			t.Errorf("Expected [-1, 5], got %v", v.Data)
		}
	})

	t.Run("Int16", func(t *testing.T) {
		path := filepath.Join(dir, "int16.mrc")
		data := make([]byte, 4)
		binary.LittleEndian.PutUint16(data[0:], uint16(0xfffe)) // -2
		binary.LittleEndian.PutUint16(data[2:], 300)
		writeRawMRC(t, path, 2, 1, 1, modeInt16, data)
		v, err := ReadVolume(path)
		if err != nil {
			t.Fatalf("ReadVolume failed: %v", err)
		}
		if v.Data[0] != -2 || v.Data[1] != 300 {
			t.Errorf("Expected [-2, 300], got %v", v.Data)
		}
	})

	t.Run("Uint16", func(t *testing.T) {
		path := filepath.Join(dir, "uint16.mrc")
		data := make([]byte, 4)
		binary.LittleEndian.PutUint16(data[0:], 0xfffe) // 65534
		binary.LittleEndian.PutUint16(data[2:], 7)
		writeRawMRC(t, path, 2, 1, 1, modeUint16, data)
		v, err := ReadVolume(path)
		if err != nil {
			t.Fatalf("ReadVolume failed: %v", err)
		}
		if v.Data[0] != 65534 || v.Data[1] != 7 {
			t.Errorf("Expected [65534, 7], got %v", v.Data)
		}
	})
}

func TestReadBigEndian(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "be.mrc")

	buf := make([]byte, headerSize)
	be := binary.BigEndian
	be.PutUint32(buf[0:], 1)
	be.PutUint32(buf[4:], 1)
	be.PutUint32(buf[8:], 1)
	be.PutUint32(buf[12:], modeFloat32)
	be.PutUint32(buf[28:], 1)
	be.PutUint32(buf[32:], 1)
	be.PutUint32(buf[36:], 1)
	copy(buf[208:212], "MAP ")
	buf[212], buf[213] = 0x11, 0x11
	data := make([]byte, 4)
	be.PutUint32(data, math.Float32bits(6.5))
	if err := os.WriteFile(path, append(buf, data...), 0644); err != nil {
		t.Fatalf("Writing file failed: %v", err)
	}

	v, err := ReadVolume(path)
	if err != nil {
		t.Fatalf("ReadVolume failed: %v", err)
	}
	if v.Data[0] != 6.5 {
		t.Errorf("Expected 6.5, got %v", v.Data[0])
	}
}

func TestVolumeStack(t *testing.T) {
	dir := t.TempDir()

	makeStack := func(path string, count int) {
		mz := 2
		nz := count * mz
		buf := make([]byte, headerSize)
		le := binary.LittleEndian
		le.PutUint32(buf[0:], 1)
		le.PutUint32(buf[4:], 1)
		le.PutUint32(buf[8:], uint32(nz))
		le.PutUint32(buf[12:], modeInt8)
		le.PutUint32(buf[28:], 1)
		le.PutUint32(buf[32:], 1)
		le.PutUint32(buf[36:], uint32(mz))
		le.PutUint32(buf[88:], ispgVolumeStack)
		copy(buf[208:212], "MAP ")
		buf[212], buf[213] = 0x44, 0x44
		data := make([]byte, nz)
		if err := os.WriteFile(path, append(buf, data...), 0644); err != nil {
			t.Fatalf("Writing stack failed: %v", err)
		}
	}

	t.Run("SingletonStackCollapses", func(t *testing.T) {
		path := filepath.Join(dir, "single.mrc")
		makeStack(path, 1)
		v, err := ReadVolume(path)
		if err != nil {
			t.Fatalf("ReadVolume failed: %v", err)
		}
		if v.Nz != 2 {
			t.Errorf("Expected collapsed depth 2, got %d", v.Nz)
		}
	})

	t.Run("LargerStackRejected", func(t *testing.T) {
		path := filepath.Join(dir, "multi.mrc")
		makeStack(path, 3)
		_, err := ReadVolume(path)
		var serr *volume.ShapeError
		if !errors.As(err, &serr) {
			t.Fatalf("Expected ShapeError, got %v", err)
		}
	})
}

func TestReadRejectsNonMRC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.mrc")
	if err := os.WriteFile(path, make([]byte, 2048), 0644); err != nil {
		t.Fatalf("Writing file failed: %v", err)
	}
	_, err := ReadVolume(path)
	if !errors.Is(err, ErrNotMRC) {
		t.Fatalf("Expected ErrNotMRC, got %v", err)
	}
}
