package extraction

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"tomopick/internal/models"
)

// resolveInput maps a tomogram base name to a file in dir, accepting a
// gzip-compressed variant when the plain file is absent. The returned
// path names the plain candidate when neither exists.
func resolveInput(dir, name, ext string) (string, bool) {
	p := filepath.Join(dir, name+ext)
	if fileExists(p) {
		return p, true
	}
	if fileExists(p + ".gz") {
		return p + ".gz", true
	}
	return p, false
}

// readTomogramList reads one tomogram base name per line, skipping
// blank lines.
func readTomogramList(path string) ([]string, error) {
	r, err := openText(path)
	if err != nil {
		return nil, fmt.Errorf("%w: tomogram list %s", ErrMissingInput, path)
	}
	defer r.Close()

	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading tomogram list %s: %w", path, err)
	}
	return names, nil
}

// readCoordinates reads whitespace-separated X Y Z rows in voxel
// units. Parsing is strict: a malformed row fails the whole batch,
// because silently dropping one shifts every following sequence
// number.
func readCoordinates(path string) ([]models.Coordinate, error) {
	r, err := openText(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var coords []models.Coordinate
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("coordinate file %s line %d: want 3 values, got %d", path, lineNum, len(fields))
		}
		var c models.Coordinate
		if c.X, err = strconv.ParseFloat(fields[0], 64); err == nil {
			if c.Y, err = strconv.ParseFloat(fields[1], 64); err == nil {
				c.Z, err = strconv.ParseFloat(fields[2], 64)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("coordinate file %s line %d: %w", path, lineNum, err)
		}
		coords = append(coords, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading coordinate file %s: %w", path, err)
	}
	return coords, nil
}

// openText opens a possibly gzip-compressed text file.
func openText(path string) (io.ReadCloser, error) {
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

// gzipReadCloser closes both the decompressor and the underlying file,
// so no descriptor leaks across a long batch.
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
