// Package extraction implements the subvolume extraction and 2D
// projection pipeline. In extraction mode it walks a tomogram list,
// carves a cubic subvolume around every picked coordinate, and writes
// each accepted cube as an individual MRC file plus one STAR table
// describing the batch. With projection enabled, every written
// subvolume is re-read from disk and reduced to a 2D image, described
// by a second STAR table. In projection mode the pipeline starts from
// an existing STAR table of already-extracted subvolumes instead.
package extraction

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"tomopick/internal/models"
	"tomopick/pkg/mrc"
	"tomopick/pkg/star"
	"tomopick/pkg/volume"
)

// Names of the STAR tables written into the output directory.
const (
	Star3DName = "extracted_subvolumes.star"
	Star2DName = "extracted_subvolumes_2D.star"
)

// Default output subdirectories, overridable through Params.
const (
	DefaultSubvolumeDir  = "3D_subvolumes"
	DefaultProjectionDir = "2D_projections"
)

var (
	// ErrMissingInput reports a required input absent for the selected
	// mode.
	ErrMissingInput = errors.New("missing required input")

	// ErrMissingVolume reports a tomogram named by the list whose
	// volume file does not exist at read time.
	ErrMissingVolume = errors.New("tomogram volume does not exist")
)

// SubvolumeNotFoundError reports an image path from a STAR table that
// resolves neither relative to the table's directory nor as given.
type SubvolumeNotFoundError struct {
	Path string
}

func (e *SubvolumeNotFoundError) Error() string {
	return fmt.Sprintf("subvolume file not found: %s", e.Path)
}

// Params holds all pipeline inputs. InStar selects projection mode and
// is mutually exclusive with the extraction inputs.
type Params struct {
	// InStar is a STAR table referencing already-extracted subvolumes
	// (projection mode). When set, the extraction inputs are ignored.
	InStar string

	// TomogramList is a text file with one tomogram base name per line
	// (extraction mode).
	TomogramList string

	// VolumeDir holds <name>.mrc tomogram volumes (extraction mode).
	VolumeDir string

	// CoordDir holds <name>.coords picking files (extraction mode).
	CoordDir string

	// OutputDir receives subvolumes, projections and STAR tables.
	OutputDir string

	// BoxSize is the cubic subvolume side length in voxels.
	BoxSize int

	// ParticleID labels output subvolume filenames.
	ParticleID string

	// Project2D enables 2D projection of every extracted subvolume.
	// Projection mode implies it.
	Project2D bool

	// Slices is the number of central depth slices summed per
	// projection. It must be at least 1 whenever projection runs;
	// defaulting an unset flag is the caller's job.
	Slices int

	// SubvolumeDir and ProjectionDir are the output subdirectory
	// names; empty values take the defaults.
	SubvolumeDir  string
	ProjectionDir string

	// Verbose enables per-tomogram progress output.
	Verbose bool
}

// Stats are the counts reported after a completed run.
type Stats struct {
	// SubvolumesWritten counts accepted coordinates across all
	// tomograms.
	SubvolumesWritten int

	// CoordinatesSkipped counts out-of-bounds coordinates. Skips
	// consume no sequence number, so output numbering compacts.
	CoordinatesSkipped int

	// ProjectionsWritten counts 2D images written.
	ProjectionsWritten int
}

// Pipeline runs one batch. Metadata records accumulate in memory and
// are flushed once per table after all extraction completes; an
// aborted run leaves already-written subvolumes on disk but no table.
type Pipeline struct {
	params *Params
	stats  Stats

	records3D []models.Record
	records2D []models.Record
}

// NewPipeline creates a pipeline, filling defaulted parameters.
func NewPipeline(params *Params) *Pipeline {
	if params.SubvolumeDir == "" {
		params.SubvolumeDir = DefaultSubvolumeDir
	}
	if params.ProjectionDir == "" {
		params.ProjectionDir = DefaultProjectionDir
	}
	return &Pipeline{params: params}
}

// Stats returns the counts of the completed run.
func (p *Pipeline) Stats() Stats {
	return p.stats
}

// Process dispatches on the input mode and runs the batch to
// completion. Any error other than a per-coordinate out-of-bounds skip
// aborts the run.
func (p *Pipeline) Process() error {
	if p.params.OutputDir == "" {
		return fmt.Errorf("%w: output directory", ErrMissingInput)
	}
	if p.params.InStar != "" {
		return p.runProjectionMode()
	}
	return p.runExtractionMode()
}

func (p *Pipeline) runExtractionMode() error {
	if err := p.validateExtractionInputs(); err != nil {
		return err
	}

	names, err := readTomogramList(p.params.TomogramList)
	if err != nil {
		return err
	}

	subvolDir := filepath.Join(p.params.OutputDir, p.params.SubvolumeDir)
	if err := os.MkdirAll(subvolDir, 0755); err != nil {
		return fmt.Errorf("creating subvolume directory: %w", err)
	}

	for _, name := range names {
		if err := p.extractTomogram(name, subvolDir); err != nil {
			return err
		}
	}

	if p.params.Verbose {
		fmt.Println("Writing STAR file for 3D subvolumes.")
	}
	if err := p.writeStar(Star3DName, p.records3D); err != nil {
		return err
	}

	if p.params.Project2D && len(p.records3D) > 0 {
		if err := p.projectWrittenSubvolumes(); err != nil {
			return err
		}
		if p.params.Verbose {
			fmt.Println("Writing STAR file for 2D projections.")
		}
		if err := p.writeStar(Star2DName, p.records2D); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) validateExtractionInputs() error {
	switch {
	case p.params.TomogramList == "":
		return fmt.Errorf("%w: tomogram list", ErrMissingInput)
	case p.params.VolumeDir == "":
		return fmt.Errorf("%w: volume directory", ErrMissingInput)
	case p.params.CoordDir == "":
		return fmt.Errorf("%w: coordinate directory", ErrMissingInput)
	case p.params.ParticleID == "":
		return fmt.Errorf("%w: particle identifier", ErrMissingInput)
	}
	if p.params.BoxSize <= 0 {
		return &volume.InvalidParameterError{Param: "boxsize", Reason: fmt.Sprintf("must be positive, got %d", p.params.BoxSize)}
	}
	if p.params.Project2D {
		return p.validateSliceCount()
	}
	return nil
}

func (p *Pipeline) validateSliceCount() error {
	if p.params.Slices < 1 {
		return &volume.InvalidParameterError{Param: "n", Reason: fmt.Sprintf("slice count must be >= 1, got %d", p.params.Slices)}
	}
	return nil
}

// extractTomogram loads one tomogram and its coordinate list, then
// windows every coordinate. The sequence number increments only on
// acceptance, restarting at 1 per tomogram.
func (p *Pipeline) extractTomogram(name, subvolDir string) error {
	volPath, ok := resolveInput(p.params.VolumeDir, name, ".mrc")
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingVolume, volPath)
	}
	coordPath, ok := resolveInput(p.params.CoordDir, name, ".coords")
	if !ok {
		return fmt.Errorf("%w: coordinate file %s", ErrMissingInput, coordPath)
	}

	vol, err := mrc.ReadVolume(volPath)
	if err != nil {
		return err
	}
	coords, err := readCoordinates(coordPath)
	if err != nil {
		return err
	}

	if p.params.Verbose {
		fmt.Printf("Extracting and writing 3D subvolumes to disk for %s.\n", name)
	}

	pnum := 1
	for _, c := range coords {
		res := volume.ExtractSubvolume(vol, c, p.params.BoxSize)
		if res.Status == models.OutOfBounds {
			p.stats.CoordinatesSkipped++
			continue
		}
		sub := res.Subvolume
		sub.Invert()

		filename := fmt.Sprintf("%s_%s_%04d.mrc", name, p.params.ParticleID, pnum)
		if err := mrc.WriteVolume(filepath.Join(subvolDir, filename), sub); err != nil {
			return err
		}
		p.records3D = append(p.records3D, models.Record{
			Coord:     c,
			ImageName: path.Join(p.params.SubvolumeDir, filename),
			TomoName:  name,
		})
		pnum++
		p.stats.SubvolumesWritten++
	}
	return nil
}

// projectWrittenSubvolumes re-reads every subvolume written in this
// run from disk, so each projection reflects the persisted file, not
// the in-memory array (the float32 cast already happened on write).
func (p *Pipeline) projectWrittenSubvolumes() error {
	projDir := filepath.Join(p.params.OutputDir, p.params.ProjectionDir)
	if err := os.MkdirAll(projDir, 0755); err != nil {
		return fmt.Errorf("creating projection directory: %w", err)
	}

	if p.params.Verbose {
		fmt.Printf("Projecting %d subvolumes to 2D using %d central slices.\n", len(p.records3D), p.params.Slices)
	}

	for _, rec := range p.records3D {
		sub, err := mrc.ReadVolume(filepath.Join(p.params.OutputDir, filepath.FromSlash(rec.ImageName)))
		if err != nil {
			return err
		}
		filename := "2D_" + path.Base(rec.ImageName)
		if err := p.writeProjection(sub, filepath.Join(projDir, filename)); err != nil {
			return err
		}
		p.records2D = append(p.records2D, models.Record{
			Coord:     rec.Coord,
			ImageName: path.Join(p.params.ProjectionDir, filename),
			TomoName:  rec.TomoName,
		})
	}
	return nil
}

func (p *Pipeline) runProjectionMode() error {
	if err := p.validateSliceCount(); err != nil {
		return err
	}
	tables, err := star.ReadFile(p.params.InStar)
	if err != nil {
		return err
	}
	table, err := star.Particles(tables)
	if err != nil {
		return fmt.Errorf("%s: %w", p.params.InStar, err)
	}
	if !table.HasLabel("rlnImageName") {
		return fmt.Errorf("%s: %w", p.params.InStar, &star.MissingColumnError{Column: "rlnImageName"})
	}

	projDir := filepath.Join(p.params.OutputDir, p.params.ProjectionDir)
	if err := os.MkdirAll(projDir, 0755); err != nil {
		return fmt.Errorf("creating projection directory: %w", err)
	}

	if p.params.Verbose {
		fmt.Printf("Projecting %d subvolumes to 2D using %d central slices.\n", len(table.Rows), p.params.Slices)
	}

	baseDir := filepath.Dir(p.params.InStar)
	for i := range table.Rows {
		imageName, _ := table.Value(i, "rlnImageName")
		coord, err := rowCoordinate(table, i)
		if err != nil {
			return fmt.Errorf("%s: %w", p.params.InStar, err)
		}
		tomoName := rowTomoName(table, i)

		sub, err := loadSubvolume(baseDir, imageName)
		if err != nil {
			return err
		}
		filename := "2D_" + path.Base(imageName)
		if err := p.writeProjection(sub, filepath.Join(projDir, filename)); err != nil {
			return err
		}
		p.records2D = append(p.records2D, models.Record{
			Coord:     coord,
			ImageName: path.Join(p.params.ProjectionDir, filename),
			TomoName:  tomoName,
		})
	}

	if p.params.Verbose {
		fmt.Println("Writing STAR file for 2D projections.")
	}
	return p.writeStar(Star2DName, p.records2D)
}

func (p *Pipeline) writeProjection(sub *volume.Volume, outPath string) error {
	img, err := volume.Project(sub, p.params.Slices)
	if err != nil {
		return err
	}
	if err := mrc.WriteImage(outPath, img); err != nil {
		return err
	}
	p.stats.ProjectionsWritten++
	return nil
}

// loadSubvolume resolves an image path from a STAR table, relative to
// the table's own directory first, then as given. The loaded map must
// be a 3D subvolume; a single-section map is a 2D image and is
// rejected rather than passed to the projector.
func loadSubvolume(baseDir, imageName string) (*volume.Volume, error) {
	p := filepath.Join(baseDir, filepath.FromSlash(imageName))
	if !fileExists(p) {
		p = filepath.FromSlash(imageName)
	}
	if !fileExists(p) {
		return nil, &SubvolumeNotFoundError{Path: imageName}
	}
	sub, err := mrc.ReadVolume(p)
	if err != nil {
		return nil, err
	}
	if sub.Nz == 1 {
		return nil, fmt.Errorf("%s: %w", p, &volume.ShapeError{Got: []int{sub.Nz, sub.Ny, sub.Nx}, Want: "a 3D subvolume"})
	}
	return sub, nil
}

func rowCoordinate(t *star.Table, row int) (models.Coordinate, error) {
	var c models.Coordinate
	var err error
	if c.X, err = t.Float(row, "rlnCoordinateX", 0); err != nil {
		return c, err
	}
	if c.Y, err = t.Float(row, "rlnCoordinateY", 0); err != nil {
		return c, err
	}
	if c.Z, err = t.Float(row, "rlnCoordinateZ", 0); err != nil {
		return c, err
	}
	return c, nil
}

func rowTomoName(t *star.Table, row int) string {
	if name, ok := t.Value(row, "rlnTomoName"); ok {
		return name
	}
	if name, ok := t.Value(row, "rlnMicrographName"); ok {
		return name
	}
	return ""
}

// writeStar materializes one table from the accumulated records and
// persists it in a single write. Both tables carry the same column
// set, with the tomogram name filling the tomogram and micrograph
// columns alike.
func (p *Pipeline) writeStar(filename string, records []models.Record) error {
	table := star.NewTable("particles",
		"rlnCoordinateX", "rlnCoordinateY", "rlnCoordinateZ",
		"rlnImageName", "rlnTomoName", "rlnMicrographName")
	for _, rec := range records {
		err := table.AddRow(
			formatCoord(rec.Coord.X),
			formatCoord(rec.Coord.Y),
			formatCoord(rec.Coord.Z),
			rec.ImageName,
			rec.TomoName,
			rec.TomoName,
		)
		if err != nil {
			return err
		}
	}
	return star.WriteFile(filepath.Join(p.params.OutputDir, filename), table)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
