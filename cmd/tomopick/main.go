package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"tomopick/pkg/config"
	"tomopick/pkg/extraction"
)

func main() {
	// Parse command line arguments
	inStar := flag.String("in-star", "", "STAR file of already-extracted 3D subvolumes; projects them to 2D (projection mode)")
	tomograms := flag.String("tomograms", "", "Text file listing tomogram base names (extraction mode)")
	volDir := flag.String("vol-dir", "", "Directory containing tomogram volumes (extraction mode)")
	coordDir := flag.String("coord-dir", "", "Directory containing coordinate files (extraction mode)")
	out := flag.String("out", "", "Output directory")
	boxSize := flag.Int("boxsize", 0, "Subvolume box size in voxels (extraction mode)")
	particleID := flag.String("id", "", "Particle identifier used in output filenames (extraction mode)")
	project2D := flag.Bool("project2d", false, "Project extracted subvolumes to 2D images (implied in projection mode)")
	slices := flag.Int("n", 0, "Number of central depth slices per projection (default 1)")
	configPath := flag.String("config", "", "Optional YAML configuration file supplying defaults")
	flag.Parse()

	// Validate mode selection
	if *out == "" || (*inStar == "" && *tomograms == "") {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override config file values; config fills what was not
	// given on the command line.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if !set["boxsize"] && *configPath != "" {
		*boxSize = cfg.Extraction.BoxSize
	}
	if !set["id"] && *configPath != "" {
		*particleID = cfg.Extraction.ParticleID
	}
	if !set["n"] {
		*slices = cfg.Projection.Slices
	}
	if !set["project2d"] {
		*project2D = cfg.Projection.Enabled
	}

	if *inStar == "" && (*boxSize <= 0 || *particleID == "" || *volDir == "" || *coordDir == "") {
		flag.Usage()
		os.Exit(1)
	}

	fmt.Println("================================")
	fmt.Println("TOMOPICK: SUBVOLUME EXTRACTION AND 2D PROJECTION FOR CRYO-ET")
	fmt.Println("================================")

	params := &extraction.Params{
		InStar:        *inStar,
		TomogramList:  *tomograms,
		VolumeDir:     *volDir,
		CoordDir:      *coordDir,
		OutputDir:     *out,
		BoxSize:       *boxSize,
		ParticleID:    *particleID,
		Project2D:     *project2D,
		Slices:        *slices,
		SubvolumeDir:  cfg.Output.SubvolumeDir,
		ProjectionDir: cfg.Output.ProjectionDir,
		Verbose:       cfg.Output.Verbose,
	}

	pipeline := extraction.NewPipeline(params)

	startTime := time.Now()
	if err := pipeline.Process(); err != nil {
		log.Fatalf("Processing failed: %v", err)
	}
	processingTime := time.Since(startTime)

	stats := pipeline.Stats()
	fmt.Printf("\nProcessing completed successfully in %.2f seconds!\n\n", processingTime.Seconds())
	fmt.Printf("Run summary:\n")
	fmt.Printf("============\n")
	fmt.Printf("Subvolumes written: %d\n", stats.SubvolumesWritten)
	fmt.Printf("Coordinates skipped (out of bounds): %d\n", stats.CoordinatesSkipped)
	fmt.Printf("Projections written: %d\n", stats.ProjectionsWritten)
	fmt.Printf("Output directory: %s\n", *out)
}
