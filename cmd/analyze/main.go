package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"jukebox/internal/analysis"
	"jukebox/internal/config"
)

// Standalone engine CLI. Progress lines (PROGRESS:<int>:<stage>) are only
// emitted when JB_PROGRESS=1, so plain runs stay pipeline-friendly.
func main() {
	output := flag.String("o", "", "output path for the artifact JSON (default stdout)")
	calibrationPath := flag.String("calibration", "", "optional calibration bundle")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: analyze [-o out.json] [-calibration bundle.json] <audio-file>")
		os.Exit(2)
	}
	inputPath := flag.Arg(0)

	cfg := analysis.DefaultConfig()

	var cal *analysis.Calibration
	if *calibrationPath != "" {
		var err error
		cal, err = analysis.LoadCalibration(*calibrationPath, cfg.MFCCNumCoeffs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "analyze: %v\n", err)
			os.Exit(1)
		}
	}

	var progress analysis.ProgressFunc
	if config.IsEnabled(os.Getenv("JB_PROGRESS")) {
		progress = func(value int, stage string) {
			fmt.Printf("PROGRESS:%d:%s\n", value, stage)
		}
	}

	artifact, err := analysis.Analyze(inputPath, cfg, cal, progress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "analyze: %v\n", err)
		os.Exit(1)
	}

	data, err := json.Marshal(artifact)
	if err != nil {
		fmt.Fprintf(os.Stderr, "analyze: %v\n", err)
		os.Exit(1)
	}

	if *output == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "analyze: %v\n", err)
		os.Exit(1)
	}
}
