package analysis

import (
	"fmt"
	"os"

	"github.com/dhowden/tag"
)

// Analyze runs the full pipeline on an audio file: decode, beat tracking,
// feature extraction, segments, sections, artifact assembly, calibration
// and rounding. It is deterministic for identical input bytes, Config and
// Calibration. cal may be nil. progress (optional) receives values on the
// engine's 50..100 scale.
func Analyze(path string, cfg Config, cal *Calibration, progress ProgressFunc) (*Artifact, error) {
	if err := cal.ApplyConfig(&cfg); err != nil {
		return nil, err
	}

	rep := newReporter(progress)
	rep.report(50, "load_audio")

	y, err := DecodeFile(path, cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}
	if len(y) == 0 {
		return nil, fmt.Errorf("decoded audio is empty: %s", path)
	}
	duration := float64(len(y)) / float64(cfg.SampleRate)

	beats := computeBeats(&cfg, y, duration, rep)
	bundle := computeFeatureBundle(&cfg, y, beats.beatTimes, beats.onsetEnv, rep)
	segments := computeSegments(&cfg, cal, y, duration, beats.beatTimes, beats.bars, beats.onsetEnv, bundle, rep)
	sections := computeSections(&cfg, y, duration, beats.beatTimes, beats.bars, beats.onsetEnv, bundle, beats.tempo, rep)

	track := Track{
		Duration:      duration,
		Tempo:         beats.tempo,
		TimeSignature: cfg.TimeSignature,
	}
	title, artist := readTrackTags(path)
	track.Title = title
	track.Artist = artist

	artifact := &Artifact{
		Track:    track,
		Sections: sections,
		Bars:     beats.bars,
		Beats:    beats.beats,
		Tatums:   beats.tatums,
		Segments: segments,
	}
	artifact.Round()
	rep.report(100, "finalize")
	return artifact, nil
}

// readTrackTags pulls title/artist from the file's embedded tags. Files
// without tags (or in formats the tag reader does not speak) just yield
// empty strings.
func readTrackTags(path string) (string, string) {
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()

	metadata, err := tag.ReadFrom(f)
	if err != nil {
		return "", ""
	}
	return metadata.Title(), metadata.Artist()
}
