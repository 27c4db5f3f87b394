package analysis

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSweepWAV writes a synthetic test tone: a sine sweep with a 2 Hz
// amplitude pulse so beat tracking has onsets to find.
func writeSweepWAV(t *testing.T, path string, seconds float64) {
	t.Helper()
	const sr = 22050
	n := int(sr * seconds)
	data := make([]int, n)
	for i := 0; i < n; i++ {
		ts := float64(i) / sr
		freq := 220 + 660*ts/seconds
		pulse := 0.55 + 0.45*math.Cos(2*math.Pi*2*ts)
		sample := math.Sin(2*math.Pi*freq*ts) * pulse
		data[i] = int(sample * 30000)
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sr, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sr},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
}

func assertEventsOrdered(t *testing.T, events []Event, label string) {
	t.Helper()
	for i := range events {
		assert.GreaterOrEqual(t, events[i].Duration, 0.0, "%s[%d] duration", label, i)
		if i > 0 {
			assert.Greater(t, events[i].Start, events[i-1].Start, "%s[%d] ordering", label, i)
		}
	}
}

func TestAnalyzeSweep(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full pipeline in short mode")
	}
	path := filepath.Join(t.TempDir(), "sweep.wav")
	writeSweepWAV(t, path, 8)

	cfg := DefaultConfig()
	artifact, err := Analyze(path, cfg, nil, nil)
	require.NoError(t, err)

	assert.InDelta(t, 8.0, artifact.Track.Duration, 0.05)
	assert.Equal(t, 4, artifact.Track.TimeSignature)
	assert.GreaterOrEqual(t, artifact.Track.Tempo, cfg.TempoMinBPM)
	assert.LessOrEqual(t, artifact.Track.Tempo, cfg.TempoMaxBPM)

	require.NotEmpty(t, artifact.Beats)
	require.NotEmpty(t, artifact.Bars)
	require.NotEmpty(t, artifact.Tatums)
	require.NotEmpty(t, artifact.Segments)
	require.NotEmpty(t, artifact.Sections)

	assertEventsOrdered(t, artifact.Beats, "beats")
	assertEventsOrdered(t, artifact.Bars, "bars")
	assertEventsOrdered(t, artifact.Tatums, "tatums")

	// tatums subdivide beats
	assert.GreaterOrEqual(t, len(artifact.Tatums), len(artifact.Beats))

	segStarts := make([]float64, len(artifact.Segments))
	for i, seg := range artifact.Segments {
		segStarts[i] = seg.Start
		assert.GreaterOrEqual(t, seg.Duration, 0.0)
		assert.GreaterOrEqual(t, seg.Confidence, 0.0)
		assert.LessOrEqual(t, seg.Confidence, 1.0)
		require.Len(t, seg.Pitches, 12)

		// after normalization the loudest pitch class is 1 (or the whole
		// vector is 0)
		maxPitch := 0.0
		for _, p := range seg.Pitches {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
			if p > maxPitch {
				maxPitch = p
			}
		}
		if maxPitch > 0 {
			assert.InDelta(t, 1.0, maxPitch, 1e-5)
		}
	}
	assert.True(t, sort.Float64sAreSorted(segStarts), "segments ordered by start")

	for _, section := range artifact.Sections {
		assert.GreaterOrEqual(t, section.Key, 0)
		assert.LessOrEqual(t, section.Key, 11)
		assert.Contains(t, []int{0, 1}, section.Mode)
		assert.GreaterOrEqual(t, section.Tempo, cfg.TempoMinBPM)
		assert.LessOrEqual(t, section.Tempo, cfg.TempoMaxBPM)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full pipeline in short mode")
	}
	path := filepath.Join(t.TempDir(), "sweep.wav")
	writeSweepWAV(t, path, 6)

	cfg := DefaultConfig()
	first, err := Analyze(path, cfg, nil, nil)
	require.NoError(t, err)
	second, err := Analyze(path, cfg, nil, nil)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))
}

func TestAnalyzeReportsMonotoneProgress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full pipeline in short mode")
	}
	path := filepath.Join(t.TempDir(), "sweep.wav")
	writeSweepWAV(t, path, 4)

	var values []int
	_, err := Analyze(path, DefaultConfig(), nil, func(progress int, stage string) {
		values = append(values, progress)
	})
	require.NoError(t, err)
	require.NotEmpty(t, values)
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1])
	}
	assert.Equal(t, 100, values[len(values)-1])
}

func TestTrackDownbeats(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping downbeat tracker in short mode")
	}
	path := filepath.Join(t.TempDir(), "sweep.wav")
	writeSweepWAV(t, path, 6)

	cfg := DefaultConfig()
	cfg.UseDownbeatTracker = true
	artifact, err := Analyze(path, cfg, nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, artifact.Beats)
	assertEventsOrdered(t, artifact.Beats, "beats")
	for _, beat := range artifact.Beats {
		assert.GreaterOrEqual(t, beat.Confidence, 0.0)
		assert.LessOrEqual(t, beat.Confidence, 1.0)
	}
}
