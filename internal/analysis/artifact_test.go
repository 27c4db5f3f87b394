package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleArtifact() *Artifact {
	return &Artifact{
		Track: Track{Duration: 10.123456789, Tempo: 120.000004, TimeSignature: 4},
		Beats: []Event{
			{Start: 0.000004, Duration: 0.5000001, Confidence: 0.87654321},
			{Start: 0.5, Duration: 0.5, Confidence: 0.00001},
		},
		Segments: []Segment{
			{
				Start:         0,
				Duration:      1.23456789,
				Confidence:    0.5,
				LoudnessStart: -23.456789,
				LoudnessMax:   -0.00002,
				Pitches:       []float64{0.00001, 1, 0.25},
				Timbre:        []float64{0.00003, -42.42424242},
			},
		},
	}
}

func TestRoundFlushesSmallValues(t *testing.T) {
	artifact := sampleArtifact()
	artifact.Round()

	// tiny scalars flush to zero
	assert.Equal(t, 0.0, artifact.Beats[0].Start)
	assert.Equal(t, 0.0, artifact.Beats[1].Confidence)
	assert.Equal(t, 0.0, artifact.Segments[0].LoudnessMax)

	// but tiny values inside pitches/timbre are kept
	assert.Equal(t, 0.00001, artifact.Segments[0].Pitches[0])
	assert.Equal(t, 0.00003, artifact.Segments[0].Timbre[0])

	// everything is rounded to 5 decimals
	assert.Equal(t, 10.12346, artifact.Track.Duration)
	assert.Equal(t, 0.87654, artifact.Beats[0].Confidence)
	assert.Equal(t, -42.42424, artifact.Segments[0].Timbre[1])
}

func TestRoundIsIdempotent(t *testing.T) {
	artifact := sampleArtifact()
	artifact.Round()
	first, err := json.Marshal(artifact)
	require.NoError(t, err)

	artifact.Round()
	second, err := json.Marshal(artifact)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestEventsFromTimes(t *testing.T) {
	events := eventsFromTimes([]float64{0, 1, 2.5}, []float64{0.9, 0.8, 0.7}, 4)
	require.Len(t, events, 3)
	assert.Equal(t, Event{Start: 0, Duration: 1, Confidence: 0.9}, events[0])
	assert.Equal(t, Event{Start: 1, Duration: 1.5, Confidence: 0.8}, events[1])
	assert.Equal(t, Event{Start: 2.5, Duration: 1.5, Confidence: 0.7}, events[2])

	// degenerate boundaries are skipped
	events = eventsFromTimes([]float64{0, 2, 2, 3}, nil, 3)
	require.Len(t, events, 2)
	assert.Equal(t, 2.0, events[1].Start)
}

func TestFixEventEnd(t *testing.T) {
	events := []Event{{Start: 0, Duration: 1}, {Start: 1, Duration: 5}}
	fixEventEnd(events, 3)
	assert.Equal(t, 2.0, events[1].Duration)
}
