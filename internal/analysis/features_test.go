package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq float64, sr int, seconds float64) []float64 {
	n := int(float64(sr) * seconds)
	y := make([]float64, n)
	for i := range y {
		y[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(sr))
	}
	return y
}

func TestChromaPureTone(t *testing.T) {
	// A4 = 440 Hz is pitch class 9
	y := sine(440, 22050, 1.0)
	chroma := chromaFrames(y, 22050, 2048, 512)
	rows, cols := chroma.Dims()
	require.Equal(t, 12, rows)
	require.Greater(t, cols, 0)

	mean := columnMean(chroma, 0, cols)
	best, _ := argmax(mean)
	assert.Equal(t, 9, best)
}

func TestKeyModeFromChroma(t *testing.T) {
	// feeding the C major profile itself back must yield C major
	key, keyConf, mode, modeConf := keyModeFromChroma(majorProfile)
	assert.Equal(t, 0, key)
	assert.Equal(t, 1, mode)
	assert.Greater(t, keyConf, 0.9)
	assert.Greater(t, modeConf, 0.5)

	// the A minor profile rotated to A
	rotated := rotate(minorProfile, 9)
	key, _, mode, _ = keyModeFromChroma(rotated)
	assert.Equal(t, 9, key)
	assert.Equal(t, 0, mode)
}

func TestNoveltyFromSSMRange(t *testing.T) {
	// block-diagonal similarity: two homogeneous halves
	n := 20
	data := make([][]float64, n)
	for i := range data {
		data[i] = make([]float64, n)
		for j := range data[i] {
			sameBlock := (i < n/2) == (j < n/2)
			if sameBlock {
				data[i][j] = 1
			}
		}
	}
	novelty := noveltyFromSSM(matFromRows(data), 4)
	require.Len(t, novelty, n)

	maxVal, maxIdx := math.Inf(-1), 0
	for i, v := range novelty {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
		if v > maxVal {
			maxVal = v
			maxIdx = i
		}
	}
	// the boundary between blocks is the novelty peak, normalized to 1
	assert.InDelta(t, 1.0, maxVal, 1e-6)
	assert.Equal(t, n/2, maxIdx)
}

func TestBeatSyncMean(t *testing.T) {
	feature := matFromRows([][]float64{
		{1, 1, 3, 3, 5, 5},
		{2, 2, 4, 4, 6, 6},
	})
	out := beatSyncMean(feature, []int{0, 2, 4, 6})
	rows, cols := out.Dims()
	require.Equal(t, 2, rows)
	require.Equal(t, 3, cols)
	assert.Equal(t, 1.0, out.At(0, 0))
	assert.Equal(t, 3.0, out.At(0, 1))
	assert.Equal(t, 6.0, out.At(1, 2))
}

func TestCosineSimilarityMatrix(t *testing.T) {
	feature := matFromRows([][]float64{
		{1, 0, 1},
		{0, 1, 0},
	})
	sim := cosineSimilarityMatrix(feature)
	rows, cols := sim.Dims()
	require.Equal(t, 3, rows)
	require.Equal(t, 3, cols)
	assert.InDelta(t, 1.0, sim.At(0, 0), 1e-9)
	assert.InDelta(t, 0.0, sim.At(0, 1), 1e-9)
	assert.InDelta(t, 1.0, sim.At(0, 2), 1e-9)
}

func TestSampleConfidence(t *testing.T) {
	env := []float64{0, 2, 4, 2, 0}
	conf := sampleConfidence([]float64{0, frameToTime(2, 22050, 512)}, env, 22050, 512)
	require.Len(t, conf, 2)
	assert.InDelta(t, 0.0, conf[0], 1e-9)
	assert.InDelta(t, 1.0, conf[1], 1e-6)
}

func TestMFCCShape(t *testing.T) {
	y := sine(440, 22050, 0.5)
	mfcc := mfccFrames(y, 22050, 2048, 512, 12, 40, true)
	rows, cols := mfcc.Dims()
	assert.Equal(t, 12, rows)
	assert.Greater(t, cols, 10)
}
