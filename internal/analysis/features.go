package analysis

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Feature matrices are laid out (dimensions x frames).

func hzToMel(freq float64) float64 {
	return 2595 * math.Log10(1+freq/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}

// melFilterBank builds a triangular mel filter bank (nMels x bins).
func melFilterBank(sr, nfft, nMels int) *mat.Dense {
	bins := nfft/2 + 1
	melMin := hzToMel(0)
	melMax := hzToMel(float64(sr) / 2)

	binPoints := make([]int, nMels+2)
	for i := range binPoints {
		melPoint := melMin + (melMax-melMin)*float64(i)/float64(nMels+1)
		hz := melToHz(melPoint)
		binPoints[i] = int(math.Floor(float64(nfft+1) * hz / float64(sr)))
	}

	filters := mat.NewDense(nMels, bins, nil)
	for idx := 1; idx <= nMels; idx++ {
		left, center, right := binPoints[idx-1], binPoints[idx], binPoints[idx+1]
		if right <= left {
			continue
		}
		for bin := left; bin < center; bin++ {
			if bin >= 0 && bin < bins {
				denom := center - left
				if denom < 1 {
					denom = 1
				}
				filters.Set(idx-1, bin, float64(bin-left)/float64(denom))
			}
		}
		for bin := center; bin < right; bin++ {
			if bin >= 0 && bin < bins {
				denom := right - center
				if denom < 1 {
					denom = 1
				}
				filters.Set(idx-1, bin, float64(right-bin)/float64(denom))
			}
		}
	}
	return filters
}

// dctIIOrtho computes the orthonormal DCT-II of a vector.
func dctIIOrtho(x []float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	scale0 := math.Sqrt(1 / float64(n))
	scale := math.Sqrt(2 / float64(n))
	for k := 0; k < n; k++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += x[i] * math.Cos(math.Pi/float64(n)*(float64(i)+0.5)*float64(k))
		}
		if k == 0 {
			out[k] = sum * scale0
		} else {
			out[k] = sum * scale
		}
	}
	return out
}

// logMelFrames computes the log mel spectrogram (nMels x frames).
func logMelFrames(y []float64, sr, frameLength, hopLength, nMels int) *mat.Dense {
	if len(y) == 0 {
		return mat.NewDense(nMels, 1, nil)
	}
	_, magnitude := stftMagnitude(y, sr, frameLength, hopLength)
	bins, frames := magnitude.Dims()
	nfft := (bins - 1) * 2
	if bins <= 1 {
		nfft = frameLength
	}
	filters := melFilterBank(sr, nfft, nMels)

	power := mat.NewDense(bins, frames, nil)
	for b := 0; b < bins; b++ {
		for f := 0; f < frames; f++ {
			v := magnitude.At(b, f)
			power.Set(b, f, v*v)
		}
	}

	melEnergy := mat.NewDense(nMels, frames, nil)
	melEnergy.Mul(filters, power)
	for m := 0; m < nMels; m++ {
		for f := 0; f < frames; f++ {
			v := melEnergy.At(m, f)
			if v < minLogMel {
				v = minLogMel
			}
			melEnergy.Set(m, f, math.Log10(v))
		}
	}
	return melEnergy
}

// mfccFrames computes MFCC (nMFCC x frames) from nMels mel bands.
func mfccFrames(y []float64, sr, frameLength, hopLength, nMFCC, nMels int, include0th bool) *mat.Dense {
	if len(y) == 0 {
		return mat.NewDense(nMFCC, 1, nil)
	}
	logMel := logMelFrames(y, sr, frameLength, hopLength, nMels)
	_, frames := logMel.Dims()

	out := mat.NewDense(nMFCC, frames, nil)
	col := make([]float64, nMels)
	for f := 0; f < frames; f++ {
		for m := 0; m < nMels; m++ {
			col[m] = logMel.At(m, f)
		}
		coeffs := dctIIOrtho(col)
		for k := 0; k < nMFCC; k++ {
			idx := k
			if !include0th {
				idx = k + 1
			}
			v := 0.0
			if idx < len(coeffs) {
				v = coeffs[idx]
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			out.Set(k, f, v)
		}
	}
	return out
}

// chromaFrames computes a 12-bin pitch-class energy matrix (12 x frames)
// by binning squared STFT magnitudes into nearest MIDI pitch classes.
func chromaFrames(y []float64, sr, frameLength, hopLength int) *mat.Dense {
	if len(y) == 0 {
		return mat.NewDense(12, 1, nil)
	}
	freqs, magnitude := stftMagnitude(y, sr, frameLength, hopLength)
	bins, frames := magnitude.Dims()

	chroma := mat.NewDense(12, frames, nil)
	for b := 0; b < bins; b++ {
		freq := freqs[b]
		if freq <= 0 {
			continue
		}
		midi := 69 + 12*math.Log2(freq/440)
		pitchClass := int(math.Round(midi)) % 12
		if pitchClass < 0 {
			pitchClass += 12
		}
		for f := 0; f < frames; f++ {
			v := magnitude.At(b, f)
			chroma.Set(pitchClass, f, chroma.At(pitchClass, f)+v*v)
		}
	}
	return chroma
}

// cqtLike approximates a constant-Q magnitude spectrogram in dB by
// log-spaced sampling of STFT bins (nBins x frames).
func cqtLike(y []float64, sr, frameLength, hopLength, binsPerOctave, nBins int) *mat.Dense {
	const fmin = 32.703 // C1
	if len(y) == 0 {
		return mat.NewDense(nBins, 1, nil)
	}
	freqs, magnitude := stftMagnitude(y, sr, frameLength, hopLength)
	bins, frames := magnitude.Dims()

	out := mat.NewDense(nBins, frames, nil)
	for k := 0; k < nBins; k++ {
		target := fmin * math.Pow(2, float64(k)/float64(binsPerOctave))
		if target < freqs[0] {
			target = freqs[0]
		}
		if target > freqs[bins-1] {
			target = freqs[bins-1]
		}
		best, bestDist := 0, math.Inf(1)
		for b := 0; b < bins; b++ {
			if d := math.Abs(freqs[b] - target); d < bestDist {
				bestDist = d
				best = b
			}
		}
		for f := 0; f < frames; f++ {
			v := magnitude.At(best, f)
			if v < eps {
				v = eps
			}
			out.Set(k, f, 20*math.Log10(v))
		}
	}
	return out
}

// beatSyncMean averages feature columns between successive beat frames,
// producing one column per beat interval.
func beatSyncMean(feature *mat.Dense, beatFrames []int) *mat.Dense {
	rows, cols := feature.Dims()
	if cols == 0 || len(beatFrames) < 2 {
		return mat.NewDense(rows, 0, nil)
	}

	clipped := make([]int, 0, len(beatFrames))
	for _, f := range beatFrames {
		if f < 0 {
			f = 0
		}
		if f > cols-1 {
			f = cols - 1
		}
		if len(clipped) == 0 || f != clipped[len(clipped)-1] {
			clipped = append(clipped, f)
		}
	}
	if len(clipped) < 2 {
		return mat.NewDense(rows, 0, nil)
	}

	out := mat.NewDense(rows, len(clipped)-1, nil)
	for i := 0; i < len(clipped)-1; i++ {
		start, end := clipped[i], clipped[i+1]
		if end <= start {
			continue
		}
		span := float64(end - start)
		for r := 0; r < rows; r++ {
			sum := 0.0
			for f := start; f < end; f++ {
				sum += feature.At(r, f)
			}
			out.Set(r, i, sum/span)
		}
	}
	return out
}

// cosineSimilarityMatrix computes pairwise cosine similarity of feature
// columns (frames x frames).
func cosineSimilarityMatrix(feature *mat.Dense) *mat.Dense {
	rows, cols := feature.Dims()
	if cols == 0 {
		return mat.NewDense(0, 0, nil)
	}

	normalized := mat.NewDense(rows, cols, nil)
	col := make([]float64, rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			col[r] = feature.At(r, c)
		}
		norm := vecNorm(col) + eps
		for r := 0; r < rows; r++ {
			normalized.Set(r, c, col[r]/norm)
		}
	}

	out := mat.NewDense(cols, cols, nil)
	out.Mul(normalized.T(), normalized)
	return out
}

// cosineSimilarity of two vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	denom := vecNorm(a)*vecNorm(b) + eps
	return dot(a, b) / denom
}

// noveltyFromSSM slides a checkerboard kernel along the diagonal of a
// self-similarity matrix and returns the boundary novelty curve,
// normalized to [0, 1].
func noveltyFromSSM(ssm *mat.Dense, kernelSize int) []float64 {
	size, _ := ssm.Dims()
	if size == 0 || kernelSize < 1 {
		return nil
	}
	k := kernelSize
	if k > size/2 {
		k = size / 2
	}
	if k < 1 {
		return make([]float64, size)
	}

	novelty := make([]float64, size)
	for idx := k; idx < size-k; idx++ {
		var a, b, c, d float64
		for i := idx - k; i < idx; i++ {
			for j := idx - k; j < idx; j++ {
				a += ssm.At(i, j)
			}
			for j := idx; j < idx+k; j++ {
				b += ssm.At(i, j)
			}
		}
		for i := idx; i < idx+k; i++ {
			for j := idx - k; j < idx; j++ {
				c += ssm.At(i, j)
			}
			for j := idx; j < idx+k; j++ {
				d += ssm.At(i, j)
			}
		}
		novelty[idx] = a + d - b - c
	}

	minVal := math.Inf(1)
	for _, v := range novelty {
		if v < minVal {
			minVal = v
		}
	}
	maxVal := math.Inf(-1)
	for i := range novelty {
		novelty[i] -= minVal
		if novelty[i] > maxVal {
			maxVal = novelty[i]
		}
	}
	denom := maxVal + eps
	for i := range novelty {
		novelty[i] /= denom
	}
	return novelty
}

// Krumhansl key profiles.
var (
	majorProfile = []float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = []float64{6.33, 2.68, 3.52, 5.38, 2.6, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// keyModeFromChroma matches mean chroma against 12 rotations of the
// Krumhansl major and minor profiles. Returns key (0..11), key confidence,
// mode (1 = major), mode confidence.
func keyModeFromChroma(chroma []float64) (int, float64, int, float64) {
	if len(chroma) != 12 {
		return 0, 0, 1, 0
	}
	total := eps
	for _, v := range chroma {
		total += v
	}
	normalized := make([]float64, 12)
	for i, v := range chroma {
		normalized[i] = v / total
	}

	var scoresMajor, scoresMinor [12]float64
	for shift := 0; shift < 12; shift++ {
		scoresMajor[shift] = pearson(normalized, rotate(majorProfile, shift))
		scoresMinor[shift] = pearson(normalized, rotate(minorProfile, shift))
	}

	keyMajor, majorScore := argmax(scoresMajor[:])
	keyMinor, minorScore := argmax(scoresMinor[:])

	if majorScore >= minorScore {
		return keyMajor, clamp01((majorScore + 1) / 2), 1, clamp01((majorScore - minorScore + 1) / 2)
	}
	return keyMinor, clamp01((minorScore + 1) / 2), 0, clamp01((minorScore - majorScore + 1) / 2)
}

func rotate(values []float64, shift int) []float64 {
	n := len(values)
	out := make([]float64, n)
	for i := range values {
		out[(i+shift)%n] = values[i]
	}
	return out
}

func pearson(a, b []float64) float64 {
	n := float64(len(a))
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n
	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	denom := math.Sqrt(varA * varB)
	if denom < eps {
		return 0
	}
	return cov / denom
}

func argmax(values []float64) (int, float64) {
	best, bestVal := 0, math.Inf(-1)
	for i, v := range values {
		if v > bestVal {
			bestVal = v
			best = i
		}
	}
	return best, bestVal
}

// sampleConfidence samples a max-normalized envelope at each time.
func sampleConfidence(times, env []float64, sr, hopLength int) []float64 {
	out := make([]float64, len(times))
	if len(env) == 0 {
		return out
	}
	maxVal := 0.0
	for _, v := range env {
		if v > maxVal {
			maxVal = v
		}
	}
	denom := maxVal + eps
	for i, t := range times {
		frame := timeToFrame(t, sr, hopLength)
		if frame < 0 {
			frame = 0
		}
		if frame > len(env)-1 {
			frame = len(env) - 1
		}
		out[i] = env[frame] / denom
	}
	return out
}

// columnMean averages a column range [start, end) of a feature matrix.
func columnMean(feature *mat.Dense, start, end int) []float64 {
	rows, cols := feature.Dims()
	out := make([]float64, rows)
	if start < 0 {
		start = 0
	}
	if end > cols {
		end = cols
	}
	if end <= start {
		return out
	}
	span := float64(end - start)
	for r := 0; r < rows; r++ {
		sum := 0.0
		for c := start; c < end; c++ {
			sum += feature.At(r, c)
		}
		out[r] = sum / span
	}
	return out
}

// matCol copies one column of a feature matrix.
func matCol(feature *mat.Dense, c int) []float64 {
	rows, _ := feature.Dims()
	out := make([]float64, rows)
	for r := 0; r < rows; r++ {
		out[r] = feature.At(r, c)
	}
	return out
}
