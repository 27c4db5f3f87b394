package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

const (
	eps       = 1e-9
	minRMS    = 1e-12
	minLogMel = 1e-10
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func pow(base, exp float64) float64 {
	return math.Pow(base, exp)
}

// interp is numpy-style piecewise-linear interpolation with clamping at
// the end points. xs must be non-decreasing.
func interp(x float64, xs, ys []float64) float64 {
	if len(xs) == 0 || len(xs) != len(ys) {
		return x
	}
	if x <= xs[0] {
		return ys[0]
	}
	if x >= xs[len(xs)-1] {
		return ys[len(ys)-1]
	}
	idx := sort.SearchFloat64s(xs, x)
	x0, x1 := xs[idx-1], xs[idx]
	y0, y1 := ys[idx-1], ys[idx]
	if x1 == x0 {
		return y0
	}
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// maxNormalize scales a vector so its maximum is 1; all-zero input stays
// zero.
func maxNormalize(values []float64) {
	maxVal := 0.0
	for _, v := range values {
		if v > maxVal {
			maxVal = v
		}
	}
	if maxVal <= 0 {
		return
	}
	for i := range values {
		values[i] /= maxVal
	}
}

// percentile computes the q-th percentile with linear interpolation
// between order statistics.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 100 {
		return sorted[len(sorted)-1]
	}
	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// findPeaks returns indices of local maxima at least minDistance apart
// whose height meets the threshold. When peaks conflict on spacing the
// taller one wins.
func findPeaks(values []float64, height float64, minDistance int) []int {
	if len(values) < 3 {
		return nil
	}
	if minDistance < 1 {
		minDistance = 1
	}
	var candidates []int
	for i := 1; i < len(values)-1; i++ {
		if values[i] > values[i-1] && values[i] > values[i+1] && values[i] >= height {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// Tallest-first spacing enforcement
	order := append([]int(nil), candidates...)
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] > values[order[b]]
	})
	keep := make(map[int]bool, len(order))
	for _, idx := range order {
		ok := true
		for kept := range keep {
			if abs(kept-idx) < minDistance {
				ok = false
				break
			}
		}
		if ok {
			keep[idx] = true
		}
	}

	peaks := make([]int, 0, len(keep))
	for _, idx := range candidates {
		if keep[idx] {
			peaks = append(peaks, idx)
		}
	}
	return peaks
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// detectPeakTimes thresholds values at the given percentile and returns
// peak times in seconds.
func detectPeakTimes(values []float64, sr, hopLength int, pct, minSpacingS float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	threshold := percentile(values, pct)
	minDistance := int(minSpacingS * float64(sr) / float64(hopLength))
	if minDistance < 1 {
		minDistance = 1
	}
	peaks := findPeaks(values, threshold, minDistance)
	times := make([]float64, len(peaks))
	for i, p := range peaks {
		times[i] = frameToTime(p, sr, hopLength)
	}
	return times
}

// detectPeaksSeries thresholds a beat-indexed series at the given
// percentile and returns peak indices.
func detectPeaksSeries(values []float64, pct float64, minDistance int) []int {
	if len(values) == 0 {
		return nil
	}
	return findPeaks(values, percentile(values, pct), minDistance)
}

func timeToFrame(t float64, sr, hopLength int) int {
	return int(math.Round(t * float64(sr) / float64(hopLength)))
}

func frameToTime(frame, sr, hopLength int) float64 {
	return float64(frame) * float64(hopLength) / float64(sr)
}

// frameSlice converts a [start, end) time span to a frame span. The end
// frame is always past the start frame.
func frameSlice(timeStart, timeEnd float64, sr, hopLength int) (int, int) {
	start := int(math.Floor(timeStart * float64(sr) / float64(hopLength)))
	end := int(math.Ceil(timeEnd * float64(sr) / float64(hopLength)))
	if start < 0 {
		start = 0
	}
	if end <= start {
		end = start + 1
	}
	return start, end
}

// numFrames computes how many hop-spaced frames fit a signal, padding the
// signal to one frame when shorter.
func numFrames(n, frameLength, hopLength int) int {
	if n < frameLength {
		return 1
	}
	return 1 + (n-frameLength)/hopLength
}

// frameRMS computes frame-wise root-mean-square energy.
func frameRMS(y []float64, frameLength, hopLength int) []float64 {
	count := numFrames(len(y), frameLength, hopLength)
	out := make([]float64, count)
	for f := 0; f < count; f++ {
		start := f * hopLength
		sum := 0.0
		for i := 0; i < frameLength; i++ {
			idx := start + i
			if idx < len(y) {
				sum += y[idx] * y[idx]
			}
		}
		out[f] = math.Sqrt(sum/float64(frameLength) + minRMS)
	}
	return out
}

// rmsDB converts frame RMS to dB relative to the loudest frame of the
// track.
func rmsDB(y []float64, frameLength, hopLength int) []float64 {
	rms := frameRMS(y, frameLength, hopLength)
	ref := 0.0
	for _, v := range rms {
		if v > ref {
			ref = v
		}
	}
	if ref < minRMS {
		ref = minRMS
	}
	out := make([]float64, len(rms))
	for i, v := range rms {
		if v < minRMS {
			v = minRMS
		}
		out[i] = 20 * math.Log10(v/ref)
	}
	return out
}

// onsetEnvelope is the positive time difference of frame RMS.
func onsetEnvelope(y []float64, frameLength, hopLength int) []float64 {
	rms := frameRMS(y, frameLength, hopLength)
	out := make([]float64, len(rms))
	prev := 0.0
	for i, v := range rms {
		d := v - prev
		if d < 0 {
			d = 0
		}
		out[i] = d
		prev = v
	}
	return out
}

// autocorrTempo estimates tempo from an onset envelope by autocorrelation
// lag search within the configured BPM range.
func autocorrTempo(env []float64, sr, hopLength int, minBPM, maxBPM float64) float64 {
	if len(env) < 2 {
		return 120
	}
	mean := 0.0
	for _, v := range env {
		mean += v
	}
	mean /= float64(len(env))

	framesPerSecond := float64(sr) / float64(hopLength)
	minLag := int(framesPerSecond * 60 / maxBPM)
	maxLag := int(framesPerSecond * 60 / minBPM)
	if maxLag <= minLag {
		return 120
	}
	if maxLag >= len(env) {
		maxLag = len(env) - 1
	}
	if maxLag <= minLag {
		return 120
	}

	bestLag, bestCorr := minLag, math.Inf(-1)
	for lag := minLag; lag < maxLag; lag++ {
		corr := 0.0
		for i := lag; i < len(env); i++ {
			corr += (env[i] - mean) * (env[i-lag] - mean)
		}
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestLag < 1 {
		bestLag = 1
	}
	tempo := 60 * framesPerSecond / float64(bestLag)
	// integer lag truncation can push past the BPM bounds
	if tempo < minBPM {
		tempo = minBPM
	}
	if tempo > maxBPM {
		tempo = maxBPM
	}
	return tempo
}

// snapTimesToPeaks snaps each time to its nearest peak within the window.
func snapTimesToPeaks(times, peakTimes []float64, windowS float64) []float64 {
	if len(times) == 0 || len(peakTimes) == 0 {
		return times
	}
	snapped := make([]float64, len(times))
	for i, t := range times {
		idx := sort.SearchFloat64s(peakTimes, t)
		best := -1.0
		bestDist := math.Inf(1)
		for _, j := range []int{idx - 1, idx} {
			if j >= 0 && j < len(peakTimes) {
				if d := math.Abs(peakTimes[j] - t); d < bestDist {
					bestDist = d
					best = peakTimes[j]
				}
			}
		}
		if best >= 0 && bestDist <= windowS {
			snapped[i] = best
		} else {
			snapped[i] = t
		}
	}
	return snapped
}

// enforceMinDuration drops boundaries closer than minDuration to their
// predecessor, keeping the first.
func enforceMinDuration(times []float64, minDuration float64) []float64 {
	if len(times) < 2 {
		return times
	}
	merged := []float64{times[0]}
	for _, t := range times[1:] {
		if t-merged[len(merged)-1] >= minDuration {
			merged = append(merged, t)
		}
	}
	return merged
}

// sortUnique sorts times ascending and removes duplicates.
func sortUnique(times []float64) []float64 {
	if len(times) == 0 {
		return times
	}
	sorted := append([]float64(nil), times...)
	sort.Float64s(sorted)
	out := sorted[:1]
	for _, t := range sorted[1:] {
		if t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}

// boxSmooth convolves values with a width-wide box filter ("same" mode).
func boxSmooth(values []float64, width int) []float64 {
	if width <= 1 || len(values) == 0 {
		return values
	}
	out := make([]float64, len(values))
	half := width / 2
	for i := range values {
		sum := 0.0
		// np.convolve "same": kernel centered at i, zero-padded edges
		for k := 0; k < width; k++ {
			idx := i + k - half
			if idx >= 0 && idx < len(values) {
				sum += values[idx]
			}
		}
		out[i] = sum / float64(width)
	}
	return out
}

// hannWindow is the periodic Hann window of the given length.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// stftMagnitude computes the magnitude spectrogram. Returns the bin
// center frequencies and a (bins x frames) matrix.
func stftMagnitude(y []float64, sr, nfft, hopLength int) ([]float64, *mat.Dense) {
	if len(y) == 0 {
		return nil, nil
	}
	if nfft > len(y) {
		nfft = len(y)
	}
	if nfft < 2 {
		nfft = 2
	}

	bins := nfft/2 + 1
	frames := numFrames(len(y), nfft, hopLength)
	window := hannWindow(nfft)
	fft := fourier.NewFFT(nfft)
	buf := make([]float64, nfft)

	magnitude := mat.NewDense(bins, frames, nil)
	for f := 0; f < frames; f++ {
		start := f * hopLength
		for i := 0; i < nfft; i++ {
			idx := start + i
			if idx < len(y) {
				buf[i] = y[idx] * window[i]
			} else {
				buf[i] = 0
			}
		}
		coeffs := fft.Coefficients(nil, buf)
		for b := 0; b < bins; b++ {
			magnitude.Set(b, f, cmplxAbs(coeffs[b]))
		}
	}

	freqs := make([]float64, bins)
	for b := range freqs {
		freqs[b] = float64(b) * float64(sr) / float64(nfft)
	}
	return freqs, magnitude
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// medianFilterRows applies a horizontal median filter of the given width
// to each row of m, clamping the window at the edges.
func medianFilterRows(m *mat.Dense, width int) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	half := width / 2
	buf := make([]float64, 0, width)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			buf = buf[:0]
			for k := c - half; k <= c+half; k++ {
				idx := k
				if idx < 0 {
					idx = 0
				}
				if idx >= cols {
					idx = cols - 1
				}
				buf = append(buf, m.At(r, idx))
			}
			out.Set(r, c, median(buf))
		}
	}
	return out
}

// medianFilterCols applies a vertical median filter of the given height to
// each column of m, clamping the window at the edges.
func medianFilterCols(m *mat.Dense, height int) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	half := height / 2
	buf := make([]float64, 0, height)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			buf = buf[:0]
			for k := r - half; k <= r+half; k++ {
				idx := k
				if idx < 0 {
					idx = 0
				}
				if idx >= rows {
					idx = rows - 1
				}
				buf = append(buf, m.At(idx, c))
			}
			out.Set(r, c, median(buf))
		}
	}
	return out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return 0.5 * (sorted[mid-1] + sorted[mid])
}

// vecNorm is the L2 norm of a dense column slice.
func vecNorm(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
