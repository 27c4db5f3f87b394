package analysis

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// featureBundle carries the per-frame and beat-synchronous tensors shared
// by the segment and section stages.
type featureBundle struct {
	fullMFCC   *mat.Dense // segmentation MFCC at the analysis hop
	fullTimbre *mat.Dense // short-window timbre features
	fullChroma *mat.Dense

	beatMFCC   *mat.Dense
	beatChroma *mat.Dense

	beatNovelty    []float64
	sectionNovelty []float64

	onsetPeaks  []float64 // seconds
	noveltyNorm []float64
	onsetNorm   []float64
	combined    []float64

	mfccFrameLength int
	mfccHopLength   int
}

// computeFeatureBundle runs S3 over the full signal.
func computeFeatureBundle(cfg *Config, y []float64, beatTimes, onsetEnv []float64, rep *reporter) *featureBundle {
	mfccFrameLength := int(math.Round(float64(cfg.SampleRate) * cfg.MFCCWindowMs / 1000))
	if mfccFrameLength < 256 {
		mfccFrameLength = 256
	}
	mfccHopLength := int(math.Round(float64(cfg.SampleRate) * cfg.MFCCHopMs / 1000))
	if mfccHopLength < 1 {
		mfccHopLength = 1
	}

	fullMFCC := mfccFrames(y, cfg.SampleRate, cfg.FrameLength, cfg.HopLength,
		cfg.MFCCNumCoeffs, cfg.MFCCNumMels, cfg.MFCCUse0th)

	var fullTimbre *mat.Dense
	if cfg.TimbreMode == "pca" {
		fullTimbre = logMelFrames(y, cfg.SampleRate, mfccFrameLength, mfccHopLength, cfg.MFCCNumMels)
		fullTimbre = projectPCA(fullTimbre, cfg.TimbrePCAMatrix, cfg.TimbrePCAMean)
	} else {
		fullTimbre = mfccFrames(y, cfg.SampleRate, mfccFrameLength, mfccHopLength,
			cfg.MFCCNumCoeffs, cfg.MFCCNumMels, cfg.MFCCUse0th)
	}

	fullChroma := chromaFrames(y, cfg.SampleRate, cfg.FrameLength, cfg.HopLength)
	rep.report(80, "features")

	beatFrames := make([]int, len(beatTimes))
	for i, t := range beatTimes {
		beatFrames[i] = timeToFrame(t, cfg.SampleRate, cfg.HopLength)
	}
	beatMFCC := beatSyncMean(fullMFCC, beatFrames)
	beatChroma := beatSyncMean(fullChroma, beatFrames)
	beatNovelty := noveltyFromSSM(cosineSimilarityMatrix(beatMFCC), cfg.SegmentSelfSimKernelBeats)
	sectionNovelty := noveltyFromSSM(cosineSimilarityMatrix(beatChroma), cfg.SectionSelfSimKernelBeats)

	// frame-to-frame MFCC cosine novelty
	_, frames := fullMFCC.Dims()
	novelty := make([]float64, frames)
	for i := 1; i < frames; i++ {
		prev := matCol(fullMFCC, i-1)
		curr := matCol(fullMFCC, i)
		denom := vecNorm(prev)*vecNorm(curr) + eps
		novelty[i] = 1 - dot(prev, curr)/denom
	}

	minLen := len(novelty)
	if len(onsetEnv) < minLen {
		minLen = len(onsetEnv)
	}
	noveltyNorm := append([]float64(nil), novelty[:minLen]...)
	onsetNorm := append([]float64(nil), onsetEnv[:minLen]...)
	maxNormalizeSafe(noveltyNorm)
	maxNormalizeSafe(onsetNorm)

	combined := make([]float64, minLen)
	for i := range combined {
		combined[i] = 0.5 * (noveltyNorm[i] + onsetNorm[i])
	}
	if cfg.NoveltySmoothFrames > 1 {
		combined = boxSmooth(combined, cfg.NoveltySmoothFrames)
	}

	onsetPeaks := detectPeakTimes(onsetEnv, cfg.SampleRate, cfg.HopLength,
		cfg.OnsetPercentile, cfg.OnsetMinSpacingS)

	return &featureBundle{
		fullMFCC:        fullMFCC,
		fullTimbre:      fullTimbre,
		fullChroma:      fullChroma,
		beatMFCC:        beatMFCC,
		beatChroma:      beatChroma,
		beatNovelty:     beatNovelty,
		sectionNovelty:  sectionNovelty,
		onsetPeaks:      onsetPeaks,
		noveltyNorm:     noveltyNorm,
		onsetNorm:       onsetNorm,
		combined:        combined,
		mfccFrameLength: mfccFrameLength,
		mfccHopLength:   mfccHopLength,
	}
}

func maxNormalizeSafe(values []float64) {
	maxVal := 0.0
	for _, v := range values {
		if v > maxVal {
			maxVal = v
		}
	}
	denom := maxVal + eps
	for i := range values {
		values[i] /= denom
	}
}

// projectPCA centers timbre columns on the mean vector and projects them
// through the component matrix (components x dims).
func projectPCA(feature *mat.Dense, components [][]float64, meanVec []float64) *mat.Dense {
	rows, cols := feature.Dims()
	if len(components) == 0 || len(meanVec) != rows {
		return feature
	}
	for _, row := range components {
		if len(row) != rows {
			return feature
		}
	}

	nComp := len(components)
	out := mat.NewDense(nComp, cols, nil)
	centered := make([]float64, rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			centered[r] = feature.At(r, c) - meanVec[r]
		}
		for k := 0; k < nComp; k++ {
			out.Set(k, c, dot(components[k], centered))
		}
	}
	return out
}

// boundaryTimes prepends 0 and appends duration to a set of seed times,
// sorted unique within [0, duration].
func boundaryTimes(seeds []float64, duration float64) []float64 {
	parts := make([]float64, 0, len(seeds)+2)
	parts = append(parts, 0)
	for _, t := range seeds {
		if t >= 0 && t <= duration {
			parts = append(parts, t)
		}
	}
	parts = append(parts, duration)
	times := sortUnique(parts)
	if len(times) < 2 {
		return []float64{0, duration}
	}
	return times
}

// applyTargetRate raises the minimum duration when the boundary count
// exceeds the configured events-per-second budget.
func applyTargetRate(times []float64, duration, rate, tolerance, minDuration float64) []float64 {
	if rate <= 0 || duration <= 0 {
		return times
	}
	target := int(math.Round(duration * rate))
	if target < 1 {
		target = 1
	}
	current := len(times) - 1
	if current < 1 {
		current = 1
	}
	if float64(current) > float64(target)*(1+tolerance) {
		raised := math.Max(minDuration, duration/float64(target))
		return enforceMinDuration(times, raised)
	}
	return times
}

// computeSegments runs S4: seed boundaries, enforce spacing, snap, then
// build per-segment descriptors and apply calibration.
func computeSegments(
	cfg *Config,
	cal *Calibration,
	y []float64,
	duration float64,
	beatTimes []float64,
	bars []Event,
	onsetEnv []float64,
	bundle *featureBundle,
	rep *reporter,
) []Segment {
	noveltyTimes := detectPeakTimes(bundle.combined, cfg.SampleRate, cfg.HopLength,
		cfg.OnsetPercentile, cfg.OnsetMinSpacingS)

	seeds := append(append([]float64(nil), bundle.onsetPeaks...), noveltyTimes...)
	if len(beatTimes) > 0 && len(bundle.beatNovelty) > 0 {
		for _, p := range detectPeaksSeries(bundle.beatNovelty, cfg.SegmentSelfSimPercentile, cfg.SegmentSelfSimMinSpacingBeats) {
			if p < len(beatTimes) {
				seeds = append(seeds, beatTimes[p])
			}
		}
	}

	// optional learned boundary scorer on aligned frame features
	minLen := len(onsetEnv)
	if len(bundle.noveltyNorm) < minLen {
		minLen = len(bundle.noveltyNorm)
	}
	if minLen > 0 && cfg.HasBoundaryModel() {
		onsetFeat := bundle.onsetNorm[:minLen]
		noveltyFeat := bundle.noveltyNorm[:minLen]
		beatFeat := make([]float64, minLen)
		if len(beatTimes) >= 2 {
			beatFrames := clipFrames(beatTimes, cfg, minLen)
			for idx := 0; idx < len(beatFrames)-1; idx++ {
				start, end := beatFrames[idx], beatFrames[idx+1]
				if end <= start {
					continue
				}
				meanVal := meanRange(onsetFeat, start, end)
				for f := start; f < end; f++ {
					beatFeat[f] = meanVal
				}
			}
		}
		w := cfg.BoundaryModelWeights
		score := make([]float64, minLen)
		for i := 0; i < minLen; i++ {
			score[i] = w[0]*onsetFeat[i] + w[1]*noveltyFeat[i] + w[2]*beatFeat[i] + *cfg.BoundaryModelBias
		}
		seeds = append(seeds, detectPeakTimes(score, cfg.SampleRate, cfg.HopLength,
			cfg.BoundaryPercentile, cfg.BoundaryMinSpacingS)...)
	}

	segTimes := boundaryTimes(seeds, duration)

	// beat-aggregated novelty peaks add boundaries the frame peaks miss
	if len(beatTimes) >= 2 && len(bundle.combined) > 0 {
		beatFrames := clipFrames(beatTimes, cfg, len(bundle.combined))
		if len(beatFrames) >= 2 {
			beatVals := make([]float64, 0, len(beatFrames)-1)
			for idx := 0; idx < len(beatFrames)-1; idx++ {
				start, end := beatFrames[idx], beatFrames[idx+1]
				if end <= start {
					continue
				}
				beatVals = append(beatVals, meanRange(bundle.combined, start, end))
			}
			for _, p := range detectPeaksSeries(beatVals, cfg.BeatNoveltyPercentile, cfg.BeatNoveltyMinSpacing) {
				if p < len(beatTimes) {
					segTimes = append(segTimes, beatTimes[p])
				}
			}
			segTimes = boundaryTimes(segTimes, duration)
		}
	}

	segTimes = enforceMinDuration(segTimes, cfg.SegmentMinDurationS)
	segTimes = applyTargetRate(segTimes, duration, cfg.TargetSegmentRate,
		cfg.TargetSegmentRateTolerance, cfg.SegmentMinDurationS)

	if len(bars) > 0 && cfg.SegmentSnapBarWindowS > 0 {
		barStarts := make([]float64, len(bars))
		for i, b := range bars {
			barStarts[i] = b.Start
		}
		segTimes = snapTimesToPeaks(segTimes, barStarts, cfg.SegmentSnapBarWindowS)
	}
	if len(beatTimes) > 0 && cfg.SegmentSnapBeatWindowS > 0 {
		segTimes = snapTimesToPeaks(segTimes, beatTimes, cfg.SegmentSnapBeatWindowS)
	}
	segTimes = sortUnique(segTimes)
	segTimes = enforceMinDuration(segTimes, cfg.SegmentMinDurationS)
	segTimes = applyTargetRate(segTimes, duration, cfg.TargetSegmentRate,
		cfg.TargetSegmentRateTolerance, cfg.SegmentMinDurationS)

	confEnv := bundle.combined
	if len(confEnv) == 0 {
		confEnv = onsetEnv
	}
	segConf := sampleConfidence(segTimes[:len(segTimes)-1], confEnv, cfg.SampleRate, cfg.HopLength)
	rep.report(85, "segments_seed")

	db := rmsDB(y, cfg.FrameLength, cfg.HopLength)

	timbre := bundle.fullTimbre
	if cfg.TimbreMode != "pca" && cfg.TimbreStandardize {
		timbre = standardizeRows(timbre, cfg.TimbreScale)
	}

	segments := make([]Segment, 0, len(segTimes)-1)
	total := len(segTimes) - 1
	if total < 1 {
		total = 1
	}
	step := total / 20
	if step < 1 {
		step = 1
	}
	for idx := 0; idx < len(segTimes)-1; idx++ {
		start := segTimes[idx]
		end := segTimes[idx+1]
		if end <= start {
			continue
		}

		startFrame, endFrame := frameSlice(start, end, cfg.SampleRate, cfg.HopLength)
		if endFrame > len(db) {
			endFrame = len(db)
		}

		loudStart, loudMax, loudMaxTime := -60.0, -60.0, 0.0
		if endFrame > startFrame {
			loudStart = db[startFrame]
			maxIdx := startFrame
			for f := startFrame; f < endFrame; f++ {
				if db[f] > db[maxIdx] {
					maxIdx = f
				}
			}
			loudMax = db[maxIdx]
			loudMaxTime = frameToTime(maxIdx, cfg.SampleRate, cfg.HopLength) - start
			if loudMaxTime < 0 {
				loudMaxTime = 0
			}
		}

		chromaStart, chromaEnd := frameSlice(start, end, cfg.SampleRate, cfg.HopLength)
		pitches := columnMean(bundle.fullChroma, chromaStart, chromaEnd)
		maxNormalize(pitches)

		timbreStart, timbreEnd := frameSlice(start, end, cfg.SampleRate, bundle.mfccHopLength)
		timbreVec := columnMean(timbre, timbreStart, timbreEnd)
		if cfg.TimbreUnitNorm {
			if norm := vecNorm(timbreVec); norm > 0 {
				for i := range timbreVec {
					timbreVec[i] /= norm
				}
			}
		}
		timbreVec = cal.applyTimbre(timbreVec)

		conf := 0.0
		if idx < len(segConf) {
			conf = clamp01(segConf[idx])
		}

		segments = append(segments, Segment{
			Start:           start,
			Duration:        end - start,
			Confidence:      conf,
			LoudnessStart:   loudStart,
			LoudnessMaxTime: loudMaxTime,
			LoudnessMax:     loudMax,
			Pitches:         pitches,
			Timbre:          timbreVec,
		})
		if (idx+1)%step == 0 {
			rep.report(85+int(math.Round(5*float64(idx+1)/float64(total))), "segments_build")
		}
	}

	for i := range segments {
		segments[i].Pitches = cal.applyPitches(segments[i].Pitches)
		cal.applySegmentScalars(&segments[i])
	}
	rep.report(90, "segments_final")

	if cal != nil && len(cal.StartOffsetSrc) >= 2 {
		for i := range segments {
			segments[i].Start = cal.warpStart(segments[i].Start, duration)
		}
	}

	for i := 0; i < len(segments)-1; i++ {
		segments[i].LoudnessEnd = segments[i+1].LoudnessStart
	}
	if len(segments) > 0 {
		last := &segments[len(segments)-1]
		last.LoudnessEnd = last.LoudnessStart
		last.Duration = math.Max(0, duration-last.Start)
	}

	return segments
}

// clipFrames converts beat times to frame indices clipped to [0, limit),
// deduplicated.
func clipFrames(times []float64, cfg *Config, limit int) []int {
	frames := make([]int, 0, len(times))
	for _, t := range times {
		f := timeToFrame(t, cfg.SampleRate, cfg.HopLength)
		if f < 0 {
			f = 0
		}
		if f > limit-1 {
			f = limit - 1
		}
		if len(frames) == 0 || f != frames[len(frames)-1] {
			frames = append(frames, f)
		}
	}
	return frames
}

func meanRange(values []float64, start, end int) float64 {
	if end <= start || start < 0 || end > len(values) {
		return 0
	}
	sum := 0.0
	for i := start; i < end; i++ {
		sum += values[i]
	}
	return sum / float64(end-start)
}

// standardizeRows z-scores each feature row over time then rescales.
func standardizeRows(feature *mat.Dense, scale float64) *mat.Dense {
	rows, cols := feature.Dims()
	if cols == 0 {
		return feature
	}
	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		mean := 0.0
		for c := 0; c < cols; c++ {
			mean += feature.At(r, c)
		}
		mean /= float64(cols)
		variance := 0.0
		for c := 0; c < cols; c++ {
			d := feature.At(r, c) - mean
			variance += d * d
		}
		std := math.Sqrt(variance/float64(cols)) + eps
		for c := 0; c < cols; c++ {
			out.Set(r, c, (feature.At(r, c)-mean)/std*scale)
		}
	}
	return out
}
