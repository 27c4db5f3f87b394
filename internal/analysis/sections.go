package analysis

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// computeSections runs S5: Laplacian spectral clustering over a
// beat-synchronous CQT affinity when enabled, novelty-driven boundaries
// otherwise, uniform bins as a last resort; then per-section descriptors
// and an optional similarity merge.
func computeSections(
	cfg *Config,
	y []float64,
	duration float64,
	beatTimes []float64,
	bars []Event,
	onsetEnv []float64,
	bundle *featureBundle,
	trackTempo float64,
	rep *reporter,
) []Section {
	var sectionTimes []float64

	if cfg.UseLaplacianSections && len(beatTimes) >= 2 {
		sectionTimes = laplacianBoundaries(cfg, y, duration, beatTimes, bundle)
	} else {
		if cfg.SectionUseNovelty && len(bundle.combined) > 0 {
			peaks := detectPeakTimes(bundle.combined, cfg.SampleRate, cfg.HopLength,
				cfg.SectionNoveltyPercentile, cfg.SectionMinSpacingS)
			sectionTimes = boundaryTimes(peaks, duration)
			if len(bars) > 0 && cfg.SectionSnapBarWindowS > 0 {
				barStarts := make([]float64, len(bars))
				for i, b := range bars {
					barStarts[i] = b.Start
				}
				sectionTimes = snapTimesToPeaks(sectionTimes, barStarts, cfg.SectionSnapBarWindowS)
			}
			sectionTimes = sortUnique(sectionTimes)
			sectionTimes = enforceMinDuration(sectionTimes, cfg.SectionMinSpacingS)
		}
		if len(beatTimes) > 0 && len(bundle.sectionNovelty) > 0 {
			for _, p := range detectPeaksSeries(bundle.sectionNovelty,
				cfg.SectionSelfSimPercentile, cfg.SectionSelfSimMinSpacingBeats) {
				if p < len(beatTimes) {
					sectionTimes = append(sectionTimes, beatTimes[p])
				}
			}
			sectionTimes = sortUnique(sectionTimes)
		}
	}

	if len(sectionTimes) < 2 {
		// uniform bins
		sectionTimes = nil
		for t := 0.0; t < math.Max(duration, cfg.SectionSeconds); t += cfg.SectionSeconds {
			sectionTimes = append(sectionTimes, t)
		}
		if sectionTimes[len(sectionTimes)-1] < duration {
			sectionTimes = append(sectionTimes, duration)
		}
	}
	sectionTimes = applyTargetRate(sectionTimes, duration, cfg.TargetSectionRate,
		cfg.TargetSectionRateTolerance, cfg.SectionMinSpacingS)

	db := rmsDB(y, cfg.FrameLength, cfg.HopLength)

	sections := make([]Section, 0, len(sectionTimes))
	sectionChroma := make([][]float64, 0, len(sectionTimes))
	total := len(sectionTimes) - 1
	if total < 1 {
		total = 1
	}
	step := total / 20
	if step < 1 {
		step = 1
	}
	for idx := 0; idx < len(sectionTimes)-1; idx++ {
		start := sectionTimes[idx]
		end := sectionTimes[idx+1]
		if end <= start {
			continue
		}
		startFrame, endFrame := frameSlice(start, end, cfg.SampleRate, cfg.HopLength)

		sectionTempo := trackTempo
		tempoConf := 0.0
		if endFrame <= len(onsetEnv) && endFrame > startFrame {
			env := onsetEnv[startFrame:endFrame]
			sectionTempo = autocorrTempo(env, cfg.SampleRate, cfg.HopLength, cfg.TempoMinBPM, cfg.TempoMaxBPM)
			maxEnv := 0.0
			for _, v := range env {
				if v > maxEnv {
					maxEnv = v
				}
			}
			sum := 0.0
			for _, v := range env {
				sum += v / (maxEnv + eps)
			}
			tempoConf = sum / float64(len(env))
		}

		chroma := columnMean(bundle.fullChroma, startFrame, endFrame)
		key, keyConf, mode, modeConf := keyModeFromChroma(chroma)

		loudness := -60.0
		dbEnd := endFrame
		if dbEnd > len(db) {
			dbEnd = len(db)
		}
		if dbEnd > startFrame {
			loudness = meanRange(db, startFrame, dbEnd)
		}

		sectionChroma = append(sectionChroma, chroma)
		sections = append(sections, Section{
			Start:                   start,
			Duration:                end - start,
			Confidence:              0.5,
			Loudness:                loudness,
			Tempo:                   sectionTempo,
			TempoConfidence:         tempoConf,
			Key:                     key,
			KeyConfidence:           keyConf,
			Mode:                    mode,
			ModeConfidence:          modeConf,
			TimeSignature:           cfg.TimeSignature,
			TimeSignatureConfidence: 0.8,
		})
		if (idx+1)%step == 0 {
			rep.report(90+int(math.Round(5*float64(idx+1)/float64(total))), "sections_build")
		}
	}

	if cfg.SectionMergeSimilarity > 0 && len(sections) > 1 {
		sections = mergeSections(sections, sectionChroma, cfg.SectionMergeSimilarity)
	}
	if len(sections) > 0 {
		last := &sections[len(sections)-1]
		last.Duration = math.Max(0, duration-last.Start)
	}
	rep.report(95, "sections")

	return sections
}

// laplacianBoundaries finds section boundaries by spectral clustering of a
// beat-synchronous affinity combining CQT recurrence with MFCC path
// similarity.
func laplacianBoundaries(cfg *Config, y []float64, duration float64, beatTimes []float64, bundle *featureBundle) []float64 {
	_, chromaCols := bundle.fullChroma.Dims()
	beatFrames := clipFrames(beatTimes, cfg, chromaCols)
	if len(beatFrames) < 3 {
		return nil
	}

	nBins := cfg.LaplacianBinsPerOctave * cfg.LaplacianOctaves
	cqt := cqtLike(y, cfg.SampleRate, cfg.FrameLength, cfg.HopLength, cfg.LaplacianBinsPerOctave, nBins)
	cqtSync := beatSyncMean(cqt, beatFrames)
	_, n := cqtSync.Dims()
	if n < 3 {
		return nil
	}

	recurrence := cosineSimilarityMatrix(cqtSync)
	filtered := medianFilterRows(recurrence, 7)

	// path similarity from squared successive-frame MFCC distances
	mfccSync := bundle.beatMFCC
	_, mfccCols := mfccSync.Dims()
	pathSim := make([]float64, 0, n-1)
	if mfccCols >= 2 {
		dists := make([]float64, 0, mfccCols-1)
		for i := 1; i < mfccCols; i++ {
			prev := matCol(mfccSync, i-1)
			curr := matCol(mfccSync, i)
			d := 0.0
			for j := range prev {
				diff := curr[j] - prev[j]
				d += diff * diff
			}
			dists = append(dists, d)
		}
		sigma := median(dists)
		if sigma < eps {
			sigma = eps
		}
		for _, d := range dists {
			pathSim = append(pathSim, math.Exp(-d/sigma))
		}
	}
	for len(pathSim) < n-1 {
		pathSim = append(pathSim, 0)
	}
	pathSim = pathSim[:n-1]

	path := mat.NewDense(n, n, nil)
	for i := 0; i < n-1; i++ {
		path.Set(i, i+1, pathSim[i])
		path.Set(i+1, i, pathSim[i])
	}

	// balance the two structures by their degree distributions
	degPath := make([]float64, n)
	degRec := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			degPath[i] += path.At(i, j)
			degRec[i] += filtered.At(i, j)
		}
	}
	var num, denom float64
	for i := 0; i < n; i++ {
		combined := degPath[i] + degRec[i]
		num += degPath[i] * combined
		denom += combined * combined
	}
	mu := 0.5
	if denom > 0 {
		mu = num / denom
	}

	affinity := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			// symmetrize the filtered recurrence before combining
			rec := 0.5 * (filtered.At(i, j) + filtered.At(j, i))
			affinity.SetSym(i, j, mu*rec+(1-mu)*path.At(i, j))
		}
	}

	laplacian := normalizedLaplacian(affinity)

	var eig mat.EigenSym
	if !eig.Factorize(laplacian, true) {
		return nil
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	evecs := medianFilterCols(&vecs, 9)

	// cumulative L2 norms across eigenvector columns
	_, nEigs := evecs.Dims()
	cnorm := mat.NewDense(n, nEigs, nil)
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < nEigs; j++ {
			v := evecs.At(i, j)
			sum += v * v
			cnorm.Set(i, j, math.Sqrt(sum))
		}
	}

	k := 2
	if cfg.TargetSectionRate > 0 && duration > 0 {
		k = int(math.Round(duration * cfg.TargetSectionRate))
	} else {
		k = int(math.Round(float64(len(beatTimes)) / 8))
	}
	if k < 2 {
		k = 2
	}
	if k > cfg.LaplacianMaxClusters {
		k = cfg.LaplacianMaxClusters
	}
	if k > nEigs {
		k = nEigs
	}
	if limit := len(beatTimes) - 1; k > limit && limit >= 2 {
		k = limit
	}
	if k < 2 {
		return nil
	}

	points := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		norm := cnorm.At(i, k-1) + eps
		for j := 0; j < k; j++ {
			points.Set(i, j, evecs.At(i, j)/norm)
		}
	}

	ids := kmeansLabels(points, k)
	var boundaries []float64
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[i-1] && i < len(beatTimes) {
			boundaries = append(boundaries, beatTimes[i])
		}
	}
	times := boundaryTimes(boundaries, duration)
	return enforceMinDuration(times, cfg.SectionMinSpacingS)
}

// normalizedLaplacian builds L = I - D^{-1/2} A D^{-1/2}.
func normalizedLaplacian(a *mat.SymDense) *mat.SymDense {
	n := a.SymmetricDim()
	invSqrt := make([]float64, n)
	for i := 0; i < n; i++ {
		deg := 0.0
		for j := 0; j < n; j++ {
			deg += a.At(i, j)
		}
		if deg > eps {
			invSqrt[i] = 1 / math.Sqrt(deg)
		}
	}
	l := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := -a.At(i, j) * invSqrt[i] * invSqrt[j]
			if i == j {
				v = 1 + v
			}
			l.SetSym(i, j, v)
		}
	}
	return l
}

// kmeansLabels clusters rows of points into k groups with a deterministic
// seeded initialization, returning per-row cluster ids.
func kmeansLabels(points *mat.Dense, k int) []int {
	n, dims := points.Dims()
	labels := make([]int, n)
	if n == 0 || k < 1 {
		return labels
	}
	if k > n {
		k = n
	}

	// deterministic initial centroids: k distinct rows chosen by a fixed
	// linear congruential sequence
	rng := uint64(1)
	next := func(bound int) int {
		rng = rng*6364136223846793005 + 1442695040888963407
		return int((rng >> 33) % uint64(bound))
	}
	chosen := make(map[int]bool, k)
	centroids := make([][]float64, 0, k)
	for len(centroids) < k {
		idx := next(n)
		if chosen[idx] {
			continue
		}
		chosen[idx] = true
		centroids = append(centroids, mat.Row(nil, idx, points))
	}

	assign := func() bool {
		changed := false
		for i := 0; i < n; i++ {
			row := mat.Row(nil, i, points)
			best, bestDist := 0, math.Inf(1)
			for c := range centroids {
				d := 0.0
				for j := 0; j < dims; j++ {
					diff := row[j] - centroids[c][j]
					d += diff * diff
				}
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		return changed
	}

	for iter := 0; iter < 20; iter++ {
		if !assign() && iter > 0 {
			break
		}
		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i := 0; i < n; i++ {
			counts[labels[i]]++
			row := mat.Row(nil, i, points)
			for j := 0; j < dims; j++ {
				sums[labels[i]][j] += row[j]
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for j := 0; j < dims; j++ {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}
	assign()
	return labels
}

// mergeSections fuses adjacent sections whose chroma cosine similarity
// meets the threshold, blending scalar descriptors by duration weight and
// recomputing key/mode on the merged chroma.
func mergeSections(sections []Section, chroma [][]float64, threshold float64) []Section {
	merged := sections[:1:1]
	mergedChroma := chroma[:1:1]

	for i := 1; i < len(sections); i++ {
		section := sections[i]
		prev := &merged[len(merged)-1]
		prevChroma := mergedChroma[len(mergedChroma)-1]

		if cosineSimilarity(prevChroma, chroma[i]) >= threshold {
			prevDur := prev.Duration
			currDur := section.Duration
			total := prevDur + currDur
			if total > 0 {
				blended := make([]float64, len(prevChroma))
				for j := range blended {
					blended[j] = (prevChroma[j]*prevDur + chroma[i][j]*currDur) / total
				}
				mergedChroma[len(mergedChroma)-1] = blended

				prev.Loudness = (prev.Loudness*prevDur + section.Loudness*currDur) / total
				prev.Tempo = (prev.Tempo*prevDur + section.Tempo*currDur) / total
				prev.TempoConfidence = (prev.TempoConfidence*prevDur + section.TempoConfidence*currDur) / total
			}
			prevEnd := math.Max(prev.Start+prev.Duration, section.Start+section.Duration)
			prev.Duration = prevEnd - prev.Start

			key, keyConf, mode, modeConf := keyModeFromChroma(mergedChroma[len(mergedChroma)-1])
			prev.Key = key
			prev.KeyConfidence = keyConf
			prev.Mode = mode
			prev.ModeConfidence = modeConf
			if section.Confidence > prev.Confidence {
				prev.Confidence = section.Confidence
			}
		} else {
			merged = append(merged, section)
			mergedChroma = append(mergedChroma, chroma[i])
		}
	}
	return merged
}
