package analysis

import "math"

// Downbeat tracking decodes a beat sequence from frame activations with a
// bar-position HMM per candidate meter (3/4 and 4/4), picks the
// higher-likelihood meter, refines each beat to sub-frame precision by
// parabolic interpolation, and scores confidence from normalized
// activation energy.

const downbeatFPS = 100

type downbeatResult struct {
	times      []float64
	confidence []float64
	meter      int
}

// trackDownbeats runs the optional S2 path. The activation function is
// the onset envelope resampled to the tracker's frame rate.
func trackDownbeats(y []float64, cfg *Config) downbeatResult {
	env := onsetEnvelope(y, cfg.FrameLength, cfg.HopLength)
	if len(env) < 4 {
		return downbeatResult{}
	}

	// resample the envelope from hop rate to downbeatFPS
	hopRate := float64(cfg.SampleRate) / float64(cfg.HopLength)
	frames := int(float64(len(env)) * downbeatFPS / hopRate)
	if frames < 4 {
		return downbeatResult{}
	}
	act := make([]float64, frames)
	for i := range act {
		pos := float64(i) * hopRate / downbeatFPS
		lo := int(pos)
		if lo >= len(env)-1 {
			act[i] = env[len(env)-1]
			continue
		}
		frac := pos - float64(lo)
		act[i] = env[lo]*(1-frac) + env[lo+1]*frac
	}
	maxAct := 0.0
	for _, v := range act {
		if v > maxAct {
			maxAct = v
		}
	}
	if maxAct <= 0 {
		return downbeatResult{}
	}
	for i := range act {
		act[i] /= maxAct
	}

	// beat period in tracker frames from the activation autocorrelation
	minLag := int(downbeatFPS * 60 / cfg.TempoMaxBPM)
	maxLag := int(downbeatFPS * 60 / cfg.TempoMinBPM)
	if maxLag >= len(act) {
		maxLag = len(act) - 1
	}
	if maxLag <= minLag || minLag < 1 {
		return downbeatResult{}
	}
	mean := 0.0
	for _, v := range act {
		mean += v
	}
	mean /= float64(len(act))
	period, best := minLag, math.Inf(-1)
	for lag := minLag; lag < maxLag; lag++ {
		corr := 0.0
		for i := lag; i < len(act); i++ {
			corr += (act[i] - mean) * (act[i-lag] - mean)
		}
		if corr > best {
			best = corr
			period = lag
		}
	}

	bestBeats, bestScore, bestMeter := []int(nil), math.Inf(-1), 4
	for _, meter := range []int{3, 4} {
		beats, score := viterbiBeats(act, period, meter)
		if score > bestScore {
			bestScore = score
			bestBeats = beats
			bestMeter = meter
		}
	}
	if len(bestBeats) == 0 {
		return downbeatResult{}
	}

	times := make([]float64, len(bestBeats))
	conf := make([]float64, len(bestBeats))
	minE, maxE := math.Inf(1), math.Inf(-1)
	for _, v := range act {
		if v < minE {
			minE = v
		}
		if v > maxE {
			maxE = v
		}
	}
	for i, frame := range bestBeats {
		refined := refinePeak(act, frame)
		times[i] = refined / downbeatFPS
		if maxE-minE < 1e-6 {
			conf[i] = 0.5
		} else {
			conf[i] = clamp01((act[frame] - minE) / (maxE - minE))
		}
	}
	return downbeatResult{times: times, confidence: conf, meter: bestMeter}
}

// viterbiBeats decodes the best beat frame sequence for one meter. The
// state is the frame of the previous beat; transitions allow the period
// to flex by +/-10% with a log-Gaussian penalty, and every meter-th beat
// (the downbeat) earns a bonus from the local activation. The returned
// score is the path log-likelihood divided by the beat count, comparable
// across meters.
func viterbiBeats(act []float64, period, meter int) ([]int, float64) {
	n := len(act)
	tol := period / 10
	if tol < 1 {
		tol = 1
	}
	minStep := period - tol
	maxStep := period + tol
	if minStep < 1 {
		minStep = 1
	}

	const transWeight = 4.0
	score := make([]float64, n)
	prev := make([]int, n)
	beatIdx := make([]int, n) // beat counter along best path
	for i := range prev {
		prev[i] = -1
	}

	downbeatBonus := func(frame, counter int) float64 {
		if counter%meter == 0 {
			return 0.5 * act[frame]
		}
		return 0
	}

	for t := 0; t < n; t++ {
		score[t] = act[t] + downbeatBonus(t, 0)
		for step := minStep; step <= maxStep && step <= t; step++ {
			src := t - step
			dev := math.Log(float64(step) / float64(period))
			cand := score[src] + act[t] - transWeight*dev*dev + downbeatBonus(t, beatIdx[src]+1)
			if cand > score[t] {
				score[t] = cand
				prev[t] = src
				beatIdx[t] = beatIdx[src] + 1
			}
		}
	}

	// best path must end near the end of the activations
	endStart := n - maxStep
	if endStart < 0 {
		endStart = 0
	}
	bestEnd, bestScore := -1, math.Inf(-1)
	for t := endStart; t < n; t++ {
		if score[t] > bestScore {
			bestScore = score[t]
			bestEnd = t
		}
	}
	if bestEnd < 0 {
		return nil, math.Inf(-1)
	}

	var beats []int
	for t := bestEnd; t >= 0; t = prev[t] {
		beats = append(beats, t)
		if prev[t] < 0 {
			break
		}
	}
	// reverse in place
	for i, j := 0, len(beats)-1; i < j; i, j = i+1, j-1 {
		beats[i], beats[j] = beats[j], beats[i]
	}
	// normalize likelihood by beat count so meters compare fairly
	return beats, bestScore / float64(len(beats))
}

// refinePeak nudges a frame index to the sub-frame maximum of the local
// parabola through its neighbors.
func refinePeak(act []float64, idx int) float64 {
	if idx <= 0 || idx >= len(act)-1 {
		return float64(idx)
	}
	y1, y2, y3 := act[idx-1], act[idx], act[idx+1]
	denom := y1 - 2*y2 + y3
	if math.Abs(denom) < 1e-12 {
		return float64(idx)
	}
	delta := 0.5 * (y1 - y3) / denom
	if delta < -0.5 {
		delta = -0.5
	}
	if delta > 0.5 {
		delta = 0.5
	}
	return float64(idx) + delta
}
