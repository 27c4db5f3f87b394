package analysis

import "math"

// beatGrid lays a regular beat grid at 60/tempo seconds across duration.
func beatGrid(tempo, duration float64) []float64 {
	if tempo <= 0 {
		tempo = 120
	}
	step := 60 / tempo
	var times []float64
	for t := 0.0; t < math.Max(duration, 0.01); t += step {
		times = append(times, t)
	}
	return times
}

// beatTrack runs the default beat path: onset envelope, autocorrelation
// tempo pick within the configured BPM range, then a regular grid.
func beatTrack(y []float64, cfg *Config, duration float64) (float64, []float64, []float64) {
	env := onsetEnvelope(y, cfg.FrameLength, cfg.HopLength)
	if len(env) < 2 {
		tempo := 120.0
		return tempo, beatGrid(tempo, duration), env
	}
	tempo := autocorrTempo(env, cfg.SampleRate, cfg.HopLength, cfg.TempoMinBPM, cfg.TempoMaxBPM)
	return tempo, beatGrid(tempo, duration), env
}

// beatsResult carries everything the later stages need from beat tracking.
type beatsResult struct {
	tempo     float64
	beatTimes []float64
	beatConf  []float64
	onsetEnv  []float64
	beats     []Event
	bars      []Event
	tatums    []Event
}

// computeBeats runs S2: beat times with confidences, onset-peak snapping,
// then bars and tatums derived from the beat grid.
func computeBeats(cfg *Config, y []float64, duration float64, rep *reporter) beatsResult {
	var tempo float64
	var beatTimes, onsetEnv, beatConf []float64

	if cfg.UseDownbeatTracker {
		db := trackDownbeats(y, cfg)
		onsetEnv = onsetEnvelope(y, cfg.FrameLength, cfg.HopLength)
		if len(db.times) > 0 {
			beatTimes = db.times
			beatConf = db.confidence
			// keep only beats inside the track
			n := 0
			for i, t := range beatTimes {
				if t <= duration {
					beatTimes[n] = t
					beatConf[n] = beatConf[i]
					n++
				}
			}
			beatTimes = beatTimes[:n]
			beatConf = beatConf[:n]
			tempo = 120
			if duration > 0.01 && len(beatTimes) > 0 {
				tempo = 60 * float64(len(beatTimes)) / duration
			}
		}
	}
	if len(beatTimes) == 0 {
		tempo, beatTimes, onsetEnv = beatTrack(y, cfg, duration)
	}
	rep.report(60, "beats_track")

	if len(beatTimes) == 0 {
		tempo = 120
		beatTimes = beatGrid(tempo, duration)
		frames := int(math.Ceil(duration * float64(cfg.SampleRate) / float64(cfg.HopLength)))
		onsetEnv = make([]float64, frames)
		for i := range onsetEnv {
			onsetEnv[i] = 1
		}
	}

	onsetPeaks := detectPeakTimes(onsetEnv, cfg.SampleRate, cfg.HopLength, cfg.OnsetPercentile, cfg.OnsetMinSpacingS)
	beatTimes = snapTimesToPeaks(beatTimes, onsetPeaks, cfg.BeatSnapWindowS)
	if len(beatConf) != len(beatTimes) {
		beatConf = sampleConfidence(beatTimes, onsetEnv, cfg.SampleRate, cfg.HopLength)
	}
	rep.report(65, "beats_snap")

	beats := eventsFromTimes(beatTimes, beatConf, duration)

	var bars []Event
	if len(beats) > 0 {
		var barStarts, barConf []float64
		for i := 0; i < len(beatTimes); i += cfg.TimeSignature {
			barStarts = append(barStarts, beatTimes[i])
			barConf = append(barConf, beatConf[i])
		}
		bars = eventsFromTimes(barStarts, barConf, duration)
		fixEventEnd(bars, duration)
	}

	var tatums []Event
	if len(beats) > 0 {
		var tatumTimes, tatumConf []float64
		for idx := range beatTimes {
			start := beatTimes[idx]
			end := duration
			if idx+1 < len(beatTimes) {
				end = beatTimes[idx+1]
			}
			if end <= start {
				continue
			}
			step := (end - start) / float64(cfg.TatumDivisions)
			for t := 0; t < cfg.TatumDivisions; t++ {
				tatumTimes = append(tatumTimes, start+float64(t)*step)
				tatumConf = append(tatumConf, beatConf[idx])
			}
		}
		if len(tatumTimes) > 0 {
			tatums = eventsFromTimes(tatumTimes, tatumConf, duration)
			fixEventEnd(tatums, duration)
		}
	}

	rep.report(75, "beats")
	return beatsResult{
		tempo:     tempo,
		beatTimes: beatTimes,
		beatConf:  beatConf,
		onsetEnv:  onsetEnv,
		beats:     beats,
		bars:      bars,
		tatums:    tatums,
	}
}
