package analysis

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// AffineScalar remaps a scalar field as value*A + B.
type AffineScalar struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// AffineVector remaps a vector field element-wise as v[i]*A[i] + B[i].
type AffineVector struct {
	A []float64 `json:"a"`
	B []float64 `json:"b"`
}

// QuantileMap is a piecewise-linear CDF remap. Source must be
// non-decreasing; values outside its range clamp to the end points.
type QuantileMap struct {
	Source []float64 `json:"source"`
	Target []float64 `json:"target"`
}

// Apply interpolates value through the map.
func (q *QuantileMap) Apply(value float64) float64 {
	return interp(value, q.Source, q.Target)
}

func (q *QuantileMap) valid() bool {
	return len(q.Source) >= 2 && len(q.Source) == len(q.Target)
}

// PitchCalibration reshapes the chroma distribution: p^Power, element-wise
// Weights, an optional sum-normalization, then max-normalization.
type PitchCalibration struct {
	Power     float64   `json:"power"`
	Weights   []float64 `json:"weights"`
	Normalize bool      `json:"normalize"`
}

// LoudnessCalibration carries affine remaps for the loudness fields.
type LoudnessCalibration struct {
	Start *AffineScalar `json:"start,omitempty"`
	Max   *AffineScalar `json:"max,omitempty"`
}

// Calibration is the optional bundle that remaps the engine's synthetic
// feature distributions toward a reference distribution. Every part is
// optional; an empty Calibration is a no-op.
type Calibration struct {
	Timbre     *AffineVector        `json:"timbre,omitempty"`
	Loudness   *LoudnessCalibration `json:"loudness,omitempty"`
	Confidence *QuantileMap         `json:"confidence,omitempty"`
	Pitch      *PitchCalibration    `json:"pitch,omitempty"`

	PitchScale []float64 `json:"pitch_scale,omitempty"`
	PitchBias  []float64 `json:"pitch_bias,omitempty"`

	// Dense matrix remaps, validated against their expected shapes at load.
	PitchMatrix      *mat.Dense `json:"-"`
	PitchMatrixBias  []float64  `json:"pitch_matrix_bias,omitempty"`
	TimbreMatrix     *mat.Dense `json:"-"`
	TimbreMatrixBias []float64  `json:"timbre_matrix_bias,omitempty"`

	// Per-field piecewise remaps and affine scale/bias for segment scalars
	// (loudness_start, loudness_max, confidence, ...).
	QuantileMaps map[string]QuantileMap `json:"quantile_maps,omitempty"`
	ScalarScale  map[string]float64     `json:"scalar_scale,omitempty"`
	ScalarBias   map[string]float64     `json:"scalar_bias,omitempty"`

	// Piecewise-linear start-time warp over normalized track position.
	StartOffsetSrc []float64 `json:"start_offset_map_src,omitempty"`
	StartOffsetDst []float64 `json:"start_offset_map_dst,omitempty"`

	// Config overrides shipped inside the bundle.
	Config map[string]json.RawMessage `json:"config,omitempty"`
}

// calibrationFile mirrors the on-disk bundle, with matrices as arrays of
// arrays that are reshaped into dense matrices after validation.
type calibrationFile struct {
	Calibration
	PitchMatrixRows  [][]float64 `json:"pitch_calibration_matrix,omitempty"`
	TimbreMatrixRows [][]float64 `json:"timbre_calibration_matrix,omitempty"`
}

// LoadCalibration reads and validates a calibration bundle. Mis-shaped
// bundles are rejected up front rather than surfacing as silent no-ops
// mid-pipeline.
func LoadCalibration(path string, timbreDims int) (*Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration bundle: %w", err)
	}
	var file calibrationFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse calibration bundle: %w", err)
	}
	cal := file.Calibration

	if cal.Pitch != nil && len(cal.Pitch.Weights) != 0 && len(cal.Pitch.Weights) != 12 {
		return nil, fmt.Errorf("pitch weights must have 12 entries, got %d", len(cal.Pitch.Weights))
	}
	if len(cal.PitchScale) != 0 && (len(cal.PitchScale) != 12 || len(cal.PitchBias) != 12) {
		return nil, fmt.Errorf("pitch scale/bias must both have 12 entries")
	}
	if cal.Timbre != nil {
		if len(cal.Timbre.A) != timbreDims || len(cal.Timbre.B) != timbreDims {
			return nil, fmt.Errorf("timbre a/b must have %d entries, got %d/%d",
				timbreDims, len(cal.Timbre.A), len(cal.Timbre.B))
		}
	}
	if cal.Confidence != nil && !cal.Confidence.valid() {
		return nil, fmt.Errorf("confidence map needs matching source/target of length >= 2")
	}
	for field, m := range cal.QuantileMaps {
		if !m.valid() {
			return nil, fmt.Errorf("quantile map for %q needs matching source/target of length >= 2", field)
		}
	}
	if len(cal.StartOffsetSrc) != len(cal.StartOffsetDst) {
		return nil, fmt.Errorf("start offset map src/dst lengths differ")
	}

	if file.PitchMatrixRows != nil {
		m, err := denseFromRows(file.PitchMatrixRows, 12, 12)
		if err != nil {
			return nil, fmt.Errorf("pitch calibration matrix: %w", err)
		}
		if len(cal.PitchMatrixBias) != 12 {
			return nil, fmt.Errorf("pitch matrix bias must have 12 entries")
		}
		cal.PitchMatrix = m
	}
	if file.TimbreMatrixRows != nil {
		m, err := denseFromRows(file.TimbreMatrixRows, timbreDims, timbreDims)
		if err != nil {
			return nil, fmt.Errorf("timbre calibration matrix: %w", err)
		}
		if len(cal.TimbreMatrixBias) != timbreDims {
			return nil, fmt.Errorf("timbre matrix bias must have %d entries", timbreDims)
		}
		cal.TimbreMatrix = m
	}

	return &cal, nil
}

// denseFromRows builds a dense matrix from row slices, asserting the shape.
func denseFromRows(rows [][]float64, wantRows, wantCols int) (*mat.Dense, error) {
	if len(rows) != wantRows {
		return nil, fmt.Errorf("expected %d rows, got %d", wantRows, len(rows))
	}
	out := mat.NewDense(wantRows, wantCols, nil)
	for i, row := range rows {
		if len(row) != wantCols {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", i, wantCols, len(row))
		}
		out.SetRow(i, row)
	}
	return out, nil
}

// ApplyConfig overlays the bundle's config overrides onto cfg.
func (cal *Calibration) ApplyConfig(cfg *Config) error {
	if cal == nil || len(cal.Config) == 0 {
		return nil
	}
	raw, err := json.Marshal(cal.Config)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("invalid calibration config overrides: %w", err)
	}
	return nil
}

// applyPitches runs the full pitch calibration chain on one chroma vector:
// power/weights, element-wise scale/bias, then the affine matrix. The
// result is clamped to [0,1] and max-normalized after each stage so the
// loudest pitch class stays at 1.
func (cal *Calibration) applyPitches(pitches []float64) []float64 {
	if cal == nil || len(pitches) != 12 {
		return pitches
	}

	if cal.Pitch != nil {
		for i, v := range pitches {
			if v < 0 {
				v = 0
			}
			if cal.Pitch.Power != 0 && cal.Pitch.Power != 1 {
				v = pow(v, cal.Pitch.Power)
			}
			if len(cal.Pitch.Weights) == 12 {
				v *= cal.Pitch.Weights[i]
			}
			pitches[i] = v
		}
		if cal.Pitch.Normalize {
			total := 0.0
			for _, v := range pitches {
				total += v
			}
			if total > 0 {
				for i := range pitches {
					pitches[i] /= total
				}
			}
		}
		maxNormalize(pitches)
	}

	if len(cal.PitchScale) == 12 && len(cal.PitchBias) == 12 {
		for i, v := range pitches {
			pitches[i] = clamp01(v*cal.PitchScale[i] + cal.PitchBias[i])
		}
		maxNormalize(pitches)
	}

	if cal.PitchMatrix != nil {
		vec := mat.NewVecDense(12, pitches)
		out := mat.NewVecDense(12, nil)
		out.MulVec(cal.PitchMatrix.T(), vec)
		for i := 0; i < 12; i++ {
			pitches[i] = clamp01(out.AtVec(i) + cal.PitchMatrixBias[i])
		}
		maxNormalize(pitches)
	}

	return pitches
}

// applyTimbre remaps one timbre vector: affine matrix then element-wise
// a/b.
func (cal *Calibration) applyTimbre(timbre []float64) []float64 {
	if cal == nil {
		return timbre
	}
	if cal.TimbreMatrix != nil {
		n := len(timbre)
		if r, c := cal.TimbreMatrix.Dims(); r == n && c == n {
			vec := mat.NewVecDense(n, timbre)
			out := mat.NewVecDense(n, nil)
			out.MulVec(cal.TimbreMatrix.T(), vec)
			for i := 0; i < n; i++ {
				timbre[i] = out.AtVec(i) + cal.TimbreMatrixBias[i]
			}
		}
	}
	if cal.Timbre != nil && len(cal.Timbre.A) == len(timbre) {
		for i, v := range timbre {
			timbre[i] = v*cal.Timbre.A[i] + cal.Timbre.B[i]
		}
	}
	return timbre
}

// applySegmentScalars runs the loudness affine and confidence map, then
// quantile maps, then scalar affine remaps over a segment's scalar fields,
// in that order.
func (cal *Calibration) applySegmentScalars(seg *Segment) {
	if cal == nil {
		return
	}

	fields := map[string]*float64{
		"loudness_start":    &seg.LoudnessStart,
		"loudness_max":      &seg.LoudnessMax,
		"loudness_max_time": &seg.LoudnessMaxTime,
		"confidence":        &seg.Confidence,
	}

	if cal.Loudness != nil {
		if cal.Loudness.Start != nil {
			seg.LoudnessStart = seg.LoudnessStart*cal.Loudness.Start.A + cal.Loudness.Start.B
		}
		if cal.Loudness.Max != nil {
			seg.LoudnessMax = seg.LoudnessMax*cal.Loudness.Max.A + cal.Loudness.Max.B
		}
	}
	if cal.Confidence != nil && cal.Confidence.valid() {
		seg.Confidence = cal.Confidence.Apply(seg.Confidence)
	}

	for name, m := range cal.QuantileMaps {
		if ptr, ok := fields[name]; ok && m.valid() {
			*ptr = m.Apply(*ptr)
		}
	}
	for name, scale := range cal.ScalarScale {
		if ptr, ok := fields[name]; ok {
			*ptr = *ptr*scale + cal.ScalarBias[name]
		}
	}

	seg.Confidence = clamp01(seg.Confidence)
	if seg.LoudnessMaxTime < 0 {
		seg.LoudnessMaxTime = 0
	}
	if seg.LoudnessMaxTime > seg.Duration {
		seg.LoudnessMaxTime = seg.Duration
	}
}

// warpStart shifts a segment start by the configured piecewise offset over
// normalized track position.
func (cal *Calibration) warpStart(start, duration float64) float64 {
	if cal == nil || len(cal.StartOffsetSrc) < 2 || duration <= 0 {
		return start
	}
	norm := clamp01(start / duration)
	offset := interp(norm, cal.StartOffsetSrc, cal.StartOffsetDst)
	warped := start + offset
	if warped < 0 {
		warped = 0
	}
	if warped > duration {
		warped = duration
	}
	return warped
}
