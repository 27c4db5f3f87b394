package analysis

// Config is the flat record of engine tuning parameters. Analyze is
// deterministic given the same input bytes and the same Config.
type Config struct {
	SampleRate  int `json:"sample_rate"`
	FrameLength int `json:"frame_length"`
	HopLength   int `json:"hop_length"`

	TempoMinBPM    float64 `json:"tempo_min_bpm"`
	TempoMaxBPM    float64 `json:"tempo_max_bpm"`
	TimeSignature  int     `json:"time_signature"`
	TatumDivisions int     `json:"tatum_divisions"`

	UseDownbeatTracker bool    `json:"use_downbeat_tracker"`
	OnsetPercentile    float64 `json:"onset_percentile"`
	OnsetMinSpacingS   float64 `json:"onset_min_spacing_s"`
	BeatSnapWindowS    float64 `json:"beat_snap_window_s"`

	MFCCNumCoeffs int     `json:"mfcc_n_mfcc"`
	MFCCNumMels   int     `json:"mfcc_n_mels"`
	MFCCUse0th    bool    `json:"mfcc_use_0th"`
	MFCCWindowMs  float64 `json:"mfcc_window_ms"`
	MFCCHopMs     float64 `json:"mfcc_hop_ms"`

	// TimbreMode selects the short-window timbre features: "mfcc" or "pca".
	TimbreMode        string      `json:"timbre_mode"`
	TimbreUnitNorm    bool        `json:"timbre_unit_norm"`
	TimbreStandardize bool        `json:"timbre_standardize"`
	TimbreScale       float64     `json:"timbre_scale"`
	TimbrePCAMean     []float64   `json:"timbre_pca_mean,omitempty"`
	TimbrePCAMatrix   [][]float64 `json:"timbre_pca_components,omitempty"`

	NoveltySmoothFrames int `json:"novelty_smooth_frames"`

	SegmentSelfSimKernelBeats     int     `json:"segment_selfsim_kernel_beats"`
	SegmentSelfSimPercentile      float64 `json:"segment_selfsim_percentile"`
	SegmentSelfSimMinSpacingBeats int     `json:"segment_selfsim_min_spacing_beats"`
	SectionSelfSimKernelBeats     int     `json:"section_selfsim_kernel_beats"`
	SectionSelfSimPercentile      float64 `json:"section_selfsim_percentile"`
	SectionSelfSimMinSpacingBeats int     `json:"section_selfsim_min_spacing_beats"`

	BeatNoveltyPercentile float64 `json:"beat_novelty_percentile"`
	BeatNoveltyMinSpacing int     `json:"beat_novelty_min_spacing"`

	// Optional learned boundary scorer over aligned onset, novelty and
	// beat-energy features. Disabled unless all three weights and the bias
	// are present.
	BoundaryModelWeights []float64 `json:"boundary_model_weights,omitempty"`
	BoundaryModelBias    *float64  `json:"boundary_model_bias,omitempty"`
	BoundaryPercentile   float64   `json:"boundary_percentile"`
	BoundaryMinSpacingS  float64   `json:"boundary_min_spacing_s"`

	SegmentMinDurationS        float64 `json:"segment_min_duration_s"`
	TargetSegmentRate          float64 `json:"target_segment_rate"`
	TargetSegmentRateTolerance float64 `json:"target_segment_rate_tolerance"`
	SegmentSnapBarWindowS      float64 `json:"segment_snap_bar_window_s"`
	SegmentSnapBeatWindowS     float64 `json:"segment_snap_beat_window_s"`

	UseLaplacianSections       bool    `json:"use_laplacian_sections"`
	LaplacianBinsPerOctave     int     `json:"laplacian_cqt_bins_per_octave"`
	LaplacianOctaves           int     `json:"laplacian_cqt_octaves"`
	LaplacianMaxClusters       int     `json:"laplacian_max_clusters"`
	SectionUseNovelty          bool    `json:"section_use_novelty"`
	SectionNoveltyPercentile   float64 `json:"section_novelty_percentile"`
	SectionSnapBarWindowS      float64 `json:"section_snap_bar_window_s"`
	SectionMinSpacingS         float64 `json:"section_min_spacing_s"`
	SectionSeconds             float64 `json:"section_seconds"`
	TargetSectionRate          float64 `json:"target_section_rate"`
	TargetSectionRateTolerance float64 `json:"target_section_rate_tolerance"`
	SectionMergeSimilarity     float64 `json:"section_merge_similarity"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:  22050,
		FrameLength: 2048,
		HopLength:   512,

		TempoMinBPM:    60,
		TempoMaxBPM:    200,
		TimeSignature:  4,
		TatumDivisions: 2,

		UseDownbeatTracker: false,
		OnsetPercentile:    75,
		OnsetMinSpacingS:   0.05,
		BeatSnapWindowS:    0.07,

		MFCCNumCoeffs: 12,
		MFCCNumMels:   40,
		MFCCUse0th:    true,
		MFCCWindowMs:  25,
		MFCCHopMs:     10,

		TimbreMode:  "mfcc",
		TimbreScale: 1.0,

		NoveltySmoothFrames: 8,

		SegmentSelfSimKernelBeats:     4,
		SegmentSelfSimPercentile:      75,
		SegmentSelfSimMinSpacingBeats: 1,
		SectionSelfSimKernelBeats:     16,
		SectionSelfSimPercentile:      90,
		SectionSelfSimMinSpacingBeats: 8,

		BeatNoveltyPercentile: 75,
		BeatNoveltyMinSpacing: 1,

		BoundaryPercentile:  90,
		BoundaryMinSpacingS: 0.25,

		SegmentMinDurationS:        0.25,
		TargetSegmentRate:          2.5,
		TargetSegmentRateTolerance: 0.1,
		SegmentSnapBarWindowS:      0.0,
		SegmentSnapBeatWindowS:     0.12,

		UseLaplacianSections:       true,
		LaplacianBinsPerOctave:     12,
		LaplacianOctaves:           6,
		LaplacianMaxClusters:       10,
		SectionUseNovelty:          true,
		SectionNoveltyPercentile:   90,
		SectionSnapBarWindowS:      0.5,
		SectionMinSpacingS:         10,
		SectionSeconds:             30,
		TargetSectionRate:          0.02,
		TargetSectionRateTolerance: 0.25,
		SectionMergeSimilarity:     0,
	}
}

// HasBoundaryModel reports whether the optional boundary scorer is fully
// configured.
func (c *Config) HasBoundaryModel() bool {
	return len(c.BoundaryModelWeights) == 3 && c.BoundaryModelBias != nil
}
