package tapsense

import (
	"time"

	"github.com/himanishpuri/TapSense/pkg/tapsense/sequence"
)

// Result is the per-block classification returned by Detector.Detect.
type Result = sequence.Result

const (
	None   = sequence.None
	Single = sequence.Single
	Double = sequence.Double
)

// Outcome is everything the detector decided about one block.
type Outcome struct {
	Block     uint32 // block counter value, starting at 1
	Transient bool   // a distinct transient was accepted
	Peaks     int    // in-band detail peaks; 0 when the block fell in cooldown
	Result    Result
	// GestureStart is the block of the first tap of the gesture that Result
	// concludes. Zero when Result is None.
	GestureStart uint32
}

// DetectorState captures a detector's mutable state for inspection and
// injection in tests.
type DetectorState struct {
	Blocks   uint32
	Cooldown int
	Sequence sequence.State
}

// TapEvent is a classified gesture located in time.
type TapEvent struct {
	Kind          Result  `json:"kind"`
	Block         uint32  `json:"block"`       // block at which the result was emitted
	FirstBlock    uint32  `json:"first_block"` // block of the first tap
	TimeMs        int64   `json:"time_ms"`
	FirstTimeMs   int64   `json:"first_time_ms"`
	HighBandRatio float64 `json:"high_band_ratio"` // spectral share above fs/4 in the first tap block
	// Flushed marks a pending tap reported because the stream ended inside
	// its window.
	Flushed bool `json:"flushed,omitempty"`
}

// FrameResult is one row of the per-block log.
type FrameResult struct {
	Index     int     `json:"index"`
	StartSec  float64 `json:"start_sec"`
	Transient bool    `json:"transient"`
	Peaks     int     `json:"peaks"`
	Result    Result  `json:"result"`
}

// Run is a persisted analysis summary.
type Run struct {
	ID         string         `json:"id,omitempty"`
	Source     string         `json:"source"`
	Mode       string         `json:"mode"`
	SampleRate int            `json:"sample_rate"`
	Channels   int            `json:"channels"`
	Blocks     int            `json:"blocks"`
	DurationMs int64          `json:"duration_ms"`
	Transients int            `json:"transients"`
	Singles    int            `json:"singles"`
	Doubles    int            `json:"doubles"`
	Detector   DetectorConfig `json:"detector"`
	Events     []TapEvent     `json:"events"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Analysis is the result of running a fresh detector over a whole stream.
type Analysis struct {
	Run
	TransientBlocks []uint32      `json:"transient_blocks"`
	Frames          []FrameResult `json:"frames,omitempty"`
}

// AnalyzeOptions tunes a single analysis.
type AnalyzeOptions struct {
	// Detector overrides the service's detector tuning for this call.
	Detector *DetectorConfig
	// Presence runs the reduced detector: transients only, no taps.
	Presence bool
	// IndicatorPath, when set, receives a mono WAV aligned with the input
	// whose level encodes the per-block result.
	IndicatorPath string
	// Frames keeps the per-block log in the returned Analysis.
	Frames bool
	Persist bool
}

const (
	ModeSequence = "sequence"
	ModePresence = "presence"
)
