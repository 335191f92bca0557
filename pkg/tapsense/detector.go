package tapsense

import (
	"errors"
	"fmt"
	"time"

	"github.com/himanishpuri/TapSense/pkg/tapsense/debounce"
	"github.com/himanishpuri/TapSense/pkg/tapsense/fixed"
	"github.com/himanishpuri/TapSense/pkg/tapsense/sequence"
	"github.com/himanishpuri/TapSense/pkg/tapsense/transient"
)

var (
	ErrBlockTooShort   = errors.New("block must contain at least 2 samples")
	ErrBlockTooLong    = errors.New("block exceeds the configured max frame size")
	ErrChannelTooShort = errors.New("channel buffer shorter than block length")
)

// Detector turns a stream of two-channel sample blocks into tap results.
// Each sensor needs its own Detector; a Detector is not safe for concurrent
// use. Detect and DetectTransient never allocate.
type Detector struct {
	cfg       DetectorConfig
	extractor *transient.Extractor
	gate      *debounce.Gate
	seq       *sequence.Sequencer
	blocks    uint32
}

func NewDetector(cfg DetectorConfig) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}
	d := &Detector{
		cfg:       cfg,
		extractor: transient.NewExtractor(cfg.MaxFrameSize, cfg.Band(), cfg.Fusion),
		gate:      debounce.NewGate(cfg.CooldownBlocks),
		seq:       sequence.New(uint32(cfg.DoubleTapWindow)),
	}
	d.gate.Hold(cfg.StartupHoldoffBlocks)
	return d, nil
}

// Detect consumes one block of n samples per channel and returns the
// classification for it. The caller guarantees 2 <= n <= MaxFrameSize and
// that both channels hold at least n samples; see ValidateBlock.
func (d *Detector) Detect(primary, secondary []fixed.Q, n int) Result {
	return d.Step(primary, secondary, n).Result
}

// Step is Detect with the intermediate decisions exposed.
func (d *Detector) Step(primary, secondary []fixed.Q, n int) Outcome {
	d.blocks++
	out := Outcome{Block: d.blocks}

	if d.gate.Ready() {
		out.Peaks = d.extractor.PeakCount(primary, secondary, n)
		out.Transient = d.gate.Accept(out.Peaks)
	}

	pending := d.seq.State()
	out.Result = d.seq.Step(out.Transient, d.blocks)
	if out.Result != None {
		out.GestureStart = pending.FirstTapBlock
	}
	return out
}

// DetectTransient is the reduced mode: it reports whether the block holds a
// distinct transient and leaves the tap sequencer untouched.
func (d *Detector) DetectTransient(primary, secondary []fixed.Q, n int) bool {
	return d.StepTransient(primary, secondary, n).Transient
}

// StepTransient is DetectTransient with the block number and peak count
// exposed. Result is always None.
func (d *Detector) StepTransient(primary, secondary []fixed.Q, n int) Outcome {
	d.blocks++
	out := Outcome{Block: d.blocks}
	if d.gate.Ready() {
		out.Peaks = d.extractor.PeakCount(primary, secondary, n)
		out.Transient = d.gate.Accept(out.Peaks)
	}
	return out
}

// CheckBlock validates a block against this detector's frame size.
func (d *Detector) CheckBlock(primary, secondary []fixed.Q, n int) error {
	return ValidateBlock(primary, secondary, n, d.cfg.MaxFrameSize)
}

// LastDetail returns the Haar detail coefficients of the most recently
// examined block. The slice is overwritten by the next call.
func (d *Detector) LastDetail() []fixed.Q {
	return d.extractor.Detail()
}

func (d *Detector) Config() DetectorConfig { return d.cfg }

func (d *Detector) State() DetectorState {
	return DetectorState{
		Blocks:   d.blocks,
		Cooldown: d.gate.Remaining(),
		Sequence: d.seq.State(),
	}
}

// Restore injects st. The cooldown is clamped to the longer of the
// cooldown and the startup holdoff.
func (d *Detector) Restore(st DetectorState) {
	d.blocks = st.Blocks
	d.gate.Hold(min(st.Cooldown, max(d.cfg.CooldownBlocks, d.cfg.StartupHoldoffBlocks)))
	d.seq.Restore(st.Sequence)
}

// Reset returns the detector to its freshly constructed state.
func (d *Detector) Reset() {
	d.blocks = 0
	d.gate.Hold(d.cfg.StartupHoldoffBlocks)
	d.seq.Reset()
}

// ValidateBlock checks the block preconditions the detector relies on.
func ValidateBlock(primary, secondary []fixed.Q, n, maxFrameSize int) error {
	if n < 2 {
		return fmt.Errorf("%w: got %d", ErrBlockTooShort, n)
	}
	if n > maxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrBlockTooLong, n, maxFrameSize)
	}
	if len(primary) < n || len(secondary) < n {
		return fmt.Errorf("%w: need %d, have %d/%d", ErrChannelTooShort, n, len(primary), len(secondary))
	}
	return nil
}

// BlocksForDuration converts a duration into a whole number of blocks,
// rounding up.
func BlocksForDuration(d time.Duration, sampleRate, frameSize int) int {
	if d <= 0 || sampleRate <= 0 || frameSize <= 0 {
		return 0
	}
	num := int64(d) * int64(sampleRate)
	den := int64(time.Second) * int64(frameSize)
	return int((num + den - 1) / den)
}

// BlockDuration is the wall-clock length of one block.
func BlockDuration(sampleRate, frameSize int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(frameSize) * int64(time.Second) / int64(sampleRate))
}

// BlockStartMs is the offset of the start of the given 1-based block.
func BlockStartMs(block uint32, sampleRate, frameSize int) int64 {
	if block == 0 || sampleRate <= 0 {
		return 0
	}
	return int64(block-1) * int64(frameSize) * 1000 / int64(sampleRate)
}
