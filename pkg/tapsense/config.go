package tapsense

import (
	"errors"
	"fmt"
	"math"

	"github.com/himanishpuri/TapSense/pkg/tapsense/transient"
)

// Reference tuning for a 48 kHz stream processed in 192-sample blocks
// (4 ms per block).
const (
	DefaultMaxFrameSize    = 192
	DefaultThresholdMin    = 0.0075
	DefaultThresholdMax    = 0.0150
	DefaultCooldownBlocks  = 40
	DefaultDoubleTapWindow = 130
	DefaultSampleRate      = 48000
)

var (
	ErrInvalidFrameSize  = errors.New("max frame size must be at least 2")
	ErrInvalidThresholds = errors.New("thresholds must satisfy 0 <= min <= max < 1")
	ErrInvalidCooldown   = errors.New("cooldown must not be negative")
	ErrInvalidWindow     = errors.New("double-tap window out of range")
	ErrInvalidHoldoff    = errors.New("startup holdoff must not be negative")
)

// DetectorConfig holds the tuning constants of one detector instance.
// Thresholds are fractions of the 32-bit full scale.
type DetectorConfig struct {
	MaxFrameSize    int              `json:"max_frame_size"`
	ThresholdMin    float64          `json:"threshold_min"`
	ThresholdMax    float64          `json:"threshold_max"`
	CooldownBlocks  int              `json:"cooldown_blocks"`
	DoubleTapWindow int              `json:"double_tap_window"`
	Fusion          transient.Fusion `json:"fusion"`

	// StartupHoldoffBlocks suppresses detection for the first blocks after
	// construction or Reset, while the input settles.
	StartupHoldoffBlocks int `json:"startup_holdoff_blocks"`
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MaxFrameSize:    DefaultMaxFrameSize,
		ThresholdMin:    DefaultThresholdMin,
		ThresholdMax:    DefaultThresholdMax,
		CooldownBlocks:  DefaultCooldownBlocks,
		DoubleTapWindow: DefaultDoubleTapWindow,
		Fusion:          transient.FusionAverage,
	}
}

func (c DetectorConfig) Validate() error {
	if c.MaxFrameSize < 2 {
		return fmt.Errorf("%w: got %d", ErrInvalidFrameSize, c.MaxFrameSize)
	}
	if c.ThresholdMin < 0 || c.ThresholdMin > c.ThresholdMax || c.ThresholdMax >= 1 {
		return fmt.Errorf("%w: got [%g, %g]", ErrInvalidThresholds, c.ThresholdMin, c.ThresholdMax)
	}
	if c.CooldownBlocks < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCooldown, c.CooldownBlocks)
	}
	if c.DoubleTapWindow < 0 || int64(c.DoubleTapWindow) > math.MaxUint32/2 {
		return fmt.Errorf("%w: got %d", ErrInvalidWindow, c.DoubleTapWindow)
	}
	if c.StartupHoldoffBlocks < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidHoldoff, c.StartupHoldoffBlocks)
	}
	return nil
}

// Band returns the threshold band in Q2.29.
func (c DetectorConfig) Band() transient.Band {
	return transient.NewBand(c.ThresholdMin, c.ThresholdMax)
}

// Config configures a Service.
type Config struct {
	DBPath     string
	TempDir    string
	SampleRate int
	Detector   DetectorConfig
	Logger     Logger
	Storage    Storage
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

// WithSampleRate sets the rate files are converted to when they cannot be
// read directly.
func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

func WithDetectorConfig(dc DetectorConfig) Option {
	return func(c *Config) {
		c.Detector = dc
	}
}

func WithThresholdBand(min, max float64) Option {
	return func(c *Config) {
		c.Detector.ThresholdMin = min
		c.Detector.ThresholdMax = max
	}
}

func WithCooldownBlocks(n int) Option {
	return func(c *Config) {
		c.Detector.CooldownBlocks = n
	}
}

func WithDoubleTapWindow(n int) Option {
	return func(c *Config) {
		c.Detector.DoubleTapWindow = n
	}
}

func WithMaxFrameSize(n int) Option {
	return func(c *Config) {
		c.Detector.MaxFrameSize = n
	}
}

func WithStartupHoldoff(n int) Option {
	return func(c *Config) {
		c.Detector.StartupHoldoffBlocks = n
	}
}

func WithFusion(f transient.Fusion) Option {
	return func(c *Config) {
		c.Detector.Fusion = f
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:     "tapsense.sqlite3",
		TempDir:    "/tmp",
		SampleRate: DefaultSampleRate,
		Detector:   DefaultDetectorConfig(),
	}
}
