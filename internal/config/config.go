// Package config loads the YAML tuning file shared by the CLI and server.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/himanishpuri/TapSense/pkg/tapsense"
	"github.com/himanishpuri/TapSense/pkg/tapsense/transient"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string         `yaml:"log_level"`
	Audio    AudioConfig    `yaml:"audio"`
	Detector DetectorConfig `yaml:"detector"`
	Storage  StorageConfig  `yaml:"storage"`
	Server   ServerConfig   `yaml:"server"`
}

type AudioConfig struct {
	SampleRate int    `yaml:"sample_rate"` // rate ffmpeg converts to, and the rate ms values are resolved against
	TempDir    string `yaml:"temp_dir"`
}

// DetectorConfig mirrors tapsense.DetectorConfig. The *_ms fields, when
// set, override their block-count counterparts.
type DetectorConfig struct {
	FrameSize         int     `yaml:"frame_size"`
	ThresholdMin      float64 `yaml:"threshold_min"`
	ThresholdMax      float64 `yaml:"threshold_max"`
	CooldownBlocks    int     `yaml:"cooldown_blocks"`
	CooldownMs        int     `yaml:"cooldown_ms"`
	DoubleTapWindow   int     `yaml:"double_tap_window"`
	DoubleTapWindowMs int     `yaml:"double_tap_window_ms"`
	Fusion            string  `yaml:"fusion"` // average | primary | secondary

	// StartupHoldoffBlocks ignores the first blocks of every stream.
	StartupHoldoffBlocks int `yaml:"startup_holdoff_blocks"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb"`
}

func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			SampleRate: tapsense.DefaultSampleRate,
			TempDir:    os.TempDir(),
		},
		Detector: DetectorConfig{
			FrameSize:       tapsense.DefaultMaxFrameSize,
			ThresholdMin:    tapsense.DefaultThresholdMin,
			ThresholdMax:    tapsense.DefaultThresholdMax,
			CooldownBlocks:  tapsense.DefaultCooldownBlocks,
			DoubleTapWindow: tapsense.DefaultDoubleTapWindow,
			Fusion:          transient.FusionAverage.String(),
		},
		Storage: StorageConfig{DBPath: "tapsense.sqlite3"},
		Server: ServerConfig{
			Port:        8080,
			MaxUploadMB: 50,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it is non-empty and returns the defaults
// otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate)
	}
	dc, err := c.DetectorConfig()
	if err != nil {
		return err
	}
	if err := dc.Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	return nil
}

// DetectorConfig resolves the detector section into block-based tuning.
func (c *Config) DetectorConfig() (tapsense.DetectorConfig, error) {
	d := c.Detector
	fusion, err := transient.ParseFusion(d.Fusion)
	if err != nil {
		return tapsense.DetectorConfig{}, fmt.Errorf("detector.fusion: %w", err)
	}

	dc := tapsense.DetectorConfig{
		MaxFrameSize:    d.FrameSize,
		ThresholdMin:    d.ThresholdMin,
		ThresholdMax:    d.ThresholdMax,
		CooldownBlocks:  d.CooldownBlocks,
		DoubleTapWindow: d.DoubleTapWindow,
		Fusion:          fusion,

		StartupHoldoffBlocks: d.StartupHoldoffBlocks,
	}
	if d.CooldownMs > 0 {
		dc.CooldownBlocks = tapsense.BlocksForDuration(time.Duration(d.CooldownMs)*time.Millisecond, c.Audio.SampleRate, d.FrameSize)
	}
	if d.DoubleTapWindowMs > 0 {
		dc.DoubleTapWindow = tapsense.BlocksForDuration(time.Duration(d.DoubleTapWindowMs)*time.Millisecond, c.Audio.SampleRate, d.FrameSize)
	}
	return dc, nil
}

// Options converts the file into service options.
func (c *Config) Options() ([]tapsense.Option, error) {
	dc, err := c.DetectorConfig()
	if err != nil {
		return nil, err
	}
	return []tapsense.Option{
		tapsense.WithDBPath(c.Storage.DBPath),
		tapsense.WithTempDir(c.Audio.TempDir),
		tapsense.WithSampleRate(c.Audio.SampleRate),
		tapsense.WithDetectorConfig(dc),
	}, nil
}
