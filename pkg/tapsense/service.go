//go:build !js && !wasm
// +build !js,!wasm

package tapsense

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/himanishpuri/TapSense/pkg/logger"
	"github.com/himanishpuri/TapSense/pkg/tapsense/analysis"
	"github.com/himanishpuri/TapSense/pkg/tapsense/audio"
	"github.com/himanishpuri/TapSense/pkg/tapsense/sequence"
)

// ErrNoStorage is returned by run queries on a service built without
// persistence.
var ErrNoStorage = errors.New("service has no storage configured")

// tapService is the default implementation of the Service interface.
type tapService struct {
	storage Storage
	log     Logger
	config  *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Detector.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	var stor Storage
	var err error
	if cfg.Storage != nil {
		stor = cfg.Storage
	} else if cfg.DBPath != "" {
		stor, err = NewSQLiteStorage(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	return &tapService{
		storage: stor,
		log:     cfg.Logger,
		config:  cfg,
	}, nil
}

// AnalyzeFile reads a WAV file directly, or converts it with ffmpeg first
// when it is not 16/24-bit PCM, and runs a fresh detector over it.
func (s *tapService) AnalyzeFile(ctx context.Context, path string, opts AnalyzeOptions) (*Analysis, error) {
	stream, err := audio.Load(ctx, path, s.config.TempDir, s.config.SampleRate)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.AnalyzeStream(stream, filepath.Base(path), opts)
}

// AnalyzeStream runs a fresh detector over every block of stream.
func (s *tapService) AnalyzeStream(stream *audio.Stream, source string, opts AnalyzeOptions) (*Analysis, error) {
	cfg := s.config.Detector
	if opts.Detector != nil {
		cfg = *opts.Detector
	}
	det, err := NewDetector(cfg)
	if err != nil {
		return nil, err
	}

	mode := ModeSequence
	if opts.Presence {
		mode = ModePresence
	}
	s.log.Infof("Analyzing %s (%d Hz, %d ch, %d ms) in %s mode", source, stream.SampleRate, stream.Channels, stream.DurationMs(), mode)

	res := &Analysis{
		Run: Run{
			Source:     source,
			Mode:       mode,
			SampleRate: stream.SampleRate,
			Channels:   stream.Channels,
			DurationMs: stream.DurationMs(),
			Detector:   cfg,
			CreatedAt:  time.Now(),
		},
	}

	var indicator *audio.IndicatorWriter
	if opts.IndicatorPath != "" {
		indicator = audio.NewIndicatorWriter(stream.SampleRate, stream.Frames)
	}

	frame := cfg.MaxFrameSize
	offsets := make(map[uint32]int)
	src := stream.Blocks(frame)

	for blk, ok := src.Next(); ok; blk, ok = src.Next() {
		if err := det.CheckBlock(blk.Primary, blk.Secondary, blk.Len); err != nil {
			return nil, fmt.Errorf("block %d: %w", blk.Index, err)
		}

		var out Outcome
		if opts.Presence {
			out = det.StepTransient(blk.Primary, blk.Secondary, blk.Len)
		} else {
			out = det.Step(blk.Primary, blk.Secondary, blk.Len)
		}

		if out.Transient {
			res.Transients++
			res.TransientBlocks = append(res.TransientBlocks, out.Block)
			offsets[out.Block] = blk.Offset
		}
		if out.Result != None {
			res.Events = append(res.Events, s.newEvent(stream, cfg, offsets, out.Result, out.Block, out.GestureStart))
		}

		if opts.Frames {
			res.Frames = append(res.Frames, FrameResult{
				Index:     blk.Index,
				StartSec:  float64(blk.Offset) / float64(stream.SampleRate),
				Transient: out.Transient,
				Peaks:     out.Peaks,
				Result:    out.Result,
			})
		}

		if indicator != nil {
			level := audio.IndicatorLevel(out.Result)
			if opts.Presence {
				level = audio.PresenceLevel(out.Transient)
			}
			indicator.Hold(level, blk.Len)
		}
		res.Blocks++
	}

	if st := det.State(); !opts.Presence && st.Sequence.Phase == sequence.WaitingForSecond {
		ev := s.newEvent(stream, cfg, offsets, Single, st.Blocks, st.Sequence.FirstTapBlock)
		ev.Flushed = true
		res.Events = append(res.Events, ev)
	}

	for _, ev := range res.Events {
		switch ev.Kind {
		case Single:
			res.Singles++
		case Double:
			res.Doubles++
		}
	}

	s.log.Infof("%s: %d blocks, %d transients, %d single, %d double", source, res.Blocks, res.Transients, res.Singles, res.Doubles)

	if indicator != nil {
		indicator.Hold(0, stream.Frames-indicator.Len())
		if err := indicator.Save(opts.IndicatorPath); err != nil {
			return nil, fmt.Errorf("writing indicator: %w", err)
		}
		s.log.Debugf("Indicator written to %s", opts.IndicatorPath)
	}

	if opts.Persist {
		if s.storage == nil {
			return nil, ErrNoStorage
		}
		if _, err := s.storage.SaveRun(&res.Run); err != nil {
			return nil, fmt.Errorf("failed to store run: %w", err)
		}
		s.log.Infof("Stored run %s", res.ID)
	}

	return res, nil
}

func (s *tapService) newEvent(stream *audio.Stream, cfg DetectorConfig, offsets map[uint32]int, kind Result, block, first uint32) TapEvent {
	ev := TapEvent{
		Kind:        kind,
		Block:       block,
		FirstBlock:  first,
		TimeMs:      BlockStartMs(block, stream.SampleRate, cfg.MaxFrameSize),
		FirstTimeMs: BlockStartMs(first, stream.SampleRate, cfg.MaxFrameSize),
	}
	if off, ok := offsets[first]; ok {
		end := off + cfg.MaxFrameSize
		if end > stream.Frames {
			end = stream.Frames
		}
		ev.HighBandRatio = analysis.HighBandRatio(stream.Primary[off:end], stream.Secondary[off:end])
	}
	return ev
}

func (s *tapService) GetRun(id string) (*Run, error) {
	if s.storage == nil {
		return nil, ErrNoStorage
	}
	return s.storage.GetRun(id)
}

func (s *tapService) ListRuns() ([]Run, error) {
	if s.storage == nil {
		return nil, ErrNoStorage
	}
	return s.storage.ListRuns()
}

func (s *tapService) DeleteRun(id string) error {
	if s.storage == nil {
		return ErrNoStorage
	}
	return s.storage.DeleteRun(id)
}

func (s *tapService) DetectorConfig() DetectorConfig {
	return s.config.Detector
}

func (s *tapService) Close() error {
	if s.storage == nil {
		return nil
	}
	return s.storage.Close()
}
