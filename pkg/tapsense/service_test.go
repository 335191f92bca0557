//go:build !js && !wasm
// +build !js,!wasm

package tapsense

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/himanishpuri/TapSense/internal/testsignal"
	"github.com/himanishpuri/TapSense/pkg/logger"
	"github.com/himanishpuri/TapSense/pkg/tapsense/audio"
)

func quietLogger() *logger.Logger {
	cfg := logger.DefaultConfig()
	cfg.Output = io.Discard
	return logger.New(cfg)
}

func newTestService(t *testing.T, opts ...Option) Service {
	t.Helper()
	base := []Option{
		WithDBPath(filepath.Join(t.TempDir(), "runs.sqlite3")),
		WithTempDir(t.TempDir()),
		WithLogger(quietLogger()),
	}
	svc, err := NewService(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func writeTaps(t *testing.T, blocks int, taps ...int) string {
	t.Helper()
	pcm := testsignal.PCM16(blocks, DefaultMaxFrameSize, 2, taps...)
	data := make([]int, len(pcm))
	for i, v := range pcm {
		data[i] = int(v)
	}
	path := filepath.Join(t.TempDir(), "taps.wav")
	if err := audio.WriteWAV(path, DefaultSampleRate, 2, data); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}
	return path
}

type eventKey struct {
	Kind    Result
	Block   uint32
	First   uint32
	Flushed bool
}

func keys(events []TapEvent) []eventKey {
	out := make([]eventKey, len(events))
	for i, e := range events {
		out[i] = eventKey{e.Kind, e.Block, e.FirstBlock, e.Flushed}
	}
	return out
}

func TestAnalyzeFileSequence(t *testing.T) {
	svc := newTestService(t)
	path := writeTaps(t, 400, 10, 70, 200)
	indicator := filepath.Join(t.TempDir(), "indicator.wav")

	res, err := svc.AnalyzeFile(context.Background(), path, AnalyzeOptions{
		IndicatorPath: indicator,
		Frames:        true,
		Persist:       true,
	})
	if err != nil {
		t.Fatalf("AnalyzeFile failed: %v", err)
	}

	want := []eventKey{
		{Double, 70, 10, false},
		{Single, 331, 200, false},
	}
	if diff := cmp.Diff(want, keys(res.Events)); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint32{10, 70, 200}, res.TransientBlocks); diff != "" {
		t.Errorf("transient blocks mismatch (-want +got):\n%s", diff)
	}
	if res.Blocks != 400 || len(res.Frames) != 400 {
		t.Errorf("Expected 400 blocks and frames, got %d/%d", res.Blocks, len(res.Frames))
	}
	if res.Singles != 1 || res.Doubles != 1 {
		t.Errorf("Expected 1 single and 1 double, got %d/%d", res.Singles, res.Doubles)
	}
	if res.Events[0].FirstTimeMs != 36 {
		t.Errorf("Expected first tap at 36ms, got %d", res.Events[0].FirstTimeMs)
	}
	if res.Events[0].HighBandRatio <= 0 {
		t.Errorf("Expected a positive high band ratio, got %v", res.Events[0].HighBandRatio)
	}

	ind, err := audio.ReadWAV(indicator)
	if err != nil {
		t.Fatalf("reading indicator: %v", err)
	}
	if ind.Frames != 400*DefaultMaxFrameSize {
		t.Errorf("Expected indicator aligned with input, got %d frames", ind.Frames)
	}
	if got := ind.Primary[69*DefaultMaxFrameSize].PCM16(); got != 32767 {
		t.Errorf("Expected full-scale marker for the double tap block, got %d", got)
	}

	stored, err := svc.GetRun(res.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if diff := cmp.Diff(want, keys(stored.Events)); diff != "" {
		t.Errorf("stored events mismatch (-want +got):\n%s", diff)
	}
	if stored.Detector != DefaultDetectorConfig() {
		t.Errorf("Expected stored tuning %+v, got %+v", DefaultDetectorConfig(), stored.Detector)
	}
}

func TestAnalyzeFlushesPendingTap(t *testing.T) {
	svc := newTestService(t)
	path := writeTaps(t, 100, 10)

	res, err := svc.AnalyzeFile(context.Background(), path, AnalyzeOptions{})
	if err != nil {
		t.Fatalf("AnalyzeFile failed: %v", err)
	}
	want := []eventKey{{Single, 100, 10, true}}
	if diff := cmp.Diff(want, keys(res.Events)); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzePresenceMode(t *testing.T) {
	svc := newTestService(t)
	path := writeTaps(t, 400, 10, 30, 70, 200)

	res, err := svc.AnalyzeFile(context.Background(), path, AnalyzeOptions{Presence: true, Frames: true})
	if err != nil {
		t.Fatalf("AnalyzeFile failed: %v", err)
	}
	for _, f := range res.Frames {
		if f.Transient && f.Peaks == 0 {
			t.Errorf("Expected peaks on transient frame %d", f.Index)
		}
	}
	if res.Mode != ModePresence {
		t.Errorf("Expected presence mode, got %s", res.Mode)
	}
	if len(res.Events) != 0 {
		t.Errorf("Expected no tap events in presence mode, got %d", len(res.Events))
	}
	if diff := cmp.Diff([]uint32{10, 70, 200}, res.TransientBlocks); diff != "" {
		t.Errorf("transient blocks mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyzeDetectorOverride(t *testing.T) {
	svc := newTestService(t)
	path := writeTaps(t, 400, 10, 70)

	cfg := DefaultDetectorConfig()
	cfg.DoubleTapWindow = 30
	res, err := svc.AnalyzeFile(context.Background(), path, AnalyzeOptions{Detector: &cfg})
	if err != nil {
		t.Fatalf("AnalyzeFile failed: %v", err)
	}
	want := []eventKey{
		{Single, 41, 10, false},
		{Single, 101, 70, false},
	}
	if diff := cmp.Diff(want, keys(res.Events)); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	bad := DefaultDetectorConfig()
	bad.MaxFrameSize = 0
	if _, err := svc.AnalyzeFile(context.Background(), path, AnalyzeOptions{Detector: &bad}); !errors.Is(err, ErrInvalidFrameSize) {
		t.Errorf("Expected ErrInvalidFrameSize, got %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	svc := newTestService(t)
	path := writeTaps(t, 200, 5, 50)
	dc := DefaultDetectorConfig()
	dc.StartupHoldoffBlocks = 3

	res, err := svc.AnalyzeFile(context.Background(), path, AnalyzeOptions{Persist: true, Detector: &dc})
	if err != nil {
		t.Fatalf("AnalyzeFile failed: %v", err)
	}

	stored, err := svc.GetRun(res.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if stored.Detector != dc {
		t.Errorf("Expected stored tuning %+v, got %+v", dc, stored.Detector)
	}

	runs, err := svc.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != res.ID {
		t.Fatalf("Expected the stored run, got %+v", runs)
	}
	if err := svc.DeleteRun(res.ID); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if _, err := svc.GetRun(res.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound for deleted run, got %v", err)
	}
}

func TestServiceWithoutStorage(t *testing.T) {
	svc := newTestService(t, WithDBPath(""))
	path := writeTaps(t, 50, 1)

	if _, err := svc.AnalyzeFile(context.Background(), path, AnalyzeOptions{}); err != nil {
		t.Fatalf("Expected analysis without storage to work, got %v", err)
	}
	if _, err := svc.AnalyzeFile(context.Background(), path, AnalyzeOptions{Persist: true}); !errors.Is(err, ErrNoStorage) {
		t.Errorf("Expected ErrNoStorage, got %v", err)
	}
	if _, err := svc.ListRuns(); !errors.Is(err, ErrNoStorage) {
		t.Errorf("Expected ErrNoStorage, got %v", err)
	}
}

func TestNewServiceRejectsInvalidTuning(t *testing.T) {
	_, err := NewService(WithDBPath(""), WithLogger(quietLogger()), WithThresholdBand(0.02, 0.01))
	if !errors.Is(err, ErrInvalidThresholds) {
		t.Errorf("Expected ErrInvalidThresholds, got %v", err)
	}
}

func TestAnalyzeFileErrors(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.AnalyzeFile(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), AnalyzeOptions{}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected not-exist error, got %v", err)
	}

	if audio.FFmpegAvailable() {
		t.Skip("ffmpeg installed; garbage input would be handed to it")
	}
	garbage := filepath.Join(t.TempDir(), "noise.bin")
	if err := os.WriteFile(garbage, []byte("not audio"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := svc.AnalyzeFile(context.Background(), garbage, AnalyzeOptions{}); err == nil {
		t.Error("Expected error for unreadable input without ffmpeg")
	}
}
