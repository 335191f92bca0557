package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/himanishpuri/TapSense/internal/testsignal"
	"github.com/himanishpuri/TapSense/pkg/tapsense/fixed"
	"github.com/himanishpuri/TapSense/pkg/tapsense/sequence"
	"golang.org/x/sync/errgroup"
)

func writeTestWAV(t *testing.T, channels int, samples []int16) string {
	t.Helper()
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}
	path := filepath.Join(t.TempDir(), "taps.wav")
	if err := WriteWAV(path, 48000, channels, data); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}
	return path
}

func TestReadWAVStereo(t *testing.T) {
	path := writeTestWAV(t, 2, testsignal.PCM16(3, 192, 2, 2))

	s, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}
	if s.SampleRate != 48000 || s.Channels != 2 || s.BitDepth != 16 {
		t.Errorf("Unexpected format: rate=%d channels=%d depth=%d", s.SampleRate, s.Channels, s.BitDepth)
	}
	if s.Frames != 3*192 {
		t.Fatalf("Expected %d frames, got %d", 3*192, s.Frames)
	}

	want := fixed.FromPCM16(testsignal.TapAmplitude)
	if s.Primary[193] != want || s.Secondary[193] != want {
		t.Errorf("Expected tap sample %d on both channels, got %d/%d", want, s.Primary[193], s.Secondary[193])
	}
	if s.Primary[192] != 0 {
		t.Errorf("Expected silence next to the tap, got %d", s.Primary[192])
	}
	if s.DurationMs() != 12 {
		t.Errorf("Expected 12ms, got %d", s.DurationMs())
	}
}

func TestReadWAVMonoSharesChannels(t *testing.T) {
	path := writeTestWAV(t, 1, testsignal.PCM16(2, 192, 1, 1))

	s, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}
	if s.Channels != 1 {
		t.Fatalf("Expected mono, got %d channels", s.Channels)
	}
	if &s.Primary[0] != &s.Secondary[0] {
		t.Error("Expected mono stream to reuse one buffer for both channels")
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("INVALID HEADER DATA"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := ReadWAV(path); !errors.Is(err, ErrInvalidWAV) {
		t.Errorf("Expected ErrInvalidWAV, got %v", err)
	}
}

func TestDecodeWAVUnsupportedDepth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eight.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	enc := wav.NewEncoder(f, 8000, 8, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 8000},
		Data:           make([]int, 64),
		SourceBitDepth: 8,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	f.Close()

	if _, err := ReadWAV(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestBlockSource(t *testing.T) {
	tests := []struct {
		name    string
		frames  int
		size    int
		lengths []int
	}{
		{"exact multiple", 384, 192, []int{192, 192}},
		{"short tail kept", 197, 192, []int{192, 5}},
		{"two-sample tail kept", 194, 192, []int{192, 2}},
		{"one-sample tail dropped", 193, 192, []int{192}},
		{"too short overall", 1, 192, nil},
		{"empty", 0, 192, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := FromPCM16(make([]int16, tt.frames), 48000, 1)
			src := s.Blocks(tt.size)

			var lengths []int
			offset := 0
			for blk, ok := src.Next(); ok; blk, ok = src.Next() {
				if blk.Offset != offset {
					t.Errorf("Expected contiguous block at %d, got %d", offset, blk.Offset)
				}
				if blk.Index != len(lengths) {
					t.Errorf("Expected index %d, got %d", len(lengths), blk.Index)
				}
				offset += blk.Len
				lengths = append(lengths, blk.Len)
			}
			if len(lengths) != len(tt.lengths) {
				t.Fatalf("Expected %v, got %v", tt.lengths, lengths)
			}
			for i := range lengths {
				if lengths[i] != tt.lengths[i] {
					t.Errorf("Expected %v, got %v", tt.lengths, lengths)
					break
				}
			}
			if got := s.Blocks(tt.size).Count(); got != len(tt.lengths) {
				t.Errorf("Expected Count %d, got %d", len(tt.lengths), got)
			}
		})
	}
}

func TestIndicatorWriter(t *testing.T) {
	w := NewIndicatorWriter(48000, 6)
	w.Hold(IndicatorLevel(sequence.None), 2)
	w.Hold(IndicatorLevel(sequence.Single), 2)
	w.Hold(IndicatorLevel(sequence.Double), 2)

	path := filepath.Join(t.TempDir(), "indicator.wav")
	if err := w.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}
	want := []int16{0, 0, 16384, 16384, 32767, 32767}
	for i, v := range want {
		if got := s.Primary[i].PCM16(); got != v {
			t.Errorf("sample %d: expected %d, got %d", i, v, got)
		}
	}
	if PresenceLevel(true) != fixed.One || PresenceLevel(false) != 0 {
		t.Error("Unexpected presence levels")
	}
}

func TestConvertToPCMWAV(t *testing.T) {
	if !FFmpegAvailable() {
		t.Skip("ffmpeg not installed")
	}
	in := writeTestWAV(t, 1, testsignal.PCM16(4, 192, 1, 1))

	out, err := ConvertToPCMWAV(context.Background(), in, t.TempDir(), ConvertWAVConfig{})
	if err != nil {
		t.Fatalf("ConvertToPCMWAV failed: %v", err)
	}
	if !strings.HasSuffix(out, ".pcm.wav") {
		t.Errorf("Unexpected output name %s", out)
	}

	s, err := ReadWAV(out)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}
	if s.Channels != 2 || s.SampleRate != 48000 {
		t.Errorf("Expected 48kHz stereo, got %dHz %d channels", s.SampleRate, s.Channels)
	}
}

func TestLoad(t *testing.T) {
	path := writeTestWAV(t, 2, testsignal.PCM16(2, 192, 2, 1))

	s, err := Load(context.Background(), path, t.TempDir(), 48000)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Frames != 2*192 {
		t.Errorf("Expected %d frames, got %d", 2*192, s.Frames)
	}

	_, err = Load(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), t.TempDir(), 48000)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

// fakeFFmpeg puts an ffmpeg on PATH that copies fixture to its last argument.
func fakeFFmpeg(t *testing.T, fixture string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script ffmpeg stand-in needs a POSIX shell")
	}
	bin := t.TempDir()
	script := fmt.Sprintf("#!/bin/sh\nfor last; do :; done\nsleep 0.05\ncp %q \"$last\"\n", fixture)
	if err := os.WriteFile(filepath.Join(bin, "ffmpeg"), []byte(script), 0o755); err != nil {
		t.Fatalf("write ffmpeg: %v", err)
	}
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestLoadConcurrentSameBaseName(t *testing.T) {
	fixture := writeTestWAV(t, 2, testsignal.PCM16(3, 192, 2, 1))
	fakeFFmpeg(t, fixture)

	root := t.TempDir()
	tempDir := t.TempDir()
	const n = 8
	paths := make([]string, n)
	for i := range paths {
		dir := filepath.Join(root, fmt.Sprintf("mic%d", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		paths[i] = filepath.Join(dir, "knock.mp3")
		if err := os.WriteFile(paths[i], []byte("not a wav"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	streams := make([]*Stream, n)
	var g errgroup.Group
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			s, err := Load(context.Background(), p, tempDir, 48000)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			streams[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for i, s := range streams {
		if s.Frames != 3*192 || s.Channels != 2 {
			t.Errorf("Load %d: expected 576 stereo frames, got %d frames %d channels", i, s.Frames, s.Channels)
		}
	}

	left, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("Expected converted files to be removed, found %d entries", len(left))
	}
}
