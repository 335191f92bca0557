package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/himanishpuri/TapSense/pkg/utils"
)

const (
	defaultConvertRate     = 48000
	defaultConvertChannels = 2
	defaultConvertTimeout  = 30 * time.Second
)

type ConvertWAVConfig struct {
	SampleRate int
	Channels   int
}

// ConvertToPCMWAV shells out to ffmpeg to turn any input ffmpeg understands
// into 16-bit PCM WAV in outputDir, under a name unique to this call.
// Stereo is kept by default so both microphones reach the detector.
func ConvertToPCMWAV(
	ctx context.Context,
	inputPath string,
	outputDir string,
	cfg ConvertWAVConfig,
) (string, error) {

	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultConvertRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = defaultConvertChannels
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultConvertTimeout)
		defer cancel()
	}

	if err := utils.MakeDir(outputDir); err != nil {
		return "", err
	}

	// Inputs from different directories may share a base name
	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(outputDir, base+"_"+uuid.NewString()+".pcm.wav")

	tmpPath := outputPath + ".tmp.wav"
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(
		ctx,
		"ffmpeg",
		"-y",
		"-v", "quiet",
		"-i", inputPath,
		"-ac", fmt.Sprintf("%d", cfg.Channels),
		"-ar", fmt.Sprintf("%d", cfg.SampleRate),
		"-c:a", "pcm_s16le",
		tmpPath,
	)

	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ffmpeg failed: %v (%s)", err, out)
	}

	if err := utils.MoveFile(tmpPath, outputPath); err != nil {
		return "", err
	}

	return outputPath, nil
}

// FFmpegAvailable reports whether ffmpeg is on PATH.
func FFmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// Load reads path as WAV, converting it with ffmpeg into tempDir first when
// it is not a WAV the decoder accepts. The converted file is removed before
// Load returns.
func Load(ctx context.Context, path, tempDir string, sampleRate int) (*Stream, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file: %w", err)
	}

	stream, err := ReadWAV(path)
	if err == nil {
		return stream, nil
	}

	converted, convErr := ConvertToPCMWAV(ctx, path, tempDir, ConvertWAVConfig{SampleRate: sampleRate})
	if convErr != nil {
		return nil, fmt.Errorf("audio conversion failed (direct read: %v): %w", err, convErr)
	}
	defer os.Remove(converted)

	stream, err = ReadWAV(converted)
	if err != nil {
		return nil, fmt.Errorf("failed to read converted WAV: %w", err)
	}
	return stream, nil
}
