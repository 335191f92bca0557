// Package render draws spectrograms of recordings with detected taps marked.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/eligwz/spectrogram"
	"github.com/himanishpuri/TapSense/pkg/tapsense/sequence"
)

const markerWidth = 2

// Marker places a vertical line at a point in the recording.
type Marker struct {
	TimeSec float64
	Kind    sequence.Result
}

type Options struct {
	Width  int
	Height int
	Log10  bool
}

func DefaultOptions() Options {
	return Options{Width: 2048, Height: 512}
}

// Spectrogram renders samples (mono, [-1, 1]) to a PNG at path and overlays
// one marker per tap: amber for singles, red for doubles, white otherwise.
func Spectrogram(samples []float64, sampleRate int, markers []Marker, path string, opts Options) error {
	if len(samples) == 0 || sampleRate <= 0 {
		return errors.New("nothing to render")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts = DefaultOptions()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
	}

	img := spectrogram.NewImage128(image.Rect(0, 0, opts.Width, opts.Height))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	spectrogram.Drawfft(
		img,
		samples,
		uint32(sampleRate),
		uint32(opts.Height),
		false, // Hamming window
		false, // FFT
		true,  // magnitude
		opts.Log10,
	)

	duration := float64(len(samples)) / float64(sampleRate)
	for _, m := range markers {
		x := MarkerX(m.TimeSec, duration, opts.Width)
		if x < 0 {
			continue
		}
		c := image.NewUniform(spectrogram.ParseColor(markerColor(m.Kind)))
		draw.Draw(img, image.Rect(x, 0, x+markerWidth, opts.Height), c, image.Point{}, draw.Src)
	}

	if err := spectrogram.SavePng(img, path); err != nil {
		return fmt.Errorf("saving png: %w", err)
	}
	return nil
}

// MarkerX maps a time to an image column, or -1 when it falls outside.
func MarkerX(t, duration float64, width int) int {
	if duration <= 0 || t < 0 || t > duration {
		return -1
	}
	x := int(t / duration * float64(width))
	if x > width-markerWidth {
		x = width - markerWidth
	}
	return x
}

func markerColor(kind sequence.Result) string {
	switch kind {
	case sequence.Single:
		return "ffbf00"
	case sequence.Double:
		return "ff3030"
	default:
		return "ffffff"
	}
}
