package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/himanishpuri/TapSense/pkg/tapsense/fixed"
	"github.com/himanishpuri/TapSense/pkg/tapsense/sequence"
)

// WriteWAV writes interleaved 16-bit PCM samples to path.
func WriteWAV(path string, sampleRate, channels int, samples []int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating wav: %w", err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encoding wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalizing wav: %w", err)
	}
	return f.Close()
}

// WriteStream writes s back out as 16-bit PCM.
func WriteStream(path string, s *Stream) error {
	buf := s.IntBuffer()
	return WriteWAV(path, s.SampleRate, s.Channels, buf.Data)
}

// IndicatorLevel maps a tap result to the level of the indicator track.
func IndicatorLevel(r sequence.Result) fixed.Q {
	switch r {
	case sequence.Single:
		return fixed.One / 2
	case sequence.Double:
		return fixed.One
	default:
		return 0
	}
}

func PresenceLevel(transient bool) fixed.Q {
	if transient {
		return fixed.One
	}
	return 0
}

// IndicatorWriter accumulates one level per block and renders it as a mono
// track aligned with the source, each level held for the block's length.
type IndicatorWriter struct {
	sampleRate int
	samples    []int
}

func NewIndicatorWriter(sampleRate, frames int) *IndicatorWriter {
	return &IndicatorWriter{
		sampleRate: sampleRate,
		samples:    make([]int, 0, frames),
	}
}

func (w *IndicatorWriter) Hold(level fixed.Q, n int) {
	v := int(level.PCM16())
	for i := 0; i < n; i++ {
		w.samples = append(w.samples, v)
	}
}

func (w *IndicatorWriter) Len() int { return len(w.samples) }

func (w *IndicatorWriter) Save(path string) error {
	return WriteWAV(path, w.sampleRate, 1, w.samples)
}
