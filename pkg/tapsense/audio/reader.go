package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/himanishpuri/TapSense/pkg/tapsense/fixed"
)

const wavFormatPCM = 1

var (
	ErrInvalidWAV        = errors.New("not a valid WAV file")
	ErrUnsupportedFormat = errors.New("unsupported WAV format")
)

// Stream is a decoded recording in Q2.29. Mono recordings share one slice
// for both channels so the detector sees identical buffers.
type Stream struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int
	Primary    []fixed.Q
	Secondary  []fixed.Q
}

// ReadWAV decodes a 16 or 24-bit PCM WAV file with one or two channels.
func ReadWAV(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening wav: %w", err)
	}
	defer f.Close()

	return DecodeWAV(f)
}

func DecodeWAV(r io.ReadSeeker) (*Stream, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: audio format %d", ErrUnsupportedFormat, dec.WavAudioFormat)
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth != 16 && bitDepth != 24 {
		return nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, bitDepth)
	}
	channels := int(dec.NumChans)
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decoding pcm: %w", err)
	}

	return FromInterleaved(buf.Data, int(dec.SampleRate), channels, bitDepth), nil
}

// FromInterleaved builds a Stream from interleaved integer PCM samples.
func FromInterleaved(data []int, sampleRate, channels, bitDepth int) *Stream {
	frames := len(data) / channels
	s := &Stream{
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   bitDepth,
		Frames:     frames,
		Primary:    make([]fixed.Q, frames),
	}

	if channels == 1 {
		for i := 0; i < frames; i++ {
			s.Primary[i] = fixed.FromPCM(data[i], bitDepth)
		}
		s.Secondary = s.Primary
		return s
	}

	s.Secondary = make([]fixed.Q, frames)
	for i := 0; i < frames; i++ {
		s.Primary[i] = fixed.FromPCM(data[i*channels], bitDepth)
		s.Secondary[i] = fixed.FromPCM(data[i*channels+1], bitDepth)
	}
	return s
}

// FromPCM16 builds a Stream from interleaved 16-bit samples.
func FromPCM16(samples []int16, sampleRate, channels int) *Stream {
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}
	return FromInterleaved(data, sampleRate, channels, 16)
}

func (s *Stream) DurationMs() int64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return int64(s.Frames) * 1000 / int64(s.SampleRate)
}

// Float64Mono returns the channel average in [-1, 1) for spectral helpers.
func (s *Stream) Float64Mono() []float64 {
	out := make([]float64, s.Frames)
	for i := range out {
		out[i] = (s.Primary[i].Float() + s.Secondary[i].Float()) / 2
	}
	return out
}

// IntBuffer exposes the stream as a go-audio buffer of 16-bit samples.
func (s *Stream) IntBuffer() *goaudio.IntBuffer {
	data := make([]int, 0, s.Frames*s.Channels)
	for i := 0; i < s.Frames; i++ {
		data = append(data, int(s.Primary[i].PCM16()))
		if s.Channels == 2 {
			data = append(data, int(s.Secondary[i].PCM16()))
		}
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: s.Channels, SampleRate: s.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
}
