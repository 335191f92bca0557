// Package stream runs a detector over live PCM pushed through a websocket.
package stream

import (
	"encoding/binary"
	"fmt"

	"github.com/himanishpuri/TapSense/pkg/tapsense"
	"github.com/himanishpuri/TapSense/pkg/tapsense/fixed"
)

const bytesPerSample = 2

// Message types sent to the client.
const (
	TypeHello     = "hello"
	TypeTap       = "tap"
	TypeTransient = "transient"
	TypeError     = "error"
	TypeSummary   = "summary"
)

type Message struct {
	Type       string                   `json:"type"`
	Result     tapsense.Result          `json:"result,omitempty"`
	Block      uint32                   `json:"block,omitempty"`
	FirstBlock uint32                   `json:"first_block,omitempty"`
	TimeMs     int64                    `json:"time_ms,omitempty"`
	Blocks     uint32                   `json:"blocks,omitempty"`
	Taps       int                      `json:"taps,omitempty"`
	Error      string                   `json:"error,omitempty"`
	Config     *tapsense.DetectorConfig `json:"config,omitempty"`
}

type Options struct {
	Detector   tapsense.DetectorConfig
	SampleRate int
	Channels   int
	Presence   bool
}

// Session reassembles interleaved little-endian 16-bit PCM into blocks of
// the detector's frame size. Messages may split frames anywhere.
type Session struct {
	det       *tapsense.Detector
	opts      Options
	frame     int
	primary   []fixed.Q
	secondary []fixed.Q
	fill      int
	carry     []byte
	taps      int
}

func NewSession(opts Options) (*Session, error) {
	if opts.Channels != 1 && opts.Channels != 2 {
		return nil, fmt.Errorf("channels must be 1 or 2, got %d", opts.Channels)
	}
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", opts.SampleRate)
	}
	det, err := tapsense.NewDetector(opts.Detector)
	if err != nil {
		return nil, err
	}
	frame := opts.Detector.MaxFrameSize
	return &Session{
		det:       det,
		opts:      opts,
		frame:     frame,
		primary:   make([]fixed.Q, frame),
		secondary: make([]fixed.Q, frame),
		carry:     make([]byte, 0, bytesPerSample*opts.Channels),
	}, nil
}

// Feed consumes raw PCM bytes and calls emit for every tap (or transient in
// presence mode) that completes a block.
func (s *Session) Feed(pcm []byte, emit func(Message)) error {
	stride := bytesPerSample * s.opts.Channels

	if len(s.carry) > 0 {
		need := stride - len(s.carry)
		if len(pcm) < need {
			s.carry = append(s.carry, pcm...)
			return nil
		}
		s.carry = append(s.carry, pcm[:need]...)
		if err := s.pushFrame(s.carry, emit); err != nil {
			return err
		}
		s.carry = s.carry[:0]
		pcm = pcm[need:]
	}

	for len(pcm) >= stride {
		if err := s.pushFrame(pcm[:stride], emit); err != nil {
			return err
		}
		pcm = pcm[stride:]
	}
	s.carry = append(s.carry, pcm...)
	return nil
}

func (s *Session) pushFrame(b []byte, emit func(Message)) error {
	p := fixed.FromPCM16(int16(binary.LittleEndian.Uint16(b)))
	sec := p
	if s.opts.Channels == 2 {
		sec = fixed.FromPCM16(int16(binary.LittleEndian.Uint16(b[bytesPerSample:])))
	}
	s.primary[s.fill] = p
	s.secondary[s.fill] = sec
	s.fill++

	if s.fill == s.frame {
		s.fill = 0
		return s.process(s.frame, emit)
	}
	return nil
}

func (s *Session) process(n int, emit func(Message)) error {
	if err := s.det.CheckBlock(s.primary, s.secondary, n); err != nil {
		return err
	}

	if s.opts.Presence {
		if s.det.DetectTransient(s.primary, s.secondary, n) {
			block := s.det.State().Blocks
			emit(Message{Type: TypeTransient, Block: block, TimeMs: s.timeMs(block)})
		}
		return nil
	}

	out := s.det.Step(s.primary, s.secondary, n)
	if out.Result != tapsense.None {
		s.taps++
		emit(Message{
			Type:       TypeTap,
			Result:     out.Result,
			Block:      out.Block,
			FirstBlock: out.GestureStart,
			TimeMs:     s.timeMs(out.GestureStart),
		})
	}
	return nil
}

// Flush runs a trailing partial block of at least two samples through the
// detector and discards anything shorter.
func (s *Session) Flush(emit func(Message)) error {
	n := s.fill
	s.fill = 0
	s.carry = s.carry[:0]
	if n < 2 {
		return nil
	}
	return s.process(n, emit)
}

func (s *Session) Reset() {
	s.det.Reset()
	s.fill = 0
	s.carry = s.carry[:0]
	s.taps = 0
}

func (s *Session) Summary() Message {
	return Message{Type: TypeSummary, Blocks: s.det.State().Blocks, Taps: s.taps}
}

func (s *Session) timeMs(block uint32) int64 {
	return tapsense.BlockStartMs(block, s.opts.SampleRate, s.frame)
}
