// Package sequence classifies a stream of per-block transient flags into
// single and double taps.
package sequence

import (
	"fmt"
	"strings"
)

// Result is the classification emitted for one block.
type Result int

const (
	None Result = iota
	Single
	Double
)

func (r Result) String() string {
	switch r {
	case None:
		return "none"
	case Single:
		return "single"
	case Double:
		return "double"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

func ParseResult(s string) (Result, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return None, nil
	case "single":
		return Single, nil
	case "double":
		return Double, nil
	}
	return None, fmt.Errorf("unknown tap result %q", s)
}

func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Result) UnmarshalText(b []byte) error {
	v, err := ParseResult(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

type Phase int

const (
	Idle Phase = iota
	WaitingForSecond
)

func (p Phase) String() string {
	if p == WaitingForSecond {
		return "waiting"
	}
	return "idle"
}

// State is the sequencer's full memory. FirstTapBlock is meaningful only
// while Phase is WaitingForSecond.
type State struct {
	Phase         Phase
	FirstTapBlock uint32
}

// Sequencer holds at most one unpaired tap. A second transient within
// Window blocks of the first makes a double tap; once the window lapses the
// pending tap is reported as a single.
type Sequencer struct {
	window uint32
	state  State
}

func New(window uint32) *Sequencer {
	return &Sequencer{window: window}
}

// Step advances the machine by one block. now is the current block counter
// value; elapsed time uses wrapping subtraction so the counter may overflow.
func (s *Sequencer) Step(transient bool, now uint32) Result {
	if s.state.Phase == Idle {
		if transient {
			s.state = State{Phase: WaitingForSecond, FirstTapBlock: now}
		}
		return None
	}

	elapsed := now - s.state.FirstTapBlock
	switch {
	case transient && elapsed <= s.window:
		s.state = State{}
		return Double
	case transient:
		s.state.FirstTapBlock = now
		return Single
	case elapsed > s.window:
		s.state = State{}
		return Single
	default:
		return None
	}
}

func (s *Sequencer) Window() uint32 { return s.window }

func (s *Sequencer) State() State { return s.state }

func (s *Sequencer) Restore(st State) {
	if st.Phase != WaitingForSecond {
		st = State{}
	}
	s.state = st
}

func (s *Sequencer) Reset() { s.state = State{} }
