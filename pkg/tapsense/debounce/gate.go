// Package debounce suppresses repeated detection of one physical event that
// spans several consecutive blocks.
package debounce

// Gate is a block-count cooldown. While remaining is non-zero the transient
// extractor is not run at all.
type Gate struct {
	cooldown  int
	remaining int
}

func NewGate(cooldown int) *Gate {
	if cooldown < 0 {
		cooldown = 0
	}
	return &Gate{cooldown: cooldown}
}

// Ready reports whether the current block may be examined. A block that
// arrives during cooldown consumes one unit of it and is rejected.
func (g *Gate) Ready() bool {
	if g.remaining == 0 {
		return true
	}
	g.remaining--
	return false
}

// Accept records the peak count of an examined block. A non-zero count is a
// distinct transient and re-arms the cooldown.
func (g *Gate) Accept(peaks int) bool {
	if peaks <= 0 {
		return false
	}
	g.remaining = g.cooldown
	return true
}

func (g *Gate) Cooldown() int { return g.cooldown }

func (g *Gate) Remaining() int { return g.remaining }

// SetRemaining injects a cooldown counter value, clamped to [0, cooldown].
func (g *Gate) SetRemaining(n int) {
	switch {
	case n < 0:
		n = 0
	case n > g.cooldown:
		n = g.cooldown
	}
	g.remaining = n
}

// Hold suppresses the next n blocks regardless of the cooldown length.
func (g *Gate) Hold(n int) {
	g.remaining = max(n, 0)
}

func (g *Gate) Reset() { g.remaining = 0 }
