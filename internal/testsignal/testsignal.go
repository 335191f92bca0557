// Package testsignal builds deterministic sample blocks for detector tests.
package testsignal

import "github.com/himanishpuri/TapSense/pkg/tapsense/fixed"

// Amplitudes chosen against the reference threshold band
// [16106127, 32212254] after the 16-bit to Q2.29 shift.
const (
	TapAmplitude   int16 = 1465 // 24002560, inside the band
	LoudAmplitude  int16 = 3000 // 49152000, above the band
	QuietAmplitude int16 = 500  // 8192000, below the band
)

func Silence(n int) []fixed.Q {
	return make([]fixed.Q, n)
}

// Impulse returns a silent block with a single sample of amplitude amp at
// index. An impulse at an odd index produces one positive Haar detail
// coefficient equal to its value.
func Impulse(n, index int, amp int16) []fixed.Q {
	b := make([]fixed.Q, n)
	b[index] = fixed.FromPCM16(amp)
	return b
}

// Tap returns a block that yields exactly one in-band peak.
func Tap(n int) []fixed.Q {
	return Impulse(n, 1, TapAmplitude)
}

// Script expands a list of tap block indices (1-based, matching the
// detector's block counter) into count blocks of size n.
func Script(count, n int, taps ...int) [][]fixed.Q {
	isTap := make(map[int]bool, len(taps))
	for _, b := range taps {
		isTap[b] = true
	}
	blocks := make([][]fixed.Q, count)
	for i := range blocks {
		if isTap[i+1] {
			blocks[i] = Tap(n)
		} else {
			blocks[i] = Silence(n)
		}
	}
	return blocks
}

// PCM16 returns count*n interleaved 16-bit samples for the given channel
// count with taps at the listed 1-based block indices.
func PCM16(count, n, channels int, taps ...int) []int16 {
	out := make([]int16, count*n*channels)
	for _, b := range taps {
		if b < 1 || b > count {
			continue
		}
		frame := (b-1)*n + 1
		for c := 0; c < channels; c++ {
			out[frame*channels+c] = TapAmplitude
		}
	}
	return out
}
