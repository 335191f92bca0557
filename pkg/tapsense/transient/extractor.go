// Package transient extracts block-local transient evidence from a pair of
// microphone channels: the channels are fused, a single-level Haar detail is
// taken, and in-band local maxima of the detail coefficients are counted.
package transient

import (
	"fmt"
	"strings"

	"github.com/himanishpuri/TapSense/pkg/tapsense/fixed"
)

// Fusion selects how the two channels are combined into one signal.
type Fusion int

const (
	FusionAverage Fusion = iota
	FusionPrimary
	FusionSecondary
)

func (f Fusion) String() string {
	switch f {
	case FusionAverage:
		return "average"
	case FusionPrimary:
		return "primary"
	case FusionSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

func ParseFusion(s string) (Fusion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "average", "avg":
		return FusionAverage, nil
	case "primary":
		return FusionPrimary, nil
	case "secondary":
		return FusionSecondary, nil
	}
	return FusionAverage, fmt.Errorf("unknown fusion mode %q", s)
}

func (f Fusion) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Fusion) UnmarshalText(b []byte) error {
	v, err := ParseFusion(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Band is the inclusive amplitude window a detail coefficient must fall into
// to count as a peak.
type Band struct {
	Min fixed.Q
	Max fixed.Q
}

// NewBand builds a Band from fractions of the 32-bit full scale.
func NewBand(minFrac, maxFrac float64) Band {
	return Band{Min: fixed.FromFullScale(minFrac), Max: fixed.FromFullScale(maxFrac)}
}

func (b Band) Contains(v fixed.Q) bool {
	return v >= b.Min && v <= b.Max
}

// Fuse combines the first n samples of primary and secondary into fused.
// The sums are formed in 64 bits and shifted, never saturated, so fusing a
// channel with itself under FusionAverage is the identity.
func Fuse(primary, secondary, fused []fixed.Q, n int, w Fusion) {
	switch w {
	case FusionPrimary:
		for i := 0; i < n; i++ {
			fused[i] = fixed.Q((3*int64(primary[i]) + int64(secondary[i])) >> 2)
		}
	case FusionSecondary:
		for i := 0; i < n; i++ {
			fused[i] = fixed.Q((int64(primary[i]) + 3*int64(secondary[i])) >> 2)
		}
	default:
		for i := 0; i < n; i++ {
			fused[i] = fixed.Q((int64(primary[i]) + int64(secondary[i])) >> 1)
		}
	}
}

// HaarDetail writes the unnormalised level-1 Haar detail of fused[:n] into
// detail and returns the coefficient count, n/2. A trailing odd sample is
// ignored.
func HaarDetail(fused, detail []fixed.Q, n int) int {
	half := n / 2
	for k := 0; k < half; k++ {
		detail[k] = fixed.Sub(fused[2*k+1], fused[2*k])
	}
	return half
}

// CountPeaks counts the coefficients that lie inside band and are strictly
// greater than every neighbour that exists. A lone coefficient has no
// neighbours and counts when it is in band.
func CountPeaks(detail []fixed.Q, band Band) int {
	count := 0
	last := len(detail) - 1
	for i, v := range detail {
		if !band.Contains(v) {
			continue
		}
		if i > 0 && v <= detail[i-1] {
			continue
		}
		if i < last && v <= detail[i+1] {
			continue
		}
		count++
	}
	return count
}

// Extractor runs the fuse/detail/count pipeline over preallocated buffers.
// It is sized once for the largest block it will see and never allocates
// afterwards.
type Extractor struct {
	band    Band
	fusion  Fusion
	fused   []fixed.Q
	detail  []fixed.Q
	lastLen int
}

func NewExtractor(maxFrameSize int, band Band, fusion Fusion) *Extractor {
	return &Extractor{
		band:   band,
		fusion: fusion,
		fused:  make([]fixed.Q, maxFrameSize),
		detail: make([]fixed.Q, maxFrameSize/2),
	}
}

// PeakCount returns the number of in-band detail peaks in the first n
// samples of the two channels. The caller guarantees 2 <= n <= the frame
// size the extractor was built for.
func (e *Extractor) PeakCount(primary, secondary []fixed.Q, n int) int {
	Fuse(primary, secondary, e.fused, n, e.fusion)
	e.lastLen = HaarDetail(e.fused, e.detail, n)
	return CountPeaks(e.detail[:e.lastLen], e.band)
}

// Detail returns the coefficients computed by the last PeakCount call. The
// slice aliases internal storage and is overwritten by the next call.
func (e *Extractor) Detail() []fixed.Q {
	return e.detail[:e.lastLen]
}

func (e *Extractor) Band() Band { return e.band }

func (e *Extractor) Fusion() Fusion { return e.fusion }

func (e *Extractor) MaxFrameSize() int { return len(e.fused) }
