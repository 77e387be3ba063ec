package codec

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MaxScaleFactor is the largest transmittable scale factor (4 bits).
	MaxScaleFactor = 15

	// maxBandBits is the deepest quantization of one sub-band value.
	maxBandBits = 16

	// scaleFactorBits is the wire width of one scale factor.
	scaleFactorBits = 4
)

// Profile fixes the codec geometry for a session. All frames of a session
// share one profile; it never changes mid-stream.
type Profile struct {
	SubBands int // 4 or 8 frequency sub-bands
	Blocks   int // analysis blocks per frame
	Bitpool  int // residual bits available per block, shared across bands
}

// Predefined bit-allocation profiles.
var (
	// ProfileVoice suits intercom speech: 4 sub-bands, compact frames.
	ProfileVoice = Profile{SubBands: 4, Blocks: 8, Bitpool: 16}

	// ProfileAudio suits program audio: 8 sub-bands, higher bitpool.
	ProfileAudio = Profile{SubBands: 8, Blocks: 8, Bitpool: 32}
)

// ErrInvalidProfile indicates a codec profile outside the supported geometry.
var ErrInvalidProfile = errors.New("invalid codec profile")

// Validate checks the profile geometry.
func (p Profile) Validate() error {
	if p.SubBands != 4 && p.SubBands != 8 {
		return fmt.Errorf("%w: sub-band count %d (must be 4 or 8)", ErrInvalidProfile, p.SubBands)
	}
	if p.Blocks < 1 || p.Blocks > 16 {
		return fmt.Errorf("%w: block count %d not in [1, 16]", ErrInvalidProfile, p.Blocks)
	}
	if p.Bitpool < 2 || p.Bitpool > maxBandBits*p.SubBands {
		return fmt.Errorf("%w: bitpool %d not in [2, %d]", ErrInvalidProfile, p.Bitpool, maxBandBits*p.SubBands)
	}
	return nil
}

// WindowSize returns the number of PCM samples in one analysis window.
func (p Profile) WindowSize() int {
	return p.SubBands * p.Blocks
}

// FrameSize returns the fixed wire size of one frame in bytes: the packed
// scale factors followed by the residual area sized for a full bitpool.
// Allocation may use fewer bits; the remainder is zero padding.
func (p Profile) FrameSize() int {
	sfBits := p.SubBands * scaleFactorBits
	return (sfBits+7)/8 + (p.Blocks*p.Bitpool+7)/8
}

// loudnessOffset biases the bit-allocation need per sub-band so the lowest
// band (which carries speech fundamentals) wins ties and the topmost band of
// the wide mode is slightly starved. Frozen constants; changing them breaks
// interoperability with every deployed peer.
var loudnessOffset = map[int][]int{
	4: {-1, 0, 0, 0},
	8: {-2, 0, 0, 0, 0, 0, 0, 1},
}

// dctTables holds the orthonormal DCT-IV analysis bases for the supported
// sub-band counts. Populated once at package init and shared read-only; the
// synthesis bank is the transpose.
var dctTables = map[int][][]float64{}

func init() {
	for _, subBands := range []int{4, 8} {
		table := make([][]float64, subBands)
		norm := math.Sqrt(2 / float64(subBands))
		for k := range table {
			table[k] = make([]float64, subBands)
			for n := 0; n < subBands; n++ {
				table[k][n] = norm * math.Cos(math.Pi/float64(subBands)*(float64(n)+0.5)*(float64(k)+0.5))
			}
		}
		dctTables[subBands] = table
	}
}

// allocateBits distributes the bitpool across sub-bands from the transmitted
// scale factors alone, so encoder and decoder derive identical allocations.
//
// The need of a band is its scale factor minus its loudness offset. Bits are
// granted one at a time to the neediest band (ties to the lower band index);
// a band's first grant costs two bits because one-bit quantization cannot
// represent zero. Bands with a zero scale factor carry no residual at all.
func allocateBits(profile Profile, scaleFactors []uint8) []int {
	offsets := loudnessOffset[profile.SubBands]
	bits := make([]int, profile.SubBands)
	need := make([]int, profile.SubBands)
	for k, sf := range scaleFactors {
		need[k] = int(sf) - offsets[k]
	}

	remaining := profile.Bitpool
	for remaining > 0 {
		best := -1
		bestPriority := math.MinInt
		for k := 0; k < profile.SubBands; k++ {
			if scaleFactors[k] == 0 || bits[k] >= maxBandBits {
				continue
			}
			cost := 1
			if bits[k] == 0 {
				cost = 2
			}
			if cost > remaining {
				continue
			}
			if priority := need[k] - bits[k]; priority > bestPriority {
				bestPriority = priority
				best = k
			}
		}
		if best < 0 {
			break
		}
		if bits[best] == 0 {
			bits[best] = 2
			remaining -= 2
		} else {
			bits[best]++
			remaining--
		}
	}
	return bits
}
