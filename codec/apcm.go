package codec

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// ErrInvalidWindow indicates an encode input whose length does not match the
// profile's analysis window.
var ErrInvalidWindow = errors.New("invalid analysis window")

// Codec is an APCM sub-band encoder/decoder pair for one session profile.
// The filter-bank tables are shared read-only and the silent-frame cache is
// frozen at construction; the only mutable per-instance state is the clip
// counter, so a Codec may be owned by exactly one channel path.
type Codec struct {
	profile  Profile
	analysis [][]float64 // orthonormal DCT-IV rows; synthesis is the transpose
	silent   []byte      // canonical silent frame, frozen in New
	clipped  uint64
}

// New creates a codec for the given profile.
func New(profile Profile) (*Codec, error) {
	if err := profile.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "New",
			"sub_bands": profile.SubBands,
			"blocks":    profile.Blocks,
			"bitpool":   profile.Bitpool,
			"error":     err.Error(),
		}).Error("Codec profile rejected")
		return nil, err
	}

	c := &Codec{
		profile:  profile,
		analysis: dctTables[profile.SubBands],
	}

	silent, err := c.EncodeBytes(make([]int16, profile.WindowSize()))
	if err != nil {
		return nil, fmt.Errorf("silent frame: %w", err)
	}
	c.silent = silent

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"sub_bands":   profile.SubBands,
		"blocks":      profile.Blocks,
		"bitpool":     profile.Bitpool,
		"window_size": profile.WindowSize(),
		"frame_size":  profile.FrameSize(),
	}).Info("APCM codec created")

	return c, nil
}

// Profile returns the session profile.
func (c *Codec) Profile() Profile { return c.profile }

// WindowSize returns the PCM samples consumed per frame.
func (c *Codec) WindowSize() int { return c.profile.WindowSize() }

// FrameSize returns the fixed wire size of one frame in bytes.
func (c *Codec) FrameSize() int { return c.profile.FrameSize() }

// Encode runs one analysis window through the filter bank, derives scale
// factors, allocates bits and quantizes the residuals.
func (c *Codec) Encode(window []int16) (*Frame, error) {
	if len(window) != c.profile.WindowSize() {
		return nil, fmt.Errorf("%w: %d samples, want %d", ErrInvalidWindow, len(window), c.profile.WindowSize())
	}

	subBands := c.profile.SubBands
	blocks := c.profile.Blocks

	// Analysis filter bank: one sub-band sample per band per block.
	sub := make([][]float64, blocks)
	for b := 0; b < blocks; b++ {
		sub[b] = make([]float64, subBands)
		for k := 0; k < subBands; k++ {
			var acc float64
			row := c.analysis[k]
			for n := 0; n < subBands; n++ {
				acc += row[n] * float64(window[b*subBands+n])
			}
			sub[b][k] = acc
		}
	}

	// Scale factor: smallest sf with 2^(sf+1) above the band's peak.
	scaleFactors := make([]uint8, subBands)
	for k := 0; k < subBands; k++ {
		var peak float64
		for b := 0; b < blocks; b++ {
			if v := math.Abs(sub[b][k]); v > peak {
				peak = v
			}
		}
		sf := 0
		for float64(uint32(2)<<uint(sf)) <= peak && sf < MaxScaleFactor {
			sf++
		}
		scaleFactors[k] = uint8(sf)
	}

	bits := allocateBits(c.profile, scaleFactors)

	residuals := make([][]uint16, blocks)
	for b := 0; b < blocks; b++ {
		residuals[b] = make([]uint16, subBands)
		for k := 0; k < subBands; k++ {
			if bits[k] == 0 {
				continue
			}
			residuals[b][k] = c.quantize(sub[b][k], scaleFactors[k], bits[k])
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":      "Encode",
		"scale_factors": scaleFactors,
		"bits":          bits,
	}).Debug("Window encoded")

	return &Frame{
		SubBands:     subBands,
		Blocks:       blocks,
		Bitpool:      c.profile.Bitpool,
		ScaleFactors: scaleFactors,
		Residuals:    residuals,
	}, nil
}

// Decode dequantizes a frame with the transmitted scale factors and runs the
// synthesis filter bank. Structural violations yield ErrMalformedFrame.
func (c *Codec) Decode(frame *Frame) ([]int16, error) {
	if frame == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrMalformedFrame)
	}
	if err := frame.validate(c.profile); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Decode",
			"error":    err.Error(),
		}).Error("Frame rejected")
		return nil, err
	}

	subBands := c.profile.SubBands
	blocks := c.profile.Blocks
	bits := allocateBits(c.profile, frame.ScaleFactors)

	window := make([]int16, c.profile.WindowSize())
	values := make([]float64, subBands)
	for b := 0; b < blocks; b++ {
		for k := 0; k < subBands; k++ {
			if bits[k] == 0 {
				values[k] = 0
				continue
			}
			values[k] = dequantize(frame.Residuals[b][k], frame.ScaleFactors[k], bits[k])
		}
		// Synthesis: transpose of the orthonormal analysis rows.
		for n := 0; n < subBands; n++ {
			var acc float64
			for k := 0; k < subBands; k++ {
				acc += c.analysis[k][n] * values[k]
			}
			r := math.Round(acc)
			switch {
			case r > math.MaxInt16:
				window[b*subBands+n] = math.MaxInt16
				c.clipped++
			case r < math.MinInt16:
				window[b*subBands+n] = math.MinInt16
				c.clipped++
			default:
				window[b*subBands+n] = int16(r)
			}
		}
	}

	return window, nil
}

// EncodeBytes encodes one window straight to its wire form.
func (c *Codec) EncodeBytes(window []int16) ([]byte, error) {
	frame, err := c.Encode(window)
	if err != nil {
		return nil, err
	}
	return frame.Marshal(), nil
}

// DecodeBytes parses and decodes one wire frame.
func (c *Codec) DecodeBytes(data []byte) ([]int16, error) {
	frame, err := ParseFrame(c.profile, data)
	if err != nil {
		return nil, err
	}
	return c.Decode(frame)
}

// SilentFrame returns the canonical encoding of an all-zero window, used as
// the deterministic padding unit when a channel underproduces.
func (c *Codec) SilentFrame() []byte {
	out := make([]byte, len(c.silent))
	copy(out, c.silent)
	return out
}

// SaturationCount returns the number of synthesis samples clipped to the
// int16 range since the codec was created.
func (c *Codec) SaturationCount() uint64 {
	return c.clipped
}

// quantize maps a sub-band value to its level index. Values at the very edge
// of the scale-factor range clamp to the outermost level.
func (c *Codec) quantize(v float64, sf uint8, bits int) uint16 {
	delta := float64(uint32(2) << uint(sf)) // 2^(sf+1)
	levels := float64(uint32(1)<<uint(bits)) - 1

	q := int(math.Floor((v/delta + 1) * levels / 2))
	if q < 0 {
		q = 0
		c.clipped++
	}
	if q > int(levels)-1 {
		q = int(levels) - 1
		c.clipped++
	}
	return uint16(q)
}

// dequantize maps a level index back to the band value midpoint.
func dequantize(q uint16, sf uint8, bits int) float64 {
	delta := float64(uint32(2) << uint(sf))
	levels := float64(uint32(1)<<uint(bits)) - 1
	return (float64(2*q+1)/levels - 1) * delta
}
