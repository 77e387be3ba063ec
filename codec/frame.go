package codec

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrMalformedFrame indicates decode input that violates the frame's
// structural invariants. The frame is dropped; no best-effort guess is made.
var ErrMalformedFrame = errors.New("malformed sub-band frame")

// Frame is one compressed unit exchanged on the wire: per-band scale factors
// plus quantized residuals for every block. The wire form is byte-aligned
// with no internal framing.
type Frame struct {
	SubBands     int
	Blocks       int
	Bitpool      int
	ScaleFactors []uint8    // one per sub-band, 4 bits each on the wire
	Residuals    [][]uint16 // [block][band], width per the allocation table
}

// Marshal serializes the frame to its fixed wire size: scale factors MSB
// first in band order, then residuals block-major at the allocated widths,
// zero-padded to the byte boundary.
func (f *Frame) Marshal() []byte {
	profile := Profile{SubBands: f.SubBands, Blocks: f.Blocks, Bitpool: f.Bitpool}
	bits := allocateBits(profile, f.ScaleFactors)

	w := newBitWriter(profile.FrameSize())
	for _, sf := range f.ScaleFactors {
		w.putBits(uint32(sf), scaleFactorBits)
	}
	for _, block := range f.Residuals {
		for band, q := range block {
			if bits[band] > 0 {
				w.putBits(uint32(q), bits[band])
			}
		}
	}
	return w.bytes()
}

// ParseFrame deserializes and validates one frame against the session
// profile. Any structural violation yields ErrMalformedFrame.
func ParseFrame(profile Profile, data []byte) (*Frame, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if len(data) != profile.FrameSize() {
		logrus.WithFields(logrus.Fields{
			"function":  "ParseFrame",
			"data_size": len(data),
			"want_size": profile.FrameSize(),
		}).Error("Frame size mismatch")
		return nil, fmt.Errorf("%w: size %d, want %d", ErrMalformedFrame, len(data), profile.FrameSize())
	}

	r := newBitReader(data)
	scaleFactors := make([]uint8, profile.SubBands)
	for k := range scaleFactors {
		v, err := r.getBits(scaleFactorBits)
		if err != nil {
			return nil, fmt.Errorf("%w: truncated scale factors", ErrMalformedFrame)
		}
		if v > MaxScaleFactor {
			return nil, fmt.Errorf("%w: scale factor %d out of range", ErrMalformedFrame, v)
		}
		scaleFactors[k] = uint8(v)
	}

	bits := allocateBits(profile, scaleFactors)
	residuals := make([][]uint16, profile.Blocks)
	for b := range residuals {
		residuals[b] = make([]uint16, profile.SubBands)
		for band := 0; band < profile.SubBands; band++ {
			if bits[band] == 0 {
				continue
			}
			v, err := r.getBits(bits[band])
			if err != nil {
				return nil, fmt.Errorf("%w: truncated residuals", ErrMalformedFrame)
			}
			levels := uint32(1<<bits[band]) - 1
			if v >= levels {
				return nil, fmt.Errorf("%w: residual %d exceeds %d levels", ErrMalformedFrame, v, levels)
			}
			residuals[b][band] = uint16(v)
		}
	}

	return &Frame{
		SubBands:     profile.SubBands,
		Blocks:       profile.Blocks,
		Bitpool:      profile.Bitpool,
		ScaleFactors: scaleFactors,
		Residuals:    residuals,
	}, nil
}

// validate checks a frame against the session profile before decoding.
func (f *Frame) validate(profile Profile) error {
	if f.SubBands != profile.SubBands {
		return fmt.Errorf("%w: sub-band count %d, want %d", ErrMalformedFrame, f.SubBands, profile.SubBands)
	}
	if f.Blocks != profile.Blocks || f.Bitpool != profile.Bitpool {
		return fmt.Errorf("%w: geometry %d/%d, want %d/%d", ErrMalformedFrame,
			f.Blocks, f.Bitpool, profile.Blocks, profile.Bitpool)
	}
	if len(f.ScaleFactors) != profile.SubBands {
		return fmt.Errorf("%w: %d scale factors, want %d", ErrMalformedFrame, len(f.ScaleFactors), profile.SubBands)
	}
	for k, sf := range f.ScaleFactors {
		if sf > MaxScaleFactor {
			return fmt.Errorf("%w: scale factor %d of band %d out of range", ErrMalformedFrame, sf, k)
		}
	}
	if len(f.Residuals) != profile.Blocks {
		return fmt.Errorf("%w: %d residual blocks, want %d", ErrMalformedFrame, len(f.Residuals), profile.Blocks)
	}
	for b, block := range f.Residuals {
		if len(block) != profile.SubBands {
			return fmt.Errorf("%w: block %d has %d bands, want %d", ErrMalformedFrame, b, len(block), profile.SubBands)
		}
	}
	return nil
}

// bitWriter packs values MSB-first into a fixed-size buffer.
type bitWriter struct {
	buf []byte
	pos int // bit position
}

func newBitWriter(size int) *bitWriter {
	return &bitWriter{buf: make([]byte, size)}
}

func (w *bitWriter) putBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		if v&(1<<uint(i)) != 0 {
			w.buf[w.pos>>3] |= 1 << uint(7-w.pos&7)
		}
		w.pos++
	}
}

func (w *bitWriter) bytes() []byte {
	return w.buf
}

// bitReader unpacks MSB-first values from a buffer.
type bitReader struct {
	buf []byte
	pos int // bit position
}

func newBitReader(buf []byte) *bitReader {
	return &bitReader{buf: buf}
}

func (r *bitReader) getBits(n int) (uint32, error) {
	if r.pos+n > len(r.buf)*8 {
		return 0, errors.New("bitstream exhausted")
	}
	var v uint32
	for i := 0; i < n; i++ {
		v <<= 1
		if r.buf[r.pos>>3]&(1<<uint(7-r.pos&7)) != 0 {
			v |= 1
		}
		r.pos++
	}
	return v, nil
}
