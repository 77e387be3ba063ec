package osc

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

const (
	tableBits = 11
	tableSize = 1 << tableBits
	tableMask = tableSize - 1
	fracBits  = 32 - tableBits
	fracScale = 1 << fracBits
)

// sineTable is shared read-only by all oscillator instances. Populated once
// at package init and never mutated afterwards.
var sineTable [tableSize]float64

func init() {
	for i := range sineTable {
		sineTable[i] = math.Sin(2 * math.Pi * float64(i) / tableSize)
	}
}

// InterpMode selects how table reads interpolate between entries.
type InterpMode int

const (
	// InterpNone reads the nearest table entry.
	InterpNone InterpMode = iota
	// InterpLinear blends the two adjacent entries.
	InterpLinear
	// InterpCubic runs a 4-point Hermite fit around the read position.
	InterpCubic
)

// String returns a human-readable interpolation mode name.
func (m InterpMode) String() string {
	switch m {
	case InterpNone:
		return "none"
	case InterpLinear:
		return "linear"
	case InterpCubic:
		return "cubic"
	default:
		return fmt.Sprintf("interp_mode(%d)", int(m))
	}
}

var (
	// ErrInvalidFrequency indicates a non-finite or non-positive frequency.
	ErrInvalidFrequency = errors.New("invalid oscillator frequency")

	// ErrAboveNyquist indicates a frequency above half the sample rate.
	ErrAboveNyquist = errors.New("frequency above Nyquist")

	// ErrInvalidInterpMode indicates an unrecognized interpolation mode.
	ErrInvalidInterpMode = errors.New("invalid interpolation mode")
)

// Oscillator is a lookup-table sine generator. The phase accumulator is the
// only mutable state and is owned by a single caller; the table is shared.
type Oscillator struct {
	phase      uint32 // fixed-point: tableBits index bits, fracBits fraction
	step       uint32
	mode       InterpMode
	sampleRate uint32
}

// New creates an oscillator at the given frequency. The frequency is
// validated against Nyquist for the operating sample rate.
func New(sampleRate uint32, freq float64, mode InterpMode) (*Oscillator, error) {
	if sampleRate == 0 {
		return nil, fmt.Errorf("%w: sample rate 0", ErrInvalidFrequency)
	}
	if mode < InterpNone || mode > InterpCubic {
		return nil, fmt.Errorf("%w: %d", ErrInvalidInterpMode, int(mode))
	}

	o := &Oscillator{mode: mode, sampleRate: sampleRate}
	if err := o.SetFrequency(freq); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"sample_rate": sampleRate,
		"frequency":   freq,
		"interp_mode": mode.String(),
	}).Debug("Oscillator created")

	return o, nil
}

// SetFrequency reconfigures the phase step. Frequencies above Nyquist are
// rejected and the previous step is retained.
func (o *Oscillator) SetFrequency(freq float64) error {
	if math.IsNaN(freq) || math.IsInf(freq, 0) || freq <= 0 {
		return fmt.Errorf("%w: %g", ErrInvalidFrequency, freq)
	}
	if freq > float64(o.sampleRate)/2 {
		logrus.WithFields(logrus.Fields{
			"function":    "SetFrequency",
			"frequency":   freq,
			"sample_rate": o.sampleRate,
			"nyquist":     float64(o.sampleRate) / 2,
		}).Error("Oscillator frequency rejected")
		return fmt.Errorf("%w: %g > %g", ErrAboveNyquist, freq, float64(o.sampleRate)/2)
	}

	o.step = uint32(math.Round(freq / float64(o.sampleRate) * (1 << 32)))
	return nil
}

// SetStep sets the raw fixed-point phase step directly. Steps that exceed
// half the phase range (Nyquist) are rejected.
func (o *Oscillator) SetStep(step uint32) error {
	if step == 0 || step > 1<<31 {
		return fmt.Errorf("%w: step %d", ErrAboveNyquist, step)
	}
	o.step = step
	return nil
}

// SetInterpMode changes the table read interpolation.
func (o *Oscillator) SetInterpMode(mode InterpMode) error {
	if mode < InterpNone || mode > InterpCubic {
		return fmt.Errorf("%w: %d", ErrInvalidInterpMode, int(mode))
	}
	o.mode = mode
	return nil
}

// Frequency returns the configured frequency in Hz.
func (o *Oscillator) Frequency() float64 {
	return float64(o.step) / (1 << 32) * float64(o.sampleRate)
}

// ResetPhase rewinds the phase accumulator to zero.
func (o *Oscillator) ResetPhase() {
	o.phase = 0
}

// Next advances the phase by one step and returns the table value at the new
// read position, in [-1, 1]. The phase wraps modulo the table length.
func (o *Oscillator) Next() float64 {
	o.phase += o.step // wraps modulo the table length via uint32 arithmetic
	idx := o.phase >> fracBits
	frac := float64(o.phase&(fracScale-1)) / fracScale

	switch o.mode {
	case InterpLinear:
		y0 := sineTable[idx]
		y1 := sineTable[(idx+1)&tableMask]
		return y0 + frac*(y1-y0)
	case InterpCubic:
		ym1 := sineTable[(idx+tableSize-1)&tableMask]
		y0 := sineTable[idx]
		y1 := sineTable[(idx+1)&tableMask]
		y2 := sineTable[(idx+2)&tableMask]
		return hermite4(frac, ym1, y0, y1, y2)
	default:
		return sineTable[idx]
	}
}

// NextPCM returns the next sample scaled to the given peak amplitude and
// saturated to the int16 range.
func (o *Oscillator) NextPCM(amplitude float64) int16 {
	v := math.Round(o.Next() * amplitude)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// hermite4 computes cubic 4-point interpolation from y0 to y1 using the
// neighbor points ym1 and y2.
func hermite4(t, ym1, y0, y1, y2 float64) float64 {
	c0 := y0
	c1 := 0.5 * (y1 - ym1)
	c2 := ym1 - 2.5*y0 + 2*y1 - 0.5*y2
	c3 := 0.5*(y2-ym1) + 1.5*(y0-y1)
	return ((c3*t+c2)*t+c1)*t + c0
}
