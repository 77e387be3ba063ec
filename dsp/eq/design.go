package eq

import (
	"errors"
	"fmt"
	"math"
)

// Coefficients holds the transfer function coefficients for a single
// second-order section. a0 is normalized to 1 and not stored.
//
// The sign convention follows Direct Form II Transposed:
//
//	y  = B0*x + d0
//	d0 = B1*x - A1*y + d1
//	d1 = B2*x - A2*y
type Coefficients struct {
	B0, B1, B2 float64 // feedforward (numerator)
	A1, A2     float64 // feedback (denominator)
}

// BandType selects the filter shape of one equalizer band.
type BandType int

const (
	// BandPeak is a peaking EQ band (boost/cut around the center frequency).
	BandPeak BandType = iota
	// BandLowShelf boosts or cuts everything below the corner frequency.
	BandLowShelf
	// BandHighShelf boosts or cuts everything above the corner frequency.
	BandHighShelf
)

// String returns a human-readable band type name.
func (b BandType) String() string {
	switch b {
	case BandPeak:
		return "peak"
	case BandLowShelf:
		return "low_shelf"
	case BandHighShelf:
		return "high_shelf"
	default:
		return fmt.Sprintf("band_type(%d)", int(b))
	}
}

// BandParams describes one equalizer band in musical terms. Coefficients are
// (re)derived from these whenever the band is configured.
type BandParams struct {
	Type   BandType
	Freq   float64 // center/corner frequency in Hz
	GainDB float64 // boost/cut in dB
	Q      float64 // quality factor; 0 selects the default of 0.7071
}

var (
	// ErrUnstableCoefficients indicates a coefficient set whose poles are
	// not strictly inside the unit circle.
	ErrUnstableCoefficients = errors.New("coefficients are not stable")

	// ErrInvalidBandParams indicates band parameters outside the designable
	// range (non-finite values, frequency outside (0, Nyquist), Q <= 0).
	ErrInvalidBandParams = errors.New("invalid band parameters")
)

const defaultQ = math.Sqrt2 / 2

// Unity returns the identity coefficient set (output equals input).
func Unity() Coefficients {
	return Coefficients{B0: 1}
}

// Design derives normalized biquad coefficients for the given band
// parameters at the given sample rate using the RBJ audio EQ cookbook
// formulas. The result is validated for stability before being returned.
func Design(params BandParams, sampleRate float64) (Coefficients, error) {
	if err := validateParams(params, sampleRate); err != nil {
		return Coefficients{}, err
	}

	q := params.Q
	if q == 0 {
		q = defaultQ
	}

	w0 := 2 * math.Pi * params.Freq / sampleRate
	cw := math.Cos(w0)
	sw := math.Sin(w0)
	alpha := sw / (2 * q)
	a := math.Pow(10, params.GainDB/40)

	var b0, b1, b2, a0, a1, a2 float64
	switch params.Type {
	case BandPeak:
		b0 = 1 + alpha*a
		b1 = -2 * cw
		b2 = 1 - alpha*a
		a0 = 1 + alpha/a
		a1 = -2 * cw
		a2 = 1 - alpha/a
	case BandLowShelf:
		beta := 2 * math.Sqrt(a) * alpha
		b0 = a * ((a + 1) - (a-1)*cw + beta)
		b1 = 2 * a * ((a - 1) - (a+1)*cw)
		b2 = a * ((a + 1) - (a-1)*cw - beta)
		a0 = (a + 1) + (a-1)*cw + beta
		a1 = -2 * ((a - 1) + (a+1)*cw)
		a2 = (a + 1) + (a-1)*cw - beta
	case BandHighShelf:
		beta := 2 * math.Sqrt(a) * alpha
		b0 = a * ((a + 1) + (a-1)*cw + beta)
		b1 = -2 * a * ((a - 1) + (a+1)*cw)
		b2 = a * ((a + 1) + (a-1)*cw - beta)
		a0 = (a + 1) - (a-1)*cw + beta
		a1 = 2 * ((a - 1) - (a+1)*cw)
		a2 = (a + 1) - (a-1)*cw - beta
	default:
		return Coefficients{}, fmt.Errorf("%w: unknown band type %d", ErrInvalidBandParams, int(params.Type))
	}

	coeffs := Coefficients{
		B0: b0 / a0,
		B1: b1 / a0,
		B2: b2 / a0,
		A1: a1 / a0,
		A2: a2 / a0,
	}

	if err := ValidateStable(coeffs); err != nil {
		return Coefficients{}, err
	}
	return coeffs, nil
}

// ValidateStable checks that all coefficients are finite and that both poles
// of z^2 + A1*z + A2 lie strictly inside the unit circle, using the
// stability triangle |A2| < 1 and |A1| < 1 + A2.
func ValidateStable(c Coefficients) error {
	for _, v := range []float64{c.B0, c.B1, c.B2, c.A1, c.A2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coefficient", ErrUnstableCoefficients)
		}
	}
	if math.Abs(c.A2) >= 1 {
		return fmt.Errorf("%w: |a2| = %g >= 1", ErrUnstableCoefficients, math.Abs(c.A2))
	}
	if math.Abs(c.A1) >= 1+c.A2 {
		return fmt.Errorf("%w: |a1| = %g >= 1 + a2 = %g", ErrUnstableCoefficients, math.Abs(c.A1), 1+c.A2)
	}
	return nil
}

func validateParams(params BandParams, sampleRate float64) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %g", ErrInvalidBandParams, sampleRate)
	}
	if math.IsNaN(params.Freq) || params.Freq <= 0 || params.Freq >= sampleRate/2 {
		return fmt.Errorf("%w: frequency %g outside (0, %g)", ErrInvalidBandParams, params.Freq, sampleRate/2)
	}
	if math.IsNaN(params.GainDB) || math.IsInf(params.GainDB, 0) {
		return fmt.Errorf("%w: non-finite gain", ErrInvalidBandParams)
	}
	if math.IsNaN(params.Q) || params.Q < 0 {
		return fmt.Errorf("%w: Q %g", ErrInvalidBandParams, params.Q)
	}
	return nil
}
