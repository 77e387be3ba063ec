package eq

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/limits"
)

// DefaultCrossfadeLength is the number of samples over which a coefficient
// update is blended from the old cascade to the new one. One codec analysis
// window keeps the blend inaudible without delaying the update noticeably.
const DefaultCrossfadeLength = 64

// section is a single biquad with coefficients and Direct Form II Transposed
// state. Owned exclusively by one Equalizer.
type section struct {
	Coefficients

	d0, d1 float64
}

func (s *section) processSample(x float64) float64 {
	y := s.B0*x + s.d0
	s.d0 = s.B1*x - s.A1*y + s.d1
	s.d1 = s.B2*x - s.A2*y
	return y
}

func (s *section) reset() {
	s.d0, s.d1 = 0, 0
}

// fade tracks an in-progress coefficient crossfade. The old cascade keeps
// running from its own state until the blend completes.
type fade struct {
	old    []section
	pos    int
	length int
}

// Equalizer is an ordered cascade of biquad sections for one logical channel.
// It is exclusively owned by that channel's processing path and must not be
// shared across goroutines.
type Equalizer struct {
	sampleRate float64
	params     []BandParams
	sections   []section
	fading     *fade
	fadeLength int
	saturated  uint64
}

// Option configures an Equalizer.
type Option func(*Equalizer)

// WithCrossfadeLength overrides the coefficient crossfade length in samples.
func WithCrossfadeLength(samples int) Option {
	return func(e *Equalizer) {
		if samples > 0 {
			e.fadeLength = samples
		}
	}
}

// NewEqualizer creates an equalizer cascade from the given band parameters.
// Bands are applied in slice order. All coefficients are derived and
// stability-checked up front; any invalid band rejects the whole cascade.
func NewEqualizer(sampleRate float64, bands []BandParams, opts ...Option) (*Equalizer, error) {
	if err := limits.ValidateBandCount(len(bands)); err != nil {
		return nil, err
	}

	e := &Equalizer{
		sampleRate: sampleRate,
		params:     make([]BandParams, len(bands)),
		sections:   make([]section, len(bands)),
		fadeLength: DefaultCrossfadeLength,
	}
	for _, o := range opts {
		o(e)
	}

	for i, band := range bands {
		coeffs, err := Design(band, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("band %d: %w", i, err)
		}
		e.params[i] = band
		e.sections[i].Coefficients = coeffs
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewEqualizer",
		"sample_rate": sampleRate,
		"bands":       len(bands),
		"fade_length": e.fadeLength,
	}).Info("Equalizer created")

	return e, nil
}

// SetBand re-derives one band's coefficients from new frequency/gain/Q and
// applies them via a linear crossfade. On rejection (unknown band, unstable
// or non-finite target) the existing coefficients are retained.
func (e *Equalizer) SetBand(band int, params BandParams) error {
	if band < 0 || band >= len(e.sections) {
		logrus.WithFields(logrus.Fields{
			"function": "SetBand",
			"band":     band,
			"bands":    len(e.sections),
		}).Error("Band index out of range")
		return fmt.Errorf("%w: band %d not in [0, %d)", ErrInvalidBandParams, band, len(e.sections))
	}

	coeffs, err := Design(params, e.sampleRate)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SetBand",
			"band":     band,
			"freq":     params.Freq,
			"gain_db":  params.GainDB,
			"q":        params.Q,
			"error":    err.Error(),
		}).Error("Band update rejected, previous coefficients retained")
		return err
	}

	// A fade already in flight is finalized first; its new cascade becomes
	// the old path of the next fade.
	e.fading = nil

	old := make([]section, len(e.sections))
	copy(old, e.sections)

	e.sections[band].Coefficients = coeffs
	e.params[band] = params
	e.fading = &fade{old: old, length: e.fadeLength}

	logrus.WithFields(logrus.Fields{
		"function":    "SetBand",
		"band":        band,
		"type":        params.Type.String(),
		"freq":        params.Freq,
		"gain_db":     params.GainDB,
		"q":           params.Q,
		"fade_length": e.fadeLength,
	}).Info("Band coefficients updated with crossfade")

	return nil
}

// ProcessSample runs one sample through the cascade in strict band order and
// saturates the result to the int16 range. During a crossfade the old and new
// cascades both run and their outputs are blended linearly.
func (e *Equalizer) ProcessSample(x int16) int16 {
	y := e.processFloat(float64(x))

	out, clipped := saturate(y)
	if clipped {
		e.saturated++
	}
	return out
}

// ProcessBlock filters a block of samples in place.
func (e *Equalizer) ProcessBlock(buf []int16) {
	for i, x := range buf {
		buf[i] = e.ProcessSample(x)
	}
}

func (e *Equalizer) processFloat(x float64) float64 {
	yNew := x
	for i := range e.sections {
		yNew = e.sections[i].processSample(yNew)
	}

	f := e.fading
	if f == nil {
		return yNew
	}

	yOld := x
	for i := range f.old {
		yOld = f.old[i].processSample(yOld)
	}

	f.pos++
	t := float64(f.pos) / float64(f.length)
	if f.pos >= f.length {
		e.fading = nil
	}
	return (1-t)*yOld + t*yNew
}

// SaturationCount returns the number of samples clipped to the int16 range
// since the equalizer was created or last reset.
func (e *Equalizer) SaturationCount() uint64 {
	return e.saturated
}

// NumBands returns the number of bands in the cascade.
func (e *Equalizer) NumBands() int {
	return len(e.sections)
}

// Band returns the parameters currently applied to the given band.
func (e *Equalizer) Band(band int) (BandParams, error) {
	if band < 0 || band >= len(e.params) {
		return BandParams{}, fmt.Errorf("%w: band %d not in [0, %d)", ErrInvalidBandParams, band, len(e.params))
	}
	return e.params[band], nil
}

// Reset clears all section state, any in-progress crossfade, and the
// saturation counter. Coefficients are retained.
func (e *Equalizer) Reset() {
	for i := range e.sections {
		e.sections[i].reset()
	}
	e.fading = nil
	e.saturated = 0

	logrus.WithFields(logrus.Fields{
		"function": "Reset",
		"bands":    len(e.sections),
	}).Debug("Equalizer state reset")
}

// saturate clamps a float64 sample to the int16 range. Out-of-range values
// clip, never wrap.
func saturate(v float64) (int16, bool) {
	if v > math.MaxInt16 {
		return math.MaxInt16, true
	}
	if v < math.MinInt16 {
		return math.MinInt16, true
	}
	return int16(v), false
}
