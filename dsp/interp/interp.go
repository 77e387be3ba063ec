package interp

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// historyRetain is the number of input samples kept in the sliding window.
// It comfortably exceeds the largest fit window (order 5 needs 6 samples)
// so that slightly stale positions remain evaluable after a block boundary.
const historyRetain = 256

var (
	// ErrUnsupportedOrder indicates an interpolation order outside {3, 4, 5}.
	ErrUnsupportedOrder = errors.New("unsupported interpolation order")

	// ErrPositionOutOfRange indicates a position outside the retained
	// input history.
	ErrPositionOutOfRange = errors.New("position outside retained history")

	// ErrNoHistory indicates interpolation was requested before any input.
	ErrNoHistory = errors.New("no input history")
)

// Interpolator evaluates a Lagrange polynomial fit over a sliding window of
// input samples. It is exclusively owned by one channel's processing path.
type Interpolator struct {
	order   int
	history []float64
	base    uint64 // absolute stream index of history[0]
	count   uint64 // absolute number of samples pushed
}

// New creates an interpolator of the given polynomial order (3, 4 or 5).
func New(order int) (*Interpolator, error) {
	if order < 3 || order > 5 {
		logrus.WithFields(logrus.Fields{
			"function": "New",
			"order":    order,
		}).Error("Interpolation order rejected")
		return nil, fmt.Errorf("%w: %d (must be 3, 4 or 5)", ErrUnsupportedOrder, order)
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"order":    order,
	}).Debug("Interpolator created")

	return &Interpolator{
		order:   order,
		history: make([]float64, 0, historyRetain),
	}, nil
}

// Order returns the configured polynomial order.
func (it *Interpolator) Order() int {
	return it.order
}

// Push appends one input sample to the sliding window.
func (it *Interpolator) Push(x float64) {
	if len(it.history) == historyRetain {
		copy(it.history, it.history[1:])
		it.history = it.history[:historyRetain-1]
		it.base++
	}
	it.history = append(it.history, x)
	it.count++
}

// Count returns the absolute number of samples pushed so far. Positions
// passed to Interpolate index this stream.
func (it *Interpolator) Count() uint64 {
	return it.count
}

// Interpolate evaluates the polynomial fit at a real-valued index into the
// input stream. The nearest order+1 samples around the position form the fit
// window; near the stream edges the fit degrades to the highest order the
// available history supports, down to linear, and to the single nearest
// sample when only one exists.
func (it *Interpolator) Interpolate(position float64) (float64, error) {
	if it.count == 0 {
		return 0, ErrNoHistory
	}
	if math.IsNaN(position) || position < float64(it.base) || position > float64(it.count-1) {
		return 0, fmt.Errorf("%w: %g not in [%d, %d]", ErrPositionOutOfRange, position, it.base, it.count-1)
	}

	if len(it.history) == 1 {
		return it.history[0], nil
	}

	// Center the fit window on the position, clamped to the history.
	points := it.order + 1
	if points > len(it.history) {
		points = len(it.history)
	}

	start := int(position) - int(it.base) - (points-1)/2
	if start < 0 {
		start = 0
	}
	if start > len(it.history)-points {
		start = len(it.history) - points
	}

	return lagrange(it.history[start:start+points], float64(it.base)+float64(start), position), nil
}

// lagrange evaluates the Lagrange-form polynomial through the given samples
// at consecutive integer abscissae starting at x0.
func lagrange(samples []float64, x0, position float64) float64 {
	t := position - x0

	var sum float64
	for i, yi := range samples {
		weight := 1.0
		for j := range samples {
			if j == i {
				continue
			}
			weight *= (t - float64(j)) / float64(i-j)
		}
		sum += yi * weight
	}
	return sum
}

// RateConverter converts a sample stream between two rates by driving an
// Interpolator at a fixed fractional step. It keeps the fractional read
// position across block boundaries so conversion is continuous.
type RateConverter struct {
	interpolator *Interpolator
	step         float64
	position     float64
	inputRate    uint32
	outputRate   uint32
}

// NewRateConverter creates a converter from inputRate to outputRate using a
// polynomial interpolator of the given order.
func NewRateConverter(inputRate, outputRate uint32, order int) (*RateConverter, error) {
	if inputRate == 0 || outputRate == 0 {
		return nil, fmt.Errorf("invalid sample rates: input=%d, output=%d", inputRate, outputRate)
	}

	interpolator, err := New(order)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewRateConverter",
		"input_rate":  inputRate,
		"output_rate": outputRate,
		"order":       order,
		"ratio":       float64(inputRate) / float64(outputRate),
	}).Info("Rate converter created")

	return &RateConverter{
		interpolator: interpolator,
		step:         float64(inputRate) / float64(outputRate),
		inputRate:    inputRate,
		outputRate:   outputRate,
	}, nil
}

// InputRate returns the configured input sample rate.
func (rc *RateConverter) InputRate() uint32 { return rc.inputRate }

// OutputRate returns the configured output sample rate.
func (rc *RateConverter) OutputRate() uint32 { return rc.outputRate }

// Process pushes one block of input samples and returns every output sample
// whose read position falls inside the now-available history.
func (rc *RateConverter) Process(input []int16) []int16 {
	for _, x := range input {
		rc.interpolator.Push(float64(x))
	}
	if rc.interpolator.Count() == 0 {
		return nil
	}

	last := float64(rc.interpolator.Count() - 1)
	output := make([]int16, 0, int(float64(len(input))/rc.step)+1)
	for rc.position <= last {
		y, err := rc.interpolator.Interpolate(rc.position)
		if err != nil {
			// Position fell behind the retained window after a long
			// stall; resynchronize to the oldest retained sample.
			logrus.WithFields(logrus.Fields{
				"function": "Process",
				"position": rc.position,
				"error":    err.Error(),
			}).Warn("Interpolation position resynchronized")
			rc.position = float64(rc.interpolator.base)
			continue
		}
		output = append(output, clampRound(y))
		rc.position += rc.step
	}
	return output
}

// Reset clears the converter's position and history for a new stream.
func (rc *RateConverter) Reset() {
	rc.position = 0
	rc.interpolator.history = rc.interpolator.history[:0]
	rc.interpolator.base = 0
	rc.interpolator.count = 0
}

// clampRound rounds to the nearest integer and saturates to the int16 range.
func clampRound(v float64) int16 {
	r := math.Round(v)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}
