package interp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderValidation(t *testing.T) {
	for _, order := range []int{3, 4, 5} {
		it, err := New(order)
		require.NoError(t, err)
		assert.Equal(t, order, it.Order())
	}
	for _, order := range []int{-1, 0, 1, 2, 6, 10} {
		_, err := New(order)
		assert.ErrorIs(t, err, ErrUnsupportedOrder)
	}
}

// An interpolator of order k must exactly reproduce any input that is itself
// a polynomial of degree <= k sampled at the integers.
func TestPolynomialExactness(t *testing.T) {
	tests := []struct {
		name  string
		order int
		poly  func(x float64) float64
	}{
		{
			name:  "order_3_cubic",
			order: 3,
			poly:  func(x float64) float64 { return 0.5*x*x*x - 2*x*x + 3*x - 7 },
		},
		{
			name:  "order_4_quartic",
			order: 4,
			poly:  func(x float64) float64 { return 0.01*x*x*x*x - x*x + 5 },
		},
		{
			name:  "order_5_quintic",
			order: 5,
			poly:  func(x float64) float64 { return 0.001*math.Pow(x, 5) - 0.2*x*x*x + x },
		},
		{
			name:  "order_5_quadratic",
			order: 5,
			poly:  func(x float64) float64 { return 2*x*x - 30*x + 100 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := New(tt.order)
			require.NoError(t, err)

			for n := 0; n < 32; n++ {
				it.Push(tt.poly(float64(n)))
			}

			for pos := 3.0; pos <= 28.0; pos += 0.37 {
				got, err := it.Interpolate(pos)
				require.NoError(t, err)
				want := tt.poly(pos)
				assert.InDelta(t, want, got, math.Max(1e-6, math.Abs(want)*1e-9),
					"position %g", pos)
			}
		})
	}
}

func TestDeterminism(t *testing.T) {
	run := func() []float64 {
		it, err := New(5)
		require.NoError(t, err)
		for n := 0; n < 50; n++ {
			it.Push(math.Sin(float64(n) * 0.3))
		}
		var out []float64
		for pos := 0.0; pos < 49; pos += 0.41 {
			y, err := it.Interpolate(pos)
			require.NoError(t, err)
			out = append(out, y)
		}
		return out
	}

	assert.Equal(t, run(), run())
}

// With fewer than order+1 samples the fit degrades instead of failing.
func TestEdgeDegradation(t *testing.T) {
	it, err := New(5)
	require.NoError(t, err)

	_, err = it.Interpolate(0)
	assert.ErrorIs(t, err, ErrNoHistory)

	it.Push(100)
	y, err := it.Interpolate(0)
	require.NoError(t, err)
	assert.Equal(t, 100.0, y)

	// Two samples: linear interpolation.
	it.Push(200)
	y, err = it.Interpolate(0.5)
	require.NoError(t, err)
	assert.InDelta(t, 150.0, y, 1e-9)

	// Three samples: quadratic fit through all three.
	it.Push(400)
	y, err = it.Interpolate(1.5)
	require.NoError(t, err)
	// Exact quadratic through (0,100), (1,200), (2,400) is 50x^2+50x+100.
	assert.InDelta(t, 50*1.5*1.5+50*1.5+100, y, 1e-9)
}

func TestPositionValidation(t *testing.T) {
	it, err := New(3)
	require.NoError(t, err)
	for n := 0; n < 10; n++ {
		it.Push(float64(n))
	}

	_, err = it.Interpolate(-0.5)
	assert.ErrorIs(t, err, ErrPositionOutOfRange)

	_, err = it.Interpolate(9.5)
	assert.ErrorIs(t, err, ErrPositionOutOfRange)

	_, err = it.Interpolate(math.NaN())
	assert.ErrorIs(t, err, ErrPositionOutOfRange)

	y, err := it.Interpolate(9)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, y, 1e-9)
}

func TestHistorySlides(t *testing.T) {
	it, err := New(3)
	require.NoError(t, err)

	for n := 0; n < historyRetain+100; n++ {
		it.Push(float64(n))
	}

	// Old positions have slid out of the window.
	_, err = it.Interpolate(0)
	assert.ErrorIs(t, err, ErrPositionOutOfRange)

	// Recent positions interpolate the linear ramp exactly.
	y, err := it.Interpolate(float64(historyRetain + 50))
	require.NoError(t, err)
	assert.InDelta(t, float64(historyRetain+50), y, 1e-9)
}

func TestRateConverterDownAndUp(t *testing.T) {
	tests := []struct {
		name       string
		inputRate  uint32
		outputRate uint32
	}{
		{name: "down_48k_to_16k", inputRate: 48000, outputRate: 16000},
		{name: "up_16k_to_48k", inputRate: 16000, outputRate: 48000},
		{name: "same_rate", inputRate: 48000, outputRate: 48000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := NewRateConverter(tt.inputRate, tt.outputRate, 3)
			require.NoError(t, err)

			var produced int
			const blocks = 50
			const blockSize = 96
			for b := 0; b < blocks; b++ {
				input := make([]int16, blockSize)
				for i := range input {
					input[i] = int16(1000 * math.Sin(2*math.Pi*440*float64(b*blockSize+i)/float64(tt.inputRate)))
				}
				produced += len(rc.Process(input))
			}

			want := blocks * blockSize * int(tt.outputRate) / int(tt.inputRate)
			assert.InDelta(t, want, produced, float64(want)*0.01+2)
		})
	}
}

func TestRateConverterDCTransparency(t *testing.T) {
	rc, err := NewRateConverter(48000, 32000, 5)
	require.NoError(t, err)

	input := make([]int16, 96)
	for i := range input {
		input[i] = 12345
	}
	var output []int16
	for b := 0; b < 5; b++ {
		output = append(output, rc.Process(input)...)
	}
	require.NotEmpty(t, output)
	for _, y := range output {
		assert.Equal(t, int16(12345), y)
	}
}

func TestRateConverterInvalidConfig(t *testing.T) {
	_, err := NewRateConverter(0, 48000, 3)
	assert.Error(t, err)

	_, err = NewRateConverter(48000, 48000, 2)
	assert.ErrorIs(t, err, ErrUnsupportedOrder)
}
