// Package eq implements the per-channel equalizer of the audiowire signal
// chain: an ordered cascade of second-order IIR (biquad) sections.
//
// Each band is a peaking or shelving biquad derived from center frequency,
// gain and Q. Bands are applied in a fixed sequence; band 1's output feeds
// band 2's input. Samples are accumulated in float64 through the whole
// cascade and saturated to the int16 range only at the output, so rounding
// error does not compound across sections and out-of-range values clip
// instead of wrapping.
//
// Coefficient updates never switch instantaneously. SetBand runs the old and
// the new cascade in parallel and linearly crossfades between them over a
// bounded number of samples, which keeps parameter changes free of audible
// steps. Requests for unstable coefficients (poles on or outside the unit
// circle) are rejected and the previous coefficients stay in effect.
package eq
