// Package interp implements the polynomial sample-rate interpolator of the
// audiowire signal chain.
//
// An Interpolator holds a sliding window of recent input samples for one
// channel and evaluates a Lagrange polynomial fit of selectable order (3, 4
// or 5) at fractional positions in the input stream. The integer part of a
// position selects the fit window, the fractional part the evaluation point.
// At stream start, where fewer than order+1 samples exist, the fit degrades
// to the highest order the available history supports, down to linear.
//
// Interpolation is fully deterministic: identical input history and position
// always yield identical output.
//
// RateConverter wraps an Interpolator with position tracking to convert a
// block stream between the internal processing rate and the codec or
// transport rate.
package interp
