// Package osc implements the lookup-table oscillator bank of the audiowire
// signal chain.
//
// A single sine table is populated once at package init and shared read-only
// by every oscillator instance; only the fixed-point phase accumulator is
// per-instance state, so concurrent oscillators need no locking. The phase
// advances by a configured step per call and wraps modulo the table length.
// Table reads use the configured interpolation: nearest entry, linear, or
// cubic (4-point Hermite).
//
// Oscillators serve as modulation and reference sources and as the self-test
// tone generator used during channel commissioning.
package osc
