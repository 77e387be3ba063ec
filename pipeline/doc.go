// Package pipeline drives the audiowire signal chain at a fixed rate. One
// scheduler tick pulls a block from every active channel's intake, runs
// Equalizer, Interpolator and Codec, and hands the per-channel frames to
// the multiplexer for exact slot packing; the receive path runs the same
// chain in reverse. Channels own their state exclusively, so a fault in
// one channel pads its slots for the cycle and leaves the others intact.
//
// Ticks that exceed the fixed budget are detected and recorded as deadline
// misses, and excess intake is dropped oldest-first rather than queued
// without bound. Repeated consecutive misses escalate to a session fault
// that requires an explicit restart.
package pipeline
