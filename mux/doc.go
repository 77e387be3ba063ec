// Package mux implements the channel multiplexer of the audiowire core: it
// maps N logical PCM channels onto the fixed set of byte-channel slots
// delivered each transmission cycle, and reassembles them on receive.
//
// Bindings between a logical channel and its slot(s) are created at session
// setup and stay immutable during steady-state operation. Packing fills
// every assigned slot exactly: a channel that underproduces for one cycle is
// padded with its deterministic padding pattern, and a channel's bytes can
// never spill into another channel's slot. Channels spanning several slots
// are packed in ascending slot-index order so the receiver reassembles them
// without additional metadata.
package mux
