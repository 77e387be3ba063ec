// Package codec implements the APCM sub-band audio codec of the audiowire
// signal chain, following the Bluetooth A2DP low-latency family: an analysis
// filter bank splits each window into fixed sub-bands, a 4-bit scale factor
// is derived per band, bits are allocated to bands by a deterministic
// loudness rule driven only by the transmitted scale factors, and residuals
// are quantized to the allocated depth. Decoding reverses the steps with the
// synthesis bank.
//
// Encoder and decoder stay in lock-step without side information: the bit
// allocation is a pure function of the scale factors, and all filter-bank
// and offset tables are frozen at package init. decode(encode(x)) is
// deterministic; malformed frames are rejected, never guessed at.
//
// The package also carries an auxiliary Opus decoder for receive-only
// monitor channels that interoperate with Opus sources.
package codec
