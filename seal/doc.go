// Package seal implements the encryption boundary of the audiowire core.
// Packed transmission cycles are sealed with authenticated symmetric
// encryption (NaCl secretbox) before they leave the session, and opened on
// receive before unpacking. The symmetric session key is established with a
// Noise XX handshake between the two distribution endpoints, so neither end
// needs the other's static key in advance.
package seal
