// Package audiowire implements a real-time multi-channel audio distribution
// core. It sits between raw PCM intake and a fixed-capacity, slotted
// byte-channel transport: per channel, samples pass through a biquad
// equalizer cascade, optional Lagrange rate conversion and an APCM sub-band
// codec before a multiplexer packs every channel's frames into exactly the
// slot capacities the transport assigned for the cycle. Received cycles run
// the same chain in reverse.
//
// # Getting Started
//
// Create a session over the transport's slot assignment, activate channels
// and drive the fixed-rate tick:
//
//	options := audiowire.NewOptions()
//	options.Slots = []int{36, 36}
//
//	session, err := audiowire.NewSession(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	err = session.ActivateChannel(1, audiowire.ChannelConfig{
//	    InputRate: 48000,
//	    Profile:   audiowire.ProfileAudio,
//	    Slots:     []int{0},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	session.PushPCM(1, pcmBlock)
//	cycle, err := session.Tick()
//	// hand cycle to the transport; feed received cycles to session.Receive
//
// Subpackages hold the individual stages: dsp/eq, dsp/interp and dsp/osc
// for the sample-domain processing, codec for the sub-band codec, mux for
// slot packing, seal for the encryption boundary and pipeline for the
// scheduler that ties them together.
package audiowire
