package pipeline

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/audiowire/codec"
	"github.com/opd-ai/audiowire/dsp/eq"
	"github.com/opd-ai/audiowire/dsp/osc"
	"github.com/opd-ai/audiowire/seal"
)

func audioChannelConfig(slots ...int) ChannelConfig {
	return ChannelConfig{
		InputRate: 48000,
		Profile:   codec.ProfileAudio,
		Slots:     slots,
	}
}

func sineBlock(n int, freq, rate, amplitude float64) []int16 {
	block := make([]int16, n)
	for i := range block {
		block[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return block
}

func TestNewDefaults(t *testing.T) {
	s, err := New(Config{Slots: []int{36}})
	require.NoError(t, err)

	// 64 samples at 20000 frames/s.
	assert.Equal(t, 3200*time.Microsecond, s.TickPeriod())
	assert.Equal(t, 36, s.CycleSize())
	assert.False(t, s.Faulted())
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Slots: nil})
	assert.Error(t, err)

	_, err = New(Config{Slots: []int{36}, FrameRate: -1})
	assert.Error(t, err)

	_, err = New(Config{Slots: []int{36}, BlockSize: -1})
	assert.Error(t, err)
}

func TestActivateChannelValidation(t *testing.T) {
	s, err := New(Config{Slots: []int{36, 8}})
	require.NoError(t, err)

	require.NoError(t, s.ActivateChannel(1, audioChannelConfig(0)))

	err = s.ActivateChannel(1, audioChannelConfig(1))
	assert.ErrorIs(t, err, ErrChannelActive)

	// Slot 1 holds 8 bytes, one ProfileAudio frame needs 36.
	err = s.ActivateChannel(2, audioChannelConfig(1))
	assert.ErrorIs(t, err, ErrSlotCapacityTooSmall)

	err = s.ActivateChannel(3, ChannelConfig{InputRate: 0, Profile: codec.ProfileAudio, Slots: []int{1}})
	assert.Error(t, err)

	_, err = s.DeactivateChannel(99)
	assert.ErrorIs(t, err, ErrChannelNotActive)
}

func TestTickLoopbackRoundTrip(t *testing.T) {
	s, err := New(Config{Slots: []int{36}})
	require.NoError(t, err)
	require.NoError(t, s.ActivateChannel(1, audioChannelConfig(0)))

	const amplitude = 12000.0
	input := sineBlock(64, 1000, 48000, amplitude)
	require.NoError(t, s.PushPCM(1, append([]int16(nil), input...)))

	cycle, err := s.Tick()
	require.NoError(t, err)
	assert.Len(t, cycle, s.CycleSize())

	require.NoError(t, s.Receive(cycle))

	out, err := s.PopPCM(1)
	require.NoError(t, err)
	require.Len(t, out, 64)

	var sumSq float64
	for i := range input {
		d := float64(input[i]) - float64(out[i])
		sumSq += d * d
	}
	rms := math.Sqrt(sumSq / float64(len(input)))
	assert.Less(t, rms, amplitude*0.05, "loopback error too high (rms %.1f)", rms)

	snap := s.Metrics()
	assert.Equal(t, uint64(1), snap.Session.Cycles)
	assert.Equal(t, uint64(1), snap.Channels[1].FramesEncoded)
	assert.Equal(t, uint64(1), snap.Channels[1].FramesDecoded)
}

func TestTickUnderrunPadsWithSilence(t *testing.T) {
	s, err := New(Config{Slots: []int{36}})
	require.NoError(t, err)
	require.NoError(t, s.ActivateChannel(1, audioChannelConfig(0)))

	cycle, err := s.Tick()
	require.NoError(t, err)
	require.Len(t, cycle, s.CycleSize())

	require.NoError(t, s.Receive(cycle))
	out, err := s.PopPCM(1)
	require.NoError(t, err)
	require.Len(t, out, 64)
	for i, sample := range out {
		assert.Zero(t, sample, "sample %d", i)
	}

	assert.Equal(t, uint64(1), s.Metrics().Channels[1].UnderrunCycles)
}

func TestSealedLoopback(t *testing.T) {
	key, err := seal.GenerateKey()
	require.NoError(t, err)
	sealer := seal.NewSecretboxSealer(key)

	s, err := New(Config{Slots: []int{36}, Sealer: sealer})
	require.NoError(t, err)
	require.NoError(t, s.ActivateChannel(1, audioChannelConfig(0)))
	require.NoError(t, s.PushPCM(1, sineBlock(64, 440, 48000, 8000)))

	sealed, err := s.Tick()
	require.NoError(t, err)
	assert.Len(t, sealed, s.CycleSize()+sealer.Overhead())

	require.NoError(t, s.Receive(sealed))
	out, err := s.PopPCM(1)
	require.NoError(t, err)
	assert.Len(t, out, 64)

	tampered := append([]byte{}, sealed...)
	tampered[len(tampered)-1] ^= 0x01
	assert.ErrorIs(t, s.Receive(tampered), seal.ErrAuthFailed)
}

func TestDeadlineMissDoesNotCorruptOtherChannels(t *testing.T) {
	s, err := New(Config{Slots: []int{36, 36}})
	require.NoError(t, err)
	require.NoError(t, s.ActivateChannel(1, audioChannelConfig(0)))
	require.NoError(t, s.ActivateChannel(2, audioChannelConfig(1)))

	// Stall channel 1 well past the 3.2 ms budget.
	s.channels[1].testDelay = func() { time.Sleep(3 * s.tickPeriod) }

	input := sineBlock(64, 1000, 48000, 10000)
	require.NoError(t, s.PushPCM(1, append([]int16(nil), input...)))
	require.NoError(t, s.PushPCM(2, append([]int16(nil), input...)))

	cycle, err := s.Tick()
	require.NoError(t, err, "a single miss must not fail the tick")

	snap := s.Metrics()
	assert.Equal(t, uint64(1), snap.Session.DeadlineMisses)
	assert.Equal(t, uint64(1), snap.Session.ConsecutiveMisses)

	// Channel 2's output for the same cycle is intact.
	require.NoError(t, s.Receive(cycle))
	out, err := s.PopPCM(2)
	require.NoError(t, err)
	require.Len(t, out, 64)
	var energy float64
	for _, sample := range out {
		energy += float64(sample) * float64(sample)
	}
	assert.Greater(t, energy, 0.0, "stalled neighbor must not silence channel 2")
}

func TestConsecutiveMissesEscalateToSessionFault(t *testing.T) {
	var faulted error
	s, err := New(Config{
		Slots:         []int{36},
		MissThreshold: 2,
		OnFault:       func(err error) { faulted = err },
	})
	require.NoError(t, err)
	require.NoError(t, s.ActivateChannel(1, audioChannelConfig(0)))

	s.channels[1].testDelay = func() { time.Sleep(2 * s.tickPeriod) }

	_, err = s.Tick()
	require.NoError(t, err, "first miss stays below threshold")

	_, err = s.Tick()
	assert.ErrorIs(t, err, ErrSessionFault)
	assert.ErrorIs(t, faulted, ErrSessionFault)
	assert.True(t, s.Faulted())

	// Faulted session refuses further ticks until explicitly cleared.
	_, err = s.Tick()
	assert.ErrorIs(t, err, ErrSessionFault)
	assert.ErrorIs(t, s.Start(), ErrSessionFault)

	s.ClearFault()
	s.channels[1].testDelay = nil
	_, err = s.Tick()
	assert.NoError(t, err)
}

func TestDeactivateDrainsPartialWindow(t *testing.T) {
	s, err := New(Config{Slots: []int{36}})
	require.NoError(t, err)
	require.NoError(t, s.ActivateChannel(1, audioChannelConfig(0)))

	// 74 samples: one full window plus 10 pending after the tick.
	require.NoError(t, s.PushPCM(1, sineBlock(74, 500, 48000, 9000)))
	_, err = s.Tick()
	require.NoError(t, err)

	final, err := s.DeactivateChannel(1)
	require.NoError(t, err)
	assert.Len(t, final, codec.ProfileAudio.FrameSize())

	assert.ErrorIs(t, s.SetBand(1, 0, eq.BandParams{}), ErrChannelNotActive)

	// Slots are released for reuse.
	assert.NoError(t, s.ActivateChannel(5, audioChannelConfig(0)))
}

func TestDeactivateWithoutPendingReturnsNoFrame(t *testing.T) {
	s, err := New(Config{Slots: []int{36}})
	require.NoError(t, err)
	require.NoError(t, s.ActivateChannel(1, audioChannelConfig(0)))

	final, err := s.DeactivateChannel(1)
	require.NoError(t, err)
	assert.Nil(t, final)
}

func TestSetOscillatorToneSource(t *testing.T) {
	s, err := New(Config{Slots: []int{36}})
	require.NoError(t, err)
	require.NoError(t, s.ActivateChannel(1, audioChannelConfig(0)))

	// 1 kHz at 48 kHz: step = freq/rate * 2^32.
	step := uint32(math.Round(1000.0 / 48000.0 * 4294967296.0))
	require.NoError(t, s.SetOscillator(1, step, osc.InterpLinear))

	cycle, err := s.Tick()
	require.NoError(t, err)
	require.NoError(t, s.Receive(cycle))

	out, err := s.PopPCM(1)
	require.NoError(t, err)
	require.Len(t, out, 64)
	var energy float64
	for _, sample := range out {
		energy += float64(sample) * float64(sample)
	}
	assert.Greater(t, energy, 0.0, "tone source must produce signal")

	// Disabling the tone returns the channel to intake, which is empty.
	require.NoError(t, s.SetOscillator(1, 0, osc.InterpNone))
	_, err = s.Tick()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Metrics().Channels[1].UnderrunCycles)

	assert.ErrorIs(t, s.SetOscillator(9, step, osc.InterpNone), ErrChannelNotActive)
}

func TestSetBandControl(t *testing.T) {
	s, err := New(Config{Slots: []int{36}})
	require.NoError(t, err)

	config := audioChannelConfig(0)
	config.Bands = []eq.BandParams{{Type: eq.BandPeak, Freq: 1000, GainDB: 0, Q: 1}}
	require.NoError(t, s.ActivateChannel(1, config))

	err = s.SetBand(1, 0, eq.BandParams{Type: eq.BandPeak, Freq: 2000, GainDB: 6, Q: 1})
	assert.NoError(t, err)

	// Invalid parameters are rejected with prior coefficients retained.
	err = s.SetBand(1, 0, eq.BandParams{Type: eq.BandPeak, Freq: -1, GainDB: 6, Q: 1})
	assert.Error(t, err)

	assert.ErrorIs(t, s.SetBand(2, 0, eq.BandParams{}), ErrChannelNotActive)
}

func TestPushPCMDropsOldestWhenSaturated(t *testing.T) {
	s, err := New(Config{Slots: []int{36}})
	require.NoError(t, err)

	config := audioChannelConfig(0)
	config.QueueDepth = 1
	require.NoError(t, s.ActivateChannel(1, config))

	require.NoError(t, s.PushPCM(1, make([]int16, 64)))
	require.NoError(t, s.PushPCM(1, make([]int16, 64)))
	assert.Equal(t, uint64(1), s.Metrics().Channels[1].DroppedBlocks)

	assert.ErrorIs(t, s.PushPCM(2, nil), ErrChannelNotActive)
	_, err = s.PopPCM(2)
	assert.ErrorIs(t, err, ErrChannelNotActive)
}

func TestRateConvertedChannel(t *testing.T) {
	s, err := New(Config{Slots: []int{36}})
	require.NoError(t, err)

	config := ChannelConfig{
		InputRate:   48000,
		ProcessRate: 16000,
		Profile:     codec.ProfileAudio,
		Slots:       []int{0},
	}
	require.NoError(t, s.ActivateChannel(1, config))

	// 192 input samples downsample to roughly 64 processed samples.
	require.NoError(t, s.PushPCM(1, sineBlock(200, 400, 48000, 8000)))
	cycle, err := s.Tick()
	require.NoError(t, err)
	assert.Len(t, cycle, s.CycleSize())
	assert.Equal(t, uint64(1), s.Metrics().Channels[1].FramesEncoded)
}

func TestRateConvertedChannelEqualizesAtIntakeRate(t *testing.T) {
	s, err := New(Config{Slots: []int{36}})
	require.NoError(t, err)

	config := ChannelConfig{
		InputRate:   48000,
		ProcessRate: 12000,
		Profile:     codec.ProfileAudio,
		Slots:       []int{0},
		Bands:       []eq.BandParams{{Type: eq.BandPeak, Freq: 3000, GainDB: -24, Q: 4}},
	}
	require.NoError(t, s.ActivateChannel(1, config))

	// A 3 kHz tone must hit the 3 kHz cut in the 48 kHz intake domain, not
	// a band shifted by the rate ratio.
	const amplitude = 12000.0
	require.NoError(t, s.PushPCM(1, sineBlock(1600, 3000, 48000, amplitude)))

	// Run three windows so the cascade settles past its transient.
	var out []int16
	for i := 0; i < 3; i++ {
		cycle, err := s.Tick()
		require.NoError(t, err)
		require.NoError(t, s.Receive(cycle))
		out, err = s.PopPCM(1)
		require.NoError(t, err)
		require.Len(t, out, 64)
	}
	require.Zero(t, s.Metrics().Channels[1].UnderrunCycles)

	var peak float64
	for _, sample := range out {
		if v := math.Abs(float64(sample)); v > peak {
			peak = v
		}
	}
	assert.Less(t, peak, amplitude*0.1,
		"24 dB cut at 3 kHz must attenuate the tone (peak %.0f)", peak)
}

func TestToneSourceOnRateConvertedChannel(t *testing.T) {
	s, err := New(Config{Slots: []int{36}})
	require.NoError(t, err)

	config := ChannelConfig{
		InputRate:   48000,
		ProcessRate: 16000,
		Profile:     codec.ProfileAudio,
		Slots:       []int{0},
	}
	require.NoError(t, s.ActivateChannel(1, config))

	// The tone is generated at the intake rate and converted like raw PCM.
	step := uint32(math.Round(1000.0 / 48000.0 * 4294967296.0))
	require.NoError(t, s.SetOscillator(1, step, osc.InterpLinear))

	cycle, err := s.Tick()
	require.NoError(t, err)
	require.NoError(t, s.Receive(cycle))
	require.Zero(t, s.Metrics().Channels[1].UnderrunCycles)

	out, err := s.PopPCM(1)
	require.NoError(t, err)
	require.Len(t, out, 64)
	var energy float64
	for _, sample := range out {
		energy += float64(sample) * float64(sample)
	}
	assert.Greater(t, energy, 0.0)
}

func TestMonitorChannelReceiveOnly(t *testing.T) {
	s, err := New(Config{Slots: []int{64}})
	require.NoError(t, err)

	config := ChannelConfig{
		InputRate: 48000,
		Profile:   codec.ProfileVoice,
		Slots:     []int{0},
		Monitor:   true,
	}
	require.NoError(t, s.ActivateChannel(1, config))

	// Monitor channels transmit nothing; their slots pad with zeros.
	cycle, err := s.Tick()
	require.NoError(t, err)
	for i, b := range cycle {
		assert.Zero(t, b, "byte %d", i)
	}

	// Zero length prefix means an empty padded cycle, not a fault.
	require.NoError(t, s.Receive(cycle))
	assert.Zero(t, s.Metrics().Channels[1].MalformedFrames)

	// A length prefix pointing past the slot bytes is malformed.
	bad := make([]byte, s.CycleSize())
	binary.BigEndian.PutUint16(bad, uint16(s.CycleSize()))
	require.NoError(t, s.Receive(bad))
	assert.Equal(t, uint64(1), s.Metrics().Channels[1].MalformedFrames)
}

func TestMalformedFrameIsolatedToChannel(t *testing.T) {
	s, err := New(Config{Slots: []int{36, 36}})
	require.NoError(t, err)
	require.NoError(t, s.ActivateChannel(1, audioChannelConfig(0)))
	require.NoError(t, s.ActivateChannel(2, audioChannelConfig(1)))

	input := sineBlock(64, 1000, 48000, 10000)
	require.NoError(t, s.PushPCM(1, append([]int16(nil), input...)))
	require.NoError(t, s.PushPCM(2, append([]int16(nil), input...)))

	cycle, err := s.Tick()
	require.NoError(t, err)

	// Corrupt channel 1's residuals (slot 0 leads the cycle, scale factors
	// occupy its first 4 bytes). All-ones residuals are out of range.
	tampered := append([]byte{}, cycle...)
	for i := 4; i < 36; i++ {
		tampered[i] = 0xFF
	}
	require.NoError(t, s.Receive(tampered))

	snap := s.Metrics()
	assert.Equal(t, uint64(1), snap.Channels[1].MalformedFrames)
	assert.Zero(t, snap.Channels[2].MalformedFrames)

	// Channel 1 substitutes silence, channel 2 decodes normally.
	out1, err := s.PopPCM(1)
	require.NoError(t, err)
	require.Len(t, out1, 64)
	for _, sample := range out1 {
		assert.Zero(t, sample)
	}

	out2, err := s.PopPCM(2)
	require.NoError(t, err)
	var energy float64
	for _, sample := range out2 {
		energy += float64(sample) * float64(sample)
	}
	assert.Greater(t, energy, 0.0)
}

func TestRunLoopClearsRunningOnFault(t *testing.T) {
	s, err := New(Config{Slots: []int{36}, MissThreshold: 1})
	require.NoError(t, err)
	require.NoError(t, s.ActivateChannel(1, audioChannelConfig(0)))
	s.channels[1].testDelay = func() { time.Sleep(2 * s.tickPeriod) }

	require.NoError(t, s.Start())

	// The first stalled tick faults the session and exits the loop.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.IsRunning() {
		time.Sleep(s.tickPeriod)
	}

	assert.True(t, s.Faulted())
	assert.False(t, s.IsRunning(), "loop exit must clear the running flag")
}

func TestStartStopLifecycle(t *testing.T) {
	s, err := New(Config{Slots: []int{36}})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(), ErrSchedulerRunning)

	time.Sleep(5 * s.TickPeriod())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	assert.GreaterOrEqual(t, s.Metrics().Session.Cycles, uint64(1))
	assert.NotNil(t, s.NextCycle(), "delivery queue must hold ticked cycles")
}
