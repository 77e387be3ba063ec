package pipeline

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/codec"
	"github.com/opd-ai/audiowire/dsp/eq"
	"github.com/opd-ai/audiowire/dsp/interp"
	"github.com/opd-ai/audiowire/dsp/osc"
)

// defaultInterpOrder is the Lagrange order used when a channel
// configuration does not specify one.
const defaultInterpOrder = 3

// ChannelConfig describes one logical channel of the session.
type ChannelConfig struct {
	// InputRate is the native sample rate of the raw PCM intake.
	InputRate uint32

	// ProcessRate is the rate samples are encoded at. Zero means no rate
	// conversion (ProcessRate == InputRate).
	ProcessRate uint32

	// Bands configures the equalizer cascade. Empty means a flat channel.
	Bands []eq.BandParams

	// Profile selects the codec bit-allocation profile.
	Profile codec.Profile

	// InterpOrder is the Lagrange order for rate conversion (3, 4 or 5).
	// Zero selects the default order.
	InterpOrder int

	// QueueDepth bounds the intake and outtake queues. Zero selects the
	// default depth.
	QueueDepth int

	// Slots lists the byte-channel slot indexes assigned to this channel.
	Slots []int

	// Monitor marks a receive-only interop channel carrying Opus frames.
	// Monitor channels never transmit.
	Monitor bool
}

// channel holds the per-channel signal chain state. Each channel is owned
// by exactly one worker during a tick; nothing here is shared across
// channels.
type channel struct {
	id     uint32
	config ChannelConfig

	equalizer *eq.Equalizer
	rate      *interp.RateConverter
	codec     *codec.Codec
	monitor   *codec.OpusMonitorDecoder

	intake  *pcmQueue
	outtake *pcmQueue

	// pending accumulates processed samples toward the next codec window.
	pending []int16

	// tone, when set, replaces the PCM intake with a self-test source.
	tone    *osc.Oscillator
	toneAmp float64

	// testDelay stalls processCycle when set. Test hook for deadline-miss
	// injection.
	testDelay func()
}

func newChannel(id uint32, config ChannelConfig) (*channel, error) {
	if config.InputRate == 0 {
		return nil, fmt.Errorf("channel %d: input rate must be positive", id)
	}
	if err := config.Profile.Validate(); err != nil {
		return nil, fmt.Errorf("channel %d: %w", id, err)
	}

	processRate := config.ProcessRate
	if processRate == 0 {
		processRate = config.InputRate
	}

	// The cascade filters intake samples before any rate conversion, so the
	// band frequencies are designed against the intake rate.
	equalizer, err := eq.NewEqualizer(float64(config.InputRate), config.Bands,
		eq.WithCrossfadeLength(config.Profile.WindowSize()))
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", id, err)
	}

	var rate *interp.RateConverter
	if processRate != config.InputRate {
		order := config.InterpOrder
		if order == 0 {
			order = defaultInterpOrder
		}
		rate, err = interp.NewRateConverter(config.InputRate, processRate, order)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", id, err)
		}
	}

	coder, err := codec.New(config.Profile)
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", id, err)
	}

	intake, err := newPCMQueue(config.QueueDepth)
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", id, err)
	}
	outtake, err := newPCMQueue(config.QueueDepth)
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", id, err)
	}

	ch := &channel{
		id:        id,
		config:    config,
		equalizer: equalizer,
		rate:      rate,
		codec:     coder,
		intake:    intake,
		outtake:   outtake,
	}
	if config.Monitor {
		ch.monitor = codec.NewOpusMonitorDecoder()
	}

	logrus.WithFields(logrus.Fields{
		"function":     "newChannel",
		"channel":      id,
		"input_rate":   config.InputRate,
		"process_rate": processRate,
		"bands":        len(config.Bands),
		"window":       config.Profile.WindowSize(),
		"monitor":      config.Monitor,
	}).Info("Channel created")

	return ch, nil
}

// processCycle runs one tick of the transmit chain and returns the frame
// bytes for this cycle. An underrun yields the canonical silent frame so
// the channel's slots are still filled deterministically.
func (c *channel) processCycle() (frame []byte, underrun bool, err error) {
	if c.testDelay != nil {
		c.testDelay()
	}

	if c.config.Monitor {
		// Monitor channels are receive-only.
		return nil, false, nil
	}

	window := c.codec.WindowSize()

	if c.tone != nil {
		// The tone replaces the intake, so it runs the same chain as raw
		// PCM: generated at the input rate, equalized, then converted.
		for len(c.pending) < window {
			block := make([]int16, window)
			for i := range block {
				block[i] = c.tone.NextPCM(c.toneAmp)
			}
			c.equalizer.ProcessBlock(block)
			if c.rate != nil {
				block = c.rate.Process(block)
			}
			c.pending = append(c.pending, block...)
		}
	} else {
		for len(c.pending) < window {
			block := c.intake.Pop()
			if block == nil {
				break
			}
			c.equalizer.ProcessBlock(block)
			if c.rate != nil {
				block = c.rate.Process(block)
			}
			c.pending = append(c.pending, block...)
		}
	}

	if len(c.pending) < window {
		return c.codec.SilentFrame(), true, nil
	}

	frame, err = c.codec.EncodeBytes(c.pending[:window])
	if err != nil {
		return nil, false, err
	}
	c.pending = append(c.pending[:0], c.pending[window:]...)
	return frame, false, nil
}

// receiveCycle decodes this channel's bytes from one received cycle and
// pushes the reconstructed PCM to the outtake queue. Malformed frames are
// dropped and substituted with silence; the channel continues with the
// next frame.
func (c *channel) receiveCycle(payload []byte) (malformed int) {
	if c.config.Monitor {
		return c.receiveMonitor(payload)
	}

	frameSize := c.codec.FrameSize()
	for off := 0; off+frameSize <= len(payload); off += frameSize {
		pcm, err := c.codec.DecodeBytes(payload[off : off+frameSize])
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "receiveCycle",
				"channel":  c.id,
				"offset":   off,
				"error":    err.Error(),
			}).Warn("Malformed frame dropped, substituting silence")
			malformed++
			pcm = make([]int16, c.codec.WindowSize())
		}
		c.outtake.Push(pcm)
	}
	return malformed
}

// receiveMonitor decodes a length-prefixed Opus frame from a monitor
// channel's slot bytes. The 2-byte big-endian prefix separates the frame
// from slot padding.
func (c *channel) receiveMonitor(payload []byte) (malformed int) {
	if len(payload) < 2 {
		return 1
	}
	n := int(binary.BigEndian.Uint16(payload))
	if n == 0 {
		// Padded-out cycle with no frame.
		return 0
	}
	if 2+n > len(payload) {
		logrus.WithFields(logrus.Fields{
			"function":     "receiveMonitor",
			"channel":      c.id,
			"frame_length": n,
			"payload_size": len(payload),
		}).Warn("Monitor frame length exceeds slot bytes")
		return 1
	}

	pcm, _, err := c.monitor.Decode(payload[2 : 2+n])
	if err != nil {
		return 1
	}
	c.outtake.Push(pcm)
	return 0
}

// drain flushes the partial codec window at deactivation, padding the tail
// with silence so the final frame is well formed. Returns nil when no
// samples are pending.
func (c *channel) drain() ([]byte, error) {
	if len(c.pending) == 0 {
		return nil, nil
	}

	window := make([]int16, c.codec.WindowSize())
	copy(window, c.pending)
	c.pending = c.pending[:0]

	frame, err := c.codec.EncodeBytes(window)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "drain",
		"channel":  c.id,
	}).Info("Partial window flushed at deactivation")

	return frame, nil
}

// setTone replaces the PCM intake with an oscillator self-test source.
// A nil oscillator restores normal intake.
func (c *channel) setTone(tone *osc.Oscillator, amplitude float64) {
	c.tone = tone
	c.toneAmp = amplitude
}
