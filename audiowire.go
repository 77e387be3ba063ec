package audiowire

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/codec"
	"github.com/opd-ai/audiowire/dsp/eq"
	"github.com/opd-ai/audiowire/dsp/osc"
	"github.com/opd-ai/audiowire/pipeline"
	"github.com/opd-ai/audiowire/seal"
)

// Re-exported configuration types so simple sessions only import the root
// package.
type (
	// ChannelConfig configures one logical channel.
	ChannelConfig = pipeline.ChannelConfig

	// BandParams configures one equalizer band.
	BandParams = eq.BandParams

	// Profile selects a codec bit-allocation profile.
	Profile = codec.Profile

	// MetricsSnapshot aggregates session and per-channel counters.
	MetricsSnapshot = pipeline.MetricsSnapshot
)

// Codec profiles recognized by the session configuration.
var (
	// ProfileVoice is the low-latency 4 sub-band profile.
	ProfileVoice = codec.ProfileVoice

	// ProfileAudio is the 8 sub-band general audio profile.
	ProfileAudio = codec.ProfileAudio
)

// Options configures a new session.
type Options struct {
	// Slots lists the byte-channel slot capacities the transport assigned
	// to this session.
	Slots []int

	// FrameRate is the fixed per-channel frame budget in frames per
	// second. Zero selects the default of 20000.
	FrameRate int

	// BlockSize is the number of samples processed per tick. Zero selects
	// the default codec window of 64.
	BlockSize int

	// Sealer encrypts packed cycles at the transport boundary. Nil
	// disables sealing.
	Sealer seal.Sealer

	// MissThreshold is the consecutive deadline-miss count escalating to a
	// session fault. Zero selects the default of 8.
	MissThreshold int

	// OnFault is invoked once when the session escalates to a fault.
	OnFault func(error)
}

// NewOptions creates an Options struct with default settings.
func NewOptions() *Options {
	return &Options{}
}

// Session is the top-level handle over one distribution session: the
// scheduler, its channels and the slot multiplexer, identified by a
// session UUID.
type Session struct {
	id        uuid.UUID
	scheduler *pipeline.Scheduler
}

// NewSession creates a session over the transport's slot assignment.
func NewSession(options *Options) (*Session, error) {
	if options == nil {
		options = NewOptions()
	}

	scheduler, err := pipeline.New(pipeline.Config{
		FrameRate:     options.FrameRate,
		BlockSize:     options.BlockSize,
		Slots:         options.Slots,
		Sealer:        options.Sealer,
		MissThreshold: options.MissThreshold,
		OnFault:       options.OnFault,
	})
	if err != nil {
		return nil, err
	}

	session := &Session{
		id:        uuid.New(),
		scheduler: scheduler,
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewSession",
		"session_id": session.id.String(),
		"slots":      len(options.Slots),
	}).Info("Session created")

	return session, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// ActivateChannel creates the signal chain for a logical channel and binds
// it to its byte-channel slots.
func (s *Session) ActivateChannel(id uint32, config ChannelConfig) error {
	return s.scheduler.ActivateChannel(id, config)
}

// DeactivateChannel drains a channel deterministically and releases its
// state, returning the flushed partial window as a final frame, if any.
func (s *Session) DeactivateChannel(id uint32) ([]byte, error) {
	return s.scheduler.DeactivateChannel(id)
}

// SetBand updates one equalizer band on an active channel with a
// crossfaded coefficient swap.
func (s *Session) SetBand(channel uint32, band int, freq, gainDB, q float64) error {
	return s.scheduler.SetBand(channel, band, eq.BandParams{
		Type:   eq.BandPeak,
		Freq:   freq,
		GainDB: gainDB,
		Q:      q,
	})
}

// SetOscillator switches a channel's intake to the oscillator self-test
// tone with the given phase step and read interpolation mode. A zero step
// restores normal intake.
func (s *Session) SetOscillator(channel uint32, step uint32, mode osc.InterpMode) error {
	return s.scheduler.SetOscillator(channel, step, mode)
}

// PushPCM feeds one raw PCM block into a channel's intake queue.
func (s *Session) PushPCM(channel uint32, block []int16) error {
	return s.scheduler.PushPCM(channel, block)
}

// PopPCM removes the oldest reconstructed PCM block from a channel's
// outtake queue, or nil when none is pending.
func (s *Session) PopPCM(channel uint32) ([]int16, error) {
	return s.scheduler.PopPCM(channel)
}

// Tick runs one processing cycle and returns the packed (and sealed, when
// a sealer is configured) cycle payload for the transport.
func (s *Session) Tick() ([]byte, error) {
	return s.scheduler.Tick()
}

// Receive processes one cycle received from the transport through the
// inverse chain.
func (s *Session) Receive(cycle []byte) error {
	return s.scheduler.Receive(cycle)
}

// NextCycle removes the oldest delivered cycle from the internal queue
// when the session is driven by Start instead of explicit Ticks.
func (s *Session) NextCycle() []byte {
	return s.scheduler.NextCycle()
}

// Start launches the internal fixed-rate tick loop.
func (s *Session) Start() error {
	return s.scheduler.Start()
}

// Close stops the tick loop if running.
func (s *Session) Close() {
	if s.scheduler.IsRunning() {
		if err := s.scheduler.Stop(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Close",
				"session_id": s.id.String(),
				"error":      err.Error(),
			}).Warn("Stop during close failed")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Close",
		"session_id": s.id.String(),
	}).Info("Session closed")
}

// IsRunning reports whether the internal tick loop is active.
func (s *Session) IsRunning() bool {
	return s.scheduler.IsRunning()
}

// Faulted reports whether the session escalated to a fault.
func (s *Session) Faulted() bool {
	return s.scheduler.Faulted()
}

// ClearFault acknowledges a session fault so Start can be called again.
func (s *Session) ClearFault() {
	s.scheduler.ClearFault()
}

// Metrics returns a snapshot of session and per-channel counters.
func (s *Session) Metrics() MetricsSnapshot {
	return s.scheduler.Metrics()
}

// CycleSize returns the packed (unsealed) byte length of one cycle.
func (s *Session) CycleSize() int {
	return s.scheduler.CycleSize()
}
