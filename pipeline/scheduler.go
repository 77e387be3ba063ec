package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/dsp/eq"
	"github.com/opd-ai/audiowire/dsp/osc"
	"github.com/opd-ai/audiowire/limits"
	"github.com/opd-ai/audiowire/mux"
	"github.com/opd-ai/audiowire/seal"
)

const (
	// DefaultFrameRate is the per-channel sample budget in frames per second.
	DefaultFrameRate = 20000

	// DefaultBlockSize is the number of samples consumed per tick, matching
	// the default codec analysis window.
	DefaultBlockSize = 64

	// DefaultMissThreshold is the number of consecutive deadline misses
	// that escalates to a session fault.
	DefaultMissThreshold = 8
)

// Config configures the pipeline scheduler for one session.
type Config struct {
	// FrameRate is the fixed per-channel frame budget in frames per second.
	// Zero selects DefaultFrameRate.
	FrameRate int

	// BlockSize is the number of samples processed per tick. Zero selects
	// DefaultBlockSize. The tick period is BlockSize/FrameRate.
	BlockSize int

	// Slots lists the byte-channel slot capacities assigned by the
	// transport for this session.
	Slots []int

	// Sealer encrypts packed cycles before delivery and decrypts received
	// cycles. Nil disables the encryption boundary.
	Sealer seal.Sealer

	// MissThreshold is the consecutive deadline-miss count that escalates
	// to a session fault. Zero selects DefaultMissThreshold.
	MissThreshold int

	// DeliveryDepth bounds the sealed-cycle delivery queue. Zero selects
	// the default depth.
	DeliveryDepth int

	// OnFault is invoked once when the session escalates to a fault.
	OnFault func(error)
}

// Scheduler drives the fixed-rate processing tick across all active
// channels: Equalizer, Interpolator, Codec, Multiplexer on transmit and
// the inverse chain on receive. Channels are isolated; one channel's
// failure never halts the others.
type Scheduler struct {
	config     Config
	tickPeriod time.Duration

	mu       sync.Mutex
	channels map[uint32]*channel
	mux      *mux.Multiplexer
	metrics  *metrics
	delivery *cycleQueue

	cycleID uint64
	running bool
	faulted bool
	cancel  chan struct{}
	done    chan struct{}
}

// New creates a scheduler over the session's slot assignment.
func New(config Config) (*Scheduler, error) {
	if config.FrameRate == 0 {
		config.FrameRate = DefaultFrameRate
	}
	if config.FrameRate < 0 {
		return nil, fmt.Errorf("%w: frame rate %d", limits.ErrCountOutOfRange, config.FrameRate)
	}
	if config.BlockSize == 0 {
		config.BlockSize = DefaultBlockSize
	}
	if config.BlockSize < 0 {
		return nil, fmt.Errorf("%w: block size %d", limits.ErrCountOutOfRange, config.BlockSize)
	}
	if config.MissThreshold == 0 {
		config.MissThreshold = DefaultMissThreshold
	}

	multiplexer, err := mux.New(config.Slots)
	if err != nil {
		return nil, err
	}

	delivery, err := newCycleQueue(config.DeliveryDepth)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		config:     config,
		tickPeriod: time.Duration(config.BlockSize) * time.Second / time.Duration(config.FrameRate),
		channels:   make(map[uint32]*channel),
		mux:        multiplexer,
		metrics:    newMetrics(),
		delivery:   delivery,
	}

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"frame_rate":  config.FrameRate,
		"block_size":  config.BlockSize,
		"tick_period": s.tickPeriod,
		"cycle_bytes": multiplexer.CycleSize(),
	}).Info("Pipeline scheduler created")

	return s, nil
}

// TickPeriod returns the fixed tick budget.
func (s *Scheduler) TickPeriod() time.Duration {
	return s.tickPeriod
}

// ActivateChannel creates the signal chain for a logical channel and binds
// it to its byte-channel slots.
func (s *Scheduler) ActivateChannel(id uint32, config ChannelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.channels[id]; exists {
		return fmt.Errorf("%w: channel %d", ErrChannelActive, id)
	}
	if err := limits.ValidateChannelCount(len(s.channels) + 1); err != nil {
		return err
	}

	ch, err := newChannel(id, config)
	if err != nil {
		return err
	}

	// Codec channels pad underruns with the canonical silent frame;
	// monitor channels pad with zeros.
	var pad []byte
	if !config.Monitor {
		pad = ch.codec.SilentFrame()
	}

	binding, err := s.mux.Bind(id, config.Slots, pad)
	if err != nil {
		return err
	}

	if !config.Monitor {
		capacity, _ := s.mux.Capacity(id)
		if capacity < ch.codec.FrameSize() {
			_ = s.mux.Unbind(id)
			return fmt.Errorf("%w: channel %d has %d bytes for %d-byte frames",
				ErrSlotCapacityTooSmall, id, capacity, ch.codec.FrameSize())
		}
	}

	s.channels[id] = ch

	logrus.WithFields(logrus.Fields{
		"function":   "ActivateChannel",
		"channel":    id,
		"binding_id": binding.ID.String(),
		"active":     len(s.channels),
	}).Info("Channel activated")

	return nil
}

// DeactivateChannel drains a channel deterministically and releases its
// state. The flushed partial window, if any, is returned as a final frame
// so the caller can transmit it out of band.
func (s *Scheduler) DeactivateChannel(id uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, exists := s.channels[id]
	if !exists {
		return nil, fmt.Errorf("%w: channel %d", ErrChannelNotActive, id)
	}

	final, err := ch.drain()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DeactivateChannel",
			"channel":  id,
			"error":    err.Error(),
		}).Error("Drain failed, releasing channel anyway")
	}

	if unbindErr := s.mux.Unbind(id); unbindErr != nil {
		return final, unbindErr
	}
	delete(s.channels, id)
	s.metrics.forget(id)

	logrus.WithFields(logrus.Fields{
		"function": "DeactivateChannel",
		"channel":  id,
		"active":   len(s.channels),
	}).Info("Channel deactivated")

	return final, err
}

// SetBand updates one equalizer band on an active channel. The update is
// crossfaded; invalid or unstable parameters are rejected with the prior
// coefficients retained.
func (s *Scheduler) SetBand(id uint32, band int, params eq.BandParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, exists := s.channels[id]
	if !exists {
		return fmt.Errorf("%w: channel %d", ErrChannelNotActive, id)
	}
	return ch.equalizer.SetBand(band, params)
}

// SetOscillator switches a channel's intake to an oscillator self-test
// tone with the given phase step and read interpolation mode. A zero step
// restores normal PCM intake.
func (s *Scheduler) SetOscillator(id uint32, step uint32, mode osc.InterpMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, exists := s.channels[id]
	if !exists {
		return fmt.Errorf("%w: channel %d", ErrChannelNotActive, id)
	}

	if step == 0 {
		ch.setTone(nil, 0)
		logrus.WithFields(logrus.Fields{
			"function": "SetOscillator",
			"channel":  id,
		}).Info("Self-test tone disabled")
		return nil
	}

	// The tone feeds the intake side of the chain, so its step is
	// validated against the input rate's Nyquist.
	tone, err := osc.New(ch.config.InputRate, 1, mode)
	if err != nil {
		return err
	}
	if err := tone.SetStep(step); err != nil {
		return err
	}
	ch.setTone(tone, 16384)

	logrus.WithFields(logrus.Fields{
		"function":  "SetOscillator",
		"channel":   id,
		"step":      step,
		"mode":      mode.String(),
		"frequency": tone.Frequency(),
	}).Info("Self-test tone enabled")

	return nil
}

// PushPCM feeds one raw PCM block into a channel's intake queue.
func (s *Scheduler) PushPCM(id uint32, block []int16) error {
	s.mu.Lock()
	ch, exists := s.channels[id]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: channel %d", ErrChannelNotActive, id)
	}

	if ch.intake.Push(block) {
		s.metrics.recordDrop(id)
	}
	return nil
}

// PopPCM removes the oldest reconstructed PCM block from a channel's
// outtake queue, or nil when none is pending.
func (s *Scheduler) PopPCM(id uint32) ([]int16, error) {
	s.mu.Lock()
	ch, exists := s.channels[id]
	s.mu.Unlock()
	if !exists {
		return nil, fmt.Errorf("%w: channel %d", ErrChannelNotActive, id)
	}
	return ch.outtake.Pop(), nil
}

// Tick runs one processing cycle across all active channels and returns
// the sealed cycle payload. A tick exceeding the budget is recorded as a
// deadline miss; repeated misses beyond the threshold escalate to a
// session fault.
func (s *Scheduler) Tick() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.faulted {
		return nil, ErrSessionFault
	}

	start := time.Now()
	cycleID := s.cycleID
	s.cycleID++

	perChannel := make(map[uint32][]byte, len(s.channels))
	for id, ch := range s.channels {
		frame, underrun, err := ch.processCycle()
		if err != nil {
			// Fault isolation: this channel's slots pad out, the rest of
			// the cycle proceeds untouched.
			s.metrics.recordFault(id)
			logrus.WithFields(logrus.Fields{
				"function": "Tick",
				"cycle_id": cycleID,
				"channel":  id,
				"error":    err.Error(),
			}).Error("Channel processing failed for cycle")
			continue
		}
		if frame == nil {
			continue
		}
		if underrun {
			s.metrics.recordUnderrun(id)
		} else {
			s.metrics.recordEncode(id, ch.equalizer.SaturationCount()+ch.codec.SaturationCount())
		}
		perChannel[id] = frame
	}

	cycle, err := s.mux.Pack(cycleID, perChannel)
	if err != nil {
		return nil, err
	}

	if s.config.Sealer != nil {
		cycle, err = s.config.Sealer.Seal(cycle)
		if err != nil {
			return nil, err
		}
	}

	elapsed := time.Since(start)
	missed := elapsed > s.tickPeriod
	consecutive := s.metrics.recordCycle(missed, len(s.channels))

	if missed {
		logrus.WithFields(logrus.Fields{
			"function":    "Tick",
			"cycle_id":    cycleID,
			"elapsed":     elapsed,
			"budget":      s.tickPeriod,
			"consecutive": consecutive,
		}).Warn("Tick deadline missed")
	}

	if missed && consecutive >= uint64(s.config.MissThreshold) {
		s.faulted = true
		s.metrics.recordSessionFault()
		logrus.WithFields(logrus.Fields{
			"function":    "Tick",
			"cycle_id":    cycleID,
			"consecutive": consecutive,
			"threshold":   s.config.MissThreshold,
		}).Error("Deadline misses escalated to session fault")
		if s.config.OnFault != nil {
			s.config.OnFault(ErrSessionFault)
		}
		return cycle, ErrSessionFault
	}

	s.delivery.Push(cycle)
	return cycle, nil
}

// NextCycle removes the oldest sealed cycle from the delivery queue, or
// nil when none is pending.
func (s *Scheduler) NextCycle() []byte {
	return s.delivery.Pop()
}

// Receive processes one received cycle through the inverse chain: open the
// seal, unpack slots, decode each channel's frames into its outtake queue.
func (s *Scheduler) Receive(data []byte) error {
	if s.config.Sealer != nil {
		opened, err := s.config.Sealer.Open(data)
		if err != nil {
			return err
		}
		data = opened
	}
	if err := limits.ValidateCyclePayload(data); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	perChannel, err := s.mux.Unpack(data)
	if err != nil {
		return err
	}

	for id, payload := range perChannel {
		ch, exists := s.channels[id]
		if !exists {
			continue
		}
		malformed := ch.receiveCycle(payload)
		for i := 0; i < malformed; i++ {
			s.metrics.recordMalformed(id)
		}
		if malformed == 0 {
			s.metrics.recordDecode(id)
		}
	}

	return nil
}

// Start launches the internal fixed-rate tick loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerRunning
	}
	if s.faulted {
		return ErrSessionFault
	}

	s.running = true
	s.cancel = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.cancel, s.done)

	logrus.WithFields(logrus.Fields{
		"function":    "Start",
		"tick_period": s.tickPeriod,
	}).Info("Scheduler started")

	return nil
}

// Stop halts the tick loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	close(cancel)
	<-done

	logrus.WithFields(logrus.Fields{
		"function": "Stop",
	}).Info("Scheduler stopped")

	return nil
}

// run is the fixed-rate tick loop. The ticker decouples the loop from
// processing time; a slow tick surfaces as a deadline miss, never as an
// unbounded backlog.
func (s *Scheduler) run(cancel <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			if _, err := s.Tick(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "run",
					"error":    err.Error(),
				}).Error("Tick failed, stopping loop")
				s.mu.Lock()
				s.running = false
				s.mu.Unlock()
				return
			}
		}
	}
}

// IsRunning reports whether the tick loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Faulted reports whether the session escalated to a fault.
func (s *Scheduler) Faulted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faulted
}

// ClearFault acknowledges a session fault so the session can be restarted
// explicitly. Channel state is retained.
func (s *Scheduler) ClearFault() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faulted {
		s.faulted = false
		logrus.WithFields(logrus.Fields{
			"function": "ClearFault",
		}).Info("Session fault cleared")
	}
}

// Metrics returns a snapshot of session and per-channel counters.
func (s *Scheduler) Metrics() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// CycleSize returns the packed (unsealed) byte length of one cycle.
func (s *Scheduler) CycleSize() int {
	return s.mux.CycleSize()
}
