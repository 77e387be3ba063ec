package pipeline

import (
	"sync"
	"time"
)

// ChannelMetrics is a snapshot of one channel's counters.
type ChannelMetrics struct {
	FramesEncoded     uint64
	FramesDecoded     uint64
	SaturationEvents  uint64
	MalformedFrames   uint64
	DroppedBlocks     uint64
	UnderrunCycles    uint64
	ProcessingFaults  uint64
	LastActivity      time.Time
}

// SessionMetrics is a snapshot of session-wide scheduler counters.
type SessionMetrics struct {
	Cycles            uint64
	DeadlineMisses    uint64
	ConsecutiveMisses uint64
	SessionFaults     uint64
	ActiveChannels    int
	LastCycle         time.Time
}

// MetricsSnapshot aggregates session and per-channel counters for telemetry.
type MetricsSnapshot struct {
	Session  SessionMetrics
	Channels map[uint32]ChannelMetrics
}

// metrics collects counters across the scheduler and its channels. All
// mutation happens on the tick goroutine; snapshots may be taken from any
// goroutine.
type metrics struct {
	mu       sync.RWMutex
	session  SessionMetrics
	channels map[uint32]*ChannelMetrics
}

func newMetrics() *metrics {
	return &metrics{channels: make(map[uint32]*ChannelMetrics)}
}

func (m *metrics) channel(id uint32) *ChannelMetrics {
	if cm, ok := m.channels[id]; ok {
		return cm
	}
	cm := &ChannelMetrics{}
	m.channels[id] = cm
	return cm
}

func (m *metrics) recordEncode(id uint32, saturations uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cm := m.channel(id)
	cm.FramesEncoded++
	cm.SaturationEvents = saturations
	cm.LastActivity = time.Now()
}

func (m *metrics) recordDecode(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cm := m.channel(id)
	cm.FramesDecoded++
	cm.LastActivity = time.Now()
}

func (m *metrics) recordMalformed(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channel(id).MalformedFrames++
}

func (m *metrics) recordDrop(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channel(id).DroppedBlocks++
}

func (m *metrics) recordUnderrun(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channel(id).UnderrunCycles++
}

func (m *metrics) recordFault(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channel(id).ProcessingFaults++
}

// recordCycle updates session counters for one completed tick and returns
// the consecutive-miss count after this tick.
func (m *metrics) recordCycle(missed bool, activeChannels int) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session.Cycles++
	m.session.ActiveChannels = activeChannels
	m.session.LastCycle = time.Now()
	if missed {
		m.session.DeadlineMisses++
		m.session.ConsecutiveMisses++
	} else {
		m.session.ConsecutiveMisses = 0
	}
	return m.session.ConsecutiveMisses
}

func (m *metrics) recordSessionFault() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session.SessionFaults++
}

func (m *metrics) forget(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, id)
}

// Snapshot returns a copy of all counters.
func (m *metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		Session:  m.session,
		Channels: make(map[uint32]ChannelMetrics, len(m.channels)),
	}
	for id, cm := range m.channels {
		snap.Channels[id] = *cm
	}
	return snap
}
