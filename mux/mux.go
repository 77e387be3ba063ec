package mux

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/audiowire/limits"
)

var (
	// ErrSlotOutOfRange indicates a slot index outside the session's slot set.
	ErrSlotOutOfRange = errors.New("slot index out of range")

	// ErrSlotAlreadyBound indicates a slot already claimed by a channel.
	ErrSlotAlreadyBound = errors.New("slot already bound")

	// ErrChannelAlreadyBound indicates a channel that already has a binding.
	ErrChannelAlreadyBound = errors.New("channel already bound")

	// ErrChannelNotBound indicates an unknown logical channel.
	ErrChannelNotBound = errors.New("channel not bound")

	// ErrChannelOverflow indicates a channel produced more bytes than its
	// assigned slot capacity for one cycle.
	ErrChannelOverflow = errors.New("channel bytes exceed slot capacity")

	// ErrCycleSizeMismatch indicates a received cycle whose length does not
	// equal the sum of assigned slot capacities.
	ErrCycleSizeMismatch = errors.New("cycle size mismatch")
)

// Binding maps one logical PCM channel to its byte-channel slot(s) for the
// session lifetime. Immutable after creation.
type Binding struct {
	ID      uuid.UUID
	Channel uint32
	Slots   []int  // ascending slot indexes
	Pad     []byte // repeating pattern filling underproduced bytes
}

// Capacity returns the total byte budget of the binding per cycle.
func (b *Binding) capacity(slotCapacities []int) int {
	var total int
	for _, s := range b.Slots {
		total += slotCapacities[s]
	}
	return total
}

// Multiplexer owns the session's slot set and channel bindings.
type Multiplexer struct {
	slotCapacities []int
	slotOwner      []int32 // slot index -> bound channel, -1 when free
	bindings       map[uint32]*Binding
	total          int
}

// New creates a multiplexer for a fixed set of byte-channel slots. Slot
// capacities are constant for the session, derived from the PHY budget and
// frame rate by the transport layer.
func New(slotCapacities []int) (*Multiplexer, error) {
	if len(slotCapacities) == 0 || len(slotCapacities) > limits.MaxSlotsPerCycle {
		return nil, fmt.Errorf("%w: %d slots not in [1, %d]",
			limits.ErrCountOutOfRange, len(slotCapacities), limits.MaxSlotsPerCycle)
	}

	var total int
	for i, capacity := range slotCapacities {
		if err := limits.ValidateSlotCapacity(capacity); err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		total += capacity
	}

	m := &Multiplexer{
		slotCapacities: append([]int(nil), slotCapacities...),
		slotOwner:      make([]int32, len(slotCapacities)),
		bindings:       make(map[uint32]*Binding),
		total:          total,
	}
	for i := range m.slotOwner {
		m.slotOwner[i] = -1
	}

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"slots":       len(slotCapacities),
		"cycle_bytes": total,
	}).Info("Channel multiplexer created")

	return m, nil
}

// CycleSize returns the exact byte length of one packed cycle.
func (m *Multiplexer) CycleSize() int {
	return m.total
}

// Bind assigns the given slots to a logical channel for the session
// lifetime. Slot order is normalized to ascending so both ends reassemble
// multi-slot channels identically. The pad pattern fills underproduced
// bytes; nil pads with zeros.
func (m *Multiplexer) Bind(channel uint32, slots []int, pad []byte) (*Binding, error) {
	if _, exists := m.bindings[channel]; exists {
		return nil, fmt.Errorf("%w: channel %d", ErrChannelAlreadyBound, channel)
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("%w: no slots", ErrSlotOutOfRange)
	}

	sorted := append([]int(nil), slots...)
	sort.Ints(sorted)
	for i, s := range sorted {
		if s < 0 || s >= len(m.slotCapacities) {
			return nil, fmt.Errorf("%w: slot %d", ErrSlotOutOfRange, s)
		}
		if i > 0 && sorted[i-1] == s {
			return nil, fmt.Errorf("%w: slot %d listed twice", ErrSlotAlreadyBound, s)
		}
		if m.slotOwner[s] != -1 {
			return nil, fmt.Errorf("%w: slot %d owned by channel %d", ErrSlotAlreadyBound, s, m.slotOwner[s])
		}
	}

	binding := &Binding{
		ID:      uuid.New(),
		Channel: channel,
		Slots:   sorted,
		Pad:     append([]byte(nil), pad...),
	}
	if len(binding.Pad) == 0 {
		binding.Pad = []byte{0}
	}

	for _, s := range sorted {
		m.slotOwner[s] = int32(channel)
	}
	m.bindings[channel] = binding

	logrus.WithFields(logrus.Fields{
		"function":   "Bind",
		"binding_id": binding.ID.String(),
		"channel":    channel,
		"slots":      sorted,
		"capacity":   binding.capacity(m.slotCapacities),
	}).Info("Channel bound to byte-channel slots")

	return binding, nil
}

// Unbind releases a channel's slots at session teardown.
func (m *Multiplexer) Unbind(channel uint32) error {
	binding, exists := m.bindings[channel]
	if !exists {
		return fmt.Errorf("%w: channel %d", ErrChannelNotBound, channel)
	}
	for _, s := range binding.Slots {
		m.slotOwner[s] = -1
	}
	delete(m.bindings, channel)

	logrus.WithFields(logrus.Fields{
		"function":   "Unbind",
		"binding_id": binding.ID.String(),
		"channel":    channel,
	}).Info("Channel binding released")

	return nil
}

// Capacity returns the per-cycle byte budget of a bound channel.
func (m *Multiplexer) Capacity(channel uint32) (int, error) {
	binding, exists := m.bindings[channel]
	if !exists {
		return 0, fmt.Errorf("%w: channel %d", ErrChannelNotBound, channel)
	}
	return binding.capacity(m.slotCapacities), nil
}

// Pack assembles one transmission cycle. The result always has exactly
// CycleSize bytes: every assigned slot is filled completely, underproducing
// channels are padded with their pattern, and unbound slots carry zeros.
// A channel producing more than its capacity is an error; its bytes are
// never spilled into a neighbor slot.
func (m *Multiplexer) Pack(cycleID uint64, perChannel map[uint32][]byte) ([]byte, error) {
	for channel := range perChannel {
		if _, exists := m.bindings[channel]; !exists {
			return nil, fmt.Errorf("%w: channel %d", ErrChannelNotBound, channel)
		}
	}

	out := make([]byte, m.total)
	slotOffsets := m.slotOffsets()

	for channel, binding := range m.bindings {
		payload := perChannel[channel]
		capacity := binding.capacity(m.slotCapacities)
		if len(payload) > capacity {
			logrus.WithFields(logrus.Fields{
				"function": "Pack",
				"cycle_id": cycleID,
				"channel":  channel,
				"produced": len(payload),
				"capacity": capacity,
			}).Error("Channel overproduced for cycle")
			return nil, fmt.Errorf("%w: channel %d produced %d of %d", ErrChannelOverflow, channel, len(payload), capacity)
		}

		if len(payload) < capacity {
			logrus.WithFields(logrus.Fields{
				"function": "Pack",
				"cycle_id": cycleID,
				"channel":  channel,
				"produced": len(payload),
				"capacity": capacity,
			}).Debug("Channel underproduced, padding deterministically")
			payload = padTo(payload, capacity, binding.Pad)
		}

		// Fill the channel's slots in ascending index order.
		var consumed int
		for _, s := range binding.Slots {
			n := m.slotCapacities[s]
			copy(out[slotOffsets[s]:slotOffsets[s]+n], payload[consumed:consumed+n])
			consumed += n
		}
	}

	return out, nil
}

// Unpack splits one received cycle back into per-channel byte sequences,
// reassembling multi-slot channels in ascending slot-index order.
func (m *Multiplexer) Unpack(cycle []byte) (map[uint32][]byte, error) {
	if len(cycle) != m.total {
		logrus.WithFields(logrus.Fields{
			"function":   "Unpack",
			"cycle_size": len(cycle),
			"want_size":  m.total,
		}).Error("Received cycle has wrong size")
		return nil, fmt.Errorf("%w: got %d, want %d", ErrCycleSizeMismatch, len(cycle), m.total)
	}

	slotOffsets := m.slotOffsets()
	perChannel := make(map[uint32][]byte, len(m.bindings))
	for channel, binding := range m.bindings {
		payload := make([]byte, 0, binding.capacity(m.slotCapacities))
		for _, s := range binding.Slots {
			payload = append(payload, cycle[slotOffsets[s]:slotOffsets[s]+m.slotCapacities[s]]...)
		}
		perChannel[channel] = payload
	}

	return perChannel, nil
}

func (m *Multiplexer) slotOffsets() []int {
	offsets := make([]int, len(m.slotCapacities))
	var off int
	for i, capacity := range m.slotCapacities {
		offsets[i] = off
		off += capacity
	}
	return offsets
}

// padTo extends payload to the target size by repeating the pattern.
func padTo(payload []byte, size int, pattern []byte) []byte {
	out := make([]byte, size)
	copy(out, payload)
	for i := len(payload); i < size; i++ {
		out[i] = pattern[(i-len(payload))%len(pattern)]
	}
	return out
}
