package mux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/audiowire/limits"
)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		slots   []int
		wantErr bool
	}{
		{name: "single_slot", slots: []int{64}, wantErr: false},
		{name: "mixed_capacities", slots: []int{18, 36, 36, 120}, wantErr: false},
		{name: "no_slots", slots: nil, wantErr: true},
		{name: "too_many_slots", slots: make([]int, limits.MaxSlotsPerCycle+1), wantErr: true},
		{name: "zero_capacity_slot", slots: []int{64, 0}, wantErr: true},
		{name: "oversized_slot", slots: []int{limits.MaxSlotCapacity + 1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.slots)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, m)
			} else {
				require.NoError(t, err)
				var total int
				for _, c := range tt.slots {
					total += c
				}
				assert.Equal(t, total, m.CycleSize())
			}
		})
	}
}

func TestBindRejectsConflicts(t *testing.T) {
	m, err := New([]int{36, 36, 36, 36})
	require.NoError(t, err)

	_, err = m.Bind(1, []int{0, 1}, nil)
	require.NoError(t, err)

	_, err = m.Bind(1, []int{2}, nil)
	assert.ErrorIs(t, err, ErrChannelAlreadyBound)

	_, err = m.Bind(2, []int{1}, nil)
	assert.ErrorIs(t, err, ErrSlotAlreadyBound)

	_, err = m.Bind(2, []int{2, 2}, nil)
	assert.ErrorIs(t, err, ErrSlotAlreadyBound)

	_, err = m.Bind(2, []int{4}, nil)
	assert.ErrorIs(t, err, ErrSlotOutOfRange)

	_, err = m.Bind(2, nil, nil)
	assert.ErrorIs(t, err, ErrSlotOutOfRange)
}

func TestUnbindReleasesSlots(t *testing.T) {
	m, err := New([]int{36, 36})
	require.NoError(t, err)

	_, err = m.Bind(1, []int{0}, nil)
	require.NoError(t, err)

	require.NoError(t, m.Unbind(1))
	assert.ErrorIs(t, m.Unbind(1), ErrChannelNotBound)

	// Released slot is reusable by a new binding.
	_, err = m.Bind(2, []int{0}, nil)
	assert.NoError(t, err)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	m, err := New([]int{18, 36, 18, 36})
	require.NoError(t, err)

	_, err = m.Bind(10, []int{0, 2}, nil)
	require.NoError(t, err)
	_, err = m.Bind(11, []int{1}, nil)
	require.NoError(t, err)
	_, err = m.Bind(12, []int{3}, nil)
	require.NoError(t, err)

	payloads := map[uint32][]byte{
		10: pattern(0x10, 36),
		11: pattern(0x20, 36),
		12: pattern(0x30, 36),
	}

	cycle, err := m.Pack(1, payloads)
	require.NoError(t, err)
	assert.Len(t, cycle, m.CycleSize())

	got, err := m.Unpack(cycle)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for channel, want := range payloads {
		assert.Equal(t, want, got[channel], "channel %d", channel)
	}
}

func TestPackMultiSlotAscendingOrder(t *testing.T) {
	m, err := New([]int{4, 4, 4})
	require.NoError(t, err)

	// Slots given out of order must still pack ascending.
	_, err = m.Bind(7, []int{2, 0}, nil)
	require.NoError(t, err)

	cycle, err := m.Pack(1, map[uint32][]byte{
		7: {0xA0, 0xA1, 0xA2, 0xA3, 0xB0, 0xB1, 0xB2, 0xB3},
	})
	require.NoError(t, err)

	// First 4 bytes land in slot 0, last 4 in slot 2, slot 1 stays zero.
	assert.Equal(t, []byte{0xA0, 0xA1, 0xA2, 0xA3}, cycle[0:4])
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, cycle[4:8])
	assert.Equal(t, []byte{0xB0, 0xB1, 0xB2, 0xB3}, cycle[8:12])
}

func TestPackOverflowRejected(t *testing.T) {
	m, err := New([]int{8})
	require.NoError(t, err)
	_, err = m.Bind(1, []int{0}, nil)
	require.NoError(t, err)

	_, err = m.Pack(1, map[uint32][]byte{1: make([]byte, 9)})
	assert.ErrorIs(t, err, ErrChannelOverflow)

	_, err = m.Pack(1, map[uint32][]byte{2: make([]byte, 4)})
	assert.ErrorIs(t, err, ErrChannelNotBound)
}

func TestPackPaddingDeterministic(t *testing.T) {
	m, err := New([]int{8})
	require.NoError(t, err)
	_, err = m.Bind(1, []int{0}, []byte{0xDE, 0xAD})
	require.NoError(t, err)

	short := []byte{0x01, 0x02, 0x03}
	a, err := m.Pack(1, map[uint32][]byte{1: short})
	require.NoError(t, err)
	b, err := m.Pack(2, map[uint32][]byte{1: short})
	require.NoError(t, err)

	assert.True(t, bytes.Equal(a, b), "padding must be reproducible")
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0xDE, 0xAD, 0xDE, 0xAD, 0xDE}, a)
}

func TestPackAbsentChannelPadsFully(t *testing.T) {
	m, err := New([]int{4})
	require.NoError(t, err)
	_, err = m.Bind(1, []int{0}, []byte{0x55})
	require.NoError(t, err)

	cycle, err := m.Pack(1, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x55, 0x55, 0x55, 0x55}, cycle)
}

func TestUnpackSizeMismatch(t *testing.T) {
	m, err := New([]int{8, 8})
	require.NoError(t, err)

	_, err = m.Unpack(make([]byte, 15))
	assert.ErrorIs(t, err, ErrCycleSizeMismatch)

	_, err = m.Unpack(nil)
	assert.ErrorIs(t, err, ErrCycleSizeMismatch)
}

func TestCapacity(t *testing.T) {
	m, err := New([]int{18, 36})
	require.NoError(t, err)
	_, err = m.Bind(3, []int{0, 1}, nil)
	require.NoError(t, err)

	got, err := m.Capacity(3)
	require.NoError(t, err)
	assert.Equal(t, 54, got)

	_, err = m.Capacity(4)
	assert.ErrorIs(t, err, ErrChannelNotBound)
}

func pattern(seed byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}
