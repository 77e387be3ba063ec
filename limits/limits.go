// Package limits provides centralized size and range limits for the audiowire
// core. This ensures consistent validation across different components of the
// signal chain.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxChannels is the maximum number of logical PCM channels per session.
	// Sized for large public-address installations while keeping per-tick
	// bookkeeping bounded.
	MaxChannels = 64

	// MaxBandsPerChannel is the maximum number of equalizer bands in one
	// channel's cascade. Ten biquad sections cover a full graphic EQ.
	MaxBandsPerChannel = 10

	// MaxSlotsPerCycle is the maximum number of byte-channel slots the
	// transport may assign to one session.
	MaxSlotsPerCycle = 64

	// MaxSlotCapacity is the maximum capacity of a single byte-channel slot.
	// This matches the payload budget of one transport datagram.
	MaxSlotCapacity = 1372

	// MaxCyclePayload is the absolute maximum for one packed transmission
	// cycle. This prevents memory exhaustion from a misconfigured transport.
	MaxCyclePayload = MaxSlotsPerCycle * MaxSlotCapacity

	// MaxQueueDepth is the maximum depth of a per-channel bounded queue.
	// Deeper queues only add latency; excess work is dropped oldest-first.
	MaxQueueDepth = 256

	// DefaultQueueDepth is the intake/outtake queue depth used when a
	// channel configuration does not specify one.
	DefaultQueueDepth = 8

	// SealOverhead is the overhead added by the authenticated encryption
	// boundary (Poly1305 MAC tag). The nonce is carried separately.
	SealOverhead = 16 // golang.org/x/crypto/nacl/secretbox.Overhead
)

var (
	// ErrPayloadEmpty indicates an empty payload was provided.
	ErrPayloadEmpty = errors.New("empty payload")

	// ErrPayloadTooLarge indicates a payload exceeds its maximum size.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrCountOutOfRange indicates a count is outside its permitted range.
	ErrCountOutOfRange = errors.New("count out of range")
)

// ValidatePayloadSize validates a payload against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidatePayloadSize(payload []byte, maxSize int) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}
	if len(payload) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), maxSize)
	}
	return nil
}

// ValidateCyclePayload validates a packed cycle against MaxCyclePayload.
// All transport-received data should pass this check before unpacking.
func ValidateCyclePayload(payload []byte) error {
	if len(payload) == 0 {
		return ErrPayloadEmpty
	}
	if len(payload) > MaxCyclePayload {
		return fmt.Errorf("%w: cycle size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), MaxCyclePayload)
	}
	return nil
}

// ValidateChannelCount validates a logical channel count for a session.
func ValidateChannelCount(count int) error {
	if count < 1 || count > MaxChannels {
		return fmt.Errorf("%w: channel count %d not in [1, %d]", ErrCountOutOfRange, count, MaxChannels)
	}
	return nil
}

// ValidateBandCount validates the number of equalizer bands for one channel.
func ValidateBandCount(count int) error {
	if count < 0 || count > MaxBandsPerChannel {
		return fmt.Errorf("%w: band count %d not in [0, %d]", ErrCountOutOfRange, count, MaxBandsPerChannel)
	}
	return nil
}

// ValidateSlotCapacity validates the capacity of a single byte-channel slot.
func ValidateSlotCapacity(capacity int) error {
	if capacity < 1 || capacity > MaxSlotCapacity {
		return fmt.Errorf("%w: slot capacity %d not in [1, %d]", ErrCountOutOfRange, capacity, MaxSlotCapacity)
	}
	return nil
}

// ValidateQueueDepth validates a bounded queue depth, returning the default
// depth for zero.
func ValidateQueueDepth(depth int) (int, error) {
	if depth == 0 {
		return DefaultQueueDepth, nil
	}
	if depth < 0 || depth > MaxQueueDepth {
		return 0, fmt.Errorf("%w: queue depth %d not in [1, %d]", ErrCountOutOfRange, depth, MaxQueueDepth)
	}
	return depth, nil
}
