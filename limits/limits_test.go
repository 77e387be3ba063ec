package limits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePayloadSize(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		maxSize int
		wantErr error
	}{
		{
			name:    "valid_payload",
			payload: make([]byte, 100),
			maxSize: 100,
			wantErr: nil,
		},
		{
			name:    "empty_payload",
			payload: nil,
			maxSize: 100,
			wantErr: ErrPayloadEmpty,
		},
		{
			name:    "payload_too_large",
			payload: make([]byte, 101),
			maxSize: 100,
			wantErr: ErrPayloadTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayloadSize(tt.payload, tt.maxSize)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCyclePayload(t *testing.T) {
	assert.NoError(t, ValidateCyclePayload(make([]byte, MaxCyclePayload)))
	assert.ErrorIs(t, ValidateCyclePayload(make([]byte, MaxCyclePayload+1)), ErrPayloadTooLarge)
	assert.ErrorIs(t, ValidateCyclePayload(nil), ErrPayloadEmpty)
}

func TestValidateChannelCount(t *testing.T) {
	assert.NoError(t, ValidateChannelCount(1))
	assert.NoError(t, ValidateChannelCount(MaxChannels))
	assert.ErrorIs(t, ValidateChannelCount(0), ErrCountOutOfRange)
	assert.ErrorIs(t, ValidateChannelCount(MaxChannels+1), ErrCountOutOfRange)
}

func TestValidateBandCount(t *testing.T) {
	assert.NoError(t, ValidateBandCount(0))
	assert.NoError(t, ValidateBandCount(MaxBandsPerChannel))
	assert.ErrorIs(t, ValidateBandCount(-1), ErrCountOutOfRange)
	assert.ErrorIs(t, ValidateBandCount(MaxBandsPerChannel+1), ErrCountOutOfRange)
}

func TestValidateSlotCapacity(t *testing.T) {
	assert.NoError(t, ValidateSlotCapacity(1))
	assert.NoError(t, ValidateSlotCapacity(MaxSlotCapacity))
	assert.ErrorIs(t, ValidateSlotCapacity(0), ErrCountOutOfRange)
	assert.ErrorIs(t, ValidateSlotCapacity(MaxSlotCapacity+1), ErrCountOutOfRange)
}

func TestValidateQueueDepth(t *testing.T) {
	depth, err := ValidateQueueDepth(0)
	assert.NoError(t, err)
	assert.Equal(t, DefaultQueueDepth, depth)

	depth, err = ValidateQueueDepth(16)
	assert.NoError(t, err)
	assert.Equal(t, 16, depth)

	_, err = ValidateQueueDepth(-1)
	assert.ErrorIs(t, err, ErrCountOutOfRange)

	_, err = ValidateQueueDepth(MaxQueueDepth + 1)
	assert.ErrorIs(t, err, ErrCountOutOfRange)
}
