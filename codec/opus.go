package codec

import (
	"fmt"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// OpusMonitorDecoder decodes Opus frames for receive-only monitor channels
// that interoperate with Opus sources. It is decode-only: native traffic
// stays APCM, and monitor channels never transmit.
type OpusMonitorDecoder struct {
	decoder *opus.Decoder
}

// NewOpusMonitorDecoder creates a monitor decoder backed by pion/opus.
func NewOpusMonitorDecoder() *OpusMonitorDecoder {
	decoder := opus.NewDecoder()

	logrus.WithFields(logrus.Fields{
		"function": "NewOpusMonitorDecoder",
	}).Info("Opus monitor decoder created")

	return &OpusMonitorDecoder{decoder: &decoder}
}

// Decode converts one Opus frame to PCM samples, returning the sample rate
// reported by the frame's bandwidth.
func (d *OpusMonitorDecoder) Decode(data []byte) ([]int16, uint32, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("%w: empty opus frame", ErrMalformedFrame)
	}

	// 1920 samples covers a 40 ms frame at 48 kHz.
	output := make([]byte, 1920*2)

	bandwidth, isStereo, err := d.decoder.Decode(data, output)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Decode",
			"data_size": len(data),
			"error":     err.Error(),
		}).Error("Opus decode failed")
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	sampleCount := len(output) / 2
	if isStereo {
		sampleCount /= 2
	}

	pcm := make([]int16, sampleCount)
	for i := 0; i < sampleCount; i++ {
		pcm[i] = int16(output[i*2]) | int16(output[i*2+1])<<8
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Decode",
		"input_size":  len(data),
		"pcm_samples": len(pcm),
		"bandwidth":   bandwidth.String(),
		"is_stereo":   isStereo,
	}).Debug("Opus monitor frame decoded")

	return pcm, uint32(bandwidth.SampleRate()), nil
}
