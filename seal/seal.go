package seal

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/opd-ai/audiowire/limits"
)

// NonceSize is the size of the random nonce prepended to each sealed cycle.
const NonceSize = 24

var (
	// ErrSealedTooShort indicates sealed data shorter than nonce plus tag.
	ErrSealedTooShort = errors.New("sealed payload too short")

	// ErrAuthFailed indicates a sealed payload that failed authentication.
	ErrAuthFailed = errors.New("authentication failed")
)

// Sealer protects packed cycle payloads at the transport boundary.
// Implementations must be safe for use from the scheduler goroutine only;
// the scheduler never seals concurrently.
type Sealer interface {
	// Seal encrypts and authenticates one packed cycle.
	Seal(cycle []byte) ([]byte, error)

	// Open authenticates and decrypts one received cycle.
	Open(sealed []byte) ([]byte, error)

	// Overhead returns the number of bytes Seal adds to a payload.
	Overhead() int
}

// SecretboxSealer seals cycles with NaCl secretbox under a symmetric
// session key. Each sealed payload carries its own random 24-byte nonce
// followed by the ciphertext and Poly1305 tag.
type SecretboxSealer struct {
	key [32]byte
}

// NewSecretboxSealer creates a sealer for an established session key.
func NewSecretboxSealer(key [32]byte) *SecretboxSealer {
	return &SecretboxSealer{key: key}
}

// GenerateKey creates a random symmetric session key. Used for locally
// provisioned sessions; peer-to-peer sessions derive the key from the
// Noise handshake instead.
func GenerateKey() ([32]byte, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return [32]byte{}, fmt.Errorf("generate session key: %w", err)
	}
	return key, nil
}

// Seal encrypts one packed cycle.
//
// Parameters:
//   - cycle: the packed cycle payload, non-empty and within cycle limits
//
// Returns the nonce-prefixed sealed payload, or an error if the payload
// violates size limits or the nonce cannot be generated.
func (s *SecretboxSealer) Seal(cycle []byte) ([]byte, error) {
	if err := limits.ValidateCyclePayload(cycle); err != nil {
		return nil, err
	}

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Seal",
			"error":    err.Error(),
		}).Error("Nonce generation failed")
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, NonceSize, NonceSize+len(cycle)+secretbox.Overhead)
	copy(out, nonce[:])
	out = secretbox.Seal(out, cycle, &nonce, &s.key)

	logrus.WithFields(logrus.Fields{
		"function":    "Seal",
		"cycle_size":  len(cycle),
		"sealed_size": len(out),
	}).Debug("Cycle sealed")

	return out, nil
}

// Open authenticates and decrypts one received cycle. Tampered or
// truncated payloads are rejected without partial output.
func (s *SecretboxSealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < NonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrSealedTooShort, len(sealed))
	}

	var nonce [NonceSize]byte
	copy(nonce[:], sealed[:NonceSize])

	cycle, ok := secretbox.Open(nil, sealed[NonceSize:], &nonce, &s.key)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":    "Open",
			"sealed_size": len(sealed),
		}).Error("Sealed cycle failed authentication")
		return nil, ErrAuthFailed
	}

	return cycle, nil
}

// Overhead returns the bytes added per sealed cycle (nonce plus MAC tag).
func (s *SecretboxSealer) Overhead() int {
	return NonceSize + limits.SealOverhead
}
