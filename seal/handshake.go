package seal

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
)

var (
	// ErrHandshakeNotComplete indicates the handshake is still in progress.
	ErrHandshakeNotComplete = errors.New("handshake not complete")

	// ErrHandshakeComplete indicates a message after handshake completion.
	ErrHandshakeComplete = errors.New("handshake already complete")
)

// Role defines which side of the key establishment we are.
type Role uint8

const (
	// Initiator starts the handshake.
	Initiator Role = iota
	// Responder answers the handshake.
	Responder
)

// Handshake establishes the symmetric session key between two distribution
// endpoints using the Noise XX pattern. XX provides mutual authentication
// without either side knowing the other's static key beforehand, which fits
// commissioning a new endpoint pair. After completion both sides derive the
// same session key from the handshake channel binding.
type Handshake struct {
	role     Role
	state    *noise.HandshakeState
	complete bool
	localPub []byte
}

// NewHandshake creates an XX handshake for one endpoint.
//
// Parameters:
//   - staticPrivKey: our long-term private key (32 bytes), or nil to
//     generate a fresh static keypair for this session
//   - role: Initiator or Responder
func NewHandshake(staticPrivKey []byte, role Role) (*Handshake, error) {
	cipherSuite := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

	var staticKey noise.DHKey
	if staticPrivKey == nil {
		generated, err := cipherSuite.GenerateKeypair(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate static keypair: %w", err)
		}
		staticKey = generated
	} else {
		if len(staticPrivKey) != 32 {
			return nil, fmt.Errorf("static private key must be 32 bytes, got %d", len(staticPrivKey))
		}
		pub, err := curve25519.X25519(staticPrivKey, curve25519.Basepoint)
		if err != nil {
			return nil, fmt.Errorf("derive static public key: %w", err)
		}
		staticKey = noise.DHKey{
			Private: append([]byte(nil), staticPrivKey...),
			Public:  pub,
		}
	}

	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create handshake state: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewHandshake",
		"role":      role,
		"fresh_key": staticPrivKey == nil,
	}).Info("Session key handshake created")

	return &Handshake{
		role:     role,
		state:    state,
		localPub: append([]byte(nil), staticKey.Public...),
	}, nil
}

// WriteMessage produces the next handshake message to send to the peer.
// Returns the message and whether the handshake completed on this side.
func (h *Handshake) WriteMessage() ([]byte, bool, error) {
	if h.complete {
		return nil, false, ErrHandshakeComplete
	}

	message, send, recv, err := h.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, false, fmt.Errorf("handshake write: %w", err)
	}
	if send != nil && recv != nil {
		h.complete = true
	}

	return message, h.complete, nil
}

// ReadMessage consumes a handshake message received from the peer.
// Returns whether the handshake completed on this side.
func (h *Handshake) ReadMessage(message []byte) (bool, error) {
	if h.complete {
		return false, ErrHandshakeComplete
	}

	_, send, recv, err := h.state.ReadMessage(nil, message)
	if err != nil {
		return false, fmt.Errorf("handshake read: %w", err)
	}
	if send != nil && recv != nil {
		h.complete = true
	}

	return h.complete, nil
}

// IsComplete returns whether the handshake finished on this side.
func (h *Handshake) IsComplete() bool {
	return h.complete
}

// SessionKey derives the symmetric session key after completion. Both
// endpoints derive the same key from the handshake channel binding.
func (h *Handshake) SessionKey() ([32]byte, error) {
	if !h.complete {
		return [32]byte{}, ErrHandshakeNotComplete
	}

	binding := h.state.ChannelBinding()
	if len(binding) < 32 {
		return [32]byte{}, fmt.Errorf("channel binding too short: %d bytes", len(binding))
	}

	var key [32]byte
	copy(key[:], binding[:32])
	return key, nil
}

// Sealer builds the default secretbox sealer over the established key.
func (h *Handshake) Sealer() (*SecretboxSealer, error) {
	key, err := h.SessionKey()
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Sealer",
		"role":     h.role,
	}).Info("Session sealer established from handshake")

	return NewSecretboxSealer(key), nil
}

// LocalStaticKey returns our static public key for peer verification.
func (h *Handshake) LocalStaticKey() []byte {
	return append([]byte(nil), h.localPub...)
}

// RemoteStaticKey returns the peer's static public key after completion.
func (h *Handshake) RemoteStaticKey() ([]byte, error) {
	if !h.complete {
		return nil, ErrHandshakeNotComplete
	}
	return append([]byte(nil), h.state.PeerStatic()...), nil
}
