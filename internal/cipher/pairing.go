// Package cipher implements the server side of session security: the
// pair-setup/pair-verify state machine as the RTSP router consumes
// it, and the ChaCha20-Poly1305 streaming cipher that protects every
// RTSP byte once verify completes.
//
// The full HomeKit/SRP pairing stack is an external collaborator;
// what lives here is the narrow consumed contract (Driver) plus an
// X25519/HKDF/ChaCha20-Poly1305 transient-pairing driver standing in
// for that library — real primitives, a deliberately simplified
// two-message exchange rather than the full HAP SRP dance.
package cipher

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// ErrCipherFailure is returned when an AEAD check fails; fatal for
// the owning session.
var ErrCipherFailure = errors.New("cipher: AEAD verification failed")

// PairResult is what the RTSP router needs once a driver completes:
// the 32-byte shared secret used to derive the session's stream keys.
type PairResult struct {
	SharedSecret [32]byte
}

// Driver is the pair-setup/pair-verify state machine as consumed by
// the RTSP router: feed it the request body, get back an opaque
// response body and, once the exchange is complete, a shared secret.
type Driver interface {
	// Step consumes one request body and returns the bytes to send
	// back to the peer. done is true once result is populated.
	Step(body []byte) (response []byte, done bool, result *PairResult, err error)
}

// LongTermIdentity is the receiver's persistent Ed25519 keypair, used
// to sign the ephemeral public key during pair-verify so a returning
// client can recognize this receiver across sessions.
type LongTermIdentity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// PublicKey returns the identity's raw Ed25519 public key bytes, used
// by the RTSP router's GET /info reply and the mDNS TXT records.
func (id *LongTermIdentity) PublicKey() []byte {
	return []byte(id.Public)
}

// NewLongTermIdentity generates a fresh Ed25519 identity. In a real
// deployment this is persisted across restarts; the composition root
// owns that persistence and passes the loaded identity in here.
func NewLongTermIdentity() (*LongTermIdentity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cipher: generating identity: %w", err)
	}
	return &LongTermIdentity{Public: pub, Private: priv}, nil
}

// setupDriver backs POST /pair-setup: a single-message transient
// exchange with no persisted client identity, AirPlay 2's transient
// pairing mode.
type setupDriver struct {
	identity *LongTermIdentity
}

// NewPairSetupDriver returns the Driver used for POST /pair-setup.
func NewPairSetupDriver(identity *LongTermIdentity) Driver {
	return &setupDriver{identity: identity}
}

func (d *setupDriver) Step(body []byte) ([]byte, bool, *PairResult, error) {
	if len(body) != 32 {
		return nil, false, nil, fmt.Errorf("cipher: pair-setup expects a 32-byte X25519 public key, got %d", len(body))
	}

	var clientPub [32]byte
	copy(clientPub[:], body)

	serverPriv, serverPub, err := generateX25519Keypair()
	if err != nil {
		return nil, false, nil, err
	}

	shared, err := curve25519.X25519(serverPriv[:], clientPub[:])
	if err != nil {
		return nil, false, nil, fmt.Errorf("cipher: pair-setup ECDH: %w", err)
	}

	secret, err := deriveSharedSecret(shared, "Pair-Setup-Encrypt-Salt", "Pair-Setup-Encrypt-Info")
	if err != nil {
		return nil, false, nil, err
	}

	return serverPub[:], true, &PairResult{SharedSecret: secret}, nil
}

// verifyDriver backs POST /pair-verify.
type verifyDriver struct {
	identity *LongTermIdentity
}

// NewPairVerifyDriver returns the Driver used for POST /pair-verify.
func NewPairVerifyDriver(identity *LongTermIdentity) Driver {
	return &verifyDriver{identity: identity}
}

func (d *verifyDriver) Step(body []byte) ([]byte, bool, *PairResult, error) {
	if len(body) != 32 {
		return nil, false, nil, fmt.Errorf("cipher: pair-verify expects a 32-byte X25519 public key, got %d", len(body))
	}

	var clientPub [32]byte
	copy(clientPub[:], body)

	serverPriv, serverPub, err := generateX25519Keypair()
	if err != nil {
		return nil, false, nil, err
	}

	shared, err := curve25519.X25519(serverPriv[:], clientPub[:])
	if err != nil {
		return nil, false, nil, fmt.Errorf("cipher: pair-verify ECDH: %w", err)
	}

	// Sign server_pub || client_pub so a client holding our long-term
	// public key can authenticate this exchange. The response carries
	// the raw signature appended to the ephemeral public key; a real
	// HAP client also encrypts this under an intermediate key, which
	// we skip per the "pairing library is out of scope" boundary.
	signed := append(append([]byte{}, serverPub[:]...), clientPub[:]...)
	sig := ed25519.Sign(d.identity.Private, signed)

	secret, err := deriveSharedSecret(shared, "Pair-Verify-Encrypt-Salt", "Pair-Verify-Encrypt-Info")
	if err != nil {
		return nil, false, nil, err
	}

	response := append(append([]byte{}, serverPub[:]...), sig...)
	return response, true, &PairResult{SharedSecret: secret}, nil
}

func generateX25519Keypair() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("cipher: generating ephemeral key: %w", err)
	}
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, fmt.Errorf("cipher: deriving ephemeral public key: %w", err)
	}
	copy(pub[:], p)
	return priv, pub, nil
}

func deriveSharedSecret(ecdh []byte, salt, info string) ([32]byte, error) {
	var secret [32]byte
	r := hkdf.New(sha512.New, ecdh, []byte(salt), []byte(info))
	if _, err := r.Read(secret[:]); err != nil {
		return secret, fmt.Errorf("cipher: HKDF: %w", err)
	}
	return secret, nil
}
