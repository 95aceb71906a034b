package authentication

import (
	"crypto/rand"
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/curve25519"

	"github.com/teslamotors/serial-pairing/internal/log"
)

// KeyExchangeKeyLength is the length of an X25519 public key on the wire.
const KeyExchangeKeyLength = curve25519.PointSize

// KeyExchange derives the session key shared by two peers using X25519.
//
// Public keys are sent as the big-endian encoding of the u-coordinate, the reverse of the RFC 7748
// byte order. The session key is the low 128 bits of the shared u-coordinate, arranged as four
// 32-bit words from least to most significant, each written big-endian.
type KeyExchange struct {
	rng       io.Reader
	private   []byte
	public    []byte
	sharedKey []byte
	status    Fault
}

// NewKeyExchange creates a KeyExchange that draws its private key from rng, or from crypto/rand
// if rng is nil.
func NewKeyExchange(rng io.Reader) *KeyExchange {
	if rng == nil {
		rng = rand.Reader
	}
	return &KeyExchange{rng: rng}
}

func (k *KeyExchange) fail(code Fault, err error) error {
	k.status = code
	log.Error("Key exchange failed: %s", errCodeString(code))
	if err == nil {
		return newError(code, "")
	}
	return wrapError(code, err)
}

// GenerateKey creates a new local key pair and returns the public key in wire format.
func (k *KeyExchange) GenerateKey() ([]byte, error) {
	if k.rng == nil {
		return nil, k.fail(FaultKeyExchangeInit, nil)
	}
	k.erase()
	private := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(k.rng, private); err != nil {
		return nil, k.fail(FaultKeyExchangeKeyGeneration, err)
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return nil, k.fail(FaultKeyExchangeKeyGeneration, err)
	}
	if len(public) != KeyExchangeKeyLength {
		return nil, k.fail(FaultKeyExchangeWrite, nil)
	}
	k.private = private
	k.public = reverse(public)
	k.status = FaultNone
	return k.PublicKey(), nil
}

// PublicKey returns the wire-format public key, or nil before GenerateKey.
func (k *KeyExchange) PublicKey() []byte {
	return append([]byte(nil), k.public...)
}

// ComputeSharedSecret combines the local private key with the peer's wire-format public key and
// returns the SharedKeySizeBytes session key.
func (k *KeyExchange) ComputeSharedSecret(peerPublic []byte) ([]byte, error) {
	if k.private == nil {
		return nil, k.fail(FaultNotInitialized, nil)
	}
	if len(peerPublic) != KeyExchangeKeyLength {
		return nil, k.fail(FaultKeyExchangeRead, nil)
	}
	shared, err := curve25519.X25519(k.private, reverse(peerPublic))
	if err != nil {
		// Includes low-order peer points, which yield an all-zero secret.
		return nil, k.fail(FaultKeyExchangeCompute, err)
	}
	key := make([]byte, SharedKeySizeBytes)
	for word := 0; word < SharedKeySizeBytes/4; word++ {
		for i := 0; i < 4; i++ {
			key[4*word+i] = shared[4*word+3-i]
		}
	}
	if subtle.ConstantTimeCompare(key, make([]byte, SharedKeySizeBytes)) == 1 {
		return nil, k.fail(FaultKeyExchangeCompute, nil)
	}
	k.sharedKey = key
	k.status = FaultNone
	return append([]byte(nil), key...), nil
}

// Status returns the fault recorded by the most recent failed call, or FaultNone.
func (k *KeyExchange) Status() Fault {
	return k.status
}

func (k *KeyExchange) erase() {
	for i := range k.private {
		k.private[i] = 0
	}
	for i := range k.sharedKey {
		k.sharedKey[i] = 0
	}
	k.private = nil
	k.sharedKey = nil
}

// Close erases the private key and shared secret.
func (k *KeyExchange) Close() error {
	k.erase()
	k.public = nil
	return nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}
