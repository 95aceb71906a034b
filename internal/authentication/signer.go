package authentication

import (
	"crypto/sha256"
	"fmt"

	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/internal/provider"
)

const (
	SignatureLength = 64
	PublicKeyLength = 65
)

// Credential is a peer's proof of identity: a signature over the shared identity string and the
// public key that verifies it.
type Credential struct {
	Signature []byte
	PublicKey []byte
}

// Validate checks the Credential has the lengths the wire format requires.
func (c *Credential) Validate() error {
	if len(c.Signature) != SignatureLength {
		return fmt.Errorf("signature is %d bytes, expected %d", len(c.Signature), SignatureLength)
	}
	if len(c.PublicKey) != PublicKeyLength {
		return fmt.Errorf("public key is %d bytes, expected %d", len(c.PublicKey), PublicKeyLength)
	}
	return nil
}

var signingKeyAttributes = provider.Attributes{
	Type:      provider.KeyTypeECCKeyPairP256,
	Bits:      256,
	Usage:     provider.UsageSignHash | provider.UsageVerifyHash,
	Algorithm: provider.AlgorithmDeterministicECDSA,
}

// Signers prove possession of the shared identity string by signing its SHA-256 digest with an
// ephemeral P-256 key.
type Signer struct {
	provider  provider.Provider
	data      []byte
	key       provider.KeyHandle
	signature []byte
}

// NewSigner creates a Signer for data. No key exists until Sign is called.
func NewSigner(p provider.Provider, data []byte) *Signer {
	return &Signer{provider: p, data: append([]byte(nil), data...)}
}

// Sign generates a fresh key pair, replacing any previous one, and returns the signature of data.
func (s *Signer) Sign() ([]byte, error) {
	s.signature = nil
	s.destroyKey()
	handle, err := s.provider.GenerateKeyPair(signingKeyAttributes)
	if err != nil {
		return nil, wrapError(FaultKeyGeneration, err)
	}
	s.key = handle
	digest := sha256.Sum256(s.data)
	signature, err := s.provider.SignHash(s.key, provider.AlgorithmDeterministicECDSA, digest[:])
	if err != nil {
		return nil, wrapError(FaultSign, err)
	}
	if len(signature) != SignatureLength {
		return nil, newError(FaultSign, fmt.Sprintf("unexpected signature length %d", len(signature)))
	}
	s.signature = signature
	return signature, nil
}

// ExportPublicKey returns the uncompressed public key that verifies the last signature.
func (s *Signer) ExportPublicKey() ([]byte, error) {
	if s.key == provider.InvalidHandle {
		return nil, ErrNotInitialized
	}
	public, err := s.provider.ExportPublicKey(s.key)
	if err != nil {
		return nil, wrapError(FaultExportPublicKey, err)
	}
	return public, nil
}

// Credential signs data and packages the signature with the public key.
func (s *Signer) Credential() (*Credential, error) {
	signature, err := s.Sign()
	if err != nil {
		return nil, err
	}
	public, err := s.ExportPublicKey()
	if err != nil {
		return nil, err
	}
	return &Credential{Signature: signature, PublicKey: public}, nil
}

func (s *Signer) destroyKey() {
	if s.key == provider.InvalidHandle {
		return
	}
	if err := s.provider.DestroyKey(s.key); err != nil {
		log.Warning("Failed to destroy signing key: %s", err)
	}
	s.key = provider.InvalidHandle
}

// Close destroys the signing key.
func (s *Signer) Close() error {
	s.destroyKey()
	return nil
}
