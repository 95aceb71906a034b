// Package detsig implements deterministic ECDSA signatures using NIST P-256 and SHA-256.
//
// Pairing peers sign a shared identity string with an ephemeral key and exchange the signature
// and public key over the serial link. Signatures are encoded as the raw concatenation r || s,
// each a big-endian ScalarLength-byte integer.
//
// Nonce generation is made deterministic using RFC 6979 [1], so signing never depends on the
// quality of the peer's random number generator.
//
// [1] RFC 6979 https://datatracker.ietf.org/doc/html/rfc6979#section-3
package detsig

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"math/big"
)

const (
	ScalarLength    = 32
	SignatureLength = 2 * ScalarLength
	// PublicKeyLength is the length of an uncompressed SEC1 curve point.
	PublicKeyLength = 1 + 2*ScalarLength
)

var (
	p256 = elliptic.P256()
)

var (
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrInvalidPublicKey  = errors.New("invalid public key")
	ErrInvalidPrivateKey = errors.New("invalid private key")
)

// Verify checks an r || s signature of digest against an uncompressed P-256 public key.
func Verify(publicKeyBytes, digest, signature []byte) error {
	pX, pY := elliptic.Unmarshal(p256, publicKeyBytes)
	if pX == nil {
		return ErrInvalidPublicKey
	}
	if len(signature) != SignatureLength {
		return ErrInvalidSignature
	}
	var r, s big.Int
	r.SetBytes(signature[:ScalarLength])
	s.SetBytes(signature[ScalarLength:])
	publicKey := ecdsa.PublicKey{Curve: p256, X: pX, Y: pY}
	if ecdsa.Verify(&publicKey, digest, &r, &s) {
		return nil
	}
	return ErrInvalidSignature
}
