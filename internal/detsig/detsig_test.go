package detsig

import (
	"bytes"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

// Test vector from RFC 6979, Appendix A.2.5 (P-256, SHA-256, message "sample").
const (
	rfcPrivateKey = "c9afa9d845ba75166b5c215767b1d6934e50c3db36e89b127b8a622b120f6721"
	rfcNonce      = "a6e3c57dd01abe90086538398355dd4c3b17aa873382b0f24d6129493d8aad60"
	rfcR          = "efd48b2aacb6a8fd1140dd9cd45e81d69d2c877b56aaf991c34d0ea84eaf3716"
	rfcS          = "f7cb1c942d657c41d436c7a1b6e29f65f3e900dbb9aff4064dc4ab2f843acda8"
)

func mustDecode(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func testKey(t *testing.T) *ecdh.PrivateKey {
	skey, err := ecdh.P256().NewPrivateKey(mustDecode(t, rfcPrivateKey))
	if err != nil {
		t.Fatal(err)
	}
	return skey
}

func goodSig(t *testing.T) ([]byte, []byte, []byte) {
	skey := testKey(t)
	digest := sha256.Sum256([]byte("sample"))
	signature, err := Sign(skey.Bytes(), digest)
	if err != nil {
		t.Fatal(err)
	}
	return skey.PublicKey().Bytes(), digest[:], signature
}

func TestDeterministicNonce(t *testing.T) {
	digest := sha256.Sum256([]byte("sample"))
	nonce := DeterministicNonce(mustDecode(t, rfcPrivateKey), digest)
	if !bytes.Equal(nonce, mustDecode(t, rfcNonce)) {
		t.Errorf("Unexpected nonce %x", nonce)
	}
}

func TestSignMatchesTestVector(t *testing.T) {
	_, _, signature := goodSig(t)
	expected := append(mustDecode(t, rfcR), mustDecode(t, rfcS)...)
	if !bytes.Equal(signature, expected) {
		t.Errorf("Unexpected signature %x", signature)
	}
}

func TestSignIsDeterministic(t *testing.T) {
	_, _, first := goodSig(t)
	_, _, second := goodSig(t)
	if !bytes.Equal(first, second) {
		t.Errorf("Signatures differ")
	}
}

func TestVerify(t *testing.T) {
	pkey, digest, signature := goodSig(t)
	if err := Verify(pkey, digest, signature); err != nil {
		t.Error(err)
	}
}

func TestVerifyWrongMessage(t *testing.T) {
	pkey, digest, signature := goodSig(t)
	digest[0] ^= 1
	if err := Verify(pkey, digest, signature); err != ErrInvalidSignature {
		t.Errorf("Expected ErrInvalidSignature but got %s", err)
	}
}

func TestVerifyWrongPublicKey(t *testing.T) {
	_, digest, signature := goodSig(t)
	scalar := make([]byte, ScalarLength)
	scalar[0] = 4
	skey, err := ecdh.P256().NewPrivateKey(scalar)
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(skey.PublicKey().Bytes(), digest, signature); err != ErrInvalidSignature {
		t.Errorf("Expected ErrInvalidSignature but got %s", err)
	}
}

func TestInvalidSignature(t *testing.T) {
	pkey, digest, signature := goodSig(t)
	signature[len(signature)-1] ^= 1
	if err := Verify(pkey, digest, signature); err != ErrInvalidSignature {
		t.Errorf("Expected ErrInvalidSignature but got %s", err)
	}
	signature[len(signature)-1] ^= 1
	signature[0] ^= 1
	if err := Verify(pkey, digest, signature); err != ErrInvalidSignature {
		t.Errorf("Expected ErrInvalidSignature but got %s", err)
	}
}

func TestPublicKeyNotOnCurve(t *testing.T) {
	pkey, digest, signature := goodSig(t)
	pkey[0] ^= 1
	if err := Verify(pkey, digest, signature); err != ErrInvalidPublicKey {
		t.Errorf("Expected ErrInvalidPublicKey but got %s", err)
	}
}

func TestZeroPublicKey(t *testing.T) {
	_, digest, signature := goodSig(t)
	pkey := make([]byte, PublicKeyLength)
	pkey[0] = 0x04
	if err := Verify(pkey, digest, signature); err != ErrInvalidPublicKey {
		t.Errorf("Expected ErrInvalidPublicKey but got %s", err)
	}
}

func TestSignatureTooShort(t *testing.T) {
	pkey, digest, signature := goodSig(t)
	signature = signature[:len(signature)-1]
	if err := Verify(pkey, digest, signature); err != ErrInvalidSignature {
		t.Errorf("Expected ErrInvalidSignature but got %s", err)
	}
}

func TestInvalidPrivateKey(t *testing.T) {
	digest := sha256.Sum256([]byte("sample"))
	if _, err := Sign(make([]byte, ScalarLength), digest); err != ErrInvalidPrivateKey {
		t.Errorf("Expected ErrInvalidPrivateKey for zero scalar but got %v", err)
	}
	if _, err := Sign([]byte{1, 2, 3}, digest); err != ErrInvalidPrivateKey {
		t.Errorf("Expected ErrInvalidPrivateKey for short scalar but got %v", err)
	}
}
