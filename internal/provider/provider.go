// Package provider defines the key-handle based cryptography interface used by the pairing
// protocol, along with a native Go implementation.
//
// Raw secret key material never leaves a Provider once imported or generated. Callers refer to
// keys by KeyHandle and must destroy every handle they obtain.
package provider

import (
	"fmt"
)

// KeyHandle is an opaque reference to a key held by a Provider.
type KeyHandle uint32

// InvalidHandle is never returned by a successful import or generate call.
const InvalidHandle KeyHandle = 0

type KeyType int

const (
	KeyTypeAES KeyType = iota + 1
	KeyTypeECCKeyPairP256
	KeyTypeECCPublicKeyP256
)

var keyTypeNames = map[KeyType]string{
	KeyTypeAES:              "AES",
	KeyTypeECCKeyPairP256:   "ECC_KEY_PAIR(SECP256R1)",
	KeyTypeECCPublicKeyP256: "ECC_PUBLIC_KEY(SECP256R1)",
}

func (k KeyType) String() string {
	if name, ok := keyTypeNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KeyType(%d)", int(k))
}

type Algorithm int

const (
	AlgorithmCBCNoPadding Algorithm = iota + 1
	AlgorithmCBCPKCS7
	// AlgorithmDeterministicECDSA is RFC 6979 ECDSA over SHA-256 digests.
	AlgorithmDeterministicECDSA
)

var algorithmNames = map[Algorithm]string{
	AlgorithmCBCNoPadding:       "CBC_NO_PADDING",
	AlgorithmCBCPKCS7:           "CBC_PKCS7",
	AlgorithmDeterministicECDSA: "DETERMINISTIC_ECDSA(SHA_256)",
}

func (a Algorithm) String() string {
	if name, ok := algorithmNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// Usage flags restrict the operations a key may be used for.
type Usage uint32

const (
	UsageEncrypt Usage = 1 << iota
	UsageDecrypt
	UsageSignHash
	UsageVerifyHash
)

// Attributes describe a key and the policy attached to it. Bits may be left zero to accept any
// size valid for Type.
type Attributes struct {
	Type      KeyType
	Bits      int
	Usage     Usage
	Algorithm Algorithm
}

// Provider performs cryptographic operations on keys it holds.
type Provider interface {
	// ImportKey stores raw key material and returns a handle to it.
	ImportKey(attrs Attributes, raw []byte) (KeyHandle, error)
	// GenerateKeyPair creates a new key of the requested type.
	GenerateKeyPair(attrs Attributes) (KeyHandle, error)
	// ExportPublicKey returns the public half of an asymmetric key in uncompressed SEC1 form.
	ExportPublicKey(handle KeyHandle) ([]byte, error)
	// DestroyKey erases the key material referenced by handle.
	DestroyKey(handle KeyHandle) error

	// BlockSize returns the native block size of a cipher key type, or 0 if the type is not a
	// block cipher.
	BlockSize(keyType KeyType) int
	// EncryptSetup starts a multi-part encryption.
	EncryptSetup(handle KeyHandle, alg Algorithm) (Cipher, error)
	// DecryptSetup starts a multi-part decryption.
	DecryptSetup(handle KeyHandle, alg Algorithm) (Cipher, error)

	// SignHash signs a message digest.
	SignHash(handle KeyHandle, alg Algorithm, hash []byte) ([]byte, error)
	// VerifyHash returns nil if signature is a valid signature of hash.
	VerifyHash(handle KeyHandle, alg Algorithm, hash, signature []byte) error
}

// Cipher is a multi-part symmetric cipher operation. After Finish or Abort the operation is
// inactive and every further call other than Abort fails with StatusBadState.
type Cipher interface {
	// GenerateIV picks a random IV for an encryption, installs it, and returns it.
	GenerateIV() ([]byte, error)
	SetIV(iv []byte) error
	// Update processes input and returns whatever output is ready. Output may lag input by up
	// to one block.
	Update(input []byte) ([]byte, error)
	// Finish processes buffered input, applying or removing padding, and ends the operation.
	Finish() ([]byte, error)
	// Abort ends the operation and erases its state. Abort may be called at any time.
	Abort()
}
