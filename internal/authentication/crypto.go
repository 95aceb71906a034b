package authentication

import (
	"bytes"
	"fmt"

	"github.com/teslamotors/serial-pairing/internal/provider"
)

const (
	// BlockSize is the AES block size the protocol's buffer arithmetic assumes.
	BlockSize = 16
	// SharedKeySizeBytes is the length of the key derived by key exchange.
	SharedKeySizeBytes = 16
	// IVLength is the length of a CBC initialization vector.
	IVLength = BlockSize
)

// DefaultIdentity is the identity string both peers sign and verify.
const DefaultIdentity = "I am 01234567891"

// DefaultKey is imported by cipher managers that are not given a key. It only protects traffic
// sent before key exchange completes.
var DefaultKey = bytes.Repeat([]byte{0xaa}, SharedKeySizeBytes)

var (
	ErrInvalidBlockSize   = newError(FaultInvalidBlockSize, "")
	ErrPadding            = newError(FaultPadding, "")
	ErrKeyImport          = newError(FaultKeyImport, "")
	ErrInvalidAlgorithm   = newError(FaultInvalidAlgorithm, "")
	ErrNotInitialized     = newError(FaultNotInitialized, "")
	ErrEncryptSetup       = newError(FaultEncryptSetup, "")
	ErrIVGeneration       = newError(FaultIVGeneration, "")
	ErrEncryptUpdate      = newError(FaultEncryptUpdate, "")
	ErrEncryptNotFinished = newError(FaultEncryptNotFinished, "")
	ErrDecryptSetup       = newError(FaultDecryptSetup, "")
	ErrSetIV              = newError(FaultSetIV, "")
	ErrDecryptUpdate      = newError(FaultDecryptUpdate, "")
	ErrDecryptNotFinished = newError(FaultDecryptNotFinished, "")
	ErrKeyGeneration      = newError(FaultKeyGeneration, "")
	ErrSign               = newError(FaultSign, "")
	ErrExportPublicKey    = newError(FaultExportPublicKey, "")
	// ErrInvalidPublicKey is an Error raised when a remote peer provides an invalid public key.
	ErrInvalidPublicKey = newError(FaultInvalidPublicKey, "invalid public key")
)

// PaddingMode selects how a cipher manager handles messages that are not a whole number of
// blocks.
type PaddingMode int

const (
	// NoPadding requires messages to be a multiple of BlockSize.
	NoPadding PaddingMode = iota
	// PKCS7 pads messages to the next block boundary. A message that is already aligned gains a
	// full block of padding.
	PKCS7
)

func (m PaddingMode) String() string {
	if m == PKCS7 {
		return "PKCS7"
	}
	return "NoPadding"
}

func (m PaddingMode) algorithm() (provider.Algorithm, error) {
	switch m {
	case NoPadding:
		return provider.AlgorithmCBCNoPadding, nil
	case PKCS7:
		return provider.AlgorithmCBCPKCS7, nil
	}
	return 0, ErrInvalidAlgorithm
}

// CipherTextLength returns the length of the cipher text produced by encrypting plaintextLength
// bytes in the given mode.
func CipherTextLength(plaintextLength int, mode PaddingMode) (int, error) {
	switch mode {
	case NoPadding:
		if plaintextLength%BlockSize != 0 {
			return 0, newError(FaultPadding, "plaintext is not a multiple of the block size")
		}
		return plaintextLength, nil
	case PKCS7:
		return plaintextLength + BlockSize - plaintextLength%BlockSize, nil
	}
	return 0, ErrInvalidAlgorithm
}

// checkBlockSize confirms the provider's AES implementation uses the block size the protocol
// assumes.
func checkBlockSize(p provider.Provider) error {
	if size := p.BlockSize(provider.KeyTypeAES); size != BlockSize {
		return newError(FaultInvalidBlockSize, fmt.Sprintf("provider reports AES block size %d", size))
	}
	return nil
}

func importCipherKey(p provider.Provider, key []byte, usage provider.Usage, alg provider.Algorithm) (provider.KeyHandle, error) {
	if key == nil {
		key = DefaultKey
	}
	handle, err := p.ImportKey(provider.Attributes{
		Type:      provider.KeyTypeAES,
		Bits:      8 * len(key),
		Usage:     usage,
		Algorithm: alg,
	}, key)
	if err != nil {
		return provider.InvalidHandle, wrapError(FaultKeyImport, err)
	}
	return handle, nil
}
