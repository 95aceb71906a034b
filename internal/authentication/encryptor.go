package authentication

import (
	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/internal/provider"
)

// Encryptor encrypts a single message with AES-CBC under a key held by a provider.
//
// The Encryptor owns its key handle. Close must be called on every path once the Encryptor is no
// longer needed; it aborts any live cipher operation and destroys the key.
type Encryptor struct {
	provider  provider.Provider
	mode      PaddingMode
	algorithm provider.Algorithm
	key       provider.KeyHandle
	op        provider.Cipher

	plaintext        []byte
	cipherTextLength int
	cipherText       []byte
	iv               []byte
}

// NewEncryptor prepares to encrypt plaintext. If key is nil, DefaultKey is imported.
//
// Fails with ErrInvalidBlockSize if the provider's AES block size is not BlockSize, and with
// ErrPadding if mode is NoPadding and plaintext is not a whole number of blocks.
func NewEncryptor(p provider.Provider, plaintext []byte, mode PaddingMode, key []byte) (*Encryptor, error) {
	if err := checkBlockSize(p); err != nil {
		log.Error("Encryptor configuration error: %s", err)
		return nil, err
	}
	alg, err := mode.algorithm()
	if err != nil {
		return nil, err
	}
	length, err := CipherTextLength(len(plaintext), mode)
	if err != nil {
		return nil, err
	}
	handle, err := importCipherKey(p, key, provider.UsageEncrypt, alg)
	if err != nil {
		return nil, err
	}
	return &Encryptor{
		provider:         p,
		mode:             mode,
		algorithm:        alg,
		key:              handle,
		plaintext:        append([]byte(nil), plaintext...),
		cipherTextLength: length,
	}, nil
}

// UseKey replaces the encryption key, typically with one derived by key exchange. The previous
// key is destroyed.
func (e *Encryptor) UseKey(key []byte) error {
	handle, err := importCipherKey(e.provider, key, provider.UsageEncrypt, e.algorithm)
	if err != nil {
		return err
	}
	e.abort()
	e.destroyKey()
	e.key = handle
	return nil
}

// Encrypt encrypts the plaintext under a freshly generated IV. On failure no cipher text is
// retained.
func (e *Encryptor) Encrypt() error {
	e.cipherText = nil
	e.iv = nil
	if e.key == provider.InvalidHandle {
		return ErrNotInitialized
	}
	e.abort()

	op, err := e.provider.EncryptSetup(e.key, e.algorithm)
	if err != nil {
		return wrapError(FaultEncryptSetup, err)
	}
	e.op = op
	defer e.abort()

	iv, err := op.GenerateIV()
	if err != nil {
		return wrapError(FaultIVGeneration, err)
	}
	cipherText, err := op.Update(e.plaintext)
	if err != nil {
		return wrapError(FaultEncryptUpdate, err)
	}
	final, err := op.Finish()
	if err != nil {
		return wrapError(FaultEncryptNotFinished, err)
	}
	cipherText = append(cipherText, final...)
	if len(cipherText) != e.cipherTextLength {
		return newError(FaultEncryptNotFinished, "cipher text length mismatch")
	}
	e.iv = iv
	e.cipherText = cipherText
	return nil
}

// CipherText returns the result of the last successful Encrypt.
func (e *Encryptor) CipherText() []byte {
	return e.cipherText
}

// IV returns the initialization vector used by the last successful Encrypt.
func (e *Encryptor) IV() []byte {
	return e.iv
}

// CipherTextLength is known before Encrypt is called.
func (e *Encryptor) CipherTextLength() int {
	return e.cipherTextLength
}

func (e *Encryptor) Mode() PaddingMode {
	return e.mode
}

func (e *Encryptor) abort() {
	if e.op != nil {
		e.op.Abort()
		e.op = nil
	}
}

func (e *Encryptor) destroyKey() error {
	if e.key == provider.InvalidHandle {
		return nil
	}
	err := e.provider.DestroyKey(e.key)
	e.key = provider.InvalidHandle
	if err != nil {
		log.Warning("Failed to destroy encryption key: %s", err)
	}
	return err
}

// Close aborts any cipher operation and destroys the key. It is safe to call more than once.
func (e *Encryptor) Close() error {
	e.abort()
	return e.destroyKey()
}
