package authentication

import (
	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/internal/provider"
)

// Decryptor is the counterpart of Encryptor.
//
// Cipher text received over the serial link is decrypted in NoPadding mode, so the plaintext
// still carries the sender's PKCS#7 padding. Use provider.UnpadPKCS7 to remove it.
type Decryptor struct {
	provider  provider.Provider
	mode      PaddingMode
	algorithm provider.Algorithm
	key       provider.KeyHandle
	op        provider.Cipher

	cipherText      []byte
	iv              []byte
	plainTextLength int
	plainText       []byte
}

// NewDecryptor prepares to decrypt cipherText. If key is nil, DefaultKey is imported.
func NewDecryptor(p provider.Provider, cipherText, iv []byte, mode PaddingMode, key []byte) (*Decryptor, error) {
	if err := checkBlockSize(p); err != nil {
		log.Error("Decryptor configuration error: %s", err)
		return nil, err
	}
	alg, err := mode.algorithm()
	if err != nil {
		return nil, err
	}
	if len(cipherText)%BlockSize != 0 || (mode == PKCS7 && len(cipherText) == 0) {
		return nil, newError(FaultPadding, "cipher text is not a whole number of blocks")
	}
	handle, err := importCipherKey(p, key, provider.UsageDecrypt, alg)
	if err != nil {
		return nil, err
	}
	return &Decryptor{
		provider:        p,
		mode:            mode,
		algorithm:       alg,
		key:             handle,
		cipherText:      append([]byte(nil), cipherText...),
		iv:              append([]byte(nil), iv...),
		plainTextLength: len(cipherText),
	}, nil
}

// UseKey replaces the decryption key, destroying the previous one.
func (d *Decryptor) UseKey(key []byte) error {
	handle, err := importCipherKey(d.provider, key, provider.UsageDecrypt, d.algorithm)
	if err != nil {
		return err
	}
	d.abort()
	d.destroyKey()
	d.key = handle
	return nil
}

func (d *Decryptor) Decrypt() error {
	d.plainText = nil
	if d.key == provider.InvalidHandle {
		return ErrNotInitialized
	}
	d.abort()

	op, err := d.provider.DecryptSetup(d.key, d.algorithm)
	if err != nil {
		return wrapError(FaultDecryptSetup, err)
	}
	d.op = op
	defer d.abort()

	if err := op.SetIV(d.iv); err != nil {
		return wrapError(FaultSetIV, err)
	}
	plainText, err := op.Update(d.cipherText)
	if err != nil {
		return wrapError(FaultDecryptUpdate, err)
	}
	final, err := op.Finish()
	if err != nil {
		return wrapError(FaultDecryptNotFinished, err)
	}
	d.plainText = append(plainText, final...)
	return nil
}

// PlainText returns the result of the last successful Decrypt.
func (d *Decryptor) PlainText() []byte {
	return d.plainText
}

// PlainTextLength is the size of the plaintext buffer, which equals the cipher text length. In
// PKCS7 mode the decrypted message may be shorter.
func (d *Decryptor) PlainTextLength() int {
	return d.plainTextLength
}

func (d *Decryptor) Mode() PaddingMode {
	return d.mode
}

func (d *Decryptor) abort() {
	if d.op != nil {
		d.op.Abort()
		d.op = nil
	}
}

func (d *Decryptor) destroyKey() error {
	if d.key == provider.InvalidHandle {
		return nil
	}
	err := d.provider.DestroyKey(d.key)
	d.key = provider.InvalidHandle
	if err != nil {
		log.Warning("Failed to destroy decryption key: %s", err)
	}
	return err
}

// Close aborts any cipher operation and destroys the key. It is safe to call more than once.
func (d *Decryptor) Close() error {
	d.abort()
	return d.destroyKey()
}
