package authentication

import (
	"bytes"
	"errors"
	"testing"

	"github.com/teslamotors/serial-pairing/internal/provider"
)

var testPlaintext = []byte("I am plaintext.1234\x00")

// faultyProvider wraps a Native provider and fails the named cipher step.
type faultyProvider struct {
	*provider.Native
	failAt    string
	blockSize int
}

var errInjected = &provider.StatusError{Op: "injected", Status: provider.StatusGenericError}

func (f *faultyProvider) BlockSize(keyType provider.KeyType) int {
	if f.blockSize != 0 {
		return f.blockSize
	}
	return f.Native.BlockSize(keyType)
}

func (f *faultyProvider) ImportKey(attrs provider.Attributes, raw []byte) (provider.KeyHandle, error) {
	if f.failAt == "import" {
		return provider.InvalidHandle, errInjected
	}
	return f.Native.ImportKey(attrs, raw)
}

func (f *faultyProvider) EncryptSetup(handle provider.KeyHandle, alg provider.Algorithm) (provider.Cipher, error) {
	if f.failAt == "setup" {
		return nil, errInjected
	}
	op, err := f.Native.EncryptSetup(handle, alg)
	if err != nil {
		return nil, err
	}
	return &faultyCipher{Cipher: op, failAt: f.failAt}, nil
}

func (f *faultyProvider) DecryptSetup(handle provider.KeyHandle, alg provider.Algorithm) (provider.Cipher, error) {
	if f.failAt == "setup" {
		return nil, errInjected
	}
	op, err := f.Native.DecryptSetup(handle, alg)
	if err != nil {
		return nil, err
	}
	return &faultyCipher{Cipher: op, failAt: f.failAt}, nil
}

type faultyCipher struct {
	provider.Cipher
	failAt string
}

func (c *faultyCipher) GenerateIV() ([]byte, error) {
	if c.failAt == "iv" {
		return nil, errInjected
	}
	return c.Cipher.GenerateIV()
}

func (c *faultyCipher) SetIV(iv []byte) error {
	if c.failAt == "iv" {
		return errInjected
	}
	return c.Cipher.SetIV(iv)
}

func (c *faultyCipher) Update(input []byte) ([]byte, error) {
	if c.failAt == "update" {
		return nil, errInjected
	}
	return c.Cipher.Update(input)
}

func (c *faultyCipher) Finish() ([]byte, error) {
	if c.failAt == "finish" {
		return nil, errInjected
	}
	return c.Cipher.Finish()
}

func TestCipherTextLength(t *testing.T) {
	cases := []struct {
		length int
		mode   PaddingMode
		want   int
		ok     bool
	}{
		{0, PKCS7, 16, true},
		{1, PKCS7, 16, true},
		{15, PKCS7, 16, true},
		{16, PKCS7, 32, true},
		{20, PKCS7, 32, true},
		{0, NoPadding, 0, true},
		{32, NoPadding, 32, true},
		{20, NoPadding, 0, false},
	}
	for _, c := range cases {
		got, err := CipherTextLength(c.length, c.mode)
		if c.ok != (err == nil) {
			t.Errorf("CipherTextLength(%d, %s) returned unexpected error %v", c.length, c.mode, err)
			continue
		}
		if got != c.want {
			t.Errorf("CipherTextLength(%d, %s) = %d, expected %d", c.length, c.mode, got, c.want)
		}
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	p := provider.NewNative(nil)
	key := bytes.Repeat([]byte{0x42}, SharedKeySizeBytes)
	for _, length := range []int{0, 1, 15, 16, 17, 20, 255 - 16} {
		plaintext := bytes.Repeat([]byte{'x'}, length)
		enc, err := NewEncryptor(p, plaintext, PKCS7, key)
		if err != nil {
			t.Fatalf("NewEncryptor(%d bytes): %s", length, err)
		}
		if err := enc.Encrypt(); err != nil {
			t.Fatalf("Encrypt(%d bytes): %s", length, err)
		}
		if len(enc.CipherText()) != enc.CipherTextLength() {
			t.Errorf("Cipher text length %d, expected %d", len(enc.CipherText()), enc.CipherTextLength())
		}
		if len(enc.IV()) != IVLength {
			t.Errorf("IV length %d", len(enc.IV()))
		}

		dec, err := NewDecryptor(p, enc.CipherText(), enc.IV(), PKCS7, key)
		if err != nil {
			t.Fatalf("NewDecryptor: %s", err)
		}
		if err := dec.Decrypt(); err != nil {
			t.Fatalf("Decrypt(%d bytes): %s", length, err)
		}
		if !bytes.Equal(dec.PlainText(), plaintext) {
			t.Errorf("Round trip of %d bytes returned %x", length, dec.PlainText())
		}
		enc.Close()
		dec.Close()
	}
	if p.Keys() != 0 {
		t.Errorf("Leaked %d keys", p.Keys())
	}
}

func TestNoPaddingDecryptExposesPadding(t *testing.T) {
	p := provider.NewNative(nil)
	enc, err := NewEncryptor(p, testPlaintext, PKCS7, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	if err := enc.Encrypt(); err != nil {
		t.Fatal(err)
	}
	if enc.CipherTextLength() != 32 {
		t.Fatalf("Expected 32 byte cipher text, got %d", enc.CipherTextLength())
	}

	dec, err := NewDecryptor(p, enc.CipherText(), enc.IV(), NoPadding, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()
	if err := dec.Decrypt(); err != nil {
		t.Fatal(err)
	}
	plaintext := dec.PlainText()
	if len(plaintext) != 32 || dec.PlainTextLength() != 32 {
		t.Fatalf("Expected 32 bytes of plaintext, got %d", len(plaintext))
	}
	if !bytes.Equal(plaintext[:20], testPlaintext) {
		t.Errorf("Unexpected plaintext %q", plaintext[:20])
	}
	if !bytes.Equal(plaintext[20:], bytes.Repeat([]byte{12}, 12)) {
		t.Errorf("Expected PKCS#7 padding, got %x", plaintext[20:])
	}
	message, err := provider.UnpadPKCS7(plaintext, BlockSize)
	if err != nil || !bytes.Equal(message, testPlaintext) {
		t.Errorf("Failed to strip padding: %v", err)
	}
}

func TestWrongKeyDoesNotRecoverPlaintext(t *testing.T) {
	p := provider.NewNative(nil)
	enc, _ := NewEncryptor(p, testPlaintext, PKCS7, nil)
	defer enc.Close()
	if err := enc.Encrypt(); err != nil {
		t.Fatal(err)
	}
	dec, _ := NewDecryptor(p, enc.CipherText(), enc.IV(), NoPadding, bytes.Repeat([]byte{0x55}, 16))
	defer dec.Close()
	if err := dec.Decrypt(); err != nil {
		t.Fatal(err)
	}
	if bytes.HasPrefix(dec.PlainText(), testPlaintext[:16]) {
		t.Errorf("Decrypted with the wrong key")
	}
}

func TestUseKey(t *testing.T) {
	p := provider.NewNative(nil)
	enc, _ := NewEncryptor(p, testPlaintext, PKCS7, nil)
	defer enc.Close()
	key := bytes.Repeat([]byte{1}, SharedKeySizeBytes)
	if err := enc.UseKey(key); err != nil {
		t.Fatal(err)
	}
	if err := enc.Encrypt(); err != nil {
		t.Fatal(err)
	}
	if p.Keys() != 1 {
		t.Errorf("Expected the default key to be destroyed, %d keys live", p.Keys())
	}
	dec, _ := NewDecryptor(p, enc.CipherText(), enc.IV(), PKCS7, key)
	defer dec.Close()
	if err := dec.Decrypt(); err != nil || !bytes.Equal(dec.PlainText(), testPlaintext) {
		t.Errorf("Decrypt after UseKey failed: %v", err)
	}
	if err := enc.UseKey(make([]byte, 5)); !errors.Is(err, ErrKeyImport) {
		t.Errorf("Expected ErrKeyImport, got %v", err)
	}
}

func TestEncryptorConfigurationErrors(t *testing.T) {
	p := &faultyProvider{Native: provider.NewNative(nil), blockSize: 8}
	if _, err := NewEncryptor(p, testPlaintext, PKCS7, nil); !errors.Is(err, ErrInvalidBlockSize) {
		t.Errorf("Expected ErrInvalidBlockSize, got %v", err)
	}
	if _, err := NewDecryptor(p, make([]byte, 16), make([]byte, 16), PKCS7, nil); !errors.Is(err, ErrInvalidBlockSize) {
		t.Errorf("Expected ErrInvalidBlockSize, got %v", err)
	}

	native := provider.NewNative(nil)
	if _, err := NewEncryptor(native, testPlaintext, NoPadding, nil); !errors.Is(err, ErrPadding) {
		t.Errorf("Expected ErrPadding, got %v", err)
	}
	if _, err := NewEncryptor(native, testPlaintext, PaddingMode(7), nil); !errors.Is(err, ErrInvalidAlgorithm) {
		t.Errorf("Expected ErrInvalidAlgorithm, got %v", err)
	}
	if _, err := NewDecryptor(native, make([]byte, 20), make([]byte, 16), NoPadding, nil); !errors.Is(err, ErrPadding) {
		t.Errorf("Expected ErrPadding, got %v", err)
	}
	if _, err := NewDecryptor(native, nil, make([]byte, 16), PKCS7, nil); !errors.Is(err, ErrPadding) {
		t.Errorf("Expected ErrPadding for empty PKCS7 cipher text, got %v", err)
	}
	if native.Keys() != 0 {
		t.Errorf("Failed constructors leaked %d keys", native.Keys())
	}
}

func TestEncryptFaults(t *testing.T) {
	cases := map[string]error{
		"setup":  ErrEncryptSetup,
		"iv":     ErrIVGeneration,
		"update": ErrEncryptUpdate,
		"finish": ErrEncryptNotFinished,
	}
	for step, expected := range cases {
		p := &faultyProvider{Native: provider.NewNative(nil), failAt: step}
		enc, err := NewEncryptor(p, testPlaintext, PKCS7, nil)
		if err != nil {
			t.Fatal(err)
		}
		err = enc.Encrypt()
		if !errors.Is(err, expected) {
			t.Errorf("Failure at %s: expected %s, got %v", step, expected, err)
		}
		if !errors.Is(err, errInjected) {
			t.Errorf("Failure at %s did not wrap the provider error", step)
		}
		if enc.CipherText() != nil || enc.IV() != nil {
			t.Errorf("Failure at %s left partial output", step)
		}
		enc.Close()
		if p.Keys() != 0 {
			t.Errorf("Failure at %s leaked %d keys", step, p.Keys())
		}
	}

	p := &faultyProvider{Native: provider.NewNative(nil), failAt: "import"}
	if _, err := NewEncryptor(p, testPlaintext, PKCS7, nil); !errors.Is(err, ErrKeyImport) {
		t.Errorf("Expected ErrKeyImport, got %v", err)
	}
}

func TestDecryptFaults(t *testing.T) {
	cases := map[string]error{
		"setup":  ErrDecryptSetup,
		"iv":     ErrSetIV,
		"update": ErrDecryptUpdate,
		"finish": ErrDecryptNotFinished,
	}
	for step, expected := range cases {
		p := &faultyProvider{Native: provider.NewNative(nil), failAt: step}
		dec, err := NewDecryptor(p, make([]byte, 32), make([]byte, 16), NoPadding, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := dec.Decrypt(); !errors.Is(err, expected) {
			t.Errorf("Failure at %s: expected %s, got %v", step, expected, err)
		}
		if dec.PlainText() != nil {
			t.Errorf("Failure at %s left partial output", step)
		}
		dec.Close()
		if p.Keys() != 0 {
			t.Errorf("Failure at %s leaked %d keys", step, p.Keys())
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	p := provider.NewNative(nil)
	enc, _ := NewEncryptor(p, testPlaintext, PKCS7, nil)
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Errorf("Second Close returned %s", err)
	}
	if err := enc.Encrypt(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized after Close, got %v", err)
	}
}
