package provider

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"sync"

	"github.com/teslamotors/serial-pairing/internal/detsig"
	"github.com/teslamotors/serial-pairing/internal/log"
)

type slot struct {
	attrs  Attributes
	secret []byte // AES key or P-256 private scalar
	public []byte // uncompressed P-256 point
}

func (s *slot) erase() {
	for i := range s.secret {
		s.secret[i] = 0
	}
	s.secret = nil
}

// Native implements Provider using the Go standard library's AES and P-256 implementations.
// It is safe for concurrent use.
type Native struct {
	rng io.Reader

	lock  sync.Mutex
	next  KeyHandle
	slots map[KeyHandle]*slot
}

// NewNative returns a Native provider that draws randomness from rng, or from crypto/rand if rng
// is nil.
func NewNative(rng io.Reader) *Native {
	if rng == nil {
		rng = rand.Reader
	}
	return &Native{
		rng:   rng,
		slots: make(map[KeyHandle]*slot),
	}
}

// Keys returns the number of live key handles.
func (n *Native) Keys() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return len(n.slots)
}

func (n *Native) store(s *slot) KeyHandle {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.next++
	if n.next == InvalidHandle {
		n.next++
	}
	n.slots[n.next] = s
	return n.next
}

func (n *Native) lookup(op string, handle KeyHandle) (*slot, error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	s, ok := n.slots[handle]
	if !ok {
		return nil, statusError(op, StatusInvalidHandle)
	}
	return s, nil
}

func (n *Native) ImportKey(attrs Attributes, raw []byte) (KeyHandle, error) {
	const op = "import key"
	switch attrs.Type {
	case KeyTypeAES:
		switch len(raw) {
		case 16, 24, 32:
		default:
			return InvalidHandle, statusError(op, StatusInvalidArgument)
		}
		if attrs.Bits != 0 && attrs.Bits != 8*len(raw) {
			return InvalidHandle, statusError(op, StatusInvalidArgument)
		}
		return n.store(&slot{attrs: attrs, secret: append([]byte(nil), raw...)}), nil
	case KeyTypeECCPublicKeyP256:
		if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
			return InvalidHandle, statusError(op, StatusInvalidArgument)
		}
		return n.store(&slot{attrs: attrs, public: append([]byte(nil), raw...)}), nil
	case KeyTypeECCKeyPairP256:
		skey, err := ecdh.P256().NewPrivateKey(raw)
		if err != nil {
			return InvalidHandle, statusError(op, StatusInvalidArgument)
		}
		return n.store(&slot{attrs: attrs, secret: skey.Bytes(), public: skey.PublicKey().Bytes()}), nil
	}
	return InvalidHandle, statusError(op, StatusNotSupported)
}

func (n *Native) GenerateKeyPair(attrs Attributes) (KeyHandle, error) {
	const op = "generate key"
	if attrs.Type != KeyTypeECCKeyPairP256 || (attrs.Bits != 0 && attrs.Bits != 256) {
		return InvalidHandle, statusError(op, StatusNotSupported)
	}
	skey, err := ecdh.P256().GenerateKey(n.rng)
	if err != nil {
		log.Error("Key generation failed: %s", err)
		return InvalidHandle, statusError(op, StatusInsufficientEntropy)
	}
	return n.store(&slot{attrs: attrs, secret: skey.Bytes(), public: skey.PublicKey().Bytes()}), nil
}

func (n *Native) ExportPublicKey(handle KeyHandle) ([]byte, error) {
	const op = "export public key"
	s, err := n.lookup(op, handle)
	if err != nil {
		return nil, err
	}
	if s.public == nil {
		return nil, statusError(op, StatusInvalidArgument)
	}
	return append([]byte(nil), s.public...), nil
}

func (n *Native) DestroyKey(handle KeyHandle) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	s, ok := n.slots[handle]
	if !ok {
		return statusError("destroy key", StatusInvalidHandle)
	}
	s.erase()
	delete(n.slots, handle)
	return nil
}

func (n *Native) BlockSize(keyType KeyType) int {
	if keyType == KeyTypeAES {
		return aes.BlockSize
	}
	return 0
}

func (n *Native) cipherSetup(op string, handle KeyHandle, alg Algorithm, usage Usage, encrypt bool) (Cipher, error) {
	s, err := n.lookup(op, handle)
	if err != nil {
		return nil, err
	}
	if s.attrs.Type != KeyTypeAES {
		return nil, statusError(op, StatusInvalidArgument)
	}
	if alg != AlgorithmCBCNoPadding && alg != AlgorithmCBCPKCS7 {
		return nil, statusError(op, StatusNotSupported)
	}
	if s.attrs.Usage&usage == 0 || s.attrs.Algorithm != alg {
		return nil, statusError(op, StatusNotPermitted)
	}
	block, err := aes.NewCipher(s.secret)
	if err != nil {
		return nil, statusError(op, StatusGenericError)
	}
	return &cbc{
		block:   block,
		encrypt: encrypt,
		padding: alg == AlgorithmCBCPKCS7,
		rng:     n.rng,
	}, nil
}

func (n *Native) EncryptSetup(handle KeyHandle, alg Algorithm) (Cipher, error) {
	return n.cipherSetup("encrypt setup", handle, alg, UsageEncrypt, true)
}

func (n *Native) DecryptSetup(handle KeyHandle, alg Algorithm) (Cipher, error) {
	return n.cipherSetup("decrypt setup", handle, alg, UsageDecrypt, false)
}

func (n *Native) SignHash(handle KeyHandle, alg Algorithm, hash []byte) ([]byte, error) {
	const op = "sign hash"
	s, err := n.lookup(op, handle)
	if err != nil {
		return nil, err
	}
	if alg != AlgorithmDeterministicECDSA {
		return nil, statusError(op, StatusNotSupported)
	}
	if s.attrs.Type != KeyTypeECCKeyPairP256 || s.attrs.Usage&UsageSignHash == 0 || s.attrs.Algorithm != alg {
		return nil, statusError(op, StatusNotPermitted)
	}
	if len(hash) != sha256.Size {
		return nil, statusError(op, StatusInvalidArgument)
	}
	var digest [sha256.Size]byte
	copy(digest[:], hash)
	signature, err := detsig.Sign(s.secret, digest)
	if err != nil {
		return nil, statusError(op, StatusGenericError)
	}
	return signature, nil
}

func (n *Native) VerifyHash(handle KeyHandle, alg Algorithm, hash, signature []byte) error {
	const op = "verify hash"
	s, err := n.lookup(op, handle)
	if err != nil {
		return err
	}
	if alg != AlgorithmDeterministicECDSA {
		return statusError(op, StatusNotSupported)
	}
	if s.public == nil || s.attrs.Usage&UsageVerifyHash == 0 || s.attrs.Algorithm != alg {
		return statusError(op, StatusNotPermitted)
	}
	if len(hash) != sha256.Size {
		return statusError(op, StatusInvalidArgument)
	}
	if err := detsig.Verify(s.public, hash, signature); err != nil {
		return statusError(op, StatusInvalidSignature)
	}
	return nil
}

type cbc struct {
	block   cipher.Block
	encrypt bool
	padding bool
	rng     io.Reader

	mode    cipher.BlockMode
	pending []byte
	done    bool
}

func (c *cbc) GenerateIV() ([]byte, error) {
	const op = "generate iv"
	if !c.encrypt || c.done || c.mode != nil {
		return nil, statusError(op, StatusBadState)
	}
	iv := make([]byte, c.block.BlockSize())
	if _, err := io.ReadFull(c.rng, iv); err != nil {
		return nil, statusError(op, StatusInsufficientEntropy)
	}
	c.mode = cipher.NewCBCEncrypter(c.block, iv)
	return iv, nil
}

func (c *cbc) SetIV(iv []byte) error {
	const op = "set iv"
	if c.done || c.mode != nil {
		return statusError(op, StatusBadState)
	}
	if len(iv) != c.block.BlockSize() {
		return statusError(op, StatusInvalidArgument)
	}
	if c.encrypt {
		c.mode = cipher.NewCBCEncrypter(c.block, iv)
	} else {
		c.mode = cipher.NewCBCDecrypter(c.block, iv)
	}
	return nil
}

func (c *cbc) Update(input []byte) ([]byte, error) {
	if c.done || c.mode == nil {
		return nil, statusError("cipher update", StatusBadState)
	}
	c.pending = append(c.pending, input...)
	ready := len(c.pending) - len(c.pending)%c.block.BlockSize()
	if !c.encrypt && c.padding && ready == len(c.pending) && ready > 0 {
		// The final block might hold padding, so it is only decrypted by Finish.
		ready -= c.block.BlockSize()
	}
	output := make([]byte, ready)
	c.mode.CryptBlocks(output, c.pending[:ready])
	c.pending = append(c.pending[:0], c.pending[ready:]...)
	return output, nil
}

func (c *cbc) Finish() ([]byte, error) {
	const op = "cipher finish"
	if c.done || c.mode == nil {
		return nil, statusError(op, StatusBadState)
	}
	defer c.Abort()
	blockSize := c.block.BlockSize()
	switch {
	case c.encrypt && c.padding:
		padLength := blockSize - len(c.pending)%blockSize
		for i := 0; i < padLength; i++ {
			c.pending = append(c.pending, byte(padLength))
		}
	case len(c.pending)%blockSize != 0:
		return nil, statusError(op, StatusInvalidArgument)
	case !c.encrypt && c.padding && len(c.pending) != blockSize:
		return nil, statusError(op, StatusInvalidPadding)
	}
	output := make([]byte, len(c.pending))
	c.mode.CryptBlocks(output, c.pending)
	if !c.encrypt && c.padding {
		plaintext, err := UnpadPKCS7(output, blockSize)
		if err != nil {
			return nil, statusError(op, StatusInvalidPadding)
		}
		output = plaintext
	}
	return output, nil
}

func (c *cbc) Abort() {
	for i := range c.pending {
		c.pending[i] = 0
	}
	c.pending = nil
	c.mode = nil
	c.done = true
}
