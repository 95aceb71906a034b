package provider

import (
	"crypto/subtle"
	"errors"
)

var errBadPadding = errors.New("invalid PKCS#7 padding")

// UnpadPKCS7 strips PKCS#7 padding from a whole number of blocks. The returned slice aliases
// padded.
func UnpadPKCS7(padded []byte, blockSize int) ([]byte, error) {
	if len(padded) == 0 || len(padded)%blockSize != 0 {
		return nil, errBadPadding
	}
	padLength := int(padded[len(padded)-1])
	if padLength == 0 || padLength > blockSize {
		return nil, errBadPadding
	}
	good := 1
	for _, b := range padded[len(padded)-padLength:] {
		good &= subtle.ConstantTimeByteEq(b, byte(padLength))
	}
	if good != 1 {
		return nil, errBadPadding
	}
	return padded[:len(padded)-padLength], nil
}
