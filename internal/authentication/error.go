package authentication

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Fault identifies the step of a cryptographic operation that failed.
type Fault int

const (
	FaultNone Fault = iota
	FaultInvalidBlockSize
	FaultPadding
	FaultKeyImport
	FaultInvalidAlgorithm
	FaultNotInitialized
	FaultEncryptSetup
	FaultIVGeneration
	FaultEncryptUpdate
	FaultEncryptNotFinished
	FaultDecryptSetup
	FaultSetIV
	FaultDecryptUpdate
	FaultDecryptNotFinished
	FaultKeyGeneration
	FaultSign
	FaultExportPublicKey
	FaultInvalidPublicKey
	FaultKeyExchangeInit
	FaultKeyExchangeKeyGeneration
	FaultKeyExchangeWrite
	FaultKeyExchangeRead
	FaultKeyExchangeCompute
)

var faultNames = map[Fault]string{
	FaultNone:                     "FAULT_NONE",
	FaultInvalidBlockSize:         "FAULT_INVALID_BLOCK_SIZE",
	FaultPadding:                  "FAULT_PADDING",
	FaultKeyImport:                "FAULT_KEY_IMPORT",
	FaultInvalidAlgorithm:         "FAULT_INVALID_ALGORITHM",
	FaultNotInitialized:           "FAULT_NOT_INITIALIZED",
	FaultEncryptSetup:             "FAULT_ENCRYPT_SETUP",
	FaultIVGeneration:             "FAULT_IV_GENERATION",
	FaultEncryptUpdate:            "FAULT_ENCRYPT_UPDATE",
	FaultEncryptNotFinished:       "FAULT_ENCRYPT_NOT_FINISHED",
	FaultDecryptSetup:             "FAULT_DECRYPT_SETUP",
	FaultSetIV:                    "FAULT_SET_IV",
	FaultDecryptUpdate:            "FAULT_DECRYPT_UPDATE",
	FaultDecryptNotFinished:       "FAULT_DECRYPT_NOT_FINISHED",
	FaultKeyGeneration:            "FAULT_KEY_GENERATION",
	FaultSign:                     "FAULT_SIGN",
	FaultExportPublicKey:          "FAULT_EXPORT_PUBLIC_KEY",
	FaultInvalidPublicKey:         "FAULT_INVALID_PUBLIC_KEY",
	FaultKeyExchangeInit:          "FAULT_KEY_EXCHANGE_INIT",
	FaultKeyExchangeKeyGeneration: "FAULT_KEY_EXCHANGE_KEY_GENERATION",
	FaultKeyExchangeWrite:         "FAULT_KEY_EXCHANGE_WRITE",
	FaultKeyExchangeRead:          "FAULT_KEY_EXCHANGE_READ",
	FaultKeyExchangeCompute:       "FAULT_KEY_EXCHANGE_COMPUTE",
}

func (f Fault) String() string {
	if name, ok := faultNames[f]; ok {
		return name
	}
	return fmt.Sprintf("FAULT_%d", int(f))
}

// errCodeString returns a CamelCase error string for code.
func errCodeString(code Fault) string {
	// "FAULT_ENCRYPT_NOT_FINISHED" -> "EncryptNotFinished"
	const prefix = "FAULT_"
	allCaps := strings.TrimPrefix(code.String(), prefix)
	camelCase := make([]rune, 0, len(allCaps))
	lowerCaseNext := false
	for _, b := range allCaps {
		if b == '_' {
			lowerCaseNext = false
		} else {
			if lowerCaseNext {
				camelCase = append(camelCase, unicode.ToLower(b))
			} else {
				camelCase = append(camelCase, b)
				lowerCaseNext = true
			}
		}

	}
	return string(camelCase)
}

// Error represents a failure of a cryptographic manager. Err, if set, is the underlying provider
// error.
type Error struct {
	Code Fault
	Info string
	Err  error
}

func newError(code Fault, info string) error {
	return &Error{Code: code, Info: info}
}

func wrapError(code Fault, err error) error {
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	msg := errCodeString(e.Code)
	if e.Info != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Info)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// FaultOf returns the Code of the first *Error in err's chain, or FaultNone.
func FaultOf(err error) Fault {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return FaultNone
}
