package authentication

import (
	"errors"
	"fmt"
	"testing"

	"github.com/teslamotors/serial-pairing/internal/provider"
)

func TestErrCodeString(t *testing.T) {
	err := newError(FaultEncryptNotFinished, "foobar")
	if err.Error() != "EncryptNotFinished: foobar" {
		t.Errorf("Failed to convert error string correctly: %s", err)
	}
	if s := errCodeString(FaultIVGeneration); s != "IvGeneration" {
		t.Errorf("Failed to convert error string correctly: %s", s)
	}
}

func TestErrorMatching(t *testing.T) {
	cause := &provider.StatusError{Op: "cipher update", Status: provider.StatusBadState}
	err := fmt.Errorf("encrypting message: %w", wrapError(FaultEncryptUpdate, cause))
	if !errors.Is(err, ErrEncryptUpdate) {
		t.Errorf("Expected error to match ErrEncryptUpdate")
	}
	if errors.Is(err, ErrDecryptUpdate) {
		t.Errorf("Error matched the wrong fault")
	}
	if !errors.Is(err, provider.ErrBadState) {
		t.Errorf("Provider status was not preserved")
	}
	if FaultOf(err) != FaultEncryptUpdate {
		t.Errorf("Unexpected fault %s", FaultOf(err))
	}
	if FaultOf(errors.New("unrelated")) != FaultNone {
		t.Errorf("Unrelated errors should not carry a fault")
	}
}
