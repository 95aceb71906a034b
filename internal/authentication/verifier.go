package authentication

import (
	"crypto/sha256"

	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/internal/provider"
)

var verificationKeyAttributes = provider.Attributes{
	Type:      provider.KeyTypeECCPublicKeyP256,
	Bits:      256,
	Usage:     provider.UsageVerifyHash,
	Algorithm: provider.AlgorithmDeterministicECDSA,
}

// A Verifier checks a peer's Credential against the expected identity string.
type Verifier struct {
	provider   provider.Provider
	credential Credential
	expected   []byte
}

func NewVerifier(p provider.Provider, credential Credential, expected []byte) *Verifier {
	return &Verifier{
		provider: p,
		credential: Credential{
			Signature: append([]byte(nil), credential.Signature...),
			PublicKey: append([]byte(nil), credential.PublicKey...),
		},
		expected: append([]byte(nil), expected...),
	}
}

// Check returns nil if the credential's signature over the expected data is valid. The imported
// public key is destroyed before Check returns.
func (v *Verifier) Check() error {
	if err := v.credential.Validate(); err != nil {
		return newError(FaultInvalidPublicKey, err.Error())
	}
	handle, err := v.provider.ImportKey(verificationKeyAttributes, v.credential.PublicKey)
	if err != nil {
		return &Error{Code: FaultInvalidPublicKey, Info: "invalid public key", Err: err}
	}
	defer func() {
		if err := v.provider.DestroyKey(handle); err != nil {
			log.Warning("Failed to destroy verification key: %s", err)
		}
	}()
	digest := sha256.Sum256(v.expected)
	return v.provider.VerifyHash(handle, provider.AlgorithmDeterministicECDSA, digest[:], v.credential.Signature)
}

// Verify returns true if the credential is authentic. Failures are logged.
func (v *Verifier) Verify() bool {
	if err := v.Check(); err != nil {
		log.Warning("Peer credential rejected: %s", err)
		return false
	}
	return true
}
