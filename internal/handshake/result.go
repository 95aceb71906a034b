package handshake

import (
	"github.com/teslamotors/serial-pairing/internal/authentication"
)

// Result collects what a Machine sent and received during a handshake.
//
// SharedKey is secret. Everything else crossed the link in the clear or, for PlainText and
// Message, was decrypted from it.
type Result struct {
	Role Role

	LocalCredential authentication.Credential
	PeerCredential  authentication.Credential

	LocalKeyExchangeKey []byte
	PeerKeyExchangeKey  []byte
	SharedKey           []byte

	SentIV             []byte
	SentCipherText     []byte
	ReceivedIV         []byte
	ReceivedCipherText []byte

	// PlainText is the decrypted cipher text, still carrying the sender's padding.
	PlainText []byte
	// Message is PlainText with padding removed.
	Message []byte
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneCredential(c authentication.Credential) authentication.Credential {
	return authentication.Credential{
		Signature: cloneBytes(c.Signature),
		PublicKey: cloneBytes(c.PublicKey),
	}
}

func (r *Result) clone() Result {
	return Result{
		Role:                r.Role,
		LocalCredential:     cloneCredential(r.LocalCredential),
		PeerCredential:      cloneCredential(r.PeerCredential),
		LocalKeyExchangeKey: cloneBytes(r.LocalKeyExchangeKey),
		PeerKeyExchangeKey:  cloneBytes(r.PeerKeyExchangeKey),
		SharedKey:           cloneBytes(r.SharedKey),
		SentIV:              cloneBytes(r.SentIV),
		SentCipherText:      cloneBytes(r.SentCipherText),
		ReceivedIV:          cloneBytes(r.ReceivedIV),
		ReceivedCipherText:  cloneBytes(r.ReceivedCipherText),
		PlainText:           cloneBytes(r.PlainText),
		Message:             cloneBytes(r.Message),
	}
}
