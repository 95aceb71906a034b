package transcript

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/teslamotors/serial-pairing/internal/authentication"
	"github.com/teslamotors/serial-pairing/internal/handshake"
)

// Field numbers of the Transcript wire encoding.
const (
	fieldRole protowire.Number = iota + 1
	fieldCreatedAt
	fieldLocalSignature
	fieldLocalPublicKey
	fieldPeerSignature
	fieldPeerPublicKey
	fieldLocalKeyExchangeKey
	fieldPeerKeyExchangeKey
	fieldSentIV
	fieldSentCipherText
	fieldReceivedIV
	fieldReceivedCipherText
)

// ErrMalformed indicates encoded data could not be parsed.
var ErrMalformed = errors.New("malformed transcript")

// Transcript is the public record of one handshake, as seen by one peer.
type Transcript struct {
	Role      handshake.Role
	CreatedAt time.Time

	LocalCredential authentication.Credential
	PeerCredential  authentication.Credential

	LocalKeyExchangeKey []byte
	PeerKeyExchangeKey  []byte

	SentIV             []byte
	SentCipherText     []byte
	ReceivedIV         []byte
	ReceivedCipherText []byte
}

// FromResult copies the public fields of a handshake result.
func FromResult(result handshake.Result, createdAt time.Time) *Transcript {
	return &Transcript{
		Role:      result.Role,
		CreatedAt: createdAt,
		LocalCredential: authentication.Credential{
			Signature: clone(result.LocalCredential.Signature),
			PublicKey: clone(result.LocalCredential.PublicKey),
		},
		PeerCredential: authentication.Credential{
			Signature: clone(result.PeerCredential.Signature),
			PublicKey: clone(result.PeerCredential.PublicKey),
		},
		LocalKeyExchangeKey: clone(result.LocalKeyExchangeKey),
		PeerKeyExchangeKey:  clone(result.PeerKeyExchangeKey),
		SentIV:              clone(result.SentIV),
		SentCipherText:      clone(result.SentCipherText),
		ReceivedIV:          clone(result.ReceivedIV),
		ReceivedCipherText:  clone(result.ReceivedCipherText),
	}
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

// PeerID fingerprints the peer's signing key. Peers generate a new signing key for every session,
// so the PeerID identifies a session rather than a device.
func (t *Transcript) PeerID() string {
	digest := sha256.Sum256(t.PeerCredential.PublicKey)
	return hex.EncodeToString(digest[:8])
}

// MarshalBinary encodes t in protobuf wire format.
func (t *Transcript) MarshalBinary() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldRole, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.Role))
	if !t.CreatedAt.IsZero() {
		b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(t.CreatedAt.UnixNano()))
	}
	for _, field := range t.byteFields() {
		if len(*field.value) == 0 {
			continue
		}
		b = protowire.AppendTag(b, field.number, protowire.BytesType)
		b = protowire.AppendBytes(b, *field.value)
	}
	return b, nil
}

// UnmarshalBinary decodes data produced by MarshalBinary. Unknown fields are skipped.
func (t *Transcript) UnmarshalBinary(data []byte) error {
	*t = Transcript{}
	fields := make(map[protowire.Number]*[]byte)
	for _, field := range t.byteFields() {
		fields[field.number] = field.value
	}
	for len(data) > 0 {
		number, wireType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		data = data[n:]
		switch {
		case number == fieldRole && wireType == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return errors.Wrap(ErrMalformed, "role")
			}
			t.Role = handshake.Role(v)
			n = m
		case number == fieldCreatedAt && wireType == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return errors.Wrap(ErrMalformed, "creation time")
			}
			t.CreatedAt = time.Unix(0, int64(v))
			n = m
		case fields[number] != nil && wireType == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return errors.Wrapf(ErrMalformed, "field %d", number)
			}
			*fields[number] = clone(v)
			n = m
		default:
			n = protowire.ConsumeFieldValue(number, wireType, data)
			if n < 0 {
				return errors.Wrapf(ErrMalformed, "field %d: %s", number, protowire.ParseError(n))
			}
		}
		data = data[n:]
	}
	return nil
}

type byteField struct {
	number protowire.Number
	value  *[]byte
}

func (t *Transcript) byteFields() []byteField {
	return []byteField{
		{fieldLocalSignature, &t.LocalCredential.Signature},
		{fieldLocalPublicKey, &t.LocalCredential.PublicKey},
		{fieldPeerSignature, &t.PeerCredential.Signature},
		{fieldPeerPublicKey, &t.PeerCredential.PublicKey},
		{fieldLocalKeyExchangeKey, &t.LocalKeyExchangeKey},
		{fieldPeerKeyExchangeKey, &t.PeerKeyExchangeKey},
		{fieldSentIV, &t.SentIV},
		{fieldSentCipherText, &t.SentCipherText},
		{fieldReceivedIV, &t.ReceivedIV},
		{fieldReceivedCipherText, &t.ReceivedCipherText},
	}
}
