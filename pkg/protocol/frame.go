// Package protocol implements the serial pairing wire format.
//
// Every transmission is a frame: a start marker, a payload, and two end markers.
//
//	'$' payload... '@' '#'
//
// Payload lengths are not carried on the wire; each side knows the length of the next frame from
// the protocol phase. The only variable-length payload, the cipher text, is preceded by a frame
// whose single-byte payload holds its length.
//
// Receipt of each frame is confirmed by a three-byte acknowledgement frame: '$' '*' '%'.
package protocol

const (
	StartMarker byte = '$'
	EndMarker1  byte = '@'
	EndMarker2  byte = '#'
	AckByte1    byte = '*'
	AckByte2    byte = '%'

	// FrameOverhead is the number of marker bytes added to a payload.
	FrameOverhead = 3
)

// Payload lengths for each frame kind.
const (
	SignatureLength        = 64
	PublicKeyLength        = 65
	KeyExchangeKeyLength   = 32
	IVLength               = 16
	CipherTextLengthLength = 1
	MaxCipherTextLength    = 255
)

// AckFrame acknowledges the most recently received frame.
var AckFrame = []byte{StartMarker, AckByte1, AckByte2}

// BuildFrame wraps payload in frame markers.
func BuildFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxCipherTextLength {
		return nil, ErrPayloadTooLong
	}
	frame := make([]byte, 0, len(payload)+FrameOverhead)
	frame = append(frame, StartMarker)
	frame = append(frame, payload...)
	frame = append(frame, EndMarker1, EndMarker2)
	return frame, nil
}

// Ack returns a fresh copy of AckFrame.
func Ack() []byte {
	return append([]byte(nil), AckFrame...)
}
