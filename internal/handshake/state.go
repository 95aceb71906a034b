package handshake

import (
	"fmt"
	"strings"
)

// Role selects which side of the pairing protocol a Machine plays. The two roles run the same
// phases in mirrored order.
type Role int

const (
	// Initiator is the remote. It sends its identity first.
	Initiator Role = iota
	// Responder is the car.
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "remote"
	case Responder:
		return "car"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole accepts "remote" or "initiator" and "car" or "responder".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "remote", "initiator":
		return Initiator, nil
	case "car", "responder":
		return Responder, nil
	}
	return 0, fmt.Errorf("unrecognized role '%s'", s)
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == Initiator {
		return Responder
	}
	return Initiator
}

type State int

const (
	StateSendSignature State = iota
	StateAwaitSignatureAck
	StateSendPublicKey
	StateAwaitPublicKeyAck
	StateAwaitVerifiedAck

	StateReceiveSignature
	StateAckSignature
	StateReceivePublicKey
	StateAckPublicKey
	StateVerifyPeer
	StateAckVerified

	StateSendKeyExchangeKey
	StateAwaitKeyExchangeAck
	StateReceiveKeyExchangeKey
	StateAckKeyExchangeKey
	StateComputeSharedSecret

	StateEncryptMessage
	StateSendIV
	StateAwaitIVAck
	StateSendCipherTextLength
	StateAwaitCipherTextLengthAck
	StateSendCipherText
	StateAwaitCipherTextAck
	StateAwaitDecryptedAck

	StateReceiveIV
	StateAckIV
	StateReceiveCipherTextLength
	StateAckCipherTextLength
	StateReceiveCipherText
	StateAckCipherText
	StateDecryptMessage
	StateAckDecrypted

	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateSendSignature:            "SendSignature",
	StateAwaitSignatureAck:        "AwaitSignatureAck",
	StateSendPublicKey:            "SendPublicKey",
	StateAwaitPublicKeyAck:        "AwaitPublicKeyAck",
	StateAwaitVerifiedAck:         "AwaitVerifiedAck",
	StateReceiveSignature:         "ReceiveSignature",
	StateAckSignature:             "AckSignature",
	StateReceivePublicKey:         "ReceivePublicKey",
	StateAckPublicKey:             "AckPublicKey",
	StateVerifyPeer:               "VerifyPeer",
	StateAckVerified:              "AckVerified",
	StateSendKeyExchangeKey:       "SendKeyExchangeKey",
	StateAwaitKeyExchangeAck:      "AwaitKeyExchangeAck",
	StateReceiveKeyExchangeKey:    "ReceiveKeyExchangeKey",
	StateAckKeyExchangeKey:        "AckKeyExchangeKey",
	StateComputeSharedSecret:      "ComputeSharedSecret",
	StateEncryptMessage:           "EncryptMessage",
	StateSendIV:                   "SendIV",
	StateAwaitIVAck:               "AwaitIVAck",
	StateSendCipherTextLength:     "SendCipherTextLength",
	StateAwaitCipherTextLengthAck: "AwaitCipherTextLengthAck",
	StateSendCipherText:           "SendCipherText",
	StateAwaitCipherTextAck:       "AwaitCipherTextAck",
	StateAwaitDecryptedAck:        "AwaitDecryptedAck",
	StateReceiveIV:                "ReceiveIV",
	StateAckIV:                    "AckIV",
	StateReceiveCipherTextLength:  "ReceiveCipherTextLength",
	StateAckCipherTextLength:      "AckCipherTextLength",
	StateReceiveCipherText:        "ReceiveCipherText",
	StateAckCipherText:            "AckCipherText",
	StateDecryptMessage:           "DecryptMessage",
	StateAckDecrypted:             "AckDecrypted",
	StateDone:                     "Done",
	StateFailed:                   "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s is StateDone or StateFailed.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

type stateKind int

const (
	kindSend stateKind = iota
	kindAwaitAck
	kindReceive
	kindAck
	kindCompute
	kindTerminal
)

func (s State) kind() stateKind {
	switch s {
	case StateSendSignature, StateSendPublicKey, StateSendKeyExchangeKey,
		StateSendIV, StateSendCipherTextLength, StateSendCipherText:
		return kindSend
	case StateAwaitSignatureAck, StateAwaitPublicKeyAck, StateAwaitVerifiedAck,
		StateAwaitKeyExchangeAck, StateAwaitIVAck, StateAwaitCipherTextLengthAck,
		StateAwaitCipherTextAck, StateAwaitDecryptedAck:
		return kindAwaitAck
	case StateReceiveSignature, StateReceivePublicKey, StateReceiveKeyExchangeKey,
		StateReceiveIV, StateReceiveCipherTextLength, StateReceiveCipherText:
		return kindReceive
	case StateAckSignature, StateAckPublicKey, StateAckVerified, StateAckKeyExchangeKey,
		StateAckIV, StateAckCipherTextLength, StateAckCipherText, StateAckDecrypted:
		return kindAck
	case StateDone, StateFailed:
		return kindTerminal
	}
	return kindCompute
}

// Legs of the protocol. Every frame sent is acknowledged by the receiver before the next one
// goes out.
var (
	identitySend = []State{
		StateSendSignature,
		StateAwaitSignatureAck,
		StateSendPublicKey,
		StateAwaitPublicKeyAck,
		StateAwaitVerifiedAck,
	}
	identityReceive = []State{
		StateReceiveSignature,
		StateAckSignature,
		StateReceivePublicKey,
		StateAckPublicKey,
		StateVerifyPeer,
		StateAckVerified,
	}
	keyExchangeSend = []State{
		StateSendKeyExchangeKey,
		StateAwaitKeyExchangeAck,
	}
	keyExchangeReceive = []State{
		StateReceiveKeyExchangeKey,
		StateAckKeyExchangeKey,
	}
	dataSend = []State{
		StateSendIV,
		StateAwaitIVAck,
		StateSendCipherTextLength,
		StateAwaitCipherTextLengthAck,
		StateSendCipherText,
		StateAwaitCipherTextAck,
		StateAwaitDecryptedAck,
	}
	dataReceive = []State{
		StateReceiveIV,
		StateAckIV,
		StateReceiveCipherTextLength,
		StateAckCipherTextLength,
		StateReceiveCipherText,
		StateAckCipherText,
		StateDecryptMessage,
		StateAckDecrypted,
	}
)

func concat(legs ...[]State) []State {
	var plan []State
	for _, leg := range legs {
		plan = append(plan, leg...)
	}
	return plan
}

// Plan returns the ordered states a Machine in role r passes through, ending with StateDone.
func Plan(r Role) []State {
	encrypt := []State{StateEncryptMessage}
	compute := []State{StateComputeSharedSecret}
	done := []State{StateDone}
	if r == Responder {
		return concat(identityReceive, identitySend, keyExchangeReceive, keyExchangeSend,
			compute, dataReceive, encrypt, dataSend, done)
	}
	return concat(identitySend, identityReceive, keyExchangeSend, keyExchangeReceive,
		compute, encrypt, dataSend, dataReceive, done)
}
