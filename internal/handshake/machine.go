// Package handshake implements the pairing protocol as a cooperative state machine.
//
// Each call to Machine.Tick performs at most one unit of work: write one byte of an outgoing
// frame, drain whatever bytes are queued for the frame or ack currently awaited, or run one
// cryptographic step. A step that cannot complete leaves the Machine in the same state and is
// retried on the next Tick. The Machine never blocks.
//
// Both peers run the same Machine. The Role selects the order of the protocol legs; see Plan.
package handshake

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/teslamotors/serial-pairing/internal/authentication"
	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/internal/provider"
	"github.com/teslamotors/serial-pairing/internal/ringbuffer"
	"github.com/teslamotors/serial-pairing/pkg/protocol"
)

var (
	// ErrAuthentication indicates the peer's identity credential did not verify.
	ErrAuthentication = errors.New("peer failed authentication")
	// ErrStallTimeout indicates no byte moved in either direction for Config.StallTimeout.
	ErrStallTimeout = errors.New("handshake stalled")
	// ErrMessageTooLong indicates the configured message does not fit in a single cipher text
	// frame.
	ErrMessageTooLong = errors.New("message too long")
	ErrNoTransport    = errors.New("receive queue and transmitter are required")
)

// DefaultMessage is the plaintext each peer encrypts if Config.Message is nil.
var DefaultMessage = []byte("I am plaintext.1234\x00")

// maxDrain bounds the number of bytes a receive step consumes per tick.
const maxDrain = ringbuffer.DefaultCapacity

// Source is the consumer side of the receive queue. *ringbuffer.RingBuffer implements it.
type Source interface {
	// Read returns the next queued byte, or ringbuffer.ErrUnderflow if none is available.
	Read() (byte, error)
}

type Config struct {
	Role Role
	Rx   Source
	Tx   protocol.ByteWriter

	// Provider performs all signing and cipher operations. Defaults to a provider.Native.
	Provider provider.Provider
	// Identity is the string both peers sign and expect. Defaults to
	// authentication.DefaultIdentity.
	Identity []byte
	// Message is encrypted and sent to the peer. Defaults to DefaultMessage.
	Message []byte
	// Rand seeds key generation. Defaults to crypto/rand.
	Rand io.Reader

	Clock clockwork.Clock
	// StallTimeout fails the handshake if no byte is sent or received for this long. Zero waits
	// forever.
	StallTimeout time.Duration
}

// StateError records the state a Machine was in when it failed.
type StateError struct {
	State State
	Err   error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("handshake failed in %s: %s", e.State, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

type Machine struct {
	role         Role
	rx           Source
	tx           protocol.ByteWriter
	provider     provider.Provider
	identity     []byte
	message      []byte
	clock        clockwork.Clock
	stallTimeout time.Duration

	plan  []State
	step  int
	state State
	err   error

	parser protocol.Parser
	acks   protocol.AckParser
	cursor *protocol.Cursor

	signer *authentication.Signer
	kex    *authentication.KeyExchange

	peerCipherTextLength int
	lastProgress         time.Time
	ticks                uint64
	result               Result
}

// New creates a Machine and generates the session's signing and key-exchange keys.
func New(cfg Config) (*Machine, error) {
	if cfg.Rx == nil || cfg.Tx == nil {
		return nil, ErrNoTransport
	}
	m := &Machine{
		role:         cfg.Role,
		rx:           cfg.Rx,
		tx:           cfg.Tx,
		provider:     cfg.Provider,
		identity:     cfg.Identity,
		message:      cfg.Message,
		clock:        cfg.Clock,
		stallTimeout: cfg.StallTimeout,
	}
	if m.provider == nil {
		m.provider = provider.NewNative(cfg.Rand)
	}
	if m.identity == nil {
		m.identity = []byte(authentication.DefaultIdentity)
	}
	if m.message == nil {
		m.message = DefaultMessage
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	length, err := authentication.CipherTextLength(len(m.message), authentication.PKCS7)
	if err != nil {
		return nil, err
	}
	if length > protocol.MaxCipherTextLength {
		return nil, fmt.Errorf("%w: %d bytes encrypt to %d", ErrMessageTooLong, len(m.message), length)
	}

	m.signer = authentication.NewSigner(m.provider, m.identity)
	credential, err := m.signer.Credential()
	if err != nil {
		m.signer.Close()
		return nil, err
	}
	m.kex = authentication.NewKeyExchange(cfg.Rand)
	public, err := m.kex.GenerateKey()
	if err != nil {
		m.signer.Close()
		m.kex.Close()
		return nil, err
	}

	m.result = Result{
		Role:                m.role,
		LocalCredential:     *credential,
		LocalKeyExchangeKey: public,
	}
	m.plan = Plan(m.role)
	m.state = m.plan[0]
	m.lastProgress = m.clock.Now()
	handshakeState.WithLabelValues(m.role.String()).Set(float64(m.state))
	log.Info("%s: starting handshake in %s", m.role, m.state)
	return m, nil
}

// Tick performs one step of the handshake. It returns nil while the handshake is in progress or
// complete, and the failure once the Machine has entered StateFailed.
func (m *Machine) Tick() error {
	if m.state.Terminal() {
		return m.err
	}
	m.ticks++
	before := m.state

	var err error
	switch m.state.kind() {
	case kindSend:
		err = m.pump(m.outgoingFrame)
	case kindAck:
		err = m.pump(func() ([]byte, error) { return protocol.Ack(), nil })
	case kindAwaitAck:
		m.awaitAck()
	case kindReceive:
		err = m.receive()
	case kindCompute:
		err = m.compute()
	}

	if protocol.ShouldRetry(err) {
		log.Debug("%s: %s: %s", m.role, m.state, err)
		err = nil
	}
	if err != nil {
		m.fail(err)
		return m.err
	}
	if m.state == before && m.stalled() {
		m.fail(ErrStallTimeout)
	}
	return m.err
}

// pump writes one byte of the current outgoing frame, building the frame on first use.
func (m *Machine) pump(build func() ([]byte, error)) error {
	if m.cursor == nil {
		frame, err := build()
		if err != nil {
			return err
		}
		m.cursor = protocol.NewCursor(frame)
	}
	done, err := m.cursor.Send(m.tx)
	if err != nil {
		return err
	}
	m.touch()
	if done {
		if m.state.kind() == kindSend {
			framesSent.WithLabelValues(m.role.String()).Inc()
		}
		m.advance()
	}
	return nil
}

func (m *Machine) outgoingFrame() ([]byte, error) {
	var payload []byte
	switch m.state {
	case StateSendSignature:
		payload = m.result.LocalCredential.Signature
	case StateSendPublicKey:
		payload = m.result.LocalCredential.PublicKey
	case StateSendKeyExchangeKey:
		payload = m.result.LocalKeyExchangeKey
	case StateSendIV:
		payload = m.result.SentIV
	case StateSendCipherTextLength:
		payload = []byte{byte(len(m.result.SentCipherText))}
	case StateSendCipherText:
		payload = m.result.SentCipherText
	}
	return protocol.BuildFrame(payload)
}

func (m *Machine) awaitAck() {
	for i := 0; i < maxDrain; i++ {
		b, err := m.rx.Read()
		if err != nil {
			return
		}
		m.touch()
		if m.acks.Parse(b) {
			acksReceived.WithLabelValues(m.role.String()).Inc()
			m.advance()
			return
		}
	}
}

func (m *Machine) expectedLength() int {
	switch m.state {
	case StateReceiveSignature:
		return protocol.SignatureLength
	case StateReceivePublicKey:
		return protocol.PublicKeyLength
	case StateReceiveKeyExchangeKey:
		return protocol.KeyExchangeKeyLength
	case StateReceiveIV:
		return protocol.IVLength
	case StateReceiveCipherTextLength:
		return protocol.CipherTextLengthLength
	case StateReceiveCipherText:
		return m.peerCipherTextLength
	}
	return -1
}

// receive drains the queue until the awaited frame is complete or the queue is empty.
func (m *Machine) receive() error {
	length := m.expectedLength()
	for i := 0; i < maxDrain; i++ {
		b, err := m.rx.Read()
		if err != nil {
			return nil
		}
		m.touch()
		if payload, ok := m.parser.Parse(b, length); ok {
			framesReceived.WithLabelValues(m.role.String()).Inc()
			return m.store(payload)
		}
	}
	return nil
}

func (m *Machine) store(payload []byte) error {
	switch m.state {
	case StateReceiveSignature:
		m.result.PeerCredential.Signature = payload
	case StateReceivePublicKey:
		m.result.PeerCredential.PublicKey = payload
	case StateReceiveKeyExchangeKey:
		m.result.PeerKeyExchangeKey = payload
	case StateReceiveIV:
		m.result.ReceivedIV = payload
	case StateReceiveCipherTextLength:
		n := int(payload[0])
		if n == 0 || n%authentication.BlockSize != 0 {
			return fmt.Errorf("%w: cipher text length %d is not a positive multiple of %d",
				protocol.ErrUnexpectedLength, n, authentication.BlockSize)
		}
		m.peerCipherTextLength = n
	case StateReceiveCipherText:
		m.result.ReceivedCipherText = payload
	}
	m.advance()
	return nil
}

func (m *Machine) compute() error {
	switch m.state {
	case StateVerifyPeer:
		verifier := authentication.NewVerifier(m.provider, m.result.PeerCredential, m.identity)
		if err := verifier.Check(); err != nil {
			return fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		log.Info("%s: peer %s verified", m.role, m.role.Peer())
	case StateComputeSharedSecret:
		key, err := m.kex.ComputeSharedSecret(m.result.PeerKeyExchangeKey)
		if err != nil {
			return err
		}
		m.result.SharedKey = key
	case StateEncryptMessage:
		if err := m.encryptMessage(); err != nil {
			return err
		}
	case StateDecryptMessage:
		if err := m.decryptMessage(); err != nil {
			return err
		}
	}
	m.advance()
	return nil
}

func (m *Machine) encryptMessage() error {
	encryptor, err := authentication.NewEncryptor(m.provider, m.message, authentication.PKCS7, m.result.SharedKey)
	if err != nil {
		return err
	}
	defer encryptor.Close()
	if err := encryptor.Encrypt(); err != nil {
		return err
	}
	m.result.SentIV = append([]byte(nil), encryptor.IV()...)
	m.result.SentCipherText = append([]byte(nil), encryptor.CipherText()...)
	log.Debug("%s: encrypted %d bytes into %d", m.role, len(m.message), encryptor.CipherTextLength())
	return nil
}

// decryptMessage decrypts without removing padding, then strips the PKCS#7 padding the sender
// applied.
func (m *Machine) decryptMessage() error {
	decryptor, err := authentication.NewDecryptor(m.provider, m.result.ReceivedCipherText, m.result.ReceivedIV,
		authentication.NoPadding, m.result.SharedKey)
	if err != nil {
		return err
	}
	defer decryptor.Close()
	if err := decryptor.Decrypt(); err != nil {
		return err
	}
	plainText := append([]byte(nil), decryptor.PlainText()...)
	message, err := provider.UnpadPKCS7(plainText, authentication.BlockSize)
	if err != nil {
		return &authentication.Error{Code: authentication.FaultPadding, Info: "decrypted message", Err: err}
	}
	m.result.PlainText = plainText
	m.result.Message = message
	log.Info("%s: received message %q", m.role, message)
	return nil
}

func (m *Machine) advance() {
	previous := m.state
	m.step++
	m.state = m.plan[m.step]
	m.cursor = nil
	m.touch()
	handshakeState.WithLabelValues(m.role.String()).Set(float64(m.state))
	log.Debug("%s: %s -> %s", m.role, previous, m.state)
	if m.state == StateDone {
		handshakesCompleted.WithLabelValues(m.role.String()).Inc()
		log.Info("%s: handshake complete", m.role)
		m.release()
	}
}

func (m *Machine) fail(err error) {
	failed := m.state
	m.err = &StateError{State: failed, Err: err}
	m.state = StateFailed
	m.cursor = nil
	handshakeFailures.WithLabelValues(m.role.String(), failed.String()).Inc()
	handshakeState.WithLabelValues(m.role.String()).Set(float64(m.state))
	log.Error("%s: %s", m.role, m.err)
	m.release()
}

func (m *Machine) touch() {
	m.lastProgress = m.clock.Now()
}

func (m *Machine) stalled() bool {
	return m.stallTimeout > 0 && m.clock.Since(m.lastProgress) >= m.stallTimeout
}

// release destroys the session's signing key and key-exchange secrets.
func (m *Machine) release() {
	m.signer.Close()
	m.kex.Close()
}

// Abort moves an unfinished Machine to StateFailed with err. It has no effect on a Machine that
// has already finished.
func (m *Machine) Abort(err error) {
	if m.state.Terminal() {
		return
	}
	m.fail(err)
}

// Close releases the Machine's keys. A Machine that has not finished is aborted.
func (m *Machine) Close() error {
	m.Abort(errors.New("closed"))
	return nil
}

func (m *Machine) Role() Role {
	return m.role
}

func (m *Machine) State() State {
	return m.state
}

// Done reports whether the Machine has reached StateDone or StateFailed. Err distinguishes the
// two.
func (m *Machine) Done() bool {
	return m.state.Terminal()
}

func (m *Machine) Err() error {
	return m.err
}

// Progress returns the number of states completed and the number required to finish.
func (m *Machine) Progress() (int, int) {
	return m.step, len(m.plan) - 1
}

func (m *Machine) Ticks() uint64 {
	return m.ticks
}

// Result returns a copy of the artifacts exchanged so far. It is complete once State returns
// StateDone.
func (m *Machine) Result() Result {
	return m.result.clone()
}
