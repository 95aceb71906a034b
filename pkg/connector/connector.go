// Package connector defines the byte-oriented serial transport the pairing protocol runs over.
package connector

//go:generate mockgen -source=connector.go -destination=mocks/transport.go -package=mocks Transport

import (
	"time"
)

// DefaultTickInterval is the recommended delay between handshake steps. Peers write one byte per
// step, so the interval also bounds the rate at which a peer can fill the other side's receive
// queue.
const DefaultTickInterval = time.Millisecond

// Transport sends and receives single bytes over a serial link.
//
// Writable, PutByte, Readable and GetByte never block. The receive callback registered with Attach
// plays the role of a receive interrupt: implementations invoke it whenever new bytes become
// readable, from whatever goroutine delivers them, until Detach is called.
type Transport interface {
	// Writable returns true if PutByte will accept a byte immediately.
	Writable() bool

	// PutByte transmits b. Callers should check Writable first.
	PutByte(b byte) error

	// Readable returns true if at least one received byte is waiting.
	Readable() bool

	// GetByte returns the next received byte. It returns an error if no byte is waiting.
	GetByte() (byte, error)

	// Attach registers the receive callback, replacing any previous one. If bytes are already
	// waiting, the callback fires promptly.
	Attach(callback func())

	// Detach unregisters the receive callback. Bytes that arrive while detached are queued
	// and announced on the next Attach.
	Detach()

	// Close releases the link. Repeated calls must be idempotent.
	Close() error
}
