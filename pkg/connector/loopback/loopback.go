// Package loopback provides an in-memory pair of connected serial transports. It is used for bench
// testing both protocol roles in a single process.
package loopback

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/pkg/connector"
)

// Endpoint is one end of a loopback link. Bytes written to an Endpoint are received by its peer.
type Endpoint struct {
	connector.Inbox

	name    string
	peer    *Endpoint
	limiter *rate.Limiter

	lock     sync.Mutex
	writable bool
	closed   bool
	sent     int
}

type Option func(*Endpoint)

// WithRate paces writes to at most bytesPerSecond, allowing bursts of up to burst bytes.
func WithRate(bytesPerSecond float64, burst int) Option {
	return func(e *Endpoint) {
		e.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	}
}

// NewPair returns two connected endpoints, named for logging purposes.
func NewPair(nameA, nameB string, options ...Option) (*Endpoint, *Endpoint) {
	a := &Endpoint{name: nameA, writable: true}
	b := &Endpoint{name: nameB, writable: true}
	a.peer, b.peer = b, a
	for _, option := range options {
		option(a)
		option(b)
	}
	return a, b
}

func (e *Endpoint) String() string {
	return e.name
}

// Writable reports whether the endpoint will accept a byte now. When the endpoint is rate
// limited, a true result consumes the budget for one byte.
func (e *Endpoint) Writable() bool {
	e.lock.Lock()
	ready := e.writable && !e.closed
	e.lock.Unlock()
	if !ready {
		return false
	}
	return e.limiter == nil || e.limiter.Allow()
}

func (e *Endpoint) PutByte(b byte) error {
	e.lock.Lock()
	if e.closed {
		e.lock.Unlock()
		return connector.ErrClosed
	}
	e.sent++
	e.lock.Unlock()
	e.peer.Rx([]byte{b})
	return nil
}

// SetWritable simulates a busy transmitter.
func (e *Endpoint) SetWritable(writable bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.writable = writable
}

// Inject delivers p to this endpoint as if the peer had sent it. Used to simulate line noise.
func (e *Endpoint) Inject(p []byte) {
	log.Debug("[%s] injecting %02x", e.name, p)
	e.Rx(p)
}

// Sent returns the number of bytes written to the endpoint.
func (e *Endpoint) Sent() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.sent
}

func (e *Endpoint) Close() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.closed = true
	return nil
}

var _ connector.Transport = (*Endpoint)(nil)
