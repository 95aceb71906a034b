// Package pairing runs one side of the serial pairing protocol over a connector.Transport.
//
// A Peer connects the pieces of the receive path (transport receive callback, deferred drain
// task, receive queue) to a handshake state machine and paces the machine with a ticker:
//
//	p, err := pairing.NewPeer(conn, pairing.Config{Role: pairing.Remote})
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//	result, err := p.Run(ctx)
package pairing

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/teslamotors/serial-pairing/internal/dispatcher"
	"github.com/teslamotors/serial-pairing/internal/handshake"
	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/internal/ringbuffer"
	"github.com/teslamotors/serial-pairing/pkg/connector"
)

type Role = handshake.Role

const (
	Remote = handshake.Initiator
	Car    = handshake.Responder
)

type (
	State  = handshake.State
	Result = handshake.Result
)

var (
	ErrAuthentication = handshake.ErrAuthentication
	ErrStallTimeout   = handshake.ErrStallTimeout
)

// ParseRole accepts "remote", "initiator", "car", or "responder".
func ParseRole(s string) (Role, error) {
	return handshake.ParseRole(s)
}

type Config struct {
	Role Role
	// Identity defaults to the protocol's shared identity string.
	Identity []byte
	// Message is encrypted and sent to the peer once the session key is established.
	Message []byte
	// TickInterval paces the handshake. Defaults to connector.DefaultTickInterval.
	TickInterval time.Duration
	// StallTimeout fails the handshake after this long without traffic. Zero waits forever.
	StallTimeout time.Duration
	// QueueCapacity sizes the receive queue. Defaults to ringbuffer.DefaultCapacity.
	QueueCapacity int
	Clock         clockwork.Clock
}

// A Peer is one endpoint of a pairing session.
type Peer struct {
	conn         connector.Transport
	rx           *ringbuffer.RingBuffer
	dispatch     *dispatcher.Dispatcher
	clock        clockwork.Clock
	tickInterval time.Duration

	lock    sync.Mutex
	machine *handshake.Machine
}

// NewPeer creates a Peer that communicates over conn. The caller retains ownership of conn.
func NewPeer(conn connector.Transport, cfg Config) (*Peer, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = connector.DefaultTickInterval
	}
	rx := ringbuffer.New(cfg.QueueCapacity)
	machine, err := handshake.New(handshake.Config{
		Role:         cfg.Role,
		Rx:           rx,
		Tx:           conn,
		Identity:     cfg.Identity,
		Message:      cfg.Message,
		Clock:        cfg.Clock,
		StallTimeout: cfg.StallTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "initializing %s", cfg.Role)
	}
	return &Peer{
		conn:         conn,
		rx:           rx,
		dispatch:     dispatcher.New(conn, rx),
		clock:        cfg.Clock,
		tickInterval: cfg.TickInterval,
		machine:      machine,
	}, nil
}

// Connect starts receiving bytes from the transport. Run calls Connect; callers that drive the
// Peer with Step must call it themselves.
func (p *Peer) Connect(ctx context.Context) error {
	if err := p.dispatch.Start(ctx); err != nil {
		return errors.Wrap(err, "starting receive dispatcher")
	}
	return nil
}

// Disconnect stops receiving bytes. Bytes already queued remain available to Step.
func (p *Peer) Disconnect() {
	p.dispatch.Stop()
}

// Step advances the handshake by one tick.
func (p *Peer) Step() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.machine.Tick()
}

// Run connects and steps the handshake every tick interval until it finishes or ctx is done.
func (p *Peer) Run(ctx context.Context) (*Result, error) {
	if err := p.Connect(ctx); err != nil {
		return nil, err
	}
	ticker := p.clock.NewTicker(p.tickInterval)
	defer ticker.Stop()
	for {
		if err := p.Step(); err != nil {
			return nil, errors.Wrapf(err, "%s handshake", p.Role())
		}
		if p.Done() {
			result := p.Result()
			return &result, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "%s handshake interrupted in %s", p.Role(), p.State())
		case <-ticker.Chan():
		}
	}
}

// Close stops receiving and destroys the Peer's keys. An unfinished handshake is aborted. Close
// does not close the transport.
func (p *Peer) Close() error {
	p.Disconnect()
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.machine.Close()
}

func (p *Peer) Role() Role {
	return p.machine.Role()
}

func (p *Peer) State() State {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.machine.State()
}

func (p *Peer) Done() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.machine.Done()
}

func (p *Peer) Err() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.machine.Err()
}

func (p *Peer) Result() Result {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.machine.Result()
}

// Stats describes the receive path and handshake progress.
type Stats struct {
	State      State
	Completed  int
	Total      int
	Ticks      uint64
	Received   uint64
	Overflows  uint64
	QueueLevel int
}

func (p *Peer) Stats() Stats {
	p.lock.Lock()
	completed, total := p.machine.Progress()
	stats := Stats{
		State:     p.machine.State(),
		Completed: completed,
		Total:     total,
		Ticks:     p.machine.Ticks(),
	}
	p.lock.Unlock()
	stats.Received = p.dispatch.Received()
	stats.Overflows = p.dispatch.Overflows()
	stats.QueueLevel = p.rx.FillLevel()
	return stats
}

// Pair runs a and b concurrently until both finish. It is intended for loopback testing.
func Pair(ctx context.Context, a, b *Peer) (*Result, *Result, error) {
	var wg sync.WaitGroup
	var resultA, resultB *Result
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		resultA, errA = a.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		resultB, errB = b.Run(ctx)
	}()
	wg.Wait()
	if errA != nil {
		log.Error("%s", errA)
		return resultA, resultB, errA
	}
	return resultA, resultB, errB
}
