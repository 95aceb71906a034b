// Package dispatcher moves received bytes out of the transport's receive-interrupt context and
// into the receive queue consumed by the handshake loop.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/alitto/pond/v2"

	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/internal/ringbuffer"
	"github.com/teslamotors/serial-pairing/pkg/connector"
)

// Dispatcher services a Transport's receive callback.
//
// The callback never touches the receive queue. It detaches itself and defers a drain task onto a
// single-worker queue; the drain task copies every readable byte into the RingBuffer and then
// re-attaches the callback. Since the callback stays detached until the drain task finishes, at
// most one drain task is pending or running at a time, which keeps the RingBuffer single-producer.
type Dispatcher struct {
	conn connector.Transport
	rx   *ringbuffer.RingBuffer

	doneLock sync.Mutex
	queue    pond.Pool
	stopping atomic.Bool

	received  atomic.Uint64
	overflows atomic.Uint64
}

// New creates a Dispatcher that fills rx with bytes read from conn.
func New(conn connector.Transport, rx *ringbuffer.RingBuffer) *Dispatcher {
	return &Dispatcher{conn: conn, rx: rx}
}

// Start attaches the receive callback. The deferred task queue shuts down when ctx is canceled
// or Stop is called. Calling Start on a running Dispatcher has no effect.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.doneLock.Lock()
	if d.queue != nil {
		d.doneLock.Unlock()
		return nil
	}
	log.Info("Starting dispatcher service...")
	d.stopping.Store(false)
	d.queue = pond.NewPool(1, pond.WithContext(ctx))
	d.doneLock.Unlock()

	d.conn.Attach(d.interrupt)
	return nil
}

// Stop detaches the receive callback and waits for any pending drain task.
//
// doneLock is released before waiting: a drain task that re-attaches the callback may fire it
// synchronously, and the callback takes doneLock in Defer.
func (d *Dispatcher) Stop() {
	d.doneLock.Lock()
	queue := d.queue
	if queue == nil {
		d.doneLock.Unlock()
		return
	}
	d.stopping.Store(true)
	d.queue = nil
	d.doneLock.Unlock()

	d.conn.Detach()
	queue.StopAndWait()
	// A drain task that was already past its stopping check may have re-attached.
	d.conn.Detach()
}

// Defer queues task for execution outside of interrupt context. Tasks run one at a time, in the
// order they were deferred. Returns false if the Dispatcher is not running.
func (d *Dispatcher) Defer(task func()) bool {
	d.doneLock.Lock()
	queue := d.queue
	d.doneLock.Unlock()
	if queue == nil || queue.Stopped() || d.stopping.Load() {
		return false
	}
	queue.Submit(task)
	return true
}

func (d *Dispatcher) interrupt() {
	d.conn.Detach()
	if !d.Defer(d.drain) {
		log.Debug("Receive interrupt after dispatcher stopped")
	}
}

func (d *Dispatcher) drain() {
	for d.conn.Readable() {
		b, err := d.conn.GetByte()
		if err != nil {
			break
		}
		d.received.Add(1)
		bytesReceived.Inc()
		if err := d.rx.Write(b); err != nil {
			d.overflows.Add(1)
			rxOverflows.Inc()
			log.Warning("Buffer overflow, dropping %02x", b)
		}
	}
	if d.stopping.Load() {
		return
	}
	d.conn.Attach(d.interrupt)
}

// Received returns the number of bytes read from the transport.
func (d *Dispatcher) Received() uint64 {
	return d.received.Load()
}

// Overflows returns the number of received bytes dropped because the RingBuffer was full.
func (d *Dispatcher) Overflows() uint64 {
	return d.overflows.Load()
}
