package connector

import (
	"errors"
	"sync"

	"github.com/teslamotors/serial-pairing/internal/log"
)

// MaxInboxLength caps the number of received bytes a Transport holds before its receive callback
// drains them. Bytes beyond the cap are dropped, which mirrors a UART FIFO overrun.
const MaxInboxLength = 4096

var (
	// ErrNoData indicates GetByte was called when no byte was waiting.
	ErrNoData = errors.New("no received data available")
	// ErrClosed indicates the transport was used after Close.
	ErrClosed = errors.New("transport closed")
)

// Inbox implements the receive half of a Transport: it queues bytes delivered by a driver and
// announces them through the attached receive callback. It is safe for concurrent use.
type Inbox struct {
	lock     sync.Mutex
	pending  []byte
	callback func()
	attached bool
	dropped  int
}

// Rx queues received bytes and fires the receive callback if one is attached.
func (i *Inbox) Rx(p []byte) {
	i.lock.Lock()
	room := MaxInboxLength - len(i.pending)
	if len(p) > room {
		i.dropped += len(p) - room
		log.Warning("Inbox overrun, dropped %d bytes", len(p)-room)
		p = p[:room]
	}
	i.pending = append(i.pending, p...)
	callback := i.interruptLocked()
	i.lock.Unlock()
	if callback != nil {
		callback()
	}
}

func (i *Inbox) interruptLocked() func() {
	if i.attached && len(i.pending) > 0 {
		return i.callback
	}
	return nil
}

func (i *Inbox) Readable() bool {
	i.lock.Lock()
	defer i.lock.Unlock()
	return len(i.pending) > 0
}

func (i *Inbox) GetByte() (byte, error) {
	i.lock.Lock()
	defer i.lock.Unlock()
	if len(i.pending) == 0 {
		return 0, ErrNoData
	}
	b := i.pending[0]
	i.pending = i.pending[1:]
	return b, nil
}

func (i *Inbox) Attach(callback func()) {
	i.lock.Lock()
	i.callback = callback
	i.attached = callback != nil
	fire := i.interruptLocked()
	i.lock.Unlock()
	if fire != nil {
		fire()
	}
}

func (i *Inbox) Detach() {
	i.lock.Lock()
	defer i.lock.Unlock()
	i.attached = false
}

// Dropped returns the number of bytes discarded because the inbox was full.
func (i *Inbox) Dropped() int {
	i.lock.Lock()
	defer i.lock.Unlock()
	return i.dropped
}
