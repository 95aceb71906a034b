package protocol

import (
	"github.com/teslamotors/serial-pairing/internal/log"
)

// ByteWriter is the transmit half of a serial transport.
type ByteWriter interface {
	Writable() bool
	PutByte(b byte) error
}

// Cursor tracks how much of an outgoing frame has been written. The caller owns the Cursor for
// the duration of a transmission; there is no state shared between transmissions.
type Cursor struct {
	frame []byte
	sent  int
}

func NewCursor(frame []byte) *Cursor {
	return &Cursor{frame: frame}
}

// Send writes at most one byte of the frame. It returns true once the final byte has been
// written, including on the call that writes it.
//
// If w is not writable, Send writes nothing and returns ErrNotWritable; call Send again on the
// next tick to resume.
func (c *Cursor) Send(w ByteWriter) (bool, error) {
	if c.Done() {
		return true, nil
	}
	if !w.Writable() {
		log.Debug("Transport busy at byte %d of %d", c.sent, len(c.frame))
		return false, ErrNotWritable
	}
	if err := w.PutByte(c.frame[c.sent]); err != nil {
		return false, Wrap(err, false)
	}
	c.sent++
	return c.Done(), nil
}

func (c *Cursor) Done() bool {
	return c.sent >= len(c.frame)
}

// Sent returns the number of bytes written so far.
func (c *Cursor) Sent() int {
	return c.sent
}

func (c *Cursor) Len() int {
	return len(c.frame)
}
