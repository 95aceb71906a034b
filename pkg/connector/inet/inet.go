// Package inet implements connector.Transport over a TCP stream, for serial lines exposed through a
// network serial server (ser2net, RFC 2217 bridges in raw mode, and similar).
package inet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/pkg/connector"
)

// Scheme prefixes addresses that should be dialed over TCP instead of opened as local devices.
const Scheme = "tcp://"

const (
	readPollInterval = 50 * time.Millisecond
	readChunkSize    = 64
	// WriteTimeout bounds a single PutByte. A peer that stops reading causes PutByte to fail
	// rather than hang the handshake tick.
	WriteTimeout = 2 * time.Second
)

var ErrNotTCPAddress = errors.New("address does not start with " + Scheme)

type Config struct {
	// TxRate caps outgoing bytes per second. Zero disables pacing.
	TxRate  float64
	TxBurst int
}

// Conn is a connector.Transport backed by a stream connection.
type Conn struct {
	connector.Inbox

	name    string
	conn    net.Conn
	limiter *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// IsAddress reports whether s names a TCP endpoint rather than a local device.
func IsAddress(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// Dial connects to address, which must have the form tcp://host:port.
func Dial(ctx context.Context, address string, cfg Config) (*Conn, error) {
	hostPort, ok := strings.CutPrefix(address, Scheme)
	if !ok {
		return nil, ErrNotTCPAddress
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("couldn't connect to %s: %w", hostPort, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		// Frames go out one byte per tick.
		tcp.SetNoDelay(true)
	}
	log.Info("Connected to %s", hostPort)
	return Wrap(conn, cfg), nil
}

// Wrap adapts an established stream to connector.Transport. Conn takes ownership of conn.
func Wrap(conn net.Conn, cfg Config) *Conn {
	c := &Conn{
		name: conn.RemoteAddr().String(),
		conn: conn,
		done: make(chan struct{}),
	}
	if cfg.TxRate > 0 {
		burst := cfg.TxBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.TxRate), burst)
	}
	c.wg.Add(1)
	go c.receive()
	return c
}

func (c *Conn) String() string {
	return c.name
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) receive() {
	defer c.wg.Done()
	buffer := make([]byte, readChunkSize)
	for !c.closed() {
		c.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, err := c.conn.Read(buffer)
		if n > 0 {
			log.Debug("RX: %02x", buffer[:n])
			c.Rx(buffer[:n])
		}
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		if !c.closed() {
			if errors.Is(err, io.EOF) {
				log.Warning("%s closed the connection", c.name)
			} else {
				log.Error("Read from %s failed: %s", c.name, err)
			}
		}
		return
	}
}

func (c *Conn) Writable() bool {
	if c.closed() {
		return false
	}
	return c.limiter == nil || c.limiter.Allow()
}

func (c *Conn) PutByte(b byte) error {
	if c.closed() {
		return connector.ErrClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := c.conn.Write([]byte{b}); err != nil {
		return fmt.Errorf("write to %s failed: %w", c.name, err)
	}
	return nil
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.Detach()
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

var _ connector.Transport = (*Conn)(nil)
