// Package serial implements connector.Transport on top of a UART device.
package serial

import (
	"errors"
	"fmt"
	"sync"
	"time"

	bugst "go.bug.st/serial"
	"golang.org/x/time/rate"

	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/pkg/connector"
)

const (
	DefaultBaudRate = 115200

	// readPollInterval bounds how long the receive goroutine blocks, so that Close is honored
	// promptly.
	readPollInterval = 50 * time.Millisecond
	readChunkSize    = 64
)

// Config describes how to open a serial device.
type Config struct {
	Device   string
	BaudRate int
	// TxRate caps outgoing bytes per second. Zero disables pacing.
	TxRate float64
	// TxBurst is the number of bytes that may be written back-to-back when TxRate is set.
	TxBurst int
}

// Port is a connector.Transport backed by a serial device.
type Port struct {
	connector.Inbox

	device  string
	port    bugst.Port
	limiter *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Ports lists the serial devices present on the host.
func Ports() ([]string, error) {
	return bugst.GetPortsList()
}

// Open opens cfg.Device (8N1) and starts receiving.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("no serial device specified")
	}
	baud := cfg.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	mode := &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	}
	port, err := bugst.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("couldn't open %s: %w", cfg.Device, err)
	}
	if err := port.SetReadTimeout(readPollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("couldn't configure %s: %w", cfg.Device, err)
	}
	p := &Port{
		device: cfg.Device,
		port:   port,
		done:   make(chan struct{}),
	}
	if cfg.TxRate > 0 {
		burst := cfg.TxBurst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.TxRate), burst)
	}
	log.Info("Opened %s at %d baud", cfg.Device, baud)
	p.wg.Add(1)
	go p.receive()
	return p, nil
}

func (p *Port) receive() {
	defer p.wg.Done()
	buffer := make([]byte, readChunkSize)
	for {
		select {
		case <-p.done:
			return
		default:
		}
		n, err := p.port.Read(buffer)
		if err != nil {
			select {
			case <-p.done:
			default:
				log.Error("Read from %s failed: %s", p.device, err)
			}
			return
		}
		if n > 0 {
			log.Debug("RX: %02x", buffer[:n])
			p.Rx(buffer[:n])
		}
	}
}

func (p *Port) Writable() bool {
	select {
	case <-p.done:
		return false
	default:
	}
	return p.limiter == nil || p.limiter.Allow()
}

func (p *Port) PutByte(b byte) error {
	select {
	case <-p.done:
		return connector.ErrClosed
	default:
	}
	if _, err := p.port.Write([]byte{b}); err != nil {
		return fmt.Errorf("write to %s failed: %w", p.device, err)
	}
	return nil
}

func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.Detach()
		err = p.port.Close()
		p.wg.Wait()
	})
	return err
}

var _ connector.Transport = (*Port)(nil)
