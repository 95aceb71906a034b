package main

import (
	"bytes"
	"flag"
	"os"
	"time"

	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/pkg/connector/serial"
	"github.com/teslamotors/serial-pairing/pkg/protocol"
)

var (
	device   = flag.String("port", "", "Serial device to test. Lists available devices if omitted.")
	baud     = flag.Int("baud", serial.DefaultBaudRate, "Baud rate")
	testEcho = flag.Bool("testEcho", false, "Also send a frame and expect it back (requires a TX-RX jumper)")
)

func main() {
	flag.Parse()
	log.SetLevel(log.LevelDebug)

	status := 1
	defer func() {
		os.Exit(status)
	}()

	if *device == "" {
		ports, err := serial.Ports()
		if err != nil {
			log.Error("Failed to enumerate serial devices: %v", err)
			return
		}
		if len(ports) == 0 {
			log.Error("No serial devices found")
			return
		}
		for _, port := range ports {
			log.Info("Found %s", port)
		}
		status = 0
		return
	}

	port, err := serial.Open(serial.Config{Device: *device, BaudRate: *baud})
	if err != nil {
		log.Error("Failed to open serial device: %v", err)
		return
	}
	defer port.Close()
	log.Info("Serial device initialized")

	if !*testEcho {
		status = 0
		return
	}

	frame, err := protocol.BuildFrame([]byte("echo"))
	if err != nil {
		log.Error("Failed to build frame: %v", err)
		return
	}
	for _, b := range frame {
		for !port.Writable() {
			time.Sleep(time.Millisecond)
		}
		if err := port.PutByte(b); err != nil {
			log.Error("Write failed: %v", err)
			return
		}
	}

	var echoed []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(echoed) < len(frame) && time.Now().Before(deadline) {
		if b, err := port.GetByte(); err == nil {
			echoed = append(echoed, b)
		} else {
			time.Sleep(time.Millisecond)
		}
	}
	if !bytes.Equal(echoed, frame) {
		log.Error("Echo mismatch: sent %02x, received %02x", frame, echoed)
		return
	}
	log.Info("Echo test passed")
	status = 0
}
