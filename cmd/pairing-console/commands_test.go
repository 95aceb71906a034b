package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslamotors/serial-pairing/pkg/cli"
	"github.com/teslamotors/serial-pairing/pkg/pairing"
	"github.com/teslamotors/serial-pairing/pkg/transcript"
)

func newTestBench(t *testing.T) *bench {
	t.Helper()
	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		t.Fatal(err)
	}
	config.TranscriptFile = filepath.Join(t.TempDir(), "transcripts.bin")
	b, err := newBench(config, pairing.Config{TickInterval: 100 * time.Microsecond})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Close)
	return b
}

func run(t *testing.T, b *bench, args ...string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return execute(ctx, b, args)
}

func TestParsePayload(t *testing.T) {
	type params struct {
		str   string
		data  []byte
		isErr bool
	}
	testCases := []params{
		{str: "noise", data: []byte("noise")},
		{str: "0x24402a", data: []byte{'$', '@', '*'}},
		{str: "0x", data: []byte{}},
		{str: "0x2", isErr: true},
		{str: "0xzz", isErr: true},
		{str: "", isErr: true},
	}
	for _, test := range testCases {
		data, err := parsePayload(test.str)
		if (err != nil) != test.isErr {
			t.Errorf("payload '%s' gave unexpected err = %s", test.str, err)
		} else if err != nil && !errors.Is(err, ErrCommandLineArgs) {
			t.Errorf("payload '%s' gave %s instead of ErrCommandLineArgs", test.str, err)
		} else if !bytes.Equal(data, test.data) {
			t.Errorf("payload '%s' gave %02x instead of %02x", test.str, data, test.data)
		}
	}
}

func TestParseCount(t *testing.T) {
	type params struct {
		str   string
		count int
		isErr bool
	}
	testCases := []params{
		{str: "", count: 1},
		{str: "1", count: 1},
		{str: "250", count: 250},
		{str: "0", isErr: true},
		{str: "-3", isErr: true},
		{str: "ten", isErr: true},
	}
	for _, test := range testCases {
		count, err := parseCount(test.str)
		if (err != nil) != test.isErr {
			t.Errorf("count '%s' gave unexpected err = %s", test.str, err)
		} else if count != test.count {
			t.Errorf("count '%s' gave %d instead of %d", test.str, count, test.count)
		}
	}
}

func TestParseSwitch(t *testing.T) {
	for _, s := range []string{"on", "ON", "true", "1"} {
		if on, err := parseSwitch(s); err != nil || !on {
			t.Errorf("expected '%s' to be on", s)
		}
	}
	for _, s := range []string{"off", "False", "0"} {
		if on, err := parseSwitch(s); err != nil || on {
			t.Errorf("expected '%s' to be off", s)
		}
	}
	if _, err := parseSwitch("maybe"); !errors.Is(err, ErrCommandLineArgs) {
		t.Errorf("expected ErrCommandLineArgs, got %s", err)
	}
}

func TestExecuteValidatesArguments(t *testing.T) {
	b := newTestBench(t)
	if err := run(t, b); err == nil {
		t.Error("expected error for missing command")
	}
	if err := run(t, b, "unlock"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %s", err)
	}
	if err := run(t, b, "garble", "car"); !errors.Is(err, ErrCommandLineArgs) {
		t.Errorf("expected ErrCommandLineArgs for missing DATA, got %s", err)
	}
	if err := run(t, b, "state", "extra"); !errors.Is(err, ErrCommandLineArgs) {
		t.Errorf("expected ErrCommandLineArgs for extra argument, got %s", err)
	}
	if err := run(t, b, "busy", "toaster", "on"); !errors.Is(err, ErrCommandLineArgs) {
		t.Errorf("expected ErrCommandLineArgs for bad role, got %s", err)
	}
}

func TestStep(t *testing.T) {
	b := newTestBench(t)
	if err := run(t, b, "step", "3"); err != nil {
		t.Fatal(err)
	}
	for _, role := range []pairing.Role{pairing.Remote, pairing.Car} {
		if ticks := b.peers[role].Stats().Ticks; ticks != 3 {
			t.Errorf("%s ticked %d times, expected 3", role, ticks)
		}
	}
	if err := run(t, b, "result", "car"); !errors.Is(err, ErrNotFinished) {
		t.Errorf("expected ErrNotFinished, got %s", err)
	}
}

func TestRunWithNoise(t *testing.T) {
	b := newTestBench(t)
	if err := run(t, b, "garble", "car", "line noise"); err != nil {
		t.Fatal(err)
	}
	if err := run(t, b, "run"); err != nil {
		t.Fatalf("handshake failed: %s", err)
	}
	remote, err := b.result(pairing.Remote)
	if err != nil {
		t.Fatal(err)
	}
	car, err := b.result(pairing.Car)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(remote.SharedKey, car.SharedKey) {
		t.Errorf("session keys differ: %02x != %02x", remote.SharedKey, car.SharedKey)
	}
	if err := run(t, b, "result", "remote"); err != nil {
		t.Errorf("unexpected error printing result: %s", err)
	}
}

func TestTranscriptAndReset(t *testing.T) {
	b := newTestBench(t)
	if err := run(t, b, "transcript"); !errors.Is(err, ErrNotFinished) {
		t.Errorf("expected ErrNotFinished, got %s", err)
	}
	if err := run(t, b, "run"); err != nil {
		t.Fatal(err)
	}
	if err := run(t, b, "transcript"); err != nil {
		t.Fatal(err)
	}
	journal, err := transcript.ImportFromFile(b.config.TranscriptFile)
	if err != nil {
		t.Fatal(err)
	}
	if journal.Len() != 2 {
		t.Errorf("expected transcripts from both roles, got %d", journal.Len())
	}

	if err := run(t, b, "reset"); err != nil {
		t.Fatal(err)
	}
	if b.peers[pairing.Remote].Done() {
		t.Error("reset did not start a new session")
	}
}

func TestBusyTransmitter(t *testing.T) {
	b := newTestBench(t)
	if err := run(t, b, "busy", "remote", "on"); err != nil {
		t.Fatal(err)
	}
	if err := run(t, b, "step", "20"); err != nil {
		t.Fatal(err)
	}
	if sent := b.links[pairing.Remote].Sent(); sent != 0 {
		t.Errorf("busy transmitter sent %d bytes", sent)
	}
	if err := run(t, b, "busy", "remote", "off"); err != nil {
		t.Fatal(err)
	}
	if err := run(t, b, "step"); err != nil {
		t.Fatal(err)
	}
	if sent := b.links[pairing.Remote].Sent(); sent != 1 {
		t.Errorf("expected one byte per tick, sent %d", sent)
	}
}
