package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teslamotors/serial-pairing/pkg/cli"
	"github.com/teslamotors/serial-pairing/pkg/connector/loopback"
	"github.com/teslamotors/serial-pairing/pkg/pairing"
	"github.com/teslamotors/serial-pairing/pkg/transcript"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")
	ErrNotFinished     = errors.New("handshake has not completed")
)

// bench runs both roles in one process over a loopback link.
type bench struct {
	config *cli.Config
	base   pairing.Config
	links  map[pairing.Role]*loopback.Endpoint
	peers  map[pairing.Role]*pairing.Peer
}

func newBench(config *cli.Config, base pairing.Config) (*bench, error) {
	b := &bench{config: config, base: base}
	if err := b.reset(); err != nil {
		return nil, err
	}
	return b, nil
}

// reset discards the current session and starts a new one with fresh keys.
func (b *bench) reset() error {
	b.Close()
	var options []loopback.Option
	if b.config != nil && b.config.TxRate > 0 {
		options = append(options, loopback.WithRate(b.config.TxRate, 1))
	}
	remoteLink, carLink := loopback.NewPair("remote", "car", options...)
	b.links = map[pairing.Role]*loopback.Endpoint{pairing.Remote: remoteLink, pairing.Car: carLink}
	b.peers = make(map[pairing.Role]*pairing.Peer)
	for _, role := range []pairing.Role{pairing.Remote, pairing.Car} {
		cfg := b.base
		cfg.Role = role
		peer, err := pairing.NewPeer(b.links[role], cfg)
		if err != nil {
			b.Close()
			return err
		}
		b.peers[role] = peer
		if err = peer.Connect(context.Background()); err != nil {
			b.Close()
			return err
		}
	}
	return nil
}

func (b *bench) Close() {
	for _, peer := range b.peers {
		peer.Close()
	}
	for _, link := range b.links {
		link.Close()
	}
	b.peers = nil
	b.links = nil
}

func (b *bench) step() error {
	for _, role := range []pairing.Role{pairing.Remote, pairing.Car} {
		if err := b.peers[role].Step(); err != nil {
			return err
		}
	}
	return nil
}

func (b *bench) result(role pairing.Role) (*pairing.Result, error) {
	peer := b.peers[role]
	if !peer.Done() {
		return nil, fmt.Errorf("%w: %s is in %s", ErrNotFinished, role, peer.State())
	}
	result := peer.Result()
	return &result, nil
}

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, b *bench, args map[string]string) error

type Command struct {
	help     string
	args     []Argument
	optional []Argument
	handler  Handler
}

func parseRole(s string) (pairing.Role, error) {
	role, err := pairing.ParseRole(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrCommandLineArgs, err)
	}
	return role, nil
}

// parsePayload interprets s as hex when it has a 0x prefix and as literal text otherwise.
func parsePayload(s string) ([]byte, error) {
	if h, ok := strings.CutPrefix(s, "0x"); ok {
		data, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCommandLineArgs, err)
		}
		return data, nil
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrCommandLineArgs)
	}
	return []byte(s), nil
}

func parseCount(s string) (int, error) {
	if s == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: COUNT must be a positive integer", ErrCommandLineArgs)
	}
	return n, nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: expected on or off", ErrCommandLineArgs)
}

func printStats(b *bench) {
	for _, role := range []pairing.Role{pairing.Remote, pairing.Car} {
		s := b.peers[role].Stats()
		fmt.Printf("%-6s %-20s %2d/%d ticks=%d rx=%d queued=%d overflows=%d\n",
			role, s.State, s.Completed, s.Total, s.Ticks, s.Received, s.QueueLevel, s.Overflows)
	}
}

func execute(ctx context.Context, b *bench, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, ok := commands[args[0]]
	if !ok {
		return ErrUnknownCommand
	}

	var err error
	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args), len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, b, keywords)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" [")
	}
	for _, arg := range c.optional {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" ]")
	}
	fmt.Printf("\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

var roleArgument = Argument{name: "ROLE", help: "remote or car"}

var commands = map[string]*Command{
	"run": &Command{
		help: "Run both peers until the handshake finishes",
		handler: func(ctx context.Context, b *bench, args map[string]string) error {
			remote, car, err := pairing.Pair(ctx, b.peers[pairing.Remote], b.peers[pairing.Car])
			printStats(b)
			if err != nil {
				return err
			}
			fmt.Printf("remote received %q\n", remote.Message)
			fmt.Printf("car received %q\n", car.Message)
			return nil
		},
	},
	"step": &Command{
		help:     "Advance both peers by COUNT ticks",
		optional: []Argument{Argument{name: "COUNT", help: "number of ticks (default 1)"}},
		handler: func(ctx context.Context, b *bench, args map[string]string) error {
			count, err := parseCount(args["COUNT"])
			if err != nil {
				return err
			}
			for i := 0; i < count; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := b.step(); err != nil {
					return err
				}
			}
			printStats(b)
			return nil
		},
	},
	"state": &Command{
		help: "Print handshake progress of both peers",
		handler: func(ctx context.Context, b *bench, args map[string]string) error {
			printStats(b)
			return nil
		},
	},
	"garble": &Command{
		help: "Deliver DATA to ROLE as if it came over the link",
		args: []Argument{
			roleArgument,
			Argument{name: "DATA", help: "text, or hex bytes prefixed with 0x"},
		},
		handler: func(ctx context.Context, b *bench, args map[string]string) error {
			role, err := parseRole(args["ROLE"])
			if err != nil {
				return err
			}
			data, err := parsePayload(args["DATA"])
			if err != nil {
				return err
			}
			b.links[role].Inject(data)
			return nil
		},
	},
	"busy": &Command{
		help: "Mark ROLE's transmitter busy (on) or ready (off)",
		args: []Argument{
			roleArgument,
			Argument{name: "SWITCH", help: "on or off"},
		},
		handler: func(ctx context.Context, b *bench, args map[string]string) error {
			role, err := parseRole(args["ROLE"])
			if err != nil {
				return err
			}
			busy, err := parseSwitch(args["SWITCH"])
			if err != nil {
				return err
			}
			b.links[role].SetWritable(!busy)
			return nil
		},
	},
	"result": &Command{
		help: "Print what ROLE exchanged during a completed handshake",
		args: []Argument{roleArgument},
		handler: func(ctx context.Context, b *bench, args map[string]string) error {
			role, err := parseRole(args["ROLE"])
			if err != nil {
				return err
			}
			result, err := b.result(role)
			if err != nil {
				return err
			}
			t := transcript.FromResult(*result, time.Now())
			fmt.Printf("peer:        %s\n", t.PeerID())
			fmt.Printf("session key: %s\n", hex.EncodeToString(result.SharedKey))
			fmt.Printf("sent:        %s\n", hex.EncodeToString(result.SentCipherText))
			fmt.Printf("received:    %s\n", hex.EncodeToString(result.ReceivedCipherText))
			fmt.Printf("message:     %q\n", result.Message)
			return nil
		},
	},
	"transcript": &Command{
		help: "Record completed handshakes to the transcript file",
		handler: func(ctx context.Context, b *bench, args map[string]string) error {
			if b.config.TranscriptFile == "" {
				return errors.New("no transcript file configured (-transcript)")
			}
			for _, role := range []pairing.Role{pairing.Remote, pairing.Car} {
				result, err := b.result(role)
				if err != nil {
					return err
				}
				b.config.RecordTranscript(result)
			}
			journal, err := b.config.Journal()
			if err != nil {
				return err
			}
			for _, id := range journal.IDs() {
				fmt.Println(id)
			}
			return nil
		},
	},
	"reset": &Command{
		help: "Discard the current session and start over with fresh keys",
		handler: func(ctx context.Context, b *bench, args map[string]string) error {
			return b.reset()
		},
	},
}
