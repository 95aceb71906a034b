package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/pkg/cli"
)

func Usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [OPTION...]\n", os.Args[0])
	fmt.Fprintf(out, "\nRuns one side of the serial pairing handshake and exits when it completes.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	flag.PrintDefaults()
}

func main() {
	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		os.Exit(1)
	}

	defer func() {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}()

	flag.Usage = Usage
	config.RegisterCommandLineFlags()
	flag.Parse()
	if err = config.Load(); err != nil {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	peer, conn, err := config.Connect(ctx)
	if err != nil {
		return
	}
	defer conn.Close()
	defer peer.Close()

	if config.MetricsAddr != "" {
		server := newServer(config.MetricsAddr, peer)
		go func() {
			log.Info("Serving metrics on %s", config.MetricsAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server stopped: %s", err)
			}
		}()
		defer server.Shutdown(context.Background())
	}

	log.Info("Pairing as %s on %s", peer.Role(), config.Port)
	result, err := peer.Run(ctx)
	if err != nil {
		return
	}
	config.RecordTranscript(result)
	fmt.Printf("Paired. Received %q\n", result.Message)
}
