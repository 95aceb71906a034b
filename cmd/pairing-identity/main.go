// Utility for saving, showing, and deleting pairing identity strings in the system keyring

package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/teslamotors/serial-pairing/internal/authentication"
	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/internal/provider"
	"github.com/teslamotors/serial-pairing/pkg/cli"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usageText = `
Saves, prints, or deletes the identity string that both pairing peers sign and verify, using the
system keyring.

set reads the identity from the remaining arguments, or from stdin if none are given. It will not
overwrite an existing identity unless invoked with -f. digest prints the SHA-256 digest that is
signed during pairing, and sign prints a freshly generated credential for the identity.

The type of keyring and name of the identity inside that keyring are controlled by the
command-line options below, or through the corresponding environment variables.`

func cliUsage() {
	usage(flag.CommandLine.Output())
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s [OPTION...] set|show|delete|digest|sign [IDENTITY]\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, usageText)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "OPTIONS:")
	flag.PrintDefaults()
}

func readIdentity(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty identity")
	}
	return line, nil
}

func main() {
	var overwrite bool
	status := 1
	defer func() {
		os.Exit(status)
	}()

	config, err := cli.NewConfig(cli.FlagIdentity)
	config.RegisterCommandLineFlags()
	flag.Usage = cliUsage
	flag.BoolVar(&overwrite, "f", false, "Overwrite existing identity if it exists")
	flag.Parse()
	if err != nil {
		writeErr("Failed to load credential configuration: %s", err)
		return
	}
	if err = config.Load(); err != nil {
		writeErr("Failed to load configuration: %s", err)
		return
	}

	if flag.NArg() < 1 {
		usage(os.Stderr)
		return
	}

	switch flag.Arg(0) {
	case "set":
		if config.IdentityName == "" {
			writeErr("Must provide name of identity (-identity-name)")
			return
		}
		if !overwrite {
			if existing, err := config.LoadIdentityFromKeyring(); err == nil {
				fmt.Println(existing)
				writeErr("Identity already exists. Run with -f to replace it.")
				return
			}
		}
		identity, err := readIdentity(flag.Args()[1:])
		if err != nil {
			writeErr("Failed to read identity: %s", err)
			return
		}
		if err = config.SaveIdentityToKeyring(identity); err != nil {
			writeErr("Failed to save identity to keyring: %s", err)
			return
		}
	case "show":
		identity, err := config.IdentityBytes()
		if err != nil {
			writeErr("Failed to load identity: %s", err)
			return
		}
		fmt.Println(string(identity))
	case "delete":
		if err := config.DeleteIdentity(); err != nil {
			writeErr("Failed to delete identity: %s", err)
			return
		}
	case "digest":
		identity, err := config.IdentityBytes()
		if err != nil {
			writeErr("Failed to load identity: %s", err)
			return
		}
		digest := sha256.Sum256(identity)
		fmt.Println(hex.EncodeToString(digest[:]))
	case "sign":
		identity, err := config.IdentityBytes()
		if err != nil {
			writeErr("Failed to load identity: %s", err)
			return
		}
		signer := authentication.NewSigner(provider.NewNative(nil), identity)
		defer signer.Close()
		if _, err = signer.Sign(); err != nil {
			writeErr("Failed to sign identity: %s", err)
			return
		}
		credential, err := signer.Credential()
		if err != nil {
			writeErr("Failed to export credential: %s", err)
			return
		}
		fmt.Printf("public key: %s\n", hex.EncodeToString(credential.PublicKey))
		fmt.Printf("signature:  %s\n", hex.EncodeToString(credential.Signature))
		log.Debug("Verifying fresh credential")
		if !authentication.NewVerifier(provider.NewNative(nil), *credential, identity).Verify() {
			writeErr("Generated credential failed verification")
			return
		}
	default:
		writeErr("Unrecognized command-line argument.")
		writeErr("")
		usage(os.Stderr)
		return
	}
	status = 0
}
