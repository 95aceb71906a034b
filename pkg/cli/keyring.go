package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName     = "com.tesla.pairing"
	keyringIdentityService = "pairingIdentity"
	keyringDirectory       = "~/.tesla_pairing"
)

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b backendType) Set(v string) error {
	value := keyring.BackendType(v)
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

func (c *Config) getPassword(prompt string) (string, error) {
	if c.password != nil && *c.password != "" {
		return *c.password, nil
	}

	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal output available for password prompt")
		} else {
			w = os.Stderr
		}
	} else {
		w = os.Stdout
	}

	fmt.Fprintf(w, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w)
	password := string(b)
	c.password = &password
	return password, nil
}

// SetPassword sets the password used to unlock file-backed keyrings, bypassing the interactive
// prompt.
func (c *Config) SetPassword(password string) {
	c.password = &password
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	return keyring.Open(c.Backend)
}

func (c *Config) fullIdentityName() string {
	return keyringIdentityService + "." + c.IdentityName
}

// LoadIdentityFromKeyring reads the identity string stored under c.IdentityName.
func (c *Config) LoadIdentityFromKeyring() (string, error) {
	if c.IdentityName == "" {
		return "", fmt.Errorf("identity name not provided")
	}
	kr, err := c.openKeyring()
	if err != nil {
		return "", err
	}
	item, err := kr.Get(c.fullIdentityName())
	if err != nil {
		return "", fmt.Errorf("could not load identity: %w", err)
	}
	if len(item.Data) == 0 {
		return "", fmt.Errorf("empty identity")
	}
	return string(item.Data), nil
}

// SaveIdentityToKeyring writes identity to the system keyring under c.IdentityName.
//
// The name is an arbitrary label that identifies the entry for future use with
// LoadIdentityFromKeyring and does not need to match the system username.
func (c *Config) SaveIdentityToKeyring(identity string) error {
	if c.IdentityName == "" {
		return fmt.Errorf("identity name not provided")
	}
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}

	if err := kr.Set(keyring.Item{
		Key:         c.fullIdentityName(),
		Data:        []byte(identity),
		Label:       "Serial pairing identity",
		Description: "Identity string signed during serial pairing",
	}); err != nil {
		return fmt.Errorf("failed to enroll identity in keyring: %s", err)
	}
	return nil
}

// DeleteIdentity removes the identity string from the system keyring.
func (c *Config) DeleteIdentity() error {
	kr, err := c.openKeyring()
	if err != nil {
		return err
	}
	return kr.Remove(c.fullIdentityName())
}
