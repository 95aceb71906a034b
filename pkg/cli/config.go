/*
Package cli facilitates building command-line applications that run one side of the serial pairing
protocol. It defines a [Config] type that can be used to register common command-line flags (using
the Golang flag package), environment variable equivalents, and a YAML configuration file.

The package uses [keyring]'s platform-agnostic interface for storing the shared identity string in
an OS-dependent credential store.

# Examples

	import flag

	config, err := NewConfig(FlagAll)
	if err != nil {
		panic(err)
	}
	config.RegisterCommandLineFlags() // Adds command-line flags for the serial port, role, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields using environment variables
	if err := config.ReadFromFile(); err != nil { // Fills in remaining fields from -config
		panic(err)
	}
	config.ApplyDefaults()

	peer, conn, err := config.Connect(ctx)
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	defer peer.Close()
	result, err := peer.Run(ctx)
	config.RecordTranscript(result)

Values are resolved in order of decreasing precedence: command-line flags, environment variables,
the configuration file, and finally built-in defaults.
*/
package cli

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/teslamotors/serial-pairing/internal/authentication"
	"github.com/teslamotors/serial-pairing/internal/log"
	"github.com/teslamotors/serial-pairing/pkg/connector"
	"github.com/teslamotors/serial-pairing/pkg/connector/inet"
	"github.com/teslamotors/serial-pairing/pkg/connector/serial"
	"github.com/teslamotors/serial-pairing/pkg/pairing"
	"github.com/teslamotors/serial-pairing/pkg/transcript"
)

// Environment variable names used by [Config.ReadFromEnvironment] to set common parameters.
const (
	EnvPairingConfig         = "PAIRING_CONFIG"
	EnvPairingRole           = "PAIRING_ROLE"
	EnvPairingPort           = "PAIRING_PORT"
	EnvPairingBaud           = "PAIRING_BAUD"
	EnvPairingIdentity       = "PAIRING_IDENTITY"
	EnvPairingIdentityName   = "PAIRING_IDENTITY_NAME"
	EnvPairingMessage        = "PAIRING_MESSAGE"
	EnvPairingTickInterval   = "PAIRING_TICK_INTERVAL"
	EnvPairingStallTimeout   = "PAIRING_STALL_TIMEOUT"
	EnvPairingTxRate         = "PAIRING_TX_RATE"
	EnvPairingMetricsAddr    = "PAIRING_METRICS_ADDR"
	EnvPairingTranscriptFile = "PAIRING_TRANSCRIPT_FILE"
	EnvPairingKeyringType    = "PAIRING_KEYRING_TYPE"
	EnvPairingKeyringPass    = "PAIRING_KEYRING_PASSWORD"
	EnvPairingKeyringPath    = "PAIRING_KEYRING_PATH"
	EnvPairingDebug          = "PAIRING_DEBUG"
)

// Flag controls what options should be scanned from the command line and/or environment variables.
type Flag int

func (f Flag) isSet(other Flag) bool {
	return (f & other) == other
}

const (
	FlagRole       Flag = 1  // Enable role option.
	FlagSerial     Flag = 2  // Enable serial port options.
	FlagIdentity   Flag = 4  // Enable identity and keyring options.
	FlagTiming     Flag = 8  // Enable tick interval and stall timeout options.
	FlagMetrics    Flag = 16 // Enable metrics listener option.
	FlagTranscript Flag = 32 // Enable transcript journal option.
	FlagAll        Flag = FlagRole | FlagSerial | FlagIdentity | FlagTiming | FlagMetrics | FlagTranscript
)

const (
	DefaultBaudRate     = serial.DefaultBaudRate
	DefaultTickInterval = connector.DefaultTickInterval
	defaultJournalSize  = 16
)

var (
	ErrNoPortSpecified = errors.New("serial port not provided")
	ErrNoRoleSpecified = errors.New("role not provided (remote or car)")
	ErrKeyNotFound     = keyring.ErrKeyNotFound
)

// Config fields determine how a peer connects and what it proves to the other side.
type Config struct {
	Flags          Flag // Controls which set of environment variables/CLI flags to use.
	ConfigFilename string
	RoleName       string
	Port           string
	Baud           int
	Identity       string // Shared identity string. Takes precedence over IdentityName.
	IdentityName   string // Username for the identity string in system keyring
	Message        string
	TickInterval   time.Duration
	StallTimeout   time.Duration
	TxRate         float64 // Bytes per second; zero for unpaced
	MetricsAddr    string
	TranscriptFile string
	Backend        keyring.Config
	BackendType    backendType
	Debug          bool // Enable debug logging, including keyring messages

	password *string
	journal  *transcript.Journal
}

// fileConfig is the YAML representation of a Config.
type fileConfig struct {
	Role           string        `yaml:"role"`
	Port           string        `yaml:"port"`
	Baud           int           `yaml:"baud"`
	Identity       string        `yaml:"identity"`
	IdentityName   string        `yaml:"identity_name"`
	Message        string        `yaml:"message"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	StallTimeout   time.Duration `yaml:"stall_timeout"`
	TxRate         float64       `yaml:"tx_rate"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	TranscriptFile string        `yaml:"transcript_file"`
	KeyringType    string        `yaml:"keyring_type"`
	KeyringPath    string        `yaml:"keyring_path"`
	Debug          bool          `yaml:"debug"`
}

func NewConfig(flags Flag) (*Config, error) {
	c := Config{
		Flags: flags,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{&c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword

	return &c, nil
}

// RegisterCommandLineFlags adds c's options to the default command-line flag set.
func (c *Config) RegisterCommandLineFlags() {
	c.RegisterFlags(flag.CommandLine)
}

func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.ConfigFilename, "config", "", "Load settings from YAML `file`. Defaults to $PAIRING_CONFIG.")
	fs.BoolVar(&c.Debug, "debug", false, "Enable verbose debugging messages")
	if c.Flags.isSet(FlagRole) {
		fs.StringVar(&c.RoleName, "role", "", "Protocol `role` (remote|car). Defaults to $PAIRING_ROLE.")
	}
	if c.Flags.isSet(FlagSerial) {
		fs.StringVar(&c.Port, "port", "", "Serial `device`, or tcp://host:port for a network serial bridge. Defaults to $PAIRING_PORT or "+portHint()+".")
		fs.IntVar(&c.Baud, "baud", 0, fmt.Sprintf("Serial baud `rate`. Defaults to $PAIRING_BAUD or %d.", DefaultBaudRate))
		fs.Float64Var(&c.TxRate, "tx-rate", 0, "Limit transmission to `bytes` per second. Defaults to $PAIRING_TX_RATE.")
	}
	if c.Flags.isSet(FlagIdentity) {
		fs.StringVar(&c.Identity, "identity", "", "Shared identity `string`. Defaults to $PAIRING_IDENTITY.")
		fs.StringVar(&c.IdentityName, "identity-name", "", "System keyring `name` for identity string. Defaults to $PAIRING_IDENTITY_NAME.")
		fs.StringVar(&c.Message, "message", "", "`Text` to encrypt and send to the peer. Defaults to $PAIRING_MESSAGE.")
		var names []string
		for _, name := range keyring.AvailableBackends() {
			names = append(names, string(name))
		}
		sort.Strings(names)
		fs.Var(&c.BackendType, "keyring-type", "Keyring `type` ("+strings.Join(names, "|")+"). Defaults to $PAIRING_KEYRING_TYPE.")
		fs.StringVar(&c.Backend.FileDir, "keyring-file-dir", "", "keyring `directory` for file-backed keyring types. Defaults to $PAIRING_KEYRING_PATH or "+keyringDirectory+".")
	}
	if c.Flags.isSet(FlagTiming) {
		fs.DurationVar(&c.TickInterval, "tick", 0, "Handshake step `interval`. Defaults to $PAIRING_TICK_INTERVAL or "+DefaultTickInterval.String()+".")
		fs.DurationVar(&c.StallTimeout, "stall-timeout", 0, "Abort if the link is idle for `duration`; zero waits forever. Defaults to $PAIRING_STALL_TIMEOUT.")
	}
	if c.Flags.isSet(FlagMetrics) {
		fs.StringVar(&c.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on `address`. Defaults to $PAIRING_METRICS_ADDR.")
	}
	if c.Flags.isSet(FlagTranscript) {
		fs.StringVar(&c.TranscriptFile, "transcript", "", "Append handshake transcripts to `file`. Defaults to $PAIRING_TRANSCRIPT_FILE.")
	}
}

// ReadFromEnvironment populates c using environment variables. Values that are already populated
// are not overwritten.
//
// Calling ReadFromEnvironment after flag.Parse() (or other initialization method) will prevent the
// environment from overriding explicit command-line parameters and avoid potentially misleading
// debug log messages.
func (c *Config) ReadFromEnvironment() {
	setString := func(field *string, env, description string) {
		if *field == "" {
			if value, ok := os.LookupEnv(env); ok {
				*field = value
				log.Debug("Set %s to '%s'", description, value)
			}
		}
	}
	setDuration := func(field *time.Duration, env, description string) {
		if *field == 0 {
			if value, ok := os.LookupEnv(env); ok {
				d, err := time.ParseDuration(value)
				if err != nil {
					log.Warning("Ignoring %s: %s", env, err)
					return
				}
				*field = d
				log.Debug("Set %s to %s", description, d)
			}
		}
	}

	setString(&c.ConfigFilename, EnvPairingConfig, "config file")
	if !c.Debug {
		if debugEnv, ok := os.LookupEnv(EnvPairingDebug); ok {
			c.Debug = debugEnv != "false" && debugEnv != "0"
		}
	}
	if c.Flags.isSet(FlagRole) {
		setString(&c.RoleName, EnvPairingRole, "role")
	}
	if c.Flags.isSet(FlagSerial) {
		setString(&c.Port, EnvPairingPort, "serial port")
		if c.Baud == 0 {
			if value, ok := os.LookupEnv(EnvPairingBaud); ok {
				if baud, err := strconv.Atoi(value); err == nil {
					c.Baud = baud
				} else {
					log.Warning("Ignoring %s: %s", EnvPairingBaud, err)
				}
			}
		}
		if c.TxRate == 0 {
			if value, ok := os.LookupEnv(EnvPairingTxRate); ok {
				if rate, err := strconv.ParseFloat(value, 64); err == nil {
					c.TxRate = rate
				} else {
					log.Warning("Ignoring %s: %s", EnvPairingTxRate, err)
				}
			}
		}
	}
	if c.Flags.isSet(FlagIdentity) {
		if c.Identity == "" && c.IdentityName == "" {
			setString(&c.Identity, EnvPairingIdentity, "identity")
			setString(&c.IdentityName, EnvPairingIdentityName, "identity name")
		}
		setString(&c.Message, EnvPairingMessage, "message")
		if c.BackendType.String() == string(keyring.InvalidBackend) {
			if err := c.BackendType.Set(os.Getenv(EnvPairingKeyringType)); err == nil {
				log.Debug("Set keyring type to '%s'", c.BackendType)
			}
		}
		if c.password == nil {
			password := os.Getenv(EnvPairingKeyringPass)
			c.password = &password
			if len(password) > 0 {
				log.Debug("Set keyring File Password to %s", strings.Repeat("*", len("hunter2")))
			}
		}
		setString(&c.Backend.FileDir, EnvPairingKeyringPath, "keyring File Path")
	}
	if c.Flags.isSet(FlagTiming) {
		setDuration(&c.TickInterval, EnvPairingTickInterval, "tick interval")
		setDuration(&c.StallTimeout, EnvPairingStallTimeout, "stall timeout")
	}
	if c.Flags.isSet(FlagMetrics) {
		setString(&c.MetricsAddr, EnvPairingMetricsAddr, "metrics address")
	}
	if c.Flags.isSet(FlagTranscript) {
		setString(&c.TranscriptFile, EnvPairingTranscriptFile, "transcript file")
	}
}

// ReadFromFile fills fields that are still unset from the YAML file named by c.ConfigFilename. It
// does nothing if no file is configured.
func (c *Config) ReadFromFile() error {
	if c.ConfigFilename == "" {
		return nil
	}
	data, err := os.ReadFile(c.ConfigFilename)
	if err != nil {
		return errors.Wrap(err, "reading config file")
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return errors.Wrapf(err, "parsing %s", c.ConfigFilename)
	}
	log.Debug("Loaded settings from %s", c.ConfigFilename)

	fillString := func(field *string, value string) {
		if *field == "" {
			*field = value
		}
	}
	fillString(&c.RoleName, fc.Role)
	fillString(&c.Port, fc.Port)
	if c.Identity == "" && c.IdentityName == "" {
		c.Identity = fc.Identity
		c.IdentityName = fc.IdentityName
	}
	fillString(&c.Message, fc.Message)
	fillString(&c.MetricsAddr, fc.MetricsAddr)
	fillString(&c.TranscriptFile, fc.TranscriptFile)
	fillString(&c.Backend.FileDir, fc.KeyringPath)
	if c.Baud == 0 {
		c.Baud = fc.Baud
	}
	if c.TickInterval == 0 {
		c.TickInterval = fc.TickInterval
	}
	if c.StallTimeout == 0 {
		c.StallTimeout = fc.StallTimeout
	}
	if c.TxRate == 0 {
		c.TxRate = fc.TxRate
	}
	if c.BackendType.String() == string(keyring.InvalidBackend) && fc.KeyringType != "" {
		if err := c.BackendType.Set(fc.KeyringType); err != nil {
			return errors.Wrapf(err, "keyring_type '%s'", fc.KeyringType)
		}
	}
	c.Debug = c.Debug || fc.Debug
	return nil
}

// ApplyDefaults fills any remaining unset fields with built-in defaults.
func (c *Config) ApplyDefaults() {
	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.Baud == 0 {
		c.Baud = DefaultBaudRate
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.Backend.FileDir == "" {
		c.Backend.FileDir = keyringDirectory
	}
	if c.Debug {
		log.SetLevel(log.LevelDebug)
		keyring.Debug = true
	}
}

// Load runs the full resolution sequence on the default flag set's already-parsed values.
func (c *Config) Load() error {
	c.ReadFromEnvironment()
	if err := c.ReadFromFile(); err != nil {
		return err
	}
	c.ApplyDefaults()
	return nil
}

func (c *Config) Role() (pairing.Role, error) {
	if c.RoleName == "" {
		return 0, ErrNoRoleSpecified
	}
	return pairing.ParseRole(c.RoleName)
}

// IdentityBytes returns the identity string to sign and expect: c.Identity if set, else the
// keyring entry named c.IdentityName, else the protocol default.
func (c *Config) IdentityBytes() ([]byte, error) {
	if c.Identity != "" {
		return []byte(c.Identity), nil
	}
	if c.IdentityName != "" {
		identity, err := c.LoadIdentityFromKeyring()
		if err != nil {
			return nil, err
		}
		return []byte(identity), nil
	}
	return []byte(authentication.DefaultIdentity), nil
}

// PeerConfig translates c into settings for pairing.NewPeer.
func (c *Config) PeerConfig() (pairing.Config, error) {
	role, err := c.Role()
	if err != nil {
		return pairing.Config{}, err
	}
	identity, err := c.IdentityBytes()
	if err != nil {
		return pairing.Config{}, err
	}
	cfg := pairing.Config{
		Role:         role,
		Identity:     identity,
		TickInterval: c.TickInterval,
		StallTimeout: c.StallTimeout,
	}
	if c.Message != "" {
		cfg.Message = []byte(c.Message)
	}
	return cfg, nil
}

// OpenTransport opens the configured link: a TCP serial bridge if c.Port has the form
// tcp://host:port, otherwise a local serial device.
func (c *Config) OpenTransport(ctx context.Context) (connector.Transport, error) {
	if c.Port == "" {
		return nil, ErrNoPortSpecified
	}
	if inet.IsAddress(c.Port) {
		conn, err := inet.Dial(ctx, c.Port, inet.Config{TxRate: c.TxRate})
		if err != nil {
			return nil, errors.Wrap(err, "dialing serial bridge")
		}
		return conn, nil
	}
	port, err := serial.Open(serial.Config{
		Device:   c.Port,
		BaudRate: c.Baud,
		TxRate:   c.TxRate,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", c.Port)
	}
	return port, nil
}

// Connect opens the link and creates a Peer on it. The caller must close both.
func (c *Config) Connect(ctx context.Context) (*pairing.Peer, connector.Transport, error) {
	cfg, err := c.PeerConfig()
	if err != nil {
		return nil, nil, err
	}
	conn, err := c.OpenTransport(ctx)
	if err != nil {
		return nil, nil, err
	}
	peer, err := pairing.NewPeer(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return peer, conn, nil
}

func (c *Config) loadJournal() error {
	if c.journal != nil || c.TranscriptFile == "" {
		return nil
	}
	log.Debug("Loading transcripts from %s...", c.TranscriptFile)
	var err error
	c.journal, err = transcript.ImportFromFile(c.TranscriptFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load transcript journal: %s", err)
		}
		// Create a new journal if one couldn't be loaded from the file
		c.journal = transcript.New(defaultJournalSize)
	}
	return nil
}

// RecordTranscript adds result to c.TranscriptFile.
//
// If c.TranscriptFile is not set or result is nil, then this method does nothing.
func (c *Config) RecordTranscript(result *pairing.Result) {
	if c.TranscriptFile == "" || result == nil {
		return
	}
	if err := c.loadJournal(); err != nil {
		log.Error("Error loading transcripts: %s", err)
		return
	}
	c.journal.Add(transcript.FromResult(*result, time.Now()))
	if err := c.journal.ExportToFile(c.TranscriptFile); err != nil {
		log.Error("Error updating transcripts: %s", err)
	}
}

// Journal returns the transcripts stored in c.TranscriptFile.
func (c *Config) Journal() (*transcript.Journal, error) {
	if c.TranscriptFile == "" {
		return transcript.New(defaultJournalSize), nil
	}
	if err := c.loadJournal(); err != nil {
		return nil, err
	}
	return c.journal, nil
}
