package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kstaniek/go-btlink/internal/keepalive"
	"github.com/kstaniek/go-btlink/internal/link"
	"github.com/kstaniek/go-btlink/internal/serial"
	"github.com/kstaniek/go-btlink/internal/wire"
)

const envPrefix = "BTLINK_"

type appConfig struct {
	configPath      string
	serialDev       string
	baud            int
	driver          string
	serialReadTO    time.Duration
	settleDelay     time.Duration
	pollInterval    time.Duration
	queueLimit      int
	eventBuffer     int
	keepaliveEvery  time.Duration
	keepaliveCmd    string
	handshakeCmd    string
	reconnect       bool
	listenAddr      string
	metricsAddr     string
	wsEnable        bool
	logFormat       string
	logLevel        string
	hubBuffer       int
	hubPolicy       string
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	cmdRate         float64
	cmdBurst        int
	cmdBuffer       int
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
	listPorts       bool
	showVersion     bool
}

// Keys that only make sense on the command line.
var cliOnly = map[string]struct{}{"config": {}, "version": {}, "list-ports": {}}

func newFlagSet(c *appConfig, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("btlink-server", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&c.configPath, "config", "", "Optional YAML config file (keys are flag names)")
	fs.StringVar(&c.serialDev, "serial", "/dev/rfcomm0", "Serial device path (e.g. /dev/rfcomm0, COM3)")
	fs.IntVar(&c.baud, "baud", 9600, "Serial baud rate")
	fs.StringVar(&c.driver, "driver", serial.DriverTarm, "Serial driver: tarm|bugst|loopback")
	fs.DurationVar(&c.serialReadTO, "serial-read-timeout", link.DefaultReadTimeout, "Serial read timeout")
	fs.DurationVar(&c.settleDelay, "settle-delay", link.DefaultSettleDelay, "Pause after opening the port before the handshake is sent")
	fs.DurationVar(&c.pollInterval, "poll-interval", link.DefaultPollInterval, "Idle pause between worker iterations")
	fs.IntVar(&c.queueLimit, "queue-limit", 0, "Outbound command queue bound, oldest dropped first (0 = unbounded)")
	fs.IntVar(&c.eventBuffer, "event-buffer", link.DefaultEventBuffer, "Worker event channel buffer")
	fs.DurationVar(&c.keepaliveEvery, "keepalive-interval", keepalive.DefaultInterval, "Keep-alive period while connected (0 disables)")
	fs.StringVar(&c.keepaliveCmd, "keepalive-command", keepalive.DefaultCommand, "Keep-alive command")
	fs.StringVar(&c.handshakeCmd, "handshake-command", link.HandshakeCommand, "Command sent first on every new link")
	fs.BoolVar(&c.reconnect, "reconnect", false, "Start a new link session with backoff after the link closes")
	fs.StringVar(&c.listenAddr, "listen", ":20100", "TCP control listen address")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	fs.BoolVar(&c.wsEnable, "ws-enable", false, "Serve the /ws event stream on the metrics HTTP server")
	fs.StringVar(&c.logFormat, "log-format", "text", "Log format: text|json")
	fs.StringVar(&c.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.IntVar(&c.hubBuffer, "hub-buffer", 256, "Per-client hub buffer (events)")
	fs.StringVar(&c.hubPolicy, "hub-policy", "drop", "Backpressure policy: drop|kick")
	fs.IntVar(&c.maxClients, "max-clients", 0, "Maximum simultaneous control clients (0 = unlimited)")
	fs.DurationVar(&c.handshakeTO, "handshake-timeout", 3*time.Second, "Client handshake timeout")
	fs.DurationVar(&c.clientReadTO, "client-read-timeout", 60*time.Second, "Per-connection read deadline")
	fs.Float64Var(&c.cmdRate, "command-rate", 20, "Per-client command rate limit per second (0 = unlimited)")
	fs.IntVar(&c.cmdBurst, "command-burst", 10, "Per-client command burst")
	fs.IntVar(&c.cmdBuffer, "command-buffer", 256, "Shared command fan-in buffer")
	fs.DurationVar(&c.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	fs.BoolVar(&c.mdnsEnable, "mdns-enable", false, "Enable mDNS/Avahi advertisement of the control port")
	fs.StringVar(&c.mdnsName, "mdns-name", "", "mDNS instance name (default btlink-<hostname>)")
	fs.BoolVar(&c.listPorts, "list-ports", false, "List serial ports and exit")
	fs.BoolVar(&c.showVersion, "version", false, "Print version and exit")
	return fs
}

// parseFlags resolves the configuration with precedence flag > env > file > defaults.
func parseFlags(args []string, out io.Writer) (*appConfig, error) {
	cfg := &appConfig{}
	fs := newFlagSet(cfg, out)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })
	if cfg.showVersion || cfg.listPorts {
		return cfg, nil
	}

	path := cfg.configPath
	if _, ok := set["config"]; !ok {
		if v, ok := os.LookupEnv(envPrefix + "CONFIG"); ok {
			path = strings.TrimSpace(v)
		}
	}
	if path != "" {
		if err := applyFileConfig(fs, path, set); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}
	if err := applyEnvOverrides(fs, set); err != nil {
		return nil, fmt.Errorf("environment override: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return cfg, nil
}

// envName maps a flag name to its BTLINK_* variable (serial-read-timeout ->
// BTLINK_SERIAL_READ_TIMEOUT).
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides maps BTLINK_* environment variables onto flags that were
// not explicitly set. Empty values are ignored except for metrics-addr, where
// empty disables the endpoint. Booleans also accept yes|no|on|off.
func applyEnvOverrides(fs *flag.FlagSet, set map[string]struct{}) error {
	var firstErr error
	fs.VisitAll(func(f *flag.Flag) {
		if _, ok := cliOnly[f.Name]; ok {
			return
		}
		if _, ok := set[f.Name]; ok {
			return
		}
		key := envName(f.Name)
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		v = strings.TrimSpace(v)
		if v == "" && f.Name != "metrics-addr" {
			return
		}
		if err := setFlag(fs, f, v); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", key, err)
		}
	})
	return firstErr
}

// applyFileConfig loads a flat YAML mapping of flag names to scalar values.
// Explicitly set flags keep their value.
func applyFileConfig(fs *flag.FlagSet, path string, set map[string]struct{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	for key, node := range doc {
		f := fs.Lookup(key)
		if f == nil {
			return fmt.Errorf("unknown key %q", key)
		}
		if _, ok := cliOnly[key]; ok {
			return fmt.Errorf("key %q is command-line only", key)
		}
		if node.Kind != yaml.ScalarNode {
			return fmt.Errorf("key %q: expected a scalar value", key)
		}
		if _, ok := set[key]; ok {
			continue
		}
		if err := setFlag(fs, f, node.Value); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	return nil
}

type boolFlag interface{ IsBoolFlag() bool }

func setFlag(fs *flag.FlagSet, f *flag.Flag, v string) error {
	if bf, ok := f.Value.(boolFlag); ok && bf.IsBoolFlag() {
		switch strings.ToLower(v) {
		case "yes", "on":
			v = "true"
		case "no", "off":
			v = "false"
		}
		if _, err := strconv.ParseBool(v); err != nil {
			return err
		}
	}
	return fs.Set(f.Name, v)
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if _, err := serial.OpenerFor(c.driver); err != nil || c.driver == "" {
		return fmt.Errorf("invalid driver: %q", c.driver)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if err := (link.Config{Port: c.serialDev, Baud: c.baud}).Validate(); err != nil {
		return err
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.settleDelay < 0 {
		return fmt.Errorf("settle-delay must be >= 0")
	}
	if c.pollInterval <= 0 {
		return fmt.Errorf("poll-interval must be > 0")
	}
	if c.queueLimit < 0 {
		return fmt.Errorf("queue-limit must be >= 0")
	}
	if c.eventBuffer <= 0 {
		return fmt.Errorf("event-buffer must be > 0 (got %d)", c.eventBuffer)
	}
	if c.keepaliveEvery < 0 {
		return fmt.Errorf("keepalive-interval must be >= 0")
	}
	if err := wire.ValidateCommand(c.keepaliveCmd); err != nil {
		return fmt.Errorf("keepalive-command: %w", err)
	}
	if err := wire.ValidateCommand(c.handshakeCmd); err != nil {
		return fmt.Errorf("handshake-command: %w", err)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.cmdRate < 0 {
		return fmt.Errorf("command-rate must be >= 0")
	}
	if c.cmdBurst <= 0 {
		return fmt.Errorf("command-burst must be > 0")
	}
	if c.cmdBuffer <= 0 {
		return fmt.Errorf("command-buffer must be > 0")
	}
	if c.logMetricsEvery < 0 {
		return fmt.Errorf("log-metrics-interval must be >= 0")
	}
	if c.wsEnable && c.metricsAddr == "" {
		return fmt.Errorf("ws-enable requires metrics-addr")
	}
	return nil
}
