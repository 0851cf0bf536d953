package app

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/spf13/pflag"
)

var (
	// ErrHelp is returned after usage was printed on request.
	ErrHelp = errors.New("help requested")

	// ErrUsage is returned for invalid invocations. Usage has already been printed.
	ErrUsage = errors.New("usage error")
)

const usageHeader = `vecavg: authenticated TCP service that averages batches of int64 vectors.

Usage:
  vecavg -d <credentials file> [flags]
  vecavg --credentials-dsn <postgres://... | redis://...> [flags]

Flags:
`

// ParseArgs builds the Config from defaults, the optional YAML file, VECAVG_* variables
// and args (without the program name). Usage goes to stderr.
func ParseArgs(args []string, stderr io.Writer) (Config, error) {
	fs := pflag.NewFlagSet("vecavg", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	fl := DefaultConfig()
	var configPath string
	fs.StringVarP(&fl.CredentialsPath, "credentials", "d", "", "credential file (one \"login secret\" pair per line)")
	fs.StringVar(&fl.CredentialsDSN, "credentials-dsn", "", "credential backend URL (postgres:// or redis://)")
	fs.StringVarP(&fl.LogFile, "log", "l", "", "append log lines to this file instead of stdout")
	fs.StringVarP(&fl.Address, "address", "a", fl.Address, "listen address")
	fs.IntVarP(&fl.Port, "port", "p", fl.Port, "listen port")
	fs.StringVarP(&fl.HashAlgorithm, "hash", "H", fl.HashAlgorithm, "handshake digest: sha256, sha3-256 or blake3")
	fs.StringVar(&fl.LogLevel, "log-level", fl.LogLevel, "debug, info, warn or error")
	fs.DurationVar(&fl.IOTimeout, "io-timeout", 0, "per read/write deadline; 0 blocks indefinitely")
	fs.IntVar(&fl.MaxSessions, "max-sessions", fl.MaxSessions, "sessions served at once (1 = strictly sequential)")
	fs.IntVar(&fl.AuthFailureLimit, "auth-failure-limit", 0, "refuse a host after this many rejected handshakes (0 = off)")
	fs.DurationVar(&fl.AuthFailureWindow, "auth-failure-window", fl.AuthFailureWindow, "window for --auth-failure-limit")
	fs.StringVar(&fl.OpsAddr, "ops-addr", "", "serve /healthz, /readyz and /metrics on this address")
	fs.BoolVar(&fl.WSEnabled, "ws", false, "also serve the protocol over WebSocket at /ws on --ops-addr")
	fs.StringVar(&configPath, "config", "", "YAML config file")
	help := fs.BoolP("help", "h", false, "show this help")

	usage := func() {
		fmt.Fprint(stderr, usageHeader)
		fmt.Fprint(stderr, fs.FlagUsages())
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			usage()
			return Config{}, ErrHelp
		}
		fmt.Fprintf(stderr, "vecavg: %v\n\n", err)
		usage()
		return Config{}, fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if *help {
		usage()
		return Config{}, ErrHelp
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "vecavg: unexpected argument %q\n\n", fs.Arg(0))
		usage()
		return Config{}, fmt.Errorf("%w: unexpected argument %q", ErrUsage, fs.Arg(0))
	}

	cfg := DefaultConfig()
	if configPath == "" {
		configPath = EnvString("VECAVG_CONFIG", "")
	}
	if configPath != "" {
		var err error
		if cfg, err = LoadConfigFile(cfg, configPath); err != nil {
			return Config{}, err
		}
	}
	cfg = applyEnv(cfg)

	overlay := map[string]func(){
		"credentials":         func() { cfg.CredentialsPath = fl.CredentialsPath },
		"credentials-dsn":     func() { cfg.CredentialsDSN = fl.CredentialsDSN },
		"log":                 func() { cfg.LogFile = fl.LogFile },
		"address":             func() { cfg.Address = fl.Address },
		"port":                func() { cfg.Port = fl.Port },
		"hash":                func() { cfg.HashAlgorithm = fl.HashAlgorithm },
		"log-level":           func() { cfg.LogLevel = fl.LogLevel },
		"io-timeout":          func() { cfg.IOTimeout = fl.IOTimeout },
		"max-sessions":        func() { cfg.MaxSessions = fl.MaxSessions },
		"auth-failure-limit":  func() { cfg.AuthFailureLimit = fl.AuthFailureLimit },
		"auth-failure-window": func() { cfg.AuthFailureWindow = fl.AuthFailureWindow },
		"ops-addr":            func() { cfg.OpsAddr = fl.OpsAddr },
		"ws":                  func() { cfg.WSEnabled = fl.WSEnabled },
	}
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := overlay[f.Name]; ok {
			apply()
		}
	})

	if cfg.CredentialsPath == "" && cfg.CredentialsDSN == "" {
		fmt.Fprint(stderr, "vecavg: a credential source is required (-d or --credentials-dsn)\n\n")
		usage()
		return Config{}, fmt.Errorf("%w: %w", ErrUsage, ErrNoCredentialSource)
	}
	if err := ValidateConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "vecavg: %v\n\n", err)
		usage()
		return Config{}, fmt.Errorf("%w: %w", ErrUsage, err)
	}
	return cfg, nil
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
