package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAddress = "127.0.0.1"
	DefaultPort    = 33333
)

// Config is the immutable runtime configuration, built once at startup.
//
// Sources are layered, later wins: DefaultConfig, the YAML file named by --config
// (or VECAVG_CONFIG), VECAVG_* environment variables, then command-line flags.
type Config struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`

	// Exactly one credential source must be set.
	CredentialsPath string `yaml:"credentials"`
	CredentialsDSN  string `yaml:"credentials_dsn"`

	RedisKey   string `yaml:"redis_key"`
	PGSchema   string `yaml:"pg_schema"`
	DBMaxConns int32  `yaml:"db_max_conns"`
	DBMinConns int32  `yaml:"db_min_conns"`

	HashAlgorithm string `yaml:"hash"`

	LogFile  string `yaml:"log"`
	LogLevel string `yaml:"log_level"`

	// IOTimeout bounds each protocol read or write. Zero blocks indefinitely.
	IOTimeout time.Duration `yaml:"io_timeout"`

	// MaxSessions is how many sessions may run at once. 1 keeps the sequential model.
	MaxSessions int `yaml:"max_sessions"`

	// AuthFailureLimit refuses a host after this many rejected handshakes within
	// AuthFailureWindow. Zero disables throttling.
	AuthFailureLimit  int           `yaml:"auth_failure_limit"`
	AuthFailureWindow time.Duration `yaml:"auth_failure_window"`

	// OpsAddr enables the HTTP server for /healthz, /readyz, /metrics and /ws.
	OpsAddr          string        `yaml:"ops_addr"`
	WSEnabled        bool          `yaml:"ws"`
	WSOriginPatterns []string      `yaml:"ws_origin_patterns"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Address:           DefaultAddress,
		Port:              DefaultPort,
		PGSchema:          "vecavg",
		DBMaxConns:        4,
		HashAlgorithm:     "sha256",
		LogLevel:          "info",
		MaxSessions:       1,
		AuthFailureWindow: time.Minute,
		ShutdownTimeout:   10 * time.Second,
	}
}

// ListenAddr is the host:port of the protocol listener.
func (c Config) ListenAddr() string {
	return joinHostPort(c.Address, c.Port)
}

// LoadConfigFile merges the YAML file at path over base.
func LoadConfigFile(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("config file: %w", err)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overlays VECAVG_* variables. Unset or unparsable values keep the current setting.
func applyEnv(cfg Config) Config {
	cfg.Address = EnvString("VECAVG_ADDRESS", cfg.Address)
	cfg.Port = EnvInt("VECAVG_PORT", cfg.Port)
	cfg.CredentialsPath = EnvString("VECAVG_CREDENTIALS", cfg.CredentialsPath)
	cfg.CredentialsDSN = EnvString("VECAVG_CREDENTIALS_DSN", cfg.CredentialsDSN)
	cfg.RedisKey = EnvString("VECAVG_REDIS_KEY", cfg.RedisKey)
	cfg.PGSchema = EnvString("VECAVG_PG_SCHEMA", cfg.PGSchema)
	cfg.DBMaxConns = EnvInt32("VECAVG_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("VECAVG_DB_MIN_CONNS", cfg.DBMinConns)
	cfg.HashAlgorithm = EnvString("VECAVG_HASH", cfg.HashAlgorithm)
	cfg.LogFile = EnvString("VECAVG_LOG", cfg.LogFile)
	cfg.LogLevel = EnvString("VECAVG_LOG_LEVEL", cfg.LogLevel)
	cfg.IOTimeout = EnvDuration("VECAVG_IO_TIMEOUT", cfg.IOTimeout)
	cfg.MaxSessions = EnvInt("VECAVG_MAX_SESSIONS", cfg.MaxSessions)
	cfg.AuthFailureLimit = EnvInt("VECAVG_AUTH_FAILURE_LIMIT", cfg.AuthFailureLimit)
	cfg.AuthFailureWindow = EnvDuration("VECAVG_AUTH_FAILURE_WINDOW", cfg.AuthFailureWindow)
	cfg.OpsAddr = EnvString("VECAVG_OPS_ADDR", cfg.OpsAddr)
	cfg.WSEnabled = EnvBool("VECAVG_WS", cfg.WSEnabled)
	cfg.WSOriginPatterns = EnvList("VECAVG_WS_ORIGIN_PATTERNS", cfg.WSOriginPatterns)
	cfg.ShutdownTimeout = EnvDuration("VECAVG_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	return cfg
}
