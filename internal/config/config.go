package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration settings for the workflow engine and its API
// server
type Config struct {
	// API Server
	APIHost  string
	APIPort  int
	LogLevel string

	// Run store
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Remote execution
	ExecEndpoint string
	ExecTimeout  time.Duration

	// Engine
	ScriptTimeout   time.Duration
	ScriptCacheSize int
	MaxNodeVisits   int
	EdgeDelay       time.Duration
	ShutdownTimeout time.Duration

	// DefinitionsFile optionally seeds the catalog at startup
	DefinitionsFile string
}

const (
	DefaultAPIHost = "0.0.0.0"
	DefaultAPIPort = 8080
	MaxTCPPort     = 65535

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisDB     = 0
	DefaultRedisPrefix = "weft"

	DefaultExecTimeout     = 30 * time.Second
	DefaultScriptTimeout   = 10 * time.Second
	DefaultScriptCacheSize = 4096
	DefaultMaxNodeVisits   = 10_000
	DefaultShutdownTimeout = 10 * time.Second

	MaxScriptCacheSize = 1_000_000
	MaxNodeVisitsLimit = 10_000_000
	MaxTimeoutSeconds  = 24 * 60 * 60
)

var (
	ErrInvalidAPIPort       = errors.New("invalid API port")
	ErrInvalidExecTimeout   = errors.New("exec timeout must be positive")
	ErrInvalidScriptCache   = errors.New("script cache size must be positive")
	ErrInvalidMaxNodeVisits = errors.New("max node visits must be positive")
	ErrNegativeEdgeDelay    = errors.New("edge delay cannot be negative")
)

// NewDefaultConfig creates a configuration with sensible defaults for all
// engine and server settings
func NewDefaultConfig() *Config {
	return &Config{
		APIHost:         DefaultAPIHost,
		APIPort:         DefaultAPIPort,
		LogLevel:        "info",
		RedisAddr:       DefaultRedisAddr,
		RedisDB:         DefaultRedisDB,
		RedisPrefix:     DefaultRedisPrefix,
		ExecEndpoint:    "",
		ExecTimeout:     DefaultExecTimeout,
		ScriptTimeout:   DefaultScriptTimeout,
		ScriptCacheSize: DefaultScriptCacheSize,
		MaxNodeVisits:   DefaultMaxNodeVisits,
		EdgeDelay:       0,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	if host := os.Getenv("API_HOST"); host != "" {
		c.APIHost = host
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.RedisAddr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.RedisPassword = password
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		c.RedisPrefix = prefix
	}
	if endpoint := os.Getenv("EXEC_ENDPOINT"); endpoint != "" {
		c.ExecEndpoint = endpoint
	}
	if file := os.Getenv("DEFINITIONS_FILE"); file != "" {
		c.DefinitionsFile = file
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt("REDIS_DB", &c.RedisDB, -1, 15); err != nil {
		return err
	}
	if err := loadEnvInt(
		"SCRIPT_CACHE_SIZE", &c.ScriptCacheSize, 0, MaxScriptCacheSize,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"MAX_NODE_VISITS", &c.MaxNodeVisits, 0, MaxNodeVisitsLimit,
	); err != nil {
		return err
	}

	if err := loadEnvSeconds("EXEC_TIMEOUT", &c.ExecTimeout); err != nil {
		return err
	}
	if err := loadEnvSeconds("SCRIPT_TIMEOUT", &c.ScriptTimeout); err != nil {
		return err
	}
	if err := loadEnvMillis("EDGE_DELAY", &c.EdgeDelay); err != nil {
		return err
	}

	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.ExecTimeout <= 0 {
		return ErrInvalidExecTimeout
	}
	if c.ScriptCacheSize <= 0 {
		return ErrInvalidScriptCache
	}
	if c.MaxNodeVisits <= 0 {
		return ErrInvalidMaxNodeVisits
	}
	if c.EdgeDelay < 0 {
		return ErrNegativeEdgeDelay
	}
	return nil
}

func loadEnvSeconds(key string, dst *time.Duration) error {
	var secs int
	if err := loadEnvInt(key, &secs, 0, MaxTimeoutSeconds); err != nil {
		return err
	}
	if secs > 0 {
		*dst = time.Duration(secs) * time.Second
	}
	return nil
}

func loadEnvMillis(key string, dst *time.Duration) error {
	var ms int
	if err := loadEnvInt(key, &ms, -1, MaxTimeoutSeconds*1000); err != nil {
		return err
	}
	if ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
	return nil
}

// loadEnvInt reads key from the environment, parses it as an integer, and
// sets *dst if the value is in the range (min, max). Returns an error if
// the value cannot be parsed or falls outside the valid range
func loadEnvInt[T ~int | ~int64](key string, dst *T, min, max T) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	tv := T(v)
	if tv <= min || tv > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, tv, min+1, max)
	}
	*dst = tv
	return nil
}
