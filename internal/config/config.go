// Package config holds the client and relay configuration types.
//
// Values are resolved in three layers: an optional YAML file, then
// DUOCALL_* environment variables, then command-line flags applied by the
// caller. Defaults fill anything left unset.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores every parameter of a client or relay process.
type Config struct {
	Signal   SignalConfig  `yaml:"signal"`
	ICE      ICEConfig     `yaml:"ice"`
	Media    MediaConfig   `yaml:"media"`
	Relay    RelayConfig   `yaml:"relay"`
	Compiler ServiceConfig `yaml:"compiler"`
	Booking  ServiceConfig `yaml:"booking"`
	Room     string        `yaml:"room"`
	Name     string        `yaml:"name"`
}

// SignalConfig describes how the client reaches the relay.
type SignalConfig struct {
	URL       string          `yaml:"url"`   // ws:// or wss:// address of the relay's /ws endpoint
	Token     string          `yaml:"token"` // join token, required when the relay has a JWT secret
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig is the exponential backoff policy used after the
// signaling connection drops mid-call.
type ReconnectConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
	MaxRetries int           `yaml:"max_retries"`
}

// ICEConfig lists STUN servers. TURN is intentionally absent.
type ICEConfig struct {
	STUN            []string `yaml:"stun"`
	IncludeLoopback bool     `yaml:"include_loopback"`
	PionVerbose     []string `yaml:"pion_verbose"` // pion log scopes to show at trace level
}

// MediaConfig controls local capture and remote liveness detection.
type MediaConfig struct {
	Audio          bool          `yaml:"audio"`
	Video          bool          `yaml:"video"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	MuteAfter      time.Duration `yaml:"mute_after"` // remote track silence before it counts as muted
}

// RelayConfig configures the signaling relay server.
type RelayConfig struct {
	Addr           string        `yaml:"addr"`
	Environment    string        `yaml:"environment"`
	JWTSecret      string        `yaml:"jwt_secret"`
	AdminKey       string        `yaml:"admin_key"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	PresenceTTL    time.Duration `yaml:"presence_ttl"`
	Redis          RedisConfig   `yaml:"redis"`
}

// RedisConfig enables the Redis presence mirror when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServiceConfig points at an external request/response service.
type ServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Signal: SignalConfig{
			URL: "ws://127.0.0.1:8080/ws",
			Reconnect: ReconnectConfig{
				Initial:    500 * time.Millisecond,
				Max:        10 * time.Second,
				Multiplier: 2,
				Jitter:     0.5,
				MaxRetries: 10,
			},
		},
		ICE: ICEConfig{
			STUN: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
		},
		Media: MediaConfig{
			Audio:          true,
			Video:          true,
			AcquireTimeout: 10 * time.Second,
			MuteAfter:      2 * time.Second,
		},
		Relay: RelayConfig{
			Addr:           ":8080",
			Environment:    "development",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			TokenTTL:       4 * time.Hour,
			PresenceTTL:    24 * time.Hour,
		},
		Compiler: ServiceConfig{Timeout: 15 * time.Second},
		Booking:  ServiceConfig{Timeout: 5 * time.Second},
	}
}

// Load reads the YAML file at path (skipped when path is empty) on top of
// the defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from DUOCALL_* variables.
func (c *Config) applyEnv() error {
	c.Signal.URL = getEnv("DUOCALL_SIGNAL_URL", c.Signal.URL)
	c.Signal.Token = getEnv("DUOCALL_TOKEN", c.Signal.Token)
	c.Room = getEnv("DUOCALL_ROOM", c.Room)
	c.Name = getEnv("DUOCALL_NAME", c.Name)
	c.Relay.Addr = getEnv("DUOCALL_RELAY_ADDR", c.Relay.Addr)
	c.Relay.Environment = getEnv("DUOCALL_ENVIRONMENT", c.Relay.Environment)
	c.Relay.JWTSecret = getEnv("DUOCALL_JWT_SECRET", c.Relay.JWTSecret)
	c.Relay.AdminKey = getEnv("DUOCALL_ADMIN_KEY", c.Relay.AdminKey)
	c.Relay.Redis.Addr = getEnv("DUOCALL_REDIS_ADDR", c.Relay.Redis.Addr)
	c.Relay.Redis.Password = getEnv("DUOCALL_REDIS_PASSWORD", c.Relay.Redis.Password)
	c.Compiler.URL = getEnv("DUOCALL_COMPILER_URL", c.Compiler.URL)
	c.Booking.URL = getEnv("DUOCALL_BOOKING_URL", c.Booking.URL)

	if origins := os.Getenv("DUOCALL_ALLOWED_ORIGINS"); origins != "" {
		c.Relay.AllowedOrigins = strings.Split(origins, ",")
	}
	if db := os.Getenv("DUOCALL_REDIS_DB"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return fmt.Errorf("invalid DUOCALL_REDIS_DB %q: %w", db, err)
		}
		c.Relay.Redis.DB = n
	}
	return nil
}

// ValidateClient checks the fields a call client depends on.
func (c *Config) ValidateClient() error {
	var errs []error

	u, err := url.Parse(c.Signal.URL)
	if err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("signal.url must be a ws:// or wss:// URL, got %q", c.Signal.URL))
	}
	errs = append(errs, c.Signal.Reconnect.validate())
	if c.Media.AcquireTimeout <= 0 {
		errs = append(errs, errors.New("media.acquire_timeout must be positive"))
	}
	if c.Media.MuteAfter <= 0 {
		errs = append(errs, errors.New("media.mute_after must be positive"))
	}
	return errors.Join(errs...)
}

// ValidateRelay checks the fields the relay server depends on.
func (c *Config) ValidateRelay() error {
	var errs []error
	if c.Relay.Addr == "" {
		errs = append(errs, errors.New("relay.addr is required"))
	}
	if c.Relay.JWTSecret != "" && c.Relay.TokenTTL <= 0 {
		errs = append(errs, errors.New("relay.token_ttl must be positive when jwt_secret is set"))
	}
	if c.Relay.Environment == "production" && c.Relay.JWTSecret == "" {
		errs = append(errs, errors.New("relay.jwt_secret is required in production"))
	}
	return errors.Join(errs...)
}

func (r ReconnectConfig) validate() error {
	switch {
	case r.Initial <= 0:
		return errors.New("signal.reconnect.initial must be positive")
	case r.Max < r.Initial:
		return errors.New("signal.reconnect.max must not be below initial")
	case r.Multiplier < 1:
		return errors.New("signal.reconnect.multiplier must be at least 1")
	case r.Jitter < 0 || r.Jitter > 1:
		return errors.New("signal.reconnect.jitter must be within [0, 1]")
	case r.MaxRetries < 0:
		return errors.New("signal.reconnect.max_retries must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
