package session

import (
	"time"

	"github.com/danmuck/tether/internal/protocol/channel"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport/session reliability defaults.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// OpTimeout bounds every ordinary send/receive on a session.
	OpTimeout time.Duration
	// BulkTimeout bounds large transfers (file payloads, command output).
	BulkTimeout  time.Duration
	KeyBits      int
	KeystreamLen int
	MaxNameLen   int
	Backoff      BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		OpTimeout:        5 * time.Second,
		BulkTimeout:      60 * time.Second,
		KeyBits:          2048,
		KeystreamLen:     1024,
		MaxNameLen:       64,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults replaces unset fields with DefaultConfig values.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = d.OpTimeout
	}
	if c.BulkTimeout <= 0 {
		c.BulkTimeout = d.BulkTimeout
	}
	if c.KeyBits <= 0 {
		c.KeyBits = d.KeyBits
	}
	if c.KeystreamLen <= 0 {
		c.KeystreamLen = d.KeystreamLen
	}
	if c.MaxNameLen <= 0 {
		c.MaxNameLen = d.MaxNameLen
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}

// Channel maps session tunables onto a channel config.
func (c Config) Channel() channel.Config {
	cfg := channel.DefaultConfig()
	cfg.KeyBits = c.KeyBits
	cfg.KeystreamLen = c.KeystreamLen
	cfg.Timeout = c.OpTimeout
	cfg.HandshakeTimeout = c.HandshakeTimeout
	return cfg.WithDefaults()
}
