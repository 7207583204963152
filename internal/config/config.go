package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/tether/internal/protocol/session"
)

// SessionFile is the [session] table shared by controller and agent configs.
// Durations use Go syntax ("5s", "250ms").
type SessionFile struct {
	ConnectTimeout   string  `toml:"connect_timeout"`
	HandshakeTimeout string  `toml:"handshake_timeout"`
	OpTimeout        string  `toml:"op_timeout"`
	BulkTimeout      string  `toml:"bulk_timeout"`
	KeyBits          int     `toml:"key_bits"`
	KeystreamLen     int     `toml:"keystream_len"`
	MaxNameLen       int     `toml:"max_name_len"`
	BackoffInitial   string  `toml:"backoff_initial"`
	BackoffMax       string  `toml:"backoff_max"`
	BackoffFactor    float64 `toml:"backoff_multiplier"`
	BackoffJitter    bool    `toml:"backoff_jitter"`
}

// Decode reads path into out and returns the key metadata for overlays.
func Decode(path string, out any) (toml.MetaData, error) {
	meta, err := toml.DecodeFile(path, out)
	if err != nil {
		return toml.MetaData{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return toml.MetaData{}, fmt.Errorf("config load failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}
	return meta, nil
}

// ApplySession overlays the keys present under [session] onto cfg.
func ApplySession(meta toml.MetaData, raw SessionFile, cfg *session.Config) error {
	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"op_timeout", raw.OpTimeout, &cfg.OpTimeout},
		{"bulk_timeout", raw.BulkTimeout, &cfg.BulkTimeout},
		{"backoff_initial", raw.BackoffInitial, &cfg.Backoff.InitialDelay},
		{"backoff_max", raw.BackoffMax, &cfg.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return fmt.Errorf("session.%s: %w", d.key, err)
		}
		if v <= 0 {
			return fmt.Errorf("session.%s must be positive", d.key)
		}
		*d.dst = v
	}
	if meta.IsDefined("session", "key_bits") {
		if raw.KeyBits < 1024 {
			return fmt.Errorf("session.key_bits must be at least 1024, got %d", raw.KeyBits)
		}
		cfg.KeyBits = raw.KeyBits
	}
	if meta.IsDefined("session", "keystream_len") {
		if raw.KeystreamLen <= 0 {
			return fmt.Errorf("session.keystream_len must be positive")
		}
		cfg.KeystreamLen = raw.KeystreamLen
	}
	if meta.IsDefined("session", "max_name_len") {
		if raw.MaxNameLen <= 0 {
			return fmt.Errorf("session.max_name_len must be positive")
		}
		cfg.MaxNameLen = raw.MaxNameLen
	}
	if meta.IsDefined("session", "backoff_multiplier") {
		if raw.BackoffFactor < 1 {
			return fmt.Errorf("session.backoff_multiplier must be at least 1")
		}
		cfg.Backoff.Multiplier = raw.BackoffFactor
	}
	if meta.IsDefined("session", "backoff_jitter") {
		cfg.Backoff.Jitter = raw.BackoffJitter
	}
	return nil
}

// ControllerFile is the tetherctl config.toml layout.
type ControllerFile struct {
	Listen    string      `toml:"listen"`
	Isolation string      `toml:"isolation"`
	ShmDir    string      `toml:"shm_dir"`
	ValueCap  int         `toml:"value_cap"`
	Session   SessionFile `toml:"session"`
}

// AgentFile is the tether-agent config.toml layout.
type AgentFile struct {
	Controller    string      `toml:"controller"`
	Name          string      `toml:"name"`
	MaxReconnects int         `toml:"max_reconnects"`
	Session       SessionFile `toml:"session"`
}

// Validate decodes path as kind and checks its session table.
func Validate(kind, path string) error {
	cfg := session.DefaultConfig()
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindController:
		var raw ControllerFile
		meta, err := Decode(path, &raw)
		if err != nil {
			return err
		}
		return ApplySession(meta, raw.Session, &cfg)
	case KindAgent:
		var raw AgentFile
		meta, err := Decode(path, &raw)
		if err != nil {
			return err
		}
		return ApplySession(meta, raw.Session, &cfg)
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}
