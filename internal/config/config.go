// Package config loads the remindd configuration file.
//
// The file is YAML on disk; it is coerced to JSON and decoded strictly
// (unknown fields are rejected) so typos fail at startup instead of being
// silently ignored. Durations are written as Go duration strings ("1m",
// "10s") and resolved with defaults at read time.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Log      LogConfig      `json:"log"`
	Store    StoreConfig    `json:"store"`
	Trigger  TriggerConfig  `json:"trigger"`
	Delivery DeliveryConfig `json:"delivery"`
	Push     PushConfig     `json:"push"`
	Ops      OpsConfig      `json:"ops"`
}

type LogConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
}

type StoreConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
}

type TriggerConfig struct {
	Interval string `json:"interval"`
}

type DeliveryConfig struct {
	Interval    string `json:"interval"`
	BatchSize   int    `json:"batch_size"`
	Workers     int    `json:"workers"`
	RatePerSec  int    `json:"rate_per_sec"`
	SendTimeout string `json:"send_timeout"`
	StaleAfter  string `json:"stale_after"`
}

type PushConfig struct {
	GatewayURL    string `json:"gateway_url"`
	TelegramToken string `json:"telegram_token"`
}

type OpsConfig struct {
	Addr string `json:"addr"`
}

// Load reads and strictly decodes the config file, then validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, err := coerceToJSON(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%s: trailing data", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Validate resolves every duration field once so malformed values surface
// at load time.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path is required")
	}
	checks := []struct {
		path string
		raw  string
	}{
		{"store.busy_timeout", c.Store.BusyTimeout},
		{"trigger.interval", c.Trigger.Interval},
		{"delivery.interval", c.Delivery.Interval},
		{"delivery.send_timeout", c.Delivery.SendTimeout},
		{"delivery.stale_after", c.Delivery.StaleAfter},
	}
	for _, ch := range checks {
		if _, err := ParseDurationField(ch.path, ch.raw); err != nil {
			return err
		}
	}
	if c.Delivery.BatchSize < 0 {
		return fmt.Errorf("delivery.batch_size must be >= 0")
	}
	if c.Delivery.Workers < 0 {
		return fmt.Errorf("delivery.workers must be >= 0")
	}
	return nil
}

// Duration accessors with defaults. An empty field means "use the default".

func (c *Config) TriggerInterval() time.Duration {
	return mustDuration(c.Trigger.Interval, time.Minute)
}

func (c *Config) DeliveryInterval() time.Duration {
	return mustDuration(c.Delivery.Interval, 10*time.Second)
}

func (c *Config) SendTimeout() time.Duration {
	return mustDuration(c.Delivery.SendTimeout, 5*time.Second)
}

func (c *Config) StaleAfter() time.Duration {
	return mustDuration(c.Delivery.StaleAfter, 24*time.Hour)
}

func (c *Config) BusyTimeout() time.Duration {
	return mustDuration(c.Store.BusyTimeout, 5*time.Second)
}

// mustDuration is only called on fields Validate() already checked.
func mustDuration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// ParseDurationField parses a duration config value; empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// coerceToJSON converts YAML bytes to JSON so the strict JSON decoder can
// reject unknown fields.
func coerceToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	v = normalizeYAML(v)
	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// normalizeYAML ensures all map keys are strings so the result can be
// JSON-marshaled.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
