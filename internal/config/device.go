package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DeviceConfig configures the device receiver binary.
type DeviceConfig struct {
	DeviceID    string           `toml:"device_id"`
	LogLevel    string           `toml:"log_level"`
	LoadAvgPath string           `toml:"loadavg_path"`
	MQTT        MQTTConfig       `toml:"mqtt"`
	Receivers   []ReceiverConfig `toml:"receiver"`
}

// ReceiverConfig is one topic subscription served by a dispatcher.
type ReceiverConfig struct {
	Name         string `toml:"name"`
	Topic        string `toml:"topic"` // "Action" or "Telemetry"
	Subscription string `toml:"subscription"`
	BatchSize    int    `toml:"batch_size"`
	MaxWaitMs    int    `toml:"max_wait_ms"`
}

// KeyField returns the payload field that routes messages on this topic.
func (r ReceiverConfig) KeyField() string {
	if r.Topic == "Telemetry" {
		return "SensorKey"
	}
	return "ActionType"
}

// MaxWait returns the receive wait as a duration.
func (r ReceiverConfig) MaxWait() time.Duration {
	return time.Duration(r.MaxWaitMs) * time.Millisecond
}

// DefaultDeviceConfig returns one receiver per topic.
func DefaultDeviceConfig() *DeviceConfig {
	host, _ := os.Hostname()
	if host == "" {
		host = "raspberrypi"
	}
	return &DeviceConfig{
		DeviceID:    host,
		LogLevel:    "info",
		LoadAvgPath: "/proc/loadavg",
		MQTT: MQTTConfig{
			Port:        1883,
			TopicPrefix: "pilink/",
		},
		Receivers: []ReceiverConfig{
			{Name: "action", Topic: "Action", Subscription: "pi-action-subscription", BatchSize: 10, MaxWaitMs: 5000},
			{Name: "telemetry", Topic: "Telemetry", Subscription: "pi-telemetry-subscription", BatchSize: 10, MaxWaitMs: 5000},
		},
	}
}

// LoadDevice reads a TOML device config and applies PILINK_* overrides. A
// missing file yields the defaults.
func LoadDevice(path string) (*DeviceConfig, error) {
	cfg := DefaultDeviceConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			// receivers in the file replace the defaults entirely
			cfg.Receivers = nil
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parse device config: %w", err)
			}
			if len(cfg.Receivers) == 0 {
				cfg.Receivers = DefaultDeviceConfig().Receivers
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read device config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the device config as TOML.
func (d *DeviceConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("open device config: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(d); err != nil {
		return fmt.Errorf("encode device config: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (d *DeviceConfig) Validate() error {
	if strings.TrimSpace(d.MQTT.Host) == "" {
		return fmt.Errorf("mqtt.host required")
	}
	if _, err := ParseLogLevel(d.LogLevel); err != nil {
		return err
	}
	if len(d.Receivers) == 0 {
		return fmt.Errorf("at least one receiver required")
	}

	seen := make(map[string]bool)
	for i, r := range d.Receivers {
		if r.Topic != "Action" && r.Topic != "Telemetry" {
			return fmt.Errorf("receiver %d: unknown topic %q (use Action or Telemetry)", i, r.Topic)
		}
		if r.Subscription == "" {
			return fmt.Errorf("receiver %d: subscription required", i)
		}
		if r.BatchSize < 0 || r.MaxWaitMs < 0 {
			return fmt.Errorf("receiver %d: batch_size and max_wait_ms must not be negative", i)
		}
		key := r.Topic + "/" + r.Subscription
		if seen[key] {
			return fmt.Errorf("receiver %d: duplicate subscription %s", i, key)
		}
		seen[key] = true
	}
	return nil
}
