package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "PILINK"

// LoadDotEnv loads variables from the given .env files (default ".env").
// Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		existing = append(existing, f)
	}
	if len(existing) == 0 {
		return nil
	}

	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// gatewayEnv lists the PILINK_* variables the gateway honours.
type gatewayEnv struct {
	Port     int    `envconfig:"PORT"`
	DataDir  string `envconfig:"DATA_DIR"`
	LogLevel string `envconfig:"LOG_LEVEL"`

	MQTTHost     string `envconfig:"MQTT_HOST"`
	MQTTPort     int    `envconfig:"MQTT_PORT"`
	MQTTUsername string `envconfig:"MQTT_USERNAME"`
	MQTTPassword string `envconfig:"MQTT_PASSWORD"`

	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	JWTSecret string `envconfig:"JWT_SECRET"`
}

// ApplyEnv overlays PILINK_* environment variables onto c. Provider API
// keys are applied to every provider of the matching type.
func (c *Config) ApplyEnv() error {
	var e gatewayEnv
	if err := envconfig.Process(EnvPrefix, &e); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	setInt(&c.Server.Port, e.Port)
	setString(&c.Server.DataDir, e.DataDir)
	setString(&c.Server.LogLevel, e.LogLevel)

	setString(&c.MQTT.Host, e.MQTTHost)
	setInt(&c.MQTT.Port, e.MQTTPort)
	setString(&c.MQTT.Username, e.MQTTUsername)
	setString(&c.MQTT.Password, e.MQTTPassword)

	for name, p := range c.Models.Providers {
		switch p.Type {
		case "openai":
			setString(&p.APIKey, e.OpenAIAPIKey)
		case "gemini":
			setString(&p.APIKey, e.GeminiAPIKey)
		}
		c.Models.Providers[name] = p
	}

	setString(&c.Sessions.Redis.Addr, e.RedisAddr)
	setString(&c.Sessions.Redis.Password, e.RedisPassword)

	setString(&c.Auth.JWTSecret, e.JWTSecret)
	return nil
}

// deviceEnv lists the PILINK_* variables the device receiver honours.
type deviceEnv struct {
	DeviceID string `envconfig:"DEVICE_ID"`
	LogLevel string `envconfig:"LOG_LEVEL"`

	MQTTHost     string `envconfig:"MQTT_HOST"`
	MQTTPort     int    `envconfig:"MQTT_PORT"`
	MQTTUsername string `envconfig:"MQTT_USERNAME"`
	MQTTPassword string `envconfig:"MQTT_PASSWORD"`

	ActionSubscription    string `envconfig:"ACTION_SUBSCRIPTION_NAME"`
	TelemetrySubscription string `envconfig:"TELEMETRY_SUBSCRIPTION_NAME"`
}

// ApplyEnv overlays PILINK_* environment variables onto d.
func (d *DeviceConfig) ApplyEnv() error {
	var e deviceEnv
	if err := envconfig.Process(EnvPrefix, &e); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	setString(&d.DeviceID, e.DeviceID)
	setString(&d.LogLevel, e.LogLevel)
	setString(&d.MQTT.Host, e.MQTTHost)
	setInt(&d.MQTT.Port, e.MQTTPort)
	setString(&d.MQTT.Username, e.MQTTUsername)
	setString(&d.MQTT.Password, e.MQTTPassword)

	for i := range d.Receivers {
		switch d.Receivers[i].Topic {
		case "Action":
			setString(&d.Receivers[i].Subscription, e.ActionSubscription)
		case "Telemetry":
			setString(&d.Receivers[i].Subscription, e.TelemetrySubscription)
		}
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
