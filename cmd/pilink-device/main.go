package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/clawinfra/pilink/internal/bus"
	"github.com/clawinfra/pilink/internal/config"
	"github.com/clawinfra/pilink/internal/device"
	"github.com/clawinfra/pilink/internal/service"
)

var version = "0.1.0"

const defaultConfigPath = "pilink-device.toml"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pilink-device", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "Path to the TOML device config")
	envFile := fs.String("env-file", ".env", "Optional .env file loaded before the environment is read")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(stdout, "pilink-device v%s\n", version)
		return 0
	}

	switch cmd := fs.Arg(0); cmd {
	case "", "start":
	case "install":
		unit, err := service.NewUnit("pilink-device", "pilink device receiver", *configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		// a dead receiver loop exits the process; systemd brings it back
		unit.Restart = "always"
		if err := service.Install(unit, stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	case "uninstall":
		if err := service.Uninstall("pilink-device", stdout); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(stderr, "Available commands: start, install, uninstall")
		return 1
	}

	cfg, logger, err := loadDevice(*configPath, *envFile, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "Setup failed: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("device receiver stopped", "error", err)
		return 1
	}
	logger.Info("device receiver stopped")
	return 0
}

// loadDevice reads and validates the config and builds the logger.
func loadDevice(path, envFile string, logOut io.Writer) (*config.DeviceConfig, *slog.Logger, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadDevice(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validate device config: %w", err)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	return cfg, logger.With("device_id", cfg.DeviceID), nil
}

// serve connects to the broker and runs the receivers until ctx ends or one
// of them hits a fatal error.
func serve(ctx context.Context, cfg *config.DeviceConfig, logger *slog.Logger) error {
	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "pilink-device-" + cfg.DeviceID
	}

	b := bus.NewMQTT(bus.MQTTOptions{
		Host:        cfg.MQTT.Host,
		Port:        cfg.MQTT.Port,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		ClientID:    clientID,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		// receivers never reconnect in-process
		AutoReconnect: false,
	}, logger)
	if err := b.Connect(ctx); err != nil {
		return err
	}
	defer b.Close()

	return receive(ctx, cfg, b, logger)
}

// receive wires the handlers to sub and blocks while the dispatchers run.
func receive(ctx context.Context, cfg *config.DeviceConfig, sub bus.Subscriber, logger *slog.Logger) error {
	h := device.New(cfg.DeviceID, logger)
	if cfg.LoadAvgPath != "" {
		h.LoadAvgPath = cfg.LoadAvgPath
	}

	ds, err := buildDispatchers(ctx, cfg, sub, h, logger)
	if err != nil {
		return err
	}

	logger.Info("device receiver started", "receivers", len(ds), "version", version)
	return runDispatchers(ctx, ds)
}
