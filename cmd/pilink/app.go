package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/clawinfra/pilink/internal/api"
	"github.com/clawinfra/pilink/internal/bus"
	"github.com/clawinfra/pilink/internal/config"
	"github.com/clawinfra/pilink/internal/gateway"
	"github.com/clawinfra/pilink/internal/journal"
	"github.com/clawinfra/pilink/internal/models"
	"github.com/clawinfra/pilink/internal/orchestrator"
	"github.com/clawinfra/pilink/internal/scheduler"
	"github.com/clawinfra/pilink/internal/sessions"
)

// App holds all the runtime components
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	LogLevel   *slog.LevelVar

	Bus       *bus.MQTTBus // nil when no broker is configured
	Gateway   *gateway.Gateway
	Journal   *journal.Journal
	Router    *models.Router
	Sessions  sessions.Store
	Scheduler *scheduler.Scheduler
	APIServer *api.Server
	Watcher   *config.Watcher

	ctx     context.Context
	cancel  context.CancelFunc
	apiDone chan struct{}
}

// setup loads config and builds every component without starting any.
func setup(configPath, envFile string) (*App, error) {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	logger.Info("starting pilink", "version", version, "config", configPath)

	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}

	cfg, err := loadConfig(configPath, logger, true)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	lvl, _ := config.ParseLogLevel(cfg.Server.LogLevel)
	level.Set(lvl)

	app := &App{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     logger,
		LogLevel:   level,
		apiDone:    make(chan struct{}),
	}
	app.ctx, app.cancel = context.WithCancel(context.Background())

	var pub bus.Publisher
	if cfg.MQTT.Host != "" {
		app.Bus = bus.NewMQTT(bus.MQTTOptions{
			Host:          cfg.MQTT.Host,
			Port:          cfg.MQTT.Port,
			Username:      cfg.MQTT.Username,
			Password:      cfg.MQTT.Password,
			ClientID:      cfg.MQTT.ClientID,
			TopicPrefix:   cfg.MQTT.TopicPrefix,
			AutoReconnect: true,
		}, logger)
		pub = app.Bus
	}

	var gwOpts []gateway.Option
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.JournalPath())
		if err != nil {
			app.close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		app.Journal = j
		gwOpts = append(gwOpts, gateway.WithRecorder(j))
	}
	app.Gateway = gateway.New(pub, logger, gwOpts...)

	loop, router, err := buildToolLoop(app.ctx, cfg.Models, app.Gateway, logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("build model providers: %w", err)
	}
	app.Router = router

	store, err := sessions.Open(app.ctx, cfg.Sessions, logger)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("open sessions: %w", err)
	}
	app.Sessions = store

	if cfg.Scheduler.Enabled {
		app.Scheduler = scheduler.NewScheduler(app.Gateway, logger)
		if err := app.Scheduler.LoadJobs(cfg.Scheduler.Jobs); err != nil {
			app.close()
			return nil, fmt.Errorf("load jobs: %w", err)
		}
	}

	app.APIServer = api.NewServer(cfg.Server.Port, app.Gateway, loop, logger)
	app.APIServer.SetSessions(store)
	app.APIServer.SetSystemPrompt(cfg.Models.SystemPrompt)
	app.APIServer.SetAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if app.Journal != nil {
		app.APIServer.SetJournal(app.Journal)
	}
	if app.Scheduler != nil {
		app.APIServer.SetScheduler(app.Scheduler)
	}

	return app, nil
}

// loadConfig loads configuration from file. A missing file yields the
// defaults, written back to path when create is set.
func loadConfig(path string, logger *slog.Logger, create bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	logger.Info("no config found, using defaults", "path", path)
	cfg = config.DefaultConfig()
	if create {
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("save default config: %w", err)
		}
		logger.Info("default config created", "path", path)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildToolLoop builds the provider chain and the loop offering the fleet
// tools. With no providers configured the loop is nil.
func buildToolLoop(ctx context.Context, cfg config.ModelsConfig, gw *gateway.Gateway, logger *slog.Logger) (*orchestrator.ToolLoop, *models.Router, error) {
	router, err := models.BuildRouter(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if len(router.ListProviders()) == 0 {
		logger.Warn("no model providers configured, chat is disabled")
		return nil, router, nil
	}

	tools := orchestrator.NewToolManager(logger, orchestrator.FleetTools(gw)...)
	loop := orchestrator.NewToolLoop(router, tools, logger,
		orchestrator.WithMaxRounds(cfg.MaxRounds),
		orchestrator.WithSampling(cfg.MaxTokens, cfg.Temperature),
	)
	logger.Info("tool loop ready", "providers", router.Chain(), "max_rounds", loop.MaxRounds())
	return loop, router, nil
}

// startServices connects the bus and starts background services
func (app *App) startServices() error {
	if app.Bus != nil {
		if err := app.Bus.Connect(app.ctx); err != nil {
			return err
		}
	}

	if app.Scheduler != nil {
		if err := app.Scheduler.Start(app.ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	app.Watcher = config.NewWatcher(app.ConfigPath, 5*time.Second, app.Logger, app.reload)
	app.Watcher.Start(app.ctx)

	go func() {
		defer close(app.apiDone)
		if err := app.APIServer.Start(app.ctx); err != nil {
			app.Logger.Error("API server error", "error", err)
			app.cancel()
		}
	}()

	app.Logger.Info("pilink started",
		"port", app.Config.Server.Port,
		"bus", app.Gateway.Configured(),
		"scheduler", app.Scheduler != nil,
	)
	return nil
}

// reload re-reads the config file and applies what can change at runtime.
func (app *App) reload() {
	result, err := app.Config.Reload(app.ConfigPath)
	if err != nil {
		app.Logger.Error("config reload failed", "error", err)
		return
	}
	result.LogResult(app.Logger)

	config.RLock()
	logLevel := app.Config.Server.LogLevel
	modelsCfg := app.Config.Models
	schedCfg := app.Config.Scheduler
	config.RUnlock()

	if result.HasApplied("Server.LogLevel") {
		lvl, _ := config.ParseLogLevel(logLevel)
		app.LogLevel.Set(lvl)
	}

	if result.HasApplied("Models") {
		loop, router, err := buildToolLoop(app.ctx, modelsCfg, app.Gateway, app.Logger)
		if err != nil {
			app.Logger.Error("rebuild model providers failed, keeping previous", "error", err)
		} else {
			app.Router = router
			app.APIServer.SetToolLoop(loop)
			app.APIServer.SetSystemPrompt(modelsCfg.SystemPrompt)
		}
	}

	if result.HasApplied("Scheduler") {
		if app.Scheduler == nil {
			app.Logger.Warn("scheduler was disabled at startup, restart to enable it")
		} else {
			app.Scheduler.ReplaceJobs(schedCfg.Jobs)
		}
	}
}

// waitForShutdown waits for termination signal and performs graceful shutdown
func (app *App) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, getShutdownSignals()...)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			if handlePlatformSignal(sig, app) {
				continue
			}
			app.Logger.Info("shutdown signal received", "signal", sig)
		case <-app.ctx.Done():
			app.Logger.Warn("service stopped unexpectedly")
		}
		break
	}

	app.cancel()
	<-app.apiDone
	app.close()

	app.Logger.Info("pilink stopped")
	return nil
}

// close releases everything setup opened. Safe on a partially built App.
func (app *App) close() {
	if app.cancel != nil {
		app.cancel()
	}
	if app.Watcher != nil {
		app.Watcher.Stop()
	}
	if app.Scheduler != nil {
		app.Scheduler.Stop()
	}
	if app.Bus != nil {
		if err := app.Bus.Close(); err != nil {
			app.Logger.Warn("close bus", "error", err)
		}
	}
	if app.Journal != nil {
		if err := app.Journal.Close(); err != nil {
			app.Logger.Warn("close journal", "error", err)
		}
	}
}
