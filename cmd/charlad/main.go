package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/charla-ai/charla/internal/api"
	"github.com/charla-ai/charla/internal/archive"
	"github.com/charla-ai/charla/internal/config"
	"github.com/charla-ai/charla/internal/gateway"
	"github.com/charla-ai/charla/internal/interfaces"
	"github.com/charla-ai/charla/internal/models"
	"github.com/charla-ai/charla/internal/orchestrator"
	"github.com/charla-ai/charla/internal/persona"
	"github.com/charla-ai/charla/internal/session"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

// App holds all the runtime components
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *session.Store
	Sweeper   *session.Sweeper
	Gateway   *gateway.Gateway
	Provider  interfaces.Provider
	Archive   *archive.Archive
	Hub       *orchestrator.Hub
	Loop      *orchestrator.Loop
	APIServer *api.Server

	toolCount int
	apiCancel context.CancelFunc
	apiDone   chan struct{}
}

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("charlad", flag.ExitOnError)
	configPath := fs.String("config", "charla.json", "Path to config file")
	port := fs.Int("port", 0, "Override the API port from the config")
	logLevel := fs.String("log-level", "", "Override the log level (debug, info, warn, error)")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "parse arguments: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("charlad v%s (built %s)\n", version, buildTime)
		return 0
	}

	app, err := setup(*configPath, *port, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}

	if err := startServices(app); err != nil {
		app.Logger.Error("failed to start services", "error", err)
		return 1
	}

	printBanner(app)

	if err := waitForShutdown(app); err != nil {
		app.Logger.Error("shutdown error", "error", err)
		return 1
	}

	return 0
}

// setup initializes all application components
func setup(configPath string, portFlag int, logLevelFlag string) (*App, error) {
	app := &App{}

	// Setup logger (initially at Info level)
	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	app.Logger.Info("starting charlad",
		"version", version,
		"config", configPath,
	)

	// Secrets come from the environment; .env files fill the gaps.
	if err := config.LoadDotEnv(); err != nil {
		app.Logger.Warn("dotenv load failed", "error", err)
	}

	cfg, err := loadConfig(configPath, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv()
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}
	if logLevelFlag != "" {
		cfg.Server.LogLevel = logLevelFlag
	}
	app.Config = cfg

	// Recreate logger with the effective log level
	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	app.Store = session.NewStore(app.Logger, session.WithMaxSessions(cfg.Session.MaxSessions))

	sweeper, err := session.NewSweeper(app.Store, cfg.Session.SweepSchedule, cfg.SessionTTL(), app.Logger)
	if err != nil {
		return nil, fmt.Errorf("create sweeper: %w", err)
	}
	app.Sweeper = sweeper

	card := persona.DefaultCard()
	if cfg.Persona.CardPath != "" {
		card, err = persona.LoadCard(cfg.Persona.CardPath)
		if err != nil {
			return nil, fmt.Errorf("load persona card: %w", err)
		}
		app.Logger.Info("persona card loaded", "path", cfg.Persona.CardPath, "name", card.Name)
	}
	var policy *persona.Policy
	if cfg.Persona.PolicyPath != "" {
		policy, err = persona.LoadPolicy(cfg.Persona.PolicyPath)
		if err != nil {
			return nil, fmt.Errorf("load tool policy: %w", err)
		}
		app.Logger.Info("tool policy loaded", "path", cfg.Persona.PolicyPath)
	}

	gw, err := gateway.New(gateway.Config{
		Transport:   cfg.Tools.Transport,
		Command:     cfg.Tools.Command,
		Args:        cfg.Tools.Args,
		Env:         cfg.Tools.Env,
		URL:         cfg.Tools.URL,
		CallTimeout: cfg.CallTimeout(),
	}, gateway.WithLogger(app.Logger), gateway.WithToolTimeouts(policy.Timeouts()))
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	app.Gateway = gw

	provider, err := models.New(context.Background(), models.Config{
		Provider:  cfg.Model.Provider,
		Model:     cfg.Model.Model,
		BaseURL:   cfg.Model.BaseURL,
		MaxTokens: cfg.Model.MaxTokens,
		APIKey:    config.APIKey(cfg.Model.Provider),
	}, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("create model provider: %w", err)
	}
	app.Provider = provider

	arc, err := archive.Open(cfg.ArchivePath(), app.Logger)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	app.Archive = arc

	app.Hub = orchestrator.NewHub(app.Logger)
	app.Loop = orchestrator.New(app.Store, app.Gateway, app.Provider, card, app.Logger,
		orchestrator.WithMaxIterations(cfg.Loop.MaxIterations),
		orchestrator.WithParallelTools(cfg.Loop.ParallelTools),
		orchestrator.WithMaxTokens(cfg.Model.MaxTokens),
		orchestrator.WithPolicy(policy),
		orchestrator.WithObserver(app.Hub),
	)

	app.APIServer = api.NewServer(
		cfg.Server.Port,
		app.Store,
		app.Loop,
		app.Gateway,
		app.Provider,
		app.Archive,
		app.Hub,
		app.Logger,
		api.WithSessionTTL(cfg.SessionTTL()),
	)

	return app, nil
}

// loadConfig loads configuration from file or creates default
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no config found, creating default")
			cfg = config.DefaultConfig()
			if err := cfg.Save(path); err != nil {
				return nil, fmt.Errorf("save default config: %w", err)
			}
			logger.Info("default config created", "path", path)
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startServices resolves the tool catalog, then starts the sweeper and
// the API server.
func startServices(app *App) error {
	// The catalog must resolve before the first query arrives.
	discoverCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	tools, err := app.Loop.Declarations(discoverCtx)
	if err != nil {
		return fmt.Errorf("discover tools: %w", err)
	}
	app.toolCount = len(tools)
	app.Logger.Info("tool catalog ready", "count", len(tools))

	go app.Sweeper.Start(context.Background())

	var apiCtx context.Context
	apiCtx, app.apiCancel = context.WithCancel(context.Background())
	app.apiDone = make(chan struct{})
	go func() {
		defer close(app.apiDone)
		if err := app.APIServer.Start(apiCtx); err != nil {
			app.Logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// printBanner displays the startup banner
func printBanner(app *App) {
	fmt.Println()
	fmt.Printf("  charla v%s\n", version)
	fmt.Printf("  API:      http://localhost:%d\n", app.Config.Server.Port)
	fmt.Printf("  Provider: %s (%s)\n", app.Provider.Name(), app.Config.Model.Model)
	fmt.Printf("  Tools:    %d discovered\n", app.toolCount)
	fmt.Println()
}

// waitForShutdown waits for termination signal and performs graceful shutdown
func waitForShutdown(app *App) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, getShutdownSignals()...)

	for {
		sig := <-sigCh

		// Maintenance signals (SIGHUP, SIGUSR1 on Unix) keep the daemon up
		if handlePlatformSignal(sig, app) {
			continue
		}

		app.Logger.Info("shutdown signal received", "signal", sig.String())
		break
	}

	// Drain the API server first so no query races the closes below
	if app.apiCancel != nil {
		app.apiCancel()
		<-app.apiDone
	}

	app.Sweeper.Stop()

	if err := app.Gateway.Close(); err != nil {
		app.Logger.Warn("gateway close failed", "error", err)
	}
	if err := app.Archive.Close(); err != nil {
		app.Logger.Warn("archive close failed", "error", err)
	}

	app.Logger.Info("charlad stopped")
	return nil
}
