// Package bootstrap wires all dependencies and starts the billing
// service: config, logger, balance store, engine, heartbeats and the
// operator HTTP API.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/nibble/adapters/clock"
	"github.com/artpar/nibble/adapters/hasher"
	"github.com/artpar/nibble/adapters/heartbeat"
	apihttp "github.com/artpar/nibble/adapters/http"
	"github.com/artpar/nibble/adapters/idgen"
	"github.com/artpar/nibble/adapters/memory"
	"github.com/artpar/nibble/adapters/metrics"
	redisstore "github.com/artpar/nibble/adapters/redis"
	"github.com/artpar/nibble/adapters/sqlite"
	"github.com/artpar/nibble/app"
	"github.com/artpar/nibble/config"
	"github.com/artpar/nibble/ports"
)

// Options provides optional overrides for application initialization.
type Options struct {
	// Sessions is the live session registry, normally provided by the
	// host runtime integration. Defaults to an in-process registry.
	Sessions ports.SessionRegistry

	// Store overrides the balance store built from configuration.
	Store ports.BalanceStore
}

// App represents the running billing service.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	Engine     *app.Engine
	Dispatcher *app.Dispatcher
	Commander  *app.Commander
	Sessions   ports.SessionRegistry
	Metrics    *metrics.Collector
	HTTPServer *http.Server

	store      ports.BalanceStore
	storeClose func()
	heartbeats *heartbeat.Scheduler
}

// OpenStore builds a balance store from configuration. The returned
// cleanup function releases the store's resources and is safe to call
// once.
func OpenStore(cfg *config.Config, logger zerolog.Logger) (ports.BalanceStore, func(), error) {
	switch cfg.Balance.Driver {
	case "redis":
		store := redisstore.New(redisstore.Config{
			Host:    cfg.Balance.Host,
			Port:    cfg.Balance.Port,
			DB:      cfg.Balance.DB,
			Timeout: cfg.Balance.Timeout,
		})
		if err := store.Ping(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("balance store unreachable, continuing")
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error().Err(err).Msg("redis close error")
			}
		}, nil

	case "sqlite":
		path := cfg.Balance.Path
		if path == "" {
			path = "nibble.db"
		}
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Str("path", path).Msg("embedded balance store initialized")
		return sqlite.NewBalanceStore(db), func() {
			if err := db.Close(); err != nil {
				logger.Error().Err(err).Msg("database close error")
			}
		}, nil

	case "memory":
		logger.Warn().Msg("in-memory balance store, balances will not survive a restart")
		return memory.NewBalanceStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown balance driver %q", cfg.Balance.Driver)
	}
}

// New creates and initializes the application from a config file.
func New(configPath string) (*App, error) {
	return NewWithOptions(configPath, Options{})
}

// NewWithOptions creates and initializes the application with
// overrides.
func NewWithOptions(configPath string, opts Options) (*App, error) {
	holder, err := config.NewHolder(configPath, zerolog.Nop())
	if err != nil {
		return nil, err
	}

	a, err := build(holder, opts)
	if err != nil {
		return nil, err
	}

	// The engine reads thresholds through the holder on every pass;
	// watching the file makes edits take effect on the next trigger.
	if err := holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable, reload via SIGHUP only")
	}
	holder.WatchSignals()

	return a, nil
}

// NewFromConfig initializes the application from an already-resolved
// configuration, without file watching. Used for env-only deployments
// and embedding.
func NewFromConfig(cfg *config.Config, opts Options) (*App, error) {
	return build(config.NewStaticHolder(cfg), opts)
}

func build(holder *config.Holder, opts Options) (*App, error) {
	cfg := holder.Get()

	logger := setupLogger(cfg.Logging)
	a := &App{
		Logger: logger,
		Config: holder,
	}

	logger.Info().
		Str("driver", cfg.Balance.Driver).
		Msg("initializing nibble")

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initStore(cfg, opts); err != nil {
		return nil, fmt.Errorf("init balance store: %w", err)
	}

	a.Sessions = opts.Sessions
	if a.Sessions == nil {
		a.Sessions = memory.NewSessionRegistry()
	}

	a.initEngine(cfg)
	a.initHTTPServer(cfg)

	return a, nil
}

func (a *App) initStore(cfg *config.Config, opts Options) error {
	if opts.Store != nil {
		a.store = opts.Store
		a.storeClose = func() {}
		return nil
	}

	store, cleanup, err := OpenStore(cfg, a.Logger)
	if err != nil {
		return err
	}
	a.store = store
	a.storeClose = cleanup
	return nil
}

func (a *App) initEngine(cfg *config.Config) {
	idGen := idgen.UUID{}

	// The scheduler notifies the dispatcher, which drives the engine,
	// which enables heartbeats on the scheduler. Close the loop through
	// a late-bound dispatcher reference.
	notify := func(n ports.Notification) {
		if a.Dispatcher != nil {
			a.Dispatcher.Dispatch(context.Background(), n)
		}
	}
	a.heartbeats = heartbeat.New(notify, idGen, a.Logger)

	a.Engine = app.NewEngine(app.EngineDeps{
		Store:      a.store,
		Sessions:   a.Sessions,
		Clock:      clock.Real{},
		Config:     a.Config,
		Logger:     a.Logger,
		Metrics:    a.Metrics,
		Heartbeats: a.heartbeats,
	})
	a.Dispatcher = app.NewDispatcher(a.Engine, a.Logger, a.Metrics)
	a.Commander = app.NewCommander(a.Engine)

	if cfg.Heartbeat.IntervalSecs > 0 {
		a.Logger.Info().
			Int("interval_secs", cfg.Heartbeat.IntervalSecs).
			Msg("global billing heartbeat enabled")
	}
}

func (a *App) initHTTPServer(cfg *config.Config) {
	handler := apihttp.NewHandler(apihttp.Deps{
		Engine:    a.Engine,
		Commander: a.Commander,
		Store:     a.store,
		Hasher:    hasher.NewBcrypt(0),
		TokenHash: []byte(cfg.Server.AdminTokenHash),
		Logger:    a.Logger,
	})

	readTimeout := cfg.Server.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := cfg.Server.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}

	a.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Router(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
}

// Run starts the HTTP server and blocks until a shutdown signal or a
// server error.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting operator api")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.heartbeats != nil {
		a.heartbeats.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.Config != nil {
		a.Config.Stop()
	}

	if a.storeClose != nil {
		a.storeClose()
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
