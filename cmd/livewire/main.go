// livewire runs the real-time transport core: a self-healing websocket
// subscription feeding the topic dispatcher, plus the request executor
// with its cache refresher and optional Postgres sample writer.
//
// Usage: livewire --config configs/livewire.example.yaml [--log-level debug]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/livewire/internal/api"
	"github.com/rickgao/livewire/internal/auth"
	"github.com/rickgao/livewire/internal/codec"
	"github.com/rickgao/livewire/internal/config"
	"github.com/rickgao/livewire/internal/connection"
	"github.com/rickgao/livewire/internal/database"
	"github.com/rickgao/livewire/internal/executor"
	"github.com/rickgao/livewire/internal/metrics"
	"github.com/rickgao/livewire/internal/model"
	"github.com/rickgao/livewire/internal/poller"
	"github.com/rickgao/livewire/internal/router"
	"github.com/rickgao/livewire/internal/version"
	"github.com/rickgao/livewire/internal/writer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configPath, logLevel string
	var verbose, showVersion bool

	flagSet := pflag.NewFlagSet("livewire", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "configs/livewire.example.yaml", "path to config file")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "shorthand for --log-level=debug")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	if showVersion {
		fmt.Println("livewire", version.String())
		return
	}

	if verbose {
		logLevel = "debug"
	}
	level, err := parseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("starting livewire",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
	)

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("livewire exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("livewire stopped")
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// run wires every component, blocks until ctx is cancelled and then
// shuts down in reverse start order.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger = logger.With("instance", cfg.Instance.ID)

	var creds *auth.Credentials
	if cfg.Auth.Enabled() {
		var err error
		creds, err = auth.LoadCredentials(cfg.Auth.KeyID, cfg.Auth.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("load credentials: %w", err)
		}
		logger.Info("using signed requests", "key_id", creds.KeyID)
	}

	frameCodec, err := codec.ByName(cfg.Transport.Codec)
	if err != nil {
		return err
	}

	// Optional database and sample writer
	var (
		pool    *pgxpool.Pool
		samples *writer.SampleWriter
		sink    metrics.SampleSink
	)
	if cfg.Database.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}

		samples = writer.NewSampleWriter(writer.Config{
			InstanceID:    cfg.Instance.ID,
			BatchSize:     cfg.Writer.BatchSize,
			FlushInterval: cfg.Writer.FlushInterval,
			BufferSize:    cfg.Writer.BufferSize,
		}, pool, logger)
		sink = samples
	}

	dispatcher := router.NewDispatcher(router.Config{
		BufferSize:    cfg.Transport.BufferSize,
		MaxBufferSize: cfg.Transport.MaxBufferSize,
	}, logger)
	watchConnection(dispatcher, logger)

	exec := executor.New(executor.Config{
		CacheCapacity:    cfg.Executor.CacheCapacity,
		CacheTTL:         cfg.Executor.CacheTTL,
		MaxConcurrent:    cfg.Executor.MaxConcurrentOperations,
		OperationTimeout: cfg.Executor.OperationTimeout,
		CoalesceInFlight: cfg.Executor.CoalesceInFlight,
	}, executor.WithLogger(logger), executor.WithSampleSink(sink))

	apiOpts := []api.ClientOption{
		api.WithLogger(logger),
		api.WithTimeout(cfg.Upstream.Timeout),
		api.WithRetries(cfg.Upstream.MaxRetries, api.DefaultRetryBackoff),
	}
	if creds != nil {
		apiOpts = append(apiOpts, api.WithSigner(creds))
	}
	upstream := api.NewClient(cfg.Upstream.BaseURL, apiOpts...)

	refresher := poller.New(poller.Config{
		Interval:  cfg.Refresh.Interval,
		Endpoints: cfg.Refresh.Endpoints,
	}, exec, upstream, poller.WithLogger(logger))

	clientCfg := connection.DefaultClientConfig()
	clientCfg.HandshakeTimeout = cfg.Transport.HandshakeTimeout
	clientCfg.WriteTimeout = cfg.Transport.WriteTimeout
	if creds != nil {
		clientCfg.Headers = creds.HeaderFunc(http.MethodGet, handshakePath(cfg.Transport.URL))
	}

	manager := connection.NewManager(connection.ManagerConfig{
		URL:                  cfg.Transport.URL,
		ReconnectInterval:    cfg.Transport.ReconnectInterval,
		ReconnectMaxInterval: cfg.Transport.ReconnectMaxInterval,
		ReconnectMultiplier:  cfg.Transport.ReconnectMultiplier,
		ReconnectJitter:      cfg.Transport.ReconnectJitter,
		MaxReconnectAttempts: cfg.Transport.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.Transport.HeartbeatInterval,
		LivenessTimeout:      cfg.Transport.LivenessTimeout,
	}, dispatcher,
		connection.WithLogger(logger),
		connection.WithCodec(frameCodec),
		connection.WithClientConfig(clientCfg),
	)

	svc := services{
		transport:  manager,
		dispatcher: dispatcher,
		executor:   exec,
		refresher:  refresher,
	}
	if samples != nil {
		svc.samples = samples
		svc.db = pool
	}

	// Start in dependency order: consumers before producers. The
	// dispatcher outlives ctx so the disconnect notice published by
	// manager.Stop is still delivered; Stop drains it.
	if err := dispatcher.Start(context.Background()); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if samples != nil {
		if err := samples.Start(ctx); err != nil {
			return fmt.Errorf("start sample writer: %w", err)
		}
	}
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start connection manager: %w", err)
	}
	if err := manager.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := refresher.Start(ctx); err != nil {
		return fmt.Errorf("start refresher: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           newHandler(svc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Metrics.Port)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		steps := []shutdownStep{
			{"http", httpServer.Shutdown},
			{"refresher", refresher.Stop},
			{"transport", manager.Stop},
			{"executor", func(ctx context.Context) error { return waitIdle(ctx, exec.Wait) }},
			{"dispatcher", dispatcher.Stop},
		}
		if samples != nil {
			steps = append(steps, shutdownStep{"sample writer", samples.Stop})
		}
		return shutdown(shutdownCtx, logger, steps)
	})

	logger.Info("livewire running",
		"transport", cfg.Transport.URL,
		"codec", frameCodec.Name(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	return g.Wait()
}

// watchConnection logs connection notices published by the manager.
func watchConnection(d *router.Dispatcher, logger *slog.Logger) {
	d.Subscribe(model.TopicConnected, func(env model.Envelope) error {
		var n model.ConnectedNotice
		if err := env.Decode(&n); err != nil {
			return err
		}
		logger.Info("transport connected", "url", n.URL)
		return nil
	})
	d.Subscribe(model.TopicReconnecting, func(env model.Envelope) error {
		var n model.ReconnectingNotice
		if err := env.Decode(&n); err != nil {
			return err
		}
		logger.Warn("transport reconnecting",
			"attempt", n.Attempt,
			"max_attempts", n.MaxAttempts,
			"delay", n.Delay,
			"reason", n.Reason,
		)
		return nil
	})
	d.Subscribe(model.TopicDisconnected, func(env model.Envelope) error {
		var n model.DisconnectedNotice
		if err := env.Decode(&n); err != nil {
			return err
		}
		if n.Fatal {
			logger.Error("transport gave up reconnecting",
				"attempts", n.Attempts,
				"reason", n.Reason,
			)
		}
		return nil
	})
}

// handshakePath returns the path component signed for the websocket
// handshake.
func handshakePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

type shutdownStep struct {
	name string
	stop func(ctx context.Context) error
}

// shutdown runs every step in order under one deadline. A failed or
// expired step does not skip the ones after it.
func shutdown(ctx context.Context, logger *slog.Logger, steps []shutdownStep) error {
	var errs []error
	for _, step := range steps {
		if err := step.stop(ctx); err != nil {
			logger.Warn("shutdown step failed", "step", step.name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", step.name, err))
		}
	}
	return errors.Join(errs...)
}

// waitIdle runs wait until it returns or ctx ends. A wait that is still
// blocked when ctx ends is left running.
func waitIdle(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
