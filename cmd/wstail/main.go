// wstail connects to a livewire websocket feed and prints every envelope
// to the console, including connection notices.
// Usage: go run ./cmd/wstail --config configs/livewire.example.yaml [--topic trades]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rickgao/livewire/internal/auth"
	"github.com/rickgao/livewire/internal/codec"
	"github.com/rickgao/livewire/internal/config"
	"github.com/rickgao/livewire/internal/connection"
	"github.com/rickgao/livewire/internal/model"
	"github.com/rickgao/livewire/internal/router"
)

func main() {
	var configPath, feedURL, codecName string
	var topics []string
	var verbose bool

	flagSet := pflag.NewFlagSet("wstail", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to config file (optional)")
	flagSet.StringVar(&feedURL, "url", "", "websocket URL (overrides config)")
	flagSet.StringVar(&codecName, "codec", "", "frame codec (overrides config)")
	flagSet.StringSliceVarP(&topics, "topic", "t", nil, "only print these topics (repeatable)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "print full envelope JSON")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadWithDefaults(configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if feedURL != "" {
		cfg.Transport.URL = feedURL
	}
	if codecName != "" {
		cfg.Transport.Codec = codecName
	}

	frameCodec, err := codec.ByName(cfg.Transport.Codec)
	if err != nil {
		logger.Error("invalid codec", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	clientCfg := connection.DefaultClientConfig()
	clientCfg.HandshakeTimeout = cfg.Transport.HandshakeTimeout
	if cfg.Auth.Enabled() {
		creds, err := auth.LoadCredentials(cfg.Auth.KeyID, cfg.Auth.PrivateKeyPath)
		if err != nil {
			logger.Error("failed to load credentials", "error", err)
			os.Exit(1)
		}
		path := "/"
		if u, err := url.Parse(cfg.Transport.URL); err == nil && u.Path != "" {
			path = u.Path
		}
		clientCfg.Headers = creds.HeaderFunc(http.MethodGet, path)
		logger.Info("using API credentials", "key_id", creds.KeyID)
	}

	dispatcher := router.NewDispatcher(router.DefaultConfig(), logger)
	filter := newTopicFilter(topics)
	dispatcher.Subscribe(model.TopicAll, func(env model.Envelope) error {
		if !filter(env.Type) {
			return nil
		}
		return printEnvelope(os.Stdout, env, verbose)
	})

	mgrCfg := connection.DefaultManagerConfig()
	mgrCfg.URL = cfg.Transport.URL
	mgrCfg.ReconnectInterval = cfg.Transport.ReconnectInterval
	mgrCfg.MaxReconnectAttempts = cfg.Transport.MaxReconnectAttempts
	mgrCfg.HeartbeatInterval = cfg.Transport.HeartbeatInterval
	mgrCfg.LivenessTimeout = cfg.Transport.LivenessTimeout

	connMgr := connection.NewManager(mgrCfg, dispatcher,
		connection.WithLogger(logger),
		connection.WithCodec(frameCodec),
		connection.WithClientConfig(clientCfg),
	)

	if err := dispatcher.Start(ctx); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}
	if err := connMgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	if err := connMgr.Connect(); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				connStats := connMgr.Stats()
				dispStats := dispatcher.Stats()
				logger.Info("stats",
					"state", connMgr.Status().StateName,
					"frames_in", connStats.FramesIn,
					"decode_errors", connStats.DecodeErrors,
					"reconnects", connStats.Reconnects,
					"dispatched", dispStats.Dispatched,
					"dropped", dispStats.Dropped,
					"buffer", dispStats.Buffer.Count,
				)
			}
		}
	}()

	logger.Info("tailing feed - press Ctrl+C to stop",
		"url", cfg.Transport.URL,
		"codec", frameCodec.Name(),
	)

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Stop(shutdownCtx)
	dispatcher.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

// newTopicFilter returns a predicate accepting topics, or everything when
// topics is empty.
func newTopicFilter(topics []string) func(model.Topic) bool {
	if len(topics) == 0 {
		return func(model.Topic) bool { return true }
	}
	allowed := make(map[model.Topic]bool, len(topics))
	for _, t := range topics {
		allowed[model.Topic(t)] = true
	}
	return func(t model.Topic) bool { return allowed[t] }
}

func printEnvelope(w io.Writer, env model.Envelope, verbose bool) error {
	if verbose {
		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "[%s] %s\n", env.Type, data)
		return err
	}

	origin := env.Origin
	if origin == "" {
		origin = "-"
	}
	_, err := fmt.Fprintf(w, "[%s] sent=%s origin=%s payload=%s\n",
		env.Type, env.SentAt.Format(time.RFC3339Nano), origin, env.Payload)
	return err
}
