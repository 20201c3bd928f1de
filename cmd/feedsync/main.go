// Package main provides the feedsync binary entry point.
// Feedsync hosts optimistic views over the feed collections and
// reconciles them against NATS-backed stores and realtime events.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c360studio/feedsync/config"
	"github.com/c360studio/feedsync/feed"
	"github.com/c360studio/feedsync/identity"
	feedsync "github.com/c360studio/feedsync/processor/feed-sync"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "feedsync"
)

// logLevelVar allows live log level changes on config reload.
var logLevelVar = new(slog.LevelVar)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath  string
		natsURL     string
		logLevel    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "feedsync",
		Short: "Optimistic feed reconciliation service",
		Long: `Feedsync hosts per-session optimistic views over chat rooms,
messages, posts, and attachments. Mutations apply locally before the
remote write resolves, then confirm or roll back from the outcome;
realtime events from other sessions merge in with at-least-once
delivery handled by the store.

All state lives in NATS JetStream; events travel on the FEED stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, natsURL, logLevel, metricsAddr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9402", "Prometheus metrics listen address (empty = disabled)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	cmd.AddCommand(mintTokenCmd())

	return cmd
}

// mintTokenCmd issues a session token for local development.
func mintTokenCmd() *cobra.Command {
	var (
		userID   string
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "mint-token",
		Short: "Issue a session token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv(config.EnvPrefix + "AUTH_SECRET")
			if secret == "" {
				return fmt.Errorf("%sAUTH_SECRET must be set", config.EnvPrefix)
			}
			token, err := identity.MintToken([]byte(secret), identity.User{ID: userID, Username: username}, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id (required)")
	cmd.Flags().StringVar(&username, "username", "", "Display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func run(configPath, natsURL, logLevel, metricsAddr string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevelVar}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Flags override config.
	if natsURL != "" {
		cfg.NATS.URL = natsURL
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	setLogLevel(cfg.Log.Level)

	ctx := context.Background()
	natsClient, err := connectToNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	if err := ensureFeedStream(ctx, natsClient, logger); err != nil {
		return err
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Register the component factory so platform tooling can discover
	// the schema, then build the single instance this binary runs.
	componentRegistry := component.NewRegistry()
	if err := feedsync.Register(componentRegistry); err != nil {
		return fmt.Errorf("register feed-sync: %w", err)
	}
	slog.Debug("Component factories registered", "count", len(componentRegistry.ListFactories()))

	comp, err := buildComponent(cfg, natsClient, logger)
	if err != nil {
		return err
	}
	if err := comp.Initialize(); err != nil {
		return fmt.Errorf("initialize feed-sync: %w", err)
	}
	if err := comp.Start(signalCtx); err != nil {
		return fmt.Errorf("start feed-sync: %w", err)
	}

	if metricsAddr != "" {
		startMetricsServer(signalCtx, metricsAddr, logger)
	}

	if configPath != "" {
		if err := watchConfig(signalCtx, configPath, logger); err != nil {
			logger.Warn("Config watching disabled", "error", err)
		}
	}

	slog.Info("Feedsync ready",
		"version", Version,
		"nats_url", cfg.NATS.URL,
		"auth_required", cfg.Auth.Required)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := comp.Stop(30 * time.Second); err != nil {
		slog.Error("Error stopping feed-sync", "error", err)
	}

	slog.Info("Feedsync shutdown complete")
	return nil
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	loader := config.NewLoader(logger)
	if configPath != "" {
		return loader.LoadFile(configPath)
	}
	return loader.Load()
}

func setLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		logLevelVar.Set(slog.LevelDebug)
	case "warn":
		logLevelVar.Set(slog.LevelWarn)
	case "error":
		logLevelVar.Set(slog.LevelError)
	default:
		logLevelVar.Set(slog.LevelInfo)
	}
}

func connectToNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	logger.Info("Connecting to NATS", "url", cfg.NATS.URL)

	client, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithCircuitBreakerThreshold(20),
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, cfg.NATS.URL)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, cfg.NATS.URL)
	}

	logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set FEEDSYNC_NATS_URL to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func ensureFeedStream(ctx context.Context, natsClient *natsclient.Client, logger *slog.Logger) error {
	js, err := natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        feed.StreamFeed,
		Description: "Realtime feed change events",
		Subjects:    []string{feed.SubjectFeedEvents},
		Storage:     jetstream.FileStorage,
		MaxAge:      24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("ensure %s stream: %w", feed.StreamFeed, err)
	}

	logger.Debug("JetStream stream ready", "stream", feed.StreamFeed)
	return nil
}

func buildComponent(cfg *config.Config, natsClient *natsclient.Client, logger *slog.Logger) (component.LifecycleComponent, error) {
	rawConfig, err := json.Marshal(map[string]any{
		"auth_secret":        cfg.Auth.Secret,
		"intent_timeout":     cfg.Sync.IntentTimeout.String(),
		"correlation_window": cfg.Sync.CorrelationWindow.String(),
		"enrichment_policy":  cfg.Sync.EnrichmentPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal component config: %w", err)
	}

	comp, err := feedsync.NewComponent(rawConfig, component.Dependencies{
		NATSClient: natsClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create feed-sync component: %w", err)
	}
	lc, ok := comp.(component.LifecycleComponent)
	if !ok {
		return nil, fmt.Errorf("feed-sync component does not implement lifecycle interface")
	}
	return lc, nil
}

func startMetricsServer(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Metrics server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

// watchConfig reloads the config file on change. Only the log level
// applies live; other fields need a restart.
func watchConfig(ctx context.Context, configPath string, logger *slog.Logger) error {
	watcher, err := config.NewWatcher(configPath, logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}

	go func() {
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case cfg, ok := <-watcher.Updates():
				if !ok {
					return
				}
				setLogLevel(cfg.Log.Level)
				logger.Info("Applied config change", "log_level", cfg.Log.Level)
			}
		}
	}()
	return nil
}
