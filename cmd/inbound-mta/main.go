// Package main is the entry point for the inbound MTA.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/inbound-mta/internal/config"
	"github.com/shineum/inbound-mta/internal/message"
	"github.com/shineum/inbound-mta/internal/policy"
	"github.com/shineum/inbound-mta/internal/provider"
	"github.com/shineum/inbound-mta/internal/provider/ses"
	"github.com/shineum/inbound-mta/internal/provider/stdout"
	"github.com/shineum/inbound-mta/internal/queue"
	"github.com/shineum/inbound-mta/internal/smtp"
	"github.com/shineum/inbound-mta/internal/spool"
	mtatls "github.com/shineum/inbound-mta/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	tlsConfig, err := setupTLS(cfg)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	sp, err := spool.Open(cfg.Spool.Path)
	if err != nil {
		slog.Error("failed to open spool", "path", cfg.Spool.Path, "error", err)
		os.Exit(1)
	}
	defer sp.Close()

	gateway, err := setupPolicy(cfg.Policy.Script)
	if err != nil {
		slog.Error("failed to load policy script", "path", cfg.Policy.Script, "error", err)
		os.Exit(1)
	}

	prov := selectProvider(cfg)
	mgr := queue.New(prov, sp)

	server := smtp.New(smtp.ServerConfig{
		ListenAddr: cfg.SMTP.Listen,
		TLSConfig:  tlsConfig,
		Session: smtp.SessionConfig{
			Hostname: cfg.SMTP.Hostname,
			Banner:   cfg.SMTP.Banner,
			Spool:    sp,
			Queue:    mgr,
			Policy:   gateway,
		},
	})

	slog.Info("starting inbound-mta",
		"listen", cfg.SMTP.Listen,
		"hostname", cfg.SMTP.Hostname,
		"provider", prov.Name(),
		"spool", cfg.Spool.Path,
		"policy_script", cfg.Policy.Script,
		"tls_enabled", tlsConfig != nil,
	)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	go func() {
		if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("queue dispatcher stopped", "error", err)
		}
	}()

	// Sessions are refused with 421 until recovery completes.
	go func() {
		err := sp.Start(ctx, func(msg *message.Message) error {
			name, err := msg.QueueName()
			if err != nil {
				return err
			}
			return mgr.Insert(ctx, name, msg)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("spool recovery failed", "error", err)
			cancel()
		}
	}()

	if cfg.Metrics.Listen != "" {
		go serveMetrics(ctx, cfg.Metrics.Listen)
	}

	// Start the server (blocks until context is cancelled)
	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("inbound-mta stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// setupTLS returns the listener TLS configuration, or nil for plain text.
func setupTLS(cfg *config.Config) (*tls.Config, error) {
	if !cfg.TLSEnabled() {
		return nil, nil
	}
	if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
		slog.Warn("using self-signed TLS certificate", "hostname", cfg.SMTP.Hostname)
	}
	return mtatls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.SMTP.Hostname)
}

// setupPolicy loads the policy script. Without one every hook proceeds.
func setupPolicy(path string) (*policy.Gateway, error) {
	if path == "" {
		slog.Info("no policy script configured, accepting all mail")
		return policy.NewGateway(nil), nil
	}
	engine, err := policy.LoadScript(path)
	if err != nil {
		return nil, err
	}
	slog.Info("policy script loaded", "path", path, "hooks", engine.Defined())
	return policy.NewGateway(engine), nil
}

// serveMetrics exposes Prometheus metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server error", "error", err)
	}
}

// selectProvider chooses the delivery backend based on configuration.
// If the PROVIDER env var is set, it takes precedence.
// Otherwise, it falls back to auto-detection (SES if configured, else stdout).
func selectProvider(cfg *config.Config) provider.Provider {
	switch cfg.Provider {
	case "ses":
		if !cfg.SESConfigured() {
			slog.Error("SES provider selected but SES_REGION is required")
			os.Exit(1)
		}
		return newSESProvider(cfg)

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New()

	case "":
		if cfg.SESConfigured() {
			slog.Info("SES provider auto-detected")
			return newSESProvider(cfg)
		}
		slog.Info("no provider configured, using stdout provider")
		return stdout.New()

	default:
		slog.Error("unknown provider", "provider", cfg.Provider)
		os.Exit(1)
		return nil
	}
}

func newSESProvider(cfg *config.Config) provider.Provider {
	slog.Info("using AWS SES provider",
		"region", cfg.SES.Region,
		"sender", cfg.SES.Sender,
	)
	p, err := ses.New(context.Background(), ses.SESProviderConfig{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          cfg.SES.Sender,
	})
	if err != nil {
		slog.Error("failed to create SES provider", "error", err)
		os.Exit(1)
	}
	return p
}
