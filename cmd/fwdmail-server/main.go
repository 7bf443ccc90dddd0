// Package main is the entry point for the fwdmail SMTP server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fwdmail/fwdmail/internal/config"
	"github.com/fwdmail/fwdmail/internal/delivery"
	"github.com/fwdmail/fwdmail/internal/delivery/forward"
	"github.com/fwdmail/fwdmail/internal/delivery/stdout"
	"github.com/fwdmail/fwdmail/internal/metrics"
	"github.com/fwdmail/fwdmail/internal/smtp"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	hostname := cfg.SMTP.Hostname
	if hostname == "" {
		if hostname, err = os.Hostname(); err != nil {
			hostname = "localhost"
		}
	}

	deliverer := selectDeliverer(cfg, hostname)

	if cfg.Metrics.Listen != "" {
		go func() {
			slog.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen)
			if err := metrics.Serve(cfg.Metrics.Listen); err != nil {
				slog.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	server := smtp.New(smtp.ServerConfig{
		ListenAddr:     cfg.SMTP.Listen,
		Hostname:       hostname,
		Deliverer:      deliverer,
		LocalDomains:   cfg.SMTP.LocalDomains,
		MaxMessageSize: cfg.SMTP.MaxMessageSize,
		ReadTimeout:    time.Duration(cfg.SMTP.ReadTimeoutSeconds) * time.Second,
	})

	slog.Info("starting fwdmail-server",
		"listen", cfg.SMTP.Listen,
		"hostname", hostname,
		"backend", deliverer.Name(),
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

	// Start the server (blocks until context is cancelled)
	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("fwdmail-server stopped")
}

// loadConfig loads configuration from the specified path (YAML + env
// override) or from environment variables only if no path is given.
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

// selectDeliverer chooses the delivery backend based on configuration.
func selectDeliverer(cfg *config.Config, hostname string) delivery.Deliverer {
	switch cfg.Delivery.Backend {
	case "forward", "":
		store, err := forward.New(cfg.Delivery.ForwardDir, hostname)
		if err != nil {
			slog.Error("failed to open forward store", "dir", cfg.Delivery.ForwardDir, "error", err)
			os.Exit(1)
		}
		slog.Info("using forward-file store", "dir", cfg.Delivery.ForwardDir)
		return store

	case "stdout":
		slog.Info("using stdout delivery")
		return stdout.New(hostname)

	default:
		slog.Error("unknown delivery backend", "backend", cfg.Delivery.Backend)
		os.Exit(1)
		return nil
	}
}
