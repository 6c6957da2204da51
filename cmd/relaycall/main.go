package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/relaycall/relaycall/internal/api"
	"github.com/relaycall/relaycall/internal/config"
	"github.com/relaycall/relaycall/internal/gateway"
	"github.com/relaycall/relaycall/internal/summarizer"
	"github.com/relaycall/relaycall/internal/transfer"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "relaycall",
		Short: "Warm-transfer coordination service for live calls",
		Long: `relaycall moves a live caller between agents through a room platform,
handing the receiving agent an AI-generated summary of the call so far.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transfer coordination server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting relaycall",
		zap.String("livekit_url", cfg.LiveKit.URL),
		zap.String("summarizer", cfg.Summarizer.Provider),
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)))

	gw, err := gateway.NewLiveKit(gateway.LiveKitConfig{
		URL:           cfg.LiveKit.URL,
		APIKey:        cfg.LiveKit.APIKey,
		APISecret:     cfg.LiveKit.APISecret,
		CredentialTTL: cfg.LiveKit.CredentialTTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("create room gateway: %w", err)
	}

	provider, err := summarizer.NewProviderFromConfig(cfg.Summarizer, logger)
	if err != nil {
		return fmt.Errorf("create summarizer: %w", err)
	}
	logger.Info("summarization provider ready", zap.String("provider", provider.Name()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := transfer.NewStore(cfg.Transfer.Retention, logger)
	store.StartJanitor(ctx, cfg.Transfer.JanitorInterval)

	orch := transfer.NewOrchestrator(store, gw, provider, cfg.Transfer.Config, logger)
	server := api.NewServer(store, orch, gw, provider, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	return zapCfg.Build()
}
