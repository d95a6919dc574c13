package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/accesstime/internal/access"
	"github.com/goodtune/accesstime/internal/api"
	"github.com/goodtune/accesstime/internal/config"
	"github.com/goodtune/accesstime/internal/metrics"
	"github.com/goodtune/accesstime/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start accesstime server",
	Long:  `Start the accesstime server with the JSON API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting accesstime")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	deps, err := openEngine(cfg, logger, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close engine resources")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Strs("event_sinks", cfg.Events.Sinks).
		Msg("Storage and event sinks initialized")

	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}
	deps.engine.SetVerifier(verifier)

	logger.Info().
		Int("identities", len(cfg.Instance.Identities)).
		Str("entry_ttl", cfg.Authorization.EntryTTL).
		Msg("Authorization verifier initialized")

	if err := checkInstance(deps, cfg, logger); err != nil {
		return err
	}

	// Initialize API Server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(api.Config{
		ListenAddr:      apiAddr,
		RateLimit:       cfg.Server.RateLimit,
		RateLimitWindow: parseDuration(cfg.Server.RateLimitWindow, time.Minute),
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, deps.engine, logger)

	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	logger.Info().Msg("accesstime startup complete")
	logger.Info().Msgf("API: http://%s", apiAddr)
	if metricsServer != nil {
		logger.Info().Msgf("Metrics: http://%s/metrics", metricsServer.Addr())
	}

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	watchdogCtx, stopWatchdog := context.WithCancel(context.Background())
	defer stopWatchdog()
	go systemd.RunWatchdog(watchdogCtx, logger)

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			break
		}

		logger.Info().Msg("SIGHUP received, reloading policies...")
		if err := deps.policy.Reload(); err != nil {
			logger.Error().Err(err).Msg("Failed to reload policies")
		} else {
			logger.Info().Msg("Policies reloaded successfully")
		}
	}
	signal.Stop(sigChan)

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), parseDuration(cfg.Server.ShutdownTimeout, 30*time.Second))
	defer cancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("accesstime stopped")

	return nil
}

// checkInstance logs the instance state and warns when the configured
// token asset disagrees with the one recorded at initialization.
func checkInstance(deps *engineDeps, cfg *config.Config, logger zerolog.Logger) error {
	inst, err := deps.engine.Instance(context.Background())
	if err != nil {
		if errors.Is(err, access.ErrNotInitialized) {
			logger.Warn().Msg("Instance is not initialized; submit an init invocation signed by the admin")
			return nil
		}
		return fmt.Errorf("failed to read instance: %w", err)
	}

	logger.Info().
		Str("admin", inst.Admin).
		Str("token_asset", inst.TokenAsset).
		Uint64("next_order_id", inst.NextOrderID).
		Msg("Instance loaded")

	if cfg.Instance.TokenAsset != "" && cfg.Instance.TokenAsset != inst.TokenAsset {
		logger.Warn().
			Str("configured", cfg.Instance.TokenAsset).
			Str("recorded", inst.TokenAsset).
			Msg("Configured token asset differs from the initialized instance")
	}
	return nil
}
