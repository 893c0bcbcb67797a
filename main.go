// Copyright © 2025 CloudLens Authors, All Rights reserved

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cloudlens/devgate/pkg/config"
	"github.com/cloudlens/devgate/pkg/server"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	flagConfig string
	flagListen string
	flagStatic string
)

const watchDebounce = 500 * time.Millisecond

var rootCmd = &cobra.Command{
	Use:   "devgate",
	Short: "Local development gateway for the CloudLens dashboard",
	Long: `devgate fronts the CloudLens dashboard during local development. It
forwards API calls under configured path prefixes to the remote scan
service, serves the dashboard's static build for everything else, and hot
reloads its route rules when the config file changes.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to configuration file (default devgate.yaml)")
	rootCmd.Flags().StringVar(&flagListen, "listen", "", "listen address override")
	rootCmd.Flags().StringVar(&flagStatic, "static", "", "static dashboard directory override")
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve() error {
	cfgPath := config.Path(flagConfig)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if flagListen != "" {
		cfg.ListenAddr = flagListen
	}
	if flagStatic != "" {
		cfg.StaticDir = flagStatic
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log.Logger = log.Level(level)

	manager, err := server.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("construct gateway: %w", err)
	}

	watcherCtx, stopWatcher := context.WithCancel(context.Background())
	defer stopWatcher()

	watcher, err := config.NewWatcher(cfgPath, watchDebounce, manager.Reload)
	if err != nil {
		return fmt.Errorf("watch configuration: %w", err)
	}
	go watcher.Run(watcherCtx)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      manager,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	go func() {
		log.Info().
			Str("listen_addr", cfg.ListenAddr).
			Int("routes", len(cfg.Rules)).
			Str("config", cfgPath).
			Msg("starting devgate")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("gateway server exited unexpectedly")
		}
	}()

	waitForShutdown(context.Background(), srv, cfg.GracefulShutdownTimeout)
	return nil
}

func waitForShutdown(ctx context.Context, srv *http.Server, timeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop

	log.Info().Msg("shutting down devgate")

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed; forcing close")
		if closeErr := srv.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("forced close failed")
		}
	}

	log.Info().Msg("gateway stopped")
}
