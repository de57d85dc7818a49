package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/bolahunter/internal/capture"
	"github.com/raaihank/bolahunter/internal/config"
	"github.com/raaihank/bolahunter/internal/engine"
	"github.com/raaihank/bolahunter/internal/proxy"
	"github.com/raaihank/bolahunter/internal/rules"
	"github.com/raaihank/bolahunter/internal/settings"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the intercepting proxy and the operator API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Bool("armed", false, "Start with attack mode on (overrides attack.armed)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("armed") {
		cfg.Attack.Armed, _ = cmd.Flags().GetBool("armed")
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	store, err := settings.New(cfg.Settings, log.WithComponent("settings").Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ruleStore := rules.NewStore(store, log.WithComponent("rules").Logger)
	loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = ruleStore.Load(loadCtx)
	cancel()
	if err != nil {
		return err
	}

	eng := engine.New(ruleStore, capture.NewPool(), log.WithComponent("engine").Logger)
	eng.SetArmed(cfg.Attack.Armed)

	server, err := proxy.New(cfg, eng, log, version)
	if err != nil {
		log.Error("Failed to create server", zap.Error(err))
		return err
	}

	if err := config.Watch(func(c *config.Config) { eng.SetArmed(c.Attack.Armed) }, log.WithComponent("config").Logger); err != nil {
		log.Debug("Configuration hot reload disabled", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
			_ = server.Stop(context.Background())
			return err
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			return err
		}
	}

	log.Info("Server shutdown complete", zap.Any("stats", eng.Stats()))
	return nil
}
