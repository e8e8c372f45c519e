// Gateway Host - authenticated single-owner front end for a supervised agent gateway
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/workspace/gateway-host/internal/auth"
	"github.com/workspace/gateway-host/internal/config"
	"github.com/workspace/gateway-host/internal/gateway"
	"github.com/workspace/gateway-host/internal/logging"
	"github.com/workspace/gateway-host/internal/persistence"
	"github.com/workspace/gateway-host/internal/server"
	"github.com/workspace/gateway-host/internal/supervisor"
	"github.com/workspace/gateway-host/internal/watcher"
)

func main() {
	logging.Setup()
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gateway-host",
		Short:         "Authenticated front end for a supervised agent gateway",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newOwnerCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, gateway reconciliation and health watcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	slog.Info("Starting gateway host...")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.RequireServe(); err != nil {
		return err
	}

	store, err := persistence.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	sessions := auth.NewSessionStore(store, auth.SessionConfig{
		TTL:        cfg.SessionTTL,
		CookieName: cfg.CookieName,
		Secure:     cfg.CookieSecure,
	})
	sup := supervisor.NewCtl(cfg.SupervisorCommand, cfg.GatewayProgram)
	mgr := gateway.NewManager(gateway.Config{
		Port:             cfg.GatewayPort,
		ConfigFile:       cfg.GatewayConfigFile,
		EnvFile:          cfg.GatewayEnvFile,
		WorkspaceDir:     cfg.GatewayWorkspaceDir,
		BinaryCandidates: cfg.GatewayBinaryCandidates,
		InstallScript:    cfg.GatewayInstallScript,
		InstallTimeout:   cfg.GatewayInstallTimeout,
		ReadyTimeout:     cfg.GatewayReadyTimeout,
		PollInterval:     cfg.GatewayPollInterval,
		RecoveryWait:     cfg.GatewayRecoveryWait,
		ManagedAPIKey:    cfg.ManagedAPIKey,
		ManagedBaseURL:   cfg.ManagedBaseURL,
	}, sup, store)
	links := watcher.NewCredsChecker(cfg.WhatsAppCredsFile)

	srv := server.New(cfg, server.Deps{
		Store:    store,
		Sessions: sessions,
		Lock:     auth.NewInstanceLock(store),
		Identity: auth.NewIdentityClient(cfg.IdentityURL, cfg.IdentityTimeout),
		Gateway:  mgr,
		Links:    links,
	})

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Background work shares ctx and is waited for before the store closes.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := mgr.Reconcile(ctx); err != nil {
			slog.Error("Gateway reconciliation failed", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		sessions.RunCleanup(ctx, cfg.SessionCleanupInterval)
	}()
	go func() {
		defer wg.Done()
		watcher.New(links, mgr, cfg.WatcherInterval).Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
		if serveErr != nil {
			slog.Error("Server error", "error", serveErr)
		}
	case <-ctx.Done():
		slog.Info("Received signal, shutting down...")
	}

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	// The gateway keeps running under the supervisor.
	slog.Info("Gateway host stopped")
	return serveErr
}
