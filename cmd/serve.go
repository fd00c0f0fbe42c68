package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/kirogate/internal/accounts"
	"github.com/nextlevelbuilder/kirogate/internal/config"
	"github.com/nextlevelbuilder/kirogate/internal/httpapi"
	"github.com/nextlevelbuilder/kirogate/internal/logbuf"
	"github.com/nextlevelbuilder/kirogate/internal/models"
	"github.com/nextlevelbuilder/kirogate/internal/store"
	"github.com/nextlevelbuilder/kirogate/internal/store/sqlite"
	"github.com/nextlevelbuilder/kirogate/internal/upstream"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755)
	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	stores := store.Stores{Mappings: db, Logs: db}

	resolver := models.NewResolver()
	mappings, err := db.ListMappings(context.Background())
	if err != nil {
		slog.Error("failed to load model mappings", "error", err)
		os.Exit(1)
	}
	if err := resolver.Load(mappings); err != nil {
		slog.Error("failed to compile model mappings", "error", err)
		os.Exit(1)
	}
	slog.Info("model mappings loaded", "count", len(mappings))

	refreshCfg := accounts.RefreshConfig{
		SocialURL: cfg.Upstream.SocialRefreshURL,
		IDCURL:    cfg.Upstream.IDCRefreshURL,
		ProxyURL:  cfg.Upstream.ProxyURL,
	}
	sharedMode := cfg.Pool.SharedAccountsFile != ""
	pool := accounts.NewPool(accounts.Strategy(cfg.Pool.Strategy), refreshCfg, sharedMode)
	if mode := cfg.Pool.LoadBalancingMode; mode == "priority" {
		pool.SetStrategy(accounts.StrategyLeastUsed)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sync *accounts.Synchronizer
	if sharedMode {
		sync = accounts.NewSynchronizer(cfg.Pool.SharedAccountsFile, pool, cfg.Upstream.Region)
		go sync.Run(ctx)
		slog.Info("shared accounts file watched", "path", cfg.Pool.SharedAccountsFile)
	}

	client := upstream.NewClient(cfg.Upstream.Region, cfg.Upstream.KiroVersion, cfg.Upstream.ProxyURL)
	executor := upstream.NewExecutor(client, cfg.Pool.CompatMode)
	ring := logbuf.NewRing(512)

	api := httpapi.New(cfg, resolver, pool, executor, ring, stores, sync)
	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: api.Handler(),
		// No write timeout: responses stream for as long as the upstream
		// produces events.
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("kirogate listening", "addr", cfg.Addr(), "version", Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
}
