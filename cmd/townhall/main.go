// Package main runs the townhall API server.
//
// @title                      Townhall API
// @version                    1.0
// @description                Anonymous, ephemeral feed with local, group and promoted channels.
// @BasePath                   /
// @securityDefinitions.apikey SessionToken
// @in                         header
// @name                       Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/townhall/config"
	"github.com/d60-Lab/townhall/internal/api"
	"github.com/d60-Lab/townhall/internal/api/handler"
	"github.com/d60-Lab/townhall/internal/api/middleware"
	"github.com/d60-Lab/townhall/internal/api/stream"
	"github.com/d60-Lab/townhall/internal/classifier"
	"github.com/d60-Lab/townhall/internal/identity"
	"github.com/d60-Lab/townhall/internal/metrics"
	"github.com/d60-Lab/townhall/internal/repository"
	"github.com/d60-Lab/townhall/internal/service"
	"github.com/d60-Lab/townhall/pkg/cache"
	"github.com/d60-Lab/townhall/pkg/database"
	"github.com/d60-Lab/townhall/pkg/logger"
	"github.com/d60-Lab/townhall/pkg/sentry"
	"github.com/d60-Lab/townhall/pkg/tracing"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "townhall"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	serve := func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), configPath, logLevel)
	}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Anonymous ephemeral feed server",
		Long: `Townhall serves an anonymous feed whose posts expire after 100 seconds
unless the crowd keeps them. Posts are tagged by a language model, scoped to
global, local, group or business channels, and pushed to websocket clients.`,
		SilenceUsage: true,
		RunE:         serve,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE:  serve,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})
	return cmd
}

func run(ctx context.Context, configPath, logLevel string) error {
	if configPath != "" {
		if err := os.Setenv("TOWNHALL_CONFIG", configPath); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	sentryOn, err := sentry.Init(cfg.Sentry)
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	if sentryOn {
		defer sentry.Flush()
	}

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	m := metrics.New()

	// identity storage, plus the classifier cache when redis is up
	var (
		kv        identity.KV
		clientOpt = []classifier.Option{
			classifier.WithObserver(func(o classifier.Outcome) { m.ClassifierOutcome(string(o)) }),
		}
	)
	switch cfg.Storage.Identity {
	case "memory":
		kv = identity.NewMemoryKV()
		logger.Warn("identities are process-local", zap.String("storage", "memory"))
	default:
		rdb, err := cache.InitRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		kv = identity.NewRedisKV(rdb)
		if cfg.Classifier.CacheTTL > 0 {
			clientOpt = append(clientOpt, classifier.WithCache(classifier.NewRedisCache(rdb, cfg.Classifier.CacheTTL)))
		}
	}
	identities := identity.NewStore(kv)

	var tagger classifier.Tagger = classifier.NewClient(cfg.Classifier, clientOpt...)
	if cfg.Classifier.APIKey == "" {
		logger.Warn("classifier not configured, posts get fallback tags")
	}

	opts := []service.Option{service.WithMetrics(m)}
	db, err := database.InitDB(cfg)
	switch {
	case errors.Is(err, database.ErrDisabled):
		logger.Info("archive disabled, campaigns stay in memory")
	case err != nil:
		return err
	default:
		defer func() { _ = database.Close(db) }()
		archiveOpts, err := archiveOptions(ctx, db, cfg, m)
		if err != nil {
			return err
		}
		opts = append(opts, archiveOpts...)
	}

	townhall := service.New(identities, tagger, cfg.Feed, opts...)
	stopTownhall := townhall.Start()

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := stream.NewHub(townhall, cfg.Server.AllowOrigins)
	go hub.Run(hubCtx)

	gin.SetMode(cfg.Server.Mode)
	tokens := middleware.NewSessionTokens(cfg.JWT)
	router := api.NewRouter(api.Deps{
		Config:  cfg,
		Handler: handler.New(townhall, identities, tokens, uuid.NewString),
		Tokens:  tokens,
		Hub:     hub,
		Metrics: m,
		Sentry:  sentryOn,
		Tracing: cfg.Tracing.Enabled,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("townhall listening", zap.String("addr", cfg.Server.Addr), zap.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	var serveErr error
	select {
	case <-sigCtx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	stopHub()
	if err := stopTownhall(shutdownCtx); err != nil {
		logger.Warn("townhall stop", zap.Error(err))
	}
	return serveErr
}

// archiveOptions wires the campaign archive and restores persisted groups.
func archiveOptions(ctx context.Context, db *gorm.DB, cfg *config.Config, m *metrics.Metrics) ([]service.Option, error) {
	campaigns := repository.NewCampaignRepository(db)
	groups := repository.NewGroupRepository(db)

	saved, err := groups.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	logger.Info("groups restored", zap.Int("count", len(saved)))

	archiver := service.NewArchiver(campaigns, groups, cfg.Feed.ArchiveQueue, m)
	return []service.Option{
		service.WithArchive(archiver, campaigns),
		service.WithGroups(saved),
	}, nil
}
