package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/user/tender-service/internal/api"
	"github.com/user/tender-service/internal/config"
	"github.com/user/tender-service/internal/crawler"
	"github.com/user/tender-service/internal/disk"
	"github.com/user/tender-service/internal/domain"
	"github.com/user/tender-service/internal/enrich"
	"github.com/user/tender-service/internal/extractor"
	"github.com/user/tender-service/internal/maintenance"
	"github.com/user/tender-service/internal/marketplace"
	"github.com/user/tender-service/internal/monitoring"
	"github.com/user/tender-service/internal/proxy"
	"github.com/user/tender-service/internal/storage"
	"github.com/user/tender-service/internal/worker"
	"github.com/user/tender-service/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger, _ := zap.NewProduction()
		bootLogger.Fatal("could not load config", zap.Error(err))
	}

	// Initialize structured logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		bootLogger, _ := zap.NewProduction()
		bootLogger.Fatal("could not build logger", zap.Error(err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := resetDir(cfg.ReportsDir); err != nil {
		log.Fatal("could not prepare reports directory", zap.String("dir", cfg.ReportsDir), zap.Error(err))
	}

	// Initialize Storage Layer
	if cfg.RunMigrations {
		if err := storage.Migrate(cfg.PostgresURL); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
	}
	pgStore, err := storage.NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pgStore.Close()
	redisStore := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL())
	defer redisStore.Close()

	// Initialize Monitoring, Proxies
	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	proxyManager := proxy.NewManager(cfg.Proxies)

	pool := worker.NewPool(cfg.BackgroundWorkers, cfg.BackgroundQueue, metrics, log.Named("worker"))
	pool.Start()

	folders := map[domain.Category]string{
		domain.Nonresidential: cfg.NonresidentialFolder,
		domain.ParkingSpace:   cfg.ParkingSpacesFolder,
	}

	market := marketplace.NewClient(marketplace.Options{
		SearchURL:   cfg.SearchURL,
		DetailURL:   cfg.DetailURL,
		RPS:         cfg.MarketplaceRPS,
		Timeout:     cfg.HTTPTimeout(),
		InsecureTLS: cfg.InsecureTLS,
	}, proxyManager, log.Named("marketplace"))

	synchronizer := disk.NewSynchronizer(
		disk.NewClient(cfg.DiskAPIURL, cfg.DiskToken, cfg.HTTPTimeout(), log.Named("disk")),
		pgStore, redisStore,
		disk.Options{
			Root:           cfg.DiskRoot,
			RetryRounds:    cfg.UploadRetryRounds,
			PollInterval:   cfg.UploadPollInterval(),
			PollAttempts:   cfg.UploadPollAttempts,
			Concurrency:    cfg.UploadConcurrency,
			PublicHostFrom: cfg.PublicHostFrom,
			PublicHostTo:   cfg.PublicHostTo,
		},
		metrics, log.Named("disk"),
	)

	fieldExtractor := extractor.New(enrich.DocumentLabels, cfg.ReportWindowStart, cfg.ReportWindowEnd, metrics, log.Named("extractor"))

	// Initialize Core Crawler
	coreCrawler := crawler.NewCrawler(
		market, fieldExtractor, enrich.NewRules(cfg.Parsing, cfg.TenderBaseURL),
		pgStore, redisStore, synchronizer, pool,
		crawler.Options{
			StartPage:    cfg.StartPage,
			PageSize:     cfg.PageSize,
			PageInterval: cfg.PageInterval(),
			ErrorBackoff: cfg.ErrorBackoff(),
			ReportsDir:   cfg.ReportsDir,
			Folders:      folders,
		},
		metrics, log.Named("crawler"),
	)

	sweeper := maintenance.NewSweeper(pgStore, redisStore, synchronizer, folders, metrics, log.Named("sweeper"))

	var wg sync.WaitGroup
	for _, name := range cfg.Categories {
		category, err := domain.ParseCategory(name)
		if err != nil {
			log.Fatal("invalid crawl category", zap.Error(err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			coreCrawler.RunEvery(ctx, category, cfg.CrawlEvery())
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.RunEvery(ctx, cfg.SweepEvery())
	}()

	// Initialize API Server
	server := api.NewServer(cfg.ServerPort, pgStore, redisStore, sweeper, pool, prometheus.DefaultGatherer, metrics, log.Named("api"))

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("could not start server", zap.Error(err))
		}
	}()

	log.Info("server started", zap.String("port", cfg.ServerPort), zap.Strings("categories", cfg.Categories))

	<-ctx.Done()
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	wg.Wait()
	if err := pool.Drain(shutdownCtx); err != nil {
		log.Warn("background work abandoned at shutdown deadline", zap.Error(err))
	}

	log.Info("server exiting")
}

// resetDir empties dir, creating it when missing. Reports left by an
// interrupted run are never resumed.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}
