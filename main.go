package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pricewatch/config"
	"pricewatch/internal/aggregate"
	"pricewatch/internal/dashboard"
	"pricewatch/internal/livingapps"
	"pricewatch/internal/metrics"
	"pricewatch/internal/repository"
	"pricewatch/logger"
	"pricewatch/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}
	if len(cfg.Logging.Fields) > 0 {
		log.AddStaticFields(logger.Fields(cfg.Logging.Fields))
	}

	env := config.AppEnvironment()
	log.WithFields(logger.Fields{
		"service":     cfg.Pricewatch.Name,
		"version":     cfg.Pricewatch.Version,
		"environment": env,
	}).Info("starting pricewatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Configure(cfg.Metrics)
	metrics.Init()
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch)
	}

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second, metrics.PublishReport)
	}

	client := livingapps.NewClient(cfg.LivingApps, log)
	repo := repository.New(client, cfg.LivingApps.Apps, log)

	var exporter *writer.Exporter
	if cfg.Storage.S3.Enabled {
		exporter, err = writer.NewExporter(ctx, cfg)
		if err != nil {
			log.WithError(err).Error("failed to create S3 exporter")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("S3 storage disabled; skipping export")
	}

	deps := dashboard.Deps{Repository: repo, Environment: env}
	if exporter != nil {
		deps.Exporter = exporter
	}
	server, err := dashboard.NewServer(cfg.Dashboard, deps, log)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx, cfg.Pricewatch.Name); err != nil {
				log.WithError(err).Error("dashboard stopped with error")
				cancel()
			}
		}()
	} else {
		log.WithComponent("main").Info("dashboard disabled")
	}

	if cfg.Metrics.PrometheusAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.PrometheusAddress); err != nil {
				log.WithError(err).Warn("prometheus listener stopped")
			}
		}()
	}

	if exporter != nil && cfg.Storage.S3.ExportInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exporter.Run(ctx, cfg.Storage.S3.ExportInterval, func(ctx context.Context) ([]aggregate.History, error) {
				snap, err := repo.LoadSnapshot(ctx)
				if err != nil {
					return nil, err
				}
				return aggregate.PriceHistories(snap), nil
			})
		}()
	}

	log.WithFields(logger.Fields{
		"dashboard": server.Address(),
		"base_url":  client.BaseURL(),
	}).Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("pricewatch stopped")
}
