package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"air-quality-analytics/api"
	"air-quality-analytics/config"
	"air-quality-analytics/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to a YAML or JSON config file")
	flag.Parse()

	// .env is optional; real environment variables take precedence
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to read .env: %v", err)
	}

	configManager, err := config.NewConfigManager(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := configManager.GetConfig()

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer closer.Close()
	logger.Info("Starting Air Quality Analytics API...")

	app, err := api.LoadApp(cfg.Storage, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load application context")
	}

	apiServer := api.NewServer(app, cfg.Server, logger)
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	go func() {
		logger.WithField("addr", cfg.Server.Port).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	configManager.AddWatcher(func(c *config.Config) {
		name := c.Logging.Level
		if name == "" {
			name = "info"
		}
		level, err := logrus.ParseLevel(name)
		if err != nil {
			logger.WithError(err).Warn("Ignoring invalid log level from reloaded config")
			return
		}
		logger.SetLevel(level)
		logger.WithField("level", level.String()).Info("Log level updated")
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)

	printStartupInfo(cfg.Server.Port, app)

	for waiting := true; waiting; {
		select {
		case <-reload:
			if err := configManager.Reload(); err != nil {
				logger.WithError(err).Error("Failed to reload configuration")
			}
		case <-quit:
			waiting = false
		}
	}
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}

func printStartupInfo(port string, app *api.App) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("Air Quality Analytics API Started")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("HTTP API: http://localhost%s\n", port)

	fmt.Printf("\nDataset: %d readings\n", len(app.Readings))
	for name, loaded := range app.Models() {
		state := "missing"
		if loaded {
			state = "loaded"
		}
		fmt.Printf("  %-11s %s\n", name+":", state)
	}

	fmt.Println("\nAvailable Endpoints:")
	fmt.Printf("  GET  %s/api/history?period=24h  - Recent readings\n", port)
	fmt.Printf("  GET  %s/api/stats               - Dashboard summary\n", port)
	fmt.Printf("  GET  %s/api/series              - List series\n", port)
	fmt.Printf("  GET  %s/api/query               - Query a series\n", port)
	fmt.Printf("  POST %s/predict/risk            - Classify risk level\n", port)
	fmt.Printf("  GET  %s/health                  - Health check\n", port)
	fmt.Printf("  GET  %s/metrics                 - Prometheus metrics\n", port)

	fmt.Println("\nExample Usage:")
	fmt.Printf(`  curl "http://localhost%s/api/history?period=7d"`, port)
	fmt.Println()

	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("Press Ctrl+C to gracefully shutdown")
	fmt.Println(strings.Repeat("=", 60) + "\n")
}
