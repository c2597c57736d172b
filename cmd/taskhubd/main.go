package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"taskhub/internal/cache"
	"taskhub/internal/config"
	"taskhub/internal/controller"
	"taskhub/internal/database"
	"taskhub/internal/events"
	"taskhub/internal/relay"
	"taskhub/internal/repository"
	"taskhub/internal/routes"
	"taskhub/internal/worker"
	"taskhub/pkg/logger"
)

func main() {
	loadEnvFile(".env")

	ctx := context.Background()
	cfg := config.Get()
	if cfg.SecretKey == "" {
		// Sessions still work, but reset on every restart.
		cfg.SecretKey = randomSecret()
		logger.Warn(ctx, "SECRET_KEY not set; using an ephemeral secret")
	}

	db := database.InitDB(ctx)
	if db == nil {
		logger.Error(ctx, "Database not available; exiting")
		os.Exit(1)
	}
	if err := database.MigrateOrCreateSchema(ctx); err != nil {
		logger.Error(ctx, "Schema migration failed", "error", err)
		os.Exit(1)
	}
	store := repository.New(db, database.Driver())

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	hub := events.NewHub()

	// Optional scale-out pieces: a Redis bridge carries events between
	// replicas, Kafka mirrors them for outside consumers.
	if rdb := cache.Client(ctx); rdb != nil {
		hub.BridgeRedis(runCtx, rdb)
		logger.Info(ctx, "Event bridge enabled")
	}
	if relay.Enabled() {
		relay.Producer(ctx)
		relay.EnsureTopic(ctx)
		hub.AttachSink(relay.Mirror{})
	}

	go worker.RunDueScanner(runCtx, store, hub)

	server := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     routes.Router(controller.New(store, hub)),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the push channel holds connections open for as
		// long as the client stays subscribed.
		IdleTimeout: 120 * time.Second,
	}
	go func() {
		logger.Info(ctx, "HTTP server listening", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "Server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "Shutting down server")

	stop()
	// Closing the hub ends every push-channel handler; Shutdown would
	// otherwise wait out its whole timeout on those streams.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Server shutdown error", "error", err)
	}
	if err := relay.Close(); err != nil {
		logger.Error(ctx, "Kafka producer close error", "error", err)
	}
	logger.Info(ctx, "Server stopped")
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// loadEnvFile reads a .env file and sets env vars (only if not already set).
func loadEnvFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`) {
			val = strings.Trim(val, `"`)
		} else if strings.HasPrefix(val, "'") && strings.HasSuffix(val, "'") {
			val = strings.Trim(val, "'")
		}
		if key != "" && os.Getenv(key) == "" {
			_ = os.Setenv(key, val)
		}
	}
}
