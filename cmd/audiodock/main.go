package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audiodock/internal/client/notify"
	"github.com/audiodock/internal/config"
	"github.com/audiodock/internal/engine"
	"github.com/audiodock/internal/fileops"
	"github.com/audiodock/internal/handler"
	"github.com/audiodock/internal/queue"
	"github.com/audiodock/internal/tags"
	"github.com/audiodock/internal/version"
	"github.com/audiodock/pkg/logger"
)

func main() {
	// Initialize logger
	isDev := os.Getenv("ENV") != "production"
	logger.Init(isDev)
	defer logger.Sync()

	version.PrintBanner(nil)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	logger.Infof("📁 Loading config: %s", configPath)
	cfgMgr, err := config.NewManager(configPath)
	if err != nil {
		logger.Fatalf("❌ Config error: %v", err)
	}
	defer cfgMgr.Stop()
	cfg := cfgMgr.Get()

	if err := fileops.EnsureDir(cfg.Download.OutputDir); err != nil {
		logger.Fatalf("❌ Output directory error: %v", err)
	}

	// Initialize Apprise client
	notifier := notify.NewClient(cfg.Notify)
	if cfg.Notify.Enabled {
		logger.Infof("🔔 Notifications: enabled (key=%s)", cfg.Notify.Key)
	} else {
		logger.Info("🔔 Notifications: disabled")
	}

	// Initialize download engine and tag writer
	eng := engine.New(cfg.Engine)
	tagger := tags.NewWriter()

	// Initialize download queue
	manager := queue.NewManager(eng, tagger, fetchOptions(cfg))

	// New settings apply to items fetched after the change.
	cfgMgr.OnChange(func(_, next *config.Config) {
		manager.SetOptions(fetchOptions(next))
	})

	// Single event consumer: buffers for the polling API, notifies on batch end.
	hub := handler.NewEventHub(manager.Events(), func(completed, total int) {
		if err := notifier.NotifyBatch(completed, total); err != nil {
			logger.Warnf("⚠️ Notification failed: %v", err)
		}
	})

	// Initialize HTTP server
	if !isDev {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	// Register routes
	h := handler.New(manager, cfgMgr, tagger, hub)
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Print startup info
	logger.Info("")
	logger.Infof("📂 Output: %s", cfg.Download.OutputDir)
	logger.Infof("🎵 Format: %s @ %d kbps", cfg.Download.Format, cfg.Download.Bitrate)
	logger.Infof("🔍 Provider: %s", cfg.Engine.Provider)
	logger.Info("")
	logger.Infof("🌐 API server: http://localhost:%d", cfg.Server.Port)
	logger.Infof("   POST /api/v1/downloads     - Queue downloads")
	logger.Infof("   GET  /api/v1/queue         - Inspect the queue")
	logger.Infof("   POST /api/v1/queue/cancel  - Cancel the running batch")
	logger.Info("")
	logger.Info("────────────────────────────────────────────────────────────────")
	logger.Info("✅  Ready! Waiting for download requests...")
	logger.Info("────────────────────────────────────────────────────────────────")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("")
	logger.Info("🛑 Shutting down...")

	manager.CancelAll()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("❌ Shutdown error: %v", err)
	}

	logger.Info("👋 Goodbye!")
}

// fetchOptions maps the editable settings onto the engine option set. The
// output template is anchored inside the output directory.
func fetchOptions(cfg *config.Config) queue.FetchOptions {
	return queue.FetchOptions{
		Format:               queue.AudioFormat(cfg.Download.Format),
		Bitrate:              cfg.Download.Bitrate,
		OutputTemplate:       filepath.Join(cfg.Download.OutputDir, cfg.Download.OutputTemplate),
		SocketTimeoutSeconds: cfg.Engine.SocketTimeoutSeconds,
		Retries:              cfg.Engine.Retries,
		EmbedThumbnail:       cfg.Engine.EmbedThumbnail,
	}
}

// requestLogger returns a gin middleware for logging HTTP requests
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		if path != "/api/v1/health" || status >= 400 {
			latency := time.Since(start)
			logger.Debugf("HTTP %s %s → %d (%v)", c.Request.Method, path, status, latency)
		}
	}
}
