package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/framecut/framecut-agent/internal/api"
	"github.com/framecut/framecut-agent/internal/catalog"
	"github.com/framecut/framecut-agent/internal/config"
	"github.com/framecut/framecut-agent/internal/db"
	"github.com/framecut/framecut-agent/internal/engine"
	"github.com/framecut/framecut-agent/internal/export"
	"github.com/framecut/framecut-agent/internal/logging"
	"github.com/framecut/framecut-agent/internal/publish"
	"github.com/framecut/framecut-agent/internal/ui"
	"github.com/framecut/framecut-agent/internal/watcher"
)

const (
	stallTimeout    = 2 * time.Minute
	warmupTimeout   = 2 * time.Minute
	shutdownTimeout = 10 * time.Second
	deviceIDKey     = "device_id"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the export agent (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.CacheDir(), cfg.WorkDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting framecut agent", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	deviceID, err := ensureSecret(ctx, repo, deviceIDKey, 16)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}
	authToken, err := ensureSecret(ctx, repo, api.AuthTokenKey, 32)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║  FRAMECUT AGENT v%-57s║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-44d║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-61s║\n", authToken)
	fmt.Printf("║  Device ID:  %-61s║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════════════╝")
	fmt.Println()

	catalogSvc := catalog.NewService(repo, engine.FFprobe{Binary: cfg.ProbeBinary()}, logger)
	orch := newOrchestrator(cfg, logger)
	doctor := engine.NewCachedDoctor(orch, logging.WithComponent(logger, "doctor"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go warmUp(ctx, orch, doctor, logger)

	if dir := cfg.ImportDir(); dir != "" {
		if err := startWatcher(ctx, dir, catalogSvc, logger); err != nil {
			logger.Warn("import folder watcher unavailable", "error", err)
		}
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:            cfg.Port(),
		Catalog:         catalogSvc,
		Tokens:          repo,
		Orchestrator:    orch,
		Doctor:          doctor,
		Publisher:       newPublisher(cfg, logger),
		ExportRateLimit: cfg.ExportRateLimit(),
		Logger:          logger,
		StartTime:       startTime,
		DeviceID:        deviceID,
		Version:         config.Version,
	})

	quitCh := make(chan struct{})
	var quitOnce sync.Once
	quit := func() { quitOnce.Do(func() { close(quitCh) }) }

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
			quit()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-ctx.Done():
			quit()
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
		<-quitCh
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Orchestrator: orch,
			Logger:       logger,
			OnQuit:       quit,
		})
		go func() {
			<-quitCh
			tray.Quit()
		}()
		tray.Run()
		quit()
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("export did not stop before shutdown timeout", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// newOrchestrator wires the ffmpeg engine into an export orchestrator.
func newOrchestrator(cfg config.Config, logger *slog.Logger) *export.Orchestrator {
	return export.New(export.Config{
		NewEngine: func() engine.Engine {
			return engine.NewFFmpeg(engine.FFmpegConfig{
				WorkRoot:     cfg.WorkDir(),
				ExecTimeout:  cfg.EngineTimeout(),
				StallTimeout: stallTimeout,
				Logger:       logger,
			})
		},
		Assets: engine.AssetSource{
			Binary:   cfg.EngineBinary(),
			URL:      cfg.EngineURL(),
			CacheDir: cfg.CacheDir(),
		},
		Logger: logger,
	})
}

func newPublisher(cfg config.Config, logger *slog.Logger) publish.Publisher {
	if !cfg.PublishEnabled() {
		return publish.NopPublisher{}
	}
	s3 := cfg.S3()
	logger.Info("artifact publishing enabled", "bucket", s3.Bucket, "region", s3.Region)
	return publish.NewS3Publisher(publish.S3Config{
		Bucket:    s3.Bucket,
		Region:    s3.Region,
		AccessKey: s3.AccessKey,
		SecretKey: s3.SecretKey,
		Prefix:    s3.Prefix,
		Endpoint:  s3.Endpoint,
	}, logger)
}

// warmUp loads the engine in the background so the first export does not
// pay for it, then records what it can encode.
func warmUp(ctx context.Context, orch *export.Orchestrator, doctor *engine.CachedDoctor, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()

	if err := orch.Initialize(ctx); err != nil {
		logger.Warn("engine warm-up failed; it can be retried via /engine/init", "error", err)
		return
	}
	caps, err := doctor.Refresh(ctx)
	if err != nil {
		logger.Warn("initial capability probe failed", "error", err)
		return
	}
	logger.Info("engine capabilities detected",
		"version", caps.Version,
		"h264", caps.HasEncoders("libx264"),
		"vp9", caps.HasEncoders("libvpx-vp9"),
	)
}

func startWatcher(ctx context.Context, dir string, lib watcher.Library, logger *slog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create import dir: %w", err)
	}
	w, err := watcher.New(dir, lib, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := w.Run(ctx); err != nil {
			logger.Error("import folder watcher stopped", "error", err)
		}
	}()
	return nil
}

type configStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// ensureSecret returns the hex value stored under key, generating and
// persisting n random bytes on first use.
func ensureSecret(ctx context.Context, store configStore, key string, n int) (string, error) {
	existing, err := store.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	value := hex.EncodeToString(buf)

	if err := store.SetConfig(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}
