// Command bili-sync is the main entrypoint for the archive synchronizer.
// It:
//   - Loads process bootstrap configuration from the environment.
//   - Initializes structured logging, Prometheus metrics, and OpenTelemetry
//     tracing.
//   - Connects to Postgres, runs idempotent migrations, and loads the
//     versioned Config Store snapshot (optionally hot-reloading it from a
//     touch file).
//   - Constructs the remote platform client, the notification queue, and
//     the Task Manager, then starts the scheduler.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, and
//     /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JeromeFenwick/bili-sync/config"
	"github.com/JeromeFenwick/bili-sync/crypto"
	"github.com/JeromeFenwick/bili-sync/model"
	"github.com/JeromeFenwick/bili-sync/notify"
	"github.com/JeromeFenwick/bili-sync/remote"
	"github.com/JeromeFenwick/bili-sync/server"
	"github.com/JeromeFenwick/bili-sync/store"
	"github.com/JeromeFenwick/bili-sync/task"
	"github.com/JeromeFenwick/bili-sync/telemetry"
)

func main() {
	// --disable-credential-refresh is the one flag the core documents
	// (spec §6); everything else about CLI parsing is out of scope.
	disableCredentialRefresh := flag.Bool("disable-credential-refresh", false,
		"disable the daily credential-refresh job; the operator must refresh manually through the admin API")
	flag.Parse()

	// Load .env file if present (local dev convenience only; production relies on real env).
	_ = godotenv.Load()

	initLogging()

	boot, err := config.Load()
	if err != nil {
		slog.Error("boot config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if *disableCredentialRefresh {
		boot.DisableCredentialRefresh = true
	}

	telemetry.Init()

	shutdownTracing, err := telemetry.InitTracing("bili-sync", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := store.Connect(ctx, boot.DBDsn)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("err", err))
		os.Exit(1)
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		slog.Error("failed to migrate database", slog.Any("err", err))
		os.Exit(1)
	}

	if err := boot.ValidateEncryptionReady(); err != nil {
		slog.Error("encryption not ready", slog.Any("err", err))
		os.Exit(1)
	}
	enc, err := crypto.NewAESEncryptorWithPrevious(boot.EncryptionKey, boot.PreviousEncryptionKeys)
	if err != nil {
		slog.Error("failed to construct encryptor", slog.Any("err", err))
		os.Exit(1)
	}

	persister := store.NewConfigPersister(pg, enc)
	configs := config.NewStore(persister)
	if err := configs.Load(ctx); err != nil {
		slog.Error("failed to load config snapshot", slog.Any("err", err))
		os.Exit(1)
	}
	if err := configs.WatchFile(ctx, boot.ConfigTriggerFile); err != nil {
		slog.Error("failed to start config file watcher", slog.Any("err", err))
		os.Exit(1)
	}

	client := remote.NewHTTPClient(boot.RemoteBaseURL)

	queue := notify.New(func() model.Config { return *configs.Get() }, nil)
	queue.Start(ctx)
	defer queue.Close()

	manager := task.New(configs, client, pg, queue, nil, boot.DisableCredentialRefresh)
	manager.Start(ctx)
	defer manager.Stop()

	handlers := server.New(pg, manager, queue)
	go func() {
		if err := handlers.Start(ctx, boot.BindAddress); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	slog.Info("bili-sync started", slog.String("addr", boot.BindAddress))
	<-ctx.Done()
	slog.Info("shutting down")
}

func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
