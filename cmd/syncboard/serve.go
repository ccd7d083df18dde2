package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/syncboard/syncboard/internal/config"
	"github.com/syncboard/syncboard/internal/httpd"
	"github.com/syncboard/syncboard/pkg/room"
	"github.com/syncboard/syncboard/pkg/storage"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		address    string
		backend    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collaboration coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Address = address
			}
			if backend != "" {
				cfg.Storage.Backend = backend
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			logger := newLogger(cfg.LogLevel)

			store, err := buildStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			roomCfg := buildRoomConfig(cfg)
			metrics := room.NewMetrics()
			manager := room.NewManager(roomCfg, store, logger, metrics)

			serverCfg := httpd.DefaultConfig()
			serverCfg.Address = cfg.Address
			server := httpd.NewServer(serverCfg, manager, store, logger)

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("starting syncboard",
				"version", version,
				"address", cfg.Address,
				"storage", cfg.Storage.Backend)

			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to syncboard.json")
	cmd.Flags().StringVarP(&address, "address", "a", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&backend, "storage", "", "storage backend: memory, redis, postgres, s3")

	return cmd
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func buildStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemory(), nil

	case "redis":
		return storage.NewRedis(cfg.Storage.RedisURL)

	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewPostgres(ctx, cfg.Storage.PostgresDSN)

	case "s3":
		awscfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return storage.NewS3(s3.NewFromConfig(awscfg), cfg.Storage.S3Bucket, cfg.Storage.S3Prefix), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildRoomConfig(cfg *config.Config) *room.Config {
	rc := room.DefaultConfig()
	if cfg.Room.MaxSessions > 0 {
		rc.MaxSessions = cfg.Room.MaxSessions
	}
	if cfg.Room.MaxMessageBytes > 0 {
		rc.MaxMessageSize = cfg.Room.MaxMessageBytes
	}
	if d := time.Duration(cfg.Room.HeartbeatInterval); d > 0 {
		rc.HeartbeatInterval = d
	}
	if d := time.Duration(cfg.Room.HeartbeatTimeout); d > 0 {
		rc.HeartbeatTimeout = d
	}
	if d := time.Duration(cfg.Room.EvictionDelay); d > 0 {
		rc.EvictionDelay = d
	}
	return rc
}
