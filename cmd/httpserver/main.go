package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/object-storage-backend/cmd/flags"
	"github.com/ruteri/object-storage-backend/configstore"
	"github.com/ruteri/object-storage-backend/fileservice"
	"github.com/ruteri/object-storage-backend/httpserver"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := flags.LoadEnv(".env"); err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name:  "storage-server",
		Usage: "Serve the object storage API",
		Flags: append([]cli.Flag{
			flags.ListenAddrFlag,
			flags.DatabaseFlag,
			flags.SeedConfigFlag,
			flags.AdminTokenFlag,
			flags.SessionTTLFlag,
			flags.ReapIntervalFlag,
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := configstore.Connect(cCtx.String(flags.DatabaseFlag.Name), logger)
			if err != nil {
				logger.Error("Failed to open config database", "err", err)
				return err
			}
			if err := configstore.AutoMigrate(ctx, db, logger); err != nil {
				logger.Error("Failed to migrate config database", "err", err)
				return err
			}
			store := configstore.NewRepository(db)

			if seedFile := cCtx.String(flags.SeedConfigFlag.Name); seedFile != "" {
				if err := seed(ctx, store, seedFile, logger); err != nil {
					logger.Error("Failed to seed backend configs", slog.String("file", seedFile), "err", err)
					return err
				}
			}

			svc, err := fileservice.Setup(ctx, store, logger, fileservice.Options{
				SessionTTL: cCtx.Duration(flags.SessionTTLFlag.Name),
			})
			if err != nil {
				logger.Error("Failed to set up storage", "err", err)
				return err
			}
			go svc.RunSessionReaper(ctx, cCtx.Duration(flags.ReapIntervalFlag.Name))

			cfg := flags.ConfigureServer(cCtx, logger)
			if cfg.AdminToken == "" {
				logger.Warn("Admin API is not protected, set --admin-token")
			}
			server := httpserver.New(cfg, svc)
			server.RunInBackground()

			logger.Info("Server is running, press Ctrl+C to stop", slog.String("active", svc.ActiveBackend()))
			<-ctx.Done()
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func seed(ctx context.Context, store *configstore.Repository, file string, logger *slog.Logger) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	created, err := configstore.Seed(ctx, store, f, logger)
	if err != nil {
		return err
	}
	logger.Info("Backend configs seeded", slog.Int("created", created))
	return nil
}
