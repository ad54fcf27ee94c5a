package fileservice

import (
	"context"
	"log/slog"
	"time"

	"github.com/ruteri/object-storage-backend/configmanager"
	"github.com/ruteri/object-storage-backend/interfaces"
	"github.com/ruteri/object-storage-backend/storage"
)

// Options configure Setup.
type Options struct {
	// SessionTTL expires idle multipart sessions; 0 means storage.DefaultSessionTTL.
	SessionTTL time.Duration
}

// Setup wires the config manager, session manager and registry around store.
// Every bundled driver is registered under its own name, and every stored config
// under its key with the driver it selects. The active backend is loaded last.
func Setup(ctx context.Context, store interfaces.ConfigStore, log *slog.Logger, opts Options) (*Service, error) {
	configs := configmanager.New(store, log)
	sessions := storage.NewSessionManager(opts.SessionTTL, log)
	registry := storage.NewRegistry(configs, log)
	configs.Subscribe(registry.HandleInvalidation)

	svc := New(registry, configs, sessions, log)
	for _, driver := range storage.Drivers() {
		if err := svc.RegisterBackend(driver, driver); err != nil {
			return nil, err
		}
	}

	stored, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range stored {
		cfg := &stored[i]
		if err := svc.RegisterBackend(cfg.Key, storage.DriverOf(cfg)); err != nil {
			log.Warn("Skipping backend with unknown driver",
				slog.String("backend", cfg.Key),
				"err", err)
		}
	}

	if _, err := configs.ReloadActive(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

// RegisterBackend registers (or replaces) the strategy of key backed by driver.
func (s *Service) RegisterBackend(key, driver string) error {
	factory, err := storage.FactoryFor(driver)
	if err != nil {
		return err
	}
	s.registry.Register(storage.NewStrategy(key, factory, s.configs, s.sessions, s.log))
	return nil
}

// RunSessionReaper removes expired multipart sessions every interval until ctx
// is done.
func (s *Service) RunSessionReaper(ctx context.Context, interval time.Duration) {
	s.sessions.Run(ctx, interval)
}
