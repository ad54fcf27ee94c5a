package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ruteri/object-storage-backend/interfaces"
)

// Seed saves every config of the JSON array in r whose key is not stored yet.
// Existing rows are left untouched so edits made through the admin API survive
// restarts. Returns the number of configs created.
func Seed(ctx context.Context, store interfaces.ConfigStore, r io.Reader, log *slog.Logger) (int, error) {
	var configs []interfaces.BackendConfig
	if err := json.NewDecoder(r).Decode(&configs); err != nil {
		return 0, fmt.Errorf("failed to parse seed configs: %w", err)
	}

	created := 0
	for i := range configs {
		cfg := &configs[i]
		_, err := store.FindByKey(ctx, cfg.Key)
		switch {
		case err == nil:
			log.Debug("Backend config already stored, not seeding", slog.String("backend", cfg.Key))
			continue
		case !errors.Is(err, interfaces.ErrNotFound):
			return created, err
		}

		if err := store.Save(ctx, cfg); err != nil {
			return created, err
		}
		log.Info("Seeded backend config", slog.String("backend", cfg.Key), slog.Bool("enabled", cfg.Enabled))
		created++
	}
	return created, nil
}
