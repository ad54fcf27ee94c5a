// Package configstore persists storage backend configurations with gorm.
package configstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ruteri/object-storage-backend/interfaces"
	"gorm.io/gorm"
)

// Repository implements interfaces.ConfigStore.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindByKey(ctx context.Context, key string) (*interfaces.BackendConfig, error) {
	record, err := findByKey(r.db.WithContext(ctx), key)
	if err != nil {
		return nil, err
	}
	cfg := mapRecord(*record)
	return &cfg, nil
}

func (r *Repository) FindEnabled(ctx context.Context) ([]interfaces.BackendConfig, error) {
	var records []BackendConfigRecord
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("created_at asc, id asc").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find enabled backend configs: %w", err)
	}
	return mapRecords(records), nil
}

func (r *Repository) List(ctx context.Context) ([]interfaces.BackendConfig, error) {
	var records []BackendConfigRecord
	if err := r.db.WithContext(ctx).Order("backend_key asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list backend configs: %w", err)
	}
	return mapRecords(records), nil
}

// Save creates or replaces the config. A previously deleted row for the same key
// is restored. Saving an enabled config disables every other one.
func (r *Repository) Save(ctx context.Context, cfg *interfaces.BackendConfig) error {
	if strings.TrimSpace(cfg.Key) == "" {
		return fmt.Errorf("%w: backend key is required", interfaces.ErrInvalidArgument)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record BackendConfigRecord
		err := tx.Unscoped().Where("backend_key = ?", cfg.Key).First(&record).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to load backend config %s: %w", cfg.Key, err)
		}

		record.apply(cfg)
		record.DeletedAt = gorm.DeletedAt{}
		if err := tx.Unscoped().Save(&record).Error; err != nil {
			return fmt.Errorf("failed to save backend config %s: %w", cfg.Key, err)
		}

		if cfg.Enabled {
			if err := disableOthers(tx, cfg.Key); err != nil {
				return err
			}
		}

		cfg.CreatedAt = record.CreatedAt
		cfg.UpdatedAt = record.UpdatedAt
		return nil
	})
}

// UpdateSettings merges settings into the stored ones. Blank values remove the
// setting.
func (r *Repository) UpdateSettings(ctx context.Context, key string, settings map[string]string) (*interfaces.BackendConfig, error) {
	var out interfaces.BackendConfig
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := findByKey(tx, key)
		if err != nil {
			return err
		}

		if record.Settings == nil {
			record.Settings = make(map[string]string, len(settings))
		}
		for k, v := range settings {
			if strings.TrimSpace(v) == "" {
				delete(record.Settings, k)
				continue
			}
			record.Settings[k] = v
		}

		if err := tx.Save(record).Error; err != nil {
			return fmt.Errorf("failed to update settings of %s: %w", key, err)
		}
		out = mapRecord(*record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Enable marks key as the only enabled config.
func (r *Repository) Enable(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := findByKey(tx, key)
		if err != nil {
			return err
		}
		if err := disableOthers(tx, key); err != nil {
			return err
		}
		if err := tx.Model(record).Update("enabled", true).Error; err != nil {
			return fmt.Errorf("failed to enable backend config %s: %w", key, err)
		}
		return nil
	})
}

// Delete soft-deletes the config.
func (r *Repository) Delete(ctx context.Context, key string) (bool, error) {
	result := r.db.WithContext(ctx).Where("backend_key = ?", key).Delete(&BackendConfigRecord{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete backend config %s: %w", key, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func findByKey(db *gorm.DB, key string) (*BackendConfigRecord, error) {
	var record BackendConfigRecord
	err := db.Where("backend_key = ?", key).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: backend config %s", interfaces.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to find backend config %s: %w", key, err)
	}
	return &record, nil
}

func disableOthers(tx *gorm.DB, key string) error {
	err := tx.Model(&BackendConfigRecord{}).
		Where("backend_key <> ? AND enabled = ?", key, true).
		Update("enabled", false).Error
	if err != nil {
		return fmt.Errorf("failed to disable other backend configs: %w", err)
	}
	return nil
}

func mapRecords(records []BackendConfigRecord) []interfaces.BackendConfig {
	out := make([]interfaces.BackendConfig, 0, len(records))
	for _, r := range records {
		out = append(out, mapRecord(r))
	}
	return out
}
