package configstore

import (
	"time"

	"github.com/ruteri/object-storage-backend/interfaces"
	"gorm.io/gorm"
)

// BackendConfigRecord is the persisted row of a backend configuration.
type BackendConfigRecord struct {
	ID                   uint              `gorm:"primaryKey"`
	Key                  string            `gorm:"column:backend_key;type:varchar(64);uniqueIndex;not null"`
	DisplayName          string            `gorm:"type:varchar(128)"`
	Settings             map[string]string `gorm:"type:text;serializer:json"`
	Enabled              bool              `gorm:"not null;index"`
	MaxFileSize          int64             `gorm:"not null;default:0"`
	DefaultExpirySeconds int64             `gorm:"not null;default:0"`
	PublicBaseURL        string            `gorm:"type:varchar(512)"`
	CreatedAt            time.Time         `gorm:"autoCreateTime"`
	UpdatedAt            time.Time         `gorm:"autoUpdateTime"`
	DeletedAt            gorm.DeletedAt    `gorm:"index"`
}

func (BackendConfigRecord) TableName() string {
	return "storage_backend_configs"
}

func mapRecord(r BackendConfigRecord) interfaces.BackendConfig {
	settings := make(map[string]string, len(r.Settings))
	for k, v := range r.Settings {
		settings[k] = v
	}
	return interfaces.BackendConfig{
		Key:                  r.Key,
		DisplayName:          r.DisplayName,
		Settings:             settings,
		Enabled:              r.Enabled,
		MaxFileSize:          r.MaxFileSize,
		DefaultExpirySeconds: r.DefaultExpirySeconds,
		PublicBaseURL:        r.PublicBaseURL,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

// apply copies the mutable fields of cfg onto the record.
func (r *BackendConfigRecord) apply(cfg *interfaces.BackendConfig) {
	r.Key = cfg.Key
	r.DisplayName = cfg.DisplayName
	r.Settings = make(map[string]string, len(cfg.Settings))
	for k, v := range cfg.Settings {
		r.Settings[k] = v
	}
	r.Enabled = cfg.Enabled
	r.MaxFileSize = cfg.MaxFileSize
	r.DefaultExpirySeconds = cfg.DefaultExpirySeconds
	r.PublicBaseURL = cfg.PublicBaseURL
}
