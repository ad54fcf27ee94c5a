package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ruteri/object-storage-backend/interfaces"
)

// Backend drivers bundled with the service.
const (
	DriverLocal = "local"
	DriverS3    = "s3"
	DriverMinio = "minio"
	DriverIPFS  = "ipfs"
	DriverVault = "vault"
)

// DefaultLocalBasePath is used when the local backend has no basePath setting.
const DefaultLocalBasePath = "uploads"

var factories = map[string]StoreFactory{
	DriverLocal: newLocalFromConfig,
	DriverS3:    newS3FromConfig,
	DriverMinio: newMinioFromConfig,
	DriverIPFS:  newIPFSFromConfig,
	DriverVault: newVaultFromConfig,
}

// FactoryFor returns the store constructor of a driver.
func FactoryFor(driver string) (StoreFactory, error) {
	f, ok := factories[driver]
	if !ok {
		return nil, fmt.Errorf("%w: unknown storage driver %q", interfaces.ErrInvalidArgument, driver)
	}
	return f, nil
}

// Drivers lists the bundled drivers, sorted.
func Drivers() []string {
	out := make([]string, 0, len(factories))
	for d := range factories {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// DriverOf returns the driver a config selects: the "driver" setting, else the
// backend key itself.
func DriverOf(cfg *interfaces.BackendConfig) string {
	return cfg.Setting(interfaces.SettingDriver, cfg.Key)
}

// newLocalFromConfig builds a local store.
// Settings: basePath (default "uploads").
func newLocalFromConfig(ctx context.Context, cfg *interfaces.BackendConfig, log *slog.Logger) (interfaces.ObjectStore, error) {
	return NewLocalStore(cfg.Setting(interfaces.SettingBasePath, DefaultLocalBasePath), log)
}

// newS3FromConfig builds an S3 store.
// Settings: bucket, region (required); endpoint, accessKey, secretKey, pathStyle, acl.
func newS3FromConfig(ctx context.Context, cfg *interfaces.BackendConfig, log *slog.Logger) (interfaces.ObjectStore, error) {
	if err := interfaces.RequireSettings(cfg.Key, cfg.Settings, interfaces.SettingBucket, interfaces.SettingRegion); err != nil {
		return nil, err
	}
	return NewS3Store(S3Options{
		Bucket:    cfg.Setting(interfaces.SettingBucket, ""),
		Region:    cfg.Setting(interfaces.SettingRegion, ""),
		Endpoint:  cfg.Setting(interfaces.SettingEndpoint, ""),
		AccessKey: cfg.Setting(interfaces.SettingAccessKey, ""),
		SecretKey: cfg.Setting(interfaces.SettingSecretKey, ""),
		PathStyle: cfg.SettingBool(interfaces.SettingPathStyle, false),
		ACL:       cfg.Setting(interfaces.SettingACL, ""),
	}, log)
}

// newMinioFromConfig builds a MinIO store.
// Settings: endpoint, accessKey, secretKey, bucket (required); region, useSSL,
// createBucket, publicRead.
func newMinioFromConfig(ctx context.Context, cfg *interfaces.BackendConfig, log *slog.Logger) (interfaces.ObjectStore, error) {
	err := interfaces.RequireSettings(cfg.Key, cfg.Settings,
		interfaces.SettingEndpoint, interfaces.SettingAccessKey, interfaces.SettingSecretKey, interfaces.SettingBucket)
	if err != nil {
		return nil, err
	}
	return NewMinioStore(ctx, MinioOptions{
		Endpoint:     cfg.Setting(interfaces.SettingEndpoint, ""),
		AccessKey:    cfg.Setting(interfaces.SettingAccessKey, ""),
		SecretKey:    cfg.Setting(interfaces.SettingSecretKey, ""),
		Bucket:       cfg.Setting(interfaces.SettingBucket, ""),
		Region:       cfg.Setting(interfaces.SettingRegion, ""),
		UseSSL:       cfg.SettingBool(interfaces.SettingUseSSL, false),
		CreateBucket: cfg.SettingBool(interfaces.SettingCreateBucket, false),
		PublicRead:   cfg.SettingBool(interfaces.SettingPublicRead, false),
	}, log)
}

// newIPFSFromConfig builds an IPFS MFS store.
// Settings: address (required); root (default "/objects"), timeout (default 30s).
func newIPFSFromConfig(ctx context.Context, cfg *interfaces.BackendConfig, log *slog.Logger) (interfaces.ObjectStore, error) {
	if err := interfaces.RequireSettings(cfg.Key, cfg.Settings, interfaces.SettingAddress); err != nil {
		return nil, err
	}
	timeout := 30 * time.Second
	if raw := cfg.Setting(interfaces.SettingTimeout, ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid timeout %q: %v", interfaces.ErrInvalidArgument, raw, err)
		}
		timeout = d
	}
	return NewIPFSStore(
		cfg.Setting(interfaces.SettingAddress, ""),
		cfg.Setting(interfaces.SettingRoot, "/objects"),
		timeout,
		log,
	), nil
}

// newVaultFromConfig builds a Vault KV v2 store.
// Settings: address, token (required); mount (default "secret"), root (default "objects").
func newVaultFromConfig(ctx context.Context, cfg *interfaces.BackendConfig, log *slog.Logger) (interfaces.ObjectStore, error) {
	if err := interfaces.RequireSettings(cfg.Key, cfg.Settings, interfaces.SettingAddress, interfaces.SettingToken); err != nil {
		return nil, err
	}
	return NewVaultStore(
		cfg.Setting(interfaces.SettingAddress, ""),
		cfg.Setting(interfaces.SettingToken, ""),
		cfg.Setting(interfaces.SettingMount, "secret"),
		cfg.Setting(interfaces.SettingRoot, "objects"),
		log,
	)
}
