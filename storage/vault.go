package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/object-storage-backend/interfaces"
)

// MaxVaultObjectSize bounds objects kept in Vault. KV secrets are meant for
// small sensitive files, not bulk data.
const MaxVaultObjectSize = 512 << 10

// VaultStore implements an object store on a HashiCorp Vault KV v2 mount.
// Each object is one secret holding the base64 content and its metadata.
type VaultStore struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultStore creates a Vault KV v2 store authenticated with token.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - token: Vault token with read/write access to the mount
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path within the mount objects are kept under (e.g. "objects")
func NewVaultStore(address, token, mountPath, dataPath string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = NormalizeKey(mountPath)
	dataPath = NormalizeKey(dataPath)

	return &VaultStore{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Put buffers the object and writes it as a single secret version.
func (b *VaultStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if size > MaxVaultObjectSize {
		return fmt.Errorf("%w: vault objects are limited to %d bytes", interfaces.ErrFileTooLarge, MaxVaultObjectSize)
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxVaultObjectSize+1))
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	if len(data) > MaxVaultObjectSize {
		return fmt.Errorf("%w: vault objects are limited to %d bytes", interfaces.ErrFileTooLarge, MaxVaultObjectSize)
	}

	secretPath := b.secretPath(key)
	_, err = b.client.KVv2(b.mountPath).Put(ctx, secretPath, map[string]interface{}{
		"content":      base64.StdEncoding.EncodeToString(data),
		"content_type": contentType,
		"size":         strconv.Itoa(len(data)),
	})
	if err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", secretPath),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored object in Vault",
		slog.String("path", secretPath),
		slog.Int("size", len(data)))
	return nil
}

func (b *VaultStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	secret, err := b.read(ctx, key)
	if err != nil {
		return nil, err
	}
	encoded, _ := secret.Data["content"].(string)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid content format in Vault data: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Remove deletes every version and the metadata of the secret.
func (b *VaultStore) Remove(ctx context.Context, key string) (bool, error) {
	if _, err := b.read(ctx, key); err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := b.client.KVv2(b.mountPath).DeleteMetadata(ctx, b.secretPath(key)); err != nil {
		return false, fmt.Errorf("failed to delete from Vault: %w", err)
	}
	return true, nil
}

func (b *VaultStore) Stat(ctx context.Context, key string) (*interfaces.ObjectMetadata, error) {
	secret, err := b.read(ctx, key)
	if err != nil {
		return nil, err
	}

	meta := &interfaces.ObjectMetadata{Key: key}
	meta.ContentType, _ = secret.Data["content_type"].(string)
	if meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}
	if s, ok := secret.Data["size"].(string); ok {
		meta.Size, _ = strconv.ParseInt(s, 10, 64)
	}
	if secret.VersionMetadata != nil {
		meta.LastModified = secret.VersionMetadata.CreatedTime
		meta.ETag = strconv.Itoa(secret.VersionMetadata.Version)
	}
	return meta, nil
}

// Available checks that Vault is initialized and unsealed.
func (b *VaultStore) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}
	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}
	return true
}

func (b *VaultStore) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

func (b *VaultStore) LocationURI() string {
	return b.locationURI
}

func (b *VaultStore) secretPath(key string) string {
	return path.Join(b.dataPath, NormalizeKey(key))
}

func (b *VaultStore) read(ctx context.Context, key string) (*api.KVSecret, error) {
	secret, err := b.client.KVv2(b.mountPath).Get(ctx, b.secretPath(key))
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
	}
	return secret, nil
}
