// Package interfaces defines the core interfaces and types for the object storage
// service, separating the contracts from their implementations.
//
// # Storage Interfaces
//
// ObjectStore: the narrow contract a physical store (local disk, S3, MinIO, IPFS,
// Vault) implements: put, get, remove and stat bytes under a key.
//
// StorageBackend: the full capability set (upload, download, delete, batch delete,
// URLs, checksum, thumbnails, multipart sessions) every registered backend exposes
// to callers. It is implemented once, on top of an ObjectStore, by the storage package.
//
// URLSigner, Thumbnailer: optional capabilities an ObjectStore may add.
//
// # Configuration
//
// BackendConfig: persisted per-backend settings. ConfigStore persists them,
// ConfigProvider serves them from cache.
//
// # Errors
//
// All packages return the sentinel errors declared in errors.go, wrapped with
// context; callers match them with errors.Is.
package interfaces
