// Package interfaces defines the core interfaces and types for the object storage service.
//
// Components depend on these interfaces rather than on concrete implementations:
//
//	func NewService(
//	    registry *storage.Registry,
//	    configs interfaces.ConfigProvider,
//	    log *slog.Logger,
//	) *Service {
//	    // ...
//	}
//
// # Object Keys
//
// Objects are addressed by a backend key ("local", "s3", "minio", "ipfs", "vault")
// and a backend-relative object key built by the storage package:
//
//	[prefix/]{classification}/{yyyy}/{mm}/{dd}/{unique}.{ext}
//
// Content records outside this service keep both values as an opaque reference.
//
// # Error Types
//
//   - ErrNotFound: object, session or config absent
//   - ErrInvalidSession: unknown, expired or terminal multipart session
//   - ErrSessionBusy: multipart session in the middle of a commit, retryable
//   - ErrNoStrategyAvailable: no backend registered under the requested, active or default key
//   - ErrConfigurationIncomplete: required backend settings missing
//   - ErrUnsupportedOperation: optional capability not implemented by the backend
//   - ErrInvalidArgument, ErrFileTooLarge, ErrBackendUnavailable
package interfaces
