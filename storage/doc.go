// Package storage provides object storage with pluggable backends.
//
// Every backend is a Strategy wrapping a physical ObjectStore:
//
//   - LocalStore for the local file system (the default "local" backend)
//   - S3Store for Amazon S3 and compatible services (aws-sdk-go)
//   - MinioStore for MinIO and other S3-compatible services (minio-go)
//   - IPFSStore for the mutable file system of an IPFS node
//   - VaultStore for small sensitive files in a Vault KV v2 mount
//
// # Strategies
//
// A Strategy builds its store lazily from the backend config served by a
// ConfigProvider and caches it until Reset. It owns the behaviour shared by all
// backends: object key construction, maxFileSize enforcement, URL derivation,
// MD5 checksums, batch deletes and multipart upload sessions. Stores that
// implement interfaces.URLSigner return presigned URLs; the others fall back to
// public URLs.
//
// # Object keys
//
// Uploads never choose their own key. PathBuilder shards objects by
// classification and date:
//
//	[prefix/]{class}/{yyyy}/{mm}/{dd}/{ulid}.{ext}
//
// # Drivers
//
// Backend configs select a driver through the "driver" setting, defaulting to
// the backend key, so several backends may share one driver:
//
//	local   basePath
//	s3      bucket, region, endpoint, accessKey, secretKey, pathStyle, acl
//	minio   endpoint, accessKey, secretKey, bucket, region, useSSL, createBucket, publicRead
//	ipfs    address, root, timeout
//	vault   address, token, mount, root
//
// Missing required settings fail with a ConfigurationIncompleteError.
//
// # Multipart uploads
//
// SessionManager keeps upload sessions in memory, shared by all backends. Parts
// are tagged with their MD5 and assembled in part number order on completion.
// Idle sessions are reaped after the session TTL.
//
// # Resolution
//
// Registry resolves a backend key with fallback: the requested key, then the
// active key, then "local". It also resets cached stores when the backend
// configuration changes.
package storage
