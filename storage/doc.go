// Package storage provides key/value blob storage with pluggable backends.
//
// Nodes keep enrollment records, correlated-randomness seeds and chain
// states, key shares and client blobs behind interfaces.StorageBackend:
//
//   - Memory storage for tests and throwaway nodes
//   - File system storage for single-host deployments
//   - S3-compatible storage for cloud deployments
//   - Vault KV v2 storage with token or TLS client certificate authentication
//
// # Storage URI Format
//
// Storage backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - mem://
//   - file:///var/lib/skrecovery/node-1
//   - s3://bucket-name/prefix/?region=us-west-2
//   - vault://vault.example.com:8200/secret/skrecovery?token_env=VAULT_TOKEN
//
// # Keys
//
// Blob keys are slash-separated relative paths such as
// "users/alice/enrollment". Empty segments, "." and ".." are rejected by
// interfaces.ValidateBlobKey before any backend sees them. A missing key is
// reported as interfaces.ErrBlobNotFound by every backend.
//
// # Multi-Backend
//
// Several URIs combine into a MultiStorageBackend. Writes go to every
// available backend and fail if any of them fails, so no backend serves a
// stale version. Reads return the first copy found.
//
//	factory := storage.NewStorageBackendFactory(logger)
//	backend, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
//		"file:///var/lib/skrecovery",
//		"s3://skrecovery-backup/node-1?region=eu-west-1",
//	})
package storage
