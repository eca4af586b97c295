package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrBlobNotFound is returned when no blob is stored under a key.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// ErrInvalidKey is returned for blob keys that are empty or escape their namespace.
	ErrInvalidKey = errors.New("invalid blob key")
)

// BlobStore stores opaque byte blobs under string keys.
type BlobStore interface {
	// Put stores data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the blob stored under key or ErrBlobNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
}

// StorageBackend is a BlobStore with operational metadata.
type StorageBackend interface {
	BlobStore

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// StorageBackendLocation is a backend URI such as file:///var/lib/skr or
// s3://bucket/prefix?region=eu-west-1.
type StorageBackendLocation string

// Scheme returns the lowercased URI scheme.
func (loc StorageBackendLocation) Scheme() string {
	u, err := url.Parse(string(loc))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// ValidateBlobKey rejects keys that are empty or contain path traversal.
func ValidateBlobKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// NamespacedStore prefixes every key with a fixed namespace.
type NamespacedStore struct {
	Store     BlobStore
	Namespace string
}

func (s NamespacedStore) Put(ctx context.Context, key string, data []byte) error {
	return s.Store.Put(ctx, s.Namespace+"/"+key, data)
}

func (s NamespacedStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.Store.Get(ctx, s.Namespace+"/"+key)
}
