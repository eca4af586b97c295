// Package interfaces defines the shared types, sentinel errors and narrow
// interfaces that connect the skrecovery components.
//
// # Protocol configuration
//
// Config carries N, T and the derived NumA. It is built once per deployment
// by NewConfig and passed explicitly to every component.
//
// # Operations
//
// Operation is the closed set of node functions (seed_prgs,
// upload_sk_and_pwd, skrecovery, keygen, signing). Wire names are decoded
// once with ParseOperation at the transport boundary.
//
// # Storage
//
// BlobStore stores opaque bytes under string keys. StorageBackend adds the
// metadata used by the multi-backend and the URI factory in package storage.
//
// # Transport
//
// NodeInvoker and NodeBlobs describe how a client reaches node i. The HTTP
// implementation lives in api/nodehandler.
//
// # Errors
//
// The sentinel errors in errors.go form the protocol error taxonomy. Callers
// test them with errors.Is. A rejected password guess is not an error; see
// recovery.Outcome.
package interfaces
