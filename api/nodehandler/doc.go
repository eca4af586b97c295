// Package nodehandler exposes a node over HTTP and provides the matching
// client.
//
// Routes:
//   - POST /api/v1/exec/{app}/{func} runs an operation; the body is a JSON
//     ExecRequest and the response is the raw result.
//   - PUT /api/v1/blob/{client}/{key} stores a client blob.
//   - GET /api/v1/blob/{client}/{key} reads it back.
//
// Errors map to status codes: 400 for unknown functions and bad input, 404
// for unknown users and missing blobs, 409 when correlated randomness has not
// been seeded, 500 otherwise. The client turns those codes back into the
// interfaces sentinels.
package nodehandler
