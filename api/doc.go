/*
Package api groups the HTTP surface of a node and its clients.

  - nodehandler - exec and blob routes served by every node, and the
    matching per-node HTTP client
  - clients - ClusterClient, which fans calls out to all N nodes and wraps
    the recovery client and signing coordinator

The routes are hosted by the httpserver package.

# Endpoints

  - POST /api/v1/exec/{app}/{func} - Run an operation on the node
  - PUT /api/v1/blob/{client}/{key...} - Store a client blob
  - GET /api/v1/blob/{client}/{key...} - Read a client blob

Errors map onto status codes: 400 for malformed requests, 404 for unknown
users and missing blobs, 409 when the node has no correlated randomness for
the app yet, 500 otherwise.
*/
package api
