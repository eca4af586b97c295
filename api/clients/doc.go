// Package clients provides the client-side view of a whole cluster.
//
// ClusterClient fans every call out to all nodes concurrently over HTTP and
// exposes secret recovery, threshold signing and per-node blob transfer.
package clients
