// Package node executes client invocations on one server of the cluster.
//
// Each application gets its own namespace in the node's blob store holding
// correlated-randomness seeds, chain positions and enrollment records.
// Client blobs such as key shares live under the client's namespace.
// Operations that run between servers (seeding, keygen, signing) obtain a
// per-session mesh from a transport.Dialer.
package node
