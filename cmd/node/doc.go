// Package main (cmd/node) runs one node of the cluster.
//
// A node serves the exec and blob API over HTTP, accepts peer connections for
// multi-party rounds on a separate TCP listener and persists its state to one
// or more storage backends.
//
// Example, node 2 of a 5-node cluster with threshold 2:
//
//	skrecovery-node --parties 5 --threshold 2 --rank 2 \
//	    --listen-addr 0.0.0.0:8080 --peer-listen-addr 0.0.0.0:7400 \
//	    --peers 1=10.0.0.1:7400 --peers 2=10.0.0.2:7400 --peers 3=10.0.0.3:7400 \
//	    --peers 4=10.0.0.4:7400 --peers 5=10.0.0.5:7400 \
//	    --storage file:///var/lib/skrecovery \
//	    --storage 's3://skr-backups/node-2?region=eu-west-1'
//
// With --peers-srv the peer addresses come from SRV records instead:
//
//	skrecovery-node ... --peers-srv _skrecovery-peer._tcp.cluster.example
package main
