// Package serviceresolver discovers peer nodes through DNS SRV records.
//
// A cluster publishes one SRV record per node under a shared service name:
//
//	_skrecovery-peer._tcp.cluster.example. SRV 0 0 7400 node-1.cluster.example.
//	_skrecovery-peer._tcp.cluster.example. SRV 0 0 7400 node-2.cluster.example.
//
// The first label of each target carries the party identifier. SRVAddressBook
// turns the answer into the identifier to host:port map expected by the peer
// transport, so nodes can be moved without reconfiguring the others.
package serviceresolver
