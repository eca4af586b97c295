/*
Package signing runs round-based threshold protocols between nodes.

A Driver moves a Protocol through its schedule over a transport.Mesh. Each
round is either a broadcast or a point-to-point round, and no party advances
before it holds one message from every peer.

Two protocols are provided. Keygen is a Pedersen distributed key generation
that leaves each party with a KeyShare. Signer produces BIP-340 Schnorr
signatures from any threshold+1 of those shares.
*/
package signing
