// Package cryptoutils implements the field arithmetic and secret sharing
// used by recovery and signing.
//
// Scalars live in the secp256k1 group order field (btcec ModNScalar). Split
// and Combine implement Shamir sharing with public identifiers 1..N. Secrets
// are carried as 32-byte blocks: 31 data bytes padded PKCS#7 style, so every
// block is a canonical scalar. Passwords are hashed to scalars with BLAKE2s
// and a recovered candidate is checked against a salted BLAKE2b-512 digest.
package cryptoutils
