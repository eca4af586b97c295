package interfaces

import (
	"fmt"
	"math/big"
)

// MaxParties bounds N so every identifier fits in a share's id byte.
const MaxParties = 255

// MaxASets bounds C(N, T), the number of A-sets in a deployment. Every
// recovery draws from each of a server's A-sets and the seed phase enumerates
// all of them.
const MaxASets = 1 << 12

// Config holds the deployment-wide protocol parameters. It is built once with
// NewConfig and passed to every component explicitly.
type Config struct {
	// N is the number of servers.
	N int
	// T is the corruption threshold. T+1 shares reconstruct a secret.
	T int
	// NumA is the number of A-sets each server belongs to, C(N-1, N-T-1).
	NumA int
}

// NewConfig validates (n, t) and derives NumA.
//
// The masked recovery output lies on a degree-2T polynomial, so n must be at
// least 2t+1.
func NewConfig(n, t int) (Config, error) {
	if n < 2 || n > MaxParties {
		return Config{}, fmt.Errorf("%w: n=%d must be in [2, %d]", ErrInvalidParameters, n, MaxParties)
	}
	if t < 1 || 2*t+1 > n {
		return Config{}, fmt.Errorf("%w: t=%d requires 1 <= t and 2t+1 <= n=%d", ErrInvalidParameters, t, n)
	}

	if total := new(big.Int).Binomial(int64(n), int64(t)); total.Cmp(big.NewInt(MaxASets)) > 0 {
		return Config{}, fmt.Errorf("%w: n=%d t=%d yields %s A-sets, limit is %d", ErrInvalidParameters, n, t, total, MaxASets)
	}

	numA := new(big.Int).Binomial(int64(n-1), int64(n-t-1))
	return Config{N: n, T: t, NumA: int(numA.Int64())}, nil
}

// ASetSize is the size of every A-set, N-T.
func (c Config) ASetSize() int {
	return c.N - c.T
}

// RecoveryThreshold is the effective threshold used to combine masked
// shares. They are products of two degree-T sharings.
func (c Config) RecoveryThreshold() int {
	return 2 * c.T
}

// Parties returns the party identifiers 1..N.
func (c Config) Parties() []int {
	ids := make([]int, c.N)
	for i := range ids {
		ids[i] = i + 1
	}
	return ids
}

// ValidParty reports whether id is one of 1..N.
func (c Config) ValidParty(id int) bool {
	return id >= 1 && id <= c.N
}
