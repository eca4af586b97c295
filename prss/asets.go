package prss

import (
	"strconv"
	"strings"

	"github.com/dots-platform/skrecovery-app/cryptoutils"
	"github.com/dots-platform/skrecovery-app/interfaces"
)

// ASet is one (N-T)-subset of the parties. Every member holds the same seed.
type ASet struct {
	// Index is the position of the set in the lexicographic enumeration of
	// all A-sets. It doubles as the round index during seeding.
	Index int
	// Members are the party identifiers in ascending order.
	Members []int
}

// Leader is the member that generates and distributes the seed.
func (a ASet) Leader() int {
	return a.Members[0]
}

// Contains reports whether id is a member.
func (a ASet) Contains(id int) bool {
	for _, m := range a.Members {
		if m == id {
			return true
		}
	}
	return false
}

// Complement returns the parties of 1..n outside the set.
func (a ASet) Complement(n int) []int {
	out := make([]int, 0, n-len(a.Members))
	for id := 1; id <= n; id++ {
		if !a.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// Label is a stable name such as "1-2-4", used in storage keys.
func (a ASet) Label() string {
	parts := make([]string, len(a.Members))
	for i, m := range a.Members {
		parts[i] = strconv.Itoa(m)
	}
	return strings.Join(parts, "-")
}

// ASets enumerates every A-set for cfg in lexicographic order.
func ASets(cfg interfaces.Config) []ASet {
	k := cfg.ASetSize()
	var sets []ASet
	current := make([]int, 0, k)

	var walk func(next int)
	walk = func(next int) {
		if len(current) == k {
			members := append([]int(nil), current...)
			sets = append(sets, ASet{Index: len(sets), Members: members})
			return
		}
		for id := next; id <= cfg.N-(k-len(current))+1; id++ {
			current = append(current, id)
			walk(id + 1)
			current = current[:len(current)-1]
		}
	}
	walk(1)
	return sets
}

// ASetsFor returns the A-sets containing id. There are cfg.NumA of them.
func ASetsFor(cfg interfaces.Config, id int) []ASet {
	var out []ASet
	for _, a := range ASets(cfg) {
		if a.Contains(id) {
			out = append(out, a)
		}
	}
	return out
}

// Weight evaluates f_A(x) = prod_{j not in A} (j - x) / j at x = id.
//
// f_A is the degree-T polynomial with f_A(0) = 1 and f_A(j) = 0 for every j
// outside A, so sum_A r_A * f_A(x) is a degree-T sharing of sum_A r_A that
// only the members of each A can evaluate.
func Weight(cfg interfaces.Config, a ASet, id int) *cryptoutils.Scalar {
	x := cryptoutils.ScalarFromInt(id)
	num := cryptoutils.ScalarFromInt(1)
	den := cryptoutils.ScalarFromInt(1)
	for _, j := range a.Complement(cfg.N) {
		xj := cryptoutils.ScalarFromInt(j)
		num.Mul(cryptoutils.Sub(xj, x))
		den.Mul(xj)
	}
	return num.Mul(den.InverseNonConst())
}
