package recovery

import (
	"fmt"

	"github.com/dots-platform/skrecovery-app/cryptoutils"
	"github.com/dots-platform/skrecovery-app/interfaces"
)

// EnrollmentRecord is what one server stores for one user: its share of
// every secret chunk and of the password, plus the public salt and salted
// hash used by the client to verify a recovery.
type EnrollmentRecord struct {
	UserID        string              `json:"user_id"`
	SecretShares  []cryptoutils.Share `json:"sk_shares"`
	PasswordShare cryptoutils.Share   `json:"pwd_share"`
	Salt          []byte              `json:"salt"`
	SaltedHash    []byte              `json:"sk_hash"`
}

// ID returns the identifier every share in the record carries.
func (r *EnrollmentRecord) ID() int {
	return int(r.PasswordShare.ID)
}

// Validate checks the record is well formed and addressed to party self.
func (r *EnrollmentRecord) Validate(self int) error {
	if r.UserID == "" {
		return fmt.Errorf("%w: empty user id", interfaces.ErrInvalidParameters)
	}
	if len(r.SecretShares) == 0 {
		return fmt.Errorf("%w: no secret shares", interfaces.ErrInvalidShare)
	}
	if r.ID() != self {
		return fmt.Errorf("%w: record for party %d delivered to %d", interfaces.ErrInvalidShare, r.ID(), self)
	}
	for i, s := range r.SecretShares {
		if int(s.ID) != self {
			return fmt.Errorf("%w: chunk %d has identifier %d", interfaces.ErrInvalidShare, i, s.ID)
		}
	}
	if len(r.Salt) == 0 || len(r.SaltedHash) == 0 {
		return fmt.Errorf("%w: missing salt or hash", interfaces.ErrInvalidParameters)
	}
	return nil
}

// RecoverRequest carries one share of the password guess. MinEpoch is the
// highest epoch the client has seen for the user; a server whose chains are
// behind it catches up before drawing.
type RecoverRequest struct {
	UserID     string            `json:"user_id"`
	GuessShare cryptoutils.Share `json:"guess_share"`
	MinEpoch   uint64            `json:"min_epoch,omitempty"`
}

// RecoverResponse is one server's masked output for a recovery attempt.
type RecoverResponse struct {
	ID           uint8               `json:"id"`
	Epoch        uint64              `json:"epoch"`
	Roots        map[string]string   `json:"roots"`
	MaskedShares []cryptoutils.Share `json:"masked_shares"`
	Salt         []byte              `json:"salt"`
	SaltedHash   []byte              `json:"sk_hash"`
}

// Outcome is the result of a recovery attempt. A wrong guess is a normal
// outcome with Verified false, not an error.
type Outcome struct {
	Verified bool
	Secret   string
	Epoch    uint64
}

// Rejected reports whether the guess was wrong.
func (o *Outcome) Rejected() bool {
	return !o.Verified
}
