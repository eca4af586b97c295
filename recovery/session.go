package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/dots-platform/skrecovery-app/interfaces"
)

// SessionState is the client-side state of a recovery session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateEnrolled
	StateGuessSubmitted
	StateServerResponsesPending
	StateVerified
	StateRejected
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnrolled:
		return "enrolled"
	case StateGuessSubmitted:
		return "guess_submitted"
	case StateServerResponsesPending:
		return "server_responses_pending"
	case StateVerified:
		return "verified"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session tracks one user's enrollment and recovery attempts.
type Session struct {
	client *Client
	user   string

	mu    sync.Mutex
	state SessionState
}

// NewSession starts an idle session for user.
func (c *Client) NewSession(user string) *Session {
	return &Session{client: c, user: user, state: StateIdle}
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) expect(want SessionState) error {
	if s.state != want {
		return fmt.Errorf("%w: in state %s, need %s", interfaces.ErrInvalidTransition, s.state, want)
	}
	return nil
}

// Enroll uploads the secret. Idle -> Enrolled.
func (s *Session) Enroll(ctx context.Context, secret, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(StateIdle); err != nil {
		return err
	}
	if err := s.client.Enroll(ctx, s.user, secret, password); err != nil {
		return err
	}
	s.state = StateEnrolled
	return nil
}

// Resume marks a session whose user enrolled earlier. Idle -> Enrolled.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(StateIdle); err != nil {
		return err
	}
	s.state = StateEnrolled
	return nil
}

// Recover runs one attempt: Enrolled -> GuessSubmitted ->
// ServerResponsesPending -> Verified or Rejected. On error the session
// returns to Enrolled and the attempt is discarded.
func (s *Session) Recover(ctx context.Context, guess string) (*Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(StateEnrolled); err != nil {
		return nil, err
	}

	out, err := s.client.recover(ctx, s.user, guess, func(next SessionState) { s.state = next })
	if err != nil {
		s.state = StateEnrolled
		return nil, err
	}
	if out.Verified {
		s.state = StateVerified
	} else {
		s.state = StateRejected
	}
	return out, nil
}

// Retry starts a new attempt after a rejection. Rejected -> Enrolled. The
// next attempt draws fresh randomness on every server.
func (s *Session) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(StateRejected); err != nil {
		return err
	}
	s.state = StateEnrolled
	return nil
}
