package interfaces

import "errors"

var (
	// ErrInsufficientShares is returned when fewer than threshold+1 shares
	// are supplied to a combine operation.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrDuplicateIdentifier is returned when two shares carry the same
	// evaluation point.
	ErrDuplicateIdentifier = errors.New("duplicate share identifier")

	// ErrInvalidShare is returned for shares with identifier 0 or a value
	// outside the scalar field.
	ErrInvalidShare = errors.New("invalid share")

	// ErrInvalidParameters is returned when (n, t) or other protocol
	// parameters are out of range.
	ErrInvalidParameters = errors.New("invalid protocol parameters")

	// ErrDegeneratePolynomial is returned when the sampled sharing polynomial
	// cannot be used. It only happens with a broken randomness source.
	ErrDegeneratePolynomial = errors.New("degenerate sharing polynomial")

	// ErrMissingCorrelatedRandomness is returned when a server lacks the seed
	// for an A-set it belongs to, or when members of an A-set hold different
	// seeds or chains that cannot be realigned. The seed phase must be re-run.
	ErrMissingCorrelatedRandomness = errors.New("missing correlated randomness")

	// ErrFraming is returned for oversized or malformed wire messages.
	ErrFraming = errors.New("framing error")

	// ErrSessionAborted is returned when a multi-party session fails
	// mid-protocol. Partial state is discarded.
	ErrSessionAborted = errors.New("session aborted")

	// ErrUnknownUser is returned when no enrollment record exists for a user.
	ErrUnknownUser = errors.New("unknown user")

	// ErrInvalidTransition is returned when a recovery session is driven out
	// of order.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrInconsistentReplicas is returned when nodes hold different copies of
	// a blob that was uploaded to all of them.
	ErrInconsistentReplicas = errors.New("inconsistent replicas")

	// ErrUnknownOperation is returned for function names outside the closed
	// operation set.
	ErrUnknownOperation = errors.New("unknown operation")
)
