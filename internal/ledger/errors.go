package ledger

import "errors"

// Failure taxonomy. Every operation returns one of these sentinels (possibly
// wrapped); callers branch with errors.Is. The HTTP layer maps them to
// status codes: authorization failures → 403, invalid input → 400,
// not-found → 404, state conflicts → 409.
var (
	// ErrUnauthorized is returned when the caller lacks the role an
	// operation requires.
	ErrUnauthorized = errors.New("caller is not authorized")

	// Invalid-input family.
	ErrInvalidPatientID  = errors.New("patient id must be a positive integer")
	ErrInvalidHash       = errors.New("data hash must be a non-zero digest")
	ErrInvalidRecordType = errors.New("record type must not be empty")
	ErrInvalidIdentity   = errors.New("identity must not be empty")
	ErrInvalidAction     = errors.New("action must not be empty")

	// Not-found family.
	ErrRecordNotFound = errors.New("record not found")
	ErrLogNotFound    = errors.New("audit entry not found")

	// State-conflict family.
	ErrAlreadyAuthorized = errors.New("provider is already authorized")
	ErrNotAuthorized     = errors.New("provider is not authorized")
	ErrCannotRevokeOwner = errors.New("owner authorization cannot be revoked")
	ErrInactiveRecord    = errors.New("record has been superseded")

	// Lifecycle errors for ledger bootstrap.
	ErrNotInitialized     = errors.New("ledger has no owner")
	ErrAlreadyInitialized = errors.New("ledger owner is already set")
)
