package domain

import "fmt"

// TransportError wraps network-level failures. It is fatal to the
// current check but never corrupts state committed by earlier phases.
type TransportError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: request timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type AuthErrorKind string

const (
	MalformedToken AuthErrorKind = "malformed_token"
	WrongAlgorithm AuthErrorKind = "wrong_algorithm"
	TokenExpired   AuthErrorKind = "token_expired"
	LoginFailed    AuthErrorKind = "login_failed"
	ResetFailed    AuthErrorKind = "reset_failed"
)

// AuthError reports token or credential failures.
type AuthError struct {
	Kind   AuthErrorKind
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: %s: %s", e.Kind, e.Detail)
}

type DataErrorKind string

const (
	EmptyResponse      DataErrorKind = "empty_response"
	NoOrders           DataErrorKind = "no_orders"
	InsufficientOrders DataErrorKind = "insufficient_orders"
	MissingIdentifier  DataErrorKind = "missing_identifier"
	MissingField       DataErrorKind = "missing_field"
	MalformedBody      DataErrorKind = "malformed_body"
)

// DataError reports an empty, missing or malformed response body.
type DataError struct {
	Kind   DataErrorKind
	Detail string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data: %s: %s", e.Kind, e.Detail)
}

// AssertionFailure is the primary test-failure signal: an observed
// value did not match the expected contract.
type AssertionFailure struct {
	Check    string
	Expected string
	Actual   string
}

func (e *AssertionFailure) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Check, e.Expected, e.Actual)
}

type ViolationKind string

const (
	DuplicateOrder  ViolationKind = "duplicate_order"
	RolesReassigned ViolationKind = "roles_reassigned"
	StateRegression ViolationKind = "state_regression"
)

// InvariantViolation means the role-partition or state-machine
// contract was broken. It indicates a bug, not a failing service.
type InvariantViolation struct {
	Kind   ViolationKind
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated: %s: %s", e.Kind, e.Detail)
}

// PrerequisiteMissing marks a phase that could not run because an
// earlier phase failed to produce an artifact it needs.
type PrerequisiteMissing struct {
	Phase    string
	Artifact string
}

func (e *PrerequisiteMissing) Error() string {
	return fmt.Sprintf("phase %s: missing prerequisite artifact %q", e.Phase, e.Artifact)
}
