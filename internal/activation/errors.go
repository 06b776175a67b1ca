package activation

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a request missing a user or module identifier.
	ErrValidation = errors.New("activation: validation failed")
	// ErrProfileNotFound marks a request for a user without a profile.
	ErrProfileNotFound = errors.New("activation: profile not found")
	// ErrInsufficientTokens marks an activation the user's balance cannot cover.
	ErrInsufficientTokens = errors.New("activation: insufficient tokens")
	// ErrNotActivated marks an access-token request for a module the user has not activated.
	ErrNotActivated = errors.New("activation: module not activated")
	// ErrPersistence marks a store failure.
	ErrPersistence = errors.New("activation: persistence failed")

	errMissingStore  = errors.New("store is required")
	errMissingIssuer = errors.New("token issuer is required")
)

// ServiceError carries a stable "<operation>.<reason>" code and an error kind.
type ServiceError struct {
	code string
	kind error
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Is(target error) bool {
	return e.kind != nil && target == e.kind
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "activation.service.new"
	opActivate   = "activation.activate"
	opCheck      = "activation.check"
	opIssue      = "activation.issue_token"
)

func newServiceError(operation, reason string, kind, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), kind: kind, err: cause}
}
