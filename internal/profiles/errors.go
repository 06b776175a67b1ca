package profiles

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks caller input that cannot be reconciled.
	ErrValidation = errors.New("profiles: validation failed")
	// ErrLookup marks a read that failed for a reason other than "no matching row".
	ErrLookup = errors.New("profiles: lookup failed")
	// ErrPersistence marks a write that failed for a reason other than "row already exists".
	ErrPersistence = errors.New("profiles: persistence failed")
	// ErrGrantInactive marks a user whose only token grant has been deactivated.
	ErrGrantInactive = errors.New("profiles: token grant inactive")

	errMissingStore = errors.New("store is required")
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

// Is reports whether target is the kind of this error.
func (e *ServiceError) Is(target error) bool {
	return e.kind != nil && target == e.kind
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "profiles.service.new"
	opReconcile     = "profiles.reconcile"
	opMerge         = "profiles.merge"
	opCreate        = "profiles.create"
	opWelcomeGrant  = "profiles.welcome_grant"
	opMigrateGrant  = "profiles.migrate_grant"
	opMigrateAccess = "profiles.migrate_module_access"
)

func newServiceError(operation, reason string, kind, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, kind: kind, err: cause}
}
