package profiles

import (
	"context"
	"errors"

	"github.com/iahome/backend/internal/accounts"
)

// GrantOutcome reports whether EnsureWelcomeGrant issued a new grant and the
// grant that is now in effect.
type GrantOutcome struct {
	Created bool
	Grant   accounts.TokenGrant
}

// EnsureWelcomeGrant issues the one-time welcome grant unless the user already
// holds one. Concurrent calls for the same user produce a single grant because
// the insert is conditional on the unique user_id index.
func (s *Service) EnsureWelcomeGrant(ctx context.Context, userID string) (GrantOutcome, error) {
	grant, err := s.store.ActiveGrant(ctx, userID)
	if err == nil {
		return GrantOutcome{Created: false, Grant: grant}, nil
	}
	if !errors.Is(err, accounts.ErrNotFound) {
		return GrantOutcome{}, newServiceError(opWelcomeGrant, "lookup_failed", ErrLookup, err)
	}

	created, err := s.insertWelcomeGrant(ctx, userID)
	if err != nil {
		return GrantOutcome{}, err
	}
	grant, err = s.reloadGrant(ctx, userID)
	if err != nil {
		return GrantOutcome{}, err
	}
	return GrantOutcome{Created: created, Grant: grant}, nil
}

// reloadGrant reads the active grant after a conditional insert. A miss means
// the user_id slot is held by a deactivated grant.
func (s *Service) reloadGrant(ctx context.Context, userID string) (accounts.TokenGrant, error) {
	grant, err := s.store.ActiveGrant(ctx, userID)
	if errors.Is(err, accounts.ErrNotFound) {
		return accounts.TokenGrant{}, newServiceError(opWelcomeGrant, "grant_inactive", ErrGrantInactive, err)
	}
	if err != nil {
		return accounts.TokenGrant{}, newServiceError(opWelcomeGrant, "reload_failed", ErrLookup, err)
	}
	return grant, nil
}

func (s *Service) insertWelcomeGrant(ctx context.Context, userID string) (bool, error) {
	grant := accounts.TokenGrant{
		UserID:       userID,
		Tokens:       s.welcomeTokens,
		PackageName:  s.welcomePackage,
		PurchaseDate: s.clock().UTC(),
		IsActive:     true,
	}
	created, err := s.store.InsertGrantIfAbsent(ctx, &grant)
	if err != nil {
		return false, newServiceError(opWelcomeGrant, "insert_failed", ErrPersistence, err)
	}
	return created, nil
}
