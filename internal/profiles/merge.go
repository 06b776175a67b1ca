package profiles

import (
	"context"
	"errors"
	"time"

	"github.com/iahome/backend/internal/accounts"
	"go.uber.org/zap"
)

// merge moves a legacy profile's grant and module access onto the auth id and
// replaces the legacy profile row with a canonical one.
func (s *Service) merge(ctx context.Context, id identity, legacy accounts.Profile) (Result, error) {
	canonicalID := id.userID.String()

	err := s.store.Transaction(ctx, func(tx accounts.Store) error {
		if err := s.migrateGrant(ctx, tx, legacy.ID, canonicalID); err != nil {
			return err
		}
		return s.migrateModuleAccess(ctx, tx, legacy.ID, canonicalID)
	})
	if err != nil {
		s.logError(opMerge, "data_migration_failed", err,
			zap.String("legacy_id", legacy.ID),
			zap.String("user_id", canonicalID))
		var serviceErr *ServiceError
		if errors.As(err, &serviceErr) {
			return Result{}, err
		}
		return Result{}, newServiceError(opMerge, "data_migration_failed", ErrPersistence, err)
	}

	canonical := accounts.Profile{
		ID:            canonicalID,
		Email:         id.email.String(),
		FullName:      firstNonEmpty(id.name, legacy.FullName, id.email.String()),
		AvatarURL:     firstNonEmpty(id.avatarURL, legacy.AvatarURL),
		Role:          firstNonEmpty(legacy.Role, accounts.DefaultRole),
		IsActive:      legacy.IsActive,
		EmailVerified: true,
	}
	if !legacy.CreatedAt.IsZero() {
		canonical.CreatedAt = legacy.CreatedAt
	}

	replaceErr := s.store.ReplaceProfile(ctx, legacy.ID, &canonical)
	if replaceErr == nil {
		return s.settle(ctx, canonical, true, NeedsMerge), nil
	}
	if !errors.Is(replaceErr, accounts.ErrDuplicate) {
		s.logError(opMerge, "replace_failed", replaceErr, zap.String("user_id", canonicalID))
		return Result{}, newServiceError(opMerge, "replace_failed", ErrPersistence, replaceErr)
	}

	existing, err := s.lookupProfile(ctx, "merge_requery_failed", func(ctx context.Context) (accounts.Profile, error) {
		return s.store.ProfileByID(ctx, canonicalID)
	})
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		s.logger.Info("canonical profile created concurrently during merge",
			zap.String("user_id", canonicalID),
			zap.String("legacy_id", legacy.ID))
		if err := s.store.DeleteProfile(ctx, legacy.ID); err != nil {
			s.logger.Warn("legacy profile not removed",
				zap.String("legacy_id", legacy.ID),
				zap.Error(err))
		}
		return s.settle(ctx, *existing, true, RaceDetected), nil
	}

	if err := s.store.RenameProfile(ctx, legacy.ID, canonicalID); err != nil {
		s.logError(opMerge, "rename_failed", err,
			zap.String("legacy_id", legacy.ID),
			zap.String("user_id", canonicalID))
		return Result{}, newServiceError(opMerge, "rename_failed", ErrPersistence, err)
	}
	renamed, err := s.lookupProfile(ctx, "rename_reload_failed", func(ctx context.Context) (accounts.Profile, error) {
		return s.store.ProfileByID(ctx, canonicalID)
	})
	if err != nil {
		return Result{}, err
	}
	if renamed == nil {
		return Result{}, newServiceError(opMerge, "rename_lost", ErrPersistence, accounts.ErrNotFound)
	}
	return s.settle(ctx, *renamed, true, NeedsMerge), nil
}

// migrateGrant folds the legacy active grant into the canonical one and
// deactivates the legacy grant. Inactive legacy grants are already migrated.
func (s *Service) migrateGrant(ctx context.Context, tx accounts.Store, legacyID, canonicalID string) error {
	legacy, err := tx.ActiveGrant(ctx, legacyID)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil
	}
	if err != nil {
		return newServiceError(opMigrateGrant, "legacy_lookup_failed", ErrLookup, err)
	}

	_, err = tx.ActiveGrant(ctx, canonicalID)
	switch {
	case err == nil:
		if err := tx.AddGrantTokens(ctx, canonicalID, legacy.Tokens); err != nil {
			return newServiceError(opMigrateGrant, "sum_failed", ErrPersistence, err)
		}
	case errors.Is(err, accounts.ErrNotFound):
		purchased := legacy.PurchaseDate
		if purchased.IsZero() {
			purchased = s.clock().UTC()
		}
		created, err := tx.InsertGrantIfAbsent(ctx, &accounts.TokenGrant{
			UserID:       canonicalID,
			Tokens:       legacy.Tokens,
			PackageName:  firstNonEmpty(legacy.PackageName, accounts.WelcomePackageName),
			PurchaseDate: purchased,
			IsActive:     legacy.IsActive,
		})
		if err != nil {
			return newServiceError(opMigrateGrant, "copy_failed", ErrPersistence, err)
		}
		if !created {
			// An inactive grant already holds the user_id slot.
			if err := tx.AddGrantTokens(ctx, canonicalID, legacy.Tokens); err != nil {
				return newServiceError(opMigrateGrant, "sum_failed", ErrPersistence, err)
			}
		}
	default:
		return newServiceError(opMigrateGrant, "canonical_lookup_failed", ErrLookup, err)
	}

	if err := tx.DeactivateGrant(ctx, legacy.ID); err != nil {
		return newServiceError(opMigrateGrant, "deactivate_failed", ErrPersistence, err)
	}
	return nil
}

// migrateModuleAccess copies or merges every active legacy module access row
// onto the canonical id and deactivates the legacy row.
func (s *Service) migrateModuleAccess(ctx context.Context, tx accounts.Store, legacyID, canonicalID string) error {
	rows, err := tx.ActiveModuleAccess(ctx, legacyID)
	if err != nil {
		return newServiceError(opMigrateAccess, "legacy_lookup_failed", ErrLookup, err)
	}
	for _, row := range rows {
		existing, err := tx.ModuleAccessByModule(ctx, canonicalID, row.ModuleID)
		switch {
		case errors.Is(err, accounts.ErrNotFound):
			copied := row
			copied.ID = ""
			copied.UserID = canonicalID
			if err := tx.CreateModuleAccess(ctx, &copied); err != nil {
				return newServiceError(opMigrateAccess, "copy_failed", ErrPersistence, err)
			}
		case err == nil:
			if err := tx.UpdateModuleAccess(ctx, mergeModuleAccess(existing, row)); err != nil {
				return newServiceError(opMigrateAccess, "merge_failed", ErrPersistence, err)
			}
		default:
			return newServiceError(opMigrateAccess, "canonical_lookup_failed", ErrLookup, err)
		}
		if err := tx.DeactivateModuleAccess(ctx, row.ID); err != nil {
			return newServiceError(opMigrateAccess, "deactivate_failed", ErrPersistence, err)
		}
	}
	return nil
}

// mergeModuleAccess sums usage counts and keeps the later last-used timestamp.
func mergeModuleAccess(canonical, legacy accounts.ModuleAccess) accounts.ModuleAccess {
	merged := canonical
	merged.UsageCount = canonical.UsageCount + legacy.UsageCount
	merged.LastUsedAt = laterOf(canonical.LastUsedAt, legacy.LastUsedAt)
	merged.IsActive = canonical.IsActive || legacy.IsActive
	if merged.ModuleTitle == "" {
		merged.ModuleTitle = legacy.ModuleTitle
	}
	return merged
}

// laterOf returns the later timestamp. A nil timestamp is never later.
func laterOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}
