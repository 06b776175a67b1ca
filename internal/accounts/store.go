package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultStatementTimeout = 10 * time.Second

var errMissingDatabase = errors.New("accounts: database handle is required")

// Store is the table-scoped persistence surface over profiles, token grants and
// module access rows. Lookups return ErrNotFound when no row matches; inserts
// return an error wrapping ErrDuplicate on unique violations.
type Store interface {
	// ProfileByEmail matches the address case-insensitively.
	ProfileByEmail(ctx context.Context, email string) (Profile, error)
	ProfileByID(ctx context.Context, id string) (Profile, error)
	CreateProfile(ctx context.Context, profile *Profile) error
	// ReplaceProfile deletes the row identified by legacyID and inserts replacement atomically.
	ReplaceProfile(ctx context.Context, legacyID string, replacement *Profile) error
	// RenameProfile moves the row identified by fromID to toID and marks the email verified.
	RenameProfile(ctx context.Context, fromID, toID string) error
	DeleteProfile(ctx context.Context, id string) error

	ActiveGrant(ctx context.Context, userID string) (TokenGrant, error)
	// InsertGrantIfAbsent inserts grant unless a grant already exists for its user.
	InsertGrantIfAbsent(ctx context.Context, grant *TokenGrant) (bool, error)
	// AddGrantTokens adds delta to the user's grant and reactivates it.
	AddGrantTokens(ctx context.Context, userID string, delta int64) error
	// DebitGrantTokens subtracts amount from the active grant when the balance covers it.
	DebitGrantTokens(ctx context.Context, userID string, amount int64) (bool, error)
	DeactivateGrant(ctx context.Context, grantID string) error

	ActiveModuleAccess(ctx context.Context, userID string) ([]ModuleAccess, error)
	ModuleAccessByModule(ctx context.Context, userID, moduleID string) (ModuleAccess, error)
	CreateModuleAccess(ctx context.Context, access *ModuleAccess) error
	// UpdateModuleAccess persists usage_count, last_used_at, is_active and module_title.
	UpdateModuleAccess(ctx context.Context, access ModuleAccess) error
	RecordModuleUsage(ctx context.Context, accessID string, usedAt time.Time) error
	DeactivateModuleAccess(ctx context.Context, accessID string) error

	// Transaction runs fn against a Store bound to a single database transaction.
	Transaction(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}

// GormStoreConfig describes the dependencies of the gorm-backed Store.
type GormStoreConfig struct {
	Database   *gorm.DB
	Timeout    time.Duration
	IDProvider IDProvider
	Clock      func() time.Time
}

// GormStore implements Store on top of gorm. Every statement runs under its own timeout.
type GormStore struct {
	db      *gorm.DB
	timeout time.Duration
	ids     IDProvider
	now     func() time.Time
}

// NewGormStore constructs a Store over the provided connection.
func NewGormStore(cfg GormStoreConfig) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultStatementTimeout
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &GormStore{
		db:      cfg.Database,
		timeout: timeout,
		ids:     ids,
		now:     clock,
	}, nil
}

func (s *GormStore) session(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	statementCtx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(statementCtx), cancel
}

func (s *GormStore) ProfileByEmail(ctx context.Context, email string) (Profile, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var profile Profile
	err := db.Where("LOWER(email) = LOWER(?)", email).Take(&profile).Error
	if err != nil {
		return Profile{}, classifyError(err)
	}
	return profile, nil
}

func (s *GormStore) ProfileByID(ctx context.Context, id string) (Profile, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var profile Profile
	err := db.Where("id = ?", id).Take(&profile).Error
	if err != nil {
		return Profile{}, classifyError(err)
	}
	return profile, nil
}

func (s *GormStore) CreateProfile(ctx context.Context, profile *Profile) error {
	db, cancel := s.session(ctx)
	defer cancel()
	return classifyError(db.Create(profile).Error)
}

func (s *GormStore) ReplaceProfile(ctx context.Context, legacyID string, replacement *Profile) error {
	db, cancel := s.session(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", legacyID).Delete(&Profile{}).Error; err != nil {
			return err
		}
		return tx.Create(replacement).Error
	})
	return classifyError(err)
}

func (s *GormStore) RenameProfile(ctx context.Context, fromID, toID string) error {
	db, cancel := s.session(ctx)
	defer cancel()
	result := db.Model(&Profile{}).
		Where("id = ?", fromID).
		Updates(map[string]interface{}{
			"id":             toID,
			"email_verified": true,
		})
	if result.Error != nil {
		return classifyError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteProfile(ctx context.Context, id string) error {
	db, cancel := s.session(ctx)
	defer cancel()
	return classifyError(db.Where("id = ?", id).Delete(&Profile{}).Error)
}

func (s *GormStore) ActiveGrant(ctx context.Context, userID string) (TokenGrant, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var grant TokenGrant
	err := db.Where("user_id = ? AND is_active = ?", userID, true).Take(&grant).Error
	if err != nil {
		return TokenGrant{}, classifyError(err)
	}
	return grant, nil
}

func (s *GormStore) InsertGrantIfAbsent(ctx context.Context, grant *TokenGrant) (bool, error) {
	if grant.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return false, fmt.Errorf("accounts: grant id: %w", err)
		}
		grant.ID = id
	}
	if grant.PurchaseDate.IsZero() {
		grant.PurchaseDate = s.now().UTC()
	}
	db, cancel := s.session(ctx)
	defer cancel()
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(grant)
	if result.Error != nil {
		return false, classifyError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) AddGrantTokens(ctx context.Context, userID string, delta int64) error {
	db, cancel := s.session(ctx)
	defer cancel()
	result := db.Model(&TokenGrant{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"tokens":    gorm.Expr("tokens + ?", delta),
			"is_active": true,
		})
	if result.Error != nil {
		return classifyError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DebitGrantTokens(ctx context.Context, userID string, amount int64) (bool, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	result := db.Model(&TokenGrant{}).
		Where("user_id = ? AND is_active = ? AND tokens >= ?", userID, true, amount).
		Update("tokens", gorm.Expr("tokens - ?", amount))
	if result.Error != nil {
		return false, classifyError(result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *GormStore) DeactivateGrant(ctx context.Context, grantID string) error {
	db, cancel := s.session(ctx)
	defer cancel()
	return classifyError(db.Model(&TokenGrant{}).Where("id = ?", grantID).Update("is_active", false).Error)
}

func (s *GormStore) ActiveModuleAccess(ctx context.Context, userID string) ([]ModuleAccess, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var rows []ModuleAccess
	err := db.Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classifyError(err)
	}
	return rows, nil
}

func (s *GormStore) ModuleAccessByModule(ctx context.Context, userID, moduleID string) (ModuleAccess, error) {
	db, cancel := s.session(ctx)
	defer cancel()
	var access ModuleAccess
	err := db.Where("user_id = ? AND module_id = ?", userID, moduleID).Take(&access).Error
	if err != nil {
		return ModuleAccess{}, classifyError(err)
	}
	return access, nil
}

func (s *GormStore) CreateModuleAccess(ctx context.Context, access *ModuleAccess) error {
	if access.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return fmt.Errorf("accounts: module access id: %w", err)
		}
		access.ID = id
	}
	db, cancel := s.session(ctx)
	defer cancel()
	return classifyError(db.Create(access).Error)
}

func (s *GormStore) UpdateModuleAccess(ctx context.Context, access ModuleAccess) error {
	db, cancel := s.session(ctx)
	defer cancel()
	result := db.Model(&ModuleAccess{}).
		Where("id = ?", access.ID).
		Updates(map[string]interface{}{
			"usage_count":  access.UsageCount,
			"last_used_at": access.LastUsedAt,
			"is_active":    access.IsActive,
			"module_title": access.ModuleTitle,
		})
	if result.Error != nil {
		return classifyError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) RecordModuleUsage(ctx context.Context, accessID string, usedAt time.Time) error {
	db, cancel := s.session(ctx)
	defer cancel()
	result := db.Model(&ModuleAccess{}).
		Where("id = ?", accessID).
		Updates(map[string]interface{}{
			"usage_count":  gorm.Expr("usage_count + ?", 1),
			"last_used_at": usedAt.UTC(),
		})
	if result.Error != nil {
		return classifyError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeactivateModuleAccess(ctx context.Context, accessID string) error {
	db, cancel := s.session(ctx)
	defer cancel()
	return classifyError(db.Model(&ModuleAccess{}).Where("id = ?", accessID).Update("is_active", false).Error)
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{
			db:      tx,
			timeout: s.timeout,
			ids:     s.ids,
			now:     s.now,
		})
	})
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}
