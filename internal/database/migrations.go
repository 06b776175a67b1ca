package database

import (
	"errors"
	"time"

	"github.com/iahome/backend/internal/accounts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationTokenGrantsUniqueUser    = "2026-10-01_token_grants_unique_user"
	migrationProfilesEmailLowerUnique = "2026-10-19_profiles_email_lower_unique"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationTokenGrantsUniqueUser, apply: foldDuplicateTokenGrants},
		{name: migrationProfilesEmailLowerUnique, apply: createProfileEmailLowerIndex},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// foldDuplicateTokenGrants keeps the oldest grant per user, moves the active
// balances of the other rows onto it and deletes them.
func foldDuplicateTokenGrants(db *gorm.DB) error {
	if !db.Migrator().HasTable(&accounts.TokenGrant{}) {
		return nil
	}
	var userIDs []string
	err := db.Model(&accounts.TokenGrant{}).
		Select("user_id").
		Group("user_id").
		Having("COUNT(*) > 1").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for _, userID := range userIDs {
			var grants []accounts.TokenGrant
			if err := tx.Where("user_id = ?", userID).Order("created_at ASC, id ASC").Find(&grants).Error; err != nil {
				return err
			}
			if len(grants) < 2 {
				continue
			}
			keeper := grants[0]
			total := keeper.Tokens
			active := keeper.IsActive
			duplicateIDs := make([]string, 0, len(grants)-1)
			for _, grant := range grants[1:] {
				if grant.IsActive {
					total += grant.Tokens
					active = true
				}
				duplicateIDs = append(duplicateIDs, grant.ID)
			}
			err := tx.Model(&accounts.TokenGrant{}).
				Where("id = ?", keeper.ID).
				Updates(map[string]interface{}{"tokens": total, "is_active": active}).Error
			if err != nil {
				return err
			}
			if err := tx.Where("id IN ?", duplicateIDs).Delete(&accounts.TokenGrant{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// createProfileEmailLowerIndex enforces one profile per address regardless of
// case. It fails when stored rows already differ only by case; those have to
// be merged by hand first.
func createProfileEmailLowerIndex(db *gorm.DB) error {
	return db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_email_lower ON profiles (LOWER(email))").Error
}
