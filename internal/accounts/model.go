package accounts

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

const maxEmailLength = 320

const (
	// DefaultRole is assigned to profiles that carry no role of their own.
	DefaultRole = "user"
	// WelcomePackageName labels the one-time grant issued to new users.
	WelcomePackageName = "Welcome Package"
	// WelcomeTokenAmount is the balance of the one-time welcome grant.
	WelcomeTokenAmount int64 = 400
)

var (
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("accounts: invalid user id")
	// ErrInvalidEmail indicates that an email address is empty or exceeds storage bounds.
	ErrInvalidEmail = errors.New("accounts: invalid email")
	// ErrInvalidModuleID indicates that a module identifier is empty or exceeds storage bounds.
	ErrInvalidModuleID = errors.New("accounts: invalid module id")
)

// UserID represents a validated profile identifier issued either by the legacy
// signup flow or by the auth provider.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Email represents a validated, lower-cased email address.
type Email string

// NewEmail validates raw input and returns an Email.
func NewEmail(rawInput string) (Email, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	if len(trimmed) > maxEmailLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEmail, maxEmailLength)
	}
	return Email(trimmed), nil
}

// String returns the underlying address.
func (e Email) String() string {
	return string(e)
}

// ModuleID represents a validated marketplace module identifier.
type ModuleID string

// NewModuleID validates raw input and returns a ModuleID.
func NewModuleID(rawInput string) (ModuleID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidModuleID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidModuleID, maxIdentifierLength)
	}
	return ModuleID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ModuleID) String() string {
	return string(id)
}

// Profile is the canonical user record. At most one row exists per id and per email.
type Profile struct {
	ID            string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Email         string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_profiles_email" json:"email"`
	FullName      string    `gorm:"column:full_name;size:320" json:"full_name"`
	AvatarURL     string    `gorm:"column:avatar_url;size:512" json:"avatar_url,omitempty"`
	Role          string    `gorm:"column:role;size:32;not null" json:"role"`
	IsActive      bool      `gorm:"column:is_active;not null" json:"is_active"`
	EmailVerified bool      `gorm:"column:email_verified;not null" json:"email_verified"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Profile) TableName() string {
	return "profiles"
}

// TokenGrant is a user's token balance. The unique index on user_id keeps a
// single balance row per user.
type TokenGrant struct {
	ID           string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	UserID       string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_token_grants_user" json:"user_id"`
	Tokens       int64     `gorm:"column:tokens;not null" json:"tokens"`
	PackageName  string    `gorm:"column:package_name;size:190;not null" json:"package_name"`
	PurchaseDate time.Time `gorm:"column:purchase_date;not null" json:"purchase_date"`
	IsActive     bool      `gorm:"column:is_active;not null" json:"is_active"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (TokenGrant) TableName() string {
	return "token_grants"
}

// ModuleAccess records that a user activated a marketplace module.
type ModuleAccess struct {
	ID          string     `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	UserID      string     `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_module_access_user_module,priority:1" json:"user_id"`
	ModuleID    string     `gorm:"column:module_id;size:190;not null;uniqueIndex:idx_module_access_user_module,priority:2" json:"module_id"`
	ModuleTitle string     `gorm:"column:module_title;size:320" json:"module_title"`
	IsActive    bool       `gorm:"column:is_active;not null" json:"is_active"`
	UsageCount  int64      `gorm:"column:usage_count;not null" json:"usage_count"`
	LastUsedAt  *time.Time `gorm:"column:last_used_at" json:"last_used_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName provides the explicit table binding for GORM.
func (ModuleAccess) TableName() string {
	return "module_access"
}
