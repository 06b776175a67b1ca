package activation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iahome/backend/internal/accounts"
	"github.com/iahome/backend/internal/auth"
	"go.uber.org/zap"
)

const defaultActivationCost int64 = 10

// TokenIssuer signs module access tokens.
type TokenIssuer interface {
	Issue(userID string, moduleID string) (auth.IssuedAccessToken, error)
}

// ServiceConfig describes the dependencies of module activation.
type ServiceConfig struct {
	Store       accounts.Store
	Issuer      TokenIssuer
	DefaultCost int64
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Service activates marketplace modules against a user's token balance and
// issues module access tokens.
type Service struct {
	store       accounts.Store
	issuer      TokenIssuer
	defaultCost int64
	clock       func() time.Time
	logger      *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", ErrValidation, errMissingStore)
	}
	if cfg.Issuer == nil {
		return nil, newServiceError(opServiceNew, "missing_issuer", ErrValidation, errMissingIssuer)
	}
	cost := cfg.DefaultCost
	if cost <= 0 {
		cost = defaultActivationCost
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       cfg.Store,
		issuer:      cfg.Issuer,
		defaultCost: cost,
		clock:       clock,
		logger:      logger,
	}, nil
}

// ActivateRequest asks to unlock a module. A zero Cost uses the configured default.
type ActivateRequest struct {
	UserID      string
	ModuleID    string
	ModuleTitle string
	Cost        int64
}

// ActivateResult reports the access row and the balance left after the debit.
type ActivateResult struct {
	Access          accounts.ModuleAccess
	AlreadyActive   bool
	RemainingTokens int64
}

// Activate debits the activation cost and records module access in one
// transaction. An already active module is returned without a charge.
func (s *Service) Activate(ctx context.Context, request ActivateRequest) (ActivateResult, error) {
	userID, moduleID, err := validateIdentifiers(opActivate, request.UserID, request.ModuleID)
	if err != nil {
		return ActivateResult{}, err
	}
	if request.Cost < 0 {
		return ActivateResult{}, newServiceError(opActivate, "invalid_cost", ErrValidation, nil)
	}
	cost := request.Cost
	if cost == 0 {
		cost = s.defaultCost
	}
	title := strings.TrimSpace(request.ModuleTitle)
	if title == "" {
		title = moduleID.String()
	}

	var result ActivateResult
	err = s.store.Transaction(ctx, func(tx accounts.Store) error {
		if _, err := tx.ProfileByID(ctx, userID.String()); err != nil {
			if errors.Is(err, accounts.ErrNotFound) {
				return newServiceError(opActivate, "profile_not_found", ErrProfileNotFound, err)
			}
			return newServiceError(opActivate, "profile_lookup_failed", ErrPersistence, err)
		}

		existing, err := tx.ModuleAccessByModule(ctx, userID.String(), moduleID.String())
		hasRow := err == nil
		if err != nil && !errors.Is(err, accounts.ErrNotFound) {
			return newServiceError(opActivate, "access_lookup_failed", ErrPersistence, err)
		}
		if hasRow && existing.IsActive {
			result.Access = existing
			result.AlreadyActive = true
			return s.loadBalance(ctx, tx, userID.String(), &result)
		}

		debited, err := tx.DebitGrantTokens(ctx, userID.String(), cost)
		if err != nil {
			return newServiceError(opActivate, "debit_failed", ErrPersistence, err)
		}
		if !debited {
			return newServiceError(opActivate, "insufficient_tokens", ErrInsufficientTokens, nil)
		}

		if hasRow {
			existing.IsActive = true
			if existing.ModuleTitle == "" {
				existing.ModuleTitle = title
			}
			if err := tx.UpdateModuleAccess(ctx, existing); err != nil {
				return newServiceError(opActivate, "reactivate_failed", ErrPersistence, err)
			}
			result.Access = existing
		} else {
			access := accounts.ModuleAccess{
				UserID:      userID.String(),
				ModuleID:    moduleID.String(),
				ModuleTitle: title,
				IsActive:    true,
				CreatedAt:   s.clock().UTC(),
			}
			if err := tx.CreateModuleAccess(ctx, &access); err != nil {
				return newServiceError(opActivate, "insert_failed", ErrPersistence, err)
			}
			result.Access = access
		}
		return s.loadBalance(ctx, tx, userID.String(), &result)
	})
	if err != nil {
		s.logError(opActivate, err, zap.String("user_id", userID.String()), zap.String("module_id", moduleID.String()))
		return ActivateResult{}, err
	}
	return result, nil
}

func (s *Service) loadBalance(ctx context.Context, tx accounts.Store, userID string, result *ActivateResult) error {
	grant, err := tx.ActiveGrant(ctx, userID)
	switch {
	case err == nil:
		result.RemainingTokens = grant.Tokens
		return nil
	case errors.Is(err, accounts.ErrNotFound):
		result.RemainingTokens = 0
		return nil
	default:
		return newServiceError(opActivate, "balance_lookup_failed", ErrPersistence, err)
	}
}

// CheckResult reports whether the module is active for the user.
type CheckResult struct {
	IsActive bool
	Access   *accounts.ModuleAccess
}

// Check reports the activation state of a module for a user.
func (s *Service) Check(ctx context.Context, rawUserID, rawModuleID string) (CheckResult, error) {
	userID, moduleID, err := validateIdentifiers(opCheck, rawUserID, rawModuleID)
	if err != nil {
		return CheckResult{}, err
	}
	access, err := s.store.ModuleAccessByModule(ctx, userID.String(), moduleID.String())
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return CheckResult{}, nil
		}
		wrapped := newServiceError(opCheck, "lookup_failed", ErrPersistence, err)
		s.logError(opCheck, wrapped)
		return CheckResult{}, wrapped
	}
	return CheckResult{IsActive: access.IsActive, Access: &access}, nil
}

// GenerateAccessToken records a use of an active module and signs a token for it.
func (s *Service) GenerateAccessToken(ctx context.Context, rawUserID, rawModuleID string) (auth.IssuedAccessToken, error) {
	userID, moduleID, err := validateIdentifiers(opIssue, rawUserID, rawModuleID)
	if err != nil {
		return auth.IssuedAccessToken{}, err
	}
	access, err := s.store.ModuleAccessByModule(ctx, userID.String(), moduleID.String())
	if err != nil && !errors.Is(err, accounts.ErrNotFound) {
		wrapped := newServiceError(opIssue, "lookup_failed", ErrPersistence, err)
		s.logError(opIssue, wrapped)
		return auth.IssuedAccessToken{}, wrapped
	}
	if err != nil || !access.IsActive {
		return auth.IssuedAccessToken{}, newServiceError(opIssue, "module_not_activated", ErrNotActivated, nil)
	}

	if err := s.store.RecordModuleUsage(ctx, access.ID, s.clock()); err != nil {
		wrapped := newServiceError(opIssue, "usage_update_failed", ErrPersistence, err)
		s.logError(opIssue, wrapped)
		return auth.IssuedAccessToken{}, wrapped
	}
	issued, err := s.issuer.Issue(userID.String(), moduleID.String())
	if err != nil {
		wrapped := newServiceError(opIssue, "sign_failed", ErrPersistence, err)
		s.logError(opIssue, wrapped)
		return auth.IssuedAccessToken{}, wrapped
	}
	return issued, nil
}

func validateIdentifiers(operation, rawUserID, rawModuleID string) (accounts.UserID, accounts.ModuleID, error) {
	userID, err := accounts.NewUserID(rawUserID)
	if err != nil {
		return "", "", newServiceError(operation, "invalid_user_id", ErrValidation, err)
	}
	moduleID, err := accounts.NewModuleID(rawModuleID)
	if err != nil {
		return "", "", newServiceError(operation, "invalid_module_id", ErrValidation, err)
	}
	return userID, moduleID, nil
}

func (s *Service) logError(operation string, err error, fields ...zap.Field) {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		if errors.Is(err, ErrInsufficientTokens) || errors.Is(err, ErrProfileNotFound) {
			s.logger.Info("activation refused", append(fields, zap.String("code", serviceErr.Code()))...)
			return
		}
		fields = append(fields, zap.String("code", serviceErr.Code()))
	}
	fields = append(fields, zap.String("operation", operation), zap.Error(err))
	s.logger.Error("activation service error", fields...)
}
