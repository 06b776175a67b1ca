package profiles

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iahome/backend/internal/accounts"
	"go.uber.org/zap"
)

var noOpLogger = zap.NewNop()

// ServiceConfig describes the dependencies required for profile reconciliation.
type ServiceConfig struct {
	Store          accounts.Store
	Clock          func() time.Time
	Logger         *zap.Logger
	WelcomeTokens  int64
	WelcomePackage string
}

// Service reconciles auth-provider identities with stored profiles.
type Service struct {
	store          accounts.Store
	clock          func() time.Time
	logger         *zap.Logger
	welcomeTokens  int64
	welcomePackage string
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", ErrValidation, errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	welcomeTokens := cfg.WelcomeTokens
	if welcomeTokens <= 0 {
		welcomeTokens = accounts.WelcomeTokenAmount
	}
	welcomePackage := strings.TrimSpace(cfg.WelcomePackage)
	if welcomePackage == "" {
		welcomePackage = accounts.WelcomePackageName
	}
	return &Service{
		store:          cfg.Store,
		clock:          clock,
		logger:         logger,
		welcomeTokens:  welcomeTokens,
		welcomePackage: welcomePackage,
	}, nil
}

// ReconcileRequest is the identity reported by the auth provider after login.
type ReconcileRequest struct {
	AuthUserID string
	Email      string
	Name       string
	AvatarURL  string
}

// Result is the outcome of a reconciliation. GrantError is set when the welcome
// grant could not be ensured; the profile is still usable in that case.
type Result struct {
	User           accounts.Profile
	Migrated       bool
	TokensCreated  bool
	ExistingTokens *int64
	GrantError     error
	Resolution     ResolutionKind
}

type identity struct {
	userID    accounts.UserID
	email     accounts.Email
	name      string
	avatarURL string
}

// Reconcile ensures exactly one profile keyed by the auth user id exists for the
// identity, migrating legacy rows found by email and issuing the welcome grant.
func (s *Service) Reconcile(ctx context.Context, request ReconcileRequest) (Result, error) {
	userID, err := accounts.NewUserID(request.AuthUserID)
	if err != nil {
		return Result{}, newServiceError(opReconcile, "invalid_auth_user_id", ErrValidation, err)
	}
	email, err := accounts.NewEmail(request.Email)
	if err != nil {
		return Result{}, newServiceError(opReconcile, "invalid_email", ErrValidation, err)
	}
	id := identity{
		userID:    userID,
		email:     email,
		name:      strings.TrimSpace(request.Name),
		avatarURL: strings.TrimSpace(request.AvatarURL),
	}

	legacy, err := s.lookupProfile(ctx, "email_lookup_failed", func(ctx context.Context) (accounts.Profile, error) {
		return s.store.ProfileByEmail(ctx, email.String())
	})
	if err != nil {
		return Result{}, err
	}
	canonical, err := s.lookupProfile(ctx, "id_lookup_failed", func(ctx context.Context) (accounts.Profile, error) {
		return s.store.ProfileByID(ctx, userID.String())
	})
	if err != nil {
		return Result{}, err
	}

	return s.dispatch(ctx, id, classify(legacy, canonical, userID.String()))
}

func (s *Service) dispatch(ctx context.Context, id identity, plan resolution) (Result, error) {
	switch plan.kind {
	case AlreadyCanonical:
		return s.settle(ctx, *plan.canonical, false, plan.kind), nil
	case RaceDetected:
		s.logger.Info("canonical profile appeared concurrently",
			zap.String("user_id", id.userID.String()))
		return s.settle(ctx, *plan.canonical, false, plan.kind), nil
	case NeedsMerge:
		return s.merge(ctx, id, *plan.legacy)
	case NeedsCreate:
		return s.create(ctx, id)
	default:
		return Result{}, newServiceError(opReconcile, "unknown_resolution", ErrValidation, nil)
	}
}

// settle ensures the welcome grant for an existing canonical profile.
func (s *Service) settle(ctx context.Context, profile accounts.Profile, migrated bool, kind ResolutionKind) Result {
	result := Result{User: profile, Migrated: migrated, Resolution: kind}
	outcome, err := s.EnsureWelcomeGrant(ctx, profile.ID)
	if err != nil {
		s.logger.Warn("welcome grant not ensured",
			zap.String("user_id", profile.ID),
			zap.Error(err))
		result.GrantError = err
		return result
	}
	result.TokensCreated = outcome.Created
	if !outcome.Created {
		balance := outcome.Grant.Tokens
		result.ExistingTokens = &balance
	}
	return result
}

func (s *Service) create(ctx context.Context, id identity) (Result, error) {
	// The signup trigger may have written the row since the initial lookups.
	existing, err := s.lookupProfile(ctx, "recheck_failed", func(ctx context.Context) (accounts.Profile, error) {
		return s.store.ProfileByID(ctx, id.userID.String())
	})
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		return s.dispatch(ctx, id, raceDetected(*existing))
	}

	profile := accounts.Profile{
		ID:            id.userID.String(),
		Email:         id.email.String(),
		FullName:      firstNonEmpty(id.name, id.email.String()),
		AvatarURL:     id.avatarURL,
		Role:          accounts.DefaultRole,
		IsActive:      true,
		EmailVerified: true,
	}
	if err := s.store.CreateProfile(ctx, &profile); err != nil {
		if !errors.Is(err, accounts.ErrDuplicate) {
			s.logError(opCreate, "insert_failed", err, zap.String("user_id", profile.ID))
			return Result{}, newServiceError(opCreate, "insert_failed", ErrPersistence, err)
		}
		existing, lookupErr := s.lookupProfile(ctx, "requery_failed", func(ctx context.Context) (accounts.Profile, error) {
			return s.store.ProfileByID(ctx, id.userID.String())
		})
		if lookupErr != nil {
			return Result{}, lookupErr
		}
		if existing == nil {
			s.logError(opCreate, "conflict_unresolved", err, zap.String("user_id", profile.ID))
			return Result{}, newServiceError(opCreate, "conflict_unresolved", ErrPersistence, err)
		}
		return s.dispatch(ctx, id, raceDetected(*existing))
	}

	result := Result{User: profile, Resolution: NeedsCreate}
	created, err := s.insertWelcomeGrant(ctx, profile.ID)
	if err != nil {
		s.logger.Warn("welcome grant not created",
			zap.String("user_id", profile.ID),
			zap.Error(err))
		result.GrantError = err
		return result, nil
	}
	result.TokensCreated = created
	if !created {
		// Another request for the same identity issued the grant first.
		grant, err := s.reloadGrant(ctx, profile.ID)
		if err != nil {
			s.logger.Warn("welcome grant not reloaded",
				zap.String("user_id", profile.ID),
				zap.Error(err))
			result.GrantError = err
			return result, nil
		}
		balance := grant.Tokens
		result.ExistingTokens = &balance
	}
	return result, nil
}

// lookupProfile runs a single-row lookup, mapping "not found" to a nil profile.
func (s *Service) lookupProfile(ctx context.Context, reason string, lookup func(context.Context) (accounts.Profile, error)) (*accounts.Profile, error) {
	profile, err := lookup(ctx)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logError(opReconcile, reason, err)
		return nil, newServiceError(opReconcile, reason, ErrLookup, err)
	}
	return &profile, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("profiles service error", attrs...)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
