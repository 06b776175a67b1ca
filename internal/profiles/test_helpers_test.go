package profiles

import (
	"context"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/iahome/backend/internal/accounts"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDatabase(t *testing.T) (*gorm.DB, *accounts.GormStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&accounts.Profile{}, &accounts.TokenGrant{}, &accounts.ModuleAccess{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := accounts.NewGormStore(accounts.GormStoreConfig{
		Database: db,
		Clock:    func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return db, store
}

func newTestService(t *testing.T, store accounts.Store) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Store: store,
		Clock: func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func seedProfile(t *testing.T, store accounts.Store, profile accounts.Profile) {
	t.Helper()
	if profile.Role == "" {
		profile.Role = accounts.DefaultRole
	}
	if err := store.CreateProfile(context.Background(), &profile); err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}
}

func seedGrant(t *testing.T, store accounts.Store, userID string, tokens int64) {
	t.Helper()
	created, err := store.InsertGrantIfAbsent(context.Background(), &accounts.TokenGrant{
		UserID:       userID,
		Tokens:       tokens,
		PackageName:  "Starter",
		PurchaseDate: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		IsActive:     true,
	})
	if err != nil || !created {
		t.Fatalf("failed to seed grant: created=%v err=%v", created, err)
	}
}

func seedAccess(t *testing.T, store accounts.Store, access accounts.ModuleAccess) {
	t.Helper()
	if err := store.CreateModuleAccess(context.Background(), &access); err != nil {
		t.Fatalf("failed to seed module access: %v", err)
	}
}

func timePointer(value time.Time) *time.Time {
	return &value
}

// faultyStore wraps a real store and injects failures or interleavings.
type faultyStore struct {
	accounts.Store

	mu                 sync.Mutex
	emailLookupMisses  int
	idLookupMisses     int
	emailLookupErr     error
	createProfileErr   error
	replaceProfileErr  error
	insertGrantErr     error
	beforeCreate       func(ctx context.Context)
	beforeReplace      func(ctx context.Context)
	createProfileCalls int
}

func (f *faultyStore) ProfileByEmail(ctx context.Context, email string) (accounts.Profile, error) {
	f.mu.Lock()
	if f.emailLookupErr != nil {
		f.mu.Unlock()
		return accounts.Profile{}, f.emailLookupErr
	}
	if f.emailLookupMisses > 0 {
		f.emailLookupMisses--
		f.mu.Unlock()
		return accounts.Profile{}, accounts.ErrNotFound
	}
	f.mu.Unlock()
	return f.Store.ProfileByEmail(ctx, email)
}

func (f *faultyStore) ProfileByID(ctx context.Context, id string) (accounts.Profile, error) {
	f.mu.Lock()
	if f.idLookupMisses > 0 {
		f.idLookupMisses--
		f.mu.Unlock()
		return accounts.Profile{}, accounts.ErrNotFound
	}
	f.mu.Unlock()
	return f.Store.ProfileByID(ctx, id)
}

func (f *faultyStore) CreateProfile(ctx context.Context, profile *accounts.Profile) error {
	f.mu.Lock()
	f.createProfileCalls++
	hook := f.beforeCreate
	f.beforeCreate = nil
	injected := f.createProfileErr
	f.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	if injected != nil {
		return injected
	}
	return f.Store.CreateProfile(ctx, profile)
}

func (f *faultyStore) ReplaceProfile(ctx context.Context, legacyID string, replacement *accounts.Profile) error {
	if f.beforeReplace != nil {
		f.beforeReplace(ctx)
	}
	if f.replaceProfileErr != nil {
		return f.replaceProfileErr
	}
	return f.Store.ReplaceProfile(ctx, legacyID, replacement)
}

func (f *faultyStore) InsertGrantIfAbsent(ctx context.Context, grant *accounts.TokenGrant) (bool, error) {
	if f.insertGrantErr != nil {
		return false, f.insertGrantErr
	}
	return f.Store.InsertGrantIfAbsent(ctx, grant)
}

// panicStore fails the test run on any store access.
type panicStore struct {
	accounts.Store
}
