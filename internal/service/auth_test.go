package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/scriptoria-app/scriptoria/internal/audit"
	"github.com/scriptoria-app/scriptoria/internal/errs"
	"github.com/scriptoria-app/scriptoria/internal/model"
	"github.com/scriptoria-app/scriptoria/internal/repository"
	"github.com/scriptoria-app/scriptoria/internal/token"
)

type fakeUsers struct {
	byName map[string]*model.Account

	// onChangePassword mimics the transactional token revocation the real
	// repository performs alongside the hash update.
	onChangePassword func(id uuid.UUID, at time.Time)
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byName: map[string]*model.Account{}}
}

func (f *fakeUsers) Create(_ context.Context, a *model.Account) error {
	if _, exists := f.byName[a.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *a
	f.byName[a.Username] = &cpy
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.Account, error) {
	for _, a := range f.byName {
		if a.ID == id {
			c := *a
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.Account, error) {
	a, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (f *fakeUsers) find(id uuid.UUID) *model.Account {
	for _, a := range f.byName {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (f *fakeUsers) RecordLoginFailure(_ context.Context, id uuid.UUID, attempts int, lockedUntil *time.Time) error {
	a := f.find(id)
	if a == nil {
		return errs.ErrNotFound
	}
	a.FailedAttempts = attempts
	a.LockedUntil = lockedUntil
	return nil
}

func (f *fakeUsers) RecordLoginSuccess(_ context.Context, id uuid.UUID, at time.Time) error {
	a := f.find(id)
	if a == nil {
		return errs.ErrNotFound
	}
	a.FailedAttempts = 0
	a.LockedUntil = nil
	a.LastLoginAt = &at
	return nil
}

func (f *fakeUsers) ChangePassword(_ context.Context, id uuid.UUID, passwordHash string, at time.Time) error {
	a := f.find(id)
	if a == nil {
		return errs.ErrNotFound
	}
	a.PasswordHash = passwordHash
	if f.onChangePassword != nil {
		f.onChangePassword(id, at)
	}
	return nil
}

type fakeTokens struct {
	tokens map[string]*model.SessionToken
	users  *fakeUsers
}

var _ repository.TokenRepository = (*fakeTokens)(nil)

func newFakeTokens(users *fakeUsers) *fakeTokens {
	return &fakeTokens{tokens: map[string]*model.SessionToken{}, users: users}
}

func (f *fakeTokens) CreatePair(_ context.Context, access, refresh *model.SessionToken) error {
	f.tokens[access.TokenHash] = access
	f.tokens[refresh.TokenHash] = refresh
	return nil
}

func (f *fakeTokens) ResolveAccount(ctx context.Context, kind model.TokenKind, tokenHash string, now time.Time) (*model.Account, error) {
	t, ok := f.tokens[tokenHash]
	if !ok || t.Kind != kind || !t.Usable(now) {
		return nil, errs.ErrUnauthenticated
	}
	a, err := f.users.GetByID(ctx, t.AccountID)
	if err != nil || !a.IsActive {
		return nil, errs.ErrUnauthenticated
	}
	return a, nil
}

func (f *fakeTokens) Rotate(ctx context.Context, refreshHash string, now time.Time, newAccess, newRefresh *model.SessionToken) (*model.Account, error) {
	t, ok := f.tokens[refreshHash]
	if !ok || t.Kind != model.TokenRefresh || !t.Usable(now) {
		return nil, errs.ErrUnauthenticated
	}
	t.RevokedAt = &now
	newAccess.AccountID = t.AccountID
	newRefresh.AccountID = t.AccountID
	f.tokens[newAccess.TokenHash] = newAccess
	f.tokens[newRefresh.TokenHash] = newRefresh
	return f.users.GetByID(ctx, t.AccountID)
}

func (f *fakeTokens) Revoke(_ context.Context, kind model.TokenKind, tokenHash string, now time.Time) error {
	if t, ok := f.tokens[tokenHash]; ok && t.Kind == kind && t.RevokedAt == nil {
		t.RevokedAt = &now
	}
	return nil
}

func (f *fakeTokens) RevokeAllForAccount(_ context.Context, accountID uuid.UUID, now time.Time) error {
	for _, t := range f.tokens {
		if t.AccountID == accountID && t.RevokedAt == nil {
			t.RevokedAt = &now
		}
	}
	return nil
}

type fakeAudit struct {
	entries []model.AuditEntry
}

var _ repository.AuditRepository = (*fakeAudit)(nil)

func (f *fakeAudit) Append(_ context.Context, entry *model.AuditEntry) error {
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAudit) last(t *testing.T) model.AuditEntry {
	t.Helper()
	if len(f.entries) == 0 {
		t.Fatal("no audit entries recorded")
	}
	return f.entries[len(f.entries)-1]
}

type authFixture struct {
	svc    *AuthServiceImpl
	users  *fakeUsers
	tokens *fakeTokens
	ledger *token.Ledger
	audit  *fakeAudit
	clock  *time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	users := newFakeUsers()
	tokens := newFakeTokens(users)
	users.onChangePassword = func(id uuid.UUID, at time.Time) {
		_ = tokens.RevokeAllForAccount(context.Background(), id, at)
	}
	sinkRepo := &fakeAudit{}
	ledger := token.NewLedger(tokens, 15*time.Minute, 24*time.Hour)
	svc := NewAuthService(users, ledger, audit.NewSink(sinkRepo, zap.NewNop()),
		GuardPolicy{MaxAttempts: 5, LockFor: 5 * time.Minute})

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &start
	svc.now = func() time.Time { return *clock }
	return &authFixture{svc: svc, users: users, tokens: tokens, ledger: ledger, audit: sinkRepo, clock: clock}
}

func (fx *authFixture) registered(t *testing.T, username, password string) *model.Account {
	t.Helper()
	a, _, err := fx.svc.Register(context.Background(), username, password, model.RoleAuthor, model.RequestMeta{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return a
}

func TestAuth_Register(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()

	a, pair, err := fx.svc.Register(ctx, "  Astrid.Lee  ", "correct horse", model.RoleAuthor, model.RequestMeta{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.Username != "astrid.lee" {
		t.Fatalf("handle not normalized: %q", a.Username)
	}
	if pair.AccessToken == "" {
		t.Fatal("no session issued")
	}
	if a.PasswordHash == "correct horse" {
		t.Fatal("password stored in plaintext")
	}

	if _, _, err := fx.svc.Register(ctx, "astrid.lee", "another pass", model.RoleAuthor, model.RequestMeta{}); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("duplicate handle: %v", err)
	}
	if _, _, err := fx.svc.Register(ctx, "x", "long enough pass", model.RoleAuthor, model.RequestMeta{}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("short handle accepted: %v", err)
	}
	if _, _, err := fx.svc.Register(ctx, "newuser", "short", model.RoleAuthor, model.RequestMeta{}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("short password accepted: %v", err)
	}
	if _, _, err := fx.svc.Register(ctx, "newuser", "long enough pass", model.Role("superuser"), model.RequestMeta{}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Fatalf("unknown role accepted: %v", err)
	}
}

func TestAuth_Login_UnknownUser(t *testing.T) {
	fx := newAuthFixture(t)
	if _, _, err := fx.svc.Login(context.Background(), "nobody", "whatever pass", model.RequestMeta{}); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("unknown user: %v", err)
	}
	if e := fx.audit.last(t); e.Outcome != model.AuditFailed {
		t.Fatalf("failure not audited: %+v", e)
	}
}

func TestAuth_Login_LockoutCycle(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	fx.registered(t, "astrid", "correct horse")

	// Four bad attempts stay unauthenticated.
	for i := 0; i < 4; i++ {
		if _, _, err := fx.svc.Login(ctx, "astrid", "wrong pass", model.RequestMeta{}); !errors.Is(err, errs.ErrUnauthenticated) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	// The fifth flips to a timed lock and resets the counter.
	_, _, err := fx.svc.Login(ctx, "astrid", "wrong pass", model.RequestMeta{})
	var locked *errs.LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("expected lock at threshold, got %v", err)
	}
	if locked.RetryAfterSeconds() <= 0 {
		t.Fatalf("lock carries no retry-after: %+v", locked)
	}
	if got := fx.users.byName["astrid"].FailedAttempts; got != 0 {
		t.Fatalf("counter not reset on lock: %d", got)
	}

	// Even the correct password is rejected while locked, without touching
	// the counter.
	if _, _, err := fx.svc.Login(ctx, "astrid", "correct horse", model.RequestMeta{}); !errors.As(err, &locked) {
		t.Fatalf("correct password during lock: %v", err)
	}
	if got := fx.users.byName["astrid"].FailedAttempts; got != 0 {
		t.Fatalf("locked attempt moved the counter: %d", got)
	}

	// After the window the correct password succeeds and clears the lock.
	*fx.clock = fx.clock.Add(5*time.Minute + time.Second)
	a, pair, err := fx.svc.Login(ctx, "astrid", "correct horse", model.RequestMeta{})
	if err != nil {
		t.Fatalf("login after window: %v", err)
	}
	if pair.AccessToken == "" {
		t.Fatal("no tokens issued after unlock")
	}
	stored := fx.users.byName["astrid"]
	if stored.FailedAttempts != 0 || stored.LockedUntil != nil {
		t.Fatalf("lock state not cleared: %+v", stored)
	}
	if stored.LastLoginAt == nil {
		t.Fatal("last login not stamped")
	}
	if a.ID != stored.ID {
		t.Fatalf("wrong account returned: %s", a.ID)
	}
}

func TestAuth_Login_SecondLockoutRestartsWindow(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	fx.registered(t, "astrid", "correct horse")

	lockOut := func() {
		var locked *errs.LockedError
		for i := 0; i < 5; i++ {
			_, _, err := fx.svc.Login(ctx, "astrid", "wrong pass", model.RequestMeta{})
			if i == 4 && !errors.As(err, &locked) {
				t.Fatalf("no lock at threshold: %v", err)
			}
		}
	}

	lockOut()
	*fx.clock = fx.clock.Add(6 * time.Minute)
	// The second cycle needs the full threshold again.
	if _, _, err := fx.svc.Login(ctx, "astrid", "wrong pass", model.RequestMeta{}); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("first failure of second cycle escalated: %v", err)
	}
}

func TestAuth_ChangePassword_RevokesSessions(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	fx.registered(t, "astrid", "correct horse")

	a, pair, err := fx.svc.Login(ctx, "astrid", "correct horse", model.RequestMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := fx.svc.ChangePassword(ctx, a, "wrong current", "brand new pass", model.RequestMeta{}); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("wrong current password: %v", err)
	}
	if err := fx.svc.ChangePassword(ctx, a, "correct horse", "brand new pass", model.RequestMeta{}); err != nil {
		t.Fatalf("change password: %v", err)
	}

	// The old session died with the old password.
	if _, err := fx.ledger.Resolve(ctx, model.TokenAccess, pair.AccessToken); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("old access token survived: %v", err)
	}
	if _, _, err := fx.svc.Login(ctx, "astrid", "correct horse", model.RequestMeta{}); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("old password still valid: %v", err)
	}
	if _, _, err := fx.svc.Login(ctx, "astrid", "brand new pass", model.RequestMeta{}); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestAuth_RefreshAndLogout(t *testing.T) {
	fx := newAuthFixture(t)
	ctx := context.Background()
	fx.registered(t, "astrid", "correct horse")
	a, pair, err := fx.svc.Login(ctx, "astrid", "correct horse", model.RequestMeta{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	_, next, err := fx.svc.Refresh(ctx, pair.RefreshToken, model.RequestMeta{})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, _, err := fx.svc.Refresh(ctx, pair.RefreshToken, model.RequestMeta{}); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("spent refresh reused: %v", err)
	}

	if err := fx.svc.Logout(ctx, a, next.AccessToken, next.RefreshToken, model.RequestMeta{}); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := fx.ledger.Resolve(ctx, model.TokenAccess, next.AccessToken); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("access token survived logout: %v", err)
	}
	// Logout is idempotent.
	if err := fx.svc.Logout(ctx, a, next.AccessToken, next.RefreshToken, model.RequestMeta{}); err != nil {
		t.Fatalf("repeat logout: %v", err)
	}
}
