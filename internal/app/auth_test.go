package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"fieldscope/pkg/auth"
	"fieldscope/pkg/domain"
	"fieldscope/pkg/store"
)

func TestRegisterIssuesSessionAndDefaultsRole(t *testing.T) {
	env := newTestEnv(t)
	user, token, err := env.app.Register(context.Background(), "alice", "Alice@Example.com", "long enough password")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != domain.RoleUser {
		t.Fatalf("role = %q, want user", user.Role)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("email = %q, want lowercased", user.Email)
	}
	if token == "" {
		t.Fatal("expected a session token")
	}
	got, ok := env.app.UserFromToken(context.Background(), token)
	if !ok || got.ID != user.ID {
		t.Fatalf("token did not resolve to the new user: ok=%v got=%+v", ok, got)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, _, err := env.app.Register(ctx, "alice", "alice@example.com", "long enough password"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := env.app.Register(ctx, "alice", "other@example.com", "long enough password"); !errors.Is(err, ErrUsernameAlreadyExists) {
		t.Fatalf("err = %v, want ErrUsernameAlreadyExists", err)
	}
	if _, _, err := env.app.Register(ctx, "bob", "alice@example.com", "long enough password"); !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("err = %v, want ErrEmailAlreadyExists", err)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, _, err := env.app.Register(ctx, "", "a@b.com", "long enough password"); !errors.Is(err, ErrRegistrationFieldsRequired) {
		t.Fatalf("err = %v, want ErrRegistrationFieldsRequired", err)
	}
	if _, _, err := env.app.Register(ctx, "alice", "a@b.com", "short"); !errors.Is(err, auth.ErrPasswordTooShort) {
		t.Fatalf("err = %v, want ErrPasswordTooShort", err)
	}
}

func TestLoginBanTaxonomy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := mustUser(t, env, "alice", domain.RoleUser)

	if _, _, err := env.app.Login(ctx, "alice", "wrong password!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("bad password err = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := env.app.Login(ctx, "nobody", "long enough password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v, want ErrInvalidCredentials", err)
	}

	user.PermanentlyBanned = true
	if err := env.store.SaveUser(user); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, _, err := env.app.Login(ctx, "alice", "long enough password"); !errors.Is(err, ErrPermanentlyBanned) {
		t.Fatalf("permanent ban err = %v, want ErrPermanentlyBanned", err)
	}

	until := time.Now().UTC().Add(time.Hour)
	user.PermanentlyBanned = false
	user.BannedUntil = &until
	if err := env.store.SaveUser(user); err != nil {
		t.Fatalf("save: %v", err)
	}
	var banErr *TemporaryBanError
	if _, _, err := env.app.Login(ctx, "alice", "long enough password"); !errors.As(err, &banErr) {
		t.Fatalf("temporary ban err = %v, want TemporaryBanError", err)
	} else if !banErr.Until.Equal(until) {
		t.Fatalf("ban until = %v, want %v", banErr.Until, until)
	}

	expired := time.Now().UTC().Add(-time.Hour)
	user.BannedUntil = &expired
	if err := env.store.SaveUser(user); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, _, err := env.app.Login(ctx, "alice", "long enough password"); err != nil {
		t.Fatalf("expired ban should allow login: %v", err)
	}
}

func TestLoginAcceptsEmail(t *testing.T) {
	env := newTestEnv(t)
	mustUser(t, env, "alice", domain.RoleUser)
	if _, _, err := env.app.Login(context.Background(), "alice@example.com", "long enough password"); err != nil {
		t.Fatalf("login by email: %v", err)
	}
}

func TestUserFromTokenRejectsBannedUsers(t *testing.T) {
	env := newTestEnv(t)
	user := mustUser(t, env, "alice", domain.RoleUser)
	_, token, err := env.app.Login(context.Background(), "alice", "long enough password")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	user.PermanentlyBanned = true
	if err := env.store.SaveUser(user); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := env.app.UserFromToken(context.Background(), token); ok {
		t.Fatal("banned user's token should stop working")
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := mustUser(t, env, "alice", domain.RoleUser)

	if err := env.app.ChangePassword(ctx, user, "wrong password!", "another long password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if err := env.app.ChangePassword(ctx, user, "long enough password", "another long password"); err != nil {
		t.Fatalf("change: %v", err)
	}
	if _, _, err := env.app.Login(ctx, "alice", "another long password"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, _, err := env.app.Login(ctx, "alice", "long enough password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password err = %v, want ErrInvalidCredentials", err)
	}
}

func TestSetUserRoleGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := mustUser(t, env, "root", domain.RoleAdmin)
	target := mustUser(t, env, "alice", domain.RoleUser)

	if _, err := env.app.SetUserRole(ctx, admin, target.ID, "superuser"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("err = %v, want ErrInvalidRole", err)
	}
	if _, err := env.app.SetUserRole(ctx, admin, admin.ID, "user"); !errors.Is(err, ErrCannotChangeOwnRole) {
		t.Fatalf("err = %v, want ErrCannotChangeOwnRole", err)
	}
	updated, err := env.app.SetUserRole(ctx, admin, target.ID, "moderator")
	if err != nil {
		t.Fatalf("set role: %v", err)
	}
	if updated.Role != domain.RoleModerator {
		t.Fatalf("role = %q, want moderator", updated.Role)
	}
}

func TestSetUserBanAndLift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	moderator := mustUser(t, env, "mia", domain.RoleModerator)
	target := mustUser(t, env, "alice", domain.RoleUser)

	if _, err := env.app.SetUserBan(ctx, moderator, moderator.ID, true, nil); !errors.Is(err, ErrCannotBanSelf) {
		t.Fatalf("err = %v, want ErrCannotBanSelf", err)
	}
	banned, err := env.app.SetUserBan(ctx, moderator, target.ID, true, nil)
	if err != nil {
		t.Fatalf("ban: %v", err)
	}
	if !banned.PermanentlyBanned || banned.BannedUntil != nil {
		t.Fatalf("ban state = %+v, want permanent only", banned)
	}
	lifted, err := env.app.SetUserBan(ctx, moderator, target.ID, false, nil)
	if err != nil {
		t.Fatalf("lift: %v", err)
	}
	if lifted.Banned(time.Now().UTC()) {
		t.Fatal("lifted user still banned")
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := BootstrapAdmin{Username: "root", Email: "root@example.com", Password: "bootstrap password"}

	if err := env.app.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := env.app.Bootstrap(ctx, admin); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	user, ok, err := env.store.GetUserByUsername("root")
	if err != nil || !ok {
		t.Fatalf("admin missing: ok=%v err=%v", ok, err)
	}
	if user.Role != domain.RoleAdmin {
		t.Fatalf("role = %q, want admin", user.Role)
	}
	if _, _, err := env.app.Login(ctx, "root", "bootstrap password"); err != nil {
		t.Fatalf("admin login: %v", err)
	}
}

func TestBootstrapSkipsWhenUnconfigured(t *testing.T) {
	env := newTestEnv(t)
	if err := env.app.Bootstrap(context.Background(), BootstrapAdmin{}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	_, total, err := env.store.ListUsers(store.UserFilter{PageRequest: domain.PageRequest{PageIndex: 1, PageSize: 10}})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if total != 0 {
		t.Fatalf("users = %d, want 0", total)
	}
}
