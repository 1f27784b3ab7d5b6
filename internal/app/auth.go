package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fieldscope/internal/util"
	"fieldscope/pkg/auth"
	"fieldscope/pkg/domain"
	"fieldscope/pkg/store"
)

// Register creates a user with the default role and returns a session token
// so clients are signed in immediately.
func (a *App) Register(ctx context.Context, username, email, password string) (domain.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || password == "" {
		return domain.User{}, "", ErrRegistrationFieldsRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", err
	}
	if taken, err := a.store.HasUsername(username); err != nil {
		return domain.User{}, "", fmt.Errorf("check username: %w", err)
	} else if taken {
		return domain.User{}, "", ErrUsernameAlreadyExists
	}
	if taken, err := a.store.HasUserEmail(email); err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	} else if taken {
		return domain.User{}, "", ErrEmailAlreadyExists
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.Issue(user)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Login verifies credentials and ban state. Login accepts a username or an
// email address. Ban failures are reported distinctly from bad credentials.
func (a *App) Login(ctx context.Context, login, password string) (domain.User, string, error) {
	login = strings.TrimSpace(login)
	user, ok, err := a.store.GetUserByUsername(login)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("get user: %w", err)
	}
	if !ok {
		user, ok, err = a.store.GetUserByEmail(strings.ToLower(login))
		if err != nil {
			return domain.User{}, "", fmt.Errorf("get user: %w", err)
		}
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if user.PermanentlyBanned {
		return domain.User{}, "", ErrPermanentlyBanned
	}
	if user.BannedUntil != nil && user.BannedUntil.After(time.Now().UTC()) {
		return domain.User{}, "", &TemporaryBanError{Until: *user.BannedUntil}
	}
	token, err := a.sessions.Issue(user)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// UserFromToken verifies a session token and re-reads the user so revoked
// accounts and role changes take effect immediately. Banned users are
// treated as unauthenticated.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, bool) {
	claims, err := a.sessions.Verify(token)
	if err != nil {
		return domain.User{}, false
	}
	user, ok, err := a.store.GetUserByID(claims.UserID)
	if err != nil || !ok {
		return domain.User{}, false
	}
	if user.Banned(time.Now().UTC()) {
		return domain.User{}, false
	}
	return user, true
}

func (a *App) GetUser(ctx context.Context, id string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return user, nil
}

func (a *App) ListUsers(ctx context.Context, filter store.UserFilter) (domain.Page[domain.User], error) {
	items, total, err := a.store.ListUsers(filter)
	if err != nil {
		return domain.Page[domain.User]{}, fmt.Errorf("list users: %w", err)
	}
	return domain.NewPage(items, filter.PageIndex, filter.PageSize, total), nil
}

// ChangePassword rotates the caller's own password after re-verifying the
// current one.
func (a *App) ChangePassword(ctx context.Context, caller domain.User, current, next string) error {
	if current == "" {
		return ErrCurrentPasswordRequired
	}
	if next == "" {
		return ErrNewPasswordRequired
	}
	if err := auth.ValidatePassword(next); err != nil {
		return err
	}
	if !auth.CheckPassword(current, caller.PasswordHash) {
		return ErrInvalidCredentials
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	caller.PasswordHash = hash
	caller.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(caller); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// SetUserRole assigns a role. Admins cannot demote themselves, which keeps
// at least one admin reachable.
func (a *App) SetUserRole(ctx context.Context, caller domain.User, targetID, roleName string) (domain.User, error) {
	role, ok := domain.ParseUserRole(roleName)
	if !ok {
		return domain.User{}, ErrInvalidRole
	}
	if targetID == caller.ID {
		return domain.User{}, ErrCannotChangeOwnRole
	}
	target, err := a.GetUser(ctx, targetID)
	if err != nil {
		return domain.User{}, err
	}
	target.Role = role
	target.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(target); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return target, nil
}

// SetUserBan applies or lifts a ban. A permanent ban ignores until; lifting
// clears both fields.
func (a *App) SetUserBan(ctx context.Context, caller domain.User, targetID string, permanent bool, until *time.Time) (domain.User, error) {
	if targetID == caller.ID {
		return domain.User{}, ErrCannotBanSelf
	}
	target, err := a.GetUser(ctx, targetID)
	if err != nil {
		return domain.User{}, err
	}
	target.PermanentlyBanned = permanent
	if permanent {
		target.BannedUntil = nil
	} else {
		target.BannedUntil = until
	}
	target.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveUser(target); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return target, nil
}
