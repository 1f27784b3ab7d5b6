package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fieldscope/internal/util"
	"fieldscope/pkg/auth"
	"fieldscope/pkg/domain"
)

// BootstrapAdmin carries the initial administrator credentials.
type BootstrapAdmin struct {
	Username string
	Email    string
	Password string
}

// Bootstrap ensures an admin account exists before the server starts taking
// requests. It is idempotent: an existing account with the configured
// username is left untouched apart from a role upgrade.
func (a *App) Bootstrap(ctx context.Context, admin BootstrapAdmin) error {
	username := strings.TrimSpace(admin.Username)
	if username == "" {
		return nil
	}
	existing, ok, err := a.store.GetUserByUsername(username)
	if err != nil {
		return fmt.Errorf("get bootstrap admin: %w", err)
	}
	if ok {
		if existing.Role == domain.RoleAdmin {
			return nil
		}
		existing.Role = domain.RoleAdmin
		existing.UpdatedAt = time.Now().UTC()
		if err := a.store.SaveUser(existing); err != nil {
			return fmt.Errorf("save bootstrap admin: %w", err)
		}
		util.LoggerFromContext(ctx).Info("bootstrap admin role restored",
			slog.String("username", username))
		return nil
	}

	if err := auth.ValidatePassword(admin.Password); err != nil {
		return fmt.Errorf("bootstrap admin password: %w", err)
	}
	hash, err := auth.HashPassword(admin.Password)
	if err != nil {
		return fmt.Errorf("hash bootstrap password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		Email:        strings.ToLower(strings.TrimSpace(admin.Email)),
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return fmt.Errorf("save bootstrap admin: %w", err)
	}
	util.LoggerFromContext(ctx).Info("bootstrap admin created",
		slog.String("username", username))
	return nil
}
