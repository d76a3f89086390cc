package seed

import (
	"context"
	"log/slog"

	"bookstore/m/domain"
	"bookstore/m/internal/library"
)

// EnsureAdmin creates the bootstrap admin account if it does not exist yet.
// An empty email disables the bootstrap.
func EnsureAdmin(ctx context.Context, dir *library.Directory, email, password string, log *slog.Logger) error {
	if email == "" {
		return nil
	}

	u, created, err := dir.EnsureAccount(ctx, library.Registration{
		Email:     email,
		FirstName: "Admin",
		Password:  password,
	}, domain.RoleAdmin)
	if err != nil {
		return err
	}

	if created {
		log.Info("bootstrap admin created", "user_id", u.ID, "email", u.Email)
	} else if u.Role != domain.RoleAdmin {
		log.Warn("bootstrap email belongs to a non-admin user", "user_id", u.ID, "role", u.Role)
	}
	return nil
}
