// Package library holds the lending rules: the user directory, the book
// catalog and the borrowing workflow that ties them together.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"bookstore/m/domain"
	"bookstore/m/internal/store"
)

const (
	minPasswordLen = 8
	// bcrypt ignores everything past 72 bytes
	maxPasswordBytes = 72
)

// Directory manages user accounts.
type Directory struct {
	st   *store.Store
	cost int
	log  *slog.Logger
}

func NewDirectory(st *store.Store, hashCost int, log *slog.Logger) *Directory {
	return &Directory{st: st, cost: hashCost, log: log}
}

type Registration struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// Register creates a customer account. The role is always customer.
func (d *Directory) Register(ctx context.Context, reg Registration) (*domain.User, error) {
	return d.create(ctx, reg, domain.RoleCustomer)
}

// EnsureAccount creates an account with the given role unless the email is
// already registered, in which case the existing user is returned with
// created set to false.
func (d *Directory) EnsureAccount(ctx context.Context, reg Registration, role domain.Role) (u *domain.User, created bool, err error) {
	if !role.Valid() {
		return nil, false, domain.Errorf(domain.ErrInvalidInput, "unknown role %q", role)
	}
	existing, err := d.st.UserByEmail(ctx, d.st.DB(), normalizeEmail(reg.Email))
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, err
	}

	u, err = d.create(ctx, reg, role)
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

func (d *Directory) create(ctx context.Context, reg Registration, role domain.Role) (*domain.User, error) {
	email := normalizeEmail(reg.Email)
	if email == "" {
		return nil, domain.Errorf(domain.ErrInvalidInput, "email is required")
	}
	if err := checkPassword(reg.Password); err != nil {
		return nil, err
	}

	if _, err := d.st.UserByEmail(ctx, d.st.DB(), email); err == nil {
		return nil, domain.Errorf(domain.ErrConflict, "email already registered")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), d.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &domain.User{
		Email:        email,
		FirstName:    strings.TrimSpace(reg.FirstName),
		LastName:     strings.TrimSpace(reg.LastName),
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	if err := d.st.InsertUser(ctx, d.st.DB(), u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domain.Errorf(domain.ErrConflict, "email already registered")
		}
		return nil, err
	}

	d.log.Info("user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// Authenticate checks the credentials and returns the matching active user.
func (d *Directory) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	u, err := d.st.UserByEmail(ctx, d.st.DB(), normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.Errorf(domain.ErrUnauthenticated, "invalid credentials")
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, domain.Errorf(domain.ErrUnauthenticated, "invalid credentials")
	}
	if !u.IsActive {
		return nil, domain.Errorf(domain.ErrUnauthenticated, "account disabled")
	}
	return u, nil
}

func (d *Directory) Get(ctx context.Context, id int64) (*domain.User, error) {
	u, err := d.st.UserByID(ctx, d.st.DB(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.Errorf(domain.ErrNotFound, "user not found")
	}
	return u, err
}

func (d *Directory) List(ctx context.Context, page domain.Page) ([]domain.User, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	return d.st.ListUsers(ctx, d.st.DB(), page)
}

// Update applies patch to the target user on behalf of adminID, who must be
// an active admin. An empty patch returns the stored user untouched.
func (d *Directory) Update(ctx context.Context, targetID, adminID int64, patch domain.UserPatch) (*domain.User, error) {
	var out *domain.User
	err := d.st.InTx(ctx, func(tx *sqlx.Tx) error {
		admin, err := d.st.UserByID(ctx, tx, adminID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if admin == nil || admin.Role != domain.RoleAdmin || !admin.IsActive {
			return domain.Errorf(domain.ErrForbidden, "only an admin can update users")
		}

		u, err := d.st.UserByID(ctx, tx, targetID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Errorf(domain.ErrNotFound, "user not found")
			}
			return err
		}

		if patch.Empty() {
			out = u
			return nil
		}

		if err := applyUserPatch(u, &patch); err != nil {
			return err
		}
		if err := d.st.UpdateUser(ctx, tx, u, patch); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return domain.Errorf(domain.ErrConflict, "email already registered")
			}
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !patch.Empty() {
		d.log.Info("user updated", "user_id", out.ID, "admin_id", adminID)
	}
	return out, nil
}

func applyUserPatch(u *domain.User, patch *domain.UserPatch) error {
	if patch.Email != nil {
		email := normalizeEmail(*patch.Email)
		if email == "" {
			return domain.Errorf(domain.ErrInvalidInput, "email must not be empty")
		}
		patch.Email = &email
		u.Email = email
	}
	if patch.FirstName != nil {
		u.FirstName = strings.TrimSpace(*patch.FirstName)
	}
	if patch.LastName != nil {
		u.LastName = strings.TrimSpace(*patch.LastName)
	}
	if patch.Role != nil {
		if !patch.Role.Valid() {
			return domain.Errorf(domain.ErrInvalidInput, "unknown role %q", *patch.Role)
		}
		u.Role = *patch.Role
	}
	if patch.IsActive != nil {
		u.IsActive = *patch.IsActive
	}
	return nil
}

func checkPassword(pw string) error {
	if utf8.RuneCountInString(pw) < minPasswordLen {
		return domain.Errorf(domain.ErrInvalidInput, "password must be at least %d characters", minPasswordLen)
	}
	if len(pw) > maxPasswordBytes {
		return domain.Errorf(domain.ErrInvalidInput, "password must be at most %d bytes", maxPasswordBytes)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
