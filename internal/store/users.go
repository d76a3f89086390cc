package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"bookstore/m/domain"
)

const userColumns = `id, email, first_name, last_name, password_hash, role, is_active`

// InsertUser stores u and fills in its id.
func (s *Store) InsertUser(ctx context.Context, q sqlx.ExtContext, u *domain.User) error {
	err := q.QueryRowxContext(ctx, q.Rebind(`
		INSERT INTO users (email, first_name, last_name, password_hash, role, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		u.Email, u.FirstName, u.LastName, u.PasswordHash, string(u.Role), u.IsActive,
	).Scan(&u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) UserByID(ctx context.Context, q sqlx.ExtContext, id int64) (*domain.User, error) {
	return s.getUser(ctx, q, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *Store) UserByEmail(ctx context.Context, q sqlx.ExtContext, email string) (*domain.User, error) {
	return s.getUser(ctx, q, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (s *Store) getUser(ctx context.Context, q sqlx.ExtContext, query string, arg any) (*domain.User, error) {
	var u domain.User
	if err := sqlx.GetContext(ctx, q, &u, q.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context, q sqlx.ExtContext, page domain.Page) ([]domain.User, error) {
	ds := s.selectPage(s.dialect.From("users").Select(
		"id", "email", "first_name", "last_name", "password_hash", "role", "is_active",
	), page)
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build user list: %w", err)
	}

	users := []domain.User{}
	if err := sqlx.SelectContext(ctx, q, &users, query, args...); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUser writes the patched columns of u.
func (s *Store) UpdateUser(ctx context.Context, q sqlx.ExtContext, u *domain.User, patch domain.UserPatch) error {
	rec := goqu.Record{}
	if patch.Email != nil {
		rec["email"] = u.Email
	}
	if patch.FirstName != nil {
		rec["first_name"] = u.FirstName
	}
	if patch.LastName != nil {
		rec["last_name"] = u.LastName
	}
	if patch.Role != nil {
		rec["role"] = string(u.Role)
	}
	if patch.IsActive != nil {
		rec["is_active"] = u.IsActive
	}
	if len(rec) == 0 {
		return nil
	}

	query, args, err := s.dialect.Update("users").
		Set(rec).
		Where(goqu.C("id").Eq(u.ID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build user update: %w", err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update user: %w", err)
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
