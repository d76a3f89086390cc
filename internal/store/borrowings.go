package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"

	"bookstore/m/domain"
)

const borrowingColumns = `id, book_id, user_id, is_returned`

// InsertBorrowing stores an outstanding loan and fills in its id. A second
// outstanding loan for the same (book, user) pair yields ErrDuplicate.
func (s *Store) InsertBorrowing(ctx context.Context, q sqlx.ExtContext, b *domain.Borrowing) error {
	err := q.QueryRowxContext(ctx, q.Rebind(`
		INSERT INTO borrowings (book_id, user_id, is_returned)
		VALUES (?, ?, ?)
		RETURNING id`),
		b.BookID, b.UserID, b.IsReturned,
	).Scan(&b.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert borrowing: %w", err)
	}
	return nil
}

func (s *Store) BorrowingByID(ctx context.Context, q sqlx.ExtContext, id int64) (*domain.Borrowing, error) {
	return s.getBorrowing(ctx, q, `SELECT `+borrowingColumns+` FROM borrowings WHERE id = ?`, id)
}

// LockBorrowing reads a borrowing for modification within the caller's transaction.
func (s *Store) LockBorrowing(ctx context.Context, q sqlx.ExtContext, id int64) (*domain.Borrowing, error) {
	return s.getBorrowing(ctx, q, `SELECT `+borrowingColumns+` FROM borrowings WHERE id = ?`+s.forUpdate, id)
}

func (s *Store) getBorrowing(ctx context.Context, q sqlx.ExtContext, query string, id int64) (*domain.Borrowing, error) {
	var b domain.Borrowing
	if err := sqlx.GetContext(ctx, q, &b, q.Rebind(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get borrowing: %w", err)
	}
	return &b, nil
}

// HasOutstanding reports whether the user holds an unreturned copy of the book.
func (s *Store) HasOutstanding(ctx context.Context, q sqlx.ExtContext, bookID, userID int64) (bool, error) {
	var exists bool
	err := q.QueryRowxContext(ctx, q.Rebind(`
		SELECT EXISTS(
			SELECT 1 FROM borrowings
			WHERE book_id = ? AND user_id = ? AND is_returned = ?
		)`), bookID, userID, false).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check outstanding: %w", err)
	}
	return exists, nil
}

func (s *Store) CountOutstandingForBook(ctx context.Context, q sqlx.ExtContext, bookID int64) (int64, error) {
	var n int64
	err := q.QueryRowxContext(ctx, q.Rebind(`
		SELECT COUNT(*) FROM borrowings
		WHERE book_id = ? AND is_returned = ?`), bookID, false).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outstanding: %w", err)
	}
	return n, nil
}

func (s *Store) ListBorrowingsByBook(ctx context.Context, q sqlx.ExtContext, bookID int64, page domain.Page) ([]domain.Borrowing, error) {
	return s.listBorrowings(ctx, q, goqu.C("book_id").Eq(bookID), page)
}

func (s *Store) ListBorrowingsByPair(ctx context.Context, q sqlx.ExtContext, bookID, userID int64, page domain.Page) ([]domain.Borrowing, error) {
	return s.listBorrowings(ctx, q, goqu.And(
		goqu.C("book_id").Eq(bookID),
		goqu.C("user_id").Eq(userID),
	), page)
}

func (s *Store) ListOutstanding(ctx context.Context, q sqlx.ExtContext, page domain.Page) ([]domain.Borrowing, error) {
	return s.listBorrowings(ctx, q, goqu.C("is_returned").IsFalse(), page)
}

func (s *Store) listBorrowings(ctx context.Context, q sqlx.ExtContext, where exp.Expression, page domain.Page) ([]domain.Borrowing, error) {
	ds := s.selectPage(s.dialect.From("borrowings").
		Select("id", "book_id", "user_id", "is_returned").
		Where(where), page)
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build borrowing list: %w", err)
	}

	out := []domain.Borrowing{}
	if err := sqlx.SelectContext(ctx, q, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list borrowings: %w", err)
	}
	return out, nil
}

type borrowingDetailRow struct {
	ID                int64  `db:"id"`
	BookID            int64  `db:"book_id"`
	UserID            int64  `db:"user_id"`
	IsReturned        bool   `db:"is_returned"`
	Title             string `db:"title"`
	Author            string `db:"author"`
	Quantity          int64  `db:"quantity"`
	AvailableQuantity int64  `db:"available_quantity"`
	Email             string `db:"email"`
	FirstName         string `db:"first_name"`
	LastName          string `db:"last_name"`
	Role              string `db:"role"`
	IsActive          bool   `db:"is_active"`
}

// ListBorrowingDetailsByUser returns the user's borrowings joined with the
// referenced book and user rows, in insertion order.
func (s *Store) ListBorrowingDetailsByUser(ctx context.Context, q sqlx.ExtContext, userID int64, page domain.Page) ([]domain.BorrowingDetail, error) {
	const query = `
		SELECT
			br.id          AS id,
			br.book_id     AS book_id,
			br.user_id     AS user_id,
			br.is_returned AS is_returned,
			b.title        AS title,
			b.author       AS author,
			b.quantity     AS quantity,
			b.available_quantity AS available_quantity,
			u.email        AS email,
			u.first_name   AS first_name,
			u.last_name    AS last_name,
			u.role         AS role,
			u.is_active    AS is_active
		FROM borrowings br
		JOIN books b ON b.id = br.book_id
		JOIN users u ON u.id = br.user_id
		WHERE br.user_id = ?
		ORDER BY br.id
		LIMIT ? OFFSET ?`

	var rows []borrowingDetailRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), userID, page.Limit, page.Skip); err != nil {
		return nil, fmt.Errorf("list borrowing details: %w", err)
	}

	out := make([]domain.BorrowingDetail, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.BorrowingDetail{
			Borrowing: domain.Borrowing{
				ID:         r.ID,
				BookID:     r.BookID,
				UserID:     r.UserID,
				IsReturned: r.IsReturned,
			},
			Book: &domain.Book{
				ID:                r.BookID,
				Title:             r.Title,
				Author:            r.Author,
				Quantity:          r.Quantity,
				AvailableQuantity: r.AvailableQuantity,
			},
			User: &domain.User{
				ID:        r.UserID,
				Email:     r.Email,
				FirstName: r.FirstName,
				LastName:  r.LastName,
				Role:      domain.Role(r.Role),
				IsActive:  r.IsActive,
			},
		})
	}
	return out, nil
}

// MarkReturned flips the returned flag. It reports false when the borrowing
// was already returned.
func (s *Store) MarkReturned(ctx context.Context, q sqlx.ExtContext, id int64) (bool, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE borrowings
		SET is_returned = ?
		WHERE id = ?
		AND is_returned = ?`), true, id, false)
	if err != nil {
		return false, fmt.Errorf("mark returned: %w", err)
	}
	return rowsAffected(res)
}

// DeleteReturnedForBook drops the returned-loan history of a book.
func (s *Store) DeleteReturnedForBook(ctx context.Context, q sqlx.ExtContext, bookID int64) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`
		DELETE FROM borrowings
		WHERE book_id = ? AND is_returned = ?`), bookID, true)
	if err != nil {
		return 0, fmt.Errorf("delete borrowings: %w", err)
	}
	return res.RowsAffected()
}
