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

const bookColumns = `id, title, author, quantity, available_quantity`

// InsertBook stores b and fills in its id.
func (s *Store) InsertBook(ctx context.Context, q sqlx.ExtContext, b *domain.Book) error {
	err := q.QueryRowxContext(ctx, q.Rebind(`
		INSERT INTO books (title, author, quantity, available_quantity)
		VALUES (?, ?, ?, ?)
		RETURNING id`),
		b.Title, b.Author, b.Quantity, b.AvailableQuantity,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (s *Store) BookByID(ctx context.Context, q sqlx.ExtContext, id int64) (*domain.Book, error) {
	return s.getBook(ctx, q, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
}

// LockBook reads a book for modification within the caller's transaction.
func (s *Store) LockBook(ctx context.Context, q sqlx.ExtContext, id int64) (*domain.Book, error) {
	return s.getBook(ctx, q, `SELECT `+bookColumns+` FROM books WHERE id = ?`+s.forUpdate, id)
}

// BookByTitleAuthor finds a catalog entry by its exact title and author.
func (s *Store) BookByTitleAuthor(ctx context.Context, q sqlx.ExtContext, title, author string) (*domain.Book, error) {
	var b domain.Book
	err := sqlx.GetContext(ctx, q, &b, q.Rebind(`SELECT `+bookColumns+` FROM books
		WHERE title = ? AND author = ?
		ORDER BY id
		LIMIT 1`), title, author)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get book by title: %w", err)
	}
	return &b, nil
}

func (s *Store) getBook(ctx context.Context, q sqlx.ExtContext, query string, id int64) (*domain.Book, error) {
	var b domain.Book
	if err := sqlx.GetContext(ctx, q, &b, q.Rebind(query), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &b, nil
}

func (s *Store) ListBooks(ctx context.Context, q sqlx.ExtContext, page domain.Page) ([]domain.Book, error) {
	ds := s.selectPage(s.dialect.From("books").Select(
		"id", "title", "author", "quantity", "available_quantity",
	), page)
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book list: %w", err)
	}

	books := []domain.Book{}
	if err := sqlx.SelectContext(ctx, q, &books, query, args...); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// UpdateBook writes the patched columns of b. A quantity change always
// rewrites available_quantity as well.
func (s *Store) UpdateBook(ctx context.Context, q sqlx.ExtContext, b *domain.Book, patch domain.BookPatch) error {
	rec := goqu.Record{}
	if patch.Title != nil {
		rec["title"] = b.Title
	}
	if patch.Author != nil {
		rec["author"] = b.Author
	}
	if patch.Quantity != nil {
		rec["quantity"] = b.Quantity
		rec["available_quantity"] = b.AvailableQuantity
	}
	if len(rec) == 0 {
		return nil
	}

	query, args, err := s.dialect.Update("books").
		Set(rec).
		Where(goqu.C("id").Eq(b.ID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build book update: %w", err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// DecrementAvailable takes one copy off the shelf. It reports false when no
// copy was available.
func (s *Store) DecrementAvailable(ctx context.Context, q sqlx.ExtContext, bookID int64) (bool, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE books
		SET available_quantity = available_quantity - 1
		WHERE id = ?
		AND available_quantity > 0`), bookID)
	if err != nil {
		return false, fmt.Errorf("decrement available: %w", err)
	}
	return rowsAffected(res)
}

// IncrementAvailable puts one copy back. It reports false when every copy
// was already on the shelf.
func (s *Store) IncrementAvailable(ctx context.Context, q sqlx.ExtContext, bookID int64) (bool, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE books
		SET available_quantity = available_quantity + 1
		WHERE id = ?
		AND available_quantity < quantity`), bookID)
	if err != nil {
		return false, fmt.Errorf("increment available: %w", err)
	}
	return rowsAffected(res)
}

func (s *Store) DeleteBook(ctx context.Context, q sqlx.ExtContext, id int64) error {
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM books WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
