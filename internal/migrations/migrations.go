package migrations

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"bookstore/m/internal/config"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            email TEXT NOT NULL UNIQUE,
            first_name TEXT NOT NULL DEFAULT '',
            last_name TEXT NOT NULL DEFAULT '',
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'customer',
            is_active BOOLEAN NOT NULL DEFAULT TRUE
        );`,
	`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            author TEXT NOT NULL DEFAULT '',
            quantity INTEGER NOT NULL DEFAULT 1,
            available_quantity INTEGER NOT NULL DEFAULT 1,
            CHECK (available_quantity >= 0 AND available_quantity <= quantity)
        );`,
	`CREATE TABLE IF NOT EXISTS borrowings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            book_id INTEGER NOT NULL,
            user_id INTEGER NOT NULL,
            is_returned BOOLEAN NOT NULL DEFAULT FALSE,
            FOREIGN KEY(book_id) REFERENCES books(id),
            FOREIGN KEY(user_id) REFERENCES users(id)
        );`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            email TEXT NOT NULL UNIQUE,
            first_name TEXT NOT NULL DEFAULT '',
            last_name TEXT NOT NULL DEFAULT '',
            password_hash TEXT NOT NULL,
            role TEXT NOT NULL DEFAULT 'customer',
            is_active BOOLEAN NOT NULL DEFAULT TRUE
        );`,
	`CREATE TABLE IF NOT EXISTS books (
            id BIGSERIAL PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL DEFAULT '',
            quantity BIGINT NOT NULL DEFAULT 1,
            available_quantity BIGINT NOT NULL DEFAULT 1,
            CHECK (available_quantity >= 0 AND available_quantity <= quantity)
        );`,
	`CREATE TABLE IF NOT EXISTS borrowings (
            id BIGSERIAL PRIMARY KEY,
            book_id BIGINT NOT NULL REFERENCES books(id),
            user_id BIGINT NOT NULL REFERENCES users(id),
            is_returned BOOLEAN NOT NULL DEFAULT FALSE
        );`,
}

// Shared by both dialects.
var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_borrowings_user ON borrowings (user_id);`,
	`CREATE INDEX IF NOT EXISTS idx_borrowings_book ON borrowings (book_id);`,
	`CREATE INDEX IF NOT EXISTS idx_books_title_author ON books (title, author);`,
	// at most one outstanding loan per (book, user)
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_borrowings_outstanding
            ON borrowings (book_id, user_id) WHERE is_returned = FALSE;`,
}

// Run creates the database schema for the library service.
func Run(ctx context.Context, db *sqlx.DB) error {
	schema := sqliteSchema
	if db.DriverName() == config.DriverPostgres {
		schema = postgresSchema
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range append(schema, indexes...) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return tx.Commit()
}
