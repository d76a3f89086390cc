package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookstore/m/domain"
	"bookstore/m/internal/config"
	"bookstore/m/internal/database"
	"bookstore/m/internal/migrations"
	"bookstore/m/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "store.db") + "?_pragma=foreign_keys(1)"
	db, err := database.Connect(ctx, config.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(ctx, db))
	return store.New(db)
}

func insertUser(t *testing.T, s *store.Store, email string, role domain.Role) *domain.User {
	t.Helper()
	u := &domain.User{Email: email, FirstName: "F", LastName: "L", PasswordHash: "x", Role: role, IsActive: true}
	require.NoError(t, s.InsertUser(context.Background(), s.DB(), u))
	return u
}

func insertBook(t *testing.T, s *store.Store, title string, qty int64) *domain.Book {
	t.Helper()
	b := &domain.Book{Title: title, Author: "A", Quantity: qty, AvailableQuantity: qty}
	require.NoError(t, s.InsertBook(context.Background(), s.DB(), b))
	return b
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	u := insertUser(t, s, "a@example.com", domain.RoleCustomer)
	assert.NotZero(t, u.ID)

	dup := &domain.User{Email: "a@example.com", PasswordHash: "x", Role: domain.RoleCustomer}
	assert.ErrorIs(t, s.InsertUser(ctx, s.DB(), dup), store.ErrDuplicate)

	got, err := s.UserByEmail(ctx, s.DB(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, domain.RoleCustomer, got.Role)
	assert.True(t, got.IsActive)

	_, err = s.UserByID(ctx, s.DB(), 999)
	assert.ErrorIs(t, err, store.ErrNotFound)

	role := domain.RoleLibrarian
	got.Role = role
	require.NoError(t, s.UpdateUser(ctx, s.DB(), got, domain.UserPatch{Role: &role}))
	got, err = s.UserByID(ctx, s.DB(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleLibrarian, got.Role)

	other := insertUser(t, s, "b@example.com", domain.RoleCustomer)
	email := "a@example.com"
	other.Email = email
	assert.ErrorIs(t, s.UpdateUser(ctx, s.DB(), other, domain.UserPatch{Email: &email}), store.ErrDuplicate)

	ghost := &domain.User{ID: 999, IsActive: false}
	active := false
	assert.ErrorIs(t, s.UpdateUser(ctx, s.DB(), ghost, domain.UserPatch{IsActive: &active}), store.ErrNotFound)
}

func TestListUsersPagination(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, e := range []string{"1@x.io", "2@x.io", "3@x.io"} {
		insertUser(t, s, e, domain.RoleCustomer)
	}

	users, err := s.ListUsers(ctx, s.DB(), domain.Page{Skip: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "2@x.io", users[0].Email)

	users, err = s.ListUsers(ctx, s.DB(), domain.Page{Skip: 5, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestBookAvailabilityGuards(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	b := insertBook(t, s, "Dune", 1)

	ok, err := s.IncrementAvailable(ctx, s.DB(), b.ID)
	require.NoError(t, err)
	assert.False(t, ok, "cannot exceed quantity")

	ok, err = s.DecrementAvailable(ctx, s.DB(), b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DecrementAvailable(ctx, s.DB(), b.ID)
	require.NoError(t, err)
	assert.False(t, ok, "cannot go below zero")

	got, err := s.BookByID(ctx, s.DB(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.AvailableQuantity)
	assert.Equal(t, int64(1), got.OnLoan())
}

func TestUpdateAndDeleteBook(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	b := insertBook(t, s, "Emma", 2)

	title := "Persuasion"
	qty := int64(5)
	b.Title, b.Quantity, b.AvailableQuantity = title, qty, qty
	require.NoError(t, s.UpdateBook(ctx, s.DB(), b, domain.BookPatch{Title: &title, Quantity: &qty}))

	got, err := s.BookByID(ctx, s.DB(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Persuasion", got.Title)
	assert.Equal(t, "A", got.Author)
	assert.Equal(t, int64(5), got.Quantity)
	assert.Equal(t, int64(5), got.AvailableQuantity)

	require.NoError(t, s.DeleteBook(ctx, s.DB(), b.ID))
	assert.ErrorIs(t, s.DeleteBook(ctx, s.DB(), b.ID), store.ErrNotFound)
}

func TestBorrowings(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	u := insertUser(t, s, "reader@example.com", domain.RoleCustomer)
	b := insertBook(t, s, "Ulysses", 3)

	br := &domain.Borrowing{BookID: b.ID, UserID: u.ID}
	require.NoError(t, s.InsertBorrowing(ctx, s.DB(), br))
	assert.NotZero(t, br.ID)

	// the partial unique index allows only one outstanding loan per pair
	err := s.InsertBorrowing(ctx, s.DB(), &domain.Borrowing{BookID: b.ID, UserID: u.ID})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	has, err := s.HasOutstanding(ctx, s.DB(), b.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, has)

	n, err := s.CountOutstandingForBook(ctx, s.DB(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err := s.MarkReturned(ctx, s.DB(), br.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkReturned(ctx, s.DB(), br.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	has, err = s.HasOutstanding(ctx, s.DB(), b.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, has)

	again := &domain.Borrowing{BookID: b.ID, UserID: u.ID}
	require.NoError(t, s.InsertBorrowing(ctx, s.DB(), again))

	pair, err := s.ListBorrowingsByPair(ctx, s.DB(), b.ID, u.ID, domain.DefaultPage())
	require.NoError(t, err)
	require.Len(t, pair, 2)
	assert.True(t, pair[0].IsReturned)
	assert.False(t, pair[1].IsReturned)

	outstanding, err := s.ListOutstanding(ctx, s.DB(), domain.DefaultPage())
	require.NoError(t, err)
	require.Len(t, outstanding, 1)
	assert.Equal(t, again.ID, outstanding[0].ID)

	details, err := s.ListBorrowingDetailsByUser(ctx, s.DB(), u.ID, domain.DefaultPage())
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, br.ID, details[0].ID)
	require.NotNil(t, details[0].Book)
	assert.Equal(t, "Ulysses", details[0].Book.Title)
	require.NotNil(t, details[0].User)
	assert.Equal(t, "reader@example.com", details[0].User.Email)

	deleted, err := s.DeleteReturnedForBook(ctx, s.DB(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.BorrowingByID(ctx, s.DB(), br.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx *sqlx.Tx) error {
		b := &domain.Book{Title: "Lost", Quantity: 1, AvailableQuantity: 1}
		if err := s.InsertBook(ctx, tx, b); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	books, err := s.ListBooks(ctx, s.DB(), domain.DefaultPage())
	require.NoError(t, err)
	assert.Empty(t, books)
}
