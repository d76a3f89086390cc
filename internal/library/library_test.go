package library_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"bookstore/m/domain"
	"bookstore/m/internal/config"
	"bookstore/m/internal/database"
	"bookstore/m/internal/library"
	"bookstore/m/internal/migrations"
	"bookstore/m/internal/store"
)

type env struct {
	st        *store.Store
	directory *library.Directory
	catalog   *library.Catalog
	workflow  *library.Workflow
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "library.db") + "?_pragma=foreign_keys(1)"
	db, err := database.Connect(ctx, config.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(ctx, db))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New(db)
	return &env{
		st:        st,
		directory: library.NewDirectory(st, bcrypt.MinCost, log),
		catalog:   library.NewCatalog(st, log),
		workflow:  library.NewWorkflow(st, log),
	}
}

func (e *env) account(t *testing.T, email string, role domain.Role) *domain.User {
	t.Helper()
	u, created, err := e.directory.EnsureAccount(context.Background(), library.Registration{
		Email:    email,
		Password: "password123",
	}, role)
	require.NoError(t, err)
	require.True(t, created)
	return u
}

func (e *env) book(t *testing.T, title string, qty int64) *domain.Book {
	t.Helper()
	b, err := e.catalog.Create(context.Background(), library.NewBook{Title: title, Quantity: &qty})
	require.NoError(t, err)
	return b
}

func (e *env) available(t *testing.T, id int64) int64 {
	t.Helper()
	b, err := e.catalog.Get(context.Background(), id)
	require.NoError(t, err)
	return b.AvailableQuantity
}

func (e *env) loanCount(t *testing.T, bookID int64) int {
	t.Helper()
	list, err := e.workflow.ListByBook(context.Background(), bookID, domain.DefaultPage())
	require.NoError(t, err)
	return len(list)
}

func int64p(v int64) *int64 { return &v }

func TestBorrowReturnScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	librarian := e.account(t, "lib@example.com", domain.RoleLibrarian)
	reader := e.account(t, "u@example.com", domain.RoleCustomer)
	other := e.account(t, "o@example.com", domain.RoleCustomer)
	book := e.book(t, "A", 1)

	loan, err := e.workflow.Borrow(ctx, library.BorrowRequest{BookID: book.ID, UserID: reader.ID, ActingUserID: librarian.ID})
	require.NoError(t, err)
	assert.False(t, loan.IsReturned)
	assert.Equal(t, int64(0), e.available(t, book.ID))

	_, err = e.workflow.Borrow(ctx, library.BorrowRequest{BookID: book.ID, UserID: other.ID, ActingUserID: librarian.ID})
	assert.Equal(t, domain.ErrInvalidState, domain.Code(err))

	returned, err := e.workflow.Return(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, returned.IsReturned)
	assert.Equal(t, int64(1), e.available(t, book.ID))

	_, err = e.workflow.Borrow(ctx, library.BorrowRequest{BookID: book.ID, UserID: reader.ID, ActingUserID: librarian.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.available(t, book.ID))
	assert.Equal(t, 2, e.loanCount(t, book.ID))
}

func TestBorrowPreconditionOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.account(t, "admin@example.com", domain.RoleAdmin)
	customer := e.account(t, "c@example.com", domain.RoleCustomer)
	reader := e.account(t, "r@example.com", domain.RoleCustomer)
	book := e.book(t, "B", 2)
	empty := e.book(t, "Empty", 0)

	tests := []struct {
		name string
		req  library.BorrowRequest
		want domain.ErrCode
	}{
		{"missing actor", library.BorrowRequest{BookID: 999, UserID: 999, ActingUserID: 999}, domain.ErrNotFound},
		{"customer actor", library.BorrowRequest{BookID: 999, UserID: 999, ActingUserID: customer.ID}, domain.ErrForbidden},
		{"missing book", library.BorrowRequest{BookID: 999, UserID: 999, ActingUserID: admin.ID}, domain.ErrNotFound},
		{"no copies", library.BorrowRequest{BookID: empty.ID, UserID: 999, ActingUserID: admin.ID}, domain.ErrInvalidState},
		{"missing borrower", library.BorrowRequest{BookID: book.ID, UserID: 999, ActingUserID: admin.ID}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.workflow.Borrow(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.want, domain.Code(err))
		})
	}

	_, err := e.workflow.Borrow(ctx, library.BorrowRequest{BookID: book.ID, UserID: reader.ID, ActingUserID: admin.ID})
	require.NoError(t, err)

	_, err = e.workflow.Borrow(ctx, library.BorrowRequest{BookID: book.ID, UserID: reader.ID, ActingUserID: admin.ID})
	assert.Equal(t, domain.ErrConflict, domain.Code(err))
	assert.Equal(t, int64(1), e.available(t, book.ID), "conflict must not touch inventory")
	assert.Equal(t, 1, e.loanCount(t, book.ID))
	assert.Equal(t, int64(0), e.available(t, empty.ID))
}

func TestBorrowSelfByCustomerForbidden(t *testing.T) {
	e := newEnv(t)
	customer := e.account(t, "c@example.com", domain.RoleCustomer)
	book := e.book(t, "C", 1)

	_, err := e.workflow.Borrow(context.Background(), library.BorrowRequest{
		BookID: book.ID, UserID: customer.ID, ActingUserID: customer.ID,
	})
	assert.Equal(t, domain.ErrForbidden, domain.Code(err))
	assert.Equal(t, int64(1), e.available(t, book.ID))
	assert.Equal(t, 0, e.loanCount(t, book.ID))
}

func TestConcurrentBorrowLastCopy(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	librarian := e.account(t, "lib@example.com", domain.RoleLibrarian)
	book := e.book(t, "Last copy", 1)

	const n = 8
	readers := make([]*domain.User, n)
	for i := range readers {
		readers[i] = e.account(t, fmt.Sprintf("r%d@example.com", i), domain.RoleCustomer)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		codes     []domain.ErrCode
	)
	for _, r := range readers {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := e.workflow.Borrow(ctx, library.BorrowRequest{BookID: book.ID, UserID: userID, ActingUserID: librarian.ID})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			codes = append(codes, domain.Code(err))
		}(r.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, c := range codes {
		assert.Equal(t, domain.ErrInvalidState, c)
	}
	assert.Equal(t, int64(0), e.available(t, book.ID))
	assert.Equal(t, 1, e.loanCount(t, book.ID))
}

func TestReturnTwice(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.account(t, "admin@example.com", domain.RoleAdmin)
	reader := e.account(t, "r@example.com", domain.RoleCustomer)
	book := e.book(t, "D", 3)

	loan, err := e.workflow.Borrow(ctx, library.BorrowRequest{BookID: book.ID, UserID: reader.ID, ActingUserID: admin.ID})
	require.NoError(t, err)
	_, err = e.workflow.Return(ctx, loan.ID)
	require.NoError(t, err)

	_, err = e.workflow.Return(ctx, loan.ID)
	assert.Equal(t, domain.ErrInvalidState, domain.Code(err))
	assert.Equal(t, int64(3), e.available(t, book.ID))

	_, err = e.workflow.Return(ctx, 999)
	assert.Equal(t, domain.ErrNotFound, domain.Code(err))
}

func TestBorrowingQueries(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.account(t, "admin@example.com", domain.RoleAdmin)
	reader := e.account(t, "r@example.com", domain.RoleCustomer)
	b1 := e.book(t, "One", 2)
	b2 := e.book(t, "Two", 2)

	l1, err := e.workflow.Borrow(ctx, library.BorrowRequest{BookID: b1.ID, UserID: reader.ID, ActingUserID: admin.ID})
	require.NoError(t, err)
	l2, err := e.workflow.Borrow(ctx, library.BorrowRequest{BookID: b2.ID, UserID: reader.ID, ActingUserID: admin.ID})
	require.NoError(t, err)
	_, err = e.workflow.Return(ctx, l1.ID)
	require.NoError(t, err)

	details, err := e.workflow.ListByUser(ctx, reader.ID, domain.DefaultPage())
	require.NoError(t, err)
	require.Len(t, details, 2)
	assert.Equal(t, l1.ID, details[0].ID)
	assert.Equal(t, "Two", details[1].Book.Title)
	assert.Equal(t, reader.Email, details[1].User.Email)

	window, err := e.workflow.ListByUser(ctx, reader.ID, domain.Page{Skip: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, l2.ID, window[0].ID)

	_, err = e.workflow.ListByUser(ctx, 999, domain.DefaultPage())
	assert.Equal(t, domain.ErrNotFound, domain.Code(err))

	_, err = e.workflow.ListByUser(ctx, reader.ID, domain.Page{Limit: 0})
	assert.Equal(t, domain.ErrInvalidInput, domain.Code(err))

	active, err := e.workflow.ListOutstanding(ctx, domain.DefaultPage())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, l2.ID, active[0].ID)

	pair, err := e.workflow.ListByPair(ctx, b1.ID, reader.ID, domain.DefaultPage())
	require.NoError(t, err)
	require.Len(t, pair, 1)
	assert.True(t, pair[0].IsReturned)

	got, err := e.workflow.Get(ctx, l2.ID)
	require.NoError(t, err)
	assert.Equal(t, b2.ID, got.BookID)

	_, err = e.workflow.ListByBook(ctx, 999, domain.DefaultPage())
	assert.Equal(t, domain.ErrNotFound, domain.Code(err))
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.directory.Register(ctx, library.Registration{Email: "a@example.com", Password: "1234567"})
	assert.Equal(t, domain.ErrInvalidInput, domain.Code(err))

	u, err := e.directory.Register(ctx, library.Registration{
		Email: "  A@Example.com ", FirstName: "Ada", LastName: "Lovelace", Password: "12345678",
	})
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", u.Email)
	assert.Equal(t, domain.RoleCustomer, u.Role)
	assert.True(t, u.IsActive)
	assert.NotEqual(t, "12345678", u.PasswordHash)

	_, err = e.directory.Register(ctx, library.Registration{Email: "a@example.com", Password: "abcdefgh"})
	assert.Equal(t, domain.ErrConflict, domain.Code(err))

	_, err = e.directory.Register(ctx, library.Registration{Email: "", Password: "abcdefgh"})
	assert.Equal(t, domain.ErrInvalidInput, domain.Code(err))
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.account(t, "admin@example.com", domain.RoleAdmin)
	u, err := e.directory.Register(ctx, library.Registration{Email: "u@example.com", Password: "correct horse"})
	require.NoError(t, err)

	got, err := e.directory.Authenticate(ctx, "U@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = e.directory.Authenticate(ctx, "u@example.com", "wrong horse")
	assert.Equal(t, domain.ErrUnauthenticated, domain.Code(err))
	_, err = e.directory.Authenticate(ctx, "nobody@example.com", "correct horse")
	assert.Equal(t, domain.ErrUnauthenticated, domain.Code(err))

	inactive := false
	_, err = e.directory.Update(ctx, u.ID, admin.ID, domain.UserPatch{IsActive: &inactive})
	require.NoError(t, err)
	_, err = e.directory.Authenticate(ctx, "u@example.com", "correct horse")
	assert.Equal(t, domain.ErrUnauthenticated, domain.Code(err))
}

func TestUpdateRole(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.account(t, "admin@example.com", domain.RoleAdmin)
	librarian := e.account(t, "lib@example.com", domain.RoleLibrarian)
	target := e.account(t, "t@example.com", domain.RoleCustomer)

	role := domain.RoleLibrarian
	_, err := e.directory.Update(ctx, target.ID, librarian.ID, domain.UserPatch{Role: &role})
	assert.Equal(t, domain.ErrForbidden, domain.Code(err))
	_, err = e.directory.Update(ctx, 999, 998, domain.UserPatch{Role: &role})
	assert.Equal(t, domain.ErrForbidden, domain.Code(err))
	_, err = e.directory.Update(ctx, 999, admin.ID, domain.UserPatch{Role: &role})
	assert.Equal(t, domain.ErrNotFound, domain.Code(err))

	updated, err := e.directory.Update(ctx, target.ID, admin.ID, domain.UserPatch{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleLibrarian, updated.Role)

	got, err := e.directory.Get(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleLibrarian, got.Role)
	assert.Equal(t, "t@example.com", got.Email)

	bad := domain.Role("superuser")
	_, err = e.directory.Update(ctx, target.ID, admin.ID, domain.UserPatch{Role: &bad})
	assert.Equal(t, domain.ErrInvalidInput, domain.Code(err))

	taken := "ADMIN@example.com"
	_, err = e.directory.Update(ctx, target.ID, admin.ID, domain.UserPatch{Email: &taken})
	assert.Equal(t, domain.ErrConflict, domain.Code(err))
}

func TestEnsureAccountIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	first := e.account(t, "root@example.com", domain.RoleAdmin)

	again, created, err := e.directory.EnsureAccount(ctx, library.Registration{Email: "root@example.com", Password: "different1"}, domain.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	users, err := e.directory.List(ctx, domain.DefaultPage())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	def, err := e.catalog.Create(ctx, library.NewBook{Title: "Defaults"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), def.Quantity)
	assert.Equal(t, int64(1), def.AvailableQuantity)

	_, err = e.catalog.Create(ctx, library.NewBook{Title: "  "})
	assert.Equal(t, domain.ErrInvalidInput, domain.Code(err))
	_, err = e.catalog.Create(ctx, library.NewBook{Title: "Bad", Quantity: int64p(1), AvailableQuantity: int64p(2)})
	assert.Equal(t, domain.ErrInvalidInput, domain.Code(err))

	partial, err := e.catalog.Create(ctx, library.NewBook{Title: "Partial", Author: "X", Quantity: int64p(4), AvailableQuantity: int64p(3)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), partial.AvailableQuantity)

	author := "Y"
	got, err := e.catalog.Update(ctx, partial.ID, domain.BookPatch{Author: &author})
	require.NoError(t, err)
	assert.Equal(t, "Partial", got.Title)
	assert.Equal(t, "Y", got.Author)
	assert.Equal(t, int64(4), got.Quantity)

	// one copy is on loan: shrinking to 1 leaves none on the shelf
	got, err = e.catalog.Update(ctx, partial.ID, domain.BookPatch{Quantity: int64p(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Quantity)
	assert.Equal(t, int64(0), got.AvailableQuantity)

	_, err = e.catalog.Update(ctx, partial.ID, domain.BookPatch{Quantity: int64p(0)})
	assert.Equal(t, domain.ErrInvalidState, domain.Code(err))
	_, err = e.catalog.Update(ctx, partial.ID, domain.BookPatch{Quantity: int64p(-1)})
	assert.Equal(t, domain.ErrInvalidInput, domain.Code(err))
	_, err = e.catalog.Update(ctx, 999, domain.BookPatch{Author: &author})
	assert.Equal(t, domain.ErrNotFound, domain.Code(err))

	books, err := e.catalog.List(ctx, domain.DefaultPage())
	require.NoError(t, err)
	assert.Len(t, books, 2)
}

func TestCatalogDelete(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.account(t, "admin@example.com", domain.RoleAdmin)
	reader := e.account(t, "r@example.com", domain.RoleCustomer)
	book := e.book(t, "Gone", 1)

	loan, err := e.workflow.Borrow(ctx, library.BorrowRequest{BookID: book.ID, UserID: reader.ID, ActingUserID: admin.ID})
	require.NoError(t, err)

	err = e.catalog.Delete(ctx, book.ID)
	assert.Equal(t, domain.ErrInvalidState, domain.Code(err))

	_, err = e.workflow.Return(ctx, loan.ID)
	require.NoError(t, err)
	require.NoError(t, e.catalog.Delete(ctx, book.ID))

	_, err = e.catalog.Get(ctx, book.ID)
	assert.Equal(t, domain.ErrNotFound, domain.Code(err))
	assert.Equal(t, domain.ErrNotFound, domain.Code(e.catalog.Delete(ctx, book.ID)))
}

func TestBorrowInactiveAccounts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.account(t, "admin@example.com", domain.RoleAdmin)
	librarian := e.account(t, "lib@example.com", domain.RoleLibrarian)
	reader := e.account(t, "r@example.com", domain.RoleCustomer)
	book := e.book(t, "Quiet", 2)

	off := false
	_, err := e.directory.Update(ctx, librarian.ID, admin.ID, domain.UserPatch{IsActive: &off})
	require.NoError(t, err)
	_, err = e.workflow.Borrow(ctx, library.BorrowRequest{BookID: book.ID, UserID: reader.ID, ActingUserID: librarian.ID})
	assert.Equal(t, domain.ErrForbidden, domain.Code(err))

	_, err = e.directory.Update(ctx, reader.ID, admin.ID, domain.UserPatch{IsActive: &off})
	require.NoError(t, err)
	_, err = e.workflow.Borrow(ctx, library.BorrowRequest{BookID: book.ID, UserID: reader.ID, ActingUserID: admin.ID})
	assert.Equal(t, domain.ErrInvalidState, domain.Code(err))

	assert.Equal(t, int64(2), e.available(t, book.ID))
	assert.Equal(t, 0, e.loanCount(t, book.ID))

	on := true
	_, err = e.directory.Update(ctx, reader.ID, admin.ID, domain.UserPatch{IsActive: &on})
	require.NoError(t, err)
	_, err = e.workflow.Borrow(ctx, library.BorrowRequest{BookID: book.ID, UserID: reader.ID, ActingUserID: admin.ID})
	require.NoError(t, err)
}

func TestUpdateByInactiveAdmin(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	root := e.account(t, "root@example.com", domain.RoleAdmin)
	second := e.account(t, "second@example.com", domain.RoleAdmin)
	target := e.account(t, "t@example.com", domain.RoleCustomer)

	off := false
	_, err := e.directory.Update(ctx, second.ID, root.ID, domain.UserPatch{IsActive: &off})
	require.NoError(t, err)

	role := domain.RoleLibrarian
	_, err = e.directory.Update(ctx, target.ID, second.ID, domain.UserPatch{Role: &role})
	assert.Equal(t, domain.ErrForbidden, domain.Code(err))

	got, err := e.directory.Get(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, got.Role)
}

func TestEmptyPatchLeavesRecordsAlone(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	admin := e.account(t, "admin@example.com", domain.RoleAdmin)
	customer := e.account(t, "c@example.com", domain.RoleCustomer)
	target := e.account(t, "t@example.com", domain.RoleCustomer)
	book := e.book(t, "Still", 3)

	u, err := e.directory.Update(ctx, target.ID, admin.ID, domain.UserPatch{})
	require.NoError(t, err)
	assert.Equal(t, target.ID, u.ID)
	assert.Equal(t, "t@example.com", u.Email)
	assert.Equal(t, domain.RoleCustomer, u.Role)
	assert.True(t, u.IsActive)

	// the admin check still runs before the no-op shortcut
	_, err = e.directory.Update(ctx, target.ID, customer.ID, domain.UserPatch{})
	assert.Equal(t, domain.ErrForbidden, domain.Code(err))
	_, err = e.directory.Update(ctx, 999, admin.ID, domain.UserPatch{})
	assert.Equal(t, domain.ErrNotFound, domain.Code(err))

	b, err := e.catalog.Update(ctx, book.ID, domain.BookPatch{})
	require.NoError(t, err)
	assert.Equal(t, "Still", b.Title)
	assert.Equal(t, int64(3), b.Quantity)
	assert.Equal(t, int64(3), b.AvailableQuantity)

	_, err = e.catalog.Update(ctx, 999, domain.BookPatch{})
	assert.Equal(t, domain.ErrNotFound, domain.Code(err))
}

func TestCatalogImport(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.book(t, "Existing", 1)

	results, err := e.catalog.Import(ctx, []library.NewBook{
		{Title: "Existing"},
		{Title: "Fresh", Author: "A", Quantity: int64p(2)},
		{Title: " "},
		{Title: "Fresh", Author: "A", Quantity: int64p(9)},
		{Title: "Fresh", Author: "B"},
	})
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.ErrorIs(t, results[0], library.ErrBookExists)
	assert.NoError(t, results[1])
	assert.Equal(t, domain.ErrInvalidInput, domain.Code(results[2]))
	assert.ErrorIs(t, results[3], library.ErrBookExists)
	assert.NoError(t, results[4])

	books, err := e.catalog.List(ctx, domain.DefaultPage())
	require.NoError(t, err)
	require.Len(t, books, 3)
	assert.Equal(t, int64(2), books[1].Quantity)
}
