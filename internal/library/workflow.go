package library

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"bookstore/m/domain"
	"bookstore/m/internal/store"
)

// Workflow lends and takes back books, keeping each book's available
// quantity in step with its outstanding borrowings.
type Workflow struct {
	st  *store.Store
	log *slog.Logger
}

func NewWorkflow(st *store.Store, log *slog.Logger) *Workflow {
	return &Workflow{st: st, log: log}
}

type BorrowRequest struct {
	BookID int64
	// UserID is the borrower.
	UserID int64
	// ActingUserID is the staff member recording the loan.
	ActingUserID int64
}

// Borrow records a loan. The checks run in a fixed order and the first
// failure is returned; nothing is written unless all of them pass.
func (w *Workflow) Borrow(ctx context.Context, req BorrowRequest) (*domain.Borrowing, error) {
	var out *domain.Borrowing
	err := w.st.InTx(ctx, func(tx *sqlx.Tx) error {
		actor, err := w.st.UserByID(ctx, tx, req.ActingUserID)
		if err != nil {
			return notFound(err, "current user not found")
		}
		if !actor.Role.IsStaff() {
			return domain.Errorf(domain.ErrForbidden, "only admins and librarians can lend books")
		}
		if !actor.IsActive {
			return domain.Errorf(domain.ErrForbidden, "current user account is inactive")
		}

		book, err := w.st.LockBook(ctx, tx, req.BookID)
		if err != nil {
			return notFound(err, "book not found")
		}
		if book.AvailableQuantity <= 0 {
			return errNoCopies
		}

		borrower, err := w.st.UserByID(ctx, tx, req.UserID)
		if err != nil {
			return notFound(err, "user not found")
		}
		if !borrower.IsActive {
			return domain.Errorf(domain.ErrInvalidState, "user account is inactive")
		}

		outstanding, err := w.st.HasOutstanding(ctx, tx, req.BookID, req.UserID)
		if err != nil {
			return err
		}
		if outstanding {
			return errAlreadyBorrowed
		}

		b := &domain.Borrowing{BookID: req.BookID, UserID: req.UserID}
		if err := w.st.InsertBorrowing(ctx, tx, b); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return errAlreadyBorrowed
			}
			return err
		}
		ok, err := w.st.DecrementAvailable(ctx, tx, req.BookID)
		if err != nil {
			return err
		}
		if !ok {
			return errNoCopies
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.log.Info("book borrowed",
		"borrowing_id", out.ID,
		"book_id", out.BookID,
		"user_id", out.UserID,
		"acting_user_id", req.ActingUserID,
	)
	return out, nil
}

// Return closes an outstanding loan and puts the copy back on the shelf.
func (w *Workflow) Return(ctx context.Context, borrowingID int64) (*domain.Borrowing, error) {
	var out *domain.Borrowing
	err := w.st.InTx(ctx, func(tx *sqlx.Tx) error {
		b, err := w.st.LockBorrowing(ctx, tx, borrowingID)
		if err != nil {
			return notFound(err, "borrowing not found")
		}
		if b.IsReturned {
			return errAlreadyReturned
		}

		ok, err := w.st.MarkReturned(ctx, tx, b.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadyReturned
		}

		if _, err := w.st.LockBook(ctx, tx, b.BookID); err != nil {
			return notFound(err, "book not found")
		}
		ok, err = w.st.IncrementAvailable(ctx, tx, b.BookID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.Errorf(domain.ErrInvalidState, "all copies are already on the shelf")
		}

		b.IsReturned = true
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.log.Info("book returned", "borrowing_id", out.ID, "book_id", out.BookID, "user_id", out.UserID)
	return out, nil
}

func (w *Workflow) Get(ctx context.Context, id int64) (*domain.Borrowing, error) {
	b, err := w.st.BorrowingByID(ctx, w.st.DB(), id)
	if err != nil {
		return nil, notFound(err, "borrowing not found")
	}
	return b, nil
}

// ListByUser returns the user's borrowings with the referenced book and user.
func (w *Workflow) ListByUser(ctx context.Context, userID int64, page domain.Page) ([]domain.BorrowingDetail, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if _, err := w.st.UserByID(ctx, w.st.DB(), userID); err != nil {
		return nil, notFound(err, "user not found")
	}
	return w.st.ListBorrowingDetailsByUser(ctx, w.st.DB(), userID, page)
}

func (w *Workflow) ListByBook(ctx context.Context, bookID int64, page domain.Page) ([]domain.Borrowing, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if _, err := w.st.BookByID(ctx, w.st.DB(), bookID); err != nil {
		return nil, notFound(err, "book not found")
	}
	return w.st.ListBorrowingsByBook(ctx, w.st.DB(), bookID, page)
}

func (w *Workflow) ListByPair(ctx context.Context, bookID, userID int64, page domain.Page) ([]domain.Borrowing, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	return w.st.ListBorrowingsByPair(ctx, w.st.DB(), bookID, userID, page)
}

func (w *Workflow) ListOutstanding(ctx context.Context, page domain.Page) ([]domain.Borrowing, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	return w.st.ListOutstanding(ctx, w.st.DB(), page)
}

var (
	errNoCopies        = domain.Errorf(domain.ErrInvalidState, "no copies available")
	errAlreadyBorrowed = domain.Errorf(domain.ErrConflict, "already borrowed")
	errAlreadyReturned = domain.Errorf(domain.ErrInvalidState, "borrowing already returned")
)

// notFound turns a store miss into a coded error and passes anything else through.
func notFound(err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.Errorf(domain.ErrNotFound, "%s", msg)
	}
	return err
}
