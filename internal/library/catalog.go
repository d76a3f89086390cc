package library

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"

	"bookstore/m/domain"
	"bookstore/m/internal/store"
)

// Catalog manages the book inventory.
type Catalog struct {
	st  *store.Store
	log *slog.Logger
}

func NewCatalog(st *store.Store, log *slog.Logger) *Catalog {
	return &Catalog{st: st, log: log}
}

// NewBook describes a catalog entry. Quantity defaults to 1 and
// AvailableQuantity to Quantity.
type NewBook struct {
	Title             string
	Author            string
	Quantity          *int64
	AvailableQuantity *int64
}

func (c *Catalog) Create(ctx context.Context, nb NewBook) (*domain.Book, error) {
	b, err := nb.book()
	if err != nil {
		return nil, err
	}
	if err := c.st.InsertBook(ctx, c.st.DB(), b); err != nil {
		return nil, err
	}
	c.log.Info("book created", "book_id", b.ID, "quantity", b.Quantity)
	return b, nil
}

// ErrBookExists marks an import entry whose title and author are already
// cataloged.
var ErrBookExists = domain.Errorf(domain.ErrConflict, "book already in catalog")

// Import adds entries in one transaction, skipping those already present
// by title and author. The result holds one error per entry: nil when the
// book was created, ErrBookExists when it was skipped, or the coded error
// that rejected it. Any uncoded error aborts the whole import.
func (c *Catalog) Import(ctx context.Context, entries []NewBook) ([]error, error) {
	results := make([]error, len(entries))
	created := 0
	err := c.st.InTx(ctx, func(tx *sqlx.Tx) error {
		for i, nb := range entries {
			b, err := nb.book()
			if err != nil {
				results[i] = err
				continue
			}

			_, err = c.st.BookByTitleAuthor(ctx, tx, b.Title, b.Author)
			switch {
			case err == nil:
				results[i] = ErrBookExists
				continue
			case !errors.Is(err, store.ErrNotFound):
				return err
			}

			if err := c.st.InsertBook(ctx, tx, b); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("books imported", "created", created, "entries", len(entries))
	return results, nil
}

func (nb NewBook) book() (*domain.Book, error) {
	b := &domain.Book{
		Title:    strings.TrimSpace(nb.Title),
		Author:   strings.TrimSpace(nb.Author),
		Quantity: 1,
	}
	if b.Title == "" {
		return nil, domain.Errorf(domain.ErrInvalidInput, "title is required")
	}
	if nb.Quantity != nil {
		b.Quantity = *nb.Quantity
	}
	b.AvailableQuantity = b.Quantity
	if nb.AvailableQuantity != nil {
		b.AvailableQuantity = *nb.AvailableQuantity
	}
	if b.Quantity < 0 {
		return nil, domain.Errorf(domain.ErrInvalidInput, "quantity must not be negative")
	}
	if b.AvailableQuantity < 0 || b.AvailableQuantity > b.Quantity {
		return nil, domain.Errorf(domain.ErrInvalidInput, "available quantity must be between 0 and quantity")
	}
	return b, nil
}

func (c *Catalog) Get(ctx context.Context, id int64) (*domain.Book, error) {
	b, err := c.st.BookByID(ctx, c.st.DB(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.Errorf(domain.ErrNotFound, "book not found")
	}
	return b, err
}

func (c *Catalog) List(ctx context.Context, page domain.Page) ([]domain.Book, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	return c.st.ListBooks(ctx, c.st.DB(), page)
}

// Update merges the supplied fields into the stored book. Changing the
// quantity keeps the number of copies on loan unchanged.
func (c *Catalog) Update(ctx context.Context, id int64, patch domain.BookPatch) (*domain.Book, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, domain.Errorf(domain.ErrInvalidInput, "title must not be empty")
	}
	if patch.Quantity != nil && *patch.Quantity < 0 {
		return nil, domain.Errorf(domain.ErrInvalidInput, "quantity must not be negative")
	}

	var out *domain.Book
	err := c.st.InTx(ctx, func(tx *sqlx.Tx) error {
		b, err := c.st.LockBook(ctx, tx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Errorf(domain.ErrNotFound, "book not found")
			}
			return err
		}
		if patch.Empty() {
			out = b
			return nil
		}

		if patch.Title != nil {
			b.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Author != nil {
			b.Author = strings.TrimSpace(*patch.Author)
		}
		if patch.Quantity != nil {
			available := *patch.Quantity - b.OnLoan()
			if available < 0 {
				return domain.Errorf(domain.ErrInvalidState, "quantity below copies on loan")
			}
			b.Quantity = *patch.Quantity
			b.AvailableQuantity = available
		}

		if err := c.st.UpdateBook(ctx, tx, b, patch); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !patch.Empty() {
		c.log.Info("book updated", "book_id", out.ID)
	}
	return out, nil
}

// Delete removes a book and its returned-loan history. Books with
// outstanding loans cannot be deleted.
func (c *Catalog) Delete(ctx context.Context, id int64) error {
	err := c.st.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := c.st.LockBook(ctx, tx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Errorf(domain.ErrNotFound, "book not found")
			}
			return err
		}

		n, err := c.st.CountOutstandingForBook(ctx, tx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.Errorf(domain.ErrInvalidState, "book has %d outstanding borrowings", n)
		}

		if _, err := c.st.DeleteReturnedForBook(ctx, tx, id); err != nil {
			return err
		}
		return c.st.DeleteBook(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	c.log.Info("book deleted", "book_id", id)
	return nil
}
