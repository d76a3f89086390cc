package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"bookstore/m/internal/library"
)

// ImportResult summarizes a catalog import.
type ImportResult struct {
	Imported int
	// Existing counts rows whose title and author were already cataloged.
	Existing int
	Skipped  int
}

// LoadBooks ingests a title,author,quantity CSV into the catalog, ignoring
// books that are already present. The first row is a header. Rows the
// catalog rejects are logged and skipped.
func LoadBooks(ctx context.Context, catalog *library.Catalog, csvPath string, log *slog.Logger) (ImportResult, error) {
	file, err := os.Open(csvPath)
	if err != nil {
		return ImportResult{}, fmt.Errorf("open book catalog %s: %w", csvPath, err)
	}
	defer file.Close()

	return ReadBooks(ctx, catalog, file, log)
}

// ReadBooks is LoadBooks over an arbitrary reader. All accepted rows are
// written in one transaction.
func ReadBooks(ctx context.Context, catalog *library.Catalog, r io.Reader, log *slog.Logger) (ImportResult, error) {
	var res ImportResult

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	// Skip header
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		return res, fmt.Errorf("read book header: %w", err)
	}

	var (
		entries []library.NewBook
		rows    []int
	)
	for row := 1; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return res, fmt.Errorf("read book row %d: %w", row, err)
			}
			log.Warn("unable to parse book row", "row", row, "err", err)
			res.Skipped++
			continue
		}

		nb, err := parseBookRecord(record)
		if err != nil {
			log.Warn("skipping book row", "row", row, "err", err)
			res.Skipped++
			continue
		}
		entries = append(entries, nb)
		rows = append(rows, row)
	}

	if len(entries) > 0 {
		outcomes, err := catalog.Import(ctx, entries)
		if err != nil {
			return ImportResult{}, fmt.Errorf("import books: %w", err)
		}
		for i, err := range outcomes {
			switch {
			case err == nil:
				res.Imported++
			case errors.Is(err, library.ErrBookExists):
				log.Debug("book already cataloged", "row", rows[i], "title", entries[i].Title)
				res.Existing++
			default:
				log.Warn("skipping book row", "row", rows[i], "err", err)
				res.Skipped++
			}
		}
	}

	log.Info("book import finished", "imported", res.Imported, "existing", res.Existing, "skipped", res.Skipped)
	return res, nil
}

func parseBookRecord(record []string) (library.NewBook, error) {
	if len(record) < 1 {
		return library.NewBook{}, errors.New("empty row")
	}
	nb := library.NewBook{Title: strings.TrimSpace(record[0])}
	if len(record) > 1 {
		nb.Author = strings.TrimSpace(record[1])
	}
	if len(record) > 2 {
		if raw := strings.TrimSpace(record[2]); raw != "" {
			qty, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return library.NewBook{}, fmt.Errorf("invalid quantity %q", raw)
			}
			nb.Quantity = &qty
		}
	}
	return nb, nil
}
