package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bookstore/m/internal/seed"
)

func newImportBooksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-books <file.csv>",
		Short: "Import books from a title,author,quantity CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := seed.LoadBooks(cmd.Context(), a.catalog, args[0], a.log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d books, skipped %d rows\n", res.Imported, res.Skipped)
			return nil
		},
	}
}
