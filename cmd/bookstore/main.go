package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"bookstore/m/internal/config"
	"bookstore/m/internal/database"
	"bookstore/m/internal/library"
	"bookstore/m/internal/migrations"
	"bookstore/m/internal/store"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "bookstore",
		Short:         "Library lending service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newCreateAdminCmd(),
		newImportBooksCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg       config.Config
	log       *slog.Logger
	db        *sqlx.DB
	directory *library.Directory
	catalog   *library.Catalog
	workflow  *library.Workflow
}

// openApp loads configuration, connects to the database, applies the schema
// and builds the library services.
func openApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	db, err := database.Connect(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := migrations.Run(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	st := store.New(db)
	return &app{
		cfg:       cfg,
		log:       log,
		db:        db,
		directory: library.NewDirectory(st, cfg.BcryptCost, log),
		catalog:   library.NewCatalog(st, log),
		workflow:  library.NewWorkflow(st, log),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			a.log.Info("schema up to date", "driver", a.cfg.DatabaseDriver)
			return nil
		},
	}
}
