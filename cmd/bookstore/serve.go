package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bookstore/m/internal/api"
	"bookstore/m/internal/seed"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var booksCSV string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := seed.EnsureAdmin(ctx, a.directory, a.cfg.AdminEmail, a.cfg.AdminPassword, a.log); err != nil {
				return err
			}
			if booksCSV != "" {
				if _, err := seed.LoadBooks(ctx, a.catalog, booksCSV, a.log); err != nil {
					return err
				}
			}

			handler := api.New(api.Services{
				Directory: a.directory,
				Catalog:   a.catalog,
				Workflow:  a.workflow,
			}, api.Options{
				Secret:         a.cfg.Secret,
				TokenTTL:       a.cfg.TokenTTL,
				AllowedOrigins: a.cfg.CORSOrigins,
			}, a.log)

			srv := &http.Server{
				Addr:              ":" + a.cfg.HTTPPort,
				Handler:           handler.Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("library server starting", "port", a.cfg.HTTPPort, "driver", a.cfg.DatabaseDriver)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&booksCSV, "books-csv", "", "import a title,author,quantity CSV before serving")
	return cmd
}
