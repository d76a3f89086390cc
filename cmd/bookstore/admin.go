package main

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"bookstore/m/domain"
	"bookstore/m/internal/library"
)

// readPassword reads a password from the terminal without echoing it.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(bytePassword)), nil
}

func newCreateAdminCmd() *cobra.Command {
	var (
		email     string
		firstName string
		lastName  string
		password  string
	)

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				pw, err := readPassword("Admin password: ")
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				confirm, err := readPassword("Confirm password: ")
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				if pw != confirm {
					return errors.New("passwords do not match")
				}
				password = pw
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			u, created, err := a.directory.EnsureAccount(cmd.Context(), library.Registration{
				Email:     email,
				FirstName: firstName,
				LastName:  lastName,
				Password:  password,
			}, domain.RoleAdmin)
			if err != nil {
				return err
			}

			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "User %s already exists (id %d, role %s)\n", u.Email, u.ID, u.Role)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Admin %s created with id %d\n", u.Email, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&lastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
