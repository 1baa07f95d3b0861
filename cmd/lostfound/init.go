package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/lostfound/internal/central"
	"github.com/erazemk/lostfound/internal/store"
)

var (
	adminUser  string
	adminEmail string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database schema and an admin account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := initDatabase(cmd.Context(), adminUser, adminEmail)
		if err != nil {
			return err
		}
		printInitResult(cmd, adminUser, password)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVarP(&adminUser, "user", "u", "admin", "admin username")
	initCmd.Flags().StringVarP(&adminEmail, "email", "e", "admin@localhost", "admin email")
}

// initDatabase ensures the schema and creates the admin user. It refuses
// to run against a database that already has accounts.
func initDatabase(ctx context.Context, username, email string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	database, err := central.OpenDatabase(cfg.Database.Driver, cfg.DSN())
	if err != nil {
		return "", err
	}
	defer database.Close()

	n, err := store.CountUsers(ctx, database)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return "", fmt.Errorf("database already has %d user(s); refusing to create another admin", n)
	}

	password, err := generatePassword(16)
	if err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	if _, err := store.CreateUser(ctx, database, username, email, string(hash), true); err != nil {
		return "", fmt.Errorf("creating admin user: %w", err)
	}
	return password, nil
}

// printInitResult prints the database initialization result to stdout.
func printInitResult(cmd *cobra.Command, username, password string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database ready (%s).\n", cfg.Database.Driver)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Admin account created:")
	fmt.Fprintf(out, "  Username: %s\n", username)
	fmt.Fprintf(out, "  Password: %s\n", password)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Save this password, it cannot be recovered.")
	fmt.Fprintln(out, "The admin can change it after logging in.")
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
