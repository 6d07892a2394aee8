package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/onixbyte/helix/internal/auth"
	"github.com/onixbyte/helix/internal/migrate"
	"github.com/onixbyte/helix/internal/obs"
	"github.com/onixbyte/helix/internal/store/pg"
)

const commandTimeout = 30 * time.Second

func main() {
	if err := newRootCmd(os.Stdin).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader) *cobra.Command {
	var (
		dsn      string
		logLevel string
	)
	root := &cobra.Command{
		Use:           "helix-migrate",
		Short:         "Manage the helix database schema and accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("HELIX_DATABASE_DSN"), "PostgreSQL DSN (default $HELIX_DATABASE_DSN)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level")

	withDB := func(fn func(ctx context.Context, db *sql.DB, logger *zap.Logger) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			if dsn == "" {
				return errors.New("missing DSN: provide via --dsn or HELIX_DATABASE_DSN")
			}
			logger, err := obs.NewLogger("development", logLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			return fn(ctx, db, logger)
		}
	}
	manager := func(db *sql.DB, logger *zap.Logger) *migrate.Manager {
		return migrate.NewManager(db, migrate.Embedded(), "sql", "seeds", migrate.WithLogger(logger))
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: withDB(func(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
				return manager(db, logger).Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: withDB(func(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
				return manager(db, logger).Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Apply pending seeds",
			RunE: withDB(func(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
				return manager(db, logger).Seed(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			RunE: withDB(func(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
				history, err := manager(db, logger).Status(ctx)
				if err != nil {
					return err
				}
				for _, item := range history {
					fmt.Println(item)
				}
				return nil
			}),
		},
		newHashPasswordCmd(stdin),
		newCreateUserCmd(stdin, withDB),
	)
	return root
}

// readPassword reads one line from r. The returned secret must be erased by
// the caller.
func readPassword(r io.Reader) (auth.Secret, error) {
	line, err := bufio.NewReader(r).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read password: %w", err)
	}
	pw := auth.Secret(trimNewline(line))
	if pw.Empty() {
		return nil, errors.New("password must not be empty")
	}
	return pw, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func newHashPasswordCmd(stdin io.Reader) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, err := readPassword(stdin)
			if err != nil {
				return err
			}
			defer pw.Erase()
			hash, err := auth.BcryptHasher{}.Hash(pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

type dbRunner func(fn func(ctx context.Context, db *sql.DB, logger *zap.Logger) error) func(*cobra.Command, []string) error

func newCreateUserCmd(stdin io.Reader, withDB dbRunner) *cobra.Command {
	var username, fullName string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a local account; the password is read from stdin",
	}
	cmd.Flags().StringVar(&username, "username", "", "login name")
	cmd.Flags().StringVar(&fullName, "full-name", "", "display name (defaults to the username)")
	_ = cmd.MarkFlagRequired("username")

	cmd.RunE = withDB(func(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
		pw, err := readPassword(stdin)
		if err != nil {
			return err
		}
		hash, err := auth.BcryptHasher{}.Hash(pw)
		pw.Erase()
		if err != nil {
			return err
		}
		name := strings.TrimSpace(fullName)
		if name == "" {
			name = username
		}
		user, err := pg.New(db).CreateLocalUser(ctx, username, name, hash)
		if errors.Is(err, auth.ErrConflict) {
			return fmt.Errorf("user %q already exists", username)
		}
		if err != nil {
			return err
		}
		logger.Info("user created", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
		return nil
	})
	return cmd
}
