package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/saltyorg/cookieshop/internal/auth"
	"github.com/saltyorg/cookieshop/internal/logging"
)

// withApp runs fn against an initialized storage stack. Maintenance commands
// log to the console only.
func withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, loader := loadConfig()
		logging.Apply(cfg.LogLevel, loader, "")

		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := a.db.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		return fn(ctx, a, args)
	}
}

func usersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List registered users",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			users, err := a.store.GetAllUsers(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tEMAIL\tCREATED\tSIGNED IN")
			for _, u := range users {
				current := ""
				if a.session.IsCurrent(u.ID) {
					current = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.CreatedAt, current)
			}
			return w.Flush()
		}),
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <email>",
		Short: "Show order, favorite and cart totals for a user",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			user, err := a.store.GetUserByEmail(ctx, args[0])
			if err != nil {
				return err
			}
			if user == nil {
				return fmt.Errorf("no user with email %q", args[0])
			}

			stats, err := a.store.GetStats(ctx, user.ID)
			if err != nil {
				return err
			}
			return printJSON(stats)
		}),
	}
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all users, carts, favorites and orders",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			if !yes {
				return errors.New("refusing to delete all data without --yes")
			}
			if err := a.store.ClearAllData(ctx, a.session); err != nil {
				return err
			}
			fmt.Println("All data cleared")
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting all data")
	return cmd
}

// readOnlyPrefixes are statements answered with rows
var readOnlyPrefixes = []string{"SELECT", "WITH", "PRAGMA", "EXPLAIN"}

func sqlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sql <statement> [args...]",
		Short: "Run a SQL statement against the storage backend",
		Long: `Run a SQL statement. Reads print one JSON object per row; writes print
the number of changed rows. The kv backend accepts the same subset of SQL the
application itself uses.`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, args []string) error {
			stmt := args[0]
			params := make([]any, len(args)-1)
			for i, arg := range args[1:] {
				params[i] = arg
			}

			if isQuery(stmt) {
				rows, err := a.db.QuerySQL(ctx, stmt, params...)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				for _, row := range rows {
					if err := enc.Encode(row); err != nil {
						return err
					}
				}
				return nil
			}

			res, err := a.db.RunSQL(ctx, stmt, params...)
			if err != nil {
				return err
			}
			fmt.Printf("%d row(s) changed\n", res.Changes)
			return nil
		}),
	}
}

func isQuery(stmt string) bool {
	head := strings.ToUpper(strings.TrimSpace(stmt))
	for _, p := range readOnlyPrefixes {
		if strings.HasPrefix(head, p) {
			return true
		}
	}
	return false
}

func migratePasswordsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-passwords",
		Short: "Replace plaintext passwords with bcrypt hashes",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app, _ []string) error {
			migrated, failed, err := auth.MigratePlaintextPasswords(ctx, a.store, a.session, auth.NewHasher(a.cfg.BcryptCost))
			if err != nil {
				return err
			}
			fmt.Printf("Migrated %d password(s), %d failed\n", migrated, failed)
			return nil
		}),
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the admin API token, creating it if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadConfig()
			token, err := auth.LoadOrCreateToken(cfg.AdminTokenPath())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
