package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pel/esocialize-portal/app"
	"github.com/pel/esocialize-portal/identity"
	"github.com/pel/esocialize-portal/migrations"
	"github.com/pel/esocialize-portal/models"
	"github.com/pel/esocialize-portal/repositories"
)

// cliActor is recorded as the actor of changes made from the command line
const cliActor = "cli"

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Manage the principal store schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}

			cfg, logger, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cfg.Store, logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if store.DB == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "memory store has no schema")
				return nil
			}
			return runMigrate(cmd.Context(), cmd.OutOrStdout(), store, direction)
		},
	}
}

func runMigrate(ctx context.Context, out io.Writer, store *app.Store, direction string) error {
	switch direction {
	case "up":
		if err := migrations.Up(ctx, store.DB, store.Dialect); err != nil {
			return err
		}
	case "down":
		if err := migrations.Down(ctx, store.DB, store.Dialect); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate direction %q", direction)
	}

	v, err := migrations.Version(ctx, store.DB, store.Dialect)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "schema version %d\n", v)
	return nil
}

func newPromoteCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "promote <principal-id>",
		Short: "Set a principal's role directly in the store",
		Long: "Sets the role of a principal without going through the admin API. " +
			"Used to bootstrap the first admin. The principal is created if it has never signed in.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := models.ParseRole(role)
			if err != nil {
				return err
			}

			cfg, logger, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cfg.Store, logger)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}

			previous, err := promote(cmd.Context(), store.Repos, args[0], target)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", args[0], previous, target)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", string(models.RoleAdmin), "Role to assign (admin, core_member, team_member, pending)")
	return cmd
}

// promote creates the principal if needed, sets its role and records the
// change in the audit trail. It returns the previous role.
func promote(ctx context.Context, repos *repositories.Repositories, id string, role models.Role) (models.Role, error) {
	if id == "" {
		return "", fmt.Errorf("principal id is required")
	}

	if _, _, err := repos.Principals.CreateIfAbsent(ctx, models.NewPendingPrincipal(models.Identity{ID: id, DisplayName: id})); err != nil {
		return "", fmt.Errorf("create principal: %w", err)
	}

	previous, err := repos.Principals.UpdateRole(ctx, id, role)
	if err != nil {
		return "", fmt.Errorf("update role: %w", err)
	}

	log := models.NewAuditLog(cliActor, id, models.AuditActionRoleChanged).WithChange(previous, role)
	if err := repos.AuditLogs.Insert(ctx, log); err != nil {
		return previous, fmt.Errorf("role changed but audit entry not written: %w", err)
	}
	return previous, nil
}

func newTokenCmd() *cobra.Command {
	var (
		name  string
		email string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <principal-id>",
		Short: "Issue a development bearer token",
		Long:  "Signs a short-lived HS256 token with DEV_TOKEN_SECRET for local testing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Identity.DevSecret == "" {
				return fmt.Errorf("DEV_TOKEN_SECRET is not set")
			}

			if name == "" {
				name = args[0]
			}
			token, err := identity.IssueDevToken(cfg.Identity.DevSecret, models.Identity{
				ID:          args[0],
				DisplayName: name,
				Email:       email,
			}, ttl)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the id)")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func newSectionsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "sections",
		Short: "List the portal section catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch output {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(models.Catalog)
			case "table":
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tNAME")
				for _, s := range models.Catalog {
					_, _ = fmt.Fprintf(tw, "%s\t%s\n", s.ID, s.Name)
				}
				return tw.Flush()
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	return cmd
}
