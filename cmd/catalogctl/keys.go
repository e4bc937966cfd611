package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabworks/piecemark/internal/auth/apikey"
	"github.com/fabworks/piecemark/pkg/postgres"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Keys manages the catalog's API keys directly in PostgreSQL. Because it
does not go through the API, it can bootstrap the first key on a fresh
installation.`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		project, _ := cmd.Flags().GetString("project")
		rateLimit, _ := cmd.Flags().GetInt("rate-limit")
		expiresIn, _ := cmd.Flags().GetString("expires-in")

		if name == "" {
			return fmt.Errorf("--name is required")
		}

		var expiresAt *time.Time
		if expiresIn != "" {
			d, err := time.ParseDuration(expiresIn)
			if err != nil {
				return fmt.Errorf("invalid --expires-in: %w", err)
			}
			t := time.Now().Add(d)
			expiresAt = &t
		}

		return withValidator(func(ctx context.Context, v *apikey.Validator) error {
			key, err := v.CreateKey(ctx, name, project, rateLimit, expiresAt)
			if err != nil {
				return fmt.Errorf("creating key: %w", err)
			}

			fmt.Println("API key created.")
			fmt.Println("Store this key securely; it cannot be retrieved again.")
			fmt.Println()
			fmt.Printf("  Key:        %s\n", key)
			fmt.Printf("  Name:       %s\n", name)
			if project != "" {
				fmt.Printf("  Project:    %s\n", project)
			} else {
				fmt.Println("  Project:    (unrestricted)")
			}
			fmt.Printf("  Rate limit: %d req/min\n", rateLimit)
			if expiresAt != nil {
				fmt.Printf("  Expires:    %s\n", expiresAt.Format(time.RFC3339))
			} else {
				fmt.Println("  Expires:    never")
			}
			return nil
		})
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withValidator(func(ctx context.Context, v *apikey.Validator) error {
			keys, err := v.ListKeys(ctx)
			if err != nil {
				return fmt.Errorf("listing keys: %w", err)
			}
			if len(keys) == 0 {
				fmt.Println("No active API keys.")
				return nil
			}

			fmt.Printf("%-36s  %-20s  %-16s  %-10s  %s\n", "ID", "Name", "Project", "Rate Limit", "Expires")
			for _, k := range keys {
				project := k.Project
				if project == "" {
					project = "-"
				}
				expires := "never"
				if k.ExpiresAt != nil {
					expires = k.ExpiresAt.Format(time.RFC3339)
				}
				fmt.Printf("%-36s  %-20s  %-16s  %-10d  %s\n", k.ID, k.Name, project, k.RateLimit, expires)
			}
			fmt.Printf("\nTotal: %d active key(s)\n", len(keys))
			return nil
		})
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke an API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		if key == "" {
			return fmt.Errorf("--key is required")
		}

		return withValidator(func(ctx context.Context, v *apikey.Validator) error {
			if err := v.RevokeKey(ctx, key); err != nil {
				return fmt.Errorf("revoking key: %w", err)
			}
			fmt.Println("API key revoked.")
			return nil
		})
	},
}

// withValidator connects to PostgreSQL, ensures the key schema exists, and
// runs fn with a ready validator.
func withValidator(fn func(ctx context.Context, v *apikey.Validator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	v := apikey.NewValidator(db)
	if err := v.EnsureSchema(ctx); err != nil {
		return err
	}
	return fn(ctx, v)
}

func init() {
	keysCreateCmd.Flags().String("name", "", "name for the api key")
	keysCreateCmd.Flags().String("project", "", "restrict the key to one project")
	keysCreateCmd.Flags().Int("rate-limit", 100, "requests per minute")
	keysCreateCmd.Flags().String("expires-in", "", "expiry duration, e.g. 720h")
	keysRevokeCmd.Flags().String("key", "", "raw api key to revoke")

	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRevokeCmd)
	rootCmd.AddCommand(keysCmd)
}
