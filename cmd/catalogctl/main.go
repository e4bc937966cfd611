// Package main is the catalogctl admin CLI for the piecemark catalog.
//
// Most commands talk to the catalog service's internal admin RPC port; the
// keys commands go straight to PostgreSQL so an operator can create the very
// first API key before the API is reachable.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fabworks/piecemark/pkg/config"
	"github.com/fabworks/piecemark/pkg/grpc"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	cfgPath   string
	adminAddr string
)

var rootCmd = &cobra.Command{
	Use:   "catalogctl",
	Short: "Administer a running piecemark catalog service",
	Long: `catalogctl drives the catalog's internal admin surface: inventory and
cache statistics, cache invalidation, audit summaries, and API key
management.

Commands that need a running catalog use the admin RPC port (see the admin
section of the config file). Key management talks to PostgreSQL directly, so
it also works before the service is up.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "configs/development.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "addr", "", "admin RPC address (default localhost:<admin.port>)")
}

// loadConfig reads the config file named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// adminCall dials the admin RPC port and performs a single call.
func adminCall(method string, params any, result any) error {
	addr := adminAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		addr = fmt.Sprintf("localhost:%d", cfg.Admin.Port)
	}

	client, err := grpc.Dial(addr)
	if err != nil {
		return fmt.Errorf("connecting to admin rpc at %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Call(method, params, result); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}
