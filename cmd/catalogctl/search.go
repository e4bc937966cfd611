package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fabworks/piecemark/pkg/proto"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a catalog search from the terminal",
	Long: `Search runs a query through the full pipeline (validation, compilation,
execution) exactly as the HTTP API would, and prints a compact listing.

Examples:

  catalogctl search "B12"
  catalogctl search "steel AND beam" --project plant-7
  catalogctl search "W21*" --limit 50`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, _ := cmd.Flags().GetString("project")
		limit, _ := cmd.Flags().GetInt("limit")

		var resp proto.CatalogSearchResponse
		req := proto.CatalogSearchRequest{
			Query:   args[0],
			Project: project,
			Limit:   limit,
		}
		if err := adminCall("Admin.CatalogSearch", &req, &resp); err != nil {
			return err
		}

		fmt.Printf("%d result(s) in %dms (%s query)\n", resp.Total, resp.TookMs, resp.QueryType)
		if len(resp.Results) == 0 {
			return nil
		}
		fmt.Println()
		fmt.Printf("%-16s  %-16s  %-14s  %s\n", "Piece Mark", "Type", "Project", "Description")
		fmt.Printf("%-16s  %-16s  %-14s  %s\n",
			strings.Repeat("-", 16), strings.Repeat("-", 16), strings.Repeat("-", 14), strings.Repeat("-", 30))
		for _, c := range resp.Results {
			desc := c.Description
			if len(desc) > 50 {
				desc = desc[:47] + "..."
			}
			fmt.Printf("%-16s  %-16s  %-14s  %s\n", c.PieceMark, c.ComponentType, c.Project, desc)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().String("project", "", "restrict results to one project")
	searchCmd.Flags().Int("limit", 20, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}
