package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabworks/piecemark/pkg/proto"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog inventory statistics",
	Long: `Stats reports the total number of cataloged components and the breakdown
by component type.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		componentType, _ := cmd.Flags().GetString("type")

		var resp proto.CatalogStatsResponse
		req := proto.CatalogStatsRequest{ComponentType: componentType}
		if err := adminCall("Admin.CatalogStats", &req, &resp); err != nil {
			return err
		}

		fmt.Printf("Total components: %d\n", resp.TotalComponents)
		if len(resp.ByType) == 0 {
			return nil
		}
		fmt.Println()
		fmt.Printf("%-30s  %s\n", "Type", "Count")
		fmt.Println("------------------------------  ----------")
		for _, tc := range resp.ByType {
			name := tc.ComponentType
			if name == "" {
				name = "(untyped)"
			}
			fmt.Printf("%-30s  %d\n", name, tc.Count)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().String("type", "", "restrict the breakdown to one component type")
	rootCmd.AddCommand(statsCmd)
}
