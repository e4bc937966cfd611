package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabworks/piecemark/pkg/proto"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or flush the search result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many search result pages are cached",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp proto.CacheStatsResponse
		if err := adminCall("Admin.CacheStats", &proto.CacheStatsRequest{}, &resp); err != nil {
			return err
		}
		fmt.Printf("Cached pages: %d (pattern %s)\n", resp.Keys, resp.Pattern)
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop cached search result pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern, _ := cmd.Flags().GetString("pattern")

		var resp proto.CacheInvalidateResponse
		req := proto.CacheInvalidateRequest{Pattern: pattern}
		if err := adminCall("Admin.CacheInvalidate", &req, &resp); err != nil {
			return err
		}
		fmt.Printf("Invalidated %d cached page(s).\n", resp.Deleted)
		return nil
	},
}

func init() {
	cacheInvalidateCmd.Flags().String("pattern", "", "key glob to flush (default: all search pages)")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}
