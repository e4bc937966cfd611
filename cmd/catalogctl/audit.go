package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabworks/piecemark/pkg/proto"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Summarize recent search activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		topN, _ := cmd.Flags().GetInt("top")

		var resp proto.AuditSummaryResponse
		req := proto.AuditSummaryRequest{TopN: topN}
		if err := adminCall("Admin.AuditSummary", &req, &resp); err != nil {
			return err
		}

		fmt.Printf("Total searches:   %d\n", resp.TotalSearches)
		fmt.Printf("Zero-result rate: %.1f%%\n", resp.ZeroResultRate*100)
		if len(resp.TopQueries) > 0 {
			fmt.Println("\nTop queries:")
			for i, qc := range resp.TopQueries {
				fmt.Printf("%3d. %-40s %d\n", i+1, qc.Query, qc.Count)
			}
		}
		return nil
	},
}

func init() {
	auditCmd.Flags().Int("top", 10, "number of top queries to show")
	rootCmd.AddCommand(auditCmd)
}
