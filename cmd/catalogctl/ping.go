package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabworks/piecemark/pkg/proto"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the catalog admin RPC is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp proto.PingResponse
		if err := adminCall("Admin.Ping", &proto.PingRequest{}, &resp); err != nil {
			return err
		}
		fmt.Printf("%s %s up %ds\n", resp.Service, resp.Version, resp.UptimeSec)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
