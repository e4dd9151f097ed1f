package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"agentflow/nodes"
)

func newNodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List the node types known to the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tDECLARABLE\tDESCRIPTION")
			for _, def := range nodes.RegisteredNodes() {
				declarable := "yes"
				if def.Build == nil {
					declarable = "go only"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", def.ID, declarable, def.Description)
			}
			return tw.Flush()
		},
	}
}
