package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"agentflow/flows"
)

func newGraphCmd(configPath *string) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph <workflow>",
		Short: "Print a workflow's steps and edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			wf, err := a.load(args[0])
			if err != nil {
				return err
			}
			switch format {
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(wf.Graph())
			case "dot":
				return writeDot(cmd.OutOrStdout(), wf.Name(), wf.Graph())
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or dot")
	return cmd
}

// writeDot renders g as a Graphviz digraph; default edges are dashed.
func writeDot(w io.Writer, name string, g flows.Graph) error {
	if _, err := fmt.Fprintf(w, "digraph %q {\n", name); err != nil {
		return err
	}
	for _, step := range g.Steps {
		shape := "box"
		if step == g.Start {
			shape = "doublecircle"
		}
		if _, err := fmt.Fprintf(w, "  %q [shape=%s];\n", step, shape); err != nil {
			return err
		}
	}
	for _, e := range g.Edges {
		var err error
		if e.Action == "" {
			_, err = fmt.Fprintf(w, "  %q -> %q [style=dashed];\n", e.From, e.To)
		} else {
			_, err = fmt.Fprintf(w, "  %q -> %q [label=%q];\n", e.From, e.To, e.Action)
		}
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}
