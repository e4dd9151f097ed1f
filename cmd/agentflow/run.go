package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"agentflow"
)

func newRunCmd(configPath *string) *cobra.Command {
	var input, inputFile string

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a workflow and print the final store as JSON",
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
			store, err := readInput(input, inputFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			out, err := wf.Run(ctx, store)
			if err != nil {
				return err
			}
			return writeStore(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "initial store as a JSON object")
	cmd.Flags().StringVarP(&inputFile, "input-file", "f", "", "read the initial store from a JSON file")
	cmd.MarkFlagsMutuallyExclusive("input", "input-file")
	return cmd
}

func readInput(inline, path string) (*agentflow.Store, error) {
	data := []byte(inline)
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
	}
	store := agentflow.NewStore()
	if len(bytes.TrimSpace(data)) == 0 {
		return store, nil
	}
	if err := json.Unmarshal(data, store); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	return store, nil
}

func writeStore(cmd *cobra.Command, store *agentflow.Store) error {
	data, err := store.MarshalJSON()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

