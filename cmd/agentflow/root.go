package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agentflow/config"
	"agentflow/dsl"
	"agentflow/flows"
	"agentflow/monitor"
	"agentflow/nodes"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "agentflow",
		Short: "Run action-routed agent workflows",
		Long: `agentflow loads a workflow from a line script or a YAML document and
runs it over a JSON store.

Files ending in .yaml or .yml are read as YAML documents; anything else is
read as a line script.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newGraphCmd(&configPath))
	root.AddCommand(newNodesCmd())
	root.AddCommand(newServeCmd(&configPath))
	return root
}

// app is what a command needs to build and run workflows.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	env    nodes.Env
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	env, err := cfg.Env(logger)
	if err != nil {
		return nil, fmt.Errorf("open kv backend: %w", err)
	}
	return &app{cfg: cfg, logger: logger, env: env}, nil
}

func (a *app) Close() {
	if a.env.KV != nil {
		_ = a.env.KV.Close()
	}
	_ = a.logger.Sync()
}

// load builds the workflow at path with the engine defaults and a logging
// monitor attached.
func (a *app) load(path string, extra ...flows.FlowMonitor) (*flows.Workflow, error) {
	opts := a.cfg.WorkflowOptions(a.logger)
	opts.Monitors = append([]flows.FlowMonitor{monitor.NewLoggingMonitor(a.logger)}, extra...)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return dsl.LoadFile(path, a.env, opts)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		return flows.ParseWorkflowDSL(string(data), a.env, opts)
	}
}
