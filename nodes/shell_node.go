package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"agentflow"
)

// ShellNodeConfig describes a tool subprocess. Args are templates rendered
// against the store. The command reads the store, or the value under
// InputKey, as JSON on stdin.
type ShellNodeConfig struct {
	ID       string
	Command  string
	Args     []string
	Dir      string
	Env      map[string]string
	Timeout  time.Duration
	InputKey string

	// OutputKey receives stdout; empty merges a JSON object into the store.
	OutputKey  string
	StatusKey  string
	StderrKey  string
	DecodeJSON bool
	// AllowFailure records a non-zero exit status instead of failing.
	AllowFailure bool
}

// DefaultShellNodeConfig writes stdout to "<id>_output" and the exit code
// to "<id>_status".
func DefaultShellNodeConfig(id string) ShellNodeConfig {
	return ShellNodeConfig{
		ID:        id,
		OutputKey: id + "_output",
		StatusKey: id + "_status",
	}
}

// ShellNode runs an external tool as a workflow step.
type ShellNode struct {
	cfg  ShellNodeConfig
	args []storeTemplate
	env  []string
}

func NewShellNode(cfg ShellNodeConfig) (*ShellNode, error) {
	if cfg.ID == "" {
		return nil, errors.New("shell node requires id")
	}
	if cfg.Command == "" {
		return nil, errors.New("shell node requires command")
	}
	n := &ShellNode{cfg: cfg, args: make([]storeTemplate, len(cfg.Args))}
	for i, arg := range cfg.Args {
		t, err := compileTemplate(fmt.Sprintf("%s.arg%d", cfg.ID, i), arg)
		if err != nil {
			return nil, err
		}
		n.args[i] = t
	}
	for k, v := range cfg.Env {
		n.env = append(n.env, k+"="+v)
	}
	sort.Strings(n.env)
	return n, nil
}

func (n *ShellNode) Name() string {
	return n.cfg.ID
}

func (n *ShellNode) Run(ctx context.Context, store *agentflow.Store) (*agentflow.Store, error) {
	store = orEmpty(store)
	if n.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()
	}

	cmd, err := n.command(ctx, store)
	if err != nil {
		return nil, agentflow.NewNodeError(fmt.Sprintf("shell %s: prepare command", n.cfg.ID), err)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || !n.cfg.AllowFailure || ctx.Err() != nil {
			msg := fmt.Sprintf("shell %s: %s", n.cfg.ID, n.cfg.Command)
			if detail := strings.TrimSpace(stderr.String()); detail != "" {
				msg += ": " + detail
			}
			return nil, agentflow.NewNodeError(msg, err)
		}
		exitCode = exitErr.ExitCode()
	}

	if n.cfg.StatusKey != "" {
		store.Set(n.cfg.StatusKey, agentflow.Int(exitCode))
	}
	if n.cfg.StderrKey != "" {
		store.Set(n.cfg.StderrKey, agentflow.String(strings.TrimSpace(stderr.String())))
	}
	writeOutput(store, n.cfg.OutputKey, decodeOutput(stdout.Bytes(), n.cfg.DecodeJSON))
	return store, nil
}

func (n *ShellNode) command(ctx context.Context, store *agentflow.Store) (*exec.Cmd, error) {
	data := store.Snapshot()
	args := make([]string, len(n.args))
	for i, t := range n.args {
		rendered, err := t.render(data)
		if err != nil {
			return nil, err
		}
		args[i] = rendered
	}

	var stdin any = store
	if n.cfg.InputKey != "" {
		v, ok := store.Get(n.cfg.InputKey)
		if !ok {
			return nil, fmt.Errorf("input key %q is missing", n.cfg.InputKey)
		}
		stdin = v
	}
	payload, err := json.Marshal(stdin)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, n.cfg.Command, args...)
	cmd.Dir = n.cfg.Dir
	if len(n.env) > 0 {
		cmd.Env = append(os.Environ(), n.env...)
	}
	cmd.Stdin = bytes.NewReader(payload)
	return cmd, nil
}

func init() {
	RegisterNode(NodeDefinition{
		ID:          "shell",
		Description: "Runs a tool subprocess with the store as JSON on stdin and stores its output.",
		Example:     `node status = shell git status -sb output=git_status`,
		Build: func(_ Env, args Args) (Node, error) {
			if len(args.Positional) == 0 {
				return nil, errors.New("shell node requires command")
			}
			cfg := DefaultShellNodeConfig(args.ID)
			cfg.Command = args.Positional[0]
			cfg.Args = args.Positional[1:]
			cfg.Dir = args.String("dir", -1, "")
			cfg.InputKey = args.String("input", -1, "")
			if out, ok := args.Named["output"]; ok {
				cfg.OutputKey = out
			}
			cfg.StatusKey = args.String("status", -1, cfg.StatusKey)
			cfg.StderrKey = args.String("stderr", -1, "")
			cfg.DecodeJSON = args.Bool("json", -1, false)
			cfg.AllowFailure = args.Bool("allow_failure", -1, false)
			timeout, err := args.Duration("timeout", -1, 0)
			if err != nil {
				return nil, err
			}
			cfg.Timeout = timeout
			node, err := NewShellNode(cfg)
			if err != nil {
				return nil, err
			}
			return node, nil
		},
	})
}
