package flows

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"agentflow/nodes"
)

// ScriptError locates a line script failure.
type ScriptError struct {
	Line int
	Err  error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// scriptStep is a declared node plus the wrappers other directives add.
type scriptStep struct {
	id    string
	node  Node
	retry *nodes.RetryPolicy
}

type script struct {
	env    nodes.Env
	name   string
	start  string
	steps  []*scriptStep
	byID   map[string]*scriptStep
	edges  []Edge
	params [][2]string
}

type directive struct {
	// minArgs and maxArgs count the tokens after the keyword; maxArgs < 0
	// means unbounded.
	minArgs, maxArgs int
	usage            string
	apply            func(s *script, args []string) error
}

var directives = map[string]directive{
	"name":    {1, 1, "name <workflow>", (*script).setName},
	"node":    {3, -1, "node <id> = <type> [args...]", (*script).addNode},
	"start":   {1, 1, "start <id>", (*script).setStart},
	"connect": {2, 4, "connect <from> [->] <to> [action]", (*script).connect},
	"retry":   {1, -1, "retry <id> [attempts=N] [delay=D] [backoff=B] [multiplier=F] [max_delay=D]", (*script).retry},
	"timeout": {2, 2, "timeout <id> <duration>", (*script).timeout},
	"param":   {2, 2, "param <key> <literal>", (*script).param},
}

// ParseWorkflowDSL builds a workflow from a line script:
//
//	name <workflow>
//	node <id> = <type> [args...] [key=value...]
//	start <id>
//	connect <from> -> <to> [action]
//	connect <from> <to> [action]
//	retry <id> [attempts=N] [delay=D] [backoff=fixed|linear|exponential] [multiplier=F] [max_delay=D]
//	timeout <id> <duration>
//	param <key> <literal>
//
// Blank lines and lines starting with # are ignored. Node types are
// resolved through the node catalog with env; retry settings left out
// come from env.Retry. A connect without an action sets the default edge.
// The built workflow is validated.
func ParseWorkflowDSL(text string, env nodes.Env, opts Options) (*Workflow, error) {
	s := &script{env: env, byID: make(map[string]*scriptStep)}

	lines := bufio.NewScanner(strings.NewReader(text))
	for n := 1; lines.Scan(); n++ {
		line := strings.TrimSpace(lines.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.exec(line); err != nil {
			return nil, &ScriptError{Line: n, Err: err}
		}
	}
	if err := lines.Err(); err != nil {
		return nil, err
	}
	return s.build(opts)
}

func (s *script) exec(line string) error {
	tokens, err := tokenizeLine(line)
	if err != nil {
		return err
	}
	d, ok := directives[tokens[0]]
	if !ok {
		return fmt.Errorf("unsupported directive %q", tokens[0])
	}
	args := tokens[1:]
	if len(args) < d.minArgs || (d.maxArgs >= 0 && len(args) > d.maxArgs) {
		return fmt.Errorf("expected `%s`", d.usage)
	}
	return d.apply(s, args)
}

func (s *script) setName(args []string) error {
	s.name = args[0]
	return nil
}

func (s *script) addNode(args []string) error {
	id, eq, nodeType := args[0], args[1], args[2]
	if eq != "=" {
		return errors.New("expected `node <id> = <type> [args...]`")
	}
	if _, dup := s.byID[id]; dup {
		return fmt.Errorf("node %q already defined", id)
	}
	node, err := nodes.Build(nodeType, s.env, nodes.SplitArgs(id, args[3:]))
	if err != nil {
		return err
	}
	step := &scriptStep{id: id, node: node}
	s.steps = append(s.steps, step)
	s.byID[id] = step
	return nil
}

func (s *script) setStart(args []string) error {
	s.start = args[0]
	return nil
}

// connect accepts `from -> to [action]` and the shorthand `from to [action]`.
func (s *script) connect(args []string) error {
	var e Edge
	switch {
	case len(args) == 2:
		e = Edge{From: args[0], To: args[1]}
	case len(args) == 3 && args[1] != "->":
		e = Edge{From: args[0], To: args[1], Action: args[2]}
	case args[1] == "->" && len(args) >= 3:
		e = Edge{From: args[0], To: args[2]}
		if len(args) == 4 {
			e.Action = args[3]
		}
	default:
		return errors.New("expected `connect <from> [->] <to> [action]`")
	}
	s.edges = append(s.edges, e)
	return nil
}

func (s *script) lookup(id, directive string) (*scriptStep, error) {
	step, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%s for undefined node %q", directive, id)
	}
	return step, nil
}

func (s *script) retry(args []string) error {
	step, err := s.lookup(args[0], "retry")
	if err != nil {
		return err
	}
	policy, err := retryPolicyFromArgs(s.env.Retry, nodes.SplitArgs(args[0], args[1:]))
	if err != nil {
		return err
	}
	step.retry = &policy
	return nil
}

// retryPolicyFromArgs overlays named or positional (attempts, delay,
// backoff) settings on base.
func retryPolicyFromArgs(base nodes.RetryPolicy, args nodes.Args) (nodes.RetryPolicy, error) {
	p := base
	var err error
	if p.MaxAttempts, err = args.Int("attempts", 0, p.MaxAttempts); err != nil {
		return p, err
	}
	if p.MaxAttempts < 1 {
		return p, fmt.Errorf("retry for %q requires attempts >= 1", args.ID)
	}
	if p.Delay, err = args.Duration("delay", 1, p.Delay); err != nil {
		return p, err
	}
	if raw, ok := args.Lookup("backoff", 2); ok {
		if p.Backoff, err = nodes.ParseBackoff(raw); err != nil {
			return p, err
		}
	}
	if p.Multiplier, err = args.Float("multiplier", -1, p.Multiplier); err != nil {
		return p, err
	}
	if p.MaxDelay, err = args.Duration("max_delay", -1, p.MaxDelay); err != nil {
		return p, err
	}
	return p, nil
}

func (s *script) timeout(args []string) error {
	step, err := s.lookup(args[0], "timeout")
	if err != nil {
		return err
	}
	d, err := nodes.SplitArgs(args[0], args[1:]).Duration("timeout", 0, 0)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("timeout for %q must be positive", args[0])
	}
	step.node = nodes.WithTimeout(step.node, d)
	return nil
}

func (s *script) param(args []string) error {
	s.params = append(s.params, [2]string{args[0], args[1]})
	return nil
}

func (s *script) build(opts Options) (*Workflow, error) {
	if len(s.steps) == 0 {
		return nil, errors.New("script defines no nodes")
	}
	b := NewBuilder(s.name, opts)
	for _, step := range s.steps {
		if step.retry != nil {
			b.StepWithRetry(step.id, step.node, *step.retry)
			continue
		}
		b.Step(step.id, step.node)
	}
	if s.start != "" {
		b.Start(s.start)
	}
	for _, e := range s.edges {
		b.Edge(e.From, e.Action, e.To)
	}
	for _, kv := range s.params {
		b.wf.SetParam(kv[0], nodes.ParseLiteral(kv[1]))
	}
	return b.Build()
}

// tokenizeLine splits on whitespace. Double quotes group words and are
// dropped; a backslash escapes the next rune.
func tokenizeLine(line string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		open    bool // inside a token
		quoted  bool
		escaped bool
	)
	flush := func() {
		if open {
			tokens = append(tokens, current.String())
			current.Reset()
			open = false
		}
	}

	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped, open = true, true
		case r == '"':
			quoted = !quoted
			open = true
		case unicode.IsSpace(r) && !quoted:
			flush()
		default:
			current.WriteRune(r)
			open = true
		}
	}
	switch {
	case escaped:
		return nil, errors.New("unfinished escape sequence")
	case quoted:
		return nil, errors.New("unterminated quoted string")
	}
	flush()
	return tokens, nil
}
