package agentflow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrNilStore is reported when a node hands back a nil store without an
	// error.
	ErrNilStore = errors.New("node returned a nil store")
	// ErrMaxStepsExceeded is reported when a workflow hits its step bound.
	ErrMaxStepsExceeded = errors.New("max steps exceeded")
)

// NodeError is the failure a node reports about its own work.
type NodeError struct {
	Message string
	Cause   error
}

// NewNodeError builds a NodeError; cause may be nil.
func NewNodeError(message string, cause error) *NodeError {
	return &NodeError{Message: message, Cause: cause}
}

func (e *NodeError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *NodeError) Unwrap() error { return e.Cause }

// Scope names the kind of position a failing node held inside a composite.
type Scope string

const (
	ScopeStep   Scope = "step"
	ScopeBranch Scope = "branch"
	ScopeStage  Scope = "stage"
	ScopeItem   Scope = "item"
)

// NodeExecutionError wraps the failure of a node run by a composite with
// the position that produced it: a workflow step name, a MultiAgent branch
// index, a Rag/MapReduce stage or a batch item index. Nested composites
// produce nested NodeExecutionErrors; ErrorPath flattens them.
type NodeExecutionError struct {
	Scope Scope
	Name  string
	Err   error
}

// StepError wraps err as the failure of the named workflow step.
func StepError(name string, err error) error {
	return &NodeExecutionError{Scope: ScopeStep, Name: name, Err: err}
}

// BranchError wraps err as the failure of the branch at index.
func BranchError(index int, err error) error {
	return &NodeExecutionError{Scope: ScopeBranch, Name: strconv.Itoa(index), Err: err}
}

// StageError wraps err as the failure of a named pipeline stage.
func StageError(stage string, err error) error {
	return &NodeExecutionError{Scope: ScopeStage, Name: stage, Err: err}
}

// ItemError wraps err as the failure of the batch item at index.
func ItemError(index int, err error) error {
	return &NodeExecutionError{Scope: ScopeItem, Name: strconv.Itoa(index), Err: err}
}

// Segment renders the position as "scope:name".
func (e *NodeExecutionError) Segment() string {
	return string(e.Scope) + ":" + e.Name
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Scope, e.Name, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }

// RetryExhaustedError is returned by an Agent after every attempt failed.
type RetryExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Cause }

// RoutingError reports a transition to a step that does not exist. From
// and Action are empty when the entry step itself is missing.
type RoutingError struct {
	From   string
	Action string
	To     string
}

func (e *RoutingError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("routing: start step %q is not defined", e.To)
	}
	if e.Action == "" {
		return fmt.Sprintf("routing: default edge %q -> %q targets an undefined step", e.From, e.To)
	}
	return fmt.Sprintf("routing: edge %q -[%s]-> %q targets an undefined step", e.From, e.Action, e.To)
}

// MergeConflictError is returned by merge policies that refuse to resolve
// two branches writing different values to the same key.
type MergeConflictError struct {
	Key      string
	Branches []int
}

func (e *MergeConflictError) Error() string {
	idx := make([]string, len(e.Branches))
	for i, b := range e.Branches {
		idx[i] = strconv.Itoa(b)
	}
	return fmt.Sprintf("merge conflict on key %q between branches %s", e.Key, strings.Join(idx, ", "))
}

// ErrorPath returns the composite positions an error travelled through,
// outermost first, e.g. ["step:plan", "branch:1", "step:search"].
func ErrorPath(err error) []string {
	var path []string
	for err != nil {
		var ne *NodeExecutionError
		if !errors.As(err, &ne) {
			break
		}
		path = append(path, ne.Segment())
		err = ne.Err
	}
	return path
}

// Attempts returns how many attempts an Agent made before giving up, or
// zero when err did not come from an exhausted Agent.
func Attempts(err error) int {
	var re *RetryExhaustedError
	if errors.As(err, &re) {
		return re.Attempts
	}
	return 0
}
