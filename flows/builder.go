package flows

import "agentflow/nodes"

// Builder provides a fluent interface for building workflows. Edge
// helpers apply to the most recently added step.
type Builder struct {
	wf   *Workflow
	last string
}

func NewBuilder(name string, opts Options) *Builder {
	return &Builder{wf: NewWithOptions(name, opts)}
}

// Step adds a step without connecting it.
func (b *Builder) Step(name string, node Node) *Builder {
	b.wf.AddStep(name, node)
	b.last = name
	return b
}

// StepWithRetry adds a step wrapped in an Agent.
func (b *Builder) StepWithRetry(name string, node Node, policy nodes.RetryPolicy) *Builder {
	b.wf.AddStepWithRetry(name, node, policy)
	b.last = name
	return b
}

// Then adds a step and makes it the default successor of the previous one.
func (b *Builder) Then(name string, node Node) *Builder {
	prev := b.last
	b.Step(name, node)
	if prev != "" {
		b.wf.Connect(prev, name)
	}
	return b
}

// On routes the most recent step to `to` when it finishes with action.
func (b *Builder) On(action, to string) *Builder {
	b.wf.ConnectAction(b.last, action, to)
	return b
}

// Otherwise sets the default edge of the most recent step.
func (b *Builder) Otherwise(to string) *Builder {
	b.wf.Connect(b.last, to)
	return b
}

// Edge adds an arbitrary transition; an empty action is the default edge.
func (b *Builder) Edge(from, action, to string) *Builder {
	b.wf.ConnectAction(from, action, to)
	return b
}

// Start designates the entry step.
func (b *Builder) Start(name string) *Builder {
	b.wf.SetStart(name)
	return b
}

// Monitor registers a FlowMonitor.
func (b *Builder) Monitor(m FlowMonitor) *Builder {
	b.wf.AddMonitor(m)
	return b
}

// Build validates the graph and returns the workflow.
func (b *Builder) Build() (*Workflow, error) {
	if err := b.wf.Validate(); err != nil {
		return nil, err
	}
	return b.wf, nil
}
