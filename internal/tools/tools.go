package tools

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Definition describes a tool to the provider catalog.
type Definition struct {
	Name        string
	Description string
	// Parameters maps property name to its JSON-schema fragment.
	Parameters map[string]any
	Required   []string
	// NeedsPermission marks tools the gate must approve per call.
	NeedsPermission bool
}

// Call is the model's structured request to invoke a tool.
type Call struct {
	ID    string
	Name  string
	Input string
}

// Result is the recorded outcome. Errors travel in-band: IsError plus a
// text description, never a Go error.
type Result struct {
	Content  string
	IsError  bool
	Duration time.Duration
}

func Ok(content string) Result { return Result{Content: content} }

func Errorf(format string, args ...any) Result {
	return Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// TeamIdentity names the agent within its team. Zero value means the
// root agent, which has no team.
type TeamIdentity struct {
	Team  string
	Agent string
}

func (t TeamIdentity) InTeam() bool { return t.Team != "" }

// SpawnFunc starts a new agent loop for a spawned teammate. Injected by
// the agent runner so coordination tools never import it.
type SpawnFunc func(team, agentName, role, prompt string) error

// Context carries per-run state into tool bodies. The context.Context
// passed to Run carries cancellation; tools must honor it.
type Context struct {
	SessionID string
	WorkDir   string
	Root      string // coordination root, e.g. ~/.octo-code
	Identity  TeamIdentity
	Spawn     SpawnFunc
}

// Tool is one dispatchable capability.
type Tool interface {
	Definition() Definition
	Run(ctx context.Context, call Call, tc *Context) Result
}

// Registry maps names to tools and renders the ordered catalog.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	name := t.Definition().Name
	if _, ok := r.tools[name]; !ok {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the catalog in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
