package tools

import (
	"encoding/json"
	"sort"
	"sync"

	"agentcore/internal/provider"
)

// Registry is a named set of tools, safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools. Later duplicates
// replace earlier ones.
func NewRegistry(initial ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range initial {
		if t != nil && t.Name() != "" {
			r.tools[t.Name()] = t
		}
	}
	return r
}

// Register adds a tool. Returns ErrToolAlreadyExists on duplicate names.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return NewInvalidArgsError("registry", "tool cannot be nil", nil)
	}
	name := tool.Name()
	if name == "" {
		return NewInvalidArgsError("registry", "tool name cannot be empty", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return NewToolAlreadyExistsError(name)
	}
	r.tools[name] = tool
	return nil
}

// MustRegister adds a tool and panics on error.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Put adds or replaces a tool.
func (r *Registry) Put(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all tools ordered by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return NewToolNotFoundError(name)
	}
	delete(r.tools, name)
	return nil
}

// Subset returns a registry restricted to the named tools. Unknown names are
// skipped; an empty list copies everything.
func (r *Registry) Subset(names []string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := NewRegistry()
	if len(names) == 0 {
		for name, t := range r.tools {
			out.tools[name] = t
		}
		return out
	}
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			out.tools[name] = t
		}
	}
	return out
}

// Without returns a copy lacking the named tools.
func (r *Registry) Without(names ...string) *Registry {
	out := r.Subset(nil)
	for _, name := range names {
		delete(out.tools, name)
	}
	return out
}

// ToProviderTools converts the tools to the definitions sent to the model.
func (r *Registry) ToProviderTools() ([]provider.Tool, error) {
	list := r.List()
	out := make([]provider.Tool, 0, len(list))
	for _, t := range list {
		params, err := json.Marshal(t.Parameters())
		if err != nil {
			return nil, NewInvalidArgsError(t.Name(), "failed to marshal parameters", err)
		}
		out = append(out, provider.Tool{
			Type: "function",
			Function: provider.ToolFunction{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  params,
			},
		})
	}
	return out, nil
}
