// Package tools defines the tool contract and the ordered registry the
// dispatcher consults.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Tool is the contract every callable tool implements.
//
// Name must be unique within a registry. Parameters is a JSON-schema
// style map describing the expected params object. Match reports
// whether the tool applies to raw user input when no explicit directive
// was produced; Execute runs the tool with a parsed params map. On the
// fallback path Execute is invoked with {"input": rawUserInput}.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Match(input string) bool
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// FallbackParam is the params key carrying raw user input on the
// fallback-match path.
const FallbackParam = "input"

// Descriptor is the immutable catalog entry for a registered tool.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Registry is an ordered tool catalog. Registration order is
// significant: it determines fallback-match priority, so registries are
// built from an explicitly ordered sequence at startup — never from
// filesystem or reflection scans.
type Registry struct {
	ordered []Tool
	byName  map[string]Tool
}

// NewRegistry builds a registry from tools in priority order.
// Duplicate names are a configuration error.
func NewRegistry(ts ...Tool) (*Registry, error) {
	r := &Registry{byName: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		if _, dup := r.byName[t.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name())
		}
		r.ordered = append(r.ordered, t)
		r.byName[t.Name()] = t
	}
	return r, nil
}

// Get returns the tool with exactly the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// All returns the tools in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// Descriptors returns catalog entries in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.ordered))
	for _, t := range r.ordered {
		out = append(out, Descriptor{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// Catalog renders a markdown listing of every tool's name, description
// and parameter schema, in registration order. Used for help responses.
func (r *Registry) Catalog() string {
	var b strings.Builder
	b.WriteString("Here's what I can do:\n")
	for _, t := range r.ordered {
		fmt.Fprintf(&b, "\n- **%s**: %s\n", t.Name(), t.Description())
		if params := t.Parameters(); len(params) > 0 {
			schema, err := json.Marshal(params)
			if err == nil {
				fmt.Fprintf(&b, "  Parameters: `%s`\n", schema)
			}
		}
	}
	return b.String()
}

// StringParam extracts a string-valued parameter, empty if absent or
// not a string.
func StringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

// IntParam extracts an integer parameter. JSON numbers decode as
// float64, so both forms are accepted.
func IntParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
