// Package tool defines the side actions the engine may request during
// generation and a registry the inference client dispatches through.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// Tool is one engine-invokable side action. Info describes the tool to the
// model; Execute runs it with the model-supplied arguments.
type Tool interface {
	Name() string
	Info() *schema.ToolInfo
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds the available tools. It is populated at startup and
// read-only afterwards.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	name := t.Name()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return t, nil
}

// Infos returns tool descriptions in registration order, for binding to the
// model.
func (r *Registry) Infos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		infos = append(infos, r.tools[name].Info())
	}
	return infos
}

// Empty reports whether no tools are registered.
func (r *Registry) Empty() bool {
	return len(r.tools) == 0
}
